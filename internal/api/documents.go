package api

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"smlgpt/internal/apperrors"
	"smlgpt/internal/gateway"
	"smlgpt/internal/models"
	"smlgpt/internal/registry"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
	documentNotFound   = "DOCUMENT_NOT_FOUND"
)

func configured(c gateway.Capability) bool {
	return c != nil && c.Configured()
}

func (h *Handler) lookupDocument(c *gin.Context) (*models.UploadedFile, bool) {
	id := strings.TrimSpace(c.Param("documentId"))
	if id == "" {
		_ = c.Error(apperrors.Validation("Document ID is required"))
		return nil, false
	}
	file, err := h.deps.Registry.Get(c.Request.Context(), id)
	if errors.Is(err, registry.ErrNotFound) {
		_ = c.Error(apperrors.NotFound("Document").WithCode(documentNotFound))
		return nil, false
	}
	if err != nil {
		_ = c.Error(err)
		return nil, false
	}
	return file, true
}

func (h *Handler) documentAnalysis(c *gin.Context) {
	file, ok := h.lookupDocument(c)
	if !ok {
		return
	}
	respond(c, gin.H{
		"id":         file.ID,
		"name":       file.Name,
		"analysis":   file.Analysis,
		"uploadTime": file.UploadTime,
		"size":       file.Size,
		"mimeType":   file.MimeType,
	})
}

// processDocument runs document intelligence synchronously and merges the
// result into the registry entry. Images only go through the pipeline.
func (h *Handler) processDocument(c *gin.Context) {
	file, ok := h.lookupDocument(c)
	if !ok {
		return
	}
	if file.IsImage() {
		respond(c, gin.H{
			"message":  "Image files are processed by the analysis pipeline",
			"analysis": file.Analysis,
		})
		return
	}

	now := h.now()
	if !configured(h.deps.Documents) {
		respond(c, gin.H{
			"id":          file.ID,
			"name":        file.Name,
			"processing":  gin.H{"type": models.AnalysisTypeDocumentIntelligence, "status": models.StatusPending},
			"processedAt": now,
		})
		return
	}

	doc, err := h.deps.Documents.AnalyzeDocument(c.Request.Context(), file.BlobURL)
	if err != nil {
		_ = c.Error(err)
		return
	}
	processedAt := h.now()
	merged := models.FileAnalysis{}
	if file.Analysis != nil {
		merged = *file.Analysis
	}
	merged.Type = models.AnalysisTypeDocumentIntelligence
	merged.Status = models.StatusProcessed
	merged.ExtractedText = doc.ExtractedText
	merged.Entities = doc.Entities
	merged.KeyValuePairs = doc.KeyValuePairs
	merged.Tables = doc.Tables
	merged.Confidence = doc.Confidence
	merged.ProcessedAt = &processedAt
	if err := h.deps.Registry.AttachAnalysis(c.Request.Context(), file.ID, &merged); err != nil {
		_ = c.Error(err)
		return
	}
	h.log.Infow("document processed", "document_id", file.ID, "duration", processedAt.Sub(now))

	respond(c, gin.H{
		"id":          file.ID,
		"name":        file.Name,
		"processing":  &merged,
		"processedAt": processedAt,
	})
}

func (h *Handler) searchDocuments(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		_ = c.Error(apperrors.Validation("Search query is required"))
		return
	}
	limit := defaultSearchLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			_ = c.Error(apperrors.Validation("limit must be a positive integer"))
			return
		}
		limit = min(n, maxSearchLimit)
	}

	start := h.now()
	results := &models.SearchResults{Hits: []models.SearchHit{}}
	if configured(h.deps.Search) {
		var vector []float32
		if configured(h.deps.Embeddings) {
			v, err := h.deps.Embeddings.Embed(c.Request.Context(), query)
			if err != nil {
				// keyword search still works without the vector
				h.log.Warnw("embed search query failed", "error", err)
			} else {
				vector = v
			}
		}
		found, err := h.deps.Search.Search(c.Request.Context(), query, vector, limit)
		if err != nil {
			_ = c.Error(err)
			return
		}
		results = found
		if results.Hits == nil {
			results.Hits = []models.SearchHit{}
		}
	}

	respond(c, gin.H{
		"query":      query,
		"results":    results.Hits,
		"totalCount": results.Count,
		"searchTime": h.now().Sub(start).Milliseconds(),
	})
}

func (h *Handler) documentsHealth(c *gin.Context) {
	state := func(ok bool) string {
		if ok {
			return "configured"
		}
		return "not_configured"
	}
	respond(c, gin.H{
		"document_store":              "healthy",
		"azure_document_intelligence": state(configured(h.deps.Documents)),
		"azure_cognitive_search":      state(configured(h.deps.Search)),
		"timestamp":                   h.now().UTC().Format(time.RFC3339Nano),
	})
}
