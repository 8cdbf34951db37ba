package api

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"smlgpt/internal/apperrors"
	"smlgpt/internal/models"
	"smlgpt/internal/pipeline"
)

const (
	maxUploadBytes    = 50 << 20
	maxAudioBytes     = 25 << 20
	multipartOverhead = 1 << 20
	multipartMemory   = 32 << 20
	objectStorageName = "Object Storage"
)

var uploadTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"text/plain",
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/bmp",
	"image/webp",
}

var audioTypes = []string{
	"audio/wav",
	"audio/mp3",
	"audio/mpeg",
	"audio/mp4",
	"audio/webm",
	"audio/ogg",
}

// detectType returns the allowlisted MIME type of the part. The declared
// content type wins unless it is missing or generic, in which case the
// content is sniffed.
func detectType(fh *multipart.FileHeader, allowed []string) (string, error) {
	declared := fh.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(declared); err == nil {
		declared = strings.ToLower(mt)
	}
	if declared != "" && declared != "application/octet-stream" {
		for _, t := range allowed {
			if declared == t {
				return t, nil
			}
		}
		return "", apperrors.Validation("File type %s not supported", declared)
	}

	f, err := fh.Open()
	if err != nil {
		return "", apperrors.Validation("Unable to read uploaded file")
	}
	defer f.Close()
	sniffed, err := mimetype.DetectReader(f)
	if err != nil {
		return "", apperrors.Validation("Unable to read uploaded file")
	}
	for _, t := range allowed {
		if sniffed.Is(t) {
			return t, nil
		}
	}
	return "", apperrors.Validation("File type %s not supported", sniffed.String())
}

// formFile limits the request body and returns the named part.
func formFile(c *gin.Context, field string, limit int64) (*multipart.FileHeader, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.Validation("File too large, the limit is %dMB", limit>>20)
		}
		return nil, apperrors.Validation("Invalid multipart form")
	}
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, apperrors.Validation("No %s file provided", field)
	}
	if fh.Size > limit {
		return nil, apperrors.Validation("File too large, the limit is %dMB", limit>>20)
	}
	return fh, nil
}

func (h *Handler) upload(c *gin.Context) {
	ctx := c.Request.Context()
	fh, err := formFile(c, "file", maxUploadBytes)
	if err != nil {
		_ = c.Error(err)
		return
	}
	mimeType, err := detectType(fh, uploadTypes)
	if err != nil {
		_ = c.Error(err)
		return
	}
	sessionID := strings.TrimSpace(c.PostForm("session_id"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := h.now()
	baseName := filepath.Base(fh.Filename)
	blobName := fmt.Sprintf("%d-%s", now.UnixMilli(), baseName)
	id := strings.TrimSuffix(blobName, filepath.Ext(blobName))

	f, err := fh.Open()
	if err != nil {
		_ = c.Error(apperrors.Internal("Failed to read uploaded file", err))
		return
	}
	blobURL, err := h.deps.Objects.Put(ctx, blobName, f, fh.Size, mimeType)
	_ = f.Close()
	if err != nil {
		_ = c.Error(apperrors.WrapExternal(objectStorageName, err))
		return
	}

	file := &models.UploadedFile{
		ID:         id,
		Name:       baseName,
		FileName:   blobName,
		MimeType:   mimeType,
		Size:       fh.Size,
		BlobURL:    blobURL,
		UploadTime: now,
		SessionID:  sessionID,
		Analysis:   models.PendingAnalysis(mimeType, ""),
	}
	if err := h.deps.Registry.Put(ctx, file); err != nil {
		_ = c.Error(apperrors.Internal("Failed to record uploaded file", err))
		return
	}

	job, err := h.deps.Queue.Enqueue(ctx, pipeline.JobName, pipeline.FilePayload{
		FileID:    id,
		FileName:  baseName,
		FileURL:   blobURL,
		FileType:  mimeType,
		SessionID: sessionID,
	})
	if err != nil {
		_ = c.Error(apperrors.Internal("Failed to queue file for processing", err))
		return
	}
	h.log.Infow("file uploaded", "file_id", id, "mime_type", mimeType, "size", fh.Size, "job_id", job.ID)

	// the registry keeps the placeholder without a job id; the worker may
	// already be writing the real analysis
	analysis := *file.Analysis
	analysis.JobID = job.ID
	respond(c, gin.H{
		"id":         id,
		"fileName":   baseName,
		"size":       fh.Size,
		"mimeType":   mimeType,
		"blobUrl":    blobURL,
		"uploadTime": now,
		"sessionId":  sessionID,
		"jobId":      job.ID,
		"analysis":   &analysis,
	})
}

func (h *Handler) listFiles(c *gin.Context) {
	objects, err := h.deps.Objects.List(c.Request.Context())
	if err != nil {
		_ = c.Error(apperrors.WrapExternal(objectStorageName, err))
		return
	}
	if objects == nil {
		objects = []models.ObjectInfo{}
	}
	respond(c, objects)
}

func (h *Handler) serveFile(c *gin.Context) {
	data, contentType, ok := h.deps.Files.Object(c.Param("name"))
	if !ok {
		_ = c.Error(apperrors.NotFound("File"))
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, data)
}
