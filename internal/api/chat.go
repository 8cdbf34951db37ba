package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"smlgpt/internal/apperrors"
	"smlgpt/internal/models"
	"smlgpt/internal/prompts"
	"smlgpt/internal/registry"
)

// maxContextTurns bounds the prior turns forwarded to the chat model.
const maxContextTurns = 20

type chatRequest struct {
	Message            string               `json:"message" binding:"required"`
	Context            []models.ChatMessage `json:"context" binding:"omitempty,dive"`
	DocumentReferences []string             `json:"document_references"`
	SessionID          string               `json:"session_id"`
}

func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.Validation("Message is required and must be a string"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		_ = c.Error(apperrors.Validation("Message is required and must be a string"))
		return
	}

	documentContext, err := h.documentContext(c, req.DocumentReferences)
	if err != nil {
		_ = c.Error(err)
		return
	}

	prior := req.Context
	if len(prior) > maxContextTurns {
		prior = prior[len(prior)-maxContextTurns:]
	}
	messages := make([]models.ChatMessage, 0, len(prior)+2)
	messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: prompts.ChatSystem})
	messages = append(messages, prior...)
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: req.Message + documentContext})

	start := h.now()
	completion, err := h.deps.Chat.Complete(c.Request.Context(), messages)
	if err != nil {
		_ = c.Error(err)
		return
	}
	critical := strings.Contains(completion.Content, prompts.CriticalMarker)
	h.log.Infow("chat response generated",
		"session_id", req.SessionID,
		"context_turns", len(prior),
		"documents", len(req.DocumentReferences),
		"duration", h.now().Sub(start),
		"critical", critical,
	)

	respond(c, gin.H{
		"response":            completion.Content,
		"session_id":          req.SessionID,
		"timestamp":           h.now().UTC().Format(time.RFC3339Nano),
		"model":               completion.Model,
		"has_critical_hazard": critical,
	})
}

// documentContext renders the referenced registry entries. Unknown ids are
// skipped.
func (h *Handler) documentContext(c *gin.Context, refs []string) (string, error) {
	if len(refs) == 0 {
		return "", nil
	}
	var parts []string
	for _, id := range refs {
		file, err := h.deps.Registry.Get(c.Request.Context(), id)
		if errors.Is(err, registry.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, "Document: "+file.Name+"\n"+documentText(file.Analysis))
	}
	if len(parts) == 0 {
		return "", nil
	}
	return "\n\nDOCUMENT CONTEXT:\n" + strings.Join(parts, "\n\n"), nil
}

func documentText(a *models.FileAnalysis) string {
	if a == nil {
		return ""
	}
	switch {
	case a.ExtractedText != "":
		return a.ExtractedText
	case a.Content != "":
		return a.Content
	case a.Description != "" && a.Description != models.NoDescription:
		return a.Description
	}
	return a.Message
}
