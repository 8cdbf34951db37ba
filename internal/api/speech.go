package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"smlgpt/internal/apperrors"
)

func (h *Handler) speechToText(c *gin.Context) {
	fh, err := formFile(c, "audio", maxAudioBytes)
	if err != nil {
		_ = c.Error(err)
		return
	}
	mimeType, err := detectType(fh, audioTypes)
	if err != nil {
		_ = c.Error(err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		_ = c.Error(apperrors.Internal("Failed to read audio file", err))
		return
	}
	audio, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		_ = c.Error(apperrors.Internal("Failed to read audio file", err))
		return
	}

	start := h.now()
	result, err := h.deps.Speech.Transcribe(c.Request.Context(), audio, mimeType)
	if err != nil {
		_ = c.Error(err)
		return
	}
	duration := h.now().Sub(start)
	if result.Text == "" {
		h.log.Warnw("no speech recognized in audio file", "size", fh.Size)
	}
	status := result.RecognitionStatus
	if status == "" {
		status = "Unknown"
	}
	respond(c, gin.H{
		"transcription":      result.Text,
		"confidence":         result.Confidence,
		"duration_ms":        duration.Milliseconds(),
		"recognition_status": status,
	})
}

type textToSpeechRequest struct {
	Text  string `json:"text" binding:"required"`
	Voice string `json:"voice"`
}

func (h *Handler) textToSpeech(c *gin.Context) {
	var req textToSpeechRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		_ = c.Error(apperrors.Validation("Text is required and must be a string"))
		return
	}
	audio, err := h.deps.Speech.Synthesize(c.Request.Context(), req.Text, req.Voice)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.Header("Content-Length", strconv.Itoa(len(audio)))
	c.Data(http.StatusOK, "audio/mpeg", audio)
}
