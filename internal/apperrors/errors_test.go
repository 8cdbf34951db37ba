package apperrors

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusPerKind(t *testing.T) {
	cases := []struct {
		err    *Error
		status int
		code   string
	}{
		{Validation("message is required"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{Authentication(""), http.StatusUnauthorized, "AUTHENTICATION_ERROR"},
		{Authorization(""), http.StatusForbidden, "AUTHORIZATION_ERROR"},
		{NotFound("Document").WithCode("DOCUMENT_NOT_FOUND"), http.StatusNotFound, "DOCUMENT_NOT_FOUND"},
		{Conflict("duplicate"), http.StatusConflict, "CONFLICT"},
		{RateLimited("slow down"), http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED"},
		{ExternalService("Azure OpenAI", "No response generated"), http.StatusBadGateway, "EXTERNAL_SERVICE_ERROR"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, tc.err.Status(), tc.code)
		assert.Equal(t, tc.code, tc.err.ErrorCode())
	}
}

func TestExternalServiceMessage(t *testing.T) {
	err := ExternalService("Azure OpenAI", "No response generated")
	assert.Equal(t, "External service error (Azure OpenAI): No response generated", err.Message)
}

func TestFromFindsWrappedError(t *testing.T) {
	base := Validation("bad input")
	wrapped := errors.Wrap(base, "handler")

	got := From(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, KindValidation, got.Kind)
	assert.True(t, IsKind(wrapped, KindValidation))
}

func TestEnvelopeHidesInternalsOutsideDevelopment(t *testing.T) {
	status, body := Envelope(errors.New("db exploded"), false)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.False(t, body.Success)
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.Equal(t, "Internal server error", body.Error.Message)
	assert.Empty(t, body.Error.Stack)

	_, dev := Envelope(errors.New("db exploded"), true)
	assert.Contains(t, dev.Error.Stack, "db exploded")
}

func TestWrapExternalKeepsExisting(t *testing.T) {
	inner := ExternalService("Azure Search", "index failed")
	got := WrapExternal("Other", errors.Wrap(inner, "pipeline"))
	assert.Same(t, inner, got)

	fresh := WrapExternal("Azure Speech", errors.New("timeout"))
	assert.Equal(t, "Azure Speech", fresh.Service)
	assert.Contains(t, fresh.Message, "timeout")
}
