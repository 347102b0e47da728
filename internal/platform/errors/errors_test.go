package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	cause := fmt.Errorf("upstream timeout")

	tests := []struct {
		name       string
		err        *Error
		wantType   ErrorType
		wantStatus int
		wantCause  error
	}{
		{"validation", ValidationError("invalid diagram"), TypeValidation, http.StatusBadRequest, nil},
		{"not_found", NotFoundError("no such route"), TypeNotFound, http.StatusNotFound, nil},
		{"rate_limited", RateLimitedError("slow down"), TypeRateLimited, http.StatusTooManyRequests, nil},
		{"internal", InternalError("failed", cause), TypeInternal, http.StatusInternalServerError, cause},
		{"external", ExternalError("gemini failed", cause), TypeExternal, http.StatusBadGateway, cause},
		{"unavailable", UnavailableError("shutting down", nil), TypeUnavailable, http.StatusServiceUnavailable, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantStatus, tt.err.HTTPStatus())
			assert.Equal(t, tt.wantCause, tt.err.Cause)
			assert.NotNil(t, tt.err.Context)
			assert.Contains(t, tt.err.Error(), string(tt.wantType))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "validation: bad input", ValidationError("bad input").Error())
	assert.Equal(t, "external: call failed: boom", ExternalError("call failed", fmt.Errorf("boom")).Error())
	assert.NotContains(t, InternalError("no cause", nil).Error(), "<nil>")
}

func TestUnknownTypeMapsToInternalStatus(t *testing.T) {
	err := &Error{Type: "mystery", Message: "?"}
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
}

func TestWithContext(t *testing.T) {
	err := ValidationError("invalid diagram").
		WithContext("field", "nodes").
		WithContext("max", 500)

	assert.Len(t, err.Context, 2)
	assert.Equal(t, "nodes", err.Context["field"])
	assert.Equal(t, 500, err.Context["max"])
}

func TestWithContextNilMap(t *testing.T) {
	err := &Error{Type: TypeValidation, Message: "test"}

	err = err.WithContext("key", "value")

	assert.Equal(t, "value", err.Context["key"])
}

func TestToResponse(t *testing.T) {
	resp := ValidationError("invalid diagram").WithContext("field", "edges").ToResponse()

	assert.Equal(t, "invalid diagram", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, map[string]any{"field": "edges"}, resp.Context)
}

func TestUnwrapAndIs(t *testing.T) {
	root := fmt.Errorf("root")
	wrapped := InternalError("wrapped", root)

	assert.Equal(t, root, errors.Unwrap(wrapped))
	assert.True(t, errors.Is(wrapped, root))
	assert.Nil(t, errors.Unwrap(ValidationError("test")))
}

func TestAsStructuredError(t *testing.T) {
	original := ValidationError("original")
	assert.Same(t, original, AsStructuredError(original))
	assert.Same(t, original, AsStructuredError(fmt.Errorf("context: %w", original)))

	plain := fmt.Errorf("standard error")
	result := AsStructuredError(plain)
	require.NotNil(t, result)
	assert.Equal(t, TypeInternal, result.Type)
	assert.Equal(t, "internal server error", result.Message)
	assert.Equal(t, plain, result.Cause)

	assert.Nil(t, AsStructuredError(nil))
}
