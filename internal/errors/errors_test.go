package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineCallErrorCarriesEngineAndPage(t *testing.T) {
	cause := stderrors.New("HTTP 502")
	err := NewEngineCallError("tesseract", 3, cause)

	assert.Equal(t, ErrorEngineCallFailed, err.Code)
	assert.Contains(t, err.Error(), "tesseract")
	assert.Contains(t, err.Error(), "page 3")
	assert.ErrorIs(t, err, cause)

	m := err.ToMap()
	assert.Equal(t, "ENGINE_CALL_FAILED", m["error_code"])
	assert.Equal(t, "tesseract", m["engine"])
	assert.Equal(t, 3, m["page_number"])
	assert.Equal(t, "HTTP 502", m["cause"])
}

func TestCodeOfWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("ensemble: %w", NewRenderFailedError("bad pdf", nil))
	assert.Equal(t, ErrorRenderFailed, CodeOf(wrapped))
	assert.True(t, Is(wrapped, ErrorRenderFailed))
	assert.Equal(t, ErrorCode(""), CodeOf(stderrors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"invalid argument", NewConfigurationError("engines", "empty"), false},
		{"render failure", NewRenderFailedError("corrupt", nil), false},
		{"unsupported format", NewUnsupportedFormatError("job", "text/plain"), false},
		{"engine failure", NewEngineCallError("a", 1, nil), true},
		{"plain error", stderrors.New("network"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestEngineOf(t *testing.T) {
	engine, ok := EngineOf(fmt.Errorf("run: %w", NewEngineCallError("paddle", 2, nil)))
	require.True(t, ok)
	assert.Equal(t, "paddle", engine)

	_, ok = EngineOf(NewRenderFailedError("x", nil))
	assert.False(t, ok)
}

func TestConfigurationErrorIsInvalidArgument(t *testing.T) {
	err := NewConfigurationError("engines", "engine list must not be empty")
	assert.Equal(t, ErrorInvalidArgument, err.Code)
	assert.Equal(t, "configuration", err.Details["kind"])
	assert.Equal(t, "engines", err.Details["field"])
}
