package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the OCR ensemble worker
 *
 * Three codes are run-terminating for a document: INVALID_ARGUMENT,
 * RENDER_FAILED and ENGINE_CALL_FAILED. A failed quality gate is not an
 * error and never shows up here.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Ensemble errors
	ErrorInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	ErrorRenderFailed     ErrorCode = "RENDER_FAILED"
	ErrorEngineCallFailed ErrorCode = "ENGINE_CALL_FAILED"

	// Worker errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorDownloadFailed    ErrorCode = "DOWNLOAD_FAILED"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

// NewInvalidArgumentError reports malformed configuration or arguments.
// Raised before any backend call is made.
func NewInvalidArgumentError(field string, message string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidArgument,
		Message:   message,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// NewConfigurationError is an INVALID_ARGUMENT raised for ensemble configuration
// (empty engine list, bad gate thresholds).
func NewConfigurationError(field string, message string) *ProcessingError {
	err := NewInvalidArgumentError(field, message)
	err.Details["kind"] = "configuration"
	return err
}

func NewRenderFailedError(message string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorRenderFailed,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// NewEngineCallError reports that a specific engine failed to answer for a specific page.
func NewEngineCallError(engine string, pageNumber int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorEngineCallFailed,
		Message:   fmt.Sprintf("OCR engine %s failed on page %d", engine, pageNumber),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine":      engine,
			"page_number": pageNumber,
		},
		Cause: cause,
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewUnsupportedFormatError(jobID string, mimeType string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported file format: %s", mimeType),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mime_type": mimeType,
		},
	}
}

func NewDownloadFailedError(jobID string, url string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDownloadFailed,
		Message:   "Failed to download source document",
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"file_url": url,
		},
		Cause: cause,
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store processing results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// WithJob returns the error tagged with a job id.
func (e *ProcessingError) WithJob(jobID string) *ProcessingError {
	e.JobID = jobID
	return e
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}

// CodeOf returns the code of the first ProcessingError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether a queue-level retry can plausibly succeed.
// Bad configuration and corrupt input never self-heal.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrorInvalidArgument, ErrorRenderFailed, ErrorUnsupportedFormat:
		return false
	}
	return err != nil
}

// EngineOf returns the failing engine name of an ENGINE_CALL_FAILED error.
func EngineOf(err error) (string, bool) {
	var pe *ProcessingError
	if !stderrors.As(err, &pe) || pe.Code != ErrorEngineCallFailed {
		return "", false
	}
	engine, ok := pe.Details["engine"].(string)
	return engine, ok
}
