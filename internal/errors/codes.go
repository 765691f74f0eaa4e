package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type for retrieval operations.
type ErrorCode string

const (
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeNotFound indicates the referenced entity does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeServiceUnavailable indicates the storage backend is not available.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodeEmbeddingUnavailable indicates the embedding model is not available.
	ErrCodeEmbeddingUnavailable ErrorCode = "EMBEDDING_UNAVAILABLE"
	// ErrCodeInternal indicates an unexpected internal failure.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// RetrievalError represents a structured error for retrieval operations.
type RetrievalError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *RetrievalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RetrievalError) Unwrap() error {
	return e.Cause
}

// GetCode returns the error code.
func (e *RetrievalError) GetCode() ErrorCode {
	return e.Code
}

// Convenience constructors for common error types.

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *RetrievalError {
	return &RetrievalError{Code: ErrCodeInvalidArgument, Message: msg}
}

// NotFound creates a not found error.
func NotFound(msg string) *RetrievalError {
	return &RetrievalError{Code: ErrCodeNotFound, Message: msg}
}

// NotFoundf creates a not found error with a formatted message.
func NotFoundf(format string, args ...any) *RetrievalError {
	return &RetrievalError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// ServiceUnavailable creates a service unavailable error.
func ServiceUnavailable(msg string, cause error) *RetrievalError {
	return &RetrievalError{Code: ErrCodeServiceUnavailable, Message: msg, Cause: cause}
}

// EmbeddingUnavailable creates an embedding unavailable error.
func EmbeddingUnavailable(msg string, cause error) *RetrievalError {
	return &RetrievalError{Code: ErrCodeEmbeddingUnavailable, Message: msg, Cause: cause}
}

// Internal creates an internal error.
func Internal(msg string, cause error) *RetrievalError {
	return &RetrievalError{Code: ErrCodeInternal, Message: msg, Cause: cause}
}

// Wrap wraps an existing error with a code and message.
func Wrap(cause error, code ErrorCode, msg string) *RetrievalError {
	return &RetrievalError{Code: code, Message: msg, Cause: cause}
}

// IsCode checks if an error is of a specific code, looking through any
// wrapping layers.
func IsCode(err error, code ErrorCode) bool {
	var rErr *RetrievalError
	if errors.As(err, &rErr) {
		return rErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error, looking through
// any wrapping layers. Returns the provided default code if no RetrievalError
// is found in the chain.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var rErr *RetrievalError
	if errors.As(err, &rErr) {
		return rErr.Code
	}
	return defaultCode
}
