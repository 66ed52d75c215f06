package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Request errors
	ErrorTypeValidation ErrorType = "VALIDATION"

	// Structural errors, detected before any write
	ErrorTypeDuplicateID  ErrorType = "DUPLICATE_ID"
	ErrorTypeUnknownNode  ErrorType = "UNKNOWN_NODE"
	ErrorTypeNodeNotFound ErrorType = "NODE_NOT_FOUND"

	// Concurrency errors
	ErrorTypeVersionConflict ErrorType = "VERSION_CONFLICT"
	ErrorTypeConflict        ErrorType = "CONFLICT"

	// Infrastructure errors
	ErrorTypeIO            ErrorType = "IO"
	ErrorTypeHistoryAppend ErrorType = "HISTORY_APPEND"
	ErrorTypeInternal      ErrorType = "INTERNAL"
)

// AppError represents an application-specific error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode records the backend's own error code, such as an AWS error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails merges error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// captureStackTrace captures the current stack trace
func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := ""
	for {
		frame, more := frames.Next()
		stack += fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return stack
}

func newError(t ErrorType, status int, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		HTTPStatus: status,
		StackTrace: captureStackTrace(),
	}
}

// NewValidationError creates a validation error (a malformed request)
func NewValidationError(message string) *AppError {
	return newError(ErrorTypeValidation, http.StatusBadRequest, message)
}

// NewDuplicateIDError reports an addNode for an id already in the graph
func NewDuplicateIDError(graphName, nodeID string) *AppError {
	return newError(ErrorTypeDuplicateID, http.StatusConflict,
		fmt.Sprintf("node %q already exists in graph %q", nodeID, graphName)).
		WithDetails(map[string]interface{}{"graph": graphName, "node_id": nodeID})
}

// NewUnknownNodeError reports an edge endpoint that is not in the graph
func NewUnknownNodeError(graphName, nodeID string) *AppError {
	return newError(ErrorTypeUnknownNode, http.StatusUnprocessableEntity,
		fmt.Sprintf("edge endpoint %q is not a node of graph %q", nodeID, graphName)).
		WithDetails(map[string]interface{}{"graph": graphName, "node_id": nodeID})
}

// NewNodeNotFoundError reports a content update for an absent node
func NewNodeNotFoundError(graphName, nodeID string) *AppError {
	return newError(ErrorTypeNodeNotFound, http.StatusNotFound,
		fmt.Sprintf("node %q not found in graph %q", nodeID, graphName)).
		WithDetails(map[string]interface{}{"graph": graphName, "node_id": nodeID})
}

// NewVersionConflictError is returned by snapshot stores when the expected
// version is no longer current. The mutation path retries on it.
func NewVersionConflictError(graphName string, expected uint64) *AppError {
	return newError(ErrorTypeVersionConflict, http.StatusConflict,
		fmt.Sprintf("graph %q is no longer at version %d", graphName, expected)).
		WithDetails(map[string]interface{}{"graph": graphName, "expected_version": expected})
}

// NewConflictError is returned when optimistic retries are exhausted
func NewConflictError(graphName string, attempts int) *AppError {
	return newError(ErrorTypeConflict, http.StatusConflict,
		fmt.Sprintf("graph %q changed concurrently; gave up after %d attempts", graphName, attempts)).
		WithDetails(map[string]interface{}{"graph": graphName, "attempts": attempts})
}

// NewIOError wraps a persistence failure
func NewIOError(operation string, err error) *AppError {
	return newError(ErrorTypeIO, http.StatusInternalServerError,
		fmt.Sprintf("storage operation '%s' failed", operation)).WithCause(err)
}

// NewHistoryAppendError wraps a failed history append. It is logged and
// counted, never returned to a caller of the mutation path.
func NewHistoryAppendError(graphName string, sequence uint64, err error) *AppError {
	return newError(ErrorTypeHistoryAppend, http.StatusInternalServerError,
		fmt.Sprintf("history append for graph %q sequence %d failed", graphName, sequence)).
		WithDetails(map[string]interface{}{"graph": graphName, "sequence": sequence}).
		WithCause(err)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, message)
}

// Helper functions

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsVersionConflict checks if an error is a stale compare-and-set
func IsVersionConflict(err error) bool {
	return IsType(err, ErrorTypeVersionConflict)
}

// IsConflict checks if an error is an exhausted-retries conflict
func IsConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

// IsStructural reports whether err is a rejection detected while applying
// an operation to a document.
func IsStructural(err error) bool {
	return IsType(err, ErrorTypeDuplicateID) ||
		IsType(err, ErrorTypeUnknownNode) ||
		IsType(err, ErrorTypeNodeNotFound)
}

// IsIO checks if an error is a storage failure
func IsIO(err error) bool {
	return IsType(err, ErrorTypeIO)
}

