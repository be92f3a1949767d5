package errors

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// APIError represents an error that can be returned to clients as JSON.
type APIError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
	underlying error
}

func (e *APIError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.underlying
}

// WriteJSON writes the error as JSON to the response.
// Base error singletons use pre-serialized bytes to avoid allocations.
func (e *APIError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	if pre, ok := preSerialized[e]; ok {
		w.Write(pre)
		return
	}
	json.NewEncoder(w).Encode(e)
}

// Common errors
var (
	ErrBadRequest = &APIError{
		Code:    http.StatusBadRequest,
		Message: "Bad Request",
	}

	ErrUnauthorized = &APIError{
		Code:    http.StatusUnauthorized,
		Message: "Unauthorized",
	}

	ErrForbidden = &APIError{
		Code:    http.StatusForbidden,
		Message: "Forbidden",
	}

	ErrNotFound = &APIError{
		Code:    http.StatusNotFound,
		Message: "Not Found",
	}

	ErrRequestEntityTooLarge = &APIError{
		Code:    http.StatusRequestEntityTooLarge,
		Message: "Request Entity Too Large",
	}

	ErrTooManyRequests = &APIError{
		Code:    http.StatusTooManyRequests,
		Message: "Too Many Requests",
	}

	ErrInternalServer = &APIError{
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
	}
)

// preSerialized holds JSON-encoded bytes for base error singletons.
var preSerialized map[*APIError][]byte

func init() {
	bases := []*APIError{
		ErrBadRequest, ErrUnauthorized, ErrForbidden, ErrNotFound,
		ErrRequestEntityTooLarge, ErrTooManyRequests, ErrInternalServer,
	}
	preSerialized = make(map[*APIError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		b = append(b, '\n') // match json.Encoder behavior
		preSerialized[e] = b
	}
}

// New creates a new APIError
func New(code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code int, message string) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		underlying: err,
	}
}

// WithDetails returns a copy of the error with details attached.
func (e *APIError) WithDetails(details string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    e.Message,
		Details:    details,
		RequestID:  e.RequestID,
		RetryAfter: e.RetryAfter,
		underlying: e.underlying,
	}
}

// WithRequestID returns a copy of the error with a request ID attached.
func (e *APIError) WithRequestID(requestID string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    e.Message,
		Details:    e.Details,
		RequestID:  requestID,
		RetryAfter: e.RetryAfter,
		underlying: e.underlying,
	}
}

// WithRetryAfter returns a copy of the error with a retry_after hint in seconds.
func (e *APIError) WithRetryAfter(seconds int) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    e.Message,
		Details:    e.Details,
		RequestID:  e.RequestID,
		RetryAfter: seconds,
		underlying: e.underlying,
	}
}

// IsAPIError checks if an error is an APIError
func IsAPIError(err error) (*APIError, bool) {
	if ae, ok := err.(*APIError); ok {
		return ae, true
	}
	return nil, false
}
