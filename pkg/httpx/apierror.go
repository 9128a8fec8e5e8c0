package httpx

import (
	"fmt"
	"net/http"
)

// APIError is the error envelope every handler returns:
// {"error": "...", "error_description": "..."}.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"error_description"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Write sends the error to the client as JSON.
func (e *APIError) Write(w http.ResponseWriter) {
	NoCache(w)
	WriteJSON(w, e.StatusCode, e)
}

// NewAPIError builds a one-off error response.
func NewAPIError(statusCode int, code, message string) *APIError {
	return &APIError{StatusCode: statusCode, Code: code, Message: message}
}

var (
	// ErrInvalidJSON is returned when a request body cannot be decoded.
	ErrInvalidJSON = &APIError{
		StatusCode: http.StatusBadRequest,
		Code:       "invalid_request",
		Message:    "request body is not valid JSON or is missing required fields",
	}

	// ErrServerError hides internal failures behind a generic envelope.
	ErrServerError = &APIError{
		StatusCode: http.StatusInternalServerError,
		Code:       "server_error",
		Message:    "internal server error",
	}
)
