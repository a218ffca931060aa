// Package api is the HTTP surface of the governance engine. Errors are
// RFC 7807 problem details carrying the stable governance `code` (and,
// for state refusals, the command's `current_state`) so callers branch on
// structure, never on prose.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/assentworks/assent/pkg/contracts"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs). All
// error responses use this shape.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID links to the request id for log correlation.
	TraceID string `json:"trace_id,omitempty"`
	// Code is the stable governance error code (VALIDATION_ERROR,
	// NOT_FOUND, INVALID_STATE_TRANSITION, CONCURRENCY_CONFLICT).
	Code string `json:"code,omitempty"`
	// CurrentState is set on state refusals so callers can reconcile.
	CurrentState string `json:"current_state,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func writeProblem(w http.ResponseWriter, problem *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteError writes an RFC 7807 problem response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   fmt.Sprintf("https://assentworks.dev/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
}

// WriteTooManyRequests writes a 429 error response with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response. The err is logged but never
// exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// WriteDomainError maps a governance error onto the wire: 400 for
// validation, 404 for unknown ids, 409 for state refusals and lost races
// (with current_state attached). Anything that is not a governance error
// is a 500.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var ge *contracts.Error
	if !errors.As(err, &ge) {
		WriteInternal(w, err)
		return
	}

	var status int
	var title string
	switch ge.Code {
	case contracts.CodeValidation:
		status, title = http.StatusBadRequest, "Bad Request"
	case contracts.CodeNotFound:
		status, title = http.StatusNotFound, "Not Found"
	case contracts.CodeInvalidTransition:
		status, title = http.StatusConflict, "Invalid State Transition"
	case contracts.CodeConflict:
		status, title = http.StatusConflict, "Concurrency Conflict"
	default:
		// EXECUTION_FAILURE is data, not an HTTP error; reaching this
		// branch means a handler leaked it.
		WriteInternal(w, err)
		return
	}

	writeProblem(w, &ProblemDetail{
		Type:         fmt.Sprintf("https://assentworks.dev/errors/%d", status),
		Title:        title,
		Status:       status,
		Detail:       ge.Message,
		Instance:     r.URL.Path,
		TraceID:      w.Header().Get("X-Request-ID"),
		Code:         string(ge.Code),
		CurrentState: string(ge.CurrentState),
	})
}
