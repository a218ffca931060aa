package api_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/assentworks/assent/pkg/api"
	"github.com/assentworks/assent/pkg/contracts"
)

func TestWriteError_ContentType(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteError(w, http.StatusBadRequest, "Bad Request", "field is missing")

	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected Content-Type 'application/problem+json', got %q", ct)
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}

	var problem api.ProblemDetail
	decodeJSON(t, w, &problem)
	if problem.Status != 400 {
		t.Errorf("expected problem.status=400, got %d", problem.Status)
	}
	if problem.Title != "Bad Request" {
		t.Errorf("expected title 'Bad Request', got %q", problem.Title)
	}
	if problem.Detail != "field is missing" {
		t.Errorf("expected detail 'field is missing', got %q", problem.Detail)
	}
}

func TestWriteInternal_SanitizesError(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteInternal(w, errors.New("pq: connection refused to host=10.0.0.1"))

	var problem api.ProblemDetail
	decodeJSON(t, w, &problem)

	if problem.Detail == "pq: connection refused to host=10.0.0.1" {
		t.Error("internal error details leaked to client")
	}
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}

func TestWriteTooManyRequests_RetryAfterHeader(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, 30)

	if ra := w.Header().Get("Retry-After"); ra != "30" {
		t.Errorf("expected Retry-After '30', got %q", ra)
	}
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", w.Code)
	}
}

func TestWriteUnauthorized_DefaultDetail(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteUnauthorized(w, "")

	var problem api.ProblemDetail
	decodeJSON(t, w, &problem)
	if problem.Detail != "Authentication required" {
		t.Errorf("expected default detail, got %q", problem.Detail)
	}
}

func TestWriteDomainError_CodeMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantState  string
	}{
		{
			name:       "validation",
			err:        contracts.NewValidation("command is required"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "not found",
			err:        contracts.NewNotFound("command", "ap-1"),
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:       "invalid transition carries state",
			err:        contracts.NewInvalidTransition("approve", contracts.StateExecuted),
			wantStatus: http.StatusConflict,
			wantCode:   "INVALID_STATE_TRANSITION",
			wantState:  "EXECUTED",
		},
		{
			name:       "conflict carries state",
			err:        contracts.NewConflict("ap-1", contracts.StateRejected),
			wantStatus: http.StatusConflict,
			wantCode:   "CONCURRENCY_CONFLICT",
			wantState:  "REJECTED",
		},
		{
			name:       "plain error is internal",
			err:        errors.New("disk full"),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "leaked execution failure is internal",
			err:        contracts.NewExecutionFailure(errors.New("bridge down")),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/approval/approve", nil)
			api.WriteDomainError(w, r, tc.err)

			if w.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, w.Code)
			}
			var problem api.ProblemDetail
			decodeJSON(t, w, &problem)
			if problem.Code != tc.wantCode {
				t.Errorf("expected code %q, got %q", tc.wantCode, problem.Code)
			}
			if problem.CurrentState != tc.wantState {
				t.Errorf("expected current_state %q, got %q", tc.wantState, problem.CurrentState)
			}
		})
	}
}

func TestWriteDomainError_RequestContext(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-123")
	r := httptest.NewRequest(http.MethodPost, "/approval/approve", nil)

	api.WriteDomainError(w, r, contracts.NewNotFound("command", "ap-9"))

	var problem api.ProblemDetail
	decodeJSON(t, w, &problem)
	if problem.Instance != "/approval/approve" {
		t.Errorf("expected instance '/approval/approve', got %q", problem.Instance)
	}
	if problem.TraceID != "req-123" {
		t.Errorf("expected trace_id 'req-123', got %q", problem.TraceID)
	}
}

func TestWriteDomainError_WrappedErrorsUnwrap(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/approval/status", nil)

	wrapped := contracts.NewNotFound("command", "ap-1")
	api.WriteDomainError(w, r, errors.Join(errors.New("outer context"), wrapped))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected wrapped governance error to map to 404, got %d", w.Code)
	}
}
