package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/assentworks/assent/pkg/audit"
	"github.com/assentworks/assent/pkg/auth"
	"github.com/assentworks/assent/pkg/chat"
	"github.com/assentworks/assent/pkg/contracts"
	"github.com/assentworks/assent/pkg/gate"
	"github.com/assentworks/assent/pkg/policy"
	"github.com/assentworks/assent/pkg/registry"
)

// Server exposes the governance engine over HTTP. Handlers never touch
// stores directly; every operation goes through the chat service, the
// registry, the gate, or the audit log so their invariants hold on this
// surface too.
type Server struct {
	chat     *chat.Service
	registry *registry.Registry
	gate     *gate.Gate
	log      *audit.Log
	guard    *policy.Guard
	ready    func(ctx context.Context) error
}

// NewServer wires the HTTP surface over the engine's services.
func NewServer(chatSvc *chat.Service, reg *registry.Registry, g *gate.Gate, log *audit.Log, guard *policy.Guard) *Server {
	return &Server{
		chat:     chatSvc,
		registry: reg,
		gate:     g,
		log:      log,
		guard:    guard,
	}
}

// WithReadiness installs the probe behind GET /readiness, typically a
// database ping.
func (s *Server) WithReadiness(probe func(ctx context.Context) error) *Server {
	s.ready = probe
	return s
}

// Routes returns the route mux without middleware. Callers that need the
// full chain use Handler.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/execute/raw", s.handleExecuteRaw)
	mux.HandleFunc("/approval/approve", s.handleApprove)
	mux.HandleFunc("/approval/reject", s.handleReject)
	mux.HandleFunc("/approval/status", s.handleApprovalStatus)
	mux.HandleFunc("/commands", s.handleCommands)
	mux.HandleFunc("/audit/trail", s.handleAuditTrail)
	mux.HandleFunc("/session/arm", s.handleSessionArm)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/readiness", s.handleReadiness)
	return mux
}

// ServerOptions configures the middleware chain around the route mux.
// Nil fields disable the corresponding layer; identity resolution always
// runs so handlers can attribute actions.
type ServerOptions struct {
	Validator   *auth.Validator
	RequireAuth bool
	RateLimiter *ActorRateLimiter
	Idempotency IdempotencyStorer
	CORSOrigins []string
}

// Handler returns the complete HTTP surface: request id, CORS, identity,
// rate limiting, and idempotent replay wrapped around Routes, in that
// order from the outside in.
func (s *Server) Handler(opts ServerOptions) http.Handler {
	var h http.Handler = s.Routes()
	if opts.Idempotency != nil {
		h = IdempotencyMiddleware(opts.Idempotency)(h)
	}
	if opts.RateLimiter != nil {
		h = opts.RateLimiter.Middleware(h)
	}
	h = Identity(opts.Validator, opts.RequireAuth)(h)
	h = auth.CORS(opts.CORSOrigins)(h)
	h = auth.RequestID(h)
	return h
}

type chatRequest struct {
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata"`
}

// handleChat serves POST /chat. Arm phrases flip the session gate here;
// everything else produces proposals only. This endpoint never writes to
// an external system.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Message == "" {
		WriteBadRequest(w, "Missing required field: message")
		return
	}

	resp, err := s.chat.Handle(r.Context(), req.Message, req.Metadata, auth.ActorID(r.Context()))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type executeRawRequest struct {
	Command  string            `json:"command"`
	Intent   string            `json:"intent"`
	Params   map[string]any    `json:"params"`
	Metadata map[string]string `json:"metadata"`
}

type executeRawResponse struct {
	Status         string `json:"status"`
	ExecutionState string `json:"execution_state"`
	ApprovalID     string `json:"approval_id"`
	ExecutionID    string `json:"execution_id"`
}

// handleExecuteRaw serves POST /execute/raw. Nothing executes here: the
// request passes the guard policy, then lands as a BLOCKED AICommand
// waiting for human approval.
func (s *Server) handleExecuteRaw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req executeRawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Command == "" {
		WriteBadRequest(w, "Missing required field: command")
		return
	}

	if s.guard != nil {
		err := s.guard.Admit(policy.Request{
			Command:  req.Command,
			Intent:   req.Intent,
			Scope:    contracts.ScopeAPIExecuteRaw,
			Params:   req.Params,
			Metadata: req.Metadata,
		})
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
	}

	proposed := contracts.ProposedCommand{
		Command:          req.Command,
		Intent:           req.Intent,
		Scope:            contracts.ScopeAPIExecuteRaw,
		DryRun:           true,
		RequiresApproval: true,
		Params:           req.Params,
	}
	cmd, err := s.registry.CreateBlocked(r.Context(), proposed, req.Metadata, auth.ActorID(r.Context()))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, executeRawResponse{
		Status:         "blocked",
		ExecutionState: string(cmd.State),
		ApprovalID:     cmd.ApprovalID,
		ExecutionID:    cmd.ExecutionID,
	})
}

type approveRequest struct {
	ApprovalID string `json:"approval_id"`
}

type approveResponse struct {
	ApprovalID     string         `json:"approval_id"`
	ExecutionState string         `json:"execution_state"`
	Result         map[string]any `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// handleApprove serves POST /approval/approve: approve, then execute.
// An adapter failure is a 200 carrying execution_state FAILED; only
// protocol misuse (unknown id, wrong state, lost race) maps to an HTTP
// error.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.ApprovalID == "" {
		WriteBadRequest(w, "Missing required field: approval_id")
		return
	}

	actor := auth.ActorID(r.Context())
	if _, err := s.registry.Approve(r.Context(), req.ApprovalID, actor); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	cmd, err := s.registry.Execute(r.Context(), req.ApprovalID)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, approveResponse{
		ApprovalID:     cmd.ApprovalID,
		ExecutionState: string(cmd.State),
		Result:         cmd.Result,
		Error:          cmd.Error,
	})
}

type rejectRequest struct {
	ApprovalID string `json:"approval_id"`
	Reason     string `json:"reason"`
}

type rejectResponse struct {
	ApprovalID     string `json:"approval_id"`
	ExecutionState string `json:"execution_state"`
}

// handleReject serves POST /approval/reject.
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.ApprovalID == "" {
		WriteBadRequest(w, "Missing required field: approval_id")
		return
	}

	cmd, err := s.registry.Reject(r.Context(), req.ApprovalID, auth.ActorID(r.Context()), req.Reason)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rejectResponse{
		ApprovalID:     cmd.ApprovalID,
		ExecutionState: string(cmd.State),
	})
}

// handleApprovalStatus serves GET /approval/status?approval_id=.
func (s *Server) handleApprovalStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	approvalID := r.URL.Query().Get("approval_id")
	if approvalID == "" {
		WriteBadRequest(w, "Missing required query parameter: approval_id")
		return
	}

	cmd, err := s.registry.Get(r.Context(), approvalID)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// handleCommands serves GET /commands?session_id=, newest first.
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		WriteBadRequest(w, "Missing required query parameter: session_id")
		return
	}

	cmds, err := s.registry.ListBySession(r.Context(), sessionID)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	if cmds == nil {
		cmds = []*contracts.AICommand{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": cmds})
}

// handleAuditTrail serves GET /audit/trail with exactly one of
// approval_id or session_id.
func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	approvalID := r.URL.Query().Get("approval_id")
	sessionID := r.URL.Query().Get("session_id")
	if (approvalID == "") == (sessionID == "") {
		WriteBadRequest(w, "Provide exactly one of approval_id or session_id")
		return
	}

	var (
		entries []*contracts.AuditEntry
		err     error
	)
	if approvalID != "" {
		entries, err = s.log.ByApproval(r.Context(), approvalID)
	} else {
		entries, err = s.log.BySession(r.Context(), sessionID)
	}
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*contracts.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleSessionArm serves GET /session/arm?session_id=. Unknown sessions
// report armed=false.
func (s *Server) handleSessionArm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		WriteBadRequest(w, "Missing required query parameter: session_id")
		return
	}

	state, err := s.gate.State(r.Context(), sessionID)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			WriteError(w, http.StatusServiceUnavailable, "Not Ready", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
