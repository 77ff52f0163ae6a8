package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dativo-io/warden/internal/engine"
	"github.com/dativo-io/warden/internal/requestctx"
	"github.com/dativo-io/warden/internal/session"
)

// Action is the closed set of operations accepted at POST /v1/actions. The
// dispatcher switches exhaustively; a name outside this set is a 400, never a
// silent default.
type Action string

const (
	ActionCreateSession  Action = "create_session"
	ActionCloseSession   Action = "close_session"
	ActionGetSession     Action = "get_session"
	ActionFetchURL       Action = "fetch_url"
	ActionExtractContent Action = "extract_content"
	ActionSummarize      Action = "summarize"
	ActionProposeStep    Action = "propose_step"
	ActionApproveStep    Action = "approve_step"
	ActionRejectStep     Action = "reject_step"
	ActionExecuteStep    Action = "execute_step"
)

// actionRequest is the envelope for POST /v1/actions. Only the fields the
// named action reads are consulted.
type actionRequest struct {
	Action Action `json:"action"`

	// create_session
	Purpose       string `json:"purpose,omitempty"`
	PolicyProfile string `json:"policy_profile,omitempty"`

	// session-scoped actions
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// propose_step
	Kind      string                 `json:"kind,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Rationale string                 `json:"rationale,omitempty"`

	// step transitions
	StepID   string `json:"step_id,omitempty"`
	Approver string `json:"approver,omitempty"`

	// fetch_url
	URL string `json:"url,omitempty"`

	// extract_content / summarize
	Mode    string                 `json:"mode,omitempty"`
	Content map[string]interface{} `json:"content,omitempty"`
	Text    string                 `json:"text,omitempty"`
	Format  string                 `json:"format,omitempty"`
}

type sessionResponse struct {
	Session   *session.Session   `json:"session"`
	Steps     []session.Step     `json:"steps,omitempty"`
	Artifacts []session.Artifact `json:"artifacts,omitempty"`
}

// handleAction is the single action-routed entry point.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	ctx := r.Context()
	tenantID := requestctx.TenantID(ctx)
	userID := requestctx.UserID(ctx)

	switch req.Action {
	case ActionCreateSession:
		sess, err := s.sessions.Create(ctx, tenantID, userID, req.Purpose, req.PolicyProfile)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sessionResponse{Session: sess})

	case ActionCloseSession:
		sess, err := s.sessions.Close(ctx, tenantID, req.SessionID, req.Reason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{Session: sess})

	case ActionGetSession:
		sess, steps, err := s.sessions.Get(ctx, tenantID, req.SessionID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{Session: sess, Steps: steps})

	case ActionFetchURL:
		step, err := s.engine.FetchURL(ctx, tenantID, req.SessionID, req.URL)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"step": step})

	case ActionExtractContent:
		art, err := s.engine.ExtractContent(ctx, tenantID, req.SessionID, req.Mode, req.Content)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"artifact": art})

	case ActionSummarize:
		art, err := s.engine.Summarize(ctx, tenantID, req.SessionID, req.Text, req.Format)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"artifact": art})

	case ActionProposeStep:
		result, err := s.engine.Propose(ctx, tenantID, req.SessionID, req.Kind, req.Payload, req.Rationale, session.ProposedByAgent)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)

	case ActionApproveStep:
		approver := req.Approver
		if approver == "" {
			approver = userID
		}
		step, err := s.engine.Approve(ctx, tenantID, req.StepID, approver)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"step": step})

	case ActionRejectStep:
		step, err := s.engine.Reject(ctx, tenantID, req.StepID, req.Reason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"step": step})

	case ActionExecuteStep:
		step, err := s.engine.Execute(ctx, tenantID, req.StepID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"step": step})

	default:
		writeDomainError(w, fmt.Errorf("%w: %q", engine.ErrUnknownAction, req.Action))
	}
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	tenantID := requestctx.TenantID(r.Context())
	sess, steps, err := s.sessions.Get(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess, Steps: steps})
}

func (s *Server) handleArtifactsList(w http.ResponseWriter, r *http.Request) {
	tenantID := requestctx.TenantID(r.Context())
	sessionID := chi.URLParam(r, "id")

	if _, err := s.sessions.Store().GetSession(r.Context(), tenantID, sessionID); err != nil {
		writeDomainError(w, err)
		return
	}
	artifacts, err := s.sessions.Store().ListArtifacts(r.Context(), tenantID, sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"artifacts": artifacts})
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if s.auditStore == nil {
		writeError(w, http.StatusNotFound, "not_found", "audit store not configured")
		return
	}
	tenantID := requestctx.TenantID(r.Context())
	q := r.URL.Query()

	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	var from, to time.Time
	if v := q.Get("from"); v != "" {
		from, _ = time.Parse(time.RFC3339, v)
	}
	if v := q.Get("to"); v != "" {
		to, _ = time.Parse(time.RFC3339, v)
	}

	events, err := s.auditStore.List(r.Context(), tenantID, q.Get("entity_id"), from, to, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

func (s *Server) handleAuditGet(w http.ResponseWriter, r *http.Request) {
	if s.auditStore == nil {
		writeError(w, http.StatusNotFound, "not_found", "audit store not configured")
		return
	}
	tenantID := requestctx.TenantID(r.Context())
	ev, err := s.auditStore.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil || ev.TenantID != tenantID {
		writeError(w, http.StatusNotFound, "not_found", "audit event not found")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if s.auditStore == nil {
		writeError(w, http.StatusNotFound, "not_found", "audit store not configured")
		return
	}
	tenantID := requestctx.TenantID(r.Context())
	id := chi.URLParam(r, "id")

	ev, err := s.auditStore.Get(r.Context(), id)
	if err != nil || ev.TenantID != tenantID {
		writeError(w, http.StatusNotFound, "not_found", "audit event not found")
		return
	}
	valid, err := s.auditStore.Verify(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "valid": valid})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}
