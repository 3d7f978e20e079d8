package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/signalsfoundry/railsection-simulator/core"
	"github.com/signalsfoundry/railsection-simulator/internal/control"
	"github.com/signalsfoundry/railsection-simulator/internal/logging"
	"github.com/signalsfoundry/railsection-simulator/internal/sim/session"
)

// maxBodyBytes bounds request bodies; every request is a handful of fields.
const maxBodyBytes = 64 << 10

// Handler serves the session API over a session manager.
type Handler struct {
	sessions *session.Manager
	log      logging.Logger
}

// NewHandler creates a handler bound to sessions.
func NewHandler(sessions *session.Manager, log logging.Logger) *Handler {
	if log == nil {
		log = logging.Noop()
	}
	return &Handler{sessions: sessions, log: log}
}

// ListCasesResponse is the body of GET /api/cases.
type ListCasesResponse struct {
	Cases []control.CaseSummary `json:"cases"`
	Count int                   `json:"count"`
}

// ListSessionsResponse is the body of GET /api/sessions.
type ListSessionsResponse struct {
	Sessions []control.SessionSummary `json:"sessions"`
	Count    int                      `json:"count"`
}

// AuditResponse is the body of GET /api/sessions/{sessionID}/audit.
type AuditResponse struct {
	SessionID string               `json:"sessionId"`
	Events    []session.AuditEvent `json:"events"`
	Count     int                  `json:"count"`
	PolledAt  time.Time            `json:"polledAt"`
}

// ListCases handles GET /api/cases.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	cases := h.sessions.Cases().List()
	out := make([]control.CaseSummary, 0, len(cases))
	for _, c := range cases {
		out = append(out, control.SummarizeCase(c))
	}
	writeJSON(w, http.StatusOK, ListCasesResponse{Cases: out, Count: len(out)})
}

// GetCase handles GET /api/cases/{caseID} and returns the full definition.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.sessions.Cases().Get(chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListSessions handles GET /api/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	out := control.SummarizeSessions(h.sessions.List())
	writeJSON(w, http.StatusOK, ListSessionsResponse{Sessions: out, Count: len(out)})
}

// StartSession handles POST /api/sessions.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req control.StartSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := control.StartSession(r.Context(), h.sessions, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/sessions/"+sess.ID())
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

// GetSnapshot handles GET /api/sessions/{sessionID}.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, nil)
}

// GetAudit handles GET /api/sessions/{sessionID}/audit.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	sess, err := control.LookupSession(h.sessions, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	events := sess.Audit()
	writeJSON(w, http.StatusOK, AuditResponse{
		SessionID: sess.ID(),
		Events:    events,
		Count:     len(events),
		PolledAt:  time.Now().UTC(),
	})
}

// Play handles POST /api/sessions/{sessionID}/play.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, (*session.Session).Play)
}

// Pause handles POST /api/sessions/{sessionID}/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, (*session.Session).Pause)
}

// Step handles POST /api/sessions/{sessionID}/step.
func (h *Handler) Step(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, (*session.Session).Step)
}

// Reset handles POST /api/sessions/{sessionID}/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, (*session.Session).Reset)
}

// SetSpeed handles POST /api/sessions/{sessionID}/speed with {"speed": n}.
func (h *Handler) SetSpeed(w http.ResponseWriter, r *http.Request) {
	var req control.SetSpeedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.withSession(w, r, func(s *session.Session, ctx context.Context) error {
		return s.SetSpeed(ctx, req.Speed)
	})
}

// ResolveApproval handles POST /api/sessions/{sessionID}/approval.
func (h *Handler) ResolveApproval(w http.ResponseWriter, r *http.Request) {
	var req control.ResolveApprovalRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.TrainID == "" {
		writeError(w, r, fmt.Errorf("%w: trainId is required", control.ErrInvalidArgument))
		return
	}
	h.withSession(w, r, func(s *session.Session, ctx context.Context) error {
		return s.Resolve(ctx, core.Decision{TrainID: req.TrainID, Approved: req.Approved, Path: req.Path})
	})
}

// CloseSession handles DELETE /api/sessions/{sessionID}.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) withSession(w http.ResponseWriter, r *http.Request, fn func(*session.Session, context.Context) error) {
	sess, err := control.LookupSession(h.sessions, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if fn != nil {
		if err := fn(sess, r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", control.ErrInvalidArgument, err)
	}
	return nil
}
