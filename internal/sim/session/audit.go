package session

import (
	"time"

	"github.com/google/uuid"
)

// AuditType classifies audit trail entries.
type AuditType string

const (
	AuditRequestDecision   AuditType = "request_decision"
	AuditSimulationControl AuditType = "simulation_control"
	AuditSystemAlert       AuditType = "system_alert"
)

// Actors recorded on audit entries.
const (
	ActorController = "controller"
	ActorSystem     = "system"
)

// AuditEvent is one entry of a session's audit trail.
type AuditEvent struct {
	ID          string    `json:"id"`
	At          time.Time `json:"at"`
	TimeMinutes float64   `json:"timeMinutes"`
	Type        AuditType `json:"type"`
	Actor       string    `json:"actor"`
	Action      string    `json:"action"`
	TrainID     string    `json:"trainId,omitempty"`
	Details     string    `json:"details,omitempty"`
}

// DefaultAuditLimit bounds the audit ring of a session.
const DefaultAuditLimit = 256

// auditRing keeps the newest limit entries in insertion order.
type auditRing struct {
	limit   int
	entries []AuditEvent
}

func newAuditRing(limit int) *auditRing {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	return &auditRing{limit: limit}
}

func (r *auditRing) add(ev AuditEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if len(r.entries) == r.limit {
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:r.limit-1]
	}
	r.entries = append(r.entries, ev)
}

func (r *auditRing) list() []AuditEvent {
	out := make([]AuditEvent, len(r.entries))
	copy(out, r.entries)
	return out
}
