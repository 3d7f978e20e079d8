package core

import (
	"slices"

	"github.com/signalsfoundry/railsection-simulator/model"
)

// NotEntered is the position of a train that has not yet entered the
// section.
const NotEntered = -1.0

// TrainState is the mutable per-train record advanced by the engine.
//
// Position is progress in miles along the section in the train's heading,
// so it never decreases while the train runs. Mile is the corresponding
// mile marker.
type TrainState struct {
	ID        string         `json:"id"`
	Priority  model.Priority `json:"priority"`
	BaseSpeed float64        `json:"baseSpeed"`
	Cargo     string         `json:"cargo,omitempty"`
	StartTime float64        `json:"startTime"`
	Departure float64        `json:"departure"`

	Path             []string `json:"path"`
	Track            string   `json:"track"`
	CurrentPathIndex int      `json:"currentPathIndex"`
	Westbound        bool     `json:"westbound"`
	Position         float64  `json:"position"`
	Mile             float64  `json:"mile"`
	X                float64  `json:"x"`
	Y                float64  `json:"y"`

	Speed  float64     `json:"speed"`
	Status TrainStatus `json:"status"`

	HaltTimer            float64 `json:"haltTimer"`
	HasHaltedAtPlatform  bool    `json:"hasHaltedAtPlatform"`
	PlatformHaltDuration float64 `json:"platformHaltDuration"`
	SidingHaltDuration   float64 `json:"sidingHaltDuration,omitempty"`
	BreakdownRemaining   float64 `json:"breakdownRemaining"`

	ApprovalState   ApprovalState `json:"approvalState"`
	DecisionPointID string        `json:"decisionPointId,omitempty"`
	ClearedGates    []string      `json:"clearedGates,omitempty"`
	UsedSidings     []string      `json:"usedSidings,omitempty"`

	TotalDelay           float64  `json:"totalDelay"`
	ConflictTime         float64  `json:"conflictTime"`
	CompletionTime       *float64 `json:"completionTime"`
	ScheduledArrivalTime float64  `json:"scheduledArrivalTime"`
	SeparationBreach     bool     `json:"separationBreach,omitempty"`

	// Fault holds the reason a train was frozen by a topology error.
	Fault string `json:"fault,omitempty"`
}

// Entered reports whether the train has been admitted to the section.
func (t *TrainState) Entered() bool { return t.Position > NotEntered }

// Finished reports whether the train has left the section.
func (t *TrainState) Finished() bool { return t.Status == StatusFinished }

// Faulted reports whether the train was frozen by a topology error.
func (t *TrainState) Faulted() bool { return t.Fault != "" }

// Rejected reports whether the controller refused the train at a gate. A
// rejected train never moves again.
func (t *TrainState) Rejected() bool { return t.ApprovalState == ApprovalRejected }

// Done reports whether the train has reached a terminal state: finished,
// faulted or rejected.
func (t *TrainState) Done() bool { return t.Finished() || t.Faulted() || t.Rejected() }

// OnMainLine reports whether the train occupies its track as an obstacle.
func (t *TrainState) OnMainLine() bool {
	return t.Entered() && !t.Finished() && t.Status != StatusInSiding
}

// Clone returns a deep copy.
func (t *TrainState) Clone() TrainState {
	c := *t
	c.Path = slices.Clone(t.Path)
	c.ClearedGates = slices.Clone(t.ClearedGates)
	c.UsedSidings = slices.Clone(t.UsedSidings)
	if t.CompletionTime != nil {
		v := *t.CompletionTime
		c.CompletionTime = &v
	}
	return c
}

func (t *TrainState) gateCleared(pointID string) bool {
	return slices.Contains(t.ClearedGates, pointID)
}

func (t *TrainState) sidingUsed(pointID string) bool {
	return slices.Contains(t.UsedSidings, pointID)
}

// halt zeroes speed and sets a zero-speed status.
func (t *TrainState) halt(status TrainStatus) {
	t.Status = status
	t.Speed = 0
}

func (t *TrainState) freeze(reason string) {
	t.Fault = reason
	t.halt(StatusStopped)
	t.HaltTimer = 0
}

// newTrainState builds the reset-time record for one roster entry.
func newTrainState(spec model.TrainSpec, sectionLength float64) TrainState {
	t := TrainState{
		ID:                   spec.ID,
		Priority:             spec.Priority,
		BaseSpeed:            spec.BaseSpeed,
		Cargo:                spec.Cargo,
		StartTime:            spec.StartTime,
		Departure:            spec.DepartureTime(),
		Path:                 slices.Clone(spec.Path),
		Position:             NotEntered,
		Mile:                 NotEntered,
		Status:               StatusAwaitingApproval,
		PlatformHaltDuration: spec.PlatformHaltDuration,
		SidingHaltDuration:   spec.SidingHaltDuration,
		BreakdownRemaining:   spec.BreakdownDuration,
		ApprovalState:        ApprovalPending,
		DecisionPointID:      StartGateID,
	}
	if len(spec.Path) > 0 {
		t.Track = spec.Path[0]
	}
	idealCross := 0.0
	if spec.BaseSpeed > 0 {
		idealCross = sectionLength / spec.BaseSpeed * 60
	}
	t.ScheduledArrivalTime = spec.StartTime + idealCross + spec.PlatformHaltDuration
	return t
}

// cloneTrains deep-copies a roster.
func cloneTrains(in []TrainState) []TrainState {
	out := make([]TrainState, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
