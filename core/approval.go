package core

import (
	"context"
	"fmt"
	"slices"

	"github.com/signalsfoundry/railsection-simulator/internal/logging"
)

// StartGateID is the decision point ID of the gate every train passes
// before entering the section.
const StartGateID = "start_approval"

// ApprovalRequest asks the controller to approve, reject or re-route one
// train held at a gate.
type ApprovalRequest struct {
	TrainID         string     `json:"trainId"`
	DecisionPointID string     `json:"decisionPointId"`
	PointID         string     `json:"pointId,omitempty"`
	PossiblePaths   [][]string `json:"possiblePaths"`
	RaisedAt        float64    `json:"raisedAt"`
}

// IsStartGate reports whether the request admits a train to the section.
func (r ApprovalRequest) IsStartGate() bool { return r.DecisionPointID == StartGateID }

func (r ApprovalRequest) clone() ApprovalRequest {
	c := r
	if r.PossiblePaths != nil {
		c.PossiblePaths = make([][]string, len(r.PossiblePaths))
		for i, p := range r.PossiblePaths {
			c.PossiblePaths[i] = slices.Clone(p)
		}
	}
	return c
}

// Decision is the controller's answer to the outstanding request. Path is
// optional; for a start gate it replaces the whole route, for a mid-route
// gate it replaces the route from the current track on.
type Decision struct {
	TrainID  string
	Approved bool
	Path     []string
}

// hasRequest reports whether the train is the head of the queue or waiting
// in it.
func (s *State) hasRequest(trainID string) bool {
	if s.Approval != nil && s.Approval.TrainID == trainID {
		return true
	}
	for _, w := range s.Waiting {
		if w.TrainID == trainID {
			return true
		}
	}
	return false
}

// enqueue makes req the outstanding request, or appends it to the waiting
// queue when another request is open.
func (s *State) enqueue(req ApprovalRequest) EventKind {
	if s.Approval == nil {
		s.Approval = &req
		return EventApprovalRaised
	}
	s.Waiting = append(s.Waiting, req)
	return EventApprovalQueued
}

// Resolve applies a controller decision to the outstanding request and
// returns the resulting state. The input state is not modified. A decision
// for any train other than the one named in the outstanding request is
// rejected without effect.
func (e *Engine) Resolve(ctx context.Context, s *State, d Decision) (*State, []Event, error) {
	if s.Approval == nil {
		return nil, nil, ErrNoOutstandingApproval
	}
	req := s.Approval.clone()
	if d.TrainID != req.TrainID {
		return nil, nil, fmt.Errorf("%w: outstanding request is for train %q, got %q", ErrApprovalMismatch, req.TrainID, d.TrainID)
	}
	idx := s.trainIndex(d.TrainID)
	if idx < 0 {
		return nil, nil, fmt.Errorf("%w: %q", ErrTrainNotFound, d.TrainID)
	}
	if d.Approved && len(d.Path) > 0 {
		if err := e.ix.ValidatePath(d.Path); err != nil {
			return nil, nil, err
		}
	}
	var spliced []string
	if d.Approved && len(d.Path) > 0 && !req.IsStartGate() {
		cur := &s.Trains[idx]
		if d.Path[0] != cur.Track {
			return nil, nil, fmt.Errorf("%w: route must start on current track %q", ErrInvalidPath, cur.Track)
		}
		if !e.ix.keepsHeading(d.Path, cur.Westbound) {
			return nil, nil, fmt.Errorf("%w: route reverses the heading of train %q", ErrInvalidPath, cur.ID)
		}
		spliced = append(slices.Clone(cur.Path[:cur.CurrentPathIndex]), d.Path...)
	}

	next := s.Clone()
	t := &next.Trains[idx]
	log := e.log.With(logging.TrainID(t.ID), logging.DecisionPoint(req.DecisionPointID))
	var events []Event

	decision := "rejected"
	if d.Approved {
		decision = "approved"
		t.ApprovalState = ApprovalApproved
		if req.IsStartGate() {
			e.admit(ctx, next, t, d.Path, &events)
		} else {
			if spliced != nil {
				t.Path = spliced
			}
			t.ClearedGates = append(t.ClearedGates, req.PointID)
			t.Status = StatusOnTime
			t.Speed = e.nominal(t)
		}
		if gap := leadGap(next.Trains, idx, t); t.Speed > 0 && gap < e.policy.StoppingDistance(t.BaseSpeed) {
			t.SeparationBreach = true
			log.Warn(ctx, "train released inside stopping distance", logging.Float("gap_miles", gap))
		}
	} else {
		t.ApprovalState = ApprovalRejected
		t.HaltTimer = 0
		t.halt(StatusStopped)
	}
	t.DecisionPointID = ""
	e.place(t)

	events = append(events, Event{
		Kind:    EventApprovalResolved,
		Time:    next.TimeMinutes,
		TrainID: t.ID,
		PointID: req.PointID,
		Message: fmt.Sprintf("%s at %s", decision, req.DecisionPointID),
	})
	log.Info(ctx, "approval resolved", logging.String("decision", decision))

	next.Approval = nil
	if len(next.Waiting) > 0 {
		head := next.Waiting[0]
		next.Approval = &head
		next.Waiting = slices.Clone(next.Waiting[1:])
		if len(next.Waiting) == 0 {
			next.Waiting = nil
		}
		events = append(events, Event{
			Kind:    EventApprovalRaised,
			Time:    next.TimeMinutes,
			TrainID: head.TrainID,
			PointID: head.PointID,
			Message: fmt.Sprintf("approval requested at %s", head.DecisionPointID),
		})
		e.log.Info(ctx, "queued approval promoted",
			logging.TrainID(head.TrainID),
			logging.DecisionPoint(head.DecisionPointID),
		)
	}
	return next, events, nil
}

// admit places an approved train at its entry point.
func (e *Engine) admit(ctx context.Context, s *State, t *TrainState, route []string, events *[]Event) {
	if len(route) > 0 {
		t.Path = slices.Clone(route)
		t.Track = route[0]
		t.CurrentPathIndex = 0
		t.Westbound = e.ix.westbound(t.Path)
	}
	start, _, err := e.ix.trackSpan(t.Track, t.Westbound)
	if err != nil || !e.ix.IsOpen(t.Track) {
		if err == nil {
			err = fmt.Errorf("track %q is closed", t.Track)
		}
		e.fault(ctx, s, t, err.Error(), events)
		return
	}
	t.Position = start
	if tr := e.ix.Track(t.Track); tr != nil {
		t.ClearedGates = append(t.ClearedGates, tr.From)
	}
	t.Status = StatusOnTime
	t.Speed = e.nominal(t)
}
