package core

import (
	"fmt"
)

// TrainStatus is the operational state of a train for one tick.
type TrainStatus int

const (
	StatusAwaitingApproval TrainStatus = iota
	StatusOnTime
	StatusDelayed
	StatusSlowing
	StatusStopped
	StatusInSiding
	StatusAtPlatform
	StatusBreakdown
	StatusFinished
)

var statusNames = [...]string{
	StatusAwaitingApproval: "awaiting_approval",
	StatusOnTime:           "on-time",
	StatusDelayed:          "delayed",
	StatusSlowing:          "slowing",
	StatusStopped:          "stopped",
	StatusInSiding:         "in-siding",
	StatusAtPlatform:       "at-platform",
	StatusBreakdown:        "breakdown",
	StatusFinished:         "finished",
}

// AllStatuses lists every status in declaration order.
var AllStatuses = []TrainStatus{
	StatusAwaitingApproval,
	StatusOnTime,
	StatusDelayed,
	StatusSlowing,
	StatusStopped,
	StatusInSiding,
	StatusAtPlatform,
	StatusBreakdown,
	StatusFinished,
}

func (s TrainStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseTrainStatus maps a wire name back to a status.
func ParseTrainStatus(name string) (TrainStatus, error) {
	for i, n := range statusNames {
		if n == name {
			return TrainStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown train status %q", name)
}

func (s TrainStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TrainStatus) UnmarshalText(b []byte) error {
	v, err := ParseTrainStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ForcesZeroSpeed reports whether the status requires speed == 0.
func (s TrainStatus) ForcesZeroSpeed() bool {
	switch s {
	case StatusStopped, StatusAtPlatform, StatusInSiding, StatusBreakdown, StatusAwaitingApproval:
		return true
	default:
		return false
	}
}

// IsMoving reports whether the status describes a train under way.
func (s TrainStatus) IsMoving() bool {
	return s == StatusOnTime || s == StatusDelayed || s == StatusSlowing
}

// transitions lists the statuses reachable from each status within one
// engine step (a tick or an approval decision).
var transitions = map[TrainStatus][]TrainStatus{
	StatusAwaitingApproval: {StatusAwaitingApproval, StatusOnTime, StatusStopped},
	StatusOnTime:           underWay,
	StatusDelayed:          underWay,
	StatusSlowing:          underWay,
	StatusStopped:          underWay,
	StatusAtPlatform:       underWay,
	StatusInSiding:         underWay,
	StatusBreakdown:        {StatusBreakdown, StatusOnTime},
	StatusFinished:         {StatusFinished},
}

var underWay = []TrainStatus{
	StatusOnTime,
	StatusDelayed,
	StatusSlowing,
	StatusStopped,
	StatusAtPlatform,
	StatusInSiding,
	StatusBreakdown,
	StatusAwaitingApproval,
	StatusFinished,
}

// CanTransition reports whether a train may move from one status to another
// in a single engine step.
func CanTransition(from, to TrainStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ApprovalState tracks a train's standing with the controller.
type ApprovalState int

const (
	ApprovalPending ApprovalState = iota
	ApprovalApproved
	ApprovalRejected
)

func (a ApprovalState) String() string {
	switch a {
	case ApprovalPending:
		return "pending"
	case ApprovalApproved:
		return "approved"
	case ApprovalRejected:
		return "rejected"
	default:
		return fmt.Sprintf("approval(%d)", int(a))
	}
}

func (a ApprovalState) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *ApprovalState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "pending":
		*a = ApprovalPending
	case "approved":
		*a = ApprovalApproved
	case "rejected":
		*a = ApprovalRejected
	default:
		return fmt.Errorf("unknown approval state %q", string(b))
	}
	return nil
}
