package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Priority ranks a train's right of way. Lower values are more urgent.
type Priority int

const (
	PriorityEmergency Priority = 0
	PriorityHigh      Priority = 1
	PriorityMedium    Priority = 2
	PriorityLow       Priority = 3

	// MaxPriority is the largest numeric rank accepted from case data.
	MaxPriority Priority = 10
)

// IsLow reports whether the train yields to faster traffic at sidings.
func (p Priority) IsLow() bool { return p >= PriorityLow }

// Outranks reports whether p has strictly more right of way than other.
func (p Priority) Outranks(other Priority) bool { return p < other }

func (p Priority) String() string {
	switch p {
	case PriorityEmergency:
		return "emergency"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return strconv.Itoa(int(p))
	}
}

// ParsePriority accepts the named ranks or an integer in [0, MaxPriority].
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "emergency":
		return PriorityEmergency, nil
	case "high":
		return PriorityHigh, nil
	case "medium", "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("unknown priority %q", s)
	}
	if n < 0 || Priority(n) > MaxPriority {
		return 0, fmt.Errorf("priority %d out of range [0, %d]", n, MaxPriority)
	}
	return Priority(n), nil
}

// MarshalJSON encodes named ranks as strings and others as numbers.
func (p Priority) MarshalJSON() ([]byte, error) {
	if p <= PriorityLow && p >= PriorityEmergency {
		return json.Marshal(p.String())
	}
	return json.Marshal(int(p))
}

// UnmarshalJSON accepts either a string or a number.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := ParsePriority(s)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("priority must be a string or integer: %w", err)
	}
	v, err := ParsePriority(strconv.Itoa(n))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// TrainSpec is the static definition of one train in a case roster.
// Durations and times are in simulated minutes.
type TrainSpec struct {
	ID                   string   `json:"id"`
	Path                 []string `json:"path"`
	BaseSpeed            float64  `json:"baseSpeed"` // miles per hour
	Priority             Priority `json:"priority"`
	StartTime            float64  `json:"startTime"`
	PlatformHaltDuration float64  `json:"platformHaltDuration"`
	SidingHaltDuration   float64  `json:"sidingHaltDuration,omitempty"`
	BreakdownDuration    float64  `json:"breakdownDuration,omitempty"`
	Delay                float64  `json:"delay,omitempty"`
	Cargo                string   `json:"cargo,omitempty"`
}

// DepartureTime is the moment the start gate may fire.
func (t TrainSpec) DepartureTime() float64 {
	return t.StartTime + t.Delay
}
