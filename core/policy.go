package core

import (
	"errors"
	"fmt"
	"time"
)

// Policy holds the tunable constants of the engine. Distances are in miles,
// durations expressed as float64 are simulated minutes.
type Policy struct {
	// TimeStep is the simulated time covered by one tick.
	TimeStep time.Duration

	// HeadwayMinutes is the nominal separation time; headway distance for a
	// train is the distance it covers at base speed in that time.
	HeadwayMinutes float64
	// StoppingFactor and SlowingFactor scale headway distance into the
	// stop and slow thresholds.
	StoppingFactor float64
	SlowingFactor  float64

	// SidingLookbehindFactor scales a low-priority train's slowing distance
	// into the range in which faster traffic behind it triggers a diversion.
	SidingLookbehindFactor float64
	// SidingCaptureMiles is how close to a siding point a train must be to
	// divert into it.
	SidingCaptureMiles float64
	DefaultSidingHalt  float64

	// ApprovalHalt is the pause at a decision point before a request is
	// raised.
	ApprovalHalt time.Duration

	PointTolerance    float64
	PlatformTolerance float64
	ExitTolerance     float64

	// BreakdownTrigger is the offset after departure at which a configured
	// breakdown begins.
	BreakdownTrigger float64
	// PunctualityGrace is how late a finished train may be and still count
	// as punctual. Moving trains whose accumulated delay exceeds it report
	// as delayed.
	PunctualityGrace float64
	UtilizationScale float64

	// PointSnapDistance is the layout-unit radius within which a point with
	// no explicit track list is attached to a track.
	PointSnapDistance float64
	MaxRouteOptions   int
}

// DefaultPolicy returns the stock tuning.
func DefaultPolicy() Policy {
	return Policy{
		TimeStep:               10 * time.Second,
		HeadwayMinutes:         5,
		StoppingFactor:         0.5,
		SlowingFactor:          1.5,
		SidingLookbehindFactor: 2,
		SidingCaptureMiles:     1,
		DefaultSidingHalt:      5,
		ApprovalHalt:           2 * time.Second,
		PointTolerance:         0.1,
		PlatformTolerance:      0.2,
		ExitTolerance:          0.5,
		BreakdownTrigger:       5,
		PunctualityGrace:       5,
		UtilizationScale:       1,
		PointSnapDistance:      30,
		MaxRouteOptions:        4,
	}
}

// StepMinutes is TimeStep in simulated minutes.
func (p Policy) StepMinutes() float64 {
	return p.TimeStep.Minutes()
}

// ApprovalHaltMinutes is ApprovalHalt in simulated minutes.
func (p Policy) ApprovalHaltMinutes() float64 {
	return p.ApprovalHalt.Minutes()
}

// HeadwayDistance is the distance a train at baseSpeed covers in the headway
// time.
func (p Policy) HeadwayDistance(baseSpeed float64) float64 {
	return p.HeadwayMinutes / 60 * baseSpeed
}

// StoppingDistance is the gap below which a trailing train must stand.
func (p Policy) StoppingDistance(baseSpeed float64) float64 {
	return p.HeadwayDistance(baseSpeed) * p.StoppingFactor
}

// SlowingDistance is the gap below which a trailing train eases off.
func (p Policy) SlowingDistance(baseSpeed float64) float64 {
	return p.HeadwayDistance(baseSpeed) * p.SlowingFactor
}

// Validate reports every inconsistent field, wrapped in ErrInvalidPolicy.
func (p Policy) Validate() error {
	var errs []error
	if p.TimeStep <= 0 {
		errs = append(errs, fmt.Errorf("time step must be positive, got %s", p.TimeStep))
	}
	if p.HeadwayMinutes <= 0 {
		errs = append(errs, fmt.Errorf("headway must be positive, got %g", p.HeadwayMinutes))
	}
	if p.StoppingFactor < 0 || p.SlowingFactor <= 0 {
		errs = append(errs, fmt.Errorf("stopping/slowing factors must be non-negative/positive, got %g/%g", p.StoppingFactor, p.SlowingFactor))
	}
	if p.StoppingFactor >= p.SlowingFactor {
		errs = append(errs, fmt.Errorf("stopping factor %g must be below slowing factor %g", p.StoppingFactor, p.SlowingFactor))
	}
	if p.SidingLookbehindFactor < 0 || p.SidingCaptureMiles < 0 || p.DefaultSidingHalt < 0 {
		errs = append(errs, errors.New("siding parameters must be non-negative"))
	}
	if p.ApprovalHalt < 0 {
		errs = append(errs, fmt.Errorf("approval halt must be non-negative, got %s", p.ApprovalHalt))
	}
	if p.PointTolerance < 0 || p.PlatformTolerance < 0 || p.ExitTolerance < 0 {
		errs = append(errs, errors.New("tolerances must be non-negative"))
	}
	if p.BreakdownTrigger < 0 || p.PunctualityGrace < 0 {
		errs = append(errs, errors.New("breakdown trigger and punctuality grace must be non-negative"))
	}
	if p.UtilizationScale <= 0 {
		errs = append(errs, fmt.Errorf("utilization scale must be positive, got %g", p.UtilizationScale))
	}
	if p.PointSnapDistance < 0 {
		errs = append(errs, fmt.Errorf("point snap distance must be non-negative, got %g", p.PointSnapDistance))
	}
	if p.MaxRouteOptions < 1 {
		errs = append(errs, fmt.Errorf("max route options must be at least 1, got %d", p.MaxRouteOptions))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidPolicy, errors.Join(errs...))
}
