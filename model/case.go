package model

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidCase wraps every validation failure reported by Case.Validate.
var ErrInvalidCase = errors.New("invalid case definition")

// CaseConfig holds scenario-wide tuning.
type CaseConfig struct {
	// WeatherFactor multiplies nominal speeds. Zero means 1.0.
	WeatherFactor float64 `json:"weatherFactor,omitempty"`
	// TrackClosure names a track that no train may enter.
	TrackClosure string `json:"trackClosure,omitempty"`
}

// Weather returns the effective weather multiplier.
func (c CaseConfig) Weather() float64 {
	if c.WeatherFactor <= 0 {
		return 1
	}
	return c.WeatherFactor
}

// ReferenceMetrics are the headline figures a scenario is expected to hit.
type ReferenceMetrics struct {
	Throughput float64 `json:"throughput"`
	AvgDelay   float64 `json:"avgDelay"`
}

// Case is an immutable scenario: a section layout, its train roster and
// configuration.
type Case struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	SectionID     string           `json:"sectionId,omitempty"`
	Layout        Layout           `json:"layout"`
	InitialTrains []TrainSpec      `json:"initialTrains"`
	Config        CaseConfig       `json:"config"`
	Reference     ReferenceMetrics `json:"metrics"`
}

// Validate checks referential integrity of the case: every path entry must
// name a track and every track endpoint or referenced control point must
// name a point. All problems are reported together.
func (c *Case) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: case is nil", ErrInvalidCase)
	}
	var errs []error
	if c.ID == "" {
		errs = append(errs, errors.New("case id is empty"))
	}

	trackIDs := make([]string, 0, len(c.Layout.Tracks))
	for id := range c.Layout.Tracks {
		trackIDs = append(trackIDs, id)
	}
	sort.Strings(trackIDs)
	for _, id := range trackIDs {
		tr := c.Layout.Tracks[id]
		if tr == nil {
			errs = append(errs, fmt.Errorf("track %q is nil", id))
			continue
		}
		for _, pid := range []string{tr.From, tr.To} {
			if c.Layout.Point(pid) == nil {
				errs = append(errs, fmt.Errorf("track %q references unknown point %q", id, pid))
			}
		}
		for _, cp := range tr.ControlPoints {
			if cp.PointID != "" && c.Layout.Point(cp.PointID) == nil {
				errs = append(errs, fmt.Errorf("track %q control point references unknown point %q", id, cp.PointID))
			}
		}
	}

	seen := make(map[string]bool, len(c.InitialTrains))
	for _, t := range c.InitialTrains {
		if t.ID == "" {
			errs = append(errs, errors.New("train with empty id"))
			continue
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Errorf("duplicate train id %q", t.ID))
		}
		seen[t.ID] = true
		if len(t.Path) == 0 {
			errs = append(errs, fmt.Errorf("train %q has an empty path", t.ID))
		}
		if t.BaseSpeed <= 0 {
			errs = append(errs, fmt.Errorf("train %q has non-positive base speed", t.ID))
		}
		for _, tid := range t.Path {
			if c.Layout.Track(tid) == nil {
				errs = append(errs, fmt.Errorf("train %q path references unknown track %q", t.ID, tid))
			}
		}
	}

	if c.Config.TrackClosure != "" && c.Layout.Track(c.Config.TrackClosure) == nil {
		errs = append(errs, fmt.Errorf("closure references unknown track %q", c.Config.TrackClosure))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: case %q: %w", ErrInvalidCase, c.ID, errors.Join(errs...))
}

// Train returns the roster entry with the given ID.
func (c *Case) Train(id string) (TrainSpec, bool) {
	for _, t := range c.InitialTrains {
		if t.ID == id {
			return t, true
		}
	}
	return TrainSpec{}, false
}
