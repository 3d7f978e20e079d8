package core

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/paulmach/orb"

	"github.com/signalsfoundry/railsection-simulator/model"
)

// LayoutIndex holds the lookups the engine needs every tick: track shapes,
// the points that lie on each track, exits and connectivity.
type LayoutIndex struct {
	layout *model.Layout
	length float64
	closed string

	shapes  map[string]orb.LineString
	onTrack map[string][]*model.Point
	exits   map[string]bool

	platforms  int
	openTracks int
	topo       *Topology
}

// NewLayoutIndex indexes a case layout.
//
// A point belongs to a track when it is listed in the point's Tracks, or
// (with no explicit list) when it is the track's endpoint or control point.
// Points that are not wired into any track are attached to every track that
// passes within snapDistance layout units.
func NewLayoutIndex(c *model.Case, snapDistance float64) *LayoutIndex {
	layout := &c.Layout
	ix := &LayoutIndex{
		layout:  layout,
		length:  layout.Length(),
		closed:  c.Config.TrackClosure,
		shapes:  make(map[string]orb.LineString, len(layout.Tracks)),
		onTrack: make(map[string][]*model.Point, len(layout.Tracks)),
		exits:   make(map[string]bool),
	}

	trackIDs := make([]string, 0, len(layout.Tracks))
	wired := make(map[string]bool)
	for id, tr := range layout.Tracks {
		if tr == nil {
			continue
		}
		trackIDs = append(trackIDs, id)
		ix.shapes[id] = trackShape(layout, tr)
		if id != ix.closed {
			ix.openTracks++
		}
		wired[tr.From], wired[tr.To] = true, true
		for _, cp := range tr.ControlPoints {
			if cp.PointID != "" {
				wired[cp.PointID] = true
			}
		}
	}
	sort.Strings(trackIDs)

	pointIDs := make([]string, 0, len(layout.Points))
	for id := range layout.Points {
		pointIDs = append(pointIDs, id)
	}
	sort.Strings(pointIDs)

	for _, pid := range pointIDs {
		p := layout.Points[pid]
		if p == nil {
			continue
		}
		if p.IsPlatform {
			ix.platforms++
		}
		if p.IsExit {
			ix.exits[pid] = true
		}
		for _, tid := range trackIDs {
			if ix.belongs(p, tid, wired[pid], snapDistance) {
				ix.onTrack[tid] = append(ix.onTrack[tid], p)
			}
		}
	}
	for _, pts := range ix.onTrack {
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].Mile < pts[j].Mile })
	}

	if len(ix.exits) == 0 {
		// Nothing flagged: every track end with no onward track is an exit.
		starts := make(map[string]bool)
		for _, tr := range layout.Tracks {
			if tr != nil {
				starts[tr.From] = true
			}
		}
		for _, tr := range layout.Tracks {
			if tr != nil && !starts[tr.To] {
				ix.exits[tr.To] = true
			}
		}
	}

	ix.topo = newTopology(layout, ix.closed)
	return ix
}

func (ix *LayoutIndex) belongs(p *model.Point, trackID string, wired bool, snap float64) bool {
	if len(p.Tracks) > 0 {
		return slices.Contains(p.Tracks, trackID)
	}
	tr := ix.layout.Tracks[trackID]
	if p.ID == tr.From || p.ID == tr.To {
		return true
	}
	for _, cp := range tr.ControlPoints {
		if cp.PointID == p.ID {
			return true
		}
	}
	if wired {
		return false
	}
	return distanceToShape(ix.shapes[trackID], orb.Point{p.X, p.Y}) <= snap
}

// Length is the section length in miles.
func (ix *LayoutIndex) Length() float64 { return ix.length }

// Topology exposes track connectivity.
func (ix *LayoutIndex) Topology() *Topology { return ix.topo }

// Track returns the track with the given ID, or nil.
func (ix *LayoutIndex) Track(id string) *model.Track { return ix.layout.Track(id) }

// Point returns the point with the given ID, or nil.
func (ix *LayoutIndex) Point(id string) *model.Point { return ix.layout.Point(id) }

// IsOpen reports whether the track exists and is not closed.
func (ix *LayoutIndex) IsOpen(trackID string) bool {
	return ix.layout.Track(trackID) != nil && trackID != ix.closed
}

// IsExit reports whether a point is a section exit.
func (ix *LayoutIndex) IsExit(pointID string) bool { return ix.exits[pointID] }

// PointsOn returns the points attached to a track, ordered by mile.
func (ix *LayoutIndex) PointsOn(trackID string) []*model.Point { return ix.onTrack[trackID] }

// Platforms is the number of platform points.
func (ix *LayoutIndex) Platforms() int { return ix.platforms }

// OpenTracks is the number of tracks not closed.
func (ix *LayoutIndex) OpenTracks() int { return ix.openTracks }

// Shape returns the polyline of a track.
func (ix *LayoutIndex) Shape(trackID string) orb.LineString { return ix.shapes[trackID] }

// progress converts a mile marker to progress in the given heading.
func (ix *LayoutIndex) progress(mile float64, westbound bool) float64 {
	if westbound {
		return ix.length - mile
	}
	return mile
}

// mile converts progress back to a mile marker.
func (ix *LayoutIndex) mile(progress float64, westbound bool) float64 {
	if progress < 0 {
		return NotEntered
	}
	return ix.progress(progress, westbound)
}

// trackSpan returns the start and end progress of a track for a heading.
func (ix *LayoutIndex) trackSpan(trackID string, westbound bool) (start, end float64, err error) {
	tr := ix.layout.Track(trackID)
	if tr == nil {
		return 0, 0, fmt.Errorf("unknown track %q", trackID)
	}
	from, to := ix.layout.Point(tr.From), ix.layout.Point(tr.To)
	if from == nil || to == nil {
		return 0, 0, fmt.Errorf("track %q has an unknown endpoint", trackID)
	}
	return ix.progress(from.Mile, westbound), ix.progress(to.Mile, westbound), nil
}

// westbound derives a route's heading from its entry and exit miles.
func (ix *LayoutIndex) westbound(route []string) bool {
	if len(route) == 0 {
		return false
	}
	first, last := ix.layout.Track(route[0]), ix.layout.Track(route[len(route)-1])
	if first == nil || last == nil {
		return false
	}
	entry, exit := ix.layout.Point(first.From), ix.layout.Point(last.To)
	if entry == nil || exit == nil {
		return false
	}
	return exit.Mile < entry.Mile
}

// ValidatePath checks that a route is non-empty, uses only open tracks and
// is contiguous.
func (ix *LayoutIndex) ValidatePath(route []string) error {
	if len(route) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	for i, id := range route {
		if ix.layout.Track(id) == nil {
			return fmt.Errorf("%w: unknown track %q", ErrInvalidPath, id)
		}
		if id == ix.closed {
			return fmt.Errorf("%w: track %q is closed", ErrInvalidPath, id)
		}
		if i > 0 && !ix.topo.Connected(route[i-1], id) {
			return fmt.Errorf("%w: track %q does not follow %q", ErrInvalidPath, id, route[i-1])
		}
	}
	return nil
}

// keepsHeading reports whether every track of route runs in the given
// heading. Progress is monotone along a route only when this holds.
func (ix *LayoutIndex) keepsHeading(route []string, westbound bool) bool {
	for _, id := range route {
		start, end, err := ix.trackSpan(id, westbound)
		if err != nil || end < start {
			return false
		}
	}
	return true
}

// RouteOptions lists the routes a train may take from its current track:
// its remaining path first, then the shortest exit-bound route through
// each other successor, keeping the train's heading and never revisiting a
// point.
func (ix *LayoutIndex) RouteOptions(t *TrainState, limit int) [][]string {
	var options [][]string
	if t.CurrentPathIndex < len(t.Path) {
		options = append(options, slices.Clone(t.Path[t.CurrentPathIndex:]))
	}
	tr := ix.layout.Track(t.Track)
	if tr == nil || len(t.Path) == 0 {
		return options
	}
	entryMile := math.NaN()
	if first := ix.layout.Track(t.Path[0]); first != nil {
		if p := ix.layout.Point(first.From); p != nil {
			entryMile = p.Mile
		}
	}
	goal := func(trackID string) bool {
		cand := ix.layout.Track(trackID)
		if cand == nil || !ix.exits[cand.To] {
			return false
		}
		exit := ix.layout.Point(cand.To)
		if exit == nil || math.IsNaN(entryMile) {
			return false
		}
		if t.Westbound {
			return exit.Mile < entryMile
		}
		return exit.Mile > entryMile
	}

	for _, next := range ix.topo.Successors(t.Track) {
		if len(options) >= limit {
			break
		}
		suffix := ix.topo.ShortestTo(next, goal)
		if suffix == nil {
			continue
		}
		route := append([]string{t.Track}, suffix...)
		if ix.revisits(route) || containsRoute(options, route) {
			continue
		}
		options = append(options, route)
	}
	return options
}

func (ix *LayoutIndex) revisits(route []string) bool {
	seen := make(map[string]bool, len(route)+1)
	for i, id := range route {
		tr := ix.layout.Tracks[id]
		if i == 0 {
			seen[tr.From] = true
		}
		if seen[tr.To] {
			return true
		}
		seen[tr.To] = true
	}
	return false
}

func containsRoute(options [][]string, route []string) bool {
	for _, o := range options {
		if slices.Equal(o, route) {
			return true
		}
	}
	return false
}

// locate returns layout coordinates for a train.
func (ix *LayoutIndex) locate(t *TrainState) (float64, float64) {
	tr := ix.layout.Track(t.Track)
	if tr == nil {
		return 0, 0
	}
	shape := ix.shapes[t.Track]
	if len(shape) == 0 {
		return 0, 0
	}
	if !t.Entered() {
		return shape[0][0], shape[0][1]
	}
	start, end, err := ix.trackSpan(t.Track, t.Westbound)
	if err != nil {
		return shape[0][0], shape[0][1]
	}
	f := 0.0
	if end > start {
		f = (t.Position - start) / (end - start)
	}
	p := interpolate(shape, f)
	return p[0], p[1]
}
