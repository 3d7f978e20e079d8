package core

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/signalsfoundry/railsection-simulator/model"
)

// Topology is the track-to-track connectivity of a layout. Each node is a
// track; an edge a->b exists when b starts where a ends and neither is
// closed. Edge weight is the mile length of the track being entered.
type Topology struct {
	g      *simple.WeightedDirectedGraph
	ids    map[string]int64
	tracks []string
	layout *model.Layout
}

func newTopology(layout *model.Layout, closed string) *Topology {
	t := &Topology{
		g:      simple.NewWeightedDirectedGraph(0, math.Inf(1)),
		ids:    make(map[string]int64, len(layout.Tracks)),
		layout: layout,
	}
	for id := range layout.Tracks {
		t.tracks = append(t.tracks, id)
	}
	sort.Strings(t.tracks)
	for i, id := range t.tracks {
		t.ids[id] = int64(i)
		t.g.AddNode(simple.Node(i))
	}

	byFrom := make(map[string][]string)
	for _, id := range t.tracks {
		tr := layout.Tracks[id]
		if tr == nil || id == closed {
			continue
		}
		byFrom[tr.From] = append(byFrom[tr.From], id)
	}
	for _, id := range t.tracks {
		tr := layout.Tracks[id]
		if tr == nil || id == closed {
			continue
		}
		for _, next := range byFrom[tr.To] {
			if next == id {
				continue
			}
			t.g.SetWeightedEdge(simple.WeightedEdge{
				F: simple.Node(t.ids[id]),
				T: simple.Node(t.ids[next]),
				W: t.trackMiles(next),
			})
		}
	}
	return t
}

func (t *Topology) trackMiles(id string) float64 {
	tr := t.layout.Track(id)
	if tr == nil {
		return 0
	}
	from, to := t.layout.Point(tr.From), t.layout.Point(tr.To)
	if from == nil || to == nil {
		return 0
	}
	return math.Abs(to.Mile - from.Mile)
}

// Successors returns the tracks a train may enter after trackID, sorted.
func (t *Topology) Successors(trackID string) []string {
	id, ok := t.ids[trackID]
	if !ok {
		return nil
	}
	var out []string
	it := t.g.From(id)
	for it.Next() {
		out = append(out, t.tracks[it.Node().ID()])
	}
	sort.Strings(out)
	return out
}

// Connected reports whether b may directly follow a.
func (t *Topology) Connected(a, b string) bool {
	ia, okA := t.ids[a]
	ib, okB := t.ids[b]
	if !okA || !okB {
		return false
	}
	return t.g.HasEdgeFromTo(ia, ib)
}

// ShortestTo returns the lightest route that starts with from and ends with
// any track accepted by goal, or nil when none is reachable.
func (t *Topology) ShortestTo(from string, goal func(trackID string) bool) []string {
	id, ok := t.ids[from]
	if !ok {
		return nil
	}
	if goal(from) {
		return []string{from}
	}
	tree := path.DijkstraFrom(simple.Node(id), t.g)

	var best []graph.Node
	bestW := math.Inf(1)
	for _, cand := range t.tracks {
		if cand == from || !goal(cand) {
			continue
		}
		nodes, w := tree.To(t.ids[cand])
		if len(nodes) == 0 || w >= bestW {
			continue
		}
		best, bestW = nodes, w
	}
	if best == nil {
		return nil
	}
	out := make([]string, len(best))
	for i, n := range best {
		out[i] = t.tracks[n.ID()]
	}
	return out
}
