package core

import (
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/signalsfoundry/railsection-simulator/model"
)

func almostEqual(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func shapeLayout() *model.Layout {
	return &model.Layout{
		Points: map[string]*model.Point{
			"A": {ID: "A", X: 0, Y: 0},
			"B": {ID: "B", X: 100, Y: 0},
			"C": {ID: "C", X: 50, Y: 100},
		},
		Tracks: map[string]*model.Track{},
	}
}

func TestTrackShapeStraight(t *testing.T) {
	l := shapeLayout()
	ls := trackShape(l, &model.Track{ID: "T", From: "A", To: "B"})
	if len(ls) != 2 {
		t.Fatalf("straight track has %d vertices, want 2", len(ls))
	}
	mid := interpolate(ls, 0.5)
	if !almostEqual(mid[0], 50, 1e-9) || !almostEqual(mid[1], 0, 1e-9) {
		t.Fatalf("midpoint=%v, want (50,0)", mid)
	}
}

func TestTrackShapeQuadraticUsesControlPoint(t *testing.T) {
	l := shapeLayout()
	ls := trackShape(l, &model.Track{ID: "T", From: "A", To: "B", ControlPoints: []model.ControlPoint{{PointID: "C"}}})
	if len(ls) != curveSamples+1 {
		t.Fatalf("curved track has %d vertices, want %d", len(ls), curveSamples+1)
	}
	if ls[0] != (orb.Point{0, 0}) || ls[len(ls)-1] != (orb.Point{100, 0}) {
		t.Fatalf("curve endpoints = %v, %v", ls[0], ls[len(ls)-1])
	}
	// The apex of a quadratic bezier is halfway to its control point.
	apex := ls[curveSamples/2]
	if !almostEqual(apex[0], 50, 1e-9) || !almostEqual(apex[1], 50, 1e-9) {
		t.Fatalf("apex=%v, want (50,50)", apex)
	}
}

func TestTrackShapeInlineCubic(t *testing.T) {
	l := shapeLayout()
	tr := &model.Track{ID: "T", From: "A", To: "B", ControlPoints: []model.ControlPoint{
		{X: 0, Y: 100},
		{X: 100, Y: 100},
	}}
	ls := trackShape(l, tr)
	mid := ls[curveSamples/2]
	if !almostEqual(mid[0], 50, 1e-9) || !almostEqual(mid[1], 75, 1e-9) {
		t.Fatalf("cubic midpoint=%v, want (50,75)", mid)
	}
}

func TestTrackShapeMissingEndpoint(t *testing.T) {
	l := shapeLayout()
	if ls := trackShape(l, &model.Track{ID: "T", From: "A", To: "Z"}); ls != nil {
		t.Fatalf("expected nil shape for dangling endpoint, got %v", ls)
	}
}

func TestInterpolateClampsFraction(t *testing.T) {
	ls := orb.LineString{{0, 0}, {10, 0}, {10, 10}}
	if p := interpolate(ls, -1); p != (orb.Point{0, 0}) {
		t.Fatalf("interpolate(-1)=%v", p)
	}
	if p := interpolate(ls, 2); p != (orb.Point{10, 10}) {
		t.Fatalf("interpolate(2)=%v", p)
	}
	p := interpolate(ls, 0.75)
	if !almostEqual(p[0], 10, 1e-9) || !almostEqual(p[1], 5, 1e-9) {
		t.Fatalf("interpolate(0.75)=%v, want (10,5)", p)
	}
}

func TestDistanceToShape(t *testing.T) {
	ls := orb.LineString{{0, 0}, {100, 0}}
	if d := distanceToShape(ls, orb.Point{50, 20}); !almostEqual(d, 20, 1e-9) {
		t.Fatalf("distance=%v, want 20", d)
	}
	if d := distanceToShape(nil, orb.Point{0, 0}); !math.IsInf(d, 1) {
		t.Fatalf("distance to empty shape=%v, want +Inf", d)
	}
}
