package core

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/signalsfoundry/railsection-simulator/model"
)

// curveSamples is the number of segments used to flatten a curved track.
const curveSamples = 16

// trackShape returns the drawn polyline of a track in layout coordinates.
//
// No control points gives a straight segment, one a quadratic bezier, two a
// cubic bezier. More than two are joined as a polyline through each control
// point.
func trackShape(layout *model.Layout, tr *model.Track) orb.LineString {
	from := layout.Point(tr.From)
	to := layout.Point(tr.To)
	if from == nil || to == nil {
		return nil
	}
	start := orb.Point{from.X, from.Y}
	end := orb.Point{to.X, to.Y}

	ctrl := make([]orb.Point, 0, len(tr.ControlPoints))
	for _, cp := range tr.ControlPoints {
		if cp.PointID != "" {
			if p := layout.Point(cp.PointID); p != nil {
				ctrl = append(ctrl, orb.Point{p.X, p.Y})
			}
			continue
		}
		ctrl = append(ctrl, orb.Point{cp.X, cp.Y})
	}

	switch len(ctrl) {
	case 0:
		return orb.LineString{start, end}
	case 1:
		return sampleCurve(func(t float64) orb.Point {
			return quadratic(start, ctrl[0], end, t)
		})
	case 2:
		return sampleCurve(func(t float64) orb.Point {
			return cubic(start, ctrl[0], ctrl[1], end, t)
		})
	default:
		ls := orb.LineString{start}
		ls = append(ls, ctrl...)
		return append(ls, end)
	}
}

func sampleCurve(at func(t float64) orb.Point) orb.LineString {
	ls := make(orb.LineString, 0, curveSamples+1)
	for i := 0; i <= curveSamples; i++ {
		ls = append(ls, at(float64(i)/curveSamples))
	}
	return ls
}

func quadratic(p0, p1, p2 orb.Point, t float64) orb.Point {
	u := 1 - t
	return orb.Point{
		u*u*p0[0] + 2*u*t*p1[0] + t*t*p2[0],
		u*u*p0[1] + 2*u*t*p1[1] + t*t*p2[1],
	}
}

func cubic(p0, p1, p2, p3 orb.Point, t float64) orb.Point {
	u := 1 - t
	a, b, c, d := u*u*u, 3*u*u*t, 3*u*t*t, t*t*t
	return orb.Point{
		a*p0[0] + b*p1[0] + c*p2[0] + d*p3[0],
		a*p0[1] + b*p1[1] + c*p2[1] + d*p3[1],
	}
}

// interpolate returns the point at fraction f (0..1) of the polyline's
// planar length.
func interpolate(ls orb.LineString, f float64) orb.Point {
	switch len(ls) {
	case 0:
		return orb.Point{}
	case 1:
		return ls[0]
	}
	f = math.Max(0, math.Min(1, f))
	target := planar.Length(ls) * f
	walked := 0.0
	for i := 1; i < len(ls); i++ {
		seg := planar.Distance(ls[i-1], ls[i])
		if walked+seg >= target && seg > 0 {
			r := (target - walked) / seg
			return orb.Point{
				ls[i-1][0] + (ls[i][0]-ls[i-1][0])*r,
				ls[i-1][1] + (ls[i][1]-ls[i-1][1])*r,
			}
		}
		walked += seg
	}
	return ls[len(ls)-1]
}

// distanceToShape is the planar distance from p to the nearest point of ls.
func distanceToShape(ls orb.LineString, p orb.Point) float64 {
	if len(ls) == 0 {
		return math.Inf(1)
	}
	return planar.DistanceFrom(ls, p)
}
