package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestPriorityJSON(t *testing.T) {
	cases := []struct {
		in   string
		want Priority
	}{
		{`"high"`, PriorityHigh},
		{`"LOW"`, PriorityLow},
		{`"emergency"`, PriorityEmergency},
		{`""`, PriorityMedium},
		{`7`, Priority(7)},
		{`"4"`, Priority(4)},
	}
	for _, tc := range cases {
		var p Priority
		if err := json.Unmarshal([]byte(tc.in), &p); err != nil {
			t.Fatalf("Unmarshal(%s) error: %v", tc.in, err)
		}
		if p != tc.want {
			t.Fatalf("Unmarshal(%s)=%v, want %v", tc.in, p, tc.want)
		}
	}

	for _, bad := range []string{`"urgent"`, `11`, `-1`, `true`} {
		var p Priority
		if err := json.Unmarshal([]byte(bad), &p); err == nil {
			t.Fatalf("Unmarshal(%s) succeeded, want error", bad)
		}
	}

	out, err := json.Marshal(PriorityLow)
	if err != nil || string(out) != `"low"` {
		t.Fatalf("Marshal(low)=%s, %v", out, err)
	}
	out, err = json.Marshal(Priority(6))
	if err != nil || string(out) != `6` {
		t.Fatalf("Marshal(6)=%s, %v", out, err)
	}
}

func TestPriorityOrdering(t *testing.T) {
	if !PriorityHigh.Outranks(PriorityLow) {
		t.Fatalf("high should outrank low")
	}
	if PriorityLow.Outranks(PriorityLow) {
		t.Fatalf("a priority must not outrank itself")
	}
	if PriorityMedium.IsLow() || !PriorityLow.IsLow() || !Priority(5).IsLow() {
		t.Fatalf("IsLow threshold is wrong")
	}
}

func TestDepartureTimeIncludesDelay(t *testing.T) {
	spec := TrainSpec{StartTime: 2, Delay: 5}
	if got := spec.DepartureTime(); got != 7 {
		t.Fatalf("DepartureTime=%v, want 7", got)
	}
}

func TestLayoutLengthDefault(t *testing.T) {
	var l Layout
	if l.Length() != DefaultSectionLength {
		t.Fatalf("Length=%v, want %v", l.Length(), DefaultSectionLength)
	}
	l.SectionLength = 12
	if l.Length() != 12 {
		t.Fatalf("Length=%v, want 12", l.Length())
	}
	if l.Point("x") != nil || l.Track("x") != nil {
		t.Fatalf("lookups on empty layout should return nil")
	}
}

func validCase() *Case {
	return &Case{
		ID: "c1",
		Layout: Layout{
			Points: map[string]*Point{
				"A": {ID: "A", Mile: 0},
				"B": {ID: "B", Mile: 20, IsExit: true},
			},
			Tracks: map[string]*Track{
				"T1": {ID: "T1", From: "A", To: "B"},
			},
		},
		InitialTrains: []TrainSpec{
			{ID: "tr1", Path: []string{"T1"}, BaseSpeed: 60},
		},
	}
}

func TestValidateAcceptsWellFormedCase(t *testing.T) {
	if err := validCase().Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	c := validCase()
	c.Layout.Tracks["T2"] = &Track{ID: "T2", From: "B", To: "Z", ControlPoints: []ControlPoint{{PointID: "Q"}}}
	c.InitialTrains = append(c.InitialTrains,
		TrainSpec{ID: "tr1", Path: []string{"T9"}, BaseSpeed: 0},
		TrainSpec{ID: "tr3"},
	)
	c.Config.TrackClosure = "T7"

	err := c.Validate()
	if !errors.Is(err, ErrInvalidCase) {
		t.Fatalf("Validate error = %v, want ErrInvalidCase", err)
	}
	msg := err.Error()
	for _, want := range []string{
		`unknown point "Z"`,
		`unknown point "Q"`,
		`duplicate train id "tr1"`,
		`unknown track "T9"`,
		`"tr1" has non-positive base speed`,
		`"tr3" has an empty path`,
		`closure references unknown track "T7"`,
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("Validate error %q missing %q", msg, want)
		}
	}
}

func TestCaseTrainLookup(t *testing.T) {
	c := validCase()
	if _, ok := c.Train("tr1"); !ok {
		t.Fatalf("Train(tr1) not found")
	}
	if _, ok := c.Train("missing"); ok {
		t.Fatalf("Train(missing) found")
	}
}

func TestPointName(t *testing.T) {
	p := Point{ID: "J_W1"}
	if p.Name() != "J_W1" {
		t.Fatalf("Name=%q, want ID fallback", p.Name())
	}
	p.Label = "West Junction"
	if p.Name() != "West Junction" {
		t.Fatalf("Name=%q, want label", p.Name())
	}
}
