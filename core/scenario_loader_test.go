package core

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/signalsfoundry/railsection-simulator/kb"
	"github.com/signalsfoundry/railsection-simulator/model"
)

const loopCaseJSON = `
{
  "id": "loop",
  "name": "Loop",
  "sectionId": "TEST",
  "layout": {
    "points": {
      "A":  { "x": 0,   "y": 0,  "mile": 0 },
      "K":  { "x": 250, "y": 80, "mile": 5 },
      "B":  { "x": 500, "y": 0,  "mile": 10, "label": "Jn", "isDecisionPoint": true },
      "C":  { "x": 1000, "y": 0, "mile": 20, "isExit": true },
      "PF": { "x": 750, "y": 0,  "mile": 15, "label": "PF1", "isPlatform": true, "tracks": ["T2"] }
    },
    "tracks": {
      "T1": { "points": ["A", "B"], "controlPoints": ["K"] },
      "T2": { "points": ["B", "C"], "controlPoints": [{ "x": 750, "y": -40 }] }
    }
  },
  "initialTrains": [
    { "id": "X1", "path": ["T1", "T2"], "baseSpeed": 80, "priority": "high", "startTime": 1, "platformHaltDuration": 2 },
    { "id": "X2", "path": ["T1", "T2"], "baseSpeed": 40, "priority": 3, "startTime": 3, "platformHaltDuration": 0, "cargo": "grain" }
  ],
  "config": { "weatherFactor": 0.8 },
  "metrics": { "throughput": 2, "avgDelay": 1.5 }
}`

func TestLoadCase(t *testing.T) {
	c, err := LoadCase(strings.NewReader(loopCaseJSON))
	if err != nil {
		t.Fatalf("LoadCase error: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("loaded case invalid: %v", err)
	}
	if c.ID != "loop" || c.SectionID != "TEST" || len(c.InitialTrains) != 2 {
		t.Fatalf("unexpected case header %+v", c)
	}
	if c.Layout.Length() != model.DefaultSectionLength {
		t.Fatalf("section length=%v, want default", c.Layout.Length())
	}

	b := c.Layout.Points["B"]
	if b == nil || b.ID != "B" || !b.IsDecisionPoint || b.Name() != "Jn" {
		t.Fatalf("point B=%+v", b)
	}
	if pf := c.Layout.Points["PF"]; !reflect.DeepEqual(pf.Tracks, []string{"T2"}) {
		t.Fatalf("PF tracks=%v", pf.Tracks)
	}

	t1 := c.Layout.Tracks["T1"]
	if t1.From != "A" || t1.To != "B" || len(t1.ControlPoints) != 1 || t1.ControlPoints[0].PointID != "K" {
		t.Fatalf("T1=%+v", t1)
	}
	t2 := c.Layout.Tracks["T2"]
	if len(t2.ControlPoints) != 1 || t2.ControlPoints[0] != (model.ControlPoint{X: 750, Y: -40}) {
		t.Fatalf("T2 control points=%+v", t2.ControlPoints)
	}

	x2, ok := c.Train("X2")
	if !ok || x2.Priority != model.PriorityLow || x2.Cargo != "grain" {
		t.Fatalf("X2=%+v", x2)
	}
	if c.Config.Weather() != 0.8 || c.Reference.AvgDelay != 1.5 {
		t.Fatalf("config=%+v reference=%+v", c.Config, c.Reference)
	}
}

func TestLoadedCaseRuns(t *testing.T) {
	c, err := LoadCase(strings.NewReader(loopCaseJSON))
	if err != nil {
		t.Fatalf("LoadCase error: %v", err)
	}
	e := newTestEngine(t, c)
	res := run(t, e, e.Initial(), 2000, nil)
	if !allDone(res.final) {
		t.Fatalf("loaded case did not complete in %d ticks", res.ticks)
	}
	for _, tr := range res.final.Trains {
		if !tr.Finished() {
			t.Fatalf("train %s ended as %s (%s)", tr.ID, tr.Status, tr.Fault)
		}
	}
	if countEvents(res.events, EventApprovalRaised, "") < 4 {
		t.Fatalf("expected start and junction requests for both trains")
	}
}

func TestLoadCaseErrors(t *testing.T) {
	cases := map[string]string{
		"malformed":    `{"id": `,
		"missing id":   `{"name": "x", "layout": {"points": {}, "tracks": {}}}`,
		"one endpoint": `{"id": "x", "layout": {"points": {"A": {}}, "tracks": {"T": {"points": ["A"]}}}}`,
		"bad control":  `{"id": "x", "layout": {"points": {}, "tracks": {"T": {"points": ["A","B"], "controlPoints": [7]}}}}`,
		"bad priority": `{"id": "x", "initialTrains": [{"id": "t", "priority": "urgent"}]}`,
	}
	for name, doc := range cases {
		if _, err := LoadCase(strings.NewReader(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEncodeCaseRoundTripsBuiltins(t *testing.T) {
	for _, c := range kb.BuiltinCases() {
		var buf bytes.Buffer
		if err := EncodeCase(&buf, c); err != nil {
			t.Fatalf("%s: EncodeCase error: %v", c.ID, err)
		}
		got, err := LoadCase(&buf)
		if err != nil {
			t.Fatalf("%s: LoadCase error: %v", c.ID, err)
		}
		if !reflect.DeepEqual(got, c) {
			t.Fatalf("%s: round trip changed the case", c.ID)
		}
	}
	if err := EncodeCase(&bytes.Buffer{}, nil); err == nil {
		t.Fatalf("expected error encoding nil case")
	}
}

func TestLoadCasesFromDir(t *testing.T) {
	dir := t.TempDir()
	for _, id := range []string{"case4", "case1"} {
		var buf bytes.Buffer
		if err := EncodeCase(&buf, builtin(t, id)); err != nil {
			t.Fatalf("EncodeCase: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, id+".json"), buf.Bytes(), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cases, err := LoadCasesFromDir(dir)
	if err != nil {
		t.Fatalf("LoadCasesFromDir error: %v", err)
	}
	if len(cases) != 2 || cases[0].ID != "case1" || cases[1].ID != "case4" {
		t.Fatalf("loaded %d cases in unexpected order", len(cases))
	}

	if err := os.WriteFile(filepath.Join(dir, "zz.json"), []byte("{"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadCasesFromDir(dir); err == nil || !strings.Contains(err.Error(), "zz.json") {
		t.Fatalf("expected error naming zz.json, got %v", err)
	}
}
