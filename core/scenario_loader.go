// core/scenario_loader.go
package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/signalsfoundry/railsection-simulator/model"
)

// internal JSON shapes: a track names its endpoints as a two-element
// "points" array and its control points either by point ID or inline.
type caseJSON struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	SectionID     string                 `json:"sectionId"`
	Layout        layoutJSON             `json:"layout"`
	InitialTrains []model.TrainSpec      `json:"initialTrains"`
	Config        model.CaseConfig       `json:"config"`
	Metrics       model.ReferenceMetrics `json:"metrics"`
}

type layoutJSON struct {
	SectionLength float64              `json:"sectionLength"`
	Points        map[string]pointJSON `json:"points"`
	Tracks        map[string]trackJSON `json:"tracks"`
}

type pointJSON struct {
	X               float64  `json:"x"`
	Y               float64  `json:"y"`
	Mile            float64  `json:"mile"`
	Label           string   `json:"label"`
	IsPlatform      bool     `json:"isPlatform"`
	IsDecisionPoint bool     `json:"isDecisionPoint"`
	IsSiding        bool     `json:"isSiding"`
	IsExit          bool     `json:"isExit"`
	Tracks          []string `json:"tracks"`
}

type trackJSON struct {
	Points        []string           `json:"points"`
	ControlPoints []controlPointJSON `json:"controlPoints"`
}

type controlPointJSON struct {
	ref  string
	x, y float64
}

func (c *controlPointJSON) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.ref)
	}
	var inline struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.Unmarshal(data, &inline); err != nil {
		return fmt.Errorf("control point must be a point id or {x,y}: %w", err)
	}
	c.x, c.y = inline.X, inline.Y
	return nil
}

func (c controlPointJSON) MarshalJSON() ([]byte, error) {
	if c.ref != "" {
		return json.Marshal(c.ref)
	}
	return json.Marshal(struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}{c.x, c.y})
}

// LoadCase decodes one case definition from r.
//
// It fails only on JSON or structural errors (a track without exactly two
// endpoints). Dangling references are left for Case.Validate and the
// engine to report.
func LoadCase(r io.Reader) (*model.Case, error) {
	var payload caseJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadCase: decode failed: %w", err)
	}
	if strings.TrimSpace(payload.ID) == "" {
		return nil, fmt.Errorf("LoadCase: case id is required")
	}

	c := &model.Case{
		ID:            payload.ID,
		Name:          payload.Name,
		Description:   payload.Description,
		SectionID:     payload.SectionID,
		InitialTrains: payload.InitialTrains,
		Config:        payload.Config,
		Reference:     payload.Metrics,
		Layout: model.Layout{
			SectionLength: payload.Layout.SectionLength,
			Points:        make(map[string]*model.Point, len(payload.Layout.Points)),
			Tracks:        make(map[string]*model.Track, len(payload.Layout.Tracks)),
		},
	}

	for id, p := range payload.Layout.Points {
		c.Layout.Points[id] = &model.Point{
			ID:              id,
			X:               p.X,
			Y:               p.Y,
			Mile:            p.Mile,
			Label:           p.Label,
			IsPlatform:      p.IsPlatform,
			IsDecisionPoint: p.IsDecisionPoint,
			IsSiding:        p.IsSiding,
			IsExit:          p.IsExit,
			Tracks:          p.Tracks,
		}
	}
	for id, tr := range payload.Layout.Tracks {
		if len(tr.Points) != 2 {
			return nil, fmt.Errorf("LoadCase: track %q must list exactly two points, got %d", id, len(tr.Points))
		}
		track := &model.Track{ID: id, From: tr.Points[0], To: tr.Points[1]}
		for _, cp := range tr.ControlPoints {
			track.ControlPoints = append(track.ControlPoints, model.ControlPoint{PointID: cp.ref, X: cp.x, Y: cp.y})
		}
		c.Layout.Tracks[id] = track
	}
	return c, nil
}

// LoadCaseFile reads a case from a JSON file.
func LoadCaseFile(path string) (*model.Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c, err := LoadCase(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// LoadCasesFromDir reads every *.json file in dir, in name order.
func LoadCasesFromDir(dir string) ([]*model.Case, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	cases := make([]*model.Case, 0, len(matches))
	for _, path := range matches {
		c, err := LoadCaseFile(path)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, nil
}

// EncodeCase writes c in the format LoadCase reads.
func EncodeCase(w io.Writer, c *model.Case) error {
	if c == nil {
		return fmt.Errorf("EncodeCase: case is nil")
	}
	payload := caseJSON{
		ID:            c.ID,
		Name:          c.Name,
		Description:   c.Description,
		SectionID:     c.SectionID,
		InitialTrains: c.InitialTrains,
		Config:        c.Config,
		Metrics:       c.Reference,
		Layout: layoutJSON{
			SectionLength: c.Layout.SectionLength,
			Points:        make(map[string]pointJSON, len(c.Layout.Points)),
			Tracks:        make(map[string]trackJSON, len(c.Layout.Tracks)),
		},
	}
	for id, p := range c.Layout.Points {
		if p == nil {
			continue
		}
		payload.Layout.Points[id] = pointJSON{
			X:               p.X,
			Y:               p.Y,
			Mile:            p.Mile,
			Label:           p.Label,
			IsPlatform:      p.IsPlatform,
			IsDecisionPoint: p.IsDecisionPoint,
			IsSiding:        p.IsSiding,
			IsExit:          p.IsExit,
			Tracks:          p.Tracks,
		}
	}
	for id, tr := range c.Layout.Tracks {
		if tr == nil {
			continue
		}
		tj := trackJSON{Points: []string{tr.From, tr.To}}
		for _, cp := range tr.ControlPoints {
			tj.ControlPoints = append(tj.ControlPoints, controlPointJSON{ref: cp.PointID, x: cp.X, y: cp.Y})
		}
		payload.Layout.Tracks[id] = tj
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
