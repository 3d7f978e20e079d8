package model

// DefaultSectionLength is the nominal section length in miles used when a
// layout does not declare one.
const DefaultSectionLength = 20.0

// Point is a named location on the section layout.
//
// X/Y are layout (drawing) coordinates; Mile is the mile marker along the
// section. The flags mark which engine rules apply when a train reaches the
// point.
type Point struct {
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Mile  float64 `json:"mile"`
	Label string  `json:"label,omitempty"`

	IsPlatform      bool `json:"isPlatform,omitempty"`
	IsDecisionPoint bool `json:"isDecisionPoint,omitempty"`
	IsSiding        bool `json:"isSiding,omitempty"`
	IsExit          bool `json:"isExit,omitempty"`

	// Tracks optionally pins the point to specific tracks. When empty the
	// point belongs to every track it terminates, shapes, or lies on.
	Tracks []string `json:"tracks,omitempty"`
}

// Name returns the label when set, otherwise the point ID.
func (p Point) Name() string {
	if p.Label != "" {
		return p.Label
	}
	return p.ID
}

// ControlPoint shapes a curved track. It either references a layout point
// or carries inline coordinates.
type ControlPoint struct {
	PointID string  `json:"pointId,omitempty"`
	X       float64 `json:"x,omitempty"`
	Y       float64 `json:"y,omitempty"`
}

// Track is a directed segment between two layout points.
type Track struct {
	ID            string         `json:"id"`
	From          string         `json:"from"`
	To            string         `json:"to"`
	ControlPoints []ControlPoint `json:"controlPoints,omitempty"`
}

// Layout is the static topology of a section.
type Layout struct {
	SectionLength float64           `json:"sectionLength,omitempty"`
	Points        map[string]*Point `json:"points"`
	Tracks        map[string]*Track `json:"tracks"`
}

// Length returns the nominal section length in miles.
func (l *Layout) Length() float64 {
	if l == nil || l.SectionLength <= 0 {
		return DefaultSectionLength
	}
	return l.SectionLength
}

// Point returns the point with the given ID, or nil.
func (l *Layout) Point(id string) *Point {
	if l == nil {
		return nil
	}
	return l.Points[id]
}

// Track returns the track with the given ID, or nil.
func (l *Layout) Track(id string) *Track {
	if l == nil {
		return nil
	}
	return l.Tracks[id]
}
