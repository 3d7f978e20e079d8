package kb

import (
	"github.com/signalsfoundry/railsection-simulator/model"
)

// SectionID is the controller section every built-in case belongs to.
const SectionID = "SBC-MYS"

type pointOpt func(*model.Point)

func labelled(l string) pointOpt { return func(p *model.Point) { p.Label = l } }

func platform(l string) pointOpt {
	return func(p *model.Point) {
		p.Label = l
		p.IsPlatform = true
	}
}

func decision(p *model.Point) { p.IsDecisionPoint = true }
func exit(p *model.Point)     { p.IsExit = true }

func siding(tracks ...string) pointOpt {
	return func(p *model.Point) {
		p.IsSiding = true
		p.Tracks = tracks
	}
}

type layoutBuilder struct {
	l model.Layout
}

func newLayout() *layoutBuilder {
	return &layoutBuilder{l: model.Layout{
		SectionLength: model.DefaultSectionLength,
		Points:        make(map[string]*model.Point),
		Tracks:        make(map[string]*model.Track),
	}}
}

func (b *layoutBuilder) point(id string, x, y, mile float64, opts ...pointOpt) *layoutBuilder {
	p := &model.Point{ID: id, X: x, Y: y, Mile: mile}
	for _, opt := range opts {
		opt(p)
	}
	b.l.Points[id] = p
	return b
}

// track adds a track; control points given as strings reference layout
// points, model.ControlPoint values are taken as is.
func (b *layoutBuilder) track(id, from, to string, controls ...any) *layoutBuilder {
	tr := &model.Track{ID: id, From: from, To: to}
	for _, c := range controls {
		switch v := c.(type) {
		case string:
			tr.ControlPoints = append(tr.ControlPoints, model.ControlPoint{PointID: v})
		case model.ControlPoint:
			tr.ControlPoints = append(tr.ControlPoints, v)
		}
	}
	b.l.Tracks[id] = tr
	return b
}

func (b *layoutBuilder) build() model.Layout { return b.l }

// fourTrackLayout is two eastbound and two westbound running lines through
// a four-platform station with a passing siding east of it.
func fourTrackLayout() model.Layout {
	return newLayout().
		point("W0", 50, 100, 0).point("E0", 1150, 100, 20, exit).
		point("W1", 50, 150, 0).point("E1", 1150, 150, 20, exit).
		point("W2", 50, 200, 0, exit).point("E2", 1150, 200, 20).
		point("W3", 50, 250, 0, exit).point("E3", 1150, 250, 20).
		point("P1", 600, 100, 10, platform("P1")).
		point("P2", 600, 150, 10, platform("P2")).
		point("P3", 600, 200, 10, platform("P3")).
		point("P4", 600, 250, 10, platform("P4")).
		point("S_EB", 750, 175, 12, labelled("S"), siding("T1", "T2")).
		track("T1", "W0", "E0").
		track("T2", "W1", "E1").
		track("T3", "E2", "W2").
		track("T4", "E3", "W3").
		build()
}

func platformBypassLayout() model.Layout {
	return newLayout().
		point("W_EB1", 50, 150, 0).
		point("W_EB2", 50, 200, 0).
		point("E_EB", 1150, 175, 20, exit).
		point("P1", 600, 100, 10, platform("P1")).
		point("P2", 600, 250, 10, platform("P2")).
		point("J1_W", 300, 175, 5, labelled("J1"), decision).
		point("J1_E", 450, 175, 8).
		point("J2_W", 750, 175, 12).
		point("J2_E", 900, 175, 15, labelled("J2")).
		point("C1", 400, 125, 7).
		point("C2", 400, 225, 7).
		point("C3", 800, 125, 13).
		point("C4", 800, 225, 13).
		track("EB1_IN", "W_EB1", "J1_W").
		track("EB2_IN", "W_EB2", "J1_W").
		track("CENTER_THRU", "J1_E", "J2_W").
		track("EB_OUT", "J2_E", "E_EB").
		track("J1-P1", "J1_W", "P1", "C1").
		track("P1-J2", "P1", "J2_E", "C3").
		track("J1-P2", "J1_W", "P2", "C2").
		track("P2-J2", "P2", "J2_E", "C4").
		track("J1-J2", "J1_W", "J2_E").
		build()
}

func complexJunctionLayout() model.Layout {
	return newLayout().
		point("S1", 1150, 320, 20, labelled("S1"), exit).
		point("S2", 1150, 370, 20, labelled("S2"), exit).
		point("S3", 50, 400, 0, labelled("S3")).
		point("S4", 50, 200, 0, labelled("S4")).
		point("S5", 50, 150, 0, labelled("S5")).
		point("P1", 600, 100, 10, platform("Platform 1")).
		point("P2", 600, 250, 10, platform("Platform 2")).
		point("P3", 600, 350, 10, platform("Platform 3")).
		point("J_S5_P1_A", 250, 150, 4, labelled("J1"), decision).
		point("J_S5_P1_B", 450, 100, 8).
		point("J_S4_P2_A", 250, 200, 4, labelled("J3"), decision).
		point("J_S4_P2_B", 450, 250, 8).
		point("J_S3_P3_A", 250, 400, 4).
		point("J_S3_P3_B", 450, 350, 8).
		point("J_S4_P3_A", 300, 300, 5).
		point("J_P1_S1_A", 750, 100, 12).
		point("J_P1_S1_B", 950, 320, 16).
		point("J_P2_S1_A", 750, 250, 12).
		point("J_P2_S1_B", 900, 280, 15).
		point("J_P2_S2_A", 750, 250, 12).
		point("J_P2_S2_B", 950, 370, 16).
		point("J_P3_S2_A", 750, 350, 12).
		point("J_P3_S2_B", 900, 390, 15).
		point("SD9_A", 300, 80, 5).
		point("SD9_B", 400, 80, 7).
		point("SD11_A", 300, 50, 5).
		point("SD11_B", 400, 50, 7).
		track("S5-J1", "S5", "J_S5_P1_A").
		track("J1-SD11", "J_S5_P1_A", "SD11_A").
		track("SD11", "SD11_A", "SD11_B").
		track("SD11-J2", "SD11_B", "J_S5_P1_B").
		track("J1-SD9", "J_S5_P1_A", "SD9_A").
		track("SD9", "SD9_A", "SD9_B").
		track("SD9-J2", "SD9_B", "J_S5_P1_B").
		track("J1-J2_direct", "J_S5_P1_A", "J_S5_P1_B").
		track("J2-P1", "J_S5_P1_B", "P1").
		track("S4-J3", "S4", "J_S4_P2_A").
		track("J3-P2", "J_S4_P2_A", "P2").
		track("J3-J4", "J_S4_P2_A", "J_S4_P3_A").
		track("J4-P3", "J_S4_P3_A", "P3").
		track("S3-J5", "S3", "J_S3_P3_A").
		track("J5-P3", "J_S3_P3_A", "P3").
		track("P1-J6", "P1", "J_P1_S1_A").
		track("J6-S1", "J_P1_S1_A", "S1", "J_P1_S1_B").
		track("P2-J7", "P2", "J_P2_S1_A").
		track("J7-S1", "J_P2_S1_A", "S1", "J_P2_S1_B").
		track("P2-J8", "P2", "J_P2_S2_A").
		track("J8-S2", "J_P2_S2_A", "S2", "J_P2_S2_B").
		track("P3-J9", "P3", "J_P3_S2_A").
		track("J9-S2", "J_P3_S2_A", "S2", "J_P3_S2_B").
		build()
}

func awajiLayout() model.Layout {
	return newLayout().
		point("KML_W_IN", 50, 250, 0).
		point("KML_W_OUT", 50, 300, 0, exit).
		point("KML_E_IN", 1150, 400, 20).
		point("KML_E_OUT", 1150, 450, 20, exit).
		point("SL_S_IN", 250, 550, 0).
		point("SL_S_OUT", 300, 550, 0, exit).
		point("SL_N_IN", 950, 50, 20).
		point("SL_N_OUT", 1000, 50, 20, exit).
		point("P2", 600, 175, 10, platform("P2")).
		point("P3", 600, 225, 10, platform("P3")).
		point("P4", 600, 375, 10, platform("P4")).
		point("P5", 600, 425, 10, platform("P5")).
		point("J_W1", 350, 275, 4, labelled("West Junction"), decision).
		point("J_P23_W", 450, 200, 8).
		point("J_P23_E", 750, 200, 12).
		point("J_P45_W", 450, 400, 8).
		point("J_P45_E", 750, 400, 12, labelled("East Junction"), decision).
		point("J_SL_S", 400, 475, 5).
		point("J_SL_N", 850, 125, 15, labelled("Senri Junction"), decision).
		point("C_W_1", 400, 225, 6).
		point("C_W_2", 400, 375, 6).
		point("C_E_1", 800, 225, 14).
		point("C_E_2", 800, 375, 14).
		// Kyoto main line, westbound.
		track("KML_E_IN-J_P45_E", "KML_E_IN", "J_P45_E").
		track("J_P45_E-P4", "J_P45_E", "P4").
		track("P4-J_P45_W", "P4", "J_P45_W").
		track("J_P45_W-J_W1", "J_P45_W", "J_W1", "C_W_2").
		track("J_W1-KML_W_OUT", "J_W1", "KML_W_OUT").
		track("J_P45_E-P3_X", "J_P45_E", "J_P23_E", "C_E_2", "C_E_1").
		track("J_P23_E-P3", "J_P23_E", "P3").
		track("P3-J_P23_W", "P3", "J_P23_W").
		track("J_P23_W-J_W1", "J_P23_W", "J_W1", "C_W_1").
		// Kyoto main line, eastbound.
		track("KML_W_IN-J_W1", "KML_W_IN", "J_W1").
		track("J_W1-J_P23_W", "J_W1", "J_P23_W", "C_W_1").
		track("J_P23_W-P2", "J_P23_W", "P2").
		track("P2-J_P23_E", "P2", "J_P23_E").
		track("J_P23_E-J_SL_N", "J_P23_E", "J_SL_N", "C_E_1").
		track("J_SL_N-SL_N_OUT", "J_SL_N", "SL_N_OUT").
		track("J_W1-J_P45_W", "J_W1", "J_P45_W", "C_W_2").
		track("J_P45_W-P5", "J_P45_W", "P5").
		track("P5-J_P45_E", "P5", "J_P45_E").
		track("J_P45_E-KML_E_OUT", "J_P45_E", "KML_E_OUT").
		// Senri line, southbound.
		track("SL_N_IN-J_SL_N", "SL_N_IN", "J_SL_N").
		track("J_SL_N-P2", "J_SL_N", "P2").
		track("P2-J_W1_X", "P2", "J_W1", "J_P23_W", "C_W_1").
		track("J_W1-J_SL_S", "J_W1", "J_SL_S", model.ControlPoint{X: 375, Y: 350}).
		track("J_SL_S-SL_S_OUT", "J_SL_S", "SL_S_OUT").
		// Senri line, northbound.
		track("SL_S_IN-J_SL_S_NB", "SL_S_IN", "J_SL_S").
		track("J_SL_S-P5", "J_SL_S", "P5", "J_P45_W").
		track("P5-J_SL_N_X", "P5", "J_SL_N", "J_P45_E", "C_E_2", "C_E_1").
		track("J_SL_N-SL_N_OUT_2", "J_SL_N", "SL_N_OUT").
		build()
}

func train(id string, speed float64, prio model.Priority, start, platformHalt float64, path ...string) model.TrainSpec {
	return model.TrainSpec{
		ID:                   id,
		Path:                 path,
		BaseSpeed:            speed,
		Priority:             prio,
		StartTime:            start,
		PlatformHaltDuration: platformHalt,
	}
}

func normalOpsTrains() []model.TrainSpec {
	freight := train("F5678", 50, model.PriorityLow, 5, 5, "T2")
	freight.Cargo = "electronics"
	steel := train("T20660", 50, model.PriorityLow, 7, 5, "T4")
	steel.Cargo = "steel"
	return []model.TrainSpec{
		train("T12613", 100, model.PriorityHigh, 0, 2, "T1"),
		freight,
		train("T16216", 100, model.PriorityHigh, 2, 2, "T3"),
		steel,
	}
}

// BuiltinCases returns freshly built copies of the bundled cases, ordered by
// ID. Callers may mutate the result.
func BuiltinCases() []*model.Case {
	c1 := &model.Case{
		ID:            "case1",
		Name:          "Normal Operations",
		Description:   "A standard operational day with a mix of passenger and freight trains.",
		SectionID:     SectionID,
		Layout:        fourTrackLayout(),
		InitialTrains: normalOpsTrains(),
		Reference:     model.ReferenceMetrics{Throughput: 4, AvgDelay: 2.1},
	}

	slowFreight := train("F9100", 40, model.PriorityLow, 0, 0, "T1")
	slowFreight.Cargo = "coal"
	slowFreight.SidingHaltDuration = 10
	c2 := &model.Case{
		ID:          "case2",
		Name:        "Priority Overtake",
		Description: "A slow freight runs ahead of an express on the same line and must yield at the passing siding.",
		SectionID:   SectionID,
		Layout:      fourTrackLayout(),
		InitialTrains: []model.TrainSpec{
			slowFreight,
			train("T12951", 100, model.PriorityHigh, 3, 2, "T1"),
			train("T16216", 100, model.PriorityHigh, 2, 2, "T3"),
		},
		Reference: model.ReferenceMetrics{Throughput: 3, AvgDelay: 4.0},
	}

	failing := train("T22691", 80, model.PriorityHigh, 0, 2, "T1")
	failing.BreakdownDuration = 8
	c3 := &model.Case{
		ID:          "case3",
		Name:        "Breakdown Recovery",
		Description: "A passenger train fails in section and blocks the express following it until it recovers.",
		SectionID:   SectionID,
		Layout:      fourTrackLayout(),
		InitialTrains: []model.TrainSpec{
			failing,
			train("T12627", 80, model.PriorityMedium, 4, 2, "T1"),
			train("T16216", 100, model.PriorityHigh, 2, 2, "T3"),
		},
		Reference: model.ReferenceMetrics{Throughput: 3, AvgDelay: 9.5},
	}

	c4 := &model.Case{
		ID:          "case4",
		Name:        "Increased Traffic",
		Description: "Higher throughput test with 6 trains, testing headway and siding constraints.",
		SectionID:   SectionID,
		Layout:      fourTrackLayout(),
		InitialTrains: []model.TrainSpec{
			train("T12613", 100, model.PriorityHigh, 0, 2, "T1"),
			train("F5678", 50, model.PriorityLow, 5, 5, "T2"),
			train("T16216", 100, model.PriorityHigh, 2, 2, "T3"),
			train("T20660", 50, model.PriorityLow, 7, 5, "T4"),
			train("EM01", 100, model.PriorityHigh, 10, 2, "T1"),
			train("T12345", 50, model.PriorityLow, 12, 5, "T4"),
		},
		Reference: model.ReferenceMetrics{Throughput: 6, AvgDelay: 5.5},
	}
	c4.InitialTrains[5].Cargo = "automobiles"

	rerouted := train("F5678", 50, model.PriorityLow, 5, 5, "T1")
	rerouted.SidingHaltDuration = 10
	c5 := &model.Case{
		ID:          "case5",
		Name:        "Track Closure",
		Description: "Track 2 is closed, forcing eastbound trains to share Track 1.",
		SectionID:   SectionID,
		Layout:      fourTrackLayout(),
		InitialTrains: []model.TrainSpec{
			train("T12613", 100, model.PriorityHigh, 0, 2, "T1"),
			rerouted,
			train("T16216", 100, model.PriorityHigh, 2, 2, "T3"),
			train("T20660", 50, model.PriorityLow, 7, 5, "T4"),
		},
		Config:    model.CaseConfig{TrackClosure: "T2"},
		Reference: model.ReferenceMetrics{Throughput: 3, AvgDelay: 15.8},
	}

	perishables := train("F5678", 50, model.PriorityLow, 5, 5, "T2")
	perishables.Cargo = "perishables"
	perishables.SidingHaltDuration = 5
	late := train("T16216", 100, model.PriorityHigh, 2, 2, "T3")
	late.Delay = 5
	c6 := &model.Case{
		ID:          "case6",
		Name:        "Multiple Delays",
		Description: "Weather slowdown and a delayed passenger train strain the system.",
		SectionID:   SectionID,
		Layout:      fourTrackLayout(),
		InitialTrains: []model.TrainSpec{
			train("T12613", 100, model.PriorityHigh, 0, 2, "T1"),
			perishables,
			late,
			train("T20660", 50, model.PriorityLow, 7, 5, "T4"),
		},
		Config:    model.CaseConfig{WeatherFactor: 0.9},
		Reference: model.ReferenceMetrics{Throughput: 4, AvgDelay: 8.3},
	}

	c7 := &model.Case{
		ID:          "case7",
		Name:        "Optimized Routing",
		Description: "Heavy traffic where trains are routed through alternate platforms to avoid conflicts.",
		SectionID:   SectionID,
		Layout:      platformBypassLayout(),
		InitialTrains: []model.TrainSpec{
			train("T12613", 100, model.PriorityHigh, 0, 2, "EB1_IN", "J1-P1", "P1-J2", "EB_OUT"),
			train("T16216", 100, model.PriorityHigh, 1, 2, "EB2_IN", "J1-P2", "P2-J2", "EB_OUT"),
			train("F5678", 60, model.PriorityLow, 2, 0, "EB1_IN", "J1-J2", "EB_OUT"),
			train("T20660", 100, model.PriorityHigh, 8, 2, "EB2_IN", "J1-P1", "P1-J2", "EB_OUT"),
		},
		Reference: model.ReferenceMetrics{Throughput: 4, AvgDelay: 1.5},
	}

	c8 := &model.Case{
		ID:          "case8",
		Name:        "Complex Junction",
		Description: "A complex station area based on a real-world track schematic, with multiple intersecting routes.",
		SectionID:   SectionID,
		Layout:      complexJunctionLayout(),
		InitialTrains: []model.TrainSpec{
			train("T12613", 70, model.PriorityHigh, 0, 2, "S5-J1", "J1-J2_direct", "J2-P1", "P1-J6", "J6-S1"),
			train("T16216", 70, model.PriorityHigh, 2, 2, "S4-J3", "J3-P2", "P2-J8", "J8-S2"),
			train("F5678", 40, model.PriorityLow, 4, 5, "S3-J5", "J5-P3", "P3-J9", "J9-S2"),
			train("T20660", 70, model.PriorityHigh, 6, 2, "S4-J3", "J3-J4", "J4-P3", "P3-J9", "J9-S2"),
		},
		Reference: model.ReferenceMetrics{Throughput: 4, AvgDelay: 3.0},
	}

	c9 := &model.Case{
		ID:          "case9",
		Name:        "Awaji Station Model",
		Description: "The Awaji Station junction, with merging and diverging main and branch lines.",
		SectionID:   SectionID,
		Layout:      awajiLayout(),
		InitialTrains: []model.TrainSpec{
			train("T_KML_EB", 80, model.PriorityHigh, 0, 2,
				"KML_W_IN-J_W1", "J_W1-J_P45_W", "J_P45_W-P5", "P5-J_P45_E", "J_P45_E-KML_E_OUT"),
			train("T_SL_NB", 70, model.PriorityHigh, 2, 2,
				"SL_S_IN-J_SL_S_NB", "J_SL_S-P5", "P5-J_SL_N_X", "J_SL_N-SL_N_OUT_2"),
			train("T_KML_WB", 80, model.PriorityHigh, 1, 2,
				"KML_E_IN-J_P45_E", "J_P45_E-P3_X", "J_P23_E-P3", "P3-J_P23_W", "J_P23_W-J_W1", "J_W1-KML_W_OUT"),
			train("T_SL_SB", 70, model.PriorityHigh, 3, 2,
				"SL_N_IN-J_SL_N", "J_SL_N-P2", "P2-J_W1_X", "J_W1-J_SL_S", "J_SL_S-SL_S_OUT"),
		},
		Reference: model.ReferenceMetrics{Throughput: 4, AvgDelay: 4.2},
	}

	return []*model.Case{c1, c2, c3, c4, c5, c6, c7, c8, c9}
}

// NewBuiltinCaseBook returns a book preloaded with BuiltinCases.
func NewBuiltinCaseBook() *CaseBook {
	b := NewCaseBook()
	for _, c := range BuiltinCases() {
		// IDs are unique, Add cannot fail.
		_ = b.Add(c)
	}
	return b
}
