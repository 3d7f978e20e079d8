package core

import (
	"testing"
)

func TestComputeMetricsNoActiveTrains(t *testing.T) {
	ix := NewLayoutIndex(lineCase(), 30)
	trains := []TrainState{newTrainState(spec("X", 60, 0, "T3"), 20)}
	m := computeMetrics(trains, 10, 0, ix, DefaultPolicy(), Ledger{})
	if m != InitialMetrics() {
		t.Fatalf("metrics with no entered trains = %+v, want initial", m)
	}
}

func TestComputeMetricsFormulas(t *testing.T) {
	ix := NewLayoutIndex(lineCase(), 30)
	done := 25.0
	finished := newTrainState(spec("A", 60, 0, "T3"), 20)
	finished.Position = 20
	finished.Status = StatusFinished
	finished.CompletionTime = &done
	finished.TotalDelay = 5
	finished.ConflictTime = 2

	running := newTrainState(spec("B", 60, 10, "T3"), 20)
	running.Position = 8
	running.Status = StatusOnTime
	running.TotalDelay = 1
	running.SeparationBreach = true

	ledger := Ledger{
		OccupiedTrackMinutes: 45,
		PriorityConflicts:    map[string]bool{"A>B": true, "A>C": false},
	}
	m := computeMetrics([]TrainState{finished, running}, 30, 0, ix, DefaultPolicy(), ledger)

	if m.TotalDelay != 6 || m.AvgDelay != 3 {
		t.Fatalf("delay total=%v avg=%v, want 6 and 3", m.TotalDelay, m.AvgDelay)
	}
	// One finished train over half an hour.
	if m.Throughput != 2 {
		t.Fatalf("throughput=%v, want 2", m.Throughput)
	}
	// Ideal 20+20 minutes against actual 25+20.
	if !almostEqual(m.Efficiency, 100*40.0/45.0, 1e-9) {
		t.Fatalf("efficiency=%v, want %v", m.Efficiency, 100*40.0/45.0)
	}
	if m.PunctualityRate != 100 {
		t.Fatalf("punctuality=%v, want 100", m.PunctualityRate)
	}
	if !almostEqual(m.TrackUtilization, 50, 1e-9) {
		t.Fatalf("track utilization=%v, want 50", m.TrackUtilization)
	}
	if m.PlatformOccupancy != 0 {
		t.Fatalf("platform occupancy=%v without platforms", m.PlatformOccupancy)
	}
	if m.SafetyComplianceRate != 50 {
		t.Fatalf("safety compliance=%v, want 50", m.SafetyComplianceRate)
	}
	if m.PriorityAdherence != 50 {
		t.Fatalf("priority adherence=%v, want 50", m.PriorityAdherence)
	}
	if m.ConflictResolutionTime != 2 {
		t.Fatalf("conflict time=%v, want 2", m.ConflictResolutionTime)
	}
}

func TestLatePunctuality(t *testing.T) {
	ix := NewLayoutIndex(lineCase(), 30)
	late := 40.0
	tr := newTrainState(spec("A", 60, 0, "T3"), 20)
	tr.Position = 20
	tr.Status = StatusFinished
	tr.CompletionTime = &late
	m := computeMetrics([]TrainState{tr}, 40, 0, ix, DefaultPolicy(), Ledger{})
	if m.PunctualityRate != 0 {
		t.Fatalf("punctuality=%v for a train 20 min late, want 0", m.PunctualityRate)
	}
}

func TestUtilizationIsClamped(t *testing.T) {
	ix := NewLayoutIndex(lineCase(), 30)
	tr := newTrainState(spec("A", 60, 0, "T3"), 20)
	tr.Position = 1
	tr.Status = StatusOnTime
	p := DefaultPolicy()
	p.UtilizationScale = 50
	m := computeMetrics([]TrainState{tr}, 10, 0, ix, p, Ledger{OccupiedTrackMinutes: 30})
	if m.TrackUtilization != 100 {
		t.Fatalf("track utilization=%v, want clamped 100", m.TrackUtilization)
	}
}

func TestLedgerAccrue(t *testing.T) {
	c := builtin(t, "case1")
	ix := NewLayoutIndex(c, 30)
	mk := func(track string, status TrainStatus) TrainState {
		return TrainState{Track: track, Position: 3, Status: status}
	}
	trains := []TrainState{
		mk("T1", StatusOnTime),
		mk("T1", StatusSlowing),
		mk("T2", StatusInSiding),
		mk("T3", StatusAtPlatform),
		mk("T4", StatusFinished),
	}
	var l Ledger
	l.accrue(trains, ix, 0.5)
	// T1 and T3 are occupied; T2's only train is in the siding.
	if l.OccupiedTrackMinutes != 1 {
		t.Fatalf("occupied track minutes=%v, want 1", l.OccupiedTrackMinutes)
	}
	if l.OccupiedPlatformMinutes != 0.5 {
		t.Fatalf("occupied platform minutes=%v, want 0.5", l.OccupiedPlatformMinutes)
	}
}

func TestLedgerConflicts(t *testing.T) {
	var l Ledger
	l.detectConflict("A", "B")
	l.detectConflict("A", "B")
	if len(l.PriorityConflicts) != 1 || l.PriorityConflicts["A>B"] {
		t.Fatalf("conflict ledger = %v", l.PriorityConflicts)
	}
	l.resolveConflict("A", "B")
	l.detectConflict("A", "B")
	if !l.PriorityConflicts["A>B"] {
		t.Fatalf("re-detection must not reopen a resolved conflict")
	}
	c := l.clone()
	c.PriorityConflicts["X>Y"] = false
	if len(l.PriorityConflicts) != 1 {
		t.Fatalf("clone shares its conflict map")
	}
}

func TestMetricsRounded(t *testing.T) {
	m := Metrics{Throughput: 2.345, AvgDelay: 1.06, Efficiency: 88.6, PunctualityRate: 99.4}
	r := m.Rounded()
	if r.Throughput != 2.3 || r.AvgDelay != 1.1 || r.Efficiency != 89 || r.PunctualityRate != 99 {
		t.Fatalf("Rounded=%+v", r)
	}
}
