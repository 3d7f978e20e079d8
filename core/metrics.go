package core

import (
	"math"
)

// Metrics are the live performance figures of a simulation. They are
// recomputed from the whole train population on every tick.
type Metrics struct {
	Throughput             float64 `json:"throughput"` // finished trains per hour
	AvgDelay               float64 `json:"avgDelay"`
	Efficiency             float64 `json:"efficiency"`
	TotalDelay             float64 `json:"totalDelay"`
	PunctualityRate        float64 `json:"punctualityRate"`
	TrackUtilization       float64 `json:"trackUtilization"`
	PlatformOccupancy      float64 `json:"platformOccupancy"`
	ConflictResolutionTime float64 `json:"conflictResolutionTime"`
	SafetyComplianceRate   float64 `json:"safetyComplianceRate"`
	PriorityAdherence      float64 `json:"priorityAdherence"`
}

// InitialMetrics is the figure set shown before any train has entered.
func InitialMetrics() Metrics {
	return Metrics{
		PunctualityRate:      100,
		SafetyComplianceRate: 100,
		PriorityAdherence:    100,
	}
}

// Rounded returns a copy rounded for display: one decimal for times and
// rates, whole numbers for percentages.
func (m Metrics) Rounded() Metrics {
	return Metrics{
		Throughput:             round1(m.Throughput),
		AvgDelay:               round1(m.AvgDelay),
		Efficiency:             math.Round(m.Efficiency),
		TotalDelay:             round1(m.TotalDelay),
		PunctualityRate:        math.Round(m.PunctualityRate),
		TrackUtilization:       math.Round(m.TrackUtilization),
		PlatformOccupancy:      math.Round(m.PlatformOccupancy),
		ConflictResolutionTime: round1(m.ConflictResolutionTime),
		SafetyComplianceRate:   math.Round(m.SafetyComplianceRate),
		PriorityAdherence:      math.Round(m.PriorityAdherence),
	}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func clampPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(v, 100)
}

// Ledger carries the running totals that metrics need beyond the train
// records themselves.
type Ledger struct {
	OccupiedTrackMinutes    float64 `json:"occupiedTrackMinutes"`
	OccupiedPlatformMinutes float64 `json:"occupiedPlatformMinutes"`
	// PriorityConflicts maps "higher>lower" train pairs to whether the lower
	// train has yielded.
	PriorityConflicts map[string]bool `json:"priorityConflicts,omitempty"`
}

func (l Ledger) clone() Ledger {
	c := l
	if l.PriorityConflicts != nil {
		c.PriorityConflicts = make(map[string]bool, len(l.PriorityConflicts))
		for k, v := range l.PriorityConflicts {
			c.PriorityConflicts[k] = v
		}
	}
	return c
}

func priorityPair(higher, lower string) string { return higher + ">" + lower }

// detectConflict records a priority conflict the first time it is seen.
func (l *Ledger) detectConflict(higher, lower string) {
	if l.PriorityConflicts == nil {
		l.PriorityConflicts = make(map[string]bool)
	}
	key := priorityPair(higher, lower)
	if _, ok := l.PriorityConflicts[key]; !ok {
		l.PriorityConflicts[key] = false
	}
}

func (l *Ledger) resolveConflict(higher, lower string) {
	l.detectConflict(higher, lower)
	l.PriorityConflicts[priorityPair(higher, lower)] = true
}

// accrue adds one tick of track and platform occupancy.
func (l *Ledger) accrue(trains []TrainState, ix *LayoutIndex, dt float64) {
	tracks := make(map[string]bool)
	platforms := 0
	for i := range trains {
		t := &trains[i]
		if t.OnMainLine() && ix.IsOpen(t.Track) {
			tracks[t.Track] = true
		}
		if t.Status == StatusAtPlatform {
			platforms++
		}
	}
	l.OccupiedTrackMinutes += dt * float64(len(tracks))
	l.OccupiedPlatformMinutes += dt * float64(min(platforms, ix.Platforms()))
}

// computeMetrics derives the full metric set at simulated time now.
func computeMetrics(trains []TrainState, now, firstStart float64, ix *LayoutIndex, p Policy, l Ledger) Metrics {
	m := InitialMetrics()

	var active, finished, punctual, compliant int
	var ideal, actual float64
	for i := range trains {
		t := &trains[i]
		if !t.Entered() {
			continue
		}
		active++
		m.TotalDelay += t.TotalDelay
		m.ConflictResolutionTime += t.ConflictTime
		if !t.SeparationBreach {
			compliant++
		}
		if t.BaseSpeed > 0 {
			ideal += ix.Length()/t.BaseSpeed*60 + t.PlatformHaltDuration
		}
		if t.CompletionTime != nil {
			finished++
			actual += *t.CompletionTime - t.StartTime
			if *t.CompletionTime <= t.ScheduledArrivalTime+p.PunctualityGrace {
				punctual++
			}
		} else {
			actual += now - t.StartTime
		}
	}
	if active == 0 {
		return m
	}

	m.AvgDelay = m.TotalDelay / float64(active)
	window := math.Max(now-firstStart, 1) / 60
	m.Throughput = float64(finished) / window
	if ideal > 0 && actual > 0 {
		m.Efficiency = math.Min(ideal/actual, 1) * 100
	}
	if finished > 0 {
		m.PunctualityRate = 100 * float64(punctual) / float64(finished)
	}
	if now > 0 && ix.OpenTracks() > 0 {
		m.TrackUtilization = clampPercent(100 * p.UtilizationScale * l.OccupiedTrackMinutes / (now * float64(ix.OpenTracks())))
	}
	if now > 0 && ix.Platforms() > 0 {
		m.PlatformOccupancy = clampPercent(100 * l.OccupiedPlatformMinutes / (now * float64(ix.Platforms())))
	}
	m.SafetyComplianceRate = clampPercent(100 * float64(compliant) / float64(active))

	if n := len(l.PriorityConflicts); n > 0 {
		resolved := 0
		for _, ok := range l.PriorityConflicts {
			if ok {
				resolved++
			}
		}
		m.PriorityAdherence = clampPercent(100 * float64(resolved) / float64(n))
	}
	m.PunctualityRate = clampPercent(m.PunctualityRate)
	return m
}
