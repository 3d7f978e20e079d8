package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/railsection-simulator/core"
)

// SimulationCollector exposes per-session simulation KPIs.
type SimulationCollector struct {
	gatherer prometheus.Gatherer

	KPIs         map[string]*prometheus.GaugeVec
	SimTime      *prometheus.GaugeVec
	Trains       *prometheus.GaugeVec
	Ticks        *prometheus.CounterVec
	TickDuration *prometheus.HistogramVec
	Approvals    *prometheus.CounterVec
	Decisions    *prometheus.CounterVec
}

type kpi struct {
	name, help string
	value      func(core.Metrics) float64
}

var kpis = []kpi{
	{"railsim_throughput_trains_per_hour", "Finished trains per simulated hour.", func(m core.Metrics) float64 { return m.Throughput }},
	{"railsim_avg_delay_minutes", "Mean accumulated delay of entered trains.", func(m core.Metrics) float64 { return m.AvgDelay }},
	{"railsim_total_delay_minutes", "Accumulated delay of entered trains.", func(m core.Metrics) float64 { return m.TotalDelay }},
	{"railsim_efficiency_percent", "Ideal over actual transit time.", func(m core.Metrics) float64 { return m.Efficiency }},
	{"railsim_punctuality_percent", "Share of finished trains within the punctuality grace.", func(m core.Metrics) float64 { return m.PunctualityRate }},
	{"railsim_track_utilization_percent", "Occupied share of open track time.", func(m core.Metrics) float64 { return m.TrackUtilization }},
	{"railsim_platform_occupancy_percent", "Occupied share of platform time.", func(m core.Metrics) float64 { return m.PlatformOccupancy }},
	{"railsim_conflict_resolution_minutes", "Time trains spent held by headway conflicts or in sidings.", func(m core.Metrics) float64 { return m.ConflictResolutionTime }},
	{"railsim_safety_compliance_percent", "Share of entered trains that never breached separation.", func(m core.Metrics) float64 { return m.SafetyComplianceRate }},
	{"railsim_priority_adherence_percent", "Share of priority conflicts resolved by yielding.", func(m core.Metrics) float64 { return m.PriorityAdherence }},
}

var sessionLabels = []string{"session", "case"}

// NewSimulationCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimulationCollector(reg prometheus.Registerer) (*SimulationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &SimulationCollector{gatherer: gatherer, KPIs: make(map[string]*prometheus.GaugeVec, len(kpis))}
	var err error
	for _, k := range kpis {
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: k.name, Help: k.help}, sessionLabels)
		if c.KPIs[k.name], err = registerGaugeVec(reg, vec, k.name); err != nil {
			return nil, err
		}
	}
	if c.SimTime, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "railsim_sim_time_minutes",
		Help: "Simulated time elapsed in the session.",
	}, sessionLabels), "railsim_sim_time_minutes"); err != nil {
		return nil, err
	}
	if c.Trains, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "railsim_trains",
		Help: "Trains in the session by status.",
	}, []string{"session", "case", "status"}), "railsim_trains"); err != nil {
		return nil, err
	}
	if c.Ticks, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railsim_ticks_total",
		Help: "Simulation ticks executed.",
	}, sessionLabels), "railsim_ticks_total"); err != nil {
		return nil, err
	}
	if c.TickDuration, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "railsim_tick_duration_seconds",
		Help:    "Wall-clock duration of one simulation tick.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}, []string{"case"}), "railsim_tick_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Approvals, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railsim_approval_requests_total",
		Help: "Approval requests raised, including queued ones.",
	}, sessionLabels), "railsim_approval_requests_total"); err != nil {
		return nil, err
	}
	if c.Decisions, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railsim_approval_decisions_total",
		Help: "Controller decisions applied, labeled by outcome.",
	}, []string{"session", "case", "decision"}), "railsim_approval_decisions_total"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimulationCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTick records one tick's duration and the published state.
func (c *SimulationCollector) ObserveTick(sessionID, caseID string, d time.Duration, s *core.State) {
	if c == nil || s == nil {
		return
	}
	c.Ticks.WithLabelValues(sessionID, caseID).Inc()
	c.TickDuration.WithLabelValues(caseID).Observe(d.Seconds())
	c.ObserveState(sessionID, caseID, s)
}

// ObserveState sets the KPI, time and train gauges from s without counting
// a tick. Sessions call it after a reset.
func (c *SimulationCollector) ObserveState(sessionID, caseID string, s *core.State) {
	if c == nil || s == nil {
		return
	}
	for _, k := range kpis {
		c.KPIs[k.name].WithLabelValues(sessionID, caseID).Set(k.value(s.Metrics))
	}
	c.SimTime.WithLabelValues(sessionID, caseID).Set(s.TimeMinutes)

	counts := make(map[core.TrainStatus]int, len(core.AllStatuses))
	for i := range s.Trains {
		counts[s.Trains[i].Status]++
	}
	for _, st := range core.AllStatuses {
		c.Trains.WithLabelValues(sessionID, caseID, st.String()).Set(float64(counts[st]))
	}
}

// ApprovalRaised counts n newly raised or queued requests.
func (c *SimulationCollector) ApprovalRaised(sessionID, caseID string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.Approvals.WithLabelValues(sessionID, caseID).Add(float64(n))
}

// ApprovalDecided counts one controller decision.
func (c *SimulationCollector) ApprovalDecided(sessionID, caseID string, approved bool) {
	if c == nil {
		return
	}
	decision := "rejected"
	if approved {
		decision = "approved"
	}
	c.Decisions.WithLabelValues(sessionID, caseID, decision).Inc()
}

// Forget drops every series of a closed session.
func (c *SimulationCollector) Forget(sessionID, caseID string) {
	if c == nil {
		return
	}
	labels := prometheus.Labels{"session": sessionID, "case": caseID}
	for _, vec := range c.KPIs {
		vec.DeletePartialMatch(labels)
	}
	c.SimTime.DeletePartialMatch(labels)
	c.Trains.DeletePartialMatch(labels)
	c.Ticks.DeletePartialMatch(labels)
	c.Approvals.DeletePartialMatch(labels)
	c.Decisions.DeletePartialMatch(labels)
}

