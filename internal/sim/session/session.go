// internal/sim/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/railsection-simulator/core"
	"github.com/signalsfoundry/railsection-simulator/internal/logging"
	"github.com/signalsfoundry/railsection-simulator/internal/observability"
	"github.com/signalsfoundry/railsection-simulator/model"
	"github.com/signalsfoundry/railsection-simulator/timectrl"
)

// Re-export scheduler sentinel errors so control surfaces can depend on
// session.* only.
var (
	// ErrInvalidSpeed indicates a speed multiplier that is not positive and
	// finite.
	ErrInvalidSpeed = timectrl.ErrInvalidSpeed
	// ErrRunning indicates a step was requested while the session plays.
	ErrRunning = timectrl.ErrRunning
	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrClosed indicates an operation on a closed session.
	ErrClosed = errors.New("session closed")
)

// Status is the externally visible run state of a session.
type Status string

const (
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusStopped Status = "stopped"
)

// DefaultEventLimit bounds the recent-events window kept for snapshots.
const DefaultEventLimit = 100

// sessionSeq orders sessions by construction.
var sessionSeq atomic.Uint64

// MetricsRecorder receives per-tick and per-decision updates. The
// Prometheus SimulationCollector satisfies it.
type MetricsRecorder interface {
	ObserveTick(sessionID, caseID string, d time.Duration, s *core.State)
	ObserveState(sessionID, caseID string, s *core.State)
	ApprovalRaised(sessionID, caseID string, n int)
	ApprovalDecided(sessionID, caseID string, approved bool)
	Forget(sessionID, caseID string)
}

type options struct {
	log          logging.Logger
	policy       core.Policy
	metrics      MetricsRecorder
	tracer       trace.Tracer
	autoApprove  bool
	tickInterval time.Duration
	resumeDelay  time.Duration
	speed        float64
	auditLimit   int
	eventLimit   int
}

// Option customises a Session.
type Option func(*options)

// WithLogger sets the session logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithPolicy overrides the engine policy.
func WithPolicy(p core.Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithMetricsRecorder attaches a recorder for tick and approval metrics.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer sets the tracer used for tick and control spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithAutoApprove resolves every approval request, approved with its first
// path option, at the end of the tick that raised it.
func WithAutoApprove(on bool) Option {
	return func(o *options) { o.autoApprove = on }
}

// WithTickInterval sets the wall-clock interval between ticks at speed 1.
func WithTickInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.tickInterval = d
		}
	}
}

// WithResumeDelay sets how long the session waits after Start and Reset
// before playing. Zero plays immediately.
func WithResumeDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.resumeDelay = d
		}
	}
}

// WithSpeed sets the initial speed multiplier.
func WithSpeed(m float64) Option {
	return func(o *options) { o.speed = m }
}

// WithAuditLimit bounds the audit trail.
func WithAuditLimit(n int) Option {
	return func(o *options) { o.auditLimit = n }
}

func defaultOptions() options {
	return options{
		log:          logging.Noop(),
		policy:       core.DefaultPolicy(),
		tracer:       observability.Tracer(),
		tickInterval: 100 * time.Millisecond,
		resumeDelay:  100 * time.Millisecond,
		speed:        1,
		auditLimit:   DefaultAuditLimit,
		eventLimit:   DefaultEventLimit,
	}
}

// Session runs one case. It owns the engine, the scheduler and the
// published state; there is no process-wide simulation.
//
// Published states are never mutated: each tick or decision swaps in a new
// *core.State, so a state pointer read under mu stays consistent after the
// lock is released.
type Session struct {
	id      string
	seq     uint64
	c       *model.Case
	created time.Time
	opts    options
	log     logging.Logger
	engine  *core.Engine
	sched   *timectrl.Scheduler

	mu       sync.RWMutex
	state    *core.State
	events   []core.Event
	audit    *auditRing
	complete bool
	started  bool
	closed   bool
	cancel   context.CancelFunc
	done     <-chan struct{}
}

// Snapshot is a consistent, caller-owned view of a session.
type Snapshot struct {
	SessionID        string                 `json:"sessionId"`
	CaseID           string                 `json:"caseId"`
	CaseName         string                 `json:"caseName"`
	Status           Status                 `json:"status"`
	Speed            float64                `json:"speed"`
	Tick             int                    `json:"tick"`
	TimeMinutes      float64                `json:"timeMinutes"`
	Trains           []core.TrainState      `json:"trains"`
	Metrics          core.Metrics           `json:"metrics"`
	Approval         *core.ApprovalRequest  `json:"approval"`
	WaitingApprovals []core.ApprovalRequest `json:"waitingApprovals"`
	Events           []core.Event           `json:"events"`
	Audit            []AuditEvent           `json:"audit"`
}

// New builds a paused session for c. A case with broken references still
// yields a session; the problem is recorded as a system alert and the
// affected trains freeze at their gate.
func New(c *model.Case, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: nil case", model.ErrInvalidCase)
	}

	id := uuid.NewString()
	engine, err := core.NewEngine(c,
		core.WithEnginePolicy(o.policy),
		core.WithEngineLogger(o.log.With(logging.SessionID(id))),
	)
	if err != nil {
		return nil, err
	}
	log := o.log.With(logging.Session(id, c.ID)...)

	s := &Session{
		id:      id,
		seq:     sessionSeq.Add(1),
		c:       c,
		created: time.Now().UTC(),
		opts:    o,
		log:     log,
		engine:  engine,
		audit:   newAuditRing(o.auditLimit),
	}
	s.sched = timectrl.NewScheduler(o.tickInterval, s.tick)
	s.sched.AddListener(s.afterTick)
	if err := s.sched.SetSpeed(o.speed); err != nil {
		return nil, err
	}
	s.state = engine.Initial()

	if err := c.Validate(); err != nil {
		s.audit.add(AuditEvent{
			Type:    AuditSystemAlert,
			Actor:   ActorSystem,
			Action:  "case_invalid",
			Details: err.Error(),
		})
		log.Warn(context.Background(), "case has broken references", logging.Err(err))
	}
	if o.metrics != nil {
		o.metrics.ObserveState(id, c.ID, s.state)
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// CaseID returns the id of the case being run.
func (s *Session) CaseID() string { return s.c.ID }

// Case returns the case being run. Callers must treat it as read-only.
func (s *Session) Case() *model.Case { return s.c }

// Created returns when the session was built.
func (s *Session) Created() time.Time { return s.created }

// Start launches the tick loop and plays after the resume delay. The loop
// outlives ctx's deadline; it stops on Close. Calling Start twice is a
// no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = s.sched.Start(loopCtx)
	s.started = true
	s.sched.ResumeAfter(s.opts.resumeDelay)
	s.log.Info(ctx, "session started", logging.Duration("interval", s.sched.Interval()))
	return nil
}

// Status reports the session run state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	switch {
	case s.closed || s.complete:
		return StatusStopped
	case s.sched.Running():
		return StatusRunning
	default:
		return StatusPaused
	}
}

// Snapshot returns the current published state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	st := s.state
	status := s.statusLocked()
	events := make([]core.Event, len(s.events))
	copy(events, s.events)
	audit := s.audit.list()
	s.mu.RUnlock()

	st = st.Clone()
	snap := Snapshot{
		SessionID:        s.id,
		CaseID:           s.c.ID,
		CaseName:         s.c.Name,
		Status:           status,
		Speed:            s.sched.Speed(),
		Tick:             st.Tick,
		TimeMinutes:      st.TimeMinutes,
		Trains:           st.Trains,
		Metrics:          st.Metrics,
		Approval:         st.Approval,
		WaitingApprovals: st.Waiting,
		Events:           events,
		Audit:            audit,
	}
	if snap.WaitingApprovals == nil {
		snap.WaitingApprovals = []core.ApprovalRequest{}
	}
	return snap
}

// State returns the current published state. Callers must not modify it.
func (s *Session) State() *core.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Audit returns the audit trail, oldest first.
func (s *Session) Audit() []AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audit.list()
}

// Play resumes timer-driven ticks.
func (s *Session) Play(ctx context.Context) error {
	if err := s.control(ctx, "play", ""); err != nil {
		return err
	}
	s.sched.Play()
	return nil
}

// Pause stops timer-driven ticks.
func (s *Session) Pause(ctx context.Context) error {
	if err := s.control(ctx, "pause", ""); err != nil {
		return err
	}
	s.sched.Pause()
	return nil
}

// Step runs exactly one tick. The session must be paused.
func (s *Session) Step(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.sched.Step(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.recordControlLocked("step", "")
	s.mu.Unlock()
	return nil
}

// SetSpeed changes the wall-clock cadence multiplier.
func (s *Session) SetSpeed(ctx context.Context, multiplier float64) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.sched.SetSpeed(multiplier); err != nil {
		return err
	}
	s.mu.Lock()
	s.recordControlLocked("set_speed", fmt.Sprintf("%g", multiplier))
	s.mu.Unlock()
	s.log.Info(ctx, "speed changed", logging.Float("speed", multiplier))
	return nil
}

// Reset reinitializes every train from the case, clears metrics and the
// approval queue, then plays again after the resume delay. The audit trail
// survives a reset.
func (s *Session) Reset(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	_, span := s.opts.tracer.Start(ctx, "session.Reset", trace.WithAttributes(s.attrs()...))
	defer span.End()

	s.sched.Pause()
	var st *core.State
	s.sched.Exclusive(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.state = s.engine.Initial()
		s.events = nil
		s.complete = false
		s.recordControlLocked("reset", "")
		st = s.state
	})
	if s.opts.metrics != nil {
		s.opts.metrics.ObserveState(s.id, s.c.ID, st)
	}
	s.log.Info(ctx, "session reset")
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if started {
		s.sched.ResumeAfter(s.opts.resumeDelay)
	}
	return nil
}

// Resolve applies a controller decision to the outstanding approval
// request. Decisions only land between ticks.
func (s *Session) Resolve(ctx context.Context, d core.Decision) error {
	if s.isClosed() {
		return ErrClosed
	}
	ctx, span := s.opts.tracer.Start(ctx, "session.Resolve", trace.WithAttributes(append(s.attrs(),
		observability.AttrTrainID.String(d.TrainID),
		attribute.Bool("approved", d.Approved),
	)...))
	defer span.End()

	var err error
	s.sched.Exclusive(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		var (
			next   *core.State
			events []core.Event
			req    = s.state.Approval
		)
		next, events, err = s.engine.Resolve(ctx, s.state, d)
		if err != nil {
			return
		}
		s.state = next
		s.appendEventsLocked(events)
		s.audit.add(decisionAudit(next.TimeMinutes, ActorController, req, d))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if s.opts.metrics != nil {
		s.opts.metrics.ApprovalDecided(s.id, s.c.ID, d.Approved)
	}
	s.log.Info(ctx, "approval resolved",
		logging.TrainID(d.TrainID),
		logging.Bool("approved", d.Approved),
	)
	return nil
}

// Close stops the tick loop. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	s.sched.Pause()
	if cancel != nil {
		cancel()
		<-done
	}
	if s.opts.metrics != nil {
		s.opts.metrics.Forget(s.id, s.c.ID)
	}
	s.log.Info(context.Background(), "session closed")
}

// alert appends a system alert to the audit trail.
func (s *Session) alert(action, trainID, details string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit.add(AuditEvent{
		TimeMinutes: s.state.TimeMinutes,
		Type:        AuditSystemAlert,
		Actor:       ActorSystem,
		Action:      action,
		TrainID:     trainID,
		Details:     details,
	})
}

func (s *Session) tick(ctx context.Context) {
	ctx, span := s.opts.tracer.Start(ctx, "session.tick", trace.WithAttributes(s.attrs()...))
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	next, events := s.engine.Advance(ctx, s.state)
	raised := 0
	for _, ev := range events {
		if ev.Kind == core.EventApprovalRaised || ev.Kind == core.EventApprovalQueued {
			raised++
		}
	}
	var decided []bool
	if s.opts.autoApprove {
		var more []core.Event
		next, more, decided = s.autoResolve(ctx, next)
		events = append(events, more...)
	}
	s.state = next
	s.appendEventsLocked(events)
	s.alertEventsLocked(events)

	finished := !s.complete && allDone(next)
	if finished {
		s.complete = true
		s.audit.add(AuditEvent{
			TimeMinutes: next.TimeMinutes,
			Type:        AuditSimulationControl,
			Actor:       ActorSystem,
			Action:      "complete",
			Details:     "all trains finished, faulted or rejected",
		})
	}
	s.mu.Unlock()

	if finished {
		s.log.Info(ctx, "simulation complete",
			logging.Tick(next.Tick),
			logging.SimMinutes(next.TimeMinutes),
		)
	}
	if m := s.opts.metrics; m != nil {
		m.ObserveTick(s.id, s.c.ID, time.Since(start), next)
		if raised > 0 {
			m.ApprovalRaised(s.id, s.c.ID, raised)
		}
		for _, approved := range decided {
			m.ApprovalDecided(s.id, s.c.ID, approved)
		}
	}
	span.SetAttributes(observability.AttrTick.Int(next.Tick), attribute.Int("events", len(events)))
}

// afterTick runs after every scheduler tick and stops the timer once the
// run is complete.
func (s *Session) afterTick(n uint64) {
	s.mu.RLock()
	complete := s.complete
	s.mu.RUnlock()
	if !complete {
		return
	}
	wasRunning := s.sched.Running()
	s.sched.Pause()
	if wasRunning {
		s.log.Debug(context.Background(), "scheduler paused after completion", logging.Int("scheduler_ticks", int(n)))
	}
}

// autoResolve approves every outstanding request with its first path
// option. A rejected path falls back to approving the current route.
// Callers hold mu.
func (s *Session) autoResolve(ctx context.Context, st *core.State) (*core.State, []core.Event, []bool) {
	var (
		events  []core.Event
		decided []bool
	)
	for st.Approval != nil {
		req := st.Approval
		d := core.Decision{TrainID: req.TrainID, Approved: true}
		if len(req.PossiblePaths) > 0 {
			d.Path = req.PossiblePaths[0]
		}
		next, evs, err := s.engine.Resolve(ctx, st, d)
		if err != nil && d.Path != nil {
			d.Path = nil
			next, evs, err = s.engine.Resolve(ctx, st, d)
		}
		if err != nil {
			s.log.Error(ctx, "auto-approval failed", logging.TrainID(req.TrainID), logging.Err(err))
			break
		}
		s.audit.add(decisionAudit(next.TimeMinutes, ActorSystem, req, d))
		events = append(events, evs...)
		decided = append(decided, true)
		st = next
	}
	return st, events, decided
}

func (s *Session) appendEventsLocked(events []core.Event) {
	s.events = append(s.events, events...)
	if over := len(s.events) - s.opts.eventLimit; over > 0 {
		s.events = append([]core.Event(nil), s.events[over:]...)
	}
}

func (s *Session) alertEventsLocked(events []core.Event) {
	for _, ev := range events {
		var action string
		switch ev.Kind {
		case core.EventTopologyFault:
			action = "topology_fault"
		case core.EventBreakdown:
			action = "breakdown"
		default:
			continue
		}
		s.audit.add(AuditEvent{
			TimeMinutes: ev.Time,
			Type:        AuditSystemAlert,
			Actor:       ActorSystem,
			Action:      action,
			TrainID:     ev.TrainID,
			Details:     ev.Message,
		})
	}
}

// control records a control operation, failing on a closed session.
func (s *Session) control(ctx context.Context, action, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.recordControlLocked(action, details)
	s.log.Info(ctx, "session control", logging.String("action", action))
	return nil
}

func (s *Session) recordControlLocked(action, details string) {
	s.audit.add(AuditEvent{
		TimeMinutes: s.state.TimeMinutes,
		Type:        AuditSimulationControl,
		Actor:       ActorController,
		Action:      action,
		Details:     details,
	})
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) attrs() []attribute.KeyValue {
	return observability.SessionAttributes(s.id, s.c.ID)
}

func decisionAudit(now float64, actor string, req *core.ApprovalRequest, d core.Decision) AuditEvent {
	action := "rejected"
	if d.Approved {
		action = "approved"
	}
	details := ""
	if req != nil {
		details = "gate " + req.DecisionPointID
	}
	if len(d.Path) > 0 {
		details += fmt.Sprintf(" path %v", d.Path)
	}
	return AuditEvent{
		TimeMinutes: now,
		Type:        AuditRequestDecision,
		Actor:       actor,
		Action:      action,
		TrainID:     d.TrainID,
		Details:     details,
	}
}

// allDone reports whether no train can move again: every train finished,
// was frozen by a fault or was rejected by the controller.
func allDone(st *core.State) bool {
	if len(st.Trains) == 0 {
		return false
	}
	for i := range st.Trains {
		if !st.Trains[i].Done() {
			return false
		}
	}
	return true
}
