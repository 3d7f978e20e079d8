package core

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/signalsfoundry/railsection-simulator/internal/logging"
	"github.com/signalsfoundry/railsection-simulator/model"
)

const eps = 1e-9

// EventKind classifies what the engine reports alongside a new state.
type EventKind string

const (
	EventApprovalRaised   EventKind = "approval_raised"
	EventApprovalQueued   EventKind = "approval_queued"
	EventApprovalResolved EventKind = "approval_resolved"
	EventTopologyFault    EventKind = "topology_fault"
	EventBreakdown        EventKind = "breakdown"
	EventSidingDiversion  EventKind = "siding_diversion"
	EventTrainFinished    EventKind = "train_finished"
)

// Event is a notable occurrence during a tick or decision.
type Event struct {
	Kind    EventKind `json:"kind"`
	Time    float64   `json:"time"`
	TrainID string    `json:"trainId,omitempty"`
	PointID string    `json:"pointId,omitempty"`
	Message string    `json:"message"`
}

// State is one published simulation state. The engine never mutates a
// State it was given; every step returns a new one.
type State struct {
	Tick        int               `json:"tick"`
	TimeMinutes float64           `json:"timeMinutes"`
	Trains      []TrainState      `json:"trains"`
	Approval    *ApprovalRequest  `json:"approval"`
	Waiting     []ApprovalRequest `json:"waiting,omitempty"`
	Metrics     Metrics           `json:"metrics"`
	Ledger      Ledger            `json:"ledger"`
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := &State{
		Tick:        s.Tick,
		TimeMinutes: s.TimeMinutes,
		Trains:      cloneTrains(s.Trains),
		Metrics:     s.Metrics,
		Ledger:      s.Ledger.clone(),
	}
	if s.Approval != nil {
		a := s.Approval.clone()
		c.Approval = &a
	}
	if s.Waiting != nil {
		c.Waiting = make([]ApprovalRequest, len(s.Waiting))
		for i, w := range s.Waiting {
			c.Waiting[i] = w.clone()
		}
	}
	return c
}

// Train returns the state of one train.
func (s *State) Train(id string) (TrainState, bool) {
	if i := s.trainIndex(id); i >= 0 {
		return s.Trains[i], true
	}
	return TrainState{}, false
}

func (s *State) trainIndex(id string) int {
	for i := range s.Trains {
		if s.Trains[i].ID == id {
			return i
		}
	}
	return -1
}

// Engine advances trains through one case. It is safe for concurrent use:
// it holds only immutable case data and policy.
type Engine struct {
	c          *model.Case
	policy     Policy
	ix         *LayoutIndex
	log        logging.Logger
	firstStart float64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger used for topology warnings and approval
// activity.
func WithEngineLogger(l logging.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithEnginePolicy overrides the default policy.
func WithEnginePolicy(p Policy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// NewEngine builds an engine for a case. Broken case references do not
// prevent construction; the affected trains are frozen when they reach the
// broken element.
func NewEngine(c *model.Case, opts ...EngineOption) (*Engine, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil case", model.ErrInvalidCase)
	}
	e := &Engine{
		c:      c,
		policy: DefaultPolicy(),
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.policy.Validate(); err != nil {
		return nil, err
	}
	e.log = e.log.With(logging.CaseID(c.ID))
	e.ix = NewLayoutIndex(c, e.policy.PointSnapDistance)

	e.firstStart = math.Inf(1)
	for _, t := range c.InitialTrains {
		e.firstStart = math.Min(e.firstStart, t.StartTime)
	}
	if math.IsInf(e.firstStart, 1) {
		e.firstStart = 0
	}
	return e, nil
}

// Case returns the case the engine runs.
func (e *Engine) Case() *model.Case { return e.c }

// Policy returns the engine policy.
func (e *Engine) Policy() Policy { return e.policy }

// Index returns the layout index.
func (e *Engine) Index() *LayoutIndex { return e.ix }

// Initial builds the reset state: every train outside the section waiting
// for its start gate, no requests, initial metrics.
func (e *Engine) Initial() *State {
	s := &State{
		Trains:  make([]TrainState, 0, len(e.c.InitialTrains)),
		Metrics: InitialMetrics(),
	}
	for _, spec := range e.c.InitialTrains {
		t := newTrainState(spec, e.ix.Length())
		t.Westbound = e.ix.westbound(t.Path)
		e.place(&t)
		s.Trains = append(s.Trains, t)
	}
	return s
}

func (e *Engine) nominal(t *TrainState) float64 {
	return t.BaseSpeed * e.c.Config.Weather()
}

// place refreshes the derived mile marker and map coordinates.
func (e *Engine) place(t *TrainState) {
	t.Mile = e.ix.mile(t.Position, t.Westbound)
	t.X, t.Y = e.ix.locate(t)
}

func (e *Engine) fault(ctx context.Context, s *State, t *TrainState, reason string, events *[]Event) {
	t.freeze(reason)
	e.log.Warn(ctx, "train halted by topology error",
		logging.TrainID(t.ID),
		logging.String("track_id", t.Track),
		logging.String("reason", reason),
	)
	*events = append(*events, Event{
		Kind:    EventTopologyFault,
		Time:    s.TimeMinutes,
		TrainID: t.ID,
		Message: reason,
	})
}

// Advance runs one tick. Headway and siding checks read the positions in
// prev; all changes land in the returned state.
func (e *Engine) Advance(ctx context.Context, prev *State) (*State, []Event) {
	dt := e.policy.StepMinutes()
	next := prev.Clone()
	next.Tick++
	next.TimeMinutes = prev.TimeMinutes + dt

	tk := &tick{e: e, prev: prev, next: next, dt: dt, now: next.TimeMinutes}
	for i := range next.Trains {
		tk.advanceTrain(ctx, i)
	}

	next.Ledger.accrue(next.Trains, e.ix, dt)
	for i := range next.Trains {
		e.place(&next.Trains[i])
	}
	next.Metrics = computeMetrics(next.Trains, next.TimeMinutes, e.firstStart, e.ix, e.policy, next.Ledger)
	return next, tk.events
}

type tick struct {
	e      *Engine
	prev   *State
	next   *State
	dt     float64
	now    float64
	events []Event
}

func (k *tick) emit(kind EventKind, t *TrainState, pointID, msg string) {
	k.events = append(k.events, Event{Kind: kind, Time: k.now, TrainID: t.ID, PointID: pointID, Message: msg})
}

func (k *tick) fault(ctx context.Context, t *TrainState, reason string) {
	k.e.fault(ctx, k.next, t, reason, &k.events)
}

func (k *tick) advanceTrain(ctx context.Context, i int) {
	e, p := k.e, k.e.policy
	t := &k.next.Trains[i]
	if t.Done() {
		return
	}

	// Start gate.
	if !t.Entered() {
		if t.ApprovalState != ApprovalPending {
			return
		}
		t.halt(StatusAwaitingApproval)
		if k.next.hasRequest(t.ID) || k.now+eps < t.Departure+p.ApprovalHaltMinutes() {
			return
		}
		if len(t.Path) == 0 {
			k.fault(ctx, t, "empty path")
			return
		}
		if _, _, err := e.ix.trackSpan(t.Track, t.Westbound); err != nil {
			k.fault(ctx, t, err.Error())
			return
		}
		if !e.ix.IsOpen(t.Track) {
			k.fault(ctx, t, fmt.Sprintf("track %q is closed", t.Track))
			return
		}
		t.DecisionPointID = StartGateID
		k.raise(ctx, t, ApprovalRequest{
			TrainID:         t.ID,
			DecisionPointID: StartGateID,
			PossiblePaths:   [][]string{slices.Clone(t.Path)},
			RaisedAt:        k.now,
		})
		return
	}

	if t.ApprovalState != ApprovalApproved || t.Status == StatusAwaitingApproval {
		return
	}

	// Breakdown.
	if t.BreakdownRemaining > eps && t.Status != StatusBreakdown && t.HaltTimer <= 0 &&
		k.now+eps >= t.Departure+p.BreakdownTrigger {
		t.halt(StatusBreakdown)
		k.emit(EventBreakdown, t, "", fmt.Sprintf("broke down for %.1f min", t.BreakdownRemaining))
	}
	if t.Status == StatusBreakdown {
		t.BreakdownRemaining -= k.dt
		t.TotalDelay += k.dt
		if t.BreakdownRemaining <= eps {
			t.BreakdownRemaining = 0
			t.Status = StatusOnTime
			t.Speed = e.nominal(t)
		}
		return
	}

	// Halt countdown.
	if t.HaltTimer > 0 {
		t.HaltTimer -= k.dt
		if t.Status == StatusInSiding {
			t.ConflictTime += k.dt
		}
		t.TotalDelay += k.dt
		if t.HaltTimer > eps {
			t.Speed = 0
			return
		}
		t.HaltTimer = 0
		if pt := k.gateAt(t); pt != nil {
			k.openGate(ctx, t, pt)
			return
		}
		t.Status = StatusOnTime
		t.Speed = e.nominal(t)
	}

	// Decision point.
	if pt := k.gateAt(t); pt != nil {
		k.holdAtGate(ctx, t, pt)
		return
	}

	_, end, err := e.ix.trackSpan(t.Track, t.Westbound)
	if err != nil {
		k.fault(ctx, t, err.Error())
		return
	}

	// Path advance.
	if t.CurrentPathIndex < len(t.Path)-1 && t.Position >= end-p.PointTolerance {
		nextID := t.Path[t.CurrentPathIndex+1]
		if !e.ix.IsOpen(nextID) {
			k.fault(ctx, t, fmt.Sprintf("next track %q is unknown or closed", nextID))
			return
		}
		nextStart, nextEnd, err := e.ix.trackSpan(nextID, t.Westbound)
		if err != nil {
			k.fault(ctx, t, err.Error())
			return
		}
		t.CurrentPathIndex++
		t.Track = nextID
		t.Position = math.Max(t.Position, nextStart)
		end = nextEnd
		if pt := k.gateAt(t); pt != nil {
			k.holdAtGate(ctx, t, pt)
			return
		}
	}

	// Platform.
	if !t.HasHaltedAtPlatform {
		if pt := k.platformAt(t); pt != nil {
			t.HasHaltedAtPlatform = true
			if t.PlatformHaltDuration > 0 {
				t.HaltTimer = t.PlatformHaltDuration
				t.halt(StatusAtPlatform)
				return
			}
		}
	}

	// Headway.
	nominal := e.nominal(t)
	gap := k.leadGap(i, t)
	stopping, slowing := p.StoppingDistance(t.BaseSpeed), p.SlowingDistance(t.BaseSpeed)
	speed, status, conflict := nominal, StatusOnTime, false
	switch {
	case gap < stopping:
		speed, status, conflict = 0, StatusStopped, true
	case gap < slowing:
		speed, status, conflict = math.Min(nominal, t.BaseSpeed*gap/slowing), StatusSlowing, true
	}

	// Siding diversion for low-priority traffic.
	if t.Priority.IsLow() {
		if sp, prog := k.sidingAhead(t); sp != nil {
			if hi := k.fasterBehind(i, t); hi != nil {
				k.next.Ledger.detectConflict(hi.ID, t.ID)
				if prog-t.Position < p.SidingCaptureMiles {
					k.next.Ledger.resolveConflict(hi.ID, t.ID)
					t.UsedSidings = append(t.UsedSidings, sp.ID)
					t.HaltTimer = t.SidingHaltDuration
					if t.HaltTimer <= 0 {
						t.HaltTimer = p.DefaultSidingHalt
					}
					t.Position = math.Max(t.Position, prog)
					t.halt(StatusInSiding)
					t.ConflictTime += k.dt
					k.emit(EventSidingDiversion, t, sp.ID, fmt.Sprintf("yielding to %s", hi.ID))
					return
				}
			}
		}
	}

	if conflict {
		t.ConflictTime += k.dt
	}
	if status == StatusStopped || status == StatusSlowing {
		t.TotalDelay += k.dt
	}
	if !conflict && t.TotalDelay > p.PunctualityGrace {
		status = StatusDelayed
	}
	t.Speed, t.Status = speed, status

	// Move, never past the next point that needs attention.
	dist := speed * k.dt / 60
	dist = math.Min(dist, math.Max(0, k.nextStop(t, end)-t.Position))
	t.Position += dist

	// Completion.
	if t.CurrentPathIndex >= len(t.Path)-1 {
		tr := e.ix.Track(t.Track)
		if e.ix.IsExit(tr.To) && t.Position >= end-p.ExitTolerance {
			t.Position = math.Max(t.Position, end)
			t.halt(StatusFinished)
			done := k.now
			t.CompletionTime = &done
			k.emit(EventTrainFinished, t, tr.To, "left the section")
			return
		}
		if !e.ix.IsExit(tr.To) && t.Position >= end-p.PointTolerance {
			k.fault(ctx, t, fmt.Sprintf("path ends at %q, which is not an exit", tr.To))
		}
	}
}

// holdAtGate starts the short approval halt at a decision point, or raises
// the request at once when no halt is configured.
func (k *tick) holdAtGate(ctx context.Context, t *TrainState, pt *model.Point) {
	halt := k.e.policy.ApprovalHaltMinutes()
	if halt <= 0 {
		k.openGate(ctx, t, pt)
		return
	}
	t.HaltTimer = halt
	t.halt(StatusStopped)
}

// openGate freezes the train and raises or queues its request.
func (k *tick) openGate(ctx context.Context, t *TrainState, pt *model.Point) {
	t.ApprovalState = ApprovalPending
	t.DecisionPointID = pt.Name()
	t.halt(StatusAwaitingApproval)
	k.raise(ctx, t, ApprovalRequest{
		TrainID:         t.ID,
		DecisionPointID: pt.Name(),
		PointID:         pt.ID,
		PossiblePaths:   k.e.ix.RouteOptions(t, k.e.policy.MaxRouteOptions),
		RaisedAt:        k.now,
	})
}

func (k *tick) raise(ctx context.Context, t *TrainState, req ApprovalRequest) {
	kind := k.next.enqueue(req)
	msg := "approval requested at " + req.DecisionPointID
	if kind == EventApprovalQueued {
		msg = "approval queued at " + req.DecisionPointID
	}
	k.emit(kind, t, req.PointID, msg)
	k.e.log.Info(ctx, msg,
		logging.TrainID(t.ID),
		logging.Int("waiting", len(k.next.Waiting)),
	)
}

// pointAt returns the first point on the train's track matching want within
// tol of its position.
func (k *tick) pointAt(t *TrainState, tol float64, want func(*model.Point) bool) (*model.Point, float64) {
	for _, pt := range k.e.ix.PointsOn(t.Track) {
		if !want(pt) {
			continue
		}
		prog := k.e.ix.progress(pt.Mile, t.Westbound)
		if math.Abs(prog-t.Position) < tol {
			return pt, prog
		}
	}
	return nil, 0
}

func (k *tick) gateAt(t *TrainState) *model.Point {
	pt, _ := k.pointAt(t, k.e.policy.PointTolerance, func(pt *model.Point) bool {
		return pt.IsDecisionPoint && !t.gateCleared(pt.ID)
	})
	return pt
}

func (k *tick) platformAt(t *TrainState) *model.Point {
	pt, _ := k.pointAt(t, k.e.policy.PlatformTolerance, func(pt *model.Point) bool {
		return pt.IsPlatform
	})
	return pt
}

// sidingAhead returns the nearest unused siding point at or ahead of the
// train on its track.
func (k *tick) sidingAhead(t *TrainState) (*model.Point, float64) {
	var best *model.Point
	bestProg := math.Inf(1)
	for _, pt := range k.e.ix.PointsOn(t.Track) {
		if !pt.IsSiding || t.sidingUsed(pt.ID) {
			continue
		}
		prog := k.e.ix.progress(pt.Mile, t.Westbound)
		if prog < t.Position-k.e.policy.PointTolerance || prog >= bestProg {
			continue
		}
		best, bestProg = pt, prog
	}
	return best, bestProg
}

// leadGap is the distance to the nearest train ahead on the same track,
// using start-of-tick positions. Equal positions are broken by roster order.
func (k *tick) leadGap(i int, t *TrainState) float64 {
	return leadGap(k.prev.Trains, i, t)
}

// leadGap is the distance from t to the nearest main-line train ahead of it
// on its track in trains, or +Inf. Of two trains at the same position the
// one listed first counts as ahead.
func leadGap(trains []TrainState, i int, t *TrainState) float64 {
	gap := math.Inf(1)
	for j := range trains {
		if j == i {
			continue
		}
		o := &trains[j]
		if !o.OnMainLine() || o.Track != t.Track {
			continue
		}
		if o.Position > t.Position || (o.Position == t.Position && j < i) {
			gap = math.Min(gap, o.Position-t.Position)
		}
	}
	return gap
}

// fasterBehind returns the closest higher-priority train behind t on the
// same track within the siding lookbehind range.
func (k *tick) fasterBehind(i int, t *TrainState) *TrainState {
	p := k.e.policy
	reach := p.SidingLookbehindFactor * p.SlowingDistance(t.BaseSpeed)
	var best *TrainState
	bestGap := math.Inf(1)
	for j := range k.prev.Trains {
		if j == i {
			continue
		}
		o := &k.prev.Trains[j]
		if !o.OnMainLine() || o.Track != t.Track || !o.Priority.Outranks(t.Priority) {
			continue
		}
		gap := t.Position - o.Position
		if gap <= 0 || gap >= reach || gap >= bestGap {
			continue
		}
		best, bestGap = o, gap
	}
	return best
}

// nextStop is the progress of the nearest point ahead that the train must
// not run past this tick: the track end, an uncleared decision point or an
// unvisited platform.
func (k *tick) nextStop(t *TrainState, end float64) float64 {
	stop := end
	for _, pt := range k.e.ix.PointsOn(t.Track) {
		relevant := (pt.IsDecisionPoint && !t.gateCleared(pt.ID)) || (pt.IsPlatform && !t.HasHaltedAtPlatform)
		if !relevant {
			continue
		}
		prog := k.e.ix.progress(pt.Mile, t.Westbound)
		if prog > t.Position+eps && prog < stop {
			stop = prog
		}
	}
	return stop
}
