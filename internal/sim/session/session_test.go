package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/signalsfoundry/railsection-simulator/core"
	"github.com/signalsfoundry/railsection-simulator/internal/observability"
	"github.com/signalsfoundry/railsection-simulator/kb"
	"github.com/signalsfoundry/railsection-simulator/model"
)

func builtin(t *testing.T, id string) *model.Case {
	t.Helper()
	for _, c := range kb.BuiltinCases() {
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("no builtin case %q", id)
	return nil
}

// idle keeps the timer out of the way so tests drive ticks with Step.
func idle() []Option {
	return []Option{WithTickInterval(time.Hour), WithResumeDelay(time.Hour)}
}

func newSession(t *testing.T, c *model.Case, opts ...Option) *Session {
	t.Helper()
	s, err := New(c, append(idle(), opts...)...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func stepN(t *testing.T, s *Session, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := s.Step(context.Background()); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
}

func hasAudit(entries []AuditEvent, typ AuditType, actor, action, trainID string) bool {
	for _, ev := range entries {
		if ev.Type == typ && ev.Actor == actor && ev.Action == action && (trainID == "" || ev.TrainID == trainID) {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

type fakeRecorder struct {
	mu       sync.Mutex
	ticks    int
	states   int
	raised   int
	decided  map[bool]int
	forgot   bool
	lastCase string
}

func (f *fakeRecorder) ObserveTick(_, caseID string, _ time.Duration, _ *core.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
	f.lastCase = caseID
}

func (f *fakeRecorder) ObserveState(string, string, *core.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states++
}

func (f *fakeRecorder) ApprovalRaised(_, _ string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raised += n
}

func (f *fakeRecorder) ApprovalDecided(_, _ string, approved bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decided == nil {
		f.decided = make(map[bool]int)
	}
	f.decided[approved]++
}

func (f *fakeRecorder) Forget(string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgot = true
}

func TestNewSession(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, model.ErrInvalidCase) {
		t.Fatalf("New(nil) error = %v, want ErrInvalidCase", err)
	}
	if _, err := New(builtin(t, "case1"), WithSpeed(0)); !errors.Is(err, ErrInvalidSpeed) {
		t.Fatalf("New with speed 0 error = %v, want ErrInvalidSpeed", err)
	}

	a := newSession(t, builtin(t, "case1"))
	b := newSession(t, builtin(t, "case1"))
	if a.ID() == b.ID() || a.ID() == "" {
		t.Fatalf("session ids not unique: %q %q", a.ID(), b.ID())
	}

	snap := a.Snapshot()
	if snap.SessionID != a.ID() || snap.CaseID != "case1" || snap.CaseName != "Normal Operations" {
		t.Fatalf("snapshot header %+v", snap)
	}
	if snap.Status != StatusPaused || snap.Tick != 0 || snap.Speed != 1 {
		t.Fatalf("fresh session status=%s tick=%d speed=%v", snap.Status, snap.Tick, snap.Speed)
	}
	if len(snap.Trains) != 4 || snap.Approval != nil || len(snap.WaitingApprovals) != 0 {
		t.Fatalf("fresh snapshot trains=%d approval=%v waiting=%v", len(snap.Trains), snap.Approval, snap.WaitingApprovals)
	}
	if snap.Metrics != core.InitialMetrics() {
		t.Fatalf("fresh metrics %+v", snap.Metrics)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	a := newSession(t, builtin(t, "case1"))
	b := newSession(t, builtin(t, "case1"))
	stepN(t, a, 6)
	if got := b.Snapshot().Tick; got != 0 {
		t.Fatalf("stepping one session advanced the other to tick %d", got)
	}
	if got := a.Snapshot(); got.Tick != 6 || got.TimeMinutes < 0.99 || got.TimeMinutes > 1.01 {
		t.Fatalf("after 6 steps tick=%d time=%v", got.Tick, got.TimeMinutes)
	}
}

func TestSessionResolveApproval(t *testing.T) {
	s := newSession(t, builtin(t, "case1"))
	ctx := context.Background()

	if err := s.Resolve(ctx, core.Decision{TrainID: "T12613", Approved: true}); !errors.Is(err, core.ErrNoOutstandingApproval) {
		t.Fatalf("Resolve before any request error = %v", err)
	}

	stepN(t, s, 1)
	snap := s.Snapshot()
	if snap.Approval == nil || snap.Approval.TrainID != "T12613" || !snap.Approval.IsStartGate() {
		t.Fatalf("expected start gate request for T12613, got %+v", snap.Approval)
	}

	if err := s.Resolve(ctx, core.Decision{TrainID: "T16216", Approved: true}); !errors.Is(err, core.ErrApprovalMismatch) {
		t.Fatalf("mismatched Resolve error = %v, want ErrApprovalMismatch", err)
	}
	if err := s.Resolve(ctx, core.Decision{TrainID: "T12613", Approved: true}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	snap = s.Snapshot()
	tr, ok := findTrain(snap.Trains, "T12613")
	if !ok || !tr.Entered() || tr.Speed == 0 {
		t.Fatalf("approved train not admitted: %+v", tr)
	}
	if snap.Approval != nil {
		t.Fatalf("request still outstanding: %+v", snap.Approval)
	}
	if !hasAudit(snap.Audit, AuditRequestDecision, ActorController, "approved", "T12613") {
		t.Fatalf("decision missing from audit trail: %+v", snap.Audit)
	}
	if !hasAudit(snap.Audit, AuditSimulationControl, ActorController, "step", "") {
		t.Fatalf("step missing from audit trail: %+v", snap.Audit)
	}
}

func findTrain(trains []core.TrainState, id string) (core.TrainState, bool) {
	for _, tr := range trains {
		if tr.ID == id {
			return tr, true
		}
	}
	return core.TrainState{}, false
}

func TestSessionAutoApproveRunsToCompletion(t *testing.T) {
	rec := &fakeRecorder{}
	s := newSession(t, builtin(t, "case1"), WithAutoApprove(true), WithMetricsRecorder(rec))

	for i := 0; i < 3000 && s.Status() != StatusStopped; i++ {
		stepN(t, s, 1)
	}
	snap := s.Snapshot()
	if snap.Status != StatusStopped {
		t.Fatalf("case1 did not complete by tick %d", snap.Tick)
	}
	for _, tr := range snap.Trains {
		if !tr.Finished() {
			t.Fatalf("train %s ended as %s", tr.ID, tr.Status)
		}
	}
	if !hasAudit(snap.Audit, AuditSimulationControl, ActorSystem, "complete", "") {
		t.Fatalf("completion missing from audit trail")
	}
	if snap.Metrics.Throughput <= 0 {
		t.Fatalf("throughput=%v after completion", snap.Metrics.Throughput)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.ticks != snap.Tick || rec.lastCase != "case1" {
		t.Fatalf("recorder saw %d ticks for %q, want %d", rec.ticks, rec.lastCase, snap.Tick)
	}
	if rec.raised < 4 || rec.decided[true] != rec.raised {
		t.Fatalf("raised=%d decided=%v", rec.raised, rec.decided)
	}
}

func TestSessionResetIsIdempotent(t *testing.T) {
	rec := &fakeRecorder{}
	s := newSession(t, builtin(t, "case1"), WithAutoApprove(true), WithMetricsRecorder(rec))
	ctx := context.Background()
	stepN(t, s, 60)

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	first := s.Snapshot()
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	second := s.Snapshot()

	if !reflect.DeepEqual(first.Trains, second.Trains) {
		t.Fatalf("two resets produced different trains")
	}
	if second.Tick != 0 || second.TimeMinutes != 0 || second.Approval != nil || len(second.Events) != 0 {
		t.Fatalf("reset left state behind: %+v", second)
	}
	if second.Metrics != core.InitialMetrics() {
		t.Fatalf("reset metrics %+v", second.Metrics)
	}
	if !hasAudit(second.Audit, AuditSimulationControl, ActorController, "reset", "") {
		t.Fatalf("reset missing from audit trail")
	}
	// One observation at construction and one per reset.
	rec.mu.Lock()
	states := rec.states
	rec.mu.Unlock()
	if states != 3 {
		t.Fatalf("ObserveState calls=%d, want 3", states)
	}
}

func TestSessionSpeedAndStepping(t *testing.T) {
	s := newSession(t, builtin(t, "case1"))
	ctx := context.Background()

	if err := s.SetSpeed(ctx, -1); !errors.Is(err, ErrInvalidSpeed) {
		t.Fatalf("SetSpeed(-1) error = %v", err)
	}
	if err := s.SetSpeed(ctx, 4); err != nil {
		t.Fatalf("SetSpeed(4): %v", err)
	}
	if got := s.Snapshot().Speed; got != 4 {
		t.Fatalf("speed=%v, want 4", got)
	}

	if err := s.Play(ctx); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if s.Status() != StatusRunning {
		t.Fatalf("status=%s after Play", s.Status())
	}
	if err := s.Step(ctx); !errors.Is(err, ErrRunning) {
		t.Fatalf("Step while running error = %v, want ErrRunning", err)
	}
	if err := s.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := s.Step(ctx); err != nil {
		t.Fatalf("Step after Pause: %v", err)
	}
}

func TestSessionTimerStopsOnCompletion(t *testing.T) {
	s, err := New(builtin(t, "case1"), WithTickInterval(time.Millisecond), WithResumeDelay(0), WithAutoApprove(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 20*time.Second, func() bool { return s.Status() == StatusStopped })
	waitFor(t, time.Second, func() bool { return !s.sched.Running() })

	before := s.Snapshot().Tick
	time.Sleep(20 * time.Millisecond)
	if got := s.Snapshot().Tick; got != before {
		t.Fatalf("ticks advanced after completion: %d -> %d", before, got)
	}
}

func TestSessionTimerDrivesTicks(t *testing.T) {
	s, err := New(builtin(t, "case1"), WithTickInterval(time.Millisecond), WithResumeDelay(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return s.Snapshot().Tick >= 5 })

	s.Close()
	s.Close()
	after := s.Snapshot()
	time.Sleep(20 * time.Millisecond)
	if got := s.Snapshot().Tick; got != after.Tick {
		t.Fatalf("ticks advanced after Close: %d -> %d", after.Tick, got)
	}
	if after.Status != StatusStopped {
		t.Fatalf("closed session status=%s", after.Status)
	}
	ctx := context.Background()
	if err := s.Play(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Play after Close error = %v", err)
	}
	if err := s.Step(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Step after Close error = %v", err)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after Close error = %v", err)
	}
}

func TestSessionTopologyFaultIsAudited(t *testing.T) {
	c := builtin(t, "case1")
	c.Config.TrackClosure = "T2"
	s := newSession(t, c, WithAutoApprove(true))
	stepN(t, s, 40)

	snap := s.Snapshot()
	tr, _ := findTrain(snap.Trains, "F5678")
	if !tr.Faulted() || tr.Status != core.StatusStopped || tr.Speed != 0 {
		t.Fatalf("F5678 should be frozen by the closure: %+v", tr)
	}
	if !hasAudit(snap.Audit, AuditSystemAlert, ActorSystem, "topology_fault", "F5678") {
		t.Fatalf("fault missing from audit trail: %+v", snap.Audit)
	}
	for _, other := range []string{"T12613", "T16216"} {
		if tr, _ := findTrain(snap.Trains, other); tr.Faulted() || !tr.Entered() {
			t.Fatalf("%s affected by another train's fault: %+v", other, tr)
		}
	}
}

func TestSessionInvalidCaseStillStarts(t *testing.T) {
	c := builtin(t, "case1")
	c.InitialTrains[0].Path = []string{"NOPE"}
	s := newSession(t, c)
	if !hasAudit(s.Audit(), AuditSystemAlert, ActorSystem, "case_invalid", "") {
		t.Fatalf("invalid case not flagged: %+v", s.Audit())
	}
	stepN(t, s, 3)
}

func TestSessionEventWindowIsBounded(t *testing.T) {
	s := newSession(t, builtin(t, "case1"), WithAutoApprove(true))
	s.opts.eventLimit = 3
	stepN(t, s, 60)
	if n := len(s.Snapshot().Events); n > 3 {
		t.Fatalf("kept %d events, limit 3", n)
	}
}

func TestAuditRingKeepsNewest(t *testing.T) {
	r := newAuditRing(2)
	for _, action := range []string{"a", "b", "c"} {
		r.add(AuditEvent{Action: action})
	}
	got := r.list()
	if len(got) != 2 || got[0].Action != "b" || got[1].Action != "c" {
		t.Fatalf("ring=%+v", got)
	}
	if got[0].ID == "" || got[0].At.IsZero() {
		t.Fatalf("ring did not stamp entries: %+v", got[0])
	}
}

func TestSessionCloseForgetsMetrics(t *testing.T) {
	rec := &fakeRecorder{}
	s, err := New(builtin(t, "case4"), append(idle(), WithMetricsRecorder(rec))...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Close()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.forgot {
		t.Fatalf("Close did not forget session metrics")
	}
}

// TestSessionCompletesWithRejectedTrain approves every request except the
// start gate of one train; that train stays outside the section and the run
// still completes once the rest have finished.
func TestSessionCompletesWithRejectedTrain(t *testing.T) {
	const refused = "T16216"
	s := newSession(t, builtin(t, "case1"))
	ctx := context.Background()

	for i := 0; i < 3000 && s.Status() != StatusStopped; i++ {
		stepN(t, s, 1)
		for snap := s.Snapshot(); snap.Approval != nil; snap = s.Snapshot() {
			req := snap.Approval
			d := core.Decision{TrainID: req.TrainID, Approved: req.TrainID != refused}
			if d.Approved && len(req.PossiblePaths) > 0 {
				d.Path = req.PossiblePaths[0]
			}
			err := s.Resolve(ctx, d)
			if errors.Is(err, core.ErrInvalidPath) {
				d.Path = nil
				err = s.Resolve(ctx, d)
			}
			if err != nil {
				t.Fatalf("Resolve %s: %v", req.TrainID, err)
			}
		}
	}

	snap := s.Snapshot()
	if snap.Status != StatusStopped {
		t.Fatalf("session still %s at tick %d", snap.Status, snap.Tick)
	}
	for _, tr := range snap.Trains {
		if tr.ID == refused {
			if tr.Entered() || tr.Status != core.StatusStopped || tr.ApprovalState != core.ApprovalRejected {
				t.Fatalf("refused train %+v", tr)
			}
			continue
		}
		if !tr.Finished() {
			t.Fatalf("train %s ended as %s", tr.ID, tr.Status)
		}
	}
	if !hasAudit(snap.Audit, AuditRequestDecision, ActorController, "rejected", refused) {
		t.Fatalf("rejection missing from audit trail")
	}
	if !hasAudit(snap.Audit, AuditSimulationControl, ActorSystem, "complete", "") {
		t.Fatalf("completion missing from audit trail")
	}
}

func TestAllDone(t *testing.T) {
	cases := []struct {
		name   string
		trains []core.TrainState
		want   bool
	}{
		{"empty", nil, false},
		{"finished", []core.TrainState{{Status: core.StatusFinished}}, true},
		{"faulted", []core.TrainState{{Status: core.StatusStopped, Fault: "closed"}}, true},
		{"rejected", []core.TrainState{{Status: core.StatusStopped, ApprovalState: core.ApprovalRejected}}, true},
		{"mixed", []core.TrainState{{Status: core.StatusFinished}, {Status: core.StatusStopped, ApprovalState: core.ApprovalRejected}}, true},
		{"still pending", []core.TrainState{{Status: core.StatusFinished}, {Status: core.StatusAwaitingApproval}}, false},
		{"stopped behind traffic", []core.TrainState{{Status: core.StatusStopped, ApprovalState: core.ApprovalApproved}}, false},
	}
	for _, tc := range cases {
		if got := allDone(&core.State{Trains: tc.trains}); got != tc.want {
			t.Fatalf("%s: allDone = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSessionSpansCarrySessionAttributes(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	s := newSession(t, builtin(t, "case1"), WithTracer(tp.Tracer("test")))
	stepN(t, s, 1)
	if err := s.Resolve(context.Background(), core.Decision{TrainID: "T12613", Approved: true}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	names := map[string]bool{}
	for _, span := range rec.Ended() {
		names[span.Name()] = true
		attrs := map[string]string{}
		for _, kv := range span.Attributes() {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		if attrs[string(observability.AttrSessionID)] != s.ID() || attrs[string(observability.AttrCaseID)] != "case1" {
			t.Fatalf("span %s attributes %v", span.Name(), attrs)
		}
		if span.Name() == "session.Resolve" && attrs[string(observability.AttrTrainID)] != "T12613" {
			t.Fatalf("resolve span train attribute %v", attrs)
		}
	}
	if !names["session.tick"] || !names["session.Resolve"] {
		t.Fatalf("recorded spans %v", names)
	}
}
