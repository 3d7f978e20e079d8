package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/signalsfoundry/railsection-simulator/kb"
)

func newManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	m := NewManager(kb.NewBuiltinCaseBook(), append([]ManagerOption{WithSessionOptions(idle()...)}, opts...)...)
	t.Cleanup(func() { m.CloseAll(context.Background()) })
	return m
}

func TestManagerStartUnknownCase(t *testing.T) {
	m := newManager(t)
	if _, err := m.Start(context.Background(), "case99"); !errors.Is(err, kb.ErrCaseNotFound) {
		t.Fatalf("Start(case99) error = %v, want ErrCaseNotFound", err)
	}
	if n := len(m.List()); n != 0 {
		t.Fatalf("failed start left %d sessions", n)
	}
}

func TestManagerLifecycle(t *testing.T) {
	var count atomic.Int32
	m := newManager(t, WithSessionCountHook(func(n int) { count.Store(int32(n)) }))
	ctx := context.Background()

	a, err := m.Start(ctx, "case1")
	if err != nil {
		t.Fatalf("Start(case1): %v", err)
	}
	b, err := m.Start(ctx, "case4")
	if err != nil {
		t.Fatalf("Start(case4): %v", err)
	}
	if count.Load() != 2 {
		t.Fatalf("count hook=%d, want 2", count.Load())
	}

	got, err := m.Get(a.ID())
	if err != nil || got != a {
		t.Fatalf("Get(%s)=%v,%v", a.ID(), got, err)
	}
	list := m.List()
	if len(list) != 2 || list[0] != a || list[1] != b {
		t.Fatalf("List order unexpected")
	}

	if err := m.Close(ctx, a.ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.Get(a.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get after Close error = %v", err)
	}
	if err := m.Close(ctx, a.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second Close error = %v", err)
	}
	if a.Status() != StatusStopped {
		t.Fatalf("closed session status=%s", a.Status())
	}

	m.CloseAll(ctx)
	if len(m.List()) != 0 || count.Load() != 0 {
		t.Fatalf("CloseAll left %d sessions, count=%d", len(m.List()), count.Load())
	}
	if b.Status() != StatusStopped {
		t.Fatalf("CloseAll did not stop %s", b.ID())
	}
}

func TestManagerFlagsCaseChanges(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	a, err := m.Start(ctx, "case1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	other, err := m.Start(ctx, "case4")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	replacement := builtin(t, "case1")
	replacement.Name = "Edited"
	if err := m.Cases().Put(replacement); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !hasAudit(a.Audit(), AuditSystemAlert, ActorSystem, "case_replaced", "") {
		t.Fatalf("replacement not flagged: %+v", a.Audit())
	}
	if a.Snapshot().CaseName != "Normal Operations" {
		t.Fatalf("running session picked up the replaced definition")
	}

	if err := m.Cases().Remove("case1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !hasAudit(a.Audit(), AuditSystemAlert, ActorSystem, "case_removed", "") {
		t.Fatalf("removal not flagged")
	}
	for _, ev := range other.Audit() {
		if ev.Type == AuditSystemAlert {
			t.Fatalf("unrelated session flagged: %+v", ev)
		}
	}
	if _, err := m.Start(ctx, "case1"); !errors.Is(err, kb.ErrCaseNotFound) {
		t.Fatalf("Start of removed case error = %v", err)
	}
}
