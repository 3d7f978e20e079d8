package timectrl

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"
)

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

func TestSchedulerStepWhilePaused(t *testing.T) {
	var n atomic.Int32
	s := NewScheduler(time.Second, func(context.Context) { n.Add(1) })

	var seen []uint64
	s.AddListener(func(tick uint64) { seen = append(seen, tick) })

	for range 3 {
		if err := s.Step(context.Background()); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if n.Load() != 3 || s.Ticks() != 3 {
		t.Fatalf("ticks=%d/%d, want 3", n.Load(), s.Ticks())
	}
	if len(seen) != 3 || seen[2] != 3 {
		t.Fatalf("listener saw %v", seen)
	}
}

func TestSchedulerStepRejectedWhileRunning(t *testing.T) {
	s := NewScheduler(time.Hour, nil)
	s.Play()
	if err := s.Step(context.Background()); !errors.Is(err, ErrRunning) {
		t.Fatalf("Step while running error = %v, want ErrRunning", err)
	}
	s.Pause()
	if err := s.Step(context.Background()); err != nil {
		t.Fatalf("Step after pause: %v", err)
	}
}

func TestSchedulerPlayAndPause(t *testing.T) {
	var n atomic.Int32
	s := NewScheduler(2*time.Millisecond, func(context.Context) { n.Add(1) })
	ctx, cancel := context.WithCancel(context.Background())
	done := s.Start(ctx)
	defer func() {
		cancel()
		<-done
	}()

	time.Sleep(20 * time.Millisecond)
	if n.Load() != 0 {
		t.Fatalf("paused scheduler fired %d ticks", n.Load())
	}

	s.Play()
	waitFor(t, 2*time.Second, func() bool { return n.Load() >= 3 })

	s.Pause()
	time.Sleep(10 * time.Millisecond)
	before := n.Load()
	time.Sleep(30 * time.Millisecond)
	if after := n.Load(); after != before {
		t.Fatalf("ticks advanced from %d to %d while paused", before, after)
	}
}

func TestSchedulerNeverOverlapsTicks(t *testing.T) {
	var inFlight, overlaps, total atomic.Int32
	s := NewScheduler(time.Millisecond, func(context.Context) {
		if inFlight.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(200 * time.Microsecond)
		inFlight.Add(-1)
		total.Add(1)
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := s.Start(ctx)
	s.Play()

	stepped := make(chan struct{})
	go func() {
		defer close(stepped)
		for range 50 {
			s.Pause()
			_ = s.Step(ctx)
			s.Play()
		}
	}()
	<-stepped
	waitFor(t, 2*time.Second, func() bool { return total.Load() >= 60 })
	cancel()
	<-done

	if overlaps.Load() != 0 {
		t.Fatalf("%d overlapping ticks", overlaps.Load())
	}
}

func TestSchedulerSetSpeed(t *testing.T) {
	s := NewScheduler(100*time.Millisecond, nil)
	if err := s.SetSpeed(2); err != nil {
		t.Fatalf("SetSpeed(2): %v", err)
	}
	if s.Interval() != 50*time.Millisecond || s.Speed() != 2 {
		t.Fatalf("interval=%v speed=%v", s.Interval(), s.Speed())
	}
	if err := s.SetSpeed(1e9); err != nil {
		t.Fatalf("SetSpeed(1e9): %v", err)
	}
	if s.Interval() != MinInterval {
		t.Fatalf("interval=%v, want floor %v", s.Interval(), MinInterval)
	}
	for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := s.SetSpeed(bad); !errors.Is(err, ErrInvalidSpeed) {
			t.Fatalf("SetSpeed(%v) error = %v, want ErrInvalidSpeed", bad, err)
		}
	}
	if s.Speed() != 1e9 {
		t.Fatalf("rejected speed changed the multiplier")
	}
}

func TestSchedulerResumeAfter(t *testing.T) {
	s := NewScheduler(time.Hour, nil)
	s.ResumeAfter(5 * time.Millisecond)
	if s.Running() {
		t.Fatalf("resumed before the delay")
	}
	waitFor(t, time.Second, s.Running)

	s.Pause()
	s.ResumeAfter(10 * time.Millisecond)
	s.Pause()
	time.Sleep(40 * time.Millisecond)
	if s.Running() {
		t.Fatalf("Pause did not cancel the pending resume")
	}
}

func TestSchedulerExclusiveWaitsForTick(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	s := NewScheduler(time.Hour, func(context.Context) {
		close(entered)
		<-release
	})
	go func() { _ = s.Step(context.Background()) }()
	<-entered

	var ran atomic.Bool
	done := make(chan struct{})
	go func() {
		s.Exclusive(func() { ran.Store(true) })
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	if ran.Load() {
		t.Fatalf("Exclusive ran during a tick")
	}
	close(release)
	<-done
	if !ran.Load() {
		t.Fatalf("Exclusive never ran")
	}
}
