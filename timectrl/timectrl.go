package timectrl

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

var (
	// ErrInvalidSpeed is returned for a speed multiplier that is not a
	// positive finite number.
	ErrInvalidSpeed = errors.New("speed multiplier must be positive and finite")
	// ErrRunning is returned by Step while the scheduler is playing.
	ErrRunning = errors.New("scheduler is running; pause before stepping")
)

// MinInterval bounds how fast the scheduler may fire regardless of speed.
const MinInterval = time.Millisecond

// TickFunc performs one simulation tick. It runs to completion before the
// next tick can start.
type TickFunc func(ctx context.Context)

// Scheduler drives a TickFunc on a wall-clock cadence of base/speed. It never
// runs two ticks at once: ticks fired by the timer and ticks requested
// through Step are serialized.
//
// The scheduler only decides when a tick happens. How much simulated time a
// tick covers is the engine's business.
type Scheduler struct {
	mu      sync.Mutex
	base    time.Duration
	speed   float64
	running bool
	ticks   uint64
	resume  *time.Timer

	tickMu sync.Mutex
	tick   TickFunc

	// wake nudges the loop to re-read running and interval.
	wake chan struct{}

	listeners []func(uint64)
}

// NewScheduler constructs a paused scheduler at speed 1.
func NewScheduler(base time.Duration, fn TickFunc) *Scheduler {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return &Scheduler{
		base:  base,
		speed: 1,
		tick:  fn,
		wake:  make(chan struct{}, 1),
	}
}

// AddListener registers a callback invoked with the tick count after every
// tick. Register listeners before Start.
func (s *Scheduler) AddListener(fn func(uint64)) {
	s.listeners = append(s.listeners, fn)
}

// Start runs the timer loop in a separate goroutine until ctx is cancelled.
// It returns a channel that is closed when the loop exits.
func (s *Scheduler) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		timer := time.NewTimer(time.Hour)
		timer.Stop()
		defer timer.Stop()

		for {
			s.mu.Lock()
			running, interval := s.running, s.intervalLocked()
			s.mu.Unlock()

			var fire <-chan time.Time
			if running {
				timer.Reset(interval)
				fire = timer.C
			}

			select {
			case <-ctx.Done():
				s.cancelResume()
				return
			case <-s.wake:
				timer.Stop()
			case <-fire:
				// Pause may have landed while the timer was pending.
				if s.Running() {
					s.fire(ctx)
				}
			}
		}
	}()
	return done
}

// Play resumes timer-driven ticks.
func (s *Scheduler) Play() {
	s.mu.Lock()
	s.stopResumeLocked()
	s.running = true
	s.mu.Unlock()
	s.nudge()
}

// Pause stops timer-driven ticks and cancels a pending ResumeAfter. A tick
// already in progress completes.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.stopResumeLocked()
	s.running = false
	s.mu.Unlock()
	s.nudge()
}

// ResumeAfter plays once d has elapsed unless Pause or Play is called
// first.
func (s *Scheduler) ResumeAfter(d time.Duration) {
	if d <= 0 {
		s.Play()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopResumeLocked()
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.resume != t {
			s.mu.Unlock()
			return
		}
		s.resume = nil
		s.running = true
		s.mu.Unlock()
		s.nudge()
	})
	s.resume = t
}

// Step runs exactly one tick synchronously. It is only allowed while
// paused.
func (s *Scheduler) Step(ctx context.Context) error {
	if s.Running() {
		return ErrRunning
	}
	s.fire(ctx)
	return nil
}

// Exclusive runs fn while no tick is in progress. Inputs applied through
// Exclusive land between ticks.
func (s *Scheduler) Exclusive(fn func()) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	fn()
}

// SetSpeed changes the cadence multiplier. Speed 2 fires twice as often.
func (s *Scheduler) SetSpeed(multiplier float64) error {
	if math.IsNaN(multiplier) || math.IsInf(multiplier, 0) || multiplier <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidSpeed, multiplier)
	}
	s.mu.Lock()
	s.speed = multiplier
	s.mu.Unlock()
	s.nudge()
	return nil
}

// Speed returns the current multiplier.
func (s *Scheduler) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// Interval is the wall-clock time between timer-driven ticks.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intervalLocked()
}

// Running reports whether timer-driven ticks are enabled.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Ticks is the number of ticks run so far.
func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

func (s *Scheduler) intervalLocked() time.Duration {
	d := time.Duration(float64(s.base) / s.speed)
	if d < MinInterval {
		d = MinInterval
	}
	return d
}

func (s *Scheduler) fire(ctx context.Context) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	if s.tick != nil {
		s.tick(ctx)
	}
	s.mu.Lock()
	s.ticks++
	n := s.ticks
	s.mu.Unlock()
	for _, fn := range s.listeners {
		fn(n)
	}
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) stopResumeLocked() {
	if s.resume != nil {
		s.resume.Stop()
		s.resume = nil
	}
}

func (s *Scheduler) cancelResume() {
	s.mu.Lock()
	s.stopResumeLocked()
	s.mu.Unlock()
}
