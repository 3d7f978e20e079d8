//go:build perf || perf_large

package perf

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/signalsfoundry/railsection-simulator/core"
	"github.com/signalsfoundry/railsection-simulator/internal/logging"
	"github.com/signalsfoundry/railsection-simulator/internal/sim/session"
	"github.com/signalsfoundry/railsection-simulator/kb"
	"github.com/signalsfoundry/railsection-simulator/model"
)

type perfConfig struct {
	Trains   int
	Ticks    int
	Sessions int
}

// crowdedCase returns case1 with extra trains spread over its four tracks,
// departing one minute apart.
func crowdedCase(b *testing.B, trains int) *model.Case {
	b.Helper()
	c, err := kb.NewBuiltinCaseBook().Get("case1")
	if err != nil {
		b.Fatalf("case1: %v", err)
	}
	tracks := []string{"T1", "T2", "T3", "T4"}
	for i := len(c.InitialTrains); i < trains; i++ {
		prio := model.PriorityHigh
		speed := 100.0
		if i%3 == 0 {
			prio, speed = model.PriorityLow, 50
		}
		c.InitialTrains = append(c.InitialTrains, model.TrainSpec{
			ID:                   fmt.Sprintf("X%04d", i),
			Path:                 []string{tracks[i%len(tracks)]},
			BaseSpeed:            speed,
			Priority:             prio,
			StartTime:            float64(i),
			PlatformHaltDuration: 2,
		})
	}
	return c
}

// approveAll answers every open request with its first route.
func approveAll(ctx context.Context, b *testing.B, e *core.Engine, st *core.State) *core.State {
	for st.Approval != nil {
		d := core.Decision{TrainID: st.Approval.TrainID, Approved: true}
		if len(st.Approval.PossiblePaths) > 0 {
			d.Path = st.Approval.PossiblePaths[0]
		}
		next, _, err := e.Resolve(ctx, st, d)
		if err != nil {
			b.Fatalf("Resolve(%s): %v", d.TrainID, err)
		}
		st = next
	}
	return st
}

func benchmarkAdvance(b *testing.B, cfg perfConfig) {
	ctx := context.Background()
	c := crowdedCase(b, cfg.Trains)
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		e, err := core.NewEngine(c, core.WithEngineLogger(logging.Noop()))
		if err != nil {
			b.Fatalf("NewEngine: %v", err)
		}
		st := e.Initial()

		b.ResetTimer()
		for j := 0; j < cfg.Ticks; j++ {
			st, _ = e.Advance(ctx, st)
			st = approveAll(ctx, b, e, st)
		}
		b.StopTimer()
	}
}

func benchmarkSessions(b *testing.B, cfg perfConfig) {
	ctx := context.Background()
	c := crowdedCase(b, cfg.Trains)
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		sessions := make([]*session.Session, 0, cfg.Sessions)
		for j := 0; j < cfg.Sessions; j++ {
			s, err := session.New(c, session.WithAutoApprove(true), session.WithTickInterval(time.Hour))
			if err != nil {
				b.Fatalf("session.New: %v", err)
			}
			sessions = append(sessions, s)
		}

		b.ResetTimer()
		for t := 0; t < cfg.Ticks; t++ {
			for _, s := range sessions {
				if err := s.Step(ctx); err != nil {
					b.Fatalf("Step: %v", err)
				}
			}
		}
		b.StopTimer()

		for _, s := range sessions {
			s.Close()
		}
	}
}
