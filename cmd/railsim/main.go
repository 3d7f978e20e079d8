package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/signalsfoundry/railsection-simulator/core"
	"github.com/signalsfoundry/railsection-simulator/internal/config"
	"github.com/signalsfoundry/railsection-simulator/internal/logging"
	"github.com/signalsfoundry/railsection-simulator/internal/sim/session"
	"github.com/signalsfoundry/railsection-simulator/internal/store"
)

// runOptions describes one headless run.
type runOptions struct {
	CaseID   string
	MaxTicks int
	Every    int
	Reject   map[string]bool
	JSON     bool
}

func main() {
	config.LoadDotEnv()
	cfg := config.Load()

	caseID := flag.String("case", "case1", "ID of the case to run")
	maxTicks := flag.Int("max-ticks", 5000, "stop after this many ticks even if trains are still running")
	every := flag.Int("every", 60, "print a progress line every N ticks (0 disables)")
	reject := flag.String("reject", "", "comma-separated train IDs whose approval requests are rejected")
	asJSON := flag.Bool("json", false, "print the final snapshot as JSON instead of a KPI table")
	flag.StringVar(&cfg.CaseSource, "case-source", cfg.CaseSource, "where cases come from: builtin, json, sqlite or postgres")
	flag.StringVar(&cfg.CasesDir, "cases-dir", cfg.CasesDir, "directory of case JSON files for -case-source=json")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := runOptions{
		CaseID:   *caseID,
		MaxTicks: *maxTicks,
		Every:    *every,
		Reject:   parseSet(*reject),
		JSON:     *asJSON,
	}
	if _, err := run(ctx, cfg, opts, log, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "railsim: %v\n", err)
		os.Exit(1)
	}
}

// run steps a paused session until every train is done or MaxTicks is
// reached, answering approval requests itself, and prints a report to out.
func run(ctx context.Context, cfg *config.Config, opts runOptions, log logging.Logger, out io.Writer) (session.Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return session.Snapshot{}, err
	}
	book, err := store.OpenCaseBook(ctx, cfg, log)
	if err != nil {
		return session.Snapshot{}, err
	}
	c, err := book.Get(opts.CaseID)
	if err != nil {
		return session.Snapshot{}, err
	}

	sess, err := session.New(c,
		session.WithLogger(log),
		session.WithPolicy(cfg.Policy),
		session.WithTickInterval(time.Hour),
	)
	if err != nil {
		return session.Snapshot{}, err
	}
	defer sess.Close()

	fmt.Fprintf(out, "Running %s (%s): %d trains, max %d ticks\n", c.ID, c.Name, len(c.InitialTrains), opts.MaxTicks)

	snap := sess.Snapshot()
	for snap.Tick < opts.MaxTicks && snap.Status != session.StatusStopped {
		if err := ctx.Err(); err != nil {
			return snap, err
		}
		if err := sess.Step(ctx); err != nil {
			return snap, err
		}
		snap = sess.Snapshot()
		for snap.Approval != nil {
			d := decide(snap.Approval, opts.Reject)
			err := sess.Resolve(ctx, d)
			if errors.Is(err, core.ErrInvalidPath) {
				d.Path = nil
				err = sess.Resolve(ctx, d)
			}
			if err != nil {
				return snap, fmt.Errorf("resolve approval for %s: %w", d.TrainID, err)
			}
			snap = sess.Snapshot()
		}
		if opts.Every > 0 && snap.Tick%opts.Every == 0 && !opts.JSON {
			fmt.Fprintf(out, "[t=%6.1f min] finished=%d throughput=%.1f/h avg delay=%.1f min\n",
				snap.TimeMinutes, countStatus(snap, core.StatusFinished), snap.Metrics.Throughput, snap.Metrics.AvgDelay)
		}
	}

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return snap, enc.Encode(snap)
	}
	return snap, printReport(out, snap)
}

// decide approves on the first offered route unless the train is listed
// in reject.
func decide(req *core.ApprovalRequest, reject map[string]bool) core.Decision {
	d := core.Decision{TrainID: req.TrainID, Approved: !reject[req.TrainID]}
	if d.Approved && len(req.PossiblePaths) > 0 {
		d.Path = req.PossiblePaths[0]
	}
	return d
}

func printReport(out io.Writer, snap session.Snapshot) error {
	m := snap.Metrics.Rounded()
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "\nSimulated\t%.1f min (%d ticks)\n", snap.TimeMinutes, snap.Tick)
	fmt.Fprintf(tw, "Throughput\t%.1f trains/h\n", m.Throughput)
	fmt.Fprintf(tw, "Average delay\t%.1f min\n", m.AvgDelay)
	fmt.Fprintf(tw, "Total delay\t%.1f min\n", m.TotalDelay)
	fmt.Fprintf(tw, "Punctuality\t%.0f%%\n", m.PunctualityRate)
	fmt.Fprintf(tw, "Efficiency\t%.0f%%\n", m.Efficiency)
	fmt.Fprintf(tw, "Track utilization\t%.0f%%\n", m.TrackUtilization)
	fmt.Fprintf(tw, "Platform occupancy\t%.0f%%\n", m.PlatformOccupancy)
	fmt.Fprintf(tw, "Conflict resolution\t%.1f min\n", m.ConflictResolutionTime)
	fmt.Fprintf(tw, "Safety compliance\t%.0f%%\n", m.SafetyComplianceRate)
	fmt.Fprintf(tw, "Priority adherence\t%.0f%%\n", m.PriorityAdherence)
	fmt.Fprintln(tw, "\nTrain\tStatus\tTrack\tDelay")
	for _, t := range snap.Trains {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f\n", t.ID, t.Status, t.Track, t.TotalDelay)
	}
	return tw.Flush()
}

func countStatus(snap session.Snapshot, status core.TrainStatus) int {
	n := 0
	for _, t := range snap.Trains {
		if t.Status == status {
			n++
		}
	}
	return n
}

func parseSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out[part] = true
		}
	}
	return out
}
