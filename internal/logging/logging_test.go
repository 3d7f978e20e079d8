package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf}).With(String("session_id", "s1"))
	log.Info(context.Background(), "tick", Int("tick", 3), Float("time", 0.5), Bool("done", false), Err(errors.New("boom")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["msg"] != "tick" || rec["session_id"] != "s1" || rec["tick"] != float64(3) || rec["error"] != "boom" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("level filtering failed: %q", buf.String())
	}
}

func TestRequestIDHelpers(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("generated id %q is not a UUID: %v", id, err)
	}
	if again, same := EnsureRequestID(ctx); same != id || RequestIDFromContext(again) != id {
		t.Fatalf("existing id replaced: %q -> %q", id, same)
	}

	ctx = ContextWithRequestID(context.Background(), "req-1")
	ctx, _ = WithRequestLogger(ctx, nil)
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("request id = %q, want req-1", got)
	}
}

func TestLoggerFromContext(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("expected nil logger on empty context")
	}
	base := Noop()
	if FromContextOr(context.Background(), nil) == nil {
		t.Fatalf("FromContextOr returned nil")
	}
	var buf bytes.Buffer
	l := New(Config{Output: &buf})
	ctx := ContextWithLogger(context.Background(), l)
	FromContextOr(ctx, base).Info(ctx, "from context")
	if !strings.Contains(buf.String(), "from context") {
		t.Fatalf("context logger not used: %q", buf.String())
	}
}

func TestDomainFieldsAndService(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "json", Output: &buf, Service: "railsim"}).With(Session("s-7", "case4")...)
	log.Warn(context.Background(), "train frozen", TrainID("T12613"), DecisionPoint("P3"), Tick(12), SimMinutes(2))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	want := map[string]any{
		"service":        "railsim",
		KeySessionID:     "s-7",
		KeyCaseID:        "case4",
		KeyTrainID:       "T12613",
		KeyDecisionPoint: "P3",
		KeyTick:          float64(12),
		KeySimMinutes:    float64(2),
	}
	for k, v := range want {
		if rec[k] != v {
			t.Fatalf("%s = %v, want %v (record %v)", k, rec[k], v, rec)
		}
	}
}

func TestNoopIgnoresEverything(t *testing.T) {
	log := Noop().With(SessionID("s1"))
	log.Error(context.Background(), "dropped", Err(nil))
	if Err(nil).Value != "" {
		t.Fatalf("nil error field = %v, want empty string", Err(nil).Value)
	}
}
