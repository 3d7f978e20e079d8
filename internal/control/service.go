// internal/control/service.go
package control

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/railsection-simulator/core"
	"github.com/signalsfoundry/railsection-simulator/internal/logging"
	"github.com/signalsfoundry/railsection-simulator/internal/sim/session"
)

// Service implements ControlServer on top of a session manager.
//
// Every session-scoped method returns the session snapshot taken after the
// operation, so a caller never needs a second round trip to see its effect.
type Service struct {
	sessions *session.Manager
	log      logging.Logger
}

// NewService binds the control service to a session manager.
func NewService(sessions *session.Manager, log logging.Logger) *Service {
	if log == nil {
		log = logging.Noop()
	}
	return &Service{sessions: sessions, log: log}
}

// ListCases returns every case that can be started.
func (s *Service) ListCases(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	cases := s.sessions.Cases().List()
	out := make([]CaseSummary, 0, len(cases))
	for _, c := range cases {
		out = append(out, SummarizeCase(c))
	}
	return reply(map[string]any{"cases": out})
}

// ListSessions returns every open session.
func (s *Service) ListSessions(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return reply(map[string]any{"sessions": SummarizeSessions(s.sessions.List())})
}

// StartSession opens a session and returns its first snapshot.
func (s *Service) StartSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req StartSessionRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	sess, err := StartSession(ctx, s.sessions, req)
	if err != nil {
		s.logFailure(ctx, "StartSession", err, logging.CaseID(req.CaseID))
		return nil, ToStatusError(err)
	}
	return reply(sess.Snapshot())
}

// GetSnapshot returns the current state of a session.
func (s *Service) GetSnapshot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.withSession(ctx, "GetSnapshot", in, func(*session.Session, context.Context) error { return nil })
}

// Play resumes a session.
func (s *Service) Play(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.withSession(ctx, "Play", in, (*session.Session).Play)
}

// Pause stops a session's timer.
func (s *Service) Pause(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.withSession(ctx, "Pause", in, (*session.Session).Pause)
}

// Step runs one tick of a paused session.
func (s *Service) Step(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.withSession(ctx, "Step", in, (*session.Session).Step)
}

// Reset reinitializes a session from its case.
func (s *Service) Reset(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.withSession(ctx, "Reset", in, (*session.Session).Reset)
}

// SetSpeed changes a session's cadence multiplier.
func (s *Service) SetSpeed(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SetSpeedRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	return s.run(ctx, "SetSpeed", req.SessionID, func(ctx context.Context, sess *session.Session) error {
		return sess.SetSpeed(ctx, req.Speed)
	})
}

// ResolveApproval answers the outstanding approval request of a session.
func (s *Service) ResolveApproval(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ResolveApprovalRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	if req.TrainID == "" {
		return nil, ToStatusError(fmt.Errorf("%w: trainId is required", ErrInvalidArgument))
	}
	return s.run(ctx, "ResolveApproval", req.SessionID, func(ctx context.Context, sess *session.Session) error {
		return sess.Resolve(ctx, core.Decision{
			TrainID:  req.TrainID,
			Approved: req.Approved,
			Path:     req.Path,
		})
	})
}

// CloseSession stops and forgets a session.
func (s *Service) CloseSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SessionRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	if req.SessionID == "" {
		return nil, ToStatusError(fmt.Errorf("%w: sessionId is required", ErrInvalidArgument))
	}
	if err := s.sessions.Close(ctx, req.SessionID); err != nil {
		return nil, ToStatusError(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
}

func (s *Service) withSession(ctx context.Context, op string, in *structpb.Struct, fn func(*session.Session, context.Context) error) (*structpb.Struct, error) {
	var req SessionRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	return s.run(ctx, op, req.SessionID, func(ctx context.Context, sess *session.Session) error {
		return fn(sess, ctx)
	})
}

func (s *Service) run(ctx context.Context, op, sessionID string, fn func(context.Context, *session.Session) error) (*structpb.Struct, error) {
	ctx, span := StartChildSpan(ctx, "Control."+op, sessionID, attribute.String("operation", op))
	defer span.End()

	sess, err := LookupSession(s.sessions, sessionID)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := fn(ctx, sess); err != nil {
		span.RecordError(err)
		s.logFailure(ctx, op, err, logging.SessionID(sessionID))
		return nil, ToStatusError(err)
	}
	return reply(sess.Snapshot())
}

func (s *Service) logFailure(ctx context.Context, op string, err error, fields ...logging.Field) {
	log := logging.FromContextOr(ctx, s.log)
	fields = append(fields, logging.String("operation", op), logging.Err(err))
	if Code(err) == codes.Internal {
		log.Error(ctx, "control operation failed", fields...)
		return
	}
	log.Debug(ctx, "control operation rejected", fields...)
}

func reply(v any) (*structpb.Struct, error) {
	out, err := ToStruct(v)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// StartSession validates req and opens a session through m. The HTTP and
// gRPC surfaces share it.
func StartSession(ctx context.Context, m *session.Manager, req StartSessionRequest) (*session.Session, error) {
	if req.CaseID == "" {
		return nil, fmt.Errorf("%w: caseId is required", ErrInvalidArgument)
	}
	var opts []session.Option
	if req.AutoApprove != nil {
		opts = append(opts, session.WithAutoApprove(*req.AutoApprove))
	}
	if req.Speed != 0 {
		opts = append(opts, session.WithSpeed(req.Speed))
	}
	return m.Start(ctx, req.CaseID, opts...)
}

// LookupSession resolves a session id, rejecting an empty one.
func LookupSession(m *session.Manager, id string) (*session.Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: sessionId is required", ErrInvalidArgument)
	}
	return m.Get(id)
}

// SummarizeSessions builds listing entries for sessions.
func SummarizeSessions(sessions []*session.Session) []SessionSummary {
	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		st := sess.State()
		out = append(out, SessionSummary{
			SessionID: sess.ID(),
			CaseID:    sess.CaseID(),
			Status:    string(sess.Status()),
			Tick:      st.Tick,
			Time:      st.TimeMinutes,
		})
	}
	return out
}
