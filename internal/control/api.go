// Package control exposes simulation sessions over gRPC.
//
// The service is described by hand rather than generated: every method takes
// and returns a google.protobuf.Struct whose fields follow the JSON shapes
// below, so the wire contract matches the HTTP surface one-for-one.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/railsection-simulator/model"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "railsim.control.v1.ControlService"

// Method names.
const (
	MethodListCases       = "ListCases"
	MethodListSessions    = "ListSessions"
	MethodStartSession    = "StartSession"
	MethodGetSnapshot     = "GetSnapshot"
	MethodPlay            = "Play"
	MethodPause           = "Pause"
	MethodStep            = "Step"
	MethodReset           = "Reset"
	MethodSetSpeed        = "SetSpeed"
	MethodResolveApproval = "ResolveApproval"
	MethodCloseSession    = "CloseSession"
)

// ErrInvalidArgument indicates a malformed control request.
var ErrInvalidArgument = errors.New("invalid argument")

// CaseSummary describes one available case.
type CaseSummary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	SectionID   string  `json:"sectionId,omitempty"`
	Trains      int     `json:"trains"`
	Length      float64 `json:"sectionLength"`
}

// SummarizeCase builds the listing entry for c.
func SummarizeCase(c *model.Case) CaseSummary {
	return CaseSummary{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		SectionID:   c.SectionID,
		Trains:      len(c.InitialTrains),
		Length:      c.Layout.Length(),
	}
}

// SessionSummary describes one open session.
type SessionSummary struct {
	SessionID string  `json:"sessionId"`
	CaseID    string  `json:"caseId"`
	Status    string  `json:"status"`
	Tick      int     `json:"tick"`
	Time      float64 `json:"timeMinutes"`
}

// StartSessionRequest opens a session for a case.
type StartSessionRequest struct {
	CaseID      string  `json:"caseId"`
	AutoApprove *bool   `json:"autoApprove,omitempty"`
	Speed       float64 `json:"speed,omitempty"`
}

// SessionRequest addresses one session.
type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

// SetSpeedRequest changes a session's cadence multiplier.
type SetSpeedRequest struct {
	SessionID string  `json:"sessionId"`
	Speed     float64 `json:"speed"`
}

// ResolveApprovalRequest answers the outstanding approval request.
type ResolveApprovalRequest struct {
	SessionID string   `json:"sessionId"`
	TrainID   string   `json:"trainId"`
	Approved  bool     `json:"approved"`
	Path      []string `json:"path,omitempty"`
}

// ControlServer is the server API of the control service.
type ControlServer interface {
	ListCases(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSessions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Play(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Pause(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Step(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reset(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetSpeed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveApproval(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CloseSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type call func(ControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func method(name string, fn call) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(srv.(ControlServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// FullMethod returns the gRPC path of a control method.
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

// ServiceDesc describes the control service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		method(MethodListCases, ControlServer.ListCases),
		method(MethodListSessions, ControlServer.ListSessions),
		method(MethodStartSession, ControlServer.StartSession),
		method(MethodGetSnapshot, ControlServer.GetSnapshot),
		method(MethodPlay, ControlServer.Play),
		method(MethodPause, ControlServer.Pause),
		method(MethodStep, ControlServer.Step),
		method(MethodReset, ControlServer.Reset),
		method(MethodSetSpeed, ControlServer.SetSpeed),
		method(MethodResolveApproval, ControlServer.ResolveApproval),
		method(MethodCloseSession, ControlServer.CloseSession),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "railsim/control/v1/control.proto",
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ToStruct converts a JSON-shaped value into a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return out, nil
}

// FromStruct decodes a Struct into a JSON-shaped value.
func FromStruct(s *structpb.Struct, into any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}
