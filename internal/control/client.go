package control

import (
	"context"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/railsection-simulator/internal/sim/session"
)

// Client is a typed wrapper over the control service.
type Client struct {
	conn grpc.ClientConnInterface
	cc   *grpc.ClientConn
}

// Dial connects to a control server without transport security. Extra
// options are applied after the defaults.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(RequestIDUnaryClientInterceptor()),
	}
	cc, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: cc, cc: cc}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close closes a connection opened by Dial.
func (c *Client) Close() error {
	if c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// ListCases returns the cases the server can start.
func (c *Client) ListCases(ctx context.Context) ([]CaseSummary, error) {
	var out struct {
		Cases []CaseSummary `json:"cases"`
	}
	if err := c.invoke(ctx, MethodListCases, struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.Cases, nil
}

// ListSessions returns the server's open sessions.
func (c *Client) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	var out struct {
		Sessions []SessionSummary `json:"sessions"`
	}
	if err := c.invoke(ctx, MethodListSessions, struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// StartSession opens a session.
func (c *Client) StartSession(ctx context.Context, req StartSessionRequest) (*session.Snapshot, error) {
	return c.snapshot(ctx, MethodStartSession, req)
}

// GetSnapshot fetches a session's state.
func (c *Client) GetSnapshot(ctx context.Context, sessionID string) (*session.Snapshot, error) {
	return c.snapshot(ctx, MethodGetSnapshot, SessionRequest{SessionID: sessionID})
}

// Play resumes a session.
func (c *Client) Play(ctx context.Context, sessionID string) (*session.Snapshot, error) {
	return c.snapshot(ctx, MethodPlay, SessionRequest{SessionID: sessionID})
}

// Pause stops a session's timer.
func (c *Client) Pause(ctx context.Context, sessionID string) (*session.Snapshot, error) {
	return c.snapshot(ctx, MethodPause, SessionRequest{SessionID: sessionID})
}

// Step runs one tick of a paused session.
func (c *Client) Step(ctx context.Context, sessionID string) (*session.Snapshot, error) {
	return c.snapshot(ctx, MethodStep, SessionRequest{SessionID: sessionID})
}

// Reset reinitializes a session.
func (c *Client) Reset(ctx context.Context, sessionID string) (*session.Snapshot, error) {
	return c.snapshot(ctx, MethodReset, SessionRequest{SessionID: sessionID})
}

// SetSpeed changes a session's cadence multiplier.
func (c *Client) SetSpeed(ctx context.Context, sessionID string, speed float64) (*session.Snapshot, error) {
	return c.snapshot(ctx, MethodSetSpeed, SetSpeedRequest{SessionID: sessionID, Speed: speed})
}

// ResolveApproval answers the outstanding approval request of a session.
func (c *Client) ResolveApproval(ctx context.Context, req ResolveApprovalRequest) (*session.Snapshot, error) {
	return c.snapshot(ctx, MethodResolveApproval, req)
}

// CloseSession stops a session.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	return c.invoke(ctx, MethodCloseSession, SessionRequest{SessionID: sessionID}, nil)
}

func (c *Client) snapshot(ctx context.Context, method string, req any) (*session.Snapshot, error) {
	var snap session.Snapshot
	if err := c.invoke(ctx, method, req, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, out any) error {
	in, err := ToStruct(req)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, FullMethod(method), in, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return FromStruct(resp, out)
}
