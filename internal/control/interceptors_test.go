package control

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/railsection-simulator/internal/logging"
)

func TestRequestIDUnaryServerInterceptor(t *testing.T) {
	interceptor := RequestIDUnaryServerInterceptor(nil)
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodPlay)}

	var seen string
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = logging.RequestIDFromContext(ctx)
		if logging.LoggerFromContext(ctx) == nil {
			t.Fatalf("no request logger on context")
		}
		return nil, nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "req-42"))
	if _, err := interceptor(ctx, nil, info, handler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if seen != "req-42" {
		t.Fatalf("request id=%q, want req-42", seen)
	}

	if _, err := interceptor(context.Background(), nil, info, handler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if seen == "" || seen == "req-42" {
		t.Fatalf("expected a generated request id, got %q", seen)
	}
}

func TestRequestIDUnaryClientInterceptor(t *testing.T) {
	interceptor := RequestIDUnaryClientInterceptor()
	var got []string
	invoker := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		got = md.Get(RequestIDMetadataKey)
		return nil
	}

	ctx := logging.ContextWithRequestID(context.Background(), "abc")
	if err := interceptor(ctx, FullMethod(MethodStep), nil, nil, nil, invoker); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if len(got) != 1 || got[0] != "abc" {
		t.Fatalf("outgoing request id=%v", got)
	}

	if err := interceptor(context.Background(), FullMethod(MethodStep), nil, nil, nil, invoker); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("unexpected request id %v", got)
	}
}
