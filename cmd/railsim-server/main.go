package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/railsection-simulator/internal/config"
	"github.com/signalsfoundry/railsection-simulator/internal/control"
	"github.com/signalsfoundry/railsection-simulator/internal/httpapi"
	"github.com/signalsfoundry/railsection-simulator/internal/logging"
	"github.com/signalsfoundry/railsection-simulator/internal/observability"
	"github.com/signalsfoundry/railsection-simulator/internal/sim/session"
	"github.com/signalsfoundry/railsection-simulator/internal/store"
)

const shutdownTimeout = 5 * time.Second

func main() {
	config.LoadDotEnv()
	cfg := config.Load()

	flag.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "TCP address the control gRPC server listens on")
	flag.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP address for the REST API (empty disables it)")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "HTTP address for Prometheus /metrics (empty disables it)")
	flag.StringVar(&cfg.CaseSource, "case-source", cfg.CaseSource, "where cases come from: builtin, json, sqlite or postgres")
	flag.StringVar(&cfg.CasesDir, "cases-dir", cfg.CasesDir, "directory of case JSON files for -case-source=json")
	flag.BoolVar(&cfg.AutoApprove, "auto-approve", cfg.AutoApprove, "approve every request automatically in new sessions")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}
	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves the control surfaces on lis (gRPC) and the configured HTTP
// addresses until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, lis net.Listener) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	controlMetrics, err := observability.NewControlCollector(reg)
	if err != nil {
		return err
	}
	simMetrics, err := observability.NewSimulationCollector(reg)
	if err != nil {
		return err
	}

	book, err := store.OpenCaseBook(ctx, cfg, log)
	if err != nil {
		return err
	}

	sessions := session.NewManager(book,
		session.WithManagerLogger(log),
		session.WithSessionCountHook(controlMetrics.SetActiveSessions),
		session.WithSessionOptions(
			session.WithLogger(log),
			session.WithPolicy(cfg.Policy),
			session.WithMetricsRecorder(simMetrics),
			session.WithTickInterval(cfg.TickInterval),
			session.WithResumeDelay(cfg.ResumeDelay),
			session.WithSpeed(cfg.DefaultSpeed),
			session.WithAutoApprove(cfg.AutoApprove),
		),
	)
	defer sessions.CloseAll(context.Background())

	errCh := make(chan error, 3)

	grpcServer := control.NewServer(control.NewService(sessions, log), log, controlMetrics)
	log.Info(ctx, "starting control gRPC server", logging.String("addr", lis.Addr().String()))
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	var servers []*http.Server
	if cfg.HTTPAddr != "" {
		router := httpapi.NewRouter(sessions, httpapi.Options{
			Logger:      log,
			Collector:   controlMetrics,
			CORSOrigins: cfg.CORSOrigins,
		})
		servers = append(servers, serveHTTP(ctx, "REST API", cfg.HTTPAddr, router, log, errCh))
	}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", controlMetrics.Handler())
		servers = append(servers, serveHTTP(ctx, "Prometheus metrics", cfg.MetricsAddr, mux, log, errCh))
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	log.Info(context.Background(), "shutting down railsim server")
	grpcServer.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	return runErr
}

func serveHTTP(ctx context.Context, name, addr string, handler http.Handler, log logging.Logger, errCh chan<- error) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info(ctx, "serving "+name, logging.String("addr", addr))
	return srv
}
