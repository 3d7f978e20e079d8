// Package httpapi exposes simulation sessions as a REST/JSON API.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/signalsfoundry/railsection-simulator/internal/logging"
	"github.com/signalsfoundry/railsection-simulator/internal/observability"
	"github.com/signalsfoundry/railsection-simulator/internal/sim/session"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Options configures NewRouter.
type Options struct {
	Logger      logging.Logger
	Collector   *observability.ControlCollector
	CORSOrigins []string
	// MountMetrics serves the collector's /metrics on the API router too.
	MountMetrics bool
}

// NewRouter builds the chi router serving the session API.
func NewRouter(sessions *session.Manager, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logging.Noop()
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	h := NewHandler(sessions, opts.Logger)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(opts.Collector.HTTPMiddleware)
	r.Use(requestLogger(opts.Logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"sessions":  len(sessions.List()),
			"timestamp": time.Now().UTC(),
		})
	})
	if opts.MountMetrics && opts.Collector != nil {
		r.Handle("/metrics", opts.Collector.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/cases", h.ListCases)
		r.Get("/cases/{caseID}", h.GetCase)

		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions", h.StartSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.GetSnapshot)
			r.Delete("/", h.CloseSession)
			r.Get("/audit", h.GetAudit)
			r.Post("/play", h.Play)
			r.Post("/pause", h.Pause)
			r.Post("/step", h.Step)
			r.Post("/reset", h.Reset)
			r.Post("/speed", h.SetSpeed)
			r.Post("/approval", h.ResolveApproval)
		})
	})
	return r
}

// requestLogger attaches a request id and a request-scoped logger to every
// request, honouring an id supplied by the caller.
func requestLogger(base logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := r.Header.Get(RequestIDHeader); id != "" {
				ctx = logging.ContextWithRequestID(ctx, id)
			}
			ctx, log := logging.WithRequestLogger(ctx, base)
			ctx = logging.ContextWithLogger(ctx, log)
			w.Header().Set(RequestIDHeader, logging.RequestIDFromContext(ctx))

			start := time.Now()
			next.ServeHTTP(w, r.WithContext(ctx))
			log.Debug(ctx, "http request",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Duration("duration", time.Since(start)),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
