// Package statusapi serves the operator-facing HTTP surface: health probes,
// Prometheus metrics, and the aggregate channel status view.
package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/slbailey/retrovue/internal/health"
	"github.com/slbailey/retrovue/internal/log"
	"github.com/slbailey/retrovue/internal/supervisor"
)

// Config wires the HTTP surface.
type Config struct {
	Listen   string
	Director *supervisor.Director
	// Health backs /healthz and /readyz; nil means always healthy and ready.
	Health *health.Registry
}

// Server is the status HTTP server.
type Server struct {
	cfg  Config
	http *http.Server
}

// New builds the router and server.
func New(cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(otelTrace)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if cfg.Health != nil {
			if failures := cfg.Health.Check(req.Context()); len(failures) > 0 {
				names := make([]string, 0, len(failures))
				for name := range failures {
					names = append(names, name)
				}
				sort.Strings(names)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(struct {
					Status string   `json:"status"`
					Failed []string `json:"failed"`
				}{Status: "down", Failed: names})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if cfg.Health != nil && !cfg.Health.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(100, time.Minute))
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			emergency, source := cfg.Director.Emergency()
			resp := struct {
				Emergency       bool                       `json:"emergency"`
				EmergencySource string                     `json:"emergency_source,omitempty"`
				Channels        []supervisor.ChannelStatus `json:"channels"`
			}{
				Emergency:       emergency,
				EmergencySource: source,
				Channels:        cfg.Director.Status(),
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(resp)
		})
	})

	return &Server{
		cfg: cfg,
		http: &http.Server{
			Addr:              cfg.Listen,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// otelTrace instruments every request with an OpenTelemetry server span.
// Probe and metrics endpoints are filtered out to keep the trace stream quiet.
func otelTrace(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "statusapi",
		otelhttp.WithFilter(func(r *http.Request) bool {
			switch r.URL.Path {
			case "/healthz", "/readyz", "/metrics":
				return false
			}
			return true
		}),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return operation + " " + r.URL.Path
		}),
	)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	logger := log.WithComponent("statusapi")
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", s.cfg.Listen).Msg("status api listening")
		errCh <- s.http.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
