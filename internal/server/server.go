// Package server exposes cache slots over HTTP.
//
// Routes, all behind bearer authentication:
//
//	POST /push/{slot}    store the request body as the slot's archive
//	GET  /pull/{slot}    304 when X-Volt-Hash matches, else the archive
//	GET  /check/{slot}   like pull without the body
//	GET  /health/{slot}  echoes the slot id
//	GET  /metrics        Prometheus metrics
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/theMackabu/volt/internal/events"
	"github.com/theMackabu/volt/internal/store"
	"github.com/theMackabu/volt/internal/telemetry"
)

// HashHeader carries the client's fingerprint.
const HashHeader = "X-Volt-Hash"

// Publisher receives a notification after every successful push.
type Publisher interface {
	PublishPushed(ctx context.Context, e events.Pushed) error
}

// Config controls the HTTP surface.
type Config struct {
	// Token is the shared bearer token. Required.
	Token string
	// RateLimit caps requests per minute per client IP. Zero disables it.
	RateLimit int
	Logger    zerolog.Logger
	// Events is optional.
	Events Publisher
	// Registry receives the server metrics. Nil creates a private one.
	Registry *prometheus.Registry
}

// Server wires the slot store to HTTP handlers.
type Server struct {
	slots   *store.Slots
	token   string
	limit   int
	log     zerolog.Logger
	events  Publisher
	reg     *prometheus.Registry
	metrics *metrics
}

func New(slots *store.Slots, cfg Config) (*Server, error) {
	if slots == nil {
		return nil, errors.New("slot store is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("auth token is required")
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}

	return &Server{
		slots:   slots,
		token:   cfg.Token,
		limit:   cfg.RateLimit,
		log:     cfg.Logger,
		events:  cfg.Events,
		reg:     reg,
		metrics: m,
	}, nil
}

// Routes constructs the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if s.limit > 0 {
		r.Use(httprate.LimitByIP(s.limit, time.Minute))
	}
	r.Use(s.authenticate)
	r.Use(s.instrument)

	r.Post("/push/{slot}", s.handlePush)
	r.Get("/pull/{slot}", s.handlePull)
	r.Get("/check/{slot}", s.handleCheck)
	r.Get("/health/{slot}", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))

	return r
}

// Handler is Routes wrapped in an OpenTelemetry server span.
func (s *Server) Handler() http.Handler {
	return telemetry.Handler(s.Routes(), "volt-server")
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
