package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	pushed   prometheus.Counter
	pulled   prometheus.Counter
	results  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "volt",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "volt",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"route"}),
		pushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "volt",
			Name:      "pushed_bytes_total",
			Help:      "Archive bytes stored.",
		}),
		pulled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "volt",
			Name:      "pulled_bytes_total",
			Help:      "Archive bytes served.",
		}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "volt",
			Name:      "lookups_total",
			Help:      "Pull and check results by outcome.",
		}, []string{"route", "status"}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.duration, m.pushed, m.pulled, m.results} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.metrics.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
