package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"medinotify/internal/external"
	"medinotify/internal/types"
)

// responseCapture records the status written by downstream handlers.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

func (rc *responseCapture) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}

// Recoverer turns a handler panic into a logged 500 response.
func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				s.logger.Error("panic recovered",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", fmt.Sprintf("%v", rvr),
					"stack", string(debug.Stack()),
				)
				Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, "an unexpected error occurred", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CorrelationIDMiddleware propagates the caller's correlation id, or
// generates one, and echoes it in the response.
func CorrelationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(external.CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(external.CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(types.WithCorrelationID(r.Context(), id)))
	})
}

// RequestLogger logs method, route, status and duration of every request.
// Health and metrics scrapes are logged only when they fail.
func RequestLogger(logger types.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rc := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}

			log := logger.With("correlation_id", types.CorrelationID(r.Context()))
			next.ServeHTTP(rc, r.WithContext(types.WithLogger(r.Context(), log)))

			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rc.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			switch {
			case rc.statusCode >= 500:
				log.Error("request completed", args...)
			case rc.statusCode >= 400:
				log.Warn("request completed", args...)
			case r.URL.Path == "/health" || r.URL.Path == "/metrics":
			default:
				log.Info("request completed", args...)
			}
		})
	}
}

// HTTPMetrics records request telemetry.
type HTTPMetrics interface {
	RecordRequest(method, route, status string, duration time.Duration)
}

// PrometheusHTTPMetrics is an HTTPMetrics backed by a histogram vector.
type PrometheusHTTPMetrics struct {
	latency *prometheus.HistogramVec
}

// NewPrometheusHTTPMetrics registers the request histogram with reg.
func NewPrometheusHTTPMetrics(reg prometheus.Registerer) *PrometheusHTTPMetrics {
	m := &PrometheusHTTPMetrics{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medinotify",
			Subsystem: "ops_api",
			Name:      "request_duration_seconds",
			Help:      "Latency of ops API requests by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.latency)
	return m
}

func (m *PrometheusHTTPMetrics) RecordRequest(method, route, status string, duration time.Duration) {
	m.latency.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// MetricsMiddleware records latency per route pattern. It is a pass-through
// when no HTTPMetrics is configured.
func (s *Server) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.HTTPMetrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rc := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rc, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.deps.HTTPMetrics.RecordRequest(r.Method, route, strconv.Itoa(rc.statusCode), time.Since(start))
	})
}
