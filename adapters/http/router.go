// Package http provides the HTTP surface of the credits service.
package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/creditgate/adapters/metrics"
)

// UserIDHeader carries the caller identity set by the upstream gateway.
const UserIDHeader = "X-User-ID"

// RouterConfig holds optional router settings.
type RouterConfig struct {
	Metrics        *metrics.Collector
	MetricsHandler http.Handler  // defaults to promhttp.Handler()
	MetricsPath    string        // default "/metrics"
	RequestTimeout time.Duration // default 60s
	Version        string
}

// NewRouter mounts the credits API under /v1 and provider webhooks under
// /payment-webhooks. webhooks may be nil when no provider is configured.
func NewRouter(credits *CreditsHandler, webhooks *PaymentWebhookHandler, health *HealthHandler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	internal := func(path string) bool {
		return strings.HasPrefix(path, "/health") || path == cfg.MetricsPath
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger, internal))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	if cfg.Metrics != nil {
		r.Use(requestMetrics(cfg.Metrics, internal))
	}

	r.Get("/health", health.Liveness)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Get("/version", VersionHandler(cfg.Version))

	switch {
	case cfg.MetricsHandler != nil:
		r.Handle(cfg.MetricsPath, cfg.MetricsHandler)
	case cfg.Metrics != nil:
		r.Handle(cfg.MetricsPath, promhttp.Handler())
	}

	r.Mount("/v1", credits.Routes())

	// Not identity-checked; each provider verifies its own signature.
	if webhooks != nil {
		r.Mount("/payment-webhooks", webhooks.Routes())
	}

	return r
}

// requestLogger logs each API request. Server errors are logged at warn so
// ledger outages show up without debug logging.
func requestLogger(logger zerolog.Logger, skip func(string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if skip(r.URL.Path) {
				return
			}

			ev := logger.Debug()
			if ww.Status() >= 500 {
				ev = logger.Warn()
			}
			ev.Str("method", r.Method).
				Str("route", routePattern(r)).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("user_id", r.Header.Get(UserIDHeader)).
				Msg("http request")
		})
	}
}

func requestMetrics(m *metrics.Collector, skip func(string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status, route := statusLabel(ww.Status()), routePattern(r)
			m.RequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			m.RequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		})
	}
}

// routePattern labels by chi pattern ("/v1/purchases/{purchaseID}") so user
// and purchase ids never become label values.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return metrics.UnmatchedRoute
}

// statusLabel buckets a status code into its class, e.g. 402 -> "4xx".
func statusLabel(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
