// Package metrics exposes creditgate's Prometheus series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "creditgate"

// Deduction results.
const (
	ResultAllowed      = "allowed"
	ResultInsufficient = "insufficient"
	ResultError        = "error"
)

// UnmatchedRoute labels requests that matched no route.
const UnmatchedRoute = "unmatched"

// Collector holds every creditgate metric. A nil *Collector disables metrics;
// callers check before use.
type Collector struct {
	RequestsTotal    *prometheus.CounterVec   // method, route, status class
	RequestDuration  *prometheus.HistogramVec // method, route, status class
	RequestsInFlight prometheus.Gauge

	DeductionsTotal  *prometheus.CounterVec // result
	CreditsDeducted  *prometheus.CounterVec // model
	CreditsGranted   *prometheus.CounterVec // source: grant|purchase
	PurchasesTotal   *prometheus.CounterVec // status
	LedgerErrors     *prometheus.CounterVec // op
	UsageLogFailures prometheus.Counter

	WebhookEvents *prometheus.CounterVec // provider, type, result

	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// NewWithRegistry registers a collector with reg. Registering twice on the
// same registry panics, so tests and embedded apps use their own registry.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	f := factory{promauto.With(reg)}

	return &Collector{
		RequestsTotal: f.counterVec("requests_total",
			"HTTP requests by method, route and status class.", "method", "path", "status"),
		RequestDuration: f.factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "path", "status"}),
		RequestsInFlight: f.gauge("requests_in_flight", "HTTP requests being served."),

		DeductionsTotal: f.counterVec("deductions_total",
			"Deduction attempts by result.", "result"),
		CreditsDeducted: f.counterVec("credits_deducted_total",
			"Credits consumed, by model.", "model"),
		CreditsGranted: f.counterVec("credits_granted_total",
			"Credits added to balances, by source.", "source"),
		PurchasesTotal: f.counterVec("purchases_total",
			"Purchase transitions, by resulting status.", "status"),
		LedgerErrors: f.counterVec("ledger_errors_total",
			"Ledger store failures, by operation.", "op"),
		UsageLogFailures: f.counter("usage_log_failures_total",
			"Deductions applied whose usage event could not be stored."),

		WebhookEvents: f.counterVec("webhook_events_total",
			"Payment webhook deliveries by provider, type and result.", "provider", "type", "result"),

		ConfigReloads:      f.counter("config_reloads_total", "Applied config reloads."),
		ConfigReloadErrors: f.counter("config_reload_errors_total", "Rejected config reloads."),
		ConfigLastReload:   f.gauge("config_last_reload_timestamp", "Unix time of the last applied config reload."),
	}
}

type factory struct {
	factory promauto.Factory
}

func (f factory) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return f.factory.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

func (f factory) counter(name, help string) prometheus.Counter {
	return f.factory.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
}

func (f factory) gauge(name, help string) prometheus.Gauge {
	return f.factory.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
}
