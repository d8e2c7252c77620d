package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/artpar/creditgate/adapters/clock"
	"github.com/artpar/creditgate/adapters/idgen"
	"github.com/artpar/creditgate/adapters/ledgertest"
	"github.com/artpar/creditgate/adapters/memory"
	"github.com/artpar/creditgate/adapters/metrics"
	"github.com/artpar/creditgate/adapters/payment"
	"github.com/artpar/creditgate/app"
	"github.com/artpar/creditgate/domain/plan"
	"github.com/artpar/creditgate/ports"
)

type testServer struct {
	router   http.Handler
	store    *ledgertest.Faulty
	credits  *app.CreditsService
	provider ports.PaymentProvider
	deduper  *memory.EventDeduper
	metrics  *metrics.Collector
}

func newTestServer(t *testing.T, provider ports.PaymentProvider) *testServer {
	t.Helper()

	catalog, err := plan.NewCatalog(
		[]plan.Plan{
			{ID: "starter", Name: "Starter", Credits: 100, PriceAmount: 999, Currency: "usd", Features: []string{"100 credits"}},
			{ID: "pro", Name: "Pro", Credits: 500, PriceAmount: 2999, Currency: "usd", Popular: true},
		},
		map[string]int64{"gpt-4": 5},
		plan.DefaultModelCost,
	)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	registry := plan.NewRegistry(catalog)

	if provider == nil {
		provider = payment.NewDummyProvider()
	}

	ts := &testServer{
		store:    ledgertest.NewFaulty(memory.NewLedgerStore()),
		provider: provider,
		deduper:  memory.NewEventDeduper(time.Hour),
		metrics:  metrics.NewWithRegistry(prometheus.NewRegistry()),
	}
	logger := zerolog.Nop()

	ts.credits = app.NewCreditsService(app.CreditsDeps{
		Store:       ts.store,
		Catalog:     registry,
		Clock:       clock.NewStepping(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), time.Second),
		PurchaseIDs: idgen.NewSequential("pur_"),
		EventIDs:    idgen.NewSequential("evt_"),
		Metrics:     ts.metrics,
		Logger:      logger,
	}, app.CreditsConfig{FreeGrant: 10, Timeout: time.Second})

	checkout := app.NewCheckoutService(app.CheckoutDeps{
		Credits:     ts.credits,
		Catalog:     registry,
		Provider:    provider,
		PurchaseIDs: idgen.NewSequential("pur_"),
		Logger:      logger,
	}, app.CheckoutConfig{SuccessURL: "https://app.example.com/done", CancelURL: "https://app.example.com/cancel"})

	webhooks := NewPaymentWebhookHandler(PaymentWebhookDeps{
		Payment:        provider,
		WebhookHandler: app.NewPaymentWebhookService(ts.credits, logger),
		Deduper:        ts.deduper,
		Metrics:        ts.metrics,
		Logger:         logger,
	})

	ts.router = NewRouter(
		NewCreditsHandler(ts.credits, checkout, registry, logger),
		webhooks,
		NewHealthHandler(HealthCheck{Name: "ledger", Check: ts.credits}),
		logger,
		RouterConfig{Metrics: ts.metrics, Version: "1.2.3"},
	)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, r)
	if user != "" {
		req.Header.Set(UserIDHeader, user)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

type testDocument struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Status string         `json:"status"`
		Code   string         `json:"code"`
		Detail string         `json:"detail"`
		Meta   map[string]any `json:"meta"`
	} `json:"errors"`
	Meta map[string]any `json:"meta"`
}

type testResource struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

func decodeDoc(t *testing.T, rec *httptest.ResponseRecorder) testDocument {
	t.Helper()
	var doc testDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return doc
}

func decodeResource(t *testing.T, rec *httptest.ResponseRecorder) testResource {
	t.Helper()
	var res testResource
	if err := json.Unmarshal(decodeDoc(t, rec).Data, &res); err != nil {
		t.Fatalf("decode resource: %v", err)
	}
	return res
}

func decodeCollection(t *testing.T, rec *httptest.ResponseRecorder) []testResource {
	t.Helper()
	var res []testResource
	if err := json.Unmarshal(decodeDoc(t, rec).Data, &res); err != nil {
		t.Fatalf("decode collection: %v", err)
	}
	return res
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		t.Run(path, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, path, "", nil)
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
		})
	}
}

func TestHealth_ReadinessFailsWhenStoreDown(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.Fail(ledgertest.OpPing, errors.New("connection refused"))

	rec := ts.do(t, http.MethodGet, "/health/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if got := decodeDoc(t, rec).Meta["status"]; got != "unavailable" {
		t.Errorf("status = %v, want unavailable", got)
	}

	rec = ts.do(t, http.MethodGet, "/health/live", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("liveness status = %d, want 200", rec.Code)
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth_OptionalCheckDegrades(t *testing.T) {
	h := NewHealthHandler(
		HealthCheck{Name: "ledger", Check: pingFunc(func(context.Context) error { return nil })},
		HealthCheck{Name: "deduper", Check: pingFunc(func(context.Context) error { return errors.New("redis down") }), Optional: true},
	)

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	doc := decodeDoc(t, rec)
	if doc.Meta["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", doc.Meta["status"])
	}
	checks := doc.Meta["checks"].(map[string]any)
	if checks["ledger"] != "ok" || checks["deduper"] != "redis down" {
		t.Errorf("checks = %v", checks)
	}
}

func TestVersion(t *testing.T) {
	ts := newTestServer(t, nil)

	res := decodeResource(t, ts.do(t, http.MethodGet, "/version", "", nil))
	if res.Type != "services" || res.ID != "creditgate" || res.Attributes["version"] != "1.2.3" {
		t.Errorf("version = %+v", res)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.do(t, http.MethodGet, "/v1/credits/balance", "alice", nil)

	rec := ts.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{302, "3xx"},
		{402, "4xx"},
		{503, "5xx"},
		{0, "other"},
		{600, "other"},
	}

	for _, tt := range tests {
		if got := statusLabel(tt.status); got != tt.want {
			t.Errorf("statusLabel(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}
