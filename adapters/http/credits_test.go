package http

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/artpar/creditgate/adapters/ledgertest"
	"github.com/artpar/creditgate/adapters/payment"
)

func TestRequireUser(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/v1/credits/balance", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	doc := decodeDoc(t, rec)
	if len(doc.Errors) != 1 || doc.Errors[0].Code != "unauthorized" {
		t.Errorf("errors = %+v", doc.Errors)
	}
}

func TestListPlans(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/v1/plans", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	plans := decodeCollection(t, rec)
	if len(plans) != 2 || plans[0].ID != "starter" || plans[1].ID != "pro" {
		t.Fatalf("plans = %+v", plans)
	}
	if plans[1].Attributes["popular"] != true {
		t.Errorf("pro popular = %v, want true", plans[1].Attributes["popular"])
	}
	if plans[0].Attributes["credits"] != float64(100) {
		t.Errorf("starter credits = %v, want 100", plans[0].Attributes["credits"])
	}
}

func TestGetModelCost(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		model string
		want  float64
	}{
		{"gpt-4", 5},
		{"unknown-model", 1},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/v1/models/"+tt.model+"/cost", "", nil)
			res := decodeResource(t, rec)
			if res.Attributes["credits"] != tt.want {
				t.Errorf("credits = %v, want %v", res.Attributes["credits"], tt.want)
			}
		})
	}
}

func TestGetBalance(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/v1/credits/balance", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	res := decodeResource(t, rec)
	if res.Type != "balances" || res.ID != "alice" {
		t.Errorf("resource = %s/%s", res.Type, res.ID)
	}
	if res.Attributes["remaining_credits"] != float64(10) {
		t.Errorf("remaining = %v, want 10", res.Attributes["remaining_credits"])
	}
}

func TestGetBalance_StorageUnavailable(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.Fail(ledgertest.OpGetBalance, errors.New("connection refused"))

	rec := ts.do(t, http.MethodGet, "/v1/credits/balance", "alice", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "5" {
		t.Errorf("Retry-After = %q, want 5", rec.Header().Get("Retry-After"))
	}
	if strings.Contains(rec.Body.String(), "remaining_credits") {
		t.Error("storage failure must not report a balance")
	}
}

func TestDeduct(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		ts := newTestServer(t, nil)

		rec := ts.do(t, http.MethodPost, "/v1/credits/deduct", "alice", DeductRequest{ModelID: "gpt-4", TokensUsed: 120})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		res := decodeResource(t, rec)
		if res.Attributes["cost"] != float64(5) || res.Attributes["remaining_credits"] != float64(5) {
			t.Errorf("attributes = %+v", res.Attributes)
		}
	})

	t.Run("insufficient", func(t *testing.T) {
		ts := newTestServer(t, nil)

		for i := 0; i < 2; i++ {
			rec := ts.do(t, http.MethodPost, "/v1/credits/deduct", "alice", DeductRequest{ModelID: "gpt-4"})
			if rec.Code != http.StatusOK {
				t.Fatalf("deduct %d status = %d", i, rec.Code)
			}
		}

		rec := ts.do(t, http.MethodPost, "/v1/credits/deduct", "alice", DeductRequest{ModelID: "gpt-4"})
		if rec.Code != http.StatusPaymentRequired {
			t.Fatalf("status = %d, want 402", rec.Code)
		}
		doc := decodeDoc(t, rec)
		if len(doc.Errors) != 1 {
			t.Fatalf("errors = %+v", doc.Errors)
		}
		if doc.Errors[0].Meta["required"] != float64(5) || doc.Errors[0].Meta["remaining"] != float64(0) {
			t.Errorf("meta = %+v", doc.Errors[0].Meta)
		}
	})

	t.Run("missing model", func(t *testing.T) {
		ts := newTestServer(t, nil)

		rec := ts.do(t, http.MethodPost, "/v1/credits/deduct", "alice", DeductRequest{})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", rec.Code)
		}
	})

	t.Run("negative tokens", func(t *testing.T) {
		ts := newTestServer(t, nil)

		rec := ts.do(t, http.MethodPost, "/v1/credits/deduct", "alice", DeductRequest{ModelID: "gpt-4", TokensUsed: -1})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", rec.Code)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		ts := newTestServer(t, nil)

		rec := ts.do(t, http.MethodPost, "/v1/credits/deduct", "alice", "{not json")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("storage unavailable", func(t *testing.T) {
		ts := newTestServer(t, nil)
		ts.do(t, http.MethodGet, "/v1/credits/balance", "alice", nil)
		ts.store.Fail(ledgertest.OpDeduct, errors.New("timeout"))

		rec := ts.do(t, http.MethodPost, "/v1/credits/deduct", "alice", DeductRequest{ModelID: "gpt-4"})
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

func TestGetUsage(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.do(t, http.MethodPost, "/v1/credits/deduct", "alice", DeductRequest{ModelID: "gpt-4", TokensUsed: 10})
	ts.do(t, http.MethodPost, "/v1/credits/deduct", "alice", DeductRequest{ModelID: "mini", TokensUsed: 3})

	rec := ts.do(t, http.MethodGet, "/v1/credits/usage", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	events := decodeCollection(t, rec)
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}

	rec = ts.do(t, http.MethodGet, "/v1/credits/usage?limit=1", "alice", nil)
	if got := len(decodeCollection(t, rec)); got != 1 {
		t.Errorf("limited len = %d, want 1", got)
	}

	rec = ts.do(t, http.MethodGet, "/v1/credits/usage?limit=abc", "alice", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/v1/credits/usage", "bob", nil)
	if got := len(decodeCollection(t, rec)); got != 0 {
		t.Errorf("bob len = %d, want 0", got)
	}
}

func TestGetUsageSummary(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.do(t, http.MethodPost, "/v1/credits/deduct", "alice", DeductRequest{ModelID: "gpt-4", TokensUsed: 10})
	ts.do(t, http.MethodPost, "/v1/credits/deduct", "alice", DeductRequest{ModelID: "mini", TokensUsed: 3})

	rec := ts.do(t, http.MethodGet, "/v1/credits/usage/summary", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	res := decodeResource(t, rec)
	if res.Attributes["invocations"] != float64(2) || res.Attributes["credits_used"] != float64(6) {
		t.Errorf("attributes = %+v", res.Attributes)
	}
	byModel, ok := res.Attributes["by_model"].([]any)
	if !ok || len(byModel) != 2 {
		t.Errorf("by_model = %v", res.Attributes["by_model"])
	}
}

func TestCreatePurchase(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		ts := newTestServer(t, nil)

		rec := ts.do(t, http.MethodPost, "/v1/purchases", "alice", CreatePurchaseRequest{PlanID: "pro"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}
		res := decodeResource(t, rec)
		if rec.Header().Get("Location") != "/v1/purchases/"+res.ID {
			t.Errorf("Location = %q", rec.Header().Get("Location"))
		}
		if res.Attributes["status"] != "pending" || res.Attributes["credits"] != float64(500) {
			t.Errorf("attributes = %+v", res.Attributes)
		}
		redirect, _ := res.Attributes["redirect_url"].(string)
		if !strings.HasPrefix(redirect, "https://app.example.com/done?reference=dummy_") {
			t.Errorf("redirect_url = %q", redirect)
		}
	})

	t.Run("unknown plan", func(t *testing.T) {
		ts := newTestServer(t, nil)

		rec := ts.do(t, http.MethodPost, "/v1/purchases", "alice", CreatePurchaseRequest{PlanID: "enterprise"})
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("missing plan", func(t *testing.T) {
		ts := newTestServer(t, nil)

		rec := ts.do(t, http.MethodPost, "/v1/purchases", "alice", CreatePurchaseRequest{})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", rec.Code)
		}
	})

	t.Run("payments disabled", func(t *testing.T) {
		ts := newTestServer(t, payment.NewNoopProvider())

		rec := ts.do(t, http.MethodPost, "/v1/purchases", "alice", CreatePurchaseRequest{PlanID: "pro"})
		if rec.Code != http.StatusNotImplemented {
			t.Errorf("status = %d, want 501", rec.Code)
		}
	})
}

func TestGetPurchase(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/purchases", "alice", CreatePurchaseRequest{PlanID: "starter"})
	id := decodeResource(t, rec).ID

	rec = ts.do(t, http.MethodGet, "/v1/purchases/"+id, "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decodeResource(t, rec).Attributes["plan_id"]; got != "starter" {
		t.Errorf("plan_id = %v, want starter", got)
	}

	rec = ts.do(t, http.MethodGet, "/v1/purchases/"+id, "mallory", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("other user status = %d, want 404", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/v1/purchases/missing", "alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rec.Code)
	}
}

func TestListPurchases(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.do(t, http.MethodPost, "/v1/purchases", "alice", CreatePurchaseRequest{PlanID: "starter"})
	ts.do(t, http.MethodPost, "/v1/purchases", "alice", CreatePurchaseRequest{PlanID: "pro"})
	ts.do(t, http.MethodPost, "/v1/purchases", "bob", CreatePurchaseRequest{PlanID: "pro"})

	rec := ts.do(t, http.MethodGet, "/v1/purchases", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := len(decodeCollection(t, rec)); got != 2 {
		t.Errorf("len = %d, want 2", got)
	}
}
