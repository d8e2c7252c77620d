package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/artpar/creditgate/app"
	"github.com/artpar/creditgate/bootstrap"
	"github.com/artpar/creditgate/config"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "creditgate.yaml")
	data := `
database:
  driver: sqlite
  dsn: "` + filepath.Join(dir, "ledger.db") + `"

plans:
  - id: pro
    name: Pro
    credits: 500
    price_amount: 2999
    features: ["500 credits", "email support"]

model_costs:
  gpt-4: 5

payment:
  provider: dummy

logging:
  level: warn
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// seed opens the ledger directly, records one deduction and one pending
// purchase for alice, and returns the purchase id.
func seed(t *testing.T, path string) string {
	t.Helper()
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	a, err := bootstrap.NewFromConfig(cfg, bootstrap.Options{LogOutput: io.Discard})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	if _, err := a.Credits.Deduct(ctx, "alice", "gpt-4", 120, "chat"); err != nil {
		t.Fatalf("Deduct() error = %v", err)
	}
	id, err := a.Credits.RecordPurchase(ctx, app.PurchaseRequest{
		UserID:           "alice",
		PlanID:           "pro",
		Credits:          500,
		Amount:           2999,
		Currency:         "usd",
		PaymentReference: "dummy_ref_1",
	})
	if err != nil {
		t.Fatalf("RecordPurchase() error = %v", err)
	}
	return id
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestBalanceAndGrant(t *testing.T) {
	path := writeConfig(t)

	out, err := run(t, "balance", "-c", path, "--user", "bob")
	if err != nil {
		t.Fatalf("balance error = %v", err)
	}
	if !strings.Contains(out, "Remaining: 10") {
		t.Errorf("balance output = %q, want free grant", out)
	}

	out, err = run(t, "grant", "-c", path, "--user", "bob", "--credits", "100", "--reference", "")
	if err != nil {
		t.Fatalf("grant error = %v", err)
	}
	if !strings.Contains(out, "remaining: 110") {
		t.Errorf("grant output = %q", out)
	}

	if _, err := run(t, "grant", "-c", path, "--user", "bob", "--credits=-5", "--reference", ""); err == nil {
		t.Error("expected error for negative grant")
	}
}

func TestUsage(t *testing.T) {
	path := writeConfig(t)
	seed(t, path)

	out, err := run(t, "usage", "-c", path, "--user", "alice", "--limit", "20", "--summary=false")
	if err != nil {
		t.Fatalf("usage error = %v", err)
	}
	if !strings.Contains(out, "gpt-4") || !strings.Contains(out, "chat") {
		t.Errorf("usage output = %q", out)
	}

	out, err = run(t, "usage", "-c", path, "--user", "alice", "--limit", "20", "--summary=true")
	if err != nil {
		t.Fatalf("usage --summary error = %v", err)
	}
	if !strings.Contains(out, "Invocations:  1") || !strings.Contains(out, "Credits Used: 5") {
		t.Errorf("summary output = %q", out)
	}

	out, err = run(t, "usage", "-c", path, "--user", "carol", "--limit", "20", "--summary=false")
	if err != nil {
		t.Fatalf("usage error = %v", err)
	}
	if !strings.Contains(out, "No usage recorded.") {
		t.Errorf("usage output = %q", out)
	}
}

func TestPurchases(t *testing.T) {
	path := writeConfig(t)
	id := seed(t, path)

	out, err := run(t, "purchases", "list", "-c", path, "--user", "alice", "--limit", "20")
	if err != nil {
		t.Fatalf("purchases list error = %v", err)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "pending") || !strings.Contains(out, "29.99 usd") {
		t.Errorf("purchases list output = %q", out)
	}

	out, err = run(t, "purchases", "complete", id, "-c", path)
	if err != nil {
		t.Fatalf("purchases complete error = %v", err)
	}
	if !strings.Contains(out, "completed") {
		t.Errorf("complete output = %q", out)
	}

	out, err = run(t, "purchases", "complete", id, "-c", path)
	if err != nil {
		t.Fatalf("second complete error = %v", err)
	}
	if !strings.Contains(out, "already finalized") {
		t.Errorf("second complete output = %q", out)
	}

	out, err = run(t, "balance", "-c", path, "--user", "alice")
	if err != nil {
		t.Fatalf("balance error = %v", err)
	}
	if !strings.Contains(out, "Remaining: 505") {
		t.Errorf("balance output = %q, want 10 - 5 + 500", out)
	}

	if _, err := run(t, "purchases", "fail", "pur_missing", "-c", path); err == nil {
		t.Error("expected error for unknown purchase")
	}
}

func TestPlans(t *testing.T) {
	path := writeConfig(t)

	out, err := run(t, "plans", "-c", path)
	if err != nil {
		t.Fatalf("plans error = %v", err)
	}
	for _, want := range []string{"pro", "29.99 usd", "email support", "gpt-4", "(other)"} {
		if !strings.Contains(out, want) {
			t.Errorf("plans output missing %q: %q", want, out)
		}
	}
}

func TestValidate(t *testing.T) {
	path := writeConfig(t)

	out, err := run(t, "validate", "-c", path, "--check-database=true")
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.Contains(out, "Configuration is valid.") || !strings.Contains(out, "Ledger store reachable") {
		t.Errorf("validate output = %q", out)
	}

	if _, err := run(t, "validate", "-c", filepath.Join(t.TempDir(), "missing.yaml"), "--check-database=false"); err == nil {
		t.Error("expected error for missing config file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("database:\n  driver: oracle\n"), 0o600)
	if _, err := run(t, "validate", "-c", bad, "--check-database=false"); err == nil {
		t.Error("expected error for invalid driver")
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "creditgate dev") {
		t.Errorf("version output = %q", out)
	}
}
