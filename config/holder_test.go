package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/creditgate/config"
)

func TestHolder_Get(t *testing.T) {
	cfg := writeConfig(t, validConfig())

	h, err := config.NewHolder(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	got := h.Get()
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Plans[0].ID != "pro" {
		t.Errorf("Plans[0].ID = %s, want pro", got.Plans[0].ID)
	}
}

func TestHolder_Reload(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	if got := h.Get().Plans[0].Credits; got != 500 {
		t.Errorf("initial Credits = %d, want 500", got)
	}

	writeFile(t, path, `
plans:
  - id: "pro"
    credits: 750
    price_amount: 2999
`)

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	if got := h.Get().Plans[0].Credits; got != 750 {
		t.Errorf("reloaded Credits = %d, want 750", got)
	}
}

func TestHolder_OnChange(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var mu sync.Mutex
	var receivedCfg *config.Config

	h.OnChange(func(cfg *config.Config) {
		mu.Lock()
		receivedCfg = cfg
		mu.Unlock()
	})

	writeFile(t, path, `
model_costs:
  gpt-4: 8
`)

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if receivedCfg == nil {
		t.Fatal("OnChange callback was not called")
	}
	if receivedCfg.ModelCosts["gpt-4"] != 8 {
		t.Errorf("callback received cost = %d, want 8", receivedCfg.ModelCosts["gpt-4"])
	}
}

func TestHolder_ReloadUnchangedIsNoop(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	calls := 0
	h.OnChange(func(*config.Config) { calls++ })

	before := h.Get()
	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if calls != 0 {
		t.Errorf("OnChange called %d times for an unchanged file", calls)
	}
	if h.Get() != before {
		t.Error("unchanged file should keep the same config instance")
	}
}

func TestHolder_ReloadInvalidConfig(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var reloadErr error
	h.OnError(func(err error) { reloadErr = err })

	changed := false
	h.OnChange(func(*config.Config) { changed = true })

	writeFile(t, path, `
plans:
  - id: "pro"
    credits: 0
`)

	if err := h.Reload(); err == nil {
		t.Error("Reload should fail for invalid config")
	}
	if reloadErr == nil {
		t.Error("OnError callback was not called")
	}
	if changed {
		t.Error("OnChange must not fire for a rejected config")
	}

	if got := h.Get().Plans[0].Credits; got != 500 {
		t.Errorf("should keep old config, got Credits = %d", got)
	}
}

func TestHolder_WatchFile(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	reloaded := make(chan *config.Config, 4)
	h.OnChange(func(cfg *config.Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}

	writeFile(t, path, `
logging:
  level: debug
`)

	select {
	case cfg := <-reloaded:
		if cfg.Logging.Level != "debug" {
			t.Errorf("after file watch, Logging.Level = %s, want debug", cfg.Logging.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("file watcher did not trigger reload")
	}
}

func TestHolder_StopIsIdempotent(t *testing.T) {
	h, err := config.NewHolder(writeConfig(t, validConfig()), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	h.Stop()
	h.Stop()
}

func TestHolder_ConcurrentAccess(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if h.Get() == nil {
					t.Error("concurrent Get returned nil")
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Reload()
		}()
	}

	wg.Wait()
}

func TestReloadableFields(t *testing.T) {
	assertContains(t, config.ReloadableFields(), "plans", "model_costs", "logging.level")
	assertContains(t, config.NonReloadableFields(), "server.port", "database.dsn", "payment.provider", "credits.free_grant")

	restart := make(map[string]bool)
	for _, f := range config.NonReloadableFields() {
		restart[f] = true
	}
	for _, f := range config.ReloadableFields() {
		if restart[f] {
			t.Errorf("%s is listed as both reloadable and restart-only", f)
		}
	}
}

// Helpers

func assertContains(t *testing.T, fields []string, want ...string) {
	t.Helper()
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	for _, w := range want {
		if !set[w] {
			t.Errorf("%s not in %v", w, fields)
		}
	}
}

func validConfig() string {
	return `
database:
  driver: memory

plans:
  - id: "pro"
    name: "Pro"
    credits: 500
    price_amount: 2999

model_costs:
  gpt-4: 5
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)
	return path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}
