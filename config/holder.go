package config

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce coalesces the burst of events an editor save produces
// (truncate, write, chmod) into a single reload.
const reloadDebounce = 150 * time.Millisecond

// Holder serves the current configuration and reloads it from disk on
// file change or SIGHUP. Only the fields in ReloadableFields take effect
// without a restart; listeners decide what to apply.
type Holder struct {
	path    string
	current atomic.Pointer[Config]
	logger  atomic.Pointer[zerolog.Logger]

	mu       sync.Mutex // serializes reloads and guards the fields below
	raw      []byte
	onChange []func(*Config)
	onError  []func(error)

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder loads path and returns a holder serving it.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	h := &Holder{path: abs, raw: raw, stopCh: make(chan struct{})}
	h.current.Store(cfg)
	h.SetLogger(logger)
	return h, nil
}

// Get returns the configuration currently in effect.
func (h *Holder) Get() *Config {
	return h.current.Load()
}

// SetLogger replaces the holder's logger, e.g. once the application logger
// has been built from the loaded config.
func (h *Holder) SetLogger(l zerolog.Logger) {
	h.logger.Store(&l)
}

func (h *Holder) log() *zerolog.Logger {
	return h.logger.Load()
}

// OnChange registers fn to run after each successful reload.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	h.onChange = append(h.onChange, fn)
	h.mu.Unlock()
}

// OnError registers fn to run when a reload is rejected.
func (h *Holder) OnError(fn func(error)) {
	h.mu.Lock()
	h.onError = append(h.onError, fn)
	h.mu.Unlock()
}

// Reload re-reads the file. An invalid file is rejected and the previous
// configuration stays in effect. An unchanged file is a no-op.
func (h *Holder) Reload() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	raw, err := os.ReadFile(h.path)
	if err == nil && bytes.Equal(raw, h.raw) {
		return nil
	}

	var next *Config
	if err == nil {
		next, err = Parse(raw)
	}
	if err != nil {
		err = fmt.Errorf("reload config: %w", err)
		h.log().Error().Err(err).Str("path", h.path).Msg("config reload rejected, keeping previous config")
		for _, fn := range h.onError {
			fn(err)
		}
		return err
	}

	prev := h.current.Swap(next)
	h.raw = raw
	h.logDiff(prev, next)

	for _, fn := range h.onChange {
		fn(next)
	}
	return nil
}

// WatchFile reloads whenever the config file is written or replaced.
// The directory is watched so editors that save by rename are seen.
func (h *Holder) WatchFile() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(h.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	h.watcher = w

	go h.watchLoop(w)

	h.log().Info().Str("path", h.path).Msg("watching config file")
	return nil
}

func (h *Holder) watchLoop(w *fsnotify.Watcher) {
	name := filepath.Base(h.path)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == name && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				timer.Reset(reloadDebounce)
			}

		case <-timer.C:
			h.Reload()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.log().Warn().Err(err).Msg("config watcher error")

		case <-h.stopCh:
			return
		}
	}
}

// WatchSignals reloads on SIGHUP.
func (h *Holder) WatchSignals() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sig)
		for {
			select {
			case <-sig:
				h.log().Info().Msg("SIGHUP received, reloading config")
				h.Reload()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. Safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) logDiff(prev, next *Config) {
	l := h.log()

	if added, removed := diffKeys(planIDs(prev), planIDs(next)); len(added)+len(removed) > 0 {
		l.Info().Strs("added", added).Strs("removed", removed).Msg("plans changed")
	}
	if added, removed := diffKeys(prev.ModelCosts, next.ModelCosts); len(added)+len(removed) > 0 {
		l.Info().Strs("added", added).Strs("removed", removed).Msg("model costs changed")
	}
	for model, cost := range next.ModelCosts {
		if old, ok := prev.ModelCosts[model]; ok && old != cost {
			l.Info().Str("model_id", model).Int64("old", old).Int64("new", cost).Msg("model cost changed")
		}
	}

	for _, f := range restartFields {
		if f.get(prev) != f.get(next) {
			l.Warn().Str("field", f.name).Msg("changed field requires restart, ignoring")
		}
	}

	l.Info().Str("path", h.path).Msg("configuration reloaded")
}

func planIDs(c *Config) map[string]int64 {
	ids := make(map[string]int64, len(c.Plans))
	for _, p := range c.Plans {
		ids[p.ID] = p.Credits
	}
	return ids
}

func diffKeys(prev, next map[string]int64) (added, removed []string) {
	for k := range next {
		if _, ok := prev[k]; !ok {
			added = append(added, k)
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			removed = append(removed, k)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// restartFields are read once at startup; a reload that changes them is
// logged and otherwise ignored.
var restartFields = []struct {
	name string
	get  func(*Config) any
}{
	{"server.host", func(c *Config) any { return c.Server.Host }},
	{"server.port", func(c *Config) any { return c.Server.Port }},
	{"database.driver", func(c *Config) any { return c.Database.Driver }},
	{"database.dsn", func(c *Config) any { return c.Database.DSN }},
	{"ledger.timeout", func(c *Config) any { return c.Ledger.Timeout }},
	{"credits.free_grant", func(c *Config) any { return c.FreeGrant() }},
	{"payment.provider", func(c *Config) any { return c.Payment.Provider }},
	{"redis.enabled", func(c *Config) any { return c.Redis.Enabled }},
	{"redis.addr", func(c *Config) any { return c.Redis.Addr }},
	{"metrics.enabled", func(c *Config) any { return c.Metrics.Enabled }},
}

// ReloadableFields lists the settings applied without a restart.
func ReloadableFields() []string {
	return []string{"plans", "model_costs", "credits.default_model_cost", "logging.level"}
}

// NonReloadableFields lists the settings that need a restart to change.
func NonReloadableFields() []string {
	names := make([]string, len(restartFields))
	for i, f := range restartFields {
		names[i] = f.name
	}
	return names
}
