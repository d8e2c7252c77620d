// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/creditgate/adapters/clock"
	apihttp "github.com/artpar/creditgate/adapters/http"
	"github.com/artpar/creditgate/adapters/idgen"
	"github.com/artpar/creditgate/adapters/memory"
	"github.com/artpar/creditgate/adapters/metrics"
	"github.com/artpar/creditgate/adapters/payment"
	"github.com/artpar/creditgate/adapters/postgres"
	"github.com/artpar/creditgate/adapters/redis"
	"github.com/artpar/creditgate/adapters/sqlite"
	"github.com/artpar/creditgate/app"
	"github.com/artpar/creditgate/config"
	"github.com/artpar/creditgate/domain/plan"
	"github.com/artpar/creditgate/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	Store    ports.LedgerStore
	Catalog  *plan.Registry
	Provider ports.PaymentProvider
	Deduper  ports.EventDeduper

	// Services
	Credits  *app.CreditsService
	Checkout *app.CheckoutService
	Webhooks *app.PaymentWebhookService

	holder   *config.Holder
	registry *prometheus.Registry
	closers  []func() error
}

// Options controls application initialization.
type Options struct {
	// ConfigPath is the YAML config file. A missing file falls back to
	// environment-only configuration.
	ConfigPath string

	// Watch enables hot reload of the config file and SIGHUP.
	Watch bool

	// Version is reported by /version.
	Version string

	// LogOutput overrides stdout for logs.
	LogOutput io.Writer
}

// New loads configuration and initializes the application.
func New(opts Options) (*App, error) {
	var (
		cfg    *config.Config
		holder *config.Holder
		err    error
	)

	if opts.Watch && opts.ConfigPath != "" && fileExists(opts.ConfigPath) {
		holder, err = config.NewHolder(opts.ConfigPath, zerolog.Nop())
		if err != nil {
			return nil, err
		}
		cfg = holder.Get()
	} else {
		cfg, err = config.LoadWithFallback(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	a, err := NewFromConfig(cfg, opts)
	if err != nil {
		if holder != nil {
			holder.Stop()
		}
		return nil, err
	}

	if holder != nil {
		a.watch(holder)
	}
	return a, nil
}

// NewFromConfig initializes the application from an already loaded config.
func NewFromConfig(cfg *config.Config, opts Options) (*App, error) {
	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	logger := SetupLogger(cfg.Logging, out)

	logger.Info().
		Str("driver", cfg.Database.Driver).
		Str("payment_provider", cfg.Payment.Provider).
		Msg("initializing creditgate")

	a := &App{
		Logger: logger,
		Config: cfg,
	}

	if err := a.init(opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(opts Options) error {
	cfg := a.Config
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = metrics.NewWithRegistry(a.registry)
		a.Logger.Info().Str("path", cfg.Metrics.Path).Msg("prometheus metrics enabled")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	a.Store = store

	catalog, err := cfg.ToCatalog()
	if err != nil {
		return err
	}
	a.Catalog = plan.NewRegistry(catalog)

	deduper, err := a.openDeduper(ctx)
	if err != nil {
		return fmt.Errorf("init webhook deduper: %w", err)
	}
	a.Deduper = deduper

	provider, err := payment.NewProvider(payment.Config{
		Provider: cfg.Payment.Provider,
		Stripe: payment.StripeConfig{
			SecretKey:     cfg.Payment.Stripe.SecretKey,
			WebhookSecret: cfg.Payment.Stripe.WebhookSecret,
		},
	})
	if err != nil {
		return fmt.Errorf("init payment provider: %w", err)
	}
	a.Provider = provider

	a.Credits = app.NewCreditsService(app.CreditsDeps{
		Store:       a.Store,
		Catalog:     a.Catalog,
		Clock:       clock.Real{},
		PurchaseIDs: idgen.UUID{Prefix: "pur_"},
		EventIDs:    idgen.UUID{Prefix: "evt_"},
		Metrics:     a.Metrics,
		Logger:      a.Logger.With().Str("component", "credits").Logger(),
	}, app.CreditsConfig{
		FreeGrant: cfg.FreeGrant(),
		Timeout:   cfg.Ledger.Timeout,
	})

	a.Checkout = app.NewCheckoutService(app.CheckoutDeps{
		Credits:     a.Credits,
		Catalog:     a.Catalog,
		Provider:    a.Provider,
		PurchaseIDs: idgen.UUID{Prefix: "pur_"},
		Logger:      a.Logger.With().Str("component", "checkout").Logger(),
	}, app.CheckoutConfig{
		SuccessURL: cfg.Payment.SuccessURL,
		CancelURL:  cfg.Payment.CancelURL,
	})

	a.Webhooks = app.NewPaymentWebhookService(a.Credits, a.Logger.With().Str("component", "webhooks").Logger())

	a.initHTTPServer(opts.Version)
	return nil
}

func (a *App) openStore(ctx context.Context) (ports.LedgerStore, error) {
	cfg := a.Config.Database

	switch cfg.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.Logger.Info().Str("path", cfg.DSN).Msg("sqlite ledger store ready")
		return sqlite.NewLedgerStore(db), nil

	case "postgres":
		pool := postgres.DefaultConfig()
		pool.MaxOpenConns = cfg.MaxOpenConns
		pool.MaxIdleConns = cfg.MaxIdleConns
		pool.ConnMaxLifetime = cfg.ConnMaxLifetime

		db, err := postgres.Open(ctx, cfg.DSN, pool)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.Logger.Info().Int("max_open_conns", pool.MaxOpenConns).Msg("postgres ledger store ready")
		return postgres.NewLedgerStore(db), nil

	case "memory":
		a.Logger.Warn().Msg("using in-memory ledger store, balances are lost on restart")
		return memory.NewLedgerStore(), nil
	}

	return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
}

func (a *App) openDeduper(ctx context.Context) (ports.EventDeduper, error) {
	cfg := a.Config.Redis
	if !cfg.Enabled {
		return memory.NewEventDeduper(cfg.DedupTTL), nil
	}

	client, err := redis.Connect(ctx, redis.Config{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)

	a.Logger.Info().Str("addr", cfg.Addr).Msg("redis webhook deduper enabled")
	return redis.NewEventDeduper(client, "", cfg.DedupTTL)
}

func (a *App) initHTTPServer(version string) {
	cfg := a.Config

	routerCfg := apihttp.RouterConfig{
		Metrics:        a.Metrics,
		MetricsPath:    cfg.Metrics.Path,
		RequestTimeout: cfg.Server.WriteTimeout,
		Version:        version,
	}
	if a.registry != nil {
		routerCfg.MetricsHandler = promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
	}

	webhooks := apihttp.NewPaymentWebhookHandler(apihttp.PaymentWebhookDeps{
		Payment:        a.Provider,
		WebhookHandler: a.Webhooks,
		Deduper:        a.Deduper,
		Metrics:        a.Metrics,
		Logger:         a.Logger.With().Str("component", "payment_webhooks").Logger(),
	})

	checks := []apihttp.HealthCheck{{Name: "ledger", Check: a.Credits}}
	if p, ok := a.Deduper.(apihttp.Pinger); ok {
		checks = append(checks, apihttp.HealthCheck{Name: "webhook_deduper", Check: p, Optional: true})
	}

	router := apihttp.NewRouter(
		apihttp.NewCreditsHandler(a.Credits, a.Checkout, a.Catalog, a.Logger),
		webhooks,
		apihttp.NewHealthHandler(checks...),
		a.Logger,
		routerCfg,
	)

	a.HTTPServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.HTTPServer.Handler
}

// watch subscribes the running app to config reloads.
func (a *App) watch(h *config.Holder) {
	a.holder = h
	h.SetLogger(a.Logger.With().Str("component", "config").Logger())

	h.OnChange(a.ApplyConfig)
	h.OnError(func(error) {
		if a.Metrics != nil {
			a.Metrics.ConfigReloadErrors.Inc()
		}
	})

	if err := h.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch unavailable")
	}
	h.WatchSignals()
}

// ApplyConfig applies the reloadable parts of cfg: the plan catalog, model
// costs and log level. Purchases already recorded keep their snapshot.
func (a *App) ApplyConfig(cfg *config.Config) {
	catalog, err := cfg.ToCatalog()
	if err != nil {
		a.Logger.Error().Err(err).Msg("reloaded catalog rejected")
		if a.Metrics != nil {
			a.Metrics.ConfigReloadErrors.Inc()
		}
		return
	}
	a.Catalog.Swap(catalog)

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	a.Logger.Info().
		Int("plans", len(cfg.Plans)).
		Int("model_costs", len(cfg.ModelCosts)).
		Msg("catalog reloaded")

	if a.Metrics != nil {
		a.Metrics.ConfigReloads.Inc()
		a.Metrics.ConfigLastReload.SetToCurrentTime()
	}
}

// Run starts the HTTP server and blocks until SIGINT/SIGTERM.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		a.Close()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	err := a.Close()
	a.Logger.Info().Msg("shutdown complete")
	return err
}

// Close releases stores and connections without touching the HTTP server.
// CLI commands use it after one-shot operations.
func (a *App) Close() error {
	if a.holder != nil {
		a.holder.Stop()
		a.holder = nil
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// SetupLogger builds the root logger from logging config.
func SetupLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
