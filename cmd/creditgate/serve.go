package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/creditgate/bootstrap"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the credits HTTP server",
	Long: `Start the creditgate HTTP server.

The server will:
  - Load configuration from creditgate.yaml (or --config)
  - Or load configuration from CREDITGATE_* environment variables
  - Open the ledger store and apply migrations
  - Serve the credits API, payment webhooks, health and metrics

With --hot-reload, edits to the config file (or SIGHUP) replace the
plan catalog, model costs and log level without a restart.

Environment variables (for Docker deployments):
  CREDITGATE_DATABASE_DRIVER       - sqlite, postgres or memory
  CREDITGATE_DATABASE_DSN          - Database path or DSN
  CREDITGATE_SERVER_PORT           - Server port (default: 8080)
  CREDITGATE_PAYMENT_PROVIDER      - none, dummy or stripe
  CREDITGATE_STRIPE_SECRET_KEY     - Stripe API key
  CREDITGATE_STRIPE_WEBHOOK_SECRET - Stripe webhook signing secret
  CREDITGATE_REDIS_ADDR            - Share webhook dedup through Redis
  CREDITGATE_LOG_LEVEL             - Log level: debug, info, warn, error

Examples:
  creditgate serve
  creditgate serve --config /etc/creditgate/config.yaml
  creditgate serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(bootstrap.Options{
		ConfigPath: cfgFile,
		Watch:      hotReload,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
