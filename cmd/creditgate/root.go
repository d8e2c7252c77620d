package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/creditgate/bootstrap"
	"github.com/artpar/creditgate/config"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "creditgate",
	Short: "Per-user credit balances, model pricing and credit purchases",
	Long: `creditgate tracks per-user credit balances for AI model usage.

Each model invocation deducts its configured cost; users buy credit
plans through a payment provider and are topped up when the provider
confirms payment.

Quick start:
  creditgate serve      # Start the HTTP API
  creditgate plans      # Show plans and model costs

Administration:
  creditgate balance    # Show a user's balance
  creditgate grant      # Grant credits to a user
  creditgate usage      # Show a user's usage
  creditgate purchases  # List or finalize purchases
  creditgate validate   # Validate configuration`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "creditgate.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show info logs for one-shot commands")
}

// openApp initializes the application for a one-shot command. Logs go to
// stderr and are limited to warnings unless --verbose is set.
func openApp(cmd *cobra.Command) (*bootstrap.App, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !verbose {
		cfg.Logging.Level = "warn"
	}

	var logs io.Writer = cmd.ErrOrStderr()
	a, err := bootstrap.NewFromConfig(cfg, bootstrap.Options{LogOutput: logs, Version: version})
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return a, nil
}
