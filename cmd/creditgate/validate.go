package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/creditgate/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the creditgate configuration file.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Plans and model costs are well formed
  - Ledger store is reachable (optional)

Examples:
  creditgate validate
  creditgate validate --config /etc/creditgate/config.yaml --check-database`,
	RunE: runValidate,
}

var (
	validateCheckDatabase bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check the ledger store is reachable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	// Check file exists
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	// Load and validate config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)

	// Show config summary
	fmt.Fprintf(out, "  %s Database: %s\n", checkMark, cfg.Database.Driver)
	fmt.Fprintf(out, "  %s Payment provider: %s\n", checkMark, cfg.Payment.Provider)
	fmt.Fprintf(out, "  %s Plans configured: %d\n", checkMark, len(cfg.Plans))
	fmt.Fprintf(out, "  %s Model costs configured: %d (default %d)\n", checkMark, len(cfg.ModelCosts), cfg.Credits.DefaultModelCost)
	fmt.Fprintf(out, "  %s Free grant: %d\n", checkMark, cfg.FreeGrant())

	// Optional: check database
	if validateCheckDatabase {
		if err := checkDatabase(cmd); err != nil {
			fmt.Fprintf(out, "  %s Ledger store reachable\n", crossMark)
			fmt.Fprintf(out, "      Error: %v\n", err)
		} else {
			fmt.Fprintf(out, "  %s Ledger store reachable\n", checkMark)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

func checkDatabase(cmd *cobra.Command) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.Credits.Ping(ctx)
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
