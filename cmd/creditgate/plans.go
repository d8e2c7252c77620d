package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/artpar/creditgate/config"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Show configured credit plans and model costs",
	Long: `Show the plan catalog and per-model credit costs from configuration.

Plans and costs are configuration, not runtime data: edit the config file
and the running server picks them up when hot reload is enabled.

Examples:
  creditgate plans
  creditgate plans --config /etc/creditgate/config.yaml`,
	RunE: runPlans,
}

func init() {
	rootCmd.AddCommand(plansCmd)
}

func runPlans(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	catalog, err := cfg.ToCatalog()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCREDITS\tPRICE\tPOPULAR\tFEATURES")
	for _, p := range catalog.Plans() {
		popular := ""
		if p.Popular {
			popular = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			p.ID,
			p.Name,
			p.Credits,
			formatAmount(p.PriceAmount, p.Currency),
			popular,
			strings.Join(p.Features, ", "),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	costs := catalog.ModelCosts()
	models := make([]string, 0, len(costs))
	for m := range costs {
		models = append(models, m)
	}
	sort.Strings(models)

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tCREDITS")
	for _, m := range models {
		fmt.Fprintf(w, "%s\t%d\n", m, costs[m])
	}
	fmt.Fprintf(w, "(other)\t%d\n", cfg.Credits.DefaultModelCost)
	return w.Flush()
}
