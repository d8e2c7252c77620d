package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/artpar/creditgate/domain/credit"
)

var purchasesCmd = &cobra.Command{
	Use:   "purchases",
	Short: "List and finalize credit purchases",
	Long: `List a user's purchases, or complete or fail a pending purchase by hand
when a payment notification was lost.

Completing a purchase grants its credits exactly once; repeating the
command reports that the purchase is already finalized.

Examples:
  creditgate purchases list --user=user_123
  creditgate purchases complete pur_4f1c...
  creditgate purchases fail pur_4f1c...`,
}

var purchasesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's purchases, newest first",
	RunE:  runPurchasesList,
}

var purchasesCompleteCmd = &cobra.Command{
	Use:   "complete <purchase-id>",
	Short: "Mark a pending purchase completed and grant its credits",
	Args:  cobra.ExactArgs(1),
	RunE:  runPurchasesComplete,
}

var purchasesFailCmd = &cobra.Command{
	Use:   "fail <purchase-id>",
	Short: "Mark a pending purchase failed",
	Args:  cobra.ExactArgs(1),
	RunE:  runPurchasesFail,
}

var (
	purchasesUserID string
	purchasesLimit  int
)

func init() {
	rootCmd.AddCommand(purchasesCmd)

	purchasesCmd.AddCommand(purchasesListCmd)
	purchasesCmd.AddCommand(purchasesCompleteCmd)
	purchasesCmd.AddCommand(purchasesFailCmd)

	purchasesListCmd.Flags().StringVar(&purchasesUserID, "user", "", "user ID (required)")
	purchasesListCmd.Flags().IntVar(&purchasesLimit, "limit", 20, "number of purchases to show")
	purchasesListCmd.MarkFlagRequired("user")
}

func runPurchasesList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := cmdContext()
	defer cancel()

	purchases, err := a.Credits.ListPurchases(ctx, purchasesUserID, purchasesLimit)
	if err != nil {
		return fmt.Errorf("failed to list purchases: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(purchases) == 0 {
		fmt.Fprintln(out, "No purchases found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPLAN\tCREDITS\tAMOUNT\tSTATUS\tREFERENCE\tCREATED")
	for _, p := range purchases {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			p.ID,
			p.PlanID,
			p.Credits,
			formatAmount(p.Amount, p.Currency),
			p.Status,
			p.PaymentReference,
			p.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func runPurchasesComplete(cmd *cobra.Command, args []string) error {
	return finalizePurchase(cmd, args[0], true)
}

func runPurchasesFail(cmd *cobra.Command, args []string) error {
	return finalizePurchase(cmd, args[0], false)
}

func finalizePurchase(cmd *cobra.Command, id string, complete bool) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := cmdContext()
	defer cancel()

	var outcome credit.CompleteOutcome
	if complete {
		outcome, err = a.Credits.CompletePurchase(ctx, id)
	} else {
		outcome, err = a.Credits.FailPurchase(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("failed to finalize purchase: %w", err)
	}

	out := cmd.OutOrStdout()
	switch outcome {
	case credit.OutcomeNotFound:
		return fmt.Errorf("purchase not found: %s", id)
	case credit.OutcomeAlreadyFinalized:
		fmt.Fprintf(out, "Purchase %s was already finalized; nothing changed.\n", id)
	default:
		fmt.Fprintf(out, "Purchase %s %s.\n", id, outcome)
	}
	return nil
}

func formatAmount(minor int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", minor/100, minor%100, currency)
}
