package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show a user's credit balance",
	Long: `Show a user's credit balance. A user seen for the first time is
seeded with the free grant.

Examples:
  creditgate balance --user=user_123`,
	RunE: runBalance,
}

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Grant credits to a user",
	Long: `Add credits to a user's balance outside of a purchase,
e.g. for support credits or promotions.

Examples:
  creditgate grant --user=user_123 --credits=100
  creditgate grant --user=user_123 --credits=50 --reference=ticket-4411`,
	RunE: runGrant,
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show a user's recent credit usage",
	Long: `Show a user's most recent usage events, newest first.

Examples:
  creditgate usage --user=user_123
  creditgate usage --user=user_123 --limit=200 --summary`,
	RunE: runUsage,
}

var (
	creditsUserID    string
	grantCredits     int64
	grantReference   string
	usageLimit       int
	usageShowSummary bool
)

func init() {
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(usageCmd)

	balanceCmd.Flags().StringVar(&creditsUserID, "user", "", "user ID (required)")
	balanceCmd.MarkFlagRequired("user")

	grantCmd.Flags().StringVar(&creditsUserID, "user", "", "user ID (required)")
	grantCmd.Flags().Int64Var(&grantCredits, "credits", 0, "credits to add (required)")
	grantCmd.Flags().StringVar(&grantReference, "reference", "", "reference recorded in logs")
	grantCmd.MarkFlagRequired("user")
	grantCmd.MarkFlagRequired("credits")

	usageCmd.Flags().StringVar(&creditsUserID, "user", "", "user ID (required)")
	usageCmd.Flags().IntVar(&usageLimit, "limit", 20, "number of events to show")
	usageCmd.Flags().BoolVar(&usageShowSummary, "summary", false, "aggregate by model instead of listing events")
	usageCmd.MarkFlagRequired("user")
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func runBalance(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := cmdContext()
	defer cancel()

	b, err := a.Credits.GetBalance(ctx, creditsUserID)
	if err != nil {
		return fmt.Errorf("failed to get balance: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Balance for %s\n\n", b.UserID)
	fmt.Fprintf(out, "Total:     %d\n", b.TotalCredits)
	fmt.Fprintf(out, "Used:      %d\n", b.UsedCredits)
	fmt.Fprintf(out, "Remaining: %d\n", b.Remaining())
	return nil
}

func runGrant(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := cmdContext()
	defer cancel()

	b, err := a.Credits.AddCredits(ctx, creditsUserID, grantCredits, grantReference)
	if err != nil {
		return fmt.Errorf("failed to grant credits: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Granted %d credits to %s (remaining: %d)\n", grantCredits, b.UserID, b.Remaining())
	return nil
}

func runUsage(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := cmdContext()
	defer cancel()

	out := cmd.OutOrStdout()

	if usageShowSummary {
		s, err := a.Credits.GetUsageSummary(ctx, creditsUserID, usageLimit)
		if err != nil {
			return fmt.Errorf("failed to get usage: %w", err)
		}

		fmt.Fprintf(out, "Usage Summary for %s\n\n", s.UserID)
		fmt.Fprintf(out, "Invocations:  %d\n", s.Invocations)
		fmt.Fprintf(out, "Credits Used: %d\n", s.CreditsUsed)
		fmt.Fprintf(out, "Tokens Used:  %d\n\n", s.TokensUsed)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tINVOCATIONS\tCREDITS\tTOKENS")
		for _, m := range s.ByModel {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", m.ModelID, m.Invocations, m.CreditsUsed, m.TokensUsed)
		}
		return w.Flush()
	}

	events, err := a.Credits.GetUsageHistory(ctx, creditsUserID, usageLimit)
	if err != nil {
		return fmt.Errorf("failed to get usage: %w", err)
	}

	if len(events) == 0 {
		fmt.Fprintln(out, "No usage recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tMODEL\tCREDITS\tTOKENS\tTYPE")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			e.ModelID,
			e.CreditsUsed,
			e.TokensUsed,
			e.RequestType,
		)
	}
	return w.Flush()
}
