package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/territory-engine/generic"
)

// =============================================================================
// PAYOUT
// =============================================================================

var payoutCmd = &cobra.Command{
	Use:   "payout",
	Short: "Pay out approved commissions of a period",
	Long: `Mark every approved commission of the period as paid. Rows are paid
in chunks, each committed on its own; running the command again for a
fully paid period pays nothing.`,
	Args: cobra.NoArgs,
	RunE: runPayout,
}

// =============================================================================
// REEVALUATE
// =============================================================================

var reevaluateCmd = &cobra.Command{
	Use:   "reevaluate",
	Short: "Re-evaluate protection of every protected territory",
	Long: `Refresh account and revenue metrics of each protected territory and
downgrade the ones whose performance or time-based rule no longer holds.
Per-territory failures are reported and do not stop the run.`,
	Args: cobra.NoArgs,
	RunE: runReevaluate,
}

func init() {
	rootCmd.AddCommand(payoutCmd)
	rootCmd.AddCommand(reevaluateCmd)

	payoutCmd.Flags().StringP("period", "p", "", "Period to pay, YYYY-MM (default: previous month)")
	payoutCmd.Flags().StringP("reference", "r", "", "Payment reference (default: payout-<period>)")
}

func runPayout(cmd *cobra.Command, args []string) error {
	periodFlag, _ := cmd.Flags().GetString("period")
	reference, _ := cmd.Flags().GetString("reference")

	var period generic.Period
	if periodFlag != "" {
		p, err := generic.ParsePeriod(periodFlag)
		if err != nil {
			return err
		}
		period = p
	}

	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.handler.Payouts.Run(cmd.Context(), period, reference)
	if res != nil {
		if perr := printJSON(cmd, res); perr != nil {
			return perr
		}
	}
	return err
}

func runReevaluate(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.handler.Reevaluator.Run(cmd.Context())
	if report != nil {
		if perr := printJSON(cmd, report); perr != nil {
			return perr
		}
		if len(report.Failed) > 0 {
			a.log.Warn("reevaluation finished with failures", zap.Int("failed", len(report.Failed)))
		}
	}
	return err
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
