package cli

import (
	"fmt"
	"time"

	"github.com/larklabs/backend/internal/domain/quota"
	"github.com/spf13/cobra"
)

type resetReport struct {
	Anchor          time.Time `json:"anchor"`
	Now             time.Time `json:"now"`
	NextBillingDate time.Time `json:"next_billing_date"`
	DaysUntilReset  int       `json:"days_until_reset"`
	IsFirstMonth    bool      `json:"is_first_month"`
}

func newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Show the billing-cycle reset for a subscription anchor",
		Example: `  quotactl reset --anchor 2026-01-31
  quotactl reset --anchor 2026-04-15T09:00:00Z --now 2026-05-20`,
		Args: cobra.NoArgs,
		RunE: runReset,
	}
	cmd.Flags().String("anchor", "", "subscription start date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().String("now", "", "evaluate as of this time instead of the current time")
	_ = cmd.MarkFlagRequired("anchor")
	return cmd
}

func runReset(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	anchorFlag, _ := cmd.Flags().GetString("anchor")
	anchor, err := parseTime(anchorFlag)
	if err != nil {
		return fmt.Errorf("invalid --anchor: %w", err)
	}

	var clock quota.Clock = quota.SystemClock{}
	if nowFlag, _ := cmd.Flags().GetString("now"); nowFlag != "" {
		now, err := parseTime(nowFlag)
		if err != nil {
			return fmt.Errorf("invalid --now: %w", err)
		}
		clock = quota.FixedClock{T: now}
	}

	rc := quota.NewResetClock(clock)
	report := resetReport{
		Anchor:          anchor,
		Now:             rc.Now(),
		NextBillingDate: rc.NextBillingDate(anchor),
		DaysUntilReset:  rc.DaysUntilReset(anchor),
		IsFirstMonth:    rc.IsFirstMonth(anchor),
	}

	if format == outputJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Anchor:            %s\n", report.Anchor.Format(time.RFC3339))
	_, _ = fmt.Fprintf(out, "Now:               %s\n", report.Now.Format(time.RFC3339))
	_, _ = fmt.Fprintf(out, "Next billing date: %s\n", report.NextBillingDate.Format(time.RFC3339))
	_, _ = fmt.Fprintf(out, "Days until reset:  %d\n", report.DaysUntilReset)
	_, _ = fmt.Fprintf(out, "First month:       %t\n", report.IsFirstMonth)
	return nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
