package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/larklabs/backend/internal/domain/quota"
	"github.com/spf13/cobra"
)

type evaluation struct {
	TierID       string             `json:"tier_id"`
	UnknownTier  bool               `json:"unknown_tier"`
	IsFirstMonth bool               `json:"is_first_month"`
	Actions      []actionEvaluation `json:"actions"`
}

type actionEvaluation struct {
	Action    quota.ActionType `json:"action"`
	Used      int              `json:"used"`
	Limit     int              `json:"limit"`
	Remaining int              `json:"remaining"`
	Exceeded  bool             `json:"exceeded"`
}

func newEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a usage snapshot against a tier",
		Example: `  quotactl evaluate --tier PRO --text 100 --photo 19
  quotactl evaluate --tier FREE --photo 4 --first-month -o json`,
		Args: cobra.NoArgs,
		RunE: runEvaluate,
	}
	cmd.Flags().String("tier", "", "tier identifier (case-insensitive)")
	cmd.Flags().Int("text", 0, "text queries used this cycle")
	cmd.Flags().Int("photo", 0, "photo analyses used this cycle")
	cmd.Flags().Int("explainer", 0, "explainers used this cycle")
	cmd.Flags().Bool("first-month", false, "subscriber is in the first month")
	_ = cmd.MarkFlagRequired("tier")
	return cmd
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	registry, err := loadRegistry(cmd)
	if err != nil {
		return err
	}

	tierID, _ := cmd.Flags().GetString("tier")
	usage := quota.Usage{}
	usage.TextQueries, _ = cmd.Flags().GetInt("text")
	usage.PhotoAnalysis, _ = cmd.Flags().GetInt("photo")
	usage.ExplainerQueries, _ = cmd.Flags().GetInt("explainer")
	usage.IsFirstMonth, _ = cmd.Flags().GetBool("first-month")
	if usage.TextQueries < 0 || usage.PhotoAnalysis < 0 || usage.ExplainerQueries < 0 {
		return &quota.InvalidUsageError{Field: "usage", Reason: "cannot be negative"}
	}

	result := evaluate(quota.NewEvaluator(registry), tierID, usage)
	if format == outputJSON {
		return writeJSON(cmd.OutOrStdout(), result)
	}

	out := cmd.OutOrStdout()
	if result.UnknownTier {
		_, _ = fmt.Fprintf(out, "Tier %q is not recognized; every action is denied.\n\n", tierID)
	} else {
		_, _ = fmt.Fprintf(out, "Tier: %s (first month: %t)\n\n", result.TierID, result.IsFirstMonth)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ACTION\tUSED\tLIMIT\tREMAINING\tEXCEEDED")
	for _, a := range result.Actions {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%t\n", a.Action, a.Used, a.Limit, a.Remaining, a.Exceeded)
	}
	return w.Flush()
}

func evaluate(e *quota.Evaluator, tierID string, usage quota.Usage) evaluation {
	lookup := e.Registry().Lookup(tierID)
	result := evaluation{
		TierID:       quota.NormalizeTierID(tierID),
		UnknownTier:  !lookup.Found(),
		IsFirstMonth: usage.IsFirstMonth,
	}

	remaining := e.GetRemainingQuota(tierID, usage)
	for _, action := range quota.AllActionTypes() {
		limit, err := e.LimitFor(tierID, action, usage.IsFirstMonth)
		if err != nil {
			limit = 0
		}
		result.Actions = append(result.Actions, actionEvaluation{
			Action:    action,
			Used:      usage.Count(action),
			Limit:     limit,
			Remaining: remaining.For(action),
			Exceeded:  e.HasExceededLimit(tierID, usage, action),
		})
	}
	return result
}
