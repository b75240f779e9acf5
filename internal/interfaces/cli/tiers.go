package cli

import (
	"fmt"
	"text/tabwriter"

	appquota "github.com/larklabs/backend/internal/application/quota"
	"github.com/spf13/cobra"
)

func newTiersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "List the tier catalogue ordered by price",
		Args:  cobra.NoArgs,
		RunE:  runTiers,
	}
}

func runTiers(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	registry, err := loadRegistry(cmd)
	if err != nil {
		return err
	}

	tiers := registry.Tiers()
	if format == outputJSON {
		out := make([]appquota.TierDTO, 0, len(tiers))
		for _, t := range tiers {
			out = append(out, appquota.ToTierDTO(t))
		}
		return writeJSON(cmd.OutOrStdout(), out)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tPRICE\tTEXT\tPHOTO\tEXPLAINER\tUSERS\tSHARED")
	for _, t := range tiers {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\t%d\t%t\n",
			t.ID, t.Name, t.MonthlyPrice.StringFixed(2),
			t.Limits.TextQueries, t.Limits.PhotoAnalysis, t.Limits.ExplainerQueries,
			t.MaxUsers, t.SharedPool)
	}
	return w.Flush()
}
