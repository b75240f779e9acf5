// Package cli implements quotactl, the operator tool for inspecting tiers
// and evaluating quotas without a running server.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/larklabs/backend/internal/domain/quota"
	"github.com/larklabs/backend/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

const (
	outputText = "text"
	outputJSON = "json"
)

var version = "dev"

// NewRootCmd creates the root quotactl command
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:           "quotactl",
		Short:         "Inspect LARK tiers and evaluate quotas",
		Long:          "quotactl reads the tier catalogue from a config file (or the built-in defaults) and answers quota and billing-cycle questions offline.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newTiersCmd())
	root.AddCommand(newEvaluateCmd())
	root.AddCommand(newResetCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to a config file with [[tiers]] tables")
	root.PersistentFlags().StringP("output", "o", outputText, "output format: text or json")

	return root
}

// loadRegistry returns the registry from --config, or the built-in tiers
func loadRegistry(cmd *cobra.Command) (*quota.Registry, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return quota.DefaultRegistry(), nil
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg.TierRegistry()
}

func outputFormat(cmd *cobra.Command) (string, error) {
	out, _ := cmd.Flags().GetString("output")
	switch out {
	case outputText, outputJSON:
		return out, nil
	}
	return "", fmt.Errorf("unknown output format %q", out)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
