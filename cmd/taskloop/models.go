package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/GoCodeAlone/taskloop/provider"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models available from the configured provider",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		models, err := provider.ListModels(ctx, cfg.Provider.Type, cfg.APIKey(), cfg.Provider.BaseURL)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME")
		for _, m := range models {
			fmt.Fprintf(tw, "%s\t%s\n", m.ID, m.Name)
		}
		return tw.Flush()
	},
}
