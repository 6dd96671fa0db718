package main

import (
	"fmt"

	"github.com/GoCodeAlone/taskloop/internal/version"
	"github.com/GoCodeAlone/taskloop/update"
	"github.com/spf13/cobra"
)

var versionCheck bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "taskloop %s (commit %s, built %s)\n",
			version.Version, version.Commit, version.BuildDate)
		if !versionCheck {
			return nil
		}

		rel, err := update.New(version.Version).CheckForUpdate(cmd.Context())
		if err != nil {
			return fmt.Errorf("check for update: %w", err)
		}
		if rel == nil {
			fmt.Fprintln(out, "up to date")
			return nil
		}
		fmt.Fprintf(out, "newer release available: %s %s\n", rel.Version, rel.Page)
		if rel.URL != "" {
			fmt.Fprintf(out, "download: %s\n", rel.URL)
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check GitHub for a newer release")
}
