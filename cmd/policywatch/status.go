package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"policywatch/internal/report"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored data files, the global summary and recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.orchestrator.Status(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			return report.WriteJSON(cmd.OutOrStdout(), res)
		}

		if err := report.WriteStatus(cmd.OutOrStdout(), res, time.Now()); err != nil {
			return fmt.Errorf("failed to write status: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
