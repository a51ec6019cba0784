package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"policywatch/pkg/metadata"
)

var verifyCmd = &cobra.Command{
	Use:         "verify <report.md>...",
	Short:       "Check that markdown reports were not edited after they were generated",
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{skipConfigAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0

		for _, path := range args {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			meta, err := metadata.Verify(string(content))
			if err != nil {
				failed++

				fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", path, err)

				continue
			}

			fmt.Fprintf(cmd.OutOrStdout(), "OK   %s (run %s, %s)\n", path, meta.RunID, meta.Status)
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d reports failed verification", failed, len(args))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
