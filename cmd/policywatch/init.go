package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"policywatch/internal/config"
)

var initForce bool

// initCmd writes the built-in configuration so it can be edited.
var initCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write the default configuration to --config",
	Annotations: map[string]string{skipConfigAnnotation: "true"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		if fileExists(configPath) && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}

		if err := config.Default().SaveConfig(configPath); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Wrote default configuration to", configPath)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}
