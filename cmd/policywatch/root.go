package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"policywatch/internal/config"
	"policywatch/internal/logger"
	"policywatch/internal/pipeline"
	"policywatch/internal/report"
	"policywatch/pkg/utils"
)

const defaultConfigPath = "configs/collector.yaml"

// skipConfigAnnotation marks commands that run without loading the config.
const skipConfigAnnotation = "policywatch/skip-config"

var (
	configPath   string
	jsonOutput   bool
	logLevel     string
	markdownPath string

	cfg *config.Config
	log *logger.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "policywatch",
	Short: "Collect immigration policies, normalize them and detect changes",
	Long: `policywatch fetches immigration policy pages per country, normalizes them
into structured policies and diffs every run against the previous snapshot.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if _, skip := cmd.Annotations[skipConfigAnnotation]; skip {
			log = logger.NewLogger(logLevel)

			return nil
		}

		loaded, err := loadConfig(configPath, cmd.Flags().Changed("config"))
		if err != nil {
			return err
		}

		cfg = loaded

		level := cfg.Collector.Logging.Level
		if logLevel != "" {
			level = logLevel
		}

		log = logger.NewLogger(level)

		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the collector config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
}

// loadConfig reads path. The default path may be absent, in which case the
// built-in configuration is used; an explicit path must exist.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if !explicit && !fileExists(path) {
		return config.Default(), nil
	}

	loaded, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	return loaded, nil
}

// printResult writes res in the selected format and turns an error status
// into a command error.
func printResult(cmd *cobra.Command, res *pipeline.Result, runErr error) error {
	if res != nil {
		var err error
		if jsonOutput {
			err = report.WriteJSON(cmd.OutOrStdout(), res)
		} else {
			err = report.WriteRun(cmd.OutOrStdout(), res)
		}

		if err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}

	if res != nil && markdownPath != "" {
		if err := writeMarkdownReport(markdownPath, res); err != nil {
			return err
		}
	}

	if runErr != nil {
		return runErr
	}

	if res != nil && res.Status == pipeline.StatusError {
		return fmt.Errorf("run %s failed: %s", res.RunID, utils.NewStringHelper().JoinNonEmpty(": ", res.Message, res.Error))
	}

	return nil
}

func writeMarkdownReport(path string, res *pipeline.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}

	if err := report.WriteMarkdown(f, res); err != nil {
		f.Close()

		return fmt.Errorf("failed to write report: %w", err)
	}

	return f.Close()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)

	return !errors.Is(err, fs.ErrNotExist)
}
