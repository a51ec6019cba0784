package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"policywatch/internal/config"
	"policywatch/internal/pipeline"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Collect on a fixed interval until interrupted",
	Long: `monitor runs a collection immediately and then every monitoring.interval_sec.
After a failed run it retries after monitoring.retry_after_sec. With
monitoring.watch_config set, edits to the config file update the schedule and
log level without a restart.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		m := pipeline.NewMonitor(a.orchestrator, cfg.Collector.Monitoring.Interval(), cfg.Collector.Monitoring.RetryAfter(), log)

		g, ctx := errgroup.WithContext(cmd.Context())

		g.Go(func() error {
			return m.Run(ctx)
		})

		if cfg.Collector.Monitoring.WatchConfig && fileExists(configPath) {
			g.Go(func() error {
				return config.Watch(ctx, configPath,
					func(next *config.Config) {
						m.SetSchedule(next.Collector.Monitoring.Interval(), next.Collector.Monitoring.RetryAfter())

						if logLevel == "" {
							log.SetLevel(next.Collector.Logging.Level)
						}

						log.Info("config reloaded", "interval", next.Collector.Monitoring.Interval())
					},
					func(err error) {
						log.Warn("config reload failed", "error", err)
					})
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		if last := m.LastResult(); last != nil {
			log.Info("monitor stopped", "runs", m.Runs(), "last_run", last.RunID, "last_status", last.Status)
		} else {
			log.Info("monitor stopped", "runs", m.Runs())
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
