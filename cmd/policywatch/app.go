package main

import (
	"fmt"

	"policywatch/internal/changes"
	"policywatch/internal/config"
	"policywatch/internal/crawler"
	"policywatch/internal/logger"
	"policywatch/internal/normalizer"
	"policywatch/internal/pipeline"
	"policywatch/internal/runlog"
	"policywatch/internal/snapshot"
)

// app holds the components wired from one configuration.
type app struct {
	collector    *crawler.Collector
	orchestrator *pipeline.Orchestrator
	scraper      *crawler.Scraper
	runLog       *runlog.Store
	log          *logger.Logger
}

func newApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	c := cfg.Collector

	scraper := crawler.NewScraperWithConfig(&c.Retry, cfg.Advanced.BufferSizeKb, cfg.Advanced.UserAgent)

	collector, err := crawler.NewCollectorFromConfig(cfg, scraper, scraper, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build collector: %w", err)
	}

	store, err := snapshot.NewFileStore(c.Output.DataDir, c.Output.PrettyPrint)
	if err != nil {
		return nil, err
	}

	detector, err := changes.NewDetector(changes.Identity(c.Changes.Identity), log)
	if err != nil {
		return nil, err
	}

	norm := normalizer.NewNormalizer(log, normalizer.WithDurationUnitConversion(c.Normalizer.ConvertDurationUnits))

	opts := []pipeline.Option{pipeline.WithConcurrency(c.Concurrency.MaxCountries)}

	a := &app{collector: collector, scraper: scraper, log: log}

	if c.RunLog.Enabled {
		rl, err := runlog.Open(c.RunLog.Path)
		if err != nil {
			return nil, err
		}

		a.runLog = rl
		opts = append(opts, pipeline.WithRunLog(rl, c.RunLog.StaleAfter()))
	}

	a.orchestrator = pipeline.New(collector, norm, detector, store, log, opts...)

	return a, nil
}

// Close logs the fetch summary and releases the run log.
func (a *app) Close() error {
	a.scraper.Attempts().LogSummary(a.log)

	if a.runLog == nil {
		return nil
	}

	return a.runLog.Close()
}
