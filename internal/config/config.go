// Package config provides configuration management for the policy collector.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration validation errors.
var (
	ErrNoCountries              = errors.New("at least one country is required")
	ErrCountryMissingCode       = errors.New("country code is required")
	ErrDuplicateCountry         = errors.New("country code is defined more than once")
	ErrCountryNoSources         = errors.New("country needs at least one source")
	ErrNoEnabledCountries       = errors.New("at least one country must be enabled")
	ErrSourceMissingName        = errors.New("source name is required")
	ErrInvalidSourceKind        = errors.New("source kind must be one of: html, file, stub")
	ErrSourceMissingURLs        = errors.New("html source requires at least one url")
	ErrSourceMissingFile        = errors.New("file source requires a file path")
	ErrSourceMissingPolicyType  = errors.New("html source requires a policy_type")
	ErrInvalidMaxAttempts       = errors.New("retry.max_attempts must be at least 1")
	ErrInvalidInitialDelay      = errors.New("retry.initial_delay_ms must be non-negative")
	ErrInvalidBackoffMultiplier = errors.New("retry.backoff_multiplier must be >= 1.0")
	ErrInvalidTimeout           = errors.New("retry.timeout_sec must be at least 1")
	ErrInvalidConcurrency       = errors.New("concurrency.max_countries must be at least 1")
	ErrMissingDataDir           = errors.New("output.data_dir is required")
	ErrMissingRunLogPath        = errors.New("run_log.path is required when the run log is enabled")
	ErrInvalidStaleAfter        = errors.New("run_log.stale_after_min must be at least 1")
	ErrInvalidIdentity          = errors.New("changes.identity must be 'fingerprint' or 'title'")
	ErrInvalidInterval          = errors.New("monitoring.interval_sec must be at least 1")
	ErrInvalidRetryAfter        = errors.New("monitoring.retry_after_sec must be at least 1")
	ErrInvalidLogLevel          = errors.New("logging.level must be one of: debug, info, warn, error")
)

// Source kinds.
const (
	SourceHTML = "html"
	SourceFile = "file"
	SourceStub = "stub"
)

// PolicyTypeAuto derives the policy type of a scraped section from its title.
const PolicyTypeAuto = "auto"

// Config represents the complete collector configuration.
type Config struct {
	Collector CollectorConfig `yaml:"collector"`
	Advanced  AdvancedConfig  `yaml:"advanced"`
}

// CollectorConfig contains collector-specific settings.
type CollectorConfig struct {
	Output      OutputConfig      `yaml:"output"`
	RunLog      RunLogConfig      `yaml:"run_log"`
	Changes     ChangesConfig     `yaml:"changes"`
	Logging     LoggingConfig     `yaml:"logging"`
	Countries   []CountryConfig   `yaml:"countries"`
	Retry       RetryPolicy       `yaml:"retry"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Normalizer  NormalizerConfig  `yaml:"normalizer"`
}

// CountryConfig describes one supported country and its data sources.
type CountryConfig struct {
	Code    string         `yaml:"code"`
	Name    string         `yaml:"name"`
	Sources []SourceConfig `yaml:"sources"`
	Enabled bool           `yaml:"enabled"`
}

// SourceConfig represents a policy data source.
type SourceConfig struct {
	Name               string   `yaml:"name"`
	Kind               string   `yaml:"kind"`
	PolicyType         string   `yaml:"policy_type"`
	BaseURL            string   `yaml:"base_url"`
	File               string   `yaml:"file"`
	SectionPattern     string   `yaml:"section_pattern"`
	RequirementPattern string   `yaml:"requirement_pattern"`
	URLs               []string `yaml:"urls"`
}

// IsLocalFile returns true if this source reads a local file.
func (s *SourceConfig) IsLocalFile() bool {
	return s.Kind == SourceFile
}

// GetSource returns the file path if local, or the first URL if remote.
func (s *SourceConfig) GetSource() string {
	if s.IsLocalFile() {
		return s.File
	}

	if len(s.URLs) == 0 {
		return ""
	}

	return s.URLs[0]
}

// RetryPolicy defines retry behavior.
type RetryPolicy struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	TimeoutSec        int     `yaml:"timeout_sec"`
}

// ConcurrencyConfig bounds parallel work.
type ConcurrencyConfig struct {
	MaxCountries int `yaml:"max_countries"`
}

// OutputConfig defines where collected data is written.
type OutputConfig struct {
	DataDir     string `yaml:"data_dir"`
	PrettyPrint bool   `yaml:"pretty_print"`
}

// RunLogConfig configures the sqlite run log.
type RunLogConfig struct {
	Path          string `yaml:"path"`
	StaleAfterMin int    `yaml:"stale_after_min"`
	Enabled       bool   `yaml:"enabled"`
}

// ChangesConfig configures change detection.
type ChangesConfig struct {
	Identity string `yaml:"identity"`
}

// NormalizerConfig configures policy normalization.
type NormalizerConfig struct {
	ConvertDurationUnits bool `yaml:"convert_duration_units"`
}

// MonitoringConfig configures the periodic monitoring loop.
type MonitoringConfig struct {
	IntervalSec   int  `yaml:"interval_sec"`
	RetryAfterSec int  `yaml:"retry_after_sec"`
	WatchConfig   bool `yaml:"watch_config"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// AdvancedConfig contains advanced settings.
type AdvancedConfig struct {
	UserAgent    string `yaml:"user_agent"`
	BufferSizeKb int    `yaml:"buffer_size_kb"`
}

// LoadConfig loads configuration from YAML file. Missing keys keep the
// values of Default.
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	cfg.Collector.Countries = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if len(cfg.Collector.Countries) == 0 {
		cfg.Collector.Countries = Default().Collector.Countries
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves configuration to YAML file.
func (c *Config) SaveConfig(filepath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateCountries(); err != nil {
		return err
	}

	// Validate retry policy
	if c.Collector.Retry.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}

	if c.Collector.Retry.InitialDelayMs < 0 {
		return ErrInvalidInitialDelay
	}

	if c.Collector.Retry.BackoffMultiplier < 1.0 {
		return ErrInvalidBackoffMultiplier
	}

	if c.Collector.Retry.TimeoutSec < 1 {
		return ErrInvalidTimeout
	}

	if c.Collector.Concurrency.MaxCountries < 1 {
		return ErrInvalidConcurrency
	}

	// Validate output and run log
	if c.Collector.Output.DataDir == "" {
		return ErrMissingDataDir
	}

	if c.Collector.RunLog.Enabled {
		if c.Collector.RunLog.Path == "" {
			return ErrMissingRunLogPath
		}

		if c.Collector.RunLog.StaleAfterMin < 1 {
			return ErrInvalidStaleAfter
		}
	}

	switch c.Collector.Changes.Identity {
	case "fingerprint", "title":
	default:
		return ErrInvalidIdentity
	}

	if c.Collector.Monitoring.IntervalSec < 1 {
		return ErrInvalidInterval
	}

	if c.Collector.Monitoring.RetryAfterSec < 1 {
		return ErrInvalidRetryAfter
	}

	// Validate logging config
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Collector.Logging.Level] {
		return ErrInvalidLogLevel
	}

	return nil
}

func (c *Config) validateCountries() error {
	if len(c.Collector.Countries) == 0 {
		return ErrNoCountries
	}

	seen := make(map[string]bool)
	enabledCount := 0

	for i, country := range c.Collector.Countries {
		if country.Code == "" {
			return fmt.Errorf("%w: countries[%d]", ErrCountryMissingCode, i)
		}

		code := strings.ToUpper(country.Code)
		if seen[code] {
			return fmt.Errorf("%w: %s", ErrDuplicateCountry, code)
		}

		seen[code] = true

		if len(country.Sources) == 0 {
			return fmt.Errorf("%w: %s", ErrCountryNoSources, code)
		}

		for j, src := range country.Sources {
			if err := src.validate(); err != nil {
				return fmt.Errorf("%w: %s.sources[%d]", err, code, j)
			}
		}

		if country.Enabled {
			enabledCount++
		}
	}

	if enabledCount == 0 {
		return ErrNoEnabledCountries
	}

	return nil
}

func (s *SourceConfig) validate() error {
	if s.Name == "" {
		return ErrSourceMissingName
	}

	switch s.Kind {
	case SourceHTML:
		if len(s.URLs) == 0 {
			return ErrSourceMissingURLs
		}

		if s.PolicyType == "" {
			return ErrSourceMissingPolicyType
		}
	case SourceFile:
		if s.File == "" {
			return ErrSourceMissingFile
		}
	case SourceStub:
	default:
		return ErrInvalidSourceKind
	}

	// Validate regex patterns
	patterns := map[string]string{
		"section_pattern":     s.SectionPattern,
		"requirement_pattern": s.RequirementPattern,
	}

	for name, pattern := range patterns {
		if pattern != "" {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("%s is invalid regex: %w", name, err)
			}
		}
	}

	return nil
}

// GetEnabledCountries returns only enabled countries.
func (c *Config) GetEnabledCountries() []CountryConfig {
	var enabled []CountryConfig

	for _, country := range c.Collector.Countries {
		if country.Enabled {
			enabled = append(enabled, country)
		}
	}

	return enabled
}

// GetCountry looks up a country by code, case-insensitively.
func (c *Config) GetCountry(code string) (CountryConfig, bool) {
	for _, country := range c.Collector.Countries {
		if strings.EqualFold(country.Code, code) {
			return country, true
		}
	}

	return CountryConfig{}, false
}

// GetRetryDelay calculates exponential backoff delay for attempt number.
func (rp *RetryPolicy) GetRetryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delayMs := float64(rp.InitialDelayMs)
	for i := 1; i < attempt; i++ {
		delayMs *= rp.BackoffMultiplier
	}

	// Cap at max delay
	if int(delayMs) > rp.MaxDelayMs {
		delayMs = float64(rp.MaxDelayMs)
	}

	return time.Duration(int(delayMs)) * time.Millisecond
}

// GetTimeout returns the timeout duration.
func (rp *RetryPolicy) GetTimeout() time.Duration {
	return time.Duration(rp.TimeoutSec) * time.Second
}

// StaleAfter returns how long a running entry blocks a new run.
func (r *RunLogConfig) StaleAfter() time.Duration {
	return time.Duration(r.StaleAfterMin) * time.Minute
}

// Interval returns the delay between monitoring cycles.
func (m *MonitoringConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSec) * time.Second
}

// RetryAfter returns the delay before retrying a failed monitoring cycle.
func (m *MonitoringConfig) RetryAfter() time.Duration {
	return time.Duration(m.RetryAfterSec) * time.Second
}

// String returns a string representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Countries: %d, MaxAttempts: %d, DataDir: %s}",
		len(c.Collector.Countries),
		c.Collector.Retry.MaxAttempts,
		c.Collector.Output.DataDir,
	)
}
