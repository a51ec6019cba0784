package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"policywatch/internal/config"
	"policywatch/internal/logger"
	"policywatch/internal/models"
)

// ErrUnsupportedCountry is returned for a country code with no configured sources.
var ErrUnsupportedCountry = errors.New("country not supported")

// SourceReport is the outcome of one source for one country.
type SourceReport struct {
	Name           string   `json:"name"`
	Kind           string   `json:"kind"`
	Errors         []string `json:"errors,omitempty"`
	Records        int      `json:"records"`
	NotImplemented bool     `json:"not_implemented,omitempty"`
}

// CountryResult is everything collected for one country.
type CountryResult struct {
	CountryCode string
	Records     []models.RawPolicyRecord
	Sources     []SourceReport
	errs        []error
}

// Failures counts the individual fetch, parse and source errors.
func (r CountryResult) Failures() int {
	n := 0

	for _, s := range r.Sources {
		if !s.NotImplemented {
			n += len(s.Errors)
		}
	}

	return n
}

// NotImplemented reports whether every source of the country is a placeholder.
func (r CountryResult) NotImplemented() bool {
	if len(r.Sources) == 0 {
		return false
	}

	for _, s := range r.Sources {
		if !s.NotImplemented {
			return false
		}
	}

	return true
}

// Err joins the source errors, excluding placeholder sources.
func (r CountryResult) Err() error {
	return errors.Join(r.errs...)
}

// CountryInfo describes a supported country and its sources.
type CountryInfo struct {
	Code    string       `json:"code"`
	Name    string       `json:"name"`
	Sources []SourceInfo `json:"sources"`
}

// SourceInfo describes one configured source.
type SourceInfo struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	PolicyType  string   `json:"policy_type,omitempty"`
	URLs        []string `json:"urls,omitempty"`
	Implemented bool     `json:"implemented"`
}

type countryEntry struct {
	info    CountryInfo
	sources []Source
}

// Collector runs the sources of each supported country.
type Collector struct {
	countries map[string]*countryEntry
	logger    *logger.Logger
	order     []string
}

// NewCollector creates an empty collector. Countries are added with Register.
func NewCollector(log *logger.Logger) *Collector {
	if log == nil {
		log = logger.NewNop()
	}

	return &Collector{
		countries: make(map[string]*countryEntry),
		logger:    log,
	}
}

// NewCollectorFromConfig registers every enabled country of cfg. HTML
// sources share fetcher; file sources read through scraper.
func NewCollectorFromConfig(cfg *config.Config, fetcher Fetcher, scraper *Scraper, log *logger.Logger) (*Collector, error) {
	c := NewCollector(log)

	for _, country := range cfg.GetEnabledCountries() {
		sources := make([]Source, 0, len(country.Sources))
		infos := make([]SourceInfo, 0, len(country.Sources))

		for _, sc := range country.Sources {
			src, err := NewSource(sc, fetcher, scraper)
			if err != nil {
				return nil, fmt.Errorf("country %s: %w", country.Code, err)
			}

			sources = append(sources, src)
			infos = append(infos, SourceInfo{
				Name:        sc.Name,
				Kind:        sc.Kind,
				PolicyType:  sc.PolicyType,
				URLs:        sc.URLs,
				Implemented: src.Implemented(),
			})
		}

		c.register(CountryInfo{Code: country.Code, Name: country.Name, Sources: infos}, sources)
	}

	return c, nil
}

// Register adds a country with the given sources, replacing any previous entry.
func (c *Collector) Register(code, name string, sources ...Source) {
	infos := make([]SourceInfo, 0, len(sources))
	for _, s := range sources {
		infos = append(infos, SourceInfo{Name: s.Name(), Kind: s.Kind(), Implemented: s.Implemented()})
	}

	c.register(CountryInfo{Code: code, Name: name, Sources: infos}, sources)
}

func (c *Collector) register(info CountryInfo, sources []Source) {
	code := strings.ToUpper(info.Code)
	info.Code = code

	if _, exists := c.countries[code]; !exists {
		c.order = append(c.order, code)
	}

	c.countries[code] = &countryEntry{info: info, sources: sources}
}

// SupportedCountries returns the registered country codes in registration order.
func (c *Collector) SupportedCountries() []string {
	return append([]string(nil), c.order...)
}

// SourceInfo describes the sources of a country.
func (c *Collector) SourceInfo(code string) (CountryInfo, bool) {
	entry, ok := c.countries[strings.ToUpper(code)]
	if !ok {
		return CountryInfo{}, false
	}

	return entry.info, true
}

// CollectCountry runs every source of a country. Source errors and panics are
// recorded in the result and never stop the remaining sources.
func (c *Collector) CollectCountry(ctx context.Context, code string) (CountryResult, error) {
	code = strings.ToUpper(code)

	entry, ok := c.countries[code]
	if !ok {
		return CountryResult{}, fmt.Errorf("%w: %s", ErrUnsupportedCountry, code)
	}

	result := CountryResult{CountryCode: code}

	for _, src := range entry.sources {
		records, err := c.runSource(ctx, src, code)

		report := SourceReport{
			Name:           src.Name(),
			Kind:           src.Kind(),
			Records:        len(records),
			NotImplemented: !src.Implemented() || errors.Is(err, ErrSourceNotImplemented),
		}

		if err != nil {
			report.Errors = splitErrors(err)

			if !report.NotImplemented {
				result.errs = append(result.errs, fmt.Errorf("source %s: %w", src.Name(), err))
				c.logger.Warn("source failed", "country", code, "source", src.Name(), "error", err)
			} else {
				c.logger.Debug("source not implemented", "country", code, "source", src.Name())
			}
		}

		result.Records = append(result.Records, records...)
		result.Sources = append(result.Sources, report)
	}

	return result, nil
}

func (c *Collector) runSource(ctx context.Context, src Source, code string) (records []models.RawPolicyRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("source %s panicked: %v", src.Name(), r)
		}
	}()

	return src.Collect(ctx, code)
}

// Collect runs CollectCountry for each code in order. Unsupported codes are
// logged and skipped. A nil codes slice means every supported country.
func (c *Collector) Collect(ctx context.Context, codes []string) map[string]CountryResult {
	if codes == nil {
		codes = c.SupportedCountries()
	}

	results := make(map[string]CountryResult, len(codes))

	for _, code := range codes {
		res, err := c.CollectCountry(ctx, code)
		if err != nil {
			c.logger.Warn("country not supported", "country", code)

			continue
		}

		results[res.CountryCode] = res
	}

	return results
}

// splitErrors flattens an errors.Join tree into its messages.
func splitErrors(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var msgs []string
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, splitErrors(e)...)
		}

		return msgs
	}

	return []string{err.Error()}
}
