package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"policywatch/internal/config"
	"policywatch/internal/models"
	"policywatch/internal/normalizer"
)

// ErrSourceNotImplemented is returned by sources that have no adapter yet.
var ErrSourceNotImplemented = errors.New("source adapter not implemented")

// Source produces raw policy records for a country.
type Source interface {
	Name() string
	Kind() string
	// Implemented is false for placeholder sources. Their empty yield is not
	// a genuine "nothing found".
	Implemented() bool
	Collect(ctx context.Context, countryCode string) ([]models.RawPolicyRecord, error)
}

// NewSource builds the adapter described by cfg.
func NewSource(cfg config.SourceConfig, fetcher Fetcher, scraper *Scraper) (Source, error) {
	switch cfg.Kind {
	case config.SourceHTML:
		return NewHTMLSource(cfg, fetcher)
	case config.SourceFile:
		return NewFileSource(cfg, scraper), nil
	case config.SourceStub:
		return NewStubSource(cfg.Name), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidSourceKind, cfg.Kind)
	}
}

// HTMLSource scrapes policy sections from a list of pages.
type HTMLSource struct {
	fetcher Fetcher
	parser  *Parser
	now     func() time.Time
	cfg     config.SourceConfig
}

// NewHTMLSource creates an HTML source.
func NewHTMLSource(cfg config.SourceConfig, fetcher Fetcher) (*HTMLSource, error) {
	parser, err := NewParser(cfg.SectionPattern, cfg.RequirementPattern)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
	}

	return &HTMLSource{
		fetcher: fetcher,
		parser:  parser,
		now:     time.Now,
		cfg:     cfg,
	}, nil
}

// Name implements Source.
func (s *HTMLSource) Name() string { return s.cfg.Name }

// Kind implements Source.
func (s *HTMLSource) Kind() string { return config.SourceHTML }

// Implemented implements Source.
func (s *HTMLSource) Implemented() bool { return true }

// Collect fetches every configured URL. A failing URL does not stop the
// others; all failures are joined into the returned error alongside the
// records that were collected.
func (s *HTMLSource) Collect(ctx context.Context, countryCode string) ([]models.RawPolicyRecord, error) {
	var (
		records []models.RawPolicyRecord
		errs    []error
	)

	for _, url := range s.cfg.URLs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)

			break
		}

		page, err := s.fetcher.Fetch(ctx, url)
		if err != nil {
			errs = append(errs, fmt.Errorf("fetch %s: %w", url, err))

			continue
		}

		sections, err := s.parser.ParseSections(page)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", url, err))

			continue
		}

		fetchedAt := s.now().UTC()

		for _, sec := range sections {
			records = append(records, s.toRecord(countryCode, url, fetchedAt, sec))
		}
	}

	return records, errors.Join(errs...)
}

func (s *HTMLSource) toRecord(countryCode, url string, fetchedAt time.Time, sec Section) models.RawPolicyRecord {
	policyType := s.cfg.PolicyType
	if policyType == config.PolicyTypeAuto {
		policyType = DeterminePolicyType(sec.Title)
	}

	rec := models.RawPolicyRecord{
		CountryCode:  countryCode,
		PolicyType:   policyType,
		Title:        sec.Title,
		Description:  sec.Description,
		Requirements: sec.Requirements,
		SourceURL:    url,
		SourceRef:    sec.ID,
		FetchedAt:    fetchedAt,
	}

	if sec.Fee != "" {
		rec.CostUSD = normalizer.ExtractCost(sec.Fee)
	}

	return rec
}

// policyTypeKeywords are checked in order against a lower-cased title.
var policyTypeKeywords = []struct {
	policyType string
	words      []string
}{
	{"work", []string{"work", "employment", "job"}},
	{"student", []string{"student", "study", "education"}},
	{"family", []string{"family", "spouse", "partner"}},
	{"business", []string{"business", "investor", "entrepreneur"}},
	{"tourist", []string{"tourist", "visitor", "travel"}},
	{"permanent_residence", []string{"permanent", "residence", "green card"}},
}

// DeterminePolicyType classifies a section title into a policy type.
func DeterminePolicyType(title string) string {
	lower := strings.ToLower(title)

	for _, entry := range policyTypeKeywords {
		for _, w := range entry.words {
			if strings.Contains(lower, w) {
				return entry.policyType
			}
		}
	}

	return "other"
}

// FileSource reads raw records from a local JSON array.
type FileSource struct {
	scraper *Scraper
	now     func() time.Time
	cfg     config.SourceConfig
}

// NewFileSource creates a file source.
func NewFileSource(cfg config.SourceConfig, scraper *Scraper) *FileSource {
	if scraper == nil {
		scraper = NewScraper()
	}

	return &FileSource{scraper: scraper, now: time.Now, cfg: cfg}
}

// Name implements Source.
func (s *FileSource) Name() string { return s.cfg.Name }

// Kind implements Source.
func (s *FileSource) Kind() string { return config.SourceFile }

// Implemented implements Source.
func (s *FileSource) Implemented() bool { return true }

// Collect returns the file's records for countryCode. Records without a
// country are assigned to it; records for other countries are skipped.
func (s *FileSource) Collect(_ context.Context, countryCode string) ([]models.RawPolicyRecord, error) {
	data, err := s.scraper.ReadLocalFile(s.cfg.File)
	if err != nil {
		return nil, err
	}

	var all []models.RawPolicyRecord
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.cfg.File, err)
	}

	fetchedAt := s.now().UTC()
	records := make([]models.RawPolicyRecord, 0, len(all))

	for _, rec := range all {
		if rec.CountryCode == "" {
			rec.CountryCode = countryCode
		}

		if !strings.EqualFold(rec.CountryCode, countryCode) {
			continue
		}

		rec.CountryCode = countryCode

		if rec.PolicyType == "" {
			rec.PolicyType = s.cfg.PolicyType
		}

		if rec.SourceURL == "" {
			rec.SourceURL = "file://" + s.cfg.File
		}

		if rec.FetchedAt.IsZero() {
			rec.FetchedAt = fetchedAt
		}

		records = append(records, rec)
	}

	return records, nil
}

// StubSource stands in for a source whose adapter has not been written.
type StubSource struct {
	name string
}

// NewStubSource creates a placeholder source.
func NewStubSource(name string) *StubSource {
	return &StubSource{name: name}
}

// Name implements Source.
func (s *StubSource) Name() string { return s.name }

// Kind implements Source.
func (s *StubSource) Kind() string { return config.SourceStub }

// Implemented implements Source.
func (s *StubSource) Implemented() bool { return false }

// Collect always fails with ErrSourceNotImplemented.
func (s *StubSource) Collect(_ context.Context, countryCode string) ([]models.RawPolicyRecord, error) {
	return nil, fmt.Errorf("%w: %s for %s", ErrSourceNotImplemented, s.name, countryCode)
}
