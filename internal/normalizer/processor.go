// Package normalizer turns raw scraped policy records into structured, scored policies.
package normalizer

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"policywatch/internal/logger"
	"policywatch/internal/models"
	"policywatch/pkg/fingerprint"
)

// Normalizer validates raw records and runs extraction, classification and scoring.
// It is safe for concurrent use.
type Normalizer struct {
	validator    *Validator
	logger       *logger.Logger
	now          func() time.Time
	degraded     atomic.Int64
	convertUnits bool
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithDurationUnitConversion converts weeks and months to days before averaging.
func WithDurationUnitConversion(enabled bool) Option {
	return func(n *Normalizer) {
		n.convertUnits = enabled
	}
}

// WithClock overrides the time source used when a record has no fetch time.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// NewNormalizer creates a new normalizer instance.
func NewNormalizer(log *logger.Logger, opts ...Option) *Normalizer {
	if log == nil {
		log = logger.NewNop()
	}

	n := &Normalizer{
		validator: NewValidator(),
		logger:    log,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// Normalize transforms a single raw record. Any validation failure or panic
// during extraction is returned as an error.
func (n *Normalizer) Normalize(rec models.RawPolicyRecord) (policy models.NormalizedPolicy, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("normalization panicked: %v", r)
		}
	}()

	// 1. Validate the input record
	if err := n.validator.Validate(&rec); err != nil {
		return models.NormalizedPolicy{}, fmt.Errorf("validation failed: %w", err)
	}

	// 2. Extract cost and duration from description plus requirements
	text := searchText(rec)

	cost, currency := matchCost(text)
	if cost != nil {
		n.logger.Debug("cost extracted", "title", rec.Title, "currency", currency, "usd", *cost)
	}

	duration := ExtractDurationDays(text, n.convertUnits)

	// 3. Classify and score
	policy = baseFields(rec, n.lastUpdated(rec))
	policy.NormalizedRequirements = NormalizeRequirements(rec.Requirements)
	policy.EligibilityCriteria = ExtractEligibilityCriteria(rec.Requirements)
	policy.DocumentsRequired = ExtractRequiredDocuments(text)
	policy.EstimatedCostUSD = cost
	policy.EstimatedDurationDays = duration
	policy.ComplexityScore = ComplexityScore(rec.Requirements, duration, cost)

	return policy, nil
}

// NormalizePolicies normalizes a batch. The output has the same length and
// order as the input; records that fail are replaced by a basic policy and
// reported as degraded.
func (n *Normalizer) NormalizePolicies(records []models.RawPolicyRecord) []models.NormalizedPolicy {
	normalized := make([]models.NormalizedPolicy, 0, len(records))

	for i, rec := range records {
		policy, err := n.Normalize(rec)
		if err != nil {
			n.degraded.Add(1)
			n.logger.Warn("degraded record",
				"index", i,
				"country", rec.CountryCode,
				"title", rec.Title,
				"source_url", rec.SourceURL,
				"error", err,
			)

			policy = n.BasicPolicy(rec)
		}

		normalized = append(normalized, policy)
	}

	return normalized
}

// DegradedCount reports how many records fell back to a basic policy.
func (n *Normalizer) DegradedCount() int64 {
	return n.degraded.Load()
}

// BasicPolicy carries the original fields unmodified with a neutral score.
func (n *Normalizer) BasicPolicy(rec models.RawPolicyRecord) models.NormalizedPolicy {
	policy := baseFields(rec, n.lastUpdated(rec))
	policy.NormalizedRequirements = cloneStrings(rec.Requirements)
	policy.EligibilityCriteria = []string{}
	policy.DocumentsRequired = []string{}
	policy.ComplexityScore = DefaultComplexity
	policy.Degraded = true

	return policy
}

func (n *Normalizer) lastUpdated(rec models.RawPolicyRecord) time.Time {
	if rec.FetchedAt.IsZero() {
		return n.now().UTC()
	}

	return rec.FetchedAt
}

func baseFields(rec models.RawPolicyRecord, updated time.Time) models.NormalizedPolicy {
	return models.NormalizedPolicy{
		ID:                 PolicyID(rec),
		CountryCode:        rec.CountryCode,
		PolicyType:         rec.PolicyType,
		Title:              rec.Title,
		Description:        rec.Description,
		Requirements:       cloneStrings(rec.Requirements),
		ProcessingTimeDays: rec.ProcessingTimeDays,
		CostUSD:            rec.CostUSD,
		SourceURL:          rec.SourceURL,
		SourceRef:          rec.SourceRef,
		LastUpdated:        updated,
	}
}

// PolicyID derives the stable identifier of a record, preferring the
// upstream reference and falling back to the title.
func PolicyID(rec models.RawPolicyRecord) string {
	ref := rec.SourceRef
	if ref == "" {
		ref = rec.Title
	}

	return fingerprint.PolicyID(rec.CountryCode, rec.PolicyType, rec.SourceURL, ref)
}

func searchText(rec models.RawPolicyRecord) string {
	return rec.Description + " " + strings.Join(rec.Requirements, " ")
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)

	return out
}
