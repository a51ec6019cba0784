package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"policywatch/internal/logger"
	"policywatch/internal/models"
)

var fetchedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func scenarioRecord() models.RawPolicyRecord {
	return models.RawPolicyRecord{
		CountryCode:  "US",
		PolicyType:   "visa",
		Title:        "Work Visa",
		Description:  "Application fee: $1,200. Processing time: 30 to 60 days.",
		Requirements: []string{"Valid passport", "Completed application form", "Two photographs"},
		SourceURL:    "https://example.gov/work",
		FetchedAt:    fetchedAt,
	}
}

func TestNewNormalizer(t *testing.T) {
	n := NewNormalizer(nil)
	if n == nil {
		t.Fatal("NewNormalizer returned nil")
	}
}

func TestNormalizer_Normalize(t *testing.T) {
	n := NewNormalizer(logger.NewNop())

	policy, err := n.Normalize(scenarioRecord())
	require.NoError(t, err)

	require.NotNil(t, policy.EstimatedCostUSD)
	assert.InDelta(t, 1200.0, *policy.EstimatedCostUSD, 0.001)
	require.NotNil(t, policy.EstimatedDurationDays)
	assert.Equal(t, 45, *policy.EstimatedDurationDays)
	assert.Equal(t, 2, policy.ComplexityScore)

	assert.ElementsMatch(t, []string{"passport", "application form", "photograph"}, policy.DocumentsRequired)
	assert.Equal(t, []string{"Valid passport", "Completed application form", "Two photographs"}, policy.NormalizedRequirements)
	assert.Equal(t, fetchedAt, policy.LastUpdated)
	assert.False(t, policy.Degraded)
	assert.Len(t, policy.ID, 16)
}

func TestNormalizer_Normalize_ValidationError(t *testing.T) {
	n := NewNormalizer(logger.NewNop())

	rec := scenarioRecord()
	rec.Title = ""

	_, err := n.Normalize(rec)
	if err == nil {
		t.Error("Normalize expected error for invalid input")
	}
}

func TestNormalizer_PolicyID(t *testing.T) {
	rec := scenarioRecord()
	byTitle := PolicyID(rec)

	rec.Requirements = append(rec.Requirements, "Employer petition")
	assert.Equal(t, byTitle, PolicyID(rec), "requirements must not affect identity")

	rec.SourceRef = "h-1b"
	assert.NotEqual(t, byTitle, PolicyID(rec), "source ref takes precedence over title")

	renamed := rec
	renamed.Title = "Specialty Occupation Visa"
	assert.Equal(t, PolicyID(rec), PolicyID(renamed), "title is display-only once a ref exists")
}

func TestNormalizer_NormalizePolicies(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	n := NewNormalizer(logger.NewFromZap(zap.New(core)))

	broken := scenarioRecord()
	broken.Title = ""
	broken.CostUSD = floatPtr(99)

	second := scenarioRecord()
	second.Title = "Student Visa"

	records := []models.RawPolicyRecord{scenarioRecord(), broken, second}

	out := n.NormalizePolicies(records)
	require.Len(t, out, len(records))

	for i := range records {
		assert.Equal(t, records[i].Title, out[i].Title, "order must be preserved")
	}

	basic := out[1]
	assert.True(t, basic.Degraded)
	assert.Equal(t, DefaultComplexity, basic.ComplexityScore)
	assert.Empty(t, basic.EligibilityCriteria)
	assert.Empty(t, basic.DocumentsRequired)
	assert.Nil(t, basic.EstimatedCostUSD)
	assert.Nil(t, basic.EstimatedDurationDays)
	assert.Equal(t, broken.Requirements, basic.NormalizedRequirements)
	assert.Equal(t, broken.CostUSD, basic.CostUSD)

	assert.EqualValues(t, 1, n.DegradedCount())

	degraded := logs.FilterMessage("degraded record").All()
	require.Len(t, degraded, 1)
	assert.Equal(t, "US", degraded[0].ContextMap()["country"])
}

func TestNormalizer_NormalizePolicies_Empty(t *testing.T) {
	n := NewNormalizer(nil)

	out := n.NormalizePolicies(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestNormalizer_DurationConversion(t *testing.T) {
	n := NewNormalizer(nil, WithDurationUnitConversion(true))

	rec := scenarioRecord()
	rec.Description = "Decisions take 2 to 4 months."

	policy, err := n.Normalize(rec)
	require.NoError(t, err)
	require.NotNil(t, policy.EstimatedDurationDays)
	assert.Equal(t, 90, *policy.EstimatedDurationDays)
}

func TestNormalizer_ClockFallback(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	n := NewNormalizer(nil, WithClock(func() time.Time { return now }))

	rec := scenarioRecord()
	rec.FetchedAt = time.Time{}

	policy, err := n.Normalize(rec)
	require.NoError(t, err)
	assert.Equal(t, now, policy.LastUpdated)
}

func TestNormalizer_DoesNotAliasInput(t *testing.T) {
	n := NewNormalizer(nil)
	rec := scenarioRecord()

	policy, err := n.Normalize(rec)
	require.NoError(t, err)

	policy.Requirements[0] = "mutated"
	assert.Equal(t, "Valid passport", rec.Requirements[0])
}
