package normalizer

import (
	"fmt"
	"math"
	"sort"
	"time"

	"policywatch/internal/models"
)

// maxCommonDocuments caps the document frequency list of a country analysis.
const maxCommonDocuments = 10

// Summarize reduces a list of policies to a PolicySummary. Averages skip
// policies without an estimate or with a zero estimate; an empty input yields
// the zero summary.
func Summarize(policies []models.NormalizedPolicy) models.PolicySummary {
	if len(policies) == 0 {
		return models.PolicySummary{Countries: []string{}, PolicyTypes: []string{}}
	}

	countries := make(map[string]struct{})
	types := make(map[string]struct{})

	var (
		complexity int
		costs      []float64
		durations  []float64
		latest     time.Time
	)

	for _, p := range policies {
		countries[p.CountryCode] = struct{}{}
		types[p.PolicyType] = struct{}{}
		complexity += p.ComplexityScore

		if cost, ok := costEstimate(p); ok {
			costs = append(costs, cost)
		}

		if days, ok := durationEstimate(p); ok {
			durations = append(durations, days)
		}

		if p.LastUpdated.After(latest) {
			latest = p.LastUpdated
		}
	}

	summary := models.PolicySummary{
		TotalPolicies:       len(policies),
		Countries:           sortedKeys(countries),
		PolicyTypes:         sortedKeys(types),
		AverageComplexity:   round2(float64(complexity) / float64(len(policies))),
		AverageCostUSD:      roundedMean(costs),
		AverageDurationDays: roundedMean(durations),
	}

	if !latest.IsZero() {
		summary.LastUpdated = &latest
	}

	return summary
}

// AnalyzeCountry builds the per-country breakdown of a weekly run.
func AnalyzeCountry(countryCode string, policies []models.NormalizedPolicy, now time.Time) models.CountryAnalysis {
	analysis := models.CountryAnalysis{
		CountryCode:            countryCode,
		AnalysisDate:           now,
		ComplexityDistribution: make(map[string]int, MaxComplexity),
		PolicyTypes:            []string{},
		MostCommonDocuments:    []models.DocumentCount{},
	}

	for level := MinComplexity; level <= MaxComplexity; level++ {
		analysis.ComplexityDistribution[levelKey(level)] = 0
	}

	if len(policies) == 0 {
		analysis.Error = "No policies found"

		return analysis
	}

	types := make(map[string]struct{})
	documents := make(map[string]int)

	var costs, durations []float64

	for _, p := range policies {
		types[p.PolicyType] = struct{}{}
		analysis.ComplexityDistribution[levelKey(p.ComplexityScore)]++

		if cost, ok := costEstimate(p); ok {
			costs = append(costs, cost)
		}

		if days, ok := durationEstimate(p); ok {
			durations = append(durations, days)
		}

		for _, doc := range p.DocumentsRequired {
			documents[doc]++
		}
	}

	analysis.TotalPolicies = len(policies)
	analysis.PolicyTypes = sortedKeys(types)
	analysis.CostStatistics = rangeStats(costs)
	analysis.DurationStatistics = rangeStats(durations)
	analysis.MostCommonDocuments = topDocuments(documents, maxCommonDocuments)

	return analysis
}

// Comprehensive aggregates country analyses. Global averages are the mean of
// the per-country averages.
func Comprehensive(analyses []models.CountryAnalysis, now time.Time) models.ComprehensiveSummary {
	summary := models.ComprehensiveSummary{
		AnalysisDate:                 now,
		GlobalComplexityDistribution: make(map[string]int),
		CountriesAnalyzed:            len(analyses),
	}

	var costs, durations []float64

	for _, a := range analyses {
		summary.TotalPolicies += a.TotalPolicies

		for level, count := range a.ComplexityDistribution {
			summary.GlobalComplexityDistribution[level] += count
		}

		if a.CostStatistics.Average != nil {
			costs = append(costs, *a.CostStatistics.Average)
		}

		if a.DurationStatistics.Average != nil {
			durations = append(durations, *a.DurationStatistics.Average)
		}
	}

	summary.GlobalAverageCost = roundedMean(costs)
	summary.GlobalAverageDuration = roundedMean(durations)

	return summary
}

// costEstimate returns the policy's cost when it has a non-zero estimate.
func costEstimate(p models.NormalizedPolicy) (float64, bool) {
	if p.EstimatedCostUSD == nil || *p.EstimatedCostUSD == 0 {
		return 0, false
	}

	return *p.EstimatedCostUSD, true
}

func durationEstimate(p models.NormalizedPolicy) (float64, bool) {
	if p.EstimatedDurationDays == nil || *p.EstimatedDurationDays == 0 {
		return 0, false
	}

	return float64(*p.EstimatedDurationDays), true
}

func levelKey(score int) string {
	return fmt.Sprintf("level_%d", score)
}

func rangeStats(values []float64) models.RangeStats {
	if len(values) == 0 {
		return models.RangeStats{}
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	return models.RangeStats{Min: &lo, Max: &hi, Average: roundedMean(values)}
}

func topDocuments(counts map[string]int, limit int) []models.DocumentCount {
	docs := make([]models.DocumentCount, 0, len(counts))
	for doc, count := range counts {
		docs = append(docs, models.DocumentCount{Document: doc, Count: count})
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Count != docs[j].Count {
			return docs[i].Count > docs[j].Count
		}

		return docs[i].Document < docs[j].Document
	})

	if len(docs) > limit {
		docs = docs[:limit]
	}

	return docs
}

func roundedMean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	mean := round2(sum / float64(len(values)))

	return &mean
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
