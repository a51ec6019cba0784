package models

import "time"

// PolicySummary is an aggregate over a list of normalized policies.
type PolicySummary struct {
	LastUpdated         *time.Time `json:"last_updated"`
	AverageCostUSD      *float64   `json:"average_cost_usd"`
	AverageDurationDays *float64   `json:"average_duration_days"`
	Countries           []string   `json:"countries"`
	PolicyTypes         []string   `json:"policy_types"`
	TotalPolicies       int        `json:"total_policies"`
	AverageComplexity   float64    `json:"average_complexity"`
}

// GlobalSummary is the on-disk layout of global_summary.json.
type GlobalSummary struct {
	LastUpdated time.Time     `json:"last_updated"`
	Summary     PolicySummary `json:"summary"`
}

// RangeStats holds min/max/average of an optional numeric field.
type RangeStats struct {
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
	Average *float64 `json:"average"`
}

// DocumentCount pairs a document label with how many policies require it.
type DocumentCount struct {
	Document string `json:"document"`
	Count    int    `json:"count"`
}

// CountryAnalysis is the weekly per-country breakdown written to <CODE>_analysis.json.
type CountryAnalysis struct {
	AnalysisDate           time.Time       `json:"analysis_date"`
	ComplexityDistribution map[string]int  `json:"complexity_distribution"`
	CostStatistics         RangeStats      `json:"cost_statistics"`
	DurationStatistics     RangeStats      `json:"duration_statistics"`
	CountryCode            string          `json:"country_code"`
	Error                  string          `json:"error,omitempty"`
	PolicyTypes            []string        `json:"policy_types"`
	MostCommonDocuments    []DocumentCount `json:"most_common_documents"`
	TotalPolicies          int             `json:"total_policies"`
}

// ComprehensiveSummary aggregates country analyses of a weekly run.
type ComprehensiveSummary struct {
	AnalysisDate                 time.Time      `json:"analysis_date"`
	GlobalComplexityDistribution map[string]int `json:"global_complexity_distribution"`
	GlobalAverageCost            *float64       `json:"global_average_cost"`
	GlobalAverageDuration        *float64       `json:"global_average_duration"`
	TotalPolicies                int            `json:"total_policies"`
	CountriesAnalyzed            int            `json:"countries_analyzed"`
}
