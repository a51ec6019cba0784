// Package models defines data structures for the collector, normalizer and change detector.
package models

import "time"

// RawPolicyRecord is a policy as returned by a source adapter, before any extraction.
type RawPolicyRecord struct {
	FetchedAt          time.Time `json:"fetched_at"`
	ProcessingTimeDays *int      `json:"processing_time_days"`
	CostUSD            *float64  `json:"cost_usd"`
	CountryCode        string    `json:"country_code"`
	PolicyType         string    `json:"policy_type"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	SourceURL          string    `json:"source_url"`
	SourceRef          string    `json:"source_ref,omitempty"`
	Requirements       []string  `json:"requirements"`
}

// NormalizedPolicy is the structured representation derived from a RawPolicyRecord.
type NormalizedPolicy struct {
	LastUpdated            time.Time `json:"last_updated"`
	ProcessingTimeDays     *int      `json:"processing_time_days"`
	CostUSD                *float64  `json:"cost_usd"`
	EstimatedDurationDays  *int      `json:"estimated_duration_days"`
	EstimatedCostUSD       *float64  `json:"estimated_cost_usd"`
	ID                     string    `json:"id"`
	CountryCode            string    `json:"country_code"`
	PolicyType             string    `json:"policy_type"`
	Title                  string    `json:"title"`
	Description            string    `json:"description"`
	SourceURL              string    `json:"source_url"`
	SourceRef              string    `json:"source_ref,omitempty"`
	Requirements           []string  `json:"requirements"`
	NormalizedRequirements []string  `json:"normalized_requirements"`
	EligibilityCriteria    []string  `json:"eligibility_criteria"`
	DocumentsRequired      []string  `json:"documents_required"`
	ComplexityScore        int       `json:"complexity_score"`
	Degraded               bool      `json:"degraded,omitempty"`
}

// PolicySnapshot is the full set of normalized policies of one collection run.
type PolicySnapshot struct {
	CreatedAt time.Time                     `json:"created_at"`
	Countries map[string][]NormalizedPolicy `json:"countries"`
	RunID     string                        `json:"run_id"`
}

// NewPolicySnapshot returns an empty snapshot for the given run.
func NewPolicySnapshot(runID string, createdAt time.Time) *PolicySnapshot {
	return &PolicySnapshot{
		RunID:     runID,
		CreatedAt: createdAt,
		Countries: make(map[string][]NormalizedPolicy),
	}
}

// TotalPolicies counts policies across all countries.
func (s *PolicySnapshot) TotalPolicies() int {
	total := 0
	for _, policies := range s.Countries {
		total += len(policies)
	}

	return total
}

// CountryPolicies is the on-disk layout of <CODE>_policies.json.
type CountryPolicies struct {
	LastUpdated   time.Time          `json:"last_updated"`
	CountryCode   string             `json:"country_code"`
	Policies      []NormalizedPolicy `json:"policies"`
	PoliciesCount int                `json:"policies_count"`
}
