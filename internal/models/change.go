package models

import "time"

// ChangeType classifies a per-country change record.
type ChangeType string

// Change record types.
const (
	ChangeNewCountry    ChangeType = "new_country"
	ChangePolicyChanged ChangeType = "policy_changes"
)

// PolicyChangeDetail identifies a single new or changed policy.
type PolicyChangeDetail struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Kind  string `json:"kind"`
}

// ChangeRecord is one per-country entry of a change detection run.
type ChangeRecord struct {
	CountryCode     string               `json:"country_code"`
	ChangeType      ChangeType           `json:"change_type"`
	ChangedPolicies []string             `json:"changed_policies,omitempty"`
	Details         []PolicyChangeDetail `json:"details,omitempty"`
	PoliciesCount   int                  `json:"policies_count,omitempty"`
	ChangesCount    int                  `json:"changes_count,omitempty"`
}

// ChangeDetectionResults is the on-disk layout of change_detection_results.json.
type ChangeDetectionResults struct {
	DetectionDate   time.Time      `json:"detection_date"`
	RunID           string         `json:"run_id"`
	ChangeDetails   []ChangeRecord `json:"change_details"`
	ChangesDetected int            `json:"changes_detected"`
}
