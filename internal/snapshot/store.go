// Package snapshot persists collected policies, summaries and change results.
package snapshot

import (
	"context"
	"errors"
	"time"

	"policywatch/internal/models"
)

// ErrNoSnapshot is returned by LoadPrevious before the first committed run.
var ErrNoSnapshot = errors.New("no previous snapshot")

// Store persists the outputs of collection runs.
//
// LoadPrevious returns the last committed snapshot, which is the baseline of
// the next run. SaveCurrent commits a new snapshot and keeps the one it
// replaces as the prior generation.
type Store interface {
	LoadPrevious(ctx context.Context) (*models.PolicySnapshot, error)
	SaveCurrent(ctx context.Context, snap *models.PolicySnapshot) error
	SaveCountry(ctx context.Context, data models.CountryPolicies) error
	SaveGlobalSummary(ctx context.Context, summary models.GlobalSummary) error
	SaveAnalysis(ctx context.Context, analysis models.CountryAnalysis) error
	SaveComprehensive(ctx context.Context, summary models.ComprehensiveSummary) error
	SaveChangeResults(ctx context.Context, results models.ChangeDetectionResults) error
	Status(ctx context.Context) (Status, error)
}

// FileInfo describes one persisted file.
type FileInfo struct {
	ModTime time.Time `json:"mod_time"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
}

// Status summarizes what a store holds.
type Status struct {
	LatestUpdate  *time.Time            `json:"latest_update"`
	GlobalSummary *models.GlobalSummary `json:"global_summary,omitempty"`
	State         string                `json:"status"`
	Files         []FileInfo            `json:"files"`
}

// Store states reported by Status.
const (
	StateNoData        = "no_data"
	StateDataAvailable = "data_available"
)
