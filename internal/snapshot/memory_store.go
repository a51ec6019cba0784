package snapshot

import (
	"context"
	"sort"
	"strings"
	"sync"

	"policywatch/internal/models"
)

// MemoryStore is an in-process Store. FailOn makes a named operation return
// the given error, which lets callers exercise persistence failures.
type MemoryStore struct {
	current       *models.PolicySnapshot
	previous      *models.PolicySnapshot
	globalSummary *models.GlobalSummary
	comprehensive *models.ComprehensiveSummary
	changeResults *models.ChangeDetectionResults
	countries     map[string]models.CountryPolicies
	analyses      map[string]models.CountryAnalysis
	FailOn        map[string]error
	mu            sync.Mutex
}

// Operation names accepted by MemoryStore.FailOn.
const (
	OpLoadPrevious      = "LoadPrevious"
	OpSaveCurrent       = "SaveCurrent"
	OpSaveCountry       = "SaveCountry"
	OpSaveGlobalSummary = "SaveGlobalSummary"
	OpSaveAnalysis      = "SaveAnalysis"
	OpSaveComprehensive = "SaveComprehensive"
	OpSaveChangeResults = "SaveChangeResults"
)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		countries: make(map[string]models.CountryPolicies),
		analyses:  make(map[string]models.CountryAnalysis),
		FailOn:    make(map[string]error),
	}
}

func (m *MemoryStore) fail(op string) error {
	return m.FailOn[op]
}

// LoadPrevious implements Store.
func (m *MemoryStore) LoadPrevious(ctx context.Context) (*models.PolicySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(OpLoadPrevious); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.current == nil {
		return nil, ErrNoSnapshot
	}

	return cloneSnapshot(m.current), nil
}

// SaveCurrent implements Store.
func (m *MemoryStore) SaveCurrent(ctx context.Context, snap *models.PolicySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(OpSaveCurrent); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	m.previous = m.current
	m.current = cloneSnapshot(snap)

	return nil
}

// SaveCountry implements Store.
func (m *MemoryStore) SaveCountry(_ context.Context, data models.CountryPolicies) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(OpSaveCountry); err != nil {
		return err
	}

	m.countries[strings.ToUpper(data.CountryCode)] = data

	return nil
}

// SaveGlobalSummary implements Store.
func (m *MemoryStore) SaveGlobalSummary(_ context.Context, summary models.GlobalSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(OpSaveGlobalSummary); err != nil {
		return err
	}

	m.globalSummary = &summary

	return nil
}

// SaveAnalysis implements Store.
func (m *MemoryStore) SaveAnalysis(_ context.Context, analysis models.CountryAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(OpSaveAnalysis); err != nil {
		return err
	}

	m.analyses[strings.ToUpper(analysis.CountryCode)] = analysis

	return nil
}

// SaveComprehensive implements Store.
func (m *MemoryStore) SaveComprehensive(_ context.Context, summary models.ComprehensiveSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(OpSaveComprehensive); err != nil {
		return err
	}

	m.comprehensive = &summary

	return nil
}

// SaveChangeResults implements Store.
func (m *MemoryStore) SaveChangeResults(_ context.Context, results models.ChangeDetectionResults) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(OpSaveChangeResults); err != nil {
		return err
	}

	m.changeResults = &results

	return nil
}

// Status implements Store. Files lists the names the FileStore would use.
func (m *MemoryStore) Status(_ context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string

	for code := range m.countries {
		names = append(names, CountryPoliciesFile(code))
	}

	for code := range m.analyses {
		names = append(names, CountryAnalysisFile(code))
	}

	if m.globalSummary != nil {
		names = append(names, GlobalSummaryFile)
	}

	if m.comprehensive != nil {
		names = append(names, ComprehensiveSummaryFile)
	}

	if m.changeResults != nil {
		names = append(names, ChangeResultsFile)
	}

	if m.current != nil {
		names = append(names, CurrentSnapshotFile)
	}

	if m.previous != nil {
		names = append(names, PreviousSnapshotFile)
	}

	sort.Strings(names)

	status := Status{State: StateNoData, Files: make([]FileInfo, 0, len(names))}
	for _, n := range names {
		status.Files = append(status.Files, FileInfo{Name: n})
	}

	if len(names) > 0 {
		status.State = StateDataAvailable
	}

	if m.globalSummary != nil {
		gs := *m.globalSummary
		status.GlobalSummary = &gs
		latest := gs.LastUpdated
		status.LatestUpdate = &latest
	}

	return status, nil
}

// Current returns the committed snapshot, or nil.
func (m *MemoryStore) Current() *models.PolicySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}

	return cloneSnapshot(m.current)
}

// Previous returns the snapshot replaced by the last SaveCurrent, or nil.
func (m *MemoryStore) Previous() *models.PolicySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.previous == nil {
		return nil
	}

	return cloneSnapshot(m.previous)
}

// Country returns the saved policies of a country.
func (m *MemoryStore) Country(code string) (models.CountryPolicies, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.countries[strings.ToUpper(code)]

	return data, ok
}

// Analysis returns the saved analysis of a country.
func (m *MemoryStore) Analysis(code string) (models.CountryAnalysis, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.analyses[strings.ToUpper(code)]

	return a, ok
}

// GlobalSummary returns the saved global summary, or nil.
func (m *MemoryStore) GlobalSummary() *models.GlobalSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.globalSummary
}

// Comprehensive returns the saved comprehensive summary, or nil.
func (m *MemoryStore) Comprehensive() *models.ComprehensiveSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.comprehensive
}

// ChangeResults returns the saved change detection results, or nil.
func (m *MemoryStore) ChangeResults() *models.ChangeDetectionResults {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.changeResults
}

func cloneSnapshot(snap *models.PolicySnapshot) *models.PolicySnapshot {
	out := models.NewPolicySnapshot(snap.RunID, snap.CreatedAt)
	for code, policies := range snap.Countries {
		out.Countries[code] = append([]models.NormalizedPolicy(nil), policies...)
	}

	return out
}
