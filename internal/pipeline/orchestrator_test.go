package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"policywatch/internal/changes"
	"policywatch/internal/crawler"
	"policywatch/internal/logger"
	"policywatch/internal/models"
	"policywatch/internal/normalizer"
	"policywatch/internal/runlog"
	"policywatch/internal/snapshot"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

var testNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

// staticSource returns a fixed set of records. Records can be replaced
// between runs.
type staticSource struct {
	err     error
	name    string
	records []models.RawPolicyRecord
	calls   int
	mu      sync.Mutex
}

func (s *staticSource) Name() string      { return s.name }
func (s *staticSource) Kind() string      { return "html" }
func (s *staticSource) Implemented() bool { return true }

func (s *staticSource) Collect(_ context.Context, _ string) ([]models.RawPolicyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++

	return append([]models.RawPolicyRecord(nil), s.records...), s.err
}

func (s *staticSource) set(records ...models.RawPolicyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = records
}

func (s *staticSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

// blockingSource waits until released.
type blockingSource struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSource) Name() string      { return "blocking" }
func (s *blockingSource) Kind() string      { return "html" }
func (s *blockingSource) Implemented() bool { return true }

func (s *blockingSource) Collect(ctx context.Context, code string) ([]models.RawPolicyRecord, error) {
	close(s.entered)

	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return []models.RawPolicyRecord{record(code, "Work Visa", "Must have a job offer")}, nil
}

// panickingCollector panics for one country and delegates the rest.
type panickingCollector struct {
	*crawler.Collector
	code string
}

func (p panickingCollector) SupportedCountries() []string {
	return append(p.Collector.SupportedCountries(), p.code)
}

func (p panickingCollector) CollectCountry(ctx context.Context, code string) (crawler.CountryResult, error) {
	if code == p.code {
		panic("collector exploded")
	}

	return p.Collector.CollectCountry(ctx, code)
}

func record(country, title string, requirements ...string) models.RawPolicyRecord {
	return models.RawPolicyRecord{
		CountryCode:  country,
		PolicyType:   "visa",
		Title:        title,
		Description:  "Fee $1,200. Processing takes 30 to 60 days.",
		Requirements: requirements,
		SourceURL:    "https://example.gov/" + country,
		FetchedAt:    testNow,
	}
}

func sequentialIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)

	return func() string {
		mu.Lock()
		defer mu.Unlock()

		n++

		return fmt.Sprintf("run-%d", n)
	}
}

type harness struct {
	orch  *Orchestrator
	store *snapshot.MemoryStore
	col   *crawler.Collector
	us    *staticSource
	ca    *staticSource
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	us := &staticSource{name: "USCIS", records: []models.RawPolicyRecord{
		record("US", "Work Visa", "Must have a job offer", "Employer must file a petition"),
		record("US", "Student Visa", "Must be enrolled full time"),
	}}
	ca := &staticSource{name: "IRCC", records: []models.RawPolicyRecord{
		record("CA", "Express Entry", "Must have language test results"),
	}}

	col := crawler.NewCollector(nil)
	col.Register("US", "United States", us)
	col.Register("CA", "Canada", ca)

	h := &harness{store: snapshot.NewMemoryStore(), col: col, us: us, ca: ca}
	h.orch = newOrchestrator(t, col, h.store, nil, opts...)

	return h
}

func newOrchestrator(t *testing.T, col Collector, store snapshot.Store, log *logger.Logger, opts ...Option) *Orchestrator {
	t.Helper()

	det, err := changes.NewDetector(changes.IdentityFingerprint, log)
	require.NoError(t, err)

	norm := normalizer.NewNormalizer(log, normalizer.WithClock(func() time.Time { return testNow }))

	base := []Option{WithClock(func() time.Time { return testNow }), WithRunIDs(sequentialIDs())}

	return New(col, norm, det, store, log, append(base, opts...)...)
}

func TestRunCollection_FirstRun(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.RunCollection(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, MsgNoBaseline, res.Message)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 3, res.PoliciesCollected)
	assert.Equal(t, 2, res.CountriesProcessed)
	assert.Zero(t, res.ChangesDetected)

	require.Len(t, res.Countries, 2)
	assert.Equal(t, "US", res.Countries[0].CountryCode)
	assert.Equal(t, CountrySuccess, res.Countries[0].Status)
	assert.Equal(t, 2, res.Countries[0].PoliciesCount)

	us, ok := h.store.Country("US")
	require.True(t, ok)
	assert.Equal(t, 2, us.PoliciesCount)
	assert.Equal(t, 1200.0, *us.Policies[0].EstimatedCostUSD)

	require.NotNil(t, h.store.GlobalSummary())
	assert.Equal(t, 3, h.store.GlobalSummary().Summary.TotalPolicies)
	assert.Nil(t, h.store.ChangeResults(), "no baseline means no change results")

	current := h.store.Current()
	require.NotNil(t, current)
	assert.Equal(t, "run-1", current.RunID)
	assert.Len(t, current.Countries, 2)
}

func TestRunCollection_DetectsRequirementChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.RunCollection(ctx, nil)
	require.NoError(t, err)

	h.us.set(
		record("US", "Work Visa", "Must have a job offer", "Must pass a background check"),
		record("US", "Student Visa", "Must be enrolled full time"),
	)

	res, err := h.orch.RunCollection(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, res.ChangesDetected)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, "US", res.Changes[0].CountryCode)
	assert.Equal(t, models.ChangePolicyChanged, res.Changes[0].ChangeType)
	assert.Equal(t, []string{"Work Visa"}, res.Changes[0].ChangedPolicies)
	assert.Equal(t, string(changes.KindChanged), res.Changes[0].Details[0].Kind)

	saved := h.store.ChangeResults()
	require.NotNil(t, saved)
	assert.Equal(t, "run-2", saved.RunID)
	assert.Equal(t, 1, saved.ChangesDetected)

	assert.Equal(t, "run-2", h.store.Current().RunID)
	assert.Equal(t, "run-1", h.store.Previous().RunID)
}

func TestRunCollection_ChangeCountsAgree(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.RunCollection(ctx, nil)
	require.NoError(t, err)

	h.us.set(
		record("US", "Work Visa", "Must have a job offer"),
		record("US", "Student Visa", "Must be enrolled full time", "Must show proof of funds"),
	)

	res, err := h.orch.RunCollection(ctx, nil)
	require.NoError(t, err)

	require.Len(t, res.Changes, 1)
	assert.Equal(t, 2, res.Changes[0].ChangesCount)
	assert.Equal(t, 2, res.ChangesDetected)

	saved := h.store.ChangeResults()
	require.NotNil(t, saved)
	assert.Equal(t, res.ChangesDetected, saved.ChangesDetected)
}

func TestRunCollection_NewCountry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.RunCollection(ctx, []string{"us"})
	require.NoError(t, err)

	res, err := h.orch.RunCollection(ctx, nil)
	require.NoError(t, err)

	require.Len(t, res.Changes, 1)
	assert.Equal(t, "CA", res.Changes[0].CountryCode)
	assert.Equal(t, models.ChangeNewCountry, res.Changes[0].ChangeType)
	assert.Equal(t, 1, res.Changes[0].PoliciesCount)
}

func TestDetectChanges_NoBaseline(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.DetectChanges(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusWarning, res.Status)
	assert.Equal(t, MsgNoBaseline, res.Message)
	assert.Zero(t, h.us.callCount(), "nothing is fetched without a baseline")
	assert.Nil(t, h.store.ChangeResults())
}

func TestDetectChanges_DoesNotCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.RunCollection(ctx, nil)
	require.NoError(t, err)

	h.ca.set(
		record("CA", "Express Entry", "Must have language test results"),
		record("CA", "Study Permit", "Must have an acceptance letter"),
	)

	res, err := h.orch.DetectChanges(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, "CA", res.Changes[0].CountryCode)
	assert.Equal(t, string(changes.KindNew), res.Changes[0].Details[0].Kind)

	require.NotNil(t, h.store.ChangeResults())
	assert.Equal(t, "run-1", h.store.Current().RunID, "detection does not replace the snapshot")
}

func TestDetectChanges_IdenticalData(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.RunCollection(ctx, nil)
	require.NoError(t, err)

	res, err := h.orch.DetectChanges(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, res.Changes)
	assert.Zero(t, res.ChangesDetected)
}

func TestRunCollection_SingleCountryKeepsBaseline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.RunCollection(ctx, nil)
	require.NoError(t, err)

	baselineCA := h.store.Current().Countries["CA"]

	res, err := h.orch.RunCollection(ctx, []string{"US"})
	require.NoError(t, err)
	assert.Empty(t, res.Changes)

	current := h.store.Current()
	assert.Equal(t, "run-2", current.RunID)
	require.Len(t, current.Countries, 2)
	assert.Equal(t, baselineCA, current.Countries["CA"])

	res, err = h.orch.DetectChanges(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Changes)
	assert.Zero(t, res.ChangesDetected)
}

func TestRunCollection_TransientFailureKeepsBaseline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.RunCollection(ctx, nil)
	require.NoError(t, err)

	h.ca.set()
	h.ca.err = errors.New("connection reset")

	res, err := h.orch.RunCollection(ctx, nil)
	require.NoError(t, err)

	ca, _ := res.Country("CA")
	assert.Equal(t, CountryFailed, ca.Status)
	assert.Empty(t, res.Changes)
	require.Contains(t, h.store.Current().Countries, "CA")
	assert.Len(t, h.store.Current().Countries["CA"], 1)

	h.ca.err = nil
	h.ca.set(record("CA", "Express Entry", "Must have language test results"))

	res, err = h.orch.RunCollection(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, res.Changes, "recovered country with unchanged data is not new")
	assert.Zero(t, res.ChangesDetected)
}

func TestRunCollection_FailureIsolation(t *testing.T) {
	h := newHarness(t)
	h.ca.set()
	h.ca.err = errors.New("connection refused")

	orch := newOrchestrator(t, panickingCollector{Collector: h.col, code: "XX"}, h.store, nil, WithConcurrency(3))

	res, err := orch.RunCollection(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusWarning, res.Status)
	assert.Equal(t, "1 of 3 countries collected", res.Message)

	us, _ := res.Country("US")
	assert.Equal(t, CountrySuccess, us.Status)

	ca, _ := res.Country("CA")
	assert.Equal(t, CountryFailed, ca.Status)
	assert.Equal(t, 1, ca.RecordsFailed)
	assert.Contains(t, ca.Error, "connection refused")

	xx, _ := res.Country("XX")
	assert.Equal(t, CountryFailed, xx.Status)
	assert.Contains(t, xx.Error, "collector exploded")

	assert.Equal(t, 2, res.RecordsFailed)

	current := h.store.Current()
	require.NotNil(t, current)
	assert.Len(t, current.Countries, 1)
	assert.Contains(t, current.Countries, "US")

	_, saved := h.store.Country("CA")
	assert.False(t, saved)
}

func TestRunCollection_NotImplementedCountry(t *testing.T) {
	h := newHarness(t)
	h.col.Register("UK", "United Kingdom", crawler.NewStubSource("UK Government"))

	res, err := h.orch.RunCollection(context.Background(), nil)
	require.NoError(t, err)

	uk, ok := res.Country("UK")
	require.True(t, ok)
	assert.Equal(t, CountryNotImplemented, uk.Status)
	assert.Zero(t, uk.RecordsFailed)
	require.Len(t, uk.Sources, 1)
	assert.True(t, uk.Sources[0].NotImplemented)

	assert.Equal(t, StatusWarning, res.Status)
	assert.NotContains(t, h.store.Current().Countries, "UK")
}

func TestRunCollection_AllFailed(t *testing.T) {
	h := newHarness(t)
	h.us.set()
	h.us.err = errors.New("timeout")
	h.ca.set()
	h.ca.err = errors.New("timeout")

	res, err := h.orch.RunCollection(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, ErrAllCountriesFailed.Error(), res.Message)
	assert.Nil(t, h.store.Current(), "an empty run must not replace the baseline")
	assert.Nil(t, h.store.GlobalSummary())
}

func TestRunCollection_UnsupportedCountry(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.RunCollection(context.Background(), []string{"fr", "FR"})
	require.NoError(t, err)

	require.Len(t, res.Countries, 1)
	assert.Equal(t, CountryUnsupported, res.Countries[0].Status)
	assert.Equal(t, StatusWarning, res.Status)
}

func TestRunCollection_PersistenceError(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("disk full")
	h.store.FailOn[snapshot.OpSaveGlobalSummary] = boom

	res, err := h.orch.RunCollection(context.Background(), nil)
	require.ErrorIs(t, err, boom)

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Error, "disk full")
	assert.Nil(t, h.store.Current())

	// The orchestrator is released after a failed run.
	delete(h.store.FailOn, snapshot.OpSaveGlobalSummary)

	res, err = h.orch.RunCollection(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
}

func TestRunCollection_CommitFailureKeepsBaseline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.RunCollection(ctx, nil)
	require.NoError(t, err)

	h.store.FailOn[snapshot.OpSaveCurrent] = errors.New("rename failed")

	_, err = h.orch.RunCollection(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, "run-1", h.store.Current().RunID)
}

func TestRunCollection_RunInProgress(t *testing.T) {
	blocker := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}

	col := crawler.NewCollector(nil)
	col.Register("US", "United States", blocker)

	orch := newOrchestrator(t, col, snapshot.NewMemoryStore(), nil)

	done := make(chan error, 1)

	go func() {
		_, err := orch.RunCollection(context.Background(), nil)
		done <- err
	}()

	<-blocker.entered

	res, err := orch.RunCollection(context.Background(), nil)
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, StatusWarning, res.Status)

	_, err = orch.DetectChanges(context.Background(), nil)
	require.ErrorIs(t, err, ErrRunInProgress)

	close(blocker.release)
	require.NoError(t, <-done)
}

func TestRunCollection_PreservesInputOrder(t *testing.T) {
	col := crawler.NewCollector(nil)
	codes := []string{"US", "CA", "UK", "AU", "DE", "NZ"}

	for _, code := range codes {
		col.Register(code, code, &staticSource{name: code, records: []models.RawPolicyRecord{record(code, "Work Visa")}})
	}

	orch := newOrchestrator(t, col, snapshot.NewMemoryStore(), nil, WithConcurrency(4))

	res, err := orch.RunCollection(context.Background(), nil)
	require.NoError(t, err)

	got := make([]string, 0, len(res.Countries))
	for _, c := range res.Countries {
		got = append(got, c.CountryCode)
	}

	assert.Equal(t, codes, got)
	assert.Equal(t, StatusSuccess, res.Status)
}

func TestRunCollection_StateTransitions(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := logger.NewFromZap(zap.New(core))

	h := newHarness(t)
	orch := newOrchestrator(t, h.col, h.store, log)

	_, err := orch.RunCollection(context.Background(), nil)
	require.NoError(t, err)

	var states []string

	for _, entry := range logs.FilterMessage("state transition").All() {
		states = append(states, fmt.Sprint(entry.ContextMap()["state"]))
	}

	assert.Equal(t, []string{"fetch", "normalize", "persist", "detect_changes", "done"}, states)
}

func TestRunCollection_DegradedRecordsCounted(t *testing.T) {
	h := newHarness(t)
	bad := record("US", "", "Must apply")
	h.us.set(record("US", "Work Visa", "Must have a job offer"), bad)

	res, err := h.orch.RunCollection(context.Background(), []string{"US"})
	require.NoError(t, err)

	us, _ := res.Country("US")
	assert.Equal(t, 2, us.PoliciesCount)
	assert.Equal(t, 1, us.Degraded)
}

func TestRunWeekly(t *testing.T) {
	h := newHarness(t)
	h.col.Register("DE", "Germany", crawler.NewStubSource("Federal Foreign Office"))

	res, err := h.orch.RunWeekly(context.Background())
	require.NoError(t, err)

	assert.Equal(t, runlog.OperationWeekly, res.Operation)
	require.NotNil(t, res.Comprehensive)
	assert.Equal(t, 3, res.Comprehensive.CountriesAnalyzed)
	assert.Equal(t, 3, res.Comprehensive.TotalPolicies)

	us, ok := h.store.Analysis("US")
	require.True(t, ok)
	assert.Equal(t, 2, us.TotalPolicies)

	de, ok := h.store.Analysis("DE")
	require.True(t, ok)
	assert.Equal(t, "No policies found", de.Error)

	assert.NotNil(t, h.store.Comprehensive())
	assert.NotNil(t, h.store.Current())
}

func TestRunCollection_RunLog(t *testing.T) {
	rl, err := runlog.Open(runlog.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { rl.Close() })

	h := newHarness(t, WithRunLog(rl, time.Hour))
	ctx := context.Background()

	_, err = h.orch.RunCollection(ctx, nil)
	require.NoError(t, err)

	entries, err := rl.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	for _, e := range entries {
		assert.Equal(t, runlog.StatusSuccess, e.Status)
		assert.Equal(t, "run-1", e.RunID)
	}

	h.us.set(record("US", "Work Visa", "Must have a job offer"))

	res, err := h.orch.RunCollection(ctx, nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.Changes)

	events, err := rl.ChangeEvents(ctx, "run-2")
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, "Work Visa", events[0].Title)
}

func TestRunCollection_SkipsCountryRunningElsewhere(t *testing.T) {
	rl, err := runlog.Open(runlog.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { rl.Close() })

	ctx := context.Background()
	rl.SetClock(func() time.Time { return testNow })

	_, err = rl.Claim(ctx, "other-process", "CA", runlog.OperationCollect, time.Hour)
	require.NoError(t, err)

	h := newHarness(t, WithRunLog(rl, time.Hour))

	res, err := h.orch.RunCollection(ctx, nil)
	require.NoError(t, err)

	ca, _ := res.Country("CA")
	assert.Equal(t, CountrySkipped, ca.Status)
	assert.Zero(t, h.ca.callCount())
	assert.Equal(t, StatusWarning, res.Status)
}

func TestStatus(t *testing.T) {
	rl, err := runlog.Open(runlog.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { rl.Close() })

	h := newHarness(t, WithRunLog(rl, time.Hour))
	ctx := context.Background()

	res, err := h.orch.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, res.Status)
	assert.Equal(t, MsgNoData, res.Message)

	_, err = h.orch.RunCollection(ctx, nil)
	require.NoError(t, err)

	res, err = h.orch.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	require.NotNil(t, res.Store)
	assert.Equal(t, snapshot.StateDataAvailable, res.Store.State)
	require.NotNil(t, res.Summary)
	assert.Equal(t, 3, res.Summary.TotalPolicies)
	assert.Len(t, res.Runs, 2)
}
