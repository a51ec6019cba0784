// Package pipeline runs collection: fetch, normalize, persist and change detection.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"policywatch/internal/changes"
	"policywatch/internal/crawler"
	"policywatch/internal/logger"
	"policywatch/internal/models"
	"policywatch/internal/normalizer"
	"policywatch/internal/runlog"
	"policywatch/internal/snapshot"
)

var (
	// ErrRunInProgress is returned when a run is started while another is active.
	ErrRunInProgress = errors.New("collection run already in progress")
	// ErrAllCountriesFailed is reported when no country produced policies.
	ErrAllCountriesFailed = errors.New("all countries failed")
)

// Messages attached to warning results.
const (
	MsgNoBaseline  = "No previous data available for comparison"
	MsgNoCountries = "No countries to collect"
	MsgNoData      = "No data has been collected yet"
)

// recentRuns is how many run log entries Status returns.
const recentRuns = 20

// Collector fetches raw records per country.
type Collector interface {
	SupportedCountries() []string
	CollectCountry(ctx context.Context, code string) (crawler.CountryResult, error)
}

// RunLog records per-country run entries and detected changes.
type RunLog interface {
	Claim(ctx context.Context, runID, countryCode, operation string, staleAfter time.Duration) (string, error)
	Finish(ctx context.Context, id string, out runlog.Outcome) error
	Recent(ctx context.Context, countryCode string, limit int) ([]runlog.Entry, error)
	RecordChanges(ctx context.Context, runID string, records []models.ChangeRecord) error
}

// Orchestrator drives collection runs. At most one run is active at a time.
type Orchestrator struct {
	collector      Collector
	normalizer     *normalizer.Normalizer
	detector       *changes.Detector
	store          snapshot.Store
	runLog         RunLog
	logger         *logger.Logger
	now            func() time.Time
	newID          func() string
	maxConcurrency int
	staleAfter     time.Duration
	running        atomic.Bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRunLog records runs in rl. Countries with a running entry younger than
// staleAfter are skipped.
func WithRunLog(rl RunLog, staleAfter time.Duration) Option {
	return func(o *Orchestrator) {
		o.runLog = rl
		o.staleAfter = staleAfter
	}
}

// WithConcurrency sets how many countries are fetched in parallel.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxConcurrency = n
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithRunIDs replaces the run ID generator.
func WithRunIDs(newID func() string) Option {
	return func(o *Orchestrator) {
		o.newID = newID
	}
}

// New creates an orchestrator.
func New(
	collector Collector,
	norm *normalizer.Normalizer,
	detector *changes.Detector,
	store snapshot.Store,
	log *logger.Logger,
	opts ...Option,
) *Orchestrator {
	if log == nil {
		log = logger.NewNop()
	}

	o := &Orchestrator{
		collector:      collector,
		normalizer:     norm,
		detector:       detector,
		store:          store,
		logger:         log,
		now:            time.Now,
		newID:          uuid.NewString,
		maxConcurrency: 1,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// RunCollection collects the given countries, or every supported country when
// countries is empty, persists them and commits a new snapshot.
func (o *Orchestrator) RunCollection(ctx context.Context, countries []string) (*Result, error) {
	return o.collect(ctx, runlog.OperationCollect, countries, false)
}

// RunWeekly is a full collection that also writes per-country analyses and a
// comprehensive summary.
func (o *Orchestrator) RunWeekly(ctx context.Context) (*Result, error) {
	return o.collect(ctx, runlog.OperationWeekly, nil, true)
}

// DetectChanges fetches fresh data and diffs it against the last committed
// snapshot. The snapshot is not replaced.
func (o *Orchestrator) DetectChanges(ctx context.Context, countries []string) (*Result, error) {
	r, err := o.begin(runlog.OperationDetect)
	if err != nil {
		return r.res, err
	}
	defer o.running.Store(false)

	baseline, err := o.store.LoadPrevious(ctx)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		r.log.Warn("no previous data found for change detection")

		return r.finish(StatusWarning, MsgNoBaseline), nil
	}

	if err != nil {
		return r.fail(fmt.Errorf("failed to load previous snapshot: %w", err))
	}

	codes := o.resolve(countries)
	if len(codes) == 0 {
		return r.finish(StatusWarning, MsgNoCountries), nil
	}

	r.enter(StateFetch)
	o.fetchAll(ctx, r, codes)

	r.enter(StateNormalize)
	fresh := r.policies()
	r.summarize()

	if len(fresh) > 0 {
		r.enter(StateDetectChanges)

		if err := o.detect(ctx, r, baseline, fresh); err != nil {
			return r.fail(err)
		}
	}

	status, msg := r.outcomeStatus()

	return r.finish(status, msg), nil
}

// Status reports the persisted data and the most recent run log entries.
func (o *Orchestrator) Status(ctx context.Context) (*Result, error) {
	res := &Result{StartedAt: o.now().UTC(), State: StateDone, Status: StatusSuccess}

	st, err := o.store.Status(ctx)
	if err != nil {
		res.State = StateFailed
		res.Status = StatusError
		res.Error = err.Error()

		return res, err
	}

	res.Store = &st

	if st.State == snapshot.StateNoData {
		res.Status = StatusWarning
		res.Message = MsgNoData
	}

	if o.runLog != nil {
		entries, err := o.runLog.Recent(ctx, "", recentRuns)
		if err != nil {
			o.logger.Warn("failed to read run log", "error", err)
		} else {
			res.Runs = entries
		}
	}

	if st.GlobalSummary != nil {
		summary := st.GlobalSummary.Summary
		res.Summary = &summary
	}

	res.FinishedAt = o.now().UTC()

	return res, nil
}

func (o *Orchestrator) collect(ctx context.Context, op string, countries []string, weekly bool) (*Result, error) {
	r, err := o.begin(op)
	if err != nil {
		return r.res, err
	}
	defer o.running.Store(false)

	codes := o.resolve(countries)
	if len(codes) == 0 {
		return r.finish(StatusWarning, MsgNoCountries), nil
	}

	r.enter(StateFetch)
	o.fetchAll(ctx, r, codes)

	r.enter(StateNormalize)
	fresh := r.policies()
	r.summarize()

	if len(fresh) == 0 {
		status, msg := r.outcomeStatus()
		r.log.Warn("no country produced policies, nothing persisted", "countries", len(codes))

		return r.finish(status, msg), nil
	}

	r.enter(StatePersist)

	if err := o.persist(ctx, r, fresh, weekly); err != nil {
		return r.fail(err)
	}

	r.enter(StateDetectChanges)

	baseline, err := o.store.LoadPrevious(ctx)

	switch {
	case errors.Is(err, snapshot.ErrNoSnapshot):
		r.log.Info("no previous snapshot, skipping change detection")
		r.res.Message = MsgNoBaseline
	case err != nil:
		return r.fail(fmt.Errorf("failed to load previous snapshot: %w", err))
	default:
		if err := o.detect(ctx, r, baseline, fresh); err != nil {
			return r.fail(err)
		}
	}

	snap := nextSnapshot(r.res.RunID, r.res.StartedAt, baseline, fresh)
	if carried := len(snap.Countries) - len(fresh); carried > 0 {
		r.log.Info("carrying baseline forward for countries not collected", "countries", carried)
	}

	if err := o.store.SaveCurrent(ctx, snap); err != nil {
		return r.fail(fmt.Errorf("failed to commit snapshot: %w", err))
	}

	status, msg := r.outcomeStatus()
	if msg == "" {
		msg = r.res.Message
	}

	return r.finish(status, msg), nil
}

// nextSnapshot starts from the baseline's countries and replaces those that
// were collected in this run. baseline may be nil.
func nextSnapshot(runID string, createdAt time.Time, baseline *models.PolicySnapshot, fresh map[string][]models.NormalizedPolicy) *models.PolicySnapshot {
	snap := models.NewPolicySnapshot(runID, createdAt)

	if baseline != nil {
		for code, policies := range baseline.Countries {
			snap.Countries[code] = policies
		}
	}

	for code, policies := range fresh {
		snap.Countries[code] = policies
	}

	return snap
}

// begin claims the orchestrator for one run.
func (o *Orchestrator) begin(op string) (*run, error) {
	runID := o.newID()
	r := &run{
		res: &Result{
			RunID:     runID,
			Operation: op,
			StartedAt: o.now().UTC(),
		},
		log: o.logger.With("run_id", runID, "operation", op),
		now: o.now,
	}

	if !o.running.CompareAndSwap(false, true) {
		r.log.Warn("run rejected", "error", ErrRunInProgress)
		r.res.State = StateFailed
		r.res.Status = StatusWarning
		r.res.Message = ErrRunInProgress.Error()
		r.res.FinishedAt = o.now().UTC()

		return r, ErrRunInProgress
	}

	r.log.Info("run started")

	return r, nil
}

func (o *Orchestrator) resolve(countries []string) []string {
	if len(countries) == 0 {
		countries = o.collector.SupportedCountries()
	}

	seen := make(map[string]struct{}, len(countries))
	codes := make([]string, 0, len(countries))

	for _, c := range countries {
		code := strings.ToUpper(strings.TrimSpace(c))
		if code == "" {
			continue
		}

		if _, dup := seen[code]; dup {
			continue
		}

		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	return codes
}

// fetchAll collects and normalizes every country in its own task. Each task
// writes only its own slot and never returns an error to the group.
func (o *Orchestrator) fetchAll(ctx context.Context, r *run, codes []string) {
	outcomes := make([]CountryOutcome, len(codes))

	var g errgroup.Group

	g.SetLimit(o.maxConcurrency)

	for i, code := range codes {
		g.Go(func() error {
			outcomes[i] = o.runCountry(ctx, r, code)

			return nil
		})
	}

	_ = g.Wait()

	r.res.Countries = outcomes
}

func (o *Orchestrator) runCountry(ctx context.Context, r *run, code string) (out CountryOutcome) {
	log := r.log.With("country", code)
	out = CountryOutcome{CountryCode: code}

	entryID, err := o.startEntry(ctx, r, code, log)
	if errors.Is(err, runlog.ErrCountryRunning) {
		log.Warn("country already being collected elsewhere, skipping")
		out.Status = CountrySkipped
		out.Error = "collection already running"

		return out
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("country task panicked", "panic", rec)
			out.Status = CountryFailed
			out.Error = fmt.Sprintf("panic: %v", rec)
			out.RecordsFailed++
			out.policies = nil
			out.PoliciesCount = 0
		}

		o.finishEntry(ctx, entryID, out, log)
	}()

	start := time.Now()

	res, err := o.collector.CollectCountry(ctx, code)
	if err != nil {
		out.Error = err.Error()
		out.RecordsFailed = 1
		out.Status = CountryFailed

		if errors.Is(err, crawler.ErrUnsupportedCountry) {
			out.Status = CountryUnsupported
		}

		log.Warn("country collection failed", "error", err)

		return out
	}

	out.Sources = res.Sources
	out.RecordsFailed = res.Failures()
	out.RecordsScraped = len(res.Records)

	if res.NotImplemented() {
		out.Status = CountryNotImplemented
		out.Error = crawler.ErrSourceNotImplemented.Error()
		log.Info("country has no implemented sources")

		return out
	}

	policies := o.normalizer.NormalizePolicies(res.Records)
	for _, p := range policies {
		if p.Degraded {
			out.Degraded++
		}
	}

	out.policies = policies
	out.PoliciesCount = len(policies)

	if len(policies) == 0 && out.RecordsFailed > 0 {
		out.Status = CountryFailed
		out.Error = res.Err().Error()
	} else {
		out.Status = CountrySuccess

		if err := res.Err(); err != nil {
			out.Error = err.Error()
		}
	}

	log.Info("country collected",
		"status", out.Status,
		"policies", out.PoliciesCount,
		"failed", out.RecordsFailed,
		"degraded", out.Degraded,
		"duration", time.Since(start))

	return out
}

// startEntry claims code in the run log. Only ErrCountryRunning is returned;
// other run log failures are logged and the country is collected without an
// entry.
func (o *Orchestrator) startEntry(ctx context.Context, r *run, code string, log *logger.Logger) (string, error) {
	if o.runLog == nil {
		return "", nil
	}

	id, err := o.runLog.Claim(ctx, r.res.RunID, code, r.res.Operation, o.staleAfter)

	switch {
	case errors.Is(err, runlog.ErrCountryRunning):
		return "", err
	case err != nil:
		log.Warn("failed to start run log entry", "error", err)

		return "", nil
	}

	return id, nil
}

func (o *Orchestrator) finishEntry(ctx context.Context, id string, out CountryOutcome, log *logger.Logger) {
	if o.runLog == nil || id == "" {
		return
	}

	var err error
	if out.Status != CountrySuccess && out.Error != "" {
		err = errors.New(out.Error)
	}

	// The entry is closed even when the run's context was canceled.
	finishCtx := context.WithoutCancel(ctx)

	if ferr := o.runLog.Finish(finishCtx, id, runlog.Outcome{
		Err:            err,
		RecordsScraped: out.RecordsScraped,
		RecordsUpdated: out.PoliciesCount,
		RecordsFailed:  out.RecordsFailed,
	}); ferr != nil {
		log.Warn("failed to finish run log entry", "error", ferr)
	}
}

// persist writes per-country files and the global summary, plus the analyses
// of a weekly run. Any error aborts the run.
func (o *Orchestrator) persist(ctx context.Context, r *run, fresh map[string][]models.NormalizedPolicy, weekly bool) error {
	now := r.now().UTC()

	for _, out := range r.res.Countries {
		policies, ok := fresh[out.CountryCode]
		if !ok {
			continue
		}

		if err := o.store.SaveCountry(ctx, models.CountryPolicies{
			LastUpdated:   now,
			CountryCode:   out.CountryCode,
			Policies:      policies,
			PoliciesCount: len(policies),
		}); err != nil {
			return fmt.Errorf("failed to save %s policies: %w", out.CountryCode, err)
		}
	}

	if err := o.store.SaveGlobalSummary(ctx, models.GlobalSummary{LastUpdated: now, Summary: *r.res.Summary}); err != nil {
		return fmt.Errorf("failed to save global summary: %w", err)
	}

	if !weekly {
		return nil
	}

	analyses := make([]models.CountryAnalysis, 0, len(r.res.Countries))

	for _, out := range r.res.Countries {
		if out.Status != CountrySuccess && out.Status != CountryNotImplemented {
			continue
		}

		analysis := normalizer.AnalyzeCountry(out.CountryCode, fresh[out.CountryCode], now)
		if err := o.store.SaveAnalysis(ctx, analysis); err != nil {
			return fmt.Errorf("failed to save %s analysis: %w", out.CountryCode, err)
		}

		analyses = append(analyses, analysis)
	}

	comprehensive := normalizer.Comprehensive(analyses, now)
	if err := o.store.SaveComprehensive(ctx, comprehensive); err != nil {
		return fmt.Errorf("failed to save comprehensive summary: %w", err)
	}

	r.res.Comprehensive = &comprehensive

	return nil
}

// detect diffs fresh against baseline and saves the change results.
func (o *Orchestrator) detect(ctx context.Context, r *run, baseline *models.PolicySnapshot, fresh map[string][]models.NormalizedPolicy) error {
	records := o.detector.BuildReport(baseline.Countries, fresh)

	r.res.Changes = records
	r.res.ChangesDetected = changes.CountChanges(records)

	if err := o.store.SaveChangeResults(ctx, models.ChangeDetectionResults{
		DetectionDate:   r.now().UTC(),
		RunID:           r.res.RunID,
		ChangeDetails:   records,
		ChangesDetected: r.res.ChangesDetected,
	}); err != nil {
		return fmt.Errorf("failed to save change results: %w", err)
	}

	if o.runLog != nil && len(records) > 0 {
		if err := o.runLog.RecordChanges(ctx, r.res.RunID, records); err != nil {
			r.log.Warn("failed to record change events", "error", err)
		}
	}

	r.log.Info("change detection completed",
		"baseline_run", baseline.RunID,
		"change_events", len(records),
		"changes", r.res.ChangesDetected)

	return nil
}
