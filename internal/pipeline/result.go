package pipeline

import (
	"fmt"
	"time"

	"policywatch/internal/crawler"
	"policywatch/internal/logger"
	"policywatch/internal/models"
	"policywatch/internal/normalizer"
	"policywatch/internal/runlog"
	"policywatch/internal/snapshot"
)

// State is a stage of a run.
type State string

// Run states. StateFailed is reachable from every other state.
const (
	StateFetch         State = "fetch"
	StateNormalize     State = "normalize"
	StatePersist       State = "persist"
	StateDetectChanges State = "detect_changes"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// Status is the overall outcome of a run.
type Status string

// Result statuses.
const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Per-country outcomes.
const (
	CountrySuccess        = "success"
	CountryFailed         = "failed"
	CountryNotImplemented = "not_implemented"
	CountrySkipped        = "skipped"
	CountryUnsupported    = "unsupported"
)

// CountryOutcome is what one country contributed to a run.
type CountryOutcome struct {
	CountryCode    string                 `json:"country_code"`
	Status         string                 `json:"status"`
	Error          string                 `json:"error,omitempty"`
	Sources        []crawler.SourceReport `json:"sources,omitempty"`
	PoliciesCount  int                    `json:"policies_count"`
	RecordsScraped int                    `json:"records_scraped"`
	RecordsFailed  int                    `json:"records_failed"`
	Degraded       int                    `json:"degraded"`

	policies []models.NormalizedPolicy
}

// Result is the envelope returned by every orchestrator entry point.
type Result struct {
	StartedAt          time.Time                    `json:"started_at"`
	FinishedAt         time.Time                    `json:"finished_at"`
	Summary            *models.PolicySummary        `json:"summary,omitempty"`
	Comprehensive      *models.ComprehensiveSummary `json:"comprehensive_summary,omitempty"`
	Store              *snapshot.Status             `json:"store,omitempty"`
	RunID              string                       `json:"run_id,omitempty"`
	Operation          string                       `json:"operation,omitempty"`
	Status             Status                       `json:"status"`
	State              State                        `json:"state"`
	Message            string                       `json:"message,omitempty"`
	Error              string                       `json:"error,omitempty"`
	Countries          []CountryOutcome             `json:"countries,omitempty"`
	Changes            []models.ChangeRecord        `json:"change_details,omitempty"`
	Runs               []runlog.Entry               `json:"runs,omitempty"`
	PoliciesCollected  int                          `json:"policies_collected"`
	CountriesProcessed int                          `json:"countries_processed"`
	ChangesDetected    int                          `json:"changes_detected"`
	RecordsFailed      int                          `json:"records_failed"`
}

// Country returns the outcome for code.
func (r *Result) Country(code string) (CountryOutcome, bool) {
	for _, c := range r.Countries {
		if c.CountryCode == code {
			return c, true
		}
	}

	return CountryOutcome{}, false
}

// run tracks the state of one active run.
type run struct {
	res *Result
	log *logger.Logger
	now func() time.Time
}

func (r *run) enter(s State) {
	r.res.State = s
	r.log.Info("state transition", "state", s)
}

// policies returns the normalized policies of every successful country.
func (r *run) policies() map[string][]models.NormalizedPolicy {
	fresh := make(map[string][]models.NormalizedPolicy)

	for _, c := range r.res.Countries {
		if c.Status != CountrySuccess {
			continue
		}

		policies := c.policies
		if policies == nil {
			policies = []models.NormalizedPolicy{}
		}

		fresh[c.CountryCode] = policies
	}

	return fresh
}

func (r *run) summarize() {
	var all []models.NormalizedPolicy

	for _, c := range r.res.Countries {
		all = append(all, c.policies...)
		r.res.RecordsFailed += c.RecordsFailed
	}

	summary := normalizer.Summarize(all)
	r.res.Summary = &summary
	r.res.PoliciesCollected = len(all)
	r.res.CountriesProcessed = len(r.res.Countries)
}

// outcomeStatus derives the run status from the country outcomes.
func (r *run) outcomeStatus() (Status, string) {
	var succeeded, failed int

	for _, c := range r.res.Countries {
		switch c.Status {
		case CountrySuccess:
			succeeded++
		case CountryFailed:
			failed++
		}
	}

	total := len(r.res.Countries)

	switch {
	case succeeded == 0 && failed > 0:
		return StatusError, ErrAllCountriesFailed.Error()
	case succeeded == 0:
		return StatusWarning, "no policies collected"
	case succeeded < total:
		return StatusWarning, fmt.Sprintf("%d of %d countries collected", succeeded, total)
	default:
		return StatusSuccess, ""
	}
}

func (r *run) finish(status Status, msg string) *Result {
	r.enter(StateDone)

	r.res.Status = status
	if msg != "" {
		r.res.Message = msg
	}

	r.res.FinishedAt = r.now().UTC()

	r.log.Info("run finished",
		"status", status,
		"policies", r.res.PoliciesCollected,
		"countries", r.res.CountriesProcessed,
		"failed", r.res.RecordsFailed,
		"changes", r.res.ChangesDetected,
		"duration", r.res.FinishedAt.Sub(r.res.StartedAt))

	return r.res
}

func (r *run) fail(err error) (*Result, error) {
	r.enter(StateFailed)

	r.res.Status = StatusError
	r.res.Error = err.Error()
	r.res.FinishedAt = r.now().UTC()

	r.log.Error("run failed", "error", err)

	return r.res, err
}
