// Package changes compares policy snapshots and reports new or modified policies.
package changes

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"policywatch/internal/logger"
	"policywatch/internal/models"
)

// ErrUnknownIdentity is returned for an unsupported identity mode.
var ErrUnknownIdentity = errors.New("unknown identity mode")

// Identity selects the key used to match policies across snapshots.
type Identity string

// Identity modes.
const (
	// IdentityFingerprint keys policies by NormalizedPolicy.ID.
	IdentityFingerprint Identity = "fingerprint"
	// IdentityTitle keys policies by title. Retitled policies show up as new.
	IdentityTitle Identity = "title"
)

// Kind classifies a detected change.
type Kind string

// Change kinds.
const (
	KindNew     Kind = "new"
	KindChanged Kind = "changed"
)

// PolicyChange is one current policy that is new or differs from its baseline.
type PolicyChange struct {
	Previous *models.NormalizedPolicy
	Kind     Kind
	Policy   models.NormalizedPolicy
}

// Detector diffs two lists of normalized policies.
type Detector struct {
	logger   *logger.Logger
	identity Identity
}

// NewDetector creates a detector for the given identity mode. An empty mode
// means fingerprint.
func NewDetector(identity Identity, log *logger.Logger) (*Detector, error) {
	if identity == "" {
		identity = IdentityFingerprint
	}

	if identity != IdentityFingerprint && identity != IdentityTitle {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIdentity, identity)
	}

	if log == nil {
		log = logger.NewNop()
	}

	return &Detector{identity: identity, logger: log}, nil
}

// Identity reports the key mode in use.
func (d *Detector) Identity() Identity {
	return d.identity
}

// Key returns the identity of a policy under the detector's mode.
func (d *Detector) Key(p models.NormalizedPolicy) string {
	if d.identity == IdentityTitle {
		return p.Title
	}

	return p.ID
}

// Detect returns the current policies that are new or changed relative to
// previous, ordered by first appearance in current. Requirements (ordered),
// processing time and cost are compared.
func (d *Detector) Detect(previous, current []models.NormalizedPolicy) []PolicyChange {
	prevIndex, _ := d.index(previous, "previous")
	currIndex, order := d.index(current, "current")

	var changes []PolicyChange

	for _, key := range order {
		cur := currIndex[key]

		prev, ok := prevIndex[key]
		if !ok {
			changes = append(changes, PolicyChange{Kind: KindNew, Policy: cur})

			continue
		}

		if differs(prev, cur) {
			changes = append(changes, PolicyChange{Kind: KindChanged, Policy: cur, Previous: &prev})
		}
	}

	return changes
}

// index builds a key lookup. A later duplicate replaces an earlier one but
// keeps the earlier position.
func (d *Detector) index(policies []models.NormalizedPolicy, side string) (map[string]models.NormalizedPolicy, []string) {
	lookup := make(map[string]models.NormalizedPolicy, len(policies))
	order := make([]string, 0, len(policies))

	for _, p := range policies {
		key := d.Key(p)

		if _, dup := lookup[key]; dup {
			d.logger.Warn("duplicate policy key",
				"side", side,
				"identity", string(d.identity),
				"key", key,
				"country", p.CountryCode,
				"title", p.Title,
			)
		} else {
			order = append(order, key)
		}

		lookup[key] = p
	}

	return lookup, order
}

func differs(prev, cur models.NormalizedPolicy) bool {
	if !slices.Equal(prev.Requirements, cur.Requirements) {
		return true
	}

	if !equalPtr(prev.ProcessingTimeDays, cur.ProcessingTimeDays) {
		return true
	}

	return !equalPtr(prev.CostUSD, cur.CostUSD)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}

// BuildReport compares fresh per-country policies against a baseline and
// returns one record per country that is new or has changes, sorted by code.
func (d *Detector) BuildReport(baseline, fresh map[string][]models.NormalizedPolicy) []models.ChangeRecord {
	codes := make([]string, 0, len(fresh))
	for code := range fresh {
		codes = append(codes, code)
	}

	sort.Strings(codes)

	records := make([]models.ChangeRecord, 0, len(codes))

	for _, code := range codes {
		policies := fresh[code]

		previous, ok := baseline[code]
		if !ok {
			records = append(records, models.ChangeRecord{
				CountryCode:   code,
				ChangeType:    models.ChangeNewCountry,
				PoliciesCount: len(policies),
			})

			continue
		}

		changes := d.Detect(previous, policies)
		if len(changes) == 0 {
			continue
		}

		record := models.ChangeRecord{
			CountryCode:     code,
			ChangeType:      models.ChangePolicyChanged,
			ChangesCount:    len(changes),
			ChangedPolicies: make([]string, 0, len(changes)),
			Details:         make([]models.PolicyChangeDetail, 0, len(changes)),
		}

		for _, c := range changes {
			record.ChangedPolicies = append(record.ChangedPolicies, c.Policy.Title)
			record.Details = append(record.Details, models.PolicyChangeDetail{
				ID:    c.Policy.ID,
				Title: c.Policy.Title,
				Kind:  string(c.Kind),
			})
		}

		records = append(records, record)
	}

	return records
}

// CountChanges sums the changes across report records. A new country counts
// as a single change.
func CountChanges(records []models.ChangeRecord) int {
	total := 0

	for _, r := range records {
		if r.ChangeType == models.ChangeNewCountry {
			total++

			continue
		}

		total += r.ChangesCount
	}

	return total
}
