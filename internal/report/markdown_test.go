package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policywatch/internal/models"
	"policywatch/internal/pipeline"
	"policywatch/internal/runlog"
	"policywatch/pkg/metadata"
)

func TestWriteMarkdown(t *testing.T) {
	cost := 1200.0
	days := 45.0

	res := &pipeline.Result{
		RunID:             "run-9",
		Operation:         runlog.OperationCollect,
		Status:            pipeline.StatusSuccess,
		FinishedAt:        now,
		PoliciesCollected: 3,
		ChangesDetected:   2,
		Countries: []pipeline.CountryOutcome{
			{CountryCode: "US", Status: pipeline.CountrySuccess, PoliciesCount: 2},
			{CountryCode: "CA", Status: pipeline.CountrySuccess, PoliciesCount: 1},
		},
		Changes: []models.ChangeRecord{
			{
				CountryCode:  "US",
				ChangeType:   models.ChangePolicyChanged,
				ChangesCount: 1,
				Details:      []models.PolicyChangeDetail{{ID: "abc123", Title: "Work Visa", Kind: "changed"}},
			},
			{CountryCode: "CA", ChangeType: models.ChangeNewCountry, PoliciesCount: 1},
		},
		Summary: &models.PolicySummary{TotalPolicies: 3, AverageCostUSD: &cost, AverageDurationDays: &days},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteMarkdown(&buf, res))

	out := buf.String()
	assert.Contains(t, out, "# Policy change report")
	assert.Contains(t, out, "- Run: `run-9` (collect)")
	assert.Contains(t, out, "- Finished: 2026-06-01 12:00:00 UTC")
	assert.Contains(t, out, "| US      | changed     | abc123     | Work Visa |")
	assert.Contains(t, out, "| CA      | new_country | 1 policies |           |")
	assert.Contains(t, out, "- Average cost: $1,200")
	assert.Contains(t, out, "- Average duration: 45 days")

	meta, err := metadata.Verify(out)
	require.NoError(t, err)
	assert.Equal(t, "run-9", meta.RunID)
	assert.Equal(t, "success", meta.Status)
	assert.True(t, now.Equal(meta.GeneratedAt))
}

func TestWriteMarkdown_NoChanges(t *testing.T) {
	res := &pipeline.Result{
		RunID:      "run-1",
		Status:     pipeline.StatusSuccess,
		Message:    pipeline.MsgNoBaseline,
		FinishedAt: now,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteMarkdown(&buf, res))

	out := buf.String()
	assert.Contains(t, out, "> "+pipeline.MsgNoBaseline)
	assert.Contains(t, out, "No changes detected.")
	assert.NotContains(t, out, "## Countries")
	assert.NotContains(t, out, "## Summary")
}
