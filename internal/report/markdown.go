package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"policywatch/internal/pipeline"
	"policywatch/pkg/metadata"
)

// WriteMarkdown writes res as a markdown change report signed with a
// metadata block, so later edits can be detected with metadata.Verify.
func WriteMarkdown(w io.Writer, res *pipeline.Result) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Policy change report\n\n")
	fmt.Fprintf(&sb, "- Run: `%s` (%s)\n", res.RunID, res.Operation)
	fmt.Fprintf(&sb, "- Status: %s\n", res.Status)
	fmt.Fprintf(&sb, "- Finished: %s\n", res.FinishedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "- Policies collected: %s\n", humanize.Comma(int64(res.PoliciesCollected)))
	fmt.Fprintf(&sb, "- Changes detected: %d\n", res.ChangesDetected)

	if res.Message != "" {
		fmt.Fprintf(&sb, "\n> %s\n", res.Message)
	}

	if len(res.Countries) > 0 {
		sb.WriteString("\n## Countries\n\n")

		t := NewTable("Country", "Status", "Policies", "Failed", "Error")
		for _, c := range res.Countries {
			t.AddRow(c.CountryCode, c.Status, strconv.Itoa(c.PoliciesCount), strconv.Itoa(c.RecordsFailed), c.Error)
		}

		sb.WriteString(t.String())
	}

	sb.WriteString("\n## Changes\n\n")

	if len(res.Changes) == 0 {
		sb.WriteString("No changes detected.\n")
	} else {
		t := NewTable("Country", "Change", "Policy", "Title").SetMaxWidth(cellWidth)

		for _, c := range res.Changes {
			if len(c.Details) == 0 {
				t.AddRow(c.CountryCode, string(c.ChangeType), strconv.Itoa(c.PoliciesCount)+" policies", "")

				continue
			}

			for _, d := range c.Details {
				t.AddRow(c.CountryCode, d.Kind, d.ID, d.Title)
			}
		}

		sb.WriteString(t.String())
	}

	if s := res.Summary; s != nil && s.TotalPolicies > 0 {
		sb.WriteString("\n## Summary\n\n")
		fmt.Fprintf(&sb, "- Average cost: %s\n", formatOptional(s.AverageCostUSD, "$"))
		fmt.Fprintf(&sb, "- Average duration: %s days\n", formatOptional(s.AverageDurationDays, ""))
	}

	signed := metadata.Sign(sb.String(), metadata.Metadata{
		RunID:       res.RunID,
		Status:      string(res.Status),
		GeneratedAt: res.FinishedAt,
	})

	_, err := io.WriteString(w, signed)

	return err
}
