package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"policywatch/internal/crawler"
	"policywatch/internal/pipeline"
)

// cellWidth caps free-text columns such as errors and policy titles.
const cellWidth = 60

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// WriteRun prints a collection or change detection result.
func WriteRun(w io.Writer, res *pipeline.Result) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Run %s (%s): %s, state %s\n", res.RunID, res.Operation, res.Status, res.State)

	if res.Message != "" {
		fmt.Fprintf(&sb, "Message: %s\n", res.Message)
	}

	if res.Error != "" {
		fmt.Fprintf(&sb, "Error: %s\n", res.Error)
	}

	fmt.Fprintf(&sb, "Policies: %s  Countries: %d  Failed records: %d  Changes: %d  Duration: %s\n",
		humanize.Comma(int64(res.PoliciesCollected)),
		res.CountriesProcessed,
		res.RecordsFailed,
		res.ChangesDetected,
		res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))

	if len(res.Countries) > 0 {
		sb.WriteString("\n")

		t := NewTable("Country", "Status", "Policies", "Failed", "Degraded", "Error").SetMaxWidth(cellWidth)
		for _, c := range res.Countries {
			t.AddRow(c.CountryCode, c.Status,
				strconv.Itoa(c.PoliciesCount), strconv.Itoa(c.RecordsFailed), strconv.Itoa(c.Degraded), c.Error)
		}

		sb.WriteString(t.String())
	}

	if len(res.Changes) > 0 {
		sb.WriteString("\n")

		t := NewTable("Country", "Change", "Count", "Policies").SetMaxWidth(cellWidth)
		for _, c := range res.Changes {
			count := c.ChangesCount
			if count == 0 {
				count = c.PoliciesCount
			}

			t.AddRow(c.CountryCode, string(c.ChangeType), strconv.Itoa(count), strings.Join(c.ChangedPolicies, ", "))
		}

		sb.WriteString(t.String())
	}

	if res.Comprehensive != nil {
		cs := res.Comprehensive
		fmt.Fprintf(&sb, "\nWeekly analysis: %d countries, %s policies, average cost %s, average duration %s\n",
			cs.CountriesAnalyzed, humanize.Comma(int64(cs.TotalPolicies)),
			formatOptional(cs.GlobalAverageCost, "$"), formatOptional(cs.GlobalAverageDuration, ""))
	}

	_, err := io.WriteString(w, sb.String())

	return err
}

// WriteStatus prints the persisted data and recent runs. Times are shown
// relative to now.
func WriteStatus(w io.Writer, res *pipeline.Result, now time.Time) error {
	var sb strings.Builder

	st := res.Store
	if st == nil {
		fmt.Fprintf(&sb, "Status: %s\n", res.Status)
		_, err := io.WriteString(w, sb.String())

		return err
	}

	fmt.Fprintf(&sb, "Status: %s", st.State)

	if st.LatestUpdate != nil {
		fmt.Fprintf(&sb, " (latest update %s)", humanize.RelTime(*st.LatestUpdate, now, "ago", "from now"))
	}

	sb.WriteString("\n")

	if res.Message != "" {
		fmt.Fprintf(&sb, "%s\n", res.Message)
	}

	if res.Summary != nil {
		s := res.Summary
		fmt.Fprintf(&sb, "Summary: %s policies across %d countries, average complexity %.2f, average cost %s\n",
			humanize.Comma(int64(s.TotalPolicies)), len(s.Countries), s.AverageComplexity,
			formatOptional(s.AverageCostUSD, "$"))
	}

	if len(st.Files) > 0 {
		sb.WriteString("\n")

		t := NewTable("File", "Size", "Modified")
		for _, f := range st.Files {
			modified := "-"
			if !f.ModTime.IsZero() {
				modified = humanize.RelTime(f.ModTime, now, "ago", "from now")
			}

			t.AddRow(f.Name, humanize.Bytes(uint64(f.Size)), modified)
		}

		sb.WriteString(t.String())
	}

	if len(res.Runs) > 0 {
		sb.WriteString("\n")

		t := NewTable("Started", "Country", "Operation", "Status", "Scraped", "Failed", "Duration", "Error").SetMaxWidth(cellWidth)
		for _, e := range res.Runs {
			t.AddRow(
				humanize.RelTime(e.StartedAt, now, "ago", "from now"),
				e.CountryCode,
				e.OperationType,
				e.Status,
				strconv.Itoa(e.RecordsScraped),
				strconv.Itoa(e.RecordsFailed),
				fmt.Sprintf("%.1fs", e.DurationSeconds),
				e.ErrorMessage,
			)
		}

		sb.WriteString(t.String())
	}

	_, err := io.WriteString(w, sb.String())

	return err
}

// WriteSources prints the supported countries and their sources.
func WriteSources(w io.Writer, countries []crawler.CountryInfo) error {
	t := NewTable("Country", "Name", "Source", "Kind", "Implemented", "URLs")

	for _, c := range countries {
		for _, s := range c.Sources {
			implemented := "yes"
			if !s.Implemented {
				implemented = "no"
			}

			t.AddRow(c.Code, c.Name, s.Name, s.Kind, implemented, strconv.Itoa(len(s.URLs)))
		}
	}

	_, err := t.WriteTo(w)

	return err
}

func formatOptional(v *float64, prefix string) string {
	if v == nil {
		return "n/a"
	}

	return prefix + humanize.CommafWithDigits(*v, 2)
}
