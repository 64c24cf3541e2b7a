// Package report aggregates per-table verification results into a run
// report and renders it.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/model"
)

// Formats accepted by Write.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Run identifies one verification run.
type Run struct {
	ID         model.RunID
	Bucket     string
	Prefix     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Aggregate folds results into a report. A run that verified no tables passes.
func Aggregate(run Run, results []model.VerificationResult, skipped []model.SkippedTable) model.RunReport {
	r := model.RunReport{
		RunID:         run.ID,
		Bucket:        run.Bucket,
		Prefix:        run.Prefix,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
		Tables:        make([]model.VerificationResult, 0, len(results)),
		Skipped:       skipped,
		OverallPassed: true,
	}
	for _, res := range results {
		r.TablesVerified++
		if res.Passed {
			r.TablesPassed++
		} else {
			r.TablesFailed++
			r.OverallPassed = false
		}
		r.TotalOriginalFiles += res.OriginalFiles
		r.TotalCombinedFiles += res.CombinedFiles
		if res.Issues == nil {
			res.Issues = []string{}
		}
		r.Tables = append(r.Tables, res)
	}
	return r
}

// Issues lists every finding of the report, prefixed with its table.
func Issues(r model.RunReport) []string {
	var out []string
	for _, t := range r.Tables {
		for _, issue := range t.Issues {
			out = append(out, t.Table+": "+issue)
		}
	}
	return out
}

// Write renders r in the named format.
func Write(w io.Writer, r model.RunReport, format string) error {
	switch format {
	case FormatText, "":
		return WriteText(w, r)
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatYAML:
		return WriteYAML(w, r)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func WriteJSON(w io.Writer, r model.RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func WriteYAML(w io.Writer, r model.RunReport) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// WriteText renders the human-readable report.
func WriteText(w io.Writer, r model.RunReport) error {
	rule := strings.Repeat("=", 80)
	sep := strings.Repeat("-", 40)
	var b strings.Builder

	fmt.Fprintf(&b, "\n%s\nPARQUET DATA INTEGRITY VERIFICATION REPORT\n%s\n", rule, rule)
	if r.RunID != "" {
		fmt.Fprintf(&b, "Run ID: %s\n", r.RunID)
	}
	if r.Bucket != "" {
		fmt.Fprintf(&b, "Location: s3://%s/%s\n", r.Bucket, r.Prefix)
	}
	fmt.Fprintf(&b, "Overall Status: %s\n", status(r.OverallPassed, "PASSED", "FAILED"))
	fmt.Fprintf(&b, "Tables Verified: %d\n", r.TablesVerified)
	fmt.Fprintf(&b, "Tables Passed: %d\n", r.TablesPassed)
	fmt.Fprintf(&b, "Tables Failed: %d\n", r.TablesFailed)
	fmt.Fprintf(&b, "Original Files: %d\n", r.TotalOriginalFiles)
	fmt.Fprintf(&b, "Combined Files: %d\n", r.TotalCombinedFiles)
	if !r.StartedAt.IsZero() && !r.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}

	if len(r.Tables) > 0 {
		fmt.Fprintf(&b, "\nDetailed Results by Table:\n%s\n", sep)
		for _, t := range r.Tables {
			fmt.Fprintf(&b, "%s: %s\n", t.Table, status(t.Passed, "PASS", "FAIL"))
			fmt.Fprintf(&b, "  Original: %d files, %s rows, %.2f MB\n", t.OriginalFiles, humanize.Comma(t.OriginalRows), t.OriginalSizeMB)
			fmt.Fprintf(&b, "  Combined: %d files, %s rows, %.2f MB\n", t.CombinedFiles, humanize.Comma(t.CombinedRows), t.CombinedSizeMB)
			if len(t.Issues) > 0 {
				fmt.Fprintf(&b, "  Issues: %d\n", len(t.Issues))
				for _, issue := range t.Issues {
					fmt.Fprintf(&b, "    - %s\n", issue)
				}
			}
			b.WriteString("\n")
		}
	}

	if len(r.Skipped) > 0 {
		fmt.Fprintf(&b, "Skipped Tables:\n%s\n", sep)
		for _, s := range r.Skipped {
			fmt.Fprintf(&b, "%s: %s\n", s.Table, s.Reason)
		}
		b.WriteString("\n")
	}

	if !r.OverallPassed {
		fmt.Fprintf(&b, "SUMMARY OF ISSUES FOUND:\n%s\n", sep)
		for _, issue := range Issues(r) {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	b.WriteString(rule + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func status(ok bool, pass, fail string) string {
	if ok {
		return "✓ " + pass
	}
	return "✗ " + fail
}
