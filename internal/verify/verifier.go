// Package verify proves that the combined objects of each table hold exactly
// the rows of its originals, independent of row order.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/grouping"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/inventory"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/metrics"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/model"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/storage"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/tabular"
)

const (
	// DefaultDetailThreshold bounds the row count for which a row diff is rendered.
	DefaultDetailThreshold = 100_000

	issueLimit = 200
)

// Skip reasons.
const (
	SkipNoOriginals = "no original objects"
	SkipNoCombined  = "no combined objects"
)

// ObjectStore is the read-only store capability the verifier needs.
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	Download(ctx context.Context, key, path string) error
}

type Options struct {
	Prefix          string
	Concurrency     int
	DetailThreshold int64
	TempDir         string
}

// Outcome holds per-table results in inventory order.
type Outcome struct {
	Results []model.VerificationResult
	Skipped []model.SkippedTable
}

type Verifier struct {
	store   ObjectStore
	opts    Options
	metrics *metrics.Recorder
}

func New(store ObjectStore, opts Options, rec *metrics.Recorder) *Verifier {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.DetailThreshold <= 0 {
		opts.DetailThreshold = DefaultDetailThreshold
	}
	return &Verifier{store: store, opts: opts, metrics: rec}
}

// Run verifies every table that has both originals and combined objects.
// Only a store access failure or cancellation is returned as an error.
func (v *Verifier) Run(ctx context.Context) (Outcome, error) {
	inv, err := inventory.List(ctx, v.store, v.opts.Prefix)
	if err != nil {
		return Outcome{}, err
	}
	v.metrics.ObjectsListed(inv.Objects())

	var out Outcome
	var todo []*model.Table
	for _, t := range inv.Tables() {
		reason := ""
		switch {
		case len(t.Originals) == 0:
			reason = SkipNoOriginals
		case len(t.Combined) == 0:
			reason = SkipNoCombined
		}
		if reason != "" {
			slog.WarnContext(ctx, "skipping table", "table", t.Name, "reason", reason)
			out.Skipped = append(out.Skipped, model.SkippedTable{Table: t.Name, Reason: reason})
			v.metrics.TableVerified(metrics.OutcomeSkipped)
			continue
		}
		todo = append(todo, t)
	}

	results := make([]model.VerificationResult, len(todo))
	var g errgroup.Group
	g.SetLimit(v.opts.Concurrency)
	for i, t := range todo {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = v.verifyTable(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("verification interrupted: %w", err)
	}
	out.Results = results
	return out, nil
}

func (v *Verifier) verifyTable(ctx context.Context, t *model.Table) model.VerificationResult {
	start := time.Now()
	res := model.VerificationResult{
		Table:          t.Name,
		OriginalFiles:  len(t.Originals),
		CombinedFiles:  len(t.Combined),
		OriginalSizeMB: storage.BytesToMB(grouping.TotalSize(t.Originals)),
		CombinedSizeMB: storage.BytesToMB(grouping.TotalSize(t.Combined)),
	}
	slog.InfoContext(ctx, "verifying table", "table", t.Name, "originals", res.OriginalFiles, "combined", res.CombinedFiles)

	res.Issues = v.compare(ctx, t, &res)
	if res.Issues == nil {
		res.Issues = []string{}
	}
	res.Passed = len(res.Issues) == 0
	res.Duration = time.Since(start)

	outcome := metrics.OutcomeOK
	if res.Passed {
		slog.InfoContext(ctx, "table verified", "table", t.Name, "rows", res.OriginalRows, "duration", res.Duration)
	} else {
		outcome = metrics.OutcomeFailed
		slog.WarnContext(ctx, "table verification failed", "table", t.Name, "issues", res.Issues)
	}
	v.metrics.TableVerified(outcome)
	return res
}

// compare fills the row counts on res and returns the findings.
func (v *Verifier) compare(ctx context.Context, t *model.Table, res *model.VerificationResult) []string {
	dir, err := os.MkdirTemp(v.opts.TempDir, "verify-*")
	if err != nil {
		return []string{verificationError(err)}
	}
	defer os.RemoveAll(dir)

	original, err := v.load(ctx, filepath.Join(dir, "original"), t.Originals)
	if err != nil {
		return []string{verificationError(err)}
	}
	combined, err := v.load(ctx, filepath.Join(dir, "combined"), t.Combined)
	if err != nil {
		return []string{verificationError(err)}
	}

	res.OriginalRows = original.NumRows()
	res.CombinedRows = combined.NumRows()

	var issues []string
	if res.OriginalRows != res.CombinedRows {
		issues = append(issues, fmt.Sprintf("Row count mismatch: original=%d, combined=%d", res.OriginalRows, res.CombinedRows))
	}

	schemaDiff := tabular.CompareSchemas(original.Schema, combined.Schema)
	issues = append(issues, schemaDiff.Issues()...)

	if len(issues) > 0 {
		return issues
	}

	// align combined columns to the originals by name
	combined, err = combined.Conform(original.Schema)
	if err != nil {
		return []string{verificationError(err)}
	}

	originalCanon, combinedCanon := original.Canonical(), combined.Canonical()
	if originalCanon.Digest() == combinedCanon.Digest() {
		return nil
	}
	issues = append(issues, "Data content mismatch - hash comparison failed")

	if res.OriginalRows < v.opts.DetailThreshold {
		diff, err := tabular.DiffRows(originalCanon, combinedCanon, issueLimit)
		var cmpErr *tabular.ComparisonError
		switch {
		case errors.As(err, &cmpErr):
			issues = append(issues, "Detailed comparison failed: "+tabular.Truncate(cmpErr.Error(), issueLimit))
		case err != nil:
			issues = append(issues, verificationError(err))
		case diff != "":
			issues = append(issues, "Detailed comparison failed: "+diff)
		}
	}
	return issues
}

// load downloads and decodes refs, concatenated in listing order.
func (v *Verifier) load(ctx context.Context, dir string, refs []model.ObjectRef) (*tabular.Table, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	tables := make([]*tabular.Table, 0, len(refs))
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		local := filepath.Join(dir, fmt.Sprintf("%d.parquet", i))
		if err := v.store.Download(ctx, ref.Key, local); err != nil {
			return nil, err
		}
		v.metrics.Downloaded(ref.Size)

		t, err := tabular.ReadFile(local)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", ref.Key, err)
		}
		tables = append(tables, t)
		_ = os.Remove(local)
	}
	return tabular.Concat(tables...)
}

func verificationError(err error) string {
	return "Verification error: " + tabular.Truncate(err.Error(), issueLimit)
}
