package combine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/grouping"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/inventory"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/metrics"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/model"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/storage"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/tabular"
)

// ObjectStore is the store capability the merge pipeline needs.
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	Download(ctx context.Context, key, path string) error
	Upload(ctx context.Context, path, key string) error
	Delete(ctx context.Context, keys []string) error
}

// Options configures one combine run.
type Options struct {
	Prefix      string
	TargetSize  int64
	Concurrency int
	// Force rebuilds tables that already have combined objects.
	Force bool
	// TempDir is the parent of per-group scratch directories. Empty means os.TempDir().
	TempDir string
}

// Service orchestrates combine steps: list, plan, merge, upload.
type Service struct {
	store   ObjectStore
	opts    Options
	metrics *metrics.Recorder
}

func NewService(store ObjectStore, opts Options, rec *metrics.Recorder) *Service {
	if opts.TargetSize <= 0 {
		opts.TargetSize = grouping.DefaultTargetSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Service{store: store, opts: opts, metrics: rec}
}

// job is one mergeable group with its output key fixed before dispatch.
type job struct {
	table int
	group model.Group
	key   string
}

// Run combines every eligible table under the prefix. Only a store access
// failure or cancellation is returned as an error; group failures are
// reported in the summary.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	inv, err := inventory.List(ctx, s.store, s.opts.Prefix)
	if err != nil {
		return Summary{}, err
	}

	tables, jobs := s.plan(ctx, inv)
	s.metrics.ObjectsListed(inv.Objects())

	results := make([]GroupResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	dispatched := 0
	for i, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		dispatched++
		g.Go(func() error {
			results[i] = s.mergeGroup(ctx, j)
			return nil
		})
	}
	_ = g.Wait()

	for i, j := range jobs[:dispatched] {
		t := &tables[j.table]
		t.Groups = append(t.Groups, results[i])
		if results[i].Err != nil {
			t.Err = multierror.Append(t.Err, results[i].Err)
		}
	}

	summary := Summary{Tables: tables}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("combine interrupted: %w", err)
	}

	if s.opts.Force {
		s.removeStale(ctx, inv, summary.Tables)
	}

	slog.InfoContext(ctx, "combine complete",
		"tables", len(summary.Tables),
		"groups_merged", summary.MergedGroups(),
		"groups_failed", summary.FailedGroups(),
	)
	return summary, nil
}

// plan decides per table whether to combine and assigns every output key.
func (s *Service) plan(ctx context.Context, inv *model.Inventory) ([]TableSummary, []job) {
	prefix := storage.NormalizePrefix(s.opts.Prefix)
	tables := make([]TableSummary, len(inv.Tables()))
	var jobs []job

	for i, t := range inv.Tables() {
		ts := &tables[i]
		ts.Table = t.Name
		ts.OriginalSize = grouping.TotalSize(t.Originals)

		if len(t.Combined) > 0 && !s.opts.Force {
			ts.SkipReason = SkipAlreadyCombined
			slog.InfoContext(ctx, "skipping table", "table", t.Name, "reason", ts.SkipReason, "combined", len(t.Combined))
			continue
		}

		plans := grouping.Plan(t.Originals, s.opts.TargetSize)
		for _, p := range plans {
			for _, g := range p.Groups {
				ts.Planned++
				if !g.Mergeable() {
					slog.InfoContext(ctx, "skipping single file", "table", t.Name, "key", g.Members[0].Key)
					continue
				}
				key := storage.CombinedKey{
					Prefix:    prefix,
					Table:     t.Name,
					Subdir:    g.Subdir,
					Index:     g.Index,
					SizeMB:    storage.SizeMB(g.TotalSize),
					Extension: storage.Extension,
				}.Key()
				jobs = append(jobs, job{table: i, group: g, key: key})
			}
		}

		if ts.Planned == 0 {
			ts.SkipReason = SkipNothingToCombine
		}
		slog.InfoContext(ctx, "table planned",
			"table", t.Name,
			"originals", len(t.Originals),
			"size_mb", storage.BytesToMB(ts.OriginalSize),
			"subdirs", len(plans),
			"groups", ts.Planned,
		)
	}
	return tables, jobs
}

// mergeGroup downloads, concatenates, encodes and uploads one group. The
// scratch directory is removed on every path.
func (s *Service) mergeGroup(ctx context.Context, j job) (res GroupResult) {
	start := time.Now()
	res = GroupResult{
		Subdir:    j.group.Subdir,
		Index:     j.group.Index,
		Members:   len(j.group.Members),
		InputSize: j.group.TotalSize,
		OutputKey: j.key,
	}
	defer func() {
		outcome := metrics.OutcomeOK
		if res.Err != nil {
			outcome = metrics.OutcomeFailed
			slog.ErrorContext(ctx, "group failed", "key", j.key, "error", res.Err)
		}
		s.metrics.GroupMerged(outcome, time.Since(start))
	}()

	dir, err := os.MkdirTemp(s.opts.TempDir, "combine-*")
	if err != nil {
		res.Err = fmt.Errorf("scratch dir: %w", err)
		return res
	}
	defer os.RemoveAll(dir)

	slog.InfoContext(ctx, "combining group", "key", j.key, "files", len(j.group.Members), "size_mb", storage.BytesToMB(j.group.TotalSize))

	inputs := make([]*tabular.Table, 0, len(j.group.Members))
	for i, m := range j.group.Members {
		local := filepath.Join(dir, fmt.Sprintf("input_%d.parquet", i))
		if err := s.store.Download(ctx, m.Key, local); err != nil {
			res.Err = fmt.Errorf("download: %w", err)
			return res
		}
		s.metrics.Downloaded(m.Size)

		t, err := tabular.ReadFile(local)
		if err != nil {
			res.Err = fmt.Errorf("object %s: %w", m.Key, err)
			return res
		}
		inputs = append(inputs, t)
		_ = os.Remove(local)
	}

	merged, err := tabular.Concat(inputs...)
	if err != nil {
		res.Err = fmt.Errorf("concat: %w", err)
		return res
	}

	out := filepath.Join(dir, "combined.parquet")
	if err := merged.WriteFile(out); err != nil {
		res.Err = fmt.Errorf("encode: %w", err)
		return res
	}
	stat, err := os.Stat(out)
	if err != nil {
		res.Err = fmt.Errorf("encode: %w", err)
		return res
	}

	if err := s.store.Upload(ctx, out, j.key); err != nil {
		res.Err = fmt.Errorf("upload: %w", err)
		return res
	}
	s.metrics.Uploaded(stat.Size())

	res.Rows = merged.NumRows()
	res.OutputSize = stat.Size()
	slog.InfoContext(ctx, "group combined", "key", j.key, "files", len(j.group.Members), "rows", res.Rows, "output_bytes", res.OutputSize)
	return res
}

// removeStale deletes combined objects a forced rebuild did not rewrite.
// Tables with a failed group, or that produced nothing, are left untouched.
func (s *Service) removeStale(ctx context.Context, inv *model.Inventory, tables []TableSummary) {
	for i := range tables {
		ts := &tables[i]
		if ts.SkipReason != "" || ts.Err != nil || len(ts.Groups) == 0 {
			continue
		}
		t, ok := inv.Table(ts.Table)
		if !ok || len(t.Combined) == 0 {
			continue
		}

		produced := make(map[string]bool, len(ts.Groups))
		for _, g := range ts.Groups {
			produced[g.OutputKey] = true
		}
		var stale []string
		for _, c := range t.Combined {
			if !produced[c.Key] {
				stale = append(stale, c.Key)
			}
		}
		if len(stale) == 0 {
			continue
		}

		if err := s.store.Delete(ctx, stale); err != nil {
			ts.Err = multierror.Append(ts.Err, fmt.Errorf("delete stale combined objects: %w", err))
			continue
		}
		ts.Deleted = stale
		slog.InfoContext(ctx, "removed stale combined objects", "table", ts.Table, "keys", stale)
	}
}
