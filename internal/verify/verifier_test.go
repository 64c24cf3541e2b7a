package verify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/combine"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/metrics"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/model"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/storage"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/storage/storagetest"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/tabular/tabulartest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func put[T any](t *testing.T, store *storagetest.MemStore, key string, rows []T) {
	t.Helper()
	store.Put(key, tabulartest.Encode(t, rows))
}

func run(t *testing.T, store *storagetest.MemStore, opts Options) Outcome {
	t.Helper()
	opts.Prefix = "data"
	if opts.Concurrency == 0 {
		opts.Concurrency = 2
	}
	out, err := New(store, opts, nil).Run(context.Background())
	require.NoError(t, err)
	return out
}

func only(t *testing.T, out Outcome) model.VerificationResult {
	t.Helper()
	require.Len(t, out.Results, 1)
	return out.Results[0]
}

func hasPrefix(issues []string, prefix string) bool {
	for _, issue := range issues {
		if strings.HasPrefix(issue, prefix) {
			return true
		}
	}
	return false
}

func TestVerifier_OrderIndependent(t *testing.T) {
	store := storagetest.NewMemStore()
	put(t, store, "data/orders/part-0.parquet", tabulartest.Records(1, 2))
	put(t, store, "data/orders/part-1.parquet", tabulartest.Records(3))
	put(t, store, "data/orders/combined_001_0MB.parquet", tabulartest.Records(3, 1, 2))

	res := only(t, run(t, store, Options{}))
	assert.True(t, res.Passed, "issues: %v", res.Issues)
	assert.Empty(t, res.Issues)
	assert.Equal(t, int64(3), res.OriginalRows)
	assert.Equal(t, int64(3), res.CombinedRows)
	assert.Equal(t, 2, res.OriginalFiles)
	assert.Equal(t, 1, res.CombinedFiles)
}

func TestVerifier_ColumnOrderIgnored(t *testing.T) {
	t.Run("combined reordered", func(t *testing.T) {
		store := storagetest.NewMemStore()
		put(t, store, "data/orders/part-0.parquet", tabulartest.Records(1, 2))
		put(t, store, "data/orders/part-1.parquet", tabulartest.Records(3))
		put(t, store, "data/orders/combined_001_0MB.parquet", tabulartest.Reordered(3, 2, 1))

		res := only(t, run(t, store, Options{}))
		assert.True(t, res.Passed, "issues: %v", res.Issues)
	})

	t.Run("originals reordered", func(t *testing.T) {
		store := storagetest.NewMemStore()
		put(t, store, "data/orders/part-0.parquet", tabulartest.Records(1))
		put(t, store, "data/orders/part-1.parquet", tabulartest.Reordered(2, 3))
		put(t, store, "data/orders/combined_001_0MB.parquet", tabulartest.Records(1, 2, 3))

		res := only(t, run(t, store, Options{}))
		assert.True(t, res.Passed, "issues: %v", res.Issues)
	})

	t.Run("content still compared", func(t *testing.T) {
		store := storagetest.NewMemStore()
		put(t, store, "data/orders/part-0.parquet", tabulartest.Records(1, 2))
		put(t, store, "data/orders/combined_001_0MB.parquet", []tabulartest.ReorderedRecord{{ID: 1, Name: "x"}, {ID: 2, Name: "y"}})

		res := only(t, run(t, store, Options{}))
		assert.False(t, res.Passed)
		assert.Contains(t, res.Issues, "Data content mismatch - hash comparison failed")
	})
}

func TestVerifier_PassedHasEmptyIssues(t *testing.T) {
	store := storagetest.NewMemStore()
	put(t, store, "data/orders/part-0.parquet", tabulartest.Records(1))
	put(t, store, "data/orders/combined_001_0MB.parquet", tabulartest.Records(1))

	res := only(t, run(t, store, Options{}))
	require.True(t, res.Passed)
	assert.NotNil(t, res.Issues)
	assert.Empty(t, res.Issues)
}

func TestVerifier_RecordsObjectsListed(t *testing.T) {
	store := storagetest.NewMemStore()
	put(t, store, "data/orders/part-0.parquet", tabulartest.Records(1))
	put(t, store, "data/orders/part-1.parquet", tabulartest.Records(2))
	put(t, store, "data/orders/combined_001_0MB.parquet", tabulartest.Records(1, 2))
	put(t, store, "data/users/a.parquet", tabulartest.Records(3))

	rec := metrics.New()
	_, err := New(store, Options{Prefix: "data", Concurrency: 2}, rec).Run(context.Background())
	require.NoError(t, err)

	expected := `
# HELP parquet_compactor_objects_listed_total Parquet objects found by the inventory listing.
# TYPE parquet_compactor_objects_listed_total counter
parquet_compactor_objects_listed_total 4
`
	assert.NoError(t, testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "parquet_compactor_objects_listed_total"))
}

func TestVerifier_RegroupingInvariant(t *testing.T) {
	store := storagetest.NewMemStore()
	put(t, store, "data/orders/a.parquet", tabulartest.Records(1))
	put(t, store, "data/orders/b.parquet", tabulartest.Records(2, 3))
	put(t, store, "data/orders/c.parquet", tabulartest.Records(4))
	put(t, store, "data/orders/combined_001_0MB.parquet", tabulartest.Records(4, 2))
	put(t, store, "data/orders/combined_002_0MB.parquet", tabulartest.Records(1, 3))

	res := only(t, run(t, store, Options{}))
	assert.True(t, res.Passed, "issues: %v", res.Issues)
}

func TestVerifier_MissingRow(t *testing.T) {
	store := storagetest.NewMemStore()
	put(t, store, "data/orders/part-0.parquet", tabulartest.Records(1, 2))
	put(t, store, "data/orders/part-1.parquet", tabulartest.Records(3))
	put(t, store, "data/orders/combined_001_0MB.parquet", tabulartest.Records(1, 2))

	res := only(t, run(t, store, Options{}))
	assert.False(t, res.Passed)
	assert.Contains(t, res.Issues, "Row count mismatch: original=3, combined=2")
}

func TestVerifier_ContentMismatch(t *testing.T) {
	store := storagetest.NewMemStore()
	put(t, store, "data/orders/part-0.parquet", []tabulartest.Record{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}})
	put(t, store, "data/orders/part-1.parquet", []tabulartest.Record{{ID: 3, Name: "c"}})
	put(t, store, "data/orders/combined_001_0MB.parquet", []tabulartest.Record{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}, {ID: 3, Name: "CHANGED"}})

	res := only(t, run(t, store, Options{}))
	assert.False(t, res.Passed)
	assert.Contains(t, res.Issues, "Data content mismatch - hash comparison failed")
	assert.True(t, hasPrefix(res.Issues, "Detailed comparison failed: "), "issues: %v", res.Issues)
}

func TestVerifier_DetailThresholdSkipsDiff(t *testing.T) {
	store := storagetest.NewMemStore()
	put(t, store, "data/orders/part-0.parquet", tabulartest.Records(1, 2))
	put(t, store, "data/orders/part-1.parquet", tabulartest.Records(3))
	put(t, store, "data/orders/combined_001_0MB.parquet", tabulartest.Records(1, 2, 4))

	res := only(t, run(t, store, Options{DetailThreshold: 3}))
	assert.Equal(t, []string{"Data content mismatch - hash comparison failed"}, res.Issues)
}

func TestVerifier_SchemaMismatch(t *testing.T) {
	store := storagetest.NewMemStore()
	put(t, store, "data/orders/part-0.parquet", tabulartest.Records(1))
	put(t, store, "data/orders/part-1.parquet", tabulartest.Records(2))
	put(t, store, "data/orders/combined_001_0MB.parquet", []tabulartest.NarrowRecord{{ID: 1, Name: "b"}, {ID: 2, Name: "c"}})

	res := only(t, run(t, store, Options{}))
	assert.False(t, res.Passed)
	assert.Contains(t, res.Issues, "Fields missing in combined: [note]")
	assert.True(t, hasPrefix(res.Issues, "Field 'id' type mismatch: "), "issues: %v", res.Issues)
	assert.NotContains(t, res.Issues, "Data content mismatch - hash comparison failed")
}

func TestVerifier_DownloadFailureBecomesIssue(t *testing.T) {
	store := storagetest.NewMemStore()
	put(t, store, "data/orders/part-0.parquet", tabulartest.Records(1))
	put(t, store, "data/orders/combined_001_0MB.parquet", tabulartest.Records(1))
	store.DownloadErr["data/orders/combined_001_0MB.parquet"] = errors.New("connection reset")

	res := only(t, run(t, store, Options{}))
	assert.False(t, res.Passed)
	require.Len(t, res.Issues, 1)
	assert.True(t, strings.HasPrefix(res.Issues[0], "Verification error: "))
	assert.Contains(t, res.Issues[0], "connection reset")
}

func TestVerifier_SkipsIncompleteTables(t *testing.T) {
	store := storagetest.NewMemStore()
	put(t, store, "data/fresh/part-0.parquet", tabulartest.Records(1))
	put(t, store, "data/orphan/combined_001_0MB.parquet", tabulartest.Records(1))

	out := run(t, store, Options{})
	assert.Empty(t, out.Results)
	assert.Equal(t, []model.SkippedTable{
		{Table: "fresh", Reason: SkipNoCombined},
		{Table: "orphan", Reason: SkipNoOriginals},
	}, out.Skipped)
}

func TestVerifier_ListFailure(t *testing.T) {
	store := storagetest.NewMemStore()
	store.ListErr = errors.New("denied")

	_, err := New(store, Options{Prefix: "data"}, nil).Run(context.Background())
	var accessErr *storage.StoreAccessError
	assert.True(t, errors.As(err, &accessErr))
}

func TestVerifier_AfterCombine(t *testing.T) {
	store := storagetest.NewMemStore()
	put(t, store, "data/orders/part-0.parquet", tabulartest.Records(1, 2))
	put(t, store, "data/orders/part-1.parquet", tabulartest.Records(3))
	put(t, store, "data/orders/dt=1/a.parquet", tabulartest.Records(10))
	put(t, store, "data/orders/dt=1/b.parquet", tabulartest.Records(11, 12))
	put(t, store, "data/users/a.parquet", tabulartest.Records(20))
	put(t, store, "data/users/b.parquet", tabulartest.Records(21))

	summary, err := combine.NewService(store, combine.Options{Prefix: "data", TargetSize: 1 << 20, Concurrency: 2}, nil).Run(context.Background())
	require.NoError(t, err)
	require.False(t, summary.Failed())

	out := run(t, store, Options{})
	require.Len(t, out.Results, 2)
	for _, res := range out.Results {
		assert.True(t, res.Passed, "%s: %v", res.Table, res.Issues)
	}
	assert.Equal(t, "orders", out.Results[0].Table)
	assert.Equal(t, int64(6), out.Results[0].OriginalRows)
}
