package combine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/metrics"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/storage"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/storage/storagetest"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/tabular/tabulartest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func putRecords(t *testing.T, store *storagetest.MemStore, key string, ids ...int64) {
	t.Helper()
	store.Put(key, tabulartest.Encode(t, tabulartest.Records(ids...)))
}

func readIDs(t *testing.T, store *storagetest.MemStore, key string) []int64 {
	t.Helper()
	data, ok := store.Get(key)
	require.True(t, ok, "missing object %s", key)
	rows := tabulartest.Decode[tabulartest.Record](t, data)
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids
}

func newService(store ObjectStore, force bool) *Service {
	return NewService(store, Options{
		Prefix:      "data",
		TargetSize:  1 << 20,
		Concurrency: 2,
		Force:       force,
		TempDir:     "",
	}, metrics.New())
}

func TestService_Run_MergesPerSubdir(t *testing.T) {
	store := storagetest.NewMemStore()
	putRecords(t, store, "data/orders/part-0.parquet", 1, 2)
	putRecords(t, store, "data/orders/part-1.parquet", 3)
	putRecords(t, store, "data/orders/part-2.parquet", 4, 5, 6)
	putRecords(t, store, "data/orders/dt=2024/a.parquet", 10)
	putRecords(t, store, "data/orders/dt=2024/b.parquet", 11)

	summary, err := newService(store, false).Run(context.Background())
	require.NoError(t, err)
	require.False(t, summary.Failed())
	assert.Equal(t, 2, summary.MergedGroups())

	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, readIDs(t, store, "data/orders/combined_001_0MB.parquet"))
	assert.Equal(t, []int64{10, 11}, readIDs(t, store, "data/orders/dt=2024/combined_001_0MB.parquet"))

	// originals stay in place
	assert.Len(t, store.Keys("data/orders/part-"), 3)
	assert.Empty(t, store.Deleted)

	require.Len(t, summary.Tables, 1)
	var rows int64
	for _, g := range summary.Tables[0].Groups {
		rows += g.Rows
	}
	assert.Equal(t, int64(8), rows)
}

func TestService_Run_SkipsAlreadyCombined(t *testing.T) {
	store := storagetest.NewMemStore()
	putRecords(t, store, "data/orders/part-0.parquet", 1)
	putRecords(t, store, "data/orders/part-1.parquet", 2)

	svc := newService(store, false)
	_, err := svc.Run(context.Background())
	require.NoError(t, err)
	first := store.Keys("data/")

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Tables, 1)
	assert.Equal(t, SkipAlreadyCombined, summary.Tables[0].SkipReason)
	assert.Equal(t, 0, summary.MergedGroups())
	assert.Equal(t, first, store.Keys("data/"))
}

func TestService_Run_SingleFileNotCombined(t *testing.T) {
	store := storagetest.NewMemStore()
	putRecords(t, store, "data/users/only.parquet", 1, 2)

	summary, err := newService(store, false).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Tables, 1)
	assert.Equal(t, SkipNothingToCombine, summary.Tables[0].SkipReason)
	assert.Equal(t, []string{"data/users/only.parquet"}, store.Keys("data/"))
}

func TestService_Run_ForceReplacesStaleCombined(t *testing.T) {
	store := storagetest.NewMemStore()
	putRecords(t, store, "data/orders/part-0.parquet", 1)
	putRecords(t, store, "data/orders/part-1.parquet", 2)
	putRecords(t, store, "data/orders/combined_001_0MB.parquet", 99)
	putRecords(t, store, "data/orders/combined_002_7MB.parquet", 98)

	summary, err := newService(store, true).Run(context.Background())
	require.NoError(t, err)
	require.False(t, summary.Failed())

	assert.Equal(t, []int64{1, 2}, readIDs(t, store, "data/orders/combined_001_0MB.parquet"))
	assert.Equal(t, []string{"data/orders/combined_002_7MB.parquet"}, summary.Tables[0].Deleted)
	_, ok := store.Get("data/orders/combined_002_7MB.parquet")
	assert.False(t, ok)
	assert.Len(t, store.Keys("data/orders/part-"), 2)
}

func TestService_Run_GroupFailureIsIsolated(t *testing.T) {
	store := storagetest.NewMemStore()
	putRecords(t, store, "data/orders/part-0.parquet", 1)
	putRecords(t, store, "data/orders/part-1.parquet", 2)
	putRecords(t, store, "data/orders/combined_009_1MB.parquet", 3)
	putRecords(t, store, "data/users/a.parquet", 4)
	putRecords(t, store, "data/users/b.parquet", 5)
	store.DownloadErr["data/orders/part-1.parquet"] = errors.New("boom")

	summary, err := newService(store, true).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Failed())
	assert.Equal(t, 1, summary.FailedGroups())
	assert.Equal(t, 1, summary.MergedGroups())

	var readErr *storage.ObjectReadError
	require.Len(t, summary.Tables, 2)
	assert.True(t, errors.As(summary.Tables[0].Err, &readErr))

	// the failed table keeps its previous outputs
	assert.Empty(t, store.Deleted)
	_, ok := store.Get("data/orders/combined_009_1MB.parquet")
	assert.True(t, ok)
	_, ok = store.Get("data/orders/combined_001_0MB.parquet")
	assert.False(t, ok)

	assert.Equal(t, []int64{4, 5}, readIDs(t, store, "data/users/combined_001_0MB.parquet"))
}

func TestService_Run_IncompatibleSchemaFailsGroup(t *testing.T) {
	store := storagetest.NewMemStore()
	putRecords(t, store, "data/orders/part-0.parquet", 1)
	store.Put("data/orders/part-1.parquet", tabulartest.Encode(t, []tabulartest.NarrowRecord{{ID: 2, Name: "b"}}))

	summary, err := newService(store, false).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FailedGroups())
	assert.Contains(t, summary.Tables[0].Err.Error(), "incompatible schema")
	assert.Len(t, store.Keys("data/"), 2)
}

func TestService_Run_ReorderedColumnsMerge(t *testing.T) {
	store := storagetest.NewMemStore()
	putRecords(t, store, "data/orders/part-0.parquet", 1, 2)
	store.Put("data/orders/part-1.parquet", tabulartest.Encode(t, tabulartest.Reordered(3, 4)))

	summary, err := newService(store, false).Run(context.Background())
	require.NoError(t, err)
	require.False(t, summary.Failed(), "tables: %+v", summary.Tables)

	data, ok := store.Get("data/orders/combined_001_0MB.parquet")
	require.True(t, ok)
	assert.Equal(t, tabulartest.Records(1, 2, 3, 4), tabulartest.Decode[tabulartest.Record](t, data))
}

func TestService_Run_ListFailure(t *testing.T) {
	store := storagetest.NewMemStore()
	store.ListErr = errors.New("access denied")

	_, err := newService(store, false).Run(context.Background())
	var accessErr *storage.StoreAccessError
	assert.True(t, errors.As(err, &accessErr))
}

func TestService_Run_Cancelled(t *testing.T) {
	store := storagetest.NewMemStore()
	putRecords(t, store, "data/orders/part-0.parquet", 1)
	putRecords(t, store, "data/orders/part-1.parquet", 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newService(store, false).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, store.Keys("data/"), 2)
}

func TestService_Run_ManyGroupsBounded(t *testing.T) {
	store := storagetest.NewMemStore()
	for table := 0; table < 5; table++ {
		for part := 0; part < 3; part++ {
			putRecords(t, store, fmt.Sprintf("data/t%d/part-%d.parquet", table, part), int64(table*10+part))
		}
	}

	summary, err := NewService(store, Options{Prefix: "data/", TargetSize: 1 << 20, Concurrency: 3}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, summary.MergedGroups())
	for table := 0; table < 5; table++ {
		ids := readIDs(t, store, fmt.Sprintf("data/t%d/combined_001_0MB.parquet", table))
		assert.Equal(t, []int64{int64(table * 10), int64(table*10 + 1), int64(table*10 + 2)}, ids)
	}
}
