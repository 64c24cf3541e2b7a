// Package inventory enumerates tabular objects under a prefix and classifies
// them by table, subdirectory and original-vs-combined status.
package inventory

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/model"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/storage"
)

const sampleSize = 10

// Lister lists objects under a prefix.
type Lister interface {
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
}

// List builds the inventory under prefix (normalized here). A listing failure
// is always returned as a *storage.StoreAccessError.
func List(ctx context.Context, lister Lister, prefix string) (*model.Inventory, error) {
	prefix = storage.NormalizePrefix(prefix)
	slog.InfoContext(ctx, "listing objects", "prefix", prefix)

	objects, err := lister.List(ctx, prefix)
	if err != nil {
		var accessErr *storage.StoreAccessError
		if errors.As(err, &accessErr) {
			return nil, err
		}
		return nil, &storage.StoreAccessError{Prefix: prefix, Err: err}
	}

	inv := model.NewInventory()
	var skipped []string
	tabular := 0
	for _, obj := range objects {
		ref, ok := storage.ParseKey(prefix, obj.Key, obj.Size, storage.Extension)
		if !ok {
			if len(skipped) < sampleSize {
				skipped = append(skipped, obj.Key)
			}
			continue
		}
		tabular++
		inv.Add(ref)
	}

	slog.InfoContext(ctx, "listing complete",
		"prefix", prefix,
		"objects", len(objects),
		"parquet_objects", tabular,
		"tables", len(inv.Tables()),
	)
	if len(objects) == 0 {
		slog.WarnContext(ctx, "no objects found; check bucket, prefix and list permissions", "prefix", prefix)
	} else if tabular == 0 {
		slog.WarnContext(ctx, "objects found but none are parquet tables", "sample", skipped)
	} else if len(skipped) > 0 {
		slog.DebugContext(ctx, "skipped non-table objects", "sample", skipped)
	}

	for _, t := range inv.Tables() {
		slog.InfoContext(ctx, "table listed", "table", t.Name, "originals", len(t.Originals), "combined", len(t.Combined))
	}
	return inv, nil
}
