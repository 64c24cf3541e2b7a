package storage

import (
	"fmt"
	"math"
	"strings"

	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/model"
)

// Extension is the tabular object extension handled by the compactor.
const Extension = "parquet"

const combinedPrefix = "combined_"

const bytesPerMB = 1024 * 1024

// CombinedKey identifies the output object of one merged group.
type CombinedKey struct {
	Prefix    string // normalized, see NormalizePrefix
	Table     string
	Subdir    string // empty when the group lives at the table root
	Index     int    // 1-based within the subdirectory
	SizeMB    int64  // rounded sum of the input sizes
	Extension string
}

func (k CombinedKey) Key() string {
	if k.Subdir == "" {
		return fmt.Sprintf("%s%s/%s%03d_%dMB.%s", k.Prefix, k.Table, combinedPrefix, k.Index, k.SizeMB, k.Extension)
	}
	return fmt.Sprintf("%s%s/%s/%s%03d_%dMB.%s", k.Prefix, k.Table, k.Subdir, combinedPrefix, k.Index, k.SizeMB, k.Extension)
}

// NormalizePrefix returns prefix with exactly one trailing slash, or "" for an empty prefix.
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// SizeMB converts a byte count to whole megabytes, rounding half to even.
func SizeMB(bytes int64) int64 {
	return int64(math.RoundToEven(float64(bytes) / bytesPerMB))
}

// BytesToMB returns the fractional megabyte size used in reports.
func BytesToMB(bytes int64) float64 {
	return float64(bytes) / bytesPerMB
}

// IsCombinedName reports whether filename was produced by the merge pipeline.
func IsCombinedName(filename, ext string) bool {
	return strings.HasPrefix(filename, combinedPrefix) && strings.Contains(filename, "MB."+ext)
}

// ParseKey classifies a listed key. ok is false when the key is not a tabular
// object under prefix or has no table segment.
func ParseKey(prefix, key string, size int64, ext string) (ref model.ObjectRef, ok bool) {
	if !strings.HasSuffix(strings.ToLower(key), "."+strings.ToLower(ext)) {
		return model.ObjectRef{}, false
	}
	if !strings.HasPrefix(key, prefix) {
		return model.ObjectRef{}, false
	}

	parts := strings.Split(strings.TrimPrefix(key, prefix), "/")
	if len(parts) < 2 {
		return model.ObjectRef{}, false
	}

	filename := parts[len(parts)-1]
	return model.ObjectRef{
		Key:      key,
		Size:     size,
		Table:    parts[0],
		Subdir:   strings.Join(parts[1:len(parts)-1], "/"),
		Combined: IsCombinedName(filename, ext),
	}, true
}
