package storage

import (
	"testing"

	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/model"
)

func TestCombinedKey_Key(t *testing.T) {
	tests := []struct {
		name string
		key  CombinedKey
		want string
	}{
		{
			name: "table root",
			key:  CombinedKey{Prefix: "export/", Table: "orders", Index: 1, SizeMB: 498, Extension: "parquet"},
			want: "export/orders/combined_001_498MB.parquet",
		},
		{
			name: "nested subdirectory",
			key:  CombinedKey{Prefix: "export/", Table: "orders", Subdir: "year=2024/month=01", Index: 12, SizeMB: 7, Extension: "parquet"},
			want: "export/orders/year=2024/month=01/combined_012_7MB.parquet",
		},
		{
			name: "empty prefix",
			key:  CombinedKey{Table: "logs", Index: 100, SizeMB: 0, Extension: "parquet"},
			want: "logs/combined_100_0MB.parquet",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Key(); got != tt.want {
				t.Fatalf("Key() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNormalizePrefix(t *testing.T) {
	tests := map[string]string{
		"":            "",
		"/":           "",
		"export":      "export/",
		"export/":     "export/",
		"a/b//":       "a/b/",
		"db-export/x": "db-export/x/",
	}
	for in, want := range tests {
		if got := NormalizePrefix(in); got != want {
			t.Errorf("NormalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSizeMB(t *testing.T) {
	tests := []struct {
		bytes int64
		want  int64
	}{
		{0, 0},
		{bytesPerMB - 1, 1},
		{bytesPerMB / 2, 0}, // half rounds to even
		{bytesPerMB * 3 / 2, 2},
		{bytesPerMB * 5 / 2, 2},
		{500 * bytesPerMB, 500},
	}
	for _, tt := range tests {
		if got := SizeMB(tt.bytes); got != tt.want {
			t.Errorf("SizeMB(%d) = %d, want %d", tt.bytes, got, tt.want)
		}
	}
}

func TestIsCombinedName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"combined_001_512MB.parquet", true},
		{"combined_x_MB.parquet", true},
		{"combined_001_512mb.parquet", false},
		{"part-0001.parquet", false},
		{"my_combined_001_5MB.parquet", false},
		{"combined_001.parquet", false},
	}
	for _, tt := range tests {
		if got := IsCombinedName(tt.name, Extension); got != tt.want {
			t.Errorf("IsCombinedName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		want   model.ObjectRef
		wantOK bool
	}{
		{
			name:   "original at table root",
			key:    "export/orders/part-0.parquet",
			want:   model.ObjectRef{Key: "export/orders/part-0.parquet", Size: 10, Table: "orders"},
			wantOK: true,
		},
		{
			name:   "original in nested subdir",
			key:    "export/orders/dt=1/h=2/part-0.PARQUET",
			want:   model.ObjectRef{Key: "export/orders/dt=1/h=2/part-0.PARQUET", Size: 10, Table: "orders", Subdir: "dt=1/h=2"},
			wantOK: true,
		},
		{
			name:   "combined",
			key:    "export/orders/dt=1/combined_001_3MB.parquet",
			want:   model.ObjectRef{Key: "export/orders/dt=1/combined_001_3MB.parquet", Size: 10, Table: "orders", Subdir: "dt=1", Combined: true},
			wantOK: true,
		},
		{name: "not parquet", key: "export/orders/_SUCCESS"},
		{name: "no table segment", key: "export/loose.parquet"},
		{name: "outside prefix", key: "other/orders/part-0.parquet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseKey("export/", tt.key, 10, Extension)
			if ok != tt.wantOK {
				t.Fatalf("ParseKey() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("ParseKey() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCombinedKey_ClassifiedAsCombined(t *testing.T) {
	key := CombinedKey{Prefix: "p/", Table: "t", Subdir: "a/b", Index: 3, SizeMB: 512, Extension: Extension}.Key()

	ref, ok := ParseKey("p/", key, 1, Extension)
	if !ok {
		t.Fatalf("ParseKey(%q) not ok", key)
	}
	if !ref.Combined || ref.Table != "t" || ref.Subdir != "a/b" {
		t.Fatalf("unexpected classification: %+v", ref)
	}
}
