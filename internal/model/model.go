package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ObjectRef is one listed tabular object. It is never modified after listing.
type ObjectRef struct {
	Key      string
	Size     int64
	Table    string
	Subdir   string // joined middle path segments, empty at the table root
	Combined bool
}

// Table groups the objects sharing the first path segment after the prefix.
// Both slices keep listing order.
type Table struct {
	Name      string
	Originals []ObjectRef
	Combined  []ObjectRef
}

// Inventory is the classified result of one listing.
type Inventory struct {
	tables []*Table
	byName map[string]*Table
}

func NewInventory() *Inventory {
	return &Inventory{byName: make(map[string]*Table)}
}

// Add files ref under its table, creating the table on first sight.
func (inv *Inventory) Add(ref ObjectRef) {
	t, ok := inv.byName[ref.Table]
	if !ok {
		t = &Table{Name: ref.Table}
		inv.byName[ref.Table] = t
		inv.tables = append(inv.tables, t)
	}
	if ref.Combined {
		t.Combined = append(t.Combined, ref)
	} else {
		t.Originals = append(t.Originals, ref)
	}
}

// Tables returns tables in first-seen listing order.
func (inv *Inventory) Tables() []*Table {
	return inv.tables
}

func (inv *Inventory) Table(name string) (*Table, bool) {
	t, ok := inv.byName[name]
	return t, ok
}

// Objects counts every listed object, originals and combined.
func (inv *Inventory) Objects() int {
	n := 0
	for _, t := range inv.tables {
		n += len(t.Originals) + len(t.Combined)
	}
	return n
}

// Group is a size-bounded batch of originals from a single subdirectory.
type Group struct {
	Subdir    string
	Index     int // 1-based position in the subdirectory's retained groups
	Members   []ObjectRef
	TotalSize int64
}

// Mergeable reports whether merging the group produces anything new.
func (g Group) Mergeable() bool {
	return len(g.Members) >= 2
}

// VerificationResult is the immutable outcome of verifying one table.
type VerificationResult struct {
	Table          string        `json:"table" yaml:"table"`
	Passed         bool          `json:"passed" yaml:"passed"`
	Issues         []string      `json:"issues" yaml:"issues"`
	OriginalFiles  int           `json:"original_files" yaml:"original_files"`
	CombinedFiles  int           `json:"combined_files" yaml:"combined_files"`
	OriginalRows   int64         `json:"original_rows" yaml:"original_rows"`
	CombinedRows   int64         `json:"combined_rows" yaml:"combined_rows"`
	OriginalSizeMB float64       `json:"original_size_mb" yaml:"original_size_mb"`
	CombinedSizeMB float64       `json:"combined_size_mb" yaml:"combined_size_mb"`
	Duration       time.Duration `json:"duration_ns" yaml:"duration"`
}

// SkippedTable is a table the verifier could not compare.
type SkippedTable struct {
	Table  string `json:"table" yaml:"table"`
	Reason string `json:"reason" yaml:"reason"`
}

// RunReport aggregates all per-table results of one verification run.
type RunReport struct {
	RunID              RunID                `json:"run_id" yaml:"run_id"`
	Bucket             string               `json:"bucket" yaml:"bucket"`
	Prefix             string               `json:"prefix" yaml:"prefix"`
	StartedAt          time.Time            `json:"started_at" yaml:"started_at"`
	FinishedAt         time.Time            `json:"finished_at" yaml:"finished_at"`
	TablesVerified     int                  `json:"tables_verified" yaml:"tables_verified"`
	TablesPassed       int                  `json:"tables_passed" yaml:"tables_passed"`
	TablesFailed       int                  `json:"tables_failed" yaml:"tables_failed"`
	TotalOriginalFiles int                  `json:"total_original_files" yaml:"total_original_files"`
	TotalCombinedFiles int                  `json:"total_combined_files" yaml:"total_combined_files"`
	OverallPassed      bool                 `json:"overall_passed" yaml:"overall_passed"`
	Tables             []VerificationResult `json:"tables" yaml:"tables"`
	Skipped            []SkippedTable       `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// RunID represents a UUIDv7 run identifier.
type RunID string

// NewRunID generates a fresh UUIDv7 run identifier.
func NewRunID() (RunID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run-id: %w", err)
	}
	return RunID(id.String()), nil
}

// Validate checks that the RunID is a valid UUIDv7.
func (r RunID) Validate() error {
	if r == "" {
		return fmt.Errorf("run-id cannot be empty")
	}
	id, err := uuid.Parse(string(r))
	if err != nil {
		return fmt.Errorf("run-id must be a valid UUID: %w", err)
	}
	if id.Version() != uuid.Version(7) {
		return fmt.Errorf("run-id must be a UUIDv7, got v%d", id.Version())
	}
	return nil
}

// String returns the run ID as a string.
func (r RunID) String() string {
	return string(r)
}
