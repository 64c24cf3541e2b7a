// Package combine merges groups of small Parquet objects into combined
// objects. Originals are never deleted.
package combine

// Reasons a table produced no merge work.
const (
	SkipAlreadyCombined  = "already combined"
	SkipNothingToCombine = "nothing to combine"
)

// GroupResult is the outcome of merging one group.
type GroupResult struct {
	Subdir     string
	Index      int
	Members    int
	InputSize  int64
	OutputKey  string
	OutputSize int64
	Rows       int64
	Err        error
}

// TableSummary collects the group results of one table.
type TableSummary struct {
	Table        string
	OriginalSize int64
	SkipReason   string
	Planned      int // retained groups, including singletons left as they are
	Groups       []GroupResult
	Deleted      []string
	Err          error
}

// Summary is the result of one combine run.
type Summary struct {
	Tables []TableSummary
}

func (s Summary) MergedGroups() int {
	n := 0
	for _, t := range s.Tables {
		for _, g := range t.Groups {
			if g.Err == nil {
				n++
			}
		}
	}
	return n
}

func (s Summary) FailedGroups() int {
	n := 0
	for _, t := range s.Tables {
		for _, g := range t.Groups {
			if g.Err != nil {
				n++
			}
		}
	}
	return n
}

// Failed reports whether any table recorded an error.
func (s Summary) Failed() bool {
	for _, t := range s.Tables {
		if t.Err != nil {
			return true
		}
	}
	return false
}
