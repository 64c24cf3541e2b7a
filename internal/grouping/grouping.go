// Package grouping partitions a table's original objects into size-bounded
// merge groups. Groups never cross subdirectory boundaries.
package grouping

import (
	"slices"

	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/model"
)

// DefaultTargetSize is the canonical size bound of a combined object.
const DefaultTargetSize int64 = 512 * 1024 * 1024

// minGroupMembers is the smallest group worth merging regardless of size.
const minGroupMembers = 2

// SubdirPlan holds the retained groups of one subdirectory, numbered from 1.
type SubdirPlan struct {
	Subdir string
	Groups []model.Group
}

// Plan groups originals per subdirectory, in first-seen subdirectory order.
func Plan(originals []model.ObjectRef, target int64) []SubdirPlan {
	var order []string
	bySubdir := make(map[string][]model.ObjectRef)
	for _, ref := range originals {
		if _, ok := bySubdir[ref.Subdir]; !ok {
			order = append(order, ref.Subdir)
		}
		bySubdir[ref.Subdir] = append(bySubdir[ref.Subdir], ref)
	}

	var plans []SubdirPlan
	for _, subdir := range order {
		groups := pack(bySubdir[subdir], target)
		if len(groups) == 0 {
			continue
		}
		for i := range groups {
			groups[i].Subdir = subdir
			groups[i].Index = i + 1
		}
		plans = append(plans, SubdirPlan{Subdir: subdir, Groups: groups})
	}
	return plans
}

// pack runs the bin-packing walk over the objects of one subdirectory and
// returns only the retained groups.
func pack(refs []model.ObjectRef, target int64) []model.Group {
	sorted := slices.Clone(refs)
	slices.SortStableFunc(sorted, func(a, b model.ObjectRef) int {
		switch {
		case a.Size < b.Size:
			return -1
		case a.Size > b.Size:
			return 1
		}
		return 0
	})

	var groups []model.Group
	var current model.Group
	flush := func() {
		if len(current.Members) > 0 {
			groups = append(groups, current)
			current = model.Group{}
		}
	}

	for _, ref := range sorted {
		if ref.Size >= target {
			flush()
			groups = append(groups, model.Group{Members: []model.ObjectRef{ref}, TotalSize: ref.Size})
			continue
		}
		if current.TotalSize+ref.Size > target && len(current.Members) > 0 {
			flush()
		}
		current.Members = append(current.Members, ref)
		current.TotalSize += ref.Size
	}
	flush()

	return slices.DeleteFunc(groups, func(g model.Group) bool {
		return !retained(g, target)
	})
}

// retained drops single-file groups that are not close to the target size.
func retained(g model.Group, target int64) bool {
	return len(g.Members) >= minGroupMembers || float64(g.TotalSize) >= float64(target)*0.8
}

// TotalSize sums the sizes of refs.
func TotalSize(refs []model.ObjectRef) int64 {
	var total int64
	for _, r := range refs {
		total += r.Size
	}
	return total
}
