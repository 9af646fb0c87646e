package aggregator

import (
	"sort"

	"github.com/deportes-escolares/inscripciones/internal/table"
)

// SortByKey sorts groups in place by their key tuple, column by column.
func SortByKey(groups []*Group) {
	// Stable sort preserves insertion order for equal elements
	sort.SliceStable(groups, func(i, j int) bool {
		return compareKeys(groups[i], groups[j]) < 0
	})
}

// SortByCountDesc sorts groups in place by count, largest first. Equal counts
// fall back to key order so the result does not depend on row order.
func SortByCountDesc(groups []*Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return compareKeys(groups[i], groups[j]) < 0
	})
}

func compareKeys(a, b *Group) int {
	n := len(a.Values)
	if len(b.Values) < n {
		n = len(b.Values)
	}
	for k := 0; k < n; k++ {
		if c := table.Compare(a.Values[k], b.Values[k]); c != 0 {
			return c
		}
	}
	switch {
	case len(a.Values) < len(b.Values):
		return -1
	case len(a.Values) > len(b.Values):
		return 1
	}
	// Numerically equal values of different types, such as 5 and 5.0
	switch {
	case a.id < b.id:
		return -1
	case a.id > b.id:
		return 1
	}
	return 0
}
