// Package dashboard turns the enrollment table into the data behind each card,
// applying the department, municipality and sport-type selections.
package dashboard

import (
	"sort"

	"github.com/deportes-escolares/inscripciones/internal/table"
	"github.com/deportes-escolares/inscripciones/pkg/types"
)

// Filter restricts the table to a set of departments and municipalities.
// An empty list does not restrict its column.
type Filter struct {
	Departments    []string `json:"departamentos,omitempty"`
	Municipalities []string `json:"municipios,omitempty"`
}

// IsEmpty reports whether the filter keeps every row.
func (f Filter) IsEmpty() bool {
	return len(f.Departments) == 0 && len(f.Municipalities) == 0
}

// Apply returns the rows matching the filter. Rows are shared with t.
func (f Filter) Apply(t *table.Table) *table.Table {
	if f.IsEmpty() {
		return t
	}
	depIdx, hasDep := t.ColumnIndex(types.ColDepartment)
	munIdx, hasMun := t.ColumnIndex(types.ColMunicipality)
	deps := toSet(f.Departments)
	muns := toSet(f.Municipalities)

	return t.Filter(func(row []interface{}) bool {
		if len(deps) > 0 {
			if !hasDep || !contains(deps, row[depIdx]) {
				return false
			}
		}
		if len(muns) > 0 {
			if !hasMun || !contains(muns, row[munIdx]) {
				return false
			}
		}
		return true
	})
}

// MunicipalityOptions returns the sorted municipalities of the selected
// departments, or of the whole table when none are selected.
func MunicipalityOptions(t *table.Table, departments []string) []string {
	return Filter{Departments: departments}.Apply(t).Distinct(types.ColMunicipality)
}

// ToggleSportType flips clicked in the current selection. An empty selection
// resets to all sport types before any click is applied.
func ToggleSportType(current []string, clicked string, all []string) []string {
	if len(current) == 0 {
		return append([]string(nil), all...)
	}
	if clicked == "" {
		return current
	}

	out := make([]string, 0, len(current)+1)
	found := false
	for _, v := range current {
		if v == clicked {
			found = true
			continue
		}
		out = append(out, v)
	}
	if !found {
		out = append(out, clicked)
	}
	return out
}

// LegendItem is the display state of one sport-type legend entry.
type LegendItem struct {
	SportType string  `json:"tipo"`
	Color     string  `json:"color"`
	Opacity   float64 `json:"opacity"`
	Selected  bool    `json:"selected"`
}

// LegendOpacity returns 1.0 for a selected sport type and 0.5 otherwise.
func LegendOpacity(selected []string, sportType string) float64 {
	for _, s := range selected {
		if s == sportType {
			return 1.0
		}
	}
	return 0.5
}

// Legend builds the legend entries for all sport types in order.
func Legend(all, selected []string, palette Palette) []LegendItem {
	items := make([]LegendItem, len(all))
	for i, st := range all {
		op := LegendOpacity(selected, st)
		items[i] = LegendItem{
			SportType: st,
			Color:     palette.Color(st),
			Opacity:   op,
			Selected:  op == 1.0,
		}
	}
	return items
}

func toSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return set
}

func contains(set map[string]struct{}, v interface{}) bool {
	if v == nil {
		return false
	}
	_, ok := set[table.FormatCell(v)]
	return ok
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
