// Package table implements the in-memory enrollment table shared by the loader,
// the aggregation queries and the cache codec.
//
// A table is an ordered list of column names plus rows of cells. A cell is one of
// string, int64, float64, types.Date or nil.
package table

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/deportes-escolares/inscripciones/pkg/types"
)

// Table is a rectangular set of rows addressed by column name.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]interface{}
}

// New creates an empty table with the given columns. When a name repeats, the
// first occurrence wins for lookups.
func New(columns []string) *Table {
	t := &Table{
		columns: append([]string(nil), columns...),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range t.columns {
		if _, dup := t.index[c]; !dup {
			t.index[c] = i
		}
	}
	return t
}

// Append adds a row. The row must have one cell per column.
func (t *Table) Append(row []interface{}) error {
	if len(row) != len(t.columns) {
		return fmt.Errorf("table: row has %d cells, want %d", len(row), len(t.columns))
	}
	for i, v := range row {
		if !IsCell(v) {
			return fmt.Errorf("table: column %q: unsupported cell type %T", t.columns[i], v)
		}
	}
	t.rows = append(t.rows, row)
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Columns returns a copy of the column names.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// Row returns row i. The slice is shared with the table.
func (t *Table) Row(i int) []interface{} {
	return t.rows[i]
}

// ColumnIndex returns the position of a column.
func (t *Table) ColumnIndex(name string) (int, bool) {
	if t == nil {
		return -1, false
	}
	idx, ok := t.index[name]
	return idx, ok
}

// HasColumn reports whether the table has the named column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.ColumnIndex(name)
	return ok
}

// Value returns the cell at (row, col), or nil when the column does not exist.
func (t *Table) Value(row int, col string) interface{} {
	idx, ok := t.ColumnIndex(col)
	if !ok {
		return nil
	}
	return t.rows[row][idx]
}

// String returns the cell at (row, col) formatted as text; nil becomes "".
func (t *Table) String(row int, col string) string {
	return FormatCell(t.Value(row, col))
}

// Column returns all values of a column in row order.
func (t *Table) Column(name string) []interface{} {
	idx, ok := t.ColumnIndex(name)
	if !ok {
		return nil
	}
	out := make([]interface{}, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[idx]
	}
	return out
}

// SetColumn replaces every value of a column. len(values) must equal Len().
func (t *Table) SetColumn(name string, values []interface{}) error {
	idx, ok := t.ColumnIndex(name)
	if !ok {
		return fmt.Errorf("table: unknown column %q", name)
	}
	if len(values) != len(t.rows) {
		return fmt.Errorf("table: column %q: got %d values, want %d", name, len(values), len(t.rows))
	}
	for i, v := range values {
		t.rows[i][idx] = v
	}
	return nil
}

// Filter returns a new table holding the rows for which keep returns true.
// Rows are shared with the receiver.
func (t *Table) Filter(keep func(row []interface{}) bool) *Table {
	out := New(t.columns)
	for _, r := range t.rows {
		if keep(r) {
			out.rows = append(out.rows, r)
		}
	}
	return out
}

// Distinct returns the sorted distinct non-empty text values of a column.
func (t *Table) Distinct(col string) []string {
	idx, ok := t.ColumnIndex(col)
	if !ok {
		return []string{}
	}
	seen := make(map[string]struct{})
	out := []string{}
	for _, r := range t.rows {
		s := FormatCell(r[idx])
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// CountDistinct returns the number of distinct non-nil values in a column.
func (t *Table) CountDistinct(col string) int {
	idx, ok := t.ColumnIndex(col)
	if !ok {
		return 0
	}
	seen := make(map[interface{}]struct{})
	for _, r := range t.rows {
		if r[idx] == nil {
			continue
		}
		seen[r[idx]] = struct{}{}
	}
	return len(seen)
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := New(t.columns)
	out.rows = make([][]interface{}, len(t.rows))
	for i, r := range t.rows {
		out.rows[i] = append([]interface{}(nil), r...)
	}
	return out
}

// IsCell reports whether v is a supported cell value.
func IsCell(v interface{}) bool {
	switch v.(type) {
	case nil, string, int64, float64, types.Date:
		return true
	}
	return false
}

// FormatCell renders a cell as text.
func FormatCell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case types.Date:
		return val.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Compare orders two cells. Cells of different kinds order nil first, then
// numbers, then dates, then text; within a kind numbers compare numerically,
// dates chronologically, and anything else by its text form.
func Compare(a, b interface{}) int {
	if ra, rb := kindRank(a), kindRank(b); ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch a.(type) {
	case nil:
		return 0
	case types.Date:
		return a.(types.Date).Compare(b.(types.Date))
	}

	if fa, ok := toFloat(a); ok {
		fb, _ := toFloat(b)
		if fa < fb {
			return -1
		} else if fa > fb {
			return 1
		}
		return 0
	}

	sa, sb := FormatCell(a), FormatCell(b)
	if sa < sb {
		return -1
	} else if sa > sb {
		return 1
	}
	return 0
}

func kindRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case int64, float64:
		return 1
	case types.Date:
		return 2
	default:
		return 3
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int64:
		return float64(val), true
	}
	return 0, false
}
