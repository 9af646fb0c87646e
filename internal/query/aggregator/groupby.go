// Package aggregator implements group-by counting and ordering over table rows.
package aggregator

import (
	"strconv"
	"strings"

	"github.com/deportes-escolares/inscripciones/internal/table"
	"github.com/deportes-escolares/inscripciones/pkg/types"
)

// GroupKey is the display form of a group-by key tuple: the formatted values
// joined with "|".
type GroupKey = string

// Group holds the count for a single key tuple.
type Group struct {
	Key    GroupKey
	Values []interface{} // the actual group-by column values
	Count  int64

	id string // unambiguous identity of Values, see groupID
}

// CountBy counts rows per distinct tuple of the given columns.
//
// Rows with a nil or empty value in any key column are skipped. A column the
// table does not have yields no groups. Groups are returned in order of first
// appearance; use SortByKey or SortByCountDesc for a reproducible order.
func CountBy(t *table.Table, cols ...string) []*Group {
	if t.Len() == 0 || len(cols) == 0 {
		return []*Group{}
	}

	indices := make([]int, len(cols))
	for i, c := range cols {
		idx, ok := t.ColumnIndex(c)
		if !ok {
			return []*Group{}
		}
		indices[i] = idx
	}

	groups := make(map[string]*Group)
	order := make([]*Group, 0)

	for i := 0; i < t.Len(); i++ {
		row := t.Row(i)
		keyVals := make([]interface{}, len(indices))
		skip := false
		for k, idx := range indices {
			v := row[idx]
			if isEmpty(v) {
				skip = true
				break
			}
			keyVals[k] = v
		}
		if skip {
			continue
		}

		id := groupID(keyVals)
		g, exists := groups[id]
		if !exists {
			g = &Group{Key: groupKeyString(keyVals), Values: keyVals, id: id}
			groups[id] = g
			order = append(order, g)
		}
		g.Count++
	}

	return order
}

// Total returns the sum of all group counts.
func Total(groups []*Group) int64 {
	var n int64
	for _, g := range groups {
		n += g.Count
	}
	return n
}

// Lookup returns the count for the given key values, or 0. Values match by
// type as well as by content.
func Lookup(groups []*Group, values ...interface{}) int64 {
	id := groupID(values)
	for _, g := range groups {
		if g.id == id {
			return g.Count
		}
	}
	return 0
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return true
	}
	return false
}

// groupID encodes each value as a type tag, the byte length of its formatted
// text and the text itself, so tuples differing in a value's type or in where
// a separator falls never share an id.
func groupID(vals []interface{}) string {
	var b strings.Builder
	for _, v := range vals {
		s := ""
		if v != nil {
			s = table.FormatCell(v)
		}
		b.WriteByte(typeTag(v))
		b.WriteString(strconv.Itoa(len(s)))
		b.WriteByte(':')
		b.WriteString(s)
	}
	return b.String()
}

func typeTag(v interface{}) byte {
	switch v.(type) {
	case nil:
		return 'n'
	case string:
		return 's'
	case int64:
		return 'i'
	case float64:
		return 'f'
	case types.Date:
		return 'd'
	default:
		return 'o'
	}
}

// groupKeyString produces the display key from a slice of values.
func groupKeyString(vals []interface{}) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		if v == nil {
			parts[i] = "<NULL>"
		} else {
			parts[i] = table.FormatCell(v)
		}
	}
	return strings.Join(parts, "|")
}
