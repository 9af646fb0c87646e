// Package kpi flattens enrollment aggregates into metric rows.
package kpi

import (
	"github.com/deportes-escolares/inscripciones/internal/query"
	"github.com/deportes-escolares/inscripciones/pkg/types"
)

// Builder accumulates metric rows in category order.
type Builder struct {
	rows []types.MetricRow
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{rows: make([]types.MetricRow, 0)}
}

// FromAggregates emits totals first, then the per-key breakdowns in the order
// gender, zone, sport type, zone by department, sport by type and trend.
func (b *Builder) FromAggregates(agg query.Aggregates) []types.MetricRow {
	b.add(types.MetricTotalStudents, "", nil, agg.Totals.Students)
	b.add(types.MetricTotalInstitutions, "", nil, agg.Totals.Institutions)
	b.add(types.MetricTotalPersonnel, "", nil, agg.Totals.Personnel)

	for _, c := range agg.ByGender {
		b.add(types.MetricGender, c.Key, nil, c.Count)
	}
	for _, c := range agg.ByZone {
		b.add(types.MetricZone, c.Key, nil, c.Count)
	}
	for _, c := range agg.BySportType {
		b.add(types.MetricSportType, c.Key, nil, c.Count)
	}
	for _, c := range agg.ByZoneAndDepartment {
		b.add(types.MetricZoneDepartment, "", map[string]string{
			"zona":         c.Zone,
			"departamento": c.Department,
		}, c.Count)
	}
	for _, c := range agg.BySportAndType {
		b.add(types.MetricSportAndType, "", map[string]string{
			"deporte": c.Sport,
			"tipo":    c.SportType,
		}, c.Count)
	}
	for _, c := range agg.ByDate {
		b.add(types.MetricTrend, "", map[string]string{"fecha": c.Date.String()}, c.Count)
	}

	return b.rows
}

func (b *Builder) add(category, subcategory string, keys map[string]string, value int64) {
	b.rows = append(b.rows, types.MetricRow{
		Category:    category,
		Subcategory: subcategory,
		Keys:        keys,
		Value:       value,
	})
}

// Lookup returns the value of the first row in a category.
func Lookup(rows []types.MetricRow, category string) (int64, bool) {
	for _, r := range rows {
		if r.Category == category {
			return r.Value, true
		}
	}
	return 0, false
}

// Filter returns the rows of one category in their original order.
func Filter(rows []types.MetricRow, category string) []types.MetricRow {
	out := make([]types.MetricRow, 0)
	for _, r := range rows {
		if r.Category == category {
			out = append(out, r)
		}
	}
	return out
}
