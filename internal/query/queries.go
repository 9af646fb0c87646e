// Package query computes the enrollment aggregates behind every dashboard card.
package query

import (
	"sort"
	"strings"

	"github.com/deportes-escolares/inscripciones/internal/query/aggregator"
	"github.com/deportes-escolares/inscripciones/internal/table"
	"github.com/deportes-escolares/inscripciones/pkg/types"
)

// Totals are the scalar KPI values.
type Totals struct {
	Students     int64 `json:"total_estudiantes"`
	Institutions int64 `json:"total_instituciones"`
	// Personnel is not tracked by the source sheet and is always zero.
	Personnel int64 `json:"total_personal"`
}

// Aggregates is the full set of grouped counts for one table.
type Aggregates struct {
	Totals              Totals                      `json:"totals"`
	ByGender            []types.KeyCount            `json:"by_gender"`
	ByZone              []types.KeyCount            `json:"by_zone"`
	BySportType         []types.KeyCount            `json:"by_sport_type"`
	ByZoneAndDepartment []types.ZoneDepartmentCount `json:"by_zone_and_department"`
	BySportAndType      []types.SportTypeCount      `json:"by_sport_and_type"`
	ByDate              []types.DateCount           `json:"by_date"`
}

// Location holds the department axis of the rural/urban chart.
type Location struct {
	Departments    []string `json:"departamentos"`
	Municipalities []string `json:"municipios"`
	Rural          []int64  `json:"rural"`
	Urban          []int64  `json:"urbano"`
}

// LabeledSeries is a pair of parallel label/value slices.
type LabeledSeries struct {
	Labels []string `json:"labels"`
	Values []int64  `json:"values"`
}

// ChartSeries are the precomputed series for the unfiltered dashboard.
type ChartSeries struct {
	Zone     LabeledSeries          `json:"zona"`
	Type     LabeledSeries          `json:"tipo"`
	Location Location               `json:"ubicacion"`
	Trend    []types.DateCount      `json:"trend_data"`
	Sports   []types.SportTypeCount `json:"deportes_data"`
}

// Aggregate computes every grouping for t. An empty table yields zero totals
// and empty groupings.
func Aggregate(t *table.Table) Aggregates {
	return Aggregates{
		Totals:              ComputeTotals(t),
		ByGender:            GenderCounts(t),
		ByZone:              ZoneCounts(t),
		BySportType:         SportTypeCounts(t),
		ByZoneAndDepartment: ZoneDepartmentCounts(t),
		BySportAndType:      SportsBreakdown(t),
		ByDate:              Trend(t),
	}
}

// Series computes the chart series stored alongside the aggregates.
func Series(t *table.Table) ChartSeries {
	departments := Departments(t)
	rural, urban := RuralUrbanCounts(t, departments)
	return ChartSeries{
		Zone: toSeries(ZoneCounts(t)),
		Type: toSeries(SportTypeCounts(t)),
		Location: Location{
			Departments:    departments,
			Municipalities: Municipalities(t),
			Rural:          rural,
			Urban:          urban,
		},
		Trend:  Trend(t),
		Sports: SportsBreakdown(t),
	}
}

// ComputeTotals returns the row count and distinct institution count.
func ComputeTotals(t *table.Table) Totals {
	return Totals{
		Students:     int64(t.Len()),
		Institutions: int64(t.CountDistinct(types.ColInstitution)),
		Personnel:    0,
	}
}

// GenderCounts counts rows per gender, largest first.
func GenderCounts(t *table.Table) []types.KeyCount {
	return valueCounts(t, types.ColGender)
}

// ZoneCounts counts rows per zone, largest first.
func ZoneCounts(t *table.Table) []types.KeyCount {
	return valueCounts(t, types.ColZone)
}

// SportTypeCounts counts rows per sport type, largest first.
func SportTypeCounts(t *table.Table) []types.KeyCount {
	return valueCounts(t, types.ColSportType)
}

// ZoneDepartmentCounts counts rows per (department, zone), ordered by key.
func ZoneDepartmentCounts(t *table.Table) []types.ZoneDepartmentCount {
	groups := aggregator.CountBy(t, types.ColDepartment, types.ColZone)
	aggregator.SortByKey(groups)

	out := make([]types.ZoneDepartmentCount, len(groups))
	for i, g := range groups {
		out[i] = types.ZoneDepartmentCount{
			Department: table.FormatCell(g.Values[0]),
			Zone:       table.FormatCell(g.Values[1]),
			Count:      g.Count,
		}
	}
	return out
}

// SportsBreakdown counts rows per (sport, sport type), ordered by key.
func SportsBreakdown(t *table.Table) []types.SportTypeCount {
	groups := aggregator.CountBy(t, types.ColSport, types.ColSportType)
	aggregator.SortByKey(groups)

	out := make([]types.SportTypeCount, len(groups))
	for i, g := range groups {
		out[i] = types.SportTypeCount{
			Sport:     table.FormatCell(g.Values[0]),
			SportType: table.FormatCell(g.Values[1]),
			Count:     g.Count,
		}
	}
	return out
}

// Departments returns the sorted distinct departments.
func Departments(t *table.Table) []string {
	return t.Distinct(types.ColDepartment)
}

// Municipalities returns the sorted distinct municipalities.
func Municipalities(t *table.Table) []string {
	return t.Distinct(types.ColMunicipality)
}

// RuralUrbanCounts returns, for each department in order, the number of rural
// and urban rows. Zones are compared case-insensitively.
func RuralUrbanCounts(t *table.Table, departments []string) (rural, urban []int64) {
	ruralBy := make(map[string]int64)
	urbanBy := make(map[string]int64)

	depIdx, okDep := t.ColumnIndex(types.ColDepartment)
	zoneIdx, okZone := t.ColumnIndex(types.ColZone)
	if okDep && okZone {
		for i := 0; i < t.Len(); i++ {
			row := t.Row(i)
			zone, ok := row[zoneIdx].(string)
			if !ok {
				continue
			}
			dep := table.FormatCell(row[depIdx])
			switch strings.ToLower(zone) {
			case types.ZoneRural:
				ruralBy[dep]++
			case types.ZoneUrban:
				urbanBy[dep]++
			}
		}
	}

	rural = make([]int64, len(departments))
	urban = make([]int64, len(departments))
	for i, dep := range departments {
		rural[i] = ruralBy[dep]
		urban[i] = urbanBy[dep]
	}
	return rural, urban
}

// GenderSplit returns the number of male and female rows.
func GenderSplit(t *table.Table) (male, female int64) {
	groups := aggregator.CountBy(t, types.ColGender)
	return aggregator.Lookup(groups, types.GenderMale), aggregator.Lookup(groups, types.GenderFemale)
}

// Trend counts registrations per calendar date, oldest first. Cells that do
// not hold a date are ignored.
func Trend(t *table.Table) []types.DateCount {
	idx, ok := t.ColumnIndex(types.ColRegistrationDate)
	if !ok {
		return []types.DateCount{}
	}

	counts := make(map[types.Date]int64)
	for i := 0; i < t.Len(); i++ {
		if d, ok := t.Row(i)[idx].(types.Date); ok {
			counts[d]++
		}
	}

	out := make([]types.DateCount, 0, len(counts))
	for d, n := range counts {
		out = append(out, types.DateCount{Date: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func valueCounts(t *table.Table, col string) []types.KeyCount {
	groups := aggregator.CountBy(t, col)
	aggregator.SortByCountDesc(groups)

	out := make([]types.KeyCount, len(groups))
	for i, g := range groups {
		out[i] = types.KeyCount{Key: table.FormatCell(g.Values[0]), Count: g.Count}
	}
	return out
}

func toSeries(counts []types.KeyCount) LabeledSeries {
	s := LabeledSeries{
		Labels: make([]string, len(counts)),
		Values: make([]int64, len(counts)),
	}
	for i, c := range counts {
		s.Labels[i] = c.Key
		s.Values[i] = c.Count
	}
	return s
}
