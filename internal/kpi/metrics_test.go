package kpi

import (
	"testing"
	"time"

	"github.com/deportes-escolares/inscripciones/internal/query"
	"github.com/deportes-escolares/inscripciones/internal/table"
	"github.com/deportes-escolares/inscripciones/pkg/types"
)

func metricRows(t *table.Table) []types.MetricRow {
	return NewBuilder().FromAggregates(query.Aggregate(t))
}

func enrollmentTable(t *testing.T) *table.Table {
	t.Helper()
	tbl := table.New([]string{
		types.ColDepartment, types.ColZone, types.ColGender, types.ColSport,
		types.ColSportType, types.ColInstitution, types.ColRegistrationDate,
	})
	d := types.Date{Year: 2024, Month: time.May, Day: 3}
	rows := [][]interface{}{
		{"Meta", "rural", "Hombre", "Fútbol", "conjunto", "IE 1", d},
		{"Meta", "urbano", "Mujer", "Fútbol", "conjunto", "IE 1", d},
		{"Huila", "rural", "Mujer", "Tenis", "individual", "IE 2", nil},
	}
	for _, r := range rows {
		if err := tbl.Append(r); err != nil {
			t.Fatal(err)
		}
	}
	return tbl
}

func TestBuild_CategoryOrder(t *testing.T) {
	rows := metricRows(enrollmentTable(t))

	want := []string{
		types.MetricTotalStudents,
		types.MetricTotalInstitutions,
		types.MetricTotalPersonnel,
		types.MetricGender, types.MetricGender,
		types.MetricZone, types.MetricZone,
		types.MetricSportType, types.MetricSportType,
		types.MetricZoneDepartment, types.MetricZoneDepartment, types.MetricZoneDepartment,
		types.MetricSportAndType, types.MetricSportAndType,
		types.MetricTrend,
	}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(rows))
	}
	for i, c := range want {
		if rows[i].Category != c {
			t.Errorf("row %d: expected category %s, got %s", i, c, rows[i].Category)
		}
	}
}

func TestBuild_Values(t *testing.T) {
	rows := metricRows(enrollmentTable(t))

	if v, _ := Lookup(rows, types.MetricTotalStudents); v != 3 {
		t.Errorf("expected 3 students, got %d", v)
	}
	if v, _ := Lookup(rows, types.MetricTotalInstitutions); v != 2 {
		t.Errorf("expected 2 institutions, got %d", v)
	}
	if v, ok := Lookup(rows, types.MetricTotalPersonnel); !ok || v != 0 {
		t.Errorf("expected personnel placeholder 0, got %d (found=%v)", v, ok)
	}

	gender := Filter(rows, types.MetricGender)
	if gender[0].Subcategory != "Mujer" || gender[0].Value != 2 {
		t.Errorf("unexpected first gender row: %+v", gender[0])
	}

	zd := Filter(rows, types.MetricZoneDepartment)
	if zd[0].Keys["departamento"] != "Huila" || zd[0].Keys["zona"] != "rural" {
		t.Errorf("unexpected first zona_depto row: %+v", zd[0])
	}

	trend := Filter(rows, types.MetricTrend)
	if trend[0].Keys["fecha"] != "2024-05-03" || trend[0].Value != 2 {
		t.Errorf("unexpected trend row: %+v", trend[0])
	}
}

func TestFromAggregates_EmptyTable(t *testing.T) {
	rows := metricRows(table.New(nil))
	if len(rows) != 3 {
		t.Fatalf("expected only the three totals, got %d rows", len(rows))
	}
	for _, r := range rows {
		if r.Value != 0 {
			t.Errorf("expected zero for %s, got %d", r.Category, r.Value)
		}
	}
	if _, ok := Lookup(rows, types.MetricTrend); ok {
		t.Error("expected no trend rows")
	}
}
