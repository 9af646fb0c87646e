package types

// Metric categories produced by the KPI builder.
const (
	MetricTotalStudents     = "total_estudiantes"
	MetricTotalInstitutions = "total_instituciones"
	MetricTotalPersonnel    = "total_personal"
	MetricGender            = "genero"
	MetricZone              = "zona"
	MetricSportType         = "tipo_deporte"
	MetricZoneDepartment    = "zona_depto"
	MetricSportAndType      = "deporte_tipo"
	MetricTrend             = "tendencia"
)

// MetricRow is one derived metric: a category, an optional subcategory,
// optional extra grouping keys and a numeric value.
type MetricRow struct {
	Category    string            `json:"categoria"`
	Subcategory string            `json:"subcategoria,omitempty"`
	Keys        map[string]string `json:"claves,omitempty"`
	Value       int64             `json:"valor"`
}

// KeyCount is a count for a single grouping key.
type KeyCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// ZoneDepartmentCount is a count for a (department, zone) pair.
type ZoneDepartmentCount struct {
	Department string `json:"departamento"`
	Zone       string `json:"zona"`
	Count      int64  `json:"count"`
}

// SportTypeCount is a count for a (sport, sport type) pair.
type SportTypeCount struct {
	Sport     string `json:"deporte"`
	SportType string `json:"tipo_deporte"`
	Count     int64  `json:"count"`
}

// DateCount is the number of registrations on a calendar date.
type DateCount struct {
	Date  Date  `json:"fecha"`
	Count int64 `json:"inscritos"`
}
