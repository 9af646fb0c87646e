package cache

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/deportes-escolares/inscripciones/internal/logging"
	"github.com/deportes-escolares/inscripciones/internal/query"
	"github.com/deportes-escolares/inscripciones/pkg/types"
)

// Summary is a snapshot without its table rows.
type Summary struct {
	Version     int               `json:"version"`
	LastUpdate  time.Time         `json:"last_update"`
	Source      SourceInfo        `json:"source"`
	Fingerprint string            `json:"fingerprint"`
	Rows        int               `json:"rows"`
	Aggregates  query.Aggregates  `json:"aggregates"`
	Series      query.ChartSeries `json:"series"`
	Metrics     []types.MetricRow `json:"metrics"`
}

// Summary returns the aggregate view of s.
func (s *Snapshot) Summary() Summary {
	return Summary{
		Version:     s.Version,
		LastUpdate:  s.LastUpdate,
		Source:      s.Source,
		Fingerprint: s.Fingerprint,
		Rows:        s.Table.Len(),
		Aggregates:  s.Aggregates,
		Series:      s.Series,
		Metrics:     s.Metrics,
	}
}

// LogSummary logs the headline numbers of a freshly built snapshot.
func LogSummary(logger *logging.Logger, s *Snapshot) {
	agg := s.Aggregates
	zones := make(map[string]int64, len(agg.ByZone))
	for _, c := range agg.ByZone {
		zones[c.Key] = c.Count
	}
	sportTypes := make(map[string]int64, len(agg.BySportType))
	for _, c := range agg.BySportType {
		sportTypes[c.Key] = c.Count
	}

	logger.Info("processed enrollment data",
		"total_estudiantes", agg.Totals.Students,
		"total_instituciones", agg.Totals.Institutions,
		"total_personal", agg.Totals.Personnel,
		"zonas", zones,
		"tipos_deporte", sportTypes,
		"departamentos", len(s.Series.Location.Departments),
		"fechas", len(agg.ByDate),
		"deportes", len(agg.BySportAndType))
}

// WriteSummary prints a human-readable report of a snapshot.
func WriteSummary(w io.Writer, s *Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	agg := s.Aggregates
	loc := s.Series.Location

	fmt.Fprintf(tw, "Fuente:\t%s\n", s.Source.Path)
	fmt.Fprintf(tw, "Actualizado:\t%s\n", s.LastUpdate.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(tw, "Huella:\t%s\n", s.Fingerprint)

	fmt.Fprintln(tw, "\nMétricas:")
	fmt.Fprintf(tw, "Total Estudiantes:\t%d\n", agg.Totals.Students)
	fmt.Fprintf(tw, "Total Instituciones:\t%d\n", agg.Totals.Institutions)
	fmt.Fprintf(tw, "Total Personal:\t%d\n", agg.Totals.Personnel)

	fmt.Fprintln(tw, "\nDatos por Zona:")
	for _, c := range agg.ByZone {
		fmt.Fprintf(tw, "%s:\t%d\n", c.Key, c.Count)
	}

	fmt.Fprintln(tw, "\nDatos por Tipo:")
	for _, c := range agg.BySportType {
		fmt.Fprintf(tw, "%s:\t%d\n", c.Key, c.Count)
	}

	fmt.Fprintln(tw, "\nDatos de Tendencia:")
	for _, c := range agg.ByDate {
		fmt.Fprintf(tw, "%s\t%d\n", c.Date, c.Count)
	}

	fmt.Fprintln(tw, "\nDatos de Deportes:")
	for _, c := range agg.BySportAndType {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", c.Sport, c.SportType, c.Count)
	}

	fmt.Fprintln(tw, "\nRural vs Urbano:")
	for i, dep := range loc.Departments {
		fmt.Fprintf(tw, "%s:\tRural=%d\tUrbano=%d\n", dep, loc.Rural[i], loc.Urban[i])
	}

	return tw.Flush()
}
