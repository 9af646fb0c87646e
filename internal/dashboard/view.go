package dashboard

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/deportes-escolares/inscripciones/internal/query"
	"github.com/deportes-escolares/inscripciones/internal/table"
	"github.com/deportes-escolares/inscripciones/pkg/types"
)

// FallbackColor is used for sport types missing from the palette.
const FallbackColor = "#888888"

// ZoneColors are the zone donut slice colors, in slice order.
var ZoneColors = []string{"#FFA354", "#E5C473"}

// Palette maps sport types to colors.
type Palette map[string]string

// Color returns the color for a sport type.
func (p Palette) Color(sportType string) string {
	if c, ok := p[sportType]; ok && c != "" {
		return c
	}
	return FallbackColor
}

// Tile is a KPI card.
type Tile struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Value       int64  `json:"value"`
	Display     string `json:"display"`
	BorderColor string `json:"border_color"`
}

// GenderCard holds the male and female counts.
type GenderCard struct {
	Male   int64 `json:"hombre"`
	Female int64 `json:"mujer"`
}

// Donut is a labeled pie chart.
type Donut struct {
	Title  string   `json:"title"`
	Labels []string `json:"labels"`
	Values []int64  `json:"values"`
	Colors []string `json:"colors"`
}

// BarSeries is one series of a grouped bar chart.
type BarSeries struct {
	Name   string  `json:"name"`
	Values []int64 `json:"values"`
	Color  string  `json:"color,omitempty"`
}

// Bars is a grouped bar chart over a category axis.
type Bars struct {
	Title      string      `json:"title"`
	Categories []string    `json:"categories"`
	Series     []BarSeries `json:"series"`
}

// TrendLine is the registrations-per-day chart.
type TrendLine struct {
	Title  string            `json:"title"`
	Points []types.DateCount `json:"points"`
}

// View is the data for every dashboard card under one selection.
type View struct {
	Filter         Filter       `json:"filter"`
	SelectedTypes  []string     `json:"tipos_seleccionados"`
	Tiles          []Tile       `json:"tiles"`
	Gender         GenderCard   `json:"gender"`
	ZoneDonut      Donut        `json:"zona"`
	SportTypeDonut Donut        `json:"tipo"`
	Departments    Bars         `json:"departamentos"`
	Trend          TrendLine    `json:"tendencia"`
	Sports         Bars         `json:"deportes"`
	Legend         []LegendItem `json:"legend"`
}

// Build computes the card data for t under the filter and sport-type
// selection. allTypes is the ordered list of toggleable sport types. A filter
// that matches no rows shows the whole table.
func Build(t *table.Table, f Filter, selected, allTypes []string, palette Palette) View {
	filtered := f.Apply(t)
	if filtered.Len() == 0 {
		filtered = t
	}
	totals := query.ComputeTotals(filtered)
	male, female := query.GenderSplit(filtered)

	zone := query.ZoneCounts(filtered)
	sportTypes := query.SportTypeCounts(filtered)

	departments := query.Departments(filtered)
	rural, urban := query.RuralUrbanCounts(filtered, departments)

	v := View{
		Filter:        f,
		SelectedTypes: append([]string{}, selected...),
		Tiles: []Tile{
			newTile(types.MetricTotalStudents, "Total de estudiantes inscritos", totals.Students, "#293377"),
			newTile(types.MetricTotalInstitutions, "Total de instituciones inscritas", totals.Institutions, "#FFA354"),
			newTile(types.MetricTotalPersonnel, "Total de personal de apoyo inscrito", totals.Personnel, "#602A8C"),
		},
		Gender:    GenderCard{Male: male, Female: female},
		ZoneDonut: donut("Distribución por Zona", zone, func(i int, _ string) string { return ZoneColors[i%len(ZoneColors)] }),
		SportTypeDonut: donut("Tipo de Deporte", sportTypes, func(_ int, label string) string {
			return palette.Color(label)
		}),
		Departments: Bars{
			Title:      "Estudiantes inscritos por departamento",
			Categories: departments,
			Series: []BarSeries{
				{Name: "Rural", Values: rural},
				{Name: "Urbano", Values: urban},
			},
		},
		Trend: TrendLine{
			Title:  "Tendencia de inscripciones",
			Points: query.Trend(filtered),
		},
		Sports: SportsBars(filtered, selected, palette),
		Legend: Legend(allTypes, selected, palette),
	}
	return v
}

// SportsBars groups the sports of the selected types into one series per type.
// Sports are sorted and a missing (sport, type) pair counts as zero.
func SportsBars(t *table.Table, selected []string, palette Palette) Bars {
	wanted := toSet(selected)
	breakdown := query.SportsBreakdown(t)

	type pair struct{ sport, sportType string }
	counts := make(map[pair]int64)
	sports := make(map[string]struct{})
	for _, c := range breakdown {
		if _, ok := wanted[c.SportType]; !ok {
			continue
		}
		sports[c.Sport] = struct{}{}
		counts[pair{c.Sport, c.SportType}] = c.Count
	}
	categories := sortedKeys(sports)

	series := make([]BarSeries, 0, len(selected))
	for _, st := range selected {
		values := make([]int64, len(categories))
		for i, sport := range categories {
			values[i] = counts[pair{sport, st}]
		}
		series = append(series, BarSeries{
			Name:   titleCase(st),
			Values: values,
			Color:  palette.Color(st),
		})
	}

	return Bars{
		Title:      "Deportes por tipo",
		Categories: categories,
		Series:     series,
	}
}

func newTile(key, title string, value int64, border string) Tile {
	return Tile{
		Key:         key,
		Title:       title,
		Value:       value,
		Display:     formatThousands(value),
		BorderColor: border,
	}
}

func donut(title string, counts []types.KeyCount, color func(i int, label string) string) Donut {
	d := Donut{
		Title:  title,
		Labels: make([]string, len(counts)),
		Values: make([]int64, len(counts)),
		Colors: make([]string, len(counts)),
	}
	for i, c := range counts {
		d.Labels[i] = c.Key
		d.Values[i] = c.Count
		d.Colors[i] = color(i, c.Key)
	}
	return d
}

// formatThousands renders n with comma group separators.
func formatThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// titleCase upper-cases the first letter of every word.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}
