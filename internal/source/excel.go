// Package source reads the enrollment spreadsheet into a table.
package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/deportes-escolares/inscripciones/internal/errors"
	"github.com/deportes-escolares/inscripciones/internal/table"
	"github.com/deportes-escolares/inscripciones/pkg/types"
)

// textDateLayouts are tried in order for date cells stored as text.
var textDateLayouts = []string{
	types.DateLayout,
	"2006-01-02 15:04:05",
	"02/01/2006",
	time.RFC3339,
}

// Options controls how a sheet is read.
type Options struct {
	// Sheet is the worksheet name; empty selects the first sheet.
	Sheet string

	// IsDateColumn reports whether a header holds calendar dates.
	// When nil, only ColRegistrationDate and headers starting with "Fecha" are dates.
	IsDateColumn func(header string) bool
}

// ExcelLoader loads an .xlsx file.
type ExcelLoader struct {
	path string
	opts Options
}

// NewExcelLoader creates a loader for the file at path.
func NewExcelLoader(path string, opts Options) *ExcelLoader {
	if opts.IsDateColumn == nil {
		opts.IsDateColumn = defaultDateColumn
	}
	return &ExcelLoader{path: path, opts: opts}
}

// Path returns the spreadsheet path.
func (l *ExcelLoader) Path() string {
	return l.path
}

// Load reads the sheet. The first row is the header; every later row becomes a
// table row padded to the header width.
func (l *ExcelLoader) Load(ctx context.Context) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := excelize.OpenFile(l.path)
	if err != nil {
		return nil, errors.NewSourceError(errors.CodeSourceReadFailed,
			fmt.Sprintf("failed to open spreadsheet %s", l.path), err).
			WithDetails(map[string]interface{}{"path": l.path})
	}
	defer f.Close()

	sheet := l.opts.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.NewSourceError(errors.CodeSheetNotFound, "spreadsheet has no sheets", nil).
				WithDetails(map[string]interface{}{"path": l.path})
		}
		sheet = sheets[0]
	} else if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		return nil, errors.NewSourceError(errors.CodeSheetNotFound,
			fmt.Sprintf("sheet %q not found", sheet), nil).
			WithDetails(map[string]interface{}{"path": l.path})
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.NewSourceError(errors.CodeSourceReadFailed,
			fmt.Sprintf("failed to read sheet %q", sheet), err).
			WithDetails(map[string]interface{}{"path": l.path})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return buildTable(rows, l.opts.IsDateColumn)
}

// buildTable converts raw sheet rows into a typed table.
func buildTable(rows [][]string, isDate func(string) bool) (*table.Table, error) {
	if len(rows) == 0 {
		return table.New(nil), nil
	}

	headers := make([]string, 0, len(rows[0]))
	seen := make(map[string]int)
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		// Repeated headers get a numeric suffix: "Zona", "Zona.1", ...
		if n, dup := seen[h]; dup {
			seen[h] = n + 1
			h = fmt.Sprintf("%s.%d", h, n+1)
		} else {
			seen[h] = 0
		}
		headers = append(headers, h)
	}

	// Data rows may be wider than the header row
	width := len(headers)
	for _, r := range rows[1:] {
		if len(r) > width {
			width = len(r)
		}
	}
	for i := len(headers); i < width; i++ {
		headers = append(headers, fmt.Sprintf("Unnamed: %d", i))
	}

	dateCols := make([]bool, width)
	for i, h := range headers {
		dateCols[i] = isDate(h)
	}
	sportTypeIdx := -1
	for i, h := range headers {
		if h == types.ColSportType {
			sportTypeIdx = i
			break
		}
	}

	t := table.New(headers)
	for _, raw := range rows[1:] {
		if isBlankRow(raw) {
			continue
		}
		row := make([]interface{}, width)
		for i := 0; i < width; i++ {
			if i >= len(raw) {
				continue
			}
			if dateCols[i] {
				row[i] = parseDateCell(raw[i])
			} else {
				row[i] = parseCell(raw[i])
			}
		}
		if sportTypeIdx >= 0 {
			row[sportTypeIdx] = normalizeSportType(row[sportTypeIdx])
		}
		if err := t.Append(row); err != nil {
			return nil, errors.NewInternalError("failed to append spreadsheet row", err)
		}
	}

	if t.Len() > 0 {
		for _, col := range types.RequiredColumns {
			if !t.HasColumn(col) {
				return nil, errors.NewSourceError(errors.CodeMissingColumn,
					fmt.Sprintf("required column %q is missing", col), nil).
					WithDetails(map[string]interface{}{"column": col})
			}
		}
	}

	return t, nil
}

func isBlankRow(raw []string) bool {
	for _, v := range raw {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// parseCell converts a raw cell value: empty becomes nil, integers int64,
// other numbers float64, everything else stays text.
func parseCell(raw string) interface{} {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// parseDateCell converts an Excel serial or a textual date to types.Date.
// Values that are not dates are kept as text.
func parseDateCell(raw string) interface{} {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if tm, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return types.DateOf(tm)
		}
		return raw
	}
	if d, ok := ParseTextDate(s); ok {
		return d
	}
	return raw
}

// ParseTextDate parses the textual date layouts found in enrollment sheets.
func ParseTextDate(s string) (types.Date, bool) {
	for _, layout := range textDateLayouts {
		if tm, err := time.Parse(layout, s); err == nil {
			return types.DateOf(tm), true
		}
	}
	return types.Date{}, false
}

func normalizeSportType(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	return s
}

func defaultDateColumn(header string) bool {
	return header == types.ColRegistrationDate || strings.HasPrefix(header, "Fecha")
}
