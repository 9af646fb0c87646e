// Package cache persists the processed enrollment data as a JSON snapshot tied
// to the source spreadsheet's modification time.
package cache

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/deportes-escolares/inscripciones/internal/errors"
	"github.com/deportes-escolares/inscripciones/internal/kpi"
	"github.com/deportes-escolares/inscripciones/internal/query"
	"github.com/deportes-escolares/inscripciones/internal/table"
	"github.com/deportes-escolares/inscripciones/pkg/types"
)

// SnapshotVersion is bumped whenever the cache layout changes. Caches with a
// different version are rebuilt.
const SnapshotVersion = 1

// dateShaped matches the calendar dates written by Serialize.
var dateShaped = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// SourceInfo identifies the spreadsheet a snapshot was built from.
type SourceInfo struct {
	Path    string    `json:"path"`
	ModTime time.Time `json:"modified"`
}

// Snapshot is the processed state of one spreadsheet.
type Snapshot struct {
	Version    int
	LastUpdate time.Time
	Source     SourceInfo
	Table      *table.Table
	Aggregates query.Aggregates
	Series     query.ChartSeries
	Metrics    []types.MetricRow

	// Fingerprint is the murmur3 hash of the serialized snapshot.
	Fingerprint string
}

// snapshotJSON is the on-disk layout.
type snapshotJSON struct {
	Version    int               `json:"version"`
	LastUpdate time.Time         `json:"last_update"`
	Source     SourceInfo        `json:"source"`
	Table      tableJSON         `json:"table"`
	Aggregates query.Aggregates  `json:"aggregates"`
	Series     query.ChartSeries `json:"series"`
	Metrics    []types.MetricRow `json:"metrics"`
}

type tableJSON struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// NewSnapshot computes aggregates, chart series and metric rows for t.
func NewSnapshot(source SourceInfo, t *table.Table, now time.Time) *Snapshot {
	agg := query.Aggregate(t)
	return &Snapshot{
		Version:    SnapshotVersion,
		LastUpdate: now,
		Source:     source,
		Table:      t,
		Aggregates: agg,
		Series:     query.Series(t),
		Metrics:    kpi.NewBuilder().FromAggregates(agg),
	}
}

// Serialize encodes the snapshot as indented JSON and sets its fingerprint.
// Dates are written as YYYY-MM-DD and numbers as plain JSON numbers.
func Serialize(s *Snapshot) ([]byte, error) {
	rows := make([][]interface{}, s.Table.Len())
	for i := range rows {
		rows[i] = s.Table.Row(i)
	}

	wire := snapshotJSON{
		Version:    s.Version,
		LastUpdate: s.LastUpdate,
		Source:     s.Source,
		Table:      tableJSON{Columns: s.Table.Columns(), Rows: rows},
		Aggregates: s.Aggregates,
		Series:     s.Series,
		Metrics:    s.Metrics,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(wire); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	data := buf.Bytes()
	s.Fingerprint = Fingerprint(data)
	return data, nil
}

// Deserialize decodes a snapshot written by Serialize. Columns whose first
// non-null value looks like YYYY-MM-DD are converted back to dates cell by cell;
// cells that do not parse stay text.
func Deserialize(data []byte) (*Snapshot, error) {
	var wire snapshotJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&wire); err != nil {
		return nil, errors.NewCacheError(errors.CodeCacheCorrupt, "failed to decode snapshot", err)
	}

	if wire.Version != SnapshotVersion {
		return nil, errors.NewCacheError(errors.CodeVersionMismatch,
			fmt.Sprintf("snapshot version %d, want %d", wire.Version, SnapshotVersion), nil)
	}

	t := table.New(wire.Table.Columns)
	for i, raw := range wire.Table.Rows {
		row := make([]interface{}, len(raw))
		for j, v := range raw {
			cell, err := decodeCell(v)
			if err != nil {
				return nil, errors.NewCacheError(errors.CodeCacheCorrupt,
					fmt.Sprintf("row %d column %d", i, j), err)
			}
			row[j] = cell
		}
		if err := t.Append(row); err != nil {
			return nil, errors.NewCacheError(errors.CodeCacheCorrupt, fmt.Sprintf("row %d", i), err)
		}
	}
	restoreDates(t)

	return &Snapshot{
		Version:     wire.Version,
		LastUpdate:  wire.LastUpdate,
		Source:      wire.Source,
		Table:       t,
		Aggregates:  wire.Aggregates,
		Series:      wire.Series,
		Metrics:     wire.Metrics,
		Fingerprint: Fingerprint(data),
	}, nil
}

// Fingerprint returns the hex murmur3-128 hash of data.
func Fingerprint(data []byte) string {
	h1, h2 := murmur3.Sum128(data)
	var b [16]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(h1 >> (56 - 8*i))
		b[8+i] = byte(h2 >> (56 - 8*i))
	}
	return hex.EncodeToString(b[:])
}

func decodeCell(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil, string:
		return val, nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported cell type %T", v)
	}
}

func restoreDates(t *table.Table) {
	for _, col := range t.Columns() {
		values := t.Column(col)
		first := firstNonNil(values)
		s, ok := first.(string)
		if !ok || !dateShaped.MatchString(s) {
			continue
		}
		for i, v := range values {
			if str, ok := v.(string); ok {
				if d, err := types.ParseDate(str); err == nil {
					values[i] = d
				}
			}
		}
		_ = t.SetColumn(col, values)
	}
}

func firstNonNil(values []interface{}) interface{} {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
