package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deportes-escolares/inscripciones/internal/errors"
	"github.com/deportes-escolares/inscripciones/internal/table"
	"github.com/deportes-escolares/inscripciones/pkg/types"
)

func distinctDates(t *table.Table, col string) map[types.Date]bool {
	out := make(map[types.Date]bool)
	for _, v := range t.Column(col) {
		if d, ok := v.(types.Date); ok {
			out[d] = true
		}
	}
	return out
}

func TestSerialize_RoundTripPreservesDates(t *testing.T) {
	src := enrollmentTable(t)
	snap := NewSnapshot(SourceInfo{Path: "x.xlsx", ModTime: time.Unix(1700000000, 0).UTC()}, src, time.Unix(1700000100, 0).UTC())

	data, err := Serialize(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"2024-03-02"`)
	assert.NotEmpty(t, snap.Fingerprint)

	back, err := Deserialize(data)
	require.NoError(t, err)

	assert.Equal(t, src.Len(), back.Table.Len())
	assert.Equal(t, distinctDates(src, types.ColRegistrationDate), distinctDates(back.Table, types.ColRegistrationDate))
	assert.Equal(t, snap.Fingerprint, back.Fingerprint)
	assert.Equal(t, snap.Aggregates, back.Aggregates)
	assert.Equal(t, snap.Metrics, back.Metrics)
	assert.True(t, snap.Source.ModTime.Equal(back.Source.ModTime))
}

func TestDeserialize_CellTypes(t *testing.T) {
	tbl := table.New([]string{"Edad", "Peso", "Nota", "Fecha de Registro"})
	require.NoError(t, tbl.Append([]interface{}{int64(12), 41.5, nil, types.Date{Year: 2024, Month: 1, Day: 9}}))
	require.NoError(t, tbl.Append([]interface{}{int64(13), float64(40), "2024-13-45", "pendiente"}))

	data, err := Serialize(NewSnapshot(SourceInfo{}, tbl, time.Now()))
	require.NoError(t, err)
	back, err := Deserialize(data)
	require.NoError(t, err)

	assert.Equal(t, int64(12), back.Table.Value(0, "Edad"))
	assert.Equal(t, 41.5, back.Table.Value(0, "Peso"))
	// Whole floats come back as integers
	assert.Equal(t, int64(40), back.Table.Value(1, "Peso"))
	assert.Nil(t, back.Table.Value(0, "Nota"))
	// Date-shaped text that is not a real date stays text
	assert.Equal(t, "2024-13-45", back.Table.Value(1, "Nota"))
	assert.Equal(t, types.Date{Year: 2024, Month: 1, Day: 9}, back.Table.Value(0, "Fecha de Registro"))
	assert.Equal(t, "pendiente", back.Table.Value(1, "Fecha de Registro"))
}

func TestSerialize_Deterministic(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	a, err := Serialize(NewSnapshot(SourceInfo{Path: "x"}, enrollmentTable(t), now))
	require.NoError(t, err)
	b, err := Serialize(NewSnapshot(SourceInfo{Path: "x"}, enrollmentTable(t), now))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestSerialize_EmptyTable(t *testing.T) {
	data, err := Serialize(NewSnapshot(SourceInfo{}, table.New(nil), time.Now()))
	require.NoError(t, err)

	back, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, 0, back.Table.Len())
	assert.Zero(t, back.Aggregates.Totals.Students)
	assert.Empty(t, back.Aggregates.ByZoneAndDepartment)
}

func TestDeserialize_Errors(t *testing.T) {
	_, err := Deserialize([]byte(`{"version": 1, "table": {"columns": ["a"], "rows": [[`))
	assert.Equal(t, errors.CodeCacheCorrupt, errors.GetCode(err))

	_, err = Deserialize([]byte(`{"version": 99}`))
	assert.Equal(t, errors.CodeVersionMismatch, errors.GetCode(err))

	_, err = Deserialize([]byte(`{"version": 1, "table": {"columns": ["a"], "rows": [[true]]}}`))
	assert.Equal(t, errors.CodeCacheCorrupt, errors.GetCode(err))

	_, err = Deserialize([]byte(`{"version": 1, "table": {"columns": ["a", "b"], "rows": [["x"]]}}`))
	assert.Equal(t, errors.CodeCacheCorrupt, errors.GetCode(err))
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint([]byte("inscripciones"))
	assert.Len(t, fp, 32)
	assert.Equal(t, fp, strings.ToLower(fp))
	assert.NotEqual(t, fp, Fingerprint([]byte("inscripciones ")))
}
