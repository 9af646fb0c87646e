package cache

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deportes-escolares/inscripciones/internal/errors"
	"github.com/deportes-escolares/inscripciones/internal/logging"
	"github.com/deportes-escolares/inscripciones/internal/table"
	"github.com/deportes-escolares/inscripciones/pkg/types"
)

func enrollmentTable(t *testing.T) *table.Table {
	t.Helper()
	tbl := table.New([]string{
		types.ColDepartment, types.ColMunicipality, types.ColZone, types.ColGender,
		types.ColSport, types.ColSportType, types.ColInstitution, types.ColRegistrationDate,
	})
	d := func(day int) types.Date { return types.Date{Year: 2024, Month: time.March, Day: day} }
	rows := [][]interface{}{
		{"Meta", "Granada", "rural", "Mujer", "Fútbol", "conjunto", "IE 1", d(1)},
		{"Meta", "Granada", "urbano", "Hombre", "Fútbol", "conjunto", "IE 1", d(2)},
		{"Cauca", "Popayán", "rural", "Mujer", "Boccia", "para deporte", "IE 2", d(2)},
		{"Cauca", "Popayán", "urbano", "Hombre", "Tenis", "individual", "IE 3", nil},
	}
	for _, r := range rows {
		require.NoError(t, tbl.Append(r))
	}
	return tbl
}

// fakeSource serves a fixed table and points at a real file for mtime checks.
type fakeSource struct {
	path  string
	tbl   *table.Table
	err   error
	loads atomic.Int64
}

func (s *fakeSource) Path() string { return s.path }

func (s *fakeSource) Load(ctx context.Context) (*table.Table, error) {
	s.loads.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.tbl.Clone(), nil
}

func newFakeSource(t *testing.T, dir string) *fakeSource {
	t.Helper()
	path := filepath.Join(dir, "inscripciones.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("xlsx"), 0644))
	// Keep the source strictly older than any cache written by the test
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))
	return &fakeSource{path: path, tbl: enrollmentTable(t)}
}

func TestShouldRefresh_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource(t, dir)
	m := NewManager(src, filepath.Join(dir, "data_cache.json"), logging.NewNop())

	assert.True(t, m.ShouldRefresh(), "no cache yet")

	_, err := m.GetOrBuild(context.Background())
	require.NoError(t, err)
	assert.False(t, m.ShouldRefresh(), "cache just written")

	require.NoError(t, os.Remove(m.CachePath()))
	assert.True(t, m.ShouldRefresh(), "cache deleted")

	_, err = m.GetOrBuild(context.Background())
	require.NoError(t, err)
	assert.False(t, m.ShouldRefresh())

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(src.path, future, future))
	assert.True(t, m.ShouldRefresh(), "source newer than cache")
}

func TestShouldRefresh_MissingSource(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "data_cache.json")
	require.NoError(t, os.WriteFile(cachePath, []byte("{}"), 0644))

	m := NewManager(&fakeSource{path: filepath.Join(dir, "missing.xlsx")}, cachePath, nil)
	assert.True(t, m.ShouldRefresh())
}

func TestGetOrBuild_UsesCacheAcrossManagers(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource(t, dir)
	cachePath := filepath.Join(dir, "data_cache.json")

	first := NewManager(src, cachePath, nil)
	built, err := first.GetOrBuild(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, src.loads.Load())

	// Same manager: served from memory
	again, err := first.GetOrBuild(context.Background())
	require.NoError(t, err)
	assert.Same(t, built, again)

	// New manager: served from the cache file
	second := NewManager(src, cachePath, nil)
	var loadedSize int
	second.OnLoad = func(snap *Snapshot, sizeBytes int) { loadedSize = sizeBytes }
	cached, err := second.GetOrBuild(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.loads.Load(), "spreadsheet must not be re-read")
	assert.Equal(t, built.Fingerprint, cached.Fingerprint)
	assert.Equal(t, built.Table.Len(), cached.Table.Len())
	assert.Same(t, cached, second.Current())

	hits, misses, rebuilds, readErrors := second.Stats()
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 0, misses)
	assert.EqualValues(t, 0, rebuilds)
	assert.EqualValues(t, 0, readErrors)
	assert.Equal(t, 100.0, second.HitRate())

	info, err := os.Stat(cachePath)
	require.NoError(t, err)
	assert.EqualValues(t, info.Size(), loadedSize)
}

func TestGetOrBuild_CorruptCacheFallsBack(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource(t, dir)
	cachePath := filepath.Join(dir, "data_cache.json")
	require.NoError(t, os.WriteFile(cachePath, []byte("not json"), 0644))

	m := NewManager(src, cachePath, nil)
	require.False(t, m.ShouldRefresh())

	snap, err := m.GetOrBuild(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, snap.Aggregates.Totals.Students)
	assert.EqualValues(t, 1, src.loads.Load())

	_, _, rebuilds, readErrors := m.Stats()
	assert.EqualValues(t, 1, rebuilds)
	assert.EqualValues(t, 1, readErrors)

	// The rebuilt cache is valid
	data, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	_, err = Deserialize(data)
	assert.NoError(t, err)
}

func TestGetOrBuild_WriteFailurePropagates(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource(t, dir)

	// The cache directory is a regular file, so the cache cannot be created
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	m := NewManager(src, filepath.Join(blocker, "data_cache.json"), nil)
	_, err := m.GetOrBuild(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCategoryCache, errors.GetCategory(err))
	assert.Equal(t, errors.CodeCacheWriteFailed, errors.GetCode(err))
	assert.Nil(t, m.Current())
}

func TestGetOrBuild_SourceErrorPropagates(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource(t, dir)
	src.err = errors.NewSourceError(errors.CodeSourceReadFailed, "boom", nil)

	m := NewManager(src, filepath.Join(dir, "data_cache.json"), nil)
	_, err := m.GetOrBuild(context.Background())
	assert.Equal(t, errors.CodeSourceReadFailed, errors.GetCode(err))
	assert.True(t, m.ShouldRefresh())
}

func TestGetOrBuild_ZeroRows(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource(t, dir)
	src.tbl = table.New(nil)

	m := NewManager(src, filepath.Join(dir, "data_cache.json"), nil)
	snap, err := m.GetOrBuild(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.Aggregates.Totals.Students)
	assert.Zero(t, snap.Aggregates.Totals.Institutions)
	assert.Empty(t, snap.Aggregates.ByGender)
}

func TestRebuild_NotifiesListeners(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource(t, dir)
	m := NewManager(src, filepath.Join(dir, "data_cache.json"), nil)

	var events []BuildEvent
	m.AddListener("recorder", ListenerFunc(func(ctx context.Context, ev BuildEvent) error {
		events = append(events, ev)
		return nil
	}))
	m.AddListener("broken", ListenerFunc(func(ctx context.Context, ev BuildEvent) error {
		return fmt.Errorf("upload refused")
	}))

	_, err := m.GetOrBuild(context.Background())
	require.NoError(t, err)
	snap, err := m.Rebuild(context.Background())
	require.NoError(t, err, "listener failures must not fail the build")

	require.Len(t, events, 2)
	assert.Equal(t, ReasonCacheMissing, events[0].Reason)
	assert.Equal(t, ReasonForced, events[1].Reason)
	assert.NotEqual(t, events[0].ID, events[1].ID)
	assert.Equal(t, snap.Fingerprint, Fingerprint(events[1].Payload))
	assert.EqualValues(t, 2, src.loads.Load())
}

func TestInvalidate(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource(t, dir)
	m := NewManager(src, filepath.Join(dir, "data_cache.json"), nil)

	_, err := m.GetOrBuild(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Invalidate())
	assert.Nil(t, m.Current())
	assert.True(t, m.ShouldRefresh())
	// Idempotent
	require.NoError(t, m.Invalidate())
}

func TestWriteSummary(t *testing.T) {
	snap := NewSnapshot(SourceInfo{Path: "inscripciones.xlsx"}, enrollmentTable(t), time.Now())
	_, err := Serialize(snap)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, snap))
	out := buf.String()
	assert.Contains(t, out, "Total Estudiantes:")
	assert.Contains(t, out, "Rural=1")
	assert.Contains(t, out, "2024-03-02")
}
