package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deportes-escolares/inscripciones/internal/cache"
	"github.com/deportes-escolares/inscripciones/internal/table"
)

type countingRefresher struct {
	calls atomic.Int32
}

func (c *countingRefresher) GetOrBuild(ctx context.Context) (*cache.Snapshot, error) {
	c.calls.Add(1)
	return &cache.Snapshot{Table: table.New(nil)}, nil
}

func TestWatcher_DebouncesSourceWrites(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "inscripciones.xlsx")
	require.NoError(t, os.WriteFile(source, []byte("v0"), 0644))

	ref := &countingRefresher{}
	w, err := New(source, ref, 100*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(source, []byte{byte(i)}, 0644))
	}

	require.Eventually(t, func() bool { return ref.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), ref.calls.Load(), "burst of writes should trigger one refresh")
	assert.Equal(t, 1, w.Stats().Refreshes)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "inscripciones.xlsx")
	require.NoError(t, os.WriteFile(source, []byte("v0"), 0644))

	ref := &countingRefresher{}
	w, err := New(source, ref, 50*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "data_cache.json"), []byte("{}"), 0644))
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), ref.calls.Load())
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := New(filepath.Join(dir, "x.xlsx"), &countingRefresher{}, 10*time.Millisecond, nil)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}
