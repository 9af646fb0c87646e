package storage

import (
	"context"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deportes-escolares/inscripciones/internal/cache"
	dberrors "github.com/deportes-escolares/inscripciones/internal/errors"
	"github.com/deportes-escolares/inscripciones/internal/table"
	"github.com/deportes-escolares/inscripciones/pkg/types"
)

func builtSnapshot(t *testing.T) (*cache.Snapshot, []byte) {
	t.Helper()
	tbl := table.New([]string{types.ColZone, types.ColRegistrationDate})
	require.NoError(t, tbl.Append([]interface{}{"rural", types.Date{Year: 2024, Month: time.April, Day: 1}}))
	snap := cache.NewSnapshot(cache.SourceInfo{Path: "x.xlsx"}, tbl, time.Unix(1717000000, 0).UTC())
	data, err := cache.Serialize(snap)
	require.NoError(t, err)
	return snap, data
}

func TestPublisher_PublishAndFetch(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	pub := NewPublisher(store, "snapshots", nil)
	ctx := context.Background()

	var published []string
	pub.OnPublished = func(ctx context.Context, buildID, objectPath string) error {
		published = append(published, buildID+"="+objectPath)
		return nil
	}

	snap, payload := builtSnapshot(t)
	err = pub.OnBuild(ctx, cache.BuildEvent{ID: "b1", Snapshot: snap, Payload: payload})
	require.NoError(t, err)

	objectPath := "snapshots/" + snap.Fingerprint + ".json.sz"
	assert.Equal(t, []string{"b1=" + objectPath}, published)

	compressed, err := store.Get(ctx, objectPath)
	require.NoError(t, err)
	raw, err := snappy.Decode(nil, compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, raw)

	ptr, err := pub.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b1", ptr.BuildID)
	assert.Equal(t, objectPath, ptr.Object)

	fetched, err := pub.FetchLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Fingerprint, fetched.Fingerprint)
	assert.Equal(t, 1, fetched.Table.Len())
}

func TestPublisher_ReusesExistingObject(t *testing.T) {
	store, _ := NewLocalStorage(t.TempDir())
	pub := NewPublisher(store, "p", nil)
	ctx := context.Background()

	snap, payload := builtSnapshot(t)
	_, err := pub.Publish(ctx, "b1", snap.Fingerprint, payload)
	require.NoError(t, err)
	_, err = pub.Publish(ctx, "b2", snap.Fingerprint, payload)
	require.NoError(t, err)

	objects, err := store.ListObjects(ctx, "p")
	require.NoError(t, err)
	assert.Len(t, objects, 2, "one snapshot object plus the latest pointer")

	ptr, err := pub.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b2", ptr.BuildID)
}

func TestPublisher_PrunesSupersededSnapshots(t *testing.T) {
	store, _ := NewLocalStorage(t.TempDir())
	pub := NewPublisher(store, "p", nil)
	ctx := context.Background()

	// Objects outside the prefix directory or without the snapshot suffix stay.
	_, err := store.Put(ctx, "p/notes.txt", []byte("keep"))
	require.NoError(t, err)
	_, err = store.Put(ctx, "p/archive/old.json.sz", []byte("keep"))
	require.NoError(t, err)

	_, err = pub.Publish(ctx, "b1", "aaa", []byte(`{"n":1}`))
	require.NoError(t, err)
	_, err = pub.Publish(ctx, "b2", "bbb", []byte(`{"n":2}`))
	require.NoError(t, err)

	objects, err := store.ListObjects(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"p/archive/old.json.sz",
		"p/bbb.json.sz",
		"p/latest.json",
		"p/notes.txt",
	}, objects)
}

// racingStore fails the next conditional writes as if another publisher had
// moved the pointer first.
type racingStore struct {
	*LocalStorage
	failures int
	calls    []string
}

func (r *racingStore) ConditionalPut(ctx context.Context, objectPath string, data []byte, etag string) (string, error) {
	r.calls = append(r.calls, etag)
	if r.failures > 0 {
		r.failures--
		return "", ErrPreconditionFailed
	}
	return r.LocalStorage.ConditionalPut(ctx, objectPath, data, etag)
}

func TestPublisher_PointerMovesConditionally(t *testing.T) {
	local, _ := NewLocalStorage(t.TempDir())
	store := &racingStore{LocalStorage: local}
	pub := NewPublisher(store, "p", nil)
	ctx := context.Background()

	_, err := pub.Publish(ctx, "b1", "aaa", []byte("one"))
	require.NoError(t, err)
	require.Equal(t, []string{""}, store.calls, "first pointer requires absence")

	// Another writer replaces the pointer; the remembered etag is now stale.
	foreign, err := local.Put(ctx, "p/latest.json", []byte(`{"build_id":"other"}`))
	require.NoError(t, err)

	_, err = pub.Publish(ctx, "b2", "bbb", []byte("two"))
	require.NoError(t, err)
	require.Len(t, store.calls, 3)
	assert.NotEqual(t, foreign, store.calls[1])
	assert.Equal(t, foreign, store.calls[2])

	ptr, err := pub.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b2", ptr.BuildID)
}

func TestPublisher_PointerContentionGivesUp(t *testing.T) {
	local, _ := NewLocalStorage(t.TempDir())
	store := &racingStore{LocalStorage: local, failures: pointerAttempts}
	pub := NewPublisher(store, "p", nil)

	_, err := pub.Publish(context.Background(), "b1", "aaa", []byte("one"))
	require.Error(t, err)
	assert.Equal(t, dberrors.CodeUploadFailed, dberrors.GetCode(err))
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	assert.Len(t, store.calls, pointerAttempts)
}

func TestPublisher_LatestMissing(t *testing.T) {
	store, _ := NewLocalStorage(t.TempDir())
	pub := NewPublisher(store, "snapshots", nil)

	_, err := pub.FetchLatest(context.Background())
	require.Error(t, err)
	assert.Equal(t, dberrors.CodeObjectNotFound, dberrors.GetCode(err))
}
