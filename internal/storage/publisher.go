package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"

	"github.com/deportes-escolares/inscripciones/internal/cache"
	dberrors "github.com/deportes-escolares/inscripciones/internal/errors"
	"github.com/deportes-escolares/inscripciones/internal/logging"
)

// LatestPointer is the small JSON object naming the newest published snapshot.
type LatestPointer struct {
	BuildID     string    `json:"build_id"`
	Fingerprint string    `json:"fingerprint"`
	Object      string    `json:"object"`
	SizeBytes   int       `json:"size_bytes"`
	PublishedAt time.Time `json:"published_at"`
}

// pointerAttempts bounds how often a pointer move is retried after another
// writer changed latest.json underneath it.
const pointerAttempts = 3

const snapshotSuffix = ".json.sz"

// Publisher uploads each new snapshot, snappy-compressed and named by its
// fingerprint, then moves the latest pointer to it with a conditional write
// and prunes the snapshots it superseded.
type Publisher struct {
	store  ObjectStorage
	prefix string
	logger *logging.Logger

	mu          sync.Mutex
	pointerETag string // etag of latest.json as last written by this publisher

	// OnPublished, when set, is called after the latest pointer moves.
	OnPublished func(ctx context.Context, buildID, objectPath string) error
}

// NewPublisher creates a publisher writing under prefix.
func NewPublisher(store ObjectStorage, prefix string, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{
		store:  store,
		prefix: prefix,
		logger: logger.With("component", "publisher"),
	}
}

// ObjectPath returns the object path for a snapshot fingerprint.
func (p *Publisher) ObjectPath(fingerprint string) string {
	return path.Join(p.prefix, fingerprint+snapshotSuffix)
}

// LatestPath returns the object path of the latest pointer.
func (p *Publisher) LatestPath() string {
	return path.Join(p.prefix, "latest.json")
}

// OnBuild publishes a build, satisfying cache.Listener.
func (p *Publisher) OnBuild(ctx context.Context, ev cache.BuildEvent) error {
	_, err := p.Publish(ctx, ev.ID, ev.Snapshot.Fingerprint, ev.Payload)
	return err
}

// Publish uploads payload and updates the latest pointer. A snapshot whose
// fingerprint is already stored is not uploaded again.
func (p *Publisher) Publish(ctx context.Context, buildID, fingerprint string, payload []byte) (*LatestPointer, error) {
	objectPath := p.ObjectPath(fingerprint)

	exists, err := p.store.Exists(ctx, objectPath)
	if err != nil {
		return nil, dberrors.NewStorageError(dberrors.CodeUploadFailed, "failed to check snapshot object", err)
	}

	compressed := snappy.Encode(nil, payload)
	if !exists {
		if _, err := p.store.Put(ctx, objectPath, compressed); err != nil {
			return nil, dberrors.NewStorageError(dberrors.CodeUploadFailed,
				fmt.Sprintf("failed to upload snapshot %s", objectPath), err)
		}
	}

	ptr := &LatestPointer{
		BuildID:     buildID,
		Fingerprint: fingerprint,
		Object:      objectPath,
		SizeBytes:   len(compressed),
		PublishedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(ptr)
	if err != nil {
		return nil, dberrors.NewInternalError("failed to encode latest pointer", err)
	}
	if err := p.movePointer(ctx, data); err != nil {
		return nil, dberrors.NewStorageError(dberrors.CodeUploadFailed, "failed to update latest pointer", err)
	}

	p.logger.Info("snapshot published",
		"build_id", buildID,
		"object", objectPath,
		"raw_bytes", len(payload),
		"compressed_bytes", len(compressed),
		"reused", exists)

	p.prune(ctx, objectPath)

	if p.OnPublished != nil {
		if err := p.OnPublished(ctx, buildID, objectPath); err != nil {
			return ptr, err
		}
	}
	return ptr, nil
}

// movePointer writes latest.json only if it still holds what this publisher
// last saw. The first attempt trusts the remembered etag; after a
// precondition failure the pointer is re-read and the write retried.
func (p *Publisher) movePointer(ctx context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	etag, known := p.pointerETag, p.pointerETag != ""
	for attempt := 0; attempt < pointerAttempts; attempt++ {
		if !known {
			current, err := p.readPointerETag(ctx)
			if err != nil {
				return err
			}
			etag = current
		}

		newETag, err := p.store.ConditionalPut(ctx, p.LatestPath(), data, etag)
		if err == nil {
			p.pointerETag = newETag
			return nil
		}
		if !errors.Is(err, ErrPreconditionFailed) {
			return err
		}
		p.logger.Warn("latest pointer changed concurrently",
			"path", p.LatestPath(),
			"attempt", attempt+1)
		known = false
	}
	p.pointerETag = ""
	return ErrPreconditionFailed
}

// readPointerETag returns the etag of the stored latest.json, or "" when no
// pointer exists yet.
func (p *Publisher) readPointerETag(ctx context.Context) (string, error) {
	data, err := p.store.Get(ctx, p.LatestPath())
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return "", nil
		}
		return "", err
	}
	return etagOf(data), nil
}

// prune deletes the snapshot objects under the prefix other than keep.
// Failures are logged; the pointer already names a valid object.
func (p *Publisher) prune(ctx context.Context, keep string) {
	objects, err := p.store.ListObjects(ctx, p.prefix)
	if err != nil {
		p.logger.Warn("failed to list published snapshots", "prefix", p.prefix, "error", err)
		return
	}

	dir := path.Clean(p.prefix)
	for _, obj := range objects {
		if obj == keep || path.Dir(obj) != dir || !strings.HasSuffix(obj, snapshotSuffix) {
			continue
		}
		if err := p.store.Delete(ctx, obj); err != nil {
			p.logger.Warn("failed to delete superseded snapshot", "object", obj, "error", err)
			continue
		}
		p.logger.Debug("deleted superseded snapshot", "object", obj)
	}
}

// Latest reads the latest pointer.
func (p *Publisher) Latest(ctx context.Context) (*LatestPointer, error) {
	data, err := p.store.Get(ctx, p.LatestPath())
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, dberrors.NewStorageError(dberrors.CodeObjectNotFound, "no snapshot has been published", err)
		}
		return nil, dberrors.NewStorageError(dberrors.CodeObjectNotFound, "failed to read latest pointer", err)
	}
	var ptr LatestPointer
	if err := json.Unmarshal(data, &ptr); err != nil {
		return nil, dberrors.NewStorageError(dberrors.CodeObjectNotFound, "latest pointer is corrupt", err)
	}
	return &ptr, nil
}

// FetchLatest downloads and decodes the newest published snapshot.
func (p *Publisher) FetchLatest(ctx context.Context) (*cache.Snapshot, error) {
	ptr, err := p.Latest(ctx)
	if err != nil {
		return nil, err
	}

	compressed, err := p.store.Get(ctx, ptr.Object)
	if err != nil {
		return nil, dberrors.NewStorageError(dberrors.CodeObjectNotFound,
			fmt.Sprintf("failed to download %s", ptr.Object), err)
	}
	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, dberrors.NewCacheError(dberrors.CodeCacheCorrupt, "failed to decompress snapshot", err)
	}
	return cache.Deserialize(payload)
}
