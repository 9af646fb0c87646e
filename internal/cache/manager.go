package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/deportes-escolares/inscripciones/internal/errors"
	"github.com/deportes-escolares/inscripciones/internal/logging"
	"github.com/deportes-escolares/inscripciones/internal/table"
)

// Source is the spreadsheet a snapshot is built from.
type Source interface {
	Path() string
	Load(ctx context.Context) (*table.Table, error)
}

// Reasons a snapshot was rebuilt.
const (
	ReasonCacheMissing = "cache_missing"
	ReasonSourceNewer  = "source_newer"
	ReasonCacheInvalid = "cache_invalid"
	ReasonForced       = "forced"
)

// BuildEvent describes a snapshot that was just persisted.
type BuildEvent struct {
	ID       string
	Reason   string
	Snapshot *Snapshot
	Payload  []byte // serialized snapshot as written to the cache file
	Duration time.Duration
}

// Listener is notified after every successful build.
type Listener interface {
	OnBuild(ctx context.Context, ev BuildEvent) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev BuildEvent) error

// OnBuild calls f.
func (f ListenerFunc) OnBuild(ctx context.Context, ev BuildEvent) error {
	return f(ctx, ev)
}

// Metrics holds cache statistics for observability.
type Metrics struct {
	Hits       atomic.Int64
	Misses     atomic.Int64
	Rebuilds   atomic.Int64
	ReadErrors atomic.Int64
}

type namedListener struct {
	name string
	l    Listener
}

// Manager owns the cache file and the in-memory current snapshot.
type Manager struct {
	source    Source
	cachePath string
	logger    *logging.Logger
	now       func() time.Time

	// buildMu serializes builds so concurrent callers do not race on the cache file
	buildMu sync.Mutex

	mu        sync.RWMutex
	current   *Snapshot
	listeners []namedListener

	metrics Metrics

	// OnLoad, when set, is called after a snapshot is read from the cache file
	// with the file size in bytes.
	OnLoad func(snap *Snapshot, sizeBytes int)
}

// NewManager creates a manager for the given source and cache file.
func NewManager(source Source, cachePath string, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		source:    source,
		cachePath: cachePath,
		logger:    logger.With("component", "cache"),
		now:       time.Now,
	}
}

// AddListener registers a build listener. Listener errors are logged and
// never fail the build.
func (m *Manager) AddListener(name string, l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, namedListener{name: name, l: l})
}

// CachePath returns the cache file path.
func (m *Manager) CachePath() string {
	return m.cachePath
}

// SourcePath returns the spreadsheet path.
func (m *Manager) SourcePath() string {
	return m.source.Path()
}

// ShouldRefresh reports whether the cache must be rebuilt: the cache file is
// missing, or the spreadsheet was modified strictly after it. Any other stat
// error also requests a rebuild.
func (m *Manager) ShouldRefresh() bool {
	return m.refreshReason() != ""
}

func (m *Manager) refreshReason() string {
	cacheInfo, err := os.Stat(m.cachePath)
	if err != nil {
		return ReasonCacheMissing
	}
	sourceInfo, err := os.Stat(m.source.Path())
	if err != nil {
		return ReasonSourceNewer
	}
	if sourceInfo.ModTime().After(cacheInfo.ModTime()) {
		return ReasonSourceNewer
	}
	return ""
}

// LoadSource reads the spreadsheet.
func (m *Manager) LoadSource(ctx context.Context) (*table.Table, error) {
	return m.source.Load(ctx)
}

// GetOrBuild returns the cached snapshot when it is fresh and readable, and
// otherwise rebuilds it from the spreadsheet. Failing to read the cache falls
// back to a rebuild; failing to write it is returned to the caller.
func (m *Manager) GetOrBuild(ctx context.Context) (*Snapshot, error) {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	reason := m.refreshReason()
	if reason == "" {
		if cur := m.Current(); cur != nil && m.matchesSource(cur) {
			m.metrics.Hits.Add(1)
			return cur, nil
		}

		snap, size, err := m.readCache()
		if err == nil {
			m.metrics.Hits.Add(1)
			m.setCurrent(snap)
			m.logger.Info("using cached snapshot",
				"path", m.cachePath,
				"last_update", snap.LastUpdate,
				"rows", snap.Table.Len())
			if m.OnLoad != nil {
				m.OnLoad(snap, size)
			}
			return snap, nil
		}

		m.metrics.ReadErrors.Add(1)
		m.logger.Warn("failed to load cache, rebuilding from source",
			"path", m.cachePath,
			"error", err)
		reason = ReasonCacheInvalid
	}

	m.metrics.Misses.Add(1)
	return m.build(ctx, reason)
}

// Rebuild unconditionally rebuilds the snapshot from the spreadsheet.
func (m *Manager) Rebuild(ctx context.Context) (*Snapshot, error) {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()
	return m.build(ctx, ReasonForced)
}

// Current returns the most recently loaded or built snapshot, or nil.
func (m *Manager) Current() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Invalidate removes the cache file and forgets the current snapshot so the
// next GetOrBuild rebuilds.
func (m *Manager) Invalidate() error {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()

	if err := os.Remove(m.cachePath); err != nil && !os.IsNotExist(err) {
		return errors.NewCacheError(errors.CodeCacheWriteFailed, "failed to remove cache file", err)
	}
	return nil
}

// Stats returns the cache counters.
func (m *Manager) Stats() (hits, misses, rebuilds, readErrors int64) {
	return m.metrics.Hits.Load(), m.metrics.Misses.Load(),
		m.metrics.Rebuilds.Load(), m.metrics.ReadErrors.Load()
}

// HitRate returns the cache hit rate as a percentage.
func (m *Manager) HitRate() float64 {
	hits := m.metrics.Hits.Load()
	misses := m.metrics.Misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

func (m *Manager) build(ctx context.Context, reason string) (*Snapshot, error) {
	start := time.Now()
	m.logger.Info("processing spreadsheet", "path", m.source.Path(), "reason", reason)

	var modTime time.Time
	if info, err := os.Stat(m.source.Path()); err == nil {
		modTime = info.ModTime()
	}

	t, err := m.LoadSource(ctx)
	if err != nil {
		return nil, err
	}

	snap := NewSnapshot(SourceInfo{Path: m.source.Path(), ModTime: modTime}, t, m.now())
	data, err := Serialize(snap)
	if err != nil {
		return nil, errors.NewCacheError(errors.CodeCacheWriteFailed, "failed to serialize snapshot", err)
	}

	if err := writeFileAtomic(m.cachePath, data); err != nil {
		m.logger.Error("failed to save cache", "path", m.cachePath, "error", err)
		return nil, errors.NewCacheError(errors.CodeCacheWriteFailed,
			fmt.Sprintf("failed to write cache file %s", m.cachePath), err)
	}

	m.metrics.Rebuilds.Add(1)
	m.setCurrent(snap)
	LogSummary(m.logger, snap)

	ev := BuildEvent{
		ID:       uuid.NewString(),
		Reason:   reason,
		Snapshot: snap,
		Payload:  data,
		Duration: time.Since(start),
	}
	m.notify(ctx, ev)

	return snap, nil
}

func (m *Manager) notify(ctx context.Context, ev BuildEvent) {
	m.mu.RLock()
	listeners := append([]namedListener(nil), m.listeners...)
	m.mu.RUnlock()

	for _, nl := range listeners {
		if err := nl.l.OnBuild(ctx, ev); err != nil {
			m.logger.Warn("build listener failed",
				"listener", nl.name,
				"build_id", ev.ID,
				"error", err)
		}
	}
}

func (m *Manager) readCache() (*Snapshot, int, error) {
	data, err := os.ReadFile(m.cachePath)
	if err != nil {
		return nil, 0, errors.NewCacheError(errors.CodeCacheReadFailed, "failed to read cache file", err)
	}
	snap, err := Deserialize(data)
	return snap, len(data), err
}

// matchesSource reports whether snap was built from the spreadsheet as it is now.
func (m *Manager) matchesSource(snap *Snapshot) bool {
	info, err := os.Stat(m.source.Path())
	if err != nil {
		return false
	}
	return info.ModTime().Equal(snap.Source.ModTime)
}

func (m *Manager) setCurrent(s *Snapshot) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
