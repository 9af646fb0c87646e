package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/deportes-escolares/inscripciones/internal/cache"
	"github.com/deportes-escolares/inscripciones/internal/errors"
	"github.com/deportes-escolares/inscripciones/internal/query"
	"github.com/deportes-escolares/inscripciones/internal/table"
)

func newTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	c, err := NewCatalog(filepath.Join(t.TempDir(), "builds.db"))
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func record(id string, created time.Time) *BuildRecord {
	return &BuildRecord{
		BuildID:          id,
		Reason:           cache.ReasonSourceNewer,
		SourcePath:       "/data/inscripciones.xlsx",
		SourceModified:   created.Add(-time.Minute),
		Fingerprint:      "abc123",
		RowCount:         1200,
		InstitutionCount: 45,
		SizeBytes:        4096,
		Duration:         250 * time.Millisecond,
		CreatedAt:        created,
	}
}

func TestCatalog_RecordAndGetBuild(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	created := time.Unix(1717000000, 0)

	if err := c.RecordBuild(ctx, record("b-1", created)); err != nil {
		t.Fatalf("failed to record build: %v", err)
	}

	got, err := c.GetBuild(ctx, "b-1")
	if err != nil {
		t.Fatalf("failed to get build: %v", err)
	}
	if got.RowCount != 1200 || got.InstitutionCount != 45 {
		t.Errorf("counts mismatch: got %d/%d", got.RowCount, got.InstitutionCount)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at mismatch: got %v, want %v", got.CreatedAt, created)
	}
	if got.Duration != 250*time.Millisecond {
		t.Errorf("duration mismatch: got %v", got.Duration)
	}
	if got.ObjectPath != nil {
		t.Errorf("expected no object path, got %s", *got.ObjectPath)
	}
}

func TestCatalog_DuplicateBuildID(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	if err := c.RecordBuild(ctx, record("dup", time.Now())); err != nil {
		t.Fatal(err)
	}
	err := c.RecordBuild(ctx, record("dup", time.Now()))
	if errors.GetCode(err) != errors.CodeCatalogWriteFailed {
		t.Errorf("expected CATALOG_WRITE_FAILED, got %v", err)
	}
}

func TestCatalog_GetMissingBuild(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.GetBuild(context.Background(), "nope")
	if errors.GetCode(err) != errors.CodeCatalogReadFailed {
		t.Errorf("expected CATALOG_READ_FAILED, got %v", err)
	}
}

func TestCatalog_RecentBuildsNewestFirst(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	base := time.Unix(1717000000, 0)

	for i, id := range []string{"a", "b", "c"} {
		if err := c.RecordBuild(ctx, record(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	builds, err := c.RecentBuilds(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(builds) != 2 {
		t.Fatalf("expected 2 builds, got %d", len(builds))
	}
	if builds[0].BuildID != "c" || builds[1].BuildID != "b" {
		t.Errorf("unexpected order: %s, %s", builds[0].BuildID, builds[1].BuildID)
	}
}

func TestCatalog_MarkPublished(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	if err := c.RecordBuild(ctx, record("p-1", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := c.MarkPublished(ctx, "p-1", "snapshots/abc123.json.sz"); err != nil {
		t.Fatalf("failed to mark published: %v", err)
	}
	got, err := c.GetBuild(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ObjectPath == nil || *got.ObjectPath != "snapshots/abc123.json.sz" {
		t.Errorf("unexpected object path: %v", got.ObjectPath)
	}

	if err := c.MarkPublished(ctx, "missing", "x"); err == nil {
		t.Error("expected error for unknown build")
	}
}

func TestCatalog_OnBuild(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	tbl := table.New([]string{"Nombre Institución"})
	_ = tbl.Append([]interface{}{"IE 1"})
	snap := &cache.Snapshot{
		Source:      cache.SourceInfo{Path: "x.xlsx", ModTime: time.Unix(1717000000, 0)},
		LastUpdate:  time.Unix(1717000100, 0),
		Table:       tbl,
		Aggregates:  query.Aggregate(tbl),
		Fingerprint: "f00d",
	}

	ev := cache.BuildEvent{ID: "ev-1", Reason: cache.ReasonForced, Snapshot: snap, Payload: []byte("{}")}
	if err := c.OnBuild(ctx, ev); err != nil {
		t.Fatalf("OnBuild failed: %v", err)
	}

	got, err := c.GetBuild(ctx, "ev-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Fingerprint != "f00d" || got.RowCount != 1 || got.InstitutionCount != 1 || got.SizeBytes != 2 {
		t.Errorf("unexpected record: %+v", got)
	}
}
