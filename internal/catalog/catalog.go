package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/deportes-escolares/inscripciones/internal/cache"
	"github.com/deportes-escolares/inscripciones/internal/errors"
)

// Catalog records snapshot builds.
type Catalog interface {
	// RecordBuild stores one build.
	RecordBuild(ctx context.Context, rec *BuildRecord) error

	// MarkPublished sets the object path a build was uploaded to.
	MarkPublished(ctx context.Context, buildID, objectPath string) error

	// GetBuild retrieves a single build by ID.
	GetBuild(ctx context.Context, buildID string) (*BuildRecord, error)

	// RecentBuilds returns up to limit builds, newest first.
	RecentBuilds(ctx context.Context, limit int) ([]*BuildRecord, error)

	// Close closes the catalog database connection.
	Close() error
}

// BuildRecord is one row of the build history.
type BuildRecord struct {
	BuildID          string        `json:"build_id"`
	Reason           string        `json:"reason"`
	SourcePath       string        `json:"source_path"`
	SourceModified   time.Time     `json:"source_modified"`
	Fingerprint      string        `json:"fingerprint"`
	RowCount         int64         `json:"row_count"`
	InstitutionCount int64         `json:"institution_count"`
	SizeBytes        int64         `json:"size_bytes"`
	Duration         time.Duration `json:"duration"`
	CreatedAt        time.Time     `json:"created_at"`
	ObjectPath       *string       `json:"object_path,omitempty"`
}

// RecordFromEvent converts a cache build event into a build record.
func RecordFromEvent(ev cache.BuildEvent) *BuildRecord {
	s := ev.Snapshot
	return &BuildRecord{
		BuildID:          ev.ID,
		Reason:           ev.Reason,
		SourcePath:       s.Source.Path,
		SourceModified:   s.Source.ModTime,
		Fingerprint:      s.Fingerprint,
		RowCount:         s.Aggregates.Totals.Students,
		InstitutionCount: s.Aggregates.Totals.Institutions,
		SizeBytes:        int64(len(ev.Payload)),
		Duration:         ev.Duration,
		CreatedAt:        s.LastUpdate,
	}
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)

	insertBuildStmt *sql.Stmt
}

// NewCatalog opens (creating if needed) the catalog at dbPath.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	catalog := &SQLiteCatalog{
		db:     db,
		dbPath: dbPath,
	}

	// Schema first so the read pool always opens an existing file
	if err := catalog.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	catalog.readDB = readDB

	insertStmt, err := db.Prepare(`
		INSERT INTO builds (
			build_id, reason, source_path, source_modified, fingerprint,
			row_count, institution_count, size_bytes, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("catalog: failed to prepare insert statement: %w", err)
	}
	catalog.insertBuildStmt = insertStmt

	return catalog, nil
}

// initSchema creates all required tables and indexes.
func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// RecordBuild stores one build.
func (c *SQLiteCatalog) RecordBuild(ctx context.Context, rec *BuildRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.insertBuildStmt.ExecContext(ctx,
		rec.BuildID, rec.Reason, rec.SourcePath, rec.SourceModified.UnixNano(), rec.Fingerprint,
		rec.RowCount, rec.InstitutionCount, rec.SizeBytes, rec.Duration.Milliseconds(),
		rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return errors.NewCatalogError(errors.CodeCatalogWriteFailed, "failed to insert build", err)
	}
	return nil
}

// MarkPublished sets the object path of a build.
func (c *SQLiteCatalog) MarkPublished(ctx context.Context, buildID, objectPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx,
		"UPDATE builds SET object_path = ? WHERE build_id = ?", objectPath, buildID)
	if err != nil {
		return errors.NewCatalogError(errors.CodeCatalogWriteFailed, "failed to mark build published", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewCatalogError(errors.CodeCatalogWriteFailed, "failed to mark build published", err)
	}
	if n == 0 {
		return errors.NewCatalogError(errors.CodeCatalogWriteFailed,
			fmt.Sprintf("build %s not found", buildID), nil)
	}
	return nil
}

const selectBuildColumns = `build_id, reason, source_path, source_modified, fingerprint,
	row_count, institution_count, size_bytes, duration_ms, created_at, object_path`

// GetBuild retrieves a single build by ID.
func (c *SQLiteCatalog) GetBuild(ctx context.Context, buildID string) (*BuildRecord, error) {
	row := c.readDB.QueryRowContext(ctx,
		"SELECT "+selectBuildColumns+" FROM builds WHERE build_id = ?", buildID)
	rec, err := scanBuild(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewCatalogError(errors.CodeCatalogReadFailed,
			fmt.Sprintf("build %s not found", buildID), err)
	}
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeCatalogReadFailed, "failed to read build", err)
	}
	return rec, nil
}

// RecentBuilds returns up to limit builds, newest first.
func (c *SQLiteCatalog) RecentBuilds(ctx context.Context, limit int) ([]*BuildRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.readDB.QueryContext(ctx,
		"SELECT "+selectBuildColumns+" FROM builds ORDER BY created_at DESC, build_id LIMIT ?", limit)
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeCatalogReadFailed, "failed to query builds", err)
	}
	defer rows.Close()

	records := make([]*BuildRecord, 0)
	for rows.Next() {
		rec, err := scanBuild(rows)
		if err != nil {
			return nil, errors.NewCatalogError(errors.CodeCatalogReadFailed, "failed to scan build", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewCatalogError(errors.CodeCatalogReadFailed, "failed to iterate builds", err)
	}
	return records, nil
}

// OnBuild records a cache build event, satisfying cache.Listener.
func (c *SQLiteCatalog) OnBuild(ctx context.Context, ev cache.BuildEvent) error {
	return c.RecordBuild(ctx, RecordFromEvent(ev))
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	if c.insertBuildStmt != nil {
		c.insertBuildStmt.Close()
	}
	if c.readDB != nil {
		c.readDB.Close()
	}
	return c.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBuild(s scanner) (*BuildRecord, error) {
	var (
		rec                       BuildRecord
		sourceModified, createdAt int64
		durationMs                int64
		objectPath                sql.NullString
	)
	if err := s.Scan(&rec.BuildID, &rec.Reason, &rec.SourcePath, &sourceModified, &rec.Fingerprint,
		&rec.RowCount, &rec.InstitutionCount, &rec.SizeBytes, &durationMs, &createdAt, &objectPath); err != nil {
		return nil, err
	}
	rec.SourceModified = time.Unix(0, sourceModified)
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	if objectPath.Valid {
		p := objectPath.String
		rec.ObjectPath = &p
	}
	return &rec, nil
}
