// Package catalog keeps the history of snapshot builds in SQLite.
package catalog

// CreateBuildsTableSQL creates the build history table.
const CreateBuildsTableSQL = `
CREATE TABLE IF NOT EXISTS builds (
    build_id TEXT PRIMARY KEY,
    reason TEXT NOT NULL,
    source_path TEXT NOT NULL,
    source_modified INTEGER NOT NULL,
    fingerprint TEXT NOT NULL,
    row_count INTEGER NOT NULL,
    institution_count INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    object_path TEXT
)`

// CreateBuildsIndexesSQL creates indexes for the history queries.
var CreateBuildsIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_builds_created ON builds(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_builds_fingerprint ON builds(fingerprint)`,
}

// AllSchemaSQL returns every schema statement in execution order.
func AllSchemaSQL() []string {
	stmts := []string{CreateBuildsTableSQL}
	return append(stmts, CreateBuildsIndexesSQL...)
}
