package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist. Timestamps
// are unix nanoseconds.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		namespace TEXT NOT NULL,
		threads INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_runs_namespace_started ON runs(namespace, started_at);

	CREATE TABLE IF NOT EXISTS run_nodes (
		run_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		status INTEGER NOT NULL,
		options TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER,
		finished_at INTEGER,
		PRIMARY KEY (run_id, node_id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS node_dependencies (
		run_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (run_id, node_id, depends_on_id),
		FOREIGN KEY (run_id, node_id) REFERENCES run_nodes(run_id, node_id) ON DELETE CASCADE
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
