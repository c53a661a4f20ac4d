package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/simpletasks/simpletasks/internal/scheduler"
)

// BeginRun stores a new run and its nodes, all pending.
func (s *SQLiteStore) BeginRun(ctx context.Context, info scheduler.RunInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, namespace, threads, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, info.ID, info.Namespace, info.Threads, string(RunRunning), toNanos(info.Started))
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", info.ID, err)
	}

	for i, n := range info.Nodes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_nodes (run_id, node_id, position, status, options)
			VALUES (?, ?, ?, ?, ?)
		`, info.ID, n.ID, i, int(scheduler.StatusPending), n.Options.String())
		if err != nil {
			return fmt.Errorf("failed to insert node %s: %w", n.ID, err)
		}

		for j, dep := range n.DependsOn {
			_, err = tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO node_dependencies (run_id, node_id, position, depends_on_id)
				VALUES (?, ?, ?, ?)
			`, info.ID, n.ID, j, dep)
			if err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", n.ID, dep, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// StartTask marks a node of a started run as running.
func (s *SQLiteStore) StartTask(ctx context.Context, runID string, rec scheduler.Record) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE run_nodes
		SET status = ?, options = ?, started_at = ?
		WHERE run_id = ? AND node_id = ?
	`, int(scheduler.StatusRunning), rec.Options.String(), toNanos(rec.Started), runID, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to start node %s: %w", rec.ID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("node not found: run %s has no node %s", runID, rec.ID)
	}
	return nil
}

// RecordTask stores the execution record of a node of a started run.
func (s *SQLiteStore) RecordTask(ctx context.Context, runID string, rec scheduler.Record) error {
	result := ""
	if rec.Value != nil {
		result = fmt.Sprint(rec.Value)
	}
	errorStr := ""
	if rec.Err != nil {
		errorStr = rec.Err.Error()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE run_nodes
		SET status = ?, options = ?, result = ?, error = ?, started_at = ?, finished_at = ?
		WHERE run_id = ? AND node_id = ?
	`, int(rec.Status()), rec.Options.String(), result, errorStr, toNanos(rec.Started), toNanos(rec.Finished), runID, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to record node %s: %w", rec.ID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("node not found: run %s has no node %s", runID, rec.ID)
	}
	return nil
}

// FinishRun stores the final state of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, out *scheduler.Outcome) error {
	status := RunCompleted
	switch {
	case len(out.Failures) > 0:
		status = RunFailed
	case out.Interrupted != nil:
		status = RunInterrupted
	}
	errorStr := ""
	if err := out.Err(); err != nil {
		errorStr = err.Error()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?
	`, string(status), errorStr, toNanos(out.Finished), out.RunID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", out.RunID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", out.RunID)
	}
	return nil
}

// GetRun retrieves a run with its nodes in insertion order.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	run := &Run{}
	var started, finished sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, namespace, threads, status, error, started_at, finished_at
		FROM runs
		WHERE id = ?
	`, runID).Scan(&run.ID, &run.Namespace, &run.Threads, &run.Status, &run.Error, &started, &finished)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	run.Started, run.Finished = fromNanos(started), fromNanos(finished)

	if run.Nodes, err = s.nodes(ctx, runID); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) nodes(ctx context.Context, runID string) ([]NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, status, options, result, error, started_at, finished_at
		FROM run_nodes
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}

	var nodes []NodeRecord
	index := make(map[string]int)
	for rows.Next() {
		var n NodeRecord
		var started, finished sql.NullInt64
		if err := rows.Scan(&n.ID, &n.Status, &n.Options, &n.Result, &n.Error, &started, &finished); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		n.Started, n.Finished = fromNanos(started), fromNanos(finished)
		index[n.ID] = len(nodes)
		nodes = append(nodes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	// Loaded after the node rows are closed; the memory store has a single connection.
	depRows, err := s.db.QueryContext(ctx, `
		SELECT node_id, depends_on_id
		FROM node_dependencies
		WHERE run_id = ?
		ORDER BY node_id, position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer depRows.Close()

	for depRows.Next() {
		var nodeID, depID string
		if err := depRows.Scan(&nodeID, &depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		if i, ok := index[nodeID]; ok {
			nodes[i].DependsOn = append(nodes[i].DependsOn, depID)
		}
	}
	if err := depRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}

	return nodes, nil
}

// ListRuns returns the most recent runs first, without their nodes. An empty
// namespace lists every run; a limit of zero or less lists them all.
func (s *SQLiteStore) ListRuns(ctx context.Context, namespace string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, threads, status, error, started_at, finished_at
		FROM runs
		WHERE ? = '' OR namespace = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, namespace, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Namespace, &r.Threads, &r.Status, &r.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Started, r.Finished = fromNanos(started), fromNanos(finished)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Prune deletes runs started before the given time, with their nodes, and
// reports how many runs were removed.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}
