package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/simpletasks/simpletasks/internal/scheduler"
)

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
)

// Run is one recorded orchestrator or pipeline execution.
type Run struct {
	ID        string
	Namespace string
	Threads   int
	Status    RunStatus
	Error     string
	Started   time.Time
	Finished  time.Time // zero while running
	Nodes     []NodeRecord
}

// NodeRecord is the recorded state of one node of a run.
type NodeRecord struct {
	ID        string
	DependsOn []string
	Status    scheduler.Status
	Options   string // rendered effective options once the node ran
	Result    string
	Error     string
	Started   time.Time
	Finished  time.Time
}

// Store is the execution history. It receives runs as a scheduler.Recorder
// and answers queries about them.
type Store interface {
	scheduler.Recorder

	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, namespace string, limit int) ([]Run, error)
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite applies _pragma parameters to every new connection.
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", dbPath)
	return open(ctx, connStr, 2)
}

// NewMemoryStore creates an in-memory SQLite store for testing. Each store
// gets its own named database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	return open(ctx, connStr, 1)
}

func open(ctx context.Context, connStr string, maxConns int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64)
}
