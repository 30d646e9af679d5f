package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arlo/taskdeck/internal/task"
	_ "modernc.org/sqlite"
)

// Store defines the persistence interface the core operates against.
// Implementations must provide per-record read-then-write atomicity for
// status updates (see ApplyStatus).
type Store interface {
	CreateTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, taskID string) (*task.Task, error)
	// UpdateTask persists all mutable task fields and replaces the
	// dependency list in a single transaction.
	UpdateTask(ctx context.Context, t *task.Task) error
	// ApplyStatus performs a conditional status update plus its lifecycle
	// event in one transaction: the write succeeds only if the stored
	// status still equals from. Returns task.ErrNotFound if the task does
	// not exist and task.ErrStatusConflict if a concurrent writer got
	// there first; in both cases nothing is written.
	ApplyStatus(ctx context.Context, taskID string, from, to task.Status, ev task.Event) error
	DeleteTask(ctx context.Context, taskID string) error
	ListTasks(ctx context.Context) ([]*task.Task, error)
	// FindDependents returns all tasks holding a task-kind dependency on
	// targetTaskID (reverse-edge lookup).
	FindDependents(ctx context.Context, targetTaskID string) ([]*task.Task, error)

	// AppendEvent adds one entry to the task's append-only audit log.
	// Valid for deleted tasks too (cancellation logs on the removed id).
	AppendEvent(ctx context.Context, taskID string, ev task.Event) error
	ListEvents(ctx context.Context, taskID string) ([]task.Event, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode and a busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return initStore(ctx, db)
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Uses a shared cache so multiple connections see the same database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	return initStore(ctx, db)
}

func initStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	// Enable foreign keys via PRAGMA (required for modernc.org/sqlite)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// One writer, one reader for subqueries during list operations
	db.SetMaxOpenConns(2)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
