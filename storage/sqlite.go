package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteAdapter implements Adapter over SQLite using the pure-Go driver.
// Use ":memory:" for an in-memory database.
//
// The adapter carries at most one in-flight transaction; while it is open,
// Query and Execute route through it.
type SQLiteAdapter struct {
	mu   sync.Mutex
	path string
	db   *sql.DB
	tx   *sql.Tx
}

// NewSQLiteAdapter creates an adapter for the database at path. The
// connection is not established until Connect.
func NewSQLiteAdapter(path string) *SQLiteAdapter {
	return &SQLiteAdapter{path: path}
}

// Connect opens the database and enables WAL mode. Idempotent.
func (s *SQLiteAdapter) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("open sqlite %q: %w", s.path, err)
	}
	// A single connection keeps ":memory:" databases coherent across the
	// pool and serializes writes the way SQLite expects.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite %q: %w", s.path, err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return fmt.Errorf("set WAL mode: %w", err)
	}

	s.db = db
	return nil
}

// Disconnect rolls back any open transaction and closes the database.
func (s *SQLiteAdapter) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	if s.tx != nil {
		s.tx.Rollback()
		s.tx = nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Connected reports whether the database is open.
func (s *SQLiteAdapter) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db != nil
}

// Execute runs a non-returning statement, inside the open transaction if one
// exists.
func (s *SQLiteAdapter) Execute(ctx context.Context, stmt string, args ...any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return 0, ErrNotConnected
	}

	var res sql.Result
	var err error
	if s.tx != nil {
		res, err = s.tx.ExecContext(ctx, stmt, args...)
	} else {
		res, err = s.db.ExecContext(ctx, stmt, args...)
	}
	if err != nil {
		return 0, fmt.Errorf("execute: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// Query runs a returning statement and materializes the result set.
func (s *SQLiteAdapter) Query(ctx context.Context, stmt string, args ...any) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, ErrNotConnected
	}

	var rows *sql.Rows
	var err error
	if s.tx != nil {
		rows, err = s.tx.QueryContext(ctx, stmt, args...)
	} else {
		rows, err = s.db.QueryContext(ctx, stmt, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// BeginTx opens the adapter's single in-flight transaction.
func (s *SQLiteAdapter) BeginTx(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return ErrNotConnected
	}
	if s.tx != nil {
		return ErrTransactionActive
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	s.tx = tx
	return nil
}

// Commit finalizes the open transaction.
func (s *SQLiteAdapter) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return ErrNoActiveTransaction
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback abandons the open transaction.
func (s *SQLiteAdapter) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return ErrNoActiveTransaction
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
