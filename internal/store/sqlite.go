// Stores collections in a SQLite database.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // Registers the "sqlite" driver.
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL,
	id INTEGER NOT NULL,
	data TEXT NOT NULL,
	PRIMARY KEY (collection, id)
)`

// OpenSQLite opens or creates the SQLite database at path and ensures the
// records table exists.
//
// The caller owns the returned database and must close it.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	// A single connection avoids SQLITE_BUSY between concurrent writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create records table: %w", err)
	}
	return db, nil
}

// SQLite is a Backend storing each record as a JSON row of the records table.
type SQLite[T Row[T]] struct {
	db         *sql.DB
	collection string
}

// NewSQLite returns a backend for collection in db. db must come from
// OpenSQLite.
func NewSQLite[T Row[T]](db *sql.DB, collection string) *SQLite[T] {
	return &SQLite[T]{db: db, collection: collection}
}

// Load implements Backend.
func (s *SQLite[T]) Load(ctx context.Context) ([]T, error) {
	rs, err := s.db.QueryContext(ctx, "SELECT data FROM records WHERE collection = ? ORDER BY id", s.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.collection, err)
	}
	defer func() { _ = rs.Close() }()
	rows := []T{}
	for rs.Next() {
		var data string
		if err := rs.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", s.collection, err)
		}
		var row T
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			return nil, fmt.Errorf("failed to decode %s row: %w", s.collection, err)
		}
		rows = append(rows, row)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.collection, err)
	}
	return rows, nil
}

// Save implements Backend. The collection is replaced in one transaction.
func (s *SQLite[T]) Save(ctx context.Context, rows []T) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE collection = ?", s.collection); err != nil {
		return fmt.Errorf("failed to clear %s: %w", s.collection, err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO records (collection, id, data) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to encode %s/%d: %w", s.collection, row.GetID(), err)
		}
		if _, err := stmt.ExecContext(ctx, s.collection, row.GetID(), string(data)); err != nil {
			return fmt.Errorf("failed to insert %s/%d: %w", s.collection, row.GetID(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", s.collection, err)
	}
	return nil
}
