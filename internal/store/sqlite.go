package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var sqliteSchema string

// OpenSQLite opens (creating if needed) the SQLite database at path and
// ensures the account_states table exists.
func OpenSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=busy_timeout(5000)"+
		"&_pragma=synchronous(FULL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return db, nil
}

// SQLiteStore keeps documents in the account_states table of a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps a database opened with OpenSQLite.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Save(ctx context.Context, accountID string, doc []byte) error {
	if err := validID(accountID); err != nil {
		return persistErr("save", accountID, err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO account_states (account_id, document, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (account_id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		accountID, doc, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return persistErr("save", accountID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, accountID string) ([]byte, error) {
	if err := validID(accountID); err != nil {
		return nil, persistErr("load", accountID, err)
	}
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM account_states WHERE account_id = ?`, accountID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistErr("load", accountID, ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("load", accountID, err)
	}
	return doc, nil
}
