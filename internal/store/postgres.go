package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresSchema creates the table used by PostgresStore.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS account_states (
    account_id TEXT PRIMARY KEY,
    document   BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Querier is the subset of pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps documents in the account_states table.
type PostgresStore struct {
	db Querier
}

// NewPostgresStore constructs a Postgres-backed store. The table must exist,
// see PostgresSchema.
func NewPostgresStore(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, accountID string, doc []byte) error {
	if err := validID(accountID); err != nil {
		return persistErr("save", accountID, err)
	}
	_, err := s.db.Exec(ctx, `INSERT INTO account_states (account_id, document, updated_at)
        VALUES ($1, $2, now())
        ON CONFLICT (account_id) DO UPDATE SET document = EXCLUDED.document, updated_at = now()`,
		accountID, doc)
	if err != nil {
		return persistErr("save", accountID, err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, accountID string) ([]byte, error) {
	if err := validID(accountID); err != nil {
		return nil, persistErr("load", accountID, err)
	}
	var doc []byte
	if err := s.db.QueryRow(ctx, `SELECT document FROM account_states WHERE account_id = $1`, accountID).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, persistErr("load", accountID, ErrNotFound)
		}
		return nil, persistErr("load", accountID, err)
	}
	return doc, nil
}
