// Package store persists exported account documents.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when no document was saved for the account.
var ErrNotFound = errors.New("state document not found")

// Store saves and loads the serialized export document of an account. A
// document replaces whatever was saved before it.
type Store interface {
	Save(ctx context.Context, accountID string, doc []byte) error
	Load(ctx context.Context, accountID string) ([]byte, error)
}

// PersistenceError wraps any storage failure. The in-memory account is never
// touched by a failed save or load.
type PersistenceError struct {
	Op        string
	AccountID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s state for %s: %v", e.Op, e.AccountID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistErr(op, accountID string, err error) error {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, AccountID: accountID, Err: err}
}

func validID(accountID string) error {
	if accountID == "" {
		return errors.New("account id is required")
	}
	for _, r := range accountID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("invalid account id %q", accountID)
		}
	}
	return nil
}
