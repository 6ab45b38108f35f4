package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps one document per account at <dir>/<accountID>.json.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(accountID string) string {
	return filepath.Join(s.dir, accountID+".json")
}

// Save writes doc to a temporary file, syncs it and renames it over the
// previous document, so a crash leaves either the old or the new version.
func (s *FileStore) Save(ctx context.Context, accountID string, doc []byte) error {
	if err := validID(accountID); err != nil {
		return persistErr("save", accountID, err)
	}
	if err := ctx.Err(); err != nil {
		return persistErr("save", accountID, err)
	}

	tmp, err := os.CreateTemp(s.dir, accountID+".*.tmp")
	if err != nil {
		return persistErr("save", accountID, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		return persistErr("save", accountID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return persistErr("save", accountID, err)
	}
	if err := tmp.Close(); err != nil {
		return persistErr("save", accountID, err)
	}
	if err := os.Rename(tmpName, s.path(accountID)); err != nil {
		return persistErr("save", accountID, err)
	}
	return nil
}

// Load returns the saved document or ErrNotFound.
func (s *FileStore) Load(ctx context.Context, accountID string) ([]byte, error) {
	if err := validID(accountID); err != nil {
		return nil, persistErr("load", accountID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, persistErr("load", accountID, err)
	}

	data, err := os.ReadFile(s.path(accountID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistErr("load", accountID, ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("load", accountID, err)
	}
	return data, nil
}
