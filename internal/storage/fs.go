package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FSEngine stores artefact bytes as plain files under root, sharded by
// the first two hex characters of the hash.
type FSEngine struct {
	root string
}

// NewFSEngine builds an FSEngine rooted at root, creating it if absent.
func NewFSEngine(root string) (*FSEngine, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating root %s: %w", root, err)
	}
	return &FSEngine{root: root}, nil
}

func (e *FSEngine) path(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(e.root, hash, hash)
	}
	return filepath.Join(e.root, hash[:2], hash)
}

// Get reads the file for hash.
func (e *FSEngine) Get(ctx context.Context, hash string) ([]byte, error) {
	data, err := os.ReadFile(e.path(hash))
	if os.IsNotExist(err) {
		return nil, &ErrNotFound{Hash: hash}
	}
	return data, err
}

// Put writes data to a tempfile in the shard directory and renames it
// into place, so a reader never observes a partial write.
func (e *FSEngine) Put(ctx context.Context, hash string, data []byte) error {
	dir := filepath.Dir(e.path(hash))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, hash+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, e.path(hash))
}
