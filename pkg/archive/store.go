// Package archive provides content-addressed long-term storage for
// exported audit evidence packs. Backends share one contract: bytes in,
// "sha256:<hex>" reference out, with idempotent writes.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Store is the archive backend contract.
type Store interface {
	// Store persists data and returns its content reference.
	Store(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by its content reference.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Exists reports whether a pack exists for ref.
	Exists(ctx context.Context, ref string) (bool, error)
	// Delete removes the pack for ref. Deleting a missing ref is not
	// an error.
	Delete(ctx context.Context, ref string) error
}

// hashRef computes the content reference for data.
func hashRef(data []byte) (ref string, raw string) {
	sum := sha256.Sum256(data)
	raw = hex.EncodeToString(sum[:])
	return "sha256:" + raw, raw
}

// parseRef validates ref and returns the bare hex hash.
func parseRef(ref string) (string, error) {
	if len(ref) < 8 || ref[:7] != "sha256:" {
		return "", fmt.Errorf("invalid archive ref: %s", ref)
	}
	raw := ref[7:]
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid archive ref hex: %w", err)
	}
	return raw, nil
}

// FileStore is a filesystem-backed archive for single-node deployments.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates an archive rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure archive dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(raw string) string {
	return filepath.Join(s.baseDir, raw+".zip")
}

func (s *FileStore) Store(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, raw := hashRef(data)
	path := s.path(raw)

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	// Write to temp, then rename, so readers never see a partial pack.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write pack: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit pack: %w", err)
	}
	return ref, nil
}

func (s *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(s.path(raw))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("pack not found: %s", ref)
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return io.ReadAll(f)
}

func (s *FileStore) Exists(_ context.Context, ref string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseRef(ref)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(s.path(raw))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *FileStore) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := parseRef(ref)
	if err != nil {
		return err
	}

	if err := os.Remove(s.path(raw)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete pack: %w", err)
	}
	return nil
}
