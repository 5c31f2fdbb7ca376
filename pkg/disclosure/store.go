package disclosure

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Jovells/dchain/pkg/commitment"
)

// ErrBlobNotFound is returned when no document is stored under a digest.
var ErrBlobNotFound = errors.New("disclosure not found")

// BlobStore is content-addressed storage keyed by the Keccak-256 digest of
// the stored bytes, which for route documents is the route commitment.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (commitment.Digest, error)
	Get(ctx context.Context, digest commitment.Digest) ([]byte, error)
	Exists(ctx context.Context, digest commitment.Digest) (bool, error)
}

func objectName(prefix string, d commitment.Digest) string {
	return prefix + strings.TrimPrefix(d.Hex(), "0x") + ".json"
}

// FileStore is a filesystem-backed BlobStore.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: shared data directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure disclosure dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(_ context.Context, data []byte) (commitment.Digest, error) {
	digest := commitment.Sum(data)
	path := filepath.Join(s.baseDir, objectName("", digest))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(path); err == nil {
		return digest, nil
	}

	// Write to temp, then rename
	tmpPath := path + ".tmp"
	//nolint:gosec // G306: documents are disclosed on purpose
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return commitment.Digest{}, fmt.Errorf("failed to write disclosure: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return commitment.Digest{}, fmt.Errorf("failed to commit disclosure: %w", err)
	}
	return digest, nil
}

func (s *FileStore) Get(_ context.Context, digest commitment.Digest) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(filepath.Join(s.baseDir, objectName("", digest)))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, digest)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, digest commitment.Digest) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := os.Stat(filepath.Join(s.baseDir, objectName("", digest)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
