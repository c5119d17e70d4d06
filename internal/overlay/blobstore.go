package overlay

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// BlobStore is the durable key/value store holding whole cache snapshots.
// Implementations can be in-memory, file-based, or remote. LoadBlob reports
// ok=false when nothing is stored under key.
type BlobStore interface {
	LoadBlob(ctx context.Context, key string) (data []byte, ok bool, err error)
	SaveBlob(ctx context.Context, key string, data []byte) error
}

// MemoryBlobStore is an in-memory implementation of BlobStore.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore returns a new empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

// LoadBlob implements BlobStore.LoadBlob.
func (s *MemoryBlobStore) LoadBlob(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

// SaveBlob implements BlobStore.SaveBlob.
func (s *MemoryBlobStore) SaveBlob(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

// FileBlobStore keeps one file per key under a directory. Writes go to a
// temporary file that is renamed into place.
type FileBlobStore struct {
	dir string
}

// NewFileBlobStore returns a store rooted at dir, creating it if needed.
func NewFileBlobStore(dir string) (*FileBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FileBlobStore{dir: dir}, nil
}

func (s *FileBlobStore) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+".json")
}

// LoadBlob implements BlobStore.LoadBlob.
func (s *FileBlobStore) LoadBlob(_ context.Context, key string) ([]byte, bool, error) {
	b, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// SaveBlob implements BlobStore.SaveBlob.
func (s *FileBlobStore) SaveBlob(_ context.Context, key string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".blob-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(key))
}
