// Package blobstore persists serialized passport exports. It defines the
// Store interface with a filesystem implementation, a MinIO/S3
// implementation, and an in-memory implementation for tests and development.
package blobstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
	ErrInvalidName  = errors.New("invalid blob name")
)

// MaxFileSize is the maximum allowed blob size in bytes (100 MB).
const MaxFileSize = 100 * 1024 * 1024

// Metadata describes a stored blob.
type Metadata struct {
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the contract for export sinks. Put overwrites any existing blob
// of the same name and returns where it was written.
type Store interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
	Get(ctx context.Context, name string) ([]byte, *Metadata, error)
}

// checkBlob validates a name and payload size before any write.
func checkBlob(name string, data []byte) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if len(data) > MaxFileSize {
		return ErrFileTooLarge
	}
	return nil
}

func newMetadata(name, contentType string, data []byte) Metadata {
	return Metadata{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        fmt.Sprintf("%x", sha256.Sum256(data)),
		CreatedAt:   time.Now().UTC(),
	}
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	metadata Metadata
	content  []byte
}

// InMemoryStore is a thread-safe, in-memory Store for testing/dev.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{blobs: make(map[string]*storedBlob)}
}

func (s *InMemoryStore) Put(_ context.Context, name, contentType string, data []byte) (string, error) {
	if err := checkBlob(name, data); err != nil {
		return "", err
	}
	content := make([]byte, len(data))
	copy(content, data)

	s.mu.Lock()
	s.blobs[name] = &storedBlob{metadata: newMetadata(name, contentType, data), content: content}
	s.mu.Unlock()

	return "mem://" + name, nil
}

func (s *InMemoryStore) Get(_ context.Context, name string) ([]byte, *Metadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[name]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := blob.metadata // copy
	out := make([]byte, len(blob.content))
	copy(out, blob.content)
	return out, &meta, nil
}

// Len reports the number of stored blobs.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// ---------------------------------------------------------------------------
// Filesystem implementation
// ---------------------------------------------------------------------------

// FileStore writes blobs as plain files under a single directory. The
// directory is created on first write.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Put writes data to a temp file in the target directory and renames it
// into place so readers never observe a partial export.
func (s *FileStore) Put(ctx context.Context, name, _ string, data []byte) (string, error) {
	if err := checkBlob(name, data); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}

	target := filepath.Join(s.dir, name)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return target, nil
}

func (s *FileStore) Get(ctx context.Context, name string) ([]byte, *Metadata, error) {
	if err := checkBlob(name, nil); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", name, err)
	}
	meta := newMetadata(name, contentTypeFor(name), data)
	if fi, err := os.Stat(path); err == nil {
		meta.CreatedAt = fi.ModTime().UTC()
	}
	return data, &meta, nil
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/json"
	case ".xml":
		return "application/xml"
	}
	return "application/octet-stream"
}
