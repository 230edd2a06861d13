package updates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/MrSnakeDoc/exposure/internal/domain"
	"github.com/MrSnakeDoc/exposure/internal/utils"
)

// CacheFileName is the snapshot file kept in the data directory.
const CacheFileName = "image-updates-cache.json"

// SnapshotStore persists the last good snapshot across restarts.
// Load returns nil, nil when nothing was stored yet.
type SnapshotStore interface {
	Load(ctx context.Context) (*domain.ImageUpdateSnapshot, error)
	Save(ctx context.Context, snap *domain.ImageUpdateSnapshot) error
}

// FileStore keeps the snapshot as a JSON file.
type FileStore struct {
	path string
}

// NewFileStore stores the snapshot under dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, CacheFileName)}
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the snapshot. A missing or undecodable file counts as empty.
func (s *FileStore) Load(_ context.Context) (*domain.ImageUpdateSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read image update cache: %w", err)
	}

	var snap domain.ImageUpdateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil
	}
	if snap.CheckedAt.IsZero() {
		return nil, nil
	}
	return &snap, nil
}

// Save replaces the snapshot file atomically.
func (s *FileStore) Save(_ context.Context, snap *domain.ImageUpdateSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal image update cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := utils.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write image update cache: %w", err)
	}
	return nil
}
