package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/exposure/internal/domain"
)

// DefaultSnapshotTTL keeps an unrefreshed snapshot around for a while after
// it went stale so a restart can still serve it.
const DefaultSnapshotTTL = 30 * 24 * time.Hour

// SnapshotStore mirrors the image update snapshot in Redis.
type SnapshotStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewSnapshotStore creates a Redis backed snapshot store.
// A non-positive ttl uses DefaultSnapshotTTL.
func NewSnapshotStore(client redis.Cmdable, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotStore{client: client, ttl: ttl}
}

// Load returns the stored snapshot, or nil when none exists.
func (s *SnapshotStore) Load(ctx context.Context) (*domain.ImageUpdateSnapshot, error) {
	data, err := s.client.Get(ctx, SnapshotKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get image update snapshot: %w", err)
	}

	var snap domain.ImageUpdateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal image update snapshot: %w", err)
	}
	if snap.CheckedAt.IsZero() {
		return nil, nil
	}
	return &snap, nil
}

// Save replaces the stored snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snap *domain.ImageUpdateSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal image update snapshot: %w", err)
	}
	if err := s.client.Set(ctx, SnapshotKey(), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save image update snapshot: %w", err)
	}
	return nil
}

// Delete removes the stored snapshot.
func (s *SnapshotStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, SnapshotKey()).Err(); err != nil {
		return fmt.Errorf("failed to delete image update snapshot: %w", err)
	}
	return nil
}
