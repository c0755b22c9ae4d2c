package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/p-n-ai/skoolup/internal/platform/cache"
)

// CachedStore is a read-through, write-through cache in front of another
// SnapshotStore. The backend stays authoritative for the version check.
// Cache writes only ever move a learner's entry to a newer version, so
// instances racing on the same learner cannot roll the cache back. Cache
// failures are logged and otherwise ignored.
type CachedStore struct {
	backend SnapshotStore
	cache   *cache.Cache
}

// NewCachedStore wraps backend with a Redis cache.
func NewCachedStore(backend SnapshotStore, c *cache.Cache) *CachedStore {
	return &CachedStore{backend: backend, cache: c}
}

func snapshotKey(learnerID string) string {
	return cache.Key("snapshot", learnerID)
}

func (s *CachedStore) Load(ctx context.Context, learnerID string) (*Snapshot, error) {
	data, ok, err := s.cache.Get(ctx, snapshotKey(learnerID))
	switch {
	case err != nil:
		slog.Warn("snapshot cache read failed", "learner_id", learnerID, "error", err)
	case ok:
		snap, decodeErr := Decode(data)
		if decodeErr == nil {
			return snap, nil
		}
		slog.Warn("dropping undecodable cached snapshot", "learner_id", learnerID, "error", decodeErr)
		s.evict(ctx, learnerID)
	}

	snap, err := s.backend.Load(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	s.put(ctx, snap)
	return snap, nil
}

func (s *CachedStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := s.backend.Save(ctx, snap); err != nil {
		if errors.Is(err, ErrStaleSnapshot) {
			s.evict(ctx, snap.LearnerID)
		}
		return err
	}
	s.put(ctx, snap)
	return nil
}

func (s *CachedStore) HealthCheck(ctx context.Context) error {
	if err := s.cache.HealthCheck(ctx); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return s.backend.HealthCheck(ctx)
}

func (s *CachedStore) put(ctx context.Context, snap *Snapshot) {
	data, err := Encode(snap)
	if err != nil {
		slog.Warn("snapshot cache encode failed", "learner_id", snap.LearnerID, "error", err)
		return
	}
	written, err := s.cache.SetVersioned(ctx, snapshotKey(snap.LearnerID), snap.Version, data)
	if err != nil {
		slog.Warn("snapshot cache write failed", "learner_id", snap.LearnerID, "error", err)
		return
	}
	if !written {
		slog.Debug("cache holds a newer snapshot", "learner_id", snap.LearnerID, "version", snap.Version)
	}
}

func (s *CachedStore) evict(ctx context.Context, learnerID string) {
	if err := s.cache.Invalidate(ctx, snapshotKey(learnerID)); err != nil {
		slog.Warn("snapshot cache evict failed", "learner_id", learnerID, "error", err)
	}
}
