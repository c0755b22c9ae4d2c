package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const dbTimeout = 5 * time.Second

// SnapshotStore persists learner snapshots as whole-tree replacements.
//
// Save expects snap.Version to be the version that was loaded (0 for a new
// learner). When the stored version differs it returns ErrStaleSnapshot and
// writes nothing; otherwise it stores the snapshot at Version+1 and updates
// snap.Version.
type SnapshotStore interface {
	Load(ctx context.Context, learnerID string) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	HealthCheck(ctx context.Context) error
}

// MemoryStore is an in-memory implementation of SnapshotStore. Snapshots are
// kept encoded so callers never share state with the store.
type MemoryStore struct {
	snapshots map[string][]byte
	versions  map[string]int64
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string][]byte),
		versions:  make(map[string]int64),
	}
}

func (s *MemoryStore) Load(_ context.Context, learnerID string) (*Snapshot, error) {
	s.mu.RLock()
	data, ok := s.snapshots[learnerID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("learner %s: %w", learnerID, ErrLearnerNotFound)
	}
	return Decode(data)
}

func (s *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	if snap.LearnerID == "" {
		return fmt.Errorf("learner_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.versions[snap.LearnerID] != snap.Version {
		return fmt.Errorf("learner %s at version %d: %w", snap.LearnerID, snap.Version, ErrStaleSnapshot)
	}

	snap.Version++
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}
	data, err := Encode(snap)
	if err != nil {
		snap.Version--
		return err
	}
	s.snapshots[snap.LearnerID] = data
	s.versions[snap.LearnerID] = snap.Version
	return nil
}

func (s *MemoryStore) HealthCheck(context.Context) error {
	return nil
}
