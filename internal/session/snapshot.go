// Package session owns a learner's progression state: it persists whole-tree
// snapshots, serializes writers per learner, and emits progress events.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/p-n-ai/skoolup/internal/curriculum"
	"github.com/p-n-ai/skoolup/internal/learner"
)

// FormatVersion is the snapshot layout written by this code.
const FormatVersion = 1

var (
	// ErrLearnerNotFound means no snapshot exists for the learner.
	ErrLearnerNotFound = errors.New("learner not found")
	// ErrStaleSnapshot means the snapshot was modified since it was read.
	ErrStaleSnapshot = errors.New("stale snapshot")
	// ErrUnsupportedFormat means the stored snapshot uses an unknown layout.
	ErrUnsupportedFormat = errors.New("unsupported snapshot format")
)

// Snapshot is the persisted state of one learner session. Version increases
// by one on every successful save.
type Snapshot struct {
	FormatVersion int             `json:"format_version"`
	Version       int64           `json:"version"`
	LearnerID     string          `json:"learner_id"`
	CatalogDigest string          `json:"catalog_digest,omitempty"`
	Learner       learner.Profile `json:"learner"`
	Curriculum    curriculum.Tree `json:"curriculum"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Encode serializes a snapshot.
func Encode(s *Snapshot) ([]byte, error) {
	if s.FormatVersion == 0 {
		s.FormatVersion = FormatVersion
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot and rejects layouts it does not understand.
func Decode(data []byte) (*Snapshot, error) {
	var head struct {
		FormatVersion int `json:"format_version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if head.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("format_version %d: %w", head.FormatVersion, ErrUnsupportedFormat)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Curriculum == nil {
		s.Curriculum = curriculum.Tree{}
	}
	return &s, nil
}
