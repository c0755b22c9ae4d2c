package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL-backed SnapshotStore. Each learner has one
// row; the version column implements the optimistic write check.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed snapshot store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Load(ctx context.Context, learnerID string) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var data []byte
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT data, version
		 FROM progress_snapshots
		 WHERE learner_id = $1`,
		learnerID,
	).Scan(&data, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("learner %s: %w", learnerID, ErrLearnerNotFound)
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	snap, err := Decode(data)
	if err != nil {
		return nil, err
	}
	snap.Version = version
	return snap, nil
}

func (s *PostgresStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap.LearnerID == "" {
		return fmt.Errorf("learner_id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	expected := snap.Version
	snap.Version = expected + 1
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}
	data, err := Encode(snap)
	if err != nil {
		snap.Version = expected
		return err
	}

	var query string
	args := []any{snap.LearnerID, snap.Version, snap.FormatVersion, snap.CatalogDigest, string(data), snap.UpdatedAt}
	if expected == 0 {
		query = `INSERT INTO progress_snapshots (learner_id, version, format_version, catalog_digest, data, updated_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		 ON CONFLICT (learner_id) DO NOTHING`
	} else {
		query = `UPDATE progress_snapshots
		 SET version = $2, format_version = $3, catalog_digest = $4, data = $5::jsonb, updated_at = $6
		 WHERE learner_id = $1 AND version = $7`
		args = append(args, expected)
	}

	cmd, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		snap.Version = expected
		return fmt.Errorf("save snapshot: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		snap.Version = expected
		return fmt.Errorf("learner %s at version %d: %w", snap.LearnerID, expected, ErrStaleSnapshot)
	}
	return nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
