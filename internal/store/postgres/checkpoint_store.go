package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// CheckpointStore implements domain.CheckpointStore using PostgreSQL. The
// table holds a single row: the poller's resume cursor.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore creates a new CheckpointStore backed by the given connection pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Get returns the last fully ingested cursor.
func (s *CheckpointStore) Get(ctx context.Context) (domain.Cursor, error) {
	var block, logIndex int64
	err := s.pool.QueryRow(ctx,
		`SELECT block, log_index FROM ingest_checkpoint WHERE id = 1`,
	).Scan(&block, &logIndex)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Cursor{}, fmt.Errorf("postgres: checkpoint: %w", domain.ErrNotFound)
		}
		return domain.Cursor{}, fmt.Errorf("postgres: get checkpoint: %w", err)
	}
	return domain.Cursor{Block: uint64(block), LogIndex: uint(logIndex)}, nil
}

// Put stores the ingest resume cursor.
func (s *CheckpointStore) Put(ctx context.Context, c domain.Cursor) error {
	const query = `
		INSERT INTO ingest_checkpoint (id, block, log_index, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET
			block      = EXCLUDED.block,
			log_index  = EXCLUDED.log_index,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, int64(c.Block), int64(c.LogIndex)); err != nil {
		return fmt.Errorf("postgres: put checkpoint %s: %w", c, err)
	}
	return nil
}

var _ domain.CheckpointStore = (*CheckpointStore)(nil)
