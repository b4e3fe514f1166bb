package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// RawEventStore implements domain.RawEventStore using PostgreSQL.
type RawEventStore struct {
	pool *pgxpool.Pool
}

// NewRawEventStore creates a new RawEventStore backed by the given connection pool.
func NewRawEventStore(pool *pgxpool.Pool) *RawEventStore {
	return &RawEventStore{pool: pool}
}

const rawCols = `tx_hash, log_index, kind, block, block_time, payload`

func scanRawEvent(row pgx.Row) (domain.RawEvent, error) {
	var (
		r        domain.RawEvent
		logIndex int64
		kind     string
		block    int64
		payload  []byte
	)
	if err := row.Scan(&r.TxHash, &logIndex, &kind, &block, &r.BlockTime, &payload); err != nil {
		return domain.RawEvent{}, err
	}
	r.LogIndex = uint(logIndex)
	r.Kind = domain.EventKind(kind)
	r.Block = uint64(block)
	r.Payload = payload
	return r, nil
}

// ListAfter returns rows strictly after the cursor in log order, up to limit.
func (s *RawEventStore) ListAfter(ctx context.Context, after domain.Cursor, limit int) ([]domain.RawEvent, error) {
	query := `SELECT ` + rawCols + ` FROM raw_events
		WHERE (block, log_index) > ($1, $2)
		ORDER BY block, log_index`
	args := []any{int64(after.Block), int64(after.LogIndex)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list raw events after %s: %w", after, err)
	}
	defer rows.Close()
	return collectRawEvents(rows)
}

// ListBeforeBlock returns rows from blocks strictly below the cutoff, in log order.
func (s *RawEventStore) ListBeforeBlock(ctx context.Context, block uint64) ([]domain.RawEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+rawCols+` FROM raw_events WHERE block < $1 ORDER BY block, log_index`,
		int64(block))
	if err != nil {
		return nil, fmt.Errorf("postgres: list raw events before block %d: %w", block, err)
	}
	defer rows.Close()
	return collectRawEvents(rows)
}

// Count returns the total number of mirror rows.
func (s *RawEventStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM raw_events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count raw events: %w", err)
	}
	return count, nil
}

func collectRawEvents(rows pgx.Rows) ([]domain.RawEvent, error) {
	var out []domain.RawEvent
	for rows.Next() {
		r, err := scanRawEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan raw event: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: raw event rows: %w", err)
	}
	return out, nil
}

var _ domain.RawEventStore = (*RawEventStore)(nil)
