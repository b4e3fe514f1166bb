package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// AggregateStore implements domain.AggregateStore on a pgx pool. Each InTx
// call maps to one database transaction, so an event's mirror row and every
// aggregate mutation commit or roll back together.
type AggregateStore struct {
	pool *pgxpool.Pool
}

// NewAggregateStore creates an AggregateStore backed by the given pool.
func NewAggregateStore(pool *pgxpool.Pool) *AggregateStore {
	return &AggregateStore{pool: pool}
}

// InTx implements domain.AggregateStore.
func (s *AggregateStore) InTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	if err := fn(&aggTx{tx: pgtx}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// aggTx implements domain.Tx over a live pgx transaction. Reads naturally see
// prior writes in the same transaction, which gives the read-your-writes
// semantics the fold relies on.
type aggTx struct {
	tx pgx.Tx
}

func (t *aggTx) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: market %s: %w", id, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

func (t *aggTx) PutMarket(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, event_id, total_locked, outcome_locked, outcome_prices,
			total_shares, settled, final_outcome, last_block, last_log_index, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
			event_id       = EXCLUDED.event_id,
			total_locked   = EXCLUDED.total_locked,
			outcome_locked = EXCLUDED.outcome_locked,
			outcome_prices = EXCLUDED.outcome_prices,
			total_shares   = EXCLUDED.total_shares,
			settled        = EXCLUDED.settled,
			final_outcome  = EXCLUDED.final_outcome,
			last_block     = EXCLUDED.last_block,
			last_log_index = EXCLUDED.last_log_index,
			updated_at     = NOW()`

	_, err := t.tx.Exec(ctx, query,
		m.ID, numericFromBig(m.EventID), numericFromBig(m.TotalLocked),
		numericsFromBigs(m.OutcomeLocked), numericsFromBigs(m.OutcomePrices),
		numericFromBig(m.TotalShares), m.Settled, m.FinalOutcome,
		int64(m.LastApplied.Block), int64(m.LastApplied.LogIndex),
	)
	if err != nil {
		return fmt.Errorf("postgres: put market %s: %w", m.ID, err)
	}
	return nil
}

func (t *aggTx) GetUser(ctx context.Context, address string) (domain.User, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE address = $1`, address)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, fmt.Errorf("postgres: user %s: %w", address, domain.ErrNotFound)
		}
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", address, err)
	}
	return u, nil
}

func (t *aggTx) PutUser(ctx context.Context, u domain.User) error {
	const query = `
		INSERT INTO users (
			address, volume_traded, unsettled_volume, profit, potential_profit,
			last_block, last_log_index, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (address) DO UPDATE SET
			volume_traded    = EXCLUDED.volume_traded,
			unsettled_volume = EXCLUDED.unsettled_volume,
			profit           = EXCLUDED.profit,
			potential_profit = EXCLUDED.potential_profit,
			last_block       = EXCLUDED.last_block,
			last_log_index   = EXCLUDED.last_log_index,
			updated_at       = NOW()`

	_, err := t.tx.Exec(ctx, query,
		u.Address, numericFromBig(u.VolumeTraded), numericFromBig(u.UnsettledVolume),
		numericFromBig(u.Profit), numericFromBig(u.PotentialProfit),
		int64(u.LastApplied.Block), int64(u.LastApplied.LogIndex),
	)
	if err != nil {
		return fmt.Errorf("postgres: put user %s: %w", u.Address, err)
	}
	return nil
}

func (t *aggTx) GetOrder(ctx context.Context, key domain.OrderKey) (domain.Order, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE tx_hash = $1 AND log_index = $2`,
		key.TxHash, int64(key.LogIndex))
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("postgres: order %s: %w", key, domain.ErrNotFound)
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", key, err)
	}
	return o, nil
}

func (t *aggTx) PutOrder(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			tx_hash, log_index, trader, market_id, outcome,
			share, price, is_buy, is_limit, placed_at,
			last_block, last_log_index, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (tx_hash, log_index) DO UPDATE SET
			share          = EXCLUDED.share,
			last_block     = EXCLUDED.last_block,
			last_log_index = EXCLUDED.last_log_index,
			updated_at     = NOW()`

	_, err := t.tx.Exec(ctx, query,
		o.Key.TxHash, int64(o.Key.LogIndex), o.Trader, o.MarketID, o.Outcome,
		numericFromBig(o.Share), numericFromBig(o.Price), o.IsBuy, o.IsLimit, o.Timestamp,
		int64(o.LastApplied.Block), int64(o.LastApplied.LogIndex),
	)
	if err != nil {
		return fmt.Errorf("postgres: put order %s: %w", o.Key, err)
	}
	return nil
}

// AppendRaw inserts the mirror row. Re-delivery of the identical row is a
// silent no-op; a row that already exists with different content is a
// replay conflict.
func (t *aggTx) AppendRaw(ctx context.Context, r domain.RawEvent) error {
	const query = `
		INSERT INTO raw_events (tx_hash, log_index, kind, block, block_time, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tx_hash, log_index, kind) DO NOTHING`

	tag, err := t.tx.Exec(ctx, query,
		r.TxHash, int64(r.LogIndex), string(r.Kind),
		int64(r.Block), r.BlockTime, []byte(r.Payload),
	)
	if err != nil {
		return fmt.Errorf("postgres: append raw event %s:%d: %w", r.TxHash, r.LogIndex, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// JSONB equality is semantic, so a re-marshalled identical payload still
	// matches even though jsonb storage normalises key order.
	var payloadMatch bool
	err = t.tx.QueryRow(ctx,
		`SELECT payload = $4::jsonb FROM raw_events WHERE tx_hash = $1 AND log_index = $2 AND kind = $3`,
		r.TxHash, int64(r.LogIndex), string(r.Kind), []byte(r.Payload),
	).Scan(&payloadMatch)
	if err != nil {
		return fmt.Errorf("postgres: read back raw event %s:%d: %w", r.TxHash, r.LogIndex, err)
	}
	if !payloadMatch {
		return fmt.Errorf("postgres: raw event %s %s:%d: %w", r.Kind, r.TxHash, r.LogIndex, domain.ErrConflict)
	}
	return nil
}

// shared row scanners, used by the tx view and the query-side stores

const marketCols = `id, event_id, total_locked, outcome_locked, outcome_prices,
	total_shares, settled, final_outcome, last_block, last_log_index`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                       domain.Market
		eventID, locked, shares pgtype.Numeric
		outLocked, outPrices    []pgtype.Numeric
		lastBlock, lastLogIndex int64
	)
	err := row.Scan(
		&m.ID, &eventID, &locked, &outLocked, &outPrices,
		&shares, &m.Settled, &m.FinalOutcome, &lastBlock, &lastLogIndex,
	)
	if err != nil {
		return domain.Market{}, err
	}
	if m.EventID, err = bigFromNumeric(eventID); err != nil {
		return domain.Market{}, fmt.Errorf("event_id: %w", err)
	}
	if m.TotalLocked, err = bigFromNumeric(locked); err != nil {
		return domain.Market{}, fmt.Errorf("total_locked: %w", err)
	}
	if m.TotalShares, err = bigFromNumeric(shares); err != nil {
		return domain.Market{}, fmt.Errorf("total_shares: %w", err)
	}
	if m.OutcomeLocked, err = bigsFromNumerics(outLocked); err != nil {
		return domain.Market{}, fmt.Errorf("outcome_locked: %w", err)
	}
	if m.OutcomePrices, err = bigsFromNumerics(outPrices); err != nil {
		return domain.Market{}, fmt.Errorf("outcome_prices: %w", err)
	}
	m.LastApplied = domain.Cursor{Block: uint64(lastBlock), LogIndex: uint(lastLogIndex)}
	return m, nil
}

const userCols = `address, volume_traded, unsettled_volume, profit, potential_profit,
	last_block, last_log_index`

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u                              domain.User
		volume, unsettled, profit, pot pgtype.Numeric
		lastBlock, lastLogIndex        int64
	)
	err := row.Scan(&u.Address, &volume, &unsettled, &profit, &pot, &lastBlock, &lastLogIndex)
	if err != nil {
		return domain.User{}, err
	}
	if u.VolumeTraded, err = bigFromNumeric(volume); err != nil {
		return domain.User{}, fmt.Errorf("volume_traded: %w", err)
	}
	if u.UnsettledVolume, err = bigFromNumeric(unsettled); err != nil {
		return domain.User{}, fmt.Errorf("unsettled_volume: %w", err)
	}
	if u.Profit, err = bigFromNumeric(profit); err != nil {
		return domain.User{}, fmt.Errorf("profit: %w", err)
	}
	if u.PotentialProfit, err = bigFromNumeric(pot); err != nil {
		return domain.User{}, fmt.Errorf("potential_profit: %w", err)
	}
	u.LastApplied = domain.Cursor{Block: uint64(lastBlock), LogIndex: uint(lastLogIndex)}
	return u, nil
}

const orderCols = `tx_hash, log_index, trader, market_id, outcome,
	share, price, is_buy, is_limit, placed_at, last_block, last_log_index`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o                       domain.Order
		logIndex                int64
		share, price            pgtype.Numeric
		lastBlock, lastLogIndex int64
	)
	err := row.Scan(
		&o.Key.TxHash, &logIndex, &o.Trader, &o.MarketID, &o.Outcome,
		&share, &price, &o.IsBuy, &o.IsLimit, &o.Timestamp, &lastBlock, &lastLogIndex,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Key.LogIndex = uint(logIndex)
	if o.Share, err = bigFromNumeric(share); err != nil {
		return domain.Order{}, fmt.Errorf("share: %w", err)
	}
	if o.Price, err = bigFromNumeric(price); err != nil {
		return domain.Order{}, fmt.Errorf("price: %w", err)
	}
	o.LastApplied = domain.Cursor{Block: uint64(lastBlock), LogIndex: uint(lastLogIndex)}
	return o, nil
}

var _ domain.AggregateStore = (*AggregateStore)(nil)
