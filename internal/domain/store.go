package domain

import "context"

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// Tx is the per-event view of the aggregate collections. All loads see prior
// writes made through the same Tx (read-your-writes); nothing becomes visible
// to later events or external readers until the enclosing InTx commits.
type Tx interface {
	GetMarket(ctx context.Context, id string) (Market, error)
	PutMarket(ctx context.Context, m Market) error
	GetUser(ctx context.Context, address string) (User, error)
	PutUser(ctx context.Context, u User) error
	GetOrder(ctx context.Context, key OrderKey) (Order, error)
	PutOrder(ctx context.Context, o Order) error
	AppendRaw(ctx context.Context, r RawEvent) error
}

// AggregateStore is the transactional boundary around one event's processing.
// A transition either fully commits its mutations or commits none.
type AggregateStore interface {
	// InTx runs fn inside a single all-or-nothing commit. If fn returns an
	// error every mutation made through the Tx is discarded.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// MarketStore is the committed, query-side view of markets.
type MarketStore interface {
	Get(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// UserStore is the committed, query-side view of users.
type UserStore interface {
	Get(ctx context.Context, address string) (User, error)
	List(ctx context.Context, opts ListOpts) ([]User, error)
	Count(ctx context.Context) (int64, error)
}

// OrderStore is the committed, query-side view of orders.
type OrderStore interface {
	Get(ctx context.Context, key OrderKey) (Order, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Order, error)
	ListByTrader(ctx context.Context, trader string, opts ListOpts) ([]Order, error)
}

// RawEventStore is the committed, query-side view of the raw mirror table.
type RawEventStore interface {
	// ListAfter returns rows strictly after the cursor in log order, up to
	// limit. Replay mode pages through the table with this.
	ListAfter(ctx context.Context, after Cursor, limit int) ([]RawEvent, error)
	// ListBeforeBlock returns rows from blocks strictly below the cutoff, for
	// cold-storage archival.
	ListBeforeBlock(ctx context.Context, block uint64) ([]RawEvent, error)
	Count(ctx context.Context) (int64, error)
}

// CheckpointStore records how far the chain poller has ingested. This is the
// delivery layer's resume point, separate from the per-aggregate watermarks
// that make the fold itself idempotent.
type CheckpointStore interface {
	// Get returns the last fully ingested cursor, or ErrNotFound before the
	// first checkpoint is written.
	Get(ctx context.Context) (Cursor, error)
	Put(ctx context.Context, c Cursor) error
}

// MarketCache is a read-through cache of committed market snapshots used by
// the query API.
type MarketCache interface {
	Get(ctx context.Context, id string) (Market, bool, error)
	Set(ctx context.Context, m Market) error
	Invalidate(ctx context.Context, id string) error
}
