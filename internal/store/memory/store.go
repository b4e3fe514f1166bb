// Package memory implements the domain store interfaces with plain maps.
// It backs unit tests and ad-hoc replay verification; the transactional
// semantics (read-your-writes, all-or-nothing commit) match the Postgres
// implementation.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// rawKey identifies one mirror row. Kind is part of the identity: match and
// cancel events share the placing event's (txHash, logIndex).
type rawKey struct {
	txHash   string
	logIndex uint
	kind     domain.EventKind
}

func keyOf(r domain.RawEvent) rawKey {
	return rawKey{txHash: r.TxHash, logIndex: r.LogIndex, kind: r.Kind}
}

// Store holds every collection in memory. Committed state is only replaced
// wholesale at transaction commit, so external readers always observe
// per-event snapshots.
type Store struct {
	mu         sync.RWMutex
	markets    map[string]domain.Market
	users      map[string]domain.User
	orders     map[domain.OrderKey]domain.Order
	raws       map[rawKey]domain.RawEvent
	checkpoint *domain.Cursor
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		markets: make(map[string]domain.Market),
		users:   make(map[string]domain.User),
		orders:  make(map[domain.OrderKey]domain.Order),
		raws:    make(map[rawKey]domain.RawEvent),
	}
}

// tx stages mutations in overlay maps; nothing touches the committed maps
// until commit.
type tx struct {
	s       *Store
	markets map[string]domain.Market
	users   map[string]domain.User
	orders  map[domain.OrderKey]domain.Order
	raws    map[rawKey]domain.RawEvent
}

// InTx implements domain.AggregateStore.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{
		s:       s,
		markets: make(map[string]domain.Market),
		users:   make(map[string]domain.User),
		orders:  make(map[domain.OrderKey]domain.Order),
		raws:    make(map[rawKey]domain.RawEvent),
	}
	if err := fn(t); err != nil {
		return err
	}

	for id, m := range t.markets {
		s.markets[id] = m
	}
	for addr, u := range t.users {
		s.users[addr] = u
	}
	for k, o := range t.orders {
		s.orders[k] = o
	}
	for k, r := range t.raws {
		s.raws[k] = r
	}
	return nil
}

func (t *tx) GetMarket(_ context.Context, id string) (domain.Market, error) {
	if m, ok := t.markets[id]; ok {
		return m.Clone(), nil
	}
	if m, ok := t.s.markets[id]; ok {
		return m.Clone(), nil
	}
	return domain.Market{}, fmt.Errorf("memory: market %s: %w", id, domain.ErrNotFound)
}

func (t *tx) PutMarket(_ context.Context, m domain.Market) error {
	t.markets[m.ID] = m.Clone()
	return nil
}

func (t *tx) GetUser(_ context.Context, address string) (domain.User, error) {
	if u, ok := t.users[address]; ok {
		return u.Clone(), nil
	}
	if u, ok := t.s.users[address]; ok {
		return u.Clone(), nil
	}
	return domain.User{}, fmt.Errorf("memory: user %s: %w", address, domain.ErrNotFound)
}

func (t *tx) PutUser(_ context.Context, u domain.User) error {
	t.users[u.Address] = u.Clone()
	return nil
}

func (t *tx) GetOrder(_ context.Context, key domain.OrderKey) (domain.Order, error) {
	if o, ok := t.orders[key]; ok {
		return o.Clone(), nil
	}
	if o, ok := t.s.orders[key]; ok {
		return o.Clone(), nil
	}
	return domain.Order{}, fmt.Errorf("memory: order %s: %w", key, domain.ErrNotFound)
}

func (t *tx) PutOrder(_ context.Context, o domain.Order) error {
	t.orders[o.Key] = o.Clone()
	return nil
}

func (t *tx) AppendRaw(_ context.Context, r domain.RawEvent) error {
	key := keyOf(r)
	existing, ok := t.raws[key]
	if !ok {
		existing, ok = t.s.raws[key]
	}
	if ok {
		if !bytes.Equal(existing.Payload, r.Payload) {
			return fmt.Errorf("memory: raw event %s %s:%d: %w", r.Kind, r.TxHash, r.LogIndex, domain.ErrConflict)
		}
		return nil // identical replay
	}
	t.raws[key] = r
	return nil
}

// --- committed query side ---

// GetMarket returns a committed market snapshot.
func (s *Store) GetMarket(_ context.Context, id string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.markets[id]; ok {
		return m.Clone(), nil
	}
	return domain.Market{}, fmt.Errorf("memory: market %s: %w", id, domain.ErrNotFound)
}

// GetUser returns a committed user snapshot.
func (s *Store) GetUser(_ context.Context, address string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[address]; ok {
		return u.Clone(), nil
	}
	return domain.User{}, fmt.Errorf("memory: user %s: %w", address, domain.ErrNotFound)
}

// GetOrder returns a committed order snapshot.
func (s *Store) GetOrder(_ context.Context, key domain.OrderKey) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.orders[key]; ok {
		return o.Clone(), nil
	}
	return domain.Order{}, fmt.Errorf("memory: order %s: %w", key, domain.ErrNotFound)
}

// Markets returns all committed markets ordered by id.
func (s *Store) Markets() []domain.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Users returns all committed users ordered by address.
func (s *Store) Users() []domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// UserCount returns the number of committed user records.
func (s *Store) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// ListAfter implements domain.RawEventStore.
func (s *Store) ListAfter(_ context.Context, after domain.Cursor, limit int) ([]domain.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RawEvent
	for _, r := range s.raws {
		if after.Before(r.Cursor()) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cursor().Before(out[j].Cursor()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListBeforeBlock implements domain.RawEventStore.
func (s *Store) ListBeforeBlock(_ context.Context, block uint64) ([]domain.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RawEvent
	for _, r := range s.raws {
		if r.Block < block {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cursor().Before(out[j].Cursor()) })
	return out, nil
}

// Count implements domain.RawEventStore.
func (s *Store) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.raws)), nil
}

// GetCheckpoint returns the ingest resume cursor.
func (s *Store) GetCheckpoint(_ context.Context) (domain.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.checkpoint == nil {
		return domain.Cursor{}, fmt.Errorf("memory: checkpoint: %w", domain.ErrNotFound)
	}
	return *s.checkpoint, nil
}

// PutCheckpoint stores the ingest resume cursor.
func (s *Store) PutCheckpoint(_ context.Context, c domain.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = &c
	return nil
}

var _ domain.AggregateStore = (*Store)(nil)
var _ domain.RawEventStore = (*Store)(nil)
