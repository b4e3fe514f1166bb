package domain

import "math/big"

// Market is the derived aggregate for one prediction market. All quantities
// are fixed-point integers in the contract's smallest unit; TotalLocked and
// TotalShares never decrease across any legal event sequence.
type Market struct {
	ID            string     `json:"id"`
	EventID       *big.Int   `json:"event_id"`
	TotalLocked   *big.Int   `json:"total_locked"`
	OutcomeLocked []*big.Int `json:"outcome_locked"`
	OutcomePrices []*big.Int `json:"outcome_prices"`
	TotalShares   *big.Int   `json:"total_shares"`
	Settled       bool       `json:"settled"`
	FinalOutcome  int        `json:"final_outcome"` // meaningful only when Settled
	LastApplied   Cursor     `json:"last_applied"`
}

// NewMarket returns a freshly created market with zeroed accumulators and
// empty outcome arrays, as written by the MarketCreated transition.
func NewMarket(id string, eventID *big.Int, at Cursor) Market {
	return Market{
		ID:          id,
		EventID:     new(big.Int).Set(eventID),
		TotalLocked: new(big.Int),
		TotalShares: new(big.Int),
		LastApplied: at,
	}
}

// Stale reports whether an event at cursor c has already been folded into
// this market.
func (m Market) Stale(c Cursor) bool {
	return c.AtOrBefore(m.LastApplied)
}

// EnsureOutcome extends the outcome arrays with zeros so that index i is
// addressable. Lazy extension happens only where the lifecycle allows it
// (bet aggregation); the Swap transition requires the index to pre-exist.
func (m *Market) EnsureOutcome(i int) {
	for len(m.OutcomeLocked) <= i {
		m.OutcomeLocked = append(m.OutcomeLocked, new(big.Int))
	}
	for len(m.OutcomePrices) <= i {
		m.OutcomePrices = append(m.OutcomePrices, new(big.Int))
	}
}

// HasOutcome reports whether index i exists in both outcome arrays.
func (m Market) HasOutcome(i int) bool {
	return i >= 0 && i < len(m.OutcomeLocked) && i < len(m.OutcomePrices)
}

// Clone returns a deep copy. The in-memory store hands out clones so that
// uncommitted mutations never leak into the committed snapshot.
func (m Market) Clone() Market {
	out := m
	out.EventID = cloneInt(m.EventID)
	out.TotalLocked = cloneInt(m.TotalLocked)
	out.TotalShares = cloneInt(m.TotalShares)
	out.OutcomeLocked = cloneInts(m.OutcomeLocked)
	out.OutcomePrices = cloneInts(m.OutcomePrices)
	return out
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cloneInts(vs []*big.Int) []*big.Int {
	if vs == nil {
		return nil
	}
	out := make([]*big.Int, len(vs))
	for i, v := range vs {
		out[i] = cloneInt(v)
	}
	return out
}
