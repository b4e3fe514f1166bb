package domain

import (
	"fmt"
	"math/big"
	"time"
)

// OrderKey is the composite identity of an order: the transaction hash and
// log index of its placing event. Globally unique per placement.
type OrderKey struct {
	TxHash   string `json:"tx_hash"`
	LogIndex uint   `json:"log_index"`
}

func (k OrderKey) String() string {
	return fmt.Sprintf("%s:%d", k.TxHash, k.LogIndex)
}

// Order is the derived aggregate for one placed order. Everything except
// Share is immutable after placement. Share counts the remaining unfilled
// size: decremented by matches (floored at zero), zeroed by cancellation.
// A zero-share order is terminal but the record persists as history.
type Order struct {
	Key         OrderKey  `json:"key"`
	Trader      string    `json:"trader"`
	MarketID    string    `json:"market_id"`
	Outcome     int       `json:"outcome"`
	Share       *big.Int  `json:"share"`
	Price       *big.Int  `json:"price"`
	IsBuy       bool      `json:"is_buy"`
	IsLimit     bool      `json:"is_limit"`
	Timestamp   time.Time `json:"timestamp"` // block time at placement
	LastApplied Cursor    `json:"last_applied"`
}

// Open reports whether the order still has unfilled size.
func (o Order) Open() bool {
	return o.Share != nil && o.Share.Sign() > 0
}

// Stale reports whether an event at cursor c has already been folded into
// this order.
func (o Order) Stale(c Cursor) bool {
	return c.AtOrBefore(o.LastApplied)
}

// Clone returns a deep copy.
func (o Order) Clone() Order {
	out := o
	out.Share = cloneInt(o.Share)
	out.Price = cloneInt(o.Price)
	return out
}
