package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// EventKind identifies one of the PredictionMarket contract's log types. The
// set is closed and versioned; dispatch rejects anything else.
type EventKind string

const (
	KindBetPlaced            EventKind = "BetPlaced"
	KindFeesWithdrawn        EventKind = "FeesWithdrawn"
	KindLog                  EventKind = "Log"
	KindMarketCreated        EventKind = "MarketCreated"
	KindMarketSettled        EventKind = "MarketSettled"
	KindOrderCancelled       EventKind = "OrderCancelled"
	KindOrderMatched         EventKind = "OrderMatched"
	KindOrderPlaced          EventKind = "OrderPlaced"
	KindOwnershipTransferred EventKind = "OwnershipTransferred"
	KindRewardClaimed        EventKind = "RewardClaimed"
	KindSwap                 EventKind = "Swap"
)

// Kinds lists every event kind the indexer understands, in the order the
// contract ABI declares them.
var Kinds = []EventKind{
	KindBetPlaced,
	KindFeesWithdrawn,
	KindLog,
	KindMarketCreated,
	KindMarketSettled,
	KindOrderCancelled,
	KindOrderMatched,
	KindOrderPlaced,
	KindOwnershipTransferred,
	KindRewardClaimed,
	KindSwap,
}

// Cursor is a position in the contract's log: block number first, then log
// index within the block. The zero Cursor sorts before every real event.
type Cursor struct {
	Block    uint64 `json:"block"`
	LogIndex uint   `json:"log_index"`
}

// Before reports whether c is strictly earlier than other in log order.
func (c Cursor) Before(other Cursor) bool {
	if c.Block != other.Block {
		return c.Block < other.Block
	}
	return c.LogIndex < other.LogIndex
}

// AtOrBefore reports whether c is at or earlier than other in log order.
// Watermark checks use this: an event whose cursor is at-or-before an
// aggregate's recorded watermark has already been folded into it.
func (c Cursor) AtOrBefore(other Cursor) bool {
	return !other.Before(c)
}

func (c Cursor) String() string {
	return fmt.Sprintf("%d/%d", c.Block, c.LogIndex)
}

// Event is one immutable occurrence from the contract log: a kind, a typed
// payload, and provenance metadata from the enclosing block and transaction.
type Event struct {
	Kind      EventKind
	Block     uint64
	BlockTime time.Time
	TxHash    string // 0x-prefixed lowercase hex
	LogIndex  uint
	Payload   Payload
}

// Cursor returns the event's position in the log.
func (e Event) Cursor() Cursor {
	return Cursor{Block: e.Block, LogIndex: e.LogIndex}
}

// Key returns the composite key (txHash, logIndex) that identifies this
// event's row in the raw mirror table, and the Order it creates when the
// event is an OrderPlaced.
func (e Event) Key() OrderKey {
	return OrderKey{TxHash: e.TxHash, LogIndex: e.LogIndex}
}

// Validate checks that the payload is present, matches the declared kind, and
// carries no nil or negative quantities.
func (e Event) Validate() error {
	if e.Payload == nil {
		return fmt.Errorf("%w: %s at %s: nil payload", ErrInvalidPayload, e.Kind, e.Cursor())
	}
	if e.Payload.EventKind() != e.Kind {
		return fmt.Errorf("%w: declared %s, payload is %s", ErrInvalidPayload, e.Kind, e.Payload.EventKind())
	}
	if err := e.Payload.validate(); err != nil {
		return fmt.Errorf("%w: %s at %s: %v", ErrInvalidPayload, e.Kind, e.Cursor(), err)
	}
	return nil
}

// Payload is the closed tagged union of per-kind event parameters. Concrete
// types are validated at the ingestion boundary so transition functions can
// switch exhaustively without runtime type inspection.
type Payload interface {
	EventKind() EventKind
	validate() error
}

// BetPlacedPayload mirrors the BetPlaced(user, marketId, outcome, shares, price) log.
type BetPlacedPayload struct {
	User     string   `json:"user"`
	MarketID string   `json:"market_id"`
	Outcome  int      `json:"outcome"`
	Shares   *big.Int `json:"shares"`
	Price    *big.Int `json:"price"`
}

func (BetPlacedPayload) EventKind() EventKind { return KindBetPlaced }

func (p BetPlacedPayload) validate() error {
	return checkAmounts(map[string]*big.Int{"shares": p.Shares, "price": p.Price}, p.Outcome)
}

// FeesWithdrawnPayload mirrors the FeesWithdrawn(amount) log.
type FeesWithdrawnPayload struct {
	Amount *big.Int `json:"amount"`
}

func (FeesWithdrawnPayload) EventKind() EventKind { return KindFeesWithdrawn }

func (p FeesWithdrawnPayload) validate() error {
	return checkAmounts(map[string]*big.Int{"amount": p.Amount}, 0)
}

// LogPayload mirrors the contract's generic Log(log, value) debug event.
type LogPayload struct {
	Note  string   `json:"log"`
	Value *big.Int `json:"value"`
}

func (LogPayload) EventKind() EventKind { return KindLog }

func (p LogPayload) validate() error {
	if p.Value == nil {
		return fmt.Errorf("value is nil")
	}
	return nil
}

// MarketCreatedPayload mirrors the MarketCreated(marketId, eventId) log.
type MarketCreatedPayload struct {
	MarketID string   `json:"market_id"`
	EventID  *big.Int `json:"event_id"`
}

func (MarketCreatedPayload) EventKind() EventKind { return KindMarketCreated }

func (p MarketCreatedPayload) validate() error {
	if p.MarketID == "" {
		return fmt.Errorf("market id is empty")
	}
	return checkAmounts(map[string]*big.Int{"event_id": p.EventID}, 0)
}

// MarketSettledPayload mirrors the MarketSettled(marketId, outcome) log.
type MarketSettledPayload struct {
	MarketID string `json:"market_id"`
	Outcome  int    `json:"outcome"`
}

func (MarketSettledPayload) EventKind() EventKind { return KindMarketSettled }

func (p MarketSettledPayload) validate() error {
	if p.MarketID == "" {
		return fmt.Errorf("market id is empty")
	}
	if p.Outcome < 0 {
		return fmt.Errorf("outcome %d is negative", p.Outcome)
	}
	return nil
}

// OrderCancelledPayload mirrors the OrderCancelled(trader, marketId, outcome,
// amount, price, isBuy) log.
type OrderCancelledPayload struct {
	Trader   string   `json:"trader"`
	MarketID string   `json:"market_id"`
	Outcome  int      `json:"outcome"`
	Amount   *big.Int `json:"amount"`
	Price    *big.Int `json:"price"`
	IsBuy    bool     `json:"is_buy"`
}

func (OrderCancelledPayload) EventKind() EventKind { return KindOrderCancelled }

func (p OrderCancelledPayload) validate() error {
	return checkAmounts(map[string]*big.Int{"amount": p.Amount, "price": p.Price}, p.Outcome)
}

// OrderMatchedPayload mirrors the OrderMatched(marketId, outcome, amount,
// price, buyer, seller) log.
type OrderMatchedPayload struct {
	MarketID string   `json:"market_id"`
	Outcome  int      `json:"outcome"`
	Amount   *big.Int `json:"amount"`
	Price    *big.Int `json:"price"`
	Buyer    string   `json:"buyer"`
	Seller   string   `json:"seller"`
}

func (OrderMatchedPayload) EventKind() EventKind { return KindOrderMatched }

func (p OrderMatchedPayload) validate() error {
	return checkAmounts(map[string]*big.Int{"amount": p.Amount, "price": p.Price}, p.Outcome)
}

// OrderPlacedPayload mirrors the OrderPlaced(marketId, outcome, amount, price,
// trader, isLimit) log.
type OrderPlacedPayload struct {
	MarketID string   `json:"market_id"`
	Outcome  int      `json:"outcome"`
	Amount   *big.Int `json:"amount"`
	Price    *big.Int `json:"price"`
	Trader   string   `json:"trader"`
	IsLimit  bool     `json:"is_limit"`
}

func (OrderPlacedPayload) EventKind() EventKind { return KindOrderPlaced }

func (p OrderPlacedPayload) validate() error {
	return checkAmounts(map[string]*big.Int{"amount": p.Amount, "price": p.Price}, p.Outcome)
}

// OwnershipTransferredPayload mirrors the OwnershipTransferred(previousOwner,
// newOwner) log.
type OwnershipTransferredPayload struct {
	PreviousOwner string `json:"previous_owner"`
	NewOwner      string `json:"new_owner"`
}

func (OwnershipTransferredPayload) EventKind() EventKind { return KindOwnershipTransferred }

func (p OwnershipTransferredPayload) validate() error {
	if p.NewOwner == "" {
		return fmt.Errorf("new owner is empty")
	}
	return nil
}

// RewardClaimedPayload mirrors the RewardClaimed(user, marketId, outcome,
// shares, reward) log.
type RewardClaimedPayload struct {
	User     string   `json:"user"`
	MarketID string   `json:"market_id"`
	Outcome  int      `json:"outcome"`
	Shares   *big.Int `json:"shares"`
	Reward   *big.Int `json:"reward"`
}

func (RewardClaimedPayload) EventKind() EventKind { return KindRewardClaimed }

func (p RewardClaimedPayload) validate() error {
	return checkAmounts(map[string]*big.Int{"shares": p.Shares, "reward": p.Reward}, p.Outcome)
}

// SwapPayload mirrors the Swap(marketId, outcome, amountIn, amountOut, trader) log.
type SwapPayload struct {
	MarketID  string   `json:"market_id"`
	Outcome   int      `json:"outcome"`
	AmountIn  *big.Int `json:"amount_in"`
	AmountOut *big.Int `json:"amount_out"`
	Trader    string   `json:"trader"`
}

func (SwapPayload) EventKind() EventKind { return KindSwap }

func (p SwapPayload) validate() error {
	return checkAmounts(map[string]*big.Int{"amount_in": p.AmountIn, "amount_out": p.AmountOut}, p.Outcome)
}

// checkAmounts rejects nil or negative quantities and negative outcome
// indices. Quantities are fixed-point integers in the contract's smallest
// unit; a negative value can only come from a decoding bug upstream.
func checkAmounts(amounts map[string]*big.Int, outcome int) error {
	for name, v := range amounts {
		if v == nil {
			return fmt.Errorf("%s is nil", name)
		}
		if v.Sign() < 0 {
			return fmt.Errorf("%s is negative: %s", name, v)
		}
	}
	if outcome < 0 {
		return fmt.Errorf("outcome %d is negative", outcome)
	}
	return nil
}

// DecodePayload unmarshals a raw mirror row's JSON payload back into its
// typed form. Replay mode uses this to re-fold aggregates from the raw event
// table.
func DecodePayload(kind EventKind, data []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindBetPlaced:
		var v BetPlacedPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindFeesWithdrawn:
		var v FeesWithdrawnPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindLog:
		var v LogPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindMarketCreated:
		var v MarketCreatedPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindMarketSettled:
		var v MarketSettledPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindOrderCancelled:
		var v OrderCancelledPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindOrderMatched:
		var v OrderMatchedPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindOrderPlaced:
		var v OrderPlacedPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindOwnershipTransferred:
		var v OwnershipTransferredPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindRewardClaimed:
		var v RewardClaimedPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindSwap:
		var v SwapPayload
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}
