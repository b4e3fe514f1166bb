// Package chain ingests PredictionMarket contract logs from an EVM node and
// decodes them into domain events.
package chain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// contractABI declares every log the contract emits. All parameters are
// non-indexed, so the full payload lives in the log data.
const contractABI = `[
	{"type":"event","name":"BetPlaced","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":false},
		{"name":"marketId","type":"uint256","indexed":false},
		{"name":"outcome","type":"uint256","indexed":false},
		{"name":"shares","type":"uint256","indexed":false},
		{"name":"price","type":"uint256","indexed":false}]},
	{"type":"event","name":"FeesWithdrawn","anonymous":false,"inputs":[
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"Log","anonymous":false,"inputs":[
		{"name":"log","type":"string","indexed":false},
		{"name":"value","type":"uint256","indexed":false}]},
	{"type":"event","name":"MarketCreated","anonymous":false,"inputs":[
		{"name":"marketId","type":"uint256","indexed":false},
		{"name":"eventId","type":"uint256","indexed":false}]},
	{"type":"event","name":"MarketSettled","anonymous":false,"inputs":[
		{"name":"marketId","type":"uint256","indexed":false},
		{"name":"outcome","type":"uint256","indexed":false}]},
	{"type":"event","name":"OrderCancelled","anonymous":false,"inputs":[
		{"name":"trader","type":"address","indexed":false},
		{"name":"marketId","type":"uint256","indexed":false},
		{"name":"outcome","type":"uint256","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"price","type":"uint256","indexed":false},
		{"name":"isBuy","type":"bool","indexed":false}]},
	{"type":"event","name":"OrderMatched","anonymous":false,"inputs":[
		{"name":"marketId","type":"uint256","indexed":false},
		{"name":"outcome","type":"uint256","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"price","type":"uint256","indexed":false},
		{"name":"buyer","type":"address","indexed":false},
		{"name":"seller","type":"address","indexed":false}]},
	{"type":"event","name":"OrderPlaced","anonymous":false,"inputs":[
		{"name":"marketId","type":"uint256","indexed":false},
		{"name":"outcome","type":"uint256","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"price","type":"uint256","indexed":false},
		{"name":"trader","type":"address","indexed":false},
		{"name":"isLimit","type":"bool","indexed":false}]},
	{"type":"event","name":"OwnershipTransferred","anonymous":false,"inputs":[
		{"name":"previousOwner","type":"address","indexed":false},
		{"name":"newOwner","type":"address","indexed":false}]},
	{"type":"event","name":"RewardClaimed","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":false},
		{"name":"marketId","type":"uint256","indexed":false},
		{"name":"outcome","type":"uint256","indexed":false},
		{"name":"shares","type":"uint256","indexed":false},
		{"name":"reward","type":"uint256","indexed":false}]},
	{"type":"event","name":"Swap","anonymous":false,"inputs":[
		{"name":"marketId","type":"uint256","indexed":false},
		{"name":"outcome","type":"uint256","indexed":false},
		{"name":"amountIn","type":"uint256","indexed":false},
		{"name":"amountOut","type":"uint256","indexed":false},
		{"name":"trader","type":"address","indexed":false}]}
]`

// Decoder turns raw EVM logs into typed domain events.
type Decoder struct {
	abi     abi.ABI
	byTopic map[common.Hash]abi.Event
}

// NewDecoder parses the contract ABI and builds the topic lookup table.
func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse contract ABI: %w", err)
	}
	byTopic := make(map[common.Hash]abi.Event, len(parsed.Events))
	for _, ev := range parsed.Events {
		byTopic[ev.ID] = ev
	}
	return &Decoder{abi: parsed, byTopic: byTopic}, nil
}

// Decode unpacks one log into a domain event. Logs whose topic is not one of
// the contract's events return ErrUnknownEvent; the poller skips those.
func (d *Decoder) Decode(lg types.Log, blockTime time.Time) (domain.Event, error) {
	if len(lg.Topics) == 0 {
		return domain.Event{}, fmt.Errorf("chain: log without topics: %w", domain.ErrUnknownEvent)
	}
	abiEv, ok := d.byTopic[lg.Topics[0]]
	if !ok {
		return domain.Event{}, fmt.Errorf("chain: topic %s: %w", lg.Topics[0], domain.ErrUnknownEvent)
	}

	values := make(map[string]any)
	if err := d.abi.UnpackIntoMap(values, abiEv.Name, lg.Data); err != nil {
		return domain.Event{}, fmt.Errorf("chain: unpack %s: %w", abiEv.Name, err)
	}

	f := fields{values: values, event: abiEv.Name}
	payload := f.payload(domain.EventKind(abiEv.Name))
	if f.err != nil {
		return domain.Event{}, fmt.Errorf("%w: %s: %v", domain.ErrInvalidPayload, abiEv.Name, f.err)
	}
	if payload == nil {
		return domain.Event{}, fmt.Errorf("chain: event %s: %w", abiEv.Name, domain.ErrUnknownEvent)
	}

	return domain.Event{
		Kind:      domain.EventKind(abiEv.Name),
		Block:     lg.BlockNumber,
		BlockTime: blockTime.UTC(),
		TxHash:    strings.ToLower(lg.TxHash.Hex()),
		LogIndex:  lg.Index,
		Payload:   payload,
	}, nil
}

// fields collects typed accessors over an unpacked value map and remembers
// the first extraction error.
type fields struct {
	values map[string]any
	event  string
	err    error
}

func (f *fields) payload(kind domain.EventKind) domain.Payload {
	switch kind {
	case domain.KindBetPlaced:
		return domain.BetPlacedPayload{
			User:     f.address("user"),
			MarketID: f.id("marketId"),
			Outcome:  f.outcome("outcome"),
			Shares:   f.amount("shares"),
			Price:    f.amount("price"),
		}
	case domain.KindFeesWithdrawn:
		return domain.FeesWithdrawnPayload{Amount: f.amount("amount")}
	case domain.KindLog:
		return domain.LogPayload{Note: f.str("log"), Value: f.amount("value")}
	case domain.KindMarketCreated:
		return domain.MarketCreatedPayload{
			MarketID: f.id("marketId"),
			EventID:  f.amount("eventId"),
		}
	case domain.KindMarketSettled:
		return domain.MarketSettledPayload{
			MarketID: f.id("marketId"),
			Outcome:  f.outcome("outcome"),
		}
	case domain.KindOrderCancelled:
		return domain.OrderCancelledPayload{
			Trader:   f.address("trader"),
			MarketID: f.id("marketId"),
			Outcome:  f.outcome("outcome"),
			Amount:   f.amount("amount"),
			Price:    f.amount("price"),
			IsBuy:    f.boolean("isBuy"),
		}
	case domain.KindOrderMatched:
		return domain.OrderMatchedPayload{
			MarketID: f.id("marketId"),
			Outcome:  f.outcome("outcome"),
			Amount:   f.amount("amount"),
			Price:    f.amount("price"),
			Buyer:    f.address("buyer"),
			Seller:   f.address("seller"),
		}
	case domain.KindOrderPlaced:
		return domain.OrderPlacedPayload{
			MarketID: f.id("marketId"),
			Outcome:  f.outcome("outcome"),
			Amount:   f.amount("amount"),
			Price:    f.amount("price"),
			Trader:   f.address("trader"),
			IsLimit:  f.boolean("isLimit"),
		}
	case domain.KindOwnershipTransferred:
		return domain.OwnershipTransferredPayload{
			PreviousOwner: f.address("previousOwner"),
			NewOwner:      f.address("newOwner"),
		}
	case domain.KindRewardClaimed:
		return domain.RewardClaimedPayload{
			User:     f.address("user"),
			MarketID: f.id("marketId"),
			Outcome:  f.outcome("outcome"),
			Shares:   f.amount("shares"),
			Reward:   f.amount("reward"),
		}
	case domain.KindSwap:
		return domain.SwapPayload{
			MarketID:  f.id("marketId"),
			Outcome:   f.outcome("outcome"),
			AmountIn:  f.amount("amountIn"),
			AmountOut: f.amount("amountOut"),
			Trader:    f.address("trader"),
		}
	}
	return nil
}

func (f *fields) fail(name, want string) {
	if f.err == nil {
		f.err = fmt.Errorf("param %s of %s is not %s (got %T)", name, f.event, want, f.values[name])
	}
}

func (f *fields) amount(name string) *big.Int {
	if v, ok := f.values[name].(*big.Int); ok {
		return new(big.Int).Set(v)
	}
	f.fail(name, "uint256")
	return nil
}

// id renders a uint256 identifier as its decimal string form, the canonical
// aggregate key format.
func (f *fields) id(name string) string {
	if v, ok := f.values[name].(*big.Int); ok {
		return v.String()
	}
	f.fail(name, "uint256")
	return ""
}

func (f *fields) outcome(name string) int {
	if v, ok := f.values[name].(*big.Int); ok && v.IsInt64() {
		return int(v.Int64())
	}
	f.fail(name, "small uint256")
	return 0
}

// address renders an address in lowercase hex, the canonical user key format.
func (f *fields) address(name string) string {
	if v, ok := f.values[name].(common.Address); ok {
		return strings.ToLower(v.Hex())
	}
	f.fail(name, "address")
	return ""
}

func (f *fields) str(name string) string {
	if v, ok := f.values[name].(string); ok {
		return v
	}
	f.fail(name, "string")
	return ""
}

func (f *fields) boolean(name string) bool {
	if v, ok := f.values[name].(bool); ok {
		return v
	}
	f.fail(name, "bool")
	return false
}
