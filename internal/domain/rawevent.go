package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RawEvent is the append-only mirror of one log occurrence, keyed by
// (txHash, logIndex, kind). Kind is part of the identity because the source
// contract emits order match and cancel events under the placing event's
// hash/index convention, so rows of different kinds may legally share a
// composite key. Mirror rows carry no merge logic: arrival upserts are
// idempotent because a replayed event produces a byte-identical row. The raw
// table is also the replay source for re-folding aggregates.
type RawEvent struct {
	Kind      EventKind       `json:"kind"`
	Block     uint64          `json:"block"`
	BlockTime time.Time       `json:"block_time"`
	TxHash    string          `json:"tx_hash"`
	LogIndex  uint            `json:"log_index"`
	Payload   json.RawMessage `json:"payload"`
}

// NewRawEvent serialises an event's typed payload into its mirror row.
func NewRawEvent(ev Event) (RawEvent, error) {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return RawEvent{}, fmt.Errorf("encode %s payload: %w", ev.Kind, err)
	}
	return RawEvent{
		Kind:      ev.Kind,
		Block:     ev.Block,
		BlockTime: ev.BlockTime,
		TxHash:    ev.TxHash,
		LogIndex:  ev.LogIndex,
		Payload:   data,
	}, nil
}

// Event reconstructs the typed event from the mirror row.
func (r RawEvent) Event() (Event, error) {
	payload, err := DecodePayload(r.Kind, r.Payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Kind:      r.Kind,
		Block:     r.Block,
		BlockTime: r.BlockTime,
		TxHash:    r.TxHash,
		LogIndex:  r.LogIndex,
		Payload:   payload,
	}, nil
}

// Cursor returns the row's position in the log.
func (r RawEvent) Cursor() Cursor {
	return Cursor{Block: r.Block, LogIndex: r.LogIndex}
}
