package domain

import "context"

// Severity classifies a diagnostic. Warnings are soft (missing referent,
// mutation skipped, stream continues); fatals mean the single event's
// transition was rejected.
type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityFatal Severity = "fatal"
)

// Diagnostic codes emitted by the fold. Kept stable so operators can alert
// on them.
const (
	DiagMarketNotFound = "market_not_found"
	DiagOrderNotFound  = "order_not_found"
	DiagUserNotFound   = "user_not_found"
	DiagOutcomeRange   = "outcome_out_of_range"
	DiagUnknownKind    = "unknown_event_kind"
	DiagBadPayload     = "invalid_payload"
	DiagReplayConflict = "replay_conflict"
)

// Diagnostic is one structured warning or failure from event processing,
// surfaced on a channel distinct from the main data path.
type Diagnostic struct {
	ID       string    `json:"id"`
	Severity Severity  `json:"severity"`
	Code     string    `json:"code"`
	Kind     EventKind `json:"kind"`
	Cursor   Cursor    `json:"cursor"`
	TxHash   string    `json:"tx_hash"`
	Message  string    `json:"message"`
}

// DiagnosticSink receives diagnostics. Implementations must not block event
// processing; delivery failures are the sink's problem, not the fold's.
type DiagnosticSink interface {
	Emit(ctx context.Context, d Diagnostic)
}

// StreamMessage is one entry read back from a durable signal stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus publishes applied-event and diagnostic notifications to external
// consumers (WebSocket hub, dashboards) and supports durable stream reads.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
