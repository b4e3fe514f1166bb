package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// Backend is the node surface the poller needs. *ethclient.Client satisfies
// it; tests substitute a fake.
type Backend interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Dial connects to the EVM node at rpcURL.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return client, nil
}

// PollerConfig tunes the ingestion loop.
type PollerConfig struct {
	Contract      string // contract address, 0x hex
	StartBlock    uint64 // first block to scan when no checkpoint exists
	Confirmations uint64 // blocks behind head considered final
	PollInterval  time.Duration
	MaxBlockSpan  uint64 // widest FilterLogs range per request
}

// Poller tails the contract's log. Each cycle it scans from the persisted
// checkpoint up to the confirmed head and emits decoded events in log order.
// At-least-once delivery: a crash between emit and checkpoint write re-emits
// events, which the fold's watermarks absorb.
type Poller struct {
	backend     Backend
	decoder     *Decoder
	checkpoints domain.CheckpointStore
	cfg         PollerConfig
	contract    common.Address
	logger      *slog.Logger
}

// NewPoller creates a Poller.
func NewPoller(backend Backend, decoder *Decoder, checkpoints domain.CheckpointStore, cfg PollerConfig, logger *slog.Logger) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxBlockSpan == 0 {
		cfg.MaxBlockSpan = 2000
	}
	return &Poller{
		backend:     backend,
		decoder:     decoder,
		checkpoints: checkpoints,
		cfg:         cfg,
		contract:    common.HexToAddress(cfg.Contract),
		logger:      logger.With(slog.String("component", "poller")),
	}
}

// Run polls until ctx is cancelled, sending decoded events to out.
func (p *Poller) Run(ctx context.Context, out chan<- domain.Event) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := p.cycle(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.ErrorContext(ctx, "poll cycle failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) cycle(ctx context.Context, out chan<- domain.Event) error {
	head, err := p.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("chain: head header: %w", err)
	}
	headNum := head.Number.Uint64()
	if headNum < p.cfg.Confirmations {
		return nil
	}
	safe := headNum - p.cfg.Confirmations

	from := p.cfg.StartBlock
	cp, err := p.checkpoints.Get(ctx)
	switch {
	case err == nil:
		from = cp.Block + 1
	case errors.Is(err, domain.ErrNotFound):
		// first run, scan from the configured start
	default:
		return fmt.Errorf("chain: read checkpoint: %w", err)
	}
	if from > safe {
		return nil
	}

	for from <= safe {
		to := from + p.cfg.MaxBlockSpan - 1
		if to > safe {
			to = safe
		}
		if err := p.scanRange(ctx, out, from, to); err != nil {
			return err
		}
		from = to + 1
	}
	return nil
}

func (p *Poller) scanRange(ctx context.Context, out chan<- domain.Event, from, to uint64) error {
	logs, err := p.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{p.contract},
	})
	if err != nil {
		return fmt.Errorf("chain: filter logs %d-%d: %w", from, to, err)
	}
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	times := make(map[uint64]time.Time)
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		bt, ok := times[lg.BlockNumber]
		if !ok {
			hdr, err := p.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
			if err != nil {
				return fmt.Errorf("chain: header %d: %w", lg.BlockNumber, err)
			}
			bt = time.Unix(int64(hdr.Time), 0).UTC()
			times[lg.BlockNumber] = bt
		}

		ev, err := p.decoder.Decode(lg, bt)
		if err != nil {
			if errors.Is(err, domain.ErrUnknownEvent) {
				p.logger.WarnContext(ctx, "skipping foreign log",
					slog.Uint64("block", lg.BlockNumber),
					slog.Uint64("log_index", uint64(lg.Index)),
				)
				continue
			}
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- ev:
		}
	}
	return nil
}
