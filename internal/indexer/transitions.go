package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// applyMarketCreated creates the market aggregate with zeroed accumulators.
// Duplicate creation for an id is not expected from the contract; a
// non-stale duplicate overwrites.
func (a *Applier) applyMarketCreated(ctx context.Context, tx domain.Tx, ev domain.Event, p domain.MarketCreatedPayload) error {
	existing, err := tx.GetMarket(ctx, p.MarketID)
	if err == nil && existing.Stale(ev.Cursor()) {
		return nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return tx.PutMarket(ctx, domain.NewMarket(p.MarketID, p.EventID, ev.Cursor()))
}

// applyBetPlaced folds a pari-mutuel bet into its market: the outcome arrays
// are lazily extended to cover the bet's index, the bet's tick becomes the
// outcome's recorded price, and the notional (shares x price) accrues into
// the outcome's and the market's locked totals.
func (a *Applier) applyBetPlaced(ctx context.Context, tx domain.Tx, ev domain.Event, p domain.BetPlacedPayload) error {
	m, err := tx.GetMarket(ctx, p.MarketID)
	if errors.Is(err, domain.ErrNotFound) {
		a.warn(ctx, ev, domain.DiagMarketNotFound,
			fmt.Sprintf("market %s not found for bet", p.MarketID))
		return nil
	}
	if err != nil {
		return err
	}
	if m.Stale(ev.Cursor()) {
		return nil
	}

	m.EnsureOutcome(p.Outcome)
	m.OutcomePrices[p.Outcome] = new(big.Int).Set(p.Price)

	notional := new(big.Int).Mul(p.Shares, p.Price)
	m.OutcomeLocked[p.Outcome] = new(big.Int).Add(m.OutcomeLocked[p.Outcome], notional)
	m.TotalLocked = new(big.Int).Add(m.TotalLocked, notional)
	m.LastApplied = ev.Cursor()
	return tx.PutMarket(ctx, m)
}

// applyOrderPlaced creates the order aggregate keyed by this event's
// (txHash, logIndex) and accrues the notional into the trader's traded
// volume.
//
// IsBuy is populated from the payload's isLimit flag. The producing system
// does the same and the OrderPlaced log carries no separate side flag;
// preserved verbatim rather than guessed at.
func (a *Applier) applyOrderPlaced(ctx context.Context, tx domain.Tx, ev domain.Event, p domain.OrderPlacedPayload) error {
	existing, err := tx.GetOrder(ctx, ev.Key())
	if err == nil && existing.Stale(ev.Cursor()) {
		return nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	order := domain.Order{
		Key:         ev.Key(),
		Trader:      p.Trader,
		MarketID:    p.MarketID,
		Outcome:     p.Outcome,
		Share:       new(big.Int).Set(p.Amount),
		Price:       new(big.Int).Set(p.Price),
		IsBuy:       p.IsLimit,
		IsLimit:     p.IsLimit,
		Timestamp:   ev.BlockTime,
		LastApplied: ev.Cursor(),
	}
	if err := tx.PutOrder(ctx, order); err != nil {
		return err
	}

	u, err := loadOrCreateUser(ctx, tx, p.Trader)
	if err != nil {
		return err
	}
	if u.Stale(ev.Cursor()) {
		return nil
	}
	u.VolumeTraded = new(big.Int).Add(u.VolumeTraded, new(big.Int).Mul(p.Amount, p.Price))
	u.LastApplied = ev.Cursor()
	return tx.PutUser(ctx, u)
}

// applyOrderMatched decrements the matched order's remaining share (floored
// at zero) and accrues the match notional into the buyer's unsettled volume.
//
// The order lookup keys off the *current* event's (txHash, logIndex): the
// contract emits match events under the placing order's hash/index
// convention. When no order is found the order mutation is a warned no-op.
// The seller's accounting is deliberately untouched, matching the producing
// system.
func (a *Applier) applyOrderMatched(ctx context.Context, tx domain.Tx, ev domain.Event, p domain.OrderMatchedPayload) error {
	o, err := tx.GetOrder(ctx, ev.Key())
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.warn(ctx, ev, domain.DiagOrderNotFound,
			fmt.Sprintf("order %s not found for match", ev.Key()))
	case err != nil:
		return err
	case o.Stale(ev.Cursor()):
		// replay, already folded
	default:
		o.Share = new(big.Int).Sub(o.Share, p.Amount)
		if o.Share.Sign() < 0 {
			o.Share = new(big.Int)
		}
		o.LastApplied = ev.Cursor()
		if err := tx.PutOrder(ctx, o); err != nil {
			return err
		}
	}

	u, err := loadOrCreateUser(ctx, tx, p.Buyer)
	if err != nil {
		return err
	}
	if u.Stale(ev.Cursor()) {
		return nil
	}
	u.UnsettledVolume = new(big.Int).Add(u.UnsettledVolume, new(big.Int).Mul(p.Amount, p.Price))
	u.LastApplied = ev.Cursor()
	return tx.PutUser(ctx, u)
}

// applyOrderCancelled zeroes the cancelled order's remaining share (full
// cancel, not partial) and subtracts the notional from the trader's
// unsettled volume. No floor is applied to the subtraction; the balance may
// go negative, matching the producing system.
func (a *Applier) applyOrderCancelled(ctx context.Context, tx domain.Tx, ev domain.Event, p domain.OrderCancelledPayload) error {
	o, err := tx.GetOrder(ctx, ev.Key())
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.warn(ctx, ev, domain.DiagOrderNotFound,
			fmt.Sprintf("order %s not found for cancel", ev.Key()))
	case err != nil:
		return err
	case o.Stale(ev.Cursor()):
		// replay, already folded
	default:
		o.Share = new(big.Int)
		o.LastApplied = ev.Cursor()
		if err := tx.PutOrder(ctx, o); err != nil {
			return err
		}
	}

	u, err := loadOrCreateUser(ctx, tx, p.Trader)
	if err != nil {
		return err
	}
	if u.Stale(ev.Cursor()) {
		return nil
	}
	u.UnsettledVolume = new(big.Int).Sub(u.UnsettledVolume, new(big.Int).Mul(p.Amount, p.Price))
	u.LastApplied = ev.Cursor()
	return tx.PutUser(ctx, u)
}

// applyMarketSettled flips the market's settled flag and records the final
// outcome. The market must pre-exist. Settled is a one-way transition;
// replays are rejected by the watermark, while a genuinely later settlement
// event overwrites the final outcome last-write-wins.
func (a *Applier) applyMarketSettled(ctx context.Context, tx domain.Tx, ev domain.Event, p domain.MarketSettledPayload) error {
	m, err := tx.GetMarket(ctx, p.MarketID)
	if errors.Is(err, domain.ErrNotFound) {
		a.warn(ctx, ev, domain.DiagMarketNotFound,
			fmt.Sprintf("market %s not found for settlement", p.MarketID))
		return nil
	}
	if err != nil {
		return err
	}
	if m.Stale(ev.Cursor()) {
		return nil
	}
	m.Settled = true
	m.FinalOutcome = p.Outcome
	m.LastApplied = ev.Cursor()
	return tx.PutMarket(ctx, m)
}

// applyRewardClaimed accrues a realized reward into the user's profit. The
// user must pre-exist; unlike the other handlers there is no lazy create
// here, because a reward for an address the fold has never seen trade is an
// upstream anomaly worth a warning rather than a silent zero-row.
func (a *Applier) applyRewardClaimed(ctx context.Context, tx domain.Tx, ev domain.Event, p domain.RewardClaimedPayload) error {
	u, err := tx.GetUser(ctx, p.User)
	if errors.Is(err, domain.ErrNotFound) {
		a.warn(ctx, ev, domain.DiagUserNotFound,
			fmt.Sprintf("user %s not found for reward claim", p.User))
		return nil
	}
	if err != nil {
		return err
	}
	if u.Stale(ev.Cursor()) {
		return nil
	}
	u.Profit = new(big.Int).Add(u.Profit, p.Reward)
	u.LastApplied = ev.Cursor()
	return tx.PutUser(ctx, u)
}

// applySwap folds an AMM swap into the trader's mark-to-model profit and the
// market's locked/share totals.
//
// Ordering matters: the market's existence is checked before any user state
// is touched, so a swap against an unknown market is an atomic no-op that
// creates no orphaned user. The outcome index must pre-exist in both outcome
// arrays; there is no lazy extension on this path, and an out-of-range index
// rejects the whole event.
func (a *Applier) applySwap(ctx context.Context, tx domain.Tx, ev domain.Event, p domain.SwapPayload) error {
	m, err := tx.GetMarket(ctx, p.MarketID)
	if errors.Is(err, domain.ErrNotFound) {
		a.warn(ctx, ev, domain.DiagMarketNotFound,
			fmt.Sprintf("market %s not found for swap", p.MarketID))
		return nil
	}
	if err != nil {
		return err
	}
	if m.Stale(ev.Cursor()) {
		return nil
	}
	if !m.HasOutcome(p.Outcome) {
		a.fatal(ctx, ev, domain.DiagOutcomeRange,
			fmt.Sprintf("outcome %d beyond market %s arrays (len %d)", p.Outcome, m.ID, len(m.OutcomePrices)))
		return fmt.Errorf("%w: outcome %d in market %s at %s",
			domain.ErrOutcomeRange, p.Outcome, m.ID, ev.Cursor())
	}

	u, err := loadOrCreateUser(ctx, tx, p.Trader)
	if err != nil {
		return err
	}
	if !u.Stale(ev.Cursor()) {
		gain := new(big.Int).Mul(m.OutcomePrices[p.Outcome], p.AmountOut)
		gain.Sub(gain, p.AmountIn)
		u.PotentialProfit = new(big.Int).Add(u.PotentialProfit, gain)
		u.LastApplied = ev.Cursor()
		if err := tx.PutUser(ctx, u); err != nil {
			return err
		}
	}

	m.TotalLocked = new(big.Int).Add(m.TotalLocked, p.AmountIn)
	m.OutcomeLocked[p.Outcome] = new(big.Int).Add(m.OutcomeLocked[p.Outcome], p.AmountIn)
	m.TotalShares = new(big.Int).Add(m.TotalShares, p.AmountOut)
	m.LastApplied = ev.Cursor()
	return tx.PutMarket(ctx, m)
}
