package indexer

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/alanyoungcy/predindexer/internal/domain"
	"github.com/alanyoungcy/predindexer/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestApplier(t *testing.T) (*Applier, *memory.Store, *CollectSink) {
	t.Helper()
	store := memory.New()
	sink := &CollectSink{}
	return New(store, sink, testLogger()), store, sink
}

func bi(n int64) *big.Int { return big.NewInt(n) }

var testBlockTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func ev(kind domain.EventKind, block uint64, logIndex uint, txHash string, p domain.Payload) domain.Event {
	return domain.Event{
		Kind:      kind,
		Block:     block,
		BlockTime: testBlockTime,
		TxHash:    txHash,
		LogIndex:  logIndex,
		Payload:   p,
	}
}

func mustApply(t *testing.T, a *Applier, events ...domain.Event) {
	t.Helper()
	for _, e := range events {
		if err := a.Apply(context.Background(), e); err != nil {
			t.Fatalf("apply %s at %s: %v", e.Kind, e.Cursor(), err)
		}
	}
}

func marketCreated(block uint64, logIndex uint, txHash, id string, eventID int64) domain.Event {
	return ev(domain.KindMarketCreated, block, logIndex, txHash, domain.MarketCreatedPayload{
		MarketID: id,
		EventID:  bi(eventID),
	})
}

func TestMarketCreated(t *testing.T) {
	a, store, sink := newTestApplier(t)
	ctx := context.Background()

	mustApply(t, a, marketCreated(10, 0, "0xaaa", "7", 3))

	m, err := store.GetMarket(ctx, "7")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if m.EventID.Cmp(bi(3)) != 0 {
		t.Errorf("event id = %s, want 3", m.EventID)
	}
	if m.TotalLocked.Sign() != 0 || m.TotalShares.Sign() != 0 {
		t.Errorf("new market has non-zero totals: locked=%s shares=%s", m.TotalLocked, m.TotalShares)
	}
	if m.Settled {
		t.Error("new market is settled")
	}
	if len(m.OutcomeLocked) != 0 || len(m.OutcomePrices) != 0 {
		t.Errorf("new market has non-empty outcome arrays: %d/%d", len(m.OutcomeLocked), len(m.OutcomePrices))
	}
	if got, want := m.LastApplied, (domain.Cursor{Block: 10, LogIndex: 0}); got != want {
		t.Errorf("watermark = %s, want %s", got, want)
	}
	if len(sink.Diags) != 0 {
		t.Errorf("unexpected diagnostics: %+v", sink.Diags)
	}
}

func TestBetPlacedFoldsNotional(t *testing.T) {
	a, store, _ := newTestApplier(t)
	ctx := context.Background()

	mustApply(t, a,
		marketCreated(10, 0, "0xaaa", "7", 3),
		ev(domain.KindBetPlaced, 11, 0, "0xbb1", domain.BetPlacedPayload{
			User: "0xa1", MarketID: "7", Outcome: 2, Shares: bi(10), Price: bi(5),
		}),
		ev(domain.KindBetPlaced, 12, 0, "0xbb2", domain.BetPlacedPayload{
			User: "0xa2", MarketID: "7", Outcome: 0, Shares: bi(3), Price: bi(7),
		}),
	)

	m, err := store.GetMarket(ctx, "7")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	// Outcome arrays lazily extended to cover index 2.
	if len(m.OutcomeLocked) != 3 || len(m.OutcomePrices) != 3 {
		t.Fatalf("outcome arrays len = %d/%d, want 3/3", len(m.OutcomeLocked), len(m.OutcomePrices))
	}
	if m.OutcomeLocked[2].Cmp(bi(50)) != 0 {
		t.Errorf("outcome 2 locked = %s, want 50", m.OutcomeLocked[2])
	}
	if m.OutcomePrices[2].Cmp(bi(5)) != 0 {
		t.Errorf("outcome 2 price = %s, want 5", m.OutcomePrices[2])
	}
	if m.OutcomeLocked[0].Cmp(bi(21)) != 0 {
		t.Errorf("outcome 0 locked = %s, want 21", m.OutcomeLocked[0])
	}
	if m.OutcomeLocked[1].Sign() != 0 {
		t.Errorf("untouched outcome 1 locked = %s, want 0", m.OutcomeLocked[1])
	}
	if m.TotalLocked.Cmp(bi(71)) != 0 {
		t.Errorf("total locked = %s, want 71", m.TotalLocked)
	}

	// Bets touch the market only; no user aggregate is created for bettors.
	for _, addr := range []string{"0xa1", "0xa2"} {
		if _, err := store.GetUser(ctx, addr); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("bettor %s should not have a user row, got err %v", addr, err)
		}
	}
}

func TestBetPlacedMissingMarketWarns(t *testing.T) {
	a, store, sink := newTestApplier(t)
	ctx := context.Background()

	mustApply(t, a, ev(domain.KindBetPlaced, 5, 1, "0xccc", domain.BetPlacedPayload{
		User: "0xa1", MarketID: "404", Outcome: 0, Shares: bi(1), Price: bi(1),
	}))

	if _, err := store.GetMarket(ctx, "404"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("market should not exist, got err %v", err)
	}
	if len(sink.Diags) != 1 {
		t.Fatalf("diagnostics = %d, want 1", len(sink.Diags))
	}
	d := sink.Diags[0]
	if d.Severity != domain.SeverityWarn || d.Code != domain.DiagMarketNotFound {
		t.Errorf("diagnostic = %s/%s, want warn/%s", d.Severity, d.Code, domain.DiagMarketNotFound)
	}
	// The mirror row still commits: the event happened even if its referent is gone.
	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("raw event count = %d, want 1", n)
	}
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	a, store, _ := newTestApplier(t)
	ctx := context.Background()

	bet := ev(domain.KindBetPlaced, 11, 0, "0xbb1", domain.BetPlacedPayload{
		User: "0xa1", MarketID: "7", Outcome: 0, Shares: bi(10), Price: bi(5),
	})
	mustApply(t, a, marketCreated(10, 0, "0xaaa", "7", 3), bet)

	// Re-deliver the identical event: watermark absorbs the mutation, the
	// mirror upsert is a no-op, and no error surfaces.
	mustApply(t, a, bet)

	m, err := store.GetMarket(ctx, "7")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if m.TotalLocked.Cmp(bi(50)) != 0 {
		t.Errorf("total locked after duplicate = %s, want 50 (not double-applied)", m.TotalLocked)
	}
	if n, _ := store.Count(ctx); n != 2 {
		t.Errorf("raw event count = %d, want 2", n)
	}
}

func TestReplayConflict(t *testing.T) {
	a, _, sink := newTestApplier(t)

	mustApply(t, a, marketCreated(10, 0, "0xaaa", "7", 3))

	// Same kind and composite key, different payload: data corruption.
	conflicting := marketCreated(10, 0, "0xaaa", "8", 3)
	err := a.Apply(context.Background(), conflicting)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("apply conflicting replay: err = %v, want ErrConflict", err)
	}

	found := false
	for _, d := range sink.Diags {
		if d.Code == domain.DiagReplayConflict && d.Severity == domain.SeverityFatal {
			found = true
		}
	}
	if !found {
		t.Errorf("no fatal replay_conflict diagnostic emitted: %+v", sink.Diags)
	}
}

func TestOrderLifecycleScenario(t *testing.T) {
	// MarketCreated(7) -> OrderPlaced(0xaa, 100 @ 2) -> OrderMatched(40 @ 2).
	// The match is emitted under the placing event's (txHash, logIndex).
	a, store, _ := newTestApplier(t)
	ctx := context.Background()

	const orderTx = "0xdd1"
	mustApply(t, a,
		marketCreated(10, 0, "0xaaa", "7", 3),
		ev(domain.KindOrderPlaced, 11, 2, orderTx, domain.OrderPlacedPayload{
			MarketID: "7", Outcome: 0, Amount: bi(100), Price: bi(2),
			Trader: "0xaa", IsLimit: true,
		}),
		ev(domain.KindOrderMatched, 12, 2, orderTx, domain.OrderMatchedPayload{
			MarketID: "7", Outcome: 0, Amount: bi(40), Price: bi(2),
			Buyer: "0xaa", Seller: "0xbb",
		}),
	)

	key := domain.OrderKey{TxHash: orderTx, LogIndex: 2}
	o, err := store.GetOrder(ctx, key)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Share.Cmp(bi(60)) != 0 {
		t.Errorf("remaining share = %s, want 60", o.Share)
	}
	if !o.IsLimit || !o.IsBuy {
		t.Errorf("is_limit/is_buy = %v/%v, want true/true", o.IsLimit, o.IsBuy)
	}
	if !o.Open() {
		t.Error("partially filled order should still be open")
	}

	buyer, err := store.GetUser(ctx, "0xaa")
	if err != nil {
		t.Fatalf("get buyer: %v", err)
	}
	if buyer.VolumeTraded.Cmp(bi(200)) != 0 {
		t.Errorf("volume traded = %s, want 200", buyer.VolumeTraded)
	}
	if buyer.UnsettledVolume.Cmp(bi(80)) != 0 {
		t.Errorf("unsettled volume = %s, want 80", buyer.UnsettledVolume)
	}

	// The seller side is deliberately not credited.
	if _, err := store.GetUser(ctx, "0xbb"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("seller should not exist, got err %v", err)
	}
}

func TestOrderMatchedFloorsAtZero(t *testing.T) {
	a, store, _ := newTestApplier(t)
	ctx := context.Background()

	const orderTx = "0xdd2"
	mustApply(t, a,
		ev(domain.KindOrderPlaced, 11, 0, orderTx, domain.OrderPlacedPayload{
			MarketID: "7", Outcome: 0, Amount: bi(10), Price: bi(1),
			Trader: "0xaa", IsLimit: false,
		}),
		ev(domain.KindOrderMatched, 12, 0, orderTx, domain.OrderMatchedPayload{
			MarketID: "7", Outcome: 0, Amount: bi(25), Price: bi(1),
			Buyer: "0xaa", Seller: "0xbb",
		}),
	)

	o, err := store.GetOrder(ctx, domain.OrderKey{TxHash: orderTx, LogIndex: 0})
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Share.Sign() != 0 {
		t.Errorf("over-matched share = %s, want 0", o.Share)
	}
	if o.Open() {
		t.Error("fully filled order should be closed")
	}
}

func TestOrderMatchedMissingOrderWarns(t *testing.T) {
	a, store, sink := newTestApplier(t)
	ctx := context.Background()

	mustApply(t, a, ev(domain.KindOrderMatched, 12, 0, "0xno", domain.OrderMatchedPayload{
		MarketID: "7", Outcome: 0, Amount: bi(5), Price: bi(3),
		Buyer: "0xaa", Seller: "0xbb",
	}))

	if len(sink.Diags) != 1 || sink.Diags[0].Code != domain.DiagOrderNotFound {
		t.Fatalf("diagnostics = %+v, want one order_not_found warning", sink.Diags)
	}
	// The buyer's volume accrues even when the order is missing.
	buyer, err := store.GetUser(ctx, "0xaa")
	if err != nil {
		t.Fatalf("get buyer: %v", err)
	}
	if buyer.UnsettledVolume.Cmp(bi(15)) != 0 {
		t.Errorf("unsettled volume = %s, want 15", buyer.UnsettledVolume)
	}
}

func TestOrderCancelledZeroesShareAndMayGoNegative(t *testing.T) {
	a, store, _ := newTestApplier(t)
	ctx := context.Background()

	const orderTx = "0xdd3"
	mustApply(t, a,
		ev(domain.KindOrderPlaced, 11, 0, orderTx, domain.OrderPlacedPayload{
			MarketID: "7", Outcome: 1, Amount: bi(100), Price: bi(2),
			Trader: "0xaa", IsLimit: true,
		}),
		ev(domain.KindOrderCancelled, 12, 0, orderTx, domain.OrderCancelledPayload{
			Trader: "0xaa", MarketID: "7", Outcome: 1, Amount: bi(100), Price: bi(2), IsBuy: true,
		}),
	)

	o, err := store.GetOrder(ctx, domain.OrderKey{TxHash: orderTx, LogIndex: 0})
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Share.Sign() != 0 {
		t.Errorf("cancelled share = %s, want 0", o.Share)
	}

	// No floor on the unsettled subtraction: nothing was matched first, so
	// the balance goes negative.
	u, err := store.GetUser(ctx, "0xaa")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.UnsettledVolume.Cmp(bi(-200)) != 0 {
		t.Errorf("unsettled volume = %s, want -200", u.UnsettledVolume)
	}
}

func TestMarketSettledIsTerminalUnderWatermark(t *testing.T) {
	a, store, _ := newTestApplier(t)
	ctx := context.Background()

	mustApply(t, a,
		marketCreated(10, 0, "0xaaa", "7", 3),
		ev(domain.KindMarketSettled, 20, 0, "0xee1", domain.MarketSettledPayload{MarketID: "7", Outcome: 1}),
	)

	// A replay of an earlier-or-equal settlement is rejected by the watermark.
	mustApply(t, a,
		ev(domain.KindMarketSettled, 20, 0, "0xee1", domain.MarketSettledPayload{MarketID: "7", Outcome: 1}),
	)
	m, err := store.GetMarket(ctx, "7")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if !m.Settled || m.FinalOutcome != 1 {
		t.Errorf("settled/final = %v/%d, want true/1", m.Settled, m.FinalOutcome)
	}

	// A genuinely later settlement event is applied last-write-wins.
	mustApply(t, a,
		ev(domain.KindMarketSettled, 21, 0, "0xee2", domain.MarketSettledPayload{MarketID: "7", Outcome: 2}),
	)
	m, err = store.GetMarket(ctx, "7")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if !m.Settled || m.FinalOutcome != 2 {
		t.Errorf("settled/final after later event = %v/%d, want true/2", m.Settled, m.FinalOutcome)
	}
}

func TestRewardClaimedRequiresExistingUser(t *testing.T) {
	a, store, sink := newTestApplier(t)
	ctx := context.Background()

	mustApply(t, a, ev(domain.KindRewardClaimed, 30, 0, "0xff1", domain.RewardClaimedPayload{
		User: "0xaa", MarketID: "7", Outcome: 0, Shares: bi(10), Reward: bi(99),
	}))

	// No lazy create on this path: a warning, not a zeroed user row.
	if _, err := store.GetUser(ctx, "0xaa"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("user should not exist, got err %v", err)
	}
	if len(sink.Diags) != 1 || sink.Diags[0].Code != domain.DiagUserNotFound {
		t.Fatalf("diagnostics = %+v, want one user_not_found warning", sink.Diags)
	}

	// Once the user exists, the reward accrues into profit.
	mustApply(t, a,
		ev(domain.KindOrderPlaced, 31, 0, "0xff2", domain.OrderPlacedPayload{
			MarketID: "7", Outcome: 0, Amount: bi(1), Price: bi(1),
			Trader: "0xaa", IsLimit: true,
		}),
		ev(domain.KindRewardClaimed, 32, 0, "0xff3", domain.RewardClaimedPayload{
			User: "0xaa", MarketID: "7", Outcome: 0, Shares: bi(10), Reward: bi(99),
		}),
	)
	u, err := store.GetUser(ctx, "0xaa")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Profit.Cmp(bi(99)) != 0 {
		t.Errorf("profit = %s, want 99", u.Profit)
	}
}

func TestSwapFoldsIntoUserAndMarket(t *testing.T) {
	a, store, _ := newTestApplier(t)
	ctx := context.Background()

	mustApply(t, a,
		marketCreated(10, 0, "0xaaa", "7", 3),
		// Establish outcome 0 with price 5 via a bet.
		ev(domain.KindBetPlaced, 11, 0, "0xbb1", domain.BetPlacedPayload{
			User: "0xa1", MarketID: "7", Outcome: 0, Shares: bi(10), Price: bi(5),
		}),
		ev(domain.KindSwap, 12, 0, "0xcc1", domain.SwapPayload{
			MarketID: "7", Outcome: 0, AmountIn: bi(30), AmountOut: bi(8), Trader: "0xa2",
		}),
	)

	m, err := store.GetMarket(ctx, "7")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if m.TotalLocked.Cmp(bi(80)) != 0 { // 50 from the bet + 30 swapped in
		t.Errorf("total locked = %s, want 80", m.TotalLocked)
	}
	if m.OutcomeLocked[0].Cmp(bi(80)) != 0 {
		t.Errorf("outcome 0 locked = %s, want 80", m.OutcomeLocked[0])
	}
	if m.TotalShares.Cmp(bi(8)) != 0 {
		t.Errorf("total shares = %s, want 8", m.TotalShares)
	}

	u, err := store.GetUser(ctx, "0xa2")
	if err != nil {
		t.Fatalf("get trader: %v", err)
	}
	// potentialProfit += price*amountOut - amountIn = 5*8 - 30 = 10
	if u.PotentialProfit.Cmp(bi(10)) != 0 {
		t.Errorf("potential profit = %s, want 10", u.PotentialProfit)
	}
}

func TestSwapMissingMarketIsAtomicNoOp(t *testing.T) {
	a, store, sink := newTestApplier(t)
	ctx := context.Background()

	mustApply(t, a, ev(domain.KindSwap, 12, 0, "0xcc2", domain.SwapPayload{
		MarketID: "99", Outcome: 0, AmountIn: bi(30), AmountOut: bi(8), Trader: "0xa2",
	}))

	if _, err := store.GetMarket(ctx, "99"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("market should not exist, got err %v", err)
	}
	// The failed swap must not create an orphaned user.
	if _, err := store.GetUser(ctx, "0xa2"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("user should not exist, got err %v", err)
	}
	if len(sink.Diags) != 1 || sink.Diags[0].Severity != domain.SeverityWarn {
		t.Fatalf("diagnostics = %+v, want one warning", sink.Diags)
	}
}

func TestSwapOutcomeOutOfRangeRejectsWholeEvent(t *testing.T) {
	a, store, sink := newTestApplier(t)
	ctx := context.Background()

	mustApply(t, a, marketCreated(10, 0, "0xaaa", "7", 3))

	// No bet has extended the arrays, so outcome 0 does not exist yet.
	swap := ev(domain.KindSwap, 12, 0, "0xcc3", domain.SwapPayload{
		MarketID: "7", Outcome: 0, AmountIn: bi(30), AmountOut: bi(8), Trader: "0xa2",
	})
	err := a.Apply(context.Background(), swap)
	if !errors.Is(err, domain.ErrOutcomeRange) {
		t.Fatalf("apply swap: err = %v, want ErrOutcomeRange", err)
	}
	if !EventFault(err) {
		t.Error("outcome-range rejection should be event-scoped")
	}

	// Rejection is all-or-nothing: no user, no market mutation, and the
	// mirror row rolled back with the rest of the transaction.
	if _, err := store.GetUser(ctx, "0xa2"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("user should not exist, got err %v", err)
	}
	m, _ := store.GetMarket(ctx, "7")
	if m.TotalLocked.Sign() != 0 {
		t.Errorf("total locked = %s, want 0", m.TotalLocked)
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("raw event count = %d, want 1 (swap mirror rolled back)", n)
	}

	fatal := false
	for _, d := range sink.Diags {
		if d.Severity == domain.SeverityFatal && d.Code == domain.DiagOutcomeRange {
			fatal = true
		}
	}
	if !fatal {
		t.Errorf("no fatal outcome_out_of_range diagnostic: %+v", sink.Diags)
	}
}

func TestMonotonicTotals(t *testing.T) {
	a, store, _ := newTestApplier(t)
	ctx := context.Background()

	events := []domain.Event{
		marketCreated(10, 0, "0xaaa", "7", 3),
		ev(domain.KindBetPlaced, 11, 0, "0xb1", domain.BetPlacedPayload{
			User: "0xa1", MarketID: "7", Outcome: 0, Shares: bi(4), Price: bi(3),
		}),
		ev(domain.KindSwap, 12, 0, "0xc1", domain.SwapPayload{
			MarketID: "7", Outcome: 0, AmountIn: bi(9), AmountOut: bi(2), Trader: "0xa2",
		}),
		ev(domain.KindOrderPlaced, 13, 0, "0xd1", domain.OrderPlacedPayload{
			MarketID: "7", Outcome: 0, Amount: bi(5), Price: bi(2), Trader: "0xa1", IsLimit: true,
		}),
		ev(domain.KindOrderCancelled, 14, 0, "0xd1", domain.OrderCancelledPayload{
			Trader: "0xa1", MarketID: "7", Outcome: 0, Amount: bi(5), Price: bi(2), IsBuy: true,
		}),
		ev(domain.KindMarketSettled, 15, 0, "0xe1", domain.MarketSettledPayload{MarketID: "7", Outcome: 0}),
	}

	prevLocked, prevShares := bi(0), bi(0)
	for _, e := range events {
		mustApply(t, a, e)
		m, err := store.GetMarket(ctx, "7")
		if err != nil {
			t.Fatalf("get market after %s: %v", e.Kind, err)
		}
		if m.TotalLocked.Cmp(prevLocked) < 0 {
			t.Errorf("total locked decreased after %s: %s -> %s", e.Kind, prevLocked, m.TotalLocked)
		}
		if m.TotalShares.Cmp(prevShares) < 0 {
			t.Errorf("total shares decreased after %s: %s -> %s", e.Kind, prevShares, m.TotalShares)
		}
		prevLocked, prevShares = m.TotalLocked, m.TotalShares
	}
}

func TestUnrelatedEventsOrderIndependent(t *testing.T) {
	// Two OrderPlaced events on different markets and traders must fold to
	// the same state regardless of interleaving.
	placedA := func(block uint64) domain.Event {
		return ev(domain.KindOrderPlaced, block, 0, "0xa100", domain.OrderPlacedPayload{
			MarketID: "1", Outcome: 0, Amount: bi(10), Price: bi(2), Trader: "0xaa", IsLimit: true,
		})
	}
	placedB := func(block uint64) domain.Event {
		return ev(domain.KindOrderPlaced, block, 0, "0xb200", domain.OrderPlacedPayload{
			MarketID: "2", Outcome: 1, Amount: bi(7), Price: bi(3), Trader: "0xbb", IsLimit: false,
		})
	}

	run := func(first, second domain.Event) (*memory.Store, error) {
		store := memory.New()
		a := New(store, NopSink{}, testLogger())
		if err := a.Apply(context.Background(), first); err != nil {
			return nil, err
		}
		return store, a.Apply(context.Background(), second)
	}

	s1, err := run(placedA(10), placedB(11))
	if err != nil {
		t.Fatalf("order AB: %v", err)
	}
	s2, err := run(placedB(10), placedA(11))
	if err != nil {
		t.Fatalf("order BA: %v", err)
	}

	ctx := context.Background()
	for _, addr := range []string{"0xaa", "0xbb"} {
		u1, err1 := s1.GetUser(ctx, addr)
		u2, err2 := s2.GetUser(ctx, addr)
		if err1 != nil || err2 != nil {
			t.Fatalf("get user %s: %v / %v", addr, err1, err2)
		}
		if u1.VolumeTraded.Cmp(u2.VolumeTraded) != 0 {
			t.Errorf("user %s volume differs across interleavings: %s vs %s",
				addr, u1.VolumeTraded, u2.VolumeTraded)
		}
	}
}

func TestMirrorOnlyKinds(t *testing.T) {
	a, store, sink := newTestApplier(t)
	ctx := context.Background()

	mustApply(t, a,
		ev(domain.KindFeesWithdrawn, 10, 0, "0x01", domain.FeesWithdrawnPayload{Amount: bi(12)}),
		ev(domain.KindLog, 10, 1, "0x01", domain.LogPayload{Note: "checkpoint", Value: bi(0)}),
		ev(domain.KindOwnershipTransferred, 10, 2, "0x01", domain.OwnershipTransferredPayload{
			PreviousOwner: "0x0", NewOwner: "0x1",
		}),
	)

	if n, _ := store.Count(ctx); n != 3 {
		t.Errorf("raw event count = %d, want 3", n)
	}
	if len(store.Markets()) != 0 || store.UserCount() != 0 {
		t.Error("mirror-only kinds must not create aggregates")
	}
	if len(sink.Diags) != 0 {
		t.Errorf("unexpected diagnostics: %+v", sink.Diags)
	}
}

func TestInvalidPayloadRejected(t *testing.T) {
	a, store, sink := newTestApplier(t)

	bad := ev(domain.KindBetPlaced, 10, 0, "0x01", domain.BetPlacedPayload{
		User: "0xa1", MarketID: "7", Outcome: 0, Shares: nil, Price: bi(1),
	})
	err := a.Apply(context.Background(), bad)
	if !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("apply: err = %v, want ErrInvalidPayload", err)
	}
	if !EventFault(err) {
		t.Error("invalid payload should be event-scoped")
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Errorf("raw event count = %d, want 0 (rejected before the mirror)", n)
	}
	if len(sink.Diags) != 1 || sink.Diags[0].Code != domain.DiagBadPayload {
		t.Fatalf("diagnostics = %+v, want one invalid_payload fatal", sink.Diags)
	}
}

func TestKindPayloadMismatchRejected(t *testing.T) {
	a, _, _ := newTestApplier(t)

	mismatched := ev(domain.KindSwap, 10, 0, "0x01", domain.FeesWithdrawnPayload{Amount: bi(1)})
	err := a.Apply(context.Background(), mismatched)
	if !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("apply: err = %v, want ErrInvalidPayload", err)
	}
}
