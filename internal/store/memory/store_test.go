package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

func raw(kind domain.EventKind, block uint64, logIndex uint, txHash, payload string) domain.RawEvent {
	return domain.RawEvent{
		Kind:      kind,
		Block:     block,
		BlockTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		TxHash:    txHash,
		LogIndex:  logIndex,
		Payload:   []byte(payload),
	}
}

func TestTxCommitAndRollback(t *testing.T) {
	s := New()
	ctx := context.Background()

	m := domain.NewMarket("7", big.NewInt(3), domain.Cursor{Block: 10})
	err := s.InTx(ctx, func(tx domain.Tx) error {
		return tx.PutMarket(ctx, m)
	})
	if err != nil {
		t.Fatalf("commit tx: %v", err)
	}
	if _, err := s.GetMarket(ctx, "7"); err != nil {
		t.Fatalf("committed market missing: %v", err)
	}

	boom := errors.New("boom")
	err = s.InTx(ctx, func(tx domain.Tx) error {
		settled := m.Clone()
		settled.Settled = true
		if err := tx.PutMarket(ctx, settled); err != nil {
			return err
		}
		if err := tx.PutUser(ctx, domain.NewUser("0xaa")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("tx error = %v, want boom", err)
	}

	// Nothing from the failed transaction is visible.
	got, err := s.GetMarket(ctx, "7")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if got.Settled {
		t.Error("rolled-back mutation leaked into committed state")
	}
	if _, err := s.GetUser(ctx, "0xaa"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("rolled-back user visible: err = %v", err)
	}
}

func TestTxReadsItsOwnWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.InTx(ctx, func(tx domain.Tx) error {
		u := domain.NewUser("0xaa")
		u.VolumeTraded = big.NewInt(10)
		if err := tx.PutUser(ctx, u); err != nil {
			return err
		}
		got, err := tx.GetUser(ctx, "0xaa")
		if err != nil {
			return err
		}
		if got.VolumeTraded.Cmp(big.NewInt(10)) != 0 {
			t.Errorf("uncommitted read = %s, want 10", got.VolumeTraded)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestAppendRawKindsCoexist(t *testing.T) {
	// A match event shares the placing event's (txHash, logIndex); both
	// mirror rows must coexist because kind is part of the identity.
	s := New()
	ctx := context.Background()

	placed := raw(domain.KindOrderPlaced, 11, 2, "0xdd1", `{"amount":"100"}`)
	matched := raw(domain.KindOrderMatched, 12, 2, "0xdd1", `{"amount":"40"}`)

	err := s.InTx(ctx, func(tx domain.Tx) error {
		if err := tx.AppendRaw(ctx, placed); err != nil {
			return err
		}
		return tx.AppendRaw(ctx, matched)
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if n, _ := s.Count(ctx); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestAppendRawReplayAndConflict(t *testing.T) {
	s := New()
	ctx := context.Background()

	r := raw(domain.KindMarketCreated, 10, 0, "0xaaa", `{"market_id":"7"}`)
	if err := s.InTx(ctx, func(tx domain.Tx) error { return tx.AppendRaw(ctx, r) }); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Identical replay is a silent no-op.
	if err := s.InTx(ctx, func(tx domain.Tx) error { return tx.AppendRaw(ctx, r) }); err != nil {
		t.Fatalf("identical replay: %v", err)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("count after replay = %d, want 1", n)
	}

	// Same key and kind with a different payload is corruption.
	diverged := raw(domain.KindMarketCreated, 10, 0, "0xaaa", `{"market_id":"8"}`)
	err := s.InTx(ctx, func(tx domain.Tx) error { return tx.AppendRaw(ctx, diverged) })
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("diverged replay: err = %v, want ErrConflict", err)
	}
}

func TestAppendRawConflictWithinTx(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.InTx(ctx, func(tx domain.Tx) error {
		if err := tx.AppendRaw(ctx, raw(domain.KindLog, 5, 0, "0x01", `{"value":"1"}`)); err != nil {
			return err
		}
		return tx.AppendRaw(ctx, raw(domain.KindLog, 5, 0, "0x01", `{"value":"2"}`))
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("in-tx conflict: err = %v, want ErrConflict", err)
	}
	// The conflicting transaction rolled back entirely.
	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestListAfterOrderAndLimit(t *testing.T) {
	s := New()
	ctx := context.Background()

	rows := []domain.RawEvent{
		raw(domain.KindLog, 12, 0, "0x03", `{}`),
		raw(domain.KindLog, 10, 1, "0x01", `{}`),
		raw(domain.KindLog, 10, 0, "0x01", `{}`),
		raw(domain.KindLog, 11, 0, "0x02", `{}`),
	}
	err := s.InTx(ctx, func(tx domain.Tx) error {
		for _, r := range rows {
			if err := tx.AppendRaw(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	out, err := s.ListAfter(ctx, domain.Cursor{Block: 10, LogIndex: 0}, 0)
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	want := []domain.Cursor{{Block: 10, LogIndex: 1}, {Block: 11}, {Block: 12}}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i, r := range out {
		if r.Cursor() != want[i] {
			t.Errorf("row %d cursor = %s, want %s", i, r.Cursor(), want[i])
		}
	}

	limited, err := s.ListAfter(ctx, domain.Cursor{}, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 || limited[0].Cursor() != (domain.Cursor{Block: 10, LogIndex: 0}) {
		t.Errorf("limited page = %d rows starting %s, want 2 from 10/0", len(limited), limited[0].Cursor())
	}
}

func TestListBeforeBlock(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.InTx(ctx, func(tx domain.Tx) error {
		for _, r := range []domain.RawEvent{
			raw(domain.KindLog, 9, 0, "0x01", `{}`),
			raw(domain.KindLog, 10, 0, "0x02", `{}`),
			raw(domain.KindLog, 11, 0, "0x03", `{}`),
		} {
			if err := tx.AppendRaw(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	out, err := s.ListBeforeBlock(ctx, 11)
	if err != nil {
		t.Fatalf("list before: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2 (cutoff is exclusive)", len(out))
	}
	for _, r := range out {
		if r.Block >= 11 {
			t.Errorf("row at block %d past the cutoff", r.Block)
		}
	}
}

func TestCheckpoint(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.GetCheckpoint(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("empty checkpoint: err = %v, want ErrNotFound", err)
	}

	c := domain.Cursor{Block: 42, LogIndex: 7}
	if err := s.PutCheckpoint(ctx, c); err != nil {
		t.Fatalf("put checkpoint: %v", err)
	}
	got, err := s.GetCheckpoint(ctx)
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if got != c {
		t.Errorf("checkpoint = %s, want %s", got, c)
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	s := New()
	ctx := context.Background()

	m := domain.NewMarket("7", big.NewInt(3), domain.Cursor{Block: 10})
	if err := s.InTx(ctx, func(tx domain.Tx) error { return tx.PutMarket(ctx, m) }); err != nil {
		t.Fatalf("commit: %v", err)
	}

	snap, err := s.GetMarket(ctx, "7")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	snap.TotalLocked.SetInt64(999)

	again, err := s.GetMarket(ctx, "7")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.TotalLocked.Sign() != 0 {
		t.Error("mutating a snapshot leaked into the store")
	}
}
