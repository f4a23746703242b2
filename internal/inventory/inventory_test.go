package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestLedger() *Ledger {
	return NewLedger(NewMemoryStore())
}

func addItem(t *testing.T, l *Ledger, owner, name string) *Item {
	t.Helper()
	item, err := l.AddItem(context.Background(), AddItemRequest{OwnerID: owner, Name: name})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	return item
}

func TestTryHoldHappyPath(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	item := addItem(t, l, "usr_alice", "Golden Dragon")

	until := time.Now().Add(10 * time.Minute)
	if err := l.TryHold(ctx, item.ID, "usr_alice", "trd_1", until); err != nil {
		t.Fatalf("TryHold: %v", err)
	}

	got, err := l.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusOnHold {
		t.Errorf("status = %q, want %q", got.Status, StatusOnHold)
	}
	if got.LockedByTradeID != "trd_1" {
		t.Errorf("lockedByTradeId = %q, want trd_1", got.LockedByTradeID)
	}
	if got.HoldUntil == nil {
		t.Error("holdUntil not set")
	}
}

func TestTryHoldWrongOwner(t *testing.T) {
	l := newTestLedger()
	item := addItem(t, l, "usr_alice", "Golden Dragon")

	err := l.TryHold(context.Background(), item.ID, "usr_bob", "trd_1", time.Now().Add(time.Minute))
	if !errors.Is(err, ErrNotOwned) {
		t.Errorf("err = %v, want ErrNotOwned", err)
	}
}

func TestTryHoldAlreadyHeld(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	item := addItem(t, l, "usr_alice", "Golden Dragon")

	until := time.Now().Add(time.Minute)
	if err := l.TryHold(ctx, item.ID, "usr_alice", "trd_1", until); err != nil {
		t.Fatalf("first TryHold: %v", err)
	}
	err := l.TryHold(ctx, item.ID, "usr_alice", "trd_2", until)
	if !errors.Is(err, ErrHoldConflict) {
		t.Errorf("err = %v, want ErrHoldConflict", err)
	}
}

func TestTryHoldNotFound(t *testing.T) {
	l := newTestLedger()
	err := l.TryHold(context.Background(), "itm_missing", "usr_alice", "trd_1", time.Now())
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("err = %v, want ErrItemNotFound", err)
	}
}

// Exactly one of N concurrent holders may win an available item.
func TestTryHoldConcurrentSingleWinner(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	item := addItem(t, l, "usr_alice", "Golden Dragon")

	const n = 50
	until := time.Now().Add(time.Minute)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.TryHold(ctx, item.ID, "usr_alice", fmt.Sprintf("trd_%d", i), until)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrHoldConflict) {
			t.Errorf("loser err = %v, want ErrHoldConflict", err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	item := addItem(t, l, "usr_alice", "Golden Dragon")

	if err := l.TryHold(ctx, item.ID, "usr_alice", "trd_1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("TryHold: %v", err)
	}
	if err := l.Release(ctx, item.ID, "trd_1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	// Second release is a no-op.
	if err := l.Release(ctx, item.ID, "trd_1"); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	got, _ := l.Get(ctx, item.ID)
	if got.Status != StatusAvailable {
		t.Errorf("status = %q, want %q", got.Status, StatusAvailable)
	}
	if got.LockedByTradeID != "" {
		t.Errorf("lockedByTradeId = %q, want empty", got.LockedByTradeID)
	}
}

func TestReleaseWrongTrade(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	item := addItem(t, l, "usr_alice", "Golden Dragon")

	if err := l.TryHold(ctx, item.ID, "usr_alice", "trd_1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("TryHold: %v", err)
	}
	err := l.Release(ctx, item.ID, "trd_2")
	if !errors.Is(err, ErrNotHeld) {
		t.Errorf("err = %v, want ErrNotHeld", err)
	}
}

func TestTransfer(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	item := addItem(t, l, "usr_alice", "Golden Dragon")

	if err := l.TryHold(ctx, item.ID, "usr_alice", "trd_1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("TryHold: %v", err)
	}
	if err := l.Transfer(ctx, item.ID, "usr_alice", "usr_bob", "trd_1"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	got, _ := l.Get(ctx, item.ID)
	if got.OwnerID != "usr_bob" {
		t.Errorf("ownerId = %q, want usr_bob", got.OwnerID)
	}
	if got.Status != StatusAvailable {
		t.Errorf("status = %q, want %q", got.Status, StatusAvailable)
	}
	if got.LastTradeID != "trd_1" {
		t.Errorf("lastTradeId = %q, want trd_1", got.LastTradeID)
	}
}

func TestTransferRequiresHold(t *testing.T) {
	l := newTestLedger()
	item := addItem(t, l, "usr_alice", "Golden Dragon")

	err := l.Transfer(context.Background(), item.ID, "usr_alice", "usr_bob", "trd_1")
	if !errors.Is(err, ErrHoldConflict) {
		t.Errorf("err = %v, want ErrHoldConflict", err)
	}
}

func TestListStaleHolds(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	stale := addItem(t, l, "usr_alice", "Old Hold")
	fresh := addItem(t, l, "usr_alice", "Fresh Hold")

	if err := l.TryHold(ctx, stale.ID, "usr_alice", "trd_1", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("TryHold stale: %v", err)
	}
	if err := l.TryHold(ctx, fresh.ID, "usr_alice", "trd_2", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("TryHold fresh: %v", err)
	}

	items, err := l.ListStaleHolds(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ListStaleHolds: %v", err)
	}
	if len(items) != 1 || items[0].ID != stale.ID {
		t.Fatalf("stale holds = %v, want just %s", items, stale.ID)
	}
}
