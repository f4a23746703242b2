package listing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mdade/swapvault/internal/inventory"
)

func newTestRegistry(t *testing.T) (*Registry, *inventory.Ledger) {
	t.Helper()
	ledger := inventory.NewLedger(inventory.NewMemoryStore())
	return NewRegistry(NewMemoryStore(), ledger), ledger
}

func addItem(t *testing.T, ledger *inventory.Ledger, owner string) *inventory.Item {
	t.Helper()
	item, err := ledger.AddItem(context.Background(), inventory.AddItemRequest{
		OwnerID: owner,
		Name:    "Crystal Fox",
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	return item
}

func TestOpenListing(t *testing.T) {
	r, ledger := newTestRegistry(t)
	ctx := context.Background()
	item := addItem(t, ledger, "usr_alice")

	l, err := r.Open(ctx, "usr_alice", OpenRequest{InventoryItemID: item.ID})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if l.Status != StatusActive {
		t.Errorf("status = %q, want %q", l.Status, StatusActive)
	}
	if l.OwnerID != "usr_alice" {
		t.Errorf("ownerId = %q, want usr_alice", l.OwnerID)
	}
}

func TestOpenListingNotOwner(t *testing.T) {
	r, ledger := newTestRegistry(t)
	item := addItem(t, ledger, "usr_alice")

	_, err := r.Open(context.Background(), "usr_bob", OpenRequest{InventoryItemID: item.ID})
	if !errors.Is(err, ErrNotOwner) {
		t.Errorf("err = %v, want ErrNotOwner", err)
	}
}

func TestOpenListingDuplicate(t *testing.T) {
	r, ledger := newTestRegistry(t)
	ctx := context.Background()
	item := addItem(t, ledger, "usr_alice")

	if _, err := r.Open(ctx, "usr_alice", OpenRequest{InventoryItemID: item.ID}); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	_, err := r.Open(ctx, "usr_alice", OpenRequest{InventoryItemID: item.ID})
	if !errors.Is(err, ErrAlreadyListed) {
		t.Errorf("err = %v, want ErrAlreadyListed", err)
	}
}

func TestOpenListingHeldItem(t *testing.T) {
	r, ledger := newTestRegistry(t)
	ctx := context.Background()
	item := addItem(t, ledger, "usr_alice")

	if err := ledger.TryHold(ctx, item.ID, "usr_alice", "trd_1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("TryHold: %v", err)
	}
	_, err := r.Open(ctx, "usr_alice", OpenRequest{InventoryItemID: item.ID})
	if !errors.Is(err, ErrItemUnavailable) {
		t.Errorf("err = %v, want ErrItemUnavailable", err)
	}
}

func TestTransitionsNoOpSafe(t *testing.T) {
	r, ledger := newTestRegistry(t)
	ctx := context.Background()
	item := addItem(t, ledger, "usr_alice")

	l, err := r.Open(ctx, "usr_alice", OpenRequest{InventoryItemID: item.ID})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := r.MarkOnHold(ctx, l.ID, "trd_1"); err != nil {
		t.Fatalf("MarkOnHold: %v", err)
	}
	// Retry with the same trade is a no-op.
	if err := r.MarkOnHold(ctx, l.ID, "trd_1"); err != nil {
		t.Fatalf("retried MarkOnHold: %v", err)
	}
	// A different trade cannot take the hold.
	if err := r.MarkOnHold(ctx, l.ID, "trd_2"); !errors.Is(err, ErrBadState) {
		t.Errorf("MarkOnHold other trade err = %v, want ErrBadState", err)
	}

	if err := r.MarkCompleted(ctx, l.ID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if err := r.MarkCompleted(ctx, l.ID); err != nil {
		t.Fatalf("retried MarkCompleted: %v", err)
	}

	got, _ := r.Get(ctx, l.ID)
	if got.Status != StatusCompleted {
		t.Errorf("status = %q, want %q", got.Status, StatusCompleted)
	}
	if got.ClosedAt == nil {
		t.Error("closedAt not set")
	}
}

func TestCloseOnHoldListing(t *testing.T) {
	r, ledger := newTestRegistry(t)
	ctx := context.Background()
	item := addItem(t, ledger, "usr_alice")

	l, err := r.Open(ctx, "usr_alice", OpenRequest{InventoryItemID: item.ID})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.MarkOnHold(ctx, l.ID, "trd_1"); err != nil {
		t.Fatalf("MarkOnHold: %v", err)
	}

	_, err = r.Close(ctx, "usr_alice", l.ID)
	if !errors.Is(err, ErrBadState) {
		t.Errorf("err = %v, want ErrBadState", err)
	}
}
