// Package inventory owns the authoritative status of every tradable item.
//
// Each item belongs to exactly one owner and is Available, OnHold, or
// Archived. A hold is an exclusive, time-bounded claim taken by a trade:
// TryHold is the single point of mutual exclusion for item availability,
// and is linearizable — of two concurrent TryHold calls for the same item,
// exactly one succeeds. Items are never deleted, only archived.
package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/mdade/swapvault/internal/idgen"
	"github.com/mdade/swapvault/internal/metrics"
)

var (
	ErrItemNotFound = errors.New("item not found")
	ErrNotOwned     = errors.New("item not owned by caller")
	ErrNotAvailable = errors.New("item not available")
	ErrHoldConflict = errors.New("item already held by another trade")
	ErrNotHeld      = errors.New("item not held by this trade")
)

// Status represents the state of an inventory item.
type Status string

const (
	StatusAvailable Status = "available"
	StatusOnHold    Status = "on_hold"
	StatusArchived  Status = "archived"
)

// Item is a single tradable collectible.
type Item struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"ownerId"`
	Name            string     `json:"name"`
	Rarity          string     `json:"rarity,omitempty"`
	Status          Status     `json:"status"`
	LockedByTradeID string     `json:"lockedByTradeId,omitempty"`
	HoldUntil       *time.Time `json:"holdUntil,omitempty"`
	LastTradeID     string     `json:"lastTradeId,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// StaleHold reports whether the item's hold has outlived its expiry.
func (i *Item) StaleHold(now time.Time) bool {
	return i.Status == StatusOnHold && i.HoldUntil != nil && i.HoldUntil.Before(now)
}

// AddItemRequest contains the parameters for issuing a new item.
type AddItemRequest struct {
	OwnerID string `json:"ownerId" binding:"required"`
	Name    string `json:"name" binding:"required"`
	Rarity  string `json:"rarity"`
}

// Store persists inventory items. Every mutation is a narrow conditional
// operation; there is no generic update.
type Store interface {
	Create(ctx context.Context, item *Item) error
	Get(ctx context.Context, id string) (*Item, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Item, error)

	// TryHold atomically transitions the item from Available to OnHold and
	// stamps the trade reference, but only if ownerID matches current
	// ownership. Exactly one of N concurrent callers succeeds; the rest
	// receive ErrHoldConflict, ErrNotOwned, ErrNotAvailable, or
	// ErrItemNotFound depending on what they lost to.
	TryHold(ctx context.Context, itemID, ownerID, tradeID string, until time.Time) error

	// Release clears the hold if the item is currently held by tradeID.
	// Releasing an item that is already Available is a no-op; an item held
	// by a different trade returns ErrNotHeld.
	Release(ctx context.Context, itemID, tradeID string) error

	// Transfer moves ownership at trade finalization. It requires the item
	// to be held by tradeID and owned by fromOwnerID, clears the hold, and
	// records tradeID as the item's provenance.
	Transfer(ctx context.Context, itemID, fromOwnerID, toOwnerID, tradeID string) error

	// ListStaleHolds returns items whose hold expired before the given time.
	ListStaleHolds(ctx context.Context, before time.Time, limit int) ([]*Item, error)
}

// Ledger is the inventory service exposed to the rest of the application.
// All item status mutations flow through it.
type Ledger struct {
	store Store
}

// NewLedger creates an inventory ledger backed by the given store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// AddItem issues a new item into a user's inventory. Issuance normally comes
// from external events (purchase, unboxing); this is the entry point for them.
func (l *Ledger) AddItem(ctx context.Context, req AddItemRequest) (*Item, error) {
	now := time.Now().UTC()
	item := &Item{
		ID:        idgen.WithPrefix("itm_"),
		OwnerID:   req.OwnerID,
		Name:      req.Name,
		Rarity:    req.Rarity,
		Status:    StatusAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.Create(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Get returns an item by ID.
func (l *Ledger) Get(ctx context.Context, id string) (*Item, error) {
	return l.store.Get(ctx, id)
}

// ListByOwner returns up to limit items owned by the given user.
func (l *Ledger) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Item, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return l.store.ListByOwner(ctx, ownerID, limit)
}

// TryHold places an exclusive hold on an item for a trade.
func (l *Ledger) TryHold(ctx context.Context, itemID, ownerID, tradeID string, until time.Time) error {
	err := l.store.TryHold(ctx, itemID, ownerID, tradeID, until)
	if err != nil {
		metrics.ItemHoldsTotal.WithLabelValues("conflict").Inc()
		return err
	}
	metrics.ItemHoldsTotal.WithLabelValues("held").Inc()
	return nil
}

// Release returns a held item to Available.
func (l *Ledger) Release(ctx context.Context, itemID, tradeID string) error {
	if err := l.store.Release(ctx, itemID, tradeID); err != nil {
		return err
	}
	metrics.ItemHoldsTotal.WithLabelValues("released").Inc()
	return nil
}

// Transfer moves a held item to its new owner at trade completion.
func (l *Ledger) Transfer(ctx context.Context, itemID, fromOwnerID, toOwnerID, tradeID string) error {
	return l.store.Transfer(ctx, itemID, fromOwnerID, toOwnerID, tradeID)
}

// ListStaleHolds returns items whose hold window elapsed before now.
func (l *Ledger) ListStaleHolds(ctx context.Context, before time.Time, limit int) ([]*Item, error) {
	return l.store.ListStaleHolds(ctx, before, limit)
}
