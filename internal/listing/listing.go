// Package listing tracks inventory items openly offered for trade.
//
// A listing references exactly one inventory item. Its status mirrors the
// item's phase: Active while the item is available, OnHold while an accepted
// trade is in its lock window, then Completed or Cancelled. Transitions are
// guarded by the current state and safe to retry.
package listing

import (
	"context"
	"errors"
	"time"

	"github.com/mdade/swapvault/internal/idgen"
	"github.com/mdade/swapvault/internal/inventory"
	"github.com/mdade/swapvault/internal/metrics"
)

var (
	ErrListingNotFound = errors.New("listing not found")
	ErrNotOwner        = errors.New("caller does not own the listing")
	ErrBadState        = errors.New("listing not in required state")
	ErrAlreadyListed   = errors.New("item already has an active listing")
	ErrItemUnavailable = errors.New("item is not available for listing")
)

// Status represents the state of a listing.
type Status string

const (
	StatusActive    Status = "active"
	StatusOnHold    Status = "on_hold"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Listing is an inventory item offered for trade.
type Listing struct {
	ID              string     `json:"id"`
	InventoryItemID string     `json:"inventoryItemId"`
	OwnerID         string     `json:"ownerId"`
	Status          Status     `json:"status"`
	IsFree          bool       `json:"isFree"`
	TradeID         string     `json:"tradeId,omitempty"` // trade currently holding the listing
	ListedAt        time.Time  `json:"listedAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	ClosedAt        *time.Time `json:"closedAt,omitempty"`
}

// IsTerminal returns true if the listing is in a final state.
func (l *Listing) IsTerminal() bool {
	return l.Status == StatusCompleted || l.Status == StatusCancelled
}

// OpenRequest contains the parameters for opening a listing.
type OpenRequest struct {
	InventoryItemID string `json:"inventoryItemId" binding:"required"`
	IsFree          bool   `json:"isFree"`
}

// Store persists listings. Transition is a conditional status update:
// it succeeds only when the listing is currently in the expected state.
type Store interface {
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	GetActiveByItem(ctx context.Context, itemID string) (*Listing, error)
	ListActive(ctx context.Context, limit int) ([]*Listing, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Listing, error)

	// Transition moves the listing from one status to another, recording
	// tradeID (empty clears it). Returns ErrBadState if the listing is not
	// currently in the from status.
	Transition(ctx context.Context, id string, from, to Status, tradeID string) error
}

// ItemLedger is the inventory surface the registry needs.
type ItemLedger interface {
	Get(ctx context.Context, id string) (*inventory.Item, error)
}

// Registry manages the set of open listings.
type Registry struct {
	store Store
	items ItemLedger
}

// NewRegistry creates a listing registry.
func NewRegistry(store Store, items ItemLedger) *Registry {
	return &Registry{store: store, items: items}
}

// Open creates an Active listing for an available item owned by the caller.
func (r *Registry) Open(ctx context.Context, callerID string, req OpenRequest) (*Listing, error) {
	item, err := r.items.Get(ctx, req.InventoryItemID)
	if err != nil {
		return nil, err
	}
	if item.OwnerID != callerID {
		return nil, ErrNotOwner
	}
	if item.Status != inventory.StatusAvailable {
		return nil, ErrItemUnavailable
	}
	if _, err := r.store.GetActiveByItem(ctx, item.ID); err == nil {
		return nil, ErrAlreadyListed
	} else if !errors.Is(err, ErrListingNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	l := &Listing{
		ID:              idgen.WithPrefix("lst_"),
		InventoryItemID: item.ID,
		OwnerID:         item.OwnerID,
		Status:          StatusActive,
		IsFree:          req.IsFree,
		ListedAt:        now,
		UpdatedAt:       now,
	}
	if err := r.store.Create(ctx, l); err != nil {
		return nil, err
	}
	metrics.ListingsTotal.WithLabelValues("opened").Inc()
	return l, nil
}

// Get returns a listing by ID.
func (r *Registry) Get(ctx context.Context, id string) (*Listing, error) {
	return r.store.Get(ctx, id)
}

// ListActive returns up to limit open listings.
func (r *Registry) ListActive(ctx context.Context, limit int) ([]*Listing, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return r.store.ListActive(ctx, limit)
}

// ListByOwner returns up to limit listings owned by the given user.
func (r *Registry) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Listing, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return r.store.ListByOwner(ctx, ownerID, limit)
}

// MarkOnHold moves an Active listing into the lock phase for a trade.
// Already on hold for the same trade is treated as a retried call.
func (r *Registry) MarkOnHold(ctx context.Context, id, tradeID string) error {
	err := r.store.Transition(ctx, id, StatusActive, StatusOnHold, tradeID)
	if errors.Is(err, ErrBadState) {
		if cur, getErr := r.store.Get(ctx, id); getErr == nil &&
			cur.Status == StatusOnHold && cur.TradeID == tradeID {
			return nil
		}
	}
	return err
}

// MarkActive returns an OnHold listing to Active after its trade released it.
func (r *Registry) MarkActive(ctx context.Context, id string) error {
	err := r.store.Transition(ctx, id, StatusOnHold, StatusActive, "")
	if errors.Is(err, ErrBadState) {
		if cur, getErr := r.store.Get(ctx, id); getErr == nil && cur.Status == StatusActive {
			return nil
		}
	}
	return err
}

// MarkCompleted finalizes an OnHold listing after its trade completed.
func (r *Registry) MarkCompleted(ctx context.Context, id string) error {
	err := r.store.Transition(ctx, id, StatusOnHold, StatusCompleted, "")
	if errors.Is(err, ErrBadState) {
		if cur, getErr := r.store.Get(ctx, id); getErr == nil && cur.Status == StatusCompleted {
			return nil
		}
	}
	if err == nil {
		metrics.ListingsTotal.WithLabelValues("completed").Inc()
	}
	return err
}

// MarkCancelled cancels an Active listing.
func (r *Registry) MarkCancelled(ctx context.Context, id string) error {
	err := r.store.Transition(ctx, id, StatusActive, StatusCancelled, "")
	if errors.Is(err, ErrBadState) {
		if cur, getErr := r.store.Get(ctx, id); getErr == nil && cur.Status == StatusCancelled {
			return nil
		}
	}
	if err == nil {
		metrics.ListingsTotal.WithLabelValues("cancelled").Inc()
	}
	return err
}

// Close cancels an Active listing at the owner's request. A listing in its
// lock phase cannot be closed; the trade must terminate first.
func (r *Registry) Close(ctx context.Context, callerID, id string) (*Listing, error) {
	l, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.OwnerID != callerID {
		return nil, ErrNotOwner
	}
	if err := r.MarkCancelled(ctx, id); err != nil {
		return nil, err
	}
	return r.store.Get(ctx, id)
}
