// Package trading implements the peer-to-peer trade negotiation state machine.
//
// Lifecycle:
//
//	Pending --(owner accepts)--> Accepted --(both lock)--> Completed
//	Pending --(owner rejects)--> Rejected
//	Pending/Accepted --(either party cancels)--> Cancelled
//	Accepted --(lock window elapses)--> Expired
//
// A trade request is created against an active listing with a set of items
// the requester offers in exchange. No holds are taken at creation; holds on
// the listed item and every offered item are taken atomically when the owner
// accepts. Acceptance opens a bounded lock window within which both parties
// must independently confirm (dual lock); the second lock finalizes the
// trade and swaps ownership. Rejection, cancellation, and expiry are
// terminal and release every hold the trade took.
package trading

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTradeNotFound      = errors.New("trade not found")
	ErrBadState           = errors.New("trade not in required state")
	ErrForbidden          = errors.New("not a party to this trade")
	ErrSelfTrade          = errors.New("cannot trade on own listing")
	ErrDuplicateOffer     = errors.New("offered item ids contain duplicates")
	ErrEmptyOffer         = errors.New("listing requires at least one offered item")
	ErrDuplicatePending   = errors.New("a pending trade already exists for this listing and requester")
	ErrListingUnavailable = errors.New("listing is not open for trade")
	ErrAlreadyLocked      = errors.New("party has already locked this trade")
	ErrStatusConflict     = errors.New("trade was modified concurrently")
)

// Status represents the state of a trade request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// TradeRequest is a negotiation between a listing's owner and a requester.
type TradeRequest struct {
	ID                  string     `json:"id"`
	ListingID           string     `json:"listingId"`
	ListedItemID        string     `json:"listedItemId"`
	OwnerID             string     `json:"ownerId"`
	RequesterID         string     `json:"requesterId"`
	OfferedItemIDs      []string   `json:"offeredItemIds"`
	Status              Status     `json:"status"`
	OwnerLocked         bool       `json:"ownerLocked"`
	RequesterLocked     bool       `json:"requesterLocked"`
	RequestedAt         time.Time  `json:"requestedAt"`
	RespondedAt         *time.Time `json:"respondedAt,omitempty"`
	LockedAt            *time.Time `json:"lockedAt,omitempty"` // set the instant both parties are locked
	LockWindowExpiresAt *time.Time `json:"lockWindowExpiresAt,omitempty"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the trade is in a final state.
func (t *TradeRequest) IsTerminal() bool {
	switch t.Status {
	case StatusRejected, StatusCancelled, StatusCompleted, StatusExpired:
		return true
	}
	return false
}

// IsParty returns true if userID is the owner or the requester.
func (t *TradeRequest) IsParty(userID string) bool {
	return userID == t.OwnerID || userID == t.RequesterID
}

// TradeHistory is the append-only record of a terminally settled trade.
type TradeHistory struct {
	ID             string    `json:"id"`
	TradeID        string    `json:"tradeId"`
	ListingID      string    `json:"listingId"`
	ListedItemID   string    `json:"listedItemId"`
	OwnerID        string    `json:"ownerId"`
	RequesterID    string    `json:"requesterId"`
	OfferedItemIDs []string  `json:"offeredItemIds"`
	FinalStatus    Status    `json:"finalStatus"`
	CompletedAt    time.Time `json:"completedAt"`
}

// CreateRequest contains the parameters for creating a trade request.
type CreateRequest struct {
	OfferedItemIDs []string `json:"offeredItemIds"`
}

// RespondRequest contains the owner's response to a pending trade.
type RespondRequest struct {
	Accept bool `json:"accept"`
}

// HistoryFilter narrows a trade history listing.
type HistoryFilter struct {
	ListingID   string
	UserID      string // matches owner or requester
	FinalStatus Status // zero value means any
	Limit       int
	Cursor      string // opaque cursor from a previous page
}

// Store persists trade requests and history. UpdateTrade is a conditional
// write: it succeeds only while the stored status equals from, which is what
// makes the dual-lock completion check and the sweeper race-safe across
// processes.
type Store interface {
	CreateTrade(ctx context.Context, t *TradeRequest) error
	GetTrade(ctx context.Context, id string) (*TradeRequest, error)
	UpdateTrade(ctx context.Context, t *TradeRequest, from Status) error
	FindPending(ctx context.Context, listingID, requesterID string) (*TradeRequest, error)
	ListByListing(ctx context.Context, listingID string, limit int) ([]*TradeRequest, error)
	ListByRequester(ctx context.Context, requesterID string, limit int) ([]*TradeRequest, error)
	ListExpiredAccepted(ctx context.Context, before time.Time, limit int) ([]*TradeRequest, error)

	AppendHistory(ctx context.Context, h *TradeHistory) error
	ListHistory(ctx context.Context, filter HistoryFilter) ([]*TradeHistory, error)
}
