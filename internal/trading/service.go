package trading

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/mdade/swapvault/internal/idgen"
	"github.com/mdade/swapvault/internal/inventory"
	"github.com/mdade/swapvault/internal/listing"
	"github.com/mdade/swapvault/internal/metrics"
	"github.com/mdade/swapvault/internal/pagination"
	"github.com/mdade/swapvault/internal/syncutil"
	"github.com/mdade/swapvault/internal/users"
)

// ItemLedger is the inventory surface the state machine drives. Holds,
// releases, and transfers are the only item mutations a trade performs.
type ItemLedger interface {
	Get(ctx context.Context, id string) (*inventory.Item, error)
	TryHold(ctx context.Context, itemID, ownerID, tradeID string, until time.Time) error
	Release(ctx context.Context, itemID, tradeID string) error
	Transfer(ctx context.Context, itemID, fromOwnerID, toOwnerID, tradeID string) error
	ListStaleHolds(ctx context.Context, before time.Time, limit int) ([]*inventory.Item, error)
}

// ListingRegistry is the listing surface the state machine drives.
type ListingRegistry interface {
	Get(ctx context.Context, id string) (*listing.Listing, error)
	MarkOnHold(ctx context.Context, id, tradeID string) error
	MarkActive(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string) error
}

// Notifier pushes trade events to connected clients. Calls are made after
// the state transition commits and never affect trade state.
type Notifier interface {
	Notify(userID, event string, payload interface{})
}

// UserDirectory verifies that trade parties are real, active accounts.
type UserDirectory interface {
	RequireActive(ctx context.Context, id string) (*users.User, error)
}

// Service implements the trade negotiation state machine.
//
// Every status mutation happens under a per-trade mutex plus a conditional
// store update, so two simultaneous lock() calls, or a lock racing the
// expiry sweep, serialize: exactly one observes the state it needs.
type Service struct {
	store      Store
	items      ItemLedger
	listings   ListingRegistry
	notifier   Notifier
	users      UserDirectory
	lockWindow time.Duration
	locks      syncutil.ShardedMutex // per-trade ID locks
}

// NewService creates a new trading service.
func NewService(store Store, items ItemLedger, listings ListingRegistry, lockWindow time.Duration) *Service {
	if lockWindow <= 0 {
		lockWindow = 10 * time.Minute
	}
	return &Service{
		store:      store,
		items:      items,
		listings:   listings,
		lockWindow: lockWindow,
	}
}

// WithNotifier enables realtime event delivery.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithUsers enables party verification against the user directory.
func (s *Service) WithUsers(u UserDirectory) *Service {
	s.users = u
	return s
}

// Create opens a Pending trade request against an active listing.
// No holds are taken here; holds are taken only at acceptance so that many
// competing offers do not tie up each other's items.
func (s *Service) Create(ctx context.Context, listingID, requesterID string, req CreateRequest) (*TradeRequest, error) {
	lst, err := s.listings.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if lst.Status != listing.StatusActive {
		return nil, ErrListingUnavailable
	}
	if requesterID == lst.OwnerID {
		return nil, ErrSelfTrade
	}
	if s.users != nil {
		if _, err := s.users.RequireActive(ctx, requesterID); err != nil {
			return nil, err
		}
	}

	// The listed item must back the listing's Active status. A lingering
	// hold here means a stale state the sweeper has not cleared yet.
	listedItem, err := s.items.Get(ctx, lst.InventoryItemID)
	if err != nil {
		return nil, err
	}
	if listedItem.Status != inventory.StatusAvailable {
		return nil, ErrListingUnavailable
	}

	if hasDuplicates(req.OfferedItemIDs) {
		return nil, ErrDuplicateOffer
	}
	if len(req.OfferedItemIDs) == 0 && !lst.IsFree {
		return nil, ErrEmptyOffer
	}
	for _, itemID := range req.OfferedItemIDs {
		item, err := s.items.Get(ctx, itemID)
		if err != nil {
			return nil, err
		}
		if item.OwnerID != requesterID {
			return nil, inventory.ErrNotOwned
		}
		if item.Status != inventory.StatusAvailable {
			return nil, inventory.ErrNotAvailable
		}
	}

	if _, err := s.store.FindPending(ctx, listingID, requesterID); err == nil {
		return nil, ErrDuplicatePending
	} else if !errors.Is(err, ErrTradeNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	t := &TradeRequest{
		ID:             idgen.WithPrefix("trd_"),
		ListingID:      lst.ID,
		ListedItemID:   lst.InventoryItemID,
		OwnerID:        lst.OwnerID,
		RequesterID:    requesterID,
		OfferedItemIDs: req.OfferedItemIDs,
		Status:         StatusPending,
		RequestedAt:    now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateTrade(ctx, t); err != nil {
		return nil, err
	}

	metrics.TradeCreatedTotal.Inc()
	metrics.TradeRequestsTotal.WithLabelValues(string(StatusPending)).Inc()
	s.notify(t.OwnerID, "trade_requested", t)
	return t, nil
}

// Respond records the owner's accept or reject of a pending trade.
//
// Accepting takes holds on the listed item and every offered item, all or
// nothing: if any hold is lost to a concurrent trade, every hold taken in
// this attempt is rolled back and the trade stays Pending.
func (s *Service) Respond(ctx context.Context, tradeID, actingUserID string, accept bool) (*TradeRequest, error) {
	unlock := s.locks.Lock(tradeID)
	defer unlock()

	t, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending {
		return nil, ErrBadState
	}
	if actingUserID != t.OwnerID {
		return nil, ErrForbidden
	}

	now := time.Now().UTC()
	if !accept {
		t.Status = StatusRejected
		t.RespondedAt = &now
		t.UpdatedAt = now
		if err := s.store.UpdateTrade(ctx, t, StatusPending); err != nil {
			return nil, err
		}
		s.settle(ctx, t, StatusRejected)
		s.notify(t.RequesterID, "trade_responded", t)
		return t, nil
	}

	until := now.Add(s.lockWindow)
	held, err := s.holdAll(ctx, t, until)
	if err != nil {
		s.releaseItems(ctx, t.ID, held)
		return nil, err
	}
	if err := s.listings.MarkOnHold(ctx, t.ListingID, t.ID); err != nil {
		s.releaseItems(ctx, t.ID, held)
		return nil, err
	}

	t.Status = StatusAccepted
	t.RespondedAt = &now
	t.LockWindowExpiresAt = &until
	t.UpdatedAt = now
	if err := s.store.UpdateTrade(ctx, t, StatusPending); err != nil {
		s.releaseItems(ctx, t.ID, held)
		if mErr := s.listings.MarkActive(ctx, t.ListingID); mErr != nil {
			log.Printf("WARNING: reopen listing %s after lost accept: %v", t.ListingID, mErr)
		}
		return nil, err
	}

	metrics.TradeRequestsTotal.WithLabelValues(string(StatusAccepted)).Inc()
	s.notify(t.RequesterID, "trade_responded", t)
	return t, nil
}

// holdAll takes holds on the listed item and every offered item, returning
// the IDs actually held so a failed attempt can be unwound.
func (s *Service) holdAll(ctx context.Context, t *TradeRequest, until time.Time) ([]string, error) {
	var held []string
	if err := s.items.TryHold(ctx, t.ListedItemID, t.OwnerID, t.ID, until); err != nil {
		return held, err
	}
	held = append(held, t.ListedItemID)
	for _, itemID := range t.OfferedItemIDs {
		if err := s.items.TryHold(ctx, itemID, t.RequesterID, t.ID, until); err != nil {
			return held, err
		}
		held = append(held, itemID)
	}
	return held, nil
}

func (s *Service) releaseItems(ctx context.Context, tradeID string, itemIDs []string) {
	for _, itemID := range itemIDs {
		if err := s.items.Release(ctx, itemID, tradeID); err != nil {
			log.Printf("WARNING: release item %s for trade %s: %v", itemID, tradeID, err)
		}
	}
}

// Lock records one party's commit on an accepted trade. The second lock
// finalizes: items swap owners, the listing completes, and history is
// written. The completion decision and the flag write are a single
// conditional update, so two simultaneous calls cannot both finalize, and a
// call racing the expiry sweep either commits first or loses cleanly.
func (s *Service) Lock(ctx context.Context, tradeID, actingUserID string) (*TradeRequest, error) {
	unlock := s.locks.Lock(tradeID)
	defer unlock()

	t, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusAccepted {
		return nil, ErrBadState
	}
	if !t.IsParty(actingUserID) {
		return nil, ErrForbidden
	}

	switch actingUserID {
	case t.OwnerID:
		if t.OwnerLocked {
			return nil, ErrAlreadyLocked
		}
		t.OwnerLocked = true
	case t.RequesterID:
		if t.RequesterLocked {
			return nil, ErrAlreadyLocked
		}
		t.RequesterLocked = true
	}

	now := time.Now().UTC()
	t.UpdatedAt = now

	if !(t.OwnerLocked && t.RequesterLocked) {
		// Waiting on the other party.
		if err := s.store.UpdateTrade(ctx, t, StatusAccepted); err != nil {
			return nil, err
		}
		s.notify(s.counterpart(t, actingUserID), "trade_locked", t)
		return t, nil
	}

	// Both parties locked: this call completes the trade.
	t.LockedAt = &now
	t.Status = StatusCompleted
	if err := s.store.UpdateTrade(ctx, t, StatusAccepted); err != nil {
		return nil, err
	}

	s.transferAll(ctx, t)
	if err := s.listings.MarkCompleted(ctx, t.ListingID); err != nil {
		log.Printf("WARNING: complete listing %s for trade %s: %v", t.ListingID, t.ID, err)
	}
	s.appendHistory(ctx, t, StatusCompleted, now)

	metrics.TradeCompletedTotal.Inc()
	metrics.TradeRequestsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	metrics.TradeDuration.Observe(now.Sub(t.RequestedAt).Seconds())
	s.notify(t.OwnerID, "trade_completed", t)
	s.notify(t.RequesterID, "trade_completed", t)
	return t, nil
}

// transferAll swaps ownership of every held item: the listed item goes to
// the requester, each offered item goes to the owner. The trade is already
// committed Completed; a transfer failure leaves that item held and is
// surfaced in the log for operator repair rather than unwinding the trade.
func (s *Service) transferAll(ctx context.Context, t *TradeRequest) {
	if err := s.items.Transfer(ctx, t.ListedItemID, t.OwnerID, t.RequesterID, t.ID); err != nil {
		log.Printf("ERROR: transfer listed item %s for trade %s: %v", t.ListedItemID, t.ID, err)
	}
	for _, itemID := range t.OfferedItemIDs {
		if err := s.items.Transfer(ctx, itemID, t.RequesterID, t.OwnerID, t.ID); err != nil {
			log.Printf("ERROR: transfer offered item %s for trade %s: %v", itemID, t.ID, err)
		}
	}
}

// Cancel terminates a Pending or Accepted trade at either party's request,
// releasing every hold the trade took.
func (s *Service) Cancel(ctx context.Context, tradeID, actingUserID string) (*TradeRequest, error) {
	unlock := s.locks.Lock(tradeID)
	defer unlock()

	t, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !t.IsParty(actingUserID) {
		return nil, ErrForbidden
	}
	if t.Status != StatusPending && t.Status != StatusAccepted {
		return nil, ErrBadState
	}

	from := t.Status
	now := time.Now().UTC()
	t.Status = StatusCancelled
	t.UpdatedAt = now
	if err := s.store.UpdateTrade(ctx, t, from); err != nil {
		return nil, err
	}

	if from == StatusAccepted {
		s.releaseItems(ctx, t.ID, append([]string{t.ListedItemID}, t.OfferedItemIDs...))
		if err := s.listings.MarkActive(ctx, t.ListingID); err != nil {
			log.Printf("WARNING: reopen listing %s after cancel of trade %s: %v", t.ListingID, t.ID, err)
		}
	}
	s.appendHistory(ctx, t, StatusCancelled, now)

	metrics.TradeRequestsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	s.notify(s.counterpart(t, actingUserID), "trade_cancelled", t)
	return t, nil
}

// Get returns a trade by ID.
func (s *Service) Get(ctx context.Context, id string) (*TradeRequest, error) {
	return s.store.GetTrade(ctx, id)
}

// ListByListing returns up to limit trades against a listing.
func (s *Service) ListByListing(ctx context.Context, listingID string, limit int) ([]*TradeRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByListing(ctx, listingID, limit)
}

// ListByRequester returns up to limit trades created by a requester.
func (s *Service) ListByRequester(ctx context.Context, requesterID string, limit int) ([]*TradeRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByRequester(ctx, requesterID, limit)
}

// History returns a page of settled trades plus a cursor for the next page.
func (s *Service) History(ctx context.Context, filter HistoryFilter) ([]*TradeHistory, string, bool, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	records, err := s.store.ListHistory(ctx, filter)
	if err != nil {
		return nil, "", false, err
	}
	page, next, more := pagination.ComputePage(records, filter.Limit, func(h *TradeHistory) (time.Time, string) {
		return h.CompletedAt, h.ID
	})
	return page, next, more, nil
}

// CheckExpired is the periodic sweep. It expires Accepted trades whose lock
// window elapsed without both parties committing, and releases holds whose
// owning trade is already settled. Safe to run concurrently with in-flight
// Lock calls: the Accepted-conditioned update loses to a completion that
// lands first.
func (s *Service) CheckExpired(ctx context.Context) {
	now := time.Now().UTC()

	expired, err := s.store.ListExpiredAccepted(ctx, now, 100)
	if err != nil {
		log.Printf("WARNING: list expired trades: %v", err)
		return
	}
	for _, stale := range expired {
		s.expireTrade(ctx, stale.ID, now)
	}

	s.releaseOrphanedHolds(ctx, now)
}

func (s *Service) expireTrade(ctx context.Context, tradeID string, now time.Time) {
	unlock := s.locks.Lock(tradeID)
	defer unlock()

	t, err := s.store.GetTrade(ctx, tradeID)
	if err != nil || t.Status != StatusAccepted {
		return
	}
	if t.LockWindowExpiresAt == nil || t.LockWindowExpiresAt.After(now) {
		return
	}

	t.Status = StatusExpired
	t.UpdatedAt = now
	if err := s.store.UpdateTrade(ctx, t, StatusAccepted); err != nil {
		// A just-in-time lock completed the trade first. Let it stand.
		if !errors.Is(err, ErrStatusConflict) {
			log.Printf("WARNING: expire trade %s: %v", t.ID, err)
		}
		return
	}

	s.releaseItems(ctx, t.ID, append([]string{t.ListedItemID}, t.OfferedItemIDs...))
	if err := s.listings.MarkActive(ctx, t.ListingID); err != nil {
		log.Printf("WARNING: reopen listing %s after expiry of trade %s: %v", t.ListingID, t.ID, err)
	}
	s.appendHistory(ctx, t, StatusExpired, now)

	metrics.TradeExpiredTotal.Inc()
	metrics.TradeRequestsTotal.WithLabelValues(string(StatusExpired)).Inc()
	s.notify(t.OwnerID, "trade_expired", t)
	s.notify(t.RequesterID, "trade_expired", t)
}

// releaseOrphanedHolds frees holds whose owning trade has already settled.
// These can appear if a release failed mid-settlement; the sweep is the
// safety net that keeps items from being stranded OnHold.
func (s *Service) releaseOrphanedHolds(ctx context.Context, now time.Time) {
	items, err := s.items.ListStaleHolds(ctx, now, 100)
	if err != nil {
		log.Printf("WARNING: list stale holds: %v", err)
		return
	}
	for _, item := range items {
		t, err := s.store.GetTrade(ctx, item.LockedByTradeID)
		if err == nil && !t.IsTerminal() {
			continue
		}
		if err != nil && !errors.Is(err, ErrTradeNotFound) {
			continue
		}
		if err := s.items.Release(ctx, item.ID, item.LockedByTradeID); err != nil {
			log.Printf("WARNING: release orphaned hold on item %s: %v", item.ID, err)
			continue
		}
		metrics.StaleHoldsReleasedTotal.Inc()
		s.notify(item.OwnerID, "item_released", item)
	}
}

// settle writes the terminal history record for a trade that took no holds.
func (s *Service) settle(ctx context.Context, t *TradeRequest, final Status) {
	metrics.TradeRequestsTotal.WithLabelValues(string(final)).Inc()
	s.appendHistory(ctx, t, final, t.UpdatedAt)
}

func (s *Service) appendHistory(ctx context.Context, t *TradeRequest, final Status, at time.Time) {
	h := &TradeHistory{
		ID:             idgen.WithPrefix("th_"),
		TradeID:        t.ID,
		ListingID:      t.ListingID,
		ListedItemID:   t.ListedItemID,
		OwnerID:        t.OwnerID,
		RequesterID:    t.RequesterID,
		OfferedItemIDs: t.OfferedItemIDs,
		FinalStatus:    final,
		CompletedAt:    at,
	}
	if err := s.store.AppendHistory(ctx, h); err != nil {
		log.Printf("WARNING: append history for trade %s: %v", t.ID, err)
	}
}

func (s *Service) notify(userID, event string, payload interface{}) {
	if s.notifier == nil || userID == "" {
		return
	}
	s.notifier.Notify(userID, event, payload)
}

func (s *Service) counterpart(t *TradeRequest, userID string) string {
	if userID == t.OwnerID {
		return t.RequesterID
	}
	return t.OwnerID
}

func hasDuplicates(ids []string) bool {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}
