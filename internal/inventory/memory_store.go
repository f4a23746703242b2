package inventory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory inventory store for demo/development mode.
// The single mutex gives the same linearizable hold semantics the Postgres
// store gets from conditional updates.
type MemoryStore struct {
	items map[string]*Item
	mu    sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory inventory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Item)}
}

func (m *MemoryStore) Create(_ context.Context, item *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	m.items[item.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, ownerID string, limit int) ([]*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Item
	for _, item := range m.items {
		if item.OwnerID == ownerID {
			cp := *item
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) TryHold(_ context.Context, itemID, ownerID, tradeID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[itemID]
	if !ok {
		return ErrItemNotFound
	}
	if item.OwnerID != ownerID {
		return ErrNotOwned
	}
	switch item.Status {
	case StatusOnHold:
		return ErrHoldConflict
	case StatusArchived:
		return ErrNotAvailable
	}

	u := until
	item.Status = StatusOnHold
	item.LockedByTradeID = tradeID
	item.HoldUntil = &u
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) Release(_ context.Context, itemID, tradeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[itemID]
	if !ok {
		return ErrItemNotFound
	}
	if item.Status != StatusOnHold {
		// Already released; tolerate retries.
		return nil
	}
	if item.LockedByTradeID != tradeID {
		return ErrNotHeld
	}

	item.Status = StatusAvailable
	item.LockedByTradeID = ""
	item.HoldUntil = nil
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) Transfer(_ context.Context, itemID, fromOwnerID, toOwnerID, tradeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[itemID]
	if !ok {
		return ErrItemNotFound
	}
	if item.Status != StatusOnHold || item.LockedByTradeID != tradeID || item.OwnerID != fromOwnerID {
		return ErrHoldConflict
	}

	item.OwnerID = toOwnerID
	item.Status = StatusAvailable
	item.LockedByTradeID = ""
	item.HoldUntil = nil
	item.LastTradeID = tradeID
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListStaleHolds(_ context.Context, before time.Time, limit int) ([]*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Item
	for _, item := range m.items {
		if item.Status == StatusOnHold && item.HoldUntil != nil && item.HoldUntil.Before(before) {
			cp := *item
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].HoldUntil.Before(*result[j].HoldUntil)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
