package listing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory listing store for demo/development mode.
type MemoryStore struct {
	listings map[string]*Listing
	mu       sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory listing store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{listings: make(map[string]*Listing)}
}

func (m *MemoryStore) Create(_ context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.listings[l.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryStore) GetActiveByItem(_ context.Context, itemID string) (*Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.listings {
		if l.InventoryItemID == itemID && !l.IsTerminal() {
			cp := *l
			return &cp, nil
		}
	}
	return nil, ErrListingNotFound
}

func (m *MemoryStore) ListActive(_ context.Context, limit int) ([]*Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Listing
	for _, l := range m.listings {
		if l.Status == StatusActive {
			cp := *l
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ListedAt.After(result[j].ListedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, ownerID string, limit int) ([]*Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Listing
	for _, l := range m.listings {
		if l.OwnerID == ownerID {
			cp := *l
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ListedAt.After(result[j].ListedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) Transition(_ context.Context, id string, from, to Status, tradeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[id]
	if !ok {
		return ErrListingNotFound
	}
	if l.Status != from {
		return ErrBadState
	}

	now := time.Now().UTC()
	l.Status = to
	l.TradeID = tradeID
	l.UpdatedAt = now
	if to == StatusCompleted || to == StatusCancelled {
		l.ClosedAt = &now
	}
	return nil
}
