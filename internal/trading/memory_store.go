package trading

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mdade/swapvault/internal/pagination"
)

// MemoryStore is an in-memory trade store for demo/development mode.
type MemoryStore struct {
	trades  map[string]*TradeRequest
	history []*TradeHistory
	mu      sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory trade store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trades: make(map[string]*TradeRequest)}
}

func copyTrade(t *TradeRequest) *TradeRequest {
	cp := *t
	cp.OfferedItemIDs = append([]string(nil), t.OfferedItemIDs...)
	return &cp
}

func copyHistory(h *TradeHistory) *TradeHistory {
	cp := *h
	cp.OfferedItemIDs = append([]string(nil), h.OfferedItemIDs...)
	return &cp
}

func (m *MemoryStore) CreateTrade(_ context.Context, t *TradeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades[t.ID] = copyTrade(t)
	return nil
}

func (m *MemoryStore) GetTrade(_ context.Context, id string) (*TradeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok {
		return nil, ErrTradeNotFound
	}
	return copyTrade(t), nil
}

func (m *MemoryStore) UpdateTrade(_ context.Context, t *TradeRequest, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.trades[t.ID]
	if !ok {
		return ErrTradeNotFound
	}
	if cur.Status != from {
		return ErrStatusConflict
	}
	m.trades[t.ID] = copyTrade(t)
	return nil
}

func (m *MemoryStore) FindPending(_ context.Context, listingID, requesterID string) (*TradeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trades {
		if t.ListingID == listingID && t.RequesterID == requesterID && t.Status == StatusPending {
			return copyTrade(t), nil
		}
	}
	return nil, ErrTradeNotFound
}

func (m *MemoryStore) ListByListing(_ context.Context, listingID string, limit int) ([]*TradeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*TradeRequest
	for _, t := range m.trades {
		if t.ListingID == listingID {
			result = append(result, copyTrade(t))
		}
	}
	sortTrades(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListByRequester(_ context.Context, requesterID string, limit int) ([]*TradeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*TradeRequest
	for _, t := range m.trades {
		if t.RequesterID == requesterID {
			result = append(result, copyTrade(t))
		}
	}
	sortTrades(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListExpiredAccepted(_ context.Context, before time.Time, limit int) ([]*TradeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*TradeRequest
	for _, t := range m.trades {
		if t.Status == StatusAccepted && t.LockWindowExpiresAt != nil && t.LockWindowExpiresAt.Before(before) {
			result = append(result, copyTrade(t))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LockWindowExpiresAt.Before(*result[j].LockWindowExpiresAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) AppendHistory(_ context.Context, h *TradeHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, copyHistory(h))
	return nil
}

// ListHistory returns up to limit+1 records so the caller can detect a next
// page, newest first.
func (m *MemoryStore) ListHistory(_ context.Context, filter HistoryFilter) ([]*TradeHistory, error) {
	cursor, err := pagination.Decode(filter.Cursor)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*TradeHistory
	for _, h := range m.history {
		if filter.ListingID != "" && h.ListingID != filter.ListingID {
			continue
		}
		if filter.UserID != "" && h.OwnerID != filter.UserID && h.RequesterID != filter.UserID {
			continue
		}
		if filter.FinalStatus != "" && h.FinalStatus != filter.FinalStatus {
			continue
		}
		if cursor != nil {
			if h.CompletedAt.After(cursor.CreatedAt) {
				continue
			}
			if h.CompletedAt.Equal(cursor.CreatedAt) && h.ID >= cursor.ID {
				continue
			}
		}
		result = append(result, copyHistory(h))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CompletedAt.Equal(result[j].CompletedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CompletedAt.After(result[j].CompletedAt)
	})
	if len(result) > filter.Limit+1 {
		result = result[:filter.Limit+1]
	}
	return result, nil
}

func sortTrades(trades []*TradeRequest) {
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].RequestedAt.After(trades[j].RequestedAt)
	})
}
