package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tripforge/pricing-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence). A single mutex
// makes the freeze check-then-insert and check-then-set sequences atomic.
type MemoryStore struct {
	mu        sync.RWMutex
	items     map[string]*model.ItemPricing // keyed by itemType:itemID
	history   []model.PriceHistoryEntry
	freezes   map[string]*model.PriceFreeze // keyed by freeze id
	cellIndex map[string][]string           // freeze cell key -> freeze ids
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:     make(map[string]*model.ItemPricing),
		freezes:   make(map[string]*model.PriceFreeze),
		cellIndex: make(map[string][]string),
	}
}

func itemKey(itemType model.ItemType, itemID string) string {
	return string(itemType) + ":" + itemID
}

func (s *MemoryStore) CreateItem(_ context.Context, item *model.ItemPricing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := itemKey(item.ItemType, item.ItemID)
	if _, ok := s.items[key]; ok {
		return fmt.Errorf("item %s: %w", key, ErrItemExists)
	}

	// Store a copy to avoid external mutation.
	cp := copyItem(item)
	s.items[key] = cp
	return nil
}

func (s *MemoryStore) GetItem(_ context.Context, itemType model.ItemType, itemID string) (*model.ItemPricing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemKey(itemType, itemID)]
	if !ok {
		return nil, fmt.Errorf("item %s/%s: %w", itemType, itemID, ErrItemNotFound)
	}
	return copyItem(item), nil
}

func (s *MemoryStore) ListItems(_ context.Context) ([]model.ItemPricing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]model.ItemPricing, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, *copyItem(item))
	}
	sort.Slice(items, func(i, j int) bool {
		return itemKey(items[i].ItemType, items[i].ItemID) < itemKey(items[j].ItemType, items[j].ItemID)
	})
	return items, nil
}

func (s *MemoryStore) UpdateItemPricing(_ context.Context, item *model.ItemPricing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := itemKey(item.ItemType, item.ItemID)
	existing, ok := s.items[key]
	if !ok {
		return fmt.Errorf("item %s: %w", key, ErrItemNotFound)
	}
	existing.CurrentPrice = item.CurrentPrice
	existing.OccupancyRate = item.OccupancyRate
	existing.BookingTrend = item.BookingTrend
	existing.PriceChangePercentage = item.PriceChangePercentage
	existing.LastUpdated = item.LastUpdated
	return nil
}

func (s *MemoryStore) UpdateItemAvailability(_ context.Context, itemType model.ItemType, itemID string, availableUnits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemKey(itemType, itemID)]
	if !ok {
		return fmt.Errorf("item %s/%s: %w", itemType, itemID, ErrItemNotFound)
	}
	item.AvailableUnits = availableUnits
	return nil
}

func (s *MemoryStore) AppendHistory(_ context.Context, entry *model.PriceHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, *entry)
	return nil
}

func (s *MemoryStore) GetHistory(_ context.Context, itemType model.ItemType, itemID string, since time.Time) ([]model.PriceHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PriceHistoryEntry
	for _, e := range s.history {
		if e.ItemType == itemType && e.ItemID == itemID && !e.Date.Before(since) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetRecentHistory(_ context.Context, itemType model.ItemType, itemID string, limit int) ([]model.PriceHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PriceHistoryEntry
	for _, e := range s.history {
		if e.ItemType == itemType && e.ItemID == itemID {
			result = append(result, e)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func (s *MemoryStore) ListHistory(_ context.Context) ([]model.PriceHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.PriceHistoryEntry, len(s.history))
	copy(result, s.history)
	return result, nil
}

func (s *MemoryStore) CreateFreeze(_ context.Context, freeze *model.PriceFreeze, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cell := FreezeCellKey(freeze.UserID, freeze.ItemType, freeze.ItemID)
	for _, id := range s.cellIndex[cell] {
		if existing := s.freezes[id]; existing != nil && existing.Redeemable(now) {
			return fmt.Errorf("freeze for %s: %w", cell, ErrFreezeConflict)
		}
	}

	cp := *freeze
	s.freezes[freeze.ID] = &cp
	s.cellIndex[cell] = append(s.cellIndex[cell], freeze.ID)
	return nil
}

func (s *MemoryStore) GetFreeze(_ context.Context, id string) (*model.PriceFreeze, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.freezes[id]
	if !ok {
		return nil, fmt.Errorf("freeze %s: %w", id, ErrFreezeNotFound)
	}
	cp := *f
	return &cp, nil
}

func (s *MemoryStore) MarkFreezeUsed(_ context.Context, id string, savings int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.freezes[id]
	if !ok {
		return fmt.Errorf("freeze %s: %w", id, ErrFreezeNotFound)
	}
	if f.IsUsed {
		return fmt.Errorf("freeze %s: %w", id, ErrFreezeAlreadyUsed)
	}
	f.IsUsed = true
	f.IsActive = false
	f.Savings = savings
	return nil
}

func (s *MemoryStore) ListFreezesByUser(_ context.Context, userID string) ([]model.PriceFreeze, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PriceFreeze
	for _, f := range s.freezes {
		if f.UserID == userID {
			result = append(result, *f)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].FreezeStart.Before(result[j].FreezeStart)
	})
	return result, nil
}

func (s *MemoryStore) ListFreezes(_ context.Context) ([]model.PriceFreeze, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.PriceFreeze, 0, len(s.freezes))
	for _, f := range s.freezes {
		result = append(result, *f)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].FreezeStart.Before(result[j].FreezeStart)
	})
	return result, nil
}

func copyItem(item *model.ItemPricing) *model.ItemPricing {
	cp := *item
	if item.DemandFactors != nil {
		cp.DemandFactors = make([]model.DemandFactor, len(item.DemandFactors))
		copy(cp.DemandFactors, item.DemandFactors)
	}
	return &cp
}
