package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tripforge/pricing-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads check
// Redis first then fall back to the primary. Item snapshots and per-user
// freeze lists are cached; history and analytics reads always hit the primary
// so aggregates never drift.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Items (read-through) ---

func (s *CachedStore) CreateItem(ctx context.Context, item *model.ItemPricing) error {
	if err := s.primary.CreateItem(ctx, item); err != nil {
		return err
	}
	s.cacheItem(ctx, item)
	return nil
}

func (s *CachedStore) GetItem(ctx context.Context, itemType model.ItemType, itemID string) (*model.ItemPricing, error) {
	data, err := s.rdb.Get(ctx, itemCacheKey(itemType, itemID)).Bytes()
	if err == nil {
		var item model.ItemPricing
		if json.Unmarshal(data, &item) == nil {
			return &item, nil
		}
	}

	item, err := s.primary.GetItem(ctx, itemType, itemID)
	if err != nil {
		return nil, err
	}

	s.cacheItem(ctx, item)
	return item, nil
}

func (s *CachedStore) ListItems(ctx context.Context) ([]model.ItemPricing, error) {
	return s.primary.ListItems(ctx)
}

func (s *CachedStore) UpdateItemPricing(ctx context.Context, item *model.ItemPricing) error {
	if err := s.primary.UpdateItemPricing(ctx, item); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the authoritative row.
	s.rdb.Del(ctx, itemCacheKey(item.ItemType, item.ItemID))
	return nil
}

func (s *CachedStore) UpdateItemAvailability(ctx context.Context, itemType model.ItemType, itemID string, availableUnits int) error {
	if err := s.primary.UpdateItemAvailability(ctx, itemType, itemID, availableUnits); err != nil {
		return err
	}
	s.rdb.Del(ctx, itemCacheKey(itemType, itemID))
	return nil
}

// --- History (not cached: append-only audit reads stay authoritative) ---

func (s *CachedStore) AppendHistory(ctx context.Context, entry *model.PriceHistoryEntry) error {
	return s.primary.AppendHistory(ctx, entry)
}

func (s *CachedStore) GetHistory(ctx context.Context, itemType model.ItemType, itemID string, since time.Time) ([]model.PriceHistoryEntry, error) {
	return s.primary.GetHistory(ctx, itemType, itemID, since)
}

func (s *CachedStore) GetRecentHistory(ctx context.Context, itemType model.ItemType, itemID string, limit int) ([]model.PriceHistoryEntry, error) {
	return s.primary.GetRecentHistory(ctx, itemType, itemID, limit)
}

func (s *CachedStore) ListHistory(ctx context.Context) ([]model.PriceHistoryEntry, error) {
	return s.primary.ListHistory(ctx)
}

// --- Freezes ---

func (s *CachedStore) CreateFreeze(ctx context.Context, freeze *model.PriceFreeze, now time.Time) error {
	if err := s.primary.CreateFreeze(ctx, freeze, now); err != nil {
		return err
	}
	s.rdb.Del(ctx, userFreezesCacheKey(freeze.UserID))
	return nil
}

func (s *CachedStore) GetFreeze(ctx context.Context, id string) (*model.PriceFreeze, error) {
	return s.primary.GetFreeze(ctx, id)
}

func (s *CachedStore) MarkFreezeUsed(ctx context.Context, id string, savings int64) error {
	if err := s.primary.MarkFreezeUsed(ctx, id, savings); err != nil {
		return err
	}
	if f, err := s.primary.GetFreeze(ctx, id); err == nil {
		s.rdb.Del(ctx, userFreezesCacheKey(f.UserID))
	}
	return nil
}

func (s *CachedStore) ListFreezesByUser(ctx context.Context, userID string) ([]model.PriceFreeze, error) {
	data, err := s.rdb.Get(ctx, userFreezesCacheKey(userID)).Bytes()
	if err == nil {
		var freezes []model.PriceFreeze
		if json.Unmarshal(data, &freezes) == nil {
			return freezes, nil
		}
	}

	freezes, err := s.primary.ListFreezesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(freezes); err == nil {
		s.rdb.Set(ctx, userFreezesCacheKey(userID), data, s.ttl)
	}
	return freezes, nil
}

func (s *CachedStore) ListFreezes(ctx context.Context) ([]model.PriceFreeze, error) {
	return s.primary.ListFreezes(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheItem(ctx context.Context, item *model.ItemPricing) {
	if data, err := json.Marshal(item); err == nil {
		s.rdb.Set(ctx, itemCacheKey(item.ItemType, item.ItemID), data, s.ttl)
	}
}

func itemCacheKey(itemType model.ItemType, itemID string) string {
	return fmt.Sprintf("item:%s:%s", itemType, itemID)
}

func userFreezesCacheKey(userID string) string {
	return fmt.Sprintf("freezes:%s", userID)
}
