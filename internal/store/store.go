// Package store defines the persistence interface for the pricing engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tripforge/pricing-engine/internal/model"
)

var (
	// ErrItemNotFound is returned when no pricing record exists for an item.
	ErrItemNotFound = errors.New("store: item not found")

	// ErrItemExists is returned when registering an item that already has a
	// pricing record.
	ErrItemExists = errors.New("store: item already exists")

	// ErrFreezeNotFound is returned when no freeze exists for an id.
	ErrFreezeNotFound = errors.New("store: freeze not found")

	// ErrFreezeConflict is returned when an active, unused, unexpired freeze
	// already exists for the same (user, item type, item) cell.
	ErrFreezeConflict = errors.New("store: active freeze already exists for user and item")

	// ErrFreezeAlreadyUsed is returned by the redemption compare-and-set when
	// the freeze was already marked used.
	ErrFreezeAlreadyUsed = errors.New("store: freeze already used")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// Two operations carry atomicity guarantees every implementation must honor:
// CreateFreeze (uniqueness of the active freeze per cell) and MarkFreezeUsed
// (at-most-once redemption per freeze id).
type Store interface {
	// --- Item pricing ---

	// CreateItem registers a new item pricing record.
	CreateItem(ctx context.Context, item *model.ItemPricing) error

	// GetItem retrieves an item's pricing record.
	GetItem(ctx context.Context, itemType model.ItemType, itemID string) (*model.ItemPricing, error)

	// ListItems returns all item pricing records.
	ListItems(ctx context.Context) ([]model.ItemPricing, error)

	// UpdateItemPricing persists the derived pricing fields after a recompute.
	UpdateItemPricing(ctx context.Context, item *model.ItemPricing) error

	// UpdateItemAvailability records an inventory change from the external
	// booking collaborator. The pricing core never calls this on its own.
	UpdateItemAvailability(ctx context.Context, itemType model.ItemType, itemID string, availableUnits int) error

	// --- Price history (append-only) ---

	// AppendHistory appends an immutable price history entry.
	AppendHistory(ctx context.Context, entry *model.PriceHistoryEntry) error

	// GetHistory returns an item's history entries with Date >= since, in
	// ascending Date order.
	GetHistory(ctx context.Context, itemType model.ItemType, itemID string, since time.Time) ([]model.PriceHistoryEntry, error)

	// GetRecentHistory returns an item's most recent entries, ascending by
	// Date, at most limit of them.
	GetRecentHistory(ctx context.Context, itemType model.ItemType, itemID string, limit int) ([]model.PriceHistoryEntry, error)

	// ListHistory returns all history entries across items, ascending by Date
	// per item. Used by the analytics aggregator.
	ListHistory(ctx context.Context) ([]model.PriceHistoryEntry, error)

	// --- Price freezes ---

	// CreateFreeze inserts a freeze, enforcing that no other active, unused,
	// unexpired freeze exists for the same (user, item type, item) cell. The
	// check and the insert are one atomic unit; a loser observes
	// ErrFreezeConflict. Expiry is evaluated against now.
	CreateFreeze(ctx context.Context, freeze *model.PriceFreeze, now time.Time) error

	// GetFreeze retrieves a freeze by id.
	GetFreeze(ctx context.Context, id string) (*model.PriceFreeze, error)

	// MarkFreezeUsed atomically transitions a freeze to used (is_used = true,
	// is_active = false) and records its savings. Exactly one concurrent call
	// per id succeeds; the rest observe ErrFreezeAlreadyUsed.
	MarkFreezeUsed(ctx context.Context, id string, savings int64) error

	// ListFreezesByUser returns all freezes belonging to a user.
	ListFreezesByUser(ctx context.Context, userID string) ([]model.PriceFreeze, error)

	// ListFreezes returns all freezes. Used by the analytics aggregator.
	ListFreezes(ctx context.Context) ([]model.PriceFreeze, error)
}

// FreezeCellKey is the uniqueness key for active freezes.
func FreezeCellKey(userID string, itemType model.ItemType, itemID string) string {
	return userID + ":" + string(itemType) + ":" + itemID
}
