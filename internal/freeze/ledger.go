// Package freeze owns the price-freeze lifecycle: creation, single-use
// redemption, and read-time expiry.
//
// The two concurrency invariants live in the store: CreateFreeze is an atomic
// uniqueness-check-plus-insert per (user, item type, item) cell, and
// MarkFreezeUsed is a compare-and-set per freeze id. The ledger never retries
// either — a conflict or a lost redemption race is a terminal outcome the
// caller decides what to do with.
package freeze

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tripforge/pricing-engine/internal/model"
	"github.com/tripforge/pricing-engine/internal/store"
)

// DefaultTTL is how long a freeze pins its price.
const DefaultTTL = 24 * time.Hour

var (
	// ErrExpired is returned when redeeming a freeze past its end time.
	// Expiry is computed from the clock at call time, never stored.
	ErrExpired = errors.New("freeze: freeze has expired")

	// ErrInvalidPrice is returned when creating a freeze at a non-positive
	// price.
	ErrInvalidPrice = errors.New("freeze: price must be positive")
)

// Ledger manages price freezes on top of a Store.
type Ledger struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewLedger creates a ledger. ttl <= 0 selects DefaultTTL; a nil clock
// selects time.Now.
func NewLedger(st store.Store, ttl time.Duration, now func() time.Time) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: st, ttl: ttl, now: now}
}

// Create freezes the current price for the user on one item. At most one
// active, unused, unexpired freeze may exist per (user, item type, item);
// a second concurrent create observes store.ErrFreezeConflict. An expired or
// already-used freeze does not block a new one.
func (l *Ledger) Create(ctx context.Context, userID string, itemType model.ItemType, itemID string, currentPrice int64) (*model.PriceFreeze, error) {
	if currentPrice <= 0 {
		return nil, fmt.Errorf("create freeze at %d: %w", currentPrice, ErrInvalidPrice)
	}

	now := l.now().UTC()
	f := &model.PriceFreeze{
		ID:            uuid.New().String(),
		UserID:        userID,
		ItemType:      itemType,
		ItemID:        itemID,
		FrozenPrice:   currentPrice,
		OriginalPrice: currentPrice,
		Savings:       0,
		FreezeStart:   now,
		FreezeEnd:     now.Add(l.ttl),
		IsActive:      true,
		IsUsed:        false,
	}

	if err := l.store.CreateFreeze(ctx, f, now); err != nil {
		return nil, err
	}
	return f, nil
}

// Redemption is the outcome of using a freeze.
type Redemption struct {
	AppliedPrice int64 `json:"applied_price"`
	Savings      int64 `json:"savings"`
}

// Use redeems a freeze against the market price at use time. The freeze must
// belong to userID, be unexpired, and not yet used; exactly one of N
// concurrent calls succeeds. Savings never go negative — a market price below
// the frozen price redeems with zero savings.
func (l *Ledger) Use(ctx context.Context, freezeID, userID string, marketPrice int64) (*Redemption, error) {
	f, err := l.store.GetFreeze(ctx, freezeID)
	if err != nil {
		return nil, err
	}
	if f.UserID != userID {
		// A freeze is user-scoped; don't reveal other users' freeze ids.
		return nil, fmt.Errorf("freeze %s: %w", freezeID, store.ErrFreezeNotFound)
	}

	now := l.now().UTC()
	if f.ExpiredAt(now) {
		return nil, fmt.Errorf("freeze %s ended %s: %w", freezeID, f.FreezeEnd.Format(time.RFC3339), ErrExpired)
	}
	if f.IsUsed {
		return nil, fmt.Errorf("freeze %s: %w", freezeID, store.ErrFreezeAlreadyUsed)
	}

	savings := marketPrice - f.FrozenPrice
	if savings < 0 {
		savings = 0
	}

	if err := l.store.MarkFreezeUsed(ctx, freezeID, savings); err != nil {
		return nil, err
	}

	return &Redemption{AppliedPrice: f.FrozenPrice, Savings: savings}, nil
}

// UserFreezes classifies a user's freezes at read time. A used freeze is
// terminal regardless of its end time; an unused freeze past its end time
// reports as expired no matter what flags are stored.
type UserFreezes struct {
	Active  []model.PriceFreeze `json:"active"`
	Used    []model.PriceFreeze `json:"used"`
	Expired []model.PriceFreeze `json:"expired"`
}

// ListForUser returns every freeze belonging to the user, classified by
// evaluating the stored flags and the clock at read time.
func (l *Ledger) ListForUser(ctx context.Context, userID string) (*UserFreezes, error) {
	freezes, err := l.store.ListFreezesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	out := &UserFreezes{
		Active:  []model.PriceFreeze{},
		Used:    []model.PriceFreeze{},
		Expired: []model.PriceFreeze{},
	}
	for _, f := range freezes {
		switch {
		case f.IsUsed:
			out.Used = append(out.Used, f)
		case f.ExpiredAt(now):
			out.Expired = append(out.Expired, f)
		default:
			out.Active = append(out.Active, f)
		}
	}
	return out, nil
}
