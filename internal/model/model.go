// Package model defines the core domain types shared across the pricing engine.
// All monetary values are int64 amounts in the smallest currency unit; ratio
// quantities (multipliers, percentages) use shopspring/decimal — never float64
// for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemType identifies the kind of sellable inventory a price applies to.
type ItemType string

const (
	ItemFlight ItemType = "flight"
	ItemHotel  ItemType = "hotel"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	return t == ItemFlight || t == ItemHotel
}

// DemandFactorType classifies a demand multiplier by what drives it.
type DemandFactorType string

const (
	FactorSeasonal    DemandFactorType = "seasonal"
	FactorEvent       DemandFactorType = "event"
	FactorOccupancy   DemandFactorType = "occupancy"
	FactorTimeBased   DemandFactorType = "time_based"
	FactorCompetition DemandFactorType = "competition"
)

// Valid reports whether t is a known factor type.
func (t DemandFactorType) Valid() bool {
	switch t {
	case FactorSeasonal, FactorEvent, FactorOccupancy, FactorTimeBased, FactorCompetition:
		return true
	}
	return false
}

// BookingTrend is a coarse classification of recent price movement.
type BookingTrend string

const (
	TrendIncreasing BookingTrend = "increasing"
	TrendDecreasing BookingTrend = "decreasing"
	TrendStable     BookingTrend = "stable"
)

// DemandFactor is a named, independently toggleable multiplier applied to the
// base price. A factor with a window is active only while the evaluation
// instant falls inside [WindowStart, WindowEnd] and IsActive is true; a factor
// without a window is active purely by IsActive.
type DemandFactor struct {
	Type        DemandFactorType `json:"type" db:"type"`
	Name        string           `json:"name" db:"name"`
	Multiplier  decimal.Decimal  `json:"multiplier" db:"multiplier"` // must be > 0
	WindowStart *time.Time       `json:"window_start,omitempty" db:"window_start"`
	WindowEnd   *time.Time       `json:"window_end,omitempty" db:"window_end"`
	Description string           `json:"description,omitempty" db:"description"`
	IsActive    bool             `json:"is_active" db:"is_active"`
}

// ActiveAt reports whether the factor contributes to pricing at the given
// instant.
func (f DemandFactor) ActiveAt(at time.Time) bool {
	if !f.IsActive {
		return false
	}
	if f.WindowStart != nil && at.Before(*f.WindowStart) {
		return false
	}
	if f.WindowEnd != nil && at.After(*f.WindowEnd) {
		return false
	}
	return true
}

// RuleScope restricts a pricing rule to one item type, or applies it globally.
type RuleScope string

const (
	ScopeFlight RuleScope = "flight"
	ScopeHotel  RuleScope = "hotel"
	ScopeGlobal RuleScope = "global"
)

// Valid reports whether s is a known rule scope.
func (s RuleScope) Valid() bool {
	return s == ScopeFlight || s == ScopeHotel || s == ScopeGlobal
}

// Matches reports whether the scope applies to the given item type.
func (s RuleScope) Matches(t ItemType) bool {
	return s == ScopeGlobal || string(s) == string(t)
}

// AdjustmentKind distinguishes percentage adjustments from fixed deltas.
type AdjustmentKind string

const (
	AdjustPercentage AdjustmentKind = "percentage"
	AdjustFixed      AdjustmentKind = "fixed"
)

// RuleConditions are the optional predicates a rule matches against the
// evaluation context. A nil/zero field is unconstrained (vacuously true).
type RuleConditions struct {
	DateStart *time.Time `json:"date_start,omitempty"`
	DateEnd   *time.Time `json:"date_end,omitempty"`

	// OccupancyThreshold matches when current occupancy >= threshold (0..1).
	OccupancyThreshold *float64 `json:"occupancy_threshold,omitempty"`

	// AdvanceBookingDays matches bookings made at most N days ahead of travel.
	AdvanceBookingDays *int `json:"advance_booking_days,omitempty"`

	DaysOfWeek []time.Weekday `json:"days_of_week,omitempty"`

	// TimeOfDayStart/End are hours in [0,23]. A range with start > end wraps
	// past midnight.
	TimeOfDayStart *int `json:"time_of_day_start,omitempty"`
	TimeOfDayEnd   *int `json:"time_of_day_end,omitempty"`

	Route    string `json:"route,omitempty"`    // flights, e.g. "JFK-LHR"
	Location string `json:"location,omitempty"` // hotels
}

// PriceAdjustment is what a matched rule does to the price. Cap bounds the
// absolute increase over base; Floor bounds the minimum absolute price.
type PriceAdjustment struct {
	Kind  AdjustmentKind  `json:"kind"`
	Value decimal.Decimal `json:"value"` // percent points, or smallest currency units
	Cap   *int64          `json:"cap,omitempty"`
	Floor *int64          `json:"floor,omitempty"`
}

// PricingRule is a conditional price adjustment. Rules are validated at
// registration; evaluation never fails.
type PricingRule struct {
	ID         string          `json:"id"`
	Scope      RuleScope       `json:"scope"`
	Priority   int             `json:"priority"`
	Conditions RuleConditions  `json:"conditions"`
	Adjustment PriceAdjustment `json:"adjustment"`
	IsActive   bool            `json:"is_active"`
}

// PriceHistoryEntry is an immutable observation of one recompute. Once
// appended, entries are never modified or deleted, and are ordered by Date
// per item.
type PriceHistoryEntry struct {
	ID                 string          `json:"id" db:"id"`
	ItemType           ItemType        `json:"item_type" db:"item_type"`
	ItemID             string          `json:"item_id" db:"item_id"`
	Date               time.Time       `json:"date" db:"date"`
	BasePrice          int64           `json:"base_price" db:"base_price"`
	FinalPrice         int64           `json:"final_price" db:"final_price"`
	DemandMultiplier   decimal.Decimal `json:"demand_multiplier" db:"demand_multiplier"`
	SeasonalMultiplier decimal.Decimal `json:"seasonal_multiplier" db:"seasonal_multiplier"`
	EventMultiplier    decimal.Decimal `json:"event_multiplier" db:"event_multiplier"`
	OccupancyRate      float64         `json:"occupancy_rate" db:"occupancy_rate"`
	BookingCount       int             `json:"booking_count" db:"booking_count"`
}

// ItemPricing is the pricing state for one sellable item. AvailableUnits is
// owned by the external inventory collaborator; the pricing core only reads it.
type ItemPricing struct {
	ItemID                string          `json:"item_id" db:"item_id"`
	ItemType              ItemType        `json:"item_type" db:"item_type"`
	Route                 string          `json:"route,omitempty" db:"route"`
	Location              string          `json:"location,omitempty" db:"location"`
	BasePrice             int64           `json:"base_price" db:"base_price"`
	CurrentPrice          int64           `json:"current_price" db:"current_price"`
	TotalUnits            int             `json:"total_units" db:"total_units"`
	AvailableUnits        int             `json:"available_units" db:"available_units"`
	OccupancyRate         float64         `json:"occupancy_rate" db:"occupancy_rate"`
	DemandFactors         []DemandFactor  `json:"demand_factors"`
	BookingTrend          BookingTrend    `json:"booking_trend" db:"booking_trend"`
	PriceChangePercentage decimal.Decimal `json:"price_change_percentage" db:"price_change_percentage"`
	LastUpdated           time.Time       `json:"last_updated" db:"last_updated"`
}

// Occupancy computes the sold fraction of capacity from the current unit
// counts.
func (p *ItemPricing) Occupancy() float64 {
	if p.TotalUnits <= 0 {
		return 0
	}
	return 1 - float64(p.AvailableUnits)/float64(p.TotalUnits)
}

// BookingCount is the number of units sold.
func (p *ItemPricing) BookingCount() int {
	if p.TotalUnits <= 0 {
		return 0
	}
	return p.TotalUnits - p.AvailableUnits
}

// PriceFreeze pins a previously observed price for one user on one item.
// FrozenPrice is immutable once created. Expiry is a read-time predicate
// computed from FreezeEnd, never written back.
type PriceFreeze struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	ItemType      ItemType  `json:"item_type" db:"item_type"`
	ItemID        string    `json:"item_id" db:"item_id"`
	FrozenPrice   int64     `json:"frozen_price" db:"frozen_price"`
	OriginalPrice int64     `json:"original_price" db:"original_price"`
	Savings       int64     `json:"savings" db:"savings"`
	FreezeStart   time.Time `json:"freeze_start" db:"freeze_start"`
	FreezeEnd     time.Time `json:"freeze_end" db:"freeze_end"`
	IsActive      bool      `json:"is_active" db:"is_active"`
	IsUsed        bool      `json:"is_used" db:"is_used"`
}

// ExpiredAt reports whether the freeze is past its end time.
func (f PriceFreeze) ExpiredAt(now time.Time) bool {
	return now.After(f.FreezeEnd)
}

// Redeemable reports whether the freeze can still be used at the given
// instant.
func (f PriceFreeze) Redeemable(now time.Time) bool {
	return f.IsActive && !f.IsUsed && !f.ExpiredAt(now)
}
