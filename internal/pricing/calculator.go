// Package pricing provides the price calculator, the HTTP handlers for the
// pricing boundary, and the on-demand analytics aggregator.
//
// All monetary values are int64 amounts in the smallest currency unit;
// multiplier math runs through shopspring/decimal and rounds half-up exactly
// once per recompute, so every history entry is reproducible from its inputs.
package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tripforge/pricing-engine/internal/demand"
	"github.com/tripforge/pricing-engine/internal/model"
	"github.com/tripforge/pricing-engine/internal/rules"
)

// DefaultTrendWindow is the number of trailing history entries compared when
// classifying booking trend.
const DefaultTrendWindow = 3

// ErrInvalidBasePrice is returned when an item is configured with a
// non-positive base price. It is surfaced, never silently coerced: a wrong
// price is worse than a failed request.
var ErrInvalidBasePrice = errors.New("pricing: base price must be positive")

var hundred = decimal.NewFromInt(100)

// Calculator combines the demand factor set and the rule engine into a
// current price, a price-change percentage, and a trend classification. It is
// pure: state lives in its inputs, and the caller persists the outputs.
type Calculator struct {
	engine      *rules.Engine
	trendWindow int
}

// NewCalculator creates a calculator over a rule engine snapshot.
// trendWindow <= 0 selects DefaultTrendWindow.
func NewCalculator(engine *rules.Engine, trendWindow int) *Calculator {
	if trendWindow <= 0 {
		trendWindow = DefaultTrendWindow
	}
	return &Calculator{engine: engine, trendWindow: trendWindow}
}

// TrendWindow returns the trailing-entry count used for trend classification.
func (c *Calculator) TrendWindow() int {
	return c.trendWindow
}

// Recompute derives the item's current price at the given instant and
// produces exactly one history entry for the observation. history must be the
// item's most recent entries in ascending date order; only the trailing trend
// window is consulted.
//
// finalPrice = clip(roundHalfUp(basePrice × demandMultiplier × percentFactor)
// + fixedDelta), with the tightest matched cap/floor applied once at the end.
func (c *Calculator) Recompute(item model.ItemPricing, history []model.PriceHistoryEntry, at time.Time, advanceDays int) (model.ItemPricing, model.PriceHistoryEntry, error) {
	if item.BasePrice <= 0 {
		return item, model.PriceHistoryEntry{}, fmt.Errorf("item %s/%s: %w", item.ItemType, item.ItemID, ErrInvalidBasePrice)
	}

	factors := demand.Set(item.DemandFactors)
	demandMult := factors.CombinedMultiplier(at)

	res := c.engine.Evaluate(item.ItemType, rules.Context{
		At:                 at,
		Occupancy:          item.Occupancy(),
		AdvanceBookingDays: advanceDays,
		Route:              item.Route,
		Location:           item.Location,
	})

	base := decimal.NewFromInt(item.BasePrice)
	adjusted := base.Mul(demandMult).Mul(res.PercentFactor).Add(res.FixedDelta)
	final := res.Clip(roundHalfUp(adjusted), item.BasePrice)

	pct := decimal.NewFromInt(final - item.BasePrice).Div(base).Mul(hundred).Round(2)

	item.CurrentPrice = final
	item.OccupancyRate = item.Occupancy()
	item.BookingTrend = classifyTrend(trailingPrices(history, c.trendWindow), final)
	item.PriceChangePercentage = pct
	item.LastUpdated = at

	entry := model.PriceHistoryEntry{
		ID:                 uuid.New().String(),
		ItemType:           item.ItemType,
		ItemID:             item.ItemID,
		Date:               at,
		BasePrice:          item.BasePrice,
		FinalPrice:         final,
		DemandMultiplier:   demandMult,
		SeasonalMultiplier: factors.MultiplierFor(model.FactorSeasonal, at),
		EventMultiplier:    factors.MultiplierFor(model.FactorEvent, at),
		OccupancyRate:      item.OccupancyRate,
		BookingCount:       item.BookingCount(),
	}

	return item, entry, nil
}

// roundHalfUp rounds to the smallest currency unit, half away from zero.
// Prices are non-negative, so this is round-half-up everywhere — the single
// rounding policy every call site shares.
func roundHalfUp(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

func trailingPrices(history []model.PriceHistoryEntry, window int) []int64 {
	if len(history) > window {
		history = history[len(history)-window:]
	}
	prices := make([]int64, 0, len(history))
	for _, e := range history {
		prices = append(prices, e.FinalPrice)
	}
	return prices
}

// classifyTrend compares the new price against the trailing window. Strictly
// rising across the whole window is increasing, strictly falling is
// decreasing, everything else (including no prior history) is stable.
func classifyTrend(prior []int64, next int64) model.BookingTrend {
	if len(prior) == 0 {
		return model.TrendStable
	}

	prices := append(append([]int64{}, prior...), next)
	increasing, decreasing := true, true
	for i := 1; i < len(prices); i++ {
		if prices[i] <= prices[i-1] {
			increasing = false
		}
		if prices[i] >= prices[i-1] {
			decreasing = false
		}
	}

	switch {
	case increasing:
		return model.TrendIncreasing
	case decreasing:
		return model.TrendDecreasing
	default:
		return model.TrendStable
	}
}
