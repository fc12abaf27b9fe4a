package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tripforge/pricing-engine/internal/model"
)

// AnalyticsSnapshot summarizes price movement and freeze activity across all
// items. Every value is recomputed on demand from the authoritative stores —
// there are no cached counters to drift.
type AnalyticsSnapshot struct {
	// TotalPriceChanges counts history entries minus one baseline entry per
	// item: the first observation of an item is not a change.
	TotalPriceChanges int `json:"total_price_changes"`

	// AveragePriceIncrease is the mean of positive consecutive deltas, in
	// smallest currency units. AveragePriceDecrease is the mean magnitude of
	// the negative ones.
	AveragePriceIncrease decimal.Decimal `json:"average_price_increase"`
	AveragePriceDecrease decimal.Decimal `json:"average_price_decrease"`

	PriceFreezesActive      int   `json:"price_freezes_active"`
	PriceFreezesUsed        int   `json:"price_freezes_used"`
	TotalSavingsFromFreezes int64 `json:"total_savings_from_freezes"`
}

// BuildAnalytics aggregates a full history listing (ascending by date per
// item) and the freeze ledger contents into a snapshot. Freeze expiry is
// evaluated against now, consistent with the ledger's read-time semantics.
func BuildAnalytics(history []model.PriceHistoryEntry, freezes []model.PriceFreeze, now time.Time) AnalyticsSnapshot {
	var snap AnalyticsSnapshot

	type itemKey struct {
		t  model.ItemType
		id string
	}
	lastPrice := make(map[itemKey]int64)

	var incSum, decSum int64
	var incCount, decCount int

	for _, e := range history {
		key := itemKey{e.ItemType, e.ItemID}
		if prev, seen := lastPrice[key]; seen {
			delta := e.FinalPrice - prev
			switch {
			case delta > 0:
				incSum += delta
				incCount++
			case delta < 0:
				decSum += -delta
				decCount++
			}
		}
		lastPrice[key] = e.FinalPrice
	}

	snap.TotalPriceChanges = len(history) - len(lastPrice)
	snap.AveragePriceIncrease = average(incSum, incCount)
	snap.AveragePriceDecrease = average(decSum, decCount)

	for _, f := range freezes {
		switch {
		case f.IsUsed:
			snap.PriceFreezesUsed++
			snap.TotalSavingsFromFreezes += f.Savings
		case f.Redeemable(now):
			snap.PriceFreezesActive++
		}
	}

	return snap
}

func average(sum int64, count int) decimal.Decimal {
	if count == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(sum).Div(decimal.NewFromInt(int64(count))).Round(2)
}
