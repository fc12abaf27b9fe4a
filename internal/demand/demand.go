// Package demand implements the demand factor set: the independently
// toggleable multipliers (seasonal, event, occupancy, time-based, competition)
// that scale an item's base price.
//
// The set is pure data: every query is a function of the stored factors and
// the evaluation instant. Adding or removing a factor never rewrites price
// history that was computed from an earlier set.
package demand

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tripforge/pricing-engine/internal/model"
)

var (
	// ErrInvalidMultiplier is returned when a factor's multiplier is not
	// strictly positive.
	ErrInvalidMultiplier = errors.New("demand: factor multiplier must be positive")

	// ErrInvalidWindow is returned when a factor's active window ends before
	// it starts.
	ErrInvalidWindow = errors.New("demand: factor window end precedes start")

	// ErrInvalidFactorType is returned for an unknown factor type.
	ErrInvalidFactorType = errors.New("demand: unknown factor type")
)

// Set is an ordered collection of demand factors for one item.
type Set []model.DemandFactor

// NewSet validates the given factors and returns them as a Set. Validation
// happens here, at registration time, so evaluation never fails.
func NewSet(factors ...model.DemandFactor) (Set, error) {
	for i, f := range factors {
		if !f.Type.Valid() {
			return nil, fmt.Errorf("factor %d (%s): %w", i, f.Name, ErrInvalidFactorType)
		}
		if f.Multiplier.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("factor %d (%s): %w", i, f.Name, ErrInvalidMultiplier)
		}
		if f.WindowStart != nil && f.WindowEnd != nil && f.WindowEnd.Before(*f.WindowStart) {
			return nil, fmt.Errorf("factor %d (%s): %w", i, f.Name, ErrInvalidWindow)
		}
	}
	return Set(factors), nil
}

// ActiveAt returns the factors that contribute to pricing at the given
// instant: IsActive must be set, and a windowed factor's window must contain
// the instant.
func (s Set) ActiveAt(at time.Time) Set {
	var active Set
	for _, f := range s {
		if f.ActiveAt(at) {
			active = append(active, f)
		}
	}
	return active
}

// CombinedMultiplier is the product of the multipliers of all factors active
// at the given instant, 1.0 when none are.
func (s Set) CombinedMultiplier(at time.Time) decimal.Decimal {
	combined := decimal.NewFromInt(1)
	for _, f := range s {
		if f.ActiveAt(at) {
			combined = combined.Mul(f.Multiplier)
		}
	}
	return combined
}

// MultiplierFor is the product of active multipliers of a single factor type,
// 1.0 when none are active. Used to snapshot per-type contributions into
// price history.
func (s Set) MultiplierFor(t model.DemandFactorType, at time.Time) decimal.Decimal {
	combined := decimal.NewFromInt(1)
	for _, f := range s {
		if f.Type == t && f.ActiveAt(at) {
			combined = combined.Mul(f.Multiplier)
		}
	}
	return combined
}
