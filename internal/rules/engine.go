// Package rules implements the pricing rule engine: a priority-ordered set of
// conditional adjustments evaluated against a point-in-time context and folded
// into a single result.
//
// The engine holds an immutable snapshot of its rules. Malformed rules are
// rejected at construction; Evaluate never fails, it only ever produces a
// result.
package rules

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tripforge/pricing-engine/internal/model"
)

var (
	// ErrInvalidScope is returned for a rule with an unknown scope.
	ErrInvalidScope = errors.New("rules: invalid rule scope")

	// ErrInvalidKind is returned for a rule with an unknown adjustment kind.
	ErrInvalidKind = errors.New("rules: invalid adjustment kind")

	// ErrInvalidBounds is returned when a rule declares floor > cap.
	ErrInvalidBounds = errors.New("rules: floor exceeds cap")

	// ErrInvalidPercentage is returned when a percentage adjustment would
	// produce a non-positive price factor (value <= -100).
	ErrInvalidPercentage = errors.New("rules: percentage adjustment must keep the price factor positive")

	// ErrInvalidConditions is returned when a rule's condition fields are
	// internally inconsistent.
	ErrInvalidConditions = errors.New("rules: invalid rule conditions")

	// ErrDuplicateRuleID is returned when two registered rules share an ID.
	ErrDuplicateRuleID = errors.New("rules: duplicate rule id")
)

var (
	hundred     = decimal.NewFromInt(100)
	negHundred  = decimal.NewFromInt(-100)
	factorOfOne = decimal.NewFromInt(1)
)

// Engine evaluates a fixed snapshot of pricing rules. It is stateless apart
// from that snapshot and safe for concurrent use.
type Engine struct {
	rules []model.PricingRule
}

// NewEngine validates each rule and returns an engine over an immutable copy
// of the set.
func NewEngine(ruleSet ...model.PricingRule) (*Engine, error) {
	seen := make(map[string]bool, len(ruleSet))
	for _, r := range ruleSet {
		if err := validateRule(r); err != nil {
			return nil, err
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("rule %q: %w", r.ID, ErrDuplicateRuleID)
		}
		seen[r.ID] = true
	}

	snapshot := make([]model.PricingRule, len(ruleSet))
	copy(snapshot, ruleSet)
	return &Engine{rules: snapshot}, nil
}

// Rules returns a copy of the engine's rule snapshot.
func (e *Engine) Rules() []model.PricingRule {
	out := make([]model.PricingRule, len(e.rules))
	copy(out, e.rules)
	return out
}

func validateRule(r model.PricingRule) error {
	if !r.Scope.Valid() {
		return fmt.Errorf("rule %q: %w", r.ID, ErrInvalidScope)
	}
	switch r.Adjustment.Kind {
	case model.AdjustPercentage:
		if r.Adjustment.Value.LessThanOrEqual(negHundred) {
			return fmt.Errorf("rule %q: %w", r.ID, ErrInvalidPercentage)
		}
	case model.AdjustFixed:
	default:
		return fmt.Errorf("rule %q: %w", r.ID, ErrInvalidKind)
	}
	if r.Adjustment.Cap != nil && r.Adjustment.Floor != nil && *r.Adjustment.Floor > *r.Adjustment.Cap {
		return fmt.Errorf("rule %q: %w", r.ID, ErrInvalidBounds)
	}

	c := r.Conditions
	if c.DateStart != nil && c.DateEnd != nil && c.DateEnd.Before(*c.DateStart) {
		return fmt.Errorf("rule %q: date range end precedes start: %w", r.ID, ErrInvalidConditions)
	}
	if c.OccupancyThreshold != nil && (*c.OccupancyThreshold < 0 || *c.OccupancyThreshold > 1) {
		return fmt.Errorf("rule %q: occupancy threshold outside [0,1]: %w", r.ID, ErrInvalidConditions)
	}
	if c.AdvanceBookingDays != nil && *c.AdvanceBookingDays < 0 {
		return fmt.Errorf("rule %q: negative advance booking days: %w", r.ID, ErrInvalidConditions)
	}
	for _, h := range []*int{c.TimeOfDayStart, c.TimeOfDayEnd} {
		if h != nil && (*h < 0 || *h > 23) {
			return fmt.Errorf("rule %q: time of day hour outside [0,23]: %w", r.ID, ErrInvalidConditions)
		}
	}
	return nil
}

// Context carries the point-in-time inputs a rule's conditions match against.
type Context struct {
	At                 time.Time
	Occupancy          float64 // sold fraction of capacity, 0..1
	AdvanceBookingDays int     // days between now and travel date
	Route              string
	Location           string
}

// Result is the folded outcome of one evaluation. PercentFactor multiplies
// the demand-adjusted base price; FixedDelta is added on top. Cap and Floor
// are the tightest bounds among the matched rules, applied once to the final
// price by the caller.
type Result struct {
	PercentFactor  decimal.Decimal
	FixedDelta     decimal.Decimal
	Cap            *int64
	Floor          *int64
	AppliedRuleIDs []string
}

// Evaluate selects the active rules whose scope covers itemType and whose
// conditions all match ctx, then folds their adjustments in descending
// priority order (ties broken by rule ID ascending, so the fold is
// deterministic).
func (e *Engine) Evaluate(itemType model.ItemType, ctx Context) Result {
	var matched []model.PricingRule
	for _, r := range e.rules {
		if !r.IsActive || !r.Scope.Matches(itemType) {
			continue
		}
		if conditionsMatch(r.Conditions, ctx) {
			matched = append(matched, r)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].ID < matched[j].ID
	})

	res := Result{
		PercentFactor: factorOfOne,
		FixedDelta:    decimal.Zero,
	}

	for _, r := range matched {
		switch r.Adjustment.Kind {
		case model.AdjustPercentage:
			res.PercentFactor = res.PercentFactor.Mul(factorOfOne.Add(r.Adjustment.Value.Div(hundred)))
		case model.AdjustFixed:
			res.FixedDelta = res.FixedDelta.Add(r.Adjustment.Value)
		}
		if c := r.Adjustment.Cap; c != nil && (res.Cap == nil || *c < *res.Cap) {
			v := *c
			res.Cap = &v
		}
		if f := r.Adjustment.Floor; f != nil && (res.Floor == nil || *f > *res.Floor) {
			v := *f
			res.Floor = &v
		}
		res.AppliedRuleIDs = append(res.AppliedRuleIDs, r.ID)
	}

	return res
}

// Clip bounds an adjusted price by the tightest matched cap and floor:
// price <= basePrice + cap, and price >= floor. Applied once, after all
// adjustments are folded.
func (r Result) Clip(price, basePrice int64) int64 {
	if r.Cap != nil && price > basePrice+*r.Cap {
		price = basePrice + *r.Cap
	}
	if r.Floor != nil && price < *r.Floor {
		price = *r.Floor
	}
	return price
}

// conditionsMatch reports whether every set condition field matches the
// context. An unset field is unconstrained.
func conditionsMatch(c model.RuleConditions, ctx Context) bool {
	if c.DateStart != nil && ctx.At.Before(*c.DateStart) {
		return false
	}
	if c.DateEnd != nil && ctx.At.After(*c.DateEnd) {
		return false
	}
	if c.OccupancyThreshold != nil && ctx.Occupancy < *c.OccupancyThreshold {
		return false
	}
	if c.AdvanceBookingDays != nil && ctx.AdvanceBookingDays > *c.AdvanceBookingDays {
		return false
	}
	if len(c.DaysOfWeek) > 0 && !containsWeekday(c.DaysOfWeek, ctx.At.Weekday()) {
		return false
	}
	if c.TimeOfDayStart != nil || c.TimeOfDayEnd != nil {
		if !hourInRange(ctx.At.Hour(), c.TimeOfDayStart, c.TimeOfDayEnd) {
			return false
		}
	}
	if c.Route != "" && c.Route != ctx.Route {
		return false
	}
	if c.Location != "" && c.Location != ctx.Location {
		return false
	}
	return true
}

func containsWeekday(days []time.Weekday, d time.Weekday) bool {
	for _, w := range days {
		if w == d {
			return true
		}
	}
	return false
}

// hourInRange checks hour membership in [start, end). A range with
// start > end wraps past midnight; a half-open bound is unconstrained on the
// missing side.
func hourInRange(h int, start, end *int) bool {
	switch {
	case start != nil && end != nil:
		if *start <= *end {
			return h >= *start && h < *end
		}
		return h >= *start || h < *end
	case start != nil:
		return h >= *start
	default:
		return h < *end
	}
}
