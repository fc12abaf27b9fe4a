package rules

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tripforge/pricing-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func ip(v int) *int         { return &v }
func i64p(v int64) *int64   { return &v }
func fp(v float64) *float64 { return &v }
func tp(t time.Time) *time.Time {
	return &t
}

// Wednesday, mid-July, 14:00 UTC.
var evalAt = time.Date(2026, 7, 15, 14, 0, 0, 0, time.UTC)

func pctRule(id string, scope model.RuleScope, priority int, value float64) model.PricingRule {
	return model.PricingRule{
		ID:       id,
		Scope:    scope,
		Priority: priority,
		Adjustment: model.PriceAdjustment{
			Kind:  model.AdjustPercentage,
			Value: d(value),
		},
		IsActive: true,
	}
}

func fixedRule(id string, scope model.RuleScope, priority int, value float64) model.PricingRule {
	return model.PricingRule{
		ID:       id,
		Scope:    scope,
		Priority: priority,
		Adjustment: model.PriceAdjustment{
			Kind:  model.AdjustFixed,
			Value: d(value),
		},
		IsActive: true,
	}
}

func mustEngine(t *testing.T, ruleSet ...model.PricingRule) *Engine {
	t.Helper()
	e, err := NewEngine(ruleSet...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// --- Registration validation ---

func TestNewEngine_RejectsInvalidScope(t *testing.T) {
	r := pctRule("r1", "cruise", 1, 10)
	if _, err := NewEngine(r); !errors.Is(err, ErrInvalidScope) {
		t.Errorf("expected ErrInvalidScope, got %v", err)
	}
}

func TestNewEngine_RejectsInvalidKind(t *testing.T) {
	r := pctRule("r1", model.ScopeGlobal, 1, 10)
	r.Adjustment.Kind = "logarithmic"
	if _, err := NewEngine(r); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("expected ErrInvalidKind, got %v", err)
	}
}

func TestNewEngine_RejectsFloorAboveCap(t *testing.T) {
	r := pctRule("r1", model.ScopeGlobal, 1, 10)
	r.Adjustment.Cap = i64p(1000)
	r.Adjustment.Floor = i64p(2000)
	if _, err := NewEngine(r); !errors.Is(err, ErrInvalidBounds) {
		t.Errorf("expected ErrInvalidBounds, got %v", err)
	}
}

func TestNewEngine_RejectsNonPositiveFactorRegion(t *testing.T) {
	for _, v := range []float64{-100, -150} {
		if _, err := NewEngine(pctRule("r1", model.ScopeGlobal, 1, v)); !errors.Is(err, ErrInvalidPercentage) {
			t.Errorf("value %v: expected ErrInvalidPercentage, got %v", v, err)
		}
	}
	// -99 keeps the factor positive.
	if _, err := NewEngine(pctRule("r1", model.ScopeGlobal, 1, -99)); err != nil {
		t.Errorf("value -99 should be accepted, got %v", err)
	}
}

func TestNewEngine_RejectsDuplicateIDs(t *testing.T) {
	_, err := NewEngine(
		pctRule("r1", model.ScopeGlobal, 1, 10),
		fixedRule("r1", model.ScopeFlight, 2, 500),
	)
	if !errors.Is(err, ErrDuplicateRuleID) {
		t.Errorf("expected ErrDuplicateRuleID, got %v", err)
	}
}

func TestNewEngine_RejectsInvalidConditions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.PricingRule)
	}{
		{"inverted date range", func(r *model.PricingRule) {
			r.Conditions.DateStart = tp(evalAt)
			r.Conditions.DateEnd = tp(evalAt.Add(-time.Hour))
		}},
		{"occupancy above one", func(r *model.PricingRule) {
			r.Conditions.OccupancyThreshold = fp(1.5)
		}},
		{"negative advance days", func(r *model.PricingRule) {
			r.Conditions.AdvanceBookingDays = ip(-1)
		}},
		{"hour out of range", func(r *model.PricingRule) {
			r.Conditions.TimeOfDayStart = ip(24)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := pctRule("r1", model.ScopeGlobal, 1, 10)
			tt.mutate(&r)
			if _, err := NewEngine(r); !errors.Is(err, ErrInvalidConditions) {
				t.Errorf("expected ErrInvalidConditions, got %v", err)
			}
		})
	}
}

// --- Selection ---

func TestEvaluate_ScopeFiltering(t *testing.T) {
	e := mustEngine(t,
		pctRule("flight-only", model.ScopeFlight, 1, 10),
		pctRule("hotel-only", model.ScopeHotel, 1, 20),
		pctRule("everywhere", model.ScopeGlobal, 1, 5),
	)

	res := e.Evaluate(model.ItemFlight, Context{At: evalAt})
	want := []string{"everywhere", "flight-only"}
	if !reflect.DeepEqual(res.AppliedRuleIDs, want) {
		t.Errorf("expected %v, got %v", want, res.AppliedRuleIDs)
	}
}

func TestEvaluate_InactiveRulesIgnored(t *testing.T) {
	r := pctRule("dormant", model.ScopeGlobal, 1, 50)
	r.IsActive = false
	e := mustEngine(t, r)

	res := e.Evaluate(model.ItemHotel, Context{At: evalAt})
	if len(res.AppliedRuleIDs) != 0 {
		t.Errorf("inactive rule applied: %v", res.AppliedRuleIDs)
	}
	if !res.PercentFactor.Equal(d(1)) {
		t.Errorf("expected neutral factor, got %s", res.PercentFactor)
	}
}

func TestEvaluate_UnsetConditionsAreVacuouslyTrue(t *testing.T) {
	e := mustEngine(t, pctRule("bare", model.ScopeGlobal, 1, 10))

	res := e.Evaluate(model.ItemFlight, Context{At: evalAt})
	if len(res.AppliedRuleIDs) != 1 {
		t.Fatalf("unconditioned rule should always match, got %v", res.AppliedRuleIDs)
	}
}

func TestEvaluate_ConditionMatching(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*model.PricingRule)
		ctx       Context
		wantMatch bool
	}{
		{"date inside range", func(r *model.PricingRule) {
			r.Conditions.DateStart = tp(evalAt.Add(-24 * time.Hour))
			r.Conditions.DateEnd = tp(evalAt.Add(24 * time.Hour))
		}, Context{At: evalAt}, true},
		{"date outside range", func(r *model.PricingRule) {
			r.Conditions.DateEnd = tp(evalAt.Add(-24 * time.Hour))
		}, Context{At: evalAt}, false},
		{"occupancy at threshold", func(r *model.PricingRule) {
			r.Conditions.OccupancyThreshold = fp(0.8)
		}, Context{At: evalAt, Occupancy: 0.8}, true},
		{"occupancy below threshold", func(r *model.PricingRule) {
			r.Conditions.OccupancyThreshold = fp(0.8)
		}, Context{At: evalAt, Occupancy: 0.79}, false},
		{"last-minute booking window", func(r *model.PricingRule) {
			r.Conditions.AdvanceBookingDays = ip(7)
		}, Context{At: evalAt, AdvanceBookingDays: 3}, true},
		{"booked too far ahead", func(r *model.PricingRule) {
			r.Conditions.AdvanceBookingDays = ip(7)
		}, Context{At: evalAt, AdvanceBookingDays: 30}, false},
		{"matching weekday", func(r *model.PricingRule) {
			r.Conditions.DaysOfWeek = []time.Weekday{time.Wednesday, time.Saturday}
		}, Context{At: evalAt}, true},
		{"non-matching weekday", func(r *model.PricingRule) {
			r.Conditions.DaysOfWeek = []time.Weekday{time.Monday}
		}, Context{At: evalAt}, false},
		{"hour inside range", func(r *model.PricingRule) {
			r.Conditions.TimeOfDayStart = ip(12)
			r.Conditions.TimeOfDayEnd = ip(18)
		}, Context{At: evalAt}, true},
		{"hour outside range", func(r *model.PricingRule) {
			r.Conditions.TimeOfDayStart = ip(18)
			r.Conditions.TimeOfDayEnd = ip(22)
		}, Context{At: evalAt}, false},
		{"overnight range wraps midnight", func(r *model.PricingRule) {
			r.Conditions.TimeOfDayStart = ip(22)
			r.Conditions.TimeOfDayEnd = ip(6)
		}, Context{At: time.Date(2026, 7, 15, 2, 0, 0, 0, time.UTC)}, true},
		{"matching route", func(r *model.PricingRule) {
			r.Conditions.Route = "JFK-LHR"
		}, Context{At: evalAt, Route: "JFK-LHR"}, true},
		{"non-matching route", func(r *model.PricingRule) {
			r.Conditions.Route = "JFK-LHR"
		}, Context{At: evalAt, Route: "SFO-NRT"}, false},
		{"matching location", func(r *model.PricingRule) {
			r.Conditions.Location = "paris"
		}, Context{At: evalAt, Location: "paris"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := pctRule("r1", model.ScopeGlobal, 1, 10)
			tt.mutate(&r)
			e := mustEngine(t, r)

			res := e.Evaluate(model.ItemFlight, tt.ctx)
			matched := len(res.AppliedRuleIDs) == 1
			if matched != tt.wantMatch {
				t.Errorf("matched = %v, want %v", matched, tt.wantMatch)
			}
		})
	}
}

// --- Folding ---

func TestEvaluate_PriorityOrderDeterministic(t *testing.T) {
	e := mustEngine(t,
		pctRule("b", model.ScopeGlobal, 5, 10),
		pctRule("a", model.ScopeGlobal, 5, 10),
		pctRule("c", model.ScopeGlobal, 9, 10),
	)

	res := e.Evaluate(model.ItemHotel, Context{At: evalAt})
	want := []string{"c", "a", "b"}
	if !reflect.DeepEqual(res.AppliedRuleIDs, want) {
		t.Errorf("expected order %v, got %v", want, res.AppliedRuleIDs)
	}
}

func TestEvaluate_FoldsAllMatches(t *testing.T) {
	e := mustEngine(t,
		pctRule("ten", model.ScopeGlobal, 2, 10),
		pctRule("twenty", model.ScopeGlobal, 1, 20),
		fixedRule("plus500", model.ScopeGlobal, 3, 500),
		fixedRule("minus200", model.ScopeGlobal, 0, -200),
	)

	res := e.Evaluate(model.ItemFlight, Context{At: evalAt})

	// (1 + 10/100) * (1 + 20/100) = 1.32
	if !res.PercentFactor.Equal(d(1.32)) {
		t.Errorf("expected percent factor 1.32, got %s", res.PercentFactor)
	}
	if !res.FixedDelta.Equal(d(300)) {
		t.Errorf("expected fixed delta 300, got %s", res.FixedDelta)
	}
}

func TestEvaluate_TightestBoundsWin(t *testing.T) {
	loose := pctRule("loose", model.ScopeGlobal, 2, 10)
	loose.Adjustment.Cap = i64p(5000)
	loose.Adjustment.Floor = i64p(100)
	tight := pctRule("tight", model.ScopeGlobal, 1, 10)
	tight.Adjustment.Cap = i64p(1000)
	tight.Adjustment.Floor = i64p(900)

	e := mustEngine(t, loose, tight)
	res := e.Evaluate(model.ItemHotel, Context{At: evalAt})

	if res.Cap == nil || *res.Cap != 1000 {
		t.Errorf("expected tightest cap 1000, got %v", res.Cap)
	}
	if res.Floor == nil || *res.Floor != 900 {
		t.Errorf("expected tightest floor 900, got %v", res.Floor)
	}
}

func TestResult_Clip(t *testing.T) {
	res := Result{Cap: i64p(1000), Floor: i64p(9500)}

	if got := res.Clip(13000, 10000); got != 11000 {
		t.Errorf("cap clip: expected 11000, got %d", got)
	}
	if got := res.Clip(9000, 10000); got != 9500 {
		t.Errorf("floor clip: expected 9500, got %d", got)
	}
	if got := res.Clip(10800, 10000); got != 10800 {
		t.Errorf("within bounds: expected 10800, got %d", got)
	}
}

func TestEvaluate_NeverFails(t *testing.T) {
	// An engine with no rules still produces a neutral result.
	e := mustEngine(t)
	res := e.Evaluate(model.ItemFlight, Context{At: evalAt})
	if !res.PercentFactor.Equal(d(1)) || !res.FixedDelta.IsZero() {
		t.Errorf("expected neutral result, got factor=%s delta=%s", res.PercentFactor, res.FixedDelta)
	}
}

func TestRules_ReturnsCopy(t *testing.T) {
	e := mustEngine(t, pctRule("r1", model.ScopeGlobal, 1, 10))
	rs := e.Rules()
	rs[0].Priority = 99

	if e.Rules()[0].Priority != 1 {
		t.Error("mutating the returned slice changed the engine snapshot")
	}
}
