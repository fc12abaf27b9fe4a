package pricing_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tripforge/pricing-engine/internal/freeze"
	"github.com/tripforge/pricing-engine/internal/model"
	"github.com/tripforge/pricing-engine/internal/pricing"
	"github.com/tripforge/pricing-engine/internal/rules"
	"github.com/tripforge/pricing-engine/internal/store"
)

type testEnv struct {
	srv   *httptest.Server
	clock *testClock
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var envAt = time.Date(2026, 7, 15, 14, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T, ruleSet ...model.PricingRule) *testEnv {
	t.Helper()

	engine, err := rules.NewEngine(ruleSet...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	clk := &testClock{t: envAt}
	st := store.NewMemoryStore()
	calc := pricing.NewCalculator(engine, 0)
	ledger := freeze.NewLedger(st, freeze.DefaultTTL, clk.Now)
	svc := pricing.NewService(st, calc, ledger, nil, clk.Now)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/items", svc.CreateItem)
		r.Put("/items/{itemType}/{itemID}/availability", svc.UpdateAvailability)
		r.Get("/pricing/{itemType}/{itemID}", svc.GetPricing)
		r.Get("/pricing/{itemType}/{itemID}/history", svc.GetPriceHistory)
		r.Post("/freezes", svc.CreateFreeze)
		r.Post("/freezes/{freezeID}/use", svc.UseFreeze)
		r.Get("/freezes/user/{userID}", svc.ListUserFreezes)
		r.Get("/analytics", svc.GetAnalytics)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, clock: clk}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func flightReq(itemID string, basePrice int64, factors ...model.DemandFactor) pricing.CreateItemRequest {
	return pricing.CreateItemRequest{
		ItemID:         itemID,
		ItemType:       model.ItemFlight,
		Route:          "JFK-LHR",
		BasePrice:      basePrice,
		TotalUnits:     100,
		AvailableUnits: 40,
		DemandFactors:  factors,
	}
}

func summerFactor(mult float64) model.DemandFactor {
	return model.DemandFactor{
		Type:       model.FactorSeasonal,
		Name:       "summer-peak",
		Multiplier: decimal.NewFromFloat(mult),
		IsActive:   true,
	}
}

func (e *testEnv) mustCreate(t *testing.T, req pricing.CreateItemRequest) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/v1/items", req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create item: expected 201, got %d", resp.StatusCode)
	}
}

func TestCreateItem(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/items", flightReq("FL-100", 10000))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	item := decode[model.ItemPricing](t, resp)
	if item.CurrentPrice != 10000 || item.BookingTrend != model.TrendStable {
		t.Errorf("expected fresh item at base price with stable trend, got %+v", item)
	}

	// Same (type, id) again conflicts.
	resp = env.do(t, http.MethodPost, "/api/v1/items", flightReq("FL-100", 9000))
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate item: expected 409, got %d", resp.StatusCode)
	}

	for name, req := range map[string]pricing.CreateItemRequest{
		"missing id":     {ItemType: model.ItemFlight, BasePrice: 100, TotalUnits: 1},
		"bad type":       {ItemID: "X", ItemType: "cruise", BasePrice: 100, TotalUnits: 1},
		"zero base":      {ItemID: "X", ItemType: model.ItemHotel, BasePrice: 0, TotalUnits: 1},
		"units mismatch": {ItemID: "X", ItemType: model.ItemHotel, BasePrice: 100, TotalUnits: 5, AvailableUnits: 9},
		"bad factor": flightReq("FL-200", 10000, model.DemandFactor{
			Type: model.FactorSeasonal, Name: "neg", Multiplier: decimal.NewFromInt(-1), IsActive: true,
		}),
	} {
		resp := env.do(t, http.MethodPost, "/api/v1/items", req)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, resp.StatusCode)
		}
	}
}

func TestGetPricing_RecomputesAndAppendsHistory(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, flightReq("FL-100", 10000, summerFactor(1.2)))

	resp := env.do(t, http.MethodGet, "/api/v1/pricing/flight/FL-100", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	item := decode[model.ItemPricing](t, resp)
	if item.CurrentPrice != 12000 {
		t.Errorf("expected price 12000, got %d", item.CurrentPrice)
	}
	if !item.PriceChangePercentage.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected change pct 20, got %s", item.PriceChangePercentage)
	}

	// Every pricing read appends exactly one history entry.
	env.do(t, http.MethodGet, "/api/v1/pricing/flight/FL-100", nil)
	env.do(t, http.MethodGet, "/api/v1/pricing/flight/FL-100", nil)

	resp = env.do(t, http.MethodGet, "/api/v1/pricing/flight/FL-100/history", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", resp.StatusCode)
	}
	entries := decode[[]model.PriceHistoryEntry](t, resp)
	if len(entries) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Date.Before(entries[i-1].Date) {
			t.Errorf("history out of order at %d: %s < %s", i, entries[i].Date, entries[i-1].Date)
		}
	}

	resp = env.do(t, http.MethodGet, "/api/v1/pricing/flight/NOPE", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown item: expected 404, got %d", resp.StatusCode)
	}
}

func TestGetPricing_OccupancyRuleAfterAvailabilityUpdate(t *testing.T) {
	threshold := 0.9
	surge := model.PricingRule{
		ID:       "high-occupancy-surge",
		Scope:    model.ScopeGlobal,
		Priority: 1,
		Conditions: model.RuleConditions{
			OccupancyThreshold: &threshold,
		},
		Adjustment: model.PriceAdjustment{
			Kind:  model.AdjustPercentage,
			Value: decimal.NewFromInt(15),
		},
		IsActive: true,
	}

	env := newTestEnv(t, surge)
	env.mustCreate(t, flightReq("FL-100", 10000))

	// 40/100 available: occupancy 0.6, rule dormant.
	resp := env.do(t, http.MethodGet, "/api/v1/pricing/flight/FL-100", nil)
	if item := decode[model.ItemPricing](t, resp); item.CurrentPrice != 10000 {
		t.Fatalf("below threshold: expected 10000, got %d", item.CurrentPrice)
	}

	resp = env.do(t, http.MethodPut, "/api/v1/items/flight/FL-100/availability",
		pricing.UpdateAvailabilityRequest{AvailableUnits: 5})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("availability update: expected 204, got %d", resp.StatusCode)
	}

	// 5/100 available: occupancy 0.95 trips the surge rule.
	resp = env.do(t, http.MethodGet, "/api/v1/pricing/flight/FL-100", nil)
	if item := decode[model.ItemPricing](t, resp); item.CurrentPrice != 11500 {
		t.Fatalf("above threshold: expected 11500, got %d", item.CurrentPrice)
	}

	resp = env.do(t, http.MethodPut, "/api/v1/items/flight/FL-100/availability",
		pricing.UpdateAvailabilityRequest{AvailableUnits: 500})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("over-capacity availability: expected 400, got %d", resp.StatusCode)
	}
}

func TestGetPricing_CapClipsOverHTTP(t *testing.T) {
	capValue := int64(1000)
	capped := model.PricingRule{
		ID:       "increase-cap",
		Scope:    model.ScopeGlobal,
		Priority: 1,
		Adjustment: model.PriceAdjustment{
			Kind:  model.AdjustPercentage,
			Value: decimal.Zero,
			Cap:   &capValue,
		},
		IsActive: true,
	}

	env := newTestEnv(t, capped)
	env.mustCreate(t, flightReq("FL-100", 10000, summerFactor(1.3)))

	resp := env.do(t, http.MethodGet, "/api/v1/pricing/flight/FL-100", nil)
	if item := decode[model.ItemPricing](t, resp); item.CurrentPrice != 11000 {
		t.Fatalf("expected capped price 11000, got %d", item.CurrentPrice)
	}
}

func TestGetPricing_TravelDateValidation(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, flightReq("FL-100", 10000))

	resp := env.do(t, http.MethodGet, "/api/v1/pricing/flight/FL-100?travel_date=2026-08-01", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid travel_date: expected 200, got %d", resp.StatusCode)
	}
	resp = env.do(t, http.MethodGet, "/api/v1/pricing/flight/FL-100?travel_date=tomorrow", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad travel_date: expected 400, got %d", resp.StatusCode)
	}
}

func TestPriceHistory_DaysWindow(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, flightReq("FL-100", 10000))

	env.do(t, http.MethodGet, "/api/v1/pricing/flight/FL-100", nil)
	env.clock.Advance(48 * time.Hour)
	env.do(t, http.MethodGet, "/api/v1/pricing/flight/FL-100", nil)

	resp := env.do(t, http.MethodGet, "/api/v1/pricing/flight/FL-100/history?days=1", nil)
	if entries := decode[[]model.PriceHistoryEntry](t, resp); len(entries) != 1 {
		t.Errorf("expected 1 entry inside the window, got %d", len(entries))
	}

	resp = env.do(t, http.MethodGet, "/api/v1/pricing/flight/FL-100/history?days=30", nil)
	if entries := decode[[]model.PriceHistoryEntry](t, resp); len(entries) != 2 {
		t.Errorf("expected both entries in 30-day window, got %d", len(entries))
	}

	resp = env.do(t, http.MethodGet, "/api/v1/pricing/flight/FL-100/history?days=0", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("days=0: expected 400, got %d", resp.StatusCode)
	}
}

func TestFreezeFlow(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, flightReq("FL-100", 12000))

	// Freeze at the stored current price.
	resp := env.do(t, http.MethodPost, "/api/v1/freezes", pricing.CreateFreezeRequest{
		UserID: "user-1", ItemType: model.ItemFlight, ItemID: "FL-100",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create freeze: expected 201, got %d", resp.StatusCode)
	}
	f := decode[model.PriceFreeze](t, resp)
	if f.FrozenPrice != 12000 {
		t.Errorf("expected frozen price 12000, got %d", f.FrozenPrice)
	}

	// Second freeze for the same cell conflicts.
	resp = env.do(t, http.MethodPost, "/api/v1/freezes", pricing.CreateFreezeRequest{
		UserID: "user-1", ItemType: model.ItemFlight, ItemID: "FL-100",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate freeze: expected 409, got %d", resp.StatusCode)
	}

	// Redeem against a market price of 14000.
	resp = env.do(t, http.MethodPost, "/api/v1/freezes/"+f.ID+"/use", pricing.UseFreezeRequest{
		UserID: "user-1", MarketPrice: 14000,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("use freeze: expected 200, got %d", resp.StatusCode)
	}
	red := decode[freeze.Redemption](t, resp)
	if red.AppliedPrice != 12000 || red.Savings != 2000 {
		t.Errorf("expected applied 12000 savings 2000, got %+v", red)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/freezes/"+f.ID+"/use", pricing.UseFreezeRequest{
		UserID: "user-1", MarketPrice: 14000,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second use: expected 409, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/freezes/nope/use", pricing.UseFreezeRequest{UserID: "user-1"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown freeze: expected 404, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/freezes/user/user-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list freezes: expected 200, got %d", resp.StatusCode)
	}
	list := decode[freeze.UserFreezes](t, resp)
	if len(list.Used) != 1 || len(list.Active) != 0 || len(list.Expired) != 0 {
		t.Errorf("expected one used freeze, got %+v", list)
	}
}

func TestUseFreeze_ExpiredIsGone(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, flightReq("FL-100", 12000))

	resp := env.do(t, http.MethodPost, "/api/v1/freezes", pricing.CreateFreezeRequest{
		UserID: "user-1", ItemType: model.ItemFlight, ItemID: "FL-100",
	})
	f := decode[model.PriceFreeze](t, resp)

	env.clock.Advance(freeze.DefaultTTL + time.Minute)

	resp = env.do(t, http.MethodPost, "/api/v1/freezes/"+f.ID+"/use", pricing.UseFreezeRequest{
		UserID: "user-1", MarketPrice: 14000,
	})
	if resp.StatusCode != http.StatusGone {
		t.Errorf("expired freeze: expected 410, got %d", resp.StatusCode)
	}
}

func TestAnalyticsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, flightReq("FL-100", 10000, summerFactor(1.2)))

	// Two recomputes: baseline then an unchanged repeat.
	env.do(t, http.MethodGet, "/api/v1/pricing/flight/FL-100", nil)
	env.do(t, http.MethodGet, "/api/v1/pricing/flight/FL-100", nil)

	resp := env.do(t, http.MethodPost, "/api/v1/freezes", pricing.CreateFreezeRequest{
		UserID: "user-1", ItemType: model.ItemFlight, ItemID: "FL-100",
	})
	f := decode[model.PriceFreeze](t, resp)
	env.do(t, http.MethodPost, "/api/v1/freezes/"+f.ID+"/use", pricing.UseFreezeRequest{
		UserID: "user-1", MarketPrice: 13500,
	})

	resp = env.do(t, http.MethodGet, "/api/v1/analytics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analytics: expected 200, got %d", resp.StatusCode)
	}
	snap := decode[pricing.AnalyticsSnapshot](t, resp)

	if snap.TotalPriceChanges != 1 {
		t.Errorf("expected 1 price change, got %d", snap.TotalPriceChanges)
	}
	if snap.PriceFreezesUsed != 1 || snap.PriceFreezesActive != 0 {
		t.Errorf("expected 1 used / 0 active freezes, got %d/%d", snap.PriceFreezesUsed, snap.PriceFreezesActive)
	}
	if snap.TotalSavingsFromFreezes != 1500 {
		t.Errorf("expected savings 1500, got %d", snap.TotalSavingsFromFreezes)
	}
}

func TestConcurrentPricingReadsKeepHistoryOrdered(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, flightReq("FL-100", 10000, summerFactor(1.2)))

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(env.srv.URL + "/api/v1/pricing/flight/FL-100")
			if err != nil {
				t.Errorf("get pricing: %v", err)
				return
			}
			resp.Body.Close()
		}()
	}
	wg.Wait()

	resp := env.do(t, http.MethodGet, "/api/v1/pricing/flight/FL-100/history", nil)
	entries := decode[[]model.PriceHistoryEntry](t, resp)
	if len(entries) != n {
		t.Fatalf("expected %d history entries, got %d", n, len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Date.Before(entries[i-1].Date) {
			t.Fatalf("history out of order at %d", i)
		}
	}
}

func TestGetPricing_UnknownItemType(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{
		"/api/v1/pricing/cruise/X",
		"/api/v1/pricing/cruise/X/history",
	} {
		resp := env.do(t, http.MethodGet, path, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, resp.StatusCode)
		}
	}
}
