package pricing

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tripforge/pricing-engine/internal/demand"
	"github.com/tripforge/pricing-engine/internal/freeze"
	"github.com/tripforge/pricing-engine/internal/metrics"
	"github.com/tripforge/pricing-engine/internal/model"
	"github.com/tripforge/pricing-engine/internal/store"
)

// Service exposes the pricing and freeze boundary over HTTP. Recomputes are
// serialized per item with a keyed mutex so history entries for one item are
// appended in non-decreasing date order; the freeze invariants live in the
// store and the ledger.
type Service struct {
	store  store.Store
	calc   *Calculator
	ledger *freeze.Ledger
	hub    *Hub // optional, for real-time price broadcasts
	now    func() time.Time

	mu        sync.Mutex
	itemLocks map[string]*sync.Mutex
}

// NewService creates a pricing service. Pass nil for hub if WebSocket
// broadcasting is not needed, and nil for now to use the wall clock.
func NewService(st store.Store, calc *Calculator, ledger *freeze.Ledger, hub *Hub, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:     st,
		calc:      calc,
		ledger:    ledger,
		hub:       hub,
		now:       now,
		itemLocks: make(map[string]*sync.Mutex),
	}
}

// lockItem returns the mutex serializing recomputes for one item.
func (s *Service) lockItem(itemType model.ItemType, itemID string) *sync.Mutex {
	key := string(itemType) + ":" + itemID
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.itemLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.itemLocks[key] = l
	}
	return l
}

// --- Request/Response types ---

// CreateItemRequest is the JSON body for item registration.
type CreateItemRequest struct {
	ItemID         string               `json:"item_id"`
	ItemType       model.ItemType       `json:"item_type"`
	Route          string               `json:"route,omitempty"`
	Location       string               `json:"location,omitempty"`
	BasePrice      int64                `json:"base_price"`
	TotalUnits     int                  `json:"total_units"`
	AvailableUnits int                  `json:"available_units"`
	DemandFactors  []model.DemandFactor `json:"demand_factors,omitempty"`
}

// UpdateAvailabilityRequest is the JSON body the inventory collaborator sends.
type UpdateAvailabilityRequest struct {
	AvailableUnits int `json:"available_units"`
}

// CreateFreezeRequest is the JSON body for POST /freezes. CurrentPrice is
// optional; when zero the item's stored current price is captured.
type CreateFreezeRequest struct {
	UserID       string         `json:"user_id"`
	ItemType     model.ItemType `json:"item_type"`
	ItemID       string         `json:"item_id"`
	CurrentPrice int64          `json:"current_price,omitempty"`
}

// UseFreezeRequest is the JSON body for POST /freezes/{freezeID}/use.
// MarketPrice is optional; when zero the item's stored current price is used.
type UseFreezeRequest struct {
	UserID      string `json:"user_id"`
	MarketPrice int64  `json:"market_price,omitempty"`
}

// --- HTTP Handlers ---

// CreateItem handles POST /api/v1/items
func (s *Service) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.ItemID == "" {
		writeError(w, "item_id is required", http.StatusBadRequest)
		return
	}
	if !req.ItemType.Valid() {
		writeError(w, "item_type must be flight or hotel", http.StatusBadRequest)
		return
	}
	if req.BasePrice <= 0 {
		writeError(w, ErrInvalidBasePrice.Error(), http.StatusBadRequest)
		return
	}
	if req.TotalUnits <= 0 || req.AvailableUnits < 0 || req.AvailableUnits > req.TotalUnits {
		writeError(w, "available_units must be within [0, total_units]", http.StatusBadRequest)
		return
	}

	factors, err := demand.NewSet(req.DemandFactors...)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := s.now().UTC()
	item := &model.ItemPricing{
		ItemID:         req.ItemID,
		ItemType:       req.ItemType,
		Route:          req.Route,
		Location:       req.Location,
		BasePrice:      req.BasePrice,
		CurrentPrice:   req.BasePrice,
		TotalUnits:     req.TotalUnits,
		AvailableUnits: req.AvailableUnits,
		DemandFactors:  factors,
		BookingTrend:   model.TrendStable,
		LastUpdated:    now,
	}
	item.OccupancyRate = item.Occupancy()

	if err := s.store.CreateItem(r.Context(), item); err != nil {
		if errors.Is(err, store.ErrItemExists) {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		writeError(w, "failed to register item", http.StatusInternalServerError)
		return
	}

	metrics.RegisteredItems.Inc()
	slog.Info("item registered",
		"item_type", item.ItemType,
		"item_id", item.ItemID,
		"base_price", item.BasePrice,
		"factors", len(item.DemandFactors),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(item)
}

// UpdateAvailability handles PUT /api/v1/items/{itemType}/{itemID}/availability
// This is the inventory collaborator's boundary; the pricing core itself never
// changes unit counts.
func (s *Service) UpdateAvailability(w http.ResponseWriter, r *http.Request) {
	itemType := model.ItemType(chi.URLParam(r, "itemType"))
	itemID := chi.URLParam(r, "itemID")
	if !itemType.Valid() {
		writeError(w, "item_type must be flight or hotel", http.StatusBadRequest)
		return
	}

	var req UpdateAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	item, err := s.store.GetItem(ctx, itemType, itemID)
	if err != nil {
		writeError(w, "item not found", http.StatusNotFound)
		return
	}
	if req.AvailableUnits < 0 || req.AvailableUnits > item.TotalUnits {
		writeError(w, "available_units must be within [0, total_units]", http.StatusBadRequest)
		return
	}

	if err := s.store.UpdateItemAvailability(ctx, itemType, itemID, req.AvailableUnits); err != nil {
		writeError(w, "failed to update availability", http.StatusInternalServerError)
		return
	}

	slog.Info("availability updated",
		"item_type", itemType,
		"item_id", itemID,
		"available_units", req.AvailableUnits,
	)
	w.WriteHeader(http.StatusNoContent)
}

// GetPricing handles GET /api/v1/pricing/{itemType}/{itemID}
// Recomputes the item's price as a side effect and returns the fresh
// snapshot. An optional travel_date query parameter (YYYY-MM-DD) feeds the
// advance-booking-window rule conditions.
func (s *Service) GetPricing(w http.ResponseWriter, r *http.Request) {
	itemType := model.ItemType(chi.URLParam(r, "itemType"))
	itemID := chi.URLParam(r, "itemID")
	if !itemType.Valid() {
		writeError(w, "item_type must be flight or hotel", http.StatusBadRequest)
		return
	}

	at := s.now().UTC()
	advanceDays := 0
	if td := r.URL.Query().Get("travel_date"); td != "" {
		travel, err := time.Parse("2006-01-02", td)
		if err != nil {
			writeError(w, "travel_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		if d := int(travel.Sub(at).Hours() / 24); d > 0 {
			advanceDays = d
		}
	}

	ctx := r.Context()

	// Serialize recomputes per item so history stays date-ordered.
	lock := s.lockItem(itemType, itemID)
	lock.Lock()
	defer lock.Unlock()

	item, err := s.store.GetItem(ctx, itemType, itemID)
	if err != nil {
		writeError(w, "item not found", http.StatusNotFound)
		return
	}

	history, err := s.store.GetRecentHistory(ctx, itemType, itemID, s.calc.TrendWindow())
	if err != nil {
		writeError(w, "failed to load price history", http.StatusInternalServerError)
		return
	}

	start := time.Now()
	updated, entry, err := s.calc.Recompute(*item, history, at, advanceDays)
	if err != nil {
		if errors.Is(err, ErrInvalidBasePrice) {
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		writeError(w, "failed to compute price", http.StatusInternalServerError)
		return
	}

	if err := s.store.UpdateItemPricing(ctx, &updated); err != nil {
		writeError(w, "failed to persist pricing", http.StatusInternalServerError)
		return
	}
	if err := s.store.AppendHistory(ctx, &entry); err != nil {
		writeError(w, "failed to record price observation", http.StatusInternalServerError)
		return
	}

	metrics.RecomputesTotal.WithLabelValues(string(itemType)).Inc()
	metrics.RecomputeLatency.WithLabelValues(string(itemType)).Observe(time.Since(start).Seconds())

	slog.Info("price recomputed",
		"item_type", itemType,
		"item_id", itemID,
		"final_price", updated.CurrentPrice,
		"demand_multiplier", entry.DemandMultiplier.String(),
		"change_pct", updated.PriceChangePercentage.String(),
		"trend", updated.BookingTrend,
	)

	if s.hub != nil {
		s.hub.Broadcast(PriceUpdate{
			Type:                  "price_update",
			ItemType:              itemType,
			ItemID:                itemID,
			CurrentPrice:          updated.CurrentPrice,
			PriceChangePercentage: updated.PriceChangePercentage.String(),
			BookingTrend:          updated.BookingTrend,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

// GetPriceHistory handles GET /api/v1/pricing/{itemType}/{itemID}/history
// Returns the item's history entries for the trailing ?days=N window
// (default 30), ascending by date.
func (s *Service) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	itemType := model.ItemType(chi.URLParam(r, "itemType"))
	itemID := chi.URLParam(r, "itemID")
	if !itemType.Valid() {
		writeError(w, "item_type must be flight or hotel", http.StatusBadRequest)
		return
	}

	days := 30
	if q := r.URL.Query().Get("days"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
		days = n
	}

	since := s.now().UTC().AddDate(0, 0, -days)
	entries, err := s.store.GetHistory(r.Context(), itemType, itemID, since)
	if err != nil {
		writeError(w, "failed to load price history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.PriceHistoryEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// CreateFreeze handles POST /api/v1/freezes
func (s *Service) CreateFreeze(w http.ResponseWriter, r *http.Request) {
	var req CreateFreezeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if !req.ItemType.Valid() {
		writeError(w, "item_type must be flight or hotel", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	price := req.CurrentPrice
	if price == 0 {
		item, err := s.store.GetItem(ctx, req.ItemType, req.ItemID)
		if err != nil {
			writeError(w, "item not found", http.StatusNotFound)
			return
		}
		price = item.CurrentPrice
	}

	f, err := s.ledger.Create(ctx, req.UserID, req.ItemType, req.ItemID, price)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrFreezeConflict):
			metrics.FreezeConflicts.Inc()
			writeError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, freeze.ErrInvalidPrice):
			writeError(w, err.Error(), http.StatusBadRequest)
		default:
			writeError(w, "failed to create freeze", http.StatusInternalServerError)
		}
		return
	}

	metrics.FreezesCreated.Inc()
	slog.Info("freeze created",
		"freeze_id", f.ID,
		"user", f.UserID,
		"item_type", f.ItemType,
		"item_id", f.ItemID,
		"frozen_price", f.FrozenPrice,
		"ends", f.FreezeEnd,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(f)
}

// UseFreeze handles POST /api/v1/freezes/{freezeID}/use
func (s *Service) UseFreeze(w http.ResponseWriter, r *http.Request) {
	freezeID := chi.URLParam(r, "freezeID")

	var req UseFreezeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	marketPrice := req.MarketPrice
	if marketPrice == 0 {
		f, err := s.store.GetFreeze(ctx, freezeID)
		if err != nil {
			writeError(w, "freeze not found", http.StatusNotFound)
			return
		}
		if item, err := s.store.GetItem(ctx, f.ItemType, f.ItemID); err == nil {
			marketPrice = item.CurrentPrice
		}
	}

	red, err := s.ledger.Use(ctx, freezeID, req.UserID, marketPrice)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrFreezeNotFound):
			metrics.FreezeRedemptionFailures.WithLabelValues("not_found").Inc()
			writeError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, freeze.ErrExpired):
			metrics.FreezeRedemptionFailures.WithLabelValues("expired").Inc()
			writeError(w, err.Error(), http.StatusGone)
		case errors.Is(err, store.ErrFreezeAlreadyUsed):
			metrics.FreezeRedemptionFailures.WithLabelValues("already_used").Inc()
			writeError(w, err.Error(), http.StatusConflict)
		default:
			writeError(w, "failed to redeem freeze", http.StatusInternalServerError)
		}
		return
	}

	metrics.FreezesRedeemed.Inc()
	slog.Info("freeze redeemed",
		"freeze_id", freezeID,
		"user", req.UserID,
		"applied_price", red.AppliedPrice,
		"savings", red.Savings,
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(red)
}

// ListUserFreezes handles GET /api/v1/freezes/user/{userID}
func (s *Service) ListUserFreezes(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	freezes, err := s.ledger.ListForUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to list freezes", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(freezes)
}

// GetAnalytics handles GET /api/v1/analytics
func (s *Service) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	history, err := s.store.ListHistory(ctx)
	if err != nil {
		writeError(w, "failed to load price history", http.StatusInternalServerError)
		return
	}
	freezes, err := s.store.ListFreezes(ctx)
	if err != nil {
		writeError(w, "failed to load freezes", http.StatusInternalServerError)
		return
	}

	snap := BuildAnalytics(history, freezes, s.now().UTC())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
