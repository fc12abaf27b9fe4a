package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tripforge/pricing-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Multipliers are stored as NUMERIC for exact precision; monetary amounts are
// BIGINT in the smallest currency unit. Demand factors are stored as JSONB
// alongside the item row.
//
// Freeze-cell uniqueness is enforced with a transaction-scoped advisory lock
// on the cell key: expiry is a function of now, so a plain unique index over
// the stored columns cannot express "at most one unexpired active freeze".
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateItem(ctx context.Context, item *model.ItemPricing) error {
	factors, err := json.Marshal(item.DemandFactors)
	if err != nil {
		return fmt.Errorf("marshal demand factors: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO item_pricing
		   (item_id, item_type, route, location, base_price, current_price,
		    total_units, available_units, occupancy_rate, demand_factors,
		    booking_trend, price_change_percentage, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::NUMERIC, $13)
		 ON CONFLICT (item_type, item_id) DO NOTHING`,
		item.ItemID, item.ItemType, item.Route, item.Location,
		item.BasePrice, item.CurrentPrice,
		item.TotalUnits, item.AvailableUnits, item.OccupancyRate, factors,
		item.BookingTrend, item.PriceChangePercentage.String(), item.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("create item %s/%s: %w", item.ItemType, item.ItemID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s/%s: %w", item.ItemType, item.ItemID, ErrItemExists)
	}
	return nil
}

const itemColumns = `item_id, item_type, route, location, base_price, current_price,
	total_units, available_units, occupancy_rate, demand_factors,
	booking_trend, price_change_percentage::TEXT, last_updated`

func scanItem(row pgx.Row) (*model.ItemPricing, error) {
	var item model.ItemPricing
	var factors []byte
	var pct string

	err := row.Scan(&item.ItemID, &item.ItemType, &item.Route, &item.Location,
		&item.BasePrice, &item.CurrentPrice,
		&item.TotalUnits, &item.AvailableUnits, &item.OccupancyRate, &factors,
		&item.BookingTrend, &pct, &item.LastUpdated)
	if err != nil {
		return nil, err
	}

	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &item.DemandFactors); err != nil {
			return nil, fmt.Errorf("unmarshal demand factors: %w", err)
		}
	}
	item.PriceChangePercentage, _ = decimal.NewFromString(pct)
	return &item, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, itemType model.ItemType, itemID string) (*model.ItemPricing, error) {
	item, err := scanItem(s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM item_pricing WHERE item_type = $1 AND item_id = $2`,
		itemType, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("item %s/%s: %w", itemType, itemID, ErrItemNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s/%s: %w", itemType, itemID, err)
	}
	return item, nil
}

func (s *PostgresStore) ListItems(ctx context.Context) ([]model.ItemPricing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM item_pricing ORDER BY item_type, item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.ItemPricing
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateItemPricing(ctx context.Context, item *model.ItemPricing) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE item_pricing
		 SET current_price = $3, occupancy_rate = $4, booking_trend = $5,
		     price_change_percentage = $6::NUMERIC, last_updated = $7
		 WHERE item_type = $1 AND item_id = $2`,
		item.ItemType, item.ItemID,
		item.CurrentPrice, item.OccupancyRate, item.BookingTrend,
		item.PriceChangePercentage.String(), item.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("update item %s/%s: %w", item.ItemType, item.ItemID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s/%s: %w", item.ItemType, item.ItemID, ErrItemNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateItemAvailability(ctx context.Context, itemType model.ItemType, itemID string, availableUnits int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE item_pricing SET available_units = $3 WHERE item_type = $1 AND item_id = $2`,
		itemType, itemID, availableUnits,
	)
	if err != nil {
		return fmt.Errorf("update availability %s/%s: %w", itemType, itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s/%s: %w", itemType, itemID, ErrItemNotFound)
	}
	return nil
}

func (s *PostgresStore) AppendHistory(ctx context.Context, e *model.PriceHistoryEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_history
		   (id, item_type, item_id, date, base_price, final_price,
		    demand_multiplier, seasonal_multiplier, event_multiplier,
		    occupancy_rate, booking_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11)`,
		e.ID, e.ItemType, e.ItemID, e.Date, e.BasePrice, e.FinalPrice,
		e.DemandMultiplier.String(), e.SeasonalMultiplier.String(), e.EventMultiplier.String(),
		e.OccupancyRate, e.BookingCount,
	)
	return err
}

const historyColumns = `id, item_type, item_id, date, base_price, final_price,
	demand_multiplier::TEXT, seasonal_multiplier::TEXT, event_multiplier::TEXT,
	occupancy_rate, booking_count`

func (s *PostgresStore) GetHistory(ctx context.Context, itemType model.ItemType, itemID string, since time.Time) ([]model.PriceHistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+historyColumns+`
		 FROM price_history
		 WHERE item_type = $1 AND item_id = $2 AND date >= $3
		 ORDER BY date`, itemType, itemID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanHistoryEntries(rows)
}

func (s *PostgresStore) GetRecentHistory(ctx context.Context, itemType model.ItemType, itemID string, limit int) ([]model.PriceHistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT * FROM (
		   SELECT `+historyColumns+`
		   FROM price_history
		   WHERE item_type = $1 AND item_id = $2
		   ORDER BY date DESC
		   LIMIT $3
		 ) recent ORDER BY date`, itemType, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanHistoryEntries(rows)
}

func (s *PostgresStore) ListHistory(ctx context.Context) ([]model.PriceHistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+historyColumns+`
		 FROM price_history ORDER BY item_type, item_id, date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanHistoryEntries(rows)
}

func scanHistoryEntries(rows pgx.Rows) ([]model.PriceHistoryEntry, error) {
	var entries []model.PriceHistoryEntry
	for rows.Next() {
		var e model.PriceHistoryEntry
		var demandS, seasonalS, eventS string

		if err := rows.Scan(&e.ID, &e.ItemType, &e.ItemID, &e.Date,
			&e.BasePrice, &e.FinalPrice,
			&demandS, &seasonalS, &eventS,
			&e.OccupancyRate, &e.BookingCount); err != nil {
			return nil, err
		}

		e.DemandMultiplier, _ = decimal.NewFromString(demandS)
		e.SeasonalMultiplier, _ = decimal.NewFromString(seasonalS)
		e.EventMultiplier, _ = decimal.NewFromString(eventS)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) CreateFreeze(ctx context.Context, f *model.PriceFreeze, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create freeze: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	cell := FreezeCellKey(f.UserID, f.ItemType, f.ItemID)

	// Serialize concurrent creates for the same cell within this transaction.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, cell); err != nil {
		return fmt.Errorf("create freeze: lock cell %s: %w", cell, err)
	}

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM price_freezes
		   WHERE user_id = $1 AND item_type = $2 AND item_id = $3
		     AND is_active AND NOT is_used AND freeze_end >= $4
		 )`, f.UserID, f.ItemType, f.ItemID, now).Scan(&exists)
	if err != nil {
		return fmt.Errorf("create freeze: check cell %s: %w", cell, err)
	}
	if exists {
		return fmt.Errorf("freeze for %s: %w", cell, ErrFreezeConflict)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO price_freezes
		   (id, user_id, item_type, item_id, frozen_price, original_price,
		    savings, freeze_start, freeze_end, is_active, is_used)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		f.ID, f.UserID, f.ItemType, f.ItemID, f.FrozenPrice, f.OriginalPrice,
		f.Savings, f.FreezeStart, f.FreezeEnd, f.IsActive, f.IsUsed,
	)
	if err != nil {
		return fmt.Errorf("create freeze %s: %w", f.ID, err)
	}

	return tx.Commit(ctx)
}

const freezeColumns = `id, user_id, item_type, item_id, frozen_price, original_price,
	savings, freeze_start, freeze_end, is_active, is_used`

func scanFreeze(row pgx.Row) (*model.PriceFreeze, error) {
	var f model.PriceFreeze
	err := row.Scan(&f.ID, &f.UserID, &f.ItemType, &f.ItemID,
		&f.FrozenPrice, &f.OriginalPrice, &f.Savings,
		&f.FreezeStart, &f.FreezeEnd, &f.IsActive, &f.IsUsed)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *PostgresStore) GetFreeze(ctx context.Context, id string) (*model.PriceFreeze, error) {
	f, err := scanFreeze(s.pool.QueryRow(ctx,
		`SELECT `+freezeColumns+` FROM price_freezes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("freeze %s: %w", id, ErrFreezeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get freeze %s: %w", id, err)
	}
	return f, nil
}

func (s *PostgresStore) MarkFreezeUsed(ctx context.Context, id string, savings int64) error {
	// Compare-and-set: only an unused freeze transitions. Zero rows means
	// either the id is unknown or it lost the race.
	tag, err := s.pool.Exec(ctx,
		`UPDATE price_freezes
		 SET is_used = TRUE, is_active = FALSE, savings = $2
		 WHERE id = $1 AND NOT is_used`, id, savings)
	if err != nil {
		return fmt.Errorf("mark freeze %s used: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM price_freezes WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("mark freeze %s used: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("freeze %s: %w", id, ErrFreezeNotFound)
	}
	return fmt.Errorf("freeze %s: %w", id, ErrFreezeAlreadyUsed)
}

func (s *PostgresStore) ListFreezesByUser(ctx context.Context, userID string) ([]model.PriceFreeze, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+freezeColumns+` FROM price_freezes WHERE user_id = $1 ORDER BY freeze_start`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFreezes(rows)
}

func (s *PostgresStore) ListFreezes(ctx context.Context) ([]model.PriceFreeze, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+freezeColumns+` FROM price_freezes ORDER BY freeze_start`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFreezes(rows)
}

func scanFreezes(rows pgx.Rows) ([]model.PriceFreeze, error) {
	var freezes []model.PriceFreeze
	for rows.Next() {
		f, err := scanFreeze(rows)
		if err != nil {
			return nil, err
		}
		freezes = append(freezes, *f)
	}
	return freezes, rows.Err()
}
