package holdings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// lock creates the holding row if needed and locks it for the rest of tx.
func (s *Store) lock(ctx context.Context, tx pgx.Tx, k Key, now time.Time) (decimal.Decimal, error) {
	if _, err := tx.Exec(ctx, "insert into holdings (user_id, asset_id, available, locked, updated_at) values ($1,$2,0,0,$3) on conflict (user_id, asset_id) do nothing", k.UserID, k.AssetID, now); err != nil {
		return decimal.Zero, fmt.Errorf("ensure holding: %w", err)
	}
	var available decimal.Decimal
	if err := tx.QueryRow(ctx, "select available from holdings where user_id = $1 and asset_id = $2 for update", k.UserID, k.AssetID).Scan(&available); err != nil {
		return decimal.Zero, fmt.Errorf("lock holding: %w", err)
	}
	return available, nil
}

func (s *Store) apply(ctx context.Context, tx pgx.Tx, deltas []Delta, now time.Time) error {
	current := make(map[Key]decimal.Decimal, len(deltas))
	for _, d := range deltas {
		available, err := s.lock(ctx, tx, d.Key, now)
		if err != nil {
			return err
		}
		current[d.Key] = available
	}
	next, err := Apply(current, deltas)
	if err != nil {
		return err
	}
	for _, d := range deltas {
		if _, err := tx.Exec(ctx, "update holdings set available = $1, updated_at = $2 where user_id = $3 and asset_id = $4", next[d.Key], now, d.UserID, d.AssetID); err != nil {
			return fmt.Errorf("update holding: %w", err)
		}
	}
	return nil
}

// ApplyTrade moves the asset from seller to buyer and the quote asset from
// buyer to seller. Either all four balances change or none do.
func (s *Store) ApplyTrade(ctx context.Context, tx pgx.Tx, t Trade, now time.Time) error {
	return s.apply(ctx, tx, t.Deltas(), now)
}

// Credit adds amount to a user's available balance.
func (s *Store) Credit(ctx context.Context, tx pgx.Tx, userID, assetID string, amount decimal.Decimal, now time.Time) (model.Holding, error) {
	if !amount.IsPositive() {
		return model.Holding{}, apperr.Validation("credit amount must be positive")
	}
	if err := s.apply(ctx, tx, []Delta{{Key{userID, assetID}, amount}}, now); err != nil {
		return model.Holding{}, err
	}
	return s.Get(ctx, tx, userID, assetID)
}

// Get returns the holding, or a zero balance if the user never held the asset.
func (s *Store) Get(ctx context.Context, tx pgx.Tx, userID, assetID string) (model.Holding, error) {
	h := model.Holding{UserID: userID, AssetID: assetID}
	err := tx.QueryRow(ctx, "select available, locked, updated_at from holdings where user_id = $1 and asset_id = $2", userID, assetID).Scan(&h.Available, &h.Locked, &h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return h, nil
	}
	if err != nil {
		return h, fmt.Errorf("get holding: %w", err)
	}
	return h, nil
}

func (s *Store) ListByUser(ctx context.Context, tx pgx.Tx, userID string) ([]model.Holding, error) {
	rows, err := tx.Query(ctx, "select user_id, asset_id, available, locked, updated_at from holdings where user_id = $1 order by asset_id", userID)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	defer rows.Close()
	var out []model.Holding
	for rows.Next() {
		var h model.Holding
		if err := rows.Scan(&h.UserID, &h.AssetID, &h.Available, &h.Locked, &h.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
