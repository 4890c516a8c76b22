package memstore

import (
	"context"
	"sort"
	"time"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/holdings"
	"lv-tradecore/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type Holdings struct {
	db *DB
}

func (db *DB) Holdings() *Holdings {
	return &Holdings{db: db}
}

func (s *Holdings) apply(t *Tx, deltas []holdings.Delta, now time.Time) error {
	current := make(map[holdings.Key]decimal.Decimal, len(deltas))
	for _, d := range deltas {
		current[d.Key] = s.db.holdings[d.Key].Available
	}
	next, err := holdings.Apply(current, deltas)
	if err != nil {
		return err
	}
	for _, d := range deltas {
		k := d.Key
		prev, existed := s.db.holdings[k]
		h := prev
		h.UserID, h.AssetID = k.UserID, k.AssetID
		h.Available = next[k]
		h.UpdatedAt = now
		s.db.holdings[k] = h
		t.onRollback(func() {
			if existed {
				s.db.holdings[k] = prev
				return
			}
			delete(s.db.holdings, k)
		})
	}
	return nil
}

func (s *Holdings) ApplyTrade(ctx context.Context, tx pgx.Tx, tr holdings.Trade, now time.Time) error {
	t, err := s.db.openWrite(tx)
	if err != nil {
		return err
	}
	return s.apply(t, tr.Deltas(), now)
}

func (s *Holdings) Credit(ctx context.Context, tx pgx.Tx, userID, assetID string, amount decimal.Decimal, now time.Time) (model.Holding, error) {
	t, err := s.db.openWrite(tx)
	if err != nil {
		return model.Holding{}, err
	}
	if !amount.IsPositive() {
		return model.Holding{}, apperr.Validation("credit amount must be positive")
	}
	k := holdings.Key{UserID: userID, AssetID: assetID}
	if err := s.apply(t, []holdings.Delta{{Key: k, Amount: amount}}, now); err != nil {
		return model.Holding{}, err
	}
	return s.db.holdings[k], nil
}

func (s *Holdings) Get(ctx context.Context, tx pgx.Tx, userID, assetID string) (model.Holding, error) {
	if _, err := s.db.open(tx); err != nil {
		return model.Holding{}, err
	}
	h, ok := s.db.holdings[holdings.Key{UserID: userID, AssetID: assetID}]
	if !ok {
		return model.Holding{UserID: userID, AssetID: assetID}, nil
	}
	return h, nil
}

func (s *Holdings) ListByUser(ctx context.Context, tx pgx.Tx, userID string) ([]model.Holding, error) {
	if _, err := s.db.open(tx); err != nil {
		return nil, err
	}
	var out []model.Holding
	for k, h := range s.db.holdings {
		if k.UserID == userID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}
