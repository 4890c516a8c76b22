package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/orders"
	"lv-tradecore/internal/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type Orders struct {
	db *DB
}

func (db *DB) Orders() *Orders {
	return &Orders{db: db}
}

func (s *Orders) put(t *Tx, row *orderRow) {
	row.order.Seq = row.seq
	id := row.order.ID
	prev, existed := s.db.orders[id]
	var saved orderRow
	if existed {
		saved = *prev
	}
	s.db.orders[id] = row
	t.onRollback(func() {
		if existed {
			s.db.orders[id] = &saved
			return
		}
		delete(s.db.orders, id)
	})
}

func (s *Orders) CreateOrder(ctx context.Context, tx pgx.Tx, req model.OrderRequest, now time.Time) (model.Order, error) {
	t, err := s.db.openWrite(tx)
	if err != nil {
		return model.Order{}, err
	}
	a, ok := s.db.asset(req.AssetID)
	if !ok || !a.IsActive() {
		return model.Order{}, apperr.NotFound("asset not found").WithDetail("asset_id", req.AssetID)
	}
	o := model.Order{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		AssetID:           req.AssetID,
		AssetSymbol:       a.Symbol,
		Type:              req.Type,
		Side:              req.Side,
		Status:            types.OrderStatusPending,
		Price:             req.Price,
		Quantity:          req.Quantity,
		RemainingQuantity: req.Quantity,
		ExpiresAt:         req.ExpiresAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	o.Seq = s.db.nextSeq(t)
	s.put(t, &orderRow{order: o, seq: o.Seq})
	return o, nil
}

func (s *Orders) GetOrder(ctx context.Context, tx pgx.Tx, orderID string) (model.Order, error) {
	if _, err := s.db.open(tx); err != nil {
		return model.Order{}, err
	}
	row, ok := s.db.orders[orderID]
	if !ok {
		return model.Order{}, apperr.NotFound("order not found")
	}
	return row.order, nil
}

func (s *Orders) sorted(keep func(model.Order) bool, less func(a, b *orderRow) bool, limit int) []model.Order {
	var rows []*orderRow
	for _, row := range s.db.orders {
		if keep(row.order) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]model.Order, len(rows))
	for i, row := range rows {
		out[i] = row.order
	}
	return out
}

func oldestFirst(a, b *orderRow) bool {
	if !a.order.CreatedAt.Equal(b.order.CreatedAt) {
		return a.order.CreatedAt.Before(b.order.CreatedAt)
	}
	return a.seq < b.seq
}

func (s *Orders) ListResting(ctx context.Context, tx pgx.Tx, assetID string, side types.OrderSide, now time.Time, after *model.BookPosition, limit int) ([]model.Order, error) {
	if _, err := s.db.open(tx); err != nil {
		return nil, err
	}
	return s.sorted(func(o model.Order) bool {
		if after != nil && !o.Position().After(*after) {
			return false
		}
		return o.AssetID == assetID && o.Side == side && o.Matchable(now)
	}, oldestFirst, limit), nil
}

func (s *Orders) ListByUser(ctx context.Context, tx pgx.Tx, userID string, status types.OrderStatus, limit int) ([]model.Order, error) {
	if _, err := s.db.open(tx); err != nil {
		return nil, err
	}
	return s.sorted(func(o model.Order) bool {
		return o.UserID == userID && (status == "" || o.Status == status)
	}, func(a, b *orderRow) bool { return oldestFirst(b, a) }, limit), nil
}

func (s *Orders) ApplyFill(ctx context.Context, tx pgx.Tx, o model.Order, executionID string, qty, price decimal.Decimal, now time.Time) (model.Order, error) {
	t, err := s.db.openWrite(tx)
	if err != nil {
		return o, err
	}
	next, err := orders.NextFill(o, qty)
	if err != nil {
		return o, err
	}
	row, ok := s.db.orders[o.ID]
	if !ok {
		return o, fmt.Errorf("apply fill to order %s: %w", o.ID, apperr.ErrGuard)
	}
	cur := row.order
	expired := cur.ExpiresAt != nil && !cur.ExpiresAt.After(now)
	if cur.Status != o.Status || !cur.RemainingQuantity.Equal(o.RemainingQuantity) || expired {
		return o, fmt.Errorf("apply fill to order %s: %w", o.ID, apperr.ErrGuard)
	}
	updated := cur
	updated.RemainingQuantity = next.RemainingQuantity
	updated.Status = next.Status
	updated.UpdatedAt = now
	s.put(t, &orderRow{order: updated, seq: row.seq})

	n := len(s.db.fills)
	s.db.fills = append(s.db.fills, model.Fill{
		ID:          uuid.NewString(),
		OrderID:     o.ID,
		ExecutionID: executionID,
		Quantity:    qty,
		Price:       price,
		CreatedAt:   now,
	})
	t.onRollback(func() { s.db.fills = s.db.fills[:n] })
	return updated, nil
}

func (s *Orders) Cancel(ctx context.Context, tx pgx.Tx, orderID, userID string, now time.Time) (model.Order, error) {
	t, err := s.db.openWrite(tx)
	if err != nil {
		return model.Order{}, err
	}
	row, ok := s.db.orders[orderID]
	if !ok || row.order.UserID != userID {
		return model.Order{}, apperr.NotFound("order not found")
	}
	if !row.order.Status.IsResting() {
		return row.order, orders.NotCancellable(row.order)
	}
	next, err := orders.Transition(row.order, types.OrderStatusCancelled)
	if err != nil {
		return row.order, err
	}
	next.UpdatedAt = now
	s.put(t, &orderRow{order: next, seq: row.seq})
	return next, nil
}

func (s *Orders) ExpireDue(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]string, error) {
	t, err := s.db.openWrite(tx)
	if err != nil {
		return nil, err
	}
	due := s.sorted(func(o model.Order) bool {
		return o.Status.IsResting() && o.ExpiresAt != nil && !o.ExpiresAt.After(now)
	}, func(a, b *orderRow) bool {
		return a.order.ExpiresAt.Before(*b.order.ExpiresAt)
	}, limit)
	ids := make([]string, 0, len(due))
	for _, o := range due {
		next, err := orders.Transition(o, types.OrderStatusExpired)
		if err != nil {
			return nil, err
		}
		next.UpdatedAt = now
		s.put(t, &orderRow{order: next, seq: s.db.orders[o.ID].seq})
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (s *Orders) Fills(ctx context.Context, tx pgx.Tx, orderID string) ([]model.Fill, error) {
	if _, err := s.db.open(tx); err != nil {
		return nil, err
	}
	var out []model.Fill
	for _, f := range s.db.fills {
		if f.OrderID == orderID {
			out = append(out, f)
		}
	}
	return out, nil
}
