package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Store is the Postgres order ledger. Every method runs inside the caller's
// transaction so a fill commits together with its execution and settlement.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

const orderColumns = "o.id, o.user_id, o.asset_id, a.symbol, o.order_type, o.side, o.status, o.price, o.quantity, o.remaining_quantity, o.expires_at, o.created_at, o.updated_at, o.seq"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (model.Order, error) {
	var o model.Order
	var typ, side, status string
	var price *decimal.Decimal
	if err := row.Scan(&o.ID, &o.UserID, &o.AssetID, &o.AssetSymbol, &typ, &side, &status, &price, &o.Quantity, &o.RemainingQuantity, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt, &o.Seq); err != nil {
		return o, err
	}
	o.Type = types.OrderType(typ)
	o.Side = types.OrderSide(side)
	o.Status = types.OrderStatus(status)
	o.Price = price
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreateOrder inserts a pending order. The asset row is share-locked so it
// cannot be deactivated between validation and insert; an unknown or
// inactive asset yields NOT_FOUND.
func (s *Store) CreateOrder(ctx context.Context, tx pgx.Tx, req model.OrderRequest, now time.Time) (model.Order, error) {
	o := model.Order{
		UserID:            req.UserID,
		AssetID:           req.AssetID,
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
	err := tx.QueryRow(ctx, `with a as (select id, symbol from assets where id = $2 and status = 'active' for share),
ins as (insert into orders (user_id, asset_id, order_type, side, status, price, quantity, remaining_quantity, expires_at, created_at, updated_at)
	select $1, a.id, $3, $4, 'pending', $5, $6, $6, $7, $8, $8 from a returning id, seq)
select ins.id, ins.seq, a.symbol from ins, a`,
		req.UserID, req.AssetID, string(req.Type), string(req.Side), req.Price, req.Quantity, req.ExpiresAt, now).Scan(&o.ID, &o.Seq, &o.AssetSymbol)
	if errors.Is(err, pgx.ErrNoRows) {
		return o, apperr.NotFound("asset not found").WithDetail("asset_id", req.AssetID)
	}
	if err != nil {
		return o, fmt.Errorf("insert order: %w", err)
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, tx pgx.Tx, orderID string) (model.Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, "select "+orderColumns+" from orders o join assets a on a.id = o.asset_id where o.id = $1", orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return o, apperr.NotFound("order not found")
	}
	if err != nil {
		return o, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// ListResting returns matchable orders on one side of an asset's book in
// time priority: oldest first, insertion sequence breaking ties. A non-nil
// after starts the page behind that position.
func (s *Store) ListResting(ctx context.Context, tx pgx.Tx, assetID string, side types.OrderSide, now time.Time, after *model.BookPosition, limit int) ([]model.Order, error) {
	const q = "select " + orderColumns + " from orders o join assets a on a.id = o.asset_id where o.asset_id = $1 and o.side = $2 and o.status in ('pending','partially_filled') and o.remaining_quantity > 0 and (o.expires_at is null or o.expires_at > $3)"
	const order = " order by o.created_at asc, o.seq asc"
	var rows pgx.Rows
	var err error
	if after == nil {
		rows, err = tx.Query(ctx, q+order+" limit $4", assetID, string(side), now, limit)
	} else {
		rows, err = tx.Query(ctx, q+" and (o.created_at, o.seq) > ($4, $5)"+order+" limit $6", assetID, string(side), now, after.CreatedAt, after.Seq, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list resting orders: %w", err)
	}
	return collectOrders(rows)
}

// ListByUser returns the user's orders newest first, optionally filtered by status.
func (s *Store) ListByUser(ctx context.Context, tx pgx.Tx, userID string, status types.OrderStatus, limit int) ([]model.Order, error) {
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = tx.Query(ctx, "select "+orderColumns+" from orders o join assets a on a.id = o.asset_id where o.user_id = $1 order by o.created_at desc, o.seq desc limit $2", userID, limit)
	} else {
		rows, err = tx.Query(ctx, "select "+orderColumns+" from orders o join assets a on a.id = o.asset_id where o.user_id = $1 and o.status = $2 order by o.created_at desc, o.seq desc limit $3", userID, string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list user orders: %w", err)
	}
	return collectOrders(rows)
}

// ApplyFill reduces the order's remaining quantity by qty and records the
// fill leg. The update is guarded on the remaining quantity and status the
// caller read; if another writer moved either, ErrGuard is returned and
// nothing is written.
func (s *Store) ApplyFill(ctx context.Context, tx pgx.Tx, o model.Order, executionID string, qty, price decimal.Decimal, now time.Time) (model.Order, error) {
	next, err := NextFill(o, qty)
	if err != nil {
		return o, err
	}
	tag, err := tx.Exec(ctx, "update orders set remaining_quantity = $1, status = $2, updated_at = $3 where id = $4 and remaining_quantity = $5 and status = $6 and (expires_at is null or expires_at > $3)", next.RemainingQuantity, string(next.Status), now, o.ID, o.RemainingQuantity, string(o.Status))
	if err != nil {
		return o, fmt.Errorf("update order fill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return o, fmt.Errorf("apply fill to order %s: %w", o.ID, apperr.ErrGuard)
	}
	if _, err := tx.Exec(ctx, "insert into order_fills (order_id, execution_id, quantity, price, created_at) values ($1,$2,$3,$4,$5)", o.ID, executionID, qty, price, now); err != nil {
		return o, fmt.Errorf("insert order fill: %w", err)
	}
	next.UpdatedAt = now
	return next, nil
}

// Cancel moves the user's own resting order to cancelled. Orders owned by
// someone else are reported as not found.
func (s *Store) Cancel(ctx context.Context, tx pgx.Tx, orderID, userID string, now time.Time) (model.Order, error) {
	tag, err := tx.Exec(ctx, "update orders set status = 'cancelled', updated_at = $3 where id = $1 and user_id = $2 and status in ('pending','partially_filled')", orderID, userID, now)
	if err != nil {
		return model.Order{}, fmt.Errorf("cancel order: %w", err)
	}
	o, err := s.GetOrder(ctx, tx, orderID)
	if err != nil {
		return o, err
	}
	if o.UserID != userID {
		return model.Order{}, apperr.NotFound("order not found")
	}
	if tag.RowsAffected() == 0 {
		return o, NotCancellable(o)
	}
	return o, nil
}

// ExpireDue marks up to limit resting orders whose expiry has passed as
// expired and returns their ids. Rows locked by an in-flight match are
// skipped and picked up by the next sweep.
func (s *Store) ExpireDue(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]string, error) {
	rows, err := tx.Query(ctx, "update orders set status = 'expired', updated_at = $1 where id in (select id from orders where status in ('pending','partially_filled') and expires_at is not null and expires_at <= $1 order by expires_at asc limit $2 for update skip locked) returning id", now, limit)
	if err != nil {
		return nil, fmt.Errorf("expire orders: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Fills(ctx context.Context, tx pgx.Tx, orderID string) ([]model.Fill, error) {
	rows, err := tx.Query(ctx, "select id, order_id, execution_id, quantity, price, created_at from order_fills where order_id = $1 order by created_at asc", orderID)
	if err != nil {
		return nil, fmt.Errorf("list fills: %w", err)
	}
	defer rows.Close()
	var out []model.Fill
	for rows.Next() {
		var f model.Fill
		if err := rows.Scan(&f.ID, &f.OrderID, &f.ExecutionID, &f.Quantity, &f.Price, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
