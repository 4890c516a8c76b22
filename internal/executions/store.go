// Package executions records trade executions and their settlement state.
package executions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"

	"github.com/jackc/pgx/v5"
)

type Store struct{}

func NewStore() *Store {
	return &Store{}
}

const executionColumns = "id, buyer_id, seller_id, asset_id, asset_symbol, quantity, price, total_value, order_id, settlement_status, created_at, settled_at"

func scanExecution(row interface{ Scan(dest ...any) error }) (model.TradeExecution, error) {
	var e model.TradeExecution
	var status string
	if err := row.Scan(&e.ID, &e.BuyerID, &e.SellerID, &e.AssetID, &e.AssetSymbol, &e.Quantity, &e.Price, &e.TotalValue, &e.OrderID, &status, &e.CreatedAt, &e.SettledAt); err != nil {
		return e, err
	}
	e.SettlementStatus = types.SettlementStatus(status)
	return e, nil
}

// Record appends an execution with settlement_status pending.
func (s *Store) Record(ctx context.Context, tx pgx.Tx, in model.NewExecution, now time.Time) (model.TradeExecution, error) {
	e, err := Build(in, now)
	if err != nil {
		return e, err
	}
	err = tx.QueryRow(ctx, "insert into trade_executions (buyer_id, seller_id, asset_id, asset_symbol, quantity, price, total_value, order_id, settlement_status, created_at) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) returning id",
		e.BuyerID, e.SellerID, e.AssetID, e.AssetSymbol, e.Quantity, e.Price, e.TotalValue, e.OrderID, string(e.SettlementStatus), e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return e, fmt.Errorf("insert execution: %w", err)
	}
	return e, nil
}

func (s *Store) Get(ctx context.Context, tx pgx.Tx, id string) (model.TradeExecution, error) {
	e, err := scanExecution(tx.QueryRow(ctx, "select "+executionColumns+" from trade_executions where id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return e, apperr.NotFound("execution not found")
	}
	if err != nil {
		return e, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

// ListByOrder returns executions that involve the order on either leg.
func (s *Store) ListByOrder(ctx context.Context, tx pgx.Tx, orderID string) ([]model.TradeExecution, error) {
	rows, err := tx.Query(ctx, "select "+executionColumns+" from trade_executions where id in (select execution_id from order_fills where order_id = $1) order by created_at asc", orderID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()
	var out []model.TradeExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateSettlement moves an execution out of pending. Repeating the current
// status is a no-op; any other move is refused.
func (s *Store) UpdateSettlement(ctx context.Context, tx pgx.Tx, id string, to types.SettlementStatus, now time.Time) (model.TradeExecution, error) {
	e, err := scanExecution(tx.QueryRow(ctx, "select "+executionColumns+" from trade_executions where id = $1 for update", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return e, apperr.NotFound("execution not found")
	}
	if err != nil {
		return e, fmt.Errorf("lock execution: %w", err)
	}
	next, changed, err := Settle(e, to, now)
	if err != nil || !changed {
		return next, err
	}
	if _, err := tx.Exec(ctx, "update trade_executions set settlement_status = $1, settled_at = $2 where id = $3", string(next.SettlementStatus), next.SettledAt, id); err != nil {
		return e, fmt.Errorf("update settlement: %w", err)
	}
	return next, nil
}
