package memstore

import (
	"context"
	"sort"
	"time"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/executions"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Executions struct {
	db *DB
}

func (db *DB) Executions() *Executions {
	return &Executions{db: db}
}

func (s *Executions) Record(ctx context.Context, tx pgx.Tx, in model.NewExecution, now time.Time) (model.TradeExecution, error) {
	t, err := s.db.openWrite(tx)
	if err != nil {
		return model.TradeExecution{}, err
	}
	e, err := executions.Build(in, now)
	if err != nil {
		return e, err
	}
	e.ID = uuid.NewString()
	s.db.executions[e.ID] = &executionRow{exec: e, seq: s.db.nextSeq(t)}
	t.onRollback(func() { delete(s.db.executions, e.ID) })
	return e, nil
}

func (s *Executions) Get(ctx context.Context, tx pgx.Tx, id string) (model.TradeExecution, error) {
	if _, err := s.db.open(tx); err != nil {
		return model.TradeExecution{}, err
	}
	row, ok := s.db.executions[id]
	if !ok {
		return model.TradeExecution{}, apperr.NotFound("execution not found")
	}
	return row.exec, nil
}

func (s *Executions) ListByOrder(ctx context.Context, tx pgx.Tx, orderID string) ([]model.TradeExecution, error) {
	if _, err := s.db.open(tx); err != nil {
		return nil, err
	}
	var rows []*executionRow
	for _, f := range s.db.fills {
		if f.OrderID != orderID {
			continue
		}
		if row, ok := s.db.executions[f.ExecutionID]; ok {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]model.TradeExecution, len(rows))
	for i, row := range rows {
		out[i] = row.exec
	}
	return out, nil
}

func (s *Executions) UpdateSettlement(ctx context.Context, tx pgx.Tx, id string, to types.SettlementStatus, now time.Time) (model.TradeExecution, error) {
	t, err := s.db.openWrite(tx)
	if err != nil {
		return model.TradeExecution{}, err
	}
	row, ok := s.db.executions[id]
	if !ok {
		return model.TradeExecution{}, apperr.NotFound("execution not found")
	}
	next, changed, err := executions.Settle(row.exec, to, now)
	if err != nil || !changed {
		return next, err
	}
	prev := row.exec
	row.exec = next
	t.onRollback(func() { row.exec = prev })
	return next, nil
}
