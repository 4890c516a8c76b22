// Package trading is the order submission surface: it validates, persists
// and matches orders, and serves the read and cancel paths around them.
package trading

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/collab"
	"lv-tradecore/internal/db"
	"lv-tradecore/internal/matching"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"
	"lv-tradecore/internal/validation"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type OrderStore interface {
	CreateOrder(ctx context.Context, tx pgx.Tx, req model.OrderRequest, now time.Time) (model.Order, error)
	GetOrder(ctx context.Context, tx pgx.Tx, orderID string) (model.Order, error)
	ListByUser(ctx context.Context, tx pgx.Tx, userID string, status types.OrderStatus, limit int) ([]model.Order, error)
	Cancel(ctx context.Context, tx pgx.Tx, orderID, userID string, now time.Time) (model.Order, error)
	Fills(ctx context.Context, tx pgx.Tx, orderID string) ([]model.Fill, error)
}

type ExecutionStore interface {
	ListByOrder(ctx context.Context, tx pgx.Tx, orderID string) ([]model.TradeExecution, error)
	UpdateSettlement(ctx context.Context, tx pgx.Tx, id string, to types.SettlementStatus, now time.Time) (model.TradeExecution, error)
}

type HoldingStore interface {
	ListByUser(ctx context.Context, tx pgx.Tx, userID string) ([]model.Holding, error)
	Credit(ctx context.Context, tx pgx.Tx, userID, assetID string, amount decimal.Decimal, now time.Time) (model.Holding, error)
}

type OrderValidator interface {
	Validate(ctx context.Context, who validation.Requester, payload []byte) (model.OrderRequest, error)
}

type Matcher interface {
	Match(ctx context.Context, incoming model.Order) (matching.Result, error)
}

type Config struct {
	// CancelUnfilledMarket cancels whatever a market order could not fill
	// in its first pass instead of leaving it resting.
	CancelUnfilledMarket bool
	MaxListLimit         int
	Now                  func() time.Time
}

type Deps struct {
	DB         db.TxBeginner
	Validator  OrderValidator
	Orders     OrderStore
	Executions ExecutionStore
	Holdings   HoldingStore
	Assets     collab.AssetLookup
	Matcher    Matcher
	Audit      collab.AuditLog
}

type Service struct {
	Deps
	cfg Config
	log *slog.Logger
}

func NewService(d Deps, cfg Config, logger *slog.Logger) *Service {
	if cfg.MaxListLimit <= 0 {
		cfg.MaxListLimit = 500
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Deps: d, cfg: cfg, log: logger}
}

// Placement is the outcome of a submission.
type Placement struct {
	Order      model.Order
	Executions []model.TradeExecution
}

// PlaceOrder validates payload, persists the order and runs one matching
// pass. If matching fails after the order was stored, the returned
// Placement still carries the persisted order and any committed executions.
func (s *Service) PlaceOrder(ctx context.Context, who validation.Requester, payload []byte) (Placement, error) {
	req, err := s.Validator.Validate(ctx, who, payload)
	if err != nil {
		return Placement{}, err
	}

	var o model.Order
	err = db.InTx(ctx, s.DB, db.WriteTx, func(tx pgx.Tx) error {
		var err error
		o, err = s.Orders.CreateOrder(ctx, tx, req, s.cfg.Now())
		return err
	})
	if err != nil {
		return Placement{}, classify("create order", err)
	}
	s.audit(ctx, who, collab.AuditOrderPlaced, o.ID, map[string]any{
		"asset_id":   o.AssetID,
		"order_type": o.Type,
		"side":       o.Side,
		"quantity":   o.Quantity.String(),
	})

	res, err := s.Matcher.Match(ctx, o)
	out := Placement{Order: res.Order, Executions: res.Executions}
	if err != nil {
		s.log.Warn("matching pass stopped", "order_id", o.ID, "correlation_id", who.CorrelationID, "error", err)
		return out, withOrder(err, o.ID)
	}

	if s.cfg.CancelUnfilledMarket && o.Type == types.OrderTypeMarket && out.Order.Status.IsResting() {
		cancelled, err := s.cancel(ctx, o.ID, o.UserID)
		switch {
		case err == nil:
			out.Order = cancelled
			s.audit(ctx, who, collab.AuditOrderCancelled, o.ID, map[string]any{"reason": "unfilled market order"})
		case apperr.Is(err, apperr.KindBusinessRule):
			// a concurrent pass finished it first
		default:
			return out, withOrder(err, o.ID)
		}
	}
	return out, nil
}

// OrderDetail is an order with its fill history.
type OrderDetail struct {
	Order      model.Order
	Fills      []model.Fill
	Executions []model.TradeExecution
}

// GetOrder returns the caller's order. Orders of other users are reported
// as not found.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (OrderDetail, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return OrderDetail{}, apperr.NotFound("order not found")
	}
	var out OrderDetail
	err := db.InTx(ctx, s.DB, db.ReadTx, func(tx pgx.Tx) error {
		o, err := s.Orders.GetOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return apperr.NotFound("order not found")
		}
		out.Order = o
		if out.Fills, err = s.Orders.Fills(ctx, tx, orderID); err != nil {
			return err
		}
		out.Executions, err = s.Executions.ListByOrder(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return OrderDetail{}, classify("get order", err)
	}
	return out, nil
}

func (s *Service) ListOrders(ctx context.Context, userID, status string, limit int) ([]model.Order, error) {
	st := types.OrderStatus(status)
	if status != "" && !st.Valid() {
		return nil, apperr.Validationf("unknown status %q", status)
	}
	if limit <= 0 || limit > s.cfg.MaxListLimit {
		limit = s.cfg.MaxListLimit
	}
	var out []model.Order
	err := db.InTx(ctx, s.DB, db.ReadTx, func(tx pgx.Tx) error {
		var err error
		out, err = s.Orders.ListByUser(ctx, tx, userID, st, limit)
		return err
	})
	if err != nil {
		return nil, classify("list orders", err)
	}
	return out, nil
}

func (s *Service) CancelOrder(ctx context.Context, who validation.Requester, orderID string) (model.Order, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return model.Order{}, apperr.NotFound("order not found")
	}
	o, err := s.cancel(ctx, orderID, who.UserID)
	if err != nil {
		return o, err
	}
	s.audit(ctx, who, collab.AuditOrderCancelled, o.ID, map[string]any{"remaining_quantity": o.RemainingQuantity.String()})
	return o, nil
}

func (s *Service) cancel(ctx context.Context, orderID, userID string) (model.Order, error) {
	var o model.Order
	err := db.InTx(ctx, s.DB, db.WriteTx, func(tx pgx.Tx) error {
		var err error
		o, err = s.Orders.Cancel(ctx, tx, orderID, userID, s.cfg.Now())
		return err
	})
	if err != nil {
		return o, classify("cancel order", err)
	}
	return o, nil
}

func (s *Service) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	var out []model.Holding
	err := db.InTx(ctx, s.DB, db.ReadTx, func(tx pgx.Tx) error {
		var err error
		out, err = s.Holdings.ListByUser(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, classify("list holdings", err)
	}
	return out, nil
}

// UpdateSettlement is called by the settlement collaborator. Repeating a
// transition is accepted and changes nothing.
func (s *Service) UpdateSettlement(ctx context.Context, who validation.Requester, executionID, status string) (model.TradeExecution, error) {
	if _, err := uuid.Parse(executionID); err != nil {
		return model.TradeExecution{}, apperr.NotFound("execution not found")
	}
	to := types.SettlementStatus(status)
	if !to.Valid() || to == types.SettlementPending {
		return model.TradeExecution{}, apperr.Validation("status must be settled or failed")
	}
	var e model.TradeExecution
	err := db.InTx(ctx, s.DB, db.WriteTx, func(tx pgx.Tx) error {
		var err error
		e, err = s.Executions.UpdateSettlement(ctx, tx, executionID, to, s.cfg.Now())
		return err
	})
	if err != nil {
		return e, classify("update settlement", err)
	}
	s.audit(ctx, who, collab.AuditSettlement, e.ID, map[string]any{"status": e.SettlementStatus})
	return e, nil
}

// Credit funds a user's holding. It backs the internal funding route.
func (s *Service) Credit(ctx context.Context, who validation.Requester, userID, assetID string, amount decimal.Decimal) (model.Holding, error) {
	if userID == "" {
		return model.Holding{}, apperr.Validation("missing required field: user_id")
	}
	if _, err := s.Assets.GetAsset(ctx, assetID); err != nil {
		return model.Holding{}, classify("credit", err)
	}
	var h model.Holding
	err := db.InTx(ctx, s.DB, db.WriteTx, func(tx pgx.Tx) error {
		var err error
		h, err = s.Holdings.Credit(ctx, tx, userID, assetID, amount, s.cfg.Now())
		return err
	})
	if err != nil {
		return h, classify("credit", err)
	}
	s.audit(ctx, who, collab.AuditHoldingCredit, userID, map[string]any{"asset_id": assetID, "amount": amount.String()})
	return h, nil
}

func (s *Service) audit(ctx context.Context, who validation.Requester, action, entityID string, attrs map[string]any) {
	if s.Audit == nil {
		return
	}
	err := s.Audit.Record(ctx, collab.AuditEntry{
		UserID:        who.UserID,
		Action:        action,
		EntityID:      entityID,
		Attributes:    attrs,
		CorrelationID: who.CorrelationID,
		At:            s.cfg.Now(),
	})
	if err != nil {
		s.log.Error("audit write failed", "action", action, "entity_id", entityID, "error", err)
	}
}

// classify keeps typed errors and turns anything else into INTERNAL.
// withOrder tags err with the id of an order that is already stored.
func withOrder(err error, orderID string) error {
	ae, ok := apperr.As(classify("place order", err))
	if !ok {
		return err
	}
	return ae.WithDetail("order_id", orderID)
}

func classify(op string, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Internal(fmt.Errorf("%s: %w", op, err))
}
