package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/db"
	"lv-tradecore/internal/holdings"
	"lv-tradecore/internal/marketdata"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type OrderStore interface {
	GetOrder(ctx context.Context, tx pgx.Tx, orderID string) (model.Order, error)
	ListResting(ctx context.Context, tx pgx.Tx, assetID string, side types.OrderSide, now time.Time, after *model.BookPosition, limit int) ([]model.Order, error)
	ApplyFill(ctx context.Context, tx pgx.Tx, o model.Order, executionID string, qty, price decimal.Decimal, now time.Time) (model.Order, error)
}

type ExecutionStore interface {
	Record(ctx context.Context, tx pgx.Tx, in model.NewExecution, now time.Time) (model.TradeExecution, error)
}

type HoldingStore interface {
	ApplyTrade(ctx context.Context, tx pgx.Tx, t holdings.Trade, now time.Time) error
}

type Publisher interface {
	Publish(evt marketdata.Event)
}

type Config struct {
	// QuoteAssetID is the cash asset buyers pay in.
	QuoteAssetID string
	// SnapshotLimit is the page size used to walk the opposite side.
	SnapshotLimit int
	// MaxConflictRetries bounds re-reads after a concurrent writer wins.
	// Zero selects the default of 3.
	MaxConflictRetries int
	AllowSelfMatch     bool
	Now                func() time.Time
}

type Engine struct {
	db       db.TxBeginner
	orders   OrderStore
	execs    ExecutionStore
	holdings HoldingStore
	pub      Publisher
	cfg      Config
	log      *slog.Logger
}

func NewEngine(b db.TxBeginner, orders OrderStore, execs ExecutionStore, hs HoldingStore, pub Publisher, cfg Config, logger *slog.Logger) *Engine {
	if cfg.SnapshotLimit <= 0 {
		cfg.SnapshotLimit = 200
	}
	if cfg.MaxConflictRetries <= 0 {
		cfg.MaxConflictRetries = 3
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{db: b, orders: orders, execs: execs, holdings: hs, pub: pub, cfg: cfg, log: logger}
}

// Result is the incoming order as it stands after a pass, plus the
// executions the pass committed.
type Result struct {
	Order      model.Order
	Executions []model.TradeExecution
}

var (
	errSkipCandidate = errors.New("candidate no longer matchable")
	errIncomingDone  = errors.New("incoming order no longer matchable")
)

// ExecutionPrice picks the price a pair trades at: the resting order's price
// if it has one, otherwise the incoming order's. Two unpriced orders cannot
// trade. When both are priced, the buy price must reach the sell price.
func ExecutionPrice(incoming, candidate model.Order) (decimal.Decimal, bool) {
	if incoming.Price != nil && candidate.Price != nil {
		buy, sell := incoming.Price, candidate.Price
		if incoming.Side == types.OrderSideSell {
			buy, sell = sell, buy
		}
		if buy.LessThan(*sell) {
			return decimal.Zero, false
		}
	}
	switch {
	case candidate.Price != nil:
		return *candidate.Price, true
	case incoming.Price != nil:
		return *incoming.Price, true
	}
	return decimal.Zero, false
}

// Match runs one matching pass for a freshly created order against the
// resting opposite side of its asset. The book is read in pages, each
// starting behind the last order seen, until a short page shows it is
// exhausted. Each matched pair commits in its own short transaction, so
// executions already committed stand even if a later pair fails.
func (e *Engine) Match(ctx context.Context, incoming model.Order) (Result, error) {
	res := Result{Order: incoming}
	var after *model.BookPosition
	for {
		if !res.Order.Matchable(e.cfg.Now()) {
			return res, nil
		}
		candidates, err := e.snapshot(ctx, res.Order, after)
		if err != nil {
			return res, err
		}
		for _, c := range candidates {
			pos := c.Position()
			after = &pos
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if !res.Order.Matchable(e.cfg.Now()) {
				return res, nil
			}
			if c.ID == res.Order.ID {
				continue
			}
			if c.UserID == res.Order.UserID && !e.cfg.AllowSelfMatch {
				continue
			}
			price, ok := ExecutionPrice(res.Order, c)
			if !ok {
				continue
			}
			exec, next, err := e.executePair(ctx, res.Order, c, price)
			switch {
			case err == nil:
				res.Order = next
				res.Executions = append(res.Executions, exec)
			case errors.Is(err, errSkipCandidate):
				continue
			case errors.Is(err, errIncomingDone):
				res.Order = next
				return res, nil
			default:
				return res, err
			}
		}
		if len(candidates) < e.cfg.SnapshotLimit {
			return res, nil
		}
	}
}

func (e *Engine) snapshot(ctx context.Context, o model.Order, after *model.BookPosition) ([]model.Order, error) {
	var out []model.Order
	err := db.InTx(ctx, e.db, db.ReadTx, func(tx pgx.Tx) error {
		var err error
		out, err = e.orders.ListResting(ctx, tx, o.AssetID, o.Side.Opposite(), e.cfg.Now(), after, e.cfg.SnapshotLimit)
		return err
	})
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("read book for order %s: %w", o.ID, err))
	}
	return out, nil
}

func minQty(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (e *Engine) trade(incoming, candidate model.Order, qty, price decimal.Decimal) (model.NewExecution, holdings.Trade) {
	buy, sell := incoming, candidate
	if incoming.Side == types.OrderSideSell {
		buy, sell = candidate, incoming
	}
	ne := model.NewExecution{
		BuyerID:     buy.UserID,
		SellerID:    sell.UserID,
		AssetID:     incoming.AssetID,
		AssetSymbol: incoming.AssetSymbol,
		Quantity:    qty,
		Price:       price,
		OrderID:     incoming.ID,
	}
	ht := holdings.Trade{
		BuyerID:      buy.UserID,
		SellerID:     sell.UserID,
		AssetID:      incoming.AssetID,
		QuoteAssetID: e.cfg.QuoteAssetID,
		Quantity:     qty,
		Price:        price,
	}
	return ne, ht
}

// executePair commits one execution between incoming and candidate. On a
// conflict both orders are re-read and the pair is retried with fresh
// quantities.
func (e *Engine) executePair(ctx context.Context, incoming, candidate model.Order, price decimal.Decimal) (model.TradeExecution, model.Order, error) {
	for attempt := 0; ; attempt++ {
		qty := minQty(incoming.RemainingQuantity, candidate.RemainingQuantity)
		ne, ht := e.trade(incoming, candidate, qty, price)
		now := e.cfg.Now()

		var exec model.TradeExecution
		var next model.Order
		err := db.InTx(ctx, e.db, db.WriteTx, func(tx pgx.Tx) error {
			var err error
			if exec, err = e.execs.Record(ctx, tx, ne, now); err != nil {
				return err
			}
			if next, err = e.orders.ApplyFill(ctx, tx, incoming, exec.ID, qty, price, now); err != nil {
				return err
			}
			if _, err = e.orders.ApplyFill(ctx, tx, candidate, exec.ID, qty, price, now); err != nil {
				return err
			}
			return e.holdings.ApplyTrade(ctx, tx, ht, now)
		})
		if err == nil {
			e.publish(exec)
			return exec, next, nil
		}

		var short *holdings.InsufficientError
		if errors.As(err, &short) {
			return e.shortfall(incoming, candidate, ht, short, err)
		}
		if !apperr.IsConflict(err) {
			if _, ok := apperr.As(err); ok {
				return model.TradeExecution{}, incoming, err
			}
			return model.TradeExecution{}, incoming, apperr.Internal(fmt.Errorf("execute order %s against %s: %w", incoming.ID, candidate.ID, err))
		}
		if attempt >= e.cfg.MaxConflictRetries {
			e.log.Warn("match conflict retries exhausted", "order_id", incoming.ID, "candidate_id", candidate.ID, "attempts", attempt+1)
			return model.TradeExecution{}, incoming, apperr.Internal(fmt.Errorf("execute order %s against %s after %d attempts: %w", incoming.ID, candidate.ID, attempt+1, err))
		}
		e.log.Debug("match conflict, retrying", "order_id", incoming.ID, "candidate_id", candidate.ID, "attempt", attempt+1)

		fresh, err := e.reload(ctx, incoming.ID, candidate.ID)
		if err != nil {
			return model.TradeExecution{}, incoming, err
		}
		incoming, candidate = fresh[0], fresh[1]
		now = e.cfg.Now()
		if !incoming.Matchable(now) {
			return model.TradeExecution{}, incoming, errIncomingDone
		}
		if !candidate.Matchable(now) {
			return model.TradeExecution{}, incoming, errSkipCandidate
		}
	}
}

func (e *Engine) reload(ctx context.Context, ids ...string) ([]model.Order, error) {
	out := make([]model.Order, 0, len(ids))
	err := db.InTx(ctx, e.db, db.ReadTx, func(tx pgx.Tx) error {
		for _, id := range ids {
			o, err := e.orders.GetOrder(ctx, tx, id)
			if err != nil {
				return err
			}
			out = append(out, o)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("reload orders: %w", err))
	}
	return out, nil
}

// shortfall decides who could not pay. A short candidate is skipped; a
// short incoming order stops the pass and stays resting.
func (e *Engine) shortfall(incoming, candidate model.Order, ht holdings.Trade, short *holdings.InsufficientError, err error) (model.TradeExecution, model.Order, error) {
	shortSide := types.OrderSideBuy
	if short.AssetID == ht.AssetID {
		shortSide = types.OrderSideSell
	}
	if shortSide != incoming.Side {
		e.log.Info("skipping candidate with insufficient holdings", "order_id", incoming.ID, "candidate_id", candidate.ID, "user_id", short.UserID)
		return model.TradeExecution{}, incoming, errSkipCandidate
	}
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.Wrap(apperr.KindBusinessRule, "insufficient holdings", short)
	}
	return model.TradeExecution{}, incoming, ae.WithDetail("order_id", incoming.ID)
}

func (e *Engine) publish(exec model.TradeExecution) {
	if e.pub == nil {
		return
	}
	e.pub.Publish(marketdata.Event{Type: marketdata.EventTrade, Data: exec})
}
