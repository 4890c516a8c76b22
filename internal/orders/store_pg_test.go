package orders_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/db"
	"lv-tradecore/internal/db/dbtest"
	"lv-tradecore/internal/executions"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/orders"
	"lv-tradecore/internal/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pgLedger struct {
	t     *testing.T
	ctx   context.Context
	pool  *pgxpool.Pool
	store *orders.Store
	asset string
}

func newPGLedger(t *testing.T) *pgLedger {
	pool := dbtest.Pool(t)
	return &pgLedger{t: t, ctx: context.Background(), pool: pool, store: orders.NewStore(), asset: dbtest.Asset(t, pool, "ORD")}
}

func (l *pgLedger) sell(user string, qty int64, price string, at time.Time) model.Order {
	l.t.Helper()
	p := decimal.RequireFromString(price)
	var out model.Order
	require.NoError(l.t, db.InTx(l.ctx, l.pool, db.WriteTx, func(tx pgx.Tx) error {
		var err error
		out, err = l.store.CreateOrder(l.ctx, tx, model.OrderRequest{
			UserID: user, AssetID: l.asset, Type: types.OrderTypeLimit, Side: types.OrderSideSell,
			Quantity: decimal.NewFromInt(qty), Price: &p,
		}, at)
		return err
	}))
	return out
}

func (l *pgLedger) get(id string) model.Order {
	l.t.Helper()
	var out model.Order
	require.NoError(l.t, db.InTx(l.ctx, l.pool, db.ReadTx, func(tx pgx.Tx) error {
		var err error
		out, err = l.store.GetOrder(l.ctx, tx, id)
		return err
	}))
	return out
}

func TestStore_CreateOrderUnknownAsset(t *testing.T) {
	l := newPGLedger(t)
	err := db.InTx(l.ctx, l.pool, db.WriteTx, func(tx pgx.Tx) error {
		_, err := l.store.CreateOrder(l.ctx, tx, model.OrderRequest{
			UserID: "u", AssetID: uuid.NewString(), Type: types.OrderTypeMarket, Side: types.OrderSideBuy,
			Quantity: decimal.NewFromInt(1),
		}, dbtest.Now())
		return err
	})
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "error = %v", err)
}

func TestStore_CreateOrderReturnsStoredRow(t *testing.T) {
	l := newPGLedger(t)
	at := dbtest.Now()
	o := l.sell(dbtest.User("seller"), 5, "12.5", at)
	require.NotEmpty(t, o.ID)
	assert.NotZero(t, o.Seq)
	assert.Equal(t, types.OrderStatusPending, o.Status)

	got := l.get(o.ID)
	assert.Equal(t, o.Seq, got.Seq)
	assert.True(t, got.RemainingQuantity.Equal(decimal.NewFromInt(5)))
	assert.True(t, got.Price.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, got.CreatedAt.Equal(at))
}

func TestStore_ListRestingKeysetPages(t *testing.T) {
	l := newPGLedger(t)
	at := dbtest.Now()
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, l.sell(dbtest.User("seller"), 1, "10", at).ID)
	}
	err := db.InTx(l.ctx, l.pool, db.ReadTx, func(tx pgx.Tx) error {
		first, err := l.store.ListResting(l.ctx, tx, l.asset, types.OrderSideSell, at, nil, 2)
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, ids[:2], []string{first[0].ID, first[1].ID})

		cursor := first[1].Position()
		rest, err := l.store.ListResting(l.ctx, tx, l.asset, types.OrderSideSell, at, &cursor, 2)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, ids[2], rest[0].ID)

		buys, err := l.store.ListResting(l.ctx, tx, l.asset, types.OrderSideBuy, at, nil, 10)
		assert.Empty(t, buys)
		return err
	})
	require.NoError(t, err)
}

func TestStore_ApplyFillGuard(t *testing.T) {
	l := newPGLedger(t)
	at := dbtest.Now()
	seller := dbtest.User("seller")
	o := l.sell(seller, 5, "10", at)
	execs := executions.NewStore()

	fill := func(snapshot model.Order, qty int64) (model.Order, error) {
		var next model.Order
		err := db.InTx(l.ctx, l.pool, db.WriteTx, func(tx pgx.Tx) error {
			e, err := execs.Record(l.ctx, tx, model.NewExecution{
				BuyerID: "buyer", SellerID: seller, AssetID: l.asset, AssetSymbol: o.AssetSymbol,
				Quantity: decimal.NewFromInt(qty), Price: decimal.NewFromInt(10), OrderID: o.ID,
			}, at)
			if err != nil {
				return err
			}
			next, err = l.store.ApplyFill(l.ctx, tx, snapshot, e.ID, decimal.NewFromInt(qty), decimal.NewFromInt(10), at)
			return err
		})
		return next, err
	}

	next, err := fill(o, 2)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusPartiallyFilled, next.Status)
	assert.True(t, next.RemainingQuantity.Equal(decimal.NewFromInt(3)))

	// o still says 5 remaining
	_, err = fill(o, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrGuard))
	assert.True(t, apperr.IsConflict(err))

	got := l.get(o.ID)
	assert.True(t, got.RemainingQuantity.Equal(decimal.NewFromInt(3)))
	require.NoError(t, db.InTx(l.ctx, l.pool, db.ReadTx, func(tx pgx.Tx) error {
		fills, err := l.store.Fills(l.ctx, tx, o.ID)
		assert.Len(t, fills, 1)
		return err
	}))

	done, err := fill(got, 3)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, done.Status)
	assert.Equal(t, types.OrderStatusFilled, l.get(o.ID).Status)
}

func TestStore_ApplyFillRefusesExpired(t *testing.T) {
	l := newPGLedger(t)
	at := dbtest.Now()
	o := l.sell(dbtest.User("seller"), 1, "10", at)
	_, err := l.pool.Exec(l.ctx, "update orders set expires_at = $1 where id = $2", at.Add(time.Minute), o.ID)
	require.NoError(t, err)
	o = l.get(o.ID)

	err = db.InTx(l.ctx, l.pool, db.WriteTx, func(tx pgx.Tx) error {
		_, err := l.store.ApplyFill(l.ctx, tx, o, uuid.NewString(), decimal.NewFromInt(1), decimal.NewFromInt(10), at.Add(time.Hour))
		return err
	})
	assert.True(t, errors.Is(err, apperr.ErrGuard))
}

func TestStore_CancelRules(t *testing.T) {
	l := newPGLedger(t)
	owner := dbtest.User("owner")
	o := l.sell(owner, 1, "10", dbtest.Now())
	cancel := func(user string) (model.Order, error) {
		var out model.Order
		err := db.InTx(l.ctx, l.pool, db.WriteTx, func(tx pgx.Tx) error {
			var err error
			out, err = l.store.Cancel(l.ctx, tx, o.ID, user, dbtest.Now())
			return err
		})
		return out, err
	}

	_, err := cancel(dbtest.User("stranger"))
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Equal(t, types.OrderStatusPending, l.get(o.ID).Status)

	got, err := cancel(owner)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusCancelled, got.Status)

	_, err = cancel(owner)
	assert.True(t, apperr.Is(err, apperr.KindBusinessRule))
}

func TestStore_ExpireDue(t *testing.T) {
	l := newPGLedger(t)
	at := dbtest.Now()
	due := l.sell(dbtest.User("seller"), 1, "10", at)
	later := l.sell(dbtest.User("seller"), 1, "10", at)
	_, err := l.pool.Exec(l.ctx, "update orders set expires_at = $1 where id = $2", at.Add(time.Second), due.ID)
	require.NoError(t, err)
	_, err = l.pool.Exec(l.ctx, "update orders set expires_at = $1 where id = $2", at.Add(time.Hour), later.ID)
	require.NoError(t, err)

	var ids []string
	require.NoError(t, db.InTx(l.ctx, l.pool, db.WriteTx, func(tx pgx.Tx) error {
		var err error
		ids, err = l.store.ExpireDue(l.ctx, tx, at.Add(time.Minute), 10_000)
		return err
	}))
	assert.Contains(t, ids, due.ID)
	assert.NotContains(t, ids, later.ID)
	assert.Equal(t, types.OrderStatusExpired, l.get(due.ID).Status)
	assert.Equal(t, types.OrderStatusPending, l.get(later.ID).Status)
}
