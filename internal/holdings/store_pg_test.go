package holdings_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/db"
	"lv-tradecore/internal/db/dbtest"
	"lv-tradecore/internal/holdings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func credit(t *testing.T, pool *pgxpool.Pool, s *holdings.Store, user, asset string, amount int64) {
	t.Helper()
	require.NoError(t, db.InTx(context.Background(), pool, db.WriteTx, func(tx pgx.Tx) error {
		_, err := s.Credit(context.Background(), tx, user, asset, decimal.NewFromInt(amount), dbtest.Now())
		return err
	}))
}

func available(t *testing.T, pool *pgxpool.Pool, s *holdings.Store, user, asset string) decimal.Decimal {
	t.Helper()
	var out decimal.Decimal
	require.NoError(t, db.InTx(context.Background(), pool, db.ReadTx, func(tx pgx.Tx) error {
		h, err := s.Get(context.Background(), tx, user, asset)
		out = h.Available
		return err
	}))
	return out
}

func TestStore_ApplyTradeConserves(t *testing.T) {
	pool := dbtest.Pool(t)
	s := holdings.NewStore()
	stock, cash := dbtest.Asset(t, pool, "STK"), dbtest.Asset(t, pool, "CSH")
	buyer, seller := dbtest.User("buyer"), dbtest.User("seller")
	credit(t, pool, s, seller, stock, 10)
	credit(t, pool, s, buyer, cash, 100)

	trade := holdings.Trade{
		BuyerID: buyer, SellerID: seller, AssetID: stock, QuoteAssetID: cash,
		Quantity: decimal.NewFromInt(4), Price: decimal.RequireFromString("5.5"),
	}
	require.NoError(t, db.InTx(context.Background(), pool, db.WriteTx, func(tx pgx.Tx) error {
		return s.ApplyTrade(context.Background(), tx, trade, dbtest.Now())
	}))

	assert.True(t, available(t, pool, s, seller, stock).Equal(decimal.NewFromInt(6)))
	assert.True(t, available(t, pool, s, buyer, stock).Equal(decimal.NewFromInt(4)))
	assert.True(t, available(t, pool, s, buyer, cash).Equal(decimal.NewFromInt(78)))
	assert.True(t, available(t, pool, s, seller, cash).Equal(decimal.NewFromInt(22)))
}

func TestStore_ApplyTradeShortfallRollsBack(t *testing.T) {
	pool := dbtest.Pool(t)
	s := holdings.NewStore()
	stock, cash := dbtest.Asset(t, pool, "STK"), dbtest.Asset(t, pool, "CSH")
	buyer, seller := dbtest.User("buyer"), dbtest.User("seller")
	credit(t, pool, s, seller, stock, 10)
	credit(t, pool, s, buyer, cash, 10)

	err := db.InTx(context.Background(), pool, db.WriteTx, func(tx pgx.Tx) error {
		return s.ApplyTrade(context.Background(), tx, holdings.Trade{
			BuyerID: buyer, SellerID: seller, AssetID: stock, QuoteAssetID: cash,
			Quantity: decimal.NewFromInt(5), Price: decimal.NewFromInt(3),
		}, dbtest.Now())
	})
	var short *holdings.InsufficientError
	require.True(t, errors.As(err, &short), "error = %v", err)
	assert.Equal(t, buyer, short.UserID)
	assert.Equal(t, cash, short.AssetID)
	assert.True(t, apperr.Is(err, apperr.KindBusinessRule))

	assert.True(t, available(t, pool, s, seller, stock).Equal(decimal.NewFromInt(10)))
	assert.True(t, available(t, pool, s, buyer, cash).Equal(decimal.NewFromInt(10)))
	assert.True(t, available(t, pool, s, buyer, stock).IsZero())
}

func TestStore_ConcurrentCreditsSerialize(t *testing.T) {
	pool := dbtest.Pool(t)
	s := holdings.NewStore()
	cash := dbtest.Asset(t, pool, "CSH")
	user := dbtest.User("saver")

	const writers = 10
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				err := db.InTx(context.Background(), pool, db.WriteTx, func(tx pgx.Tx) error {
					_, err := s.Credit(context.Background(), tx, user, cash, decimal.NewFromInt(1), dbtest.Now())
					return err
				})
				if apperr.IsConflict(err) {
					continue
				}
				errs[i] = err
				return
			}
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.True(t, available(t, pool, s, user, cash).Equal(decimal.NewFromInt(writers)))
}
