package expiry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"lv-tradecore/internal/collab"
	"lv-tradecore/internal/db"
	"lv-tradecore/internal/marketdata"
	"lv-tradecore/internal/memstore"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []marketdata.Event
	audits []collab.AuditEntry
}

func (r *recorder) Publish(evt marketdata.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) Record(ctx context.Context, e collab.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, e)
	return nil
}

func place(t *testing.T, mem *memstore.DB, expiresIn time.Duration) model.Order {
	t.Helper()
	p := decimal.NewFromInt(10)
	req := model.OrderRequest{
		UserID:   "u1",
		AssetID:  "asset",
		Type:     types.OrderTypeLimit,
		Side:     types.OrderSideBuy,
		Quantity: decimal.NewFromInt(1),
		Price:    &p,
	}
	if expiresIn != 0 {
		at := t0.Add(expiresIn)
		req.ExpiresAt = &at
	}
	var o model.Order
	require.NoError(t, db.InTx(context.Background(), mem, db.WriteTx, func(tx pgx.Tx) error {
		var err error
		o, err = mem.Orders().CreateOrder(context.Background(), tx, req, t0)
		return err
	}))
	return o
}

func status(t *testing.T, mem *memstore.DB, id string) types.OrderStatus {
	t.Helper()
	var o model.Order
	require.NoError(t, db.InTx(context.Background(), mem, db.ReadTx, func(tx pgx.Tx) error {
		var err error
		o, err = mem.Orders().GetOrder(context.Background(), tx, id)
		return err
	}))
	return o.Status
}

func TestSweepOnce(t *testing.T) {
	mem := memstore.New()
	mem.PutAsset(model.Asset{ID: "asset", Symbol: "X", Status: model.AssetStatusActive})
	due := place(t, mem, time.Minute)
	later := place(t, mem, time.Hour)
	forever := place(t, mem, 0)

	rec := &recorder{}
	s := NewSweeper(mem, mem.Orders(), rec, rec, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := s.SweepOnce(context.Background(), t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, types.OrderStatusExpired, status(t, mem, due.ID))
	assert.Equal(t, types.OrderStatusPending, status(t, mem, later.ID))
	assert.Equal(t, types.OrderStatusPending, status(t, mem, forever.ID))

	require.Len(t, rec.events, 1)
	assert.Equal(t, marketdata.EventOrderExpiry, rec.events[0].Type)
	assert.Equal(t, []string{due.ID}, rec.events[0].Data.(Expired).OrderIDs)
	require.Len(t, rec.audits, 1)
	assert.Equal(t, collab.AuditOrderExpired, rec.audits[0].Action)

	n, err = s.SweepOnce(context.Background(), t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, rec.events, 1)
}

func TestSweepOnce_Batches(t *testing.T) {
	mem := memstore.New()
	mem.PutAsset(model.Asset{ID: "asset", Symbol: "X", Status: model.AssetStatusActive})
	for i := 0; i < 5; i++ {
		place(t, mem, time.Minute)
	}
	rec := &recorder{}
	s := NewSweeper(mem, mem.Orders(), rec, nil, time.Second, nil)
	s.batch = 2

	n, err := s.SweepOnce(context.Background(), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, rec.events, 3)
}

func TestStart_StopsOnCancel(t *testing.T) {
	mem := memstore.New()
	s := NewSweeper(mem, mem.Orders(), nil, nil, time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
