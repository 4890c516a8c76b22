// Package expiry moves resting orders past their expires_at to expired.
// Matching already ignores such orders; the sweep makes the status visible.
package expiry

import (
	"context"
	"log/slog"
	"time"

	"lv-tradecore/internal/collab"
	"lv-tradecore/internal/db"
	"lv-tradecore/internal/marketdata"

	"github.com/jackc/pgx/v5"
)

type OrderStore interface {
	ExpireDue(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]string, error)
}

type Publisher interface {
	Publish(evt marketdata.Event)
}

// Expired is the payload of an order_expired event.
type Expired struct {
	OrderIDs []string  `json:"order_ids"`
	At       time.Time `json:"at"`
}

type Sweeper struct {
	db       db.TxBeginner
	orders   OrderStore
	pub      Publisher
	audit    collab.AuditLog
	interval time.Duration
	batch    int
	now      func() time.Time
	log      *slog.Logger
}

func NewSweeper(b db.TxBeginner, orders OrderStore, pub Publisher, audit collab.AuditLog, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		db:       b,
		orders:   orders,
		pub:      pub,
		audit:    audit,
		interval: interval,
		batch:    500,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger,
	}
}

// Start sweeps every interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx, s.now()); err != nil && ctx.Err() == nil {
				s.log.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce expires every order due at now, one batch per transaction, and
// returns how many it expired.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		var ids []string
		err := db.InTx(ctx, s.db, db.WriteTx, func(tx pgx.Tx) error {
			var err error
			ids, err = s.orders.ExpireDue(ctx, tx, now, s.batch)
			return err
		})
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		total += len(ids)
		s.report(ctx, ids, now)
		if len(ids) < s.batch {
			return total, nil
		}
	}
}

func (s *Sweeper) report(ctx context.Context, ids []string, now time.Time) {
	s.log.Info("orders expired", "count", len(ids))
	if s.pub != nil {
		s.pub.Publish(marketdata.Event{Type: marketdata.EventOrderExpiry, Data: Expired{OrderIDs: ids, At: now}})
	}
	if s.audit == nil {
		return
	}
	for _, id := range ids {
		err := s.audit.Record(ctx, collab.AuditEntry{
			UserID:   "system",
			Action:   collab.AuditOrderExpired,
			EntityID: id,
			At:       now,
		})
		if err != nil {
			s.log.Error("audit write failed", "action", collab.AuditOrderExpired, "entity_id", id, "error", err)
		}
	}
}
