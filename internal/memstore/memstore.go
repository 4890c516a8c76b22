// Package memstore is an in-memory backend with the same contracts as the
// Postgres stores. Transactions are fully serialized: one is open at a time
// and a rollback restores every write it made.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"lv-tradecore/internal/holdings"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"

	"github.com/jackc/pgx/v5"
)

var errReadOnly = errors.New("memstore: write in read-only transaction")

type orderRow struct {
	order model.Order
	seq   int64
}

type executionRow struct {
	exec model.TradeExecution
	seq  int64
}

type DB struct {
	sem chan struct{}

	seq        int64
	orders     map[string]*orderRow
	executions map[string]*executionRow
	fills      []model.Fill
	holdings   map[holdings.Key]model.Holding

	// Directory data is read outside transactions by the validator.
	dirMu  sync.RWMutex
	assets map[string]model.Asset
	tiers  map[string]types.Tier
}

func New() *DB {
	return &DB{
		sem:        make(chan struct{}, 1),
		orders:     make(map[string]*orderRow),
		executions: make(map[string]*executionRow),
		holdings:   make(map[holdings.Key]model.Holding),
		assets:     make(map[string]model.Asset),
		tiers:      make(map[string]types.Tier),
	}
}

// Tx implements pgx.Tx for the memstore types only. Query methods of the
// embedded interface are never called and would panic.
type Tx struct {
	pgx.Tx
	db       *DB
	undo     []func()
	readOnly bool
	done     bool
}

// BeginTx waits for any open transaction to finish.
func (db *DB) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	select {
	case db.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Tx{db: db, readOnly: opts.AccessMode == pgx.ReadOnly}, nil
}

func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.undo = nil
	<-t.db.sem
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.done = true
	t.undo = nil
	<-t.db.sem
	return nil
}

func (t *Tx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (db *DB) open(tx pgx.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok || t.db != db {
		return nil, fmt.Errorf("memstore: foreign transaction %T", tx)
	}
	if t.done {
		return nil, pgx.ErrTxClosed
	}
	return t, nil
}

func (db *DB) openWrite(tx pgx.Tx) (*Tx, error) {
	t, err := db.open(tx)
	if err != nil {
		return nil, err
	}
	if t.readOnly {
		return nil, errReadOnly
	}
	return t, nil
}

func (db *DB) nextSeq(t *Tx) int64 {
	prev := db.seq
	db.seq++
	t.onRollback(func() { db.seq = prev })
	return db.seq
}

// PutAsset registers or replaces an asset.
func (db *DB) PutAsset(a model.Asset) {
	db.dirMu.Lock()
	defer db.dirMu.Unlock()
	db.assets[a.ID] = a
}

// SetTier records the user's subscription tier.
func (db *DB) SetTier(userID string, tier types.Tier) {
	db.dirMu.Lock()
	defer db.dirMu.Unlock()
	db.tiers[userID] = tier
}

func (db *DB) asset(id string) (model.Asset, bool) {
	db.dirMu.RLock()
	defer db.dirMu.RUnlock()
	a, ok := db.assets[id]
	return a, ok
}
