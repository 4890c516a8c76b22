package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory resolves tiers and assets from Postgres.
type Directory struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// ResolveTier returns free for users with no subscription or a lapsed one.
func (d *Directory) ResolveTier(ctx context.Context, userID string) (types.Tier, error) {
	var raw string
	var expiresAt *time.Time
	err := d.pool.QueryRow(ctx, "select tier, expires_at from subscriptions where user_id = $1", userID).Scan(&raw, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.TierFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve tier: %w", err)
	}
	if expiresAt != nil && !expiresAt.After(d.now()) {
		return types.TierFree, nil
	}
	tier, ok := types.ParseTier(raw)
	if !ok {
		return types.TierFree, nil
	}
	return tier, nil
}

func (d *Directory) GetAsset(ctx context.Context, assetID string) (model.Asset, error) {
	var a model.Asset
	if _, err := uuid.Parse(assetID); err != nil {
		return a, apperr.NotFound("asset not found").WithDetail("asset_id", assetID)
	}
	err := d.pool.QueryRow(ctx, "select id, symbol, status from assets where id = $1", assetID).Scan(&a.ID, &a.Symbol, &a.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, apperr.NotFound("asset not found").WithDetail("asset_id", assetID)
	}
	if err != nil {
		return a, fmt.Errorf("get asset: %w", err)
	}
	return a, nil
}

// EventStore persists audit and security events. Each write is also
// logged so operators see violations without querying the table.
type EventStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewEventStore(pool *pgxpool.Pool, logger *slog.Logger) *EventStore {
	return &EventStore{pool: pool, log: logger}
}

func (s *EventStore) RecordViolation(ctx context.Context, v Violation) error {
	logViolation(s.log, v)
	_, err := s.pool.Exec(ctx, "insert into security_events (user_id, kind, reason, payload, correlation_id, created_at) values ($1,$2,$3,$4,$5,$6)", v.UserID, v.Kind, v.Reason, v.Payload, v.CorrelationID, v.At)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

func (s *EventStore) Record(ctx context.Context, e AuditEntry) error {
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("encode audit attributes: %w", err)
	}
	_, err = s.pool.Exec(ctx, "insert into audit_events (user_id, action, entity_id, attributes, correlation_id, created_at) values ($1,$2,$3,$4,$5,$6)", e.UserID, e.Action, e.EntityID, attrs, e.CorrelationID, e.At)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
