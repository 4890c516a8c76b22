// Package collab declares the outside capabilities the trading core
// consumes and ships Postgres and log-backed implementations of them.
package collab

import (
	"context"
	"time"

	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"
)

type TierResolver interface {
	ResolveTier(ctx context.Context, userID string) (types.Tier, error)
}

type AssetLookup interface {
	GetAsset(ctx context.Context, assetID string) (model.Asset, error)
}

// Violation is a rejected submission, kept for anomaly detection.
type Violation struct {
	UserID        string
	Kind          string
	Reason        string
	Payload       string
	CorrelationID string
	At            time.Time
}

type SecurityLog interface {
	RecordViolation(ctx context.Context, v Violation) error
}

type AuditEntry struct {
	UserID        string
	Action        string
	EntityID      string
	Attributes    map[string]any
	CorrelationID string
	At            time.Time
}

type AuditLog interface {
	Record(ctx context.Context, e AuditEntry) error
}

const (
	AuditOrderPlaced    = "order.placed"
	AuditOrderCancelled = "order.cancelled"
	AuditOrderExpired   = "order.expired"
	AuditSettlement     = "execution.settlement"
	AuditHoldingCredit  = "holding.credit"
)
