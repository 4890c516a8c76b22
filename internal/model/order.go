package model

import (
	"time"

	"lv-tradecore/internal/types"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	AssetID           string            `json:"asset_id"`
	AssetSymbol       string            `json:"asset_symbol"`
	Type              types.OrderType   `json:"order_type"`
	Side              types.OrderSide   `json:"side"`
	Status            types.OrderStatus `json:"status"`
	Price             *decimal.Decimal  `json:"price"`
	Quantity          decimal.Decimal   `json:"quantity"`
	RemainingQuantity decimal.Decimal   `json:"remaining_quantity"`
	ExpiresAt         *time.Time        `json:"expires_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	// Seq is the insertion sequence; it breaks created_at ties in the book.
	Seq int64 `json:"-"`
}

// BookPosition is an order's place in time priority.
type BookPosition struct {
	CreatedAt time.Time
	Seq       int64
}

func (o Order) Position() BookPosition {
	return BookPosition{CreatedAt: o.CreatedAt, Seq: o.Seq}
}

// After reports whether p comes later than q in time priority.
func (p BookPosition) After(q BookPosition) bool {
	if !p.CreatedAt.Equal(q.CreatedAt) {
		return p.CreatedAt.After(q.CreatedAt)
	}
	return p.Seq > q.Seq
}

// OrderRequest is a validated order proposal, ready to be inserted.
type OrderRequest struct {
	UserID    string
	AssetID   string
	Type      types.OrderType
	Side      types.OrderSide
	Quantity  decimal.Decimal
	Price     *decimal.Decimal
	ExpiresAt *time.Time
}

func (o Order) FilledQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.RemainingQuantity)
}

// Matchable reports whether the order can take part in a match at now.
func (o Order) Matchable(now time.Time) bool {
	if !o.Status.IsResting() || !o.RemainingQuantity.IsPositive() {
		return false
	}
	return o.ExpiresAt == nil || o.ExpiresAt.After(now)
}
