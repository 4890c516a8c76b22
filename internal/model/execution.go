package model

import (
	"time"

	"lv-tradecore/internal/types"

	"github.com/shopspring/decimal"
)

// TradeExecution is an append-only record of one match. OrderID is the
// incoming order; both legs are tracked in order_fills.
type TradeExecution struct {
	ID               string                 `json:"id"`
	BuyerID          string                 `json:"buyer_id"`
	SellerID         string                 `json:"seller_id"`
	AssetID          string                 `json:"asset_id"`
	AssetSymbol      string                 `json:"asset_symbol"`
	Quantity         decimal.Decimal        `json:"quantity"`
	Price            decimal.Decimal        `json:"price"`
	TotalValue       decimal.Decimal        `json:"total_value"`
	OrderID          string                 `json:"order_id"`
	SettlementStatus types.SettlementStatus `json:"settlement_status"`
	CreatedAt        time.Time              `json:"created_at"`
	SettledAt        *time.Time             `json:"settled_at,omitempty"`
}

func (e TradeExecution) EventAssetID() string {
	return e.AssetID
}

type NewExecution struct {
	BuyerID     string
	SellerID    string
	AssetID     string
	AssetSymbol string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	OrderID     string
}

// Fill is one order's leg of an execution.
type Fill struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	ExecutionID string          `json:"execution_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	CreatedAt   time.Time       `json:"created_at"`
}
