package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Holding struct {
	UserID    string          `json:"user_id"`
	AssetID   string          `json:"asset_id"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Asset struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Status string `json:"status"`
}

const AssetStatusActive = "active"

func (a Asset) IsActive() bool {
	return a.Status == AssetStatusActive
}
