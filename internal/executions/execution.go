package executions

import (
	"time"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"
)

// Build derives the stored form of an execution. TotalValue is always
// Quantity * Price.
func Build(in model.NewExecution, now time.Time) (model.TradeExecution, error) {
	if !in.Quantity.IsPositive() || !in.Price.IsPositive() {
		return model.TradeExecution{}, apperr.Validation("execution quantity and price must be positive")
	}
	if in.BuyerID == "" || in.SellerID == "" || in.OrderID == "" {
		return model.TradeExecution{}, apperr.Validation("execution requires buyer, seller and order")
	}
	return model.TradeExecution{
		BuyerID:          in.BuyerID,
		SellerID:         in.SellerID,
		AssetID:          in.AssetID,
		AssetSymbol:      in.AssetSymbol,
		Quantity:         in.Quantity,
		Price:            in.Price,
		TotalValue:       in.Quantity.Mul(in.Price),
		OrderID:          in.OrderID,
		SettlementStatus: types.SettlementPending,
		CreatedAt:        now,
	}, nil
}

// Settle applies a settlement transition. changed is false when e already
// has status to.
func Settle(e model.TradeExecution, to types.SettlementStatus, now time.Time) (model.TradeExecution, bool, error) {
	if !to.Valid() || to == types.SettlementPending {
		if to == e.SettlementStatus {
			return e, false, nil
		}
		return e, false, apperr.Validationf("invalid settlement status %q", to)
	}
	if e.SettlementStatus == to {
		return e, false, nil
	}
	if e.SettlementStatus != types.SettlementPending {
		return e, false, apperr.BusinessRule("execution is already " + string(e.SettlementStatus)).WithDetail("execution_id", e.ID)
	}
	e.SettlementStatus = to
	at := now
	e.SettledAt = &at
	return e, true, nil
}
