package executions

import (
	"testing"
	"time"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_TotalValue(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e, err := Build(model.NewExecution{
		BuyerID:  "buyer",
		SellerID: "seller",
		AssetID:  "asset",
		Quantity: decimal.RequireFromString("50"),
		Price:    decimal.RequireFromString("150.25"),
		OrderID:  "order",
	}, now)
	require.NoError(t, err)
	assert.True(t, e.TotalValue.Equal(decimal.RequireFromString("7512.5")), "total = %s", e.TotalValue)
	assert.Equal(t, types.SettlementPending, e.SettlementStatus)
	assert.Equal(t, now, e.CreatedAt)
	assert.Nil(t, e.SettledAt)
}

func TestBuild_RejectsNonPositive(t *testing.T) {
	_, err := Build(model.NewExecution{BuyerID: "b", SellerID: "s", OrderID: "o", Quantity: decimal.Zero, Price: decimal.NewFromInt(1)}, time.Now())
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestSettle(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	pending := model.TradeExecution{ID: "e-1", SettlementStatus: types.SettlementPending}
	settled := model.TradeExecution{ID: "e-1", SettlementStatus: types.SettlementSettled}

	tests := []struct {
		name        string
		from        model.TradeExecution
		to          types.SettlementStatus
		wantStatus  types.SettlementStatus
		wantChanged bool
		wantKind    apperr.Kind
		wantErr     bool
	}{
		{"pending to settled", pending, types.SettlementSettled, types.SettlementSettled, true, 0, false},
		{"pending to failed", pending, types.SettlementFailed, types.SettlementFailed, true, 0, false},
		{"repeat settled", settled, types.SettlementSettled, types.SettlementSettled, false, 0, false},
		{"settled to failed", settled, types.SettlementFailed, "", false, apperr.KindBusinessRule, true},
		{"back to pending", settled, types.SettlementPending, "", false, apperr.KindValidation, true},
		{"unknown status", pending, "cleared", "", false, apperr.KindValidation, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed, err := Settle(tt.from, tt.to, now)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantChanged, changed)
			assert.Equal(t, tt.wantStatus, got.SettlementStatus)
			if changed {
				require.NotNil(t, got.SettledAt)
				assert.Equal(t, now, *got.SettledAt)
			}
		})
	}
}
