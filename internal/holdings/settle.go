// Package holdings keeps per-user asset balances and settles trades against them.
package holdings

import (
	"fmt"
	"sort"

	"lv-tradecore/internal/apperr"

	"github.com/shopspring/decimal"
)

// Trade is the balance side of one execution. QuoteAssetID names the cash
// asset the buyer pays in.
type Trade struct {
	BuyerID      string
	SellerID     string
	AssetID      string
	QuoteAssetID string
	Quantity     decimal.Decimal
	Price        decimal.Decimal
}

func (t Trade) Total() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

type Key struct {
	UserID  string
	AssetID string
}

func (k Key) less(o Key) bool {
	if k.UserID != o.UserID {
		return k.UserID < o.UserID
	}
	return k.AssetID < o.AssetID
}

type Delta struct {
	Key
	Amount decimal.Decimal
}

// Deltas returns the balance changes of t merged per holding and sorted by
// key. Callers lock rows in this order so concurrent settlements touching
// the same holdings cannot deadlock.
func (t Trade) Deltas() []Delta {
	total := t.Total()
	raw := []Delta{
		{Key{t.SellerID, t.AssetID}, t.Quantity.Neg()},
		{Key{t.BuyerID, t.AssetID}, t.Quantity},
		{Key{t.BuyerID, t.QuoteAssetID}, total.Neg()},
		{Key{t.SellerID, t.QuoteAssetID}, total},
	}
	merged := make(map[Key]decimal.Decimal, len(raw))
	for _, d := range raw {
		merged[d.Key] = merged[d.Key].Add(d.Amount)
	}
	out := make([]Delta, 0, len(merged))
	for k, amt := range merged {
		out = append(out, Delta{Key: k, Amount: amt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.less(out[j].Key) })
	return out
}

// InsufficientError reports the holding that would have gone negative.
type InsufficientError struct {
	UserID    string
	AssetID   string
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient holdings: user %s asset %s has %s, needs %s", e.UserID, e.AssetID, e.Available, e.Required)
}

func insufficient(k Key, available, required decimal.Decimal) error {
	return apperr.Wrap(apperr.KindBusinessRule, "insufficient holdings", &InsufficientError{
		UserID:    k.UserID,
		AssetID:   k.AssetID,
		Available: available,
		Required:  required,
	}).WithDetail("asset_id", k.AssetID)
}

// Apply returns the balances after deltas, or a BUSINESS_RULE_VIOLATION
// wrapping *InsufficientError when any of them would drop below zero.
// current must hold an entry for every key in deltas; missing keys read as zero.
func Apply(current map[Key]decimal.Decimal, deltas []Delta) (map[Key]decimal.Decimal, error) {
	next := make(map[Key]decimal.Decimal, len(deltas))
	for _, d := range deltas {
		have := current[d.Key]
		after := have.Add(d.Amount)
		if after.IsNegative() {
			return nil, insufficient(d.Key, have, d.Amount.Neg())
		}
		next[d.Key] = after
	}
	return next, nil
}
