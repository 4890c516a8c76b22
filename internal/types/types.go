package types

import "strings"

type OrderSide string

type OrderType string

type OrderStatus string

type SettlementStatus string

type Tier string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopLoss   OrderType = "stop_loss"
	OrderTypeTakeProfit OrderType = "take_profit"
)

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusExpired         OrderStatus = "expired"
)

const (
	SettlementPending SettlementStatus = "pending"
	SettlementSettled SettlementStatus = "settled"
	SettlementFailed  SettlementStatus = "failed"
)

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// Opposite returns the side a resting order must have to trade against s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStopLoss, OrderTypeTakeProfit:
		return true
	}
	return false
}

// RequiresPrice reports whether orders of this type carry an explicit price.
func (t OrderType) RequiresPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLoss || t == OrderTypeTakeProfit
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusExpired
}

// IsResting reports whether an order in this status sits in the book.
func (s OrderStatus) IsResting() bool {
	return s == OrderStatusPending || s == OrderStatusPartiallyFilled
}

// CanTransitionTo encodes the order lifecycle. Terminal states have no exits
// and a status never moves back to pending.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return next == OrderStatusPartiallyFilled || next == OrderStatusFilled ||
			next == OrderStatusCancelled || next == OrderStatusExpired
	case OrderStatusPartiallyFilled:
		return next == OrderStatusPartiallyFilled || next == OrderStatusFilled ||
			next == OrderStatusCancelled || next == OrderStatusExpired
	}
	return false
}

func (s SettlementStatus) Valid() bool {
	return s == SettlementPending || s == SettlementSettled || s == SettlementFailed
}

var tierRank = map[Tier]int{
	TierFree:       0,
	TierBasic:      1,
	TierPro:        2,
	TierEnterprise: 3,
}

// ParseTier normalizes a tier name. Unknown names report false.
func ParseTier(raw string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := tierRank[t]
	return t, ok
}

// AtLeast reports whether t ranks at or above min. Unknown tiers rank below free.
func (t Tier) AtLeast(min Tier) bool {
	have, ok := tierRank[t]
	if !ok {
		return false
	}
	return have >= tierRank[min]
}
