package orders

import (
	"errors"
	"fmt"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"

	"github.com/shopspring/decimal"
)

// ErrIllegalTransition marks a lifecycle move the state machine forbids.
// Reaching it is a logic error in the caller, never a user mistake.
var ErrIllegalTransition = errors.New("illegal order state transition")

// NextFill returns o as it looks after filling qty. The status becomes
// filled when nothing remains, partially_filled otherwise.
func NextFill(o model.Order, qty decimal.Decimal) (model.Order, error) {
	if !qty.IsPositive() {
		return o, apperr.Internal(fmt.Errorf("%w: fill quantity %s on order %s", ErrIllegalTransition, qty, o.ID))
	}
	if qty.GreaterThan(o.RemainingQuantity) {
		return o, apperr.Internal(fmt.Errorf("%w: fill %s exceeds remaining %s on order %s", ErrIllegalTransition, qty, o.RemainingQuantity, o.ID))
	}
	next := o
	next.RemainingQuantity = o.RemainingQuantity.Sub(qty)
	next.Status = types.OrderStatusPartiallyFilled
	if next.RemainingQuantity.IsZero() {
		next.Status = types.OrderStatusFilled
	}
	if !o.Status.CanTransitionTo(next.Status) {
		return o, apperr.Internal(fmt.Errorf("%w: %s -> %s on order %s", ErrIllegalTransition, o.Status, next.Status, o.ID))
	}
	return next, nil
}

// Transition moves o to a terminal status through an external trigger
// (cancellation or expiry).
func Transition(o model.Order, to types.OrderStatus) (model.Order, error) {
	if to != types.OrderStatusCancelled && to != types.OrderStatusExpired {
		return o, apperr.Internal(fmt.Errorf("%w: %s is not an external transition", ErrIllegalTransition, to))
	}
	if !o.Status.CanTransitionTo(to) {
		return o, apperr.Internal(fmt.Errorf("%w: %s -> %s on order %s", ErrIllegalTransition, o.Status, to, o.ID))
	}
	o.Status = to
	return o, nil
}

// NotCancellable is the user-facing error for cancelling a finished order.
func NotCancellable(o model.Order) *apperr.Error {
	return apperr.BusinessRule(fmt.Sprintf("order is %s and can no longer be cancelled", o.Status)).
		WithDetail("order_id", o.ID)
}
