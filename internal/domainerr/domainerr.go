// Package domainerr holds the tagged error values surfaced by the matching
// engine and accountant (spec.md §7). Each is a struct implementing error so
// callers can type-assert for the fields they need, rather than matching on
// error strings.
package domainerr

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InsufficientFunds is returned by the accountant's funds check and
// surfaces on the order, which becomes rejected.
type InsufficientFunds struct {
	Required  decimal.Decimal
	Available decimal.Decimal
	Currency  string
}

func (e InsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: need %s %s, have %s", e.Required.StringFixed(2), e.Currency, e.Available.StringFixed(2))
}

// InvalidOrder means a required parameter was missing for the order type.
type InvalidOrder struct {
	Reason string
}

func (e InvalidOrder) Error() string { return "invalid order: " + e.Reason }

// ReduceOnlyNoPosition is returned when a reduce-only order has nothing to reduce.
type ReduceOnlyNoPosition struct{}

func (ReduceOnlyNoPosition) Error() string { return "reduce-only order has no position to reduce" }

// ReduceOnlyExceedsPosition is returned when a reduce-only fill would exceed
// the existing position size.
type ReduceOnlyExceedsPosition struct {
	PositionQty decimal.Decimal
	OrderQty    decimal.Decimal
}

func (e ReduceOnlyExceedsPosition) Error() string {
	return fmt.Sprintf("reduce-only order quantity %s exceeds position quantity %s", e.OrderQty, e.PositionQty)
}

// PostOnlyWouldTakeLiquidity is returned when a post-only order would cross the book.
type PostOnlyWouldTakeLiquidity struct{}

func (PostOnlyWouldTakeLiquidity) Error() string { return "post-only order would take liquidity" }

// IocNotFillable is returned when an IOC order cannot fill immediately; the
// order becomes cancelled rather than rejected.
type IocNotFillable struct{}

func (IocNotFillable) Error() string { return "IOC order not immediately fillable" }

// FokNotFillable is returned when a FOK order cannot fill its full quantity immediately.
type FokNotFillable struct{}

func (FokNotFillable) Error() string { return "FOK order not fillable in full" }

// AlreadyFilled is returned by CancelOrder against a filled order.
type AlreadyFilled struct{ OrderID string }

func (e AlreadyFilled) Error() string { return "order " + e.OrderID + " is already filled" }

// AlreadyCancelled is returned by CancelOrder against an already-cancelled
// order; callers treat this as an idempotent no-op, not a hard failure.
type AlreadyCancelled struct{ OrderID string }

func (e AlreadyCancelled) Error() string { return "order " + e.OrderID + " is already cancelled" }

// MarketDataUnavailable is transient: market/immediate-fill orders reject,
// resting orders stay pending and are retried next tick.
type MarketDataUnavailable struct {
	Symbol string
	Cause  error
}

func (e MarketDataUnavailable) Error() string {
	return fmt.Sprintf("market data unavailable for %s: %v", e.Symbol, e.Cause)
}
func (e MarketDataUnavailable) Unwrap() error { return e.Cause }

// PersistenceFailure is fatal to the current operation; in-memory changes
// are rolled back by the caller.
type PersistenceFailure struct {
	Op    string
	Cause error
}

func (e PersistenceFailure) Error() string { return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Cause) }
func (e PersistenceFailure) Unwrap() error { return e.Cause }

// LockTimeout is a warning-only condition: the lock was force-released and
// the caller proceeded as though it had acquired the lock fresh.
type LockTimeout struct {
	Key string
}

func (e LockTimeout) Error() string { return "lock timeout on " + e.Key }

// InvalidInput is returned by the slippage calculator only when side is
// neither buy nor sell.
type InvalidInput struct {
	Reason string
}

func (e InvalidInput) Error() string { return "invalid input: " + e.Reason }
