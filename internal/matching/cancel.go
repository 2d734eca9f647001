package matching

import (
	"context"

	"github.com/web3guy0/polybot/internal/domain"
	"github.com/web3guy0/polybot/internal/domainerr"
	"github.com/web3guy0/polybot/internal/lockmgr"
)

// CancelOrder transitions order to cancelled if it is non-terminal.
// Cancelling an already-filled order fails with AlreadyFilled; cancelling
// an already-cancelled order is an idempotent no-op that still surfaces
// AlreadyCancelled (spec.md §6, §7, testable property 8).
func (e *Engine) CancelOrder(orderID string) (*domain.Order, error) {
	e.mu.RLock()
	order, ok := e.orders[orderID]
	e.mu.RUnlock()
	if !ok {
		return nil, domainerr.InvalidOrder{Reason: "unknown order " + orderID}
	}

	var result *domain.Order
	var resultErr error

	lockErr := e.locks.WithLocks([]lockmgr.Key{
		lockmgr.PortfolioKey(e.cfg.PortfolioID),
		lockmgr.PortfolioSymbolKey(e.cfg.PortfolioID, order.Symbol),
		lockmgr.OrderKey(orderID),
	}, func() error {
		result, resultErr = e.cancelLocked(order)
		return nil
	})
	if lockErr != nil {
		return order, lockErr
	}
	return result, resultErr
}

func (e *Engine) cancelLocked(order *domain.Order) (*domain.Order, error) {
	switch order.Status {
	case domain.OrderFilled:
		return order, domainerr.AlreadyFilled{OrderID: order.ID}
	case domain.OrderCancelled:
		return order, domainerr.AlreadyCancelled{OrderID: order.ID}
	case domain.OrderRejected:
		return order, domainerr.AlreadyCancelled{OrderID: order.ID}
	}

	order.Status = domain.OrderCancelled
	e.mu.Lock()
	e.orders[order.ID] = order
	e.mu.Unlock()

	if err := e.store.SaveOrder(order); err != nil {
		return order, domainerr.PersistenceFailure{Op: "cancel_order", Cause: err}
	}
	return order, nil
}

// CancelAllOrders cancels every non-terminal order, optionally restricted
// to one symbol (spec.md §6).
func (e *Engine) CancelAllOrders(symbol string) []*domain.Order {
	e.mu.RLock()
	targets := make([]*domain.Order, 0)
	for _, o := range e.orders {
		if o.Status.Terminal() {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		targets = append(targets, o)
	}
	e.mu.RUnlock()

	out := make([]*domain.Order, 0, len(targets))
	for _, o := range targets {
		cancelled, _ := e.CancelOrder(o.ID)
		if cancelled != nil {
			out = append(out, cancelled)
		}
	}
	return out
}

// EditOrder atomically replaces order orderID: the replacement is placed
// first, and the original is only cancelled once the replacement succeeds
// (spec.md §6: "create replacement first; only cancel original if
// replacement succeeds").
func (e *Engine) EditOrder(ctx context.Context, orderID string, req PlaceOrderRequest) OrderResult {
	e.mu.RLock()
	original, ok := e.orders[orderID]
	e.mu.RUnlock()
	if !ok {
		return OrderResult{Err: domainerr.InvalidOrder{Reason: "unknown order " + orderID}}
	}
	if original.Status.Terminal() {
		return OrderResult{Order: original, Err: domainerr.AlreadyFilled{OrderID: orderID}}
	}

	result := e.PlaceOrder(ctx, req)
	if result.Err != nil {
		return result
	}

	if _, err := e.CancelOrder(orderID); err != nil {
		if _, isAlreadyTerminal := err.(domainerr.AlreadyCancelled); !isAlreadyTerminal {
			result.Err = err
		}
	}
	return result
}
