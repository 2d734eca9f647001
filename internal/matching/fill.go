package matching

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/accounting"
	"github.com/web3guy0/polybot/internal/domain"
	"github.com/web3guy0/polybot/internal/metrics"
)

// executeFill performs one fill against order: books a trade, updates the
// position via the accountant, debits the fee, and advances the order's
// state machine (spec.md §4.4 "Fill mechanics"). The whole unit — order,
// position(s), balance, trade — is committed atomically (spec.md §6).
func (e *Engine) executeFill(order *domain.Order, price, qty decimal.Decimal, isMaker bool) OrderResult {
	liquidity := "taker"
	if isMaker {
		liquidity = "maker"
	}
	metrics.Fills.WithLabelValues(order.Symbol, liquidity).Inc()

	fees := e.acct.Fees()
	rate := fees.Taker
	if isMaker {
		rate = fees.Maker
	}
	fee := qty.Mul(price).Mul(rate)

	now := time.Now()
	trade := &domain.Trade{
		ID:          uuid.NewString(),
		PortfolioID: e.cfg.PortfolioID,
		OrderID:     order.ID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Price:       price,
		Quantity:    qty,
		Fee:         fee,
		FeeRate:     rate,
		IsMaker:     isMaker,
		Timestamp:   now,
	}

	e.mu.Lock()
	fillResult, err := e.acct.ApplyFill(e.positions, accounting.FillRequest{
		PortfolioID:  e.cfg.PortfolioID,
		Symbol:       order.Symbol,
		Side:         order.Side,
		FillPrice:    price,
		FillQty:      qty,
		Leverage:     order.Leverage,
		MarginMode:   order.MarginMode,
		ReduceOnly:   order.ReduceOnly,
		EntryFeeRate: e.cfg.EntryFeeRate,
		ExitFeeRate:  e.cfg.ExitFeeRate,
		Now:          now,
	})
	if err != nil {
		e.mu.Unlock()
		order.Status = domain.OrderRejected
		e.persistOrderOnly(order)
		return OrderResult{Order: order, Err: err}
	}

	e.portfolio.CurrentBalance = e.portfolio.CurrentBalance.Add(fillResult.RealizedPnLDelta).Sub(fee)

	avg := weightedAvgFillPrice(order, price, qty)
	order.AvgFillPrice = &avg
	order.FilledQuantity = order.FilledQuantity.Add(qty)
	if order.FilledQuantity.GreaterThanOrEqual(order.Quantity) {
		order.Status = domain.OrderFilled
		order.FilledAt = &now
	} else {
		order.Status = domain.OrderPartial
	}
	e.orders[order.ID] = order

	available := accounting.Available(e.portfolio, e.openPositionsLocked(), e.pendingOrdersLocked(), fees)
	e.mu.Unlock()

	if err := e.persistFillAtomic(order, fillResult, trade); err != nil {
		log.Error().Err(err).Str("order", order.ID).Msg("failed to persist fill")
		return OrderResult{Order: order, Trades: []*domain.Trade{trade}, Available: available, Err: err}
	}

	return OrderResult{Order: order, Trades: []*domain.Trade{trade}, Available: available}
}

// weightedAvgFillPrice folds a new fill into the order's running average
// fill price.
func weightedAvgFillPrice(order *domain.Order, price, qty decimal.Decimal) decimal.Decimal {
	priorQty := order.FilledQuantity
	priorAvg := decimal.Zero
	if order.AvgFillPrice != nil {
		priorAvg = *order.AvgFillPrice
	}
	totalQty := priorQty.Add(qty)
	if totalQty.IsZero() {
		return price
	}
	return priorAvg.Mul(priorQty).Add(price.Mul(qty)).Div(totalQty)
}

// persistFillAtomic commits the portfolio, any touched positions, the
// order, and the trade in one transaction (spec.md §6).
func (e *Engine) persistFillAtomic(order *domain.Order, fillResult *accounting.FillResult, trade *domain.Trade) error {
	return e.store.WithTransaction(func(tx Store) error {
		if err := tx.SavePortfolio(e.portfolio); err != nil {
			return err
		}
		if err := tx.SaveOrder(order); err != nil {
			return err
		}
		if err := tx.SaveTrade(trade); err != nil {
			return err
		}
		for _, pos := range []*domain.Position{fillResult.ClosedPosition, fillResult.UpdatedPosition, fillResult.OpenedPosition} {
			if pos == nil {
				continue
			}
			if err := tx.SavePosition(pos); err != nil {
				return err
			}
		}
		return nil
	})
}
