package matching

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/accounting"
	"github.com/web3guy0/polybot/internal/domain"
	"github.com/web3guy0/polybot/internal/metrics"
)

// checkLiquidations implements spec.md §4.4 monitoring step 2: liquidate
// any open position at this symbol whose trigger condition now holds.
func (e *Engine) checkLiquidations(symbol string, snap domain.PriceSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, side := range []domain.PositionSide{domain.PositionLong, domain.PositionShort} {
		key := domain.PositionKey{PortfolioID: e.cfg.PortfolioID, Symbol: symbol, Side: side}
		pos, ok := e.positions[key]
		if !ok || pos.Status != domain.PositionOpen {
			continue
		}
		if !accounting.CheckLiquidation(pos, snap.Last) {
			continue
		}

		pnl := accounting.Liquidate(pos, snap.Last, time.Now())
		e.portfolio.CurrentBalance = e.portfolio.CurrentBalance.Add(pnl)
		metrics.Liquidations.WithLabelValues(symbol).Inc()

		log.Warn().
			Str("portfolio", e.cfg.PortfolioID).
			Str("symbol", symbol).
			Str("side", string(side)).
			Str("price", snap.Last.StringFixed(8)).
			Str("pnl", pnl.StringFixed(8)).
			Msg("position liquidated")

		if err := e.store.WithTransaction(func(tx Store) error {
			if err := tx.SavePosition(pos); err != nil {
				return err
			}
			return tx.SavePortfolio(e.portfolio)
		}); err != nil {
			log.Error().Err(err).Msg("failed to persist liquidation")
		}
	}
}

// checkRestingOrders implements spec.md §4.4 monitoring step 3: fill a
// resting limit when its price crosses. A stop_limit order that has
// already triggered behaves identically to a resting limit from here on.
func (e *Engine) checkRestingOrders(symbol string, snap domain.PriceSnapshot) {
	candidates := e.restingOrdersFor(symbol, domain.OrderLimit, domain.OrderIceberg)
	for _, order := range e.triggeredStopLimitsFor(symbol) {
		candidates = append(candidates, order)
	}
	for _, order := range candidates {
		if order.Price == nil {
			continue
		}
		limit := *order.Price
		crosses := (order.Side == domain.OrderBuy && (snap.Ask.LessThanOrEqual(limit) || snap.Last.LessThanOrEqual(limit))) ||
			(order.Side == domain.OrderSell && (snap.Bid.GreaterThanOrEqual(limit) || snap.Last.GreaterThanOrEqual(limit)))
		if !crosses {
			continue
		}
		e.executeFill(order, limit, order.Remaining(), true)
	}
}

// checkStopTriggers implements spec.md §4.4 monitoring step 4: a pending
// stop/stop_limit order triggers when last crosses its stop price. A
// triggered stop fills as a market order next tick; a triggered stop_limit
// becomes a parked limit at its limit price.
func (e *Engine) checkStopTriggers(symbol string, snap domain.PriceSnapshot) {
	for _, order := range e.restingOrdersFor(symbol, domain.OrderStop, domain.OrderStopLimit) {
		if order.Type == domain.OrderStop && order.Status == domain.OrderTriggered {
			if e.cfg.SimulatedLatency > 0 {
				time.Sleep(e.cfg.SimulatedLatency)
			}
			execPrice, err := e.slip.Price(order.Symbol, order.Side, order.Remaining(), snap.ExecutionReference(order.Side))
			if err != nil {
				log.Warn().Err(err).Str("order", order.ID).Msg("stop trigger slippage calc failed")
				continue
			}
			e.executeFill(order, execPrice, order.Remaining(), false)
			continue
		}
		if order.Status != domain.OrderPending || order.StopPrice == nil {
			continue
		}
		if !stopTriggered(order, snap.Last) {
			continue
		}

		// A triggered stop fills at market on the next tick (above).
		// A triggered stop_limit rests as a parked limit at its limit
		// price from now on (spec.md §4.4); checkRestingOrders picks up
		// any order of type stop_limit in the Triggered state.
		order.Status = domain.OrderTriggered
		e.persistOrderOnly(order)
	}
}

func stopTriggered(order *domain.Order, last decimal.Decimal) bool {
	if order.Side == domain.OrderBuy {
		return last.GreaterThanOrEqual(*order.StopPrice)
	}
	return last.LessThanOrEqual(*order.StopPrice)
}

// checkTrailingStops implements spec.md §4.4 monitoring step 5: update the
// extreme price, tighten the stop if the market has moved favorably, then
// check the ordinary stop trigger condition.
func (e *Engine) checkTrailingStops(symbol string, snap domain.PriceSnapshot) {
	for _, order := range e.restingOrdersFor(symbol, domain.OrderTrailingStop) {
		if order.Status != domain.OrderPending || order.TrailingExtreme == nil || order.StopPrice == nil {
			continue
		}

		extreme := *order.TrailingExtreme
		oldStop := *order.StopPrice

		if order.Side == domain.OrderSell {
			if snap.Last.GreaterThan(extreme) {
				extreme = snap.Last
				newStop := computeTrailingStop(order, extreme)
				if newStop.GreaterThan(oldStop) {
					order.StopPrice = &newStop
				}
			}
		} else {
			if snap.Last.LessThan(extreme) {
				extreme = snap.Last
				newStop := computeTrailingStop(order, extreme)
				if newStop.LessThan(oldStop) {
					order.StopPrice = &newStop
				}
			}
		}
		order.TrailingExtreme = &extreme
		e.persistOrderOnly(order)

		if stopTriggered(order, snap.Last) {
			if e.cfg.SimulatedLatency > 0 {
				time.Sleep(e.cfg.SimulatedLatency)
			}
			execPrice, err := e.slip.Price(order.Symbol, order.Side, order.Remaining(), snap.ExecutionReference(order.Side))
			if err != nil {
				log.Warn().Err(err).Str("order", order.ID).Msg("trailing stop slippage calc failed")
				continue
			}
			e.executeFill(order, execPrice, order.Remaining(), false)
		}
	}
}

// repriceOpenPositions implements spec.md §4.4 monitoring step 6.
func (e *Engine) repriceOpenPositions(symbol string, snap domain.PriceSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, side := range []domain.PositionSide{domain.PositionLong, domain.PositionShort} {
		key := domain.PositionKey{PortfolioID: e.cfg.PortfolioID, Symbol: symbol, Side: side}
		if pos, ok := e.positions[key]; ok && pos.Status == domain.PositionOpen {
			accounting.RepriceUnrealized(pos, snap.Last)
		}
	}
}

// triggeredStopLimitsFor returns stop_limit orders that have already
// triggered and now rest as a parked limit.
func (e *Engine) triggeredStopLimitsFor(symbol string) []*domain.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.Order, 0)
	for _, o := range e.orders {
		if o.Symbol == symbol && o.Type == domain.OrderStopLimit && o.Status == domain.OrderTriggered {
			out = append(out, o)
		}
	}
	return out
}

// restingOrdersFor returns a snapshot of this engine's non-terminal orders
// for symbol matching one of the given types.
func (e *Engine) restingOrdersFor(symbol string, types ...domain.OrderType) []*domain.Order {
	wanted := make(map[domain.OrderType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.Order, 0)
	for _, o := range e.orders {
		if o.Symbol != symbol || o.Status.Terminal() || !wanted[o.Type] {
			continue
		}
		out = append(out, o)
	}
	return out
}
