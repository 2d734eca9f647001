// Package accounting implements the Balance & Position Accountant
// (spec.md §4.3): funds checks, post-fill position updates, liquidation
// pricing, and P&L recomputation. It never persists anything itself — the
// matching engine calls it while holding the relevant portfolio/symbol
// locks and is responsible for committing the results.
//
// Grounded on the teacher's internal/risk/manager.go (RiskState bookkeeping)
// and execution/executor.go's Position struct (AvgEntry, UnrealizedPnL),
// generalized to the leveraged-margin math those files don't need.
package accounting

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/domain"
	"github.com/web3guy0/polybot/internal/domainerr"
)

// FeeConfig holds maker/taker fee fractions (spec.md §6: PaperTradingConfig.fees).
type FeeConfig struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// half is used by the maintenance-margin formula (0.5 / leverage).
var half = decimal.NewFromFloat(0.5)

// Accountant computes funds availability and position mutations. It is
// stateless beyond its fee configuration; all ledger state is passed in by
// the caller and mutated in place under the caller's locks.
type Accountant struct {
	fees FeeConfig
}

// New creates an Accountant with the given fee schedule.
func New(fees FeeConfig) *Accountant {
	return &Accountant{fees: fees}
}

// Fees returns the configured fee schedule.
func (a *Accountant) Fees() FeeConfig { return a.fees }

// FundsCheck is the result of an available-funds check. It never mutates
// state (spec.md §4.3).
type FundsCheck struct {
	Sufficient bool
	Required   decimal.Decimal
	Available  decimal.Decimal
	Reason     string
}

// Available computes the spendable balance: current cash minus the initial
// margin locked in open positions minus the expected fees of resting
// orders (spec.md §3 Portfolio invariant).
func Available(portfolio *domain.Portfolio, openPositions []*domain.Position, pendingOrders []*domain.Order, fees FeeConfig) decimal.Decimal {
	available := portfolio.CurrentBalance

	for _, pos := range openPositions {
		if pos.Status != domain.PositionOpen {
			continue
		}
		notional := pos.Quantity.Mul(pos.EntryPrice)
		leverage := decimal.NewFromInt(int64(maxInt(pos.Leverage, 1)))
		available = available.Sub(notional.Div(leverage))
	}

	for _, ord := range pendingOrders {
		if ord.Status.Terminal() {
			continue
		}
		price := ord.Price
		if price == nil {
			continue // market orders don't rest; no expected fee to reserve
		}
		remaining := ord.Remaining()
		notional := remaining.Mul(*price)
		rate := fees.Maker
		available = available.Sub(notional.Mul(rate))
	}

	return available
}

// CheckFunds validates that the portfolio has enough available balance for
// a prospective order at the given expected execution price (spec.md
// §4.4 step 3: ask for buy, bid for sell, or the limit price for a resting
// limit).
func (a *Accountant) CheckFunds(portfolio *domain.Portfolio, openPositions []*domain.Position, pendingOrders []*domain.Order, side domain.OrderSide, quantity, expectedPrice decimal.Decimal, leverage int, isMaker bool) FundsCheck {
	available := Available(portfolio, openPositions, pendingOrders, a.fees)

	notional := quantity.Mul(expectedPrice)
	rate := a.fees.Taker
	if isMaker {
		rate = a.fees.Maker
	}
	fee := notional.Mul(rate)

	lev := decimal.NewFromInt(int64(maxInt(leverage, 1)))
	required := notional.Div(lev).Add(fee)

	check := FundsCheck{
		Required:  required,
		Available: available,
	}
	if available.GreaterThanOrEqual(required) {
		check.Sufficient = true
	} else {
		check.Reason = "available balance below required margin and fees"
	}
	return check
}

// FillRequest describes one execution against a portfolio's book for a symbol.
type FillRequest struct {
	PortfolioID string
	Symbol      string
	Side        domain.OrderSide
	FillPrice   decimal.Decimal
	FillQty     decimal.Decimal
	Leverage    int
	MarginMode  domain.MarginMode
	ReduceOnly  bool
	EntryFeeRate decimal.Decimal
	ExitFeeRate  decimal.Decimal
	Now         time.Time
}

// FillResult reports what the post-fill update did, for the caller to
// persist and to apply to the portfolio balance.
type FillResult struct {
	RealizedPnLDelta decimal.Decimal
	ClosedPosition   *domain.Position // non-nil when an existing position was fully closed
	UpdatedPosition  *domain.Position // the position left open after the fill, if any
	OpenedPosition   *domain.Position // a freshly-opened position from excess quantity, if any
}

// positionSideFor returns the position direction an order side creates or augments.
func positionSideFor(side domain.OrderSide) domain.PositionSide {
	if side == domain.OrderBuy {
		return domain.PositionLong
	}
	return domain.PositionShort
}

// oppositeSideFor returns the position direction an order side reduces
// (spec.md §4.3: "opposite position-side (long for sell, short for buy)").
func oppositeSideFor(side domain.OrderSide) domain.PositionSide {
	if side == domain.OrderBuy {
		return domain.PositionShort
	}
	return domain.PositionLong
}

// ApplyFill performs the post-fill position update of spec.md §4.3 against
// the given position map, keyed by domain.PositionKey, for the (portfolio,
// symbol) whose lock the caller already holds. It mutates positions in
// place and returns the realized P&L delta to be applied to the portfolio
// balance (fees are handled separately by the caller).
func (a *Accountant) ApplyFill(positions map[domain.PositionKey]*domain.Position, req FillRequest) (*FillResult, error) {
	oppositeKey := domain.PositionKey{PortfolioID: req.PortfolioID, Symbol: req.Symbol, Side: oppositeSideFor(req.Side)}
	sameKey := domain.PositionKey{PortfolioID: req.PortfolioID, Symbol: req.Symbol, Side: positionSideFor(req.Side)}

	if opposite, ok := positions[oppositeKey]; ok && opposite.Status == domain.PositionOpen {
		return a.reduceOrFlip(positions, opposite, oppositeKey, sameKey, req)
	}

	if req.ReduceOnly {
		return nil, domainerr.ReduceOnlyNoPosition{}
	}

	if same, ok := positions[sameKey]; ok && same.Status == domain.PositionOpen {
		a.augment(same, req)
		return &FillResult{UpdatedPosition: same}, nil
	}

	pos := &domain.Position{
		ID:          newPositionID(),
		PortfolioID: req.PortfolioID,
		Symbol:      req.Symbol,
		Side:        positionSideFor(req.Side),
		EntryPrice:  req.FillPrice,
		Quantity:    req.FillQty,
		Leverage:    maxInt(req.Leverage, 1),
		MarginMode:  req.MarginMode,
		OpenedAt:    req.Now,
		Status:      domain.PositionOpen,
	}
	pos.LiquidationPrice = LiquidationPrice(pos.EntryPrice, pos.Quantity, pos.Leverage, pos.Side, req.EntryFeeRate, req.ExitFeeRate)
	positions[sameKey] = pos
	return &FillResult{OpenedPosition: pos}, nil
}

// reduceOrFlip reduces an existing opposite-side position by the fill, and
// if the fill exceeds the position, closes it and opens a fresh position
// in the order's own direction with the excess quantity.
func (a *Accountant) reduceOrFlip(positions map[domain.PositionKey]*domain.Position, existing *domain.Position, oppositeKey, sameKey domain.PositionKey, req FillRequest) (*FillResult, error) {
	if req.ReduceOnly && req.FillQty.GreaterThan(existing.Quantity) {
		return nil, domainerr.ReduceOnlyExceedsPosition{PositionQty: existing.Quantity, OrderQty: req.FillQty}
	}

	reduceQty := decimal.Min(req.FillQty, existing.Quantity)

	var pnlDelta decimal.Decimal
	if existing.Side == domain.PositionLong {
		pnlDelta = req.FillPrice.Sub(existing.EntryPrice).Mul(reduceQty)
	} else {
		pnlDelta = existing.EntryPrice.Sub(req.FillPrice).Mul(reduceQty)
	}
	existing.RealizedPnL = existing.RealizedPnL.Add(pnlDelta)

	result := &FillResult{RealizedPnLDelta: pnlDelta}

	remainingPosQty := existing.Quantity.Sub(reduceQty)
	if remainingPosQty.IsZero() {
		now := req.Now
		existing.Quantity = decimal.Zero
		existing.Status = domain.PositionClosed
		existing.ClosedAt = &now
		delete(positions, oppositeKey)
		result.ClosedPosition = existing
	} else {
		existing.Quantity = remainingPosQty
		existing.LiquidationPrice = LiquidationPrice(existing.EntryPrice, existing.Quantity, existing.Leverage, existing.Side, req.EntryFeeRate, req.ExitFeeRate)
		result.UpdatedPosition = existing
	}

	excess := req.FillQty.Sub(reduceQty)
	if excess.GreaterThan(decimal.Zero) {
		if req.ReduceOnly {
			return nil, domainerr.ReduceOnlyExceedsPosition{PositionQty: existing.Quantity.Add(reduceQty), OrderQty: req.FillQty}
		}
		fresh := &domain.Position{
			ID:          newPositionID(),
			PortfolioID: req.PortfolioID,
			Symbol:      req.Symbol,
			Side:        positionSideFor(req.Side),
			EntryPrice:  req.FillPrice,
			Quantity:    excess,
			Leverage:    maxInt(req.Leverage, 1),
			MarginMode:  req.MarginMode,
			OpenedAt:    req.Now,
			Status:      domain.PositionOpen,
		}
		fresh.LiquidationPrice = LiquidationPrice(fresh.EntryPrice, fresh.Quantity, fresh.Leverage, fresh.Side, req.EntryFeeRate, req.ExitFeeRate)
		positions[sameKey] = fresh
		result.OpenedPosition = fresh
	}

	return result, nil
}

// augment volume-weight-averages the fill into an existing same-side
// position (spec.md §4.3 step 2). Fees are excluded from entry price: they
// are debited from cash at fill time (SPEC_FULL.md §9 open-question
// resolution, matching spec.md's own chosen stance).
func (a *Accountant) augment(pos *domain.Position, req FillRequest) {
	oldNotional := pos.EntryPrice.Mul(pos.Quantity)
	newNotional := req.FillPrice.Mul(req.FillQty)
	totalQty := pos.Quantity.Add(req.FillQty)

	if totalQty.GreaterThan(decimal.Zero) {
		pos.EntryPrice = oldNotional.Add(newNotional).Div(totalQty)
	}
	pos.Quantity = totalQty
	pos.LiquidationPrice = LiquidationPrice(pos.EntryPrice, pos.Quantity, pos.Leverage, pos.Side, req.EntryFeeRate, req.ExitFeeRate)
}

// LiquidationPrice implements the spec.md §4.3 formula. Defined only when
// leverage > 1; returns nil for leverage == 1 or degenerate inputs.
func LiquidationPrice(entryPrice, quantity decimal.Decimal, leverage int, side domain.PositionSide, entryFeeRate, exitFeeRate decimal.Decimal) *decimal.Decimal {
	if leverage <= 1 {
		return nil
	}
	if quantity.LessThanOrEqual(decimal.Zero) || entryPrice.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	lev := decimal.NewFromInt(int64(leverage))
	notional := entryPrice.Mul(quantity)
	initialMargin := notional.Div(lev)
	effectiveMargin := initialMargin.Sub(notional.Mul(entryFeeRate))
	maintMargin := notional.Mul(half.Div(lev))
	maxLoss := effectiveMargin.Sub(maintMargin).Sub(notional.Mul(exitFeeRate))

	delta := maxLoss.Div(quantity)
	var liq decimal.Decimal
	if side == domain.PositionLong {
		liq = entryPrice.Sub(delta)
	} else {
		liq = entryPrice.Add(delta)
	}
	return &liq
}

// CheckLiquidation reports whether the given price triggers liquidation of
// the position (spec.md §4.3).
func CheckLiquidation(pos *domain.Position, price decimal.Decimal) bool {
	if pos.LiquidationPrice == nil || pos.Status != domain.PositionOpen {
		return false
	}
	if pos.Side == domain.PositionLong {
		return price.LessThanOrEqual(*pos.LiquidationPrice)
	}
	return price.GreaterThanOrEqual(*pos.LiquidationPrice)
}

// Liquidate closes the position at the triggering price, recording the
// loss as realized P&L. Returns the realized P&L delta to apply to the
// portfolio balance.
func Liquidate(pos *domain.Position, triggerPrice decimal.Decimal, now time.Time) decimal.Decimal {
	var pnl decimal.Decimal
	if pos.Side == domain.PositionLong {
		pnl = triggerPrice.Sub(pos.EntryPrice).Mul(pos.Quantity)
	} else {
		pnl = pos.EntryPrice.Sub(triggerPrice).Mul(pos.Quantity)
	}
	pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
	pos.Quantity = decimal.Zero
	pos.Status = domain.PositionClosed
	pos.ClosedAt = &now
	pos.CurrentPrice = triggerPrice
	return pnl
}

// RepriceUnrealized recomputes unrealized P&L for a newer observed price
// (spec.md §4.3: "recomputed whenever a newer price for the position's
// symbol is observed").
func RepriceUnrealized(pos *domain.Position, price decimal.Decimal) {
	if pos.Status != domain.PositionOpen {
		return
	}
	pos.CurrentPrice = price
	if pos.Side == domain.PositionLong {
		pos.UnrealizedPnL = price.Sub(pos.EntryPrice).Mul(pos.Quantity)
	} else {
		pos.UnrealizedPnL = pos.EntryPrice.Sub(price).Mul(pos.Quantity)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
