package matching

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/domain"
	"github.com/web3guy0/polybot/internal/domainerr"
	"github.com/web3guy0/polybot/internal/lockmgr"
	"github.com/web3guy0/polybot/internal/metrics"
)

// PlaceOrderRequest carries every field a caller may set; only the fields
// relevant to Type are consulted (spec.md §9: tagged-union intent,
// expressed here as nil-able fields on a single struct, matching the way
// the teacher's own Order/Position structs carry optional fields).
type PlaceOrderRequest struct {
	Symbol          string
	Side            domain.OrderSide
	Type            domain.OrderType
	Quantity        decimal.Decimal
	Price           *decimal.Decimal
	StopPrice       *decimal.Decimal
	TimeInForce     domain.TimeInForce
	PostOnly        bool
	ReduceOnly      bool
	TrailingPercent *decimal.Decimal
	TrailingAmount  *decimal.Decimal
	IcebergQty      *decimal.Decimal
	Leverage        int
	MarginMode      domain.MarginMode
}

// OrderResult is returned by PlaceOrder (spec.md §6).
type OrderResult struct {
	Order     *domain.Order
	Trades    []*domain.Trade
	Available decimal.Decimal
	Err       error
}

// PlaceOrder validates, executes or parks, and persists a new order
// (spec.md §4.4 "Placement protocol").
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceOrderRequest) OrderResult {
	if req.Leverage == 0 {
		req.Leverage = e.cfg.DefaultLeverage
	}
	if req.MarginMode == "" {
		req.MarginMode = e.cfg.DefaultMarginMode
	}
	if req.TimeInForce == "" {
		req.TimeInForce = domain.TIFGTC
	}

	order := &domain.Order{
		ID:              uuid.NewString(),
		PortfolioID:     e.cfg.PortfolioID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Quantity:        req.Quantity,
		Price:           req.Price,
		StopPrice:       req.StopPrice,
		TimeInForce:     req.TimeInForce,
		PostOnly:        req.PostOnly,
		ReduceOnly:      req.ReduceOnly,
		TrailingPercent: req.TrailingPercent,
		TrailingAmount:  req.TrailingAmount,
		IcebergQty:      req.IcebergQty,
		Leverage:        req.Leverage,
		MarginMode:      req.MarginMode,
		Status:          domain.OrderPending,
		CreatedAt:       time.Now(),
	}

	var result OrderResult
	lockErr := e.locks.WithLocks([]lockmgr.Key{
		lockmgr.PortfolioKey(e.cfg.PortfolioID),
		lockmgr.PortfolioSymbolKey(e.cfg.PortfolioID, req.Symbol),
	}, func() error {
		result = e.placeLocked(ctx, order)
		return nil
	})
	if lockErr != nil {
		result.Err = lockErr
	}
	return result
}

// placeLocked runs the placement protocol under the portfolio+symbol locks.
func (e *Engine) placeLocked(ctx context.Context, order *domain.Order) OrderResult {
	metrics.OrdersPlaced.WithLabelValues(order.Symbol, string(order.Type)).Inc()

	if err := validateOrderShape(order); err != nil {
		order.Status = domain.OrderRejected
		e.persistOrderOnly(order)
		metrics.OrdersRejected.WithLabelValues("invalid_order").Inc()
		return OrderResult{Order: order, Err: err}
	}

	snap, err := e.fetchAndCacheSnapshot(ctx, order.Symbol)
	if err != nil {
		order.Status = domain.OrderRejected
		e.persistOrderOnly(order)
		metrics.OrdersRejected.WithLabelValues("market_data_unavailable").Inc()
		return OrderResult{Order: order, Err: domainerr.MarketDataUnavailable{Symbol: order.Symbol, Cause: err}}
	}

	expectedPrice := e.expectedExecutionPrice(order, snap)
	isMaker := order.Type != domain.OrderMarket && order.TimeInForce != domain.TIFFOK && order.TimeInForce != domain.TIFIOC

	e.mu.RLock()
	openPositions := e.openPositionsLocked()
	pendingOrders := e.pendingOrdersLocked()
	e.mu.RUnlock()

	check := e.acct.CheckFunds(e.portfolio, openPositions, pendingOrders, order.Side, order.Quantity, expectedPrice, order.Leverage, isMaker)
	if !check.Sufficient {
		order.Status = domain.OrderRejected
		e.persistOrderOnly(order)
		metrics.OrdersRejected.WithLabelValues("insufficient_funds").Inc()
		return OrderResult{Order: order, Err: domainerr.InsufficientFunds{Required: check.Required, Available: check.Available, Currency: e.portfolio.Currency}}
	}

	switch order.Type {
	case domain.OrderMarket:
		return e.placeMarket(order, snap)
	case domain.OrderLimit, domain.OrderIceberg:
		return e.placeLimit(order, snap)
	case domain.OrderStop, domain.OrderStopLimit:
		return e.placeStop(order)
	case domain.OrderTrailingStop:
		return e.placeTrailingStop(order, snap)
	default:
		order.Status = domain.OrderRejected
		e.persistOrderOnly(order)
		return OrderResult{Order: order, Err: domainerr.InvalidOrder{Reason: "unsupported order type"}}
	}
}

// expectedExecutionPrice picks the reference price used for the funds
// check (spec.md §4.4 step 3): ask for buy, bid for sell, or the limit
// price for a resting limit.
func (e *Engine) expectedExecutionPrice(order *domain.Order, snap domain.PriceSnapshot) decimal.Decimal {
	if order.Price != nil && order.Type != domain.OrderMarket {
		return *order.Price
	}
	return snap.ExecutionReference(order.Side)
}

func (e *Engine) placeMarket(order *domain.Order, snap domain.PriceSnapshot) OrderResult {
	if order.TimeInForce == domain.TIFPO {
		order.Status = domain.OrderRejected
		e.persistOrderOnly(order)
		return OrderResult{Order: order, Err: domainerr.PostOnlyWouldTakeLiquidity{}}
	}

	if e.cfg.SimulatedLatency > 0 {
		time.Sleep(e.cfg.SimulatedLatency)
	}

	reference := snap.ExecutionReference(order.Side)
	execPrice, err := e.slip.Price(order.Symbol, order.Side, order.Quantity, reference)
	if err != nil {
		order.Status = domain.OrderRejected
		e.persistOrderOnly(order)
		return OrderResult{Order: order, Err: err}
	}

	return e.executeFill(order, execPrice, order.Quantity, false)
}

func (e *Engine) placeLimit(order *domain.Order, snap domain.PriceSnapshot) OrderResult {
	fillable := limitImmediatelyFillable(order, snap)

	if order.TimeInForce == domain.TIFPO && fillable {
		order.Status = domain.OrderRejected
		e.persistOrderOnly(order)
		return OrderResult{Order: order, Err: domainerr.PostOnlyWouldTakeLiquidity{}}
	}

	if !fillable {
		switch order.TimeInForce {
		case domain.TIFIOC:
			order.Status = domain.OrderCancelled
			e.persistOrderOnly(order)
			return OrderResult{Order: order, Err: domainerr.IocNotFillable{}}
		case domain.TIFFOK:
			order.Status = domain.OrderCancelled
			e.persistOrderOnly(order)
			return OrderResult{Order: order, Err: domainerr.FokNotFillable{}}
		default: // GTC, PO (not crossing)
			order.Status = domain.OrderPending
			e.persistOrderOnly(order)
			return OrderResult{Order: order}
		}
	}

	execPrice, err := e.slip.LimitPrice(order.Side, *order.Price)
	if err != nil {
		order.Status = domain.OrderRejected
		e.persistOrderOnly(order)
		return OrderResult{Order: order, Err: err}
	}
	return e.executeFill(order, execPrice, order.Quantity, false)
}

// limitImmediatelyFillable implements spec.md §4.4's
// immediately_fillable = (buy ∧ (ask ≤ limit ∨ last ≤ limit)) or its mirror.
func limitImmediatelyFillable(order *domain.Order, snap domain.PriceSnapshot) bool {
	limit := *order.Price
	if order.Side == domain.OrderBuy {
		return snap.Ask.LessThanOrEqual(limit) || snap.Last.LessThanOrEqual(limit)
	}
	return snap.Bid.GreaterThanOrEqual(limit) || snap.Last.GreaterThanOrEqual(limit)
}

func (e *Engine) placeStop(order *domain.Order) OrderResult {
	order.Status = domain.OrderPending
	e.persistOrderOnly(order)
	return OrderResult{Order: order}
}

func (e *Engine) placeTrailingStop(order *domain.Order, snap domain.PriceSnapshot) OrderResult {
	extreme := snap.Last
	order.TrailingExtreme = &extreme
	stop := computeTrailingStop(order, extreme)
	order.StopPrice = &stop
	order.Status = domain.OrderPending
	e.persistOrderOnly(order)
	return OrderResult{Order: order}
}

// computeTrailingStop derives a stop price from an extreme price and the
// order's trailing percent/amount.
func computeTrailingStop(order *domain.Order, extreme decimal.Decimal) decimal.Decimal {
	var distance decimal.Decimal
	if order.TrailingPercent != nil {
		distance = extreme.Mul(*order.TrailingPercent)
	} else {
		distance = *order.TrailingAmount
	}
	if order.Side == domain.OrderSell {
		return extreme.Sub(distance)
	}
	return extreme.Add(distance)
}

// persistOrderOnly commits an order with no accompanying fill (reject,
// park, cancel-on-placement).
func (e *Engine) persistOrderOnly(order *domain.Order) {
	e.mu.Lock()
	e.orders[order.ID] = order
	e.mu.Unlock()

	if err := e.store.SaveOrder(order); err != nil {
		log.Error().Err(err).Str("order", order.ID).Msg("failed to persist order")
	}
}
