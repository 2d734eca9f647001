// Package domain holds the core entities of the paper trading engine:
// portfolios, positions, orders, trades, and price snapshots. These are the
// in-memory shapes the matching engine and accountant operate on; they are
// mapped to and from persistence by internal/store.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarginMode controls whether a position's margin is shared across the
// portfolio (cross) or isolated to the position itself.
type MarginMode string

const (
	MarginCross    MarginMode = "cross"
	MarginIsolated MarginMode = "isolated"
)

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// PositionStatus tracks whether a position is still open.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// OrderType enumerates the supported order variants. Each type only ever
// carries the parameters relevant to it (spec.md §9: tagged union, not a
// stringly-typed grab-bag).
type OrderType string

const (
	OrderMarket       OrderType = "market"
	OrderLimit        OrderType = "limit"
	OrderStop         OrderType = "stop"
	OrderStopLimit    OrderType = "stop_limit"
	OrderTrailingStop OrderType = "trailing_stop"
	OrderIceberg      OrderType = "iceberg"
)

// TimeInForce controls how an order behaves when it cannot fill immediately.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
	TIFPO  TimeInForce = "PO"
)

// OrderStatus is the order's position in its state machine (spec.md §4.4).
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderTriggered OrderStatus = "triggered"
	OrderPartial   OrderStatus = "partial"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderRejected  OrderStatus = "rejected"
)

// Terminal reports whether status can no longer transition (spec.md §3,
// "terminal statuses are immutable").
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// Portfolio is a virtual trading account: one balance, many positions and
// orders. current_balance is mutated only by the accountant, always under
// the portfolio lock.
type Portfolio struct {
	ID              string
	Name            string
	ProviderTag     string
	InitialBalance  decimal.Decimal
	CurrentBalance  decimal.Decimal
	Currency        string
	MarginMode      MarginMode
	Leverage        int
	CreatedAt       time.Time
}

// Position is an open or closed directional exposure to a symbol.
type Position struct {
	ID              string
	PortfolioID     string
	Symbol          string
	Side            PositionSide
	EntryPrice      decimal.Decimal
	Quantity        decimal.Decimal
	Leverage        int
	MarginMode      MarginMode
	OpenedAt        time.Time
	ClosedAt        *time.Time
	Status          PositionStatus

	// Derived, recomputed on every tick for the position's symbol.
	CurrentPrice     decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	RealizedPnL      decimal.Decimal
	LiquidationPrice *decimal.Decimal

	// Trailing-stop fields carried and persisted with the position. The
	// monitoring loop keeps trailing state on the Order (TrailingExtreme and
	// StopPrice) and does not write these.
	TrailingExtreme *decimal.Decimal
	TrailingStop    *decimal.Decimal
}

// Key identifies a position slot uniquely within a portfolio (spec.md §3:
// "at most one open position per (portfolio, symbol, side)").
func (p *Position) Key() PositionKey {
	return PositionKey{PortfolioID: p.PortfolioID, Symbol: p.Symbol, Side: p.Side}
}

type PositionKey struct {
	PortfolioID string
	Symbol      string
	Side        PositionSide
}

// Order is a single order in the matching engine's book.
type Order struct {
	ID              string
	PortfolioID     string
	Symbol          string
	Side            OrderSide
	Type            OrderType
	Quantity        decimal.Decimal
	Price           *decimal.Decimal
	StopPrice       *decimal.Decimal
	TimeInForce     TimeInForce
	PostOnly        bool
	ReduceOnly      bool
	TrailingPercent *decimal.Decimal
	TrailingAmount  *decimal.Decimal
	IcebergQty      *decimal.Decimal
	Leverage        int
	MarginMode      MarginMode

	FilledQuantity decimal.Decimal
	AvgFillPrice   *decimal.Decimal
	Status         OrderStatus

	CreatedAt time.Time
	FilledAt  *time.Time

	// Trailing-stop extreme price; the dynamic stop itself is kept in StopPrice.
	TrailingExtreme *decimal.Decimal
}

// Remaining is the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Trade is an append-only fill record.
type Trade struct {
	ID          string
	PortfolioID string
	OrderID     string
	Symbol      string
	Side        OrderSide
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	Fee         decimal.Decimal
	FeeRate     decimal.Decimal
	IsMaker     bool
	Timestamp   time.Time
}

// PriceSnapshot is a point-in-time quote for a symbol. Transient: newest
// wins, nothing is persisted.
type PriceSnapshot struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	Timestamp time.Time
}

// ExecutionReference returns the best available reference price for a side: the ask
// for a buy's expected execution, the bid for a sell's.
func (p PriceSnapshot) ExecutionReference(side OrderSide) decimal.Decimal {
	if side == OrderBuy {
		return p.Ask
	}
	return p.Bid
}
