// Package store is the Persistence Facade (spec.md §4.6, §6): it maps the
// five entities (Portfolio, Position, Order, Trade, MarginBlock) to gorm
// models and back. Grounded on internal/database/database.go's New()
// (sqlite/postgres selection by connection string, AutoMigrate, Silent
// gorm logger) and its per-entity Save/Get method pairs.
package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// portfolioModel is the gorm row for a Portfolio.
type portfolioModel struct {
	ID             string `gorm:"primaryKey"`
	Name           string
	ProviderTag    string
	InitialBalance decimal.Decimal `gorm:"type:decimal(20,8)"`
	CurrentBalance decimal.Decimal `gorm:"type:decimal(20,8)"`
	Currency       string
	MarginMode     string
	Leverage       int
	CreatedAt      time.Time
}

func (portfolioModel) TableName() string { return "portfolios" }

// positionModel is the gorm row for a Position.
type positionModel struct {
	ID               string `gorm:"primaryKey"`
	PortfolioID      string `gorm:"index"`
	Symbol           string `gorm:"index"`
	Side             string
	EntryPrice       decimal.Decimal `gorm:"type:decimal(20,8)"`
	Quantity         decimal.Decimal `gorm:"type:decimal(20,8)"`
	Leverage         int
	MarginMode       string
	OpenedAt         time.Time
	ClosedAt         *time.Time
	Status           string `gorm:"index"`
	CurrentPrice     decimal.Decimal `gorm:"type:decimal(20,8)"`
	UnrealizedPnL    decimal.Decimal `gorm:"type:decimal(20,8)"`
	RealizedPnL      decimal.Decimal `gorm:"type:decimal(20,8)"`
	LiquidationPrice *decimal.Decimal `gorm:"type:decimal(20,8)"`
	TrailingExtreme  *decimal.Decimal `gorm:"type:decimal(20,8)"`
	TrailingStop     *decimal.Decimal `gorm:"type:decimal(20,8)"`
}

func (positionModel) TableName() string { return "positions" }

// orderModel is the gorm row for an Order.
type orderModel struct {
	ID              string `gorm:"primaryKey"`
	PortfolioID     string `gorm:"index"`
	Symbol          string `gorm:"index"`
	Side            string
	Type            string
	Quantity        decimal.Decimal `gorm:"type:decimal(20,8)"`
	Price           *decimal.Decimal `gorm:"type:decimal(20,8)"`
	StopPrice       *decimal.Decimal `gorm:"type:decimal(20,8)"`
	TimeInForce     string
	PostOnly        bool
	ReduceOnly      bool
	TrailingPercent *decimal.Decimal `gorm:"type:decimal(10,6)"`
	TrailingAmount  *decimal.Decimal `gorm:"type:decimal(20,8)"`
	IcebergQty      *decimal.Decimal `gorm:"type:decimal(20,8)"`
	Leverage        int
	MarginMode      string
	FilledQuantity  decimal.Decimal `gorm:"type:decimal(20,8)"`
	AvgFillPrice    *decimal.Decimal `gorm:"type:decimal(20,8)"`
	Status          string `gorm:"index"`
	CreatedAt       time.Time
	FilledAt        *time.Time
	TrailingExtreme *decimal.Decimal `gorm:"type:decimal(20,8)"`
}

func (orderModel) TableName() string { return "orders" }

// tradeModel is the gorm row for a Trade. Append-only (spec.md §3): no
// update path is exposed by Store.
type tradeModel struct {
	ID          string `gorm:"primaryKey"`
	PortfolioID string `gorm:"index"`
	OrderID     string `gorm:"index"`
	Symbol      string `gorm:"index"`
	Side        string
	Price       decimal.Decimal `gorm:"type:decimal(20,8)"`
	Quantity    decimal.Decimal `gorm:"type:decimal(20,8)"`
	Fee         decimal.Decimal `gorm:"type:decimal(20,8)"`
	FeeRate     decimal.Decimal `gorm:"type:decimal(10,6)"`
	IsMaker     bool
	Timestamp   time.Time `gorm:"index"`
}

func (tradeModel) TableName() string { return "trades" }

// marginBlockModel is the optional audit trail of margin blocked per order
// (spec.md §6: "MarginBlock (optional audit of blocked margin per order)").
type marginBlockModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	OrderID     string `gorm:"index"`
	PortfolioID string `gorm:"index"`
	Symbol      string
	Amount      decimal.Decimal `gorm:"type:decimal(20,8)"`
	CreatedAt   time.Time
	ReleasedAt  *time.Time
}

func (marginBlockModel) TableName() string { return "margin_blocks" }
