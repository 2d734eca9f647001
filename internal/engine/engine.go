// Package engine is the top-level orchestrator: it wires the lock manager,
// slippage model, accountant, price cache, market data provider, and store
// into one matching.Engine per portfolio, and adds the statistics
// calculator on top (spec.md §4.8). Grounded on core/engine.go's
// "construct every layer, hand them to the next layer" shape, generalized
// from a single global engine to one instance per portfolio, and on
// cmd/main.go's LAYER comments for the wiring order.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polybot/internal/accounting"
	"github.com/web3guy0/polybot/internal/config"
	"github.com/web3guy0/polybot/internal/domain"
	"github.com/web3guy0/polybot/internal/lockmgr"
	"github.com/web3guy0/polybot/internal/marketdata"
	"github.com/web3guy0/polybot/internal/matching"
	"github.com/web3guy0/polybot/internal/pricecache"
	"github.com/web3guy0/polybot/internal/slippage"
	"github.com/web3guy0/polybot/internal/stats"
	"github.com/web3guy0/polybot/internal/store"
)

// Engine is the consumer-facing surface (spec.md §6): every operation a
// caller (CLI, Telegram, future HTTP layer) needs is exposed here, backed
// by matching.Engine plus the read-only statistics calculator.
type Engine struct {
	matching *matching.Engine
	locks    *lockmgr.Manager
	store    *store.Store
	cfg      config.Config
}

// New builds every layer of one portfolio's engine and loads its
// persisted state (spec.md §5 "Startup").
func New(cfg config.Config, market marketdata.Provider) (*Engine, error) {
	db, err := store.New(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}

	portfolio, err := db.LoadPortfolio(cfg.PortfolioID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		portfolio = &domain.Portfolio{
			ID:             cfg.PortfolioID,
			Name:           cfg.PortfolioName,
			ProviderTag:    cfg.ProviderTag,
			InitialBalance: cfg.InitialBalance,
			CurrentBalance: cfg.InitialBalance,
			Currency:       cfg.Currency,
			MarginMode:     cfg.DefaultMarginMode,
			Leverage:       cfg.DefaultLeverage,
		}
		if err := db.SavePortfolio(portfolio); err != nil {
			return nil, fmt.Errorf("engine: create portfolio: %w", err)
		}
		log.Info().Str("portfolio", portfolio.ID).Str("balance", portfolio.InitialBalance.StringFixed(2)).Msg("paper trading portfolio created")
	case err != nil:
		// A genuine store failure (e.g. a dropped connection) must not be
		// mistaken for "no portfolio yet" — that would silently wipe a real
		// portfolio's balance and history under a fresh default one.
		return nil, fmt.Errorf("engine: load portfolio: %w", err)
	default:
		log.Info().Str("portfolio", portfolio.ID).Str("balance", portfolio.CurrentBalance.StringFixed(2)).Msg("paper trading portfolio loaded")
	}

	locks := lockmgr.New(cfg.LockTimeout)

	slip := slippage.New(slippage.Config{
		Model:            cfg.SlippageModel,
		BaseSlippage:     cfg.SlippageBase,
		LimitComponent:   cfg.SlippageLimitComponent,
		SizeImpactFactor: cfg.SlippageSizeImpactFactor,
		VolMultiplier:    cfg.SlippageVolMultiplier,
	})

	cache := pricecache.New(cfg.AssetClass, pricecache.DefaultCapacity, slip)

	acct := accounting.New(accounting.FeeConfig{
		Maker: cfg.MakerFeeRate,
		Taker: cfg.TakerFeeRate,
	})

	me, err := matching.New(matching.Config{
		PortfolioID:       cfg.PortfolioID,
		PortfolioName:     cfg.PortfolioName,
		ProviderTag:       cfg.ProviderTag,
		DefaultLeverage:   cfg.DefaultLeverage,
		DefaultMarginMode: cfg.DefaultMarginMode,
		SimulatedLatency:  cfg.SimulatedLatency,
		PricePollInterval: cfg.PricePollInterval,
		EntryFeeRate:      cfg.EntryFeeRate,
		ExitFeeRate:       cfg.ExitFeeRate,
	}, locks, market, cache, slip, acct, db, portfolio)
	if err != nil {
		return nil, fmt.Errorf("engine: construct matching engine: %w", err)
	}

	return &Engine{matching: me, locks: locks, store: db, cfg: cfg}, nil
}

// Start begins the monitoring loop.
func (e *Engine) Start(ctx context.Context) { e.matching.Start(ctx) }

// Stop halts the monitoring loop.
func (e *Engine) Stop() { e.matching.Stop() }

// PlaceOrder places an order (spec.md §6 place_order).
func (e *Engine) PlaceOrder(ctx context.Context, req matching.PlaceOrderRequest) matching.OrderResult {
	return e.matching.PlaceOrder(ctx, req)
}

// CancelOrder cancels a single order (spec.md §6 cancel_order).
func (e *Engine) CancelOrder(orderID string) (*domain.Order, error) {
	return e.matching.CancelOrder(orderID)
}

// CancelAllOrders cancels every non-terminal order, optionally filtered to
// one symbol (spec.md §6 cancel_all_orders).
func (e *Engine) CancelAllOrders(symbol string) []*domain.Order {
	return e.matching.CancelAllOrders(symbol)
}

// EditOrder replaces an order's parameters (spec.md §6 edit_order).
func (e *Engine) EditOrder(ctx context.Context, orderID string, req matching.PlaceOrderRequest) matching.OrderResult {
	return e.matching.EditOrder(ctx, orderID, req)
}

// FetchBalance returns the free/used/total balance breakdown (spec.md §6 fetch_balance).
func (e *Engine) FetchBalance() matching.Balance {
	return e.matching.FetchBalance()
}

// FetchPositions returns positions, optionally filtered to symbols (spec.md §6 fetch_positions).
func (e *Engine) FetchPositions(ctx context.Context, symbols []string) []*domain.Position {
	return e.matching.FetchPositions(ctx, symbols)
}

// FetchOrders returns orders, optionally filtered by status (spec.md §6 fetch_orders).
func (e *Engine) FetchOrders(status *domain.OrderStatus) []*domain.Order {
	return e.matching.FetchOrders(status)
}

// FetchTrades returns the most recent trades (spec.md §6 fetch_trades).
func (e *Engine) FetchTrades(limit int) ([]*domain.Trade, error) {
	return e.matching.FetchTrades(limit)
}

// GetStatistics computes the full analytics report over every closed
// position (spec.md §6 get_statistics).
func (e *Engine) GetStatistics() (stats.Report, error) {
	closed, err := e.matching.ClosedPositions()
	if err != nil {
		return stats.Report{}, err
	}
	return stats.Calculate(closed, e.matching.InitialBalance()), nil
}

// ResetAccount wipes persisted and in-memory state back to the starting
// balance (spec.md §6 reset_account).
func (e *Engine) ResetAccount() error {
	return e.matching.ResetAccount()
}
