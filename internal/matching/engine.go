// Package matching implements the Order Matching Engine (spec.md §4.4):
// order validation, the order state machine, fill execution, and the
// price-monitoring loop that drives stops, trailing stops, and
// liquidations. Grounded on core/engine.go's Engine shape (component
// fields, mu sync.RWMutex, Start/Stop, stopCh) generalized from "one
// engine per strategy set" to "one engine per portfolio".
package matching

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/polybot/internal/accounting"
	"github.com/web3guy0/polybot/internal/domain"
	"github.com/web3guy0/polybot/internal/lockmgr"
	"github.com/web3guy0/polybot/internal/marketdata"
	"github.com/web3guy0/polybot/internal/metrics"
	"github.com/web3guy0/polybot/internal/pricecache"
	"github.com/web3guy0/polybot/internal/slippage"
)

// Config holds the tunables from PaperTradingConfig not already owned by a
// sub-component (spec.md §6).
type Config struct {
	PortfolioID         string
	PortfolioName       string
	ProviderTag         string
	DefaultLeverage     int
	DefaultMarginMode   domain.MarginMode
	SimulatedLatency    time.Duration
	PricePollInterval   time.Duration
	EntryFeeRate        decimal.Decimal // used for liquidation pricing (spec.md §4.3)
	ExitFeeRate         decimal.Decimal
}

// DefaultPricePollInterval is the monitoring loop cadence (spec.md §4.4: "default 500 ms").
const DefaultPricePollInterval = 500 * time.Millisecond

// Engine is one portfolio's matching engine instance.
type Engine struct {
	mu sync.RWMutex

	cfg    Config
	locks  *lockmgr.Manager
	market marketdata.Provider
	cache  *pricecache.Cache
	slip   *slippage.Calculator
	acct   *accounting.Accountant
	store  Store

	portfolio *domain.Portfolio
	positions map[domain.PositionKey]*domain.Position
	orders    map[string]*domain.Order

	running bool
	stopCh  chan struct{}
}

// New constructs an Engine for a single portfolio. The portfolio is
// created (or loaded) by the caller via store before New is called.
func New(cfg Config, locks *lockmgr.Manager, market marketdata.Provider, cache *pricecache.Cache, slip *slippage.Calculator, acct *accounting.Accountant, store Store, portfolio *domain.Portfolio) (*Engine, error) {
	if cfg.PricePollInterval <= 0 {
		cfg.PricePollInterval = DefaultPricePollInterval
	}

	e := &Engine{
		cfg:       cfg,
		locks:     locks,
		market:    market,
		cache:     cache,
		slip:      slip,
		acct:      acct,
		store:     store,
		portfolio: portfolio,
		positions: make(map[domain.PositionKey]*domain.Position),
		orders:    make(map[string]*domain.Order),
	}

	positions, err := store.LoadPositions(portfolio.ID)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		e.positions[p.Key()] = p
	}

	orders, err := store.LoadOrders(portfolio.ID)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		e.orders[o.ID] = o
	}

	return e, nil
}

// Start begins the monitoring loop (spec.md §4.4). Cooperative: Stop lets
// any in-flight tick finish naturally (spec.md §5).
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	go e.monitorLoop(ctx)
	log.Info().Str("portfolio", e.cfg.PortfolioID).Msg("matching engine started")
}

// Stop stops the monitoring loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stopCh)
	log.Info().Str("portfolio", e.cfg.PortfolioID).Msg("matching engine stopped")
}

// monitorLoop ticks at cfg.PricePollInterval, processing every pending
// order on the book. Each watched symbol's processing runs under an
// errgroup-supervised goroutine (SPEC_FULL.md §3: golang.org/x/sync) so
// that one symbol's failure or panic does not stop the other symbols
// (spec.md §7). Isolation is per symbol, not per order: a panic while
// handling one order ends the remaining monitoring steps for that symbol
// in that tick.
func (e *Engine) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PricePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick runs one monitoring pass over every pending order and every open
// position, isolating each symbol's processing from the others' failures.
func (e *Engine) tick(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.MonitorTickSeconds.Observe(time.Since(start).Seconds()) }()

	e.mu.RLock()
	symbols := make(map[string]struct{})
	for _, o := range e.orders {
		if !o.Status.Terminal() {
			symbols[o.Symbol] = struct{}{}
		}
	}
	for _, p := range e.positions {
		if p.Status == domain.PositionOpen {
			symbols[p.Symbol] = struct{}{}
		}
	}
	e.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			e.tickSymbol(gctx, symbol)
			return nil
		})
	}
	_ = g.Wait()
}

// tickSymbol runs the per-symbol monitoring steps of spec.md §4.4.
func (e *Engine) tickSymbol(ctx context.Context, symbol string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("symbol", symbol).Msg("monitoring tick panicked, isolated")
		}
	}()

	snap, err := e.fetchAndCacheSnapshot(ctx, symbol)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("monitoring tick: market data unavailable")
		return
	}

	err = e.locks.WithLocks([]lockmgr.Key{lockmgr.PortfolioKey(e.cfg.PortfolioID), lockmgr.PortfolioSymbolKey(e.cfg.PortfolioID, symbol)}, func() error {
		e.checkLiquidations(symbol, snap)
		e.checkRestingOrders(symbol, snap)
		e.checkStopTriggers(symbol, snap)
		e.checkTrailingStops(symbol, snap)
		e.repriceOpenPositions(symbol, snap)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("monitoring tick failed")
	}
}

// fetchAndCacheSnapshot fetches the latest price for symbol, preferring a
// cached snapshot still within its freshness window, and records it into
// the price cache (and transitively the slippage volatility ring).
func (e *Engine) fetchAndCacheSnapshot(ctx context.Context, symbol string) (domain.PriceSnapshot, error) {
	if snap, ok := e.cache.Get(symbol); ok {
		return snap, nil
	}
	snap, err := e.market.FetchTicker(ctx, symbol)
	if err != nil {
		return domain.PriceSnapshot{}, err
	}
	e.cache.PutPolled(snap)
	return snap, nil
}

// Balance mirrors the consumer-facing fetch_balance() shape (spec.md §6).
type Balance struct {
	Free  decimal.Decimal
	Used  decimal.Decimal
	Total decimal.Decimal
}

// FetchBalance returns the current balance breakdown.
func (e *Engine) FetchBalance() Balance {
	e.mu.RLock()
	defer e.mu.RUnlock()

	openPositions := e.openPositionsLocked()
	pendingOrders := e.pendingOrdersLocked()
	available := accounting.Available(e.portfolio, openPositions, pendingOrders, e.acct.Fees())

	return Balance{
		Free:  available,
		Used:  e.portfolio.CurrentBalance.Sub(available),
		Total: e.portfolio.CurrentBalance,
	}
}

func (e *Engine) openPositionsLocked() []*domain.Position {
	out := make([]*domain.Position, 0, len(e.positions))
	for _, p := range e.positions {
		if p.Status == domain.PositionOpen {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) pendingOrdersLocked() []*domain.Order {
	out := make([]*domain.Order, 0, len(e.orders))
	for _, o := range e.orders {
		if !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out
}

// FetchPositions returns positions, optionally filtered to symbols, with
// prices refreshed before returning (spec.md §6).
func (e *Engine) FetchPositions(ctx context.Context, symbols []string) []*domain.Position {
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*domain.Position, 0, len(e.positions))
	for _, p := range e.positions {
		if len(wanted) > 0 && !wanted[p.Symbol] {
			continue
		}
		if snap, err := e.fetchAndCacheSnapshot(ctx, p.Symbol); err == nil {
			accounting.RepriceUnrealized(p, snap.Last)
		}
		out = append(out, p)
	}
	return out
}

// FetchOrders returns orders, optionally filtered by status.
func (e *Engine) FetchOrders(status *domain.OrderStatus) []*domain.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.Order, 0, len(e.orders))
	for _, o := range e.orders {
		if status != nil && o.Status != *status {
			continue
		}
		out = append(out, o)
	}
	return out
}

// FetchTrades returns the most recent trades from the store, newest first.
func (e *Engine) FetchTrades(limit int) ([]*domain.Trade, error) {
	return e.store.LoadTrades(e.cfg.PortfolioID, limit)
}

// ClosedPositions returns closed positions ordered by ClosedAt ascending,
// the input statistics.Calculate needs for its drawdown walk. Positions
// closed by a fill are dropped from the in-memory working set (see
// accounting.ApplyFill), while liquidated ones stay there marked closed,
// so this reads them all back from the store, which keeps every position
// ever written.
func (e *Engine) ClosedPositions() ([]*domain.Position, error) {
	all, err := e.store.LoadPositions(e.cfg.PortfolioID)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Position, 0, len(all))
	for _, p := range all {
		if p.Status == domain.PositionClosed && p.ClosedAt != nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ClosedAt.Before(*out[j].ClosedAt)
	})
	return out, nil
}

// InitialBalance returns the portfolio's starting balance.
func (e *Engine) InitialBalance() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.portfolio.InitialBalance
}

// ResetAccount stops monitoring, clears the persisted state for the
// portfolio and the in-memory positions, orders, price cache and locks, and
// re-initializes the balance (spec.md §5 "Cleanup", §6 reset_account). The
// slippage calculator's volatility history is not cleared.
func (e *Engine) ResetAccount() error {
	e.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.Reset(e.cfg.PortfolioID); err != nil {
		return err
	}

	e.portfolio.CurrentBalance = e.portfolio.InitialBalance
	e.positions = make(map[domain.PositionKey]*domain.Position)
	e.orders = make(map[string]*domain.Order)
	e.cache.Clear()
	e.locks.ClearAll()

	return e.store.SavePortfolio(e.portfolio)
}
