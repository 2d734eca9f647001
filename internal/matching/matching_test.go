package matching

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/accounting"
	"github.com/web3guy0/polybot/internal/domain"
	"github.com/web3guy0/polybot/internal/lockmgr"
	"github.com/web3guy0/polybot/internal/pricecache"
	"github.com/web3guy0/polybot/internal/slippage"
)

// memStore is a plain in-memory Store for exercising the engine without a
// database (mirrors internal/store's contract, not its implementation).
type memStore struct {
	mu         sync.Mutex
	portfolios map[string]*domain.Portfolio
	positions  map[string]*domain.Position
	orders     map[string]*domain.Order
	trades     []*domain.Trade
}

func newMemStore() *memStore {
	return &memStore{
		portfolios: make(map[string]*domain.Portfolio),
		positions:  make(map[string]*domain.Position),
		orders:     make(map[string]*domain.Order),
	}
}

func (s *memStore) SavePortfolio(p *domain.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.portfolios[p.ID] = &cp
	return nil
}

func (s *memStore) LoadPortfolio(id string) (*domain.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.portfolios[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) SavePosition(p *domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *memStore) LoadPositions(portfolioID string) ([]*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Position, 0)
	for _, p := range s.positions {
		if p.PortfolioID == portfolioID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) SaveOrder(o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *memStore) LoadOrders(portfolioID string) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Order, 0)
	for _, o := range s.orders {
		if o.PortfolioID == portfolioID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) SaveTrade(t *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return nil
}

func (s *memStore) LoadTrades(portfolioID string, limit int) ([]*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Trade, 0)
	for i := len(s.trades) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.trades[i].PortfolioID == portfolioID {
			out = append(out, s.trades[i])
		}
	}
	return out, nil
}

func (s *memStore) WithTransaction(fn func(tx Store) error) error {
	return fn(s)
}

func (s *memStore) Reset(portfolioID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.positions {
		if p.PortfolioID == portfolioID {
			delete(s.positions, id)
		}
	}
	for id, o := range s.orders {
		if o.PortfolioID == portfolioID {
			delete(s.orders, id)
		}
	}
	kept := s.trades[:0]
	for _, t := range s.trades {
		if t.PortfolioID != portfolioID {
			kept = append(kept, t)
		}
	}
	s.trades = kept
	return nil
}

// fakeMarket serves a fixed, settable snapshot per symbol without any
// network I/O (the monitoring loop's streaming path is covered by
// internal/marketdata; this just needs FetchTicker).
type fakeMarket struct {
	mu    sync.Mutex
	quote map[string]domain.PriceSnapshot
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{quote: make(map[string]domain.PriceSnapshot)}
}

func (m *fakeMarket) set(symbol string, bid, ask, last decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quote[symbol] = domain.PriceSnapshot{Symbol: symbol, Bid: bid, Ask: ask, Last: last, Timestamp: time.Now()}
}

func (m *fakeMarket) FetchTicker(ctx context.Context, symbol string) (domain.PriceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.quote[symbol]
	if !ok {
		return domain.PriceSnapshot{}, domainUnavailable(symbol)
	}
	return snap, nil
}

func (m *fakeMarket) SubscribeTicks(ctx context.Context, symbol string) (<-chan domain.PriceSnapshot, bool) {
	return nil, false
}

type marketUnavailableErr struct{ symbol string }

func (e marketUnavailableErr) Error() string { return "no quote for " + e.symbol }

func domainUnavailable(symbol string) error { return marketUnavailableErr{symbol: symbol} }

func decimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }

func newTestEngine(t *testing.T, initialBalance decimal.Decimal) (*Engine, *fakeMarket, *memStore) {
	t.Helper()

	store := newMemStore()
	portfolio := &domain.Portfolio{
		ID: "p1", Name: "test", InitialBalance: initialBalance, CurrentBalance: initialBalance,
		Currency: "USDT", MarginMode: domain.MarginCross, Leverage: 1, CreatedAt: time.Now(),
	}
	market := newFakeMarket()
	locks := lockmgr.New(2 * time.Second)
	slip := slippage.New(slippage.Config{Model: slippage.ModelFixed, BaseSlippage: decimal.Zero})
	cache := pricecache.New(pricecache.AssetCrypto, pricecache.DefaultCapacity, slip)
	acct := accounting.New(accounting.FeeConfig{Maker: decimal.Zero, Taker: decimal.Zero})

	cfg := Config{
		PortfolioID: "p1", PortfolioName: "test", DefaultLeverage: 1, DefaultMarginMode: domain.MarginCross,
		PricePollInterval: time.Hour,
	}

	e, err := New(cfg, locks, market, cache, slip, acct, store, portfolio)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, market, store
}

func TestPlaceMarketOrderFillsImmediately(t *testing.T) {
	e, market, _ := newTestEngine(t, decimal.NewFromInt(10000))
	market.set("BTCUSDT", decimal.NewFromInt(49990), decimal.NewFromInt(50010), decimal.NewFromInt(50000))

	result := e.PlaceOrder(context.Background(), PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: domain.OrderBuy, Type: domain.OrderMarket, Quantity: decimal.NewFromFloat(0.1),
	})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Order.Status != domain.OrderFilled {
		t.Errorf("status = %s, want filled", result.Order.Status)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("expected one trade, got %d", len(result.Trades))
	}
}

func TestOrderIDsAreUniqueAcrossPlacements(t *testing.T) {
	e, market, _ := newTestEngine(t, decimal.NewFromInt(100000))
	market.set("ETHUSDT", decimal.NewFromInt(1999), decimal.NewFromInt(2001), decimal.NewFromInt(2000))

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		result := e.PlaceOrder(context.Background(), PlaceOrderRequest{
			Symbol: "ETHUSDT", Side: domain.OrderBuy, Type: domain.OrderLimit,
			Price: decimalPtr(decimal.NewFromInt(1900)), Quantity: decimal.NewFromFloat(0.01),
		})
		if result.Order == nil {
			t.Fatalf("expected an order on attempt %d", i)
		}
		if seen[result.Order.ID] {
			t.Fatalf("duplicate order id %s", result.Order.ID)
		}
		seen[result.Order.ID] = true
	}
}

func TestCancelOrderIsIdempotent(t *testing.T) {
	e, market, _ := newTestEngine(t, decimal.NewFromInt(100000))
	market.set("ETHUSDT", decimal.NewFromInt(1999), decimal.NewFromInt(2001), decimal.NewFromInt(2000))

	place := e.PlaceOrder(context.Background(), PlaceOrderRequest{
		Symbol: "ETHUSDT", Side: domain.OrderBuy, Type: domain.OrderLimit,
		Price: decimalPtr(decimal.NewFromInt(1000)), Quantity: decimal.NewFromInt(1),
	})
	if place.Err != nil {
		t.Fatalf("place: %v", place.Err)
	}
	if place.Order.Status != domain.OrderPending {
		t.Fatalf("expected the limit to rest, got %s", place.Order.Status)
	}

	cancelled, err := e.CancelOrder(place.Order.ID)
	if err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if cancelled.Status != domain.OrderCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	_, err = e.CancelOrder(place.Order.ID)
	if err == nil {
		t.Fatal("expected AlreadyCancelled on the second cancel")
	}
}

func TestStopOrderTriggersAsymmetricallyBySide(t *testing.T) {
	// A buy-stop triggers when price rises to meet it; a sell-stop
	// triggers when price falls to meet it (spec.md §4.4 step 4).
	buy := &domain.Order{Side: domain.OrderBuy, StopPrice: decimalPtr(decimal.NewFromInt(100))}
	if stopTriggered(buy, decimal.NewFromInt(99)) {
		t.Error("buy-stop should not trigger below its stop price")
	}
	if !stopTriggered(buy, decimal.NewFromInt(100)) {
		t.Error("buy-stop should trigger at its stop price")
	}
	if !stopTriggered(buy, decimal.NewFromInt(101)) {
		t.Error("buy-stop should trigger above its stop price")
	}

	sell := &domain.Order{Side: domain.OrderSell, StopPrice: decimalPtr(decimal.NewFromInt(100))}
	if sell.Side == buy.Side {
		t.Fatal("test setup error")
	}
	if stopTriggered(sell, decimal.NewFromInt(101)) {
		t.Error("sell-stop should not trigger above its stop price")
	}
	if !stopTriggered(sell, decimal.NewFromInt(100)) {
		t.Error("sell-stop should trigger at its stop price")
	}
	if !stopTriggered(sell, decimal.NewFromInt(99)) {
		t.Error("sell-stop should trigger below its stop price")
	}
}

func TestLimitOrderRestsWhenNotImmediatelyFillable(t *testing.T) {
	e, market, _ := newTestEngine(t, decimal.NewFromInt(100000))
	market.set("ETHUSDT", decimal.NewFromInt(1999), decimal.NewFromInt(2001), decimal.NewFromInt(2000))

	result := e.PlaceOrder(context.Background(), PlaceOrderRequest{
		Symbol: "ETHUSDT", Side: domain.OrderBuy, Type: domain.OrderLimit,
		Price: decimalPtr(decimal.NewFromInt(1000)), Quantity: decimal.NewFromInt(1),
	})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Order.Status != domain.OrderPending {
		t.Errorf("status = %s, want pending", result.Order.Status)
	}
}

func TestIOCLimitNotFillableCancelsImmediately(t *testing.T) {
	e, market, _ := newTestEngine(t, decimal.NewFromInt(100000))
	market.set("ETHUSDT", decimal.NewFromInt(1999), decimal.NewFromInt(2001), decimal.NewFromInt(2000))

	result := e.PlaceOrder(context.Background(), PlaceOrderRequest{
		Symbol: "ETHUSDT", Side: domain.OrderBuy, Type: domain.OrderLimit, TimeInForce: domain.TIFIOC,
		Price: decimalPtr(decimal.NewFromInt(1000)), Quantity: decimal.NewFromInt(1),
	})
	if result.Err == nil {
		t.Fatal("expected an IocNotFillable error")
	}
	if result.Order.Status != domain.OrderCancelled {
		t.Errorf("status = %s, want cancelled", result.Order.Status)
	}
}

func TestRejectedOrderNeverCallsExchangeFunds(t *testing.T) {
	e, _, _ := newTestEngine(t, decimal.NewFromInt(1000))

	result := e.PlaceOrder(context.Background(), PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: domain.OrderBuy, Type: domain.OrderLimit, Quantity: decimal.NewFromInt(1),
	})
	if result.Err == nil {
		t.Fatal("expected an InvalidOrder error for a limit order with no price")
	}
	if result.Order.Status != domain.OrderRejected {
		t.Errorf("status = %s, want rejected", result.Order.Status)
	}
}

func TestWeightedAvgFillPriceAcrossPartialFills(t *testing.T) {
	order := &domain.Order{Quantity: decimal.NewFromInt(2)}

	avg1 := weightedAvgFillPrice(order, decimal.NewFromInt(100), decimal.NewFromInt(1))
	if !avg1.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("first partial avg = %s, want 100", avg1)
	}
	order.AvgFillPrice = &avg1
	order.FilledQuantity = decimal.NewFromInt(1)

	avg2 := weightedAvgFillPrice(order, decimal.NewFromInt(200), decimal.NewFromInt(1))
	want := decimal.NewFromInt(150)
	if !avg2.Equal(want) {
		t.Errorf("second partial avg = %s, want %s", avg2, want)
	}
}

func TestResetAccountClearsPositionsOrdersAndRestoresBalance(t *testing.T) {
	e, market, _ := newTestEngine(t, decimal.NewFromInt(10000))
	market.set("BTCUSDT", decimal.NewFromInt(49990), decimal.NewFromInt(50010), decimal.NewFromInt(50000))

	result := e.PlaceOrder(context.Background(), PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: domain.OrderBuy, Type: domain.OrderMarket, Quantity: decimal.NewFromFloat(0.1),
	})
	if result.Err != nil {
		t.Fatalf("place: %v", result.Err)
	}

	if err := e.ResetAccount(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	bal := e.FetchBalance()
	if !bal.Total.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("balance after reset = %s, want 10000", bal.Total)
	}
	if len(e.FetchOrders(nil)) != 0 {
		t.Errorf("expected no orders after reset")
	}
	if len(e.FetchPositions(context.Background(), nil)) != 0 {
		t.Errorf("expected no positions after reset")
	}
}

// TestCheckLiquidationsMatchesWorkedLiquidationPrice pins spec.md's worked
// liquidation example: entry=100, qty=10, 10x leverage, entry_fee=exit_fee
// =0.0005 gives liq_price=95.1, and a tick at last=95 liquidates for a
// realized loss of -50.
func TestCheckLiquidationsMatchesWorkedLiquidationPrice(t *testing.T) {
	e, market, store := newTestEngine(t, decimal.NewFromInt(10000))

	entry := decimal.NewFromInt(100)
	qty := decimal.NewFromInt(10)
	feeRate := decimal.NewFromFloat(0.0005)
	liq := accounting.LiquidationPrice(entry, qty, 10, domain.PositionLong, feeRate, feeRate)
	if liq == nil {
		t.Fatal("expected a liquidation price for leveraged position")
	}
	wantLiq := decimal.NewFromFloat(95.1)
	if !liq.Equal(wantLiq) {
		t.Fatalf("liquidation price = %s, want %s", liq, wantLiq)
	}

	pos := &domain.Position{
		ID: "pos1", PortfolioID: "p1", Symbol: "BTCUSDT", Side: domain.PositionLong,
		EntryPrice: entry, Quantity: qty, Leverage: 10, MarginMode: domain.MarginIsolated,
		OpenedAt: time.Now(), Status: domain.PositionOpen, LiquidationPrice: liq,
	}
	e.mu.Lock()
	e.positions[pos.Key()] = pos
	e.mu.Unlock()

	market.set("BTCUSDT", decimal.NewFromInt(94), decimal.NewFromInt(96), decimal.NewFromInt(95))
	snap, err := market.FetchTicker(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("FetchTicker: %v", err)
	}

	e.checkLiquidations("BTCUSDT", snap)

	e.mu.RLock()
	closed := e.positions[pos.Key()]
	e.mu.RUnlock()
	if closed.Status != domain.PositionClosed {
		t.Fatalf("status = %s, want closed", closed.Status)
	}
	wantPnL := decimal.NewFromInt(-50)
	if !closed.RealizedPnL.Equal(wantPnL) {
		t.Errorf("realized pnl = %s, want %s", closed.RealizedPnL, wantPnL)
	}
	wantBalance := decimal.NewFromInt(10000).Add(wantPnL)
	if !e.portfolio.CurrentBalance.Equal(wantBalance) {
		t.Errorf("balance = %s, want %s", e.portfolio.CurrentBalance, wantBalance)
	}

	saved, err := store.LoadPositions("p1")
	if err != nil || len(saved) != 1 || saved[0].Status != domain.PositionClosed {
		t.Errorf("expected the liquidation to be persisted, got %+v, err=%v", saved, err)
	}
}

// TestCheckTrailingStopsMatchesWorkedTickSequence pins spec.md's worked
// trailing-stop example: a 2% trailing sell-stop starting at last=100
// (stop=98) tightens as price rises to 101 (stop=98.98) and 103
// (stop=100.94), holds steady on a pullback to 102, then triggers and
// fills at 100.9.
func TestCheckTrailingStopsMatchesWorkedTickSequence(t *testing.T) {
	e, market, _ := newTestEngine(t, decimal.NewFromInt(10000))

	pct := decimal.NewFromFloat(0.02)
	extreme := decimal.NewFromInt(100)
	stop := decimal.NewFromInt(98)
	order := &domain.Order{
		ID: "o1", PortfolioID: "p1", Symbol: "BTCUSDT", Side: domain.OrderSell, Type: domain.OrderTrailingStop,
		Quantity: decimal.NewFromInt(1), TrailingPercent: &pct, TrailingExtreme: &extreme, StopPrice: &stop,
		Status: domain.OrderPending, CreatedAt: time.Now(),
	}
	e.mu.Lock()
	e.orders[order.ID] = order
	e.mu.Unlock()

	tick := func(last float64) {
		l := decimal.NewFromFloat(last)
		market.set("BTCUSDT", l, l, l)
		snap, err := market.FetchTicker(context.Background(), "BTCUSDT")
		if err != nil {
			t.Fatalf("FetchTicker: %v", err)
		}
		e.checkTrailingStops("BTCUSDT", snap)
	}

	tick(101)
	if want := decimal.NewFromFloat(98.98); !order.StopPrice.Equal(want) {
		t.Fatalf("after tick to 101, stop = %s, want %s", order.StopPrice, want)
	}

	tick(103)
	if want := decimal.NewFromFloat(100.94); !order.StopPrice.Equal(want) {
		t.Fatalf("after tick to 103, stop = %s, want %s", order.StopPrice, want)
	}

	tick(102)
	if want := decimal.NewFromFloat(100.94); !order.StopPrice.Equal(want) {
		t.Fatalf("a pullback must not loosen the stop: got %s, want %s", order.StopPrice, want)
	}
	if order.Status == domain.OrderFilled {
		t.Fatal("102 should not have triggered the 100.94 stop")
	}

	tick(100.9)
	if order.Status != domain.OrderFilled {
		t.Fatalf("a last of 100.9 crossing the 100.94 stop must fill, got status %s", order.Status)
	}
	wantFill := decimal.NewFromFloat(100.9)
	if order.AvgFillPrice == nil || !order.AvgFillPrice.Equal(wantFill) {
		t.Errorf("fill price = %v, want %s (a triggered stop fills at last, the calculator has zero base slippage here)", order.AvgFillPrice, wantFill)
	}
}
