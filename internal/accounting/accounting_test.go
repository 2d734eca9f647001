package accounting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/domain"
)

func fees() FeeConfig {
	return FeeConfig{Maker: decimal.NewFromFloat(0.0002), Taker: decimal.NewFromFloat(0.0005)}
}

func TestApplyFillOpensNewPosition(t *testing.T) {
	a := New(fees())
	positions := map[domain.PositionKey]*domain.Position{}

	result, err := a.ApplyFill(positions, FillRequest{
		PortfolioID: "p1",
		Symbol:      "BTCUSDT",
		Side:        domain.OrderBuy,
		FillPrice:   decimal.NewFromInt(50000),
		FillQty:     decimal.NewFromFloat(0.1),
		Leverage:    1,
		Now:         time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OpenedPosition == nil {
		t.Fatal("expected a newly opened position")
	}
	if !result.OpenedPosition.Quantity.Equal(decimal.NewFromFloat(0.1)) {
		t.Errorf("quantity = %s, want 0.1", result.OpenedPosition.Quantity)
	}
	if result.OpenedPosition.LiquidationPrice != nil {
		t.Errorf("leverage=1 position should have no liquidation price, got %v", result.OpenedPosition.LiquidationPrice)
	}
}

func TestApplyFillAugmentsSameSideVWAP(t *testing.T) {
	a := New(fees())
	positions := map[domain.PositionKey]*domain.Position{}

	_, err := a.ApplyFill(positions, FillRequest{
		PortfolioID: "p1", Symbol: "ETHUSDT", Side: domain.OrderBuy,
		FillPrice: decimal.NewFromInt(2000), FillQty: decimal.NewFromInt(1), Leverage: 1, Now: time.Now(),
	})
	if err != nil {
		t.Fatalf("first fill: %v", err)
	}
	result, err := a.ApplyFill(positions, FillRequest{
		PortfolioID: "p1", Symbol: "ETHUSDT", Side: domain.OrderBuy,
		FillPrice: decimal.NewFromInt(3000), FillQty: decimal.NewFromInt(1), Leverage: 1, Now: time.Now(),
	})
	if err != nil {
		t.Fatalf("second fill: %v", err)
	}
	if result.UpdatedPosition == nil {
		t.Fatal("expected the position to be updated, not replaced")
	}
	wantEntry := decimal.NewFromInt(2500)
	if !result.UpdatedPosition.EntryPrice.Equal(wantEntry) {
		t.Errorf("vwap entry = %s, want %s", result.UpdatedPosition.EntryPrice, wantEntry)
	}
	if !result.UpdatedPosition.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("quantity = %s, want 2", result.UpdatedPosition.Quantity)
	}
}

func TestApplyFillReducesOppositeAndClosesOnFullExit(t *testing.T) {
	a := New(fees())
	positions := map[domain.PositionKey]*domain.Position{}

	_, err := a.ApplyFill(positions, FillRequest{
		PortfolioID: "p1", Symbol: "BTCUSDT", Side: domain.OrderBuy,
		FillPrice: decimal.NewFromInt(50000), FillQty: decimal.NewFromInt(1), Leverage: 1, Now: time.Now(),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	result, err := a.ApplyFill(positions, FillRequest{
		PortfolioID: "p1", Symbol: "BTCUSDT", Side: domain.OrderSell,
		FillPrice: decimal.NewFromInt(51000), FillQty: decimal.NewFromInt(1), Leverage: 1, Now: time.Now(),
	})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if result.ClosedPosition == nil {
		t.Fatal("expected the long to be fully closed")
	}
	wantPnl := decimal.NewFromInt(1000)
	if !result.RealizedPnLDelta.Equal(wantPnl) {
		t.Errorf("realized pnl = %s, want %s", result.RealizedPnLDelta, wantPnl)
	}
	if len(positions) != 0 {
		t.Errorf("closed position should be removed from the working set, found %d entries", len(positions))
	}
}

// TestApplyFillFlipOpensExcessInOppositeDirection covers spec.md §4.3's
// flip case: a sell larger than the existing long closes it and opens a
// fresh short with the excess quantity.
func TestApplyFillFlipOpensExcessInOppositeDirection(t *testing.T) {
	a := New(fees())
	positions := map[domain.PositionKey]*domain.Position{}

	_, err := a.ApplyFill(positions, FillRequest{
		PortfolioID: "p1", Symbol: "BTCUSDT", Side: domain.OrderBuy,
		FillPrice: decimal.NewFromInt(50000), FillQty: decimal.NewFromInt(1), Leverage: 1, Now: time.Now(),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	result, err := a.ApplyFill(positions, FillRequest{
		PortfolioID: "p1", Symbol: "BTCUSDT", Side: domain.OrderSell,
		FillPrice: decimal.NewFromInt(51000), FillQty: decimal.NewFromFloat(1.5), Leverage: 1, Now: time.Now(),
	})
	if err != nil {
		t.Fatalf("flip: %v", err)
	}
	if result.ClosedPosition == nil {
		t.Fatal("expected the original long to close")
	}
	if result.OpenedPosition == nil {
		t.Fatal("expected a fresh short opened with the excess quantity")
	}
	if result.OpenedPosition.Side != domain.PositionShort {
		t.Errorf("opened side = %s, want short", result.OpenedPosition.Side)
	}
	if !result.OpenedPosition.Quantity.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("opened quantity = %s, want 0.5", result.OpenedPosition.Quantity)
	}
}

func TestReduceOnlyRejectsWithNoPosition(t *testing.T) {
	a := New(fees())
	positions := map[domain.PositionKey]*domain.Position{}

	_, err := a.ApplyFill(positions, FillRequest{
		PortfolioID: "p1", Symbol: "BTCUSDT", Side: domain.OrderSell,
		FillPrice: decimal.NewFromInt(50000), FillQty: decimal.NewFromInt(1), Leverage: 1, ReduceOnly: true, Now: time.Now(),
	})
	if err == nil {
		t.Fatal("expected ReduceOnlyNoPosition error")
	}
}

func TestReduceOnlyRejectsWhenExceedingPosition(t *testing.T) {
	a := New(fees())
	positions := map[domain.PositionKey]*domain.Position{}

	_, err := a.ApplyFill(positions, FillRequest{
		PortfolioID: "p1", Symbol: "BTCUSDT", Side: domain.OrderBuy,
		FillPrice: decimal.NewFromInt(50000), FillQty: decimal.NewFromInt(1), Leverage: 1, Now: time.Now(),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	_, err = a.ApplyFill(positions, FillRequest{
		PortfolioID: "p1", Symbol: "BTCUSDT", Side: domain.OrderSell,
		FillPrice: decimal.NewFromInt(51000), FillQty: decimal.NewFromFloat(1.5), Leverage: 1, ReduceOnly: true, Now: time.Now(),
	})
	if err == nil {
		t.Fatal("expected ReduceOnlyExceedsPosition error")
	}
}

func TestLiquidationPriceNilForUnleveraged(t *testing.T) {
	lp := LiquidationPrice(decimal.NewFromInt(100), decimal.NewFromInt(1), 1, domain.PositionLong, decimal.Zero, decimal.Zero)
	if lp != nil {
		t.Errorf("expected nil liquidation price at leverage=1, got %v", lp)
	}
}

func TestLiquidationPriceBoundsLongBelowEntry(t *testing.T) {
	entry := decimal.NewFromInt(100)
	lp := LiquidationPrice(entry, decimal.NewFromInt(1), 10, domain.PositionLong, decimal.Zero, decimal.Zero)
	if lp == nil {
		t.Fatal("expected a liquidation price")
	}
	if !lp.LessThan(entry) {
		t.Errorf("long liquidation price %s should be below entry %s", lp, entry)
	}
}

func TestLiquidationPriceBoundsShortAboveEntry(t *testing.T) {
	entry := decimal.NewFromInt(100)
	lp := LiquidationPrice(entry, decimal.NewFromInt(1), 10, domain.PositionShort, decimal.Zero, decimal.Zero)
	if lp == nil {
		t.Fatal("expected a liquidation price")
	}
	if !lp.GreaterThan(entry) {
		t.Errorf("short liquidation price %s should be above entry %s", lp, entry)
	}
}

func TestCheckLiquidationTriggersAtOrBeyondPrice(t *testing.T) {
	pos := &domain.Position{
		Side:             domain.PositionLong,
		Status:           domain.PositionOpen,
		LiquidationPrice: decimalPtr(decimal.NewFromInt(90)),
	}
	if CheckLiquidation(pos, decimal.NewFromInt(91)) {
		t.Error("should not trigger above the liquidation price for a long")
	}
	if !CheckLiquidation(pos, decimal.NewFromInt(90)) {
		t.Error("should trigger at the liquidation price")
	}
	if !CheckLiquidation(pos, decimal.NewFromInt(80)) {
		t.Error("should trigger below the liquidation price for a long")
	}
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }
