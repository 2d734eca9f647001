package stats

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/domain"
)

func closedPosition(pnl decimal.Decimal, opened, closed time.Time) *domain.Position {
	c := closed
	return &domain.Position{
		RealizedPnL: pnl,
		OpenedAt:    opened,
		ClosedAt:    &c,
		Status:      domain.PositionClosed,
	}
}

func TestCalculateEmptyReturnsZeroReport(t *testing.T) {
	r := Calculate(nil, decimal.NewFromInt(10000))
	if r.TradeCount != 0 {
		t.Errorf("expected zero trades, got %d", r.TradeCount)
	}
	if r.Sharpe != nil {
		t.Errorf("expected nil sharpe with no trades, got %v", r.Sharpe)
	}
}

func TestCalculateWinRateAndAverages(t *testing.T) {
	now := time.Now()
	positions := []*domain.Position{
		closedPosition(decimal.NewFromInt(100), now, now.Add(time.Hour)),
		closedPosition(decimal.NewFromInt(-50), now, now.Add(time.Hour)),
		closedPosition(decimal.NewFromInt(200), now, now.Add(2*time.Hour)),
	}
	r := Calculate(positions, decimal.NewFromInt(10000))

	if r.TradeCount != 3 {
		t.Errorf("trade count = %d, want 3", r.TradeCount)
	}
	wantWinRate := 2.0 / 3.0
	if r.WinRate != wantWinRate {
		t.Errorf("win rate = %v, want %v", r.WinRate, wantWinRate)
	}
	wantAvgWin := decimal.NewFromInt(150)
	if !r.AvgWin.Equal(wantAvgWin) {
		t.Errorf("avg win = %s, want %s", r.AvgWin, wantAvgWin)
	}
	wantAvgLoss := decimal.NewFromInt(50)
	if !r.AvgLoss.Equal(wantAvgLoss) {
		t.Errorf("avg loss = %s, want %s", r.AvgLoss, wantAvgLoss)
	}
}

func TestProfitFactorEdgeCases(t *testing.T) {
	if pf := profitFactor(decimal.Zero, decimal.Zero); !pf.IsZero() {
		t.Errorf("no wins no losses should be zero, got %s", pf)
	}
	pf := profitFactor(decimal.NewFromInt(100), decimal.Zero)
	if pf.Cmp(decimal.NewFromInt(1_000_000)) <= 0 {
		t.Errorf("wins with no losses should be +Inf-like (very large), got %s", pf)
	}
}

func TestSharpeNilBelowTwoTrades(t *testing.T) {
	now := time.Now()
	positions := []*domain.Position{closedPosition(decimal.NewFromInt(100), now, now)}
	r := Calculate(positions, decimal.NewFromInt(10000))
	if r.Sharpe != nil {
		t.Errorf("expected nil sharpe with a single trade, got %v", *r.Sharpe)
	}
}

func TestMaxDrawdownTracksPeakToTrough(t *testing.T) {
	now := time.Now()
	positions := []*domain.Position{
		closedPosition(decimal.NewFromInt(1000), now, now),
		closedPosition(decimal.NewFromInt(-2000), now, now.Add(time.Hour)),
		closedPosition(decimal.NewFromInt(500), now, now.Add(2*time.Hour)),
	}
	dd := maxDrawdown(positions, decimal.NewFromInt(10000))
	if dd <= 0 {
		t.Errorf("expected a positive drawdown percentage, got %v", dd)
	}
}

func TestKellyClampedToQuarter(t *testing.T) {
	k := kelly(0.9, decimal.NewFromInt(100), decimal.NewFromInt(1))
	if k > 0.25 {
		t.Errorf("kelly fraction must be clamped to 0.25, got %v", k)
	}
}

func TestKellyZeroWhenNoLosses(t *testing.T) {
	k := kelly(1.0, decimal.NewFromInt(100), decimal.Zero)
	if k != 0 {
		t.Errorf("expected 0 when avgLoss is zero, got %v", k)
	}
}
