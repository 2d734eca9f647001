// Package stats implements the Statistics Calculator (spec.md §4.5):
// read-only portfolio analytics over closed positions.
// Grounded on internal/indicators/indicators.go's plain-math helper style
// (no stats library in the teacher's dependency set — see DESIGN.md).
package stats

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/domain"
)

// Report is the full set of analytics spec.md §4.5 names.
type Report struct {
	WinRate           float64
	AvgWin            decimal.Decimal
	AvgLoss           decimal.Decimal
	LargestWin        decimal.Decimal
	LargestLoss       decimal.Decimal
	ProfitFactor      decimal.Decimal
	Sharpe            *float64 // nil when undefined
	MaxDrawdownPct    float64
	AvgHoldingPeriod  time.Duration
	Expectancy        decimal.Decimal
	Kelly             float64
	TradeCount        int
}

// Calculate computes a Report from a portfolio's closed positions and its
// initial balance (spec.md §4.5). closedPositions must be chronologically
// ordered by ClosedAt for the drawdown walk to be meaningful.
func Calculate(closedPositions []*domain.Position, initialBalance decimal.Decimal) Report {
	var report Report
	if len(closedPositions) == 0 {
		return report
	}

	var wins, losses int
	var grossWin, grossLoss decimal.Decimal
	var largestWin, largestLoss decimal.Decimal
	var totalHolding time.Duration

	for _, p := range closedPositions {
		pnl := p.RealizedPnL
		if pnl.IsPositive() {
			wins++
			grossWin = grossWin.Add(pnl)
			if pnl.GreaterThan(largestWin) {
				largestWin = pnl
			}
		} else if pnl.IsNegative() {
			losses++
			loss := pnl.Neg()
			grossLoss = grossLoss.Add(loss)
			if loss.GreaterThan(largestLoss) {
				largestLoss = loss
			}
		}
		if p.ClosedAt != nil {
			totalHolding += p.ClosedAt.Sub(p.OpenedAt)
		}
	}

	report.TradeCount = len(closedPositions)
	report.LargestWin = largestWin
	report.LargestLoss = largestLoss
	report.AvgHoldingPeriod = totalHolding / time.Duration(len(closedPositions))

	if wins > 0 {
		report.AvgWin = grossWin.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		report.AvgLoss = grossLoss.Div(decimal.NewFromInt(int64(losses)))
	}
	report.WinRate = float64(wins) / float64(len(closedPositions))

	report.ProfitFactor = profitFactor(grossWin, grossLoss)
	report.MaxDrawdownPct = maxDrawdown(closedPositions, initialBalance)
	report.Sharpe = sharpe(closedPositions, initialBalance)

	winRate := decimal.NewFromFloat(report.WinRate)
	report.Expectancy = winRate.Mul(report.AvgWin).Sub(decimal.NewFromInt(1).Sub(winRate).Mul(report.AvgLoss))
	report.Kelly = kelly(report.WinRate, report.AvgWin, report.AvgLoss)

	return report
}

// SummaryLines renders the report as plain text lines, for surfaces (chat
// commands, log output) that want a quick human-readable dump rather than
// the raw struct.
func (r Report) SummaryLines() []string {
	sharpe := "n/a"
	if r.Sharpe != nil {
		sharpe = fmt.Sprintf("%.3f", *r.Sharpe)
	}
	return []string{
		fmt.Sprintf("Trades: %d", r.TradeCount),
		fmt.Sprintf("Win rate: %.1f%%", r.WinRate*100),
		fmt.Sprintf("Avg win / loss: %s / %s", r.AvgWin.StringFixed(2), r.AvgLoss.StringFixed(2)),
		fmt.Sprintf("Largest win / loss: %s / %s", r.LargestWin.StringFixed(2), r.LargestLoss.StringFixed(2)),
		fmt.Sprintf("Profit factor: %s", r.ProfitFactor.StringFixed(2)),
		fmt.Sprintf("Sharpe: %s", sharpe),
		fmt.Sprintf("Max drawdown: %.2f%%", r.MaxDrawdownPct),
		fmt.Sprintf("Avg holding period: %s", r.AvgHoldingPeriod.Round(time.Second)),
		fmt.Sprintf("Expectancy: %s", r.Expectancy.StringFixed(2)),
		fmt.Sprintf("Kelly fraction: %.3f", r.Kelly),
	}
}

// profitFactorInfinite is the sentinel returned in place of the
// mathematically correct +Inf (spec.md §4.5): decimal.Decimal has no
// representation for infinity, and constructing one via
// decimal.NewFromFloat(math.Inf(1)) is undefined behavior in
// shopspring/decimal. Callers should treat this value itself, not its
// magnitude, as "no losses to divide by".
var profitFactorInfinite = decimal.New(1, 9) // 1e9, an unambiguous "no losses" marker

// profitFactor is gross_win / gross_loss, profitFactorInfinite when there
// are wins but no losses, zero when there are neither (spec.md §4.5).
func profitFactor(grossWin, grossLoss decimal.Decimal) decimal.Decimal {
	if grossLoss.IsZero() {
		if grossWin.IsZero() {
			return decimal.Zero
		}
		return profitFactorInfinite
	}
	return grossWin.Div(grossLoss)
}

// maxDrawdown walks closed positions chronologically, tracking cumulative
// balance and its running peak (spec.md §4.5).
func maxDrawdown(closedPositions []*domain.Position, initialBalance decimal.Decimal) float64 {
	cum := initialBalance
	peak := initialBalance
	maxDD := 0.0

	for _, p := range closedPositions {
		cum = cum.Add(p.RealizedPnL)
		if cum.GreaterThan(peak) {
			peak = cum
		}
		if peak.IsPositive() {
			dd := peak.Sub(cum).Div(peak)
			ddFloat, _ := dd.Float64()
			if ddFloat > maxDD {
				maxDD = ddFloat
			}
		}
	}
	return maxDD * 100
}

// sharpe is mean(returns)/stdev(returns) over per-trade returns normalized
// by initial_balance; nil when fewer than 2 trades or stdev is zero/non-finite.
func sharpe(closedPositions []*domain.Position, initialBalance decimal.Decimal) *float64 {
	if len(closedPositions) < 2 || initialBalance.IsZero() {
		return nil
	}

	returns := make([]float64, 0, len(closedPositions))
	for _, p := range closedPositions {
		r := p.RealizedPnL.Div(initialBalance)
		f, _ := r.Float64()
		returns = append(returns, f)
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	stdev := math.Sqrt(variance)

	if !math.IsFinite(stdev) || stdev == 0 {
		return nil
	}
	ratio := mean / stdev
	if !math.IsFinite(ratio) {
		return nil
	}
	return &ratio
}

// kelly is (p*W/L - (1-p)) / (W/L), clamped to [0, 0.25] (spec.md §4.5).
func kelly(winRate float64, avgWin, avgLoss decimal.Decimal) float64 {
	if avgLoss.IsZero() {
		return 0
	}
	wOverL, _ := avgWin.Div(avgLoss).Float64()
	if !math.IsFinite(wOverL) || wOverL == 0 {
		return 0
	}
	f := (winRate*wOverL - (1 - winRate)) / wOverL
	if f < 0 {
		return 0
	}
	if f > 0.25 {
		return 0.25
	}
	return f
}
