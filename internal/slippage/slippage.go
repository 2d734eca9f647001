// Package slippage converts a reference price into a simulated execution
// price (spec.md §4.2), grounded on the teacher's SlippageBps paper-fill
// model in execution/executor.go and the ring-buffer/average style of
// internal/indicators/indicators.go.
package slippage

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/domain"
	"github.com/web3guy0/polybot/internal/domainerr"
)

// Model selects which slippage formula is used.
type Model string

const (
	ModelFixed               Model = "fixed"
	ModelSizeDependent       Model = "size-dependent"
	ModelVolatilityAdjusted  Model = "volatility-adjusted"
)

// ringSize is the number of recent last-prices kept per symbol for
// volatility estimation (spec.md §4.2: "e.g. N=32").
const ringSize = 32

// Config holds the tunables from PaperTradingConfig.slippage (spec.md §6).
type Config struct {
	Model            Model
	BaseSlippage     decimal.Decimal // base, e.g. 0.001
	LimitComponent   decimal.Decimal // limit_component: applied only to a marketable limit's own fill, never to a resting/maker fill
	SizeImpactFactor decimal.Decimal // size_impact_factor
	VolMultiplier    decimal.Decimal // volatility_multiplier
}

// ring is a fixed-size circular buffer of recent last-prices for one symbol.
type ring struct {
	values [ringSize]float64
	count  int
	next   int
}

func (r *ring) push(v float64) {
	r.values[r.next] = v
	r.next = (r.next + 1) % ringSize
	if r.count < ringSize {
		r.count++
	}
}

// stdevReturns computes the population standard deviation of consecutive
// percentage returns over the buffered history, oldest-first.
func (r *ring) stdevReturns() (float64, bool) {
	if r.count < 3 {
		return 0, false
	}
	ordered := make([]float64, r.count)
	start := r.next - r.count
	if start < 0 {
		start += ringSize
	}
	for i := 0; i < r.count; i++ {
		ordered[i] = r.values[(start+i)%ringSize]
	}

	returns := make([]float64, 0, len(ordered)-1)
	for i := 1; i < len(ordered); i++ {
		prev := ordered[i-1]
		if prev == 0 {
			continue
		}
		returns = append(returns, (ordered[i]-prev)/prev)
	}
	if len(returns) < 2 {
		return 0, false
	}

	mean := 0.0
	for _, v := range returns {
		mean += v
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, v := range returns {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	if !math.IsFinite(variance) || variance < 0 {
		return 0, false
	}
	return math.Sqrt(variance), true
}

// Stats exposes non-fatal conditions observed by the calculator, per
// spec.md §4.2's "signals a warning via its stats API".
type Stats struct {
	DegenerateInputCount int
	InsufficientHistory  int
}

// Calculator estimates the execution price a paper fill would receive.
type Calculator struct {
	mu      sync.Mutex
	config  Config
	history map[string]*ring
	stats   Stats
}

// New creates a slippage calculator with the given model configuration.
func New(config Config) *Calculator {
	return &Calculator{
		config:  config,
		history: make(map[string]*ring),
	}
}

// Observe feeds a new last-price for a symbol into the volatility ring.
// Called by the price cache whenever a fresher snapshot arrives.
func (c *Calculator) Observe(symbol string, last decimal.Decimal) {
	if last.IsZero() || last.IsNegative() {
		return
	}
	f, _ := last.Float64()

	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.history[symbol]
	if !ok {
		r = &ring{}
		c.history[symbol] = r
	}
	r.push(f)
}

// Price computes the execution price for a market-type fill of the given
// quantity against the given reference price, using the configured model.
// Returns domainerr.InvalidInput only when side is neither buy nor sell.
func (c *Calculator) Price(symbol string, side domain.OrderSide, quantity, referencePrice decimal.Decimal) (decimal.Decimal, error) {
	if side != domain.OrderBuy && side != domain.OrderSell {
		return decimal.Zero, domainerr.InvalidInput{Reason: "side must be buy or sell"}
	}

	if referencePrice.LessThanOrEqual(decimal.Zero) {
		c.mu.Lock()
		c.stats.DegenerateInputCount++
		c.mu.Unlock()
		return referencePrice, nil
	}

	sign := decimal.NewFromInt(1)
	if side == domain.OrderSell {
		sign = decimal.NewFromInt(-1)
	}

	slippagePct := c.config.BaseSlippage

	if c.config.Model == ModelSizeDependent || c.config.Model == ModelVolatilityAdjusted {
		notional := quantity.Mul(referencePrice)
		impact := c.config.SizeImpactFactor.Mul(notional).Div(decimal.NewFromInt(10_000))
		slippagePct = slippagePct.Add(impact.Div(referencePrice))
	}

	if c.config.Model == ModelVolatilityAdjusted {
		c.mu.Lock()
		r, ok := c.history[symbol]
		var sigma float64
		var have bool
		if ok {
			sigma, have = r.stdevReturns()
		}
		if !have {
			c.stats.InsufficientHistory++
		}
		c.mu.Unlock()
		if have {
			vol := c.config.VolMultiplier.Mul(decimal.NewFromFloat(sigma))
			slippagePct = slippagePct.Add(vol)
		}
	}

	return c.applySlippage(sign, slippagePct, referencePrice)
}

// LimitPrice computes the execution price for a marketable limit order's
// own fill (one that crosses and fills at placement time) using only
// limit_component, never the market model's base/size/volatility terms. A
// resting limit later picked up by the monitoring loop fills at its exact
// limit price (spec.md §4.4 S2) and never calls this.
func (c *Calculator) LimitPrice(side domain.OrderSide, limitPrice decimal.Decimal) (decimal.Decimal, error) {
	if side != domain.OrderBuy && side != domain.OrderSell {
		return decimal.Zero, domainerr.InvalidInput{Reason: "side must be buy or sell"}
	}
	if limitPrice.LessThanOrEqual(decimal.Zero) {
		c.mu.Lock()
		c.stats.DegenerateInputCount++
		c.mu.Unlock()
		return limitPrice, nil
	}

	sign := decimal.NewFromInt(1)
	if side == domain.OrderSell {
		sign = decimal.NewFromInt(-1)
	}
	return c.applySlippage(sign, c.config.LimitComponent, limitPrice)
}

func (c *Calculator) applySlippage(sign, slippagePct, referencePrice decimal.Decimal) (decimal.Decimal, error) {
	execPrice := referencePrice.Mul(decimal.NewFromInt(1).Add(sign.Mul(slippagePct)))
	if execPrice.LessThanOrEqual(decimal.Zero) {
		// Never produce a non-positive price (spec.md §4.2).
		execPrice = referencePrice
	}
	return execPrice, nil
}

// Stats returns a snapshot of accumulated warning counters.
func (c *Calculator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
