// Package config loads the PaperTradingConfig the rest of the module runs
// on (spec.md §6). Grounded on the teacher's internal/config/config.go:
// plain os.Getenv reads with typed defaults, no flag/viper/cobra layer.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/domain"
	"github.com/web3guy0/polybot/internal/pricecache"
	"github.com/web3guy0/polybot/internal/slippage"
)

// Config is the full set of tunables a paper trading engine instance needs.
type Config struct {
	Debug bool

	PortfolioID   string
	PortfolioName string
	ProviderTag   string
	Currency      string

	InitialBalance    decimal.Decimal
	DefaultLeverage   int
	DefaultMarginMode domain.MarginMode

	AssetClass pricecache.AssetClass // tunes price cache freshness windows (spec.md §6)

	EntryFeeRate decimal.Decimal
	ExitFeeRate  decimal.Decimal
	MakerFeeRate decimal.Decimal
	TakerFeeRate decimal.Decimal

	SlippageModel            slippage.Model
	SlippageBase             decimal.Decimal
	SlippageLimitComponent   decimal.Decimal
	SlippageSizeImpactFactor decimal.Decimal
	SlippageVolMultiplier    decimal.Decimal

	SimulatedLatency  time.Duration
	PricePollInterval time.Duration

	DatabaseURL string // sqlite file path, or postgres://... DSN

	MarketDataSource string // "ws" (generic feed at MarketDataWSURL) or "binance" (built-in Binance bookTicker provider)
	MarketDataWSURL  string

	LockTimeout time.Duration

	TelegramEnabled bool
	TelegramToken   string
	TelegramChatID  int64

	MetricsEnabled bool
	MetricsAddr    string
}

// Load reads Config from the process environment, applying defaults for
// anything unset (spec.md §6: every field listed there has a default).
func Load() Config {
	cfg := Config{
		Debug: os.Getenv("DEBUG") == "true",

		PortfolioID:   getEnv("PORTFOLIO_ID", "default"),
		PortfolioName: getEnv("PORTFOLIO_NAME", "Paper Portfolio"),
		ProviderTag:   getEnv("PROVIDER_TAG", "paper"),
		Currency:      getEnv("PORTFOLIO_CURRENCY", "USD"),

		InitialBalance:    getDecimal("INITIAL_BALANCE", decimal.NewFromInt(10000)),
		DefaultLeverage:   getInt("DEFAULT_LEVERAGE", 1),
		DefaultMarginMode: domain.MarginMode(getEnv("DEFAULT_MARGIN_MODE", string(domain.MarginIsolated))),

		AssetClass: getAssetClass("ASSET_CLASS", pricecache.AssetCrypto),

		EntryFeeRate: getDecimal("ENTRY_FEE_RATE", decimal.NewFromFloat(0.0005)),
		ExitFeeRate:  getDecimal("EXIT_FEE_RATE", decimal.NewFromFloat(0.0005)),
		MakerFeeRate: getDecimal("MAKER_FEE_RATE", decimal.NewFromFloat(0.0002)),
		TakerFeeRate: getDecimal("TAKER_FEE_RATE", decimal.NewFromFloat(0.0005)),

		SlippageModel:            getSlippageModel("SLIPPAGE_MODEL", slippage.ModelSizeDependent),
		SlippageBase:             getDecimal("SLIPPAGE_BASE", decimal.NewFromFloat(0.0005)),
		SlippageLimitComponent:   getDecimal("SLIPPAGE_LIMIT_COMPONENT", decimal.Zero),
		SlippageSizeImpactFactor: getDecimal("SLIPPAGE_SIZE_IMPACT_FACTOR", decimal.NewFromFloat(0.0001)),
		SlippageVolMultiplier:    getDecimal("SLIPPAGE_VOL_MULTIPLIER", decimal.NewFromFloat(1.0)),

		SimulatedLatency:  getDuration("SIMULATED_LATENCY_MS", 50*time.Millisecond, time.Millisecond),
		PricePollInterval: getDuration("PRICE_POLL_INTERVAL_MS", 500*time.Millisecond, time.Millisecond),

		DatabaseURL: getEnv("DATABASE_URL", "data/paper_trading.db"),

		MarketDataSource: getEnv("MARKET_DATA_SOURCE", "ws"),
		MarketDataWSURL:  getEnv("MARKET_DATA_WS_URL", ""),

		LockTimeout: getDuration("LOCK_TIMEOUT_MS", 5000*time.Millisecond, time.Millisecond),

		TelegramEnabled: os.Getenv("TELEGRAM_BOT_TOKEN") != "",
		TelegramToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:  getInt64("TELEGRAM_CHAT_ID", 0),

		MetricsEnabled: os.Getenv("METRICS_ENABLED") == "true",
		MetricsAddr:    getEnv("METRICS_ADDR", ":9090"),
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}

// getAssetClass reads an AssetClass, falling back for anything unset or
// unrecognized (spec.md §6: asset_class ∈ {crypto, stocks, forex, commodities}).
func getAssetClass(key string, fallback pricecache.AssetClass) pricecache.AssetClass {
	switch pricecache.AssetClass(os.Getenv(key)) {
	case pricecache.AssetCrypto, pricecache.AssetStocks, pricecache.AssetForex, pricecache.AssetCommodities:
		return pricecache.AssetClass(os.Getenv(key))
	default:
		return fallback
	}
}

// getSlippageModel reads a slippage.Model, falling back for anything unset
// or unrecognized (spec.md §6: slippage.model).
func getSlippageModel(key string, fallback slippage.Model) slippage.Model {
	switch slippage.Model(os.Getenv(key)) {
	case slippage.ModelFixed, slippage.ModelSizeDependent, slippage.ModelVolatilityAdjusted:
		return slippage.Model(os.Getenv(key))
	default:
		return fallback
	}
}

func getDuration(key string, fallback time.Duration, unit time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * unit
		}
	}
	return fallback
}
