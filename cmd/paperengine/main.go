package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polybot/internal/config"
	"github.com/web3guy0/polybot/internal/consumer"
	"github.com/web3guy0/polybot/internal/engine"
	"github.com/web3guy0/polybot/internal/marketdata"
	"github.com/web3guy0/polybot/internal/metrics"
)

const VERSION = "v1.0"

func main() {
	// ═══════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found")
	} else {
		log.Info().Msg(".env file loaded successfully")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg := config.Load()
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("═══════════════════════════════════════════════════")
	log.Info().Msgf("   PAPER TRADING ENGINE %s", VERSION)
	log.Info().Msg("═══════════════════════════════════════════════════")

	log.Debug().
		Str("portfolio_id", cfg.PortfolioID).
		Str("initial_balance", cfg.InitialBalance.StringFixed(2)).
		Str("database_url", cfg.DatabaseURL).
		Bool("telegram_enabled", cfg.TelegramEnabled).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("configuration loaded")

	// ═══════════════════════════════════════════════════════════════════
	// LAYER 1: MARKET DATA
	// ═══════════════════════════════════════════════════════════════════

	var market marketdata.Provider
	switch cfg.MarketDataSource {
	case "binance":
		bp := marketdata.NewBinanceProvider()
		market = bp
		log.Info().Msg("binance market data provider selected")
	default:
		if cfg.MarketDataWSURL == "" {
			log.Fatal().Msg("MARKET_DATA_WS_URL is required when MARKET_DATA_SOURCE=ws")
		}
		ws := marketdata.NewWSClient(cfg.MarketDataWSURL)
		if err := ws.Connect(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to market data feed")
		}
		market = ws
		log.Info().Str("url", cfg.MarketDataWSURL).Msg("market data feed connected")
	}

	// ═══════════════════════════════════════════════════════════════════
	// LAYER 2: ENGINE
	// ═══════════════════════════════════════════════════════════════════

	eng, err := engine.New(cfg, market)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)
	log.Info().Msg("matching engine started")

	// ═══════════════════════════════════════════════════════════════════
	// LAYER 3: METRICS
	// ═══════════════════════════════════════════════════════════════════

	if cfg.MetricsEnabled {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics endpoint listening")
	}

	// ═══════════════════════════════════════════════════════════════════
	// LAYER 4: TELEGRAM
	// ═══════════════════════════════════════════════════════════════════

	var tgBot *consumer.TelegramBot
	if cfg.TelegramEnabled {
		tg, err := consumer.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID, eng)
		if err != nil {
			log.Warn().Err(err).Msg("telegram unavailable")
		} else {
			tgBot = tg
			tgBot.Start()
			log.Info().Msg("telegram consumer surface started")
		}
	}

	log.Info().Msg("running...")

	// ═══════════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════════

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Warn().Msg("shutdown signal received, stopping")

	if tgBot != nil {
		tgBot.Stop()
	}
	if bp, ok := market.(*marketdata.BinanceProvider); ok {
		bp.Stop()
	}
	if ws, ok := market.(*marketdata.WSClient); ok {
		ws.Close()
	}
	eng.Stop()
	cancel()

	log.Info().Msg("shutdown complete")
}
