// Package consumer is a thin Telegram-backed command surface over the
// engine (spec.md §6's operations exposed as chat commands rather than a
// function-call API). Grounded on bot/telegram.go's TelegramBot shape:
// one authorized chat ID, a command-dispatch switch, markdown replies.
package consumer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/domain"
	"github.com/web3guy0/polybot/internal/matching"
	"github.com/web3guy0/polybot/internal/stats"
)

// Engine is the subset of internal/engine.Engine the bot drives.
type Engine interface {
	PlaceOrder(ctx context.Context, req matching.PlaceOrderRequest) matching.OrderResult
	CancelOrder(orderID string) (*domain.Order, error)
	CancelAllOrders(symbol string) []*domain.Order
	FetchBalance() matching.Balance
	FetchPositions(ctx context.Context, symbols []string) []*domain.Position
	FetchOrders(status *domain.OrderStatus) []*domain.Order
	FetchTrades(limit int) ([]*domain.Trade, error)
	GetStatistics() (stats.Report, error)
	ResetAccount() error
}

// TelegramBot is a minimal command-and-notify front end for one engine.
type TelegramBot struct {
	mu      sync.RWMutex
	api     *tgbotapi.BotAPI
	chatID  int64
	engine  Engine
	running bool
	stopCh  chan struct{}
}

// NewTelegramBot authenticates against the Telegram Bot API and binds it
// to one engine instance.
func NewTelegramBot(token string, chatID int64, eng Engine) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("consumer: telegram bot: %w", err)
	}

	bot := &TelegramBot{
		api:    api,
		chatID: chatID,
		engine: eng,
		stopCh: make(chan struct{}),
	}

	log.Info().Str("username", api.Self.UserName).Msg("telegram consumer surface initialized")
	return bot, nil
}

// Start begins listening for commands.
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.commandLoop()
	log.Info().Msg("telegram consumer surface started")
}

// Stop stops the bot.
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	b.running = false
	close(b.stopCh)
}

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Chat.ID != b.chatID {
				continue
			}
			b.handleCommand(update.Message)
		}
	}
}

func (b *TelegramBot) handleCommand(msg *tgbotapi.Message) {
	ctx := context.Background()
	cmd := strings.ToLower(msg.Command())
	args := strings.Fields(msg.CommandArguments())

	switch cmd {
	case "start", "help":
		b.cmdHelp()
	case "balance":
		b.cmdBalance()
	case "positions":
		b.cmdPositions(ctx)
	case "orders":
		b.cmdOrders()
	case "trades":
		b.cmdTrades()
	case "stats":
		b.cmdStats()
	case "buy", "sell":
		b.cmdPlace(ctx, cmd, args)
	case "cancel":
		b.cmdCancel(args)
	case "cancelall":
		b.cmdCancelAll(args)
	case "reset":
		b.cmdReset()
	case "ping":
		b.send("pong")
	default:
		b.send("unknown command, /help for the list")
	}
}

func (b *TelegramBot) cmdHelp() {
	b.sendMarkdown("*Paper Trading Commands*\n" +
		"/balance\n" +
		"/positions\n" +
		"/orders\n" +
		"/trades\n" +
		"/stats\n" +
		"/buy SYMBOL QTY [PRICE]\n" +
		"/sell SYMBOL QTY [PRICE]\n" +
		"/cancel ORDER_ID\n" +
		"/cancelall [SYMBOL]\n" +
		"/reset")
}

func (b *TelegramBot) cmdBalance() {
	bal := b.engine.FetchBalance()
	b.sendMarkdown(fmt.Sprintf("*Balance*\nFree: %s\nUsed: %s\nTotal: %s",
		bal.Free.StringFixed(2), bal.Used.StringFixed(2), bal.Total.StringFixed(2)))
}

func (b *TelegramBot) cmdPositions(ctx context.Context) {
	positions := b.engine.FetchPositions(ctx, nil)
	if len(positions) == 0 {
		b.send("no open positions")
		return
	}
	var sb strings.Builder
	sb.WriteString("*Positions*\n")
	for _, p := range positions {
		if p.Status != domain.PositionOpen {
			continue
		}
		fmt.Fprintf(&sb, "%s %s qty=%s entry=%s pnl=%s\n",
			p.Symbol, p.Side, p.Quantity.String(), p.EntryPrice.StringFixed(4), p.UnrealizedPnL.StringFixed(2))
	}
	b.sendMarkdown(sb.String())
}

func (b *TelegramBot) cmdOrders() {
	orders := b.engine.FetchOrders(nil)
	if len(orders) == 0 {
		b.send("no orders")
		return
	}
	var sb strings.Builder
	sb.WriteString("*Orders*\n")
	for _, o := range orders {
		if o.Status.Terminal() {
			continue
		}
		fmt.Fprintf(&sb, "%s %s %s %s qty=%s status=%s\n",
			o.ID[:8], o.Symbol, o.Side, o.Type, o.Quantity.String(), o.Status)
	}
	b.sendMarkdown(sb.String())
}

func (b *TelegramBot) cmdTrades() {
	trades, err := b.engine.FetchTrades(10)
	if err != nil {
		b.send("failed to fetch trades: " + err.Error())
		return
	}
	if len(trades) == 0 {
		b.send("no trades yet")
		return
	}
	var sb strings.Builder
	sb.WriteString("*Last Trades*\n")
	for _, t := range trades {
		fmt.Fprintf(&sb, "%s %s %s @ %s qty=%s fee=%s\n",
			t.Symbol, t.Side, t.Timestamp.Format("15:04:05"), t.Price.StringFixed(4), t.Quantity.String(), t.Fee.StringFixed(4))
	}
	b.sendMarkdown(sb.String())
}

func (b *TelegramBot) cmdStats() {
	report, err := b.engine.GetStatistics()
	if err != nil {
		b.send("failed to compute statistics: " + err.Error())
		return
	}
	b.sendMarkdown("*Statistics*\n" + strings.Join(report.SummaryLines(), "\n"))
}

func (b *TelegramBot) cmdPlace(ctx context.Context, cmd string, args []string) {
	if len(args) < 2 {
		b.send("usage: /" + cmd + " SYMBOL QTY [PRICE]")
		return
	}
	qty, err := decimal.NewFromString(args[1])
	if err != nil {
		b.send("invalid quantity: " + args[1])
		return
	}

	side := domain.OrderBuy
	orderType := domain.OrderMarket
	if cmd == "sell" {
		side = domain.OrderSell
	}

	req := matching.PlaceOrderRequest{
		Symbol:   strings.ToUpper(args[0]),
		Side:     side,
		Type:     orderType,
		Quantity: qty,
	}
	if len(args) >= 3 {
		price, err := decimal.NewFromString(args[2])
		if err != nil {
			b.send("invalid price: " + args[2])
			return
		}
		req.Type = domain.OrderLimit
		req.Price = &price
	}

	result := b.engine.PlaceOrder(ctx, req)
	if result.Err != nil {
		b.send("order rejected: " + result.Err.Error())
		return
	}
	b.sendMarkdown(fmt.Sprintf("order %s: %s", result.Order.ID[:8], result.Order.Status))
}

func (b *TelegramBot) cmdCancel(args []string) {
	if len(args) < 1 {
		b.send("usage: /cancel ORDER_ID")
		return
	}
	order, err := b.engine.CancelOrder(args[0])
	if err != nil {
		b.send("cancel failed: " + err.Error())
		return
	}
	b.send("cancelled " + order.ID[:8])
}

func (b *TelegramBot) cmdCancelAll(args []string) {
	symbol := ""
	if len(args) > 0 {
		symbol = strings.ToUpper(args[0])
	}
	cancelled := b.engine.CancelAllOrders(symbol)
	b.send(fmt.Sprintf("cancelled %d orders", len(cancelled)))
}

func (b *TelegramBot) cmdReset() {
	if err := b.engine.ResetAccount(); err != nil {
		b.send("reset failed: " + err.Error())
		return
	}
	b.send("account reset to initial balance")
}

func (b *TelegramBot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("failed to send telegram message")
	}
}

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("failed to send telegram message")
	}
}
