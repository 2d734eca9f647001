package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/domain"
)

// BinanceProvider is a Provider backed by Binance's combined-stream
// bookTicker websocket, with a REST bookTicker fallback for symbols not yet
// seen on the stream. Grounded on internal/binance/client.go's
// connect/reconnect/read-loop shape, generalized from a single hardcoded
// BTCUSDT stream to an arbitrary, dynamically-grown symbol set (every
// symbol the matching engine watches, not one pair).
type BinanceProvider struct {
	wsBase   string
	restBase string

	mu          sync.RWMutex
	conn        *websocket.Conn
	subscribed  map[string]bool
	lastTicker  map[string]domain.PriceSnapshot
	subs        map[string][]chan domain.PriceSnapshot
	running     bool
	stopCh      chan struct{}
}

// NewBinanceProvider creates a provider against Binance's public endpoints.
func NewBinanceProvider() *BinanceProvider {
	return &BinanceProvider{
		wsBase:     "wss://stream.binance.com:9443/stream",
		restBase:   "https://api.binance.com",
		subscribed: make(map[string]bool),
		lastTicker: make(map[string]domain.PriceSnapshot),
		subs:       make(map[string][]chan domain.PriceSnapshot),
		stopCh:     make(chan struct{}),
	}
}

// FetchTicker returns the most recent bookTicker snapshot for symbol,
// subscribing to its stream on first use and falling back to a one-shot
// REST call until the stream catches up.
func (p *BinanceProvider) FetchTicker(ctx context.Context, symbol string) (domain.PriceSnapshot, error) {
	p.ensureSubscribed(symbol)

	p.mu.RLock()
	snap, ok := p.lastTicker[symbol]
	p.mu.RUnlock()
	if ok {
		return snap, nil
	}

	return p.fetchRESTTicker(ctx, symbol)
}

// SubscribeTicks registers a channel for symbol and ensures its stream is
// part of the active websocket subscription.
func (p *BinanceProvider) SubscribeTicks(ctx context.Context, symbol string) (<-chan domain.PriceSnapshot, bool) {
	p.ensureSubscribed(symbol)

	ch := make(chan domain.PriceSnapshot, 16)
	p.mu.Lock()
	p.subs[symbol] = append(p.subs[symbol], ch)
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		defer p.mu.Unlock()
		filtered := p.subs[symbol][:0]
		for _, existing := range p.subs[symbol] {
			if existing != ch {
				filtered = append(filtered, existing)
			}
		}
		p.subs[symbol] = filtered
		close(ch)
	}()

	return ch, true
}

// ensureSubscribed adds symbol to the live stream set, reconnecting the
// combined stream if it isn't already covered.
func (p *BinanceProvider) ensureSubscribed(symbol string) {
	p.mu.Lock()
	alreadyWatching := p.subscribed[symbol]
	if !alreadyWatching {
		p.subscribed[symbol] = true
	}
	running := p.running
	p.mu.Unlock()

	if alreadyWatching {
		return
	}
	if !running {
		p.Start()
		return
	}
	p.reconnect()
}

// Start begins the combined-stream websocket loop over every watched symbol.
func (p *BinanceProvider) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.runWebSocket()
	log.Info().Msg("binance market data provider started")
}

// Stop closes the websocket connection and ends the read loop.
func (p *BinanceProvider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stopCh)
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *BinanceProvider) runWebSocket() {
	for {
		p.mu.RLock()
		running := p.running
		p.mu.RUnlock()
		if !running {
			return
		}

		if err := p.connect(); err != nil {
			log.Error().Err(err).Msg("binance websocket connection failed")
			time.Sleep(5 * time.Second)
			continue
		}
		p.readMessages()

		p.mu.RLock()
		running = p.running
		p.mu.RUnlock()
		if running {
			log.Warn().Msg("binance websocket disconnected, reconnecting")
			time.Sleep(time.Second)
		}
	}
}

// reconnect tears down and re-dials the combined stream so a newly watched
// symbol is included in the subscription set.
func (p *BinanceProvider) reconnect() {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (p *BinanceProvider) connect() error {
	p.mu.RLock()
	streams := make([]string, 0, len(p.subscribed))
	for symbol := range p.subscribed {
		streams = append(streams, strings.ToLower(symbol)+"@bookTicker")
	}
	p.mu.RUnlock()
	if len(streams) == 0 {
		return fmt.Errorf("binance: no symbols subscribed")
	}

	url := fmt.Sprintf("%s?streams=%s", p.wsBase, strings.Join(streams, "/"))
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("binance: dial: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	log.Info().Int("symbols", len(streams)).Msg("binance websocket connected")
	return nil
}

func (p *BinanceProvider) readMessages() {
	for {
		p.mu.RLock()
		conn := p.conn
		running := p.running
		p.mu.RUnlock()
		if conn == nil || !running {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if running {
				log.Error().Err(err).Msg("binance websocket read error")
			}
			return
		}
		p.handleMessage(raw)
	}
}

// bookTickerEnvelope is Binance's combined-stream wrapper around a bookTicker payload.
type bookTickerEnvelope struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol  string `json:"s"`
		BidPx   string `json:"b"`
		AskPx   string `json:"a"`
	} `json:"data"`
}

func (p *BinanceProvider) handleMessage(raw []byte) {
	var env bookTickerEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Data.Symbol == "" {
		return
	}

	bid, _ := decimal.NewFromString(env.Data.BidPx)
	ask, _ := decimal.NewFromString(env.Data.AskPx)
	last := bid.Add(ask).Div(decimal.NewFromInt(2))

	snap := domain.PriceSnapshot{Symbol: env.Data.Symbol, Bid: bid, Ask: ask, Last: last, Timestamp: time.Now()}

	p.mu.Lock()
	p.lastTicker[env.Data.Symbol] = snap
	subs := append([]chan domain.PriceSnapshot(nil), p.subs[env.Data.Symbol]...)
	p.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// fetchRESTTicker is the one-shot fallback used the first time a symbol is
// requested, before its websocket stream has produced a tick.
func (p *BinanceProvider) fetchRESTTicker(ctx context.Context, symbol string) (domain.PriceSnapshot, error) {
	url := fmt.Sprintf("%s/api/v3/ticker/bookTicker?symbol=%s", p.restBase, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.PriceSnapshot{}, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("binance: rest ticker: %w", err)
	}
	defer resp.Body.Close()

	var raw struct {
		Symbol string `json:"symbol"`
		BidPx  string `json:"bidPrice"`
		AskPx  string `json:"askPrice"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("binance: decode rest ticker: %w", err)
	}

	bid, _ := decimal.NewFromString(raw.BidPx)
	ask, _ := decimal.NewFromString(raw.AskPx)
	last := bid.Add(ask).Div(decimal.NewFromInt(2))

	snap := domain.PriceSnapshot{Symbol: symbol, Bid: bid, Ask: ask, Last: last, Timestamp: time.Now()}
	p.mu.Lock()
	p.lastTicker[symbol] = snap
	p.mu.Unlock()
	return snap, nil
}
