package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/domain"
)

// WSClient is a generic streaming Provider over a gorilla/websocket
// connection. Grounded on internal/polymarket/ws_client.go: a single
// connection, a per-symbol subscription set, and a read loop, but
// generalized from Polymarket's condition/price-change wire format to a
// plain {symbol, bid, ask, last, ts} tick message so it can front any
// upstream that speaks that shape. A read error ends the read loop; the
// client does not redial.
type WSClient struct {
	url string

	mu         sync.RWMutex
	conn       *websocket.Conn
	subs       map[string][]chan domain.PriceSnapshot
	lastTicker map[string]domain.PriceSnapshot

	stopCh chan struct{}
}

// wireTick is the minimal message shape this client understands on the wire.
type wireTick struct {
	Symbol    string  `json:"symbol"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Last      float64 `json:"last"`
	Timestamp int64   `json:"timestamp_ms"`
}

// NewWSClient creates a streaming client against the given websocket URL.
// Connect must be called before SubscribeTicks delivers anything.
func NewWSClient(url string) *WSClient {
	return &WSClient{
		url:        url,
		subs:       make(map[string][]chan domain.PriceSnapshot),
		lastTicker: make(map[string]domain.PriceSnapshot),
		stopCh:     make(chan struct{}),
	}
}

// Connect dials the upstream and starts the read loop in the background.
func (c *WSClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("marketdata: dial %s: %w", c.url, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop()
	log.Info().Str("url", c.url).Msg("market data stream connected")
	return nil
}

// Close stops the read loop and closes the connection.
func (c *WSClient) Close() error {
	close(c.stopCh)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *WSClient) readLoop() {
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("market data stream read failed")
			return
		}

		var tick wireTick
		if err := json.Unmarshal(raw, &tick); err != nil {
			log.Warn().Err(err).Msg("market data stream: malformed tick")
			continue
		}

		snap := domain.PriceSnapshot{
			Symbol:    tick.Symbol,
			Bid:       decimal.NewFromFloat(tick.Bid),
			Ask:       decimal.NewFromFloat(tick.Ask),
			Last:      decimal.NewFromFloat(tick.Last),
			Timestamp: time.UnixMilli(tick.Timestamp),
		}
		c.dispatch(snap)
	}
}

func (c *WSClient) dispatch(snap domain.PriceSnapshot) {
	c.mu.Lock()
	c.lastTicker[snap.Symbol] = snap
	subs := append([]chan domain.PriceSnapshot(nil), c.subs[snap.Symbol]...)
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			// Slow consumer: drop the tick rather than block the read loop.
		}
	}
}

// FetchTicker returns the last snapshot seen on the stream for symbol.
func (c *WSClient) FetchTicker(_ context.Context, symbol string) (domain.PriceSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.lastTicker[symbol]
	if !ok {
		return domain.PriceSnapshot{}, fmt.Errorf("marketdata: no ticker observed for %s", symbol)
	}
	return snap, nil
}

// SubscribeTicks registers a channel that receives every tick for symbol.
func (c *WSClient) SubscribeTicks(ctx context.Context, symbol string) (<-chan domain.PriceSnapshot, bool) {
	ch := make(chan domain.PriceSnapshot, 16)
	c.mu.Lock()
	c.subs[symbol] = append(c.subs[symbol], ch)
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		filtered := c.subs[symbol][:0]
		for _, existing := range c.subs[symbol] {
			if existing != ch {
				filtered = append(filtered, existing)
			}
		}
		c.subs[symbol] = filtered
		close(ch)
	}()

	return ch, true
}
