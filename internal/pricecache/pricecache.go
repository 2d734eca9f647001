// Package pricecache is an LRU cache of per-symbol market snapshots plus
// the most recent streamed tick (spec.md §4.6), with freshness thresholds
// tuned per asset class (spec.md §6). No example repo in the retrieved
// pack imports a third-party LRU library directly (hashicorp/golang-lru
// only appears as an indirect dependency of a cache library hyperlicked
// never calls into), so this is built on container/list + map, the
// standard idiomatic Go LRU shape — see DESIGN.md.
package pricecache

import (
	"container/list"
	"sync"
	"time"

	"github.com/web3guy0/polybot/internal/domain"
	"github.com/web3guy0/polybot/internal/slippage"
)

// AssetClass tunes cache freshness thresholds (spec.md §6 table).
type AssetClass string

const (
	AssetCrypto      AssetClass = "crypto"
	AssetStocks      AssetClass = "stocks"
	AssetForex       AssetClass = "forex"
	AssetCommodities AssetClass = "commodities"
)

// Freshness is the (websocket tick max age, polled snapshot max age) pair
// for one asset class.
type Freshness struct {
	TickMaxAge     time.Duration
	SnapshotMaxAge time.Duration
}

var freshnessTable = map[AssetClass]Freshness{
	AssetCrypto:      {TickMaxAge: 500 * time.Millisecond, SnapshotMaxAge: 200 * time.Millisecond},
	AssetForex:       {TickMaxAge: 300 * time.Millisecond, SnapshotMaxAge: 150 * time.Millisecond},
	AssetStocks:      {TickMaxAge: 1000 * time.Millisecond, SnapshotMaxAge: 500 * time.Millisecond},
	AssetCommodities: {TickMaxAge: 2000 * time.Millisecond, SnapshotMaxAge: 1000 * time.Millisecond},
}

// FreshnessFor returns the configured thresholds for an asset class,
// falling back to the crypto table (the tightest) for an unknown class.
func FreshnessFor(class AssetClass) Freshness {
	if f, ok := freshnessTable[class]; ok {
		return f
	}
	return freshnessTable[AssetCrypto]
}

// DefaultCapacity is the bounded symbol count (spec.md §4.6: "e.g. 1 000 symbols").
const DefaultCapacity = 1000

type entry struct {
	symbol     string
	polled     *domain.PriceSnapshot
	polledAt   time.Time
	streamed   *domain.PriceSnapshot
	streamedAt time.Time
}

// Cache is an LRU of per-symbol quotes, internally synchronised (spec.md
// §5: "do not require external locks").
type Cache struct {
	mu         sync.Mutex
	capacity   int
	class      AssetClass
	items      map[string]*list.Element
	order      *list.List // front = most recently used
	volatility *slippage.Calculator
}

// New creates a price cache for the given asset class and capacity. If
// vol is non-nil, every polled/streamed snapshot is also fed into its
// volatility ring (spec.md §4.6).
func New(class AssetClass, capacity int, vol *slippage.Calculator) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity:   capacity,
		class:      class,
		items:      make(map[string]*list.Element),
		order:      list.New(),
		volatility: vol,
	}
}

func (c *Cache) touch(el *list.Element) {
	c.order.MoveToFront(el)
}

func (c *Cache) getOrCreate(symbol string) *entry {
	if el, ok := c.items[symbol]; ok {
		c.touch(el)
		return el.Value.(*entry)
	}

	e := &entry{symbol: symbol}
	el := c.order.PushFront(e)
	c.items[symbol] = el

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).symbol)
		}
	}
	return e
}

// PutPolled records a freshly-polled snapshot and appends it to the
// slippage calculator's volatility ring.
func (c *Cache) PutPolled(snap domain.PriceSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.getOrCreate(snap.Symbol)
	e.polled = &snap
	e.polledAt = time.Now()
	if c.volatility != nil {
		c.volatility.Observe(snap.Symbol, snap.Last)
	}
}

// PutStreamed records a tick from the streaming feed.
func (c *Cache) PutStreamed(snap domain.PriceSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.getOrCreate(snap.Symbol)
	e.streamed = &snap
	e.streamedAt = time.Now()
	if c.volatility != nil {
		c.volatility.Observe(snap.Symbol, snap.Last)
	}
}

// Get returns the freshest snapshot for symbol: the streamed tick if it is
// within its freshness window, else the polled snapshot if it is within
// its own, else ok=false (spec.md §4.6: "stream first, then polled cache").
func (c *Cache) Get(symbol string) (domain.PriceSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[symbol]
	if !ok {
		return domain.PriceSnapshot{}, false
	}
	c.touch(el)
	e := el.Value.(*entry)
	fresh := FreshnessFor(c.class)

	if e.streamed != nil && time.Since(e.streamedAt) <= fresh.TickMaxAge {
		return *e.streamed, true
	}
	if e.polled != nil && time.Since(e.polledAt) <= fresh.SnapshotMaxAge {
		return *e.polled, true
	}
	return domain.PriceSnapshot{}, false
}

// Len reports the number of symbols currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear empties the cache (spec.md §5 "Cleanup").
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
}
