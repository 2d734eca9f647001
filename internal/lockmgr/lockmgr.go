// Package lockmgr provides advisory, ordered, timed mutual exclusion over
// keyed resources (spec.md §4.1). It replaces the teacher repo's ad hoc
// per-struct sync.RWMutex (see execution/executor.go, internal/risk/manager.go)
// with a single keyed lock table shared across the whole engine, so that
// locks spanning multiple resources (a portfolio and one of its symbols) can
// be acquired in a single globally-consistent order and never deadlock.
package lockmgr

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polybot/internal/metrics"
)

// DefaultTimeout is the default wait before a lock is force-released.
const DefaultTimeout = 5 * time.Second

// Namespace groups keys so the same identifier in two namespaces (e.g. a
// portfolio ID and an order ID that happen to collide) never alias.
type Namespace string

const (
	NamespacePortfolio       Namespace = "portfolio"
	NamespacePortfolioSymbol Namespace = "portfolio_symbol"
	NamespaceOrder           Namespace = "order"
)

// Key identifies one lockable resource.
type Key struct {
	Namespace Namespace
	ID        string
}

// PortfolioKey builds the lock key for a portfolio's cash balance.
func PortfolioKey(portfolioID string) Key {
	return Key{Namespace: NamespacePortfolio, ID: portfolioID}
}

// PortfolioSymbolKey builds the lock key for a (portfolio, symbol) pair.
func PortfolioSymbolKey(portfolioID, symbol string) Key {
	return Key{Namespace: NamespacePortfolioSymbol, ID: portfolioID + "/" + symbol}
}

// OrderKey builds the lock key for a single order.
func OrderKey(orderID string) Key {
	return Key{Namespace: NamespaceOrder, ID: orderID}
}

func (k Key) String() string { return string(k.Namespace) + ":" + k.ID }

// sortKeys returns a copy of keys in the global deterministic order: by
// namespace, then by identifier. This total order is what makes with-locks
// deadlock-free regardless of caller intent.
func sortKeys(keys []Key) []Key {
	sorted := make([]Key, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Namespace != sorted[j].Namespace {
			return sorted[i].Namespace < sorted[j].Namespace
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// entry is a single keyed mutex, implemented as a buffered channel acting
// as a binary semaphore so acquisition can be combined with a timeout via
// select, and waiters are served FIFO by Go's channel runtime.
type entry struct {
	ch      chan struct{}
	waiters int
}

func newEntry() *entry {
	e := &entry{ch: make(chan struct{}, 1)}
	e.ch <- struct{}{}
	return e
}

// Manager is the lock table. One Manager is shared by the whole engine
// (spec.md §9: "a single engine instance per process is acceptable as a
// convention, not a hard global" — so is a single Manager, constructed
// explicitly and passed in).
type Manager struct {
	mu      sync.Mutex
	entries map[Key]*entry
	timeout time.Duration
}

// New creates a lock manager with the given default per-lock timeout. A
// zero timeout falls back to DefaultTimeout.
func New(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		entries: make(map[Key]*entry),
		timeout: timeout,
	}
}

func (m *Manager) entryFor(key Key) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = newEntry()
		m.entries[key] = e
	}
	e.waiters++
	return e
}

func (m *Manager) releaseWaiter(key Key, e *entry) {
	m.mu.Lock()
	e.waiters--
	if e.waiters <= 0 {
		delete(m.entries, key)
	}
	m.mu.Unlock()
}

// held tracks, for one WithLocks call, which locks were genuinely
// acquired (token received) versus force-released past a timeout — only
// the former are returned to the channel on unwind.
type held struct {
	key  Key
	e    *entry
	real bool
}

// WithLocks acquires every key in global sorted order and releases them in
// reverse on any exit, normal or panicking. On a per-lock timeout the lock
// is force-released (a warning is logged and the caller proceeds as though
// it had acquired the lock fresh) rather than blocking forever.
func (m *Manager) WithLocks(keys []Key, fn func() error) error {
	ordered := sortKeys(keys)
	heldLocks := make([]held, 0, len(ordered))

	defer func() {
		for i := len(heldLocks) - 1; i >= 0; i-- {
			h := heldLocks[i]
			if h.real {
				h.e.ch <- struct{}{}
			}
			m.releaseWaiter(h.key, h.e)
		}
	}()

	for _, key := range ordered {
		waitStart := time.Now()
		e := m.entryFor(key)
		select {
		case <-e.ch:
			metrics.LockWaitSeconds.Observe(time.Since(waitStart).Seconds())
			heldLocks = append(heldLocks, held{key: key, e: e, real: true})
		case <-time.After(m.timeout):
			metrics.LockWaitSeconds.Observe(time.Since(waitStart).Seconds())
			log.Warn().Str("key", key.String()).Dur("timeout", m.timeout).Msg("lock timeout, force-releasing and proceeding")
			heldLocks = append(heldLocks, held{key: key, e: e, real: false})
		}
	}

	return fn()
}

// ClearAll wakes every outstanding waiter by replacing the lock table.
// Used only on shutdown or portfolio reset (spec.md §5 "Cleanup").
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		select {
		case e.ch <- struct{}{}:
		default:
		}
		delete(m.entries, key)
	}
}
