// Package marketdata defines the external market-data provider interface
// consumed by the engine (spec.md §6) and a gorilla/websocket-based
// streaming client, grounded on internal/polymarket/ws_client.go and
// feeds/polymarket_ws.go's subscription-loop idiom.
package marketdata

import (
	"context"

	"github.com/web3guy0/polybot/internal/domain"
)

// Provider is the market-data collaborator the engine is built against. It
// is treated only as an interface (spec.md §1): implementations may poll a
// REST ticker endpoint, a websocket feed, or (in tests) a fixed table.
type Provider interface {
	// FetchTicker returns the latest snapshot for symbol.
	FetchTicker(ctx context.Context, symbol string) (domain.PriceSnapshot, error)

	// SubscribeTicks returns a channel of snapshots for symbol, or
	// (nil, false) if the provider has no streaming support for it — the
	// engine then falls back to polling FetchTicker.
	SubscribeTicks(ctx context.Context, symbol string) (<-chan domain.PriceSnapshot, bool)
}
