package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestBinanceProviderHandleMessageUpdatesLastTickerAndFansOutToSubscribers(t *testing.T) {
	p := NewBinanceProvider()

	ch, ok := p.SubscribeTicks(context.Background(), "BTCUSDT")
	if !ok {
		t.Fatal("expected streaming support")
	}

	raw := []byte(`{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"49999.50","a":"50000.50"}}`)
	p.handleMessage(raw)

	wantBid := decimal.NewFromFloat(49999.50)
	wantAsk := decimal.NewFromFloat(50000.50)
	wantLast := wantBid.Add(wantAsk).Div(decimal.NewFromInt(2))

	select {
	case snap := <-ch:
		if snap.Symbol != "BTCUSDT" {
			t.Errorf("symbol = %s, want BTCUSDT", snap.Symbol)
		}
		if !snap.Last.Equal(wantLast) {
			t.Errorf("last = %s, want %s", snap.Last, wantLast)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}

	p.mu.RLock()
	cached, ok := p.lastTicker["BTCUSDT"]
	p.mu.RUnlock()
	if !ok {
		t.Fatal("expected lastTicker to be populated")
	}
	if !cached.Last.Equal(wantLast) {
		t.Errorf("cached last = %s, want %s", cached.Last, wantLast)
	}
}

func TestBinanceProviderHandleMessageIgnoresMalformedPayload(t *testing.T) {
	p := NewBinanceProvider()
	p.handleMessage([]byte(`not json`))
	p.handleMessage([]byte(`{"stream":"x","data":{}}`))

	p.mu.RLock()
	n := len(p.lastTicker)
	p.mu.RUnlock()
	if n != 0 {
		t.Errorf("expected no ticker entries from malformed input, got %d", n)
	}
}

func TestBinanceProviderEnsureSubscribedStartsTheReadLoopOnce(t *testing.T) {
	p := NewBinanceProvider()
	p.ensureSubscribed("BTCUSDT")

	p.mu.RLock()
	running := p.running
	watching := p.subscribed["BTCUSDT"]
	p.mu.RUnlock()

	if !running {
		t.Error("expected provider to be running after first subscription")
	}
	if !watching {
		t.Error("expected BTCUSDT to be marked subscribed")
	}
	p.Stop()
}
