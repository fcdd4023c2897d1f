package redisbus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PriceFeed maintains the latest price per symbol from upstream tick
// events. The trailing-stop loop snapshots it each cycle.
type PriceFeed struct {
	mu     sync.RWMutex
	prices map[string]float64
	asOf   map[string]time.Time
	logger *slog.Logger
}

// NewPriceFeed creates an empty feed.
func NewPriceFeed(logger *slog.Logger) *PriceFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceFeed{
		prices: make(map[string]float64),
		asOf:   make(map[string]time.Time),
		logger: logger,
	}
}

// Run subscribes to price ticks until ctx is cancelled.
func (f *PriceFeed) Run(ctx context.Context, bus *Bus) error {
	return bus.Subscribe(ctx, EventPriceTick, f.handleTick)
}

// Apply folds a single tick event into the feed, exactly as the
// subscription handler would.
func (f *PriceFeed) Apply(event *Event) error {
	return f.handleTick(context.Background(), event)
}

func (f *PriceFeed) handleTick(_ context.Context, event *Event) error {
	symbol := PayloadString(event.Payload, "symbol")
	price, ok := PayloadFloat(event.Payload, "price")
	if symbol == "" || !ok || price <= 0 {
		f.logger.Warn("Ignoring malformed price tick", "payload", event.Payload)
		return nil
	}

	f.mu.Lock()
	f.prices[symbol] = price
	f.asOf[symbol] = event.Timestamp
	f.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current price map.
func (f *PriceFeed) Snapshot() map[string]float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]float64, len(f.prices))
	for sym, p := range f.prices {
		out[sym] = p
	}
	return out
}

// Price returns the latest price for a symbol and when it was seen.
func (f *PriceFeed) Price(symbol string) (float64, time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[symbol]
	if !ok {
		return 0, time.Time{}, false
	}
	return p, f.asOf[symbol], true
}
