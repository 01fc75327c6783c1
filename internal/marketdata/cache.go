package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trade-gateway/internal/interfaces"
	"trade-gateway/internal/logger"
	"trade-gateway/internal/types"
)

const (
	defaultReconnectInitial = 1 * time.Second
	defaultReconnectMax     = 30 * time.Second
)

// Cache owns the symbol -> last price mapping for a fixed watchlist. A
// single background consumer writes streamed ticks; request handlers read
// concurrently. Entries are created lazily and never deleted.
type Cache struct {
	broker    interfaces.Broker
	watchlist []string

	mu     sync.RWMutex
	prices map[string]float64

	reconnectInitial time.Duration
	reconnectMax     time.Duration
}

type CacheParams struct {
	Broker           interfaces.Broker
	Watchlist        []string
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

func NewCache(p CacheParams) *Cache {
	if p.ReconnectInitial <= 0 {
		p.ReconnectInitial = defaultReconnectInitial
	}
	if p.ReconnectMax < p.ReconnectInitial {
		p.ReconnectMax = defaultReconnectMax
	}
	wl := make([]string, len(p.Watchlist))
	copy(wl, p.Watchlist)
	return &Cache{
		broker:           p.Broker,
		watchlist:        wl,
		prices:           make(map[string]float64),
		reconnectInitial: p.ReconnectInitial,
		reconnectMax:     p.ReconnectMax,
	}
}

// Watchlist returns the ordered watchlist. The returned slice is a copy.
func (c *Cache) Watchlist() []string {
	wl := make([]string, len(c.watchlist))
	copy(wl, c.watchlist)
	return wl
}

// Subscribe resolves each watchlist symbol to an instrument token and starts
// the background tick consumer over the resolved set. Symbols that fail to
// resolve are skipped; zero resolved tokens makes subscription a no-op.
func (c *Cache) Subscribe(ctx context.Context) error {
	tokens := make(map[uint32]string, len(c.watchlist))
	for _, sym := range c.watchlist {
		token, err := c.broker.ResolveToken(ctx, sym)
		if err != nil {
			logger.Warn(ctx, "Failed to resolve instrument token", "symbol", sym, "error", err)
			continue
		}
		tokens[token] = sym
	}

	if len(tokens) == 0 {
		logger.Warn(ctx, "No instrument tokens resolved - skipping tick subscription")
		return nil
	}

	logger.Info(ctx, "Subscribing to tick stream", "instruments", len(tokens), "watchlist", len(c.watchlist))
	go c.consume(ctx, tokens)
	return nil
}

// consume keeps one tick stream open for the token set, reconnecting with
// exponential backoff when it drops, until ctx is cancelled. The cache is
// never cleared on disconnect: last-writer-wins entries stay served.
func (c *Cache) consume(ctx context.Context, tokens map[uint32]string) {
	backoff := c.reconnectInitial
	for {
		ticks, err := c.broker.OpenTickStream(ctx, tokens)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to open tick stream", err, "retry_in", backoff.String())
		} else {
			if c.drain(ctx, ticks) {
				backoff = c.reconnectInitial
			}
			logger.Warn(ctx, "Tick stream closed", "retry_in", backoff.String())
		}

		select {
		case <-ctx.Done():
			logger.Info(ctx, "Tick consumer stopped")
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > c.reconnectMax {
			backoff = c.reconnectMax
		}
	}
}

// drain applies ticks until the stream closes or ctx is cancelled. A single
// consumer preserves per-symbol receipt order. Returns whether the
// connection delivered at least one tick.
func (c *Cache) drain(ctx context.Context, ticks <-chan types.Tick) bool {
	applied := false
	for {
		select {
		case <-ctx.Done():
			return applied
		case tick, ok := <-ticks:
			if !ok {
				return applied
			}
			c.mu.Lock()
			c.prices[tick.Symbol] = tick.LastPrice
			c.mu.Unlock()
			applied = true
		}
	}
}

// GetPrice returns the cached last price for a symbol, falling back to one
// synchronous quote call on a miss. The fallback runs with no lock held so a
// slow quote never serializes cache access.
func (c *Cache) GetPrice(ctx context.Context, symbol string) (float64, error) {
	c.mu.RLock()
	price, ok := c.prices[symbol]
	c.mu.RUnlock()
	if ok {
		return price, nil
	}

	price, err := c.broker.LTP(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("quote fetch for %s: %w", symbol, err)
	}

	// A fallback quote is a legitimate last-known price: keep it so repeated
	// misses before the stream warms up cost one call, not one per caller.
	// A tick that landed in the meantime is fresher and wins.
	c.mu.Lock()
	if _, exists := c.prices[symbol]; !exists {
		c.prices[symbol] = price
	}
	c.mu.Unlock()

	logger.Debug(ctx, "Cache miss served by quote fallback", "symbol", symbol, "price", price)
	return price, nil
}
