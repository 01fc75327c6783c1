package kite

import (
	"context"
	"errors"
	"sync"
	"time"

	"trade-gateway/internal/logger"
	"trade-gateway/internal/types"

	"github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"
)

// OpenTickStream opens one websocket connection for the given token set and
// converts incoming ticks to symbol/price updates on a bounded channel. The
// channel closes when the connection gives up reconnecting or ctx is
// cancelled; the consumer owns any further reconnect policy.
func (k *Kite) OpenTickStream(ctx context.Context, tokens map[uint32]string) (<-chan types.Tick, error) {
	accessToken, ok := k.currentToken()
	if !ok {
		return nil, errors.New("no access token for tick stream")
	}
	if len(tokens) == 0 {
		return nil, errors.New("empty token set")
	}

	ids := make([]uint32, 0, len(tokens))
	for id := range tokens {
		ids = append(ids, id)
	}

	ticker := kiteticker.New(k.p.APIKey, accessToken)
	ticker.SetAutoReconnect(true)

	out := make(chan types.Tick, k.queueSize)

	// Guards the tick callback against pushing into a closed channel.
	var mu sync.Mutex
	closed := false
	closeOut := func() {
		ticker.Stop()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(out)
		}
	}

	ticker.OnConnect(func() {
		logger.Info(ctx, "Ticker connected", "instruments", len(ids))
		if err := ticker.Subscribe(ids); err != nil {
			logger.ErrorWithErr(ctx, "Ticker subscribe failed", err)
			return
		}
		if err := ticker.SetMode(kiteticker.ModeLTP, ids); err != nil {
			logger.ErrorWithErr(ctx, "Ticker mode change failed", err)
		}
	})

	ticker.OnTick(func(tick models.Tick) {
		symbol := tokens[tick.InstrumentToken]
		if symbol == "" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		push(out, types.Tick{Symbol: symbol, LastPrice: tick.LastPrice})
	})

	ticker.OnError(func(err error) {
		logger.ErrorWithErr(ctx, "Ticker error", err)
	})

	ticker.OnClose(func(code int, reason string) {
		logger.Warn(ctx, "Ticker connection closed", "code", code, "reason", reason)
	})

	ticker.OnReconnect(func(attempt int, delay time.Duration) {
		logger.Info(ctx, "Ticker reconnecting", "attempt", attempt, "delay", delay.String())
	})

	ticker.OnNoReconnect(func(attempt int) {
		logger.Warn(ctx, "Ticker gave up reconnecting", "attempts", attempt)
		closeOut()
	})

	go func() {
		<-ctx.Done()
		closeOut()
	}()

	go ticker.Serve()

	return out, nil
}

// push delivers a tick without ever blocking the websocket callback. When
// the queue is full the oldest update is dropped: last-writer-wins cache
// semantics prefer the newer price.
func push(out chan types.Tick, t types.Tick) {
	select {
	case out <- t:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- t:
	default:
	}
}
