package interfaces

import (
	"context"
	"time"

	"trade-gateway/internal/types"
)

// Broker is the narrow capability surface the gateway needs from the
// brokerage. The real implementation wraps the Kite Connect SDK; tests
// inject deterministic fakes.
type Broker interface {
	// ExchangeToken trades a request token for an access token. The caller
	// computes the checksum; the broker performs exactly one external call.
	ExchangeToken(ctx context.Context, requestToken, checksum string) (string, error)

	// SetAccessToken installs the session token used by all subsequent
	// privileged calls.
	SetAccessToken(token string)

	// LoginURL returns the brokerage login URL for this API key. No side
	// effects, no external call.
	LoginURL() string

	// LTP returns the last traded price for a symbol.
	LTP(ctx context.Context, symbol string) (float64, error)

	// HistoricalCandles returns minute candles covering [from, to].
	HistoricalCandles(ctx context.Context, symbol string, from, to time.Time) ([]types.Candle, error)

	// ResolveToken maps a trading symbol to its instrument token.
	ResolveToken(ctx context.Context, symbol string) (uint32, error)

	// PlaceOrder submits a normalized order request.
	PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error)

	// CancelOrder cancels a previously placed order and returns its id.
	CancelOrder(ctx context.Context, orderID string) (string, error)

	// OpenTickStream opens one streaming connection carrying the given
	// token set and returns a channel of per-instrument price updates.
	// The channel is closed when the connection terminates.
	OpenTickStream(ctx context.Context, tokens map[uint32]string) (<-chan types.Tick, error)
}
