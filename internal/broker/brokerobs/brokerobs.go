package brokerobs

import (
	"context"
	"time"

	"trade-gateway/internal/interfaces"
	"trade-gateway/internal/logger"
	"trade-gateway/internal/trace"
	"trade-gateway/internal/types"
)

// observableBroker wraps a Broker with logging and tracing.
type observableBroker struct {
	broker interfaces.Broker
}

var _ interfaces.Broker = (*observableBroker)(nil)

// Wrap wraps a broker with observability middleware.
func Wrap(broker interfaces.Broker) interfaces.Broker {
	return &observableBroker{broker: broker}
}

func (ob *observableBroker) ExchangeToken(ctx context.Context, requestToken, checksum string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "broker.ExchangeToken")
	defer span.End()

	token, err := ob.broker.ExchangeToken(ctx, requestToken, checksum)
	if err != nil {
		logger.ErrorWithErr(ctx, "Token exchange failed", err)
		return "", err
	}

	logger.Info(ctx, "Token exchange succeeded")
	return token, nil
}

func (ob *observableBroker) SetAccessToken(token string) {
	ob.broker.SetAccessToken(token)
}

func (ob *observableBroker) LoginURL() string {
	return ob.broker.LoginURL()
}

func (ob *observableBroker) LTP(ctx context.Context, symbol string) (float64, error) {
	ctx, span := trace.StartSpan(ctx, "broker.LTP")
	defer span.End()

	price, err := ob.broker.LTP(ctx, symbol)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to fetch LTP", err, "symbol", symbol)
		return 0, err
	}

	logger.Debug(ctx, "LTP fetched", "symbol", symbol, "price", price)
	return price, nil
}

func (ob *observableBroker) HistoricalCandles(ctx context.Context, symbol string, from, to time.Time) ([]types.Candle, error) {
	ctx, span := trace.StartSpan(ctx, "broker.HistoricalCandles")
	defer span.End()

	candles, err := ob.broker.HistoricalCandles(ctx, symbol, from, to)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to fetch candles", err, "symbol", symbol)
		return nil, err
	}

	logger.Debug(ctx, "Candles fetched", "symbol", symbol, "count", len(candles))
	return candles, nil
}

func (ob *observableBroker) ResolveToken(ctx context.Context, symbol string) (uint32, error) {
	ctx, span := trace.StartSpan(ctx, "broker.ResolveToken")
	defer span.End()

	token, err := ob.broker.ResolveToken(ctx, symbol)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to resolve instrument token", err, "symbol", symbol)
		return 0, err
	}

	logger.Debug(ctx, "Instrument token resolved", "symbol", symbol, "token", token)
	return token, nil
}

func (ob *observableBroker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	ctx, span := trace.StartSpan(ctx, "broker.PlaceOrder")
	defer span.End()

	logger.Info(ctx, "Placing order",
		"symbol", req.Symbol,
		"side", req.TransactionType,
		"type", req.OrderType,
		"qty", req.Qty,
	)

	resp, err := ob.broker.PlaceOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to place order", err,
			"symbol", req.Symbol,
			"side", req.TransactionType,
			"qty", req.Qty,
		)
		return types.OrderResp{}, err
	}

	logger.Info(ctx, "Order placed",
		"symbol", req.Symbol,
		"order_id", resp.OrderID,
		"status", resp.Status,
	)
	return resp, nil
}

func (ob *observableBroker) CancelOrder(ctx context.Context, orderID string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "broker.CancelOrder")
	defer span.End()

	id, err := ob.broker.CancelOrder(ctx, orderID)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to cancel order", err, "order_id", orderID)
		return "", err
	}

	logger.Info(ctx, "Order cancelled", "order_id", id)
	return id, nil
}

func (ob *observableBroker) OpenTickStream(ctx context.Context, tokens map[uint32]string) (<-chan types.Tick, error) {
	ctx, span := trace.StartSpan(ctx, "broker.OpenTickStream")
	defer span.End()

	ticks, err := ob.broker.OpenTickStream(ctx, tokens)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to open tick stream", err, "instruments", len(tokens))
		return nil, err
	}

	logger.Info(ctx, "Tick stream opened", "instruments", len(tokens))
	return ticks, nil
}
