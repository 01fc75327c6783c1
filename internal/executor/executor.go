package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trade-gateway/internal/interfaces"
	"trade-gateway/internal/logger"
	"trade-gateway/internal/tradelog"
	"trade-gateway/internal/types"
)

var (
	ErrUnsupportedAction    = errors.New("unsupported action")
	ErrUnsupportedPriceType = errors.New("unsupported price type")
	ErrMissingField         = errors.New("missing required field")
	ErrBrokerRejected       = errors.New("broker rejected order")
	ErrMissingOrderID       = errors.New("broker response missing order id")
)

// Order-placement parameters fixed for every submission: cash-and-carry
// product, day validity, regular variety.
const (
	productCNC     = "CNC"
	validityDay    = "DAY"
	varietyRegular = "regular"
	orderTag       = "GATEWAY"
)

// Executor drives a trade instruction through
// validate -> build request -> submit -> complete. Validation failures are
// terminal and never reach the broker; submission is exactly one external
// call with no internal retry.
type Executor struct {
	broker interfaces.Broker
}

func New(broker interfaces.Broker) *Executor {
	return &Executor{broker: broker}
}

// Execute runs one instruction to completion and returns the brokerage
// order id.
func (e *Executor) Execute(ctx context.Context, ins types.TradeInstruction) (string, error) {
	if err := validate(ins); err != nil {
		return "", err
	}

	if ins.Action == types.ActionCancel {
		return e.cancel(ctx, ins)
	}
	return e.submit(ctx, ins)
}

// validate dispatches on action and checks the field invariants before any
// external call.
func validate(ins types.TradeInstruction) error {
	switch ins.Action {
	case types.ActionBuy, types.ActionSell:
		if ins.Symbol == "" {
			return fmt.Errorf("%w: symbol", ErrMissingField)
		}
		if ins.Exchange == "" {
			return fmt.Errorf("%w: exchange", ErrMissingField)
		}
		if ins.Quantity == 0 {
			return fmt.Errorf("%w: quantity must be positive", ErrMissingField)
		}
		switch ins.PriceType {
		case types.PriceTypeMarket:
		case types.PriceTypeLimit:
			if ins.LimitPrice == nil {
				return fmt.Errorf("%w: limit_price for LIMIT order", ErrMissingField)
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnsupportedPriceType, ins.PriceType)
		}
	case types.ActionCancel:
		if ins.OrderID == nil || *ins.OrderID == "" {
			return fmt.Errorf("%w: order_id for cancel", ErrMissingField)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAction, ins.Action)
	}
	return nil
}

// buildRequest maps a validated buy/sell instruction into the brokerage's
// order-placement parameters.
func buildRequest(ins types.TradeInstruction) types.OrderReq {
	req := types.OrderReq{
		Exchange:        ins.Exchange,
		Symbol:          ins.Symbol,
		TransactionType: strings.ToUpper(ins.Action),
		OrderType:       ins.PriceType,
		Product:         productCNC,
		Validity:        validityDay,
		Variety:         varietyRegular,
		Qty:             int(ins.Quantity),
		Tag:             orderTag,
	}
	if ins.PriceType == types.PriceTypeLimit && ins.LimitPrice != nil {
		req.Price = *ins.LimitPrice
	}
	if ins.StopLoss != nil {
		req.TriggerPrice = *ins.StopLoss
	}
	return req
}

func (e *Executor) submit(ctx context.Context, ins types.TradeInstruction) (string, error) {
	req := buildRequest(ins)

	resp, err := e.broker.PlaceOrder(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %s %s x%d: %w", ErrBrokerRejected, req.TransactionType, ins.Symbol, req.Qty, err)
	}

	// The call succeeded at the transport level; an absent order id is its
	// own failure mode, distinct from a rejection.
	if resp.OrderID == "" {
		return "", fmt.Errorf("%w for %s", ErrMissingOrderID, ins.Symbol)
	}

	logger.Order(ctx, ins.Symbol, req.TransactionType, req.Qty, req.Price, resp.OrderID)
	_ = tradelog.Append(tradelog.Entry{
		Symbol:  ins.Symbol,
		Side:    req.TransactionType,
		Qty:     req.Qty,
		Price:   req.Price,
		OrderID: resp.OrderID,
	})

	return resp.OrderID, nil
}

func (e *Executor) cancel(ctx context.Context, ins types.TradeInstruction) (string, error) {
	orderID, err := e.broker.CancelOrder(ctx, *ins.OrderID)
	if err != nil {
		return "", fmt.Errorf("%w: cancel %s: %w", ErrBrokerRejected, *ins.OrderID, err)
	}
	if orderID == "" {
		return "", fmt.Errorf("%w for cancel of %s", ErrMissingOrderID, *ins.OrderID)
	}

	logger.Info(ctx, "Order cancelled", "order_id", orderID)
	return orderID, nil
}
