package types

// Action values accepted in a TradeInstruction.
const (
	ActionBuy    = "buy"
	ActionSell   = "sell"
	ActionCancel = "cancel"
)

// Price types accepted in a TradeInstruction.
const (
	PriceTypeMarket = "MARKET"
	PriceTypeLimit  = "LIMIT"
)

// TradeInstruction is the inbound order request. It is a value received per
// request; handlers may copy and rewrite it (symbol resolution) before
// execution.
type TradeInstruction struct {
	Action     string   `json:"action"`
	Symbol     string   `json:"symbol"`
	Exchange   string   `json:"exchange"`
	Quantity   uint32   `json:"quantity"`
	PriceType  string   `json:"price_type"`
	LimitPrice *float64 `json:"limit_price,omitempty"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	Target     *float64 `json:"target,omitempty"`
	OrderID    *string  `json:"order_id,omitempty"`
	Timeframe  *uint64  `json:"timeframe,omitempty"`
}

// TradeResult is produced once per successful submission, never mutated
// afterwards.
type TradeResult struct {
	OrderID   string  `json:"order_id"`
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	Symbol    string  `json:"symbol"`
	Quantity  uint32  `json:"quantity"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
}

// ErrorResponse is the boundary's failure envelope.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Candle struct {
	Ts                          int64
	Open, High, Low, Close, Vol float64
}

// Tick is one streamed price update for an instrument.
type Tick struct {
	Symbol    string
	LastPrice float64
}

// OrderReq is the normalized order-placement request handed to the broker.
type OrderReq struct {
	Exchange        string
	Symbol          string
	TransactionType string
	OrderType       string
	Product         string
	Validity        string
	Variety         string
	Qty             int
	Price           float64
	TriggerPrice    float64
	Tag             string
}

type OrderResp struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}
