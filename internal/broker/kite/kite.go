package kite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"trade-gateway/internal/interfaces"
	"trade-gateway/internal/logger"
	"trade-gateway/internal/types"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

const (
	defaultTokenURL = "https://api.kite.trade/session/token"

	candleInterval = "minute"
)

type Params struct {
	APIKey    string
	APISecret string
	Exchange  string

	// TokenURL overrides the token-exchange endpoint (tests).
	TokenURL string
	// QueueSize bounds the tick channel.
	QueueSize int
}

// Kite implements the Broker capability interface on top of the Kite
// Connect SDK. The token exchange is done with a plain form POST so the
// session layer keeps ownership of the checksum.
type Kite struct {
	p          Params
	kc         *kiteconnect.Client
	httpClient *http.Client
	tokenURL   string
	queueSize  int

	mapper *instrumentMapper

	mu          sync.Mutex
	accessToken string
	dumpLoaded  bool
}

var _ interfaces.Broker = (*Kite)(nil)

func New(p Params) *Kite {
	if p.TokenURL == "" {
		p.TokenURL = defaultTokenURL
	}
	if p.QueueSize <= 0 {
		p.QueueSize = 256
	}

	return &Kite{
		p:          p,
		kc:         kiteconnect.New(p.APIKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokenURL:   p.TokenURL,
		queueSize:  p.QueueSize,
		mapper:     newInstrumentMapper(),
	}
}

func (k *Kite) LoginURL() string {
	return k.kc.GetLoginURL()
}

// ExchangeToken performs the form-encoded token-exchange POST. The request
// token is bound into the caller-computed checksum.
func (k *Kite) ExchangeToken(ctx context.Context, requestToken, checksum string) (string, error) {
	form := url.Values{}
	form.Set("api_key", k.p.APIKey)
	form.Set("api_secret", k.p.APISecret)
	form.Set("checksum", checksum)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Kite-Version", "3")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange request: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Data    struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange returned %d: %s", resp.StatusCode, payload.Message)
	}
	if payload.Data.AccessToken == "" {
		return "", errors.New("token response contained no access_token")
	}

	return payload.Data.AccessToken, nil
}

func (k *Kite) SetAccessToken(token string) {
	k.mu.Lock()
	k.accessToken = token
	k.mu.Unlock()
	k.kc.SetAccessToken(token)
}

func (k *Kite) currentToken() (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.accessToken, k.accessToken != ""
}

func (k *Kite) LTP(ctx context.Context, symbol string) (float64, error) {
	inst := k.p.Exchange + ":" + symbol
	quotes, err := k.kc.GetLTP(inst)
	if err != nil {
		return 0, fmt.Errorf("quote for %s: %w", symbol, err)
	}
	q, ok := quotes[inst]
	if !ok {
		return 0, fmt.Errorf("no quote returned for %s", symbol)
	}
	return q.LastPrice, nil
}

func (k *Kite) HistoricalCandles(ctx context.Context, symbol string, from, to time.Time) ([]types.Candle, error) {
	token, err := k.ResolveToken(ctx, symbol)
	if err != nil {
		return nil, err
	}

	data, err := k.kc.GetHistoricalData(int(token), candleInterval, from, to, false, false)
	if err != nil {
		return nil, fmt.Errorf("historical data for %s: %w", symbol, err)
	}

	candles := make([]types.Candle, 0, len(data))
	for _, d := range data {
		candles = append(candles, types.Candle{
			Ts:    d.Date.Unix(),
			Open:  d.Open,
			High:  d.High,
			Low:   d.Low,
			Close: d.Close,
			Vol:   float64(d.Volume),
		})
	}
	return candles, nil
}

// ResolveToken looks a symbol up in the exchange instrument dump, fetching
// the dump at most once per process.
func (k *Kite) ResolveToken(ctx context.Context, symbol string) (uint32, error) {
	if token, ok := k.mapper.getToken(symbol); ok {
		return token, nil
	}

	if err := k.loadInstrumentDump(ctx); err != nil {
		return 0, err
	}

	token, ok := k.mapper.getToken(symbol)
	if !ok {
		return 0, fmt.Errorf("instrument %s not found on %s", symbol, k.p.Exchange)
	}
	return token, nil
}

func (k *Kite) loadInstrumentDump(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.dumpLoaded {
		return nil
	}

	instruments, err := k.kc.GetInstrumentsByExchange(k.p.Exchange)
	if err != nil {
		return fmt.Errorf("instrument dump for %s: %w", k.p.Exchange, err)
	}
	for _, inst := range instruments {
		k.mapper.addMapping(inst.Tradingsymbol, uint32(inst.InstrumentToken))
	}
	k.dumpLoaded = true

	logger.Info(ctx, "Instrument dump loaded", "exchange", k.p.Exchange, "instruments", k.mapper.size())
	return nil
}

func (k *Kite) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	resp, err := k.kc.PlaceOrder(req.Variety, kiteconnect.OrderParams{
		Exchange:        req.Exchange,
		Tradingsymbol:   req.Symbol,
		TransactionType: req.TransactionType,
		OrderType:       req.OrderType,
		Product:         req.Product,
		Validity:        req.Validity,
		Quantity:        req.Qty,
		Price:           req.Price,
		TriggerPrice:    req.TriggerPrice,
		Tag:             req.Tag,
	})
	if err != nil {
		return types.OrderResp{}, err
	}
	return types.OrderResp{OrderID: resp.OrderID, Status: "PLACED"}, nil
}

func (k *Kite) CancelOrder(ctx context.Context, orderID string) (string, error) {
	resp, err := k.kc.CancelOrder(kiteconnect.VarietyRegular, orderID, nil)
	if err != nil {
		return "", err
	}
	return resp.OrderID, nil
}
