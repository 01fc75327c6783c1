package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trade-gateway/internal/executor"
	"trade-gateway/internal/marketdata"
	"trade-gateway/internal/session"
	"trade-gateway/internal/store"
	"trade-gateway/internal/types"
)

type fakeBroker struct {
	accessToken string
	exchangeErr error

	ltp     map[string]float64
	candles map[string][]types.Candle

	placeResp  types.OrderResp
	placeErr   error
	placeCalls int
	lastReq    types.OrderReq

	cancelCalls int
}

func (f *fakeBroker) ExchangeToken(ctx context.Context, requestToken, checksum string) (string, error) {
	if f.exchangeErr != nil {
		return "", f.exchangeErr
	}
	return "tok-" + requestToken, nil
}

func (f *fakeBroker) SetAccessToken(token string) { f.accessToken = token }

func (f *fakeBroker) LoginURL() string { return "https://kite.example/connect/login" }

func (f *fakeBroker) LTP(ctx context.Context, symbol string) (float64, error) {
	p, ok := f.ltp[symbol]
	if !ok {
		return 0, errors.New("no quote")
	}
	return p, nil
}

func (f *fakeBroker) HistoricalCandles(ctx context.Context, symbol string, from, to time.Time) ([]types.Candle, error) {
	cs, ok := f.candles[symbol]
	if !ok {
		return nil, errors.New("no candles")
	}
	return cs, nil
}

func (f *fakeBroker) ResolveToken(ctx context.Context, symbol string) (uint32, error) {
	return 0, errors.New("unknown instrument")
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	f.placeCalls++
	f.lastReq = req
	if f.placeErr != nil {
		return types.OrderResp{}, f.placeErr
	}
	return f.placeResp, nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, orderID string) (string, error) {
	f.cancelCalls++
	return orderID, nil
}

func (f *fakeBroker) OpenTickStream(ctx context.Context, tokens map[uint32]string) (<-chan types.Tick, error) {
	ch := make(chan types.Tick)
	close(ch)
	return ch, nil
}

func testConfig(watchlist ...string) *store.Config {
	cfg := &store.Config{Addr: ":0", Exchange: "NSE", Watchlist: watchlist}
	cfg.Stream.QueueSize = 16
	cfg.Stream.ReconnectInitialSeconds = 1
	cfg.Stream.ReconnectMaxSeconds = 2
	cfg.Rank.DefaultTimeframeSeconds = 20
	cfg.Rank.TimeoutSeconds = 5
	return cfg
}

func newTestServer(t *testing.T, brk *fakeBroker, cfg *store.Config) (*Server, http.Handler) {
	t.Helper()
	t.Setenv("GATEWAY_LOG_DIR", t.TempDir())

	sess := session.NewManager(store.Credentials{APIKey: "K", APISecret: "S"}, brk)
	cache := marketdata.NewCache(marketdata.CacheParams{Broker: brk, Watchlist: cfg.Watchlist})
	ranker := marketdata.NewRanker(brk, cfg.Watchlist)
	exec := executor.New(brk)

	srv := New(Params{
		Cfg:      cfg,
		Session:  sess,
		Cache:    cache,
		Ranker:   ranker,
		Executor: exec,
		AppCtx:   context.Background(),
	})
	return srv, srv.Handler()
}

func authenticate(t *testing.T, h http.Handler) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?request_token=rt1", nil)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("auth callback status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func postTrade(h http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/trade", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthReturnsLoginURL(t *testing.T) {
	brk := &fakeBroker{}
	_, h := newTestServer(t, brk, testConfig("RELIANCE"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["login_url"] != "https://kite.example/connect/login" {
		t.Fatalf("login_url = %q", resp["login_url"])
	}
}

func TestAuthCallbackMissingToken(t *testing.T) {
	brk := &fakeBroker{}
	_, h := newTestServer(t, brk, testConfig("RELIANCE"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/callback", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp types.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "error" {
		t.Fatalf("status field = %q", resp.Status)
	}
}

func TestAuthCallbackExchangeFailure(t *testing.T) {
	brk := &fakeBroker{exchangeErr: errors.New("kite says no")}
	srv, h := newTestServer(t, brk, testConfig("RELIANCE"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/callback?request_token=rt1", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if srv.session.IsValid() {
		t.Fatal("session became valid after a failed exchange")
	}
}

func TestTradeUnauthenticated(t *testing.T) {
	brk := &fakeBroker{}
	_, h := newTestServer(t, brk, testConfig("RELIANCE"))

	rec := postTrade(h, `{"action":"buy","symbol":"RELIANCE","exchange":"NSE","quantity":1,"price_type":"MARKET"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if brk.placeCalls != 0 {
		t.Fatalf("broker called %d times before auth", brk.placeCalls)
	}
}

func TestTradeInvalidJSON(t *testing.T) {
	brk := &fakeBroker{}
	_, h := newTestServer(t, brk, testConfig("RELIANCE"))
	authenticate(t, h)

	rec := postTrade(h, `{"action":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTradeLimitWithoutPrice(t *testing.T) {
	brk := &fakeBroker{}
	_, h := newTestServer(t, brk, testConfig("RELIANCE"))
	authenticate(t, h)

	rec := postTrade(h, `{"action":"buy","symbol":"RELIANCE","exchange":"NSE","quantity":1,"price_type":"LIMIT"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if brk.placeCalls != 0 {
		t.Fatalf("broker called %d times for invalid instruction", brk.placeCalls)
	}
}

func TestTradeMarketBuy(t *testing.T) {
	brk := &fakeBroker{
		placeResp: types.OrderResp{OrderID: "ord-1", Status: "PLACED"},
		ltp:       map[string]float64{"RELIANCE": 2890.5},
	}
	_, h := newTestServer(t, brk, testConfig("RELIANCE"))
	authenticate(t, h)

	rec := postTrade(h, `{"action":"buy","symbol":"RELIANCE","exchange":"NSE","quantity":2,"price_type":"MARKET"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var result types.TradeResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.OrderID != "ord-1" || result.Status != "success" {
		t.Fatalf("result = %+v", result)
	}
	if result.Symbol != "RELIANCE" || result.Quantity != 2 {
		t.Fatalf("result = %+v", result)
	}
	if result.Price != 2890.5 {
		t.Fatalf("price = %v, want quote fallback 2890.5", result.Price)
	}
	if brk.lastReq.TransactionType != "BUY" || brk.lastReq.Qty != 2 {
		t.Fatalf("order request = %+v", brk.lastReq)
	}
}

func TestTradeLimitSellReportsLimitPrice(t *testing.T) {
	brk := &fakeBroker{placeResp: types.OrderResp{OrderID: "ord-2", Status: "PLACED"}}
	_, h := newTestServer(t, brk, testConfig("TCS"))
	authenticate(t, h)

	rec := postTrade(h, `{"action":"sell","symbol":"TCS","exchange":"NSE","quantity":3,"price_type":"LIMIT","limit_price":3900.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var result types.TradeResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Price != 3900.5 {
		t.Fatalf("price = %v, want the limit price", result.Price)
	}
}

func TestTradeCancel(t *testing.T) {
	brk := &fakeBroker{}
	_, h := newTestServer(t, brk, testConfig("RELIANCE"))
	authenticate(t, h)

	rec := postTrade(h, `{"action":"cancel","symbol":"RELIANCE","exchange":"NSE","quantity":0,"price_type":"MARKET","order_id":"ord-9"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if brk.cancelCalls != 1 {
		t.Fatalf("cancel calls = %d", brk.cancelCalls)
	}

	var result types.TradeResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.OrderID != "ord-9" || result.Price != 0 {
		t.Fatalf("result = %+v", result)
	}
}

func TestTradeBestPerformerResolvesAndExecutes(t *testing.T) {
	now := time.Now()
	brk := &fakeBroker{
		placeResp: types.OrderResp{OrderID: "ord-3", Status: "PLACED"},
		candles: map[string][]types.Candle{
			"RELIANCE": {
				{Ts: now.Add(-2 * time.Minute).Unix(), Close: 100},
				{Ts: now.Unix(), Close: 101},
			},
			"TCS": {
				{Ts: now.Add(-2 * time.Minute).Unix(), Close: 100},
				{Ts: now.Unix(), Close: 110},
			},
		},
	}
	_, h := newTestServer(t, brk, testConfig("RELIANCE", "TCS"))
	authenticate(t, h)

	rec := postTrade(h, `{"action":"buy","symbol":"BEST PERFORMER","exchange":"NSE","quantity":1,"price_type":"MARKET","timeframe":60}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var result types.TradeResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Symbol != "TCS" {
		t.Fatalf("resolved symbol = %q, want TCS", result.Symbol)
	}
	if brk.lastReq.Symbol != "TCS" {
		t.Fatalf("order placed for %q, want TCS", brk.lastReq.Symbol)
	}
}

func TestTradeBestPerformerRankFailure(t *testing.T) {
	brk := &fakeBroker{} // no candles: every fetch fails
	_, h := newTestServer(t, brk, testConfig("RELIANCE"))
	authenticate(t, h)

	rec := postTrade(h, `{"action":"buy","symbol":"BEST PERFORMER","exchange":"NSE","quantity":1,"price_type":"MARKET"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if brk.placeCalls != 0 {
		t.Fatalf("order placed despite ranking failure")
	}
}

func TestTradeBrokerRejection(t *testing.T) {
	brk := &fakeBroker{placeErr: errors.New("insufficient funds")}
	_, h := newTestServer(t, brk, testConfig("RELIANCE"))
	authenticate(t, h)

	rec := postTrade(h, `{"action":"buy","symbol":"RELIANCE","exchange":"NSE","quantity":1,"price_type":"MARKET"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp types.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Message, "insufficient funds") {
		t.Fatalf("message = %q, want broker reason surfaced", resp.Message)
	}
}

func TestPostbackAck(t *testing.T) {
	brk := &fakeBroker{}
	_, h := newTestServer(t, brk, testConfig("RELIANCE"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/postback",
		strings.NewReader(`{"order_id":"ord-5","status":"COMPLETE"}`))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPostbackNonJSONStillAcked(t *testing.T) {
	brk := &fakeBroker{}
	_, h := newTestServer(t, brk, testConfig("RELIANCE"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/postback", strings.NewReader("not json"))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	brk := &fakeBroker{}
	_, h := newTestServer(t, brk, testConfig("RELIANCE"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["session_valid"] != false {
		t.Fatalf("session_valid = %v before auth", resp["session_valid"])
	}
}
