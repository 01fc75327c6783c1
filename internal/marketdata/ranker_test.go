package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"trade-gateway/internal/types"
)

type candleBroker struct {
	streamBroker
	candles    map[string][]types.Candle
	candleErr  map[string]error
	fetchOrder []string
}

func candlesFromCloses(closes ...float64) []types.Candle {
	cs := make([]types.Candle, 0, len(closes))
	ts := time.Date(2025, 6, 2, 9, 15, 0, 0, time.UTC).Unix()
	for i, c := range closes {
		cs = append(cs, types.Candle{Ts: ts + int64(i*60), Open: c, High: c, Low: c, Close: c})
	}
	return cs
}

func (b *candleBroker) HistoricalCandles(ctx context.Context, symbol string, from, to time.Time) ([]types.Candle, error) {
	b.fetchOrder = append(b.fetchOrder, symbol)
	if err := b.candleErr[symbol]; err != nil {
		return nil, err
	}
	cs, ok := b.candles[symbol]
	if !ok {
		return nil, errors.New("no data for " + symbol)
	}
	return cs, nil
}

func TestBestPerformerRanksDeterministically(t *testing.T) {
	brk := &candleBroker{candles: map[string][]types.Candle{
		"A": candlesFromCloses(100, 90),
		"B": candlesFromCloses(100, 130),
	}}
	r := NewRanker(brk, []string{"A", "B"})

	sym, err := r.BestPerformer(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("BestPerformer failed: %v", err)
	}
	if sym != "B" {
		t.Errorf("Expected B (+30%%) to win over A (-10%%), got %s", sym)
	}
}

func TestBestPerformerTieKeepsWatchlistOrder(t *testing.T) {
	brk := &candleBroker{candles: map[string][]types.Candle{
		"A": candlesFromCloses(100, 110),
		"B": candlesFromCloses(200, 220),
		"C": candlesFromCloses(50, 55),
	}}
	r := NewRanker(brk, []string{"C", "A", "B"})

	// All three moved exactly +10%; the watchlist's first entry wins.
	sym, err := r.BestPerformer(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("BestPerformer failed: %v", err)
	}
	if sym != "C" {
		t.Errorf("Expected tie to preserve watchlist order (C), got %s", sym)
	}
}

func TestBestPerformerInsufficientData(t *testing.T) {
	brk := &candleBroker{candles: map[string][]types.Candle{
		"A": candlesFromCloses(100),
		"B": candlesFromCloses(100, 130),
	}}
	r := NewRanker(brk, []string{"A", "B"})

	_, err := r.BestPerformer(context.Background(), time.Minute)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Expected ErrInsufficientData, got %v", err)
	}

	// Fail-fast: nothing after the failing symbol is fetched.
	if len(brk.fetchOrder) != 1 || brk.fetchOrder[0] != "A" {
		t.Errorf("Expected ranking to abort at A, fetched %v", brk.fetchOrder)
	}
}

func TestBestPerformerBadReferencePrice(t *testing.T) {
	brk := &candleBroker{candles: map[string][]types.Candle{
		"A": candlesFromCloses(0, 130),
	}}
	r := NewRanker(brk, []string{"A"})

	if _, err := r.BestPerformer(context.Background(), time.Minute); !errors.Is(err, ErrBadReferencePrice) {
		t.Errorf("Expected ErrBadReferencePrice, got %v", err)
	}
}

func TestBestPerformerEmptyWatchlist(t *testing.T) {
	r := NewRanker(&candleBroker{}, nil)

	if _, err := r.BestPerformer(context.Background(), time.Minute); !errors.Is(err, ErrNoData) {
		t.Errorf("Expected ErrNoData, got %v", err)
	}
}

func TestBestPerformerFetchError(t *testing.T) {
	brk := &candleBroker{
		candles:   map[string][]types.Candle{"A": candlesFromCloses(100, 130)},
		candleErr: map[string]error{"B": errors.New("rate limited")},
	}
	r := NewRanker(brk, []string{"A", "B", "C"})

	_, err := r.BestPerformer(context.Background(), time.Minute)
	if err == nil {
		t.Fatal("Expected fetch failure to abort ranking")
	}
	if len(brk.fetchOrder) != 2 {
		t.Errorf("Expected ranking to abort after B, fetched %v", brk.fetchOrder)
	}
}

func TestBestPerformerHonorsDeadline(t *testing.T) {
	brk := &candleBroker{candles: map[string][]types.Candle{
		"A": candlesFromCloses(100, 130),
	}}
	r := NewRanker(brk, []string{"A"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.BestPerformer(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(brk.fetchOrder) != 0 {
		t.Errorf("Expected no fetches after cancellation, got %v", brk.fetchOrder)
	}
}
