package marketdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"trade-gateway/internal/interfaces"
	"trade-gateway/internal/logger"
)

// Ranker ranks the watchlist by percentage price change over a caller-given
// window. Ranking is fail-fast: the first per-symbol error aborts the whole
// call, so a partial watchlist is never ranked.
type Ranker struct {
	broker    interfaces.Broker
	watchlist []string

	now func() time.Time
}

func NewRanker(broker interfaces.Broker, watchlist []string) *Ranker {
	wl := make([]string, len(watchlist))
	copy(wl, watchlist)
	return &Ranker{broker: broker, watchlist: wl, now: time.Now}
}

// BestPerformer returns the watchlist symbol with the highest percentage
// close-to-close change over [now-window, now]. The caller's ctx deadline
// bounds the whole ranking; it is checked between fetches and passed into
// each one.
func (r *Ranker) BestPerformer(ctx context.Context, window time.Duration) (string, error) {
	if len(r.watchlist) == 0 {
		return "", ErrNoData
	}

	now := r.now()
	from := now.Add(-window)

	type scored struct {
		symbol string
		perf   float64
	}
	scores := make([]scored, 0, len(r.watchlist))

	for _, sym := range r.watchlist {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("ranking aborted: %w", err)
		}

		candles, err := r.broker.HistoricalCandles(ctx, sym, from, now)
		if err != nil {
			return "", fmt.Errorf("historical data for %s: %w", sym, err)
		}
		if len(candles) < 2 {
			return "", fmt.Errorf("%w for %s", ErrInsufficientData, sym)
		}

		first := candles[0].Close
		last := candles[len(candles)-1].Close
		if first <= 0 {
			return "", fmt.Errorf("%w for %s", ErrBadReferencePrice, sym)
		}

		scores = append(scores, scored{symbol: sym, perf: (last - first) / first * 100})
	}

	// Stable sort keeps watchlist order on exact ties.
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].perf > scores[j].perf })

	top := scores[0]
	logger.Info(ctx, "Best performer ranked",
		"symbol", top.symbol,
		"performance_pct", top.perf,
		"window", window.String(),
		"candidates", len(scores),
	)
	return top.symbol, nil
}
