package marketdata

import "errors"

var (
	// ErrNoData is returned when ranking is requested over an empty
	// watchlist.
	ErrNoData = errors.New("no performance data available")

	// ErrInsufficientData is returned when a symbol's candle series is too
	// short to compute a performance figure.
	ErrInsufficientData = errors.New("insufficient historical data")

	// ErrBadReferencePrice is returned when a symbol's first close is not a
	// positive price.
	ErrBadReferencePrice = errors.New("invalid reference price")
)
