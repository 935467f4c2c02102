// Package marketdata supplies current prices and betas to the exposure
// engine. Implementations include PostgreSQL (source of truth), a Redis
// read-through cache, a circuit breaker for remote sources, and in-memory
// (for testing).
//
// Fetching happens before a computation pass; the pricing and aggregation
// packages never call a Source.
package marketdata

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrDataUnavailable is returned when a source has no price history for a
// ticker.
var ErrDataUnavailable = errors.New("marketdata: data unavailable")

// ErrReadOnly is returned when a quote is written through a source that
// cannot store it.
var ErrReadOnly = errors.New("marketdata: source is read-only")

// Quote is the latest price of an instrument and its beta to the benchmark
// index. Beta is nil when the source could not compute one.
type Quote struct {
	Ticker string          `json:"ticker"`
	Price  decimal.Decimal `json:"price"`
	Beta   *float64        `json:"beta,omitempty"`
	AsOf   time.Time       `json:"as_of"`
}

// Source looks up quotes by ticker.
type Source interface {
	// GetPriceAndBeta returns the quote for ticker, or an error wrapping
	// ErrDataUnavailable when none exists.
	GetPriceAndBeta(ctx context.Context, ticker string) (Quote, error)
}

// Writer stores quotes.
type Writer interface {
	// UpsertQuote inserts or replaces the quote for q.Ticker.
	UpsertQuote(ctx context.Context, q Quote) error
}

// NormalizeTicker upper-cases and trims a ticker for lookup.
func NormalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
