package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mingdom/omninmo-sub001/internal/metrics"
)

// MemorySource implements Source with an in-memory map. Used for testing,
// the CLI, and development.
type MemorySource struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	now    func() time.Time
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		quotes: make(map[string]Quote),
		now:    time.Now,
	}
}

// Set records a quote. beta may be nil.
func (s *MemorySource) Set(ticker string, price decimal.Decimal, beta *float64) {
	s.Put(Quote{Ticker: ticker, Price: price, Beta: beta})
}

// Put records q, stamping AsOf when it is zero.
func (s *MemorySource) Put(q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q.Ticker = NormalizeTicker(q.Ticker)
	if q.AsOf.IsZero() {
		q.AsOf = s.now().UTC()
	}
	if q.Beta != nil {
		b := *q.Beta
		q.Beta = &b
	}
	s.quotes[q.Ticker] = q
}

// UpsertQuote records q. It never fails.
func (s *MemorySource) UpsertQuote(_ context.Context, q Quote) error {
	s.Put(q)
	return nil
}

func (s *MemorySource) GetPriceAndBeta(_ context.Context, ticker string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotes[NormalizeTicker(ticker)]
	if !ok {
		metrics.QuoteLookups.WithLabelValues("memory", "unavailable").Inc()
		return Quote{}, fmt.Errorf("%w: %s", ErrDataUnavailable, ticker)
	}
	metrics.QuoteLookups.WithLabelValues("memory", "ok").Inc()
	if q.Beta != nil {
		b := *q.Beta
		q.Beta = &b
	}
	return q, nil
}

// Len returns the number of stored quotes.
func (s *MemorySource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quotes)
}
