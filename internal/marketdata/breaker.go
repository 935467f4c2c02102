package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mingdom/omninmo-sub001/internal/metrics"
)

// ErrSourceOpen is returned while the breaker is rejecting lookups.
var ErrSourceOpen = errors.New("marketdata: source circuit open")

// BreakerSource guards a remote Source with a circuit breaker. After
// maxFailures consecutive failures lookups fail fast with ErrSourceOpen
// until timeout has passed. ErrDataUnavailable is an answer, not a
// failure, and never trips the breaker.
type BreakerSource struct {
	next Source
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerSource wraps next with a breaker named name.
func NewBreakerSource(name string, next Source, maxFailures uint32, timeout time.Duration) *BreakerSource {
	if maxFailures == 0 {
		maxFailures = 1
	}
	st := gobreaker.Settings{Name: name}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= maxFailures }
	st.Interval = 0
	st.Timeout = timeout
	st.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrDataUnavailable) || errors.Is(err, context.Canceled)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		slog.Warn("market data breaker state change", "source", name, "from", from.String(), "to", to.String())
	}
	return &BreakerSource{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (s *BreakerSource) GetPriceAndBeta(ctx context.Context, ticker string) (Quote, error) {
	v, err := s.cb.Execute(func() (interface{}, error) {
		return s.next.GetPriceAndBeta(ctx, ticker)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.QuoteLookups.WithLabelValues(s.cb.Name(), "rejected").Inc()
		return Quote{}, fmt.Errorf("%w: %s: %v", ErrSourceOpen, ticker, err)
	}
	if err != nil {
		return Quote{}, err
	}
	return v.(Quote), nil
}

// State reports the breaker state ("closed", "half-open" or "open").
func (s *BreakerSource) State() string {
	return s.cb.State().String()
}
