package pricing

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mingdom/omninmo-sub001/internal/metrics"
	"github.com/mingdom/omninmo-sub001/internal/model"
)

// ErrNoConvergence is returned when the implied-volatility solve fails to
// bracket or converge on the target premium.
var ErrNoConvergence = errors.New("pricing: implied volatility did not converge")

const (
	ivLowerBound = 1e-4
	ivUpperBound = 5.0
	ivTolerance  = 1e-8
	ivMaxIter    = 100
	ivInitial    = 0.3
)

// ImpliedVolatility solves for the volatility at which Black-Scholes
// reproduces premium (per share). It uses Newton-Raphson steps on vega and
// falls back to bisection whenever a step leaves the bracket.
//
// Input errors are returned as *PricingError. A premium outside the
// attainable range, or a solve that does not converge, returns
// ErrNoConvergence and is counted as an "iv_solve" fallback.
func (k *Kernel) ImpliedVolatility(c model.OptionContract, asOf time.Time, underlying, rate, premium float64) (float64, error) {
	strike := c.StrikeFloat()
	t := c.TimeToExpiry(asOf)

	price := func(vol float64) (Quote, error) {
		return BlackScholes(c.Type, underlying, strike, t, rate, vol)
	}

	if _, err := price(ivInitial); err != nil {
		return 0, err
	}

	vol, err := solveImplied(price, premium)
	if err != nil {
		k.fallbacks.Add(1)
		metrics.PricingFallbacks.WithLabelValues("iv_solve").Inc()
		slog.Warn("implied volatility solve failed",
			"underlying", c.Underlying,
			"strike", c.Strike.String(),
			"type", string(c.Type),
			"spot", underlying,
			"premium", premium,
			"err", err,
		)
		return 0, err
	}
	return vol, nil
}

func solveImplied(price func(float64) (Quote, error), target float64) (float64, error) {
	if !model.Finite(target) || target < 0 {
		return 0, fmt.Errorf("%w: premium %g", ErrNoConvergence, target)
	}

	lo, hi := ivLowerBound, ivUpperBound
	qlo, err := price(lo)
	if err != nil {
		return 0, err
	}
	qhi, err := price(hi)
	if err != nil {
		return 0, err
	}
	if target < qlo.Price-ivTolerance || target > qhi.Price+ivTolerance {
		return 0, fmt.Errorf("%w: premium %g outside [%g, %g]", ErrNoConvergence, target, qlo.Price, qhi.Price)
	}

	vol := ivInitial
	for i := 0; i < ivMaxIter; i++ {
		q, err := price(vol)
		if err != nil {
			return 0, err
		}
		diff := q.Price - target
		if math.Abs(diff) < ivTolerance {
			return vol, nil
		}
		if diff > 0 {
			hi = vol
		} else {
			lo = vol
		}

		// Vega is reported per volatility point.
		next := math.NaN()
		if v := q.Vega * 100; v > 1e-12 {
			next = vol - diff/v
		}
		if !(next > lo && next < hi) {
			next = 0.5 * (lo + hi)
		}
		vol = next
		if hi-lo < ivTolerance {
			return vol, nil
		}
	}
	return 0, fmt.Errorf("%w: %d iterations", ErrNoConvergence, ivMaxIter)
}
