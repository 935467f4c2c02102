// Package pricing implements the option pricing kernel: a closed-form
// Black-Scholes model for European-equivalent pricing, a pluggable
// volatility-skew estimator, an implied-volatility solver and the
// intrinsic-value fallback used when the model cannot be evaluated.
//
// The kernel is direction-agnostic. Delta is always the delta of one long
// contract; callers apply the sign of the position.
//
// All inputs and outputs are float64 per share. The kernel is stateless
// apart from an observability counter, so identical inputs always produce
// identical outputs.
package pricing

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/mingdom/omninmo-sub001/internal/metrics"
	"github.com/mingdom/omninmo-sub001/internal/model"
)

var (
	// ErrInvalidVolatility is returned when volatility <= 0.
	ErrInvalidVolatility = errors.New("pricing: volatility must be positive")

	// ErrExpired is returned when time to expiry <= 0.
	ErrExpired = errors.New("pricing: time to expiry must be positive")

	// ErrInvalidUnderlying is returned when the underlying price is not a
	// positive finite number.
	ErrInvalidUnderlying = errors.New("pricing: underlying price must be positive")

	// ErrInvalidStrike is returned when the strike is not a positive finite
	// number.
	ErrInvalidStrike = errors.New("pricing: strike must be positive")

	// ErrInvalidType is returned for an option type other than Call or Put.
	ErrInvalidType = errors.New("pricing: option type must be CALL or PUT")

	// ErrNonFinite is returned when the model produced NaN or Inf.
	ErrNonFinite = errors.New("pricing: model produced a non-finite value")

	// ErrUnpriceable is returned when not even the intrinsic fallback can
	// produce a finite, non-negative price.
	ErrUnpriceable = errors.New("pricing: unpriceable even after fallback")
)

// PricingError reports an invalid model input.
type PricingError struct {
	Field string
	Value float64
	Err   error
}

func (e *PricingError) Error() string {
	return fmt.Sprintf("%v (%s=%g)", e.Err, e.Field, e.Value)
}

func (e *PricingError) Unwrap() error {
	return e.Err
}

// Quote is the model output for one long contract, per share.
// Theta is per calendar day; Vega is per one volatility point.
type Quote struct {
	Price float64 `json:"price"`
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// Result is a Quote together with how it was obtained.
type Result struct {
	Quote
	Fallback bool   `json:"fallback,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Kernel prices option contracts. The zero value is not usable; create
// one with NewKernel.
type Kernel struct {
	skew      Skew
	fallback  FallbackPolicy
	fallbacks atomic.Int64
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithSkew replaces the default volatility-skew estimator.
func WithSkew(s Skew) Option {
	return func(k *Kernel) {
		if s != nil {
			k.skew = s
		}
	}
}

// WithFallback replaces the default fallback policy.
func WithFallback(p FallbackPolicy) Option {
	return func(k *Kernel) {
		k.fallback = p
	}
}

// NewKernel creates a kernel with the default wing skew and fallback
// policy unless overridden.
func NewKernel(opts ...Option) *Kernel {
	k := &Kernel{
		skew:     DefaultSkew(),
		fallback: DefaultFallback(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Skew returns the kernel's volatility-skew estimator.
func (k *Kernel) Skew() Skew {
	return k.skew
}

// Fallback returns the kernel's fallback policy.
func (k *Kernel) Fallback() FallbackPolicy {
	return k.fallback
}

// Fallbacks returns how many fallback pricings this kernel has performed.
func (k *Kernel) Fallbacks() int64 {
	return k.fallbacks.Load()
}

// PriceAndDelta prices one long contract with Black-Scholes at the given
// underlying price, risk-free rate and volatility. Time to expiry is
// measured from asOf.
func (k *Kernel) PriceAndDelta(c model.OptionContract, asOf time.Time, underlying, rate, vol float64) (Quote, error) {
	return BlackScholes(c.Type, underlying, c.StrikeFloat(), c.TimeToExpiry(asOf), rate, vol)
}

// Evaluate prices a contract and applies the fallback policy when the
// model rejects its inputs or produces a non-finite value. Each fallback
// is counted and logged. ErrUnpriceable is returned only when the fallback
// itself cannot produce a price.
func (k *Kernel) Evaluate(c model.OptionContract, asOf time.Time, underlying, rate, vol float64) (Result, error) {
	q, err := k.PriceAndDelta(c, asOf, underlying, rate, vol)
	if err == nil && model.Finite(q.Price, q.Delta, q.Gamma, q.Theta, q.Vega) {
		return Result{Quote: q}, nil
	}
	if err == nil {
		err = ErrNonFinite
	}

	reason := fallbackReason(err)
	k.fallbacks.Add(1)
	metrics.PricingFallbacks.WithLabelValues(reason).Inc()

	fq, ferr := k.fallback.Price(c.Type, underlying, c.StrikeFloat())
	if ferr != nil {
		slog.Warn("option unpriceable",
			"underlying", c.Underlying,
			"strike", c.Strike.String(),
			"type", string(c.Type),
			"spot", underlying,
			"reason", reason,
			"err", ferr,
		)
		return Result{}, fmt.Errorf("%w: %s %s %s: %v", ErrUnpriceable, c.Underlying, c.Strike, c.Type, ferr)
	}

	slog.Warn("pricing fallback",
		"underlying", c.Underlying,
		"strike", c.Strike.String(),
		"type", string(c.Type),
		"spot", underlying,
		"vol", vol,
		"reason", reason,
		"price", fq.Price,
	)
	return Result{Quote: fq, Fallback: true, Reason: reason}, nil
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidVolatility):
		return "invalid_volatility"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidUnderlying):
		return "invalid_underlying"
	case errors.Is(err, ErrInvalidStrike):
		return "invalid_strike"
	case errors.Is(err, ErrNoConvergence):
		return "iv_solve"
	case errors.Is(err, ErrInvalidType):
		return "invalid_type"
	default:
		return "non_finite"
	}
}

// BlackScholes prices a European option on a non-dividend-paying
// underlying:
//
//	d1 = (ln(S/K) + (r + σ²/2)·T) / (σ·√T)
//	d2 = d1 − σ·√T
//	C  = S·N(d1) − K·e^(−rT)·N(d2)
//	P  = K·e^(−rT)·N(−d2) − S·N(−d1)
//
// Call delta is N(d1) ∈ [0,1]; put delta is N(d1) − 1 ∈ [−1,0].
func BlackScholes(typ model.OptionType, s, k, t, r, vol float64) (Quote, error) {
	if !typ.Valid() {
		return Quote{}, &PricingError{Field: "type", Err: ErrInvalidType}
	}
	if !(s > 0) || math.IsInf(s, 1) {
		return Quote{}, &PricingError{Field: "underlying", Value: s, Err: ErrInvalidUnderlying}
	}
	if !(k > 0) || math.IsInf(k, 1) {
		return Quote{}, &PricingError{Field: "strike", Value: k, Err: ErrInvalidStrike}
	}
	if !(t > 0) || math.IsInf(t, 1) {
		return Quote{}, &PricingError{Field: "time_to_expiry", Value: t, Err: ErrExpired}
	}
	if !(vol > 0) || math.IsInf(vol, 1) {
		return Quote{}, &PricingError{Field: "volatility", Value: vol, Err: ErrInvalidVolatility}
	}
	if !model.Finite(r) {
		return Quote{}, &PricingError{Field: "rate", Value: r, Err: ErrNonFinite}
	}

	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + (r+0.5*vol*vol)*t) / (vol * sqrtT)
	d2 := d1 - vol*sqrtT
	disc := k * math.Exp(-r*t)
	pdf := normPDF(d1)

	q := Quote{
		Gamma: pdf / (s * vol * sqrtT),
		Vega:  s * pdf * sqrtT / 100,
	}
	decay := -(s * pdf * vol) / (2 * sqrtT)

	if typ == model.Call {
		q.Price = s*normCDF(d1) - disc*normCDF(d2)
		q.Delta = normCDF(d1)
		q.Theta = (decay - r*disc*normCDF(d2)) / 365
	} else {
		q.Price = disc*normCDF(-d2) - s*normCDF(-d1)
		q.Delta = normCDF(d1) - 1
		q.Theta = (decay + r*disc*normCDF(-d2)) / 365
	}

	// Deep out-of-the-money prices can round slightly below zero.
	if q.Price < 0 {
		q.Price = 0
	}
	return q, nil
}

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// normPDF is the standard normal probability density function.
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
