package pricing

import (
	"math"

	"github.com/mingdom/omninmo-sub001/internal/model"
)

// FallbackPolicy prices a contract without a volatility model:
//
//	price = intrinsic + TimeValueFloor(S)
//	TimeValueFloor(S) = S · FloorRate
//
// Delta follows the intrinsic payoff: a call's delta is 1 when S is at
// least DeltaBand·S above the strike, 0 when that far below, and linear in
// between (0.5 at the money). A put's delta is the call delta minus 1.
type FallbackPolicy struct {
	FloorRate float64 // time-value floor as a fraction of the underlying price
	DeltaBand float64 // half-width of the linear delta region, fraction of S
}

// DefaultFallback is a floor of 0.1% of the underlying and a ±5% delta band.
func DefaultFallback() FallbackPolicy {
	return FallbackPolicy{FloorRate: 0.001, DeltaBand: 0.05}
}

// TimeValueFloor is the minimum time value credited to a fallback price.
func (p FallbackPolicy) TimeValueFloor(s float64) float64 {
	if p.FloorRate <= 0 {
		return 0
	}
	return s * p.FloorRate
}

// Intrinsic returns the exercise value of one long contract per share.
func Intrinsic(typ model.OptionType, s, k float64) float64 {
	if typ == model.Put {
		return math.Max(k-s, 0)
	}
	return math.Max(s-k, 0)
}

// Price returns the fallback quote. An underlying at or below zero is
// priced at S = 0, where the floor is zero and only a put has value. It
// fails only when the underlying is not finite or the strike is not a
// positive finite number.
func (p FallbackPolicy) Price(typ model.OptionType, s, k float64) (Quote, error) {
	if !typ.Valid() {
		return Quote{}, &PricingError{Field: "type", Err: ErrInvalidType}
	}
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return Quote{}, &PricingError{Field: "underlying", Value: s, Err: ErrInvalidUnderlying}
	}
	s = math.Max(s, 0)
	if !(k > 0) || math.IsInf(k, 1) {
		return Quote{}, &PricingError{Field: "strike", Value: k, Err: ErrInvalidStrike}
	}

	callDelta := p.callDelta(s, k)
	q := Quote{
		Price: Intrinsic(typ, s, k) + p.TimeValueFloor(s),
		Delta: callDelta,
	}
	if typ == model.Put {
		q.Delta = callDelta - 1
	}
	return q, nil
}

func (p FallbackPolicy) callDelta(s, k float64) float64 {
	band := s * p.DeltaBand
	if !(band > 0) {
		switch {
		case s > k:
			return 1
		case s < k:
			return 0
		default:
			return 0.5
		}
	}
	d := 0.5 + (s-k)/(2*band)
	return math.Min(math.Max(d, 0), 1)
}
