package pricing

import "math"

// Skew adjusts a base volatility for moneyness (strike / underlying) and
// time to expiry in years. Implementations must be pure and must not
// decrease volatility as moneyness moves away from 1.0.
type Skew interface {
	Adjust(moneyness, t, base float64) float64
}

// FlatSkew applies no adjustment.
type FlatSkew struct{}

// Adjust returns base unchanged.
func (FlatSkew) Adjust(_, _, base float64) float64 {
	return base
}

// WingSkew raises volatility quadratically in the distance of moneyness
// from 1.0, with separate coefficients below (downside) and above
// (upside) the money, scaled by 1/√T so short-dated wings are steeper:
//
//	σ = base · min(1 + wing · (K/S − 1)² / √max(T, MinTenor), MaxMultiplier)
//
// The coefficients are tuning inputs, not calibrated values; fit them to
// observed option chains before trusting simulated wing prices.
type WingSkew struct {
	DownWing      float64 // applied when K/S < 1
	UpWing        float64 // applied when K/S > 1
	MinTenor      float64 // years; floors T so the 1/√T term stays bounded
	MaxMultiplier float64 // cap on σ/base; <= 1 disables the cap
}

// DefaultSkew returns the wing skew used when none is configured.
func DefaultSkew() WingSkew {
	return WingSkew{
		DownWing:      1.2,
		UpWing:        0.6,
		MinTenor:      1.0 / 52,
		MaxMultiplier: 3,
	}
}

// Adjust returns the skew-adjusted volatility. Non-finite moneyness and
// non-positive base volatility are returned unadjusted so that the kernel
// reports them rather than the skew hiding them.
func (w WingSkew) Adjust(moneyness, t, base float64) float64 {
	if !(base > 0) || math.IsNaN(moneyness) || math.IsInf(moneyness, 0) {
		return base
	}
	dev := moneyness - 1
	wing := w.UpWing
	if dev < 0 {
		dev = -dev
		wing = w.DownWing
	}
	tenor := t
	if !(tenor > w.MinTenor) {
		tenor = w.MinTenor
	}
	if !(tenor > 0) {
		tenor = 1.0 / 365
	}

	mult := 1 + wing*dev*dev/math.Sqrt(tenor)
	if w.MaxMultiplier > 1 && mult > w.MaxMultiplier {
		mult = w.MaxMultiplier
	}
	return base * mult
}
