// Package exposure is the single definition of net and beta-adjusted
// exposure. Group totals, summary totals and simulation points are all
// derived from these functions; nothing else in the engine adds up
// exposures with its own formula.
//
//	net          = stock.MarketExposure       + Σ option.DeltaExposure
//	beta-adjusted = stock.BetaAdjustedExposure + Σ option.BetaAdjustedDeltaExposure
//
// Stale legs contribute nothing. Legs are visited in a fixed order (stock
// first, then options in slice order) so repeated runs produce identical
// floating-point sums.
package exposure

import "github.com/mingdom/omninmo-sub001/internal/model"

// Leg is one included position's contribution.
type Leg struct {
	Stock        bool
	Exposure     float64
	BetaAdjusted float64
	Value        float64
}

// Legs returns the non-stale legs of a group in accumulation order.
func Legs(stock *model.StockPosition, options []model.OptionPosition) []Leg {
	legs := make([]Leg, 0, len(options)+1)
	if stock != nil && !stock.Stale {
		legs = append(legs, Leg{
			Stock:        true,
			Exposure:     stock.MarketExposure,
			BetaAdjusted: stock.BetaAdjustedExposure,
			Value:        stock.MarketExposure,
		})
	}
	for _, o := range options {
		if o.Stale {
			continue
		}
		legs = append(legs, Leg{
			Exposure:     o.DeltaExposure,
			BetaAdjusted: o.BetaAdjustedDeltaExposure,
			Value:        o.MarketValue,
		})
	}
	return legs
}

// NetExposure returns stock market exposure plus the options' delta
// exposure.
func NetExposure(stock *model.StockPosition, options []model.OptionPosition) float64 {
	var net float64
	for _, l := range Legs(stock, options) {
		net += l.Exposure
	}
	return net
}

// BetaAdjustedNetExposure is NetExposure with every leg scaled by the
// underlying's beta.
func BetaAdjustedNetExposure(stock *model.StockPosition, options []model.OptionPosition) float64 {
	var net float64
	for _, l := range Legs(stock, options) {
		net += l.BetaAdjusted
	}
	return net
}

// Value returns the marked value of a group's legs: shares at price plus
// option premium times multiplier.
func Value(stock *model.StockPosition, options []model.OptionPosition) float64 {
	var v float64
	for _, l := range Legs(stock, options) {
		v += l.Value
	}
	return v
}

// StockExposures returns the market and beta-adjusted exposure of a stock
// holding. Both are zero-safe for a missing beta because the model keeps
// Beta at 0 in that case.
func StockExposures(quantity, price, beta float64) (market, betaAdjusted float64) {
	market = quantity * price
	return market, market * beta
}

// OptionExposures returns notional, signed delta exposure and
// beta-adjusted delta exposure for an option leg.
//
// Notional is always underlyingPrice * multiplier * |quantity|; the strike
// never enters it.
func OptionExposures(quantity, rawDelta, underlyingPrice, beta float64) (notional, delta, deltaExposure, betaAdjusted float64) {
	abs := quantity
	sign := 1.0
	if quantity < 0 {
		abs = -quantity
		sign = -1
	}
	notional = underlyingPrice * model.Multiplier * abs
	delta = rawDelta * sign
	deltaExposure = delta * notional
	return notional, delta, deltaExposure, deltaExposure * beta
}
