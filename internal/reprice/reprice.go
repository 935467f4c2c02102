// Package reprice derives positions from their static terms and a market
// price. Every derived field is recomputed on each call; nothing is carried
// over from the input position except contract terms, quantity, beta and
// the base volatility the position was constructed with.
//
// Positions are constructed through the same path they are repriced
// through, so repricing at an unchanged price reproduces the position
// field for field.
package reprice

import (
	"log/slog"
	"time"

	"github.com/mingdom/omninmo-sub001/internal/exposure"
	"github.com/mingdom/omninmo-sub001/internal/model"
	"github.com/mingdom/omninmo-sub001/internal/pricing"
)

// Repricer holds the market inputs shared by every position in a pass.
// AsOf is the valuation time for every contract in the pass; callers that
// track the wall clock pin it once per pass with At.
type Repricer struct {
	Kernel         *pricing.Kernel
	RiskFreeRate   float64
	BaseVolatility float64
	AsOf           time.Time
}

// New creates a Repricer. A nil kernel gets the default kernel.
func New(k *pricing.Kernel, rate, baseVol float64, asOf time.Time) *Repricer {
	if k == nil {
		k = pricing.NewKernel()
	}
	return &Repricer{
		Kernel:         k,
		RiskFreeRate:   rate,
		BaseVolatility: baseVol,
		AsOf:           asOf,
	}
}

// At returns a copy of r valued at asOf. The kernel is shared.
func (r *Repricer) At(asOf time.Time) *Repricer {
	cp := *r
	cp.AsOf = asOf
	return &cp
}

// NewStock builds a stock position priced at price. beta may be nil when
// the data source has none.
func (r *Repricer) NewStock(ticker string, quantity, price float64, beta *float64) model.StockPosition {
	b, missing := model.NormalizeBeta(beta)
	return r.RepriceStock(model.StockPosition{
		Ticker:      ticker,
		Quantity:    quantity,
		Beta:        b,
		BetaMissing: missing,
	}, price)
}

// RepriceStock returns pos at newPrice. Beta is a property of the
// instrument and is kept. A non-finite or negative price, or a non-finite
// quantity, yields a stale position.
func (r *Repricer) RepriceStock(pos model.StockPosition, newPrice float64) model.StockPosition {
	out := model.StockPosition{
		Ticker:      pos.Ticker,
		Quantity:    pos.Quantity,
		Beta:        pos.Beta,
		BetaMissing: pos.BetaMissing,
		Cash:        pos.Cash,
		CostBasis:   pos.CostBasis,
	}
	if !model.Finite(out.Beta) {
		out.Beta, out.BetaMissing = 0, true
	}

	switch {
	case !model.Finite(newPrice):
		return StaleStock(out, 0, "non-finite price")
	case newPrice < 0:
		return StaleStock(out, newPrice, "negative price")
	case !model.Finite(pos.Quantity):
		return StaleStock(out, newPrice, "non-finite quantity")
	}

	out.Price = newPrice
	out.MarketExposure, out.BetaAdjustedExposure = exposure.StockExposures(out.Quantity, newPrice, out.Beta)
	if !model.Finite(out.MarketExposure, out.BetaAdjustedExposure) {
		return StaleStock(out, newPrice, "non-finite exposure")
	}
	return out
}

// StaleStock returns pos marked stale at price with every exposure zeroed.
func StaleStock(pos model.StockPosition, price float64, reason string) model.StockPosition {
	if !model.Finite(price) {
		price = 0
	}
	if !model.Finite(pos.Quantity) {
		pos.Quantity = 0
	}
	pos.Price = price
	pos.MarketExposure = 0
	pos.BetaAdjustedExposure = 0
	pos.Stale = true
	pos.StaleReason = reason
	return pos
}

// NewOption builds an option position at the given underlying price.
//
// When the contract carries no implied volatility but has a market price,
// the base volatility is backed out of that price so the skew-adjusted
// model reproduces it at the current underlying. Otherwise the configured
// base volatility is used.
func (r *Repricer) NewOption(c model.OptionContract, underlying float64, beta *float64) model.OptionPosition {
	b, missing := model.NormalizeBeta(beta)
	base := r.BaseVolatility
	if c.ImpliedVol <= 0 && c.MarketPrice.IsPositive() {
		base = r.SolveBaseVolatility(c, underlying)
	}
	return r.RepriceOption(model.OptionPosition{
		Contract:       c,
		UnderlyingBeta: b,
		BetaMissing:    missing,
		BaseVolatility: base,
	}, underlying, 0)
}

// SolveBaseVolatility returns the base volatility implied by the contract's
// market price at underlying, with the skew at the contract's moneyness
// divided out. When the solve fails it returns the configured base
// volatility; the kernel has already counted the failure.
func (r *Repricer) SolveBaseVolatility(c model.OptionContract, underlying float64) float64 {
	iv, err := r.Kernel.ImpliedVolatility(c, r.AsOf, underlying, r.RiskFreeRate, c.PremiumPerShare())
	if err != nil {
		return r.BaseVolatility
	}
	unit := r.Kernel.Skew().Adjust(c.StrikeFloat()/underlying, c.TimeToExpiry(r.AsOf), 1)
	if !(unit > 0) || !model.Finite(unit) {
		return iv
	}
	return iv / unit
}

// Volatility resolves the volatility used to price pos at underlying:
// a positive override, else the contract's implied volatility, else the
// skew applied to the position's base volatility.
func (r *Repricer) Volatility(pos model.OptionPosition, underlying, override float64) float64 {
	if override > 0 {
		return override
	}
	if pos.Contract.ImpliedVol > 0 {
		return pos.Contract.ImpliedVol
	}
	base := pos.BaseVolatility
	if !(base > 0) {
		base = r.BaseVolatility
	}
	moneyness := pos.Contract.StrikeFloat() / underlying
	return r.Kernel.Skew().Adjust(moneyness, pos.Contract.TimeToExpiry(r.AsOf), base)
}

// RepriceOption returns pos repriced at newUnderlying. A volOverride > 0
// replaces the resolved volatility. A zero underlying prices at intrinsic
// value; a negative one, or one the kernel cannot price even after its
// fallback, yields a stale result. The previous price is never reused.
func (r *Repricer) RepriceOption(pos model.OptionPosition, newUnderlying, volOverride float64) model.OptionPosition {
	out := model.OptionPosition{
		Contract:       pos.Contract,
		UnderlyingBeta: pos.UnderlyingBeta,
		BetaMissing:    pos.BetaMissing,
		BaseVolatility: pos.BaseVolatility,
	}
	if !model.Finite(out.UnderlyingBeta) {
		out.UnderlyingBeta, out.BetaMissing = 0, true
	}
	if !model.Finite(out.Contract.Quantity) {
		return r.staleOption(out, newUnderlying, "non-finite quantity")
	}
	if newUnderlying < 0 {
		return r.staleOption(out, newUnderlying, "negative underlying")
	}

	vol := r.Volatility(out, newUnderlying, volOverride)
	res, err := r.Kernel.Evaluate(out.Contract, r.AsOf, newUnderlying, r.RiskFreeRate, vol)
	if err != nil {
		return r.staleOption(out, newUnderlying, err.Error())
	}

	qty := out.Contract.Quantity
	out.UnderlyingPrice = newUnderlying
	out.Volatility = vol
	out.Price = res.Price
	out.RawDelta = res.Delta
	out.Gamma = res.Gamma
	out.Theta = res.Theta
	out.Fallback = res.Fallback
	out.Notional, out.Delta, out.DeltaExposure, out.BetaAdjustedDeltaExposure =
		exposure.OptionExposures(qty, res.Delta, newUnderlying, out.UnderlyingBeta)
	out.MarketValue = res.Price * model.Multiplier * qty

	if !model.Finite(out.Volatility, out.Notional, out.DeltaExposure, out.BetaAdjustedDeltaExposure, out.MarketValue) {
		return r.staleOption(out, newUnderlying, "non-finite exposure")
	}
	return out
}

func (r *Repricer) staleOption(pos model.OptionPosition, underlying float64, reason string) model.OptionPosition {
	slog.Warn("option marked stale",
		"underlying", pos.Contract.Underlying,
		"strike", pos.Contract.Strike.String(),
		"type", string(pos.Contract.Type),
		"expiry", pos.Contract.Expiry.Format(time.DateOnly),
		"spot", underlying,
		"reason", reason,
	)
	return StaleOption(pos, underlying, reason)
}

// StaleOption returns pos marked stale at underlying with every analytic
// zeroed.
func StaleOption(pos model.OptionPosition, underlying float64, reason string) model.OptionPosition {
	if !model.Finite(underlying) {
		underlying = 0
	}
	base := pos.BaseVolatility
	if !model.Finite(base) {
		base = 0
	}
	return model.OptionPosition{
		Contract:        pos.Contract,
		UnderlyingPrice: underlying,
		UnderlyingBeta:  pos.UnderlyingBeta,
		BetaMissing:     pos.BetaMissing,
		BaseVolatility:  base,
		Stale:           true,
		StaleReason:     reason,
	}
}
