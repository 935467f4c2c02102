// Package model defines the core domain types shared across the exposure
// engine: contract terms, stock and option positions, portfolio groups,
// summaries and simulation curves.
//
// Contract terms that come from a broker statement (strike, market price,
// cost basis) are shopspring/decimal. Analytics are float64 because every
// derived field flows through the pricing model's transcendental math.
//
// Every record here is a plain value: nothing is mutated after
// construction, and every record serializes to JSON without NaN or Inf.
package model

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Multiplier is the number of shares controlled by one option contract.
const Multiplier = 100

// OptionType is the right conveyed by an option contract.
type OptionType string

const (
	Call OptionType = "CALL"
	Put  OptionType = "PUT"
)

// Valid reports whether t is Call or Put.
func (t OptionType) Valid() bool {
	return t == Call || t == Put
}

// OptionContract holds the static terms of an option position.
// Quantity is signed: negative means short.
type OptionContract struct {
	Underlying  string          `json:"underlying"`
	Expiry      time.Time       `json:"expiry"`
	Strike      decimal.Decimal `json:"strike"`
	Type        OptionType      `json:"type"`
	Quantity    float64         `json:"quantity"`
	MarketPrice decimal.Decimal `json:"market_price"` // per contract
	ImpliedVol  float64         `json:"implied_vol,omitempty"`
}

// TimeToExpiry returns the time from asOf's calendar date to the expiry
// date in years (calendar days / 365). It is zero or negative on and after
// the expiry date.
func (c OptionContract) TimeToExpiry(asOf time.Time) float64 {
	a := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(c.Expiry.Year(), c.Expiry.Month(), c.Expiry.Day(), 0, 0, 0, 0, time.UTC)
	days := e.Sub(a).Hours() / 24
	return days / 365
}

// StrikeFloat returns the strike as float64 for model input.
func (c OptionContract) StrikeFloat() float64 {
	return c.Strike.InexactFloat64()
}

// PremiumPerShare is the quoted market price divided by the multiplier.
func (c OptionContract) PremiumPerShare() float64 {
	return c.MarketPrice.InexactFloat64() / Multiplier
}

// StockPosition is a holding of shares in one ticker.
//
// Beta is always finite. When the data source has no usable beta,
// BetaMissing is set and Beta is zero, so the leg contributes nothing to
// beta-adjusted exposure and is never classified cash-like.
type StockPosition struct {
	Ticker               string          `json:"ticker"`
	Quantity             float64         `json:"quantity"`
	Price                float64         `json:"price"`
	Beta                 float64         `json:"beta"`
	BetaMissing          bool            `json:"beta_missing,omitempty"`
	Cash                 bool            `json:"cash,omitempty"` // explicit cash descriptor
	CostBasis            decimal.Decimal `json:"cost_basis"`
	MarketExposure       float64         `json:"market_exposure"`
	BetaAdjustedExposure float64         `json:"beta_adjusted_exposure"`
	Stale                bool            `json:"stale,omitempty"`
	StaleReason          string          `json:"stale_reason,omitempty"`
}

// OptionPosition is an option contract together with the analytics derived
// from the underlying price at which it was last priced.
//
// RawDelta is the model delta of a long contract. Delta carries the
// position direction: a short call has negative Delta.
type OptionPosition struct {
	Contract                  OptionContract `json:"contract"`
	UnderlyingPrice           float64        `json:"underlying_price"`
	UnderlyingBeta            float64        `json:"underlying_beta"`
	BetaMissing               bool           `json:"beta_missing,omitempty"`
	BaseVolatility            float64        `json:"base_volatility"`
	Volatility                float64        `json:"volatility"`
	Price                     float64        `json:"price"` // model premium per share
	RawDelta                  float64        `json:"raw_delta"`
	Delta                     float64        `json:"delta"`
	Gamma                     float64        `json:"gamma"`
	Theta                     float64        `json:"theta"`
	Notional                  float64        `json:"notional"`
	DeltaExposure             float64        `json:"delta_exposure"`
	BetaAdjustedDeltaExposure float64        `json:"beta_adjusted_delta_exposure"`
	MarketValue               float64        `json:"market_value"`
	Fallback                  bool           `json:"fallback,omitempty"`
	Stale                     bool           `json:"stale,omitempty"`
	StaleReason               string         `json:"stale_reason,omitempty"`
}

// Ticker returns the underlying ticker the option is grouped under.
func (o OptionPosition) Ticker() string {
	return o.Contract.Underlying
}

// PortfolioGroup is one underlying ticker with at most one stock leg and
// any number of option legs. NetExposure, BetaAdjustedNetExposure and
// Value are derived at construction by the portfolio package.
type PortfolioGroup struct {
	Ticker                  string           `json:"ticker"`
	Stock                   *StockPosition   `json:"stock,omitempty"`
	Options                 []OptionPosition `json:"options"`
	NetExposure             float64          `json:"net_exposure"`
	BetaAdjustedNetExposure float64          `json:"beta_adjusted_net_exposure"`
	Value                   float64          `json:"value"`
	Excluded                int              `json:"excluded,omitempty"`
}

// ExposureBreakdown is one view (long, short or options-only) of the
// portfolio's exposure.
type ExposureBreakdown struct {
	StockExposure       float64 `json:"stock_exposure"`
	OptionDeltaExposure float64 `json:"option_delta_exposure"`
	Total               float64 `json:"total"`
	BetaAdjusted        float64 `json:"beta_adjusted"`
}

// ExcludedPosition records a leg left out of an aggregation pass.
type ExcludedPosition struct {
	Ticker string `json:"ticker"`
	Kind   string `json:"kind"` // "stock" or "option"
	Reason string `json:"reason"`
}

// PortfolioSummary is the roll-up of all groups plus the cash-like bucket.
type PortfolioSummary struct {
	ID                      string             `json:"id,omitempty"`
	Long                    ExposureBreakdown  `json:"long"`
	Short                   ExposureBreakdown  `json:"short"`
	Options                 ExposureBreakdown  `json:"options"`
	NetExposure             float64            `json:"net_exposure"`
	BetaAdjustedNetExposure float64            `json:"beta_adjusted_net_exposure"`
	GrossExposure           float64            `json:"gross_exposure"`
	PortfolioBeta           float64            `json:"portfolio_beta"`
	ShortPercentage         float64            `json:"short_percentage"`
	CashLikeValue           float64            `json:"cash_like_value"`
	CashLikeBetaAdjusted    float64            `json:"cash_like_beta_adjusted"`
	CashLikeCount           int                `json:"cash_like_count"`
	CashLike                []StockPosition    `json:"cash_like"`
	PortfolioValue          float64            `json:"portfolio_value"`
	ExcludedPositions       []ExcludedPosition `json:"excluded_positions"`
	Warnings                []string           `json:"warnings,omitempty"`
}

// ExcludedCount is the number of legs left out of the summary.
func (s PortfolioSummary) ExcludedCount() int {
	return len(s.ExcludedPositions)
}

// SimulationPoint is the portfolio state under one hypothetical index move.
type SimulationPoint struct {
	IndexChange             float64            `json:"index_change"`
	PortfolioValue          float64            `json:"portfolio_value"`
	NetExposure             float64            `json:"net_exposure"`
	BetaAdjustedNetExposure float64            `json:"beta_adjusted_net_exposure"`
	ValueChange             float64            `json:"value_change"`
	Prices                  map[string]float64 `json:"prices"`
	Excluded                int                `json:"excluded"`
	Warning                 bool               `json:"warning,omitempty"`
	Warnings                []string           `json:"warnings,omitempty"`
	Invalid                 bool               `json:"invalid,omitempty"`
}

// SimulationCurve is a sweep of points ordered by ascending IndexChange.
type SimulationCurve struct {
	ID        string            `json:"id,omitempty"`
	BaseValue float64           `json:"base_value"`
	Points    []SimulationPoint `json:"points"`
}

// Finite reports whether every argument is neither NaN nor ±Inf.
func Finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// NormalizeBeta turns an optional source beta into (beta, missing).
// nil, NaN and ±Inf all count as missing.
func NormalizeBeta(b *float64) (float64, bool) {
	if b == nil || !Finite(*b) {
		return 0, true
	}
	return *b, false
}
