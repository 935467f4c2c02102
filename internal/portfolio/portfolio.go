// Package portfolio groups positions by underlying, separates cash-like
// holdings by beta, and rolls groups up into a PortfolioSummary.
//
// Every group and summary total comes from internal/exposure. Groups are
// visited in ticker order and legs in exposure.Legs order, so the same
// positions always produce bit-identical sums.
package portfolio

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"

	"github.com/mingdom/omninmo-sub001/internal/exposure"
	"github.com/mingdom/omninmo-sub001/internal/metrics"
	"github.com/mingdom/omninmo-sub001/internal/model"
)

const (
	// DefaultCashLikeThreshold is the |beta| below which a stock is cash-like.
	DefaultCashLikeThreshold = 0.10

	// ConsistencyTolerance is the relative tolerance of CheckConsistency.
	ConsistencyTolerance = 1e-6
)

var (
	ErrInconsistent     = errors.New("portfolio: summary net exposure does not match group totals")
	ErrInvalidThreshold = errors.New("portfolio: cash-like threshold must be a non-negative finite number")
)

// NewGroup is the only constructor of PortfolioGroup. Stock and options are
// copied; NetExposure, BetaAdjustedNetExposure and Value are derived from
// internal/exposure and Excluded counts the stale legs.
func NewGroup(ticker string, stock *model.StockPosition, options []model.OptionPosition) model.PortfolioGroup {
	g := model.PortfolioGroup{
		Ticker:  ticker,
		Options: slices.Clone(options),
	}
	if g.Options == nil {
		g.Options = []model.OptionPosition{}
	}
	if stock != nil {
		s := *stock
		g.Stock = &s
		if s.Stale {
			g.Excluded++
		}
	}
	for _, o := range g.Options {
		if o.Stale {
			g.Excluded++
		}
	}
	g.NetExposure = exposure.NetExposure(g.Stock, g.Options)
	g.BetaAdjustedNetExposure = exposure.BetaAdjustedNetExposure(g.Stock, g.Options)
	g.Value = exposure.Value(g.Stock, g.Options)
	return g
}

// GroupPositions builds one group per underlying, sorted by ticker.
// Options keep their input order within a group.
//
// Several stock rows on one ticker are merged when they share a price and
// beta: quantities and cost bases are summed. Rows that disagree cannot be
// merged; the later row wins and a warning is returned.
func GroupPositions(stocks []model.StockPosition, options []model.OptionPosition) ([]model.PortfolioGroup, []string) {
	var warnings []string
	stockBy := make(map[string]*model.StockPosition, len(stocks))
	optsBy := make(map[string][]model.OptionPosition)
	var tickers []string
	seen := make(map[string]bool)
	track := func(t string) {
		if !seen[t] {
			seen[t] = true
			tickers = append(tickers, t)
		}
	}

	for i := range stocks {
		s := stocks[i]
		track(s.Ticker)
		prev, ok := stockBy[s.Ticker]
		if !ok {
			stockBy[s.Ticker] = &s
			continue
		}
		merged, err := mergeStock(*prev, s)
		if err != nil {
			warnings = append(warnings, err.Error())
			slog.Warn("duplicate stock rows not merged", "ticker", s.Ticker, "err", err)
		}
		stockBy[s.Ticker] = &merged
	}
	for _, o := range options {
		t := o.Ticker()
		track(t)
		optsBy[t] = append(optsBy[t], o)
	}

	sort.Strings(tickers)
	groups := make([]model.PortfolioGroup, 0, len(tickers))
	for _, t := range tickers {
		groups = append(groups, NewGroup(t, stockBy[t], optsBy[t]))
	}
	return groups, warnings
}

// mergeStock combines two rows on the same ticker. On a price or beta
// mismatch it returns b together with an error describing the conflict.
func mergeStock(a, b model.StockPosition) (model.StockPosition, error) {
	if a.Stale || b.Stale || a.Price != b.Price || a.Beta != b.Beta || a.BetaMissing != b.BetaMissing {
		return b, fmt.Errorf("%s: conflicting stock rows (price %g vs %g); using the later row", b.Ticker, a.Price, b.Price)
	}
	m := a
	m.Quantity = a.Quantity + b.Quantity
	m.Cash = a.Cash || b.Cash
	m.CostBasis = a.CostBasis.Add(b.CostBasis)
	m.MarketExposure, m.BetaAdjustedExposure = exposure.StockExposures(m.Quantity, m.Price, m.Beta)
	return m, nil
}

// Aggregator classifies and summarizes groups.
type Aggregator struct {
	CashLikeThreshold float64
}

// NewAggregator returns an aggregator with the given cash-like threshold.
func NewAggregator(threshold float64) (*Aggregator, error) {
	if !(threshold >= 0) || math.IsInf(threshold, 1) {
		return nil, fmt.Errorf("%w: %g", ErrInvalidThreshold, threshold)
	}
	return &Aggregator{CashLikeThreshold: threshold}, nil
}

// IsCashLike reports whether a stock leg belongs in the cash-like bucket:
// an explicit cash descriptor, or a known beta with |beta| strictly below
// the threshold. A missing beta is never cash-like.
func (a *Aggregator) IsCashLike(s model.StockPosition) bool {
	if s.Cash {
		return true
	}
	if s.BetaMissing {
		return false
	}
	return math.Abs(s.Beta) < a.CashLikeThreshold
}

// BuildSummary classifies every group and rolls it up.
//
// Cash-like stock legs move to the cash-like bucket; their options stay
// behind in an options-only group. Stale legs and groups whose totals are
// non-finite are excluded and reported in the summary rather than failing
// the pass. The returned groups are the classified groups the summary was
// built from, in ticker order.
func (a *Aggregator) BuildSummary(groups []model.PortfolioGroup) ([]model.PortfolioGroup, model.PortfolioSummary) {
	sorted := slices.Clone(groups)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ticker < sorted[j].Ticker })

	sum := model.PortfolioSummary{
		CashLike:          []model.StockPosition{},
		ExcludedPositions: []model.ExcludedPosition{},
	}
	classified := make([]model.PortfolioGroup, 0, len(sorted))

	for _, g := range sorted {
		stock := g.Stock
		if stock != nil && !stock.Stale && a.IsCashLike(*stock) {
			sum.CashLike = append(sum.CashLike, *stock)
			sum.CashLikeValue += stock.MarketExposure
			sum.CashLikeBetaAdjusted += stock.BetaAdjustedExposure
			sum.CashLikeCount++
			stock = nil
			if len(g.Options) == 0 {
				continue
			}
		}

		cg := NewGroup(g.Ticker, stock, g.Options)
		sum.ExcludedPositions = append(sum.ExcludedPositions, staleLegs(cg)...)

		if !model.Finite(cg.NetExposure, cg.BetaAdjustedNetExposure, cg.Value) {
			msg := fmt.Sprintf("%s: group dropped, non-finite exposure", cg.Ticker)
			sum.Warnings = append(sum.Warnings, msg)
			sum.ExcludedPositions = append(sum.ExcludedPositions, dropLegs(cg, "non-finite group exposure")...)
			slog.Warn("group dropped from summary", "ticker", cg.Ticker, "net_exposure", fmt.Sprint(cg.NetExposure))
			continue
		}

		addLegs(&sum, cg)
		sum.NetExposure += cg.NetExposure
		sum.BetaAdjustedNetExposure += cg.BetaAdjustedNetExposure
		sum.PortfolioValue += cg.Value
		classified = append(classified, cg)
	}

	sum.NetExposure += sum.CashLikeValue
	sum.BetaAdjustedNetExposure += sum.CashLikeBetaAdjusted
	sum.PortfolioValue += sum.CashLikeValue

	finishBreakdown(&sum.Long)
	finishBreakdown(&sum.Short)
	finishBreakdown(&sum.Options)
	sum.GrossExposure = sum.Long.Total - sum.Short.Total
	if sum.GrossExposure > 0 {
		sum.ShortPercentage = -sum.Short.Total / sum.GrossExposure
	}
	if sum.NetExposure != 0 {
		sum.PortfolioBeta = sum.BetaAdjustedNetExposure / sum.NetExposure
	}

	for _, e := range sum.ExcludedPositions {
		metrics.StalePositions.WithLabelValues(e.Kind).Inc()
	}
	metrics.SummariesBuilt.Inc()
	return classified, sum
}

// addLegs splits a group's legs into the long, short and options-only
// views by the sign of each leg's own exposure.
func addLegs(sum *model.PortfolioSummary, g model.PortfolioGroup) {
	for _, l := range exposure.Legs(g.Stock, g.Options) {
		var b *model.ExposureBreakdown
		switch {
		case l.Exposure > 0:
			b = &sum.Long
		case l.Exposure < 0:
			b = &sum.Short
		}
		if l.Stock {
			if b != nil {
				b.StockExposure += l.Exposure
				b.BetaAdjusted += l.BetaAdjusted
			}
			continue
		}
		if b != nil {
			b.OptionDeltaExposure += l.Exposure
			b.BetaAdjusted += l.BetaAdjusted
		}
		sum.Options.OptionDeltaExposure += l.Exposure
		sum.Options.BetaAdjusted += l.BetaAdjusted
	}
}

func finishBreakdown(b *model.ExposureBreakdown) {
	b.Total = b.StockExposure + b.OptionDeltaExposure
}

func staleLegs(g model.PortfolioGroup) []model.ExcludedPosition {
	var out []model.ExcludedPosition
	if g.Stock != nil && g.Stock.Stale {
		out = append(out, model.ExcludedPosition{Ticker: g.Ticker, Kind: "stock", Reason: g.Stock.StaleReason})
	}
	for _, o := range g.Options {
		if o.Stale {
			out = append(out, model.ExcludedPosition{Ticker: g.Ticker, Kind: "option", Reason: o.StaleReason})
		}
	}
	return out
}

func dropLegs(g model.PortfolioGroup, reason string) []model.ExcludedPosition {
	var out []model.ExcludedPosition
	if g.Stock != nil && !g.Stock.Stale {
		out = append(out, model.ExcludedPosition{Ticker: g.Ticker, Kind: "stock", Reason: reason})
	}
	for _, o := range g.Options {
		if !o.Stale {
			out = append(out, model.ExcludedPosition{Ticker: g.Ticker, Kind: "option", Reason: reason})
		}
	}
	return out
}

// CheckConsistency verifies that the summary's net exposure equals the sum
// of the classified groups' net exposures plus the cash-like value, and
// that every group total matches the canonical exposure of its legs.
func CheckConsistency(sum model.PortfolioSummary, groups []model.PortfolioGroup) error {
	var total float64
	for _, g := range groups {
		want := exposure.NetExposure(g.Stock, g.Options)
		if !withinTolerance(g.NetExposure, want) {
			return fmt.Errorf("%w: group %s net %g, legs sum to %g", ErrInconsistent, g.Ticker, g.NetExposure, want)
		}
		total += g.NetExposure
	}
	total += sum.CashLikeValue
	if !withinTolerance(total, sum.NetExposure) {
		return fmt.Errorf("%w: groups + cash-like = %g, summary = %g", ErrInconsistent, total, sum.NetExposure)
	}
	return nil
}

func withinTolerance(a, b float64) bool {
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= ConsistencyTolerance*scale
}
