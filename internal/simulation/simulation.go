// Package simulation sweeps hypothetical benchmark-index moves across a
// portfolio. Each move reprices every stock and option underlying by its
// beta, rebuilds the groups and summarizes them through the aggregator, so
// each curve point obeys the same exposure identity as the base summary.
package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mingdom/omninmo-sub001/internal/metrics"
	"github.com/mingdom/omninmo-sub001/internal/model"
	"github.com/mingdom/omninmo-sub001/internal/portfolio"
	"github.com/mingdom/omninmo-sub001/internal/reprice"
)

// Simulator runs index-move sweeps. It holds no mutable state, so one
// Simulator may serve concurrent sweeps.
type Simulator struct {
	repricer   *reprice.Repricer
	aggregator *portfolio.Aggregator
	workers    int
}

// New creates a Simulator. workers <= 0 uses one worker per CPU.
func New(r *reprice.Repricer, a *portfolio.Aggregator, workers int) *Simulator {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Simulator{repricer: r, aggregator: a, workers: workers}
}

// At returns a copy of s that reprices at asOf.
func (s *Simulator) At(asOf time.Time) *Simulator {
	cp := *s
	cp.repricer = s.repricer.At(asOf)
	return &cp
}

// DefaultIndexChanges returns -30% to +30% in 5% steps.
func DefaultIndexChanges() []float64 {
	out := make([]float64, 0, 13)
	for i := -6; i <= 6; i++ {
		out = append(out, float64(i)/20)
	}
	return out
}

// Simulate returns one point per index change, ordered by ascending change.
// Duplicate changes are kept; non-finite changes are reported as invalid
// points after the finite ones.
//
// Points are computed concurrently. If ctx is cancelled the points that
// completed are returned, still ordered, together with ctx's error.
func (s *Simulator) Simulate(ctx context.Context, groups []model.PortfolioGroup, changes []float64) (model.SimulationCurve, error) {
	start := time.Now()
	defer func() {
		metrics.SimulationDuration.Observe(time.Since(start).Seconds())
	}()

	_, base := s.aggregator.BuildSummary(groups)
	curve := model.SimulationCurve{
		BaseValue: base.PortfolioValue,
		Points:    []model.SimulationPoint{},
	}

	order := make([]int, len(changes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		x, y := changes[order[a]], changes[order[b]]
		if !model.Finite(x) || !model.Finite(y) {
			return model.Finite(x) && !model.Finite(y)
		}
		return x < y
	})

	results := make([]*model.SimulationPoint, len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for slot, idx := range order {
		slot := slot
		if gctx.Err() != nil {
			break
		}
		delta := changes[idx]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p := s.point(groups, delta, base.PortfolioValue)
			results[slot] = &p
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	for _, p := range results {
		if p == nil {
			continue
		}
		curve.Points = append(curve.Points, *p)
		switch {
		case p.Invalid:
			metrics.SimulationPoints.WithLabelValues("invalid").Inc()
		case p.Warning:
			metrics.SimulationPoints.WithLabelValues("warning").Inc()
		default:
			metrics.SimulationPoints.WithLabelValues("ok").Inc()
		}
	}

	if err != nil {
		slog.Warn("simulation interrupted",
			"completed", len(curve.Points),
			"requested", len(changes),
			"err", err,
		)
		return curve, err
	}
	slog.Info("simulation completed",
		"points", len(curve.Points),
		"groups", len(groups),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return curve, nil
}

// point reprices every group under one index move and summarizes it.
func (s *Simulator) point(groups []model.PortfolioGroup, delta, baseValue float64) model.SimulationPoint {
	p := model.SimulationPoint{
		IndexChange: delta,
		Prices:      make(map[string]float64),
	}
	if !model.Finite(delta) {
		p.IndexChange = 0
		p.Invalid = true
		p.Warnings = []string{fmt.Sprintf("non-finite index change %v", delta)}
		return p
	}

	moved := make([]model.PortfolioGroup, 0, len(groups))
	for _, g := range groups {
		var stock *model.StockPosition
		if g.Stock != nil {
			st := s.moveStock(*g.Stock, delta, &p)
			stock = &st
		}
		opts := make([]model.OptionPosition, 0, len(g.Options))
		for _, o := range g.Options {
			opts = append(opts, s.moveOption(o, delta, &p))
		}
		moved = append(moved, portfolio.NewGroup(g.Ticker, stock, opts))
	}

	_, sum := s.aggregator.BuildSummary(moved)
	p.PortfolioValue = sum.PortfolioValue
	p.NetExposure = sum.NetExposure
	p.BetaAdjustedNetExposure = sum.BetaAdjustedNetExposure
	p.ValueChange = sum.PortfolioValue - baseValue
	p.Excluded = sum.ExcludedCount()
	p.Warnings = append(p.Warnings, sum.Warnings...)
	if len(p.Warnings) > 0 {
		p.Warning = true
	}

	if !model.Finite(p.PortfolioValue, p.NetExposure, p.BetaAdjustedNetExposure, p.ValueChange) {
		p.PortfolioValue, p.NetExposure, p.BetaAdjustedNetExposure, p.ValueChange = 0, 0, 0, 0
		p.Invalid = true
		p.Warnings = append(p.Warnings, "non-finite portfolio totals")
	}
	return p
}

// Scale applies the beta-scaling law: price · (1 + Δ · beta).
func Scale(price, delta, beta float64) float64 {
	return price * (1 + delta*beta)
}

func (s *Simulator) moveStock(st model.StockPosition, delta float64, p *model.SimulationPoint) model.StockPosition {
	if st.Stale {
		return st
	}
	price := Scale(st.Price, delta, st.Beta)
	if price <= 0 && st.Price > 0 {
		p.Warnings = append(p.Warnings, fmt.Sprintf("%s: simulated price %.4f is not positive, excluded", st.Ticker, price))
		return reprice.StaleStock(st, 0, "non-positive simulated price")
	}
	if model.Finite(price) {
		p.Prices[st.Ticker] = price
	}
	return s.repricer.RepriceStock(st, price)
}

func (s *Simulator) moveOption(o model.OptionPosition, delta float64, p *model.SimulationPoint) model.OptionPosition {
	if o.Stale {
		return o
	}
	ticker := o.Ticker()
	underlying := Scale(o.UnderlyingPrice, delta, o.UnderlyingBeta)
	if !(underlying > 0) {
		p.Warnings = append(p.Warnings, fmt.Sprintf("%s %s %s: simulated underlying %.4f is not positive, excluded",
			ticker, o.Contract.Strike, o.Contract.Type, underlying))
		return reprice.StaleOption(o, 0, "non-positive simulated underlying")
	}
	if _, ok := p.Prices[ticker]; !ok {
		p.Prices[ticker] = underlying
	}
	return s.repricer.RepriceOption(o, underlying, 0)
}
