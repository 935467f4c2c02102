// Package engine runs the exposure pipeline end to end: load rows, group
// positions, summarize, and optionally sweep index moves. The HTTP API and
// the CLI both drive it.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mingdom/omninmo-sub001/internal/loader"
	"github.com/mingdom/omninmo-sub001/internal/model"
	"github.com/mingdom/omninmo-sub001/internal/portfolio"
	"github.com/mingdom/omninmo-sub001/internal/simulation"
)

// Report is a portfolio summary together with the groups it was built from.
type Report struct {
	Summary model.PortfolioSummary `json:"summary"`
	Groups  []model.PortfolioGroup `json:"groups"`
}

// Engine wires the loader, aggregator and simulator.
type Engine struct {
	loader     *loader.Loader
	aggregator *portfolio.Aggregator
	simulator  *simulation.Simulator
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used to date requests when the loader's
// repricer has no fixed valuation time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(l *loader.Loader, a *portfolio.Aggregator, s *simulation.Simulator, opts ...Option) *Engine {
	e := &Engine{loader: l, aggregator: a, simulator: s, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// date returns the valuation time for one request. Every position in the
// request, and every point of a sweep, is priced at this time.
func (e *Engine) date() time.Time {
	if asOf := e.loader.AsOf(); !asOf.IsZero() {
		return asOf
	}
	return e.now().UTC()
}

// Summarize builds the summary for rows. Rows the loader could not use are
// reported in the summary's excluded positions alongside stale legs.
func (e *Engine) Summarize(ctx context.Context, rows []loader.Row) (Report, error) {
	asOf := e.date()
	groups, loaded, err := e.load(ctx, e.loader.At(asOf), rows)
	if err != nil {
		return Report{}, err
	}

	classified, sum := e.aggregator.BuildSummary(groups)
	if err := portfolio.CheckConsistency(sum, classified); err != nil {
		return Report{}, err
	}
	sum.ID = uuid.New().String()
	sum.ExcludedPositions = append(loaded.Excluded, sum.ExcludedPositions...)
	sum.Warnings = append(loaded.Warnings, sum.Warnings...)

	slog.Info("summary built",
		"id", sum.ID,
		"as_of", asOf.Format(time.RFC3339),
		"groups", len(classified),
		"cash_like", sum.CashLikeCount,
		"excluded", sum.ExcludedCount(),
		"net_exposure", sum.NetExposure,
		"portfolio_beta", sum.PortfolioBeta,
	)
	return Report{Summary: sum, Groups: classified}, nil
}

// Simulate sweeps changes across the positions built from rows. An empty
// changes slice uses simulation.DefaultIndexChanges. On cancellation the
// points completed so far are returned with the context's error.
func (e *Engine) Simulate(ctx context.Context, rows []loader.Row, changes []float64) (model.SimulationCurve, error) {
	asOf := e.date()
	groups, _, err := e.load(ctx, e.loader.At(asOf), rows)
	if err != nil {
		return model.SimulationCurve{}, err
	}
	if len(changes) == 0 {
		changes = simulation.DefaultIndexChanges()
	}
	curve, err := e.simulator.At(asOf).Simulate(ctx, groups, changes)
	curve.ID = uuid.New().String()
	return curve, err
}

func (e *Engine) load(ctx context.Context, l *loader.Loader, rows []loader.Row) ([]model.PortfolioGroup, loader.Result, error) {
	res, err := l.Load(ctx, rows)
	if err != nil {
		return nil, res, fmt.Errorf("load positions: %w", err)
	}
	groups, warnings := portfolio.GroupPositions(res.Stocks, res.Options)
	res.Warnings = append(res.Warnings, warnings...)
	return groups, res, nil
}
