package simulation_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mingdom/omninmo-sub001/internal/model"
	"github.com/mingdom/omninmo-sub001/internal/portfolio"
	"github.com/mingdom/omninmo-sub001/internal/pricing"
	"github.com/mingdom/omninmo-sub001/internal/reprice"
	"github.com/mingdom/omninmo-sub001/internal/simulation"
)

var asOf = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	repricer   *reprice.Repricer
	aggregator *portfolio.Aggregator
	sim        *simulation.Simulator
}

func newFixture(t *testing.T, workers int) fixture {
	t.Helper()
	r := reprice.New(pricing.NewKernel(), 0.04, 0.3, asOf)
	a, err := portfolio.NewAggregator(portfolio.DefaultCashLikeThreshold)
	require.NoError(t, err)
	return fixture{repricer: r, aggregator: a, sim: simulation.New(r, a, workers)}
}

func f(v float64) *float64 { return &v }

// book is a small mixed portfolio: a covered call, a high-beta stock, a
// protective put with no stock leg, and a cash-like fund.
func (fx fixture) book() []model.PortfolioGroup {
	r := fx.repricer
	expiry := asOf.AddDate(0, 3, 0)
	stocks := []model.StockPosition{
		r.NewStock("AAPL", 100, 190, f(1.2)),
		r.NewStock("TSLA", 20, 250, f(2.1)),
		r.NewStock("BIL", 300, 91.4, f(0.01)),
	}
	options := []model.OptionPosition{
		r.NewOption(model.OptionContract{
			Underlying: "AAPL", Expiry: expiry, Strike: decimal.NewFromInt(200),
			Type: model.Call, Quantity: -1, MarketPrice: decimal.NewFromInt(520),
		}, 190, f(1.2)),
		r.NewOption(model.OptionContract{
			Underlying: "SPY", Expiry: expiry, Strike: decimal.NewFromInt(480),
			Type: model.Put, Quantity: 2,
		}, 500, f(1)),
	}
	groups, _ := portfolio.GroupPositions(stocks, options)
	return groups
}

func TestSimulate_PointsOrderedByIndexChange(t *testing.T) {
	fx := newFixture(t, 4)
	curve, err := fx.sim.Simulate(context.Background(), fx.book(), []float64{0.1, -0.1, 0})
	require.NoError(t, err)
	require.Len(t, curve.Points, 3)

	assert.Equal(t, -0.1, curve.Points[0].IndexChange)
	assert.Equal(t, 0.0, curve.Points[1].IndexChange)
	assert.Equal(t, 0.1, curve.Points[2].IndexChange)
}

func TestSimulate_ZeroMoveReproducesBaseSummary(t *testing.T) {
	fx := newFixture(t, 2)
	groups := fx.book()
	_, base := fx.aggregator.BuildSummary(groups)

	curve, err := fx.sim.Simulate(context.Background(), groups, []float64{-0.2, 0, 0.2})
	require.NoError(t, err)
	zero := curve.Points[1]

	assert.Equal(t, base.NetExposure, zero.NetExposure)
	assert.Equal(t, base.BetaAdjustedNetExposure, zero.BetaAdjustedNetExposure)
	assert.Equal(t, base.PortfolioValue, zero.PortfolioValue)
	assert.Equal(t, base.PortfolioValue, curve.BaseValue)
	assert.Equal(t, 0.0, zero.ValueChange)
	assert.False(t, zero.Warning)
	assert.Equal(t, 0, zero.Excluded)
}

func TestSimulate_BetaScalingLaw(t *testing.T) {
	fx := newFixture(t, 1)
	groups := fx.book()
	changes := []float64{-0.25, -0.05, 0.05, 0.15, 0.3}

	curve, err := fx.sim.Simulate(context.Background(), groups, changes)
	require.NoError(t, err)
	for _, p := range curve.Points {
		assert.Equal(t, 190*(1+p.IndexChange*1.2), p.Prices["AAPL"], "AAPL at Δ=%v", p.IndexChange)
		assert.Equal(t, 250*(1+p.IndexChange*2.1), p.Prices["TSLA"], "TSLA at Δ=%v", p.IndexChange)
		assert.Equal(t, 500*(1+p.IndexChange*1), p.Prices["SPY"], "SPY underlying at Δ=%v", p.IndexChange)
	}
}

func TestSimulate_LongBookGainsWithIndex(t *testing.T) {
	fx := newFixture(t, 0)
	var longOnly []model.PortfolioGroup
	for _, g := range fx.book() {
		if g.Ticker == "AAPL" || g.Ticker == "TSLA" {
			longOnly = append(longOnly, g)
		}
	}
	require.Len(t, longOnly, 2)

	curve, err := fx.sim.Simulate(context.Background(), longOnly, simulation.DefaultIndexChanges())
	require.NoError(t, err)
	for i := 1; i < len(curve.Points); i++ {
		prev, cur := curve.Points[i-1], curve.Points[i]
		assert.Greater(t, cur.PortfolioValue, prev.PortfolioValue,
			"covered call plus long stock should gain as the index rises (Δ %v → %v)", prev.IndexChange, cur.IndexChange)
	}
}

func TestSimulate_ExtremeMoveExcludesInstrument(t *testing.T) {
	fx := newFixture(t, 2)
	r := fx.repricer
	groups, _ := portfolio.GroupPositions([]model.StockPosition{
		r.NewStock("LEV", 10, 50, f(4)),
		r.NewStock("KO", 10, 60, f(0.6)),
	}, nil)

	curve, err := fx.sim.Simulate(context.Background(), groups, []float64{-0.3, 0})
	require.NoError(t, err)
	require.Len(t, curve.Points, 2)

	crash := curve.Points[0]
	assert.True(t, crash.Warning)
	assert.False(t, crash.Invalid)
	assert.Equal(t, 1, crash.Excluded)
	require.NotEmpty(t, crash.Warnings)
	assert.Contains(t, crash.Warnings[0], "LEV")
	_, hasLev := crash.Prices["LEV"]
	assert.False(t, hasLev)
	assert.InDelta(t, 10*60*(1-0.3*0.6), crash.NetExposure, 1e-9)

	assert.False(t, curve.Points[1].Warning)
	assert.Equal(t, 0, curve.Points[1].Excluded)
}

func TestSimulate_ExtremeMoveExcludesOptionsOnUnderlying(t *testing.T) {
	fx := newFixture(t, 2)
	r := fx.repricer
	opt := r.NewOption(model.OptionContract{
		Underlying: "LEV", Expiry: asOf.AddDate(0, 1, 0), Strike: decimal.NewFromInt(50),
		Type: model.Put, Quantity: 1,
	}, 50, f(5))
	groups, _ := portfolio.GroupPositions(nil, []model.OptionPosition{opt})

	curve, err := fx.sim.Simulate(context.Background(), groups, []float64{-0.25})
	require.NoError(t, err)
	p := curve.Points[0]
	assert.True(t, p.Warning)
	assert.Equal(t, 1, p.Excluded)
	assert.Equal(t, 0.0, p.NetExposure)
}

func TestSimulate_NonFiniteChangeIsInvalid(t *testing.T) {
	fx := newFixture(t, 2)
	curve, err := fx.sim.Simulate(context.Background(), fx.book(), []float64{math.NaN(), 0.1, math.Inf(-1), -0.1})
	require.NoError(t, err)
	require.Len(t, curve.Points, 4)

	assert.Equal(t, -0.1, curve.Points[0].IndexChange)
	assert.Equal(t, 0.1, curve.Points[1].IndexChange)
	for _, p := range curve.Points[2:] {
		assert.True(t, p.Invalid)
		assert.Equal(t, 0.0, p.IndexChange)
		assert.Equal(t, 0.0, p.NetExposure)
	}
	assert.False(t, curve.Points[0].Invalid)
}

func TestSimulate_DuplicateChangesKept(t *testing.T) {
	fx := newFixture(t, 2)
	curve, err := fx.sim.Simulate(context.Background(), fx.book(), []float64{0.05, 0.05, -0.05})
	require.NoError(t, err)
	require.Len(t, curve.Points, 3)
	assert.Equal(t, curve.Points[1], curve.Points[2])
}

func TestSimulate_DeterministicAcrossWorkerCounts(t *testing.T) {
	changes := simulation.DefaultIndexChanges()

	a := newFixture(t, 1)
	serial, err := a.sim.Simulate(context.Background(), a.book(), changes)
	require.NoError(t, err)

	b := newFixture(t, 8)
	parallel, err := b.sim.Simulate(context.Background(), b.book(), changes)
	require.NoError(t, err)

	assert.Equal(t, serial, parallel)
}

func TestSimulate_CancelledContextReturnsPartialCurve(t *testing.T) {
	fx := newFixture(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	curve, err := fx.sim.Simulate(ctx, fx.book(), simulation.DefaultIndexChanges())
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, len(curve.Points), len(simulation.DefaultIndexChanges()))
	for i := 1; i < len(curve.Points); i++ {
		assert.Less(t, curve.Points[i-1].IndexChange, curve.Points[i].IndexChange)
	}
}

func TestSimulate_EmptyPortfolio(t *testing.T) {
	fx := newFixture(t, 2)
	curve, err := fx.sim.Simulate(context.Background(), nil, []float64{-0.1, 0.1})
	require.NoError(t, err)
	require.Len(t, curve.Points, 2)
	for _, p := range curve.Points {
		assert.Equal(t, 0.0, p.PortfolioValue)
		assert.False(t, p.Invalid)
	}
}

func TestDefaultIndexChanges(t *testing.T) {
	changes := simulation.DefaultIndexChanges()
	require.Len(t, changes, 13)
	assert.Equal(t, -0.3, changes[0])
	assert.Equal(t, 0.0, changes[6])
	assert.Equal(t, 0.3, changes[12])
	assert.Equal(t, 0.05, changes[7])
}

func TestScale(t *testing.T) {
	assert.Equal(t, 175.0, simulation.Scale(100, 0.5, 1.5))
	assert.Equal(t, 100.0, simulation.Scale(100, 0, 1.5))
	assert.Equal(t, 100.0, simulation.Scale(100, 0.2, 0))
	assert.Equal(t, 150.0, simulation.Scale(100, -0.25, -2))
	assert.InDelta(t, 115.0, simulation.Scale(100, 0.1, 1.5), 1e-9)
}
