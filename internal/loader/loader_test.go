package loader_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mingdom/omninmo-sub001/internal/loader"
	"github.com/mingdom/omninmo-sub001/internal/marketdata"
	"github.com/mingdom/omninmo-sub001/internal/pricing"
	"github.com/mingdom/omninmo-sub001/internal/reprice"
)

var asOf = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

func dec(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func newLoader(src marketdata.Source) *loader.Loader {
	return loader.New(src, reprice.New(pricing.NewKernel(), 0.04, 0.3, asOf), 2)
}

func TestLoad_RowsWithPricesNeedNoSource(t *testing.T) {
	l := newLoader(nil)
	res, err := l.Load(context.Background(), []loader.Row{
		{Symbol: "aapl", Quantity: 100, Price: dec("190"), Beta: f(1.2), CostBasis: decimal.NewFromInt(15000)},
		{Symbol: "-AAPL250321C200", Quantity: -1, Price: dec("450")},
	})
	require.NoError(t, err)
	require.Len(t, res.Stocks, 1)
	require.Len(t, res.Options, 1)
	assert.Empty(t, res.Excluded)

	s := res.Stocks[0]
	assert.Equal(t, "AAPL", s.Ticker)
	assert.Equal(t, 19000.0, s.MarketExposure)
	assert.True(t, decimal.NewFromInt(15000).Equal(s.CostBasis))

	o := res.Options[0]
	assert.Equal(t, "AAPL", o.Ticker())
	assert.Equal(t, 190.0, o.UnderlyingPrice, "underlying price comes from the stock row")
	assert.Equal(t, 1.2, o.UnderlyingBeta, "underlying beta comes from the stock row")
	assert.Equal(t, 190.0*100, o.Notional)
	assert.Negative(t, o.DeltaExposure)
}

func TestLoad_FillsFromSource(t *testing.T) {
	src := marketdata.NewMemorySource()
	src.Set("MSFT", decimal.NewFromInt(400), f(1.1))
	src.Set("SPY", decimal.NewFromInt(500), f(1))

	res, err := newLoader(src).Load(context.Background(), []loader.Row{
		{Symbol: "MSFT", Quantity: 10},
		{Symbol: "SPY   250620P00480000", Quantity: 2},
	})
	require.NoError(t, err)
	require.Len(t, res.Stocks, 1)
	require.Len(t, res.Options, 1)

	assert.Equal(t, 4000.0, res.Stocks[0].MarketExposure)
	assert.Equal(t, 1.1, res.Stocks[0].Beta)
	assert.Equal(t, 500.0, res.Options[0].UnderlyingPrice)
	assert.Equal(t, 1.0, res.Options[0].UnderlyingBeta)
}

func TestLoad_RowBetaWinsOverSource(t *testing.T) {
	src := marketdata.NewMemorySource()
	src.Set("KO", decimal.NewFromInt(60), f(0.6))

	res, err := newLoader(src).Load(context.Background(), []loader.Row{
		{Symbol: "KO", Quantity: 10, Beta: f(0.55)},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.55, res.Stocks[0].Beta)
	assert.Equal(t, 600.0, res.Stocks[0].MarketExposure)
}

func TestLoad_UnavailableTickerExcluded(t *testing.T) {
	src := marketdata.NewMemorySource()
	src.Set("AAPL", decimal.NewFromInt(190), f(1.2))

	res, err := newLoader(src).Load(context.Background(), []loader.Row{
		{Symbol: "AAPL", Quantity: 1},
		{Symbol: "DELISTED", Quantity: 5},
		{Symbol: "-GONE250321C10", Quantity: 1},
	})
	require.NoError(t, err)
	assert.Len(t, res.Stocks, 1)
	assert.Empty(t, res.Options)
	require.Len(t, res.Excluded, 2)
	assert.Equal(t, "DELISTED", res.Excluded[0].Ticker)
	assert.Equal(t, "stock", res.Excluded[0].Kind)
	assert.Contains(t, res.Excluded[0].Reason, "unavailable")
	assert.Equal(t, "GONE", res.Excluded[1].Ticker)
	assert.Equal(t, "option", res.Excluded[1].Kind)
}

func TestLoad_PricedRowWithoutBetaWarns(t *testing.T) {
	res, err := newLoader(marketdata.NewMemorySource()).Load(context.Background(), []loader.Row{
		{Symbol: "IPO", Quantity: 10, Price: dec("25")},
	})
	require.NoError(t, err)
	require.Len(t, res.Stocks, 1)
	assert.True(t, res.Stocks[0].BetaMissing)
	assert.Equal(t, 0.0, res.Stocks[0].BetaAdjustedExposure)
	assert.Len(t, res.Warnings, 1)
}

func TestLoad_CashFlagAndEmptySymbol(t *testing.T) {
	res, err := newLoader(nil).Load(context.Background(), []loader.Row{
		{Symbol: "SPAXX", Quantity: 5000, Price: dec("1"), Beta: f(0), Cash: true},
		{Symbol: "  ", Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, res.Stocks, 1)
	assert.True(t, res.Stocks[0].Cash)
	require.Len(t, res.Excluded, 1)
	assert.Equal(t, loader.ErrEmptySymbol.Error(), res.Excluded[0].Reason)
}

type brokenSource struct{}

func (brokenSource) GetPriceAndBeta(context.Context, string) (marketdata.Quote, error) {
	return marketdata.Quote{}, errors.New("upstream timeout")
}

func TestLoad_SourceErrorsExcludeRowsOnly(t *testing.T) {
	res, err := newLoader(brokenSource{}).Load(context.Background(), []loader.Row{
		{Symbol: "AAPL", Quantity: 1},
		{Symbol: "MSFT", Quantity: 1, Price: dec("400"), Beta: f(1.1)},
	})
	require.NoError(t, err)
	assert.Len(t, res.Stocks, 1)
	require.Len(t, res.Excluded, 1)
	assert.Contains(t, res.Excluded[0].Reason, "upstream timeout")
}

func TestLoad_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newLoader(brokenSource{}).Load(ctx, []loader.Row{{Symbol: "AAPL", Quantity: 1}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoad_ExplicitImpliedVolIsUsedFlat(t *testing.T) {
	res, err := newLoader(nil).Load(context.Background(), []loader.Row{
		{Symbol: "AAPL250321P00150000", Quantity: 1, UnderlyingPrice: f(190), Beta: f(1.2), ImpliedVol: 0.45},
	})
	require.NoError(t, err)
	require.Len(t, res.Options, 1)
	assert.Equal(t, 0.45, res.Options[0].Volatility)
}

func TestLoad_StockLegWinsOverOptionRow(t *testing.T) {
	res, err := newLoader(nil).Load(context.Background(), []loader.Row{
		{Symbol: "AAPL", Quantity: 100, Price: dec("190"), Beta: f(1.2)},
		{Symbol: "-AAPL250321C200", Quantity: -1, Beta: f(0.3), UnderlyingPrice: f(150)},
	})
	require.NoError(t, err)
	require.Len(t, res.Options, 1)
	assert.Empty(t, res.Excluded)

	o := res.Options[0]
	assert.Equal(t, 190.0, o.UnderlyingPrice)
	assert.Equal(t, 1.2, o.UnderlyingBeta)
	assert.Equal(t, res.Stocks[0].Price, o.UnderlyingPrice)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "underlying price 150 ignored")
	assert.Contains(t, res.Warnings[1], "beta 0.3 ignored")
}

func TestLoad_OptionFollowsSourcePricedStockLeg(t *testing.T) {
	src := marketdata.NewMemorySource()
	src.Set("AAPL", decimal.NewFromInt(195), f(1.25))

	res, err := newLoader(src).Load(context.Background(), []loader.Row{
		{Symbol: "AAPL", Quantity: 10},
		{Symbol: "-AAPL250321C200", Quantity: 1, Beta: f(0.3), UnderlyingPrice: f(150)},
	})
	require.NoError(t, err)
	require.Len(t, res.Stocks, 1)
	require.Len(t, res.Options, 1)
	assert.Equal(t, 195.0, res.Stocks[0].Price)
	assert.Equal(t, 195.0, res.Options[0].UnderlyingPrice)
	assert.Equal(t, 1.25, res.Options[0].UnderlyingBeta)
	assert.Len(t, res.Warnings, 2)
}

func TestLoad_OptionRowUsedWithoutStockLeg(t *testing.T) {
	src := marketdata.NewMemorySource()
	src.Set("MSFT", decimal.NewFromInt(400), f(1.1))

	res, err := newLoader(src).Load(context.Background(), []loader.Row{
		{Symbol: "AAPL", Quantity: 10},
		{Symbol: "-AAPL250321C200", Quantity: 1, Beta: f(0.3), UnderlyingPrice: f(150)},
		{Symbol: "-MSFT250321C420", Quantity: 1, UnderlyingPrice: f(405)},
	})
	require.NoError(t, err)
	require.Len(t, res.Excluded, 1)
	assert.Equal(t, "AAPL", res.Excluded[0].Ticker)
	assert.Equal(t, "stock", res.Excluded[0].Kind)

	require.Len(t, res.Options, 2)
	assert.Equal(t, 150.0, res.Options[0].UnderlyingPrice, "option row applies when the stock leg is excluded")
	assert.Equal(t, 0.3, res.Options[0].UnderlyingBeta)
	assert.Equal(t, 405.0, res.Options[1].UnderlyingPrice, "row price wins over the source without a stock row")
	assert.Equal(t, 1.1, res.Options[1].UnderlyingBeta, "missing row beta comes from the source")
	assert.Empty(t, res.Warnings)
}
