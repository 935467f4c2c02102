// Package loader turns raw position rows into priced stock and option
// positions. Missing prices and betas are looked up from a market data
// source before any position is built, so no pricing or aggregation step
// ever waits on I/O.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mingdom/omninmo-sub001/internal/contract"
	"github.com/mingdom/omninmo-sub001/internal/marketdata"
	"github.com/mingdom/omninmo-sub001/internal/model"
	"github.com/mingdom/omninmo-sub001/internal/reprice"
)

var ErrEmptySymbol = errors.New("loader: row has no symbol")

// Row is one line of a position statement. Symbol is either a stock ticker
// or an option symbol; for options Price is the market price per contract.
type Row struct {
	Symbol          string           `json:"symbol" yaml:"symbol"`
	Description     string           `json:"description,omitempty" yaml:"description,omitempty"`
	Quantity        float64          `json:"quantity" yaml:"quantity"`
	Price           *decimal.Decimal `json:"price,omitempty" yaml:"price,omitempty"`
	Beta            *float64         `json:"beta,omitempty" yaml:"beta,omitempty"`
	Cash            bool             `json:"cash,omitempty" yaml:"cash,omitempty"`
	CostBasis       decimal.Decimal  `json:"cost_basis,omitempty" yaml:"cost_basis,omitempty"`
	UnderlyingPrice *float64         `json:"underlying_price,omitempty" yaml:"underlying_price,omitempty"`
	ImpliedVol      float64          `json:"implied_vol,omitempty" yaml:"implied_vol,omitempty"`
}

// Result holds the positions built from a set of rows together with the
// rows that could not be used.
type Result struct {
	Stocks   []model.StockPosition    `json:"stocks"`
	Options  []model.OptionPosition   `json:"options"`
	Excluded []model.ExcludedPosition `json:"excluded"`
	Warnings []string                 `json:"warnings,omitempty"`
}

// Loader builds positions from rows.
type Loader struct {
	source   marketdata.Source
	repricer *reprice.Repricer
	workers  int
}

// New creates a Loader. source may be nil when every row carries its own
// price and beta. workers <= 0 uses one lookup per CPU at a time.
func New(source marketdata.Source, r *reprice.Repricer, workers int) *Loader {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Loader{source: source, repricer: r, workers: workers}
}

// At returns a copy of l whose positions are valued at asOf.
func (l *Loader) At(asOf time.Time) *Loader {
	cp := *l
	cp.repricer = l.repricer.At(asOf)
	return &cp
}

// AsOf returns the valuation time positions are built at. It is zero when
// the caller pins it per load with At.
func (l *Loader) AsOf() time.Time {
	return l.repricer.AsOf
}

type parsed struct {
	row    Row
	ticker string
	symbol *contract.Symbol // nil for stock rows
}

type lookup struct {
	quote marketdata.Quote
	err   error
}

// Load parses rows, fetches whatever the rows do not supply, and builds
// positions. A row that cannot be priced is excluded and reported; only a
// cancelled context fails the whole load.
func (l *Loader) Load(ctx context.Context, rows []Row) (Result, error) {
	res := Result{
		Stocks:   []model.StockPosition{},
		Options:  []model.OptionPosition{},
		Excluded: []model.ExcludedPosition{},
	}

	items := make([]parsed, 0, len(rows))
	stockRow := make(map[string]Row)
	for _, r := range rows {
		sym := strings.TrimSpace(r.Symbol)
		if sym == "" {
			res.Excluded = append(res.Excluded, model.ExcludedPosition{Kind: "unknown", Reason: ErrEmptySymbol.Error()})
			continue
		}
		if s, err := contract.Parse(sym); err == nil {
			items = append(items, parsed{row: r, ticker: s.Underlying, symbol: s})
			continue
		}
		t := marketdata.NormalizeTicker(sym)
		items = append(items, parsed{row: r, ticker: t})
		if _, ok := stockRow[t]; !ok {
			stockRow[t] = r
		}
	}

	quotes, err := l.fetch(ctx, needed(items, stockRow))
	if err != nil {
		return res, err
	}

	for _, it := range items {
		if it.symbol == nil {
			l.addStock(&res, it, quotes)
		} else {
			l.addOption(&res, it, stockRow, quotes)
		}
	}
	return res, nil
}

// needed returns the sorted tickers whose price or beta is not supplied by
// the rows themselves. An option whose ticker has a stock row shares that
// row's needs.
func needed(items []parsed, stockRow map[string]Row) []string {
	want := make(map[string]bool)
	for _, it := range items {
		r := it.row
		if it.symbol != nil {
			if _, ok := stockRow[it.ticker]; ok {
				continue
			}
		}
		price := r.Price != nil
		if it.symbol != nil {
			price = r.UnderlyingPrice != nil
		}
		if !price || r.Beta == nil {
			want[it.ticker] = true
		}
	}
	out := make([]string, 0, len(want))
	for t := range want {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (l *Loader) fetch(ctx context.Context, tickers []string) (map[string]lookup, error) {
	out := make(map[string]lookup, len(tickers))
	if len(tickers) == 0 {
		return out, nil
	}
	if l.source == nil {
		for _, t := range tickers {
			out[t] = lookup{err: fmt.Errorf("%w: %s: no market data source", marketdata.ErrDataUnavailable, t)}
		}
		return out, nil
	}

	results := make([]lookup, len(tickers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, t := range tickers {
		i, t := i, t
		g.Go(func() error {
			q, err := l.source.GetPriceAndBeta(gctx, t)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			results[i] = lookup{quote: q, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, t := range tickers {
		out[t] = results[i]
	}
	return out, nil
}

// resolveStock returns the price and beta a stock row is built with: the
// row's own values, else the quote. ok is false when neither has a price.
func resolveStock(r Row, q lookup, fetched bool) (price float64, beta *float64, ok bool) {
	quoted := fetched && q.err == nil
	switch {
	case r.Price != nil:
		price = r.Price.InexactFloat64()
	case quoted:
		price = q.quote.Price.InexactFloat64()
	default:
		return 0, nil, false
	}
	beta = r.Beta
	if beta == nil && quoted {
		beta = q.quote.Beta
	}
	return price, beta, true
}

func (l *Loader) addStock(res *Result, it parsed, quotes map[string]lookup) {
	r := it.row
	q, fetched := quotes[it.ticker]
	price, beta, ok := resolveStock(r, q, fetched)
	if !ok {
		l.exclude(res, it.ticker, "stock", reasonFor(q, fetched))
		return
	}
	if beta == nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: beta unavailable, treated as non-cash with zero beta-adjusted exposure", it.ticker))
	}

	s := l.repricer.NewStock(it.ticker, r.Quantity, price, beta)
	s.Cash = r.Cash
	s.CostBasis = r.CostBasis
	res.Stocks = append(res.Stocks, s)
}

// addOption builds an option leg. When the ticker has a priced stock row,
// the underlying price and beta are the stock's, so both legs of a group
// move together; the option row's own values are used only without one.
func (l *Loader) addOption(res *Result, it parsed, stockRow map[string]Row, quotes map[string]lookup) {
	r := it.row
	q, fetched := quotes[it.ticker]

	var underlying float64
	var beta *float64
	fromStock := false
	if sr, ok := stockRow[it.ticker]; ok {
		underlying, beta, fromStock = resolveStock(sr, q, fetched)
	}
	if fromStock {
		if r.UnderlyingPrice != nil && *r.UnderlyingPrice != underlying {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: underlying price %v ignored, using stock price %v", it.symbol, *r.UnderlyingPrice, underlying))
		}
		if r.Beta != nil && (beta == nil || *r.Beta != *beta) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: beta %v ignored, using stock beta %s", it.symbol, *r.Beta, formatBeta(beta)))
		}
	} else {
		quoted := fetched && q.err == nil
		switch {
		case r.UnderlyingPrice != nil:
			underlying = *r.UnderlyingPrice
		case quoted:
			underlying = q.quote.Price.InexactFloat64()
		default:
			l.exclude(res, it.ticker, "option", fmt.Sprintf("%s: underlying price: %s", it.symbol, reasonFor(q, fetched)))
			return
		}
		beta = r.Beta
		if beta == nil && quoted {
			beta = q.quote.Beta
		}
	}

	var premium decimal.Decimal
	if r.Price != nil {
		premium = *r.Price
	}
	c := it.symbol.Contract(r.Quantity, premium)
	c.ImpliedVol = r.ImpliedVol
	res.Options = append(res.Options, l.repricer.NewOption(c, underlying, beta))
}

func (l *Loader) exclude(res *Result, ticker, kind, reason string) {
	slog.Warn("position excluded", "ticker", ticker, "kind", kind, "reason", reason)
	res.Excluded = append(res.Excluded, model.ExcludedPosition{Ticker: ticker, Kind: kind, Reason: reason})
}

func formatBeta(b *float64) string {
	if b == nil {
		return "unavailable"
	}
	return fmt.Sprint(*b)
}

func reasonFor(q lookup, fetched bool) string {
	if fetched && q.err != nil {
		return q.err.Error()
	}
	return marketdata.ErrDataUnavailable.Error()
}
