package reprice

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mingdom/omninmo-sub001/internal/model"
	"github.com/mingdom/omninmo-sub001/internal/pricing"
)

var asOf = time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC)

func testRepricer() *Repricer {
	return New(pricing.NewKernel(), 0.04, 0.30, asOf)
}

func beta(b float64) *float64 { return &b }

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func callContract(qty float64, strike string, days int) model.OptionContract {
	return model.OptionContract{
		Underlying: "AAPL",
		Expiry:     asOf.AddDate(0, 0, days),
		Strike:     d(strike),
		Type:       model.Call,
		Quantity:   qty,
	}
}

// --- Stocks ---

func TestNewStock_Exposures(t *testing.T) {
	r := testRepricer()
	s := r.NewStock("AAPL", 100, 50, beta(1.2))
	if s.MarketExposure != 5000 {
		t.Errorf("expected market exposure 5000, got %v", s.MarketExposure)
	}
	if math.Abs(s.BetaAdjustedExposure-6000) > 1e-9 {
		t.Errorf("expected beta-adjusted 6000, got %v", s.BetaAdjustedExposure)
	}
	if s.Stale || s.BetaMissing {
		t.Errorf("unexpected flags: %+v", s)
	}
}

func TestNewStock_MissingBeta(t *testing.T) {
	r := testRepricer()
	for _, b := range []*float64{nil, beta(math.NaN()), beta(math.Inf(1))} {
		s := r.NewStock("XYZ", 10, 20, b)
		if !s.BetaMissing || s.Beta != 0 {
			t.Errorf("expected missing beta, got beta=%v missing=%v", s.Beta, s.BetaMissing)
		}
		if s.BetaAdjustedExposure != 0 {
			t.Errorf("missing beta must contribute zero beta-adjusted exposure, got %v", s.BetaAdjustedExposure)
		}
		if s.MarketExposure != 200 {
			t.Errorf("market exposure should not depend on beta, got %v", s.MarketExposure)
		}
	}
}

func TestRepriceStock_KeepsBeta(t *testing.T) {
	r := testRepricer()
	s := r.NewStock("AAPL", -20, 100, beta(1.5))
	moved := r.RepriceStock(s, 110)
	if moved.Beta != 1.5 {
		t.Errorf("beta must be unchanged, got %v", moved.Beta)
	}
	if moved.MarketExposure != -2200 {
		t.Errorf("expected -2200, got %v", moved.MarketExposure)
	}
	if moved.BetaAdjustedExposure != -3300 {
		t.Errorf("expected -3300, got %v", moved.BetaAdjustedExposure)
	}
}

func TestRepriceStock_Idempotent(t *testing.T) {
	r := testRepricer()
	s := r.NewStock("AAPL", 37, 123.45, beta(0.8))
	s.CostBasis = d("4000.10")
	again := r.RepriceStock(s, s.Price)
	if !reflect.DeepEqual(s, again) {
		t.Errorf("reprice at same price changed the position:\n%+v\n%+v", s, again)
	}
}

func TestRepriceStock_InvalidPriceIsStale(t *testing.T) {
	r := testRepricer()
	s := r.NewStock("AAPL", 10, 50, beta(1))
	for _, p := range []float64{-1, math.NaN(), math.Inf(1)} {
		out := r.RepriceStock(s, p)
		if !out.Stale || out.StaleReason == "" {
			t.Errorf("price %v: expected stale position, got %+v", p, out)
		}
		if out.MarketExposure != 0 || out.BetaAdjustedExposure != 0 {
			t.Errorf("price %v: stale position must not carry exposure", p)
		}
		if !model.Finite(out.Price) {
			t.Errorf("price %v: stale price must be finite, got %v", p, out.Price)
		}
	}
}

func TestRepriceStock_ZeroPriceIsValid(t *testing.T) {
	r := testRepricer()
	out := r.RepriceStock(r.NewStock("AAPL", 10, 50, beta(1)), 0)
	if out.Stale {
		t.Errorf("zero price is a valid price: %+v", out)
	}
}

// --- Options ---

func TestNewOption_Notional(t *testing.T) {
	r := testRepricer()
	o := r.NewOption(callContract(-3, "150", 60), 142.5, beta(1.1))
	if o.Notional != 142.5*100*3 {
		t.Errorf("expected notional %v, got %v", 142.5*100*3, o.Notional)
	}
	if o.Stale || o.Fallback {
		t.Errorf("unexpected flags: %+v", o)
	}
}

func TestRepriceOption_NotionalFollowsUnderlying(t *testing.T) {
	r := testRepricer()
	o := r.NewOption(callContract(2, "100", 90), 100, beta(1))
	for _, s := range []float64{60, 95, 100, 130, 250} {
		out := r.RepriceOption(o, s, 0)
		if out.Notional != s*100*2 {
			t.Errorf("S=%v: expected notional %v, got %v", s, s*100*2, out.Notional)
		}
		if out.UnderlyingPrice != s {
			t.Errorf("S=%v: underlying price not updated: %v", s, out.UnderlyingPrice)
		}
		if out.DeltaExposure != out.Delta*out.Notional {
			t.Errorf("S=%v: delta exposure %v != delta*notional %v", s, out.DeltaExposure, out.Delta*out.Notional)
		}
	}
}

func TestRepriceOption_ShortSign(t *testing.T) {
	r := testRepricer()
	long := r.NewOption(callContract(1, "100", 90), 100, beta(1))
	short := r.NewOption(callContract(-1, "100", 90), 100, beta(1))
	if long.RawDelta != short.RawDelta {
		t.Errorf("raw delta must not depend on direction: %v vs %v", long.RawDelta, short.RawDelta)
	}
	if short.Delta != -long.Delta {
		t.Errorf("short delta should invert: %v vs %v", short.Delta, long.Delta)
	}
	if short.DeltaExposure >= 0 {
		t.Errorf("short call should have negative delta exposure, got %v", short.DeltaExposure)
	}
	if short.MarketValue != -long.MarketValue {
		t.Errorf("short market value should be negative of long: %v vs %v", short.MarketValue, long.MarketValue)
	}
}

func TestRepriceOption_Idempotent(t *testing.T) {
	r := testRepricer()
	c := callContract(-1, "55", 45)
	c.MarketPrice = d("210")
	o := r.NewOption(c, 50, beta(1.3))
	again := r.RepriceOption(o, o.UnderlyingPrice, 0)
	if !reflect.DeepEqual(o, again) {
		t.Errorf("reprice at same underlying changed the position:\n%+v\n%+v", o, again)
	}
}

func TestNewOption_BackedOutVolReproducesMarketPrice(t *testing.T) {
	r := testRepricer()
	c := callContract(1, "110", 120)
	c.MarketPrice = d("350") // 3.50 per share
	o := r.NewOption(c, 100, beta(1))
	if o.Fallback {
		t.Fatalf("unexpected fallback: %+v", o)
	}
	if math.Abs(o.Price-3.50) > 1e-6 {
		t.Errorf("expected model price ≈ 3.50 at the current underlying, got %v", o.Price)
	}
	if o.Volatility <= o.BaseVolatility {
		t.Errorf("OTM strike should carry skew above base: vol=%v base=%v", o.Volatility, o.BaseVolatility)
	}
}

func TestVolatility_Resolution(t *testing.T) {
	r := testRepricer()
	pos := model.OptionPosition{Contract: callContract(1, "100", 30), BaseVolatility: 0.25}

	if v := r.Volatility(pos, 100, 0.5); v != 0.5 {
		t.Errorf("override should win, got %v", v)
	}
	if v := r.Volatility(pos, 100, 0); v != 0.25 {
		t.Errorf("at the money skew should leave base unchanged, got %v", v)
	}
	if v := r.Volatility(pos, 80, 0); v <= 0.25 {
		t.Errorf("off the money should be skewed up, got %v", v)
	}

	pos.Contract.ImpliedVol = 0.42
	if v := r.Volatility(pos, 80, 0); v != 0.42 {
		t.Errorf("explicit implied vol should be used flat, got %v", v)
	}

	pos.Contract.ImpliedVol = 0
	pos.BaseVolatility = 0
	if v := r.Volatility(pos, 100, 0); v != r.BaseVolatility {
		t.Errorf("expected configured base volatility, got %v", v)
	}
}

func TestRepriceOption_ExpiredFallsBack(t *testing.T) {
	r := testRepricer()
	o := r.NewOption(callContract(1, "100", 0), 120, beta(1))
	if o.Stale {
		t.Fatalf("expired contract should price through the fallback: %+v", o)
	}
	if !o.Fallback {
		t.Error("expected Fallback=true")
	}
	if o.RawDelta != 1 {
		t.Errorf("expected ITM fallback delta 1, got %v", o.RawDelta)
	}
}

func TestRepriceOption_ZeroUnderlyingPricesIntrinsic(t *testing.T) {
	r := testRepricer()
	put := callContract(2, "100", 30)
	put.Type = model.Put
	out := r.RepriceOption(r.NewOption(put, 100, beta(1)), 0, 0)
	if out.Stale || !out.Fallback {
		t.Fatalf("expected a fallback price, got %+v", out)
	}
	if out.Price != 100 || out.RawDelta != -1 {
		t.Errorf("expected intrinsic 100 with delta -1, got price %v delta %v", out.Price, out.RawDelta)
	}
	if out.MarketValue != 100*model.Multiplier*2 {
		t.Errorf("expected market value 20000, got %v", out.MarketValue)
	}
	if out.Notional != 0 || out.DeltaExposure != 0 {
		t.Errorf("expected zero notional at a worthless underlying, got %+v", out)
	}
}

func TestRepriceOption_UnpriceableIsStale(t *testing.T) {
	r := testRepricer()
	o := r.NewOption(callContract(1, "100", 30), 100, beta(1))
	for _, s := range []float64{-5, math.NaN(), math.Inf(1)} {
		out := r.RepriceOption(o, s, 0)
		if !out.Stale {
			t.Errorf("S=%v: expected stale, got %+v", s, out)
		}
		if out.Price != 0 || out.DeltaExposure != 0 || out.Notional != 0 {
			t.Errorf("S=%v: stale option must not reuse old analytics: %+v", s, out)
		}
		if out.Contract != o.Contract {
			t.Errorf("S=%v: contract terms must be preserved", s)
		}
	}
}

func TestRepriceOption_BetaAdjustedUsesUnderlyingBeta(t *testing.T) {
	r := testRepricer()
	o := r.NewOption(callContract(1, "100", 60), 100, beta(2))
	if math.Abs(o.BetaAdjustedDeltaExposure-2*o.DeltaExposure) > 1e-9 {
		t.Errorf("expected beta-adjusted = 2 × delta exposure, got %v vs %v", o.BetaAdjustedDeltaExposure, o.DeltaExposure)
	}

	missing := r.NewOption(callContract(1, "100", 60), 100, nil)
	if !missing.BetaMissing || missing.BetaAdjustedDeltaExposure != 0 {
		t.Errorf("missing beta should zero beta-adjusted exposure: %+v", missing)
	}
}

func TestAt_PinsValuationTime(t *testing.T) {
	r := testRepricer()
	later := asOf.AddDate(0, 0, 20)
	pinned := r.At(later)
	if !r.AsOf.Equal(asOf) {
		t.Fatalf("At must not modify the receiver, got %v", r.AsOf)
	}
	if pinned.Kernel != r.Kernel || pinned.BaseVolatility != r.BaseVolatility {
		t.Error("At should share the kernel and market inputs")
	}

	c := callContract(1, "100", 30)
	near := pinned.NewOption(c, 100, beta(1))
	far := r.NewOption(c, 100, beta(1))
	if !(near.Price < far.Price) {
		t.Errorf("ten days to expiry should be cheaper than thirty: %v vs %v", near.Price, far.Price)
	}
	if again := pinned.NewOption(c, 100, beta(1)); !reflect.DeepEqual(near, again) {
		t.Error("a pinned repricer must price identically across calls")
	}
}
