package lmsr

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Constructor tests ---

func TestNewMarketMaker_Valid(t *testing.T) {
	mm, err := NewMarketMaker(d(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mm.B().Equal(d(100)) {
		t.Errorf("expected b=100, got %s", mm.B())
	}
}

func TestNewMarketMaker_ZeroB(t *testing.T) {
	_, err := NewMarketMaker(d(0))
	if err != ErrInvalidLiquidity {
		t.Errorf("expected ErrInvalidLiquidity for b=0, got %v", err)
	}
}

func TestNewMarketMaker_NegativeB(t *testing.T) {
	_, err := NewMarketMaker(d(-50))
	if err != ErrInvalidLiquidity {
		t.Errorf("expected ErrInvalidLiquidity for b=-50, got %v", err)
	}
}

// --- Price function tests ---

func TestPrice_InitiallyFiftyFifty(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	price := mm.Price(d(0), d(0))
	if !price.Equal(d(0.5)) {
		t.Errorf("expected initial price 0.5, got %s", price)
	}
}

func TestPrice_BuyingOneIncreasesPrice(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	priceBefore := mm.Price(d(0), d(0))
	priceAfter := mm.Price(d(10), d(0))
	if priceAfter.LessThanOrEqual(priceBefore) {
		t.Errorf("buying contract one should increase price: before=%s after=%s",
			priceBefore, priceAfter)
	}
}

func TestPrice_BuyingTwoDecreasesOnePrice(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	priceBefore := mm.Price(d(0), d(0))
	priceAfter := mm.Price(d(0), d(10))
	if priceAfter.GreaterThanOrEqual(priceBefore) {
		t.Errorf("buying contract two should decrease contract one price: before=%s after=%s",
			priceBefore, priceAfter)
	}
}

func TestPrice_SymmetricInQuantities(t *testing.T) {
	// p1(a, b) must equal p2(b, a): swapping the quantities swaps the prices.
	mm, _ := NewMarketMaker(d(100))
	tolerance := d(0.00000002)

	tests := []struct{ q1, q2 float64 }{
		{10, 0}, {0, 10}, {30, 10}, {250, 75}, {5, 5},
	}
	for _, tt := range tests {
		p1 := mm.Price(d(tt.q1), d(tt.q2))
		p2Swapped := mm.PriceTwo(d(tt.q2), d(tt.q1))
		if p1.Sub(p2Swapped).Abs().GreaterThan(tolerance) {
			t.Errorf("asymmetric pricing at (%.0f,%.0f): p1=%s swapped p2=%s",
				tt.q1, tt.q2, p1, p2Swapped)
		}
	}
}

func TestPrice_KnownValue(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	// e^0.1 / (e^0.1 + 1)
	want := math.Exp(0.1) / (math.Exp(0.1) + 1)
	got := mm.Price(d(10), d(0)).InexactFloat64()
	if math.Abs(got-want) > 1e-8 {
		t.Errorf("expected p1=%.10f, got %.10f", want, got)
	}
}

func TestPrice_LegacyFormulaDiffers(t *testing.T) {
	// The legacy formula compares q1 against q2 twice: e^(q1/b) / (2 e^(q2/b)).
	// It agrees at equal quantities and diverges elsewhere.
	sym, _ := NewMarketMaker(d(100))
	legacy, _ := NewMarketMaker(d(100), WithLegacyPrice())

	if !legacy.Price(d(0), d(0)).Equal(sym.Price(d(0), d(0))) {
		t.Errorf("legacy and symmetric prices should agree at the origin")
	}

	want := math.Exp(0.1) / 2
	got := legacy.Price(d(10), d(0)).InexactFloat64()
	if math.Abs(got-want) > 1e-8 {
		t.Errorf("expected legacy p1=%.10f, got %.10f", want, got)
	}
	if legacy.Price(d(10), d(0)).Equal(sym.Price(d(10), d(0))) {
		t.Errorf("legacy price should differ from symmetric price away from the origin")
	}
}

func TestPrice_LegacyBelowOne(t *testing.T) {
	legacy, _ := NewMarketMaker(d(100), WithLegacyPrice())
	// e^(1) / 2 > 1: must stay below 1 rather than report an impossible probability.
	p := legacy.Price(d(100), d(0))
	if !p.LessThan(decimal.NewFromInt(1)) || p.LessThan(d(0.9999999)) {
		t.Errorf("expected legacy price just below 1, got %s", p)
	}
}

func TestPrice_SumsToOne(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	one := decimal.NewFromInt(1)
	tolerance := d(0.0000001)

	tests := []struct {
		q1, q2 float64
	}{
		{0, 0},
		{10, 0},
		{0, 10},
		{30, 10},
		{100, 200},
		{500, 100},
		{-50, 30},
	}
	for _, tt := range tests {
		p1 := mm.Price(d(tt.q1), d(tt.q2))
		p2 := mm.PriceTwo(d(tt.q1), d(tt.q2))
		sum := p1.Add(p2)
		if sum.Sub(one).Abs().GreaterThan(tolerance) {
			t.Errorf("prices should sum to 1: p1=%s p2=%s sum=%s (q=%.0f,%.0f)",
				p1, p2, sum, tt.q1, tt.q2)
		}
	}
}

// --- Trade cost tests ---

func TestTradeCost_ReferenceBuy(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	cost := mm.TradeCost(d(0), d(0), d(10))
	if math.Abs(cost.InexactFloat64()-5.124947951362557) > 1e-9 {
		t.Errorf("expected buy cost 5.124947951362557, got %s", cost)
	}
}

func TestTradeCost_ReferenceSell(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	cost := mm.TradeCost(d(10), d(0), d(-10))
	if math.Abs(cost.InexactFloat64()+5.124947951362557) > 1e-9 {
		t.Errorf("expected sell cost -5.124947951362557, got %s", cost)
	}
}

func TestTradeCost_BuyThenSellIsExactInverse(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	buy := mm.TradeCost(d(20), d(35), d(12.5))
	sell := mm.TradeCost(d(32.5), d(35), d(-12.5))
	if !buy.Add(sell).IsZero() {
		t.Errorf("buy and sell of the same shares should cancel: buy=%s sell=%s", buy, sell)
	}
}

func TestTradeCost_SymmetricAtOrigin(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	// Buying 10 of either contract from (0,0) costs the same.
	costOne := mm.TradeCost(d(0), d(0), d(10))
	costTwo := mm.TradeCost(d(0), d(0), d(10))
	if !costOne.Equal(costTwo) {
		t.Errorf("expected symmetric cost at origin: one=%s two=%s", costOne, costTwo)
	}
}

func TestCost_PathIndependence(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	tolerance := d(0.0000001)

	// Buy 10, then buy 5 more should cost the same as buying 15 at once.
	cost1 := mm.TradeCost(d(0), d(0), d(10))
	cost2 := mm.TradeCost(d(10), d(0), d(5))
	sequential := cost1.Add(cost2)

	direct := mm.TradeCost(d(0), d(0), d(15))

	if sequential.Sub(direct).Abs().GreaterThan(tolerance) {
		t.Errorf("LMSR should be path-independent: sequential=%s direct=%s",
			sequential, direct)
	}
}

func TestCost_Convexity(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	// Second 10 shares should cost more than the first 10 (convex cost).
	cost1 := mm.TradeCost(d(0), d(0), d(10))
	cost2 := mm.TradeCost(d(10), d(0), d(10))
	if cost2.LessThanOrEqual(cost1) {
		t.Errorf("second batch should cost more (convexity): first=%s second=%s",
			cost1, cost2)
	}
}

// --- Cost inversion tests ---

func TestSharesForCost_KellyReference(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	shares, err := mm.SharesForCost(d(0), d(0), d(16))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(shares.InexactFloat64()-29.789603833999628) > 1e-8 {
		t.Errorf("expected 29.789603833999628 shares, got %s", shares)
	}
}

func TestSharesForCost_InvertsTradeCost(t *testing.T) {
	mm, _ := NewMarketMaker(d(250))
	tests := []struct{ qt, qo, cost float64 }{
		{0, 0, 1},
		{40, 10, 25},
		{-20, 60, 3.5},
		{500, 0, 100},
	}
	for _, tt := range tests {
		shares, err := mm.SharesForCost(d(tt.qt), d(tt.qo), d(tt.cost))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := mm.TradeCost(d(tt.qt), d(tt.qo), shares)
		if got.Sub(d(tt.cost)).Abs().GreaterThan(d(0.000001)) {
			t.Errorf("SharesForCost(%v,%v,%v)=%s costs %s", tt.qt, tt.qo, tt.cost, shares, got)
		}
	}
}

func TestSharesForCost_RejectsNonPositive(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	for _, c := range []float64{0, -5} {
		if _, err := mm.SharesForCost(d(0), d(0), d(c)); err != ErrInvalidBet {
			t.Errorf("expected ErrInvalidBet for cost=%v, got %v", c, err)
		}
	}
}

// --- Bounded loss test ---

func TestMaxLoss_Bounded(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	maxLoss := mm.MaxLoss()

	// After traders push q1 very high, the market maker's loss is bounded.
	// Scenario: trader buys 10000 contract-one shares, contract one wins.
	initialCost := mm.Cost(d(0), d(0))
	highQCost := mm.Cost(d(10000), d(0))

	traderPaid := highQCost.Sub(initialCost)
	mmLoss := decimal.NewFromInt(10000).Sub(traderPaid)

	if mmLoss.GreaterThan(maxLoss) {
		t.Errorf("market maker loss %s exceeds theoretical bound %s", mmLoss, maxLoss)
	}
}

// --- Boundary condition tests ---

func TestPrice_ExtremeQuantities_NoPanic(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))

	tests := []struct {
		name   string
		q1, q2 float64
	}{
		{"very large one", 100000, 0},
		{"very large two", 0, 100000},
		{"both large equal", 100000, 100000},
		{"large asymmetric", 100000, 50000},
		{"very negative one", -100000, 0},
		{"very negative two", 0, -100000},
		{"both very negative", -100000, -100000},
		{"overflow-scale values", 1e15, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price := mm.Price(d(tt.q1), d(tt.q2))
			if !price.IsPositive() || !price.LessThan(decimal.NewFromInt(1)) {
				t.Errorf("price out of (0,1): %s", price)
			}
		})
	}
}

func TestPrice_ExactFarFromEvenOdds(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	one := decimal.NewFromInt(1)

	// |q1-q2|/b = 8: p1 = 1/(1+e^-8) = 0.99966464986953...
	want := 1 / (1 + math.Exp(-8))
	if got := mm.Price(d(800), d(0)).InexactFloat64(); math.Abs(got-want) > 1e-12 {
		t.Errorf("expected p1=%.13f, got %.13f", want, got)
	}
	if got := mm.PriceTwo(d(800), d(0)).InexactFloat64(); math.Abs(got-(1-want)) > 1e-12 {
		t.Errorf("expected p2=%.13f, got %.13f", 1-want, got)
	}

	// |q1-q2|/b = 30: still strictly inside (0, 1) on both sides.
	high := mm.Price(d(3000), d(0))
	if !high.LessThan(one) || math.Abs(high.InexactFloat64()-1) > 1e-12 {
		t.Errorf("expected price just below 1, got %s", high)
	}
	low := mm.Price(d(0), d(3000))
	wantLow := math.Exp(-30) / (1 + math.Exp(-30))
	if !low.IsPositive() || math.Abs(low.InexactFloat64()-wantLow)/wantLow > 1e-9 {
		t.Errorf("expected p1=%g, got %s", wantLow, low)
	}
}

// --- Fill price tests ---

func TestFillPrice_SmallTrade(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	fill := mm.FillPrice(d(0), d(0), d(0.001))
	if fill.Sub(d(0.5)).Abs().GreaterThan(d(0.01)) {
		t.Errorf("small trade fill price should be ≈ 0.5, got %s", fill)
	}
}

func TestFillPrice_ZeroDelta(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	fill := mm.FillPrice(d(0), d(0), d(0))
	if !fill.Equal(d(0.5)) {
		t.Errorf("zero-delta fill price should equal current price 0.5, got %s", fill)
	}
}

func TestFillPrice_PositiveForBothBuyAndSell(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))

	buyFill := mm.FillPrice(d(0), d(0), d(10))
	if buyFill.LessThanOrEqual(decimal.Zero) {
		t.Errorf("buy fill price should be positive, got %s", buyFill)
	}

	sellFill := mm.FillPrice(d(10), d(0), d(-10))
	if sellFill.LessThanOrEqual(decimal.Zero) {
		t.Errorf("sell fill price should be positive, got %s", sellFill)
	}
}

// --- Internal logSumExp tests ---

func TestLogSumExp_NoOverflow(t *testing.T) {
	result := logSumExp([]float64{1000, 1001})
	if math.IsNaN(result) || math.IsInf(result, 1) {
		t.Errorf("logSumExp should not overflow: got %f", result)
	}
	if result < 1000 || result > 1002 {
		t.Errorf("logSumExp(1000,1001) should be in [1000,1002], got %f", result)
	}
}

func TestLogSumExp_Empty(t *testing.T) {
	result := logSumExp(nil)
	if !math.IsInf(result, -1) {
		t.Errorf("expected -Inf for empty input, got %f", result)
	}
}

func TestLogSumExp_EqualValues(t *testing.T) {
	// ln(n * exp(x)) = x + ln(n)
	result := logSumExp([]float64{3, 3})
	expected := 3.0 + math.Log(2)
	if math.Abs(result-expected) > 1e-10 {
		t.Errorf("logSumExp([3,3]) should be %f, got %f", expected, result)
	}
}
