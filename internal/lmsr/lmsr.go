// Package lmsr implements the Logarithmic Market Scoring Rule (LMSR)
// automated market maker for binary prediction markets.
//
// The LMSR was proposed by Robin Hanson and provides:
//   - Bounded loss for the market maker (capped at b * ln(n))
//   - Continuous pricing with infinite liquidity
//   - Path-independent cost function
//
// All monetary values use shopspring/decimal, never float64.
// Internal transcendental math uses the log-sum-exp trick for numerical
// stability, with results immediately converted to decimal.
//
// Reference: Hanson, R. (2003) "Combinatorial Information Market Design"
package lmsr

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidLiquidity is returned when b <= 0.
	ErrInvalidLiquidity = errors.New("lmsr: liquidity parameter b must be positive")

	// ErrInvalidBet is returned when asked to invert a non-positive cost.
	ErrInvalidBet = errors.New("lmsr: bet amount must be positive")

	// PriceScale is the number of decimal places for fill price rounding.
	// Instantaneous prices are reported unrounded.
	PriceScale int32 = 8

	// CostScale is the number of decimal places for cost and share rounding.
	// Rounded costs sit within 5e-11 of the float result, e.g. a 10 share
	// buy at b=100 from the origin costs 5.1249479514.
	CostScale int32 = 10
)

// MarketMaker implements the LMSR cost function for binary outcome markets.
// It is stateless: market quantities are passed as arguments, not stored.
type MarketMaker struct {
	b      decimal.Decimal
	legacy bool
}

// Option configures a MarketMaker.
type Option func(*MarketMaker)

// WithLegacyPrice makes Price use the historical formula
//
//	p = exp(q1 / b) / (exp(q2 / b) + exp(q2 / b))
//
// which compares q1 against q2 twice. It exists only for bit-for-bit parity
// with data produced before the symmetric formula was adopted; costs are
// unaffected.
func WithLegacyPrice() Option {
	return func(m *MarketMaker) { m.legacy = true }
}

// NewMarketMaker creates a new LMSR market maker with the given liquidity
// parameter b. Higher b → more liquidity, lower price impact per trade.
// Maximum market-maker loss is bounded by b * ln(2) for binary markets.
func NewMarketMaker(b decimal.Decimal, opts ...Option) (*MarketMaker, error) {
	if b.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidLiquidity
	}
	m := &MarketMaker{b: b}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// B returns the liquidity parameter.
func (m *MarketMaker) B() decimal.Decimal {
	return m.b
}

// logSumExp computes ln(Σ exp(x_i)) using the log-sum-exp trick to prevent
// floating-point overflow. Without this trick, exp(x) overflows float64
// when x > ~709.
//
// Algorithm: LSE(x) = max(x) + ln(Σ exp(x_i - max(x)))
// Since (x_i - max(x)) <= 0, all exp arguments are in [0, 1].
func logSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}

	maxVal := xs[0]
	for _, x := range xs[1:] {
		if x > maxVal {
			maxVal = x
		}
	}

	if math.IsInf(maxVal, -1) {
		return math.Inf(-1)
	}

	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - maxVal)
	}
	return maxVal + math.Log(sum)
}

// cost is the float form of the cost function.
func (m *MarketMaker) cost(q1, q2 float64) float64 {
	bf := m.b.InexactFloat64()
	return bf * logSumExp([]float64{q1 / bf, q2 / bf})
}

// Cost computes the LMSR cost function:
//
//	C(q) = b * ln(exp(q1 / b) + exp(q2 / b))
//
// C is symmetric in its arguments, so callers may pass the traded
// contract's quantity first.
func (m *MarketMaker) Cost(q1, q2 decimal.Decimal) decimal.Decimal {
	c := m.cost(q1.InexactFloat64(), q2.InexactFloat64())
	return decimal.NewFromFloat(c).Round(CostScale)
}

// Price computes the instantaneous price (probability) of contract one:
//
//	p1 = exp(q1 / b) / (exp(q1 / b) + exp(q2 / b))
//
// This is the softmax function. Uses max-subtraction for numerical stability.
// The result is the float value of p1, moved off 0 or 1 only when the float
// computation lands exactly on an endpoint.
func (m *MarketMaker) Price(q1, q2 decimal.Decimal) decimal.Decimal {
	bf := m.b.InexactFloat64()
	x1 := q1.InexactFloat64() / bf
	x2 := q2.InexactFloat64() / bf

	var price float64
	if m.legacy {
		price = math.Exp(x1-x2) / 2
	} else {
		maxVal := math.Max(x1, x2)
		e1 := math.Exp(x1 - maxVal)
		e2 := math.Exp(x2 - maxVal)
		price = e1 / (e1 + e2)
	}

	return decimal.NewFromFloat(openUnit(price))
}

// openUnit keeps p strictly inside (0, 1). Underflow in exp rounds extreme
// prices onto the endpoints; the legacy formula can exceed 1 outright.
func openUnit(p float64) float64 {
	switch {
	case p <= 0:
		return math.SmallestNonzeroFloat64
	case p >= 1 || math.IsNaN(p):
		return math.Nextafter(1, 0)
	}
	return p
}

// PriceTwo returns the instantaneous price of contract two: 1 - p1.
func (m *MarketMaker) PriceTwo(q1, q2 decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Sub(m.Price(q1, q2))
}

// TradeCost computes the cost to move the traded contract's quantity by
// delta shares while the other contract's quantity stays fixed:
//
//	cost = C(qTraded + delta, qOther) - C(qTraded, qOther)
//
// Positive delta = buying (positive cost to trader).
// Negative delta = selling (negative cost = payout to trader).
func (m *MarketMaker) TradeCost(qTraded, qOther, delta decimal.Decimal) decimal.Decimal {
	costBefore := m.Cost(qTraded, qOther)
	costAfter := m.Cost(qTraded.Add(delta), qOther)
	return costAfter.Sub(costBefore)
}

// FillPrice returns the average execution price per share for a trade.
//
//	fillPrice = cost / delta
//
// Positive for both buys (cost>0, delta>0) and sells (cost<0, delta<0).
func (m *MarketMaker) FillPrice(qTraded, qOther, delta decimal.Decimal) decimal.Decimal {
	if delta.IsZero() {
		return m.Price(qTraded, qOther)
	}
	cost := m.TradeCost(qTraded, qOther, delta)
	return cost.Div(delta).Round(PriceScale)
}

// SharesForCost inverts the cost function: it returns the number of shares x
// of the traded contract such that
//
//	C(qTraded + x, qOther) - C(qTraded, qOther) = cost
//
// Solving for x gives the closed form
//
//	x = b * ln(exp((qTraded+cost)/b) + exp((qOther+cost)/b) - exp(qOther/b)) - qTraded
//
// evaluated in log space as A + log1p(-exp(B - A)) with
// A = cost/b + LSE(qTraded/b, qOther/b) and B = qOther/b, where A > B.
func (m *MarketMaker) SharesForCost(qTraded, qOther, cost decimal.Decimal) (decimal.Decimal, error) {
	if !cost.IsPositive() {
		return decimal.Zero, ErrInvalidBet
	}
	bf := m.b.InexactFloat64()
	qt := qTraded.InexactFloat64()
	qo := qOther.InexactFloat64()

	a := cost.InexactFloat64()/bf + logSumExp([]float64{qt / bf, qo / bf})
	b := qo / bf
	shares := bf*(a+math.Log1p(-math.Exp(b-a))) - qt

	return decimal.NewFromFloat(shares).Round(CostScale), nil
}

// MaxLoss returns the maximum possible loss for the market maker: b * ln(n),
// where n = 2 for binary markets.
func (m *MarketMaker) MaxLoss() decimal.Decimal {
	bf := m.b.InexactFloat64()
	loss := bf * math.Log(2)
	return decimal.NewFromFloat(loss).Round(PriceScale)
}
