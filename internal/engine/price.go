// Package engine is the market-maker pricing and settlement core: it prices
// markets, validates and executes trades, sizes Kelly recommendations, pays
// out resolved markets and samples price history.
package engine

import (
	"github.com/shopspring/decimal"

	"github.com/foresight/market-engine/internal/contract"
	"github.com/foresight/market-engine/internal/lmsr"
	"github.com/foresight/market-engine/internal/model"
)

// PriceModel prices a market from its stored quantities. The zero value uses
// the symmetric LMSR price; Legacy switches to the historical formula.
type PriceModel struct {
	Legacy bool
}

func (pm PriceModel) maker(m *model.Market) (*lmsr.MarketMaker, error) {
	if pm.Legacy {
		return lmsr.NewMarketMaker(m.Liquidity, lmsr.WithLegacyPrice())
	}
	return lmsr.NewMarketMaker(m.Liquidity)
}

// PriceOf returns the contract-one price of m, strictly inside (0, 1).
func (pm PriceModel) PriceOf(m *model.Market) (decimal.Decimal, error) {
	mm, err := pm.maker(m)
	if err != nil {
		return decimal.Zero, err
	}
	return mm.Price(m.QOne, m.QTwo), nil
}

// PriceOfContract returns the price of contract c: P1 for contract one,
// 1 - P1 for contract two.
func (pm PriceModel) PriceOfContract(m *model.Market, c contract.Contract) (decimal.Decimal, error) {
	p, err := pm.PriceOf(m)
	if err != nil {
		return decimal.Zero, err
	}
	if c == contract.Two {
		return decimal.NewFromInt(1).Sub(p), nil
	}
	return p, nil
}

// CostOfTrade returns C(new, other) - C(old, other) for moving contract c by
// quantity in direction dir. Positive for BUY, negative for SELL.
func (pm PriceModel) CostOfTrade(m *model.Market, c contract.Contract, dir contract.Direction, quantity decimal.Decimal) (decimal.Decimal, error) {
	mm, err := pm.maker(m)
	if err != nil {
		return decimal.Zero, err
	}
	delta := quantity.Mul(decimal.NewFromInt(dir.Sign()))
	return mm.TradeCost(m.Quantity(c), m.Quantity(c.Other()), delta), nil
}

// fillPrice is the average price paid or received per share.
func (pm PriceModel) fillPrice(m *model.Market, c contract.Contract, dir contract.Direction, quantity decimal.Decimal) (decimal.Decimal, error) {
	mm, err := pm.maker(m)
	if err != nil {
		return decimal.Zero, err
	}
	delta := quantity.Mul(decimal.NewFromInt(dir.Sign()))
	return mm.FillPrice(m.Quantity(c), m.Quantity(c.Other()), delta), nil
}
