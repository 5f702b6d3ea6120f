package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/foresight/market-engine/internal/contract"
	"github.com/foresight/market-engine/internal/lmsr"
	"github.com/foresight/market-engine/internal/model"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Advise sizes a trade for a user who believes contract one wins with
// probabilityPercent. An opposing holding is unwound first: the draft then
// sells all of it. Otherwise the draft buys the favoured contract for
// bankroll * f, where bankroll = balance / bankrollDivisor and f is the
// Kelly fraction at the favoured contract's price. The draft is not
// executed.
func (pm PriceModel) Advise(m *model.Market, a *model.Account, probabilityPercent, bankrollDivisor decimal.Decimal) (*model.Trade, error) {
	if !probabilityPercent.IsPositive() || !probabilityPercent.LessThan(hundred) {
		return nil, ErrInvalidProbability
	}
	if m.Closed() {
		return nil, ErrMarketClosed
	}

	price, err := pm.PriceOf(m)
	if err != nil {
		return nil, err
	}
	p := probabilityPercent.Div(hundred)

	var favoured contract.Contract
	switch p.Cmp(price) {
	case 0:
		return nil, ErrNoTrade
	case 1:
		favoured = contract.One
	default:
		// Contract two is priced 1-P1 and wins with 1-p: the same bet mirrored.
		favoured = contract.Two
		price = one.Sub(price)
		p = one.Sub(p)
	}
	opposing := favoured.Other()

	if pos := a.Position(m.ID); pos != nil && pos.Shares(opposing).IsPositive() {
		return &model.Trade{
			MarketID:  m.ID,
			UserID:    a.ID,
			Direction: contract.Sell,
			Contract:  opposing,
			Quantity:  pos.Shares(opposing),
		}, nil
	}

	// f = (odds*p - (1-p)) / odds with odds = 1/price - 1, which reduces to
	// (p - price) / (1 - price) and avoids dividing by a vanishing price.
	f := p.Sub(price).Div(one.Sub(price))
	if !f.IsPositive() {
		return nil, ErrNoEdge
	}

	if !bankrollDivisor.IsPositive() {
		bankrollDivisor = DefaultBankrollDivisor
	}
	bankroll := a.Balance.Div(bankrollDivisor)
	bet := bankroll.Mul(f).Round(lmsr.CostScale)
	if !bet.IsPositive() {
		return nil, ErrNoEdge
	}

	mm, err := pm.maker(m)
	if err != nil {
		return nil, err
	}
	qty, err := mm.SharesForCost(m.Quantity(favoured), m.Quantity(opposing), bet)
	if err != nil {
		return nil, ErrNoEdge
	}
	return &model.Trade{
		MarketID:  m.ID,
		UserID:    a.ID,
		Direction: contract.Buy,
		Contract:  favoured,
		Quantity:  qty,
	}, nil
}

// AdviseTrade loads the market and account and returns Advise's draft.
func (e *Engine) AdviseTrade(ctx context.Context, marketID, userID string, probabilityPercent decimal.Decimal) (*model.Trade, error) {
	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	a, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.prices.Advise(m, a, probabilityPercent, e.cfg.BankrollDivisor)
}

// TradeOnLikelihood advises and immediately submits the draft.
func (e *Engine) TradeOnLikelihood(ctx context.Context, marketID, userID string, probabilityPercent decimal.Decimal) (*model.Trade, error) {
	draft, err := e.AdviseTrade(ctx, marketID, userID, probabilityPercent)
	if err != nil {
		return nil, err
	}
	return e.SubmitTrade(ctx, TradeRequest{
		MarketID:  draft.MarketID,
		UserID:    draft.UserID,
		Direction: draft.Direction,
		Contract:  draft.Contract,
		Quantity:  draft.Quantity,
	})
}
