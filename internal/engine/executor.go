package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/foresight/market-engine/internal/contract"
	"github.com/foresight/market-engine/internal/model"
	"github.com/foresight/market-engine/internal/risk"
	"github.com/foresight/market-engine/internal/store"
)

// SubmitTrade validates and executes req atomically. The market is locked
// for the whole attempt loop; a version conflict on the account (a trade in
// another market touched the same balance) re-reads and retries up to
// MaxRetries times before failing with ErrContention.
func (e *Engine) SubmitTrade(ctx context.Context, req TradeRequest) (*model.Trade, error) {
	t, err := e.submit(ctx, req)
	if err != nil {
		e.recorder.TradeRejected(string(KindOf(err)))
		e.log.Info("trade rejected",
			"market", req.MarketID,
			"user", req.UserID,
			"direction", req.Direction,
			"contract", req.Contract,
			"qty", req.Quantity.String(),
			"kind", KindOf(err),
			"err", err,
		)
		return nil, err
	}

	e.recorder.TradeExecuted(t)
	e.log.Info("trade executed",
		"trade_id", t.ID,
		"market", t.MarketID,
		"user", t.UserID,
		"direction", t.Direction,
		"contract", t.Contract,
		"qty", t.Quantity.String(),
		"cost", t.Cost.String(),
		"fill_price", t.Price.String(),
		"market_price", t.MarketPrice.String(),
	)
	return t, nil
}

func (e *Engine) submit(ctx context.Context, req TradeRequest) (*model.Trade, error) {
	unlock, err := e.acquire(ctx, "trade", req.MarketID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		t, err := e.executeOnce(ctx, req)
		if !errors.Is(err, store.ErrConflict) {
			return t, err
		}
		e.recorder.Contention("trade")
		e.log.Debug("trade conflict, retrying", "market", req.MarketID, "user", req.UserID, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("%w: %d attempts on market %s", ErrContention, e.cfg.MaxRetries+1, req.MarketID)
}

// executeOnce reads fresh state, validates, applies the trade and commits
// it. Nothing is written unless every check passes.
func (e *Engine) executeOnce(ctx context.Context, req TradeRequest) (*model.Trade, error) {
	m, err := e.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		return nil, err
	}
	a, err := e.store.GetAccount(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	if err := e.prices.Validate(m, a, req); err != nil {
		return nil, err
	}
	if err := e.checkLimits(ctx, m, a, req); err != nil {
		return nil, err
	}

	cost, err := e.prices.CostOfTrade(m, req.Contract, req.Direction, req.Quantity)
	if err != nil {
		return nil, err
	}
	fill, err := e.prices.fillPrice(m, req.Contract, req.Direction, req.Quantity)
	if err != nil {
		return nil, err
	}

	now := e.now()
	delta := req.Quantity.Mul(decimal.NewFromInt(req.Direction.Sign()))

	a.Balance = a.Balance.Sub(cost)
	pos := a.EnsurePosition(m.ID)
	pos.AddShares(req.Contract, delta)
	pos.UpdatedAt = now
	m.AddQuantity(req.Contract, delta)

	after, err := e.prices.PriceOf(m)
	if err != nil {
		return nil, err
	}

	t := &model.Trade{
		ID:          e.newID(),
		MarketID:    m.ID,
		UserID:      a.ID,
		Direction:   req.Direction,
		Contract:    req.Contract,
		Quantity:    req.Quantity,
		Price:       fill,
		Cost:        cost,
		MarketPrice: after,
		CreatedAt:   now,
	}
	if err := e.store.CommitTrade(ctx, m, a, t); err != nil {
		return nil, err
	}
	return t, nil
}

// checkLimits applies the position limiter, if any. Other markets' orgs
// are only loaded when an org cap is set.
func (e *Engine) checkLimits(ctx context.Context, m *model.Market, a *model.Account, req TradeRequest) error {
	if !e.limits.Enabled() {
		return nil
	}
	target := risk.Exposure{MarketID: m.ID, Org: m.Org}
	if p := a.Position(m.ID); p != nil {
		target.Net = p.SharesOne.Sub(p.SharesTwo)
	}

	var existing []risk.Exposure
	if e.limits.NeedsOrgs() && m.Org != "" {
		for id, p := range a.Positions {
			if id == m.ID || p.Empty() {
				continue
			}
			other, err := e.store.GetMarket(ctx, id)
			if err != nil {
				return fmt.Errorf("load market %s for limits: %w", id, err)
			}
			existing = append(existing, risk.Exposure{MarketID: id, Org: other.Org, Net: p.SharesOne.Sub(p.SharesTwo)})
		}
	}
	return e.limits.CheckLimit(target, risk.NetDelta(req.Contract, req.Direction, req.Quantity), existing)
}

// ClosePosition sells the user's whole holding in a market: contract one if
// any is held, otherwise contract two.
func (e *Engine) ClosePosition(ctx context.Context, marketID, userID string) (*model.Trade, error) {
	a, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := a.Position(marketID)
	if p == nil || p.Empty() {
		return nil, ErrNoPosition
	}

	c := contract.One
	if !p.SharesOne.IsPositive() {
		c = contract.Two
	}
	return e.SubmitTrade(ctx, TradeRequest{
		MarketID:  marketID,
		UserID:    userID,
		Direction: contract.Sell,
		Contract:  c,
		Quantity:  p.Shares(c),
	})
}
