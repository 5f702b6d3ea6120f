package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/foresight/market-engine/internal/contract"
	"github.com/foresight/market-engine/internal/model"
)

// TradeRequest is a user's intent to trade, before execution.
type TradeRequest struct {
	MarketID  string             `json:"market_id"`
	UserID    string             `json:"user_id"`
	Direction contract.Direction `json:"direction"`
	Contract  contract.Contract  `json:"contract"`
	Quantity  decimal.Decimal    `json:"quantity"`
}

// Validate checks req against the market and the account, in order:
// positive quantity, known contract and direction, open market, then
// balance for a BUY or held shares for a SELL. It has no side effects.
func (pm PriceModel) Validate(m *model.Market, a *model.Account, req TradeRequest) error {
	if !req.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if !req.Contract.Valid() || !req.Direction.Valid() {
		return ErrInvalidTrade
	}
	if m.Closed() {
		return ErrMarketClosed
	}

	switch req.Direction {
	case contract.Buy:
		cost, err := pm.CostOfTrade(m, req.Contract, req.Direction, req.Quantity)
		if err != nil {
			return err
		}
		if a.Balance.LessThan(cost) {
			return fmt.Errorf("%w: cost %s, balance %s", ErrInsufficientBalance, cost, a.Balance)
		}
	case contract.Sell:
		held := decimal.Zero
		if p := a.Position(m.ID); p != nil {
			held = p.Shares(req.Contract)
		}
		if held.LessThan(req.Quantity) {
			return fmt.Errorf("%w: holding %s, selling %s", ErrInsufficientShares, held, req.Quantity)
		}
	}
	return nil
}
