package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/foresight/market-engine/internal/model"
	"github.com/foresight/market-engine/internal/store"
)

// ErrSettlementIncomplete marks a market pass that left some holders
// unpaid. The market stays unresolved so the next pass retries them.
var ErrSettlementIncomplete = errors.New("engine: settlement incomplete")

// RunSettlement pays out every market whose outcome is declared but which is
// not yet resolved, and returns one audit entry per holder paid in this pass
// (losing holders appear with Earned = 0). A market that cannot be settled
// is logged and skipped; it does not stop the pass.
func (e *Engine) RunSettlement(ctx context.Context) ([]model.SettlementEntry, error) {
	markets, err := e.store.ListMarkets(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}

	audit := []model.SettlementEntry{}
	for _, m := range markets {
		if m.Resolved || !m.HasOutcome() {
			continue
		}
		entries, err := e.SettleMarket(ctx, m.ID)
		audit = append(audit, entries...)
		if err != nil {
			e.log.Error("settlement failed", "market", m.ID, "err", err)
			continue
		}
	}
	return audit, nil
}

// SettleMarket pays the holders of one market under its lock. Re-running it
// on a resolved market, or on one without an outcome, is a no-op.
func (e *Engine) SettleMarket(ctx context.Context, marketID string) ([]model.SettlementEntry, error) {
	unlock, err := e.acquire(ctx, "settle", marketID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.Resolved || !m.HasOutcome() {
		return nil, nil
	}

	holders, err := e.store.ListHolders(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("list holders: %w", err)
	}

	var (
		entries []model.SettlementEntry
		payout  = decimal.Zero
		failed  int
	)
	for _, h := range holders {
		earned, err := e.payHolder(ctx, m, h.UserID)
		if err != nil {
			failed++
			e.log.Error("settlement: skipping holder", "market", m.ID, "user", h.UserID, "err", err)
			continue
		}
		payout = payout.Add(earned)
		entries = append(entries, model.SettlementEntry{UserID: h.UserID, MarketID: m.ID, Earned: earned})
	}

	if failed > 0 {
		return entries, fmt.Errorf("%w: %d of %d holders unpaid in market %s",
			ErrSettlementIncomplete, failed, len(holders), m.ID)
	}

	if err := e.store.MarkResolved(ctx, m.ID); err != nil {
		return entries, fmt.Errorf("mark resolved: %w", err)
	}

	e.recorder.MarketSettled(m.ID, payout, len(entries))
	e.log.Info("market settled",
		"market", m.ID,
		"outcome", m.Outcome,
		"holders", len(entries),
		"payout", payout.String(),
	)
	return entries, nil
}

// payHolder credits one account with its winning shares and zeroes its
// position, retrying on version conflicts with trades in other markets.
func (e *Engine) payHolder(ctx context.Context, m *model.Market, userID string) (decimal.Decimal, error) {
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		a, err := e.store.GetAccount(ctx, userID)
		if err != nil {
			return decimal.Zero, err
		}
		p := a.Position(m.ID)
		if p == nil || p.Empty() {
			return decimal.Zero, nil
		}

		earned := p.Shares(m.Outcome)
		a.Balance = a.Balance.Add(earned)
		p.SharesOne = decimal.Zero
		p.SharesTwo = decimal.Zero
		p.UpdatedAt = e.now()

		err = e.store.CommitSettlement(ctx, a, m.ID)
		if err == nil {
			return earned, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return decimal.Zero, err
		}
		e.recorder.Contention("settle")
	}
	return decimal.Zero, ErrContention
}
