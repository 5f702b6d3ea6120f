package engine

import (
	"context"
	"fmt"

	"github.com/foresight/market-engine/internal/model"
)

// SamplePrices appends the current contract-one price of every open market
// to its history and returns how many samples were written. Markets that
// fail are logged and skipped.
func (e *Engine) SamplePrices(ctx context.Context) (int, error) {
	markets, err := e.store.ListMarkets(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list markets: %w", err)
	}

	now := e.now()
	n := 0
	for i := range markets {
		m := &markets[i]
		if m.Closed() {
			continue
		}
		price, err := e.prices.PriceOf(m)
		if err != nil {
			e.log.Error("sample: bad market", "market", m.ID, "err", err)
			continue
		}
		sample := &model.PriceSample{
			ID:        e.newID(),
			MarketID:  m.ID,
			Timestamp: now,
			Value:     price,
		}
		if err := e.store.InsertPriceSample(ctx, sample); err != nil {
			e.log.Error("sample: insert failed", "market", m.ID, "err", err)
			continue
		}
		n++
	}

	e.recorder.PricesSampled(n)
	e.log.Debug("prices sampled", "markets", n)
	return n, nil
}
