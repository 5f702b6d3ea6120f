// Package risk implements position limits that account for correlation
// between markets of the same organisation.
//
// Markets opened by one org tend to resolve on related events, so a user
// long on all of them carries correlated risk. The limiter caps the net
// position in a single market and the aggregate absolute exposure across
// every market sharing the target's org.
package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/foresight/market-engine/internal/contract"
)

var (
	// ErrMarketLimitExceeded is returned when a trade would push a single
	// market's net position beyond the per-market maximum.
	ErrMarketLimitExceeded = errors.New("risk: per-market position limit exceeded")

	// ErrOrgLimitExceeded is returned when a trade would push the aggregate
	// exposure across an org's markets beyond the correlated maximum.
	ErrOrgLimitExceeded = errors.New("risk: correlated exposure limit exceeded")
)

// Exposure is a user's net directional position in one market: shares of
// contract one minus shares of contract two.
type Exposure struct {
	MarketID string
	Org      string
	Net      decimal.Decimal
}

// NetDelta is the change in net exposure caused by trading qty of c in
// direction dir.
func NetDelta(c contract.Contract, dir contract.Direction, qty decimal.Decimal) decimal.Decimal {
	delta := qty.Mul(decimal.NewFromInt(dir.Sign()))
	if c == contract.Two {
		return delta.Neg()
	}
	return delta
}

// PositionLimiter enforces position limits with org correlation. A zero
// limit disables that check.
type PositionLimiter struct {
	// MaxPerMarket is the maximum absolute net position in any single market.
	MaxPerMarket decimal.Decimal

	// MaxPerOrg is the maximum aggregate absolute exposure across all
	// markets of one org.
	MaxPerOrg decimal.Decimal
}

// NewPositionLimiter creates a limiter with the given per-market and
// correlated exposure limits.
func NewPositionLimiter(maxPerMarket, maxPerOrg decimal.Decimal) *PositionLimiter {
	return &PositionLimiter{MaxPerMarket: maxPerMarket, MaxPerOrg: maxPerOrg}
}

// Enabled reports whether any limit is set.
func (l *PositionLimiter) Enabled() bool {
	return l != nil && (l.MaxPerMarket.IsPositive() || l.MaxPerOrg.IsPositive())
}

// NeedsOrgs reports whether CheckLimit looks at other markets' orgs.
func (l *PositionLimiter) NeedsOrgs() bool {
	return l != nil && l.MaxPerOrg.IsPositive()
}

// CheckLimit validates whether moving target's exposure by delta respects
// the limits. existing holds the user's exposures in other markets; an
// entry for target.MarketID is ignored. A trade that does not grow the
// target's absolute exposure always passes, so users can unwind.
func (l *PositionLimiter) CheckLimit(target Exposure, delta decimal.Decimal, existing []Exposure) error {
	if !l.Enabled() {
		return nil
	}
	newNet := target.Net.Add(delta)
	if newNet.Abs().LessThanOrEqual(target.Net.Abs()) {
		return nil
	}

	// 1. Per-market limit.
	if l.MaxPerMarket.IsPositive() && newNet.Abs().GreaterThan(l.MaxPerMarket) {
		return fmt.Errorf("%w: %s > %s", ErrMarketLimitExceeded, newNet.Abs(), l.MaxPerMarket)
	}

	// 2. Correlated exposure: sum |net| across markets sharing the org.
	if !l.MaxPerOrg.IsPositive() || target.Org == "" {
		return nil
	}
	total := newNet.Abs()
	for _, e := range existing {
		if e.MarketID == target.MarketID {
			continue // already counted via newNet above
		}
		if e.Org == target.Org {
			total = total.Add(e.Net.Abs())
		}
	}
	if total.GreaterThan(l.MaxPerOrg) {
		return fmt.Errorf("%w: org %s at %s > %s", ErrOrgLimitExceeded, target.Org, total, l.MaxPerOrg)
	}
	return nil
}
