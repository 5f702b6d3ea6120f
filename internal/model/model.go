// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/foresight/market-engine/internal/contract"
)

// Market is a binary prediction market. QOne and QTwo are the net shares
// issued for each contract; Liquidity is the LMSR b parameter, fixed at
// creation. Resolved implies Outcome is set.
type Market struct {
	ID        string            `json:"id" db:"id"`
	Statement string            `json:"statement" db:"statement"`
	Info      string            `json:"info" db:"info"`
	Org       string            `json:"org" db:"org"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	EndTime   time.Time         `json:"end_time" db:"end_time"`
	QOne      decimal.Decimal   `json:"q_one" db:"q_one"`
	QTwo      decimal.Decimal   `json:"q_two" db:"q_two"`
	Liquidity decimal.Decimal   `json:"liquidity" db:"liquidity"`
	Resolved  bool              `json:"resolved" db:"resolved"`
	Outcome   contract.Contract `json:"outcome,omitempty" db:"outcome"`
	Version   int64             `json:"version" db:"version"`
}

// Quantity returns the issued shares of contract c.
func (m *Market) Quantity(c contract.Contract) decimal.Decimal {
	if c == contract.Two {
		return m.QTwo
	}
	return m.QOne
}

// AddQuantity moves the issued shares of contract c by delta.
func (m *Market) AddQuantity(c contract.Contract, delta decimal.Decimal) {
	if c == contract.Two {
		m.QTwo = m.QTwo.Add(delta)
		return
	}
	m.QOne = m.QOne.Add(delta)
}

// HasOutcome reports whether a winning contract has been declared.
func (m *Market) HasOutcome() bool { return m.Outcome != "" }

// Closed reports whether the market no longer accepts trades: it is either
// resolved or its outcome is declared and awaiting settlement.
func (m *Market) Closed() bool { return m.Resolved || m.HasOutcome() }

// Position holds one account's shares in one market. Both quantities stay
// non-negative; there is no shorting.
type Position struct {
	UserID    string          `json:"user_id" db:"user_id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	SharesOne decimal.Decimal `json:"shares_one" db:"shares_one"`
	SharesTwo decimal.Decimal `json:"shares_two" db:"shares_two"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Shares returns the held quantity of contract c.
func (p *Position) Shares(c contract.Contract) decimal.Decimal {
	if c == contract.Two {
		return p.SharesTwo
	}
	return p.SharesOne
}

// AddShares moves the held quantity of contract c by delta.
func (p *Position) AddShares(c contract.Contract, delta decimal.Decimal) {
	if c == contract.Two {
		p.SharesTwo = p.SharesTwo.Add(delta)
		return
	}
	p.SharesOne = p.SharesOne.Add(delta)
}

// Empty reports whether the position holds no shares of either contract.
func (p *Position) Empty() bool {
	return p.SharesOne.IsZero() && p.SharesTwo.IsZero()
}

// Account is a user's cash balance together with its positions, keyed by
// market ID.
type Account struct {
	ID        string               `json:"id" db:"id"`
	Email     string               `json:"email,omitempty" db:"email"`
	Balance   decimal.Decimal      `json:"balance" db:"balance"`
	Positions map[string]*Position `json:"positions"`
	Version   int64                `json:"version" db:"version"`
	CreatedAt time.Time            `json:"created_at" db:"created_at"`
}

// Position returns the account's position in marketID, or nil.
func (a *Account) Position(marketID string) *Position {
	if a.Positions == nil {
		return nil
	}
	return a.Positions[marketID]
}

// EnsurePosition returns the account's position in marketID, creating an
// empty one on first use.
func (a *Account) EnsurePosition(marketID string) *Position {
	if a.Positions == nil {
		a.Positions = make(map[string]*Position)
	}
	p, ok := a.Positions[marketID]
	if !ok {
		p = &Position{
			UserID:    a.ID,
			MarketID:  marketID,
			SharesOne: decimal.Zero,
			SharesTwo: decimal.Zero,
		}
		a.Positions[marketID] = p
	}
	return p
}

// Clone returns a deep copy so callers can mutate without aliasing the
// stored positions.
func (a *Account) Clone() *Account {
	c := *a
	c.Positions = make(map[string]*Position, len(a.Positions))
	for id, p := range a.Positions {
		cp := *p
		c.Positions[id] = &cp
	}
	return &c
}

// Trade is an immutable record of a trade execution. A draft produced by the
// advisor carries only the intent fields; ID, Price, Cost and MarketPrice are
// filled in when it executes.
type Trade struct {
	ID          string             `json:"id,omitempty" db:"id"`
	MarketID    string             `json:"market_id" db:"market_id"`
	UserID      string             `json:"user_id" db:"user_id"`
	Direction   contract.Direction `json:"direction" db:"direction"`
	Contract    contract.Contract  `json:"contract" db:"contract"`
	Quantity    decimal.Decimal    `json:"quantity" db:"quantity"`
	Price       decimal.Decimal    `json:"price" db:"price"`               // average fill price
	Cost        decimal.Decimal    `json:"cost" db:"cost"`                 // signed: +buy, -sell
	MarketPrice decimal.Decimal    `json:"market_price" db:"market_price"` // contract-one price after the fill
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
}

// PriceSample is one point of a market's contract-one price history.
type PriceSample struct {
	ID        string          `json:"id" db:"id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Value     decimal.Decimal `json:"value" db:"value"`
}

// SettlementEntry is the audit row for one holder paid during a settlement
// pass.
type SettlementEntry struct {
	UserID   string          `json:"user_id"`
	MarketID string          `json:"market_id"`
	Earned   decimal.Decimal `json:"earned"`
}

// PositionView is a position marked to the market's current price.
type PositionView struct {
	Position
	Statement    string          `json:"statement"`
	Price        decimal.Decimal `json:"price"`
	CurrentValue decimal.Decimal `json:"current_value"`
}

// Portfolio aggregates an account's cash and marked positions.
type Portfolio struct {
	UserID     string          `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	Positions  []PositionView  `json:"positions"`
	TotalValue decimal.Decimal `json:"total_value"` // balance + Σ current_value
}
