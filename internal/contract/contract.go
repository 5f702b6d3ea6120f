// Package contract defines the two complementary contracts of a binary
// market and the trade directions that move their quantities.
package contract

import (
	"errors"
	"fmt"
	"strings"
)

// Contract identifies one side of a binary market. Each share of the
// winning contract pays exactly one unit of currency at settlement.
type Contract string

// Supported contracts.
const (
	One Contract = "CONTRACT_ONE"
	Two Contract = "CONTRACT_TWO"
)

// Direction is the side of a trade.
type Direction string

// Supported directions.
const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

var (
	ErrInvalidContract  = errors.New("contract: unsupported contract")
	ErrInvalidDirection = errors.New("contract: unsupported direction")
)

// Parse validates a contract identifier. Matching is case-insensitive and
// tolerates surrounding whitespace, since identifiers arrive from forms.
func Parse(s string) (Contract, error) {
	switch c := Contract(strings.ToUpper(strings.TrimSpace(s))); c {
	case One, Two:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q (expected %s or %s)", ErrInvalidContract, s, One, Two)
}

// ParseDirection validates a direction identifier.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToUpper(strings.TrimSpace(s))); d {
	case Buy, Sell:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q (expected %s or %s)", ErrInvalidDirection, s, Buy, Sell)
}

// Valid reports whether c is one of the two contracts.
func (c Contract) Valid() bool { return c == One || c == Two }

// Other returns the complementary contract.
func (c Contract) Other() Contract {
	if c == One {
		return Two
	}
	return One
}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool { return d == Buy || d == Sell }

// Sign returns +1 for a buy and -1 for a sell: the sign applied to the
// traded quantity when it moves market and position quantities.
func (d Direction) Sign() int64 {
	if d == Sell {
		return -1
	}
	return 1
}
