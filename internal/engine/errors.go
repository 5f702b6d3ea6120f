package engine

import (
	"errors"

	"github.com/foresight/market-engine/internal/lmsr"
	"github.com/foresight/market-engine/internal/risk"
	"github.com/foresight/market-engine/internal/store"
)

// Kind classifies an engine failure so callers can branch on it without
// matching error strings.
type Kind string

const (
	KindInvalidLiquidity    Kind = "invalid_liquidity"
	KindInvalidQuantity     Kind = "invalid_quantity"
	KindMarketClosed        Kind = "market_closed"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindInsufficientShares  Kind = "insufficient_shares"
	KindContention          Kind = "contention"
	KindNotFound            Kind = "not_found"
	KindNoTrade             Kind = "no_trade"
	KindNoEdge              Kind = "no_edge"
	KindInvalidProbability  Kind = "invalid_probability"
	KindInvalidTrade        Kind = "invalid_trade"
	KindInvalidMarket       Kind = "invalid_market"
	KindNoPosition          Kind = "no_position"
	KindAlreadyResolved     Kind = "already_resolved"
	KindPositionLimit       Kind = "position_limit"
	KindInternal            Kind = "internal"
)

var (
	// ErrInvalidLiquidity: the market's b is not positive.
	ErrInvalidLiquidity = lmsr.ErrInvalidLiquidity

	// ErrNotFound: unknown market or account.
	ErrNotFound = store.ErrNotFound

	ErrInvalidQuantity     = errors.New("engine: quantity must be positive")
	ErrMarketClosed        = errors.New("engine: market is closed for trading")
	ErrInsufficientBalance = errors.New("engine: insufficient balance")
	ErrInsufficientShares  = errors.New("engine: insufficient shares")
	ErrContention          = errors.New("engine: market is busy, try again")
	ErrNoTrade             = errors.New("engine: estimate matches the market price")
	ErrNoEdge              = errors.New("engine: no positive edge at the current price")
	ErrInvalidProbability  = errors.New("engine: probability must be between 0 and 100 exclusive")
	ErrInvalidTrade        = errors.New("engine: unknown contract or direction")
	ErrInvalidMarket       = errors.New("engine: market statement is required")
	ErrNoPosition          = errors.New("engine: no shares held in this market")
	ErrAlreadyResolved     = errors.New("engine: market outcome already declared")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidLiquidity, KindInvalidLiquidity},
	{ErrNotFound, KindNotFound},
	{ErrInvalidQuantity, KindInvalidQuantity},
	{ErrMarketClosed, KindMarketClosed},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrInsufficientShares, KindInsufficientShares},
	{ErrContention, KindContention},
	{ErrNoTrade, KindNoTrade},
	{ErrNoEdge, KindNoEdge},
	{ErrInvalidProbability, KindInvalidProbability},
	{ErrInvalidTrade, KindInvalidTrade},
	{ErrInvalidMarket, KindInvalidMarket},
	{ErrNoPosition, KindNoPosition},
	{ErrAlreadyResolved, KindAlreadyResolved},
	{risk.ErrMarketLimitExceeded, KindPositionLimit},
	{risk.ErrOrgLimitExceeded, KindPositionLimit},
}

// KindOf returns the kind of err, or KindInternal for anything the engine
// does not classify. KindOf(nil) is "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
