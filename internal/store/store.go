// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), SQLite (single-file
// deployments), Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/foresight/market-engine/internal/contract"
	"github.com/foresight/market-engine/internal/model"
)

var (
	// ErrNotFound is returned when a market or account does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a versioned write finds that the row
	// changed since it was read.
	ErrConflict = errors.New("store: version conflict")

	// ErrAlreadyExists is returned when creating a row whose key is taken.
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the persistence interface. Markets and accounts carry a Version
// that every mutating call checks and advances, so two writers that read the
// same state cannot both commit.
type Store interface {
	// --- Market operations ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets, newest first. A non-empty org
	// restricts the result to that organisation.
	ListMarkets(ctx context.Context, org string) ([]model.Market, error)

	// SetOutcome declares the winning contract. Fails with ErrConflict when
	// an outcome is already set.
	SetOutcome(ctx context.Context, id string, outcome contract.Contract) error

	// MarkResolved flags a market as settled.
	MarkResolved(ctx context.Context, id string) error

	// --- Accounts ---

	// CreateAccount persists a new account. Fails with ErrAlreadyExists.
	CreateAccount(ctx context.Context, account *model.Account) error

	// GetAccount retrieves an account together with all its positions.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// ListHolders returns every position in the market that holds shares.
	ListHolders(ctx context.Context, marketID string) ([]model.Position, error)

	// --- Atomic commits ---

	// CommitTrade writes the market quantities, the account balance, the
	// account's position in trade.MarketID and appends the trade, all or
	// nothing. market.Version and account.Version must be the versions
	// that were read; on success both are advanced in place.
	CommitTrade(ctx context.Context, market *model.Market, account *model.Account, trade *model.Trade) error

	// CommitSettlement writes the account balance and its position in
	// marketID under the same version rule as CommitTrade.
	CommitSettlement(ctx context.Context, account *model.Account, marketID string) error

	// --- Immutable trade ledger ---

	// GetTradesByMarket returns all trades for a market, oldest first.
	GetTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error)

	// GetTradesByUser returns all trades for a user, oldest first.
	GetTradesByUser(ctx context.Context, userID string) ([]model.Trade, error)

	// --- Price history ---

	// InsertPriceSample appends a price sample.
	InsertPriceSample(ctx context.Context, sample *model.PriceSample) error

	// GetPriceSamples returns the latest limit samples for a market in
	// chronological order. limit <= 0 returns all of them.
	GetPriceSamples(ctx context.Context, marketID string, limit int) ([]model.PriceSample, error)
}
