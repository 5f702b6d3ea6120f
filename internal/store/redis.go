package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/foresight/market-engine/internal/contract"
	"github.com/foresight/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL or SQLite) with a Redis
// read-through cache for markets and accounts. Writes go to the primary
// store and invalidate the cache; reads check Redis first then fall back to
// the primary. A version conflict also invalidates, so the retry that
// follows reads fresh state.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cache(ctx, marketKey(m.ID), m)
	return nil
}

func (s *CachedStore) SetOutcome(ctx context.Context, id string, outcome contract.Contract) error {
	err := s.primary.SetOutcome(ctx, id, outcome)
	s.rdb.Del(ctx, marketKey(id))
	return err
}

func (s *CachedStore) MarkResolved(ctx context.Context, id string) error {
	err := s.primary.MarkResolved(ctx, id)
	s.rdb.Del(ctx, marketKey(id))
	return err
}

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.cache(ctx, accountKey(a.ID), a)
	return nil
}

func (s *CachedStore) CommitTrade(ctx context.Context, m *model.Market, a *model.Account, t *model.Trade) error {
	err := s.primary.CommitTrade(ctx, m, a, t)
	// Invalidate on success and on failure alike; next read will re-populate.
	s.rdb.Del(ctx, marketKey(m.ID), accountKey(a.ID))
	return err
}

func (s *CachedStore) CommitSettlement(ctx context.Context, a *model.Account, marketID string) error {
	err := s.primary.CommitSettlement(ctx, a, marketID)
	s.rdb.Del(ctx, accountKey(a.ID))
	return err
}

func (s *CachedStore) InsertPriceSample(ctx context.Context, ps *model.PriceSample) error {
	return s.primary.InsertPriceSample(ctx, ps)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	if s.lookup(ctx, marketKey(id), &m) {
		return &m, nil
	}

	// Cache miss: read from primary.
	fresh, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, marketKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	if s.lookup(ctx, accountKey(id), &a) {
		if a.Positions == nil {
			a.Positions = make(map[string]*model.Position)
		}
		return &a, nil
	}

	fresh, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, accountKey(id), fresh)
	return fresh, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context, org string) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx, org)
}

func (s *CachedStore) ListHolders(ctx context.Context, marketID string) ([]model.Position, error) {
	return s.primary.ListHolders(ctx, marketID)
}

func (s *CachedStore) GetTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	return s.primary.GetTradesByMarket(ctx, marketID)
}

func (s *CachedStore) GetTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.primary.GetTradesByUser(ctx, userID)
}

func (s *CachedStore) GetPriceSamples(ctx context.Context, marketID string, limit int) ([]model.PriceSample, error) {
	return s.primary.GetPriceSamples(ctx, marketID, limit)
}

// --- Cache helpers ---

// lookup decodes the cached value at key into dst. Redis errors count as a
// miss; the primary stays authoritative.
func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }
func accountKey(id string) string { return fmt.Sprintf("account:%s", id) }
