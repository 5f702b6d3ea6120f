package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/foresight/market-engine/internal/contract"
	"github.com/foresight/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	markets  map[string]*model.Market
	accounts map[string]*model.Account
	trades   []model.Trade
	samples  map[string][]model.PriceSample
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:  make(map[string]*model.Market),
		accounts: make(map[string]*model.Account),
		samples:  make(map[string][]model.PriceSample),
	}
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("market %s: %w", m.ID, ErrAlreadyExists)
	}

	// Store a copy to avoid external mutation.
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context, org string) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if org != "" && m.Org != org {
			continue
		}
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		if markets[i].CreatedAt.Equal(markets[j].CreatedAt) {
			return markets[i].ID < markets[j].ID
		}
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) SetOutcome(_ context.Context, id string, outcome contract.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	if m.HasOutcome() {
		return fmt.Errorf("market %s outcome: %w", id, ErrConflict)
	}
	m.Outcome = outcome
	m.Version++
	return nil
}

func (s *MemoryStore) MarkResolved(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	m.Resolved = true
	m.Version++
	return nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("account %s: %w", a.ID, ErrAlreadyExists)
	}
	s.accounts[a.ID] = a.Clone()
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return a.Clone(), nil
}

func (s *MemoryStore) ListHolders(_ context.Context, marketID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var holders []model.Position
	for _, a := range s.accounts {
		p := a.Position(marketID)
		if p == nil || p.Empty() {
			continue
		}
		holders = append(holders, *p)
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i].UserID < holders[j].UserID })
	return holders, nil
}

func (s *MemoryStore) CommitTrade(_ context.Context, m *model.Market, a *model.Account, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	storedMarket, ok := s.markets[m.ID]
	if !ok {
		return fmt.Errorf("market %s: %w", m.ID, ErrNotFound)
	}
	storedAccount, ok := s.accounts[a.ID]
	if !ok {
		return fmt.Errorf("account %s: %w", a.ID, ErrNotFound)
	}
	if storedMarket.Version != m.Version || storedAccount.Version != a.Version {
		return ErrConflict
	}

	m.Version++
	a.Version++

	mc := *m
	s.markets[m.ID] = &mc
	s.putAccount(storedAccount, a, t.MarketID)
	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) CommitSettlement(_ context.Context, a *model.Account, marketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.accounts[a.ID]
	if !ok {
		return fmt.Errorf("account %s: %w", a.ID, ErrNotFound)
	}
	if stored.Version != a.Version {
		return ErrConflict
	}
	a.Version++
	s.putAccount(stored, a, marketID)
	return nil
}

// putAccount copies the balance, version and the single touched position
// from a into the stored account. Other positions are left as stored.
func (s *MemoryStore) putAccount(stored, a *model.Account, marketID string) {
	stored.Balance = a.Balance
	stored.Version = a.Version
	if p := a.Position(marketID); p != nil {
		cp := *p
		stored.EnsurePosition(marketID)
		stored.Positions[marketID] = &cp
	}
}

func (s *MemoryStore) GetTradesByMarket(_ context.Context, marketID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.MarketID == marketID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetTradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertPriceSample(_ context.Context, ps *model.PriceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples[ps.MarketID] = append(s.samples[ps.MarketID], *ps)
	return nil
}

func (s *MemoryStore) GetPriceSamples(_ context.Context, marketID string, limit int) ([]model.PriceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.samples[marketID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]model.PriceSample, len(all))
	copy(out, all)
	return out, nil
}
