package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foresight/market-engine/internal/contract"
	"github.com/foresight/market-engine/internal/model"
	"github.com/foresight/market-engine/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMarket(id, org string, created time.Time) *model.Market {
	return &model.Market{
		ID:        id,
		Statement: "Will it rain on " + id + "?",
		Org:       org,
		CreatedAt: created,
		EndTime:   created.Add(24 * time.Hour),
		QOne:      decimal.Zero,
		QTwo:      decimal.Zero,
		Liquidity: d("100"),
	}
}

func newAccount(id string) *model.Account {
	return &model.Account{
		ID:        id,
		Email:     id + "@example.com",
		Balance:   d("100"),
		Positions: map[string]*model.Position{},
		CreatedAt: t0,
	}
}

// backends returns every Store implementation that can run in this
// environment. PostgreSQL and Redis join when their addresses are set.
func backends(t *testing.T) map[string]func(t *testing.T) store.Store {
	t.Helper()
	b := map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store { return store.NewMemoryStore() },
		"sqlite": func(t *testing.T) store.Store {
			s, err := store.NewSQLiteStore(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if dsn := os.Getenv("MARKET_TEST_POSTGRES_DSN"); dsn != "" {
		b["postgres"] = func(t *testing.T) store.Store {
			ctx := context.Background()
			pool, err := pgxpool.New(ctx, dsn)
			require.NoError(t, err)
			t.Cleanup(pool.Close)
			_, err = pool.Exec(ctx, `DROP TABLE IF EXISTS price_samples, trades, positions, accounts, markets, schema_migrations`)
			require.NoError(t, err)
			s := store.NewPostgresStore(pool)
			require.NoError(t, s.Migrate(ctx))
			return s
		}
	}
	if addr := os.Getenv("MARKET_TEST_REDIS_ADDR"); addr != "" {
		b["cached"] = func(t *testing.T) store.Store {
			rdb := redis.NewClient(&redis.Options{Addr: addr})
			require.NoError(t, rdb.FlushDB(context.Background()).Err())
			t.Cleanup(func() { rdb.Close() })
			return store.NewCachedStore(store.NewMemoryStore(), rdb, time.Minute)
		}
	}
	return b
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s store.Store)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func TestStore_MarketLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()

		m := newMarket("m1", "acme", t0)
		require.NoError(t, s.CreateMarket(ctx, m))

		err := s.CreateMarket(ctx, newMarket("m1", "acme", t0))
		assert.ErrorIs(t, err, store.ErrAlreadyExists)

		got, err := s.GetMarket(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "acme", got.Org)
		assert.True(t, got.Liquidity.Equal(d("100")))
		assert.False(t, got.Closed())

		require.NoError(t, s.SetOutcome(ctx, "m1", contract.One))
		err = s.SetOutcome(ctx, "m1", contract.Two)
		assert.ErrorIs(t, err, store.ErrConflict)

		got, err = s.GetMarket(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, contract.One, got.Outcome)
		assert.True(t, got.Closed())
		assert.False(t, got.Resolved)

		require.NoError(t, s.MarkResolved(ctx, "m1"))
		got, err = s.GetMarket(ctx, "m1")
		require.NoError(t, err)
		assert.True(t, got.Resolved)
	})
}

func TestStore_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()

		_, err := s.GetMarket(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.GetAccount(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)

		err = s.SetOutcome(ctx, "missing", contract.One)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestStore_ListMarketsFiltersByOrg(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()

		require.NoError(t, s.CreateMarket(ctx, newMarket("a", "acme", t0)))
		require.NoError(t, s.CreateMarket(ctx, newMarket("b", "globex", t0.Add(time.Hour))))
		require.NoError(t, s.CreateMarket(ctx, newMarket("c", "acme", t0.Add(2*time.Hour))))

		all, err := s.ListMarkets(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "c", all[0].ID, "newest first")

		acme, err := s.ListMarkets(ctx, "acme")
		require.NoError(t, err)
		require.Len(t, acme, 2)
		assert.Equal(t, "c", acme[0].ID)
		assert.Equal(t, "a", acme[1].ID)
	})
}

func TestStore_CommitTrade(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateMarket(ctx, newMarket("m1", "", t0)))
		require.NoError(t, s.CreateAccount(ctx, newAccount("alice")))

		m, err := s.GetMarket(ctx, "m1")
		require.NoError(t, err)
		a, err := s.GetAccount(ctx, "alice")
		require.NoError(t, err)

		m.AddQuantity(contract.One, d("10"))
		a.Balance = a.Balance.Sub(d("5.1249479514"))
		pos := a.EnsurePosition("m1")
		pos.AddShares(contract.One, d("10"))
		pos.UpdatedAt = t0

		tr := &model.Trade{
			ID: "t1", MarketID: "m1", UserID: "alice",
			Direction: contract.Buy, Contract: contract.One,
			Quantity: d("10"), Price: d("0.51249480"), Cost: d("5.1249479514"),
			MarketPrice: d("0.52497919"), CreatedAt: t0,
		}
		require.NoError(t, s.CommitTrade(ctx, m, a, tr))
		assert.Equal(t, int64(1), m.Version)
		assert.Equal(t, int64(1), a.Version)

		gotM, err := s.GetMarket(ctx, "m1")
		require.NoError(t, err)
		assert.True(t, gotM.QOne.Equal(d("10")))
		assert.Equal(t, int64(1), gotM.Version)

		gotA, err := s.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, gotA.Balance.Equal(d("94.8750520486")), gotA.Balance.String())
		require.NotNil(t, gotA.Position("m1"))
		assert.True(t, gotA.Position("m1").SharesOne.Equal(d("10")))

		trades, err := s.GetTradesByMarket(ctx, "m1")
		require.NoError(t, err)
		require.Len(t, trades, 1)
		assert.Equal(t, contract.Buy, trades[0].Direction)
		assert.True(t, trades[0].Cost.Equal(d("5.1249479514")))

		byUser, err := s.GetTradesByUser(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, byUser, 1)
	})
}

func TestStore_CommitTradeStaleVersionConflicts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateMarket(ctx, newMarket("m1", "", t0)))
		require.NoError(t, s.CreateAccount(ctx, newAccount("alice")))

		m1, _ := s.GetMarket(ctx, "m1")
		a1, _ := s.GetAccount(ctx, "alice")
		m2, _ := s.GetMarket(ctx, "m1")
		a2, _ := s.GetAccount(ctx, "alice")

		a1.EnsurePosition("m1").UpdatedAt = t0
		require.NoError(t, s.CommitTrade(ctx, m1, a1, &model.Trade{ID: "t1", MarketID: "m1", UserID: "alice", CreatedAt: t0}))

		a2.EnsurePosition("m1").UpdatedAt = t0
		err := s.CommitTrade(ctx, m2, a2, &model.Trade{ID: "t2", MarketID: "m1", UserID: "alice", CreatedAt: t0})
		assert.ErrorIs(t, err, store.ErrConflict)

		trades, err := s.GetTradesByMarket(ctx, "m1")
		require.NoError(t, err)
		assert.Len(t, trades, 1, "conflicting commit must not append a trade")
	})
}

func TestStore_SettlementAndHolders(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateMarket(ctx, newMarket("m1", "", t0)))
		for _, id := range []string{"alice", "bob", "carol"} {
			require.NoError(t, s.CreateAccount(ctx, newAccount(id)))
		}

		hold := func(id string, c contract.Contract, qty string) {
			m, _ := s.GetMarket(ctx, "m1")
			a, _ := s.GetAccount(ctx, id)
			p := a.EnsurePosition("m1")
			p.AddShares(c, d(qty))
			p.UpdatedAt = t0
			m.AddQuantity(c, d(qty))
			require.NoError(t, s.CommitTrade(ctx, m, a, &model.Trade{ID: "t-" + id, MarketID: "m1", UserID: id, CreatedAt: t0}))
		}
		hold("alice", contract.One, "10")
		hold("bob", contract.Two, "4")

		holders, err := s.ListHolders(ctx, "m1")
		require.NoError(t, err)
		require.Len(t, holders, 2)
		assert.Equal(t, "alice", holders[0].UserID)
		assert.Equal(t, "bob", holders[1].UserID)

		a, err := s.GetAccount(ctx, "alice")
		require.NoError(t, err)
		a.Balance = a.Balance.Add(d("10"))
		p := a.Position("m1")
		p.SharesOne = decimal.Zero
		p.SharesTwo = decimal.Zero
		require.NoError(t, s.CommitSettlement(ctx, a, "m1"))

		holders, err = s.ListHolders(ctx, "m1")
		require.NoError(t, err)
		require.Len(t, holders, 1)
		assert.Equal(t, "bob", holders[0].UserID)

		// A stale copy cannot settle twice.
		stale := a.Clone()
		stale.Version--
		err = s.CommitSettlement(ctx, stale, "m1")
		assert.ErrorIs(t, err, store.ErrConflict)
	})
}

func TestStore_PriceSamplesLatestInOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateMarket(ctx, newMarket("m1", "", t0)))

		for i := 0; i < 5; i++ {
			require.NoError(t, s.InsertPriceSample(ctx, &model.PriceSample{
				ID:        "s" + string(rune('a'+i)),
				MarketID:  "m1",
				Timestamp: t0.Add(time.Duration(i) * time.Minute),
				Value:     decimal.NewFromFloat(0.5 + float64(i)/100),
			}))
		}

		latest, err := s.GetPriceSamples(ctx, "m1", 3)
		require.NoError(t, err)
		require.Len(t, latest, 3)
		assert.Equal(t, "sc", latest[0].ID)
		assert.Equal(t, "se", latest[2].ID)
		assert.True(t, latest[2].Value.Equal(d("0.54")))

		all, err := s.GetPriceSamples(ctx, "m1", 0)
		require.NoError(t, err)
		assert.Len(t, all, 5)
	})
}
