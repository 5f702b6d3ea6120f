package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/foresight/market-engine/internal/contract"
	"github.com/foresight/market-engine/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies every embedded migration that has not run yet, each in
// its own transaction.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("postgres: create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`,
			entry.Name(),
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", entry.Name(), err)
		}
		if exists {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", entry.Name(), err)
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("postgres: begin tx for %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: exec migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (filename) VALUES ($1)`, entry.Name()); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: record migration %s: %w", entry.Name(), err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("postgres: commit migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

const pgMarketColumns = `id, statement, info, org, created_at, end_time,
	q_one::TEXT, q_two::TEXT, liquidity::TEXT, resolved, outcome, version`

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, statement, info, org, created_at, end_time,
		                      q_one, q_two, liquidity, resolved, outcome, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11, $12)`,
		m.ID, m.Statement, m.Info, m.Org, m.CreatedAt, m.EndTime,
		m.QOne.String(), m.QTwo.String(), m.Liquidity.String(),
		m.Resolved, string(m.Outcome), m.Version,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("market %s: %w", m.ID, ErrAlreadyExists)
	}
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgMarketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context, org string) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgMarketColumns+` FROM markets
		 WHERE ($1 = '' OR org = $1)
		 ORDER BY created_at DESC, id`, org)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) SetOutcome(ctx context.Context, id string, outcome contract.Contract) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET outcome = $2, version = version + 1
		 WHERE id = $1 AND outcome = ''`, id, string(outcome))
	if err != nil {
		return fmt.Errorf("set outcome %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetMarket(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("market %s outcome: %w", id, ErrConflict)
	}
	return nil
}

func (s *PostgresStore) MarkResolved(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET resolved = TRUE, version = version + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark resolved %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, email, balance, version, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5)`,
		a.ID, a.Email, a.Balance.String(), a.Version, a.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("account %s: %w", a.ID, ErrAlreadyExists)
	}
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, balance::TEXT, version, created_at FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.Email, &balance, &a.Version, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	a.Balance, _ = decimal.NewFromString(balance)

	rows, err := s.pool.Query(ctx,
		`SELECT user_id, market_id, shares_one::TEXT, shares_two::TEXT, updated_at
		 FROM positions WHERE user_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, err
	}
	a.Positions = make(map[string]*model.Position, len(positions))
	for i := range positions {
		a.Positions[positions[i].MarketID] = &positions[i]
	}
	return &a, nil
}

func (s *PostgresStore) ListHolders(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, market_id, shares_one::TEXT, shares_two::TEXT, updated_at
		 FROM positions
		 WHERE market_id = $1 AND (shares_one > 0 OR shares_two > 0)
		 ORDER BY user_id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (s *PostgresStore) CommitTrade(ctx context.Context, m *model.Market, a *model.Account, t *model.Trade) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE markets SET q_one = $2::NUMERIC, q_two = $3::NUMERIC, version = version + 1
		 WHERE id = $1 AND version = $4`,
		m.ID, m.QOne.String(), m.QTwo.String(), m.Version)
	if err != nil {
		return fmt.Errorf("postgres: update market: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	if err := pgWriteAccount(ctx, tx, a, t.MarketID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO trades (id, market_id, user_id, direction, contract, quantity, price, cost, market_price, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		t.ID, t.MarketID, t.UserID, string(t.Direction), string(t.Contract),
		t.Quantity.String(), t.Price.String(), t.Cost.String(), t.MarketPrice.String(),
		t.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert trade: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit trade: %w", err)
	}
	m.Version++
	a.Version++
	return nil
}

func (s *PostgresStore) CommitSettlement(ctx context.Context, a *model.Account, marketID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := pgWriteAccount(ctx, tx, a, marketID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit settlement: %w", err)
	}
	a.Version++
	return nil
}

// pgWriteAccount updates the balance under the version guard and upserts
// the account's position in marketID.
func pgWriteAccount(ctx context.Context, tx pgx.Tx, a *model.Account, marketID string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC, version = version + 1
		 WHERE id = $1 AND version = $3`,
		a.ID, a.Balance.String(), a.Version)
	if err != nil {
		return fmt.Errorf("postgres: update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	p := a.Position(marketID)
	if p == nil {
		return nil
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO positions (user_id, market_id, shares_one, shares_two, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5)
		 ON CONFLICT (user_id, market_id) DO UPDATE
		 SET shares_one = EXCLUDED.shares_one,
		     shares_two = EXCLUDED.shares_two,
		     updated_at = EXCLUDED.updated_at`,
		a.ID, marketID, p.SharesOne.String(), p.SharesTwo.String(), p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("postgres: upsert position: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, user_id, direction, contract,
		        quantity::TEXT, price::TEXT, cost::TEXT, market_price::TEXT, created_at
		 FROM trades WHERE market_id = $1 ORDER BY created_at, id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) GetTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, user_id, direction, contract,
		        quantity::TEXT, price::TEXT, cost::TEXT, market_price::TEXT, created_at
		 FROM trades WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) InsertPriceSample(ctx context.Context, ps *model.PriceSample) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_samples (id, market_id, timestamp, value)
		 VALUES ($1, $2, $3, $4::NUMERIC)`,
		ps.ID, ps.MarketID, ps.Timestamp, ps.Value.String())
	return err
}

func (s *PostgresStore) GetPriceSamples(ctx context.Context, marketID string, limit int) ([]model.PriceSample, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, timestamp, value::TEXT FROM (
		     SELECT id, market_id, timestamp, value FROM price_samples
		     WHERE market_id = $1
		     ORDER BY timestamp DESC
		     LIMIT $2
		 ) latest ORDER BY timestamp`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSamples(rows)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// scanner is satisfied by both pgx and database/sql rows, which lets the
// PostgreSQL and SQLite stores share the decoding helpers below.
type scanner interface {
	Scan(dest ...any) error
}

type rowIter interface {
	scanner
	Next() bool
	Err() error
}

func scanMarket(row scanner) (*model.Market, error) {
	var m model.Market
	var qOne, qTwo, liquidity, outcome string
	if err := row.Scan(&m.ID, &m.Statement, &m.Info, &m.Org, &m.CreatedAt, &m.EndTime,
		&qOne, &qTwo, &liquidity, &m.Resolved, &outcome, &m.Version); err != nil {
		return nil, err
	}
	m.QOne, _ = decimal.NewFromString(qOne)
	m.QTwo, _ = decimal.NewFromString(qTwo)
	m.Liquidity, _ = decimal.NewFromString(liquidity)
	m.Outcome = contract.Contract(outcome)
	return &m, nil
}

func scanPositions(rows rowIter) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var one, two string
		if err := rows.Scan(&p.UserID, &p.MarketID, &one, &two, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.SharesOne, _ = decimal.NewFromString(one)
		p.SharesTwo, _ = decimal.NewFromString(two)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// scanTrades reads rows into Trade slices.
func scanTrades(rows rowIter) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var direction, side, qtyS, priceS, costS, marketPriceS string

		if err := rows.Scan(&t.ID, &t.MarketID, &t.UserID, &direction, &side,
			&qtyS, &priceS, &costS, &marketPriceS, &t.CreatedAt); err != nil {
			return nil, err
		}

		t.Direction = contract.Direction(direction)
		t.Contract = contract.Contract(side)
		t.Quantity, _ = decimal.NewFromString(qtyS)
		t.Price, _ = decimal.NewFromString(priceS)
		t.Cost, _ = decimal.NewFromString(costS)
		t.MarketPrice, _ = decimal.NewFromString(marketPriceS)

		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func scanSamples(rows rowIter) ([]model.PriceSample, error) {
	var samples []model.PriceSample
	for rows.Next() {
		var ps model.PriceSample
		var value string
		if err := rows.Scan(&ps.ID, &ps.MarketID, &ps.Timestamp, &value); err != nil {
			return nil, err
		}
		ps.Value, _ = decimal.NewFromString(value)
		samples = append(samples, ps)
	}
	return samples, rows.Err()
}
