package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/foresight/market-engine/internal/contract"
	"github.com/foresight/market-engine/internal/model"
)

// Decimals are stored as TEXT so values round-trip exactly. Trades and
// samples carry an AUTOINCREMENT seq that fixes their insertion order.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS markets (
    id          TEXT PRIMARY KEY,
    statement   TEXT     NOT NULL,
    info        TEXT     NOT NULL DEFAULT '',
    org         TEXT     NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL,
    end_time    DATETIME NOT NULL,
    q_one       TEXT     NOT NULL DEFAULT '0',
    q_two       TEXT     NOT NULL DEFAULT '0',
    liquidity   TEXT     NOT NULL,
    resolved    INTEGER  NOT NULL DEFAULT 0,
    outcome     TEXT     NOT NULL DEFAULT '',
    version     INTEGER  NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS accounts (
    id          TEXT PRIMARY KEY,
    email       TEXT     NOT NULL DEFAULT '',
    balance     TEXT     NOT NULL,
    version     INTEGER  NOT NULL DEFAULT 0,
    created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    user_id     TEXT     NOT NULL,
    market_id   TEXT     NOT NULL,
    shares_one  TEXT     NOT NULL DEFAULT '0',
    shares_two  TEXT     NOT NULL DEFAULT '0',
    updated_at  DATETIME NOT NULL,
    PRIMARY KEY (user_id, market_id)
);

CREATE TABLE IF NOT EXISTS trades (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT     NOT NULL UNIQUE,
    market_id     TEXT     NOT NULL,
    user_id       TEXT     NOT NULL,
    direction     TEXT     NOT NULL,
    contract      TEXT     NOT NULL,
    quantity      TEXT     NOT NULL,
    price         TEXT     NOT NULL,
    cost          TEXT     NOT NULL,
    market_price  TEXT     NOT NULL,
    created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS price_samples (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT     NOT NULL UNIQUE,
    market_id   TEXT     NOT NULL,
    timestamp   DATETIME NOT NULL,
    value       TEXT     NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_markets_org      ON markets(org);
CREATE INDEX IF NOT EXISTS idx_positions_market ON positions(market_id);
CREATE INDEX IF NOT EXISTS idx_trades_market    ON trades(market_id);
CREATE INDEX IF NOT EXISTS idx_trades_user      ON trades(user_id);
CREATE INDEX IF NOT EXISTS idx_samples_market   ON price_samples(market_id, seq DESC);
`

// SQLiteStore implements Store on a single SQLite file (pure Go, no CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. ":memory:" gives a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store.NewSQLiteStore: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteMarketColumns = `id, statement, info, org, created_at, end_time,
	q_one, q_two, liquidity, resolved, outcome, version`

func (s *SQLiteStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO markets (`+sqliteMarketColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Statement, m.Info, m.Org, m.CreatedAt.UTC(), m.EndTime.UTC(),
		m.QOne.String(), m.QTwo.String(), m.Liquidity.String(),
		m.Resolved, string(m.Outcome), m.Version,
	)
	if isSQLiteConstraint(err) {
		return fmt.Errorf("market %s: %w", m.ID, ErrAlreadyExists)
	}
	return err
}

func (s *SQLiteStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteMarketColumns+` FROM markets WHERE id = ?`, id)
	m, err := scanMarket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *SQLiteStore) ListMarkets(ctx context.Context, org string) ([]model.Market, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteMarketColumns+` FROM markets
		 WHERE (? = '' OR org = ?)
		 ORDER BY created_at DESC, id`, org, org)
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

func (s *SQLiteStore) SetOutcome(ctx context.Context, id string, outcome contract.Contract) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE markets SET outcome = ?, version = version + 1
		 WHERE id = ? AND outcome = ''`, string(outcome), id)
	if err != nil {
		return fmt.Errorf("set outcome %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetMarket(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("market %s outcome: %w", id, ErrConflict)
	}
	return nil
}

func (s *SQLiteStore) MarkResolved(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE markets SET resolved = 1, version = version + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark resolved %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, balance, version, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Email, a.Balance.String(), a.Version, a.CreatedAt.UTC())
	if isSQLiteConstraint(err) {
		return fmt.Errorf("account %s: %w", a.ID, ErrAlreadyExists)
	}
	return err
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	var balance string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, balance, version, created_at FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.Email, &balance, &a.Version, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	a.Balance, _ = decimal.NewFromString(balance)

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, market_id, shares_one, shares_two, updated_at
		 FROM positions WHERE user_id = ?`, id)
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

func (s *SQLiteStore) ListHolders(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, market_id, shares_one, shares_two, updated_at
		 FROM positions WHERE market_id = ? ORDER BY user_id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	all, err := scanPositions(rows)
	if err != nil {
		return nil, err
	}
	// TEXT columns do not compare numerically; filter after decoding.
	holders := all[:0]
	for _, p := range all {
		if !p.Empty() {
			holders = append(holders, p)
		}
	}
	return holders, nil
}

func (s *SQLiteStore) CommitTrade(ctx context.Context, m *model.Market, a *model.Account, t *model.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE markets SET q_one = ?, q_two = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		m.QOne.String(), m.QTwo.String(), m.ID, m.Version)
	if err != nil {
		return fmt.Errorf("sqlite: update market: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}

	if err := sqliteWriteAccount(ctx, tx, a, t.MarketID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trades (id, market_id, user_id, direction, contract, quantity, price, cost, market_price, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.MarketID, t.UserID, string(t.Direction), string(t.Contract),
		t.Quantity.String(), t.Price.String(), t.Cost.String(), t.MarketPrice.String(),
		t.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("sqlite: insert trade: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit trade: %w", err)
	}
	m.Version++
	a.Version++
	return nil
}

func (s *SQLiteStore) CommitSettlement(ctx context.Context, a *model.Account, marketID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := sqliteWriteAccount(ctx, tx, a, marketID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit settlement: %w", err)
	}
	a.Version++
	return nil
}

func sqliteWriteAccount(ctx context.Context, tx *sql.Tx, a *model.Account, marketID string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, version = version + 1 WHERE id = ? AND version = ?`,
		a.Balance.String(), a.ID, a.Version)
	if err != nil {
		return fmt.Errorf("sqlite: update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}

	p := a.Position(marketID)
	if p == nil {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO positions (user_id, market_id, shares_one, shares_two, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, market_id) DO UPDATE
		 SET shares_one = excluded.shares_one,
		     shares_two = excluded.shares_two,
		     updated_at = excluded.updated_at`,
		a.ID, marketID, p.SharesOne.String(), p.SharesTwo.String(), p.UpdatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("sqlite: upsert position: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, market_id, user_id, direction, contract,
		        quantity, price, cost, market_price, created_at
		 FROM trades WHERE market_id = ? ORDER BY seq`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *SQLiteStore) GetTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, market_id, user_id, direction, contract,
		        quantity, price, cost, market_price, created_at
		 FROM trades WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *SQLiteStore) InsertPriceSample(ctx context.Context, ps *model.PriceSample) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_samples (id, market_id, timestamp, value) VALUES (?, ?, ?, ?)`,
		ps.ID, ps.MarketID, ps.Timestamp.UTC(), ps.Value.String())
	return err
}

func (s *SQLiteStore) GetPriceSamples(ctx context.Context, marketID string, limit int) ([]model.PriceSample, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, market_id, timestamp, value FROM (
		     SELECT seq, id, market_id, timestamp, value FROM price_samples
		     WHERE market_id = ?
		     ORDER BY seq DESC
		     LIMIT ?
		 ) ORDER BY seq`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSamples(rows)
}

func isSQLiteConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
