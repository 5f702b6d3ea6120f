package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/foresight/market-engine/internal/contract"
	"github.com/foresight/market-engine/internal/lock"
	"github.com/foresight/market-engine/internal/model"
	"github.com/foresight/market-engine/internal/risk"
	"github.com/foresight/market-engine/internal/store"
)

// Config holds the engine's tunables.
type Config struct {
	StartingBalance  decimal.Decimal // cash granted to a new account
	BankrollDivisor  decimal.Decimal // Kelly bets risk balance / divisor
	DefaultLiquidity decimal.Decimal // b for markets created without one
	MaxRetries       int             // extra attempts after a version conflict
	HistoryLimit     int             // default number of price samples returned
	LegacyPricing    bool            // historical asymmetric price formula
}

// DefaultBankrollDivisor is used whenever a non-positive divisor is configured.
var DefaultBankrollDivisor = decimal.NewFromInt(5)

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		StartingBalance:  decimal.NewFromInt(100),
		BankrollDivisor:  DefaultBankrollDivisor,
		DefaultLiquidity: decimal.NewFromInt(100),
		MaxRetries:       3,
		HistoryLimit:     30,
	}
}

// Recorder receives engine events, typically to export metrics.
type Recorder interface {
	TradeExecuted(t *model.Trade)
	TradeRejected(kind string)
	Contention(op string)
	MarketSettled(marketID string, payout decimal.Decimal, holders int)
	PricesSampled(n int)
}

type nopRecorder struct{}

func (nopRecorder) TradeExecuted(*model.Trade) {}
func (nopRecorder) TradeRejected(string) {}
func (nopRecorder) Contention(string) {}
func (nopRecorder) MarketSettled(string, decimal.Decimal, int) {}
func (nopRecorder) PricesSampled(int) {}

// Engine exposes the market operations to transports and schedulers. It is
// safe for concurrent use: mutations of a market are serialised by the
// locker and cross-market account updates are guarded by versions.
type Engine struct {
	store    store.Store
	locker   lock.Locker
	prices   PriceModel
	cfg      Config
	log      *slog.Logger
	recorder Recorder
	limits   *risk.PositionLimiter
	now      func() time.Time
	newID    func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker replaces the default in-process locker, e.g. with a Redis
// locker shared by several instances.
func WithLocker(l lock.Locker) Option { return func(e *Engine) { e.locker = l } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithRecorder sets the event recorder.
func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

// WithPositionLimits enforces per-market and per-org exposure caps on
// trades. Nil or zero limits disable the check.
func WithPositionLimits(l *risk.PositionLimiter) Option { return func(e *Engine) { e.limits = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New creates an Engine over st.
func New(st store.Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		locker:   lock.NewLocal(),
		prices:   PriceModel{Legacy: cfg.LegacyPricing},
		cfg:      cfg,
		log:      slog.Default(),
		recorder: nopRecorder{},
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.MaxRetries < 0 {
		e.cfg.MaxRetries = 0
	}
	if !e.cfg.BankrollDivisor.IsPositive() {
		e.cfg.BankrollDivisor = DefaultBankrollDivisor
	}
	return e
}

// Prices returns the price model the engine evaluates markets with.
func (e *Engine) Prices() PriceModel { return e.prices }

// NewMarket is the input for CreateMarket.
type NewMarket struct {
	Statement string          `json:"statement"`
	Info      string          `json:"info"`
	Org       string          `json:"org"`
	EndTime   time.Time       `json:"end_time"`
	Liquidity decimal.Decimal `json:"liquidity"` // zero selects the default
}

// CreateMarket opens a market with both quantities at zero.
func (e *Engine) CreateMarket(ctx context.Context, nm NewMarket) (*model.Market, error) {
	if strings.TrimSpace(nm.Statement) == "" {
		return nil, ErrInvalidMarket
	}
	b := nm.Liquidity
	if b.IsZero() {
		b = e.cfg.DefaultLiquidity
	}
	if !b.IsPositive() {
		return nil, ErrInvalidLiquidity
	}

	m := &model.Market{
		ID:        e.newID(),
		Statement: nm.Statement,
		Info:      nm.Info,
		Org:       nm.Org,
		CreatedAt: e.now(),
		EndTime:   nm.EndTime.UTC(),
		QOne:      decimal.Zero,
		QTwo:      decimal.Zero,
		Liquidity: b,
	}
	if err := e.store.CreateMarket(ctx, m); err != nil {
		return nil, fmt.Errorf("create market: %w", err)
	}

	e.log.Info("market created", "market", m.ID, "org", m.Org, "b", b.String())
	return m, nil
}

// GetMarket returns a market by ID.
func (e *Engine) GetMarket(ctx context.Context, marketID string) (*model.Market, error) {
	return e.store.GetMarket(ctx, marketID)
}

// ListMarkets returns markets, newest first, optionally for one org.
func (e *Engine) ListMarkets(ctx context.Context, org string) ([]model.Market, error) {
	return e.store.ListMarkets(ctx, org)
}

// GetPrice returns the contract-one price of a market.
func (e *Engine) GetPrice(ctx context.Context, marketID string) (decimal.Decimal, error) {
	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	return e.prices.PriceOf(m)
}

// ResolveMarket declares the winning contract. The market stops trading
// immediately; holders are paid by the next settlement pass.
func (e *Engine) ResolveMarket(ctx context.Context, marketID string, outcome contract.Contract) error {
	if !outcome.Valid() {
		return ErrInvalidTrade
	}

	unlock, err := e.acquire(ctx, "resolve", marketID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := e.store.SetOutcome(ctx, marketID, outcome); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrAlreadyResolved
		}
		return err
	}
	e.log.Info("market outcome declared", "market", marketID, "outcome", outcome)
	return nil
}

// EnsureAccount returns the account for userID, creating it with the
// starting balance on first use.
func (e *Engine) EnsureAccount(ctx context.Context, userID, email string) (*model.Account, error) {
	a, err := e.store.GetAccount(ctx, userID)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	a = &model.Account{
		ID:        userID,
		Email:     email,
		Balance:   e.cfg.StartingBalance,
		Positions: make(map[string]*model.Position),
		CreatedAt: e.now(),
	}
	if err := e.store.CreateAccount(ctx, a); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return e.store.GetAccount(ctx, userID)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	e.log.Info("account created", "user", userID, "balance", a.Balance.String())
	return a, nil
}

// Portfolio returns the account's cash and its open positions marked to the
// current market prices.
func (e *Engine) Portfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	a, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	pf := &model.Portfolio{
		UserID:     a.ID,
		Balance:    a.Balance,
		Positions:  []model.PositionView{},
		TotalValue: a.Balance,
	}
	for marketID, p := range a.Positions {
		if p.Empty() {
			continue
		}
		m, err := e.store.GetMarket(ctx, marketID)
		if err != nil {
			e.log.Warn("portfolio: skipping position", "user", userID, "market", marketID, "err", err)
			continue
		}
		price, err := e.prices.PriceOf(m)
		if err != nil {
			return nil, err
		}
		value := p.SharesOne.Mul(price).
			Add(p.SharesTwo.Mul(decimal.NewFromInt(1).Sub(price))).
			Round(8)

		pf.Positions = append(pf.Positions, model.PositionView{
			Position:     *p,
			Statement:    m.Statement,
			Price:        price,
			CurrentValue: value,
		})
		pf.TotalValue = pf.TotalValue.Add(value)
	}
	sort.Slice(pf.Positions, func(i, j int) bool {
		return pf.Positions[i].MarketID < pf.Positions[j].MarketID
	})
	return pf, nil
}

// PriceHistory returns the latest samples for a market in chronological
// order. limit <= 0 selects the configured default.
func (e *Engine) PriceHistory(ctx context.Context, marketID string, limit int) ([]model.PriceSample, error) {
	if _, err := e.store.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = e.cfg.HistoryLimit
	}
	return e.store.GetPriceSamples(ctx, marketID, limit)
}

// Trades returns the trade log for a market, or for a user when marketID is
// empty.
func (e *Engine) Trades(ctx context.Context, marketID, userID string) ([]model.Trade, error) {
	if marketID != "" {
		trades, err := e.store.GetTradesByMarket(ctx, marketID)
		if err != nil || userID == "" {
			return trades, err
		}
		var mine []model.Trade
		for _, t := range trades {
			if t.UserID == userID {
				mine = append(mine, t)
			}
		}
		return mine, nil
	}
	return e.store.GetTradesByUser(ctx, userID)
}

// acquire takes the market lock, mapping a lock timeout to ErrContention.
func (e *Engine) acquire(ctx context.Context, op, marketID string) (func(), error) {
	unlock, err := e.locker.Acquire(ctx, "market:"+marketID)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			e.recorder.Contention(op)
			return nil, fmt.Errorf("%w: %s", ErrContention, marketID)
		}
		return nil, fmt.Errorf("lock market %s: %w", marketID, err)
	}
	return unlock, nil
}
