// Package api exposes the market engine over HTTP: chi handlers for markets,
// trades, advice, accounts and jobs, plus a WebSocket price feed.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/foresight/market-engine/internal/contract"
	"github.com/foresight/market-engine/internal/engine"
	"github.com/foresight/market-engine/internal/metrics"
	"github.com/foresight/market-engine/internal/model"
)

var one = decimal.NewFromInt(1)

// Options tunes the HTTP surface.
type Options struct {
	RequestTimeout  time.Duration
	TradesPerSecond float64 // per user; 0 disables the limiter
	TradeBurst      int
	Logger          *slog.Logger
}

// Handler serves the engine's operations. The hub is optional; pass nil to
// disable WebSocket broadcasting.
type Handler struct {
	eng     *engine.Engine
	hub     *Hub
	limiter *userLimiter
	opts    Options
	log     *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(eng *engine.Engine, hub *Hub, opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		eng:     eng,
		hub:     hub,
		limiter: newUserLimiter(opts.TradesPerSecond, opts.TradeBurst),
		opts:    opts,
		log:     log,
	}
}

// Routes builds the chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "market-engine"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// The WebSocket route must stay outside the request timeout.
		if h.hub != nil {
			r.Get("/ws", h.hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			if h.opts.RequestTimeout > 0 {
				r.Use(middleware.Timeout(h.opts.RequestTimeout))
			}

			r.Get("/markets", h.ListMarkets)
			r.Post("/markets", h.CreateMarket)
			r.Get("/markets/{marketID}", h.GetMarket)
			r.Get("/markets/{marketID}/price", h.GetPrice)
			r.Get("/markets/{marketID}/history", h.GetHistory)
			r.Get("/markets/{marketID}/trades", h.GetMarketTrades)
			r.Post("/markets/{marketID}/resolve", h.ResolveMarket)

			r.Post("/trades", h.SubmitTrade)
			r.Post("/advice", h.Advise)
			r.Post("/positions/close", h.ClosePosition)

			r.Post("/users", h.EnsureUser)
			r.Get("/users/{userID}/portfolio", h.GetPortfolio)
			r.Get("/users/{userID}/trades", h.GetUserTrades)

			r.Post("/jobs/settle", h.RunSettlement)
			r.Post("/jobs/sample", h.SamplePrices)
		})
	})
	return r
}

// --- Request/Response types ---

// TradeBody is the JSON body for POST /api/v1/trades. Contract and
// direction are parsed case-insensitively.
type TradeBody struct {
	MarketID  string          `json:"market_id"`
	UserID    string          `json:"user_id"`
	Direction string          `json:"direction"`
	Contract  string          `json:"contract"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// AdviceBody is the JSON body for POST /api/v1/advice. With Execute set the
// advised trade is submitted.
type AdviceBody struct {
	MarketID    string          `json:"market_id"`
	UserID      string          `json:"user_id"`
	Probability decimal.Decimal `json:"probability"` // percent, exclusive (0, 100)
	Execute     bool            `json:"execute"`
}

// AdviceResponse carries the advised draft, or the reason none was made.
type AdviceResponse struct {
	Trade    *model.Trade `json:"trade,omitempty"`
	Executed bool         `json:"executed"`
	Reason   string       `json:"reason,omitempty"`
}

// PositionBody is the JSON body for POST /api/v1/positions/close.
type PositionBody struct {
	MarketID string `json:"market_id"`
	UserID   string `json:"user_id"`
}

// UserBody is the JSON body for POST /api/v1/users.
type UserBody struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// ResolveBody is the JSON body for POST /api/v1/markets/{marketID}/resolve.
type ResolveBody struct {
	Outcome string `json:"outcome"`
}

// PriceResponse is the body of GET /api/v1/markets/{marketID}/price.
type PriceResponse struct {
	MarketID string          `json:"market_id"`
	One      decimal.Decimal `json:"one"`
	Two      decimal.Decimal `json:"two"`
}

// SettlementResponse is the body of POST /api/v1/jobs/settle.
type SettlementResponse struct {
	Entries []model.SettlementEntry `json:"entries"`
	Error   string                  `json:"error,omitempty"`
}

// --- Markets ---

// ListMarkets handles GET /api/v1/markets, optionally filtered by ?org=.
func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.eng.ListMarkets(r.Context(), r.URL.Query().Get("org"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// CreateMarket handles POST /api/v1/markets.
func (h *Handler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req engine.NewMarket
	if !decode(w, r, &req) {
		return
	}
	m, err := h.eng.CreateMarket(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.eng.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetPrice handles GET /api/v1/markets/{marketID}/price.
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "marketID")
	p, err := h.eng.GetPrice(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PriceResponse{MarketID: id, One: p, Two: one.Sub(p)})
}

// GetHistory handles GET /api/v1/markets/{marketID}/history?limit=N.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeStatus(w, http.StatusBadRequest, "limit must be a non-negative integer", "invalid_request")
			return
		}
		limit = n
	}
	samples, err := h.eng.PriceHistory(r.Context(), chi.URLParam(r, "marketID"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if samples == nil {
		samples = []model.PriceSample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

// GetMarketTrades handles GET /api/v1/markets/{marketID}/trades.
func (h *Handler) GetMarketTrades(w http.ResponseWriter, r *http.Request) {
	h.writeTrades(w, r, chi.URLParam(r, "marketID"), "")
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve.
func (h *Handler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req ResolveBody
	if !decode(w, r, &req) {
		return
	}
	outcome, err := contract.Parse(req.Outcome)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error(), string(engine.KindInvalidTrade))
		return
	}
	id := chi.URLParam(r, "marketID")
	if err := h.eng.ResolveMarket(r.Context(), id, outcome); err != nil {
		h.writeError(w, err)
		return
	}
	if h.hub != nil {
		h.hub.Broadcast(PriceUpdate{Type: "market_resolved", MarketID: id, Outcome: string(outcome)})
	}
	m, err := h.eng.GetMarket(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// --- Trading ---

// SubmitTrade handles POST /api/v1/trades.
func (h *Handler) SubmitTrade(w http.ResponseWriter, r *http.Request) {
	var body TradeBody
	if !decode(w, r, &body) {
		return
	}
	c, err := contract.Parse(body.Contract)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error(), string(engine.KindInvalidTrade))
		return
	}
	dir, err := contract.ParseDirection(body.Direction)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error(), string(engine.KindInvalidTrade))
		return
	}
	if !h.allow(w, body.UserID) {
		return
	}

	start := time.Now()
	t, err := h.eng.SubmitTrade(r.Context(), engine.TradeRequest{
		MarketID:  body.MarketID,
		UserID:    body.UserID,
		Direction: dir,
		Contract:  c,
		Quantity:  body.Quantity,
	})
	metrics.TradeLatency.WithLabelValues(string(dir)).Observe(time.Since(start).Seconds())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.broadcastTrade(t)
	writeJSON(w, http.StatusOK, t)
}

// Advise handles POST /api/v1/advice. NoTrade and NoEdge are ordinary
// answers here, reported with a 200 and a reason.
func (h *Handler) Advise(w http.ResponseWriter, r *http.Request) {
	var body AdviceBody
	if !decode(w, r, &body) {
		return
	}

	var (
		t   *model.Trade
		err error
	)
	if body.Execute {
		if !h.allow(w, body.UserID) {
			return
		}
		t, err = h.eng.TradeOnLikelihood(r.Context(), body.MarketID, body.UserID, body.Probability)
	} else {
		t, err = h.eng.AdviseTrade(r.Context(), body.MarketID, body.UserID, body.Probability)
	}

	switch kind := engine.KindOf(err); kind {
	case "":
		if body.Execute {
			h.broadcastTrade(t)
		}
		writeJSON(w, http.StatusOK, AdviceResponse{Trade: t, Executed: body.Execute})
	case engine.KindNoTrade, engine.KindNoEdge:
		writeJSON(w, http.StatusOK, AdviceResponse{Reason: string(kind)})
	default:
		h.writeError(w, err)
	}
}

// ClosePosition handles POST /api/v1/positions/close.
func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var body PositionBody
	if !decode(w, r, &body) {
		return
	}
	if !h.allow(w, body.UserID) {
		return
	}
	t, err := h.eng.ClosePosition(r.Context(), body.MarketID, body.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.broadcastTrade(t)
	writeJSON(w, http.StatusOK, t)
}

// --- Users ---

// EnsureUser handles POST /api/v1/users. It is idempotent.
func (h *Handler) EnsureUser(w http.ResponseWriter, r *http.Request) {
	var body UserBody
	if !decode(w, r, &body) {
		return
	}
	if body.UserID == "" {
		writeStatus(w, http.StatusBadRequest, "user_id is required", "invalid_request")
		return
	}
	a, err := h.eng.EnsureAccount(r.Context(), body.UserID, body.Email)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetPortfolio handles GET /api/v1/users/{userID}/portfolio.
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.eng.Portfolio(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetUserTrades handles GET /api/v1/users/{userID}/trades.
func (h *Handler) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	h.writeTrades(w, r, "", chi.URLParam(r, "userID"))
}

// --- Jobs ---

// RunSettlement handles POST /api/v1/jobs/settle. Per-market failures are
// reported alongside the entries that were paid.
func (h *Handler) RunSettlement(w http.ResponseWriter, r *http.Request) {
	entries, err := h.eng.RunSettlement(r.Context())
	resp := SettlementResponse{Entries: entries}
	if resp.Entries == nil {
		resp.Entries = []model.SettlementEntry{}
	}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// SamplePrices handles POST /api/v1/jobs/sample.
func (h *Handler) SamplePrices(w http.ResponseWriter, r *http.Request) {
	n, err := h.eng.SamplePrices(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sampled": n})
}

// --- Helpers ---

func (h *Handler) writeTrades(w http.ResponseWriter, r *http.Request, marketID, userID string) {
	trades, err := h.eng.Trades(r.Context(), marketID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (h *Handler) broadcastTrade(t *model.Trade) {
	if h.hub != nil && t != nil && t.ID != "" {
		h.hub.Broadcast(tradeUpdate(t))
	}
}

func (h *Handler) allow(w http.ResponseWriter, userID string) bool {
	if h.limiter.Allow(userID) {
		return true
	}
	if d := h.limiter.retryAfter(); d > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(d.Seconds())+1))
	}
	writeStatus(w, http.StatusTooManyRequests, "too many trades, slow down", "rate_limited")
	return false
}

// statusFor maps an engine error kind to an HTTP status.
func statusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindInvalidLiquidity, engine.KindInvalidQuantity, engine.KindInvalidProbability,
		engine.KindInvalidTrade, engine.KindInvalidMarket:
		return http.StatusBadRequest
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindMarketClosed, engine.KindAlreadyResolved, engine.KindNoPosition:
		return http.StatusConflict
	case engine.KindInsufficientBalance, engine.KindInsufficientShares,
		engine.KindNoTrade, engine.KindNoEdge, engine.KindPositionLimit:
		return http.StatusUnprocessableEntity
	case engine.KindContention:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response classified by engine kind.
// Internal failures are logged and their detail withheld.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := engine.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "err", err)
		msg = "internal error"
	}
	if kind == engine.KindContention {
		w.Header().Set("Retry-After", "1")
	}
	writeStatus(w, status, msg, string(kind))
}

func writeStatus(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, map[string]string{"error": msg, "kind": kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeStatus(w, http.StatusRequestEntityTooLarge, "request body too large", "invalid_request")
			return false
		}
		writeStatus(w, http.StatusBadRequest, "invalid request body", "invalid_request")
		return false
	}
	return true
}
