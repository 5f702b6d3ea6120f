// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/foresight/market-engine/internal/model"
)

var (
	// TradesTotal counts executed trades by direction and contract.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_engine_trades_total",
		Help: "Total number of trades executed",
	}, []string{"direction", "contract"})

	// TradeRejections counts rejected trades by error kind.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_engine_trade_rejections_total",
		Help: "Trades rejected, by reason",
	}, []string{"kind"})

	// TradeLatency is the end-to-end trade submission latency.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_engine_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"direction"})

	// Conflicts counts version conflicts and lock timeouts by operation.
	Conflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_engine_conflicts_total",
		Help: "Optimistic-concurrency conflicts and lock timeouts",
	}, []string{"op"})

	// MarketVolume tracks cumulative traded shares per market.
	MarketVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_engine_market_volume_total",
		Help: "Cumulative trade volume in shares",
	}, []string{"market_id", "contract"})

	// SettledMarkets counts markets paid out.
	SettledMarkets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_engine_settled_markets_total",
		Help: "Markets settled",
	})

	// SettlementPayout sums the currency paid to winning holders.
	SettlementPayout = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_engine_settlement_payout_total",
		Help: "Currency credited by settlement",
	})

	// PriceSamples counts price samples written.
	PriceSamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_engine_price_samples_total",
		Help: "Price samples appended",
	})

	// JobRuns counts scheduled job runs by job and result.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_engine_job_runs_total",
		Help: "Scheduled job runs",
	}, []string{"job", "result"})

	// ActiveMarkets tracks the number of open markets seen by the sampler.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "market_engine_active_markets",
		Help: "Number of currently open markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "market_engine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_engine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_engine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Recorder exports engine events as Prometheus metrics.
type Recorder struct{}

func (Recorder) TradeExecuted(t *model.Trade) {
	TradesTotal.WithLabelValues(string(t.Direction), string(t.Contract)).Inc()
	MarketVolume.WithLabelValues(t.MarketID, string(t.Contract)).Add(t.Quantity.InexactFloat64())
}

func (Recorder) TradeRejected(kind string) {
	TradeRejections.WithLabelValues(kind).Inc()
}

func (Recorder) Contention(op string) {
	Conflicts.WithLabelValues(op).Inc()
}

func (Recorder) MarketSettled(_ string, payout decimal.Decimal, _ int) {
	SettledMarkets.Inc()
	SettlementPayout.Add(payout.InexactFloat64())
}

func (Recorder) PricesSampled(n int) {
	PriceSamples.Add(float64(n))
	ActiveMarkets.Set(float64(n))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
