package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/foresight/market-engine/internal/contract"
	"github.com/foresight/market-engine/internal/model"
)

func TestRecorder_TradeExecuted(t *testing.T) {
	before := testutil.ToFloat64(TradesTotal.WithLabelValues("BUY", "CONTRACT_TWO"))
	Recorder{}.TradeExecuted(&model.Trade{
		MarketID:  "m-metrics",
		Direction: contract.Buy,
		Contract:  contract.Two,
		Quantity:  decimal.NewFromInt(4),
	})
	if got := testutil.ToFloat64(TradesTotal.WithLabelValues("BUY", "CONTRACT_TWO")); got != before+1 {
		t.Errorf("trades_total = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(MarketVolume.WithLabelValues("m-metrics", "CONTRACT_TWO")); got != 4 {
		t.Errorf("market volume = %v, want 4", got)
	}
}

func TestRecorder_SettlementAndSamples(t *testing.T) {
	settled := testutil.ToFloat64(SettledMarkets)
	payout := testutil.ToFloat64(SettlementPayout)
	Recorder{}.MarketSettled("m1", decimal.RequireFromString("12.5"), 3)
	if got := testutil.ToFloat64(SettledMarkets); got != settled+1 {
		t.Errorf("settled = %v, want %v", got, settled+1)
	}
	if got := testutil.ToFloat64(SettlementPayout); got != payout+12.5 {
		t.Errorf("payout = %v, want %v", got, payout+12.5)
	}

	Recorder{}.PricesSampled(7)
	if got := testutil.ToFloat64(ActiveMarkets); got != 7 {
		t.Errorf("active markets = %v, want 7", got)
	}
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/markets/{marketID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/markets/abc123", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/markets/{marketID}", "418")); got != 1 {
		t.Errorf("requests for route pattern = %v, want 1", got)
	}
}
