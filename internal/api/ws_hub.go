package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/foresight/market-engine/internal/metrics"
	"github.com/foresight/market-engine/internal/model"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 5 * time.Second
)

// PriceUpdate is a JSON message pushed to WebSocket clients when a market
// moves or is resolved.
type PriceUpdate struct {
	Type      string `json:"type"`
	MarketID  string `json:"market_id"`
	PriceOne  string `json:"price_one,omitempty"`
	PriceTwo  string `json:"price_two,omitempty"`
	Direction string `json:"direction,omitempty"`
	Contract  string `json:"contract,omitempty"`
	Quantity  string `json:"quantity,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

func tradeUpdate(t *model.Trade) PriceUpdate {
	return PriceUpdate{
		Type:      "trade_executed",
		MarketID:  t.MarketID,
		PriceOne:  t.MarketPrice.String(),
		PriceTwo:  one.Sub(t.MarketPrice).String(),
		Direction: string(t.Direction),
		Contract:  string(t.Contract),
		Quantity:  t.Quantity.String(),
	}
}

// Hub manages WebSocket connections and fans price updates out to every
// connected client. All client bookkeeping happens on the Run goroutine.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	quit       chan struct{}
	log        *slog.Logger
}

// NewHub creates a WebSocket hub. Nothing is delivered until Run starts.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		quit:       make(chan struct{}),
		log:        log,
	}
}

// Run is the hub's event loop. It closes every connection when ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	defer func() {
		close(h.quit)
		for conn := range h.clients {
			conn.Close()
			delete(h.clients, conn)
		}
		metrics.WebSocketClients.Set(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case conn := <-h.register:
			h.clients[conn] = true
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			h.log.Info("ws client connected", "total", len(h.clients))

		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				metrics.WebSocketClients.Set(float64(len(h.clients)))
			}

		case msg := <-h.broadcast:
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			metrics.WebSocketClients.Set(float64(len(h.clients)))
		}
	}
}

// Broadcast queues msg for every client. It never blocks: when the buffer
// is full the update is dropped.
func (h *Hub) Broadcast(msg PriceUpdate) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("ws broadcast buffer full, dropping update", "market", msg.MarketID)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS upgrades GET /api/v1/ws and registers the connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws upgrade failed", "err", err)
		return
	}

	select {
	case h.register <- conn:
	case <-h.quit:
		conn.Close()
		return
	}

	done := make(chan struct{})

	// Read pump: keeps the deadline fresh and detects disconnects.
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		select {
		case h.unregister <- conn:
		case <-h.quit:
		}
	}()

	// Pings keep idle connections alive through proxies. WriteControl is
	// safe to call alongside the hub's writes.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()
}
