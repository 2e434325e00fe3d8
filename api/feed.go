package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/luca-patrignani/p2b-ledger/ledger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const clientBuffer = 16

// BlockEvent is sent to feed subscribers for every accepted block.
type BlockEvent struct {
	Block ledger.Block    `json:"block"`
	State ledger.Balances `json:"state"`
}

// Hub fans accepted blocks out to websocket subscribers. Slow subscribers
// miss events instead of slowing down the engine.
type Hub struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{clients: make(map[chan []byte]struct{}), logger: logger}
}

// Observe matches consensus.BlockObserver.
func (h *Hub) Observe(block ledger.Block, balances ledger.Balances) {
	msg, err := json.Marshal(BlockEvent{Block: block, State: balances})
	if err != nil {
		h.logger.Error("encode block event", "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c <- msg:
		default:
			h.logger.Debug("feed subscriber lagging, event dropped", "number", block.Number)
		}
	}
}

func (h *Hub) register() chan []byte {
	c := make(chan []byte, clientBuffer)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c chan []byte) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams block events until the client
// goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	events := h.register()
	defer h.unregister(events)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case msg := <-events:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
