package handler

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// WSEvent is the envelope for all WebSocket messages.
type WSEvent struct {
	Type         string `json:"type"`
	SettlementID string `json:"settlement_id,omitempty"`
	PlayerID     string `json:"player_id,omitempty"`
	Data         any    `json:"data"`
}

// ClientMessage is the envelope for messages sent from the client.
type ClientMessage struct {
	Action       string `json:"action"` // "subscribe" or "unsubscribe"
	SettlementID string `json:"settlement_id"`
}

// WSConn wraps a WebSocket connection with its player, subscriptions, and
// an inbound rate limiter.
type WSConn struct {
	conn     *websocket.Conn
	playerID string
	send     chan []byte
	limiter  *rate.Limiter
}

// Hub manages WebSocket connections and settlement-channel subscriptions.
// It implements service.Notifier, so resolved queues and battles push
// straight to watching clients.
type Hub struct {
	mu          sync.RWMutex
	connections map[*WSConn]bool
	settlements map[string]map[*WSConn]bool // settlementID -> set of connections
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*WSConn]bool),
		settlements: make(map[string]map[*WSConn]bool),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = true
}

// Unregister removes a connection from the hub and all its subscriptions.
func (h *Hub) Unregister(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, c)
	for settlementID, conns := range h.settlements {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.settlements, settlementID)
		}
	}
	close(c.send)
}

// Subscribe adds a connection to a settlement channel.
func (h *Hub) Subscribe(c *WSConn, settlementID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.settlements[settlementID] == nil {
		h.settlements[settlementID] = make(map[*WSConn]bool)
	}
	h.settlements[settlementID][c] = true
}

// Unsubscribe removes a connection from a settlement channel.
func (h *Hub) Unsubscribe(c *WSConn, settlementID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.settlements[settlementID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.settlements, settlementID)
		}
	}
}

// NotifySettlement implements service.Notifier: it fans an event out to
// every connection subscribed to the settlement.
func (h *Hub) NotifySettlement(settlementID, eventType string, data any) {
	payload, err := json.Marshal(WSEvent{
		Type:         eventType,
		SettlementID: settlementID,
		Data:         data,
	})
	if err != nil {
		log.Error().Err(err).Str("settlementId", settlementID).Msg("Failed to marshal WebSocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.settlements[settlementID] {
		select {
		case c.send <- payload:
		default:
			log.Warn().Str("playerId", c.playerID).Str("settlementId", settlementID).Msg("Dropping WebSocket message, buffer full")
		}
	}
}

// NotifyPlayer implements service.Notifier: it sends an event to every
// connection belonging to the player.
func (h *Hub) NotifyPlayer(playerID, eventType string, data any) {
	payload, err := json.Marshal(WSEvent{
		Type:     eventType,
		PlayerID: playerID,
		Data:     data,
	})
	if err != nil {
		log.Error().Err(err).Str("playerId", playerID).Msg("Failed to marshal WebSocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.connections {
		if c.playerID == playerID {
			select {
			case c.send <- payload:
			default:
			}
		}
	}
}

// ConnectionCount returns the total number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// SubscriberCount returns the number of connections watching a settlement.
func (h *Hub) SubscriberCount(settlementID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.settlements[settlementID])
}
