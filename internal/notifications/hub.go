package notifications

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/gofiber/websocket/v2"

	"campfire/internal/middleware"
)

const (
	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

// Hub maps users and room subscriptions to live websocket clients on this
// server instance. Cross-instance delivery goes through the Notifier.
type Hub struct {
	mu         sync.RWMutex
	conns      map[uint]map[*Client]struct{}
	rooms      map[uint]map[*Client]struct{}
	subs       map[*Client]map[uint]struct{}
	totalConns int
	shutdown   chan struct{}
	done       chan struct{}
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		conns:    make(map[uint]map[*Client]struct{}),
		rooms:    make(map[uint]map[*Client]struct{}),
		subs:     make(map[*Client]map[uint]struct{}),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Register a connection for a given userID. Returns the Client or error if limits exceeded.
func (h *Hub) Register(userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.totalConns >= maxTotalConns {
		return nil, errors.New("server connection limit reached")
	}

	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}

	if len(m) >= maxConnsPerUser {
		return nil, errors.New("user connection limit reached")
	}

	client := NewClient(h, conn, userID)
	m[client] = struct{}{}
	h.subs[client] = make(map[uint]struct{})
	h.totalConns++
	middleware.WebsocketConnections.Inc()

	return client, nil
}

// UnregisterClient removes the client from the user map and every room it
// was following. Returns the room ids it was subscribed to so the caller
// can decrement presence.
func (h *Hub) UnregisterClient(client *Client) []uint {
	h.mu.Lock()
	defer h.mu.Unlock()

	var roomIDs []uint
	if m, ok := h.conns[client.UserID]; ok {
		if _, exists := m[client]; exists {
			delete(m, client)
			h.totalConns--
			middleware.WebsocketConnections.Dec()
		}
		if len(m) == 0 {
			delete(h.conns, client.UserID)
		}
	}

	for roomID := range h.subs[client] {
		roomIDs = append(roomIDs, roomID)
		if clients, ok := h.rooms[roomID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	delete(h.subs, client)

	return roomIDs
}

// Subscribe attaches the client to a room stream.
func (h *Hub) Subscribe(client *Client, roomID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[roomID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.rooms[roomID] = clients
	}
	clients[client] = struct{}{}

	if subs, ok := h.subs[client]; ok {
		subs[roomID] = struct{}{}
	}
}

// Unsubscribe detaches the client from a room stream. Reports whether the
// client was actually subscribed.
func (h *Hub) Unsubscribe(client *Client, roomID uint) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[client]
	if !ok {
		return false
	}
	if _, subscribed := subs[roomID]; !subscribed {
		return false
	}
	delete(subs, roomID)

	if clients, ok := h.rooms[roomID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, roomID)
		}
	}
	return true
}

// BroadcastRoom sends the payload to every client following the room.
func (h *Hub) BroadcastRoom(roomID uint, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[roomID] {
		c.TrySend(message)
	}
}

// BroadcastUser sends the payload to all of a user's connections.
func (h *Hub) BroadcastUser(userID uint, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[userID] {
		c.TrySend(message)
	}
}

// BroadcastAll sends the payload to every connected client.
func (h *Hub) BroadcastAll(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.conns {
		for c := range clients {
			c.TrySend(message)
		}
	}
}

// OnlineHere reports whether the user has a connection on this instance.
func (h *Hub) OnlineHere(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients, ok := h.conns[userID]
	return ok && len(clients) > 0
}

// StartWiring connects the Notifier to this hub: it subscribes to the Redis
// patterns and forwards each event to the matching room or user clients.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartPatternSubscriber(ctx, func(channel, payload string) {
		data := []byte(payload)
		switch {
		case strings.HasPrefix(channel, "room:"):
			id, ok := parseChannelID(channel, "room:")
			if !ok {
				log.Printf("invalid room channel: %s", channel)
				return
			}
			h.BroadcastRoom(id, data)
		case strings.HasPrefix(channel, "user:"):
			id, ok := parseChannelID(channel, "user:")
			if !ok {
				log.Printf("invalid user channel: %s", channel)
				return
			}
			h.BroadcastUser(id, data)
		case strings.HasPrefix(channel, "rooms:"):
			h.BroadcastAll(data)
		default:
			log.Printf("unhandled channel: %s", channel)
		}
	})
}

// parseChannelID extracts the numeric id after the prefix, before the next
// colon. Channel forms: room:<id>:messages, user:<id>:<stream...>.
func parseChannelID(channel, prefix string) (uint, bool) {
	rest := strings.TrimPrefix(channel, prefix)
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		rest = rest[:i]
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}

// Shutdown gracefully closes all websocket connections
func (h *Hub) Shutdown(_ context.Context) error {
	close(h.shutdown)

	h.mu.Lock()
	for userID, userConns := range h.conns {
		for client := range userConns {
			if client.Conn == nil {
				continue
			}
			if err := client.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")); err != nil {
				log.Printf("failed to write close message for user %d: %v", userID, err)
			}
			if err := client.Conn.Close(); err != nil {
				log.Printf("failed to close websocket for user %d: %v", userID, err)
			}
		}
	}
	h.conns = make(map[uint]map[*Client]struct{})
	h.rooms = make(map[uint]map[*Client]struct{})
	h.subs = make(map[*Client]map[uint]struct{})
	h.mu.Unlock()

	close(h.done)

	return nil
}
