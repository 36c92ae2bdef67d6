package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"campfire/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
)

const wsTicketTTL = 30 * time.Second

// newWSTicket mints a random single-use ticket mapping to the user in
// Redis. The websocket upgrade consumes it within wsTicketTTL.
func newWSTicket(ctx context.Context, rdb *redis.Client, userID uint) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	ticket := hex.EncodeToString(buf)
	if err := rdb.SetEx(ctx, "ws_ticket:"+ticket, userID, wsTicketTTL).Err(); err != nil {
		return "", err
	}
	return ticket, nil
}

// wsClientMessage is the envelope clients send over the socket.
type wsClientMessage struct {
	Type   string `json:"type"`
	RoomID uint   `json:"room_id"`
}

// WebsocketHandler upgrades the connection and drives the subscription
// protocol: clients join and leave room streams, and each join/leave
// moves the membership's presence counter.
func (s *Server) WebsocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ctx := context.Background()

		userIDVal := conn.Locals("userID")
		if userIDVal == nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}
		userID := userIDVal.(uint)

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			log.Printf("WebSocket: failed to register user %d: %v", userID, err)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		client.IncomingHandler = func(c *notifications.Client, message []byte) {
			var msg wsClientMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				log.Printf("WebSocket: invalid message from user %d", userID)
				return
			}

			switch msg.Type {
			case "join":
				s.handleJoin(ctx, c, msg.RoomID)
			case "leave":
				s.handleLeave(ctx, c, msg.RoomID)
			case "heartbeat":
				s.handleHeartbeat(ctx, c, msg.RoomID)
			}
		}

		go client.WritePump()
		client.ReadPump()

		// ReadPump returned: the socket is gone. Unregister and release
		// the presence this connection held.
		for _, roomID := range s.hub.UnregisterClient(client) {
			if _, err := s.presence.Disconnect(ctx, roomID, userID); err != nil {
				log.Printf("WebSocket: presence disconnect failed for user %d room %d: %v", userID, roomID, err)
			}
		}
	})
}

// handleJoin subscribes the socket to a room stream and counts the
// member as connected, which suppresses unread marks for new messages.
func (s *Server) handleJoin(ctx context.Context, c *notifications.Client, roomID uint) {
	m, err := s.membershipRepo.Get(ctx, roomID, c.UserID)
	if err != nil || !m.Active {
		c.TrySend([]byte(`{"type":"join_rejected","payload":{"room_id":` + jsonUint(roomID) + `}}`))
		return
	}

	s.hub.Subscribe(c, roomID)
	if _, err := s.presence.Connect(ctx, roomID, c.UserID); err != nil {
		log.Printf("WebSocket: presence connect failed for user %d room %d: %v", c.UserID, roomID, err)
	}

	c.TrySend([]byte(`{"type":"joined","payload":{"room_id":` + jsonUint(roomID) + `}}`))
}

// handleLeave unsubscribes the socket from the room and drops its
// presence count.
func (s *Server) handleLeave(ctx context.Context, c *notifications.Client, roomID uint) {
	if !s.hub.Unsubscribe(c, roomID) {
		return
	}
	if _, err := s.presence.Disconnect(ctx, roomID, c.UserID); err != nil {
		log.Printf("WebSocket: presence disconnect failed for user %d room %d: %v", c.UserID, roomID, err)
	}
}

// handleHeartbeat refreshes the presence TTL for a joined room.
func (s *Server) handleHeartbeat(ctx context.Context, c *notifications.Client, roomID uint) {
	if err := s.presence.Heartbeat(ctx, roomID, c.UserID); err != nil {
		log.Printf("WebSocket: heartbeat failed for user %d room %d: %v", c.UserID, roomID, err)
	}
}

func jsonUint(v uint) string {
	b, _ := json.Marshal(v)
	return string(b)
}
