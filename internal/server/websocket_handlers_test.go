package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"campfire/internal/database"
	"campfire/internal/notifications"
)

func newTestServerWithRedis(t *testing.T) (*Server, *fiber.App) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	s, err := NewServerWithDeps(testConfig(), db, rdb, nil)
	require.NoError(t, err)

	app := fiber.New()
	s.SetupRoutes(app)
	return s, app
}

func TestWSTicket(t *testing.T) {
	t.Run("unavailable without redis", func(t *testing.T) {
		_, app := newTestServer(t)
		_, token := signup(t, app, "Alice", "alice@example.com")

		resp := doJSON(t, app, http.MethodPost, "/api/ws/ticket", token, nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("single use", func(t *testing.T) {
		_, app := newTestServerWithRedis(t)
		userID, token := signup(t, app, "Alice", "alice@example.com")

		resp := doJSON(t, app, http.MethodPost, "/api/ws/ticket", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody[struct {
			Ticket string `json:"ticket"`
		}](t, resp)
		require.NotEmpty(t, body.Ticket)

		// The ticket authenticates a request on its own.
		resp = doJSON(t, app, http.MethodGet, "/api/users/me?ticket="+body.Ticket, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		me := decodeBody[struct {
			ID uint `json:"id"`
		}](t, resp)
		assert.Equal(t, userID, me.ID)

		// Consumed on first use.
		resp = doJSON(t, app, http.MethodGet, "/api/users/me?ticket="+body.Ticket, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

// Coming online marks the room read for the user's other sessions in the
// same edge, alongside the room-stream presence announcement.
func TestPresenceOnlineMarksRoomRead(t *testing.T) {
	s, app := newTestServerWithRedis(t)
	userID, _ := signup(t, app, "Alice", "alice@example.com")

	const roomID = uint(7)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sub := s.redis.Subscribe(ctx,
		notifications.RoomChannel(roomID),
		notifications.UserReadsChannel(userID),
	)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	s.presenceOnline(roomID, userID)

	seen := make(map[string]string)
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case msg := <-sub.Channel():
			var envelope notifications.Event
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &envelope))
			seen[msg.Channel] = envelope.Type
		case <-deadline:
			t.Fatalf("only saw events on %v", seen)
		}
	}

	assert.Equal(t, notifications.EventPresence, seen[notifications.RoomChannel(roomID)])
	assert.Equal(t, notifications.EventRoomRead, seen[notifications.UserReadsChannel(userID)])
}
