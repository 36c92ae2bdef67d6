package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"campfire/internal/broadcast"
	"campfire/internal/database"
	"campfire/internal/models"
	"campfire/internal/notifications"
	"campfire/internal/repository"
)

// testEnv wires the full service stack over an in-memory database with a
// no-op broadcast transport.
type testEnv struct {
	db          *gorm.DB
	users       repository.UserRepository
	rooms       repository.RoomRepository
	memberships repository.MembershipRepository
	messages    repository.MessageRepository
	resolver    *MentionResolver
	ledger      *UnreadLedger
	broadcaster *broadcast.Broadcaster
	messageSvc  *MessageService
	roomSvc     *RoomService
	memberSvc   *MembershipService
	userSvc     *UserService
	inboxSvc    *InboxService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	users := repository.NewUserRepository(db)
	rooms := repository.NewRoomRepository(db)
	memberships := repository.NewMembershipRepository(db)
	messages := repository.NewMessageRepository(db)

	notifier := notifications.NewNotifier(nil)
	broadcaster := broadcast.New(rooms, memberships, messages, notifier, nil, "push", nil)

	resolver := NewMentionResolver(memberships, messages)
	ledger := NewUnreadLedger(db, memberships, messages, time.Minute, time.Hour)
	memberSvc := NewMembershipService(db, rooms, memberships, users, broadcaster)

	return &testEnv{
		db:          db,
		users:       users,
		rooms:       rooms,
		memberships: memberships,
		messages:    messages,
		resolver:    resolver,
		ledger:      ledger,
		broadcaster: broadcaster,
		messageSvc:  NewMessageService(db, rooms, memberships, messages, users, resolver, ledger, broadcaster),
		roomSvc:     NewRoomService(db, rooms, memberships, messages, users, memberSvc),
		memberSvc:   memberSvc,
		userSvc:     NewUserService(db, users, memberSvc),
		inboxSvc:    NewInboxService(db, memberships, messages, ledger, broadcaster),
	}
}

func (e *testEnv) createUser(t *testing.T, name string, role models.UserRole) *models.User {
	t.Helper()
	user := &models.User{
		Name:   name,
		Email:  name + "@example.com",
		Role:   role,
		Active: true,
	}
	require.NoError(t, e.users.Create(context.Background(), user))
	return user
}

func (e *testEnv) createRoom(t *testing.T, name string, kind models.RoomKind, creatorID uint) *models.Room {
	t.Helper()
	room := &models.Room{Name: name, Kind: kind, Active: true, CreatorID: creatorID}
	require.NoError(t, e.rooms.Create(context.Background(), room))
	return room
}

func (e *testEnv) grant(t *testing.T, roomID uint, userIDs ...uint) {
	t.Helper()
	require.NoError(t, e.memberSvc.Grant(context.Background(), roomID, userIDs))
}

// seedMessage inserts a message directly with an explicit timestamp,
// bypassing the service pipeline.
func (e *testEnv) seedMessage(t *testing.T, roomID, creatorID uint, body string, createdAt time.Time) *models.Message {
	t.Helper()
	msg := &models.Message{
		RoomID:          roomID,
		CreatorID:       creatorID,
		ClientMessageID: body + "-" + createdAt.Format(time.RFC3339Nano),
		Body:            body,
		Active:          true,
		CreatedAt:       createdAt,
	}
	require.NoError(t, e.db.Create(msg).Error)
	return msg
}

func (e *testEnv) membership(t *testing.T, roomID, userID uint) *models.Membership {
	t.Helper()
	m, err := e.memberships.Get(context.Background(), roomID, userID)
	require.NoError(t, err)
	return m
}

// connect marks a membership as presently connected.
func (e *testEnv) connect(t *testing.T, roomID, userID uint) {
	t.Helper()
	now := time.Now()
	require.NoError(t, e.db.Model(&models.Membership{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Updates(map[string]interface{}{"connections": 1, "connected_at": now}).Error)
}
