package seed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"campfire/internal/database"
	"campfire/internal/models"
)

func newSeedDB(t *testing.T) *gorm.DB {
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

func TestRun(t *testing.T) {
	db := newSeedDB(t)

	opts := Options{NumUsers: 10, NumRooms: 4, NumMessages: 60, Seed: 1}
	require.NoError(t, Run(db, opts))

	var userCount, roomCount, messageCount int64
	require.NoError(t, db.Model(&models.User{}).Count(&userCount).Error)
	require.NoError(t, db.Model(&models.Room{}).Count(&roomCount).Error)
	require.NoError(t, db.Model(&models.Message{}).Count(&messageCount).Error)
	assert.EqualValues(t, 10, userCount)
	assert.EqualValues(t, 4, roomCount)
	assert.EqualValues(t, 60, messageCount)

	t.Run("one admin account", func(t *testing.T) {
		var admins int64
		require.NoError(t, db.Model(&models.User{}).
			Where("role = ?", models.UserRoleAdministrator).Count(&admins).Error)
		assert.EqualValues(t, 1, admins)
	})

	t.Run("open rooms hold every user", func(t *testing.T) {
		var open []models.Room
		require.NoError(t, db.Where("kind = ?", models.RoomKindOpen).Find(&open).Error)
		require.NotEmpty(t, open)
		for _, room := range open {
			var n int64
			require.NoError(t, db.Model(&models.Membership{}).
				Where("room_id = ? AND active = ?", room.ID, true).Count(&n).Error)
			assert.EqualValues(t, userCount, n, "room %s", room.Name)
		}
	})

	t.Run("room counters match history", func(t *testing.T) {
		var rooms []models.Room
		require.NoError(t, db.Find(&rooms).Error)
		for _, room := range rooms {
			var n int64
			require.NoError(t, db.Model(&models.Message{}).
				Where("room_id = ?", room.ID).Count(&n).Error)
			assert.EqualValues(t, room.MessagesCount, n, "room %s", room.Name)
			if n > 0 {
				assert.NotNil(t, room.LastActiveAt)
			}
		}
	})

	t.Run("mentions reference real messages", func(t *testing.T) {
		var mentions []models.Mention
		require.NoError(t, db.Find(&mentions).Error)
		for _, m := range mentions {
			var msg models.Message
			require.NoError(t, db.First(&msg, m.MessageID).Error)
			assert.NotEqual(t, msg.CreatorID, m.UserID, "no self mentions")
		}
	})
}

func TestRunIsReproducible(t *testing.T) {
	opts := Options{NumUsers: 6, NumRooms: 3, NumMessages: 20, Seed: 42}

	counts := func() (rooms int64) {
		db := newSeedDB(t)
		require.NoError(t, Run(db, opts))
		require.NoError(t, db.Model(&models.Room{}).
			Where("kind = ?", models.RoomKindClosed).Count(&rooms).Error)
		return rooms
	}

	assert.Equal(t, counts(), counts())
}

func TestClean(t *testing.T) {
	db := newSeedDB(t)
	require.NoError(t, Run(db, Options{NumUsers: 5, NumRooms: 2, NumMessages: 10, Seed: 1}))
	require.NoError(t, Clean(db))

	var n int64
	require.NoError(t, db.Model(&models.User{}).Count(&n).Error)
	assert.Zero(t, n)
	require.NoError(t, db.Model(&models.Message{}).Count(&n).Error)
	assert.Zero(t, n)
}
