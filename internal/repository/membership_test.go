package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// The sqlite-backed service tests never exercise the row lock because
// the clause is dialect-gated, so check the generated SQL against a
// mocked postgres connection.
func TestGetForUpdateTakesRowLock(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "room_id", "user_id", "active"}).
		AddRow(1, 7, 3, true)
	mock.ExpectQuery(`SELECT \* FROM "memberships" WHERE room_id = \$1 AND user_id = \$2.*FOR UPDATE`).
		WillReturnRows(rows)

	m, err := NewMembershipRepository(db).GetForUpdate(context.Background(), 7, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 7, m.RoomID)
	assert.EqualValues(t, 3, m.UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}
