package repository

import (
	"context"

	"campfire/internal/models"

	"gorm.io/gorm"
)

// RoomRepository defines the interface for room data operations
type RoomRepository interface {
	WithTx(tx *gorm.DB) RoomRepository
	Create(ctx context.Context, room *models.Room) error
	GetByID(ctx context.Context, id uint) (*models.Room, error)
	GetActiveByID(ctx context.Context, id uint) (*models.Room, error)
	Update(ctx context.Context, room *models.Room) error
	SetActive(ctx context.Context, id uint, active bool) error
	SetKind(ctx context.Context, id uint, kind models.RoomKind) error
	GetThreadByParent(ctx context.Context, parentMessageID uint) (*models.Room, error)
	ListThreadsUnderRoom(ctx context.Context, roomID uint) ([]*models.Room, error)
	ListShared(ctx context.Context) ([]*models.Room, error)
	ListOpen(ctx context.Context) ([]*models.Room, error)
	FindDirectByUserSet(ctx context.Context, userIDs []uint) (*models.Room, error)
	TouchLastActive(ctx context.Context, id uint) error
	IncrementMessagesCount(ctx context.Context, id uint, delta int) error
}

type roomRepository struct {
	db *gorm.DB
}

// NewRoomRepository creates a new room repository
func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepository{db: db}
}

func (r *roomRepository) WithTx(tx *gorm.DB) RoomRepository {
	return &roomRepository{db: tx}
}

func (r *roomRepository) Create(ctx context.Context, room *models.Room) error {
	return r.db.WithContext(ctx).Create(room).Error
}

func (r *roomRepository) GetByID(ctx context.Context, id uint) (*models.Room, error) {
	var room models.Room
	if err := r.db.WithContext(ctx).First(&room, id).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *roomRepository) GetActiveByID(ctx context.Context, id uint) (*models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).
		Where("id = ? AND active = ?", id, true).
		First(&room).Error
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *roomRepository) Update(ctx context.Context, room *models.Room) error {
	return r.db.WithContext(ctx).Save(room).Error
}

func (r *roomRepository) SetActive(ctx context.Context, id uint, active bool) error {
	return r.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ?", id).
		Update("active", active).Error
}

func (r *roomRepository) SetKind(ctx context.Context, id uint, kind models.RoomKind) error {
	return r.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ?", id).
		Update("kind", kind).Error
}

func (r *roomRepository) GetThreadByParent(ctx context.Context, parentMessageID uint) (*models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).
		Where("kind = ? AND parent_message_id = ?", models.RoomKindThread, parentMessageID).
		First(&room).Error
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// ListThreadsUnderRoom returns thread rooms whose parent message lives
// in the given room, regardless of the thread's active flag.
func (r *roomRepository) ListThreadsUnderRoom(ctx context.Context, roomID uint) ([]*models.Room, error) {
	var rooms []*models.Room
	err := r.db.WithContext(ctx).
		Joins("JOIN messages ON messages.id = rooms.parent_message_id").
		Where("rooms.kind = ? AND messages.room_id = ?", models.RoomKindThread, roomID).
		Find(&rooms).Error
	return rooms, err
}

func (r *roomRepository) ListShared(ctx context.Context) ([]*models.Room, error) {
	var rooms []*models.Room
	err := r.db.WithContext(ctx).
		Where("kind IN ? AND active = ?", []models.RoomKind{models.RoomKindOpen, models.RoomKindClosed}, true).
		Order("name ASC").
		Find(&rooms).Error
	return rooms, err
}

func (r *roomRepository) ListOpen(ctx context.Context) ([]*models.Room, error) {
	var rooms []*models.Room
	err := r.db.WithContext(ctx).
		Where("kind = ? AND active = ?", models.RoomKindOpen, true).
		Find(&rooms).Error
	return rooms, err
}

// FindDirectByUserSet locates the direct room whose membership set is
// exactly the given users. Returns gorm.ErrRecordNotFound when no such
// room exists yet.
func (r *roomRepository) FindDirectByUserSet(ctx context.Context, userIDs []uint) (*models.Room, error) {
	var candidates []uint
	err := r.db.WithContext(ctx).Model(&models.Membership{}).
		Select("memberships.room_id").
		Joins("JOIN rooms ON rooms.id = memberships.room_id").
		Where("rooms.kind = ? AND rooms.active = ?", models.RoomKindDirect, true).
		Group("memberships.room_id").
		Having("COUNT(*) = ? AND SUM(CASE WHEN memberships.user_id IN ? THEN 0 ELSE 1 END) = 0", len(userIDs), userIDs).
		Pluck("memberships.room_id", &candidates).Error
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.GetByID(ctx, candidates[0])
}

func (r *roomRepository) TouchLastActive(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ?", id).
		Update("last_active_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
}

func (r *roomRepository) IncrementMessagesCount(ctx context.Context, id uint, delta int) error {
	return r.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ?", id).
		Update("messages_count", gorm.Expr("messages_count + ?", delta)).Error
}
