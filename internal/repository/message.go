package repository

import (
	"context"
	"time"

	"campfire/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository defines the interface for message data operations
type MessageRepository interface {
	WithTx(tx *gorm.DB) MessageRepository
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	GetByClientMessageID(ctx context.Context, roomID uint, clientMessageID string) (*models.Message, error)
	ListForRoom(ctx context.Context, roomID uint, beforeID uint, limit int) ([]*models.Message, error)
	EarliestActiveAfter(ctx context.Context, roomID uint, t time.Time) (*models.Message, error)
	LastActiveBefore(ctx context.Context, roomID uint, id uint) (*models.Message, error)
	Update(ctx context.Context, msg *models.Message) error
	SetActive(ctx context.Context, id uint, active bool) error
	ReplaceMentions(ctx context.Context, messageID uint, userIDs []uint) error
	MentionedUserIDs(ctx context.Context, messageID uint) ([]uint, error)
	ListMentioningUser(ctx context.Context, userID uint, limit int) ([]*models.Message, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) WithTx(tx *gorm.DB) MessageRepository {
	return &messageRepository{db: tx}
}

func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *messageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).Preload("Creator").First(&msg, id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetByClientMessageID is the idempotency lookup for message creation.
func (r *messageRepository) GetByClientMessageID(ctx context.Context, roomID uint, clientMessageID string) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND client_message_id = ?", roomID, clientMessageID).
		First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) ListForRoom(ctx context.Context, roomID uint, beforeID uint, limit int) ([]*models.Message, error) {
	var messages []*models.Message
	q := r.db.WithContext(ctx).
		Preload("Creator").
		Where("room_id = ? AND active = ?", roomID, true)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	err := q.Order("created_at DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}

	// Fetched newest-first for the page boundary; clients expect
	// chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// EarliestActiveAfter finds the first active message in the room strictly
// after t. Returns gorm.ErrRecordNotFound when none remains.
func (r *messageRepository) EarliestActiveAfter(ctx context.Context, roomID uint, t time.Time) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND active = ? AND created_at > ?", roomID, true, t).
		Order("created_at ASC").
		First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// LastActiveBefore finds the newest active message older than the given
// message id within the room.
func (r *messageRepository) LastActiveBefore(ctx context.Context, roomID uint, id uint) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND active = ? AND id < ?", roomID, true, id).
		Order("created_at DESC").
		First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) Update(ctx context.Context, msg *models.Message) error {
	return r.db.WithContext(ctx).Save(msg).Error
}

func (r *messageRepository) SetActive(ctx context.Context, id uint, active bool) error {
	return r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", id).
		Update("active", active).Error
}

// ReplaceMentions rewrites the mention rows for a message. Used on edit,
// where the mention set is re-resolved from the new body.
func (r *messageRepository) ReplaceMentions(ctx context.Context, messageID uint, userIDs []uint) error {
	if err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Delete(&models.Mention{}).Error; err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return nil
	}
	mentions := make([]models.Mention, 0, len(userIDs))
	for _, uid := range userIDs {
		mentions = append(mentions, models.Mention{MessageID: messageID, UserID: uid})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&mentions).Error
}

func (r *messageRepository) MentionedUserIDs(ctx context.Context, messageID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Mention{}).
		Where("message_id = ?", messageID).
		Pluck("user_id", &ids).Error
	return ids, err
}

// ListMentioningUser returns the active messages that mention the user,
// newest first. Backs the inbox mentions tab.
func (r *messageRepository) ListMentioningUser(ctx context.Context, userID uint, limit int) ([]*models.Message, error) {
	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Preload("Creator").
		Preload("Room").
		Joins("JOIN mentions ON mentions.message_id = messages.id").
		Where("mentions.user_id = ? AND messages.active = ?", userID, true).
		Order("messages.created_at DESC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}
