package repository

import (
	"context"
	"time"

	"campfire/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MembershipRepository defines the interface for membership data operations
type MembershipRepository interface {
	WithTx(tx *gorm.DB) MembershipRepository
	Grant(ctx context.Context, membership *models.Membership) error
	Revoke(ctx context.Context, roomID, userID uint) error
	RevokeForRooms(ctx context.Context, roomIDs []uint, userID uint) error
	Get(ctx context.Context, roomID, userID uint) (*models.Membership, error)
	GetForUpdate(ctx context.Context, roomID, userID uint) (*models.Membership, error)
	ListForRoom(ctx context.Context, roomID uint) ([]*models.Membership, error)
	ListForRoomWithUsers(ctx context.Context, roomID uint) ([]*models.Membership, error)
	ListVisibleForUser(ctx context.Context, userID uint) ([]*models.Membership, error)
	ListUnreadForUser(ctx context.Context, userID uint) ([]*models.Membership, error)
	MemberUserIDs(ctx context.Context, roomID uint) ([]uint, error)
	MissingActiveUserIDs(ctx context.Context, roomID uint) ([]uint, error)
	SetInvolvement(ctx context.Context, roomID, userID uint, involvement models.Involvement) error
	SetUnreadAt(ctx context.Context, id uint, unreadAt *time.Time) error
	SetNotifiedUntil(ctx context.Context, id uint, t time.Time) error
	MarkUnreadOnMessage(ctx context.Context, roomID, creatorID uint, messageCreatedAt, now time.Time, presenceTTL time.Duration) ([]*models.Membership, error)
	RetargetUnread(ctx context.Context, roomID uint, from time.Time, to *time.Time) ([]*models.Membership, error)
	UpdateColumns(ctx context.Context, id uint, values map[string]interface{}) error
}

type membershipRepository struct {
	db *gorm.DB
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &membershipRepository{db: db}
}

func (r *membershipRepository) WithTx(tx *gorm.DB) MembershipRepository {
	return &membershipRepository{db: tx}
}

// Grant upserts the membership. A re-grant only reactivates the row; the
// member's involvement and unread watermark survive untouched.
func (r *membershipRepository) Grant(ctx context.Context, membership *models.Membership) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"active": true}),
	}).Create(membership).Error
}

// Revoke soft-deactivates the membership and clears its transient state,
// so a later re-grant starts clean but history survives.
func (r *membershipRepository) Revoke(ctx context.Context, roomID, userID uint) error {
	return r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Updates(map[string]interface{}{
			"active":       false,
			"unread_at":    nil,
			"connections":  0,
			"connected_at": nil,
		}).Error
}

func (r *membershipRepository) RevokeForRooms(ctx context.Context, roomIDs []uint, userID uint) error {
	if len(roomIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("room_id IN ? AND user_id = ?", roomIDs, userID).
		Updates(map[string]interface{}{
			"active":       false,
			"unread_at":    nil,
			"connections":  0,
			"connected_at": nil,
		}).Error
}

func (r *membershipRepository) Get(ctx context.Context, roomID, userID uint) (*models.Membership, error) {
	var membership models.Membership
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&membership).Error
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

// GetForUpdate loads the membership row under a FOR UPDATE lock. Only
// meaningful inside a transaction. SQLite has no row locks (the whole
// database locks on write), so the clause is skipped there.
func (r *membershipRepository) GetForUpdate(ctx context.Context, roomID, userID uint) (*models.Membership, error) {
	q := r.db.WithContext(ctx)
	if r.db.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var membership models.Membership
	err := q.Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&membership).Error
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

func (r *membershipRepository) ListForRoom(ctx context.Context, roomID uint) ([]*models.Membership, error) {
	var memberships []*models.Membership
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND active = ?", roomID, true).
		Find(&memberships).Error
	return memberships, err
}

func (r *membershipRepository) ListForRoomWithUsers(ctx context.Context, roomID uint) ([]*models.Membership, error) {
	var memberships []*models.Membership
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("room_id = ? AND active = ?", roomID, true).
		Find(&memberships).Error
	return memberships, err
}

func (r *membershipRepository) ListVisibleForUser(ctx context.Context, userID uint) ([]*models.Membership, error) {
	var memberships []*models.Membership
	err := r.db.WithContext(ctx).
		Preload("Room").
		Joins("JOIN rooms ON rooms.id = memberships.room_id").
		Where("memberships.user_id = ? AND memberships.active = ? AND memberships.involvement <> ? AND rooms.active = ?",
			userID, true, models.InvolvementInvisible, true).
		Order("rooms.last_active_at DESC NULLS LAST").
		Find(&memberships).Error
	return memberships, err
}

func (r *membershipRepository) ListUnreadForUser(ctx context.Context, userID uint) ([]*models.Membership, error) {
	var memberships []*models.Membership
	err := r.db.WithContext(ctx).
		Preload("Room").
		Joins("JOIN rooms ON rooms.id = memberships.room_id").
		Where("memberships.user_id = ? AND memberships.active = ? AND memberships.unread_at IS NOT NULL AND memberships.involvement <> ? AND rooms.active = ?",
			userID, true, models.InvolvementInvisible, true).
		Find(&memberships).Error
	return memberships, err
}

func (r *membershipRepository) MemberUserIDs(ctx context.Context, roomID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("room_id = ? AND active = ?", roomID, true).
		Pluck("user_id", &ids).Error
	return ids, err
}

// MissingActiveUserIDs returns active users without any membership row
// in the room. Used to reconcile open-room auto-joins.
func (r *membershipRepository) MissingActiveUserIDs(ctx context.Context, roomID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("users.active = ?", true).
		Where("NOT EXISTS (SELECT 1 FROM memberships WHERE memberships.room_id = ? AND memberships.user_id = users.id)", roomID).
		Pluck("users.id", &ids).Error
	return ids, err
}

func (r *membershipRepository) SetInvolvement(ctx context.Context, roomID, userID uint, involvement models.Involvement) error {
	return r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("involvement", involvement).Error
}

func (r *membershipRepository) SetUnreadAt(ctx context.Context, id uint, unreadAt *time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("id = ?", id).
		Update("unread_at", unreadAt).Error
}

func (r *membershipRepository) SetNotifiedUntil(ctx context.Context, id uint, t time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("id = ?", id).
		Update("notified_until", t).Error
}

// MarkUnreadOnMessage stamps the unread watermark for every member who
// should see the room light up: visible, disconnected, currently read,
// and not the message author. presenceTTL is how long a heartbeat still
// counts as connected; zero falls back to models.ConnectionTTL. Returns
// the stamped memberships so the fan-out can tell each affected user.
func (r *membershipRepository) MarkUnreadOnMessage(ctx context.Context, roomID, creatorID uint, messageCreatedAt, now time.Time, presenceTTL time.Duration) ([]*models.Membership, error) {
	if presenceTTL <= 0 {
		presenceTTL = models.ConnectionTTL
	}
	cutoff := now.Add(-presenceTTL)
	q := func(db *gorm.DB) *gorm.DB {
		return db.
			Where("room_id = ? AND user_id <> ? AND active = ?", roomID, creatorID, true).
			Where("involvement <> ?", models.InvolvementInvisible).
			Where("unread_at IS NULL").
			Where("connections = 0 OR connected_at IS NULL OR connected_at < ?", cutoff)
	}

	var memberships []*models.Membership
	if err := q(r.db.WithContext(ctx)).Find(&memberships).Error; err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return memberships, nil
	}

	ids := make([]uint, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.ID)
		t := messageCreatedAt
		m.UnreadAt = &t
	}
	err := r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("id IN ?", ids).
		Update("unread_at", messageCreatedAt).Error
	return memberships, err
}

// RetargetUnread moves every watermark in the room that points exactly
// at `from` onto `to` and returns the affected memberships.
func (r *membershipRepository) RetargetUnread(ctx context.Context, roomID uint, from time.Time, to *time.Time) ([]*models.Membership, error) {
	var memberships []*models.Membership
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND unread_at = ?", roomID, from).
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return memberships, nil
	}

	ids := make([]uint, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.ID)
		m.UnreadAt = to
	}
	err = r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("id IN ?", ids).
		Update("unread_at", to).Error
	return memberships, err
}

func (r *membershipRepository) UpdateColumns(ctx context.Context, id uint, values map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("id = ?", id).
		Updates(values).Error
}
