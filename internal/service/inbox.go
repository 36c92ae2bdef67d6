package service

import (
	"context"

	"gorm.io/gorm"

	"campfire/internal/broadcast"
	"campfire/internal/models"
	"campfire/internal/repository"
)

// InboxService assembles the aggregated views: mentions, threads,
// notifications, and the all-messages feed, plus the clear action.
type InboxService struct {
	db          *gorm.DB
	memberships repository.MembershipRepository
	messages    repository.MessageRepository
	ledger      *UnreadLedger
	broadcaster *broadcast.Broadcaster
}

// NewInboxService returns a new InboxService.
func NewInboxService(
	db *gorm.DB,
	memberships repository.MembershipRepository,
	messages repository.MessageRepository,
	ledger *UnreadLedger,
	broadcaster *broadcast.Broadcaster,
) *InboxService {
	return &InboxService{
		db:          db,
		memberships: memberships,
		messages:    messages,
		ledger:      ledger,
		broadcaster: broadcaster,
	}
}

// Mentions returns the active messages that mention the user, newest
// first, excluding the user's own.
func (s *InboxService) Mentions(ctx context.Context, userID uint, limit int) ([]*models.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	msgs, err := s.messages.ListMentioningUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := msgs[:0]
	for _, m := range msgs {
		if m.CreatorID != userID {
			out = append(out, m)
		}
	}
	return out, nil
}

// Threads returns the thread rooms on the user's radar: those they hold a
// visible membership in, plus threads under rooms they follow with
// "everything" involvement. Ordered by thread activity, newest first.
func (s *InboxService) Threads(ctx context.Context, userID uint) ([]*models.Room, error) {
	var threads []*models.Room
	err := s.db.WithContext(ctx).
		Where("rooms.kind = ? AND rooms.active = ? AND rooms.messages_count > 0", models.RoomKindThread, true).
		Where(`EXISTS (
			SELECT 1 FROM memberships
			WHERE memberships.room_id = rooms.id
			  AND memberships.user_id = ?
			  AND memberships.active = ?
			  AND memberships.involvement <> ?
		) OR EXISTS (
			SELECT 1 FROM messages parent
			JOIN memberships pm ON pm.room_id = parent.room_id AND pm.user_id = ? AND pm.active = ?
			WHERE parent.id = rooms.parent_message_id
			  AND pm.involvement = ?
		)`, userID, true, models.InvolvementInvisible, userID, true, models.InvolvementEverything).
		Order("rooms.last_active_at DESC").
		Find(&threads).Error
	return threads, err
}

// Notifications returns messages from rooms the user follows with
// "everything" involvement, excluding their own.
func (s *InboxService) Notifications(ctx context.Context, userID uint, limit int) ([]*models.Message, error) {
	return s.feed(ctx, userID, limit, []models.Involvement{models.InvolvementEverything})
}

// Messages returns the full cross-room feed from every visible room.
func (s *InboxService) Messages(ctx context.Context, userID uint, limit int) ([]*models.Message, error) {
	return s.feed(ctx, userID, limit, []models.Involvement{
		models.InvolvementNothing, models.InvolvementMentions, models.InvolvementEverything,
	})
}

func (s *InboxService) feed(ctx context.Context, userID uint, limit int, involvements []models.Involvement) ([]*models.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var msgs []*models.Message
	err := s.db.WithContext(ctx).
		Preload("Creator").
		Preload("Room").
		Joins("JOIN memberships ON memberships.room_id = messages.room_id").
		Where("memberships.user_id = ? AND memberships.active = ?", userID, true).
		Where("memberships.involvement IN ?", involvements).
		Where("messages.active = ? AND messages.creator_id <> ?", true, userID).
		Order("messages.created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

// Clear applies the session watermarks across every unread membership of
// the user and broadcasts the resulting read/unread states.
func (s *InboxService) Clear(ctx context.Context, userID uint, in ClearInboxInput) error {
	changes, err := s.ledger.ClearInbox(ctx, userID, in)

	for _, c := range changes {
		if c.UnreadAt == nil {
			s.broadcaster.RoomRead(ctx, c.Membership.RoomID, userID)
		} else {
			s.broadcaster.RoomUnread(ctx, c.Membership.RoomID, userID, *c.UnreadAt)
		}
	}
	return err
}
