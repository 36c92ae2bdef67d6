package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"campfire/internal/broadcast"
	"campfire/internal/middleware"
	"campfire/internal/models"
	"campfire/internal/repository"
)

const maxMessageBody = 16384

// MessageService owns the message lifecycle: idempotent creation, edits
// that re-resolve mentions, soft deletion with watermark retargeting, and
// reactivation. Writes commit first; the fan-out runs after, best-effort.
type MessageService struct {
	db          *gorm.DB
	rooms       repository.RoomRepository
	memberships repository.MembershipRepository
	messages    repository.MessageRepository
	users       repository.UserRepository
	resolver    *MentionResolver
	ledger      *UnreadLedger
	broadcaster *broadcast.Broadcaster
}

// NewMessageService returns a new MessageService.
func NewMessageService(
	db *gorm.DB,
	rooms repository.RoomRepository,
	memberships repository.MembershipRepository,
	messages repository.MessageRepository,
	users repository.UserRepository,
	resolver *MentionResolver,
	ledger *UnreadLedger,
	broadcaster *broadcast.Broadcaster,
) *MessageService {
	return &MessageService{
		db:          db,
		rooms:       rooms,
		memberships: memberships,
		messages:    messages,
		users:       users,
		resolver:    resolver,
		ledger:      ledger,
		broadcaster: broadcaster,
	}
}

// CreateMessageInput is the input for creating a message.
type CreateMessageInput struct {
	RoomID          uint
	CreatorID       uint
	Body            string
	ClientMessageID string
}

// CreateMessage persists a message and runs the full fan-out. Replays of
// the same client_message_id return the already-created message and do
// nothing else. A mention validation failure leaves zero writes behind.
func (s *MessageService) CreateMessage(ctx context.Context, in CreateMessageInput) (*models.Message, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, models.NewValidationError("Message body cannot be empty")
	}
	if len(body) > maxMessageBody {
		return nil, models.NewValidationError("Message body is too long")
	}
	if in.ClientMessageID == "" {
		in.ClientMessageID = uuid.NewString()
	}

	room, err := s.rooms.GetActiveByID(ctx, in.RoomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Room not found")
		}
		return nil, err
	}

	membership, err := s.memberships.Get(ctx, room.ID, in.CreatorID)
	if err != nil || !membership.Active {
		return nil, models.NewForbiddenError("You are not a member of this room")
	}

	creator, err := s.users.GetByID(ctx, in.CreatorID)
	if err != nil {
		return nil, err
	}

	// Replay check before any resolution work.
	if existing, err := s.messages.GetByClientMessageID(ctx, room.ID, in.ClientMessageID); err == nil {
		return existing, nil
	}

	// Mentions resolve before persistence so an illegal @everyone rejects
	// the whole message with no rows written.
	resolution, err := s.resolver.Resolve(ctx, room, creator, body)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		RoomID:           room.ID,
		CreatorID:        creator.ID,
		ClientMessageID:  in.ClientMessageID,
		Body:             body,
		MentionsEveryone: resolution.Everyone,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		messages := s.messages.WithTx(tx)
		if err := messages.Create(ctx, msg); err != nil {
			return err
		}
		if !resolution.Everyone && len(resolution.UserIDs) > 0 {
			if err := messages.ReplaceMentions(ctx, msg.ID, resolution.UserIDs); err != nil {
				return err
			}
		}
		rooms := s.rooms.WithTx(tx)
		if err := rooms.IncrementMessagesCount(ctx, room.ID, 1); err != nil {
			return err
		}
		if err := rooms.TouchLastActive(ctx, room.ID); err != nil {
			return err
		}
		// Posting in a thread makes the thread visible to its author.
		if room.Thread() && membership.Involvement == models.InvolvementInvisible {
			return s.memberships.WithTx(tx).SetInvolvement(ctx, room.ID, creator.ID, models.InvolvementMentions)
		}
		return nil
	})
	if err != nil {
		// A concurrent replay can beat us to the unique index.
		if existing, lookupErr := s.messages.GetByClientMessageID(ctx, room.ID, in.ClientMessageID); lookupErr == nil {
			return existing, nil
		}
		return nil, err
	}

	middleware.MessagesCreated.WithLabelValues(string(room.Kind)).Inc()
	s.fanOutCreated(ctx, room, msg, creator, resolution)

	return msg, nil
}

// fanOutCreated runs the post-commit pipeline: involvement upgrades,
// unread stamping, notify-set resolution, then the broadcaster. Failures
// here never fail the create; the committed row is the source of truth.
func (s *MessageService) fanOutCreated(ctx context.Context, room *models.Room, msg *models.Message, creator *models.User, resolution *MentionResolution) {
	upgraded, err := s.resolver.EnsureReceivesMentions(ctx, room, msg, creator.ID, resolution.UserIDs)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "involvement upgrade failed", "error", err)
	}
	for _, uid := range upgraded {
		s.broadcaster.InvolvementChanged(ctx, room.ID, uid, models.InvolvementMentions)
	}

	stamped, err := s.ledger.StampUnreadOnMessage(ctx, msg)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "unread stamp failed", "error", err)
	}

	notifySet, err := s.resolver.NotifySet(ctx, room, msg, creator.ID, resolution.UserIDs)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "notify set failed", "error", err)
	}

	// Reload so the badge broadcast carries the committed count.
	if fresh, err := s.rooms.GetByID(ctx, room.ID); err == nil {
		room = fresh
	}

	s.broadcaster.MessageCreated(ctx, room, msg, creator, resolution.UserIDs, notifySet, stamped)
}

// UpdateMessageInput is the input for editing a message.
type UpdateMessageInput struct {
	MessageID uint
	EditorID  uint
	Body      string
}

// UpdateMessage rewrites the body and fully re-resolves mentions; users
// edited out of the mention set lose their inbox card.
func (s *MessageService) UpdateMessage(ctx context.Context, in UpdateMessageInput) (*models.Message, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, models.NewValidationError("Message body cannot be empty")
	}

	msg, err := s.messages.GetByID(ctx, in.MessageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Message not found")
		}
		return nil, err
	}

	editor, err := s.users.GetByID(ctx, in.EditorID)
	if err != nil {
		return nil, err
	}
	if msg.CreatorID != editor.ID && !editor.Administrator() {
		return nil, models.NewForbiddenError("You cannot edit this message")
	}

	room, err := s.rooms.GetByID(ctx, msg.RoomID)
	if err != nil {
		return nil, err
	}

	creator, err := s.users.GetByID(ctx, msg.CreatorID)
	if err != nil {
		return nil, err
	}

	resolution, err := s.resolver.Resolve(ctx, room, creator, body)
	if err != nil {
		return nil, err
	}

	oldMentions, err := s.messages.MentionedUserIDs(ctx, msg.ID)
	if err != nil {
		return nil, err
	}

	msg.Body = body
	msg.MentionsEveryone = resolution.Everyone

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		messages := s.messages.WithTx(tx)
		if err := messages.Update(ctx, msg); err != nil {
			return err
		}
		newMentions := resolution.UserIDs
		if resolution.Everyone {
			newMentions = nil
		}
		return messages.ReplaceMentions(ctx, msg.ID, newMentions)
	})
	if err != nil {
		return nil, err
	}

	upgraded, err := s.resolver.EnsureReceivesMentions(ctx, room, msg, creator.ID, resolution.UserIDs)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "involvement upgrade failed", "error", err)
	}
	for _, uid := range upgraded {
		s.broadcaster.InvolvementChanged(ctx, room.ID, uid, models.InvolvementMentions)
	}

	s.broadcaster.MessageUpdated(ctx, room, msg, resolution.UserIDs, difference(oldMentions, resolution.UserIDs))

	return msg, nil
}

// DeactivateMessage soft-deletes a message and retargets every watermark
// that pointed at it, inside one transaction.
func (s *MessageService) DeactivateMessage(ctx context.Context, messageID, actorID uint) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFoundError("Message not found")
		}
		return err
	}
	if !msg.Active {
		return nil
	}

	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if msg.CreatorID != actor.ID && !actor.Administrator() {
		return models.NewForbiddenError("You cannot delete this message")
	}

	room, err := s.rooms.GetByID(ctx, msg.RoomID)
	if err != nil {
		return err
	}

	mentionedIDs, err := s.messages.MentionedUserIDs(ctx, msg.ID)
	if err != nil {
		return err
	}

	var retargeted []*models.Membership
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.messages.WithTx(tx).SetActive(ctx, msg.ID, false); err != nil {
			return err
		}
		if err := s.rooms.WithTx(tx).IncrementMessagesCount(ctx, room.ID, -1); err != nil {
			return err
		}
		retargeted, err = s.ledger.RetargetOnDeactivation(ctx, tx, msg)
		return err
	})
	if err != nil {
		return err
	}

	msg.Active = false
	s.broadcaster.MessageDeactivated(ctx, room, msg, mentionedIDs, retargeted)

	return nil
}

// ReactivateMessage restores a soft-deleted message and announces it at
// its chronological position in the room stream.
func (s *MessageService) ReactivateMessage(ctx context.Context, messageID, actorID uint) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFoundError("Message not found")
		}
		return err
	}
	if msg.Active {
		return nil
	}

	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if !actor.Administrator() {
		return models.NewForbiddenError("Only administrators can restore messages")
	}

	room, err := s.rooms.GetByID(ctx, msg.RoomID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.messages.WithTx(tx).SetActive(ctx, msg.ID, true); err != nil {
			return err
		}
		return s.rooms.WithTx(tx).IncrementMessagesCount(ctx, room.ID, 1)
	})
	if err != nil {
		return err
	}
	msg.Active = true

	var afterID uint
	if prev, err := s.messages.LastActiveBefore(ctx, room.ID, msg.ID); err == nil {
		afterID = prev.ID
	}
	s.broadcaster.MessageReactivated(ctx, room, msg, afterID)

	return nil
}

// ListMessages returns a chronological page of a room's active messages
// for a member.
func (s *MessageService) ListMessages(ctx context.Context, roomID, userID, beforeID uint, limit int) ([]*models.Message, error) {
	m, err := s.memberships.Get(ctx, roomID, userID)
	if err != nil || !m.Active {
		return nil, models.NewForbiddenError("You are not a member of this room")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.messages.ListForRoom(ctx, roomID, beforeID, limit)
}

// difference returns the ids present in a but not in b.
func difference(a, b []uint) []uint {
	drop := make(map[uint]struct{}, len(b))
	for _, id := range b {
		drop[id] = struct{}{}
	}
	var out []uint
	for _, id := range a {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
