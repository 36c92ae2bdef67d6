package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"campfire/internal/models"
	"campfire/internal/repository"
)

// UnreadLedger owns every transition of the per-membership unread_at
// watermark. Watermark updates are check-then-act, so each runs inside a
// transaction holding the membership row lock. Broadcasting happens after
// commit, never under the lock.
type UnreadLedger struct {
	db          *gorm.DB
	memberships repository.MembershipRepository
	messages    repository.MessageRepository
	presenceTTL time.Duration
	staleAfter  time.Duration
}

// NewUnreadLedger returns a new UnreadLedger. presenceTTL is how long a
// presence heartbeat suppresses unread stamping, matching the tracker's
// TTL. staleAfter bounds how old a client-supplied inbox watermark may be
// before it is replaced with now.
func NewUnreadLedger(db *gorm.DB, memberships repository.MembershipRepository, messages repository.MessageRepository, presenceTTL, staleAfter time.Duration) *UnreadLedger {
	if presenceTTL <= 0 {
		presenceTTL = models.ConnectionTTL
	}
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	return &UnreadLedger{
		db:          db,
		memberships: memberships,
		messages:    messages,
		presenceTTL: presenceTTL,
		staleAfter:  staleAfter,
	}
}

// WatermarkChange describes what a ledger transition did to a membership,
// so the caller can emit the matching read/unread broadcast.
type WatermarkChange struct {
	Membership *models.Membership
	Changed    bool
	// UnreadAt is the new watermark; nil means the room is now fully read.
	UnreadAt *time.Time
}

// ReadUntil advances the watermark for everything up to and including t.
// No-op if the membership is already read or t predates the current
// watermark; the ledger only ever moves toward "more read".
func (l *UnreadLedger) ReadUntil(ctx context.Context, roomID, userID uint, t time.Time) (*WatermarkChange, error) {
	change := &WatermarkChange{}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		memberships := l.memberships.WithTx(tx)
		m, err := memberships.GetForUpdate(ctx, roomID, userID)
		if err != nil {
			return err
		}
		change.Membership = m
		if m.Read() || t.Before(*m.UnreadAt) {
			return nil
		}

		next, err := l.messages.WithTx(tx).EarliestActiveAfter(ctx, roomID, t)
		switch {
		case err == nil:
			change.UnreadAt = &next.CreatedAt
		case errors.Is(err, gorm.ErrRecordNotFound):
			change.UnreadAt = nil
		default:
			return err
		}

		change.Changed = true
		m.UnreadAt = change.UnreadAt
		return memberships.SetUnreadAt(ctx, m.ID, change.UnreadAt)
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// MarkUnread forces the watermark onto the given message, regardless of
// current state. Used when a user explicitly flags a message unread.
func (l *UnreadLedger) MarkUnread(ctx context.Context, roomID, userID, messageID uint) (*WatermarkChange, error) {
	change := &WatermarkChange{Changed: true}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msg, err := l.messages.WithTx(tx).GetByID(ctx, messageID)
		if err != nil {
			return err
		}
		if msg.RoomID != roomID {
			return models.NewValidationError("Message does not belong to this room")
		}

		memberships := l.memberships.WithTx(tx)
		m, err := memberships.GetForUpdate(ctx, roomID, userID)
		if err != nil {
			return err
		}
		change.Membership = m
		change.UnreadAt = &msg.CreatedAt
		m.UnreadAt = &msg.CreatedAt
		return memberships.SetUnreadAt(ctx, m.ID, &msg.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// MarkRoomRead clears the watermark entirely.
func (l *UnreadLedger) MarkRoomRead(ctx context.Context, roomID, userID uint) (*WatermarkChange, error) {
	change := &WatermarkChange{Changed: true}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		memberships := l.memberships.WithTx(tx)
		m, err := memberships.GetForUpdate(ctx, roomID, userID)
		if err != nil {
			return err
		}
		change.Membership = m
		if m.Read() {
			change.Changed = false
			return nil
		}
		m.UnreadAt = nil
		return memberships.SetUnreadAt(ctx, m.ID, nil)
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// StampUnreadOnMessage marks the room unread for every visible,
// disconnected, currently-read member except the author. Returns the
// memberships that were stamped.
func (l *UnreadLedger) StampUnreadOnMessage(ctx context.Context, msg *models.Message) ([]*models.Membership, error) {
	return l.memberships.MarkUnreadOnMessage(ctx, msg.RoomID, msg.CreatorID, msg.CreatedAt, time.Now(), l.presenceTTL)
}

// RetargetOnDeactivation moves every watermark pointing exactly at the
// deactivated message onto the next active message, or to fully read when
// nothing newer remains. Runs inside the caller's transaction.
func (l *UnreadLedger) RetargetOnDeactivation(ctx context.Context, tx *gorm.DB, msg *models.Message) ([]*models.Membership, error) {
	var to *time.Time
	next, err := l.messages.WithTx(tx).EarliestActiveAfter(ctx, msg.RoomID, msg.CreatedAt)
	switch {
	case err == nil:
		to = &next.CreatedAt
	case errors.Is(err, gorm.ErrRecordNotFound):
		to = nil
	default:
		return nil, err
	}

	return l.memberships.WithTx(tx).RetargetUnread(ctx, msg.RoomID, msg.CreatedAt, to)
}

// ClearInboxInput carries the per-tab "loaded until" watermarks the client
// tracked while the user scrolled the inbox.
type ClearInboxInput struct {
	MentionsLoadedUntil      time.Time
	NotificationsLoadedUntil time.Time
	MessagesLoadedUntil      time.Time
}

// ClearInbox applies the three session watermarks across every unread
// membership of the user. Generic memberships read up to the messages
// watermark; "everything" memberships also read up to the notifications
// watermark; finally, memberships whose remaining unread window holds no
// non-mention content are safe to clear up to the mentions watermark
// without losing a genuine mention.
func (l *UnreadLedger) ClearInbox(ctx context.Context, userID uint, in ClearInboxInput) ([]*WatermarkChange, error) {
	var changes []*WatermarkChange

	messagesUntil := l.nowIfStale(in.MessagesLoadedUntil)
	unread, err := l.memberships.ListUnreadForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, m := range unread {
		change, err := l.ReadUntil(ctx, m.RoomID, userID, messagesUntil)
		if err != nil {
			return changes, err
		}
		if change.Changed {
			changes = append(changes, change)
		}
	}

	notificationsUntil := l.nowIfStale(in.NotificationsLoadedUntil)
	unread, err = l.memberships.ListUnreadForUser(ctx, userID)
	if err != nil {
		return changes, err
	}
	for _, m := range unread {
		if m.Involvement != models.InvolvementEverything {
			continue
		}
		change, err := l.ReadUntil(ctx, m.RoomID, userID, notificationsUntil)
		if err != nil {
			return changes, err
		}
		if change.Changed {
			changes = append(changes, change)
		}
	}

	mentionsUntil := l.nowIfStale(in.MentionsLoadedUntil)
	unread, err = l.memberships.ListUnreadForUser(ctx, userID)
	if err != nil {
		return changes, err
	}
	for _, m := range unread {
		safe, err := l.windowHoldsOnlyMentions(ctx, m, mentionsUntil)
		if err != nil {
			return changes, err
		}
		if !safe {
			continue
		}
		change, err := l.ReadUntil(ctx, m.RoomID, userID, mentionsUntil)
		if err != nil {
			return changes, err
		}
		if change.Changed {
			changes = append(changes, change)
		}
	}

	return changes, nil
}

// windowHoldsOnlyMentions reports whether every active message between the
// membership's watermark and the given bound mentions the user. Only then
// is clearing with the narrower mentions watermark safe.
func (l *UnreadLedger) windowHoldsOnlyMentions(ctx context.Context, m *models.Membership, until time.Time) (bool, error) {
	if m.UnreadAt == nil {
		return false, nil
	}
	var count int64
	err := l.db.WithContext(ctx).Model(&models.Message{}).
		Where("room_id = ? AND active = ?", m.RoomID, true).
		Where("created_at >= ? AND created_at <= ?", *m.UnreadAt, until).
		Where("mentions_everyone = ?", false).
		Where("NOT EXISTS (SELECT 1 FROM mentions WHERE mentions.message_id = messages.id AND mentions.user_id = ?)", m.UserID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// nowIfStale guards against old or missing client watermarks: anything
// absent or older than the staleness window collapses to now.
func (l *UnreadLedger) nowIfStale(t time.Time) time.Time {
	if t.IsZero() || time.Since(t) > l.staleAfter {
		return time.Now()
	}
	return t
}
