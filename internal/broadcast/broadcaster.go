// Package broadcast implements the ordered fan-out that follows every
// message and membership change: room stream first, then per-user
// notification channels, inbox updates, and the background push queue.
package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"campfire/internal/featureflags"
	"campfire/internal/middleware"
	"campfire/internal/models"
	"campfire/internal/notifications"
	"campfire/internal/push"
	"campfire/internal/repository"
)

const excerptLimit = 120

// webPushFlag gates background push delivery per user, so new push
// infrastructure can roll out gradually.
const webPushFlag = "web_push"

// Broadcaster fans events out after the database writes have committed.
// Every step is best-effort: a failed publish is logged and the rest of
// the pipeline still runs. The room stream always goes out first so a
// connected member never sees a notification before the message itself.
type Broadcaster struct {
	rooms       repository.RoomRepository
	memberships repository.MembershipRepository
	messages    repository.MessageRepository
	notifier    *notifications.Notifier
	tasks       *asynq.Client
	queue       string
	flags       *featureflags.Manager
}

// New creates a Broadcaster. tasks may be nil, in which case push
// delivery is skipped. A nil flags manager delivers push to everyone.
func New(
	rooms repository.RoomRepository,
	memberships repository.MembershipRepository,
	messages repository.MessageRepository,
	notifier *notifications.Notifier,
	tasks *asynq.Client,
	queue string,
	flags *featureflags.Manager,
) *Broadcaster {
	return &Broadcaster{
		rooms:       rooms,
		memberships: memberships,
		messages:    messages,
		notifier:    notifier,
		tasks:       tasks,
		queue:       queue,
		flags:       flags,
	}
}

func (b *Broadcaster) publish(ctx context.Context, channel, eventType string, payload any) {
	event, err := notifications.NewEvent(channel, eventType, payload)
	if err != nil {
		middleware.Logger.ErrorContext(ctx, "broadcast encode failed",
			slog.String("channel", channel),
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := b.notifier.Publish(ctx, event); err != nil {
		middleware.Logger.WarnContext(ctx, "broadcast publish failed",
			slog.String("channel", channel),
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
	}
}

// MessageCreated runs the full fan-out for a newly persisted message.
// notifySet holds the memberships the resolver deemed eligible;
// unreadMemberships are the rows the unread stamp just touched;
// mentionedIDs are the users bound to the message by mention rows.
func (b *Broadcaster) MessageCreated(
	ctx context.Context,
	room *models.Room,
	msg *models.Message,
	creator *models.User,
	mentionedIDs []uint,
	notifySet []*models.Membership,
	unreadMemberships []*models.Membership,
) {
	// 1. Room stream. Connected members see the message immediately,
	// before any notification could send them looking for it.
	b.publish(ctx, notifications.RoomChannel(room.ID), notifications.EventMessageCreated,
		notifications.MessageEventPayload{Message: msg, RoomID: room.ID})

	// 2. Unread badges for members the stamp touched.
	for _, m := range unreadMemberships {
		b.publish(ctx, notifications.UserUnreadsChannel(m.UserID), notifications.EventRoomUnread,
			notifications.RoomStatePayload{RoomID: room.ID, UnreadAt: msg.CreatedAt.Format(time.RFC3339Nano)})
	}

	// 3. Notification pings, throttled by notified_until so a burst of
	// messages yields one ping per member.
	notifyIDs := b.notify(ctx, room, msg, creator, notifySet)

	// 4. Inbox mention cards.
	for _, id := range mentionedIDs {
		b.publish(ctx, notifications.UserInboxMentionsChannel(id), notifications.EventInboxMention,
			notifications.InboxMentionPayload{Message: msg, RoomID: room.ID})
	}

	// 5. Thread cards carry reloaded counts.
	if room.Thread() {
		b.threadCards(ctx, room, creator.ID)
	}

	// 6. Room-list badge refresh for every connected client.
	b.publish(ctx, notifications.RoomsBadgeChannel(), notifications.EventRoomsBadge,
		notifications.RoomsBadgePayload{
			RoomID:        room.ID,
			MessagesCount: room.MessagesCount,
			CreatedAt:     msg.CreatedAt.Format(time.RFC3339Nano),
		})

	// 7. Background push for everyone we pinged.
	b.enqueuePush(ctx, room, msg, creator, notifyIDs)
}

// notify publishes a notification event per member in the notify-set and
// returns the user ids that actually got one.
func (b *Broadcaster) notify(
	ctx context.Context,
	room *models.Room,
	msg *models.Message,
	creator *models.User,
	notifySet []*models.Membership,
) []uint {
	payload := notifications.NotificationPayload{
		RoomID:      room.ID,
		MessageID:   msg.ID,
		RoomName:    room.Name,
		CreatorName: creator.Name,
		Excerpt:     excerpt(msg.Body),
	}

	var notified []uint
	seen := make(map[uint]struct{}, len(notifySet))
	for _, m := range notifySet {
		if m.UserID == creator.ID {
			continue
		}
		if _, dup := seen[m.UserID]; dup {
			continue
		}
		seen[m.UserID] = struct{}{}
		if m.NotifiedUntil != nil && !msg.CreatedAt.After(*m.NotifiedUntil) {
			continue
		}
		b.publish(ctx, notifications.UserChannel(m.UserID), notifications.EventNotification, payload)
		if err := b.memberships.SetNotifiedUntil(ctx, m.ID, msg.CreatedAt); err != nil {
			middleware.Logger.WarnContext(ctx, "notified_until update failed",
				slog.Uint64("membership_id", uint64(m.ID)),
				slog.String("error", err.Error()),
			)
		}
		notified = append(notified, m.UserID)
	}
	return notified
}

// threadCards refreshes the inbox thread card for everyone the thread is
// on the radar of: its own visible members, plus parent-room members who
// follow the parent with "everything" involvement even when they never
// joined the thread.
func (b *Broadcaster) threadCards(ctx context.Context, thread *models.Room, skipUserID uint) {
	// Reload so messages_count reflects this message.
	fresh, err := b.rooms.GetByID(ctx, thread.ID)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "thread reload failed",
			slog.Uint64("room_id", uint64(thread.ID)),
			slog.String("error", err.Error()),
		)
		return
	}

	memberships, err := b.memberships.ListForRoom(ctx, thread.ID)
	if err != nil {
		return
	}

	payload := notifications.InboxThreadPayload{
		ThreadID:      fresh.ID,
		Title:         fresh.Name,
		MessagesCount: fresh.MessagesCount,
	}
	if fresh.ParentMessageID != nil {
		if parent, err := b.messages.GetByID(ctx, *fresh.ParentMessageID); err == nil {
			payload.ParentRoomID = parent.RoomID
		}
	}
	if fresh.LastActiveAt != nil {
		payload.LastActiveAt = fresh.LastActiveAt.Format(time.RFC3339Nano)
	}

	recipients := make(map[uint]struct{}, len(memberships))
	for _, m := range memberships {
		if m.UserID == skipUserID || !m.Visible() {
			continue
		}
		recipients[m.UserID] = struct{}{}
	}
	if payload.ParentRoomID != 0 {
		if parentMembers, err := b.memberships.ListForRoom(ctx, payload.ParentRoomID); err == nil {
			for _, m := range parentMembers {
				if m.UserID == skipUserID || m.Involvement != models.InvolvementEverything {
					continue
				}
				recipients[m.UserID] = struct{}{}
			}
		}
	}

	for userID := range recipients {
		b.publish(ctx, notifications.UserInboxThreadsChannel(userID), notifications.EventInboxThread, payload)
	}
}

func (b *Broadcaster) enqueuePush(ctx context.Context, room *models.Room, msg *models.Message, creator *models.User, userIDs []uint) {
	if b.tasks == nil || len(userIDs) == 0 {
		return
	}
	if b.flags != nil {
		eligible := userIDs[:0]
		for _, id := range userIDs {
			if b.flags.Enabled(webPushFlag, id) {
				eligible = append(eligible, id)
			}
		}
		userIDs = eligible
		if len(userIDs) == 0 {
			return
		}
	}
	task, err := push.NewMessagePushTask(push.MessagePushPayload{
		UserIDs:     userIDs,
		RoomID:      room.ID,
		MessageID:   msg.ID,
		RoomName:    room.Name,
		CreatorName: creator.Name,
		Excerpt:     excerpt(msg.Body),
	})
	if err != nil {
		middleware.Logger.ErrorContext(ctx, "push task build failed", slog.String("error", err.Error()))
		return
	}
	if _, err := b.tasks.EnqueueContext(ctx, task, asynq.Queue(b.queue)); err != nil {
		middleware.Logger.WarnContext(ctx, "push enqueue failed", slog.String("error", err.Error()))
		return
	}
	middleware.PushEnqueued.Inc()
}

// MessageUpdated refreshes the room stream and rewrites inbox mention
// cards. Cards are removed then re-appended so edits land as the newest
// version, and users dropped from the mention set lose their card.
func (b *Broadcaster) MessageUpdated(ctx context.Context, room *models.Room, msg *models.Message, mentionedIDs, removedIDs []uint) {
	b.publish(ctx, notifications.RoomChannel(room.ID), notifications.EventMessageUpdated,
		notifications.MessageEventPayload{Message: msg, RoomID: room.ID})

	for _, id := range removedIDs {
		b.publish(ctx, notifications.UserInboxMentionsChannel(id), notifications.EventInboxMentionGone,
			notifications.InboxMentionPayload{Message: msg, RoomID: room.ID})
	}
	for _, id := range mentionedIDs {
		b.publish(ctx, notifications.UserInboxMentionsChannel(id), notifications.EventInboxMentionGone,
			notifications.InboxMentionPayload{Message: msg, RoomID: room.ID})
		b.publish(ctx, notifications.UserInboxMentionsChannel(id), notifications.EventInboxMention,
			notifications.InboxMentionPayload{Message: msg, RoomID: room.ID})
	}
}

// MessageDeactivated announces a soft deletion. retargeted carries the
// memberships whose watermark moved; a nil UnreadAt means the room went
// fully read for that member.
func (b *Broadcaster) MessageDeactivated(ctx context.Context, room *models.Room, msg *models.Message, mentionedIDs []uint, retargeted []*models.Membership) {
	b.publish(ctx, notifications.RoomChannel(room.ID), notifications.EventMessageDeleted,
		notifications.MessageEventPayload{Message: msg, RoomID: room.ID})

	for _, m := range retargeted {
		if m.UnreadAt == nil {
			b.publish(ctx, notifications.UserReadsChannel(m.UserID), notifications.EventRoomRead,
				notifications.RoomStatePayload{RoomID: room.ID})
			continue
		}
		b.publish(ctx, notifications.UserUnreadsChannel(m.UserID), notifications.EventRoomUnread,
			notifications.RoomStatePayload{RoomID: room.ID, UnreadAt: m.UnreadAt.Format(time.RFC3339Nano)})
	}

	for _, id := range mentionedIDs {
		b.publish(ctx, notifications.UserInboxMentionsChannel(id), notifications.EventInboxMentionGone,
			notifications.InboxMentionPayload{Message: msg, RoomID: room.ID})
	}
}

// MessageReactivated restores a message into the room stream at its
// chronological position. afterMessageID names the active message it
// follows; zero means it is now the oldest.
func (b *Broadcaster) MessageReactivated(ctx context.Context, room *models.Room, msg *models.Message, afterMessageID uint) {
	b.publish(ctx, notifications.RoomChannel(room.ID), notifications.EventMessageRestored, struct {
		Message        *models.Message `json:"message"`
		RoomID         uint            `json:"room_id"`
		AfterMessageID uint            `json:"after_message_id"`
	}{Message: msg, RoomID: room.ID, AfterMessageID: afterMessageID})
}

// RoomRead tells the user's other sessions the room went read.
func (b *Broadcaster) RoomRead(ctx context.Context, roomID, userID uint) {
	b.publish(ctx, notifications.UserReadsChannel(userID), notifications.EventRoomRead,
		notifications.RoomStatePayload{RoomID: roomID})
}

// RoomUnread tells the user's sessions a room lit up.
func (b *Broadcaster) RoomUnread(ctx context.Context, roomID, userID uint, unreadAt time.Time) {
	b.publish(ctx, notifications.UserUnreadsChannel(userID), notifications.EventRoomUnread,
		notifications.RoomStatePayload{RoomID: roomID, UnreadAt: unreadAt.Format(time.RFC3339Nano)})
}

// InvolvementChanged announces the member's new involvement level.
func (b *Broadcaster) InvolvementChanged(ctx context.Context, roomID, userID uint, involvement models.Involvement) {
	b.publish(ctx, notifications.UserInvolvementsChannel(userID), notifications.EventInvolvementChanged,
		notifications.InvolvementPayload{RoomID: roomID, Involvement: involvement})
}

// MembershipGranted tells the user a room appeared in their sidebar.
func (b *Broadcaster) MembershipGranted(ctx context.Context, room *models.Room, userID uint) {
	b.publish(ctx, notifications.UserRoomsChannel(userID), notifications.EventMembershipGranted,
		notifications.MembershipPayload{RoomID: room.ID, RoomKind: room.Kind, RoomName: room.Name})
}

// MembershipRevoked tells the user a room left their sidebar.
func (b *Broadcaster) MembershipRevoked(ctx context.Context, room *models.Room, userID uint) {
	b.publish(ctx, notifications.UserRoomsChannel(userID), notifications.EventMembershipRevoked,
		notifications.MembershipPayload{RoomID: room.ID, RoomKind: room.Kind, RoomName: room.Name})
}

// Presence announces a member going fully online or offline in a room.
func (b *Broadcaster) Presence(ctx context.Context, roomID, userID uint, online bool) {
	b.publish(ctx, notifications.RoomChannel(roomID), notifications.EventPresence,
		notifications.PresencePayload{RoomID: roomID, UserID: userID, Online: online})
}

func excerpt(body string) string {
	runes := []rune(body)
	if len(runes) <= excerptLimit {
		return body
	}
	return string(runes[:excerptLimit]) + "…"
}
