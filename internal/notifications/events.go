// Package notifications provides real-time event delivery over websockets
// backed by Redis pub/sub.
package notifications

import (
	"encoding/json"
	"fmt"
	"strconv"

	"campfire/internal/models"
)

// Event types carried on room and user channels.
const (
	EventMessageCreated     = "message_created"
	EventMessageUpdated     = "message_updated"
	EventMessageDeleted     = "message_deleted"
	EventMessageRestored    = "message_restored"
	EventNotification       = "notification"
	EventInboxMention       = "inbox_mention"
	EventInboxMentionGone   = "inbox_mention_removed"
	EventInboxThread        = "inbox_thread"
	EventRoomUnread         = "room_unread"
	EventRoomRead           = "room_read"
	EventInvolvementChanged = "involvement_changed"
	EventMembershipGranted  = "membership_granted"
	EventMembershipRevoked  = "membership_revoked"
	EventPresence           = "presence"
	EventRoomsBadge         = "rooms_badge"
)

// Event is the envelope every realtime payload travels in. Channel names
// the logical stream so clients can route without inspecting the payload.
type Event struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent builds an envelope, marshaling the payload.
func NewEvent(channel, eventType string, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return &Event{Channel: channel, Type: eventType, Payload: raw}, nil
}

// Encode serializes the full envelope for the wire.
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// RoomChannel is the stream every member watching a room receives.
func RoomChannel(roomID uint) string {
	return "room:" + strconv.FormatUint(uint64(roomID), 10) + ":messages"
}

// UserChannel carries notification pings for a single user.
func UserChannel(userID uint) string {
	return "user:" + strconv.FormatUint(uint64(userID), 10) + ":notifications"
}

// UserInboxMentionsChannel carries inbox mention card updates.
func UserInboxMentionsChannel(userID uint) string {
	return "user:" + strconv.FormatUint(uint64(userID), 10) + ":inbox:mentions"
}

// UserInboxThreadsChannel carries inbox thread card updates.
func UserInboxThreadsChannel(userID uint) string {
	return "user:" + strconv.FormatUint(uint64(userID), 10) + ":inbox:threads"
}

// UserReadsChannel tells a user's other sessions a room went read.
func UserReadsChannel(userID uint) string {
	return "user:" + strconv.FormatUint(uint64(userID), 10) + ":reads"
}

// UserUnreadsChannel tells a user's sessions a room went unread.
func UserUnreadsChannel(userID uint) string {
	return "user:" + strconv.FormatUint(uint64(userID), 10) + ":unreads"
}

// UserInvolvementsChannel carries involvement changes for a user.
func UserInvolvementsChannel(userID uint) string {
	return "user:" + strconv.FormatUint(uint64(userID), 10) + ":involvements"
}

// UserRoomsChannel carries membership grant/revoke updates for a user.
func UserRoomsChannel(userID uint) string {
	return "user:" + strconv.FormatUint(uint64(userID), 10) + ":rooms"
}

// RoomsBadgeChannel is the shared room-list badge stream every connected
// client follows, so sidebars refresh without per-room subscriptions.
func RoomsBadgeChannel() string {
	return "rooms:badge"
}

// MessageEventPayload is the room-stream view of a message.
type MessageEventPayload struct {
	Message *models.Message `json:"message"`
	RoomID  uint            `json:"room_id"`
}

// RoomStatePayload marks a room read or unread for one of a user's sessions.
type RoomStatePayload struct {
	RoomID   uint   `json:"room_id"`
	UnreadAt string `json:"unread_at,omitempty"`
}

// NotificationPayload is the ping behind the browser notification.
type NotificationPayload struct {
	RoomID      uint   `json:"room_id"`
	MessageID   uint   `json:"message_id"`
	RoomName    string `json:"room_name"`
	CreatorName string `json:"creator_name"`
	Excerpt     string `json:"excerpt"`
}

// InboxMentionPayload updates or removes a mention card in the inbox.
type InboxMentionPayload struct {
	Message *models.Message `json:"message,omitempty"`
	RoomID  uint            `json:"room_id"`
}

// InboxThreadPayload refreshes a thread card with its current counts.
type InboxThreadPayload struct {
	ThreadID      uint   `json:"thread_id"`
	ParentRoomID  uint   `json:"parent_room_id"`
	Title         string `json:"title"`
	MessagesCount int    `json:"messages_count"`
	LastActiveAt  string `json:"last_active_at,omitempty"`
}

// InvolvementPayload announces a member's new involvement in a room.
type InvolvementPayload struct {
	RoomID      uint               `json:"room_id"`
	Involvement models.Involvement `json:"involvement"`
}

// PresencePayload announces a member going online or offline in a room.
type PresencePayload struct {
	RoomID uint `json:"room_id"`
	UserID uint `json:"user_id"`
	Online bool `json:"online"`
}

// RoomsBadgePayload refreshes one room's badge on every client's list.
type RoomsBadgePayload struct {
	RoomID        uint   `json:"room_id"`
	MessagesCount int    `json:"messages_count"`
	CreatedAt     string `json:"created_at"`
}

// MembershipPayload announces a grant or revoke to the affected user.
type MembershipPayload struct {
	RoomID   uint            `json:"room_id"`
	RoomKind models.RoomKind `json:"room_kind"`
	RoomName string          `json:"room_name"`
}
