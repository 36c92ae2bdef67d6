package models

import "time"

// Involvement is a membership's notification preference level.
type Involvement string

const (
	// InvolvementInvisible hides the room and silences all notifications.
	InvolvementInvisible Involvement = "invisible"
	// InvolvementNothing keeps the room visible but never notifies.
	InvolvementNothing Involvement = "nothing"
	// InvolvementMentions notifies only on direct mentions. The default.
	InvolvementMentions Involvement = "mentions"
	// InvolvementEverything notifies on every message in the room.
	InvolvementEverything Involvement = "everything"
)

// ConnectionTTL is the default for how long a presence heartbeat keeps a
// membership counted as connected. Deployments override it through
// PRESENCE_TTL_SECONDS; callers fall back here when given a zero TTL.
const ConnectionTTL = 60 * time.Second

// Membership joins a user to a room and carries the user's unread
// watermark, involvement level, and presence counters for that room.
type Membership struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	RoomID        uint        `gorm:"not null;uniqueIndex:idx_memberships_room_user" json:"room_id"`
	UserID        uint        `gorm:"not null;uniqueIndex:idx_memberships_room_user;index" json:"user_id"`
	Involvement   Involvement `gorm:"type:varchar(20);not null;default:'mentions'" json:"involvement"`
	UnreadAt      *time.Time  `json:"unread_at,omitempty"`
	ConnectedAt   *time.Time  `json:"connected_at,omitempty"`
	Connections   int         `gorm:"not null;default:0" json:"connections"`
	NotifiedUntil *time.Time  `json:"notified_until,omitempty"`
	Active        bool        `gorm:"not null;default:true" json:"active"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`

	Room *Room `gorm:"foreignKey:RoomID" json:"room,omitempty"`
	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// Read reports whether the member has no unread content.
func (m *Membership) Read() bool { return m.UnreadAt == nil }

// Unread reports whether the member has an unread watermark set.
func (m *Membership) Unread() bool { return m.UnreadAt != nil }

// Visible reports whether the room appears in the member's UI.
func (m *Membership) Visible() bool { return m.Involvement != InvolvementInvisible }

// ReceivesMentions reports whether direct mentions reach this member.
func (m *Membership) ReceivesMentions() bool {
	return m.Involvement == InvolvementMentions || m.Involvement == InvolvementEverything
}

// Connected reports whether the member has a live connection whose
// heartbeat is within ttl of now. A non-positive ttl falls back to
// ConnectionTTL.
func (m *Membership) Connected(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = ConnectionTTL
	}
	return m.Connections > 0 && m.ConnectedAt != nil && now.Sub(*m.ConnectedAt) < ttl
}

// NotificationEligible decides whether this member must be notified of
// a message, given whether the member was directly mentioned in it.
// Everyone-mentions only fire in open rooms; the creator is excluded by
// the caller when it assembles the notify-set.
func (m *Membership) NotificationEligible(msg *Message, room *Room, mentioned bool) bool {
	if m.Involvement == InvolvementEverything {
		return true
	}
	if !m.ReceivesMentions() {
		return false
	}
	if mentioned {
		return true
	}
	return msg.MentionsEveryone && room.Open()
}
