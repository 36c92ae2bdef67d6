package models

import "time"

// RoomKind distinguishes the four room variants.
type RoomKind string

const (
	// RoomKindOpen rooms automatically include every active user.
	RoomKindOpen RoomKind = "open"
	// RoomKindClosed rooms are invite-only.
	RoomKindClosed RoomKind = "closed"
	// RoomKindDirect rooms are created lazily per unique user set.
	RoomKindDirect RoomKind = "direct"
	// RoomKindThread rooms hang off a single parent message.
	RoomKindThread RoomKind = "thread"
)

// Room represents a chat room. Threads are rooms with a parent message.
type Room struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Name            string     `gorm:"size:100" json:"name"`
	Kind            RoomKind   `gorm:"type:varchar(20);not null;index" json:"kind"`
	Active          bool       `gorm:"not null;default:true" json:"active"`
	LastActiveAt    *time.Time `json:"last_active_at,omitempty"`
	MessagesCount   int        `gorm:"not null;default:0" json:"messages_count"`
	ParentMessageID *uint      `gorm:"uniqueIndex" json:"parent_message_id,omitempty"`
	CreatorID       uint       `gorm:"not null" json:"creator_id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	Creator       *User        `gorm:"foreignKey:CreatorID" json:"creator,omitempty"`
	ParentMessage *Message     `gorm:"foreignKey:ParentMessageID" json:"parent_message,omitempty"`
	Memberships   []Membership `gorm:"foreignKey:RoomID" json:"memberships,omitempty"`
	Messages      []Message    `gorm:"foreignKey:RoomID" json:"messages,omitempty"`
}

// Open reports whether the room is open to every active user.
func (r *Room) Open() bool { return r.Kind == RoomKindOpen }

// Closed reports whether the room is invite-only.
func (r *Room) Closed() bool { return r.Kind == RoomKindClosed }

// Direct reports whether the room is a direct-message room.
func (r *Room) Direct() bool { return r.Kind == RoomKindDirect }

// Thread reports whether the room is a thread under a parent message.
func (r *Room) Thread() bool { return r.Kind == RoomKindThread }

// DefaultInvolvement is the involvement granted on membership creation.
func (r *Room) DefaultInvolvement() Involvement {
	return InvolvementMentions
}
