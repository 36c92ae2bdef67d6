package models

import "time"

// Message represents a chat message. Deletion is a soft-deactivation so
// unread watermarks pointing at a message can be retargeted.
type Message struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	RoomID           uint      `gorm:"not null;index:idx_messages_room_created" json:"room_id"`
	CreatorID        uint      `gorm:"not null;index" json:"creator_id"`
	ClientMessageID  string    `gorm:"size:36;uniqueIndex;not null" json:"client_message_id"`
	Body             string    `gorm:"type:text;not null" json:"body"`
	MentionsEveryone bool      `gorm:"not null;default:false" json:"mentions_everyone"`
	Active           bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt        time.Time `gorm:"index:idx_messages_room_created" json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	Room     *Room     `gorm:"foreignKey:RoomID" json:"room,omitempty"`
	Creator  *User     `gorm:"foreignKey:CreatorID" json:"creator,omitempty"`
	Mentions []Mention `gorm:"foreignKey:MessageID" json:"mentions,omitempty"`
}

// Mention joins a message to a directly-mentioned user. No rows are
// written for @everyone messages; membership resolution expands those
// at read and broadcast time instead.
type Mention struct {
	MessageID uint `gorm:"primaryKey;autoIncrement:false" json:"message_id"`
	UserID    uint `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`

	Message *Message `gorm:"foreignKey:MessageID" json:"-"`
	User    *User    `gorm:"foreignKey:UserID" json:"-"`
}

// PushSubscription stores a browser push endpoint for a user, consumed
// by the background push worker.
type PushSubscription struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_push_user_endpoint" json:"user_id"`
	Endpoint  string    `gorm:"size:512;not null;uniqueIndex:idx_push_user_endpoint" json:"endpoint"`
	P256DHKey string    `gorm:"size:255" json:"p256dh_key"`
	AuthKey   string    `gorm:"size:255" json:"auth_key"`
	UserAgent string    `gorm:"size:255" json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}
