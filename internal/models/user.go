// Package models contains data structures for the application's domain models.
package models

import (
	"regexp"
	"strings"
	"time"
)

// UserRole defines a user's account-wide role.
type UserRole string

const (
	// UserRoleMember is the default role.
	UserRoleMember UserRole = "member"
	// UserRoleAdministrator can manage rooms, users, and mention @everyone.
	UserRoleAdministrator UserRole = "administrator"
	// UserRoleBot is an API-driven integration user.
	UserRoleBot UserRole = "bot"
)

// User represents an account member.
type User struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Name           string     `gorm:"size:100;not null" json:"name"`
	Email          string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordDigest string     `gorm:"size:255" json:"-"`
	Role           UserRole   `gorm:"type:varchar(20);not null;default:'member'" json:"role"`
	Bio            string     `gorm:"size:500" json:"bio"`
	Active         bool       `gorm:"not null;default:true" json:"active"`
	LastActiveAt   *time.Time `json:"last_active_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	Memberships []Membership `gorm:"foreignKey:UserID" json:"-"`
}

// Administrator reports whether the user holds the administrator role.
func (u *User) Administrator() bool {
	return u.Role == UserRoleAdministrator
}

// Bot reports whether the user is an integration bot.
func (u *User) Bot() bool {
	return u.Role == UserRoleBot
}

var handleStripper = regexp.MustCompile(`[^a-z0-9\-]`)

// Handle returns the lowercase, hyphenated token used to @mention this
// user in a message body, derived from the display name.
func (u *User) Handle() string {
	h := strings.ToLower(strings.TrimSpace(u.Name))
	h = strings.ReplaceAll(h, " ", "-")
	return handleStripper.ReplaceAllString(h, "")
}
