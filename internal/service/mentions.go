// Package service provides the application's business logic: rooms,
// memberships, messages, unread tracking, and inbox aggregation.
package service

import (
	"context"
	"regexp"
	"strings"

	"campfire/internal/models"
	"campfire/internal/repository"
)

// everyoneHandle is the sentinel token that expands to all room members.
const everyoneHandle = "everyone"

// The @ must sit at the start of the body or after a non-word rune, so
// email addresses like bob@example.com never read as a mention.
var mentionPattern = regexp.MustCompile(`(?:^|[^a-zA-Z0-9_])@([a-zA-Z0-9][a-zA-Z0-9\-]*)`)

// MentionResolution is the outcome of scanning a message body: the room
// members it names directly, and whether it addresses everyone. Everyone
// messages carry no per-user rows; expansion happens at broadcast time.
type MentionResolution struct {
	UserIDs  []uint
	Everyone bool
}

// MentionResolver turns @handles in message bodies into notify-sets. It
// validates @everyone use before any write happens, so a rejected message
// leaves nothing behind.
type MentionResolver struct {
	memberships repository.MembershipRepository
	messages    repository.MessageRepository
}

// NewMentionResolver returns a new MentionResolver.
func NewMentionResolver(memberships repository.MembershipRepository, messages repository.MessageRepository) *MentionResolver {
	return &MentionResolver{memberships: memberships, messages: messages}
}

// ParseHandles extracts the distinct lowercased @handle tokens from a body.
func ParseHandles(body string) []string {
	matches := mentionPattern.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	handles := make([]string, 0, len(matches))
	for _, m := range matches {
		h := strings.ToLower(m[1])
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		handles = append(handles, h)
	}
	return handles
}

// Resolve scans the body and maps handles onto current room members.
// Handles that match nobody in the room are silently dropped. @everyone
// is only legal for administrators in open rooms; anything else is a
// validation error and the caller must not persist the message.
func (r *MentionResolver) Resolve(ctx context.Context, room *models.Room, creator *models.User, body string) (*MentionResolution, error) {
	handles := ParseHandles(body)
	if len(handles) == 0 {
		return &MentionResolution{}, nil
	}

	res := &MentionResolution{}
	wantsEveryone := false
	for _, h := range handles {
		if h == everyoneHandle {
			wantsEveryone = true
			break
		}
	}
	if wantsEveryone {
		if !room.Open() {
			return nil, models.NewValidationError("@everyone can only be used in open rooms")
		}
		if !creator.Administrator() {
			return nil, models.NewValidationError("Only administrators can mention @everyone")
		}
		res.Everyone = true
	}

	memberships, err := r.memberships.ListForRoomWithUsers(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	byHandle := make(map[string]uint, len(memberships))
	for _, m := range memberships {
		if m.User == nil || !m.User.Active {
			continue
		}
		byHandle[m.User.Handle()] = m.UserID
	}

	seen := make(map[uint]struct{}, len(handles))
	for _, h := range handles {
		if h == everyoneHandle {
			continue
		}
		uid, ok := byHandle[h]
		if !ok || uid == creator.ID {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		res.UserIDs = append(res.UserIDs, uid)
	}

	return res, nil
}

// NotifySet computes the memberships that must receive a notification for
// the message: direct mentionees and "everything"-involved members of the
// room, the @everyone expansion in open rooms, and, for thread rooms, the
// parent room's "everything" members. The creator is never included.
func (r *MentionResolver) NotifySet(ctx context.Context, room *models.Room, msg *models.Message, creatorID uint, mentionedIDs []uint) ([]*models.Membership, error) {
	mentioned := make(map[uint]bool, len(mentionedIDs))
	for _, id := range mentionedIDs {
		mentioned[id] = true
	}

	memberships, err := r.memberships.ListForRoom(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	var set []*models.Membership
	seen := make(map[uint]struct{}, len(memberships))
	for _, m := range memberships {
		if m.UserID == creatorID {
			continue
		}
		if !m.NotificationEligible(msg, room, mentioned[m.UserID]) {
			continue
		}
		seen[m.UserID] = struct{}{}
		set = append(set, m)
	}

	if room.Thread() && room.ParentMessageID != nil {
		parent, err := r.messages.GetByID(ctx, *room.ParentMessageID)
		if err != nil {
			// Parent raced a delete; thread members still get notified.
			return set, nil
		}
		parentMembers, err := r.memberships.ListForRoom(ctx, parent.RoomID)
		if err != nil {
			return set, nil
		}
		for _, m := range parentMembers {
			if m.UserID == creatorID || m.Involvement != models.InvolvementEverything {
				continue
			}
			if _, dup := seen[m.UserID]; dup {
				continue
			}
			seen[m.UserID] = struct{}{}
			set = append(set, m)
		}
	}

	return set, nil
}

// EnsureReceivesMentions upgrades every target without a mention-capable
// involvement to "mentions", so a direct address always lands in their
// inbox. Returns the user ids that were upgraded.
func (r *MentionResolver) EnsureReceivesMentions(ctx context.Context, room *models.Room, msg *models.Message, creatorID uint, mentionedIDs []uint) ([]uint, error) {
	targets := mentionedIDs
	if msg.MentionsEveryone {
		memberIDs, err := r.memberships.MemberUserIDs(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		targets = memberIDs
	}

	var upgraded []uint
	for _, uid := range targets {
		if uid == creatorID {
			continue
		}
		m, err := r.memberships.Get(ctx, room.ID, uid)
		if err != nil {
			continue
		}
		if m.ReceivesMentions() {
			continue
		}
		if err := r.memberships.SetInvolvement(ctx, room.ID, uid, models.InvolvementMentions); err != nil {
			return upgraded, err
		}
		upgraded = append(upgraded, uid)
	}
	return upgraded, nil
}
