package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campfire/internal/models"
)

func TestUnreadLedger_ReadUntil(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "Alice", models.UserRoleMember)
	bob := env.createUser(t, "Bob", models.UserRoleMember)
	room := env.createRoom(t, "General", models.RoomKindOpen, alice.ID)
	env.grant(t, room.ID, alice.ID, bob.ID)

	base := time.Now().Add(-30 * time.Minute).Truncate(time.Millisecond)
	m1 := env.seedMessage(t, room.ID, alice.ID, "one", base)
	m2 := env.seedMessage(t, room.ID, alice.ID, "two", base.Add(time.Minute))
	m3 := env.seedMessage(t, room.ID, alice.ID, "three", base.Add(2*time.Minute))

	mark := env.membership(t, room.ID, bob.ID)
	require.NoError(t, env.memberships.SetUnreadAt(ctx, mark.ID, &m1.CreatedAt))

	t.Run("advances to next unread message", func(t *testing.T) {
		change, err := env.ledger.ReadUntil(ctx, room.ID, bob.ID, m1.CreatedAt)
		require.NoError(t, err)
		assert.True(t, change.Changed)
		require.NotNil(t, change.UnreadAt)
		assert.WithinDuration(t, m2.CreatedAt, *change.UnreadAt, time.Millisecond)
	})

	t.Run("earlier watermark is a no-op", func(t *testing.T) {
		change, err := env.ledger.ReadUntil(ctx, room.ID, bob.ID, m1.CreatedAt.Add(-time.Minute))
		require.NoError(t, err)
		assert.False(t, change.Changed)

		m := env.membership(t, room.ID, bob.ID)
		require.NotNil(t, m.UnreadAt)
		assert.WithinDuration(t, m2.CreatedAt, *m.UnreadAt, time.Millisecond)
	})

	t.Run("reading past the newest message clears the watermark", func(t *testing.T) {
		change, err := env.ledger.ReadUntil(ctx, room.ID, bob.ID, m3.CreatedAt)
		require.NoError(t, err)
		assert.True(t, change.Changed)
		assert.Nil(t, change.UnreadAt)
		assert.True(t, env.membership(t, room.ID, bob.ID).Read())
	})

	t.Run("already read is a no-op", func(t *testing.T) {
		change, err := env.ledger.ReadUntil(ctx, room.ID, bob.ID, time.Now())
		require.NoError(t, err)
		assert.False(t, change.Changed)
	})
}

// Sequential read_until calls never move the watermark backward.
func TestUnreadLedger_MonotonicRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "Alice", models.UserRoleMember)
	bob := env.createUser(t, "Bob", models.UserRoleMember)
	room := env.createRoom(t, "General", models.RoomKindOpen, alice.ID)
	env.grant(t, room.ID, alice.ID, bob.ID)

	base := time.Now().Add(-30 * time.Minute).Truncate(time.Millisecond)
	msgs := make([]*models.Message, 5)
	for i := range msgs {
		msgs[i] = env.seedMessage(t, room.ID, alice.ID, "msg", base.Add(time.Duration(i)*time.Minute))
	}

	mark := env.membership(t, room.ID, bob.ID)
	require.NoError(t, env.memberships.SetUnreadAt(ctx, mark.ID, &msgs[0].CreatedAt))

	_, err := env.ledger.ReadUntil(ctx, room.ID, bob.ID, msgs[2].CreatedAt)
	require.NoError(t, err)
	after2 := env.membership(t, room.ID, bob.ID)
	require.NotNil(t, after2.UnreadAt)

	// A later read_until with an earlier bound must not retreat.
	_, err = env.ledger.ReadUntil(ctx, room.ID, bob.ID, msgs[1].CreatedAt)
	require.NoError(t, err)
	after1 := env.membership(t, room.ID, bob.ID)
	require.NotNil(t, after1.UnreadAt)
	assert.False(t, after1.UnreadAt.Before(*after2.UnreadAt))
}

func TestUnreadLedger_MarkUnread(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "Alice", models.UserRoleMember)
	bob := env.createUser(t, "Bob", models.UserRoleMember)
	room := env.createRoom(t, "General", models.RoomKindOpen, alice.ID)
	env.grant(t, room.ID, alice.ID, bob.ID)

	base := time.Now().Add(-30 * time.Minute).Truncate(time.Millisecond)
	msg := env.seedMessage(t, room.ID, alice.ID, "flag me", base)

	// Force-unread works even when the membership is fully read.
	change, err := env.ledger.MarkUnread(ctx, room.ID, bob.ID, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, change.UnreadAt)
	assert.WithinDuration(t, msg.CreatedAt, *change.UnreadAt, time.Millisecond)

	m := env.membership(t, room.ID, bob.ID)
	require.NotNil(t, m.UnreadAt)

	t.Run("wrong room rejected", func(t *testing.T) {
		other := env.createRoom(t, "Other", models.RoomKindOpen, alice.ID)
		env.grant(t, other.ID, bob.ID)
		_, err := env.ledger.MarkUnread(ctx, other.ID, bob.ID, msg.ID)
		require.Error(t, err)
		assert.True(t, models.IsCode(err, models.ErrCodeValidation))
	})
}

// The ledger's presence TTL, not a package constant, decides whether a
// member's heartbeat is fresh enough to suppress the unread stamp.
func TestUnreadLedger_StampHonorsPresenceTTL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "Alice", models.UserRoleMember)
	bob := env.createUser(t, "Bob", models.UserRoleMember)
	room := env.createRoom(t, "General", models.RoomKindOpen, alice.ID)
	env.grant(t, room.ID, alice.ID, bob.ID)

	// Bob's heartbeat is 30s old. Fresh against the 60s package default,
	// stale against a 5s TTL.
	heartbeat := time.Now().Add(-30 * time.Second)
	require.NoError(t, env.db.Model(&models.Membership{}).
		Where("room_id = ? AND user_id = ?", room.ID, bob.ID).
		Updates(map[string]interface{}{"connections": 1, "connected_at": heartbeat}).Error)

	msg := env.seedMessage(t, room.ID, alice.ID, "ping", time.Now())

	tight := NewUnreadLedger(env.db, env.memberships, env.messages, 5*time.Second, time.Hour)
	stamped, err := tight.StampUnreadOnMessage(ctx, msg)
	require.NoError(t, err)
	require.Len(t, stamped, 1)
	assert.Equal(t, bob.ID, stamped[0].UserID)

	// Reset and retry with a TTL that still covers the heartbeat.
	require.NoError(t, env.memberships.SetUnreadAt(ctx, env.membership(t, room.ID, bob.ID).ID, nil))
	generous := NewUnreadLedger(env.db, env.memberships, env.messages, 5*time.Minute, time.Hour)
	stamped, err = generous.StampUnreadOnMessage(ctx, msg)
	require.NoError(t, err)
	assert.Empty(t, stamped)
}

// Deleting the message a watermark points at retargets it to the next
// active message, or clears it when nothing newer exists.
func TestUnreadLedger_DeletionRetarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "Alice", models.UserRoleAdministrator)
	bob := env.createUser(t, "Bob", models.UserRoleMember)
	carol := env.createUser(t, "Carol", models.UserRoleMember)
	room := env.createRoom(t, "General", models.RoomKindOpen, alice.ID)
	env.grant(t, room.ID, alice.ID, bob.ID, carol.ID)

	base := time.Now().Add(-30 * time.Minute).Truncate(time.Millisecond)
	target := env.seedMessage(t, room.ID, alice.ID, "doomed", base)
	later := env.seedMessage(t, room.ID, alice.ID, "later", base.Add(time.Minute))

	// Both watermarks point at the doomed message.
	require.NoError(t, env.memberships.SetUnreadAt(ctx, env.membership(t, room.ID, bob.ID).ID, &target.CreatedAt))
	require.NoError(t, env.memberships.SetUnreadAt(ctx, env.membership(t, room.ID, carol.ID).ID, &target.CreatedAt))

	require.NoError(t, env.messageSvc.DeactivateMessage(ctx, target.ID, alice.ID))

	bobM := env.membership(t, room.ID, bob.ID)
	require.NotNil(t, bobM.UnreadAt)
	assert.WithinDuration(t, later.CreatedAt, *bobM.UnreadAt, time.Millisecond)

	carolM := env.membership(t, room.ID, carol.ID)
	require.NotNil(t, carolM.UnreadAt)
	assert.WithinDuration(t, later.CreatedAt, *carolM.UnreadAt, time.Millisecond)

	// Now the watermark points at the last remaining message; deleting it
	// transitions to fully read.
	require.NoError(t, env.messageSvc.DeactivateMessage(ctx, later.ID, alice.ID))
	assert.True(t, env.membership(t, room.ID, bob.ID).Read())
	assert.True(t, env.membership(t, room.ID, carol.ID).Read())
}

func TestUnreadLedger_ClearInbox(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "Alice", models.UserRoleMember)
	bob := env.createUser(t, "Bob", models.UserRoleMember)

	mentionRoom := env.createRoom(t, "Mentions Only", models.RoomKindOpen, alice.ID)
	mixedRoom := env.createRoom(t, "Mixed", models.RoomKindOpen, alice.ID)
	env.grant(t, mentionRoom.ID, alice.ID, bob.ID)
	env.grant(t, mixedRoom.ID, alice.ID, bob.ID)

	base := time.Now().Add(-20 * time.Minute).Truncate(time.Millisecond)

	// mentionRoom's unread window holds only a message mentioning bob.
	mentionMsg := env.seedMessage(t, mentionRoom.ID, alice.ID, "hey @bob", base)
	require.NoError(t, env.db.Create(&models.Mention{MessageID: mentionMsg.ID, UserID: bob.ID}).Error)
	require.NoError(t, env.memberships.SetUnreadAt(ctx, env.membership(t, mentionRoom.ID, bob.ID).ID, &mentionMsg.CreatedAt))

	// mixedRoom's window has a non-mention message after the watermark.
	mixedStart := env.seedMessage(t, mixedRoom.ID, alice.ID, "plain", base)
	env.seedMessage(t, mixedRoom.ID, alice.ID, "another plain", base.Add(time.Minute))
	require.NoError(t, env.memberships.SetUnreadAt(ctx, env.membership(t, mixedRoom.ID, bob.ID).ID, &mixedStart.CreatedAt))

	// Messages watermark predates everything, so step one clears nothing.
	// The mentions watermark covers both windows, but only the
	// mention-only room may use it.
	in := ClearInboxInput{
		MessagesLoadedUntil:      base.Add(-time.Minute),
		NotificationsLoadedUntil: base.Add(-time.Minute),
		MentionsLoadedUntil:      base.Add(5 * time.Minute),
	}
	_, err := env.ledger.ClearInbox(ctx, bob.ID, in)
	require.NoError(t, err)

	assert.True(t, env.membership(t, mentionRoom.ID, bob.ID).Read(),
		"mention-only window should clear via the mentions watermark")
	assert.True(t, env.membership(t, mixedRoom.ID, bob.ID).Unread(),
		"mixed window must keep its unread state")
}

func TestUnreadLedger_ClearInbox_StaleWatermarkCollapsesToNow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "Alice", models.UserRoleMember)
	bob := env.createUser(t, "Bob", models.UserRoleMember)
	room := env.createRoom(t, "General", models.RoomKindOpen, alice.ID)
	env.grant(t, room.ID, alice.ID, bob.ID)

	old := time.Now().Add(-3 * time.Hour).Truncate(time.Millisecond)
	msg := env.seedMessage(t, room.ID, alice.ID, "ancient", old)
	require.NoError(t, env.memberships.SetUnreadAt(ctx, env.membership(t, room.ID, bob.ID).ID, &msg.CreatedAt))

	// A two-hour-old client watermark is stale; clearing falls back to
	// now and reads everything.
	_, err := env.ledger.ClearInbox(ctx, bob.ID, ClearInboxInput{
		MessagesLoadedUntil: time.Now().Add(-2 * time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, env.membership(t, room.ID, bob.ID).Read())
}
