package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campfire/internal/models"
)

func TestInboxService_Mentions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "Alice", models.UserRoleMember)
	bob := env.createUser(t, "Bob", models.UserRoleMember)
	room := env.createRoom(t, "General", models.RoomKindOpen, alice.ID)
	env.grant(t, room.ID, alice.ID, bob.ID)

	_, err := env.messageSvc.CreateMessage(ctx, CreateMessageInput{
		RoomID: room.ID, CreatorID: alice.ID, Body: "hey @bob take a look",
	})
	require.NoError(t, err)
	_, err = env.messageSvc.CreateMessage(ctx, CreateMessageInput{
		RoomID: room.ID, CreatorID: bob.ID, Body: "note to self @bob",
	})
	require.NoError(t, err)

	mentions, err := env.inboxSvc.Mentions(ctx, bob.ID, 50)
	require.NoError(t, err)
	require.Len(t, mentions, 1, "self-mentions never appear")
	assert.Equal(t, alice.ID, mentions[0].CreatorID)
	assert.Contains(t, mentions[0].Body, "take a look")
}

func TestInboxService_Threads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "Alice", models.UserRoleMember)
	bob := env.createUser(t, "Bob", models.UserRoleMember)
	carol := env.createUser(t, "Carol", models.UserRoleMember)
	room := env.createRoom(t, "General", models.RoomKindOpen, alice.ID)
	env.grant(t, room.ID, alice.ID, bob.ID, carol.ID)

	parent, err := env.messageSvc.CreateMessage(ctx, CreateMessageInput{
		RoomID: room.ID, CreatorID: alice.ID, Body: "root",
	})
	require.NoError(t, err)
	thread, err := env.roomSvc.FindOrCreateThread(ctx, parent.ID, alice.ID)
	require.NoError(t, err)

	t.Run("empty threads stay hidden", func(t *testing.T) {
		threads, err := env.inboxSvc.Threads(ctx, alice.ID)
		require.NoError(t, err)
		assert.Empty(t, threads)
	})

	_, err = env.messageSvc.CreateMessage(ctx, CreateMessageInput{
		RoomID: thread.ID, CreatorID: alice.ID, Body: "thread reply",
	})
	require.NoError(t, err)

	t.Run("thread members see the thread", func(t *testing.T) {
		threads, err := env.inboxSvc.Threads(ctx, alice.ID)
		require.NoError(t, err)
		require.Len(t, threads, 1)
		assert.Equal(t, thread.ID, threads[0].ID)
	})

	t.Run("non-members without everything see nothing", func(t *testing.T) {
		threads, err := env.inboxSvc.Threads(ctx, carol.ID)
		require.NoError(t, err)
		assert.Empty(t, threads)
	})

	t.Run("everything on the parent room surfaces its threads", func(t *testing.T) {
		require.NoError(t, env.memberships.SetInvolvement(ctx, room.ID, carol.ID, models.InvolvementEverything))
		threads, err := env.inboxSvc.Threads(ctx, carol.ID)
		require.NoError(t, err)
		require.Len(t, threads, 1)
		assert.Equal(t, thread.ID, threads[0].ID)
	})
}

func TestInboxService_Feeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "Alice", models.UserRoleMember)
	bob := env.createUser(t, "Bob", models.UserRoleMember)
	loud := env.createRoom(t, "Loud", models.RoomKindOpen, alice.ID)
	quiet := env.createRoom(t, "Quiet", models.RoomKindOpen, alice.ID)
	env.grant(t, loud.ID, alice.ID, bob.ID)
	env.grant(t, quiet.ID, alice.ID, bob.ID)
	require.NoError(t, env.memberships.SetInvolvement(ctx, loud.ID, bob.ID, models.InvolvementEverything))

	_, err := env.messageSvc.CreateMessage(ctx, CreateMessageInput{
		RoomID: loud.ID, CreatorID: alice.ID, Body: "loud one",
	})
	require.NoError(t, err)
	_, err = env.messageSvc.CreateMessage(ctx, CreateMessageInput{
		RoomID: quiet.ID, CreatorID: alice.ID, Body: "quiet one",
	})
	require.NoError(t, err)

	t.Run("notifications follow everything rooms only", func(t *testing.T) {
		msgs, err := env.inboxSvc.Notifications(ctx, bob.ID, 50)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "loud one", msgs[0].Body)
	})

	t.Run("the messages feed spans every visible room", func(t *testing.T) {
		msgs, err := env.inboxSvc.Messages(ctx, bob.ID, 50)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
	})

	t.Run("own messages are excluded", func(t *testing.T) {
		msgs, err := env.inboxSvc.Messages(ctx, alice.ID, 50)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestInboxService_Clear(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "Alice", models.UserRoleMember)
	bob := env.createUser(t, "Bob", models.UserRoleMember)
	room := env.createRoom(t, "General", models.RoomKindOpen, alice.ID)
	env.grant(t, room.ID, alice.ID, bob.ID)

	base := time.Now().Add(-10 * time.Minute).Truncate(time.Millisecond)
	msg := env.seedMessage(t, room.ID, alice.ID, "unread", base)
	require.NoError(t, env.memberships.SetUnreadAt(ctx, env.membership(t, room.ID, bob.ID).ID, &msg.CreatedAt))

	require.NoError(t, env.inboxSvc.Clear(ctx, bob.ID, ClearInboxInput{
		MessagesLoadedUntil: base.Add(time.Minute),
	}))
	assert.True(t, env.membership(t, room.ID, bob.ID).Read())
}
