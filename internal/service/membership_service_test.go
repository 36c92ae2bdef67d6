package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campfire/internal/models"
)

func TestMembershipService_GrantIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "Alice", models.UserRoleMember)
	bob := env.createUser(t, "Bob", models.UserRoleMember)
	room := env.createRoom(t, "General", models.RoomKindClosed, alice.ID)

	require.NoError(t, env.memberSvc.Grant(ctx, room.ID, []uint{bob.ID}))
	require.NoError(t, env.memberships.SetInvolvement(ctx, room.ID, bob.ID, models.InvolvementEverything))

	// Re-granting keeps a single row and leaves the tuned involvement alone.
	require.NoError(t, env.memberSvc.Grant(ctx, room.ID, []uint{bob.ID}))

	var count int64
	require.NoError(t, env.db.Model(&models.Membership{}).
		Where("room_id = ? AND user_id = ?", room.ID, bob.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, models.InvolvementEverything, env.membership(t, room.ID, bob.ID).Involvement)
}

func TestMembershipService_GrantReactivates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "Alice", models.UserRoleMember)
	bob := env.createUser(t, "Bob", models.UserRoleMember)
	room := env.createRoom(t, "General", models.RoomKindClosed, alice.ID)

	require.NoError(t, env.memberSvc.Grant(ctx, room.ID, []uint{bob.ID}))
	require.NoError(t, env.memberSvc.Revoke(ctx, room.ID, []uint{bob.ID}))
	assert.False(t, env.membership(t, room.ID, bob.ID).Active)

	require.NoError(t, env.memberSvc.Grant(ctx, room.ID, []uint{bob.ID}))
	assert.True(t, env.membership(t, room.ID, bob.ID).Active)
}

func TestMembershipService_ThreadCascade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "Alice", models.UserRoleMember)
	bob := env.createUser(t, "Bob", models.UserRoleMember)
	room := env.createRoom(t, "General", models.RoomKindClosed, alice.ID)
	require.NoError(t, env.memberSvc.Grant(ctx, room.ID, []uint{alice.ID}))

	root, err := env.messageSvc.CreateMessage(ctx, CreateMessageInput{
		RoomID: room.ID, CreatorID: alice.ID, Body: "root",
	})
	require.NoError(t, err)
	thread, err := env.roomSvc.FindOrCreateThread(ctx, root.ID, alice.ID)
	require.NoError(t, err)

	t.Run("granting the parent grants existing threads", func(t *testing.T) {
		require.NoError(t, env.memberSvc.Grant(ctx, room.ID, []uint{bob.ID}))
		m := env.membership(t, thread.ID, bob.ID)
		assert.True(t, m.Active)
	})

	t.Run("revoking the parent revokes the threads", func(t *testing.T) {
		require.NoError(t, env.memberSvc.Revoke(ctx, room.ID, []uint{bob.ID}))
		assert.False(t, env.membership(t, room.ID, bob.ID).Active)
		assert.False(t, env.membership(t, thread.ID, bob.ID).Active)
	})
}

func TestMembershipService_RevokeClearsState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "Alice", models.UserRoleMember)
	bob := env.createUser(t, "Bob", models.UserRoleMember)
	room := env.createRoom(t, "General", models.RoomKindClosed, alice.ID)
	env.grant(t, room.ID, alice.ID, bob.ID)

	msg := env.seedMessage(t, room.ID, alice.ID, "unread", time.Now().Add(-time.Minute))
	require.NoError(t, env.memberships.SetUnreadAt(ctx, env.membership(t, room.ID, bob.ID).ID, &msg.CreatedAt))
	env.connect(t, room.ID, bob.ID)

	require.NoError(t, env.memberSvc.Revoke(ctx, room.ID, []uint{bob.ID}))

	m := env.membership(t, room.ID, bob.ID)
	assert.False(t, m.Active)
	assert.Nil(t, m.UnreadAt)
	assert.Zero(t, m.Connections)
	assert.Nil(t, m.ConnectedAt)
}

func TestMembershipService_Revise(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "Alice", models.UserRoleMember)
	bob := env.createUser(t, "Bob", models.UserRoleMember)
	carol := env.createUser(t, "Carol", models.UserRoleMember)
	room := env.createRoom(t, "General", models.RoomKindClosed, alice.ID)
	env.grant(t, room.ID, alice.ID, bob.ID)

	require.NoError(t, env.memberSvc.Revise(ctx, room.ID, []uint{carol.ID}, []uint{bob.ID}))

	assert.True(t, env.membership(t, room.ID, carol.ID).Active)
	assert.False(t, env.membership(t, room.ID, bob.ID).Active)
}

func TestMembershipService_SetInvolvement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "Alice", models.UserRoleMember)
	room := env.createRoom(t, "General", models.RoomKindOpen, alice.ID)
	env.grant(t, room.ID, alice.ID)

	require.NoError(t, env.memberSvc.SetInvolvement(ctx, room.ID, alice.ID, models.InvolvementEverything))
	assert.Equal(t, models.InvolvementEverything, env.membership(t, room.ID, alice.ID).Involvement)

	t.Run("unknown level rejected", func(t *testing.T) {
		err := env.memberSvc.SetInvolvement(ctx, room.ID, alice.ID, models.Involvement("loud"))
		require.Error(t, err)
		assert.True(t, models.IsCode(err, models.ErrCodeValidation))
	})

	t.Run("missing membership rejected", func(t *testing.T) {
		stranger := env.createUser(t, "Stranger", models.UserRoleMember)
		err := env.memberSvc.SetInvolvement(ctx, room.ID, stranger.ID, models.InvolvementNothing)
		require.Error(t, err)
		assert.True(t, models.IsCode(err, models.ErrCodeNotFound))
	})
}

func TestMembershipService_ReconcileOpenRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "Alice", models.UserRoleMember)
	bob := env.createUser(t, "Bob", models.UserRoleMember)
	room := env.createRoom(t, "Town Hall", models.RoomKindOpen, alice.ID)
	env.grant(t, room.ID, alice.ID)

	inactive := env.createUser(t, "Gone", models.UserRoleMember)
	require.NoError(t, env.users.Deactivate(ctx, inactive.ID))

	require.NoError(t, env.memberSvc.ReconcileOpenRoom(ctx, room.ID))

	assert.True(t, env.membership(t, room.ID, bob.ID).Active)
	_, err := env.memberships.Get(ctx, room.ID, inactive.ID)
	require.Error(t, err, "deactivated users are not auto-granted")

	// Running again with full coverage changes nothing.
	require.NoError(t, env.memberSvc.ReconcileOpenRoom(ctx, room.ID))

	t.Run("closed rooms rejected", func(t *testing.T) {
		closed := env.createRoom(t, "Private", models.RoomKindClosed, alice.ID)
		err := env.memberSvc.ReconcileOpenRoom(ctx, closed.ID)
		require.Error(t, err)
		assert.True(t, models.IsCode(err, models.ErrCodeValidation))
	})
}
