package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campfire/internal/models"
)

func TestRoomLifecycle(t *testing.T) {
	_, app := newTestServer(t)

	_, aliceToken := signup(t, app, "Alice", "alice@example.com")
	bobID, bobToken := signup(t, app, "Bob", "bob@example.com")

	resp := doJSON(t, app, http.MethodPost, "/api/rooms", aliceToken, CreateRoomRequest{
		Name: "Watercooler", Kind: "closed", MemberIDs: []uint{bobID},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	room := decodeBody[models.Room](t, resp)
	assert.Equal(t, models.RoomKindClosed, room.Kind)

	t.Run("both members see the room", func(t *testing.T) {
		for _, token := range []string{aliceToken, bobToken} {
			resp := doJSON(t, app, http.MethodGet,
				fmt.Sprintf("/api/rooms/%d", room.ID), token, nil)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}
	})

	t.Run("outsiders cannot see it", func(t *testing.T) {
		_, carolToken := signup(t, app, "Carol", "carol@example.com")
		resp := doJSON(t, app, http.MethodGet,
			fmt.Sprintf("/api/rooms/%d", room.ID), carolToken, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("blank name rejected", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/api/rooms", aliceToken, CreateRoomRequest{
			Name: "", Kind: "closed",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("revise memberships", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPut,
			fmt.Sprintf("/api/rooms/%d/memberships", room.ID), aliceToken,
			ReviseMembershipsRequest{Revoke: []uint{bobID}})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doJSON(t, app, http.MethodGet,
			fmt.Sprintf("/api/rooms/%d", room.ID), bobToken, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = doJSON(t, app, http.MethodPut,
			fmt.Sprintf("/api/rooms/%d/memberships", room.ID), aliceToken,
			ReviseMembershipsRequest{Grant: []uint{bobID}})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("open rooms cannot be revised", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/api/rooms", aliceToken, CreateRoomRequest{
			Name: "All Hands", Kind: "open",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		open := decodeBody[models.Room](t, resp)

		resp = doJSON(t, app, http.MethodPut,
			fmt.Sprintf("/api/rooms/%d/memberships", open.ID), aliceToken,
			ReviseMembershipsRequest{Grant: []uint{bobID}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("set involvement", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPut,
			fmt.Sprintf("/api/rooms/%d/involvement", room.ID), bobToken,
			InvolvementRequest{Involvement: "everything"})
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doJSON(t, app, http.MethodPut,
			fmt.Sprintf("/api/rooms/%d/involvement", room.ID), bobToken,
			InvolvementRequest{Involvement: "loud"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("presence starts empty", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet,
			fmt.Sprintf("/api/rooms/%d/presence", room.ID), aliceToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody[struct {
			UserIDs []uint `json:"user_ids"`
		}](t, resp)
		assert.Empty(t, body.UserIDs)
	})

	t.Run("only the creator deletes the room", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodDelete,
			fmt.Sprintf("/api/rooms/%d", room.ID), bobToken, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = doJSON(t, app, http.MethodDelete,
			fmt.Sprintf("/api/rooms/%d", room.ID), aliceToken, nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		// The cascade deactivates every membership with the room.
		resp = doJSON(t, app, http.MethodGet,
			fmt.Sprintf("/api/rooms/%d", room.ID), aliceToken, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestDirectRoomsViaAPI(t *testing.T) {
	_, app := newTestServer(t)

	_, aliceToken := signup(t, app, "Alice", "alice@example.com")
	bobID, _ := signup(t, app, "Bob", "bob@example.com")

	resp := doJSON(t, app, http.MethodPost, "/api/rooms/direct", aliceToken,
		DirectRoomRequest{UserIDs: []uint{bobID}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decodeBody[models.Room](t, resp)
	assert.Equal(t, models.RoomKindDirect, first.Kind)

	resp = doJSON(t, app, http.MethodPost, "/api/rooms/direct", aliceToken,
		DirectRoomRequest{UserIDs: []uint{bobID}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decodeBody[models.Room](t, resp)
	assert.Equal(t, first.ID, second.ID)
}

func TestThreadsViaAPI(t *testing.T) {
	_, app := newTestServer(t)

	_, aliceToken := signup(t, app, "Alice", "alice@example.com")
	bobID, bobToken := signup(t, app, "Bob", "bob@example.com")

	resp := doJSON(t, app, http.MethodPost, "/api/rooms", aliceToken, CreateRoomRequest{
		Name: "Main", Kind: "closed", MemberIDs: []uint{bobID},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	room := decodeBody[models.Room](t, resp)

	resp = doJSON(t, app, http.MethodPost,
		fmt.Sprintf("/api/rooms/%d/messages", room.ID), aliceToken,
		CreateMessageRequest{Body: "shall we branch off?", ClientMessageID: "cm-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decodeBody[models.Message](t, resp)

	resp = doJSON(t, app, http.MethodPost,
		fmt.Sprintf("/api/messages/%d/thread", msg.ID), bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	thread := decodeBody[models.Room](t, resp)
	assert.Equal(t, models.RoomKindThread, thread.Kind)
	require.NotNil(t, thread.ParentMessageID)
	assert.Equal(t, msg.ID, *thread.ParentMessageID)

	// Same parent message always resolves to the same thread.
	resp = doJSON(t, app, http.MethodPost,
		fmt.Sprintf("/api/messages/%d/thread", msg.ID), aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	again := decodeBody[models.Room](t, resp)
	assert.Equal(t, thread.ID, again.ID)
}
