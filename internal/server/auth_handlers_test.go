package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campfire/internal/models"
)

func TestSignupAndLogin(t *testing.T) {
	_, app := newTestServer(t)

	userID, token := signup(t, app, "Alice", "alice@example.com")
	assert.NotZero(t, userID)
	assert.NotEmpty(t, token)

	t.Run("login with the right password", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/api/auth/login", "", LoginRequest{
			Email: "alice@example.com", Password: "hunter2hunter2",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		auth := decodeBody[AuthResponse](t, resp)
		assert.Equal(t, userID, auth.User.ID)
		assert.NotEmpty(t, auth.Token)
	})

	t.Run("login with a wrong password", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/api/auth/login", "", LoginRequest{
			Email: "alice@example.com", Password: "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("duplicate signup conflicts", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/api/auth/signup", "", SignupRequest{
			Name: "Alice Again", Email: "alice@example.com", Password: "hunter2hunter2",
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestAuthRequired(t *testing.T) {
	_, app := newTestServer(t)

	t.Run("missing token", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/api/users/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("garbage token", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/api/users/me", "not-a-jwt", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid token", func(t *testing.T) {
		_, token := signup(t, app, "Bob", "bob@example.com")
		resp := doJSON(t, app, http.MethodGet, "/api/users/me", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		me := decodeBody[models.User](t, resp)
		assert.Equal(t, "bob@example.com", me.Email)
	})
}

func TestHealthEndpoints(t *testing.T) {
	_, app := newTestServer(t)

	resp := doJSON(t, app, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Redis is absent in tests; readiness degrades but the database is up.
	resp = doJSON(t, app, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
