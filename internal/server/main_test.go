package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"campfire/internal/config"
	"campfire/internal/database"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                       "3000",
		Env:                        "test",
		JWTSecret:                  "0123456789abcdef0123456789abcdef",
		PresenceTTLSeconds:         60,
		PushQueueName:              "push",
		PushConcurrency:            1,
		InboxStaleWatermarkMinutes: 60,
	}
}

func newTestServer(t *testing.T) (*Server, *fiber.App) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	s, err := NewServerWithDeps(testConfig(), db, nil, nil)
	require.NoError(t, err)

	app := fiber.New()
	s.SetupRoutes(app)
	return s, app
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	_ = resp.Body.Close()
	return out
}

// signup registers an account through the API and returns its token.
func signup(t *testing.T, app *fiber.App, name, email string) (uint, string) {
	t.Helper()

	resp := doJSON(t, app, http.MethodPost, "/api/auth/signup", "", SignupRequest{
		Name: name, Email: email, Password: "hunter2hunter2",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	auth := decodeBody[AuthResponse](t, resp)
	require.NotNil(t, auth.User)
	require.NotEmpty(t, auth.Token)
	return auth.User.ID, auth.Token
}
