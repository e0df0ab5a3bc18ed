package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/makeasinger/acestep-worker/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthApp(secret string) *fiber.App {
	app := fiber.New()
	app.Get("/api/me", NewAuthMiddleware(secret).Authenticate(), func(c *fiber.Ctx) error {
		return c.SendString(GetUserID(c))
	})
	return app
}

func get(t *testing.T, app *fiber.App, header string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestAuthenticateDisabledWithoutSecret(t *testing.T) {
	resp := get(t, newAuthApp(""), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthenticate(t *testing.T) {
	app := newAuthApp("secret")

	assert.Equal(t, http.StatusUnauthorized, get(t, app, "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(t, app, "Token abc").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(t, app, "Bearer not-a-jwt").StatusCode)

	token, err := auth.GenerateToken("user-5", "u@example.com", "secret")
	require.NoError(t, err)
	resp := get(t, app, "Bearer "+token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	other, err := auth.GenerateToken("user-5", "", "different")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(t, app, "Bearer "+other).StatusCode)
}
