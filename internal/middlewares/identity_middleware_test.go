package middlewares

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/inboxpilot/provisioner/internal/domain"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticVerifier map[string]string

func (v staticVerifier) Verify(ctx context.Context, token string) (string, error) {
	userID, ok := v[token]
	if !ok {
		return "", fmt.Errorf("%w: unknown token", domain.ErrAuth)
	}
	return userID, nil
}

func TestIdentityMiddleware(t *testing.T) {
	var reached bool

	app := fiber.New()
	app.Use(IdentityMiddleware(staticVerifier{"good": "user-1"}))
	app.Get("/whoami", func(c fiber.Ctx) error {
		reached = true
		return c.SendString(UserID(c))
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
		wantReach  bool
	}{
		{"valid token", "Bearer good", fiber.StatusOK, "user-1", true},
		{"missing header", "", fiber.StatusUnauthorized, "", false},
		{"unknown token", "Bearer bad", fiber.StatusUnauthorized, "", false},
		{"wrong scheme", "Basic good", fiber.StatusUnauthorized, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached = false

			req := httptest.NewRequest("GET", "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantReach, reached)

			if tt.wantBody != "" {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Equal(t, tt.wantBody, string(body))
			}
		})
	}
}

func TestUserID_Missing(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c fiber.Ctx) error {
		if UserID(c) != "" {
			return errors.New("unexpected user id")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
