package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/middleware"
	"github.com/noah-isme/fairgig-proctor/internal/utils"
)

func withLocals(userID, role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if userID != "" {
			c.Locals("user_id", userID)
		}
		if role != "" {
			c.Locals("user_role", role)
		}
		return c.Next()
	}
}

func guardedApp(locals fiber.Handler, guard fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Use(locals)
	app.Get("/", guard, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func perform(t *testing.T, app *fiber.App) (*http.Response, utils.APIResponse) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	var body utils.APIResponse
	if resp.StatusCode != fiber.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name   string
		role   string
		status int
	}{
		{name: "admin", role: "admin", status: fiber.StatusNoContent},
		{name: "mixed case proctor", role: " Proctor ", status: fiber.StatusNoContent},
		{name: "student", role: "student", status: fiber.StatusForbidden},
		{name: "no role", role: "", status: fiber.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := guardedApp(withLocals("user-1", tc.role), middleware.RequireRole(middleware.RoleAdmin, middleware.RoleProctor))
			resp, body := perform(t, app)
			require.Equal(t, tc.status, resp.StatusCode)
			if tc.status == fiber.StatusForbidden {
				require.Equal(t, dto.ErrorCodeForbidden, body.Error)
			}
		})
	}
}

func TestRequireStudent(t *testing.T) {
	cases := []struct {
		name   string
		userID string
		role   string
		status int
		code   string
	}{
		{name: "student role", userID: "student-10", role: "Student", status: fiber.StatusNoContent},
		{name: "missing role claim", userID: "student-10", status: fiber.StatusNoContent},
		{name: "proctor", userID: "proctor-1", role: "proctor", status: fiber.StatusForbidden, code: dto.ErrorCodeForbidden},
		{name: "anonymous", status: fiber.StatusUnauthorized, code: dto.ErrorCodeAuthInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := guardedApp(withLocals(tc.userID, tc.role), middleware.RequireStudent())
			resp, body := perform(t, app)
			require.Equal(t, tc.status, resp.StatusCode)
			require.Equal(t, tc.code, body.Error)
		})
	}
}
