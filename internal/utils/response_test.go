package utils_test

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fairgig-proctor/internal/utils"
)

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Error   string            `json:"error"`
	Data    map[string]string `json:"data"`
	Details map[string]string `json:"details"`
	Meta    map[string]int    `json:"meta"`
}

func TestResponseHelpers(t *testing.T) {
	cases := []struct {
		name    string
		handler fiber.Handler
		status  int
		want    envelope
	}{
		{
			name: "ok with meta and default message",
			handler: func(c *fiber.Ctx) error {
				return utils.OK(c, map[string]string{"session": "abc"}, "", map[string]int{"page": 1})
			},
			status: fiber.StatusOK,
			want:   envelope{Success: true, Message: "success", Data: map[string]string{"session": "abc"}, Meta: map[string]int{"page": 1}},
		},
		{
			name: "created session",
			handler: func(c *fiber.Ctx) error {
				return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "session started", map[string]string{"sessionId": "s-1"})
			},
			status: fiber.StatusCreated,
			want:   envelope{Success: true, Message: "session started", Data: map[string]string{"sessionId": "s-1"}},
		},
		{
			name: "fail with details",
			handler: func(c *fiber.Ctx) error {
				return utils.Fail(c, fiber.StatusBadRequest, "invalid payload", map[string]string{"field": "sessionId"})
			},
			status: fiber.StatusBadRequest,
			want:   envelope{Message: "invalid payload", Details: map[string]string{"field": "sessionId"}},
		},
		{
			name: "error code",
			handler: func(c *fiber.Ctx) error {
				return utils.SendErrorCode(c, fiber.StatusTooManyRequests, "RATE_LIMIT", "too many frames")
			},
			status: fiber.StatusTooManyRequests,
			want:   envelope{Message: "too many frames", Error: "RATE_LIMIT"},
		},
		{
			name: "plain error default message",
			handler: func(c *fiber.Ctx) error {
				return utils.SendError(c, fiber.StatusNotFound, "")
			},
			status: fiber.StatusNotFound,
			want:   envelope{Message: "error"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", tc.handler)

			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil), -1)
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.NoError(t, resp.Body.Close())

			var got envelope
			require.NoError(t, json.Unmarshal(body, &got))
			require.Equal(t, tc.want, got)
		})
	}
}
