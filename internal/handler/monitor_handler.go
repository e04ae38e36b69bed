package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/middleware"
	"github.com/noah-isme/fairgig-proctor/internal/service"
	"github.com/noah-isme/fairgig-proctor/internal/utils"
)

// MonitorHandler streams live proctoring events to reviewer dashboards.
type MonitorHandler struct {
	service   service.MonitorService
	logger    zerolog.Logger
	keepAlive time.Duration
}

// NewMonitorHandler constructs a handler instance.
func NewMonitorHandler(service service.MonitorService, logger zerolog.Logger, keepAlive time.Duration) *MonitorHandler {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	return &MonitorHandler{
		service:   service,
		logger:    logger.With().Str("component", "monitor_handler").Logger(),
		keepAlive: keepAlive,
	}
}

// Register binds the SSE and websocket monitor routes.
func (h *MonitorHandler) Register(router fiber.Router) {
	router.Use(middleware.RequireRole(middleware.ReviewerRoles...))
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("request_ctx", requestContext(c))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/stream", h.stream)
	router.Get("/ws", websocket.New(h.handleConnection))
}

func (h *MonitorHandler) stream(c *fiber.Ctx) error {
	if localString(c, "user_id") == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	sessionID := strings.TrimSpace(c.Query("session_id"))

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(requestContext(c))
	events, cleanup := h.service.Subscribe(sessionID)
	interval := h.keepAlive

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			cleanup()
			cancel()
		}()

		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := writeMonitorEvent(w, event); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write monitor event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write monitor keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

func (h *MonitorHandler) handleConnection(conn *websocket.Conn) {
	userID := websocketUserID(conn)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "user id missing"))
		_ = conn.Close()
		return
	}

	sessionID := strings.TrimSpace(conn.Query("session_id"))
	events, cleanup := h.service.Subscribe(sessionID)
	defer cleanup()

	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	// Reader drains control frames and notices the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger := h.logger.With().Str("user_id", userID).Str("session_id", sessionID).Logger()
	logger.Info().Msg("monitor websocket connected")
	defer logger.Info().Msg("monitor websocket disconnected")

	ticker := time.NewTicker(h.keepAlive / 2)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug().Err(err).Msg("failed to write monitor event")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeMonitorEvent(w *bufio.Writer, event dto.MonitorEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepAlive(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, ": keep-alive %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return w.Flush()
}

func websocketUserID(conn *websocket.Conn) string {
	value, _ := conn.Locals("user_id").(string)
	return strings.TrimSpace(value)
}
