package handler_test

import (
	"bufio"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/handler"
	"github.com/noah-isme/fairgig-proctor/internal/middleware"
)

func scoreEvent() dto.MonitorEvent {
	return dto.MonitorEvent{
		Type:       dto.MonitorEventScore,
		SessionID:  "sess-1",
		OccurredAt: time.Now().UTC(),
		Payload:    map[string]interface{}{"sequence_number": 3, "focus_score": 0.7},
	}
}

func newMonitorApp(svc *stubMonitorService, role string) *fiber.App {
	app := fiber.New()
	app.Use(middleware.CorrelationID())
	group := app.Group("/api/v1/admin/monitor", withUser("proctor-1", role))
	handler.NewMonitorHandler(svc, zerolog.Nop(), 200*time.Millisecond).Register(group)
	return app
}

func TestMonitorHandler_WebsocketStreamsSessionEvents(t *testing.T) {
	svc := &stubMonitorService{events: []dto.MonitorEvent{scoreEvent()}}
	baseURL, shutdown := startFiberServer(t, newMonitorApp(svc, "proctor"))
	defer shutdown()

	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/v1/admin/monitor/ws?session_id=sess-1"
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	conn, resp, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event dto.MonitorEvent
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, dto.MonitorEventScore, event.Type)
	require.Equal(t, "sess-1", event.SessionID)
	require.Equal(t, []string{"sess-1"}, svc.Topics())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return svc.Released() == 1 }, 2*time.Second, 20*time.Millisecond)
}

func TestMonitorHandler_WebsocketRequiresReviewer(t *testing.T) {
	svc := &stubMonitorService{}
	baseURL, shutdown := startFiberServer(t, newMonitorApp(svc, "student"))
	defer shutdown()

	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/v1/admin/monitor/ws"
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	_, resp, err := dialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()
	require.Empty(t, svc.Topics())
}

func TestMonitorHandler_SSEStreamsEvents(t *testing.T) {
	svc := &stubMonitorService{events: []dto.MonitorEvent{scoreEvent()}}
	baseURL, shutdown := startFiberServer(t, newMonitorApp(svc, "admin"))
	defer shutdown()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/admin/monitor/stream")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for dataLine == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event:"):
			eventLine = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	_ = resp.Body.Close()

	require.Equal(t, dto.MonitorEventScore, eventLine)
	require.Contains(t, dataLine, `"session_id":"sess-1"`)
	require.Equal(t, []string{""}, svc.Topics())
}

func TestMonitorHandler_RejectsPlainRequestsToWebsocket(t *testing.T) {
	app := newMonitorApp(&stubMonitorService{}, "admin")

	req, err := http.NewRequest(http.MethodGet, "/api/v1/admin/monitor/ws", nil)
	require.NoError(t, err)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}
