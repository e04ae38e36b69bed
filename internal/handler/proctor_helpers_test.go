package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/service"
)

type errorEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(data, target))
}

func withUser(userID, role string) fiber.Handler {
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

func startFiberServer(t *testing.T, app *fiber.App) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	shutdown := func() {
		_ = app.ShutdownWithTimeout(time.Second)
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(500 * time.Millisecond):
		}
	}

	return "http://" + listener.Addr().String(), shutdown
}

type stubFrameService struct {
	mu         sync.Mutex
	response   dto.FrameResponse
	err        error
	studentID  string
	payload    dto.FramePayload
	receivedAt time.Time
	calls      int
}

func (s *stubFrameService) Ingest(_ context.Context, studentID string, payload dto.FramePayload, receivedAt time.Time) (dto.FrameResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.studentID = studentID
	s.payload = payload
	s.receivedAt = receivedAt
	if s.err != nil {
		return dto.FrameResponse{}, s.err
	}
	return s.response, nil
}

type stubSessionService struct {
	actor     service.ActivityActor
	sessionID string
	start     dto.SessionStartResponse
	end       dto.SessionEndResponse
	state     dto.SessionStateResponse
	err       error
}

func (s *stubSessionService) Get(_ context.Context, actor service.ActivityActor, sessionID string) (dto.SessionStateResponse, error) {
	s.actor = actor
	s.sessionID = sessionID
	return s.state, s.err
}

func (s *stubSessionService) Start(_ context.Context, actor service.ActivityActor, _ dto.SessionStartRequest) (dto.SessionStartResponse, error) {
	s.actor = actor
	return s.start, s.err
}

func (s *stubSessionService) End(_ context.Context, actor service.ActivityActor, sessionID string) (dto.SessionEndResponse, error) {
	s.actor = actor
	s.sessionID = sessionID
	return s.end, s.err
}

func (s *stubSessionService) Abort(_ context.Context, actor service.ActivityActor, sessionID string) (dto.SessionEndResponse, error) {
	s.actor = actor
	s.sessionID = sessionID
	return s.end, s.err
}

type stubReviewService struct {
	listReq    dto.AdminSessionListRequest
	list       dto.AdminSessionListResponse
	detail     dto.AdminSessionDetailResponse
	reviewed   dto.SnapshotResponse
	snapshotID uint
	actor      service.ActivityActor
	err        error
}

func (s *stubReviewService) ListSessions(_ context.Context, req dto.AdminSessionListRequest) (dto.AdminSessionListResponse, error) {
	s.listReq = req
	return s.list, s.err
}

func (s *stubReviewService) GetSession(_ context.Context, _ string) (dto.AdminSessionDetailResponse, error) {
	return s.detail, s.err
}

func (s *stubReviewService) ReviewSnapshot(_ context.Context, actor service.ActivityActor, snapshotID uint, _ dto.SnapshotReviewRequest) (dto.SnapshotResponse, error) {
	s.actor = actor
	s.snapshotID = snapshotID
	return s.reviewed, s.err
}

type stubMonitorService struct {
	mu       sync.Mutex
	events   []dto.MonitorEvent
	topics   []string
	released int
}

func (s *stubMonitorService) Publish(context.Context, dto.MonitorEvent) {}

func (s *stubMonitorService) Start(context.Context) {}

func (s *stubMonitorService) Subscribe(sessionID string) (<-chan dto.MonitorEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, sessionID)

	ch := make(chan dto.MonitorEvent, len(s.events))
	for _, event := range s.events {
		ch <- event
	}
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.released++
	}
}

func (s *stubMonitorService) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.topics...)
}

func (s *stubMonitorService) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
