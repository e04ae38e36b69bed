package delivery

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/models"
)

type sendFunc func(ctx context.Context, payload dto.FramePayload, attempt int) (dto.FrameResponse, error)

type fakeSender struct {
	mu       sync.Mutex
	fn       sendFunc
	sent     []int64
	attempts map[int64]int
}

func newFakeSender(fn sendFunc) *fakeSender {
	return &fakeSender{fn: fn, attempts: make(map[int64]int)}
}

func (s *fakeSender) Send(ctx context.Context, body []byte) (dto.FrameResponse, error) {
	var payload dto.FramePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return dto.FrameResponse{}, err
	}

	s.mu.Lock()
	s.sent = append(s.sent, payload.SequenceNumber)
	s.attempts[payload.SequenceNumber]++
	attempt := s.attempts[payload.SequenceNumber]
	s.mu.Unlock()

	return s.fn(ctx, payload, attempt)
}

func (s *fakeSender) order() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.sent...)
}

func (s *fakeSender) attemptsFor(seq int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[seq]
}

type memBuffer struct {
	mu    sync.Mutex
	saved map[int64]int
	order []int64
}

func newMemBuffer() *memBuffer {
	return &memBuffer{saved: make(map[int64]int)}
}

func (b *memBuffer) Save(_ context.Context, _ string, seq int64, payload []byte) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saved[seq]++
	b.order = append(b.order, seq)
	return int64(len(b.order)), nil
}

func (b *memBuffer) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

func (b *memBuffer) snapshot() map[int64]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[int64]int, len(b.saved))
	for k, v := range b.saved {
		out[k] = v
	}
	return out
}

type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) add(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

type staticDevice struct{}

func (staticDevice) DeviceInfo() models.DeviceInfo {
	return models.DeviceInfo{Browser: "fairgig-agent", OS: "Linux", DeviceType: "desktop", ScreenWidth: 640, ScreenHeight: 480}
}

func (staticDevice) LocalChecks() dto.LocalChecks {
	return dto.LocalChecks{VisibilityState: "visible", TabFocus: true}
}

func okResponse() dto.FrameResponse {
	return dto.FrameResponse{ML: dto.MLResponse{FocusScore: 0.9, Confidence: 0.8, Alerts: []models.Alert{}}}
}
