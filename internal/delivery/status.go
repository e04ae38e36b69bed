package delivery

import (
	"errors"
	"sync"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/models"
)

// Status is the connection indicator shown to the student.
type Status string

const (
	StatusOnline   Status = "online"
	StatusDegraded Status = "degraded"
	StatusOffline  Status = "offline"
)

// StatusTracker turns delivery outcomes into a connection status.
type StatusTracker struct {
	mu       sync.Mutex
	status   Status
	onChange func(from, to Status)
}

// NewStatusTracker starts online. onChange may be nil.
func NewStatusTracker(onChange func(from, to Status)) *StatusTracker {
	return &StatusTracker{status: StatusOnline, onChange: onChange}
}

// Status returns the current status.
func (t *StatusTracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// ObserveResponse marks the connection degraded while the server is scoring
// without the ML service, online otherwise.
func (t *StatusTracker) ObserveResponse(resp dto.FrameResponse) {
	next := StatusOnline
	for _, alert := range resp.ML.Alerts {
		if alert.Code == models.AlertDegradedMode {
			next = StatusDegraded
			break
		}
	}
	t.set(next)
}

// ObserveError marks the connection offline once a frame is dropped.
func (t *StatusTracker) ObserveError(err error) {
	var delivery *DeliveryError
	if !errors.As(err, &delivery) || delivery.Evicted {
		return
	}
	t.set(StatusOffline)
}

func (t *StatusTracker) set(next Status) {
	t.mu.Lock()
	prev := t.status
	t.status = next
	onChange := t.onChange
	t.mu.Unlock()

	if prev != next && onChange != nil {
		onChange(prev, next)
	}
}
