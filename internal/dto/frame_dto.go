package dto

import (
	"time"

	"github.com/noah-isme/fairgig-proctor/internal/models"
)

// LocalChecks is the client-side environment probe attached to every frame.
type LocalChecks struct {
	VisibilityState string `json:"visibilityState"`
	IsFullscreen    bool   `json:"isFullscreen"`
	TabFocus        bool   `json:"tabFocus"`
}

// FramePayload is the wire body of POST /frame.
type FramePayload struct {
	SessionID      string            `json:"sessionId" validate:"required"`
	StudentID      string            `json:"studentId" validate:"required"`
	SequenceNumber int64             `json:"sequenceNumber" validate:"gte=0"`
	FrameTimestamp string            `json:"frameTimestamp"`
	Frame          string            `json:"frame" validate:"required"`
	DeviceInfo     models.DeviceInfo `json:"deviceInfo"`
	LocalChecks    LocalChecks       `json:"localChecks"`
}

// CapturedAt parses the client capture time, falling back to the supplied
// time when the client clock value is missing or malformed.
func (p FramePayload) CapturedAt(fallback time.Time) time.Time {
	if p.FrameTimestamp == "" {
		return fallback
	}
	parsed, err := time.Parse(time.RFC3339Nano, p.FrameTimestamp)
	if err != nil {
		return fallback
	}
	return parsed.UTC()
}

// MLResponse is the scoring result returned to the client, real or synthesized.
type MLResponse struct {
	FocusScore float64                `json:"focus_score"`
	Confidence float64                `json:"confidence"`
	Alerts     []models.Alert         `json:"alerts"`
	Metrics    map[string]interface{} `json:"metrics"`
}

// ServerEnvelope carries server-side timing for a processed frame.
type ServerEnvelope struct {
	ReceivedAt   time.Time `json:"receivedAt"`
	ProcessingMs int64     `json:"processingMs"`
}

// FrameResponse is the 200 body of POST /frame.
type FrameResponse struct {
	ML     MLResponse     `json:"ml"`
	Server ServerEnvelope `json:"server"`
}

// Ingestion error codes surfaced in the error envelope.
const (
	ErrorCodeAuthInvalid     = "AUTH_INVALID"
	ErrorCodeInvalidRequest  = "INVALID_REQUEST"
	ErrorCodeSessionNotFound = "SESSION_NOT_FOUND"
	ErrorCodeSessionInactive = "SESSION_INACTIVE"
	ErrorCodeRateLimit       = "RATE_LIMIT"
	ErrorCodeFrameTooLarge   = "FRAME_TOO_LARGE"
	ErrorCodeInternal        = "INTERNAL_ERROR"
	ErrorCodeForbidden       = "FORBIDDEN"
)
