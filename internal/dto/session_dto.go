package dto

import (
	"time"

	"github.com/noah-isme/fairgig-proctor/internal/models"
)

// SessionStartRequest opens a proctored exam session.
type SessionStartRequest struct {
	ExamID       string             `json:"examId" validate:"required,max=64"`
	ConsentGiven bool               `json:"consentGiven" validate:"required"`
	DeviceInfo   *models.DeviceInfo `json:"deviceInfo"`
}

// CaptureSettings tells the client how to sample the webcam.
type CaptureSettings struct {
	FrameIntervalMs int `json:"frameIntervalMs"`
	FrameWidth      int `json:"frameWidth"`
	FrameHeight     int `json:"frameHeight"`
	JPEGQuality     int `json:"jpegQuality"`
}

// SessionStartResponse is returned once a session is in progress.
type SessionStartResponse struct {
	SessionID string          `json:"sessionId"`
	Status    string          `json:"status"`
	StartedAt time.Time       `json:"startedAt"`
	Settings  CaptureSettings `json:"settings"`
}

// SessionEndResponse summarizes a session after it reaches a terminal status.
type SessionEndResponse struct {
	SessionID      string     `json:"sessionId"`
	Status         string     `json:"status"`
	IntegrityScore float64    `json:"integrityScore"`
	Degraded       bool       `json:"degraded"`
	FlaggedEvents  int64      `json:"flaggedEvents"`
	EndedAt        *time.Time `json:"endedAt"`
}

// SessionStateResponse lets a restarted client resume a session. Frames must
// continue from NextSequence.
type SessionStateResponse struct {
	SessionID      string  `json:"sessionId"`
	Status         string  `json:"status"`
	IntegrityScore float64 `json:"integrityScore"`
	Degraded       bool    `json:"degraded"`
	NextSequence   int64   `json:"nextSequence"`
}
