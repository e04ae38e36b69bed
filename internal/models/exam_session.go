package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// SessionStatusPreparing marks a session created but not yet started.
	SessionStatusPreparing = "preparing"
	// SessionStatusInProgress marks a session currently being proctored.
	SessionStatusInProgress = "in_progress"
	// SessionStatusCompleted marks a session the student finished.
	SessionStatusCompleted = "completed"
	// SessionStatusAborted marks a session terminated before completion.
	SessionStatusAborted = "aborted"
)

// DeviceInfo describes the client environment a session runs on.
type DeviceInfo struct {
	Browser      string `json:"browser"`
	OS           string `json:"os"`
	DeviceType   string `json:"deviceType"`
	ScreenWidth  int    `json:"screenWidth"`
	ScreenHeight int    `json:"screenHeight"`
	NetworkRTTMs *int   `json:"networkRttMs,omitempty"`
}

// ExamSession is one student's attempt at one exam.
type ExamSession struct {
	ID             string                         `gorm:"type:varchar(36);primaryKey" json:"id"`
	ExamID         string                         `gorm:"type:varchar(64);not null;index" json:"exam_id"`
	StudentID      string                         `gorm:"type:varchar(64);not null;index" json:"student_id"`
	StartedAt      time.Time                      `gorm:"not null" json:"started_at"`
	EndedAt        *time.Time                     `json:"ended_at"`
	Status         string                         `gorm:"size:16;not null;index" json:"status"`
	IntegrityScore float64                        `gorm:"not null" json:"integrity_score"`
	Degraded       bool                           `gorm:"not null" json:"degraded"`
	DeviceInfo     datatypes.JSONType[DeviceInfo] `json:"device_info"`
	CreatedAt      time.Time                      `json:"created_at"`
	UpdatedAt      time.Time                      `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (s *ExamSession) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// IsTerminal reports whether the session no longer accepts frames.
func (s ExamSession) IsTerminal() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusAborted
}

// CanTransitionTo reports whether moving to next respects the
// preparing -> in_progress -> {completed, aborted} lifecycle.
func (s ExamSession) CanTransitionTo(next string) bool {
	switch s.Status {
	case SessionStatusPreparing:
		return next == SessionStatusInProgress || next == SessionStatusAborted
	case SessionStatusInProgress:
		return next == SessionStatusCompleted || next == SessionStatusAborted
	default:
		return false
	}
}
