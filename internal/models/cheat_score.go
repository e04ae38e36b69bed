package models

import (
	"time"

	"gorm.io/datatypes"
)

// CheatScore is the append-only record of one processed frame.
type CheatScore struct {
	ID              uint                        `gorm:"primaryKey" json:"id"`
	SessionID       string                      `gorm:"type:varchar(36);not null;uniqueIndex:idx_cheat_scores_session_seq" json:"session_id"`
	SequenceNumber  int64                       `gorm:"not null;uniqueIndex:idx_cheat_scores_session_seq" json:"sequence_number"`
	Timestamp       time.Time                   `gorm:"not null;index" json:"timestamp"`
	FocusScore      float64                     `gorm:"not null" json:"focus_score"`
	Confidence      float64                     `gorm:"not null" json:"confidence"`
	Alerts          datatypes.JSONType[[]Alert] `json:"alerts"`
	Metrics         datatypes.JSONMap           `gorm:"type:json" json:"metrics"`
	Degraded        bool                        `gorm:"not null" json:"degraded"`
	ServerLatencyMs int64                       `gorm:"not null" json:"server_latency_ms"`
	CreatedAt       time.Time                   `json:"created_at"`
}
