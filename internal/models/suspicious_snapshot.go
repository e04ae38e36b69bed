package models

import "time"

const (
	ReviewStatusPending       = "pending"
	ReviewStatusConfirmed     = "confirmed"
	ReviewStatusFalsePositive = "false_positive"
)

// SuspiciousSnapshot is an admin-reviewable record created for a high-severity alert.
type SuspiciousSnapshot struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	SessionID         string     `gorm:"type:varchar(36);not null;index" json:"session_id"`
	SequenceNumber    int64      `gorm:"not null" json:"sequence_number"`
	Timestamp         time.Time  `gorm:"not null;index" json:"timestamp"`
	EventCode         string     `gorm:"size:32;not null" json:"event_code"`
	Severity          string     `gorm:"size:16;not null" json:"severity"`
	StoragePath       string     `gorm:"size:512" json:"storage_path"`
	MLConfidence      float64    `gorm:"not null" json:"ml_confidence"`
	AdminReviewStatus string     `gorm:"size:16;not null;index" json:"admin_review_status"`
	Notes             *string    `gorm:"type:text" json:"notes"`
	ReviewedBy        *string    `gorm:"type:varchar(64)" json:"reviewed_by"`
	ReviewedAt        *time.Time `json:"reviewed_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsPending reports whether the snapshot still awaits admin review.
func (s SuspiciousSnapshot) IsPending() bool {
	return s.AdminReviewStatus == ReviewStatusPending
}
