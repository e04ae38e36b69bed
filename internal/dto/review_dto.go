package dto

import (
	"time"

	"github.com/noah-isme/fairgig-proctor/internal/models"
)

// PaginationMeta captures pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// AdminSessionListRequest filters the session review list.
type AdminSessionListRequest struct {
	Status   string `validate:"omitempty,oneof=preparing in_progress completed aborted"`
	Page     int    `validate:"gte=0"`
	PageSize int    `validate:"gte=0,lte=200"`
}

// SessionSummary is the list view of an exam session.
type SessionSummary struct {
	ID             string     `json:"id"`
	ExamID         string     `json:"exam_id"`
	StudentID      string     `json:"student_id"`
	Status         string     `json:"status"`
	IntegrityScore float64    `json:"integrity_score"`
	Degraded       bool       `json:"degraded"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
}

// AdminSessionListResponse wraps paginated sessions.
type AdminSessionListResponse struct {
	Items      []SessionSummary `json:"items"`
	Pagination PaginationMeta   `json:"pagination"`
}

// CheatScoreResponse serializes one scored frame.
type CheatScoreResponse struct {
	SequenceNumber  int64                  `json:"sequence_number"`
	Timestamp       time.Time              `json:"timestamp"`
	FocusScore      float64                `json:"focus_score"`
	Confidence      float64                `json:"confidence"`
	Alerts          []models.Alert         `json:"alerts"`
	Metrics         map[string]interface{} `json:"metrics"`
	Degraded        bool                   `json:"degraded"`
	ServerLatencyMs int64                  `json:"server_latency_ms"`
}

// SnapshotResponse serializes a suspicious snapshot.
type SnapshotResponse struct {
	ID                uint       `json:"id"`
	SessionID         string     `json:"session_id"`
	SequenceNumber    int64      `json:"sequence_number"`
	Timestamp         time.Time  `json:"timestamp"`
	EventCode         string     `json:"event_code"`
	Severity          string     `json:"severity"`
	StoragePath       string     `json:"storage_path"`
	MLConfidence      float64    `json:"ml_confidence"`
	AdminReviewStatus string     `json:"admin_review_status"`
	Notes             *string    `json:"notes"`
	ReviewedBy        *string    `json:"reviewed_by"`
	ReviewedAt        *time.Time `json:"reviewed_at"`
}

// TimelineEntry is a status change rendered on the session detail view.
type TimelineEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
}

// AdminSessionDetailResponse is the full review payload for one session.
type AdminSessionDetailResponse struct {
	Session    SessionSummary       `json:"session"`
	DeviceInfo models.DeviceInfo    `json:"device_info"`
	Scores     []CheatScoreResponse `json:"scores"`
	Snapshots  []SnapshotResponse   `json:"snapshots"`
	Timeline   []TimelineEntry      `json:"timeline"`
}

// SnapshotReviewRequest records an admin verdict on a snapshot.
type SnapshotReviewRequest struct {
	Status string  `json:"status" validate:"required,oneof=confirmed false_positive"`
	Notes  *string `json:"notes" validate:"omitempty,max=2000"`
}

// AdminActivityListRequest defines filters for retrieving audit entries.
type AdminActivityListRequest struct {
	Page       int
	PageSize   int
	ActorID    string
	Action     string
	EntityType string
	SessionID  string
	Since      *time.Time
}

// AdminActivityResponse serializes audit entries.
type AdminActivityResponse struct {
	ID         uint                   `json:"id"`
	ActorID    string                 `json:"actor_id"`
	ActorRole  string                 `json:"actor_role"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   *string                `json:"entity_id"`
	Metadata   map[string]interface{} `json:"metadata"`
	CreatedAt  time.Time              `json:"created_at"`
}

// AdminActivityListResponse wraps paginated audit entries.
type AdminActivityListResponse struct {
	Items      []AdminActivityResponse `json:"items"`
	Pagination PaginationMeta          `json:"pagination"`
}

// NewSessionSummary converts a session model into its list view.
func NewSessionSummary(model models.ExamSession) SessionSummary {
	return SessionSummary{
		ID:             model.ID,
		ExamID:         model.ExamID,
		StudentID:      model.StudentID,
		Status:         model.Status,
		IntegrityScore: model.IntegrityScore,
		Degraded:       model.Degraded,
		StartedAt:      model.StartedAt,
		EndedAt:        model.EndedAt,
	}
}

// NewCheatScoreResponse converts a cheat score model into a DTO.
func NewCheatScoreResponse(model models.CheatScore) CheatScoreResponse {
	alerts := model.Alerts.Data()
	if alerts == nil {
		alerts = []models.Alert{}
	}
	metrics := map[string]interface{}(model.Metrics)
	if metrics == nil {
		metrics = map[string]interface{}{}
	}
	return CheatScoreResponse{
		SequenceNumber:  model.SequenceNumber,
		Timestamp:       model.Timestamp,
		FocusScore:      model.FocusScore,
		Confidence:      model.Confidence,
		Alerts:          alerts,
		Metrics:         metrics,
		Degraded:        model.Degraded,
		ServerLatencyMs: model.ServerLatencyMs,
	}
}

// NewSnapshotResponse converts a snapshot model into a DTO.
func NewSnapshotResponse(model models.SuspiciousSnapshot) SnapshotResponse {
	return SnapshotResponse{
		ID:                model.ID,
		SessionID:         model.SessionID,
		SequenceNumber:    model.SequenceNumber,
		Timestamp:         model.Timestamp,
		EventCode:         model.EventCode,
		Severity:          model.Severity,
		StoragePath:       model.StoragePath,
		MLConfidence:      model.MLConfidence,
		AdminReviewStatus: model.AdminReviewStatus,
		Notes:             model.Notes,
		ReviewedBy:        model.ReviewedBy,
		ReviewedAt:        model.ReviewedAt,
	}
}

// NewAdminActivityResponse converts a model into an activity DTO.
func NewAdminActivityResponse(entry models.ActivityLog) AdminActivityResponse {
	metadata := map[string]interface{}(entry.Metadata)
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return AdminActivityResponse{
		ID:         entry.ID,
		ActorID:    entry.ActorID,
		ActorRole:  entry.ActorRole,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Metadata:   metadata,
		CreatedAt:  entry.CreatedAt,
	}
}
