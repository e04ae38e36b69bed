package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/models"
	"github.com/noah-isme/fairgig-proctor/internal/repository"
)

var (
	// ErrSnapshotNotFound indicates the snapshot does not exist.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrSnapshotReviewed indicates the snapshot already carries a verdict.
	ErrSnapshotReviewed = errors.New("snapshot already reviewed")
)

const (
	defaultSessionPageSize = 50
	maxSessionPageSize     = 200
)

// Timeline entry types on the session detail view.
const (
	TimelineSessionStarted = "session_started"
	TimelineDegraded       = "degraded_mode"
	TimelineSnapshot       = "suspicious_snapshot"
	TimelineSessionEnded   = "session_ended"
)

// AdminReviewService serves the admin session review screens.
type AdminReviewService interface {
	ListSessions(ctx context.Context, req dto.AdminSessionListRequest) (dto.AdminSessionListResponse, error)
	GetSession(ctx context.Context, sessionID string) (dto.AdminSessionDetailResponse, error)
	ReviewSnapshot(ctx context.Context, actor ActivityActor, snapshotID uint, req dto.SnapshotReviewRequest) (dto.SnapshotResponse, error)
}

type adminReviewService struct {
	sessions  repository.ExamSessionRepository
	scores    repository.CheatScoreRepository
	snapshots repository.SnapshotRepository
	activity  ActivityRecorder
	monitor   MonitorService
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	now       func() time.Time
}

// NewAdminReviewService constructs the admin review service. activity and monitor may be nil.
func NewAdminReviewService(
	sessions repository.ExamSessionRepository,
	scores repository.CheatScoreRepository,
	snapshots repository.SnapshotRepository,
	activity ActivityRecorder,
	monitor MonitorService,
	validate *validator.Validate,
	logger zerolog.Logger,
) AdminReviewService {
	return &adminReviewService{
		sessions:  sessions,
		scores:    scores,
		snapshots: snapshots,
		activity:  activity,
		monitor:   monitor,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "admin_review_service").Logger(),
		now:       time.Now,
	}
}

func (s *adminReviewService) ListSessions(ctx context.Context, req dto.AdminSessionListRequest) (dto.AdminSessionListResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.AdminSessionListResponse{}, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultSessionPageSize
	}
	if pageSize > maxSessionPageSize {
		pageSize = maxSessionPageSize
	}
	page := maxInt(req.Page, 1)

	sessions, total, err := s.sessions.List(ctx, repository.ExamSessionFilter{
		Status:   req.Status,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return dto.AdminSessionListResponse{}, err
	}

	items := make([]dto.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		items = append(items, dto.NewSessionSummary(session))
	}

	return dto.AdminSessionListResponse{Items: items, Pagination: buildPagination(page, pageSize, total)}, nil
}

func (s *adminReviewService) GetSession(ctx context.Context, sessionID string) (dto.AdminSessionDetailResponse, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AdminSessionDetailResponse{}, ErrSessionNotFound
		}
		return dto.AdminSessionDetailResponse{}, err
	}

	scores, err := s.scores.ListBySession(ctx, session.ID)
	if err != nil {
		return dto.AdminSessionDetailResponse{}, err
	}
	snapshots, err := s.snapshots.ListBySession(ctx, session.ID)
	if err != nil {
		return dto.AdminSessionDetailResponse{}, err
	}

	scoreResponses := make([]dto.CheatScoreResponse, 0, len(scores))
	for _, score := range scores {
		scoreResponses = append(scoreResponses, dto.NewCheatScoreResponse(score))
	}
	snapshotResponses := make([]dto.SnapshotResponse, 0, len(snapshots))
	for _, snapshot := range snapshots {
		snapshotResponses = append(snapshotResponses, dto.NewSnapshotResponse(snapshot))
	}

	return dto.AdminSessionDetailResponse{
		Session:    dto.NewSessionSummary(session),
		DeviceInfo: session.DeviceInfo.Data(),
		Scores:     scoreResponses,
		Snapshots:  snapshotResponses,
		Timeline:   buildTimeline(session, scores, snapshots),
	}, nil
}

func (s *adminReviewService) ReviewSnapshot(ctx context.Context, actor ActivityActor, snapshotID uint, req dto.SnapshotReviewRequest) (dto.SnapshotResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SnapshotResponse{}, err
	}

	snapshot, err := s.snapshots.GetByID(ctx, snapshotID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SnapshotResponse{}, ErrSnapshotNotFound
		}
		return dto.SnapshotResponse{}, err
	}
	if !snapshot.IsPending() {
		return dto.SnapshotResponse{}, ErrSnapshotReviewed
	}

	var notes *string
	if req.Notes != nil {
		if cleaned := strings.TrimSpace(s.sanitizer.Sanitize(*req.Notes)); cleaned != "" {
			notes = &cleaned
		}
	}

	reviewedAt := s.now().UTC()
	ok, err := s.snapshots.Review(ctx, snapshot.ID, repository.SnapshotReview{
		Status:     req.Status,
		Notes:      notes,
		ReviewedBy: actor.ID,
		ReviewedAt: reviewedAt,
	})
	if err != nil {
		return dto.SnapshotResponse{}, fmt.Errorf("review snapshot: %w", err)
	}
	if !ok {
		return dto.SnapshotResponse{}, ErrSnapshotReviewed
	}

	reviewer := actor.ID
	snapshot.AdminReviewStatus = req.Status
	snapshot.Notes = notes
	snapshot.ReviewedBy = &reviewer
	snapshot.ReviewedAt = &reviewedAt
	response := dto.NewSnapshotResponse(snapshot)

	if s.activity != nil {
		entityID := strconv.FormatUint(uint64(snapshot.ID), 10)
		if _, err := s.activity.Record(ctx, ActivityEntry{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     ActionSnapshotReviewed,
			EntityType: "suspicious_snapshot",
			EntityID:   &entityID,
			Metadata: map[string]interface{}{
				"session_id": snapshot.SessionID,
				"event_code": snapshot.EventCode,
				"status":     req.Status,
			},
		}); err != nil {
			s.logger.Warn().Err(err).Uint("snapshot_id", snapshot.ID).Msg("failed to record review activity")
		}
	}

	if s.monitor != nil {
		s.monitor.Publish(ctx, dto.MonitorEvent{
			Type:      dto.MonitorEventSnapshot,
			SessionID: snapshot.SessionID,
			Payload:   response,
		})
	}

	return response, nil
}

func buildTimeline(session models.ExamSession, scores []models.CheatScore, snapshots []models.SuspiciousSnapshot) []dto.TimelineEntry {
	entries := []dto.TimelineEntry{{
		Timestamp: session.StartedAt,
		Type:      TimelineSessionStarted,
		Data:      map[string]interface{}{"exam_id": session.ExamID},
	}}

	for _, score := range scores {
		if score.Degraded {
			entries = append(entries, dto.TimelineEntry{
				Timestamp: score.Timestamp,
				Type:      TimelineDegraded,
				Data:      map[string]interface{}{"sequence_number": score.SequenceNumber},
			})
			break
		}
	}

	for _, snapshot := range snapshots {
		entries = append(entries, dto.TimelineEntry{
			Timestamp: snapshot.Timestamp,
			Type:      TimelineSnapshot,
			Data: map[string]interface{}{
				"snapshot_id":     snapshot.ID,
				"event_code":      snapshot.EventCode,
				"severity":        snapshot.Severity,
				"sequence_number": snapshot.SequenceNumber,
				"review_status":   snapshot.AdminReviewStatus,
			},
		})
	}

	if session.EndedAt != nil {
		entries = append(entries, dto.TimelineEntry{
			Timestamp: *session.EndedAt,
			Type:      TimelineSessionEnded,
			Data: map[string]interface{}{
				"status":          session.Status,
				"integrity_score": session.IntegrityScore,
			},
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries
}
