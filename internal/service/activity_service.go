package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/models"
	"github.com/noah-isme/fairgig-proctor/internal/repository"
)

// Audit actions recorded by the proctoring services.
const (
	ActionSessionStarted   = "session_started"
	ActionSessionCompleted = "session_completed"
	ActionSessionAborted   = "session_aborted"
	ActionSnapshotReviewed = "snapshot_reviewed"
)

const (
	systemActor    = "system"
	redactedValue  = "***"
	imageURLPrefix = "data:image/"
)

// ErrInvalidActivity is returned when an audit entry lacks an action or entity type.
var ErrInvalidActivity = errors.New("invalid activity entry")

var redactedMetadataKeys = []string{"email", "token", "secret", "frame", "payload"}

// ActivityActor is the authenticated caller behind an audited action.
type ActivityActor struct {
	ID   string
	Role string
}

// ActivityEntry is one audited action against a session or snapshot.
type ActivityEntry struct {
	ActorID    string
	ActorRole  string
	Action     string `validate:"required"`
	EntityType string `validate:"required"`
	EntityID   *string
	Metadata   map[string]interface{}
}

// ActivityRecorder persists audit entries.
type ActivityRecorder interface {
	Record(ctx context.Context, entry ActivityEntry) (dto.AdminActivityResponse, error)
}

// ActivityService records audit entries and lists them for administrators.
type ActivityService interface {
	ActivityRecorder
	List(ctx context.Context, req dto.AdminActivityListRequest) (dto.AdminActivityListResponse, error)
}

type activityService struct {
	repo      repository.ActivityLogRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewActivityService constructs the audit service.
func NewActivityService(repo repository.ActivityLogRepository, validator *validator.Validate, logger zerolog.Logger) ActivityService {
	return &activityService{
		repo:      repo,
		validator: validator,
		logger:    logger.With().Str("component", "activity_service").Logger(),
	}
}

func (s *activityService) Record(ctx context.Context, entry ActivityEntry) (dto.AdminActivityResponse, error) {
	entry.Action = strings.ToLower(strings.TrimSpace(entry.Action))
	entry.EntityType = strings.ToLower(strings.TrimSpace(entry.EntityType))
	if err := s.validator.Struct(entry); err != nil {
		return dto.AdminActivityResponse{}, fmt.Errorf("%w: %v", ErrInvalidActivity, err)
	}

	log := models.ActivityLog{
		ActorID:    orSystem(strings.TrimSpace(entry.ActorID)),
		ActorRole:  orSystem(strings.ToLower(strings.TrimSpace(entry.ActorRole))),
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Metadata:   redactMetadata(entry.Metadata),
	}

	if err := s.repo.Create(ctx, &log); err != nil {
		s.logger.Error().Err(err).Str("action", log.Action).Str("actor_id", log.ActorID).Msg("failed to persist audit entry")
		return dto.AdminActivityResponse{}, err
	}

	return dto.NewAdminActivityResponse(log), nil
}

func (s *activityService) List(ctx context.Context, req dto.AdminActivityListRequest) (dto.AdminActivityListResponse, error) {
	logs, total, err := s.repo.List(ctx, repository.ActivityLogFilter{
		Page:       req.Page,
		PageSize:   req.PageSize,
		ActorID:    strings.TrimSpace(req.ActorID),
		Action:     strings.ToLower(strings.TrimSpace(req.Action)),
		EntityType: strings.ToLower(strings.TrimSpace(req.EntityType)),
		EntityID:   strings.TrimSpace(req.SessionID),
		Since:      req.Since,
	})
	if err != nil {
		return dto.AdminActivityListResponse{}, err
	}

	items := make([]dto.AdminActivityResponse, len(logs))
	for i, log := range logs {
		items[i] = dto.NewAdminActivityResponse(log)
	}

	return dto.AdminActivityListResponse{Items: items, Pagination: buildPagination(req.Page, req.PageSize, total)}, nil
}

func orSystem(value string) string {
	if value == "" {
		return systemActor
	}
	return value
}

// redactMetadata masks credential-like keys and inline image payloads.
func redactMetadata(metadata map[string]interface{}) datatypes.JSONMap {
	redacted := make(datatypes.JSONMap, len(metadata))
	for key, value := range metadata {
		if isRedactedKey(key) {
			redacted[key] = redactedValue
			continue
		}
		if text, ok := value.(string); ok && strings.HasPrefix(text, imageURLPrefix) {
			redacted[key] = redactedValue
			continue
		}
		redacted[key] = value
	}
	return redacted
}

func isRedactedKey(key string) bool {
	lower := strings.ToLower(key)
	for _, needle := range redactedMetadataKeys {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}
