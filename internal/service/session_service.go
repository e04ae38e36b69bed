package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/models"
	"github.com/noah-isme/fairgig-proctor/internal/repository"
)

var (
	// ErrConsentRequired indicates the student did not consent to proctoring.
	ErrConsentRequired = errors.New("proctoring consent is required")
	// ErrInvalidTransition indicates the session cannot move to the requested status.
	ErrInvalidTransition = errors.New("invalid session status transition")
)

// SessionService manages the exam session lifecycle.
type SessionService interface {
	Start(ctx context.Context, actor ActivityActor, req dto.SessionStartRequest) (dto.SessionStartResponse, error)
	Get(ctx context.Context, actor ActivityActor, sessionID string) (dto.SessionStateResponse, error)
	End(ctx context.Context, actor ActivityActor, sessionID string) (dto.SessionEndResponse, error)
	Abort(ctx context.Context, actor ActivityActor, sessionID string) (dto.SessionEndResponse, error)
}

type sessionService struct {
	sessions  repository.ExamSessionRepository
	scores    repository.CheatScoreRepository
	snapshots repository.SnapshotRepository
	activity  ActivityRecorder
	monitor   MonitorService
	settings  dto.CaptureSettings
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewSessionService constructs the session lifecycle service. activity and monitor may be nil.
func NewSessionService(
	sessions repository.ExamSessionRepository,
	scores repository.CheatScoreRepository,
	snapshots repository.SnapshotRepository,
	activity ActivityRecorder,
	monitor MonitorService,
	settings dto.CaptureSettings,
	validate *validator.Validate,
	logger zerolog.Logger,
) SessionService {
	return &sessionService{
		sessions:  sessions,
		scores:    scores,
		snapshots: snapshots,
		activity:  activity,
		monitor:   monitor,
		settings:  settings,
		validator: validate,
		logger:    logger.With().Str("component", "session_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/fairgig-proctor/internal/service/sessions"),
		now:       time.Now,
	}
}

func (s *sessionService) Start(ctx context.Context, actor ActivityActor, req dto.SessionStartRequest) (dto.SessionStartResponse, error) {
	if !req.ConsentGiven {
		return dto.SessionStartResponse{}, ErrConsentRequired
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.SessionStartResponse{}, err
	}

	var device models.DeviceInfo
	if req.DeviceInfo != nil {
		device = *req.DeviceInfo
	}

	session := models.ExamSession{
		ExamID:         req.ExamID,
		StudentID:      actor.ID,
		StartedAt:      s.now().UTC(),
		Status:         models.SessionStatusInProgress,
		IntegrityScore: 1.0,
		DeviceInfo:     datatypes.NewJSONType(device),
	}
	if err := s.sessions.Create(ctx, &session); err != nil {
		return dto.SessionStartResponse{}, fmt.Errorf("create session: %w", err)
	}

	s.audit(ctx, actor, ActionSessionStarted, session.ID, map[string]interface{}{"exam_id": session.ExamID})
	s.publishStatus(ctx, session)

	return dto.SessionStartResponse{
		SessionID: session.ID,
		Status:    session.Status,
		StartedAt: session.StartedAt,
		Settings:  s.settings,
	}, nil
}

// Get reports the session status and the next unused sequence number.
func (s *sessionService) Get(ctx context.Context, actor ActivityActor, sessionID string) (dto.SessionStateResponse, error) {
	session, err := s.loadOwned(ctx, actor.ID, sessionID)
	if err != nil {
		return dto.SessionStateResponse{}, err
	}

	next, err := s.scores.NextSequence(ctx, session.ID)
	if err != nil {
		return dto.SessionStateResponse{}, fmt.Errorf("next sequence: %w", err)
	}

	return dto.SessionStateResponse{
		SessionID:      session.ID,
		Status:         session.Status,
		IntegrityScore: session.IntegrityScore,
		Degraded:       session.Degraded,
		NextSequence:   next,
	}, nil
}

// End completes the session and lowers the integrity score to the mean focus
// of its non-degraded frames when that mean is lower.
func (s *sessionService) End(ctx context.Context, actor ActivityActor, sessionID string) (dto.SessionEndResponse, error) {
	ctx, span := s.tracer.Start(ctx, "sessions.end", trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	session, err := s.loadOwned(ctx, actor.ID, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return dto.SessionEndResponse{}, err
	}
	if !session.CanTransitionTo(models.SessionStatusCompleted) {
		span.SetStatus(codes.Error, ErrInvalidTransition.Error())
		return dto.SessionEndResponse{}, ErrInvalidTransition
	}

	aggregate, err := s.scores.FocusAggregate(ctx, session.ID)
	if err != nil {
		span.RecordError(err)
		return dto.SessionEndResponse{}, fmt.Errorf("aggregate focus: %w", err)
	}
	integrity := session.IntegrityScore
	if aggregate.Count > 0 && aggregate.Average != nil {
		integrity = math.Min(integrity, *aggregate.Average)
	}

	resp, err := s.transition(ctx, session, models.SessionStatusCompleted, &integrity)
	if err != nil {
		span.RecordError(err)
		return dto.SessionEndResponse{}, err
	}

	s.audit(ctx, actor, ActionSessionCompleted, session.ID, map[string]interface{}{
		"integrity_score": resp.IntegrityScore,
		"flagged_events":  resp.FlaggedEvents,
		"degraded":        resp.Degraded,
	})
	span.SetAttributes(attribute.Float64("integrity_score", resp.IntegrityScore))
	return resp, nil
}

func (s *sessionService) Abort(ctx context.Context, actor ActivityActor, sessionID string) (dto.SessionEndResponse, error) {
	session, err := s.loadOwned(ctx, actor.ID, sessionID)
	if err != nil {
		return dto.SessionEndResponse{}, err
	}
	if !session.CanTransitionTo(models.SessionStatusAborted) {
		return dto.SessionEndResponse{}, ErrInvalidTransition
	}

	resp, err := s.transition(ctx, session, models.SessionStatusAborted, nil)
	if err != nil {
		return dto.SessionEndResponse{}, err
	}

	s.audit(ctx, actor, ActionSessionAborted, session.ID, map[string]interface{}{"flagged_events": resp.FlaggedEvents})
	return resp, nil
}

func (s *sessionService) loadOwned(ctx context.Context, studentID, sessionID string) (models.ExamSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ExamSession{}, ErrSessionNotFound
		}
		return models.ExamSession{}, fmt.Errorf("load session: %w", err)
	}
	if studentID == "" || session.StudentID != studentID {
		return models.ExamSession{}, ErrSessionNotFound
	}
	return session, nil
}

func (s *sessionService) transition(ctx context.Context, session models.ExamSession, next string, integrity *float64) (dto.SessionEndResponse, error) {
	endedAt := s.now().UTC()
	ok, err := s.sessions.Transition(ctx, session.ID, repository.SessionTransition{
		From:           session.Status,
		To:             next,
		EndedAt:        endedAt,
		IntegrityScore: integrity,
	})
	if err != nil {
		return dto.SessionEndResponse{}, fmt.Errorf("update session: %w", err)
	}
	if !ok {
		return dto.SessionEndResponse{}, ErrInvalidTransition
	}

	session.Status = next
	session.EndedAt = &endedAt
	if integrity != nil {
		session.IntegrityScore = *integrity
	}

	flagged, err := s.snapshots.CountBySession(ctx, session.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", session.ID).Msg("failed to count flagged events")
	}

	s.publishStatus(ctx, session)

	return dto.SessionEndResponse{
		SessionID:      session.ID,
		Status:         session.Status,
		IntegrityScore: session.IntegrityScore,
		Degraded:       session.Degraded,
		FlaggedEvents:  flagged,
		EndedAt:        session.EndedAt,
	}, nil
}

func (s *sessionService) audit(ctx context.Context, actor ActivityActor, action, sessionID string, metadata map[string]interface{}) {
	if s.activity == nil {
		return
	}
	entityID := sessionID
	if _, err := s.activity.Record(ctx, ActivityEntry{
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: "exam_session",
		EntityID:   &entityID,
		Metadata:   metadata,
	}); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Str("session_id", sessionID).Msg("failed to record session activity")
	}
}

func (s *sessionService) publishStatus(ctx context.Context, session models.ExamSession) {
	if s.monitor == nil {
		return
	}
	s.monitor.Publish(ctx, dto.MonitorEvent{
		Type:      dto.MonitorEventSessionStatus,
		SessionID: session.ID,
		Payload:   dto.NewSessionSummary(session),
	})
}
