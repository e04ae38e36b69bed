package service

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/noah-isme/fairgig-proctor/internal/observability"
	"github.com/noah-isme/fairgig-proctor/internal/ratelimit"
	"github.com/noah-isme/fairgig-proctor/internal/repository"
	"github.com/noah-isme/fairgig-proctor/pkg/mlscorer"
)

var (
	// ErrInvalidFrame indicates the payload is missing required fields.
	ErrInvalidFrame = errors.New("invalid frame payload")
	// ErrSessionNotFound covers both unknown sessions and sessions owned by someone else.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionInactive indicates the session no longer accepts frames.
	ErrSessionInactive = errors.New("session is not active")
	// ErrRateLimited indicates the per-session frame budget is exhausted.
	ErrRateLimited = errors.New("frame rate limit exceeded")
	// ErrFrameTooLarge indicates the encoded frame exceeds the configured maximum.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// Degraded-mode fallback values returned when the scorer is unavailable.
const (
	degradedFocusScore  = 0.5
	degradedConfidence  = 0.0
	degradedDescription = "ML service unavailable, frame scored in degraded mode"
)

// FrameIngestionService runs the per-frame ingestion pipeline.
type FrameIngestionService interface {
	Ingest(ctx context.Context, studentID string, payload dto.FramePayload, receivedAt time.Time) (dto.FrameResponse, error)
}

// FrameIngestionConfig holds the tunable ingestion limits.
type FrameIngestionConfig struct {
	MaxFrameBytes int
}

type frameIngestionService struct {
	sessions  repository.ExamSessionRepository
	scores    repository.CheatScoreRepository
	snapshots repository.SnapshotRepository
	scorer    mlscorer.Scorer
	limiter   ratelimit.Limiter
	uploader  SnapshotUploader
	monitor   MonitorService
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	maxFrame  int
	now       func() time.Time
}

// NewFrameIngestionService wires the ingestion pipeline. uploader and monitor may be nil.
func NewFrameIngestionService(
	sessions repository.ExamSessionRepository,
	scores repository.CheatScoreRepository,
	snapshots repository.SnapshotRepository,
	scorer mlscorer.Scorer,
	limiter ratelimit.Limiter,
	uploader SnapshotUploader,
	monitor MonitorService,
	cfg FrameIngestionConfig,
	validate *validator.Validate,
	logger zerolog.Logger,
) FrameIngestionService {
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 5 * 1024 * 1024
	}

	return &frameIngestionService{
		sessions:  sessions,
		scores:    scores,
		snapshots: snapshots,
		scorer:    scorer,
		limiter:   limiter,
		uploader:  uploader,
		monitor:   monitor,
		validator: validate,
		logger:    logger.With().Str("component", "frame_ingestion_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/fairgig-proctor/internal/service/frames"),
		maxFrame:  cfg.MaxFrameBytes,
		now:       time.Now,
	}
}

func (s *frameIngestionService) Ingest(ctx context.Context, studentID string, payload dto.FramePayload, receivedAt time.Time) (dto.FrameResponse, error) {
	ctx, span := s.tracer.Start(ctx, "frames.ingest", trace.WithAttributes(
		attribute.String("session_id", payload.SessionID),
		attribute.Int64("sequence_number", payload.SequenceNumber),
	))
	defer span.End()

	if receivedAt.IsZero() {
		receivedAt = s.now()
	}

	session, err := s.admit(ctx, studentID, payload)
	if err != nil {
		observability.FramesIngested().WithLabelValues(rejectionOutcome(err)).Inc()
		span.SetStatus(codes.Error, err.Error())
		return dto.FrameResponse{}, err
	}

	capturedAt := payload.CapturedAt(receivedAt)
	ml, degraded := s.score(ctx, session, payload, capturedAt)

	score := models.CheatScore{
		SessionID:       session.ID,
		SequenceNumber:  payload.SequenceNumber,
		Timestamp:       capturedAt,
		FocusScore:      ml.FocusScore,
		Confidence:      ml.Confidence,
		Alerts:          datatypes.NewJSONType(ml.Alerts),
		Metrics:         datatypes.JSONMap(ml.Metrics),
		Degraded:        degraded,
		ServerLatencyMs: s.now().Sub(receivedAt).Milliseconds(),
	}

	inserted, err := s.scores.Create(ctx, &score)
	if err != nil {
		observability.FramesIngested().WithLabelValues("persist_failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		s.logger.Error().Err(err).
			Str("session_id", session.ID).
			Int64("sequence_number", payload.SequenceNumber).
			Msg("failed to persist cheat score")
		return dto.FrameResponse{}, fmt.Errorf("persist cheat score: %w", err)
	}

	switch {
	case !inserted:
		observability.FramesIngested().WithLabelValues("duplicate").Inc()
		s.logger.Debug().
			Str("session_id", session.ID).
			Int64("sequence_number", payload.SequenceNumber).
			Msg("duplicate sequence number ignored")
	default:
		if degraded {
			observability.FramesIngested().WithLabelValues("degraded").Inc()
		} else {
			observability.FramesIngested().WithLabelValues("scored").Inc()
		}
		s.escalate(ctx, session, payload, capturedAt, ml.Alerts)
		s.publish(ctx, dto.MonitorEvent{
			Type:      dto.MonitorEventScore,
			SessionID: session.ID,
			Payload:   dto.NewCheatScoreResponse(score),
		})
	}

	processing := s.now().Sub(receivedAt)
	observability.FrameProcessing().Observe(float64(processing.Milliseconds()))
	span.SetAttributes(attribute.Bool("degraded", degraded), attribute.Int("alerts", len(ml.Alerts)))

	return dto.FrameResponse{
		ML: ml,
		Server: dto.ServerEnvelope{
			ReceivedAt:   receivedAt.UTC(),
			ProcessingMs: processing.Milliseconds(),
		},
	}, nil
}

// admit runs the validate, authorize, liveness, rate and size stages in order.
func (s *frameIngestionService) admit(ctx context.Context, studentID string, payload dto.FramePayload) (models.ExamSession, error) {
	if err := s.validator.Struct(payload); err != nil {
		return models.ExamSession{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	session, err := s.sessions.GetByID(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ExamSession{}, ErrSessionNotFound
		}
		return models.ExamSession{}, fmt.Errorf("load session: %w", err)
	}
	if studentID == "" || session.StudentID != studentID || payload.StudentID != studentID {
		return models.ExamSession{}, ErrSessionNotFound
	}
	if session.IsTerminal() {
		return models.ExamSession{}, ErrSessionInactive
	}

	allowed, err := s.limiter.Allow(ctx, session.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", session.ID).Msg("rate limiter unavailable, admitting frame")
		allowed = true
	}
	if !allowed {
		return models.ExamSession{}, ErrRateLimited
	}

	if len(payload.Frame) > s.maxFrame {
		return models.ExamSession{}, ErrFrameTooLarge
	}

	return session, nil
}

// score calls the scorer and falls back to the degraded result on any failure.
func (s *frameIngestionService) score(ctx context.Context, session models.ExamSession, payload dto.FramePayload, capturedAt time.Time) (dto.MLResponse, bool) {
	resp, err := s.scorer.Infer(ctx, mlscorer.Request{
		SessionID:      session.ID,
		SequenceNumber: payload.SequenceNumber,
		Timestamp:      capturedAt,
		Frame:          payload.Frame,
		DeviceInfo: mlscorer.DeviceInfo{
			Browser:      payload.DeviceInfo.Browser,
			OS:           payload.DeviceInfo.OS,
			DeviceType:   payload.DeviceInfo.DeviceType,
			ScreenWidth:  payload.DeviceInfo.ScreenWidth,
			ScreenHeight: payload.DeviceInfo.ScreenHeight,
			NetworkRTTMs: payload.DeviceInfo.NetworkRTTMs,
		},
	})
	if err == nil {
		return toMLResponse(resp), false
	}

	observability.DegradedFrames().Inc()
	s.logger.Warn().Err(err).
		Str("session_id", session.ID).
		Int64("sequence_number", payload.SequenceNumber).
		Msg("ml scorer failed, using degraded mode")

	if !session.Degraded {
		if markErr := s.sessions.MarkDegraded(ctx, session.ID); markErr != nil {
			s.logger.Error().Err(markErr).Str("session_id", session.ID).Msg("failed to flag session as degraded")
		} else {
			s.publish(ctx, dto.MonitorEvent{
				Type:      dto.MonitorEventSessionStatus,
				SessionID: session.ID,
				Payload:   map[string]interface{}{"status": session.Status, "degraded": true},
			})
		}
	}

	return degradedMLResponse(), true
}

// escalate creates one pending snapshot per high severity alert. Failures are
// logged and never fail the request.
func (s *frameIngestionService) escalate(ctx context.Context, session models.ExamSession, payload dto.FramePayload, capturedAt time.Time, alerts []models.Alert) {
	for _, alert := range alerts {
		if !alert.IsHighSeverity() {
			continue
		}

		snapshot := models.SuspiciousSnapshot{
			SessionID:         session.ID,
			SequenceNumber:    payload.SequenceNumber,
			Timestamp:         capturedAt,
			EventCode:         alert.Code,
			Severity:          alert.Severity,
			MLConfidence:      alert.Confidence,
			AdminReviewStatus: models.ReviewStatusPending,
		}
		if err := s.snapshots.Create(ctx, &snapshot); err != nil {
			s.logger.Error().Err(err).
				Str("session_id", session.ID).
				Int64("sequence_number", payload.SequenceNumber).
				Str("event_code", alert.Code).
				Msg("failed to escalate suspicious snapshot")
			continue
		}

		observability.SnapshotsEscalated().WithLabelValues(alert.Code).Inc()

		if s.uploader != nil {
			s.uploader.Enqueue(SnapshotUploadJob{
				SnapshotID:     snapshot.ID,
				ExamID:         session.ExamID,
				SessionID:      session.ID,
				SequenceNumber: payload.SequenceNumber,
				EventCode:      alert.Code,
				CapturedAt:     capturedAt,
				Frame:          payload.Frame,
			})
		}

		s.publish(ctx, dto.MonitorEvent{
			Type:      dto.MonitorEventSnapshot,
			SessionID: session.ID,
			Payload:   dto.NewSnapshotResponse(snapshot),
		})
	}
}

func (s *frameIngestionService) publish(ctx context.Context, event dto.MonitorEvent) {
	if s.monitor == nil {
		return
	}
	s.monitor.Publish(ctx, event)
}

func toMLResponse(resp mlscorer.Response) dto.MLResponse {
	alerts := make([]models.Alert, 0, len(resp.Alerts))
	for _, alert := range resp.Alerts {
		alerts = append(alerts, models.Alert{
			Code:        alert.Code,
			Severity:    alert.Severity,
			Description: alert.Description,
			Confidence:  alert.Confidence,
			BBox:        alert.BBox,
		})
	}

	metrics := resp.Metrics
	if metrics == nil {
		metrics = map[string]interface{}{}
	}

	var focus, confidence float64
	if resp.FocusScore != nil {
		focus = *resp.FocusScore
	}
	if resp.Confidence != nil {
		confidence = *resp.Confidence
	}

	return dto.MLResponse{
		FocusScore: focus,
		Confidence: confidence,
		Alerts:     alerts,
		Metrics:    metrics,
	}
}

func degradedMLResponse() dto.MLResponse {
	return dto.MLResponse{
		FocusScore: degradedFocusScore,
		Confidence: degradedConfidence,
		Alerts: []models.Alert{{
			Code:        models.AlertDegradedMode,
			Severity:    models.SeverityLow,
			Description: degradedDescription,
			Confidence:  0,
		}},
		Metrics: map[string]interface{}{"faces": 0},
	}
}

func rejectionOutcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidFrame):
		return "rejected_invalid"
	case errors.Is(err, ErrSessionNotFound):
		return "rejected_not_found"
	case errors.Is(err, ErrSessionInactive):
		return "rejected_inactive"
	case errors.Is(err, ErrRateLimited):
		return "rejected_rate_limit"
	case errors.Is(err, ErrFrameTooLarge):
		return "rejected_too_large"
	default:
		return "error"
	}
}
