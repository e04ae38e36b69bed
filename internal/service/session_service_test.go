package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/models"
	"github.com/noah-isme/fairgig-proctor/internal/repository"
)

func newSessionFixture(t *testing.T) (*gorm.DB, SessionService, *recordingMonitor) {
	t.Helper()
	db := setupServiceDB(t)
	monitor := &recordingMonitor{}
	activity := NewActivityService(repository.NewActivityLogRepository(db), testValidator(), testLogger())
	svc := NewSessionService(
		repository.NewExamSessionRepository(db),
		repository.NewCheatScoreRepository(db),
		repository.NewSnapshotRepository(db),
		activity,
		monitor,
		dto.CaptureSettings{FrameIntervalMs: 500, FrameWidth: 640, FrameHeight: 480, JPEGQuality: 80},
		testValidator(),
		testLogger(),
	)
	return db, svc, monitor
}

func insertScore(t *testing.T, db *gorm.DB, sessionID string, seq int64, focus float64, degraded bool) {
	t.Helper()
	score := models.CheatScore{
		SessionID:      sessionID,
		SequenceNumber: seq,
		Timestamp:      time.Now().UTC(),
		FocusScore:     focus,
		Degraded:       degraded,
		Alerts:         datatypes.NewJSONType([]models.Alert{}),
	}
	require.NoError(t, db.Create(&score).Error)
}

func TestSessionServiceStartCreatesInProgressSession(t *testing.T) {
	db, svc, monitor := newSessionFixture(t)

	resp, err := svc.Start(context.Background(), ActivityActor{ID: "student-a", Role: "student"}, dto.SessionStartRequest{
		ExamID:       "exam-7",
		ConsentGiven: true,
		DeviceInfo:   &models.DeviceInfo{Browser: "Firefox", OS: "Linux", DeviceType: "desktop"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionID)
	require.Equal(t, 500, resp.Settings.FrameIntervalMs)

	var stored models.ExamSession
	require.NoError(t, db.First(&stored, "id = ?", resp.SessionID).Error)
	require.Equal(t, models.SessionStatusInProgress, stored.Status)
	require.Equal(t, "student-a", stored.StudentID)
	require.InDelta(t, 1.0, stored.IntegrityScore, 1e-9)
	require.False(t, stored.Degraded)
	require.Equal(t, "Firefox", stored.DeviceInfo.Data().Browser)
	require.Equal(t, 1, monitor.count(dto.MonitorEventSessionStatus))
}

func TestSessionServiceStartRequiresConsent(t *testing.T) {
	_, svc, _ := newSessionFixture(t)

	_, err := svc.Start(context.Background(), ActivityActor{ID: "student-a"}, dto.SessionStartRequest{ExamID: "exam-7"})
	require.ErrorIs(t, err, ErrConsentRequired)

	_, err = svc.Start(context.Background(), ActivityActor{ID: "student-a"}, dto.SessionStartRequest{ConsentGiven: true})
	require.Error(t, err)
	require.True(t, isValidationError(err))
}

func TestSessionServiceEndLowersIntegrityToNonDegradedMean(t *testing.T) {
	db, svc, _ := newSessionFixture(t)
	session := createSession(t, db, "student-a", models.SessionStatusInProgress)
	insertScore(t, db, session.ID, 0, 0.6, false)
	insertScore(t, db, session.ID, 1, 0.8, false)
	insertScore(t, db, session.ID, 2, 0.5, true)
	require.NoError(t, db.Create(&models.SuspiciousSnapshot{SessionID: session.ID, Timestamp: time.Now().UTC(), EventCode: models.AlertPhoneDetected, Severity: models.SeverityHigh, AdminReviewStatus: models.ReviewStatusPending}).Error)

	resp, err := svc.End(context.Background(), ActivityActor{ID: "student-a", Role: "student"}, session.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusCompleted, resp.Status)
	require.InDelta(t, 0.7, resp.IntegrityScore, 1e-9)
	require.Equal(t, int64(1), resp.FlaggedEvents)
	require.NotNil(t, resp.EndedAt)

	var entries []models.ActivityLog
	require.NoError(t, db.Where("action = ?", ActionSessionCompleted).Find(&entries).Error)
	require.Len(t, entries, 1)

	_, err = svc.End(context.Background(), ActivityActor{ID: "student-a"}, session.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSessionServiceEndWithoutScoresKeepsIntegrity(t *testing.T) {
	db, svc, _ := newSessionFixture(t)
	session := createSession(t, db, "student-a", models.SessionStatusInProgress)
	insertScore(t, db, session.ID, 0, 0.5, true)

	resp, err := svc.End(context.Background(), ActivityActor{ID: "student-a"}, session.ID)
	require.NoError(t, err)
	require.InDelta(t, 1.0, resp.IntegrityScore, 1e-9)
}

func TestSessionServiceRejectsForeignSession(t *testing.T) {
	db, svc, _ := newSessionFixture(t)
	session := createSession(t, db, "student-b", models.SessionStatusInProgress)

	_, err := svc.End(context.Background(), ActivityActor{ID: "student-a"}, session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.Abort(context.Background(), ActivityActor{ID: "student-a"}, session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionServiceAbort(t *testing.T) {
	db, svc, _ := newSessionFixture(t)
	session := createSession(t, db, "student-a", models.SessionStatusInProgress)

	resp, err := svc.Abort(context.Background(), ActivityActor{ID: "student-a"}, session.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusAborted, resp.Status)

	_, err = svc.End(context.Background(), ActivityActor{ID: "student-a"}, session.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSessionServiceGetReportsNextSequence(t *testing.T) {
	db, svc, _ := newSessionFixture(t)
	session := createSession(t, db, "student-a", models.SessionStatusInProgress)
	actor := ActivityActor{ID: "student-a", Role: "student"}

	state, err := svc.Get(context.Background(), actor, session.ID)
	require.NoError(t, err)
	require.Equal(t, session.ID, state.SessionID)
	require.Equal(t, models.SessionStatusInProgress, state.Status)
	require.Zero(t, state.NextSequence)

	insertScore(t, db, session.ID, 0, 0.9, false)
	insertScore(t, db, session.ID, 4, 0.9, true)

	state, err = svc.Get(context.Background(), actor, session.ID)
	require.NoError(t, err)
	require.Equal(t, int64(5), state.NextSequence)

	_, err = svc.Get(context.Background(), ActivityActor{ID: "student-b"}, session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}
