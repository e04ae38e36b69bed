package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/models"
	"github.com/noah-isme/fairgig-proctor/pkg/mlscorer"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func setupServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ExamSession{}, &models.CheatScore{}, &models.SuspiciousSnapshot{}, &models.ActivityLog{}))
	return db
}

func createSession(t *testing.T, db *gorm.DB, studentID, status string) models.ExamSession {
	t.Helper()
	session := models.ExamSession{
		ExamID:         "exam-42",
		StudentID:      studentID,
		StartedAt:      time.Now().UTC().Add(-time.Minute),
		Status:         status,
		IntegrityScore: 1,
	}
	require.NoError(t, db.Create(&session).Error)
	return session
}

type fakeScorer struct {
	mu    sync.Mutex
	calls int
	resp  mlscorer.Response
	err   error
}

func (f *fakeScorer) Infer(_ context.Context, _ mlscorer.Request) (mlscorer.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.resp, f.err
}

func (f *fakeScorer) set(resp mlscorer.Response, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resp = resp
	f.err = err
}

func (f *fakeScorer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func scorerResult(focus, confidence float64, alerts ...mlscorer.Alert) mlscorer.Response {
	return mlscorer.Response{
		FocusScore: &focus,
		Confidence: &confidence,
		Alerts:     alerts,
		Metrics:    map[string]interface{}{"faces": 1},
	}
}

type recordingUploader struct {
	mu   sync.Mutex
	jobs []SnapshotUploadJob
}

func (r *recordingUploader) Enqueue(job SnapshotUploadJob) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return true
}

func (r *recordingUploader) Start(context.Context) {}

func (r *recordingUploader) Stop() {}

type recordingMonitor struct {
	mu     sync.Mutex
	events []dto.MonitorEvent
}

func (r *recordingMonitor) Publish(_ context.Context, event dto.MonitorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingMonitor) Subscribe(string) (<-chan dto.MonitorEvent, func()) {
	ch := make(chan dto.MonitorEvent)
	return ch, func() {}
}

func (r *recordingMonitor) Start(context.Context) {}

func (r *recordingMonitor) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, event := range r.events {
		if event.Type == eventType {
			total++
		}
	}
	return total
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}
