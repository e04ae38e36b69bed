package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/fairgig-proctor/internal/observability"
	"github.com/noah-isme/fairgig-proctor/internal/repository"
)

// ErrSnapshotNotImage indicates the decoded frame is not an image.
var ErrSnapshotNotImage = errors.New("snapshot payload is not an image")

const snapshotUploadTimeout = 30 * time.Second

// SnapshotStore persists snapshot images and returns their storage path.
type SnapshotStore interface {
	UploadSnapshot(ctx context.Context, objectPath string, reader io.Reader) (string, error)
}

// SnapshotUploadJob carries one escalated frame to object storage.
type SnapshotUploadJob struct {
	SnapshotID     uint
	ExamID         string
	SessionID      string
	SequenceNumber int64
	EventCode      string
	CapturedAt     time.Time
	Frame          string
}

// SnapshotUploader moves snapshot images off the ingestion hot path.
type SnapshotUploader interface {
	Enqueue(job SnapshotUploadJob) bool
	Start(ctx context.Context)
	Stop()
}

// SnapshotUploaderConfig sizes the worker pool.
type SnapshotUploaderConfig struct {
	Workers   int
	QueueSize int
}

type snapshotUploader struct {
	store   SnapshotStore
	repo    repository.SnapshotRepository
	logger  zerolog.Logger
	tracer  trace.Tracer
	workers int
	jobs    chan SnapshotUploadJob

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSnapshotUploader constructs the upload worker pool.
func NewSnapshotUploader(store SnapshotStore, repo repository.SnapshotRepository, cfg SnapshotUploaderConfig, logger zerolog.Logger) SnapshotUploader {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	return &snapshotUploader{
		store:   store,
		repo:    repo,
		logger:  logger.With().Str("component", "snapshot_uploader").Logger(),
		tracer:  otel.Tracer("github.com/noah-isme/fairgig-proctor/internal/service/snapshot"),
		workers: cfg.Workers,
		jobs:    make(chan SnapshotUploadJob, cfg.QueueSize),
	}
}

func (u *snapshotUploader) Start(ctx context.Context) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	u.cancel = cancel
	u.running = true

	for i := 0; i < u.workers; i++ {
		u.wg.Add(1)
		go u.work(ctx)
	}
}

// Stop cancels the workers and waits for in-flight uploads to return.
// Jobs still queued are abandoned with an empty storage path.
func (u *snapshotUploader) Stop() {
	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return
	}
	u.running = false
	cancel := u.cancel
	u.mu.Unlock()

	cancel()
	u.wg.Wait()
}

// Enqueue never blocks. It reports false when the queue is full or the pool is stopped.
func (u *snapshotUploader) Enqueue(job SnapshotUploadJob) bool {
	u.mu.Lock()
	running := u.running
	u.mu.Unlock()
	if !running {
		observability.SnapshotUploads().WithLabelValues("dropped").Inc()
		return false
	}

	select {
	case u.jobs <- job:
		return true
	default:
		observability.SnapshotUploads().WithLabelValues("dropped").Inc()
		u.logger.Warn().Uint("snapshot_id", job.SnapshotID).Msg("snapshot upload queue full, dropping job")
		return false
	}
}

func (u *snapshotUploader) work(ctx context.Context) {
	defer u.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-u.jobs:
			if err := u.process(ctx, job); err != nil {
				u.logger.Error().Err(err).
					Uint("snapshot_id", job.SnapshotID).
					Str("session_id", job.SessionID).
					Int64("sequence_number", job.SequenceNumber).
					Msg("snapshot upload failed")
			}
		}
	}
}

func (u *snapshotUploader) process(parent context.Context, job SnapshotUploadJob) error {
	ctx, span := u.tracer.Start(parent, "snapshots.upload", trace.WithAttributes(
		attribute.Int64("snapshot.id", int64(job.SnapshotID)),
		attribute.String("snapshot.event_code", job.EventCode),
	))
	defer span.End()

	payload, err := decodeFrame(job.Frame)
	if err != nil {
		observability.SnapshotUploads().WithLabelValues("rejected").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return err
	}

	detected := mimetype.Detect(payload)
	if !strings.HasPrefix(detected.String(), "image/") {
		observability.SnapshotUploads().WithLabelValues("rejected").Inc()
		err := fmt.Errorf("%w: %s", ErrSnapshotNotImage, detected.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, "type rejected")
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, snapshotUploadTimeout)
	defer cancel()

	location, err := u.store.UploadSnapshot(ctx, SnapshotObjectPath(job, detected.Extension()), bytes.NewReader(payload))
	if err != nil {
		observability.SnapshotUploads().WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage failed")
		return err
	}

	if err := u.repo.UpdateStoragePath(ctx, job.SnapshotID, location); err != nil {
		observability.SnapshotUploads().WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return err
	}

	observability.SnapshotUploads().WithLabelValues("uploaded").Inc()
	span.SetStatus(codes.Ok, "stored")
	return nil
}

// SnapshotObjectPath builds snapshots/{examId}/{sessionId}/{yyyy}/{mm}/{dd}/{seq}-{eventCode}{ext}.
func SnapshotObjectPath(job SnapshotUploadJob, ext string) string {
	if ext == "" {
		ext = ".jpg"
	}
	captured := job.CapturedAt.UTC()
	if captured.IsZero() {
		captured = time.Now().UTC()
	}
	return fmt.Sprintf("snapshots/%s/%s/%04d/%02d/%02d/%d-%s%s",
		job.ExamID, job.SessionID,
		captured.Year(), int(captured.Month()), captured.Day(),
		job.SequenceNumber, job.EventCode, ext)
}
