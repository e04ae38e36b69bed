package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fairgig-proctor/internal/models"
	"github.com/noah-isme/fairgig-proctor/internal/repository"
)

type memorySnapshotStore struct {
	mu      sync.Mutex
	uploads map[string][]byte
}

func (m *memorySnapshotStore) UploadSnapshot(_ context.Context, objectPath string, reader io.Reader) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploads == nil {
		m.uploads = make(map[string][]byte)
	}
	m.uploads[objectPath] = data
	return "https://cdn.example.com/" + objectPath, nil
}

func (m *memorySnapshotStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

func jpegDataURL(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}))
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestSnapshotUploaderStoresImageAndPath(t *testing.T) {
	db := setupServiceDB(t)
	repo := repository.NewSnapshotRepository(db)
	session := createSession(t, db, "student-a", models.SessionStatusInProgress)
	snapshot := models.SuspiciousSnapshot{SessionID: session.ID, SequenceNumber: 12, Timestamp: time.Now().UTC(), EventCode: models.AlertPhoneDetected, Severity: models.SeverityHigh, AdminReviewStatus: models.ReviewStatusPending}
	require.NoError(t, repo.Create(context.Background(), &snapshot))

	store := &memorySnapshotStore{}
	uploader := NewSnapshotUploader(store, repo, SnapshotUploaderConfig{Workers: 1, QueueSize: 4}, testLogger())
	uploader.Start(context.Background())
	t.Cleanup(uploader.Stop)

	captured := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	require.True(t, uploader.Enqueue(SnapshotUploadJob{
		SnapshotID:     snapshot.ID,
		ExamID:         "exam-42",
		SessionID:      session.ID,
		SequenceNumber: 12,
		EventCode:      models.AlertPhoneDetected,
		CapturedAt:     captured,
		Frame:          jpegDataURL(t),
	}))

	expected := "https://cdn.example.com/snapshots/exam-42/" + session.ID + "/2025/03/04/12-PHONE_DETECTED.jpg"
	require.Eventually(t, func() bool {
		stored, err := repo.GetByID(context.Background(), snapshot.ID)
		return err == nil && stored.StoragePath == expected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSnapshotUploaderRejectsNonImagePayload(t *testing.T) {
	db := setupServiceDB(t)
	repo := repository.NewSnapshotRepository(db)
	store := &memorySnapshotStore{}
	uploader := NewSnapshotUploader(store, repo, SnapshotUploaderConfig{Workers: 1, QueueSize: 1}, testLogger()).(*snapshotUploader)

	err := uploader.process(context.Background(), SnapshotUploadJob{
		SnapshotID: 1,
		Frame:      base64.StdEncoding.EncodeToString([]byte("plain text is not a picture")),
	})
	require.ErrorIs(t, err, ErrSnapshotNotImage)
	require.Zero(t, store.count())
}

func TestSnapshotUploaderEnqueueWhenStoppedOrFull(t *testing.T) {
	db := setupServiceDB(t)
	uploader := NewSnapshotUploader(&memorySnapshotStore{}, repository.NewSnapshotRepository(db), SnapshotUploaderConfig{Workers: 1, QueueSize: 1}, testLogger())

	require.False(t, uploader.Enqueue(SnapshotUploadJob{SnapshotID: 1}), "stopped pool rejects jobs")
}

func TestSnapshotObjectPath(t *testing.T) {
	path := SnapshotObjectPath(SnapshotUploadJob{
		ExamID:         "exam-1",
		SessionID:      "sess-1",
		SequenceNumber: 7,
		EventCode:      "MULTIPLE_FACES",
		CapturedAt:     time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC),
	}, "")
	require.Equal(t, "snapshots/exam-1/sess-1/2024/12/31/7-MULTIPLE_FACES.jpg", path)
}

func TestDecodeFrameAcceptsDataURLAndRawBase64(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff})

	decoded, err := decodeFrame("data:image/jpeg;base64," + raw)
	require.NoError(t, err)
	require.Equal(t, []byte{0xff, 0xd8, 0xff}, decoded)

	decoded, err = decodeFrame(raw)
	require.NoError(t, err)
	require.Len(t, decoded, 3)

	_, err = decodeFrame("data:image/jpeg,notbase64")
	require.ErrorIs(t, err, ErrInvalidFrameEncoding)
}
