package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/models"
	"github.com/noah-isme/fairgig-proctor/internal/repository"
)

type memoryActivityRepo struct {
	entries []models.ActivityLog
}

func (m *memoryActivityRepo) Create(ctx context.Context, entry *models.ActivityLog) error {
	entry.ID = uint(len(m.entries) + 1)
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memoryActivityRepo) List(ctx context.Context, filter repository.ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	return append([]models.ActivityLog(nil), m.entries...), int64(len(m.entries)), nil
}

func TestActivityServiceRecordMasksSensitiveMetadata(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, testValidator(), testLogger())

	sessionID := "session-5"
	entry, err := svc.Record(context.Background(), ActivityEntry{
		ActorID:    "proctor-1",
		ActorRole:  "Proctor",
		Action:     "Snapshot_Reviewed",
		EntityType: "suspicious_snapshot",
		EntityID:   &sessionID,
		Metadata: map[string]interface{}{
			"email":    "student@example.com",
			"frame":    "data:image/jpeg;base64,AAAA",
			"status":   "confirmed",
			"evidence": "data:image/png;base64,BBBB",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "***", entry.Metadata["email"])
	require.Equal(t, "***", entry.Metadata["frame"])
	require.Equal(t, "***", entry.Metadata["evidence"])
	require.Equal(t, "confirmed", entry.Metadata["status"])
	require.Equal(t, "proctor", entry.ActorRole)
	require.Equal(t, "snapshot_reviewed", entry.Action)
}

func TestActivityServiceRecordDefaultsSystemActor(t *testing.T) {
	svc := NewActivityService(&memoryActivityRepo{}, testValidator(), testLogger())

	entry, err := svc.Record(context.Background(), ActivityEntry{Action: "session_aborted", EntityType: "exam_session"})
	require.NoError(t, err)
	require.Equal(t, "system", entry.ActorID)
	require.Equal(t, "system", entry.ActorRole)

	_, err = svc.Record(context.Background(), ActivityEntry{Action: "  ", EntityType: "exam_session"})
	require.ErrorIs(t, err, ErrInvalidActivity)
}

func TestActivityServiceListPaginates(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, testValidator(), testLogger())
	for i := 0; i < 3; i++ {
		_, err := svc.Record(context.Background(), ActivityEntry{ActorID: "admin-1", Action: "snapshot_reviewed", EntityType: "suspicious_snapshot"})
		require.NoError(t, err)
	}

	resp, err := svc.List(context.Background(), dto.AdminActivityListRequest{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, resp.Items, 3)
	require.Equal(t, int64(3), resp.Pagination.TotalItems)
	require.Equal(t, 2, resp.Pagination.TotalPages)
}
