package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/fairgig-proctor/internal/models"
)

// SnapshotReview is the admin verdict applied to a pending snapshot.
type SnapshotReview struct {
	Status     string
	Notes      *string
	ReviewedBy string
	ReviewedAt time.Time
}

// SnapshotRepository persists escalated suspicious snapshots.
type SnapshotRepository interface {
	Create(ctx context.Context, snapshot *models.SuspiciousSnapshot) error
	GetByID(ctx context.Context, id uint) (models.SuspiciousSnapshot, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.SuspiciousSnapshot, error)
	CountBySession(ctx context.Context, sessionID string) (int64, error)
	UpdateStoragePath(ctx context.Context, id uint, path string) error
	Review(ctx context.Context, id uint, review SnapshotReview) (bool, error)
}

type snapshotRepository struct {
	db *gorm.DB
}

// NewSnapshotRepository constructs the snapshot repository.
func NewSnapshotRepository(db *gorm.DB) SnapshotRepository {
	return &snapshotRepository{db: db}
}

func (r *snapshotRepository) Create(ctx context.Context, snapshot *models.SuspiciousSnapshot) error {
	return r.db.WithContext(ctx).Create(snapshot).Error
}

func (r *snapshotRepository) GetByID(ctx context.Context, id uint) (models.SuspiciousSnapshot, error) {
	var snapshot models.SuspiciousSnapshot
	err := r.db.WithContext(ctx).First(&snapshot, id).Error
	return snapshot, err
}

func (r *snapshotRepository) ListBySession(ctx context.Context, sessionID string) ([]models.SuspiciousSnapshot, error) {
	var snapshots []models.SuspiciousSnapshot
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp DESC").
		Order("id DESC").
		Find(&snapshots).Error
	return snapshots, err
}

func (r *snapshotRepository) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SuspiciousSnapshot{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	return count, err
}

func (r *snapshotRepository) UpdateStoragePath(ctx context.Context, id uint, path string) error {
	return r.db.WithContext(ctx).
		Model(&models.SuspiciousSnapshot{}).
		Where("id = ?", id).
		Update("storage_path", path).Error
}

// Review records a verdict only while the snapshot is still pending.
func (r *snapshotRepository) Review(ctx context.Context, id uint, review SnapshotReview) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SuspiciousSnapshot{}).
		Where("id = ? AND admin_review_status = ?", id, models.ReviewStatusPending).
		Updates(map[string]interface{}{
			"admin_review_status": review.Status,
			"notes":               review.Notes,
			"reviewed_by":         review.ReviewedBy,
			"reviewed_at":         review.ReviewedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
