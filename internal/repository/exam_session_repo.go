package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/fairgig-proctor/internal/models"
)

// ExamSessionFilter narrows the admin session list.
type ExamSessionFilter struct {
	Status    string
	StudentID string
	ExamID    string
	Page      int
	PageSize  int
}

// SessionTransition describes a guarded status change.
type SessionTransition struct {
	From           string
	To             string
	EndedAt        time.Time
	IntegrityScore *float64
}

// ExamSessionRepository persists exam sessions.
type ExamSessionRepository interface {
	Create(ctx context.Context, session *models.ExamSession) error
	GetByID(ctx context.Context, id string) (models.ExamSession, error)
	MarkDegraded(ctx context.Context, id string) error
	Transition(ctx context.Context, id string, change SessionTransition) (bool, error)
	List(ctx context.Context, filter ExamSessionFilter) ([]models.ExamSession, int64, error)
}

type examSessionRepository struct {
	db *gorm.DB
}

// NewExamSessionRepository constructs an exam session repository.
func NewExamSessionRepository(db *gorm.DB) ExamSessionRepository {
	return &examSessionRepository{db: db}
}

func (r *examSessionRepository) Create(ctx context.Context, session *models.ExamSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *examSessionRepository) GetByID(ctx context.Context, id string) (models.ExamSession, error) {
	var session models.ExamSession
	err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error
	return session, err
}

// MarkDegraded sets the sticky degraded flag. Sessions already degraded are left untouched.
func (r *examSessionRepository) MarkDegraded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&models.ExamSession{}).
		Where("id = ? AND degraded = ?", id, false).
		Update("degraded", true).Error
}

// Transition applies a status change only when the row still holds change.From.
func (r *examSessionRepository) Transition(ctx context.Context, id string, change SessionTransition) (bool, error) {
	updates := map[string]interface{}{
		"status":   change.To,
		"ended_at": change.EndedAt,
	}
	if change.IntegrityScore != nil {
		updates["integrity_score"] = *change.IntegrityScore
	}

	result := r.db.WithContext(ctx).
		Model(&models.ExamSession{}).
		Where("id = ? AND status = ?", id, change.From).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *examSessionRepository) List(ctx context.Context, filter ExamSessionFilter) ([]models.ExamSession, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ExamSession{})

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.StudentID != "" {
		query = query.Where("student_id = ?", filter.StudentID)
	}
	if filter.ExamID != "" {
		query = query.Where("exam_id = ?", filter.ExamID)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var sessions []models.ExamSession
	if err := paginate(query, filter.Page, filter.PageSize).Order("started_at DESC").Find(&sessions).Error; err != nil {
		return nil, 0, err
	}

	return sessions, total, nil
}
