package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/fairgig-proctor/internal/models"
)

// FocusAggregate summarizes the non-degraded focus scores of a session.
type FocusAggregate struct {
	Average *float64
	Count   int64
}

// CheatScoreRepository persists per-frame score records.
type CheatScoreRepository interface {
	Create(ctx context.Context, score *models.CheatScore) (bool, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.CheatScore, error)
	FocusAggregate(ctx context.Context, sessionID string) (FocusAggregate, error)
	NextSequence(ctx context.Context, sessionID string) (int64, error)
}

type cheatScoreRepository struct {
	db *gorm.DB
}

// NewCheatScoreRepository constructs the cheat score repository.
func NewCheatScoreRepository(db *gorm.DB) CheatScoreRepository {
	return &cheatScoreRepository{db: db}
}

// Create inserts the score and reports false when (session_id, sequence_number) already exists.
func (r *cheatScoreRepository) Create(ctx context.Context, score *models.CheatScore) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(score)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *cheatScoreRepository) ListBySession(ctx context.Context, sessionID string) ([]models.CheatScore, error) {
	var scores []models.CheatScore
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC").
		Order("sequence_number ASC").
		Find(&scores).Error
	return scores, err
}

func (r *cheatScoreRepository) FocusAggregate(ctx context.Context, sessionID string) (FocusAggregate, error) {
	var row struct {
		Average *float64
		Count   int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.CheatScore{}).
		Select("AVG(focus_score) AS average, COUNT(*) AS count").
		Where("session_id = ? AND degraded = ?", sessionID, false).
		Scan(&row).Error
	if err != nil {
		return FocusAggregate{}, err
	}
	return FocusAggregate{Average: row.Average, Count: row.Count}, nil
}

// NextSequence returns one past the highest stored sequence number, or 0 for a
// session without scores.
func (r *cheatScoreRepository) NextSequence(ctx context.Context, sessionID string) (int64, error) {
	var next int64
	err := r.db.WithContext(ctx).
		Model(&models.CheatScore{}).
		Select("COALESCE(MAX(sequence_number) + 1, 0)").
		Where("session_id = ?", sessionID).
		Scan(&next).Error
	return next, err
}
