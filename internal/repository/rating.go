package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/user/flicklog/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RatingRepository struct {
	db *gorm.DB
}

func NewRatingRepository(db *gorm.DB) *RatingRepository {
	return &RatingRepository{db: db}
}

// Create 写入评分及其评论（最多各一条）
func (r *RatingRepository) Create(ctx context.Context, rating *model.Rating) error {
	db := r.db.WithContext(ctx)
	rating.WatchedOn = model.DateOnly(rating.WatchedOn)
	if err := db.Omit(clause.Associations).Create(rating).Error; err != nil {
		return fmt.Errorf("create rating: %w", err)
	}
	for i := range rating.Comments {
		c := &rating.Comments[i]
		c.RatingID = rating.ID
		c.UserID = rating.UserID
		if err := db.Create(c).Error; err != nil {
			return fmt.Errorf("create comment: %w", err)
		}
	}
	return nil
}

// RaterIDs 已对该记录评过分的用户
func (r *RatingRepository) RaterIDs(ctx context.Context, logEntryID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&model.Rating{}).
		Where("log_entry_id = ?", logEntryID).
		Distinct("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

// ListForRewind 用户在 before 之前的评分，按观看日期倒序
func (r *RatingRepository) ListForRewind(ctx context.Context, userID uuid.UUID, before time.Time) ([]*model.Rating, error) {
	var ratings []*model.Rating
	err := r.db.WithContext(ctx).
		Preload("LogEntry").
		Preload("Comments").
		Where("user_id = ? AND watched_on < ?", userID, before).
		Order("watched_on DESC").
		Order("created_at DESC").
		Find(&ratings).Error
	return ratings, err
}
