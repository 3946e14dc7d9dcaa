package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/user/flicklog/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PendingRatingRepository struct {
	db *gorm.DB
}

func NewPendingRatingRepository(db *gorm.DB) *PendingRatingRepository {
	return &PendingRatingRepository{db: db}
}

// CreateMany 批量登记待评分，已存在的跳过，返回实际新增条数
func (r *PendingRatingRepository) CreateMany(ctx context.Context, pendings []model.PendingRating) (int64, error) {
	if len(pendings) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&pendings)
	return res.RowsAffected, res.Error
}

// Delete 删除待评分，返回删除条数
func (r *PendingRatingRepository) Delete(ctx context.Context, logEntryID, userID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("log_entry_id = ? AND user_id = ?", logEntryID, userID).
		Delete(&model.PendingRating{})
	return res.RowsAffected, res.Error
}

// Find 查找单条待评分
func (r *PendingRatingRepository) Find(ctx context.Context, logEntryID, userID uuid.UUID) (*model.PendingRating, error) {
	var p model.PendingRating
	err := r.db.WithContext(ctx).
		Where("log_entry_id = ? AND user_id = ?", logEntryID, userID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UserIDs 该记录上仍有待评分的用户
func (r *PendingRatingRepository) UserIDs(ctx context.Context, logEntryID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&model.PendingRating{}).
		Where("log_entry_id = ?", logEntryID).
		Pluck("user_id", &ids).Error
	return ids, err
}

// ListByUser 用户的待评分，最新在前
func (r *PendingRatingRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.PendingRating, error) {
	var pendings []*model.PendingRating
	err := r.db.WithContext(ctx).
		Preload("LogEntry").
		Preload("LogEntry.Space").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&pendings).Error
	return pendings, err
}

// DeleteForMemberInSpace 成员离开空间时清掉他在该空间的待评分
func (r *PendingRatingRepository) DeleteForMemberInSpace(ctx context.Context, spaceID, userID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND log_entry_id IN (?)", userID,
			r.db.Model(&model.LogEntry{}).Select("id").Where("space_id = ?", spaceID)).
		Delete(&model.PendingRating{})
	return res.RowsAffected, res.Error
}

// DeleteOrphans 删除用户已不在所属空间的待评分
func (r *PendingRatingRepository) DeleteOrphans(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where(`NOT EXISTS (
			SELECT 1 FROM log_entries
			JOIN space_members ON space_members.space_id = log_entries.space_id
			WHERE log_entries.id = pending_ratings.log_entry_id
			AND space_members.user_id = pending_ratings.user_id
		)`).
		Delete(&model.PendingRating{})
	return res.RowsAffected, res.Error
}
