package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/user/flicklog/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LogEntryRepository struct {
	db *gorm.DB
}

func NewLogEntryRepository(db *gorm.DB) *LogEntryRepository {
	return &LogEntryRepository{db: db}
}

// UpsertByMedia 按 (空间, 影视 ID, 类型) 插入或复用记录，并发下由唯一索引兜底
func (r *LogEntryRepository) UpsertByMedia(ctx context.Context, spaceID uuid.UUID, tmdbID string, mediaType model.MediaType) (*model.LogEntry, error) {
	db := r.db.WithContext(ctx)
	entry := &model.LogEntry{
		SpaceID:  spaceID,
		TmdbID:   tmdbID,
		TmdbType: mediaType,
	}
	err := db.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "space_id"}, {Name: "tmdb_id"}, {Name: "tmdb_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
	}).Create(entry).Error
	if err != nil {
		return nil, fmt.Errorf("upsert log entry: %w", err)
	}

	// 冲突时 entry.ID 不是库里的 ID，重新读取
	var stored model.LogEntry
	err = db.Where("space_id = ? AND tmdb_id = ? AND tmdb_type = ?", spaceID, tmdbID, mediaType).
		First(&stored).Error
	if err != nil {
		return nil, fmt.Errorf("reload log entry: %w", err)
	}
	return &stored, nil
}

// FindByID 根据 ID 查找
func (r *LogEntryRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.LogEntry, error) {
	var e model.LogEntry
	err := r.db.WithContext(ctx).First(&e, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FindWithSpace 查找记录并带出所属空间
func (r *LogEntryRepository) FindWithSpace(ctx context.Context, id uuid.UUID) (*model.LogEntry, error) {
	var e model.LogEntry
	err := r.db.WithContext(ctx).Preload("Space").First(&e, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListBySpace 空间内的记录，最新在前，带评分、作者和评论
func (r *LogEntryRepository) ListBySpace(ctx context.Context, spaceID uuid.UUID, limit, offset int) ([]*model.LogEntry, error) {
	var entries []*model.LogEntry
	err := r.db.WithContext(ctx).
		Preload("Ratings", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC")
		}).
		Preload("Ratings.User").
		Preload("Ratings.Comments").
		Where("space_id = ?", spaceID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, err
}

// CountBySpace 空间内记录数
func (r *LogEntryRepository) CountBySpace(ctx context.Context, spaceID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.LogEntry{}).Where("space_id = ?", spaceID).Count(&count).Error
	return count, err
}

// ListForStats 统计用：全部记录及有效评分（value >= 0）和作者资料
func (r *LogEntryRepository) ListForStats(ctx context.Context, spaceID uuid.UUID) ([]*model.LogEntry, error) {
	var entries []*model.LogEntry
	err := r.db.WithContext(ctx).
		Preload("Ratings", "value >= ?", 0).
		Preload("Ratings.User").
		Where("space_id = ?", spaceID).
		Order("created_at DESC").
		Find(&entries).Error
	return entries, err
}
