package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/user/flicklog/internal/model"
	"gorm.io/gorm"
)

type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Create 创建资料
func (r *ProfileRepository) Create(ctx context.Context, p *model.Profile) error {
	p.Username = strings.ToLower(p.Username)
	return r.db.WithContext(ctx).Create(p).Error
}

// FindByID 根据用户 ID 查找
func (r *ProfileRepository) FindByID(ctx context.Context, userID uuid.UUID) (*model.Profile, error) {
	var p model.Profile
	err := r.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindByUsername 根据用户名查找（不区分大小写）
func (r *ProfileRepository) FindByUsername(ctx context.Context, username string) (*model.Profile, error) {
	var p model.Profile
	err := r.db.WithContext(ctx).Where("LOWER(username) = ?", strings.ToLower(username)).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UsernameTaken 用户名是否已被他人占用
func (r *ProfileRepository) UsernameTaken(ctx context.Context, username string, exclude uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Profile{}).
		Where("LOWER(username) = ? AND user_id <> ?", strings.ToLower(username), exclude).
		Count(&count).Error
	return count > 0, err
}

// Update 更新用户名、展示名、头像
func (r *ProfileRepository) Update(ctx context.Context, userID uuid.UUID, username string, displayName, avatarURL *string) error {
	return r.db.WithContext(ctx).Model(&model.Profile{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"username":     strings.ToLower(username),
			"display_name": displayName,
			"avatar_url":   avatarURL,
		}).Error
}

// MarkOnboarded 标记已完成新手引导
func (r *ProfileRepository) MarkOnboarded(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&model.Profile{}).
		Where("user_id = ?", userID).
		Update("has_completed_onboarding", true).Error
}
