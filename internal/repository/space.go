package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/user/flicklog/internal/model"
	"gorm.io/gorm"
)

type SpaceRepository struct {
	db *gorm.DB
}

func NewSpaceRepository(db *gorm.DB) *SpaceRepository {
	return &SpaceRepository{db: db}
}

// Create 创建空间，并把拥有者登记为管理员
func (r *SpaceRepository) Create(ctx context.Context, space *model.Space) error {
	db := r.db.WithContext(ctx)
	if err := db.Omit("Members").Create(space).Error; err != nil {
		return err
	}
	return db.Create(&model.SpaceMember{
		SpaceID: space.ID,
		UserID:  space.OwnerID,
		Role:    model.RoleAdmin,
	}).Error
}

// FindByID 根据 ID 查找
func (r *SpaceRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Space, error) {
	var s model.Space
	err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// FindWithMembers 查找空间并带出成员资料
func (r *SpaceRepository) FindWithMembers(ctx context.Context, id uuid.UUID) (*model.Space, error) {
	var s model.Space
	err := r.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Preload("Members.Profile").
		First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// FindPersonal 查找用户的个人空间
func (r *SpaceRepository) FindPersonal(ctx context.Context, ownerID uuid.UUID) (*model.Space, error) {
	var s model.Space
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND type = ?", ownerID, model.SpaceTypePersonal).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListByMember 用户所在的全部空间，个人空间排最前
func (r *SpaceRepository) ListByMember(ctx context.Context, userID uuid.UUID) ([]*model.Space, error) {
	var spaces []*model.Space
	err := r.db.WithContext(ctx).
		Joins("JOIN space_members ON space_members.space_id = spaces.id").
		Where("space_members.user_id = ?", userID).
		Order("spaces.type DESC, spaces.name ASC").
		Find(&spaces).Error
	return spaces, err
}

// FindMembership 查找成员关系，不存在返回 nil
func (r *SpaceRepository) FindMembership(ctx context.Context, spaceID, userID uuid.UUID) (*model.SpaceMember, error) {
	var m model.SpaceMember
	err := r.db.WithContext(ctx).
		Where("space_id = ? AND user_id = ?", spaceID, userID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MemberIDs 空间所有成员的用户 ID
func (r *SpaceRepository) MemberIDs(ctx context.Context, spaceID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&model.SpaceMember{}).
		Where("space_id = ?", spaceID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// AddMember 添加成员
func (r *SpaceRepository) AddMember(ctx context.Context, spaceID, userID uuid.UUID, role model.MemberRole) error {
	return r.db.WithContext(ctx).Create(&model.SpaceMember{
		SpaceID: spaceID,
		UserID:  userID,
		Role:    role,
	}).Error
}

// RemoveMember 移除成员
func (r *SpaceRepository) RemoveMember(ctx context.Context, spaceID, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("space_id = ? AND user_id = ?", spaceID, userID).
		Delete(&model.SpaceMember{}).Error
}

// UpdateWebhook 更新通知地址（已加密）
func (r *SpaceRepository) UpdateWebhook(ctx context.Context, spaceID uuid.UUID, webhook string) error {
	return r.db.WithContext(ctx).Model(&model.Space{}).
		Where("id = ?", spaceID).
		Update("webhook_url", webhook).Error
}
