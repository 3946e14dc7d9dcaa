package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SpaceType 空间类型
type SpaceType string

const (
	SpaceTypePersonal SpaceType = "PERSONAL"
	SpaceTypeShared   SpaceType = "SHARED"
)

// MemberRole 成员角色
type MemberRole string

const (
	RoleAdmin  MemberRole = "ADMIN"
	RoleMember MemberRole = "MEMBER"
)

// Space 观影空间：个人空间只有拥有者一人，共享空间可邀请好友
type Space struct {
	ID         uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	Name       string        `json:"name" gorm:"size:50;not null"`
	Type       SpaceType     `json:"type" gorm:"size:16;not null;index"`
	OwnerID    uuid.UUID     `json:"owner_id" gorm:"type:uuid;not null;index"`
	WebhookURL string        `json:"-" gorm:"column:webhook_url;type:text"` // 加密存储
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	Members    []SpaceMember `json:"members,omitempty" gorm:"foreignKey:SpaceID"`
}

func (s *Space) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// IsShared 是否共享空间
func (s *Space) IsShared() bool {
	return s.Type == SpaceTypeShared
}

// HasWebhook 是否配置了通知地址
func (s *Space) HasWebhook() bool {
	return s.WebhookURL != ""
}

// SpaceMember 空间成员，(space, user) 唯一
type SpaceMember struct {
	SpaceID   uuid.UUID  `json:"space_id" gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID  `json:"user_id" gorm:"type:uuid;primaryKey;index"`
	Role      MemberRole `json:"role" gorm:"size:16;not null;default:MEMBER"`
	CreatedAt time.Time  `json:"created_at"`
	Profile   *Profile   `json:"profile,omitempty" gorm:"foreignKey:UserID;references:UserID"`
}

// IsAdmin 是否管理员
func (m *SpaceMember) IsAdmin() bool {
	return m != nil && m.Role == RoleAdmin
}
