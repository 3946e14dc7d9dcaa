package model

import (
	"time"

	"github.com/google/uuid"
)

// Profile 用户公开资料，主键即身份服务中的用户 ID
type Profile struct {
	UserID                 uuid.UUID `json:"user_id" gorm:"type:uuid;primaryKey"`
	Email                  string    `json:"-" gorm:"size:255"`
	Username               string    `json:"username" gorm:"size:20;uniqueIndex;not null"` // 统一小写
	DisplayName            *string   `json:"display_name" gorm:"size:50"`
	AvatarURL              *string   `json:"avatar_url" gorm:"type:text"`
	HasCompletedOnboarding bool      `json:"has_completed_onboarding" gorm:"not null;default:false"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Name 展示名，未设置时退回用户名
func (p *Profile) Name() string {
	if p == nil {
		return ""
	}
	if p.DisplayName != nil && *p.DisplayName != "" {
		return *p.DisplayName
	}
	return p.Username
}

// CurrentUser 身份服务解析出的当前用户
type CurrentUser struct {
	ID    uuid.UUID
	Email string
}
