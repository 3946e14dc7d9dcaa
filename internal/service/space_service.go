package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/user/flicklog/internal/logging"
	"github.com/user/flicklog/internal/model"
	"github.com/user/flicklog/internal/repository"
	"github.com/user/flicklog/internal/utils"
)

// SpaceSummary 空间列表项
type SpaceSummary struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	Type       model.SpaceType `json:"type"`
	OwnerID    uuid.UUID       `json:"owner_id"`
	HasWebhook bool            `json:"has_webhook"`
	CreatedAt  time.Time       `json:"created_at"`
}

// MemberView 成员及其公开资料
type MemberView struct {
	UserID      uuid.UUID        `json:"user_id"`
	Username    string           `json:"username"`
	DisplayName *string          `json:"display_name"`
	AvatarURL   *string          `json:"avatar_url"`
	Role        model.MemberRole `json:"role"`
	IsOwner     bool             `json:"is_owner"`
}

// SpaceDetail 空间详情（不含 Webhook 地址本身）
type SpaceDetail struct {
	SpaceSummary
	MyRole  model.MemberRole `json:"my_role"`
	Members []MemberView     `json:"members"`
}

type SpaceService struct {
	repos   *repository.Repositories
	secrets *utils.SecretBox
}

func NewSpaceService(repos *repository.Repositories, secrets *utils.SecretBox) *SpaceService {
	return &SpaceService{repos: repos, secrets: secrets}
}

// CreateSpace 创建共享空间，创建者为管理员
func (s *SpaceService) CreateSpace(ctx context.Context, userID uuid.UUID, name string) (*model.Space, error) {
	if userID == uuid.Nil {
		return nil, errNotAuthenticated()
	}
	in := createSpaceInput{Name: strings.TrimSpace(name)}
	if verr := validateInput(&in); verr != nil {
		return nil, verr
	}

	space := &model.Space{
		Name:    in.Name,
		Type:    model.SpaceTypeShared,
		OwnerID: userID,
	}
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		return tx.Space.Create(ctx, space)
	})
	if err != nil {
		return nil, storageFailure("SpaceService", err)
	}
	logging.Info().Str("space_id", space.ID.String()).Str("owner_id", userID.String()).Msg("[SpaceService] 已创建共享空间")
	return space, nil
}

// ListSpaces 用户所在的全部空间
func (s *SpaceService) ListSpaces(ctx context.Context, userID uuid.UUID) ([]SpaceSummary, error) {
	if userID == uuid.Nil {
		return nil, errNotAuthenticated()
	}
	spaces, err := s.repos.Space.ListByMember(ctx, userID)
	if err != nil {
		return nil, storageFailure("SpaceService", err)
	}
	out := make([]SpaceSummary, 0, len(spaces))
	for _, sp := range spaces {
		out = append(out, summarize(sp))
	}
	return out, nil
}

// GetSpace 空间详情，仅成员可见
func (s *SpaceService) GetSpace(ctx context.Context, userID, spaceID uuid.UUID) (*SpaceDetail, error) {
	if userID == uuid.Nil {
		return nil, errNotAuthenticated()
	}
	space, err := s.repos.Space.FindWithMembers(ctx, spaceID)
	if err != nil {
		return nil, storageFailure("SpaceService", err)
	}
	if space == nil {
		return nil, errNotFound("space_not_found", "空间不存在")
	}

	detail := &SpaceDetail{SpaceSummary: summarize(space), Members: make([]MemberView, 0, len(space.Members))}
	for _, m := range space.Members {
		if m.UserID == userID {
			detail.MyRole = m.Role
		}
		v := MemberView{UserID: m.UserID, Role: m.Role, IsOwner: m.UserID == space.OwnerID}
		if m.Profile != nil {
			v.Username = m.Profile.Username
			v.DisplayName = m.Profile.DisplayName
			v.AvatarURL = m.Profile.AvatarURL
		}
		detail.Members = append(detail.Members, v)
	}
	if detail.MyRole == "" {
		return nil, errPermission("你不是该空间的成员")
	}
	return detail, nil
}

// InviteMember 管理员按用户名邀请成员加入共享空间
func (s *SpaceService) InviteMember(ctx context.Context, actorID, spaceID uuid.UUID, username string) (*model.SpaceMember, error) {
	if actorID == uuid.Nil {
		return nil, errNotAuthenticated()
	}
	in := inviteInput{Username: strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(username), "@"))}
	if verr := validateInput(&in); verr != nil {
		return nil, verr
	}

	space, err := s.adminSpace(ctx, actorID, spaceID, "只有管理员可以邀请成员")
	if err != nil {
		return nil, err
	}
	if !space.IsShared() {
		return nil, errConflict("personal_space", "个人空间不能邀请成员")
	}

	invitee, err := s.repos.Profile.FindByUsername(ctx, in.Username)
	if err != nil {
		return nil, storageFailure("SpaceService", err)
	}
	if invitee == nil {
		return nil, errNotFound("user_not_found", fmt.Sprintf("用户 @%s 不存在", in.Username))
	}
	if invitee.UserID == actorID {
		return nil, errField("username", "不能邀请自己")
	}
	existing, err := s.repos.Space.FindMembership(ctx, spaceID, invitee.UserID)
	if err != nil {
		return nil, storageFailure("SpaceService", err)
	}
	if existing != nil {
		return nil, errConflict("already_member", fmt.Sprintf("@%s 已经是该空间成员", invitee.Username))
	}

	if err := s.repos.Space.AddMember(ctx, spaceID, invitee.UserID, model.RoleMember); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, errConflict("already_member", fmt.Sprintf("@%s 已经是该空间成员", invitee.Username))
		}
		return nil, storageFailure("SpaceService", err)
	}
	logging.Info().Str("space_id", spaceID.String()).Str("user_id", invitee.UserID.String()).Msg("[SpaceService] 已邀请成员")
	return &model.SpaceMember{SpaceID: spaceID, UserID: invitee.UserID, Role: model.RoleMember, Profile: invitee}, nil
}

// RemoveMember 管理员移除普通成员，同时清掉其在该空间的待评分
func (s *SpaceService) RemoveMember(ctx context.Context, actorID, spaceID, targetID uuid.UUID) error {
	if actorID == uuid.Nil {
		return errNotAuthenticated()
	}
	if actorID == targetID {
		return errConflict("cannot_remove_self", "不能把自己移出空间")
	}

	space, err := s.adminSpace(ctx, actorID, spaceID, "只有管理员可以移除成员")
	if err != nil {
		return err
	}
	if targetID == space.OwnerID {
		return errPermission("空间拥有者不能被移除")
	}
	target, err := s.repos.Space.FindMembership(ctx, spaceID, targetID)
	if err != nil {
		return storageFailure("SpaceService", err)
	}
	if target == nil {
		return errNotFound("member_not_found", "该用户不是空间成员")
	}
	if target.IsAdmin() {
		return errPermission("管理员不能移除其他管理员")
	}

	var cleared int64
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if err := tx.Space.RemoveMember(ctx, spaceID, targetID); err != nil {
			return err
		}
		n, err := tx.PendingRating.DeleteForMemberInSpace(ctx, spaceID, targetID)
		cleared = n
		return err
	})
	if err != nil {
		return storageFailure("SpaceService", err)
	}
	logging.Info().Str("space_id", spaceID.String()).Str("user_id", targetID.String()).Int64("pending_cleared", cleared).Msg("[SpaceService] 已移除成员")
	return nil
}

// SaveWebhook 设置或清空通知地址，加密存储
func (s *SpaceService) SaveWebhook(ctx context.Context, actorID, spaceID uuid.UUID, webhookURL string) error {
	if actorID == uuid.Nil {
		return errNotAuthenticated()
	}
	in := webhookInput{URL: strings.TrimSpace(webhookURL)}
	if verr := validateInput(&in); verr != nil {
		return verr
	}
	if _, err := s.adminSpace(ctx, actorID, spaceID, "只有管理员可以修改通知设置"); err != nil {
		return err
	}

	sealed, err := s.secrets.Encrypt(in.URL)
	if err != nil {
		return storageFailure("SpaceService", err)
	}
	if err := s.repos.Space.UpdateWebhook(ctx, spaceID, sealed); err != nil {
		return storageFailure("SpaceService", err)
	}
	logging.Info().Str("space_id", spaceID.String()).Bool("enabled", in.URL != "").Msg("[SpaceService] 已更新 Webhook")
	return nil
}

// adminSpace 空间存在且 actor 是管理员
func (s *SpaceService) adminSpace(ctx context.Context, actorID, spaceID uuid.UUID, deny string) (*model.Space, error) {
	space, err := s.repos.Space.FindByID(ctx, spaceID)
	if err != nil {
		return nil, storageFailure("SpaceService", err)
	}
	if space == nil {
		return nil, errNotFound("space_not_found", "空间不存在")
	}
	actor, err := s.repos.Space.FindMembership(ctx, spaceID, actorID)
	if err != nil {
		return nil, storageFailure("SpaceService", err)
	}
	if !actor.IsAdmin() {
		return nil, errPermission(deny)
	}
	return space, nil
}

func summarize(sp *model.Space) SpaceSummary {
	return SpaceSummary{
		ID:         sp.ID,
		Name:       sp.Name,
		Type:       sp.Type,
		OwnerID:    sp.OwnerID,
		HasWebhook: sp.HasWebhook(),
		CreatedAt:  sp.CreatedAt,
	}
}
