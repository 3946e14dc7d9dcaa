package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/user/flicklog/internal/logging"
	"github.com/user/flicklog/internal/model"
	"github.com/user/flicklog/internal/repository"
	"github.com/user/flicklog/internal/utils"
)

const (
	personalSpaceName = "Personal"
	provisionMemoTTL  = 10 * time.Minute
	usernameMaxLen    = 20
)

var usernameStrip = regexp.MustCompile(`[^a-z0-9_]+`)

type ProfileService struct {
	repos *repository.Repositories
	stats StatsInvalidator
	memo  *cache.Cache
	now   func() time.Time
}

func NewProfileService(repos *repository.Repositories, stats StatsInvalidator) *ProfileService {
	return &ProfileService{
		repos: repos,
		stats: stats,
		memo:  utils.NewExpiringCache(provisionMemoTTL),
		now:   time.Now,
	}
}

// Provision 首次登录时创建资料和个人空间，可重复调用
func (s *ProfileService) Provision(ctx context.Context, userID uuid.UUID, email string) error {
	if userID == uuid.Nil {
		return errNotAuthenticated()
	}
	key := userID.String()
	if _, ok := s.memo.Get(key); ok {
		return nil
	}

	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		profile, err := tx.Profile.FindByID(ctx, userID)
		if err != nil {
			return err
		}
		if profile == nil {
			username, err := s.freeUsername(ctx, tx, email)
			if err != nil {
				return err
			}
			profile = &model.Profile{UserID: userID, Email: email, Username: username}
			if err := tx.Profile.Create(ctx, profile); err != nil {
				return err
			}
			logging.Info().Str("user_id", key).Str("username", username).Msg("[ProfileService] 已创建用户资料")
		}

		personal, err := tx.Space.FindPersonal(ctx, userID)
		if err != nil {
			return err
		}
		if personal == nil {
			return tx.Space.Create(ctx, &model.Space{
				Name:    personalSpaceName,
				Type:    model.SpaceTypePersonal,
				OwnerID: userID,
			})
		}
		return nil
	})
	if err != nil {
		// 并发的首次请求可能已抢先创建，下次请求再确认
		if repository.IsUniqueViolation(err) {
			return nil
		}
		return storageFailure("ProfileService", err)
	}
	s.memo.SetDefault(key, struct{}{})
	return nil
}

// freeUsername 由邮箱前缀生成未被占用的用户名
func (s *ProfileService) freeUsername(ctx context.Context, tx *repository.Repositories, email string) (string, error) {
	base := strings.ToLower(email)
	if i := strings.Index(base, "@"); i >= 0 {
		base = base[:i]
	}
	base = usernameStrip.ReplaceAllString(base, "")
	if len(base) < 3 {
		base = "user" + base
	}
	if len(base) > usernameMaxLen {
		base = base[:usernameMaxLen]
	}

	candidate := base
	for i := 0; i < 5; i++ {
		taken, err := tx.Profile.UsernameTaken(ctx, candidate, uuid.Nil)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		suffix := "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
		stem := base
		if len(stem)+len(suffix) > usernameMaxLen {
			stem = stem[:usernameMaxLen-len(suffix)]
		}
		candidate = stem + suffix
	}
	return "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12], nil
}

// GetProfile 当前用户资料
func (s *ProfileService) GetProfile(ctx context.Context, userID uuid.UUID) (*model.Profile, error) {
	if userID == uuid.Nil {
		return nil, errNotAuthenticated()
	}
	p, err := s.repos.Profile.FindByID(ctx, userID)
	if err != nil {
		return nil, storageFailure("ProfileService", err)
	}
	if p == nil {
		return nil, errNotFound("profile_not_found", "用户资料不存在")
	}
	return p, nil
}

// UpdateProfile 修改用户名（不区分大小写唯一）、展示名、头像
func (s *ProfileService) UpdateProfile(ctx context.Context, userID uuid.UUID, in ProfileInput) (*model.Profile, error) {
	if userID == uuid.Nil {
		return nil, errNotAuthenticated()
	}
	in.Username = strings.TrimSpace(in.Username)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.AvatarURL = strings.TrimSpace(in.AvatarURL)
	if verr := validateInput(&in); verr != nil {
		return nil, verr
	}

	taken, err := s.repos.Profile.UsernameTaken(ctx, in.Username, userID)
	if err != nil {
		return nil, storageFailure("ProfileService", err)
	}
	if taken {
		return nil, errField("username", "用户名已被占用")
	}

	if err := s.repos.Profile.Update(ctx, userID, in.Username, optional(in.DisplayName), optional(in.AvatarURL)); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, errField("username", "用户名已被占用")
		}
		return nil, storageFailure("ProfileService", err)
	}
	return s.GetProfile(ctx, userID)
}

// CompleteOnboarding 把三部引导选择写入个人空间，并标记引导完成
func (s *ProfileService) CompleteOnboarding(ctx context.Context, userID uuid.UUID, in OnboardingInput) error {
	err := s.completeOnboarding(ctx, userID, in)
	recordWorkflow("onboarding", err)
	return err
}

func (s *ProfileService) completeOnboarding(ctx context.Context, userID uuid.UUID, in OnboardingInput) error {
	if userID == uuid.Nil {
		return errNotAuthenticated()
	}
	if verr := validateInput(&in); verr != nil {
		return verr
	}
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	if profile.HasCompletedOnboarding {
		return errConflict("already_onboarded", "新手引导已完成")
	}
	personal, err := s.repos.Space.FindPersonal(ctx, userID)
	if err != nil {
		return storageFailure("ProfileService", err)
	}
	if personal == nil {
		return errNotFound("space_not_found", "个人空间不存在")
	}

	today := model.DateOnly(s.now().UTC())
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		for _, pick := range []OnboardingPick{in.Loved, in.Okay, in.Disliked} {
			entry, err := tx.LogEntry.UpsertByMedia(ctx, personal.ID, pick.MediaID, model.MediaType(pick.MediaType))
			if err != nil {
				return err
			}
			if err := tx.Rating.Create(ctx, &model.Rating{
				LogEntryID: entry.ID,
				UserID:     userID,
				Value:      pick.Rating,
				WatchedOn:  today,
			}); err != nil {
				return err
			}
		}
		return tx.Profile.MarkOnboarded(ctx, userID)
	})
	if err != nil {
		return storageFailure("ProfileService", err)
	}
	if s.stats != nil {
		s.stats.Invalidate(personal.ID)
	}
	logging.Info().Str("user_id", userID.String()).Msg("[ProfileService] 新手引导完成")
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
