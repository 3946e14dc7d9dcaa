package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/user/flicklog/internal/events"
	"github.com/user/flicklog/internal/logging"
	"github.com/user/flicklog/internal/metrics"
	"github.com/user/flicklog/internal/model"
	"github.com/user/flicklog/internal/repository"
	"github.com/user/flicklog/internal/utils"
)

// EventPublisher 事务提交后的事件出口
type EventPublisher interface {
	Publish(topic string, payload interface{}) error
}

// StatsInvalidator 写入后失效空间统计缓存
type StatsInvalidator interface {
	Invalidate(spaceID uuid.UUID)
}

// LogResult 写入结果
type LogResult struct {
	Entry          *model.LogEntry `json:"entry"`
	Rating         *model.Rating   `json:"rating"`
	PendingCreated int64           `json:"pending_created"`
}

type LogService struct {
	repos     *repository.Repositories
	publisher EventPublisher
	secrets   *utils.SecretBox
	stats     StatsInvalidator
	now       func() time.Time
}

func NewLogService(repos *repository.Repositories, publisher EventPublisher, secrets *utils.SecretBox, stats StatsInvalidator) *LogService {
	return &LogService{
		repos:     repos,
		publisher: publisher,
		secrets:   secrets,
		stats:     stats,
		now:       time.Now,
	}
}

// CreateLogEntry 记录一部影视：记录 + 评分 + 评论 + 共享空间待评分，全部在一个事务内
// spaceID 为空时写入用户的个人空间
func (s *LogService) CreateLogEntry(ctx context.Context, userID, spaceID uuid.UUID, in LogEntryInput) (*LogResult, error) {
	res, err := s.createLogEntry(ctx, userID, spaceID, in)
	recordWorkflow("log_entry", err)
	return res, err
}

func (s *LogService) createLogEntry(ctx context.Context, userID, spaceID uuid.UUID, in LogEntryInput) (*LogResult, error) {
	if userID == uuid.Nil {
		return nil, errNotAuthenticated()
	}
	if verr := validateInput(&in); verr != nil {
		return nil, verr
	}

	space, err := s.resolveSpace(ctx, userID, spaceID)
	if err != nil {
		return nil, err
	}
	member, err := s.repos.Space.FindMembership(ctx, space.ID, userID)
	if err != nil {
		return nil, storageFailure("LogService", err)
	}
	if member == nil {
		return nil, errPermission("你不是该空间的成员")
	}

	result := &LogResult{}
	var obligated []uuid.UUID
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		entry, err := tx.LogEntry.UpsertByMedia(ctx, space.ID, in.MediaID, model.MediaType(in.MediaType))
		if err != nil {
			return err
		}

		rating := &model.Rating{
			LogEntryID: entry.ID,
			UserID:     userID,
			Value:      in.Rating,
			WatchedOn:  in.WatchedDate(),
			Comments:   in.comments(),
		}
		if err := tx.Rating.Create(ctx, rating); err != nil {
			return err
		}
		// 自己评过了，自己的待评分随之失效
		if _, err := tx.PendingRating.Delete(ctx, entry.ID, userID); err != nil {
			return err
		}

		if space.IsShared() {
			members, err := tx.Space.MemberIDs(ctx, space.ID)
			if err != nil {
				return err
			}
			raters, err := tx.Rating.RaterIDs(ctx, entry.ID)
			if err != nil {
				return err
			}
			owing, err := tx.PendingRating.UserIDs(ctx, entry.ID)
			if err != nil {
				return err
			}
			// 已评分或已有待评分的成员不再登记
			skip := make(map[uuid.UUID]bool, len(raters)+len(owing))
			for _, id := range raters {
				skip[id] = true
			}
			for _, id := range owing {
				skip[id] = true
			}
			var pendings []model.PendingRating
			for _, id := range members {
				if id == userID || skip[id] {
					continue
				}
				pendings = append(pendings, model.PendingRating{LogEntryID: entry.ID, UserID: id})
				obligated = append(obligated, id)
			}
			n, err := tx.PendingRating.CreateMany(ctx, pendings)
			if err != nil {
				return err
			}
			result.PendingCreated = n
		}

		result.Entry = entry
		result.Rating = rating
		return nil
	})
	if err != nil {
		return nil, storageFailure("LogService", err)
	}

	metrics.PendingRatingsCreated.Add(float64(result.PendingCreated))
	logging.Info().
		Str("space_id", space.ID.String()).
		Str("log_entry_id", result.Entry.ID.String()).
		Str("user_id", userID.String()).
		Int64("pending_created", result.PendingCreated).
		Msg("[LogService] 已记录")

	s.afterCommit(ctx, space, result.Entry, result.Rating)
	if len(obligated) > 0 && result.PendingCreated > 0 {
		s.publishPending(ctx, space, result.Entry, userID, obligated)
	}
	return result, nil
}

// CompletePendingRating 补完待评分：先删待评分行，没有可删的即视为无待评分
func (s *LogService) CompletePendingRating(ctx context.Context, userID, logEntryID uuid.UUID, in RatingInput) (*LogResult, error) {
	res, err := s.completePendingRating(ctx, userID, logEntryID, in)
	recordWorkflow("complete_pending", err)
	return res, err
}

func (s *LogService) completePendingRating(ctx context.Context, userID, logEntryID uuid.UUID, in RatingInput) (*LogResult, error) {
	if userID == uuid.Nil {
		return nil, errNotAuthenticated()
	}
	if verr := validateInput(&in); verr != nil {
		return nil, verr
	}

	result := &LogResult{}
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		n, err := tx.PendingRating.Delete(ctx, logEntryID, userID)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNothingPending
		}

		rating := &model.Rating{
			LogEntryID: logEntryID,
			UserID:     userID,
			Value:      in.Rating,
			WatchedOn:  in.WatchedDate(),
			Comments:   in.comments(),
		}
		if err := tx.Rating.Create(ctx, rating); err != nil {
			return err
		}

		entry, err := tx.LogEntry.FindWithSpace(ctx, logEntryID)
		if err != nil {
			return err
		}
		if entry == nil {
			return errNotFound("log_entry_not_found", "记录不存在")
		}
		result.Entry = entry
		result.Rating = rating
		return nil
	})
	if err != nil {
		return nil, storageFailure("LogService", err)
	}

	logging.Info().
		Str("log_entry_id", logEntryID.String()).
		Str("user_id", userID.String()).
		Msg("[LogService] 待评分已完成")

	if result.Entry.Space != nil {
		s.afterCommit(ctx, result.Entry.Space, result.Entry, result.Rating)
	}
	return result, nil
}

func (s *LogService) resolveSpace(ctx context.Context, userID, spaceID uuid.UUID) (*model.Space, error) {
	var (
		space *model.Space
		err   error
	)
	if spaceID == uuid.Nil {
		space, err = s.repos.Space.FindPersonal(ctx, userID)
	} else {
		space, err = s.repos.Space.FindByID(ctx, spaceID)
	}
	if err != nil {
		return nil, storageFailure("LogService", err)
	}
	if space == nil {
		return nil, errNotFound("space_not_found", "空间不存在")
	}
	return space, nil
}

// afterCommit 失效统计缓存并投递 Webhook 事件，失败只记日志
func (s *LogService) afterCommit(ctx context.Context, space *model.Space, entry *model.LogEntry, rating *model.Rating) {
	if s.stats != nil {
		s.stats.Invalidate(space.ID)
	}
	if s.publisher == nil || !space.HasWebhook() {
		return
	}

	webhook, err := s.secrets.Decrypt(space.WebhookURL)
	if err != nil {
		logging.Warn().Err(err).Str("space_id", space.ID.String()).Msg("[LogService] Webhook 地址解密失败")
		return
	}
	profile, err := s.repos.Profile.FindByID(ctx, rating.UserID)
	if err != nil {
		logging.Warn().Err(err).Str("user_id", rating.UserID.String()).Msg("[LogService] 读取作者资料失败")
	}

	evt := events.EntryLogged{
		SpaceID:    space.ID,
		SpaceName:  space.Name,
		WebhookURL: webhook,
		LogEntryID: entry.ID,
		TmdbID:     entry.TmdbID,
		TmdbType:   string(entry.TmdbType),
		Rating:     rating.Value,
		Author:     authorOf(rating.UserID, profile),
		LoggedAt:   s.now().UTC(),
	}
	if c := rating.Comment(model.CommentQuickTake); c != nil {
		evt.QuickTake = c.Content
	}
	if err := s.publisher.Publish(events.TopicEntryLogged, evt); err != nil {
		logging.Warn().Err(err).Str("space_id", space.ID.String()).Msg("[LogService] 通知事件投递失败")
	}
}

func (s *LogService) publishPending(ctx context.Context, space *model.Space, entry *model.LogEntry, fromID uuid.UUID, userIDs []uuid.UUID) {
	if s.publisher == nil {
		return
	}
	var fromName string
	if p, err := s.repos.Profile.FindByID(ctx, fromID); err == nil && p != nil {
		fromName = p.Name()
	}
	evt := events.PendingCreated{
		SpaceID:    space.ID,
		SpaceName:  space.Name,
		LogEntryID: entry.ID,
		TmdbID:     entry.TmdbID,
		TmdbType:   string(entry.TmdbType),
		FromUserID: fromID,
		FromName:   fromName,
		UserIDs:    userIDs,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.publisher.Publish(events.TopicPendingCreated, evt); err != nil {
		logging.Warn().Err(err).Str("space_id", space.ID.String()).Msg("[LogService] 待评分事件投递失败")
	}
}

func authorOf(userID uuid.UUID, p *model.Profile) events.Author {
	a := events.Author{UserID: userID}
	if p == nil {
		return a
	}
	a.Username = p.Username
	a.DisplayName = p.Name()
	if p.AvatarURL != nil {
		a.AvatarURL = *p.AvatarURL
	}
	return a
}

// storageFailure 领域错误原样返回，其他错误记录 SQLSTATE 后包装成存储错误
func storageFailure(component string, err error) error {
	if _, ok := AsError(err); ok {
		return err
	}
	logging.Error().Err(err).Str("sqlstate", repository.ErrorCode(err)).Msgf("[%s] 数据库操作失败", component)
	return errStorage(err)
}

func recordWorkflow(workflow string, err error) {
	result := "success"
	if err != nil {
		result = string(KindOf(err))
	}
	metrics.WorkflowTotal.WithLabelValues(workflow, result).Inc()
}
