package service

import (
	"context"
	"time"

	"github.com/user/flicklog/internal/logging"
	"github.com/user/flicklog/internal/repository"
)

// CleanupService 定时清理孤立的待评分（成员已离开空间）
type CleanupService struct {
	repos    *repository.Repositories
	interval time.Duration
}

// NewCleanupService 创建清理服务
func NewCleanupService(repos *repository.Repositories, interval time.Duration) *CleanupService {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &CleanupService{repos: repos, interval: interval}
}

// Start 启动定时清理任务，ctx 结束时退出
func (s *CleanupService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)

	go func() {
		defer ticker.Stop()
		// 启动时先运行一次
		s.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce 执行一次清理，返回删除条数
func (s *CleanupService) RunOnce(ctx context.Context) int64 {
	logging.Info().Msg("[CleanupService] 开始清理孤立待评分...")

	affected, err := s.repos.PendingRating.DeleteOrphans(ctx)
	if err != nil {
		logging.Error().Err(err).Str("sqlstate", repository.ErrorCode(err)).Msg("[CleanupService] 清理待评分失败")
		return 0
	}
	if affected > 0 {
		logging.Info().Int64("affected", affected).Msg("[CleanupService] 已清理孤立待评分")
	}
	return affected
}
