package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/user/flicklog/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB 初始化数据库连接（lib/pq 连接交给 gorm 使用）
func InitDB(databaseURL string, maxOpen, maxIdle int) (*gorm.DB, error) {
	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("无法连接数据库: %w", err)
	}

	// 测试连接
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库 ping 失败: %w", err)
	}

	// 设置连接池
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 gorm 失败: %w", err)
	}
	return db, nil
}

// AutoMigrate 同步表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Profile{},
		&model.Space{},
		&model.SpaceMember{},
		&model.LogEntry{},
		&model.Rating{},
		&model.Comment{},
		&model.PendingRating{},
	)
}

// ErrorCode 提取 PostgreSQL 错误码（SQLSTATE），非 pq 错误返回空串
func ErrorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// IsUniqueViolation 是否唯一约束冲突
func IsUniqueViolation(err error) bool {
	if ErrorCode(err) == "23505" {
		return true
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// Repositories 仓库集合
type Repositories struct {
	DB            *gorm.DB
	Profile       *ProfileRepository
	Space         *SpaceRepository
	LogEntry      *LogEntryRepository
	Rating        *RatingRepository
	PendingRating *PendingRatingRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		DB:            db,
		Profile:       NewProfileRepository(db),
		Space:         NewSpaceRepository(db),
		LogEntry:      NewLogEntryRepository(db),
		Rating:        NewRatingRepository(db),
		PendingRating: NewPendingRatingRepository(db),
	}
}

// Transaction 在同一事务内执行 fn，fn 返回错误时整体回滚
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}
