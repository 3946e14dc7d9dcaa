// Package testutil 测试用内存数据库与数据构造
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/user/flicklog/internal/model"
	"github.com/user/flicklog/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB 每个测试独立的内存 SQLite，测试结束自动关闭
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// 单连接，事务内外看到同一份数据
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repository.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// NewRepos 内存库上的仓库集合
func NewRepos(t testing.TB) *repository.Repositories {
	t.Helper()
	return repository.NewRepositories(NewDB(t))
}

// CreateUser 创建资料和个人空间
func CreateUser(t testing.TB, repos *repository.Repositories, username string) *model.Profile {
	t.Helper()
	ctx := context.Background()

	p := &model.Profile{UserID: uuid.New(), Email: username + "@example.com", Username: username}
	if err := repos.Profile.Create(ctx, p); err != nil {
		t.Fatalf("create profile %s: %v", username, err)
	}
	personal := &model.Space{Name: "Personal", Type: model.SpaceTypePersonal, OwnerID: p.UserID}
	if err := repos.Space.Create(ctx, personal); err != nil {
		t.Fatalf("create personal space %s: %v", username, err)
	}
	return p
}

// CreateSharedSpace 创建共享空间，owner 为管理员，其余为普通成员
func CreateSharedSpace(t testing.TB, repos *repository.Repositories, name string, owner *model.Profile, members ...*model.Profile) *model.Space {
	t.Helper()
	ctx := context.Background()

	space := &model.Space{Name: name, Type: model.SpaceTypeShared, OwnerID: owner.UserID}
	if err := repos.Space.Create(ctx, space); err != nil {
		t.Fatalf("create space %s: %v", name, err)
	}
	for _, m := range members {
		if err := repos.Space.AddMember(ctx, space.ID, m.UserID, model.RoleMember); err != nil {
			t.Fatalf("add member %s: %v", m.Username, err)
		}
	}
	return space
}

// PersonalSpace 用户的个人空间
func PersonalSpace(t testing.TB, repos *repository.Repositories, userID uuid.UUID) *model.Space {
	t.Helper()
	space, err := repos.Space.FindPersonal(context.Background(), userID)
	if err != nil || space == nil {
		t.Fatalf("personal space for %s: %v", userID, err)
	}
	return space
}
