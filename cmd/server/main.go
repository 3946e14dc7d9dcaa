package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // 确保在精简镜像中也能识别时区

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"github.com/user/flicklog/internal/config"
	"github.com/user/flicklog/internal/events"
	"github.com/user/flicklog/internal/handler"
	"github.com/user/flicklog/internal/logging"
	"github.com/user/flicklog/internal/middleware"
	"github.com/user/flicklog/internal/realtime"
	"github.com/user/flicklog/internal/repository"
	"github.com/user/flicklog/internal/router"
	"github.com/user/flicklog/internal/service"
	"github.com/user/flicklog/internal/utils"
	"gorm.io/gorm"
)

func main() {
	// 加载环境变量
	if err := godotenv.Load(); err != nil {
		logging.Debug().Msg("未找到 .env 文件，使用系统环境变量")
	}

	root := &cli.Command{
		Name:  "flicklog",
		Usage: "Movie & TV logging for friends",
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			tokenCommand(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runServer(ctx)
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		logging.Error().Err(err).Msg("启动失败")
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run HTTP server",
		Action: func(ctx context.Context, c *cli.Command) error {
			return runServer(ctx)
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update database tables",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)
			if err := repository.AutoMigrate(db); err != nil {
				return err
			}
			logging.Info().Msg("数据库迁移完成")
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a development JWT",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true, Usage: "user uuid"},
			&cli.StringFlag{Name: "email", Value: "dev@flicklog.local"},
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.IsProduction() {
				return errors.New("生产环境不允许签发开发 Token")
			}
			userID, err := uuid.Parse(c.String("user"))
			if err != nil {
				return fmt.Errorf("无效的用户 ID: %w", err)
			}
			token, err := middleware.GenerateToken(userID, c.String("email"), cfg.JWTSecret, c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, nil
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := repository.InitDB(cfg.DatabaseURL, cfg.DB.MaxOpen, cfg.DB.MaxIdle)
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	return db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func runServer(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// 初始化数据库
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)
	if err := repository.AutoMigrate(db); err != nil {
		return err
	}
	repos := repository.NewRepositories(db)

	secrets, err := utils.NewSecretBox(cfg.AppSecret, "flicklog-webhook")
	if err != nil {
		return err
	}

	// 事件总线：事务提交后的通知与实时推送
	bus := events.NewBus(logging.NewWatermillAdapter())
	defer bus.Close()

	tmdb := service.NewTMDBService(cfg.TMDB)
	stats := service.NewStatsService(repos, tmdb, cfg.StatsCacheTTL)
	profiles := service.NewProfileService(repos, stats)
	hub := realtime.NewHub()

	h := handler.NewHandler(cfg, handler.Services{
		Log:     service.NewLogService(repos, bus, secrets, stats),
		Stats:   stats,
		Rewind:  service.NewRewindService(repos, tmdb),
		Space:   service.NewSpaceService(repos, secrets),
		Profile: profiles,
		Library: service.NewLibraryService(repos, tmdb, tmdb),
	}, hub)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 后台任务
	notifier := service.NewNotifier(bus, tmdb, cfg.Webhook)
	go func() {
		if err := notifier.Run(runCtx); err != nil {
			logging.Error().Err(err).Msg("[Notifier] 退出")
		}
	}()
	go func() {
		if err := hub.Run(runCtx, bus); err != nil {
			logging.Error().Err(err).Msg("[Realtime] 退出")
		}
	}()
	service.NewCleanupService(repos, cfg.CleanupInterval).Start(runCtx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.NewEngine(h, profiles),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msgf("服务器启动于 %s", cfg.SiteUrl)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-runCtx.Done():
		logging.Info().Msg("正在关闭服务器...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("服务器启动失败: %w", err)
		}
	}

	// 5 秒超时上下文用于关闭过程
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}

	logging.Info().Msg("服务器已退出")
	return nil
}
