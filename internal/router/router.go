package router

import (
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/user/flicklog/internal/handler"
	"github.com/user/flicklog/internal/middleware"
)

const sessionName = "flicklog_session"

// NewEngine 创建 gin 实例并挂载公共中间件与路由
func NewEngine(h *handler.Handler, prov middleware.Provisioner) *gin.Engine {
	if h.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())

	// 启用 gzip，websocket 与指标端点除外
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/ws", "/metrics"})))

	// 设置 Session 中间件（保存当前空间）
	store := cookie.NewStore([]byte(h.Config.AppSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30, // 30 天
		HttpOnly: true,
		Secure:   h.Config.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionName, store))

	RegisterRoutes(r, h, prov)
	return r
}

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, h *handler.Handler, prov middleware.Provisioner) {
	// 健康检查
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(middleware.RequireAuth(h.Config.JWTSecret, prov))
	{
		// 用户
		api.GET("/me", h.Me)
		api.PUT("/me/profile", h.UpdateProfile)
		api.POST("/onboarding", h.CompleteOnboarding)
		api.PUT("/session/space", h.SetActiveSpace)

		// 空间
		api.GET("/spaces", h.ListSpaces)
		api.POST("/spaces", h.CreateSpace)
		api.GET("/spaces/:id", h.GetSpace)
		api.POST("/spaces/:id/members", h.InviteMember)
		api.DELETE("/spaces/:id/members/:userId", h.RemoveMember)
		api.PUT("/spaces/:id/webhook", h.SaveWebhook)
		api.GET("/spaces/:id/stats", h.SpaceStats)

		// 记录与评分
		api.GET("/spaces/:id/entries", h.ListEntries)
		api.POST("/spaces/:id/entries", h.CreateEntry)
		api.POST("/entries", h.CreateEntryInActiveSpace)
		api.GET("/pending", h.ListPending)
		api.POST("/pending/:logEntryId", h.CompletePending)
		api.GET("/rewind", h.Rewind)
		api.GET("/search", h.Search)

		// 实时推送
		api.GET("/ws", h.WebSocket)
	}
}
