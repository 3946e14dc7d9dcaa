package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/user/flicklog/internal/config"
	"github.com/user/flicklog/internal/logging"
	"github.com/user/flicklog/internal/realtime"
	"github.com/user/flicklog/internal/service"
	"github.com/user/flicklog/internal/utils"
)

// sessionActiveSpace 会话中保存的当前空间
const sessionActiveSpace = "active_space"

// Services 处理器依赖的业务服务
type Services struct {
	Log     *service.LogService
	Stats   *service.StatsService
	Rewind  *service.RewindService
	Space   *service.SpaceService
	Profile *service.ProfileService
	Library *service.LibraryService
}

// Handler HTTP 处理器
type Handler struct {
	Config   *config.Config
	Services Services
	Hub      *realtime.Hub
}

// NewHandler 创建处理器
func NewHandler(cfg *config.Config, services Services, hub *realtime.Hub) *Handler {
	return &Handler{
		Config:   cfg,
		Services: services,
		Hub:      hub,
	}
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "site": h.Config.SiteName})
}

// respondError 领域错误映射为 HTTP 状态码
func respondError(c *gin.Context, err error) {
	e, ok := service.AsError(err)
	if !ok {
		logging.Error().Err(err).Str("path", c.FullPath()).Msg("[Handler] 未知错误")
		utils.InternalServerError(c, "")
		return
	}

	switch e.Kind {
	case service.KindNotAuthenticated:
		utils.Unauthorized(c, e.Message)
	case service.KindPermissionDenied:
		utils.Error(c, http.StatusForbidden, e.Message)
	case service.KindValidation:
		utils.ValidationError(c, e.Message, e.FieldErrors)
	case service.KindNotFound:
		utils.NotFound(c, e.Message)
	case service.KindConflict:
		utils.Error(c, http.StatusConflict, e.Message)
	default:
		utils.InternalServerError(c, e.Message)
	}
}

// paramUUID 解析路径参数，失败时直接返回 404
func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		utils.NotFound(c, "")
		return uuid.Nil, false
	}
	return id, true
}

// bindJSON 解析请求体，格式错误返回 400
func bindJSON(c *gin.Context, target interface{}) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		utils.BadRequest(c, "无效的请求数据")
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

// activeSpace 会话中的当前空间，未设置时为 uuid.Nil（个人空间）
func activeSpace(c *gin.Context) uuid.UUID {
	session := sessions.Default(c)
	raw, ok := session.Get(sessionActiveSpace).(string)
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil
	}
	return id
}
