package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/user/flicklog/internal/logging"
	"github.com/user/flicklog/internal/middleware"
	"github.com/user/flicklog/internal/realtime"
	"github.com/user/flicklog/internal/service"
	"github.com/user/flicklog/internal/utils"
)

// ListEntries 空间内的记录（分页）
func (h *Handler) ListEntries(c *gin.Context) {
	spaceID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	page, err := h.Services.Library.ListEntries(c.Request.Context(), middleware.GetUserID(c), spaceID,
		queryInt(c, "limit", 0), queryInt(c, "offset", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, page)
}

// CreateEntry 在指定空间记录一部影视
func (h *Handler) CreateEntry(c *gin.Context) {
	spaceID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	h.createEntry(c, spaceID)
}

// CreateEntryInActiveSpace 记录到当前空间（未选择时为个人空间）
func (h *Handler) CreateEntryInActiveSpace(c *gin.Context) {
	h.createEntry(c, activeSpace(c))
}

func (h *Handler) createEntry(c *gin.Context, spaceID uuid.UUID) {
	var in service.LogEntryInput
	if !bindJSON(c, &in) {
		return
	}
	result, err := h.Services.Log.CreateLogEntry(c.Request.Context(), middleware.GetUserID(c), spaceID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Created(c, result)
}

// SpaceStats 空间统计
func (h *Handler) SpaceStats(c *gin.Context) {
	spaceID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	stats, err := h.Services.Stats.SpaceStats(c.Request.Context(), middleware.GetUserID(c), spaceID)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, stats)
}

// Rewind 往年今日
func (h *Handler) Rewind(c *gin.Context) {
	entries, err := h.Services.Rewind.Rewind(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, entries)
}

// ListPending 我的待评分
func (h *Handler) ListPending(c *gin.Context) {
	pendings, err := h.Services.Library.ListPending(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, pendings)
}

// CompletePending 补完待评分
func (h *Handler) CompletePending(c *gin.Context) {
	entryID, ok := paramUUID(c, "logEntryId")
	if !ok {
		return
	}
	var in service.RatingInput
	if !bindJSON(c, &in) {
		return
	}
	result, err := h.Services.Log.CompletePendingRating(c.Request.Context(), middleware.GetUserID(c), entryID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Created(c, result)
}

// Search 影视搜索
func (h *Handler) Search(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		utils.BadRequest(c, "搜索关键词不能为空")
		return
	}
	utils.Success(c, h.Services.Library.Search(c.Request.Context(), q))
}

// WebSocket 实时推送通道
func (h *Handler) WebSocket(c *gin.Context) {
	if err := realtime.ServeWS(h.Hub, c.Writer, c.Request, middleware.GetUserID(c)); err != nil {
		// 升级失败时 upgrader 已写入响应
		logging.Debug().Err(err).Msg("[Handler] websocket 升级失败")
	}
}
