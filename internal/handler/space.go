package handler

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/user/flicklog/internal/logging"
	"github.com/user/flicklog/internal/middleware"
	"github.com/user/flicklog/internal/utils"
)

// ListSpaces 我加入的空间
func (h *Handler) ListSpaces(c *gin.Context) {
	spaces, err := h.Services.Space.ListSpaces(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, spaces)
}

// CreateSpace 创建共享空间
func (h *Handler) CreateSpace(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if !bindJSON(c, &req) {
		return
	}
	space, err := h.Services.Space.CreateSpace(c.Request.Context(), middleware.GetUserID(c), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Created(c, space)
}

// GetSpace 空间详情与成员
func (h *Handler) GetSpace(c *gin.Context) {
	spaceID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	detail, err := h.Services.Space.GetSpace(c.Request.Context(), middleware.GetUserID(c), spaceID)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, detail)
}

// InviteMember 按用户名邀请
func (h *Handler) InviteMember(c *gin.Context) {
	spaceID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Username string `json:"username"`
	}
	if !bindJSON(c, &req) {
		return
	}
	member, err := h.Services.Space.InviteMember(c.Request.Context(), middleware.GetUserID(c), spaceID, req.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Created(c, member)
}

// RemoveMember 移除成员
func (h *Handler) RemoveMember(c *gin.Context) {
	spaceID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	targetID, ok := paramUUID(c, "userId")
	if !ok {
		return
	}
	if err := h.Services.Space.RemoveMember(c.Request.Context(), middleware.GetUserID(c), spaceID, targetID); err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, nil)
}

// SaveWebhook 设置通知地址，空字符串表示关闭
func (h *Handler) SaveWebhook(c *gin.Context) {
	spaceID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		WebhookURL string `json:"webhook_url"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := h.Services.Space.SaveWebhook(c.Request.Context(), middleware.GetUserID(c), spaceID, req.WebhookURL); err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, gin.H{"has_webhook": req.WebhookURL != ""})
}

// SetActiveSpace 切换当前空间，space_id 为空时回到个人空间
func (h *Handler) SetActiveSpace(c *gin.Context) {
	var req struct {
		SpaceID string `json:"space_id"`
	}
	if !bindJSON(c, &req) {
		return
	}

	session := sessions.Default(c)
	if req.SpaceID == "" {
		session.Delete(sessionActiveSpace)
	} else {
		spaceID, err := uuid.Parse(req.SpaceID)
		if err != nil {
			utils.ValidationError(c, "", map[string][]string{"space_id": {"无效的空间 ID"}})
			return
		}
		// 必须是成员才能切换
		if _, err := h.Services.Space.GetSpace(c.Request.Context(), middleware.GetUserID(c), spaceID); err != nil {
			respondError(c, err)
			return
		}
		session.Set(sessionActiveSpace, spaceID.String())
	}
	if err := session.Save(); err != nil {
		logging.Error().Err(err).Msg("[Handler] 保存会话失败")
		utils.InternalServerError(c, "")
		return
	}
	utils.Success(c, gin.H{"active_space": activeSpaceJSON(c)})
}
