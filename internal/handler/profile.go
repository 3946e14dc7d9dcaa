package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/user/flicklog/internal/middleware"
	"github.com/user/flicklog/internal/service"
	"github.com/user/flicklog/internal/utils"
)

// Me 当前用户资料
func (h *Handler) Me(c *gin.Context) {
	user := middleware.GetCurrentUser(c)
	profile, err := h.Services.Profile.GetProfile(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, gin.H{
		"email":        user.Email,
		"profile":      profile,
		"active_space": activeSpaceJSON(c),
	})
}

// UpdateProfile 修改用户名、昵称、头像
func (h *Handler) UpdateProfile(c *gin.Context) {
	var in service.ProfileInput
	if !bindJSON(c, &in) {
		return
	}
	profile, err := h.Services.Profile.UpdateProfile(c.Request.Context(), middleware.GetUserID(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, profile)
}

// CompleteOnboarding 新手引导：三部影视的初始评分
func (h *Handler) CompleteOnboarding(c *gin.Context) {
	var in service.OnboardingInput
	if !bindJSON(c, &in) {
		return
	}
	if err := h.Services.Profile.CompleteOnboarding(c.Request.Context(), middleware.GetUserID(c), in); err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, gin.H{"has_completed_onboarding": true})
}

func activeSpaceJSON(c *gin.Context) interface{} {
	if id := activeSpace(c); id != uuid.Nil {
		return id
	}
	return nil
}
