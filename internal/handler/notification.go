package handler

import (
	"github.com/gin-gonic/gin"

	"sudooom.im.chat/internal/middleware"
	"sudooom.im.chat/internal/model"
	"sudooom.im.chat/internal/service"
	"sudooom.im.chat/pkg/response"
)

// NotificationHandler 通知处理器
type NotificationHandler struct {
	notifications Notifications
}

// NewNotificationHandler 创建通知处理器
func NewNotificationHandler(notifications Notifications) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List 分页获取通知
// GET /api/v1/notifications?page=1&limit=20
func (h *NotificationHandler) List(c *gin.Context) {
	userID := middleware.GetUserID(c)
	page, limit := pageParams(c)

	result, err := h.notifications.List(c.Request.Context(), userID, page, limit)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, result)
}

// MarkRead 标记单条通知已读
// PATCH /api/v1/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID := middleware.GetUserID(c)

	if err := h.notifications.MarkRead(c.Request.Context(), userID, c.Param("id")); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, nil)
}

// MarkAllRead 标记全部通知已读
// PATCH /api/v1/notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID := middleware.GetUserID(c)

	n, err := h.notifications.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, gin.H{"updated": n})
}

// Delete 删除单条通知
// DELETE /api/v1/notifications/:id
func (h *NotificationHandler) Delete(c *gin.Context) {
	userID := middleware.GetUserID(c)

	if err := h.notifications.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, nil)
}

// DeleteAll 清空通知
// DELETE /api/v1/notifications
func (h *NotificationHandler) DeleteAll(c *gin.Context) {
	userID := middleware.GetUserID(c)

	n, err := h.notifications.DeleteAll(c.Request.Context(), userID)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, gin.H{"deleted": n})
}

// GetSettings 获取通知设置
// GET /api/v1/notifications/settings
func (h *NotificationHandler) GetSettings(c *gin.Context) {
	userID := middleware.GetUserID(c)

	settings, err := h.notifications.Settings(c.Request.Context(), userID)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, settings)
}

// UpdateSettings 更新通知设置
// PUT /api/v1/notifications/settings
func (h *NotificationHandler) UpdateSettings(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var patch service.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	settings, err := h.notifications.UpdateSettings(c.Request.Context(), userID, patch)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, settings)
}

// NotifyRequest 其他服务投递通知
type NotifyRequest struct {
	RecipientID string `json:"recipientId" binding:"required"`
	Type        string `json:"type" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Message     string `json:"message"`
	Avatar      string `json:"avatar"`
	Icon        string `json:"icon"`
	Link        string `json:"link"`
}

// Notify 投递通知
// POST /api/v1/internal/notifications
func (h *NotificationHandler) Notify(c *gin.Context) {
	var req NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	stored, err := h.notifications.Notify(c.Request.Context(), req.RecipientID, model.Notification{
		Type:    req.Type,
		Title:   req.Title,
		Message: req.Message,
		Avatar:  req.Avatar,
		Icon:    req.Icon,
		Link:    req.Link,
	})
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	// 接收方关闭了该类别时 delivered=false
	response.Success(c, gin.H{
		"delivered":    stored != nil,
		"notification": stored,
	})
}
