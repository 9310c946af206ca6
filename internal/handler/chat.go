package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"sudooom.im.chat/internal/middleware"
	"sudooom.im.chat/pkg/response"
)

// ChatHandler 会话查询处理器
type ChatHandler struct {
	queries ChatQueries
}

// NewChatHandler 创建会话处理器
func NewChatHandler(queries ChatQueries) *ChatHandler {
	return &ChatHandler{queries: queries}
}

// GetHistory 获取与对方的历史消息
// GET /api/v1/chat/history/:peerId
func (h *ChatHandler) GetHistory(c *gin.Context) {
	userID := middleware.GetUserID(c)

	hist, err := h.queries.History(c.Request.Context(), userID, c.Param("peerId"))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, hist)
}

// GetChatList 分页获取会话列表
// GET /api/v1/chat/list?page=1&limit=20&search=
func (h *ChatHandler) GetChatList(c *gin.Context) {
	userID := middleware.GetUserID(c)
	page, limit := pageParams(c)

	list, err := h.queries.ListConversations(c.Request.Context(), userID, page, limit, c.Query("search"))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, list)
}

// GetUnreadTotals 未读统计
// GET /api/v1/chat/unread
func (h *ChatHandler) GetUnreadTotals(c *gin.Context) {
	userID := middleware.GetUserID(c)

	totals, err := h.queries.UnreadTotals(c.Request.Context(), userID)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, totals)
}

// UpdateFlagRequest 会话标记请求
type UpdateFlagRequest struct {
	Action string `json:"action" binding:"required"`
	Value  *bool  `json:"value" binding:"required"`
}

// UpdateFlag 置顶、归档或免打扰
// PATCH /api/v1/chat/:conversationId/flags
func (h *ChatHandler) UpdateFlag(c *gin.Context) {
	userID := middleware.GetUserID(c)
	conversationID := c.Param("conversationId")

	var req UpdateFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	if err := h.queries.UpdateFlag(c.Request.Context(), userID, conversationID, req.Action, *req.Value); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, gin.H{
		"conversationId": conversationID,
		"action":         req.Action,
		"value":          *req.Value,
	})
}

// GetProfile 按公开账号名查询资料
// GET /api/v1/chat/user/:userid
func (h *ChatHandler) GetProfile(c *gin.Context) {
	profile, err := h.queries.ProfileByHandle(c.Request.Context(), c.Param("userid"))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, profile)
}

// pageParams 解析分页参数，非法值交给服务层按默认值处理
func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	return page, limit
}
