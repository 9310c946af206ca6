package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"sudooom.im.chat/internal/errs"
	"sudooom.im.chat/pkg/response"
)

// HeaderUserID 调用方身份由上游网关注入
const HeaderUserID = "X-User-ID"

const userIDKey = "user_id"

// UserIdentity 读取调用方用户 ID，缺失时拒绝请求
func UserIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			response.ErrorWithMsg(c, errs.CodeInvalidParams, "missing "+HeaderUserID+" header")
			c.Abort()
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// GetUserID 从 context 获取 user_id
func GetUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
