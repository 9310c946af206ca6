package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sudooom.im.chat/internal/errs"
)

// Response 统一响应结构
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// Success 成功响应
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Code:    errs.CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// ErrorWithMsg 自定义错误消息
func ErrorWithMsg(c *gin.Context, code int, message string) {
	c.JSON(errs.HTTPStatus(code), Response{
		Code:    code,
		Message: message,
	})
}

// InvalidParams 参数错误，附带校验信息
func InvalidParams(c *gin.Context, detail string) {
	message := errs.ErrInvalidParams.Message
	if detail != "" {
		message = message + ": " + detail
	}
	ErrorWithMsg(c, errs.CodeInvalidParams, message)
}

// ErrorFromAppError 从 AppError 生成错误响应
func ErrorFromAppError(c *gin.Context, err error) {
	code := errs.GetCode(err)
	ErrorWithMsg(c, code, errs.GetMessage(err))
}
