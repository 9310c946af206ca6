package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError 应用错误类型
// 用于统一管理业务错误，包含错误码和错误消息
type AppError struct {
	Code    int    // 错误码
	Message string // 用户可见的错误消息
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{Code: e.Code, Message: e.Message, Err: err}
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

// HTTPStatus 错误码对应的 HTTP 状态码
func HTTPStatus(code int) int {
	switch {
	case code == CodeSuccess:
		return http.StatusOK
	case code >= 11000 && code < 12000:
		return http.StatusBadRequest
	case code >= 13000 && code < 14000:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 参数校验 11000-11999
	CodeInvalidParams     = 11002
	CodeCannotMessageSelf = 11003
	CodeUnknownAccount    = 11004
	CodeNotParticipant    = 11005
	CodeInvalidAction     = 11006

	// 资源不存在 13000-13999
	CodeConversationNotFound = 13001
	CodeMessageNotFound      = 13002
	CodeNotificationNotFound = 13003
	CodeAccountNotFound      = 13004

	// 系统错误 50000-50999
	CodeServerError = 50001
	CodeDBError     = 50002
	CodeCacheError  = 50004
)

// ============== 预定义错误 ==============

// 参数校验
var (
	ErrInvalidParams     = NewError(CodeInvalidParams, "invalid parameters")
	ErrCannotMessageSelf = NewError(CodeCannotMessageSelf, "cannot send a message to yourself")
	ErrUnknownAccount    = NewError(CodeUnknownAccount, "participant does not exist")
	ErrNotParticipant    = NewError(CodeNotParticipant, "user is not a participant of this conversation")
	ErrInvalidAction     = NewError(CodeInvalidAction, "invalid action")
)

// 资源不存在
var (
	ErrConversationNotFound = NewError(CodeConversationNotFound, "conversation not found")
	ErrMessageNotFound      = NewError(CodeMessageNotFound, "message not found")
	ErrNotificationNotFound = NewError(CodeNotificationNotFound, "notification not found")
	ErrAccountNotFound      = NewError(CodeAccountNotFound, "account not found")
)

// 系统相关
var (
	ErrServerError = NewError(CodeServerError, "internal server error")
	ErrDBError     = NewError(CodeDBError, "database error")
	ErrCacheError  = NewError(CodeCacheError, "cache error")
)
