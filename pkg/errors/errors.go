package errors

import (
	"errors"
	"fmt"
)

// AppError 应用错误类型
// 错误码 + 可读消息，Err 保留原始错误用于排查
type AppError struct {
	Code    int    // 错误码
	Message string // 可读的错误消息
	Err     error  // 原始错误（可选）
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
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Is 判断是否为指定错误（按错误码比较）
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
	return "internal error"
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 购物车相关 20000-20999
	CodeInvalidItem = 20001

	// 会话/消息相关 21000-21999
	CodeNoConversation = 21001
	CodeEmptyContent   = 21002
	CodeInvalidToken   = 21003

	// 网络/传输相关 30000-30999
	CodeNetwork        = 30001
	CodeBadStatus      = 30002
	CodeInvalidPayload = 30003
	CodeUnavailable    = 30004

	// 系统错误 50000-50999
	CodeServerError = 50001
	CodeStorage     = 50002
)

// ============== 预定义错误 ==============

// 购物车相关
var (
	ErrInvalidItem = NewError(CodeInvalidItem, "cart item requires id and storeId")
)

// 会话/消息相关
var (
	ErrNoConversation = NewError(CodeNoConversation, "no conversation is open")
	ErrEmptyContent   = NewError(CodeEmptyContent, "message content is empty")
	ErrInvalidToken   = NewError(CodeInvalidToken, "access token is invalid")
)

// 网络/传输相关
var (
	ErrNetwork        = NewError(CodeNetwork, "network request failed")
	ErrBadStatus      = NewError(CodeBadStatus, "unexpected response status")
	ErrInvalidPayload = NewError(CodeInvalidPayload, "malformed payload")
	ErrUnavailable    = NewError(CodeUnavailable, "backend temporarily unavailable")
)

// 系统相关
var (
	ErrServerError = NewError(CodeServerError, "internal error")
	ErrStorage     = NewError(CodeStorage, "durable storage unavailable")
)
