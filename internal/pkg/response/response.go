package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/lk2023060901/vision-backend/internal/pkg/errors"
)

// Response 统一响应结构
type Response struct {
	Code      int         `json:"code"`                // 业务错误码（0表示成功）
	Message   string      `json:"message,omitempty"`   // 提示信息
	Retryable bool        `json:"retryable,omitempty"` // 原样重试是否可能成功
	Data      interface{} `json:"data"`                // 实际数据（可能为空对象 {}）
}

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, data)
}

// Created 创建资源成功（201）
func Created(c *gin.Context, data interface{}) {
	write(c, http.StatusCreated, data)
}

func write(c *gin.Context, status int, data interface{}) {
	if data == nil {
		data = struct{}{}
	}
	c.JSON(status, Response{
		Code: apperrors.Success,
		Data: data,
	})
}

// Error 错误响应
func Error(c *gin.Context, httpStatus int, message string) {
	c.JSON(httpStatus, Response{
		Code:    httpStatus,
		Message: message,
		Data:    struct{}{},
	})
}

// BadRequest 400 错误
func BadRequest(c *gin.Context, message string) {
	ErrorWithCode(c, apperrors.ErrBadRequest, message)
}

// Unauthorized 401 错误
func Unauthorized(c *gin.Context, message string) {
	ErrorWithCode(c, apperrors.ErrUnauthorized, message)
}

// HandleError 统一错误处理（使用AppError）
func HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	code := apperrors.ExtractCode(err)
	details := apperrors.GetDetails(err)
	if code == apperrors.ErrInternalServer {
		// 未分类错误不向调用方暴露内部细节
		details = ""
	}
	ErrorWithCode(c, code, details)
}

// ErrorWithCode 使用错误码的错误响应
func ErrorWithCode(c *gin.Context, code int, details ...string) {
	c.AbortWithStatusJSON(apperrors.GetHTTPStatus(code), Response{
		Code:      code,
		Message:   apperrors.FormatError(code, details...),
		Retryable: apperrors.IsRetryable(code),
		Data:      struct{}{},
	})
}
