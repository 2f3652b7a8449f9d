package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"AssetRadar/pkg/apperr"
)

// StatusClientClosedRequest 客户端在响应前断开连接
const StatusClientClosedRequest = 499

// statusFor 将领域错误映射为 HTTP 状态码。
// 客户端取消可能被包装在 StorageError 中，最先判断；
// 未知资产的 ValidationError 内含 NotFoundError，因此先于 NotFound 判断校验错误
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	case apperr.IsValidation(err):
		return http.StatusBadRequest
	case apperr.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidTransition):
		return http.StatusConflict
	case apperr.IsInsufficientData(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case apperr.IsStorage(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("请求处理失败",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	} else if status == StatusClientClosedRequest {
		h.log.Debug("客户端已取消请求", zap.String("path", c.FullPath()))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(field string, err error) error {
	return &apperr.ValidationError{Field: field, Message: err.Error(), Err: err}
}
