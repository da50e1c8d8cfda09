package handler

import (
	"net/http"

	"github.com/crowdfundme/crowdfund-server/internal/apperr"
	"github.com/crowdfundme/crowdfund-server/internal/logger"
	"github.com/gin-gonic/gin"
)

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
		Data:    nil,
	})
}

// statusOf 错误分类对应的HTTP状态码
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindCampaignCompleted:
		return http.StatusConflict
	case apperr.KindUnauthorized:
		return http.StatusForbidden
	case apperr.KindVerification, apperr.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	case apperr.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppErrorResponse 按错误分类返回，内部错误只记录日志不暴露细节
func AppErrorResponse(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		logger.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	} else {
		logger.Warn("%s %s rejected (%s): %v", c.Request.Method, c.FullPath(), kind, err)
	}
	c.JSON(statusOf(kind), Response{
		Success: false,
		Message: apperr.PublicMessage(err),
		Data:    gin.H{"code": kind.String()},
	})
}
