// internal/api/response_helpers.go
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/sumanurawat/storyboarder/internal/errors"
	"github.com/sumanurawat/storyboarder/internal/services"
)

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct{}

// NewResponseHelper 创建响应助手
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success 成功响应
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	rh.write(c, http.StatusOK, data, message...)
}

// Created 创建成功响应
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	rh.write(c, http.StatusCreated, data, message...)
}

// Accepted 已接受，异步处理
func (rh *ResponseHelper) Accepted(c *gin.Context, data interface{}, message ...string) {
	rh.write(c, http.StatusAccepted, data, message...)
}

func (rh *ResponseHelper) write(c *gin.Context, status int, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}
	if len(message) > 0 {
		response.Message = message[0]
	}
	c.JSON(status, response)
}

// sensitiveMarkers 出现在错误描述中时整条描述被替换
var sensitiveMarkers = []string{"api_key", "apikey", "secret", "token", "password", "bearer"}

// sanitizeErrorMessage removes sensitive information from error messages
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}
	if len(details) > 0 && details[0] != "" {
		apiError.Details = sanitizeErrorMessage(details[0])
	}

	c.JSON(statusCode, &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	})
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// NotFound 404错误响应
func (rh *ResponseHelper) NotFound(c *gin.Context, resource string, details ...string) {
	code := ErrorNotFound
	if resource == "project" {
		code = ErrorProjectNotFound
	}
	rh.Error(c, http.StatusNotFound, code, resource+" not found", details...)
}

// Conflict 409错误响应
func (rh *ResponseHelper) Conflict(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusConflict, ErrorConflict, message, details...)
}

// InternalError 500错误响应
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// FromError 按 AppError 类型映射状态码
func (rh *ResponseHelper) FromError(c *gin.Context, err error) {
	message := err.Error()
	details := ""
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
		if appErr.Err != nil {
			details = appErr.Err.Error()
		}
	}

	switch {
	case errors.Is(err, services.ErrTurnInFlight):
		rh.Error(c, http.StatusConflict, ErrorTurnInFlight, message)
	case errors.Is(err, services.ErrLLMNotReady):
		rh.Error(c, http.StatusServiceUnavailable, ErrorAPIKeyMissing, "OpenRouter API key not configured")
	default:
		switch apperrors.TypeOf(err) {
		case apperrors.ErrorTypeValidation:
			rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details)
		case apperrors.ErrorTypeNotFound:
			rh.Error(c, http.StatusNotFound, ErrorProjectNotFound, message)
		case apperrors.ErrorTypeConflict:
			rh.Error(c, http.StatusConflict, ErrorConflict, message, details)
		case apperrors.ErrorTypeUnauthorized:
			rh.Error(c, http.StatusUnauthorized, ErrorUnauthorized, message)
		case apperrors.ErrorTypeTimeout:
			rh.Error(c, http.StatusGatewayTimeout, ErrorTimeout, message, details)
		case apperrors.ErrorTypePersistence:
			rh.Error(c, http.StatusInternalServerError, ErrorPersistence, message, details)
		case apperrors.ErrorTypeBackend:
			rh.Error(c, http.StatusBadGateway, ErrorLLMServiceUnavailable, message, details)
		default:
			rh.InternalError(c, message, details)
		}
	}
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
