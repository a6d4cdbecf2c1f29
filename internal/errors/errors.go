// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 错误分类，HTTP 层据此选择状态码
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation_error"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeError        ErrorType = "processing_error"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeTimeout      ErrorType = "timeout"

	// 存储与生成后端
	ErrorTypePersistence ErrorType = "persistence_error"
	ErrorTypeBackend     ErrorType = "backend_error"
)

var errorCodes = map[ErrorType]string{
	ErrorTypeValidation:   "VALIDATION_ERROR",
	ErrorTypeNotFound:     "NOT_FOUND",
	ErrorTypeError:        "PROCESSING_ERROR",
	ErrorTypeUnauthorized: "UNAUTHORIZED",
	ErrorTypeConflict:     "CONFLICT",
	ErrorTypeTimeout:      "TIMEOUT",
	ErrorTypePersistence:  "PERSISTENCE_ERROR",
	ErrorTypeBackend:      "BACKEND_ERROR",
}

// AppError 带分类的应用错误
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建 AppError，Code 由类型决定
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	code, ok := errorCodes[errType]
	if !ok {
		code = "UNKNOWN_ERROR"
	}
	return &AppError{Type: errType, Message: message, Err: cause, Code: code}
}

func NewValidationError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, cause)
}

func NewProcessingError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeError, message, cause)
}

func NewUnauthorizedError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeUnauthorized, message, cause)
}

func NewConflictError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeConflict, message, cause)
}

func NewTimeoutError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeTimeout, message, cause)
}

// NewPersistenceError 保存失败，轮次中唯一返回给调用方的错误
func NewPersistenceError(message string, cause error) *AppError {
	return NewAppError(ErrorTypePersistence, message, cause)
}

// NewBackendError 生成后端不可用或返回错误
func NewBackendError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeBackend, message, cause)
}

// TypeOf 返回错误链中第一个 AppError 的类型，没有则为空
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ""
}

func IsValidationError(err error) bool   { return TypeOf(err) == ErrorTypeValidation }
func IsNotFoundError(err error) bool     { return TypeOf(err) == ErrorTypeNotFound }
func IsUnauthorizedError(err error) bool { return TypeOf(err) == ErrorTypeUnauthorized }
func IsConflictError(err error) bool     { return TypeOf(err) == ErrorTypeConflict }
func IsTimeoutError(err error) bool      { return TypeOf(err) == ErrorTypeTimeout }
func IsPersistenceError(err error) bool  { return TypeOf(err) == ErrorTypePersistence }

// WrapError 为错误添加上下文；已是 AppError 时保留其类型和代码
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		return &AppError{
			Type:    appError.Type,
			Message: message,
			Err:     err,
			Code:    appError.Code,
		}
	}
	return NewAppError(errType, message, err)
}
