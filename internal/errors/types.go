package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	ErrCodeInternalServer  ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"

	// 验证错误
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeMissingRequired  ErrorCode = "MISSING_REQUIRED"

	// 对话历史
	ErrCodeResourceNotFound  ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeInvalidIdentifier ErrorCode = "INVALID_IDENTIFIER"

	// 数据库错误
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"

	// 外部服务错误（向量库、嵌入、语言模型）
	ErrCodeUpstream ErrorCode = "UPSTREAM_ERROR"

	// 文件处理错误
	ErrCodeIngestion         ErrorCode = "INGESTION_FAILED"
	ErrCodeInvalidFileFormat ErrorCode = "INVALID_FILE_FORMAT"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeBusiness:
		return "business"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeExternal:
		return "external"
	default:
		return "system"
	}
}

// AppError 应用错误结构体
type AppError struct {
	Code     ErrorCode   `json:"code"`
	Message  string      `json:"message"`
	Type     ErrorType   `json:"type"`
	HTTPCode int         `json:"-"`
	Details  interface{} `json:"details,omitempty"`
	Cause    error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewValidationError 创建验证错误，请求边界返回400
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewNotFoundError 创建资源未找到错误
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:     ErrCodeResourceNotFound,
		Message:  fmt.Sprintf("%s not found", resource),
		Type:     ErrorTypeBusiness,
		HTTPCode: http.StatusNotFound,
	}
}

// NewInvalidIdentifierError 标识符格式不符合存储后端要求
func NewInvalidIdentifierError(id string) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidIdentifier,
		Message:  fmt.Sprintf("invalid identifier %q", id),
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewUpstreamError 包装向量库、嵌入或模型调用失败
func NewUpstreamError(stage string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodeUpstream,
		Message:  fmt.Sprintf("%s failed", stage),
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

// NewIngestionError 文件解析、切分或写入失败
func NewIngestionError(message string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodeIngestion,
		Message:  message,
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

// NewDatabaseError 数据库访问失败
func NewDatabaseError(op string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodeDatabaseError,
		Message:  fmt.Sprintf("database %s failed", op),
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

// IsAppError 检查是否为AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)
}

// HasCode 判断错误链中是否含有指定错误码
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
