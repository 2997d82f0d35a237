package services

import (
	stderrors "errors"

	apperrors "github.com/aihub/genai-rag/internal/errors"
	"github.com/go-playground/validator/v10"
)

var requestValidator = validator.New()

// validateRequest 校验请求结构体，失败时返回带字段明细的400错误
func validateRequest(req interface{}, message string) error {
	err := requestValidator.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return apperrors.NewValidationError(message).WithCause(err)
	}

	details := make([]map[string]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, map[string]string{
			"field": fe.Field(),
			"tag":   fe.Tag(),
		})
	}
	return apperrors.NewValidationError(message).WithDetails(map[string]interface{}{"errors": details})
}
