package apperr

import "github.com/greenvalley/quoting/pkg/zerror"

const (
	ValidationErrorCode = "VALIDATION_FAILED"

	ProductNotFoundCode = "PRODUCT_NOT_FOUND"
	QuoteNotFoundCode   = "QUOTE_NOT_FOUND"
	TaskNotFoundCode    = "PROPAGATION_TASK_NOT_FOUND"

	TaskNotResumableCode = "PROPAGATION_TASK_NOT_RESUMABLE"
)

var (
	ValidationErr = zerror.NewValidationFailed(ValidationErrorCode, "validation error")

	ProductNotFoundErr = zerror.NewNotFound(ProductNotFoundCode, "product not found")
	QuoteNotFoundErr   = zerror.NewNotFound(QuoteNotFoundCode, "quote not found")
	TaskNotFoundErr    = zerror.NewNotFound(TaskNotFoundCode, "propagation task not found")

	TaskNotResumableErr = zerror.NewConflict(TaskNotResumableCode, "propagation task is not in a resumable state")
)
