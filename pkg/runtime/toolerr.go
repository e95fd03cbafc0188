package runtime

import (
	"errors"

	apperrors "github.com/parley-ai/parley/pkg/errors"
)

// ToolErrorResult wraps a tool failure into the structured payload the
// model receives as the function response. Failures stay inside the
// conversation instead of aborting the turn, so the model can react.
func ToolErrorResult(toolName string, err error) map[string]any {
	errName := apperrors.ErrCodeToolExecution
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		errName = appErr.Code
	}
	return map[string]any{
		"status":        "error",
		"tool":          toolName,
		"error_name":    errName,
		"error_message": err.Error(),
	}
}
