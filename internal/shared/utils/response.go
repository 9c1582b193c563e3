package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/shared/errors"
)

type Response struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Version string         `json:"version"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Type    string `json:"type"`
}

func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, Response{
		Success: true,
		Data:    data,
		Version: "v1",
	})
}

func Error(c *gin.Context, err error) {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		appErr = errors.Wrap(err, errors.ErrCodeInternal, "An unexpected error occurred")
	}

	details := appErr.Details
	if traceID := c.GetString(string(observability.TraceIDKey)); traceID != "" && details == nil {
		details = map[string]string{"trace_id": traceID}
	}

	c.JSON(StatusCode(appErr.Code), Response{
		Success: false,
		Error: &ErrorResponse{
			Code:    string(appErr.Code),
			Message: appErr.Message,
			Details: details,
			Type:    string(appErr.ErrorType),
		},
		Version: "v1",
	})
}

// StatusCode maps an error code to the HTTP status of the admin surface.
func StatusCode(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeConfig:
		return http.StatusBadRequest
	case errors.ErrCodeAuth, errors.ErrCodeAuthExpired:
		return http.StatusUnauthorized
	case errors.ErrCodeRejected:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeTransient, errors.ErrCodeStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
