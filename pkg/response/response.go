package response

import (
	"errors"
	"net/http"
	"time"

	"crypto-payment-gateway/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Data      any `json:"data"`
	RequestID string      `json:"request_id"`
	Timestamp string      `json:"timestamp"`
}

// PagedResponse is the success envelope for list endpoints.
type PagedResponse struct {
	Data      any `json:"data"`
	Total     int64       `json:"total"`
	Page      int         `json:"page"`
	PageSize  int         `json:"page_size"`
	RequestID string      `json:"request_id"`
	Timestamp string      `json:"timestamp"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// OK sends a 200 response with data.
func OK(c *gin.Context, data any) {
	success(c, http.StatusOK, data)
}

// Created sends a 201 response with data.
func Created(c *gin.Context, data any) {
	success(c, http.StatusCreated, data)
}

// Paged sends a 200 response for a page of results.
func Paged(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, PagedResponse{
		Data:      data,
		Total:     total,
		Page:      page,
		PageSize:  pageSize,
		RequestID: getRequestID(c),
		Timestamp: timestamp(),
	})
}

func success(c *gin.Context, status int, data any) {
	c.JSON(status, SuccessResponse{Data: data, RequestID: getRequestID(c), Timestamp: timestamp()})
}

// internalError is sent for anything that is not an *apperror.AppError.
// Its message never carries the underlying error.
var internalError = apperror.New("SYS_000", "Internal server error", http.StatusInternalServerError, apperror.KindInternal)

// Error maps err to its HTTP status and error envelope.
func Error(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		appErr = internalError
	}
	if appErr.Retryable() && c.Writer.Header().Get("Retry-After") == "" {
		c.Header("Retry-After", "1")
	}
	c.JSON(appErr.HTTPStatus, ErrorResponse{
		ErrorCode: appErr.Code,
		Message:   appErr.Message,
		ErrorType: string(appErr.Kind),
		Retryable: appErr.Retryable(),
		RequestID: getRequestID(c),
		Timestamp: timestamp(),
	})
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// getRequestID retrieves request ID from context, or generates one.
func getRequestID(c *gin.Context) string {
	if id, exists := c.Get("request_id"); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return uuid.New().String()
}
