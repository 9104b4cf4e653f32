// internal/utils/response.go
package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestIDKey is the gin context key holding the request id
const RequestIDKey = "request_id"

// APIResponse is the envelope of every REST reply
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError carries a stable machine-readable code
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// statusCodes are the fallback codes when the caller has none more specific
var statusCodes = map[int]string{
	http.StatusBadRequest:          "BAD_REQUEST",
	http.StatusNotFound:            "NOT_FOUND",
	http.StatusConflict:            "CONFLICT",
	http.StatusInternalServerError: "INTERNAL_SERVER_ERROR",
	http.StatusServiceUnavailable:  "SERVICE_UNAVAILABLE",
}

// StatusErrorCode returns the generic code for an HTTP status
func StatusErrorCode(status int) string {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	return "UNKNOWN_ERROR"
}

func envelope(c *gin.Context, success bool, message string) APIResponse {
	return APIResponse{
		Success:   success,
		Message:   message,
		Timestamp: time.Now(),
		RequestID: c.GetString(RequestIDKey),
	}
}

// SuccessResponse writes a successful reply
func SuccessResponse(c *gin.Context, status int, message string, data interface{}) {
	resp := envelope(c, true, message)
	resp.Data = data
	c.JSON(status, resp)
}

// ErrorResponse writes a failure whose code follows from the status
func ErrorResponse(c *gin.Context, status int, message string, err error) {
	ErrorCodeResponse(c, status, StatusErrorCode(status), message, err)
}

// ErrorCodeResponse writes a failure with an explicit code
func ErrorCodeResponse(c *gin.Context, status int, code, message string, err error) {
	apiErr := &APIError{Code: code, Message: message}
	if err != nil {
		apiErr.Details = err.Error()
	}

	resp := envelope(c, false, message)
	resp.Error = apiErr
	c.JSON(status, resp)
}

// ValidationErrorResponse reports rejected request fields
func ValidationErrorResponse(c *gin.Context, fields map[string]string) {
	resp := envelope(c, false, "Validation failed")
	resp.Error = &APIError{Code: "VALIDATION_ERROR", Message: "Request validation failed"}
	resp.Data = gin.H{"validation_errors": fields}
	c.JSON(http.StatusBadRequest, resp)
}
