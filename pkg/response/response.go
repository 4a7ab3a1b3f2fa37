package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Machine-readable error codes returned next to the human message.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeUnauthorized     = "unauthorized"
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
	CodeRateLimited      = "rate_limited"
	CodeRailError        = "rail_error"
	CodeServerError      = "server_error"
	CodeDuplicateRequest = "duplicate_request"
	CodeNotRefundable    = "not_refundable"
	CodeBatchInProgress  = "batch_in_progress"
)

type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

func Error(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: message, Code: code})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeInvalidRequest, message)
}

func Unauthorized(c *gin.Context) {
	Error(c, http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, CodeNotFound, message)
}

func Conflict(c *gin.Context, code, message string) {
	Error(c, http.StatusConflict, code, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeServerError, message)
}
