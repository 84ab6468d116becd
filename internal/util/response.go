package util

import (
	"log/slog"
	"net/http"

	"github.com/almatkai/woolet-sub002/internal/apperr"

	"github.com/gin-gonic/gin"
)

// Response is the data object of a successful reply.
type Response map[string]interface{}

// business error codes
const (
	CodeOK           = 0
	CodeInvalidParam = 40001
	CodeAuth         = 40101
	CodeForbidden    = 40301
	CodeNotFound     = 40401
	CodeConflict     = 40901
	CodeServerErr    = 50001
)

// Success writes {"code":0,"data":...}.
func Success(c *gin.Context, data Response) {
	c.JSON(http.StatusOK, gin.H{
		"code": CodeOK,
		"data": data,
	})
}

// Error writes {"code":...,"message":...} with the given HTTP status.
func Error(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
	})
}

// Fail maps a service error to its HTTP status and business code. Internal
// errors are logged and replaced by a generic message.
func Fail(c *gin.Context, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindBadRequest:
		Error(c, http.StatusBadRequest, CodeInvalidParam, err.Error())
	case apperr.KindNotFound:
		Error(c, http.StatusNotFound, CodeNotFound, err.Error())
	case apperr.KindForbidden:
		Error(c, http.StatusForbidden, CodeForbidden, err.Error())
	case apperr.KindConflict:
		Error(c, http.StatusConflict, CodeConflict, err.Error())
	default:
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method, "path", c.FullPath(), "error", err)
		Error(c, http.StatusInternalServerError, CodeServerErr, "internal error")
	}
}
