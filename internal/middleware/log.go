package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/almatkai/woolet-sub002/internal/models"
	"github.com/almatkai/woolet-sub002/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "requestID"
	maxAuditBody    = 2000
)

// RequestID propagates the caller's X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// AuditMiddleware stores every mutating request of an authenticated caller
// with path and body encrypted under encryptKey.
func AuditMiddleware(db *gorm.DB, encryptKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
		}

		c.Next()

		scope, ok := CurrentScope(c)
		if !ok {
			return
		}

		path := c.Request.URL.Path
		action := c.Request.Method + " " + path
		if len(body) > 0 && len(body) < maxAuditBody {
			action += " " + string(body)
		}

		encPath, err := util.EncryptField(encryptKey, path)
		if err != nil {
			slog.WarnContext(c.Request.Context(), "audit encrypt failed", "error", err)
			return
		}
		encAction, err := util.EncryptField(encryptKey, action)
		if err != nil {
			slog.WarnContext(c.Request.Context(), "audit encrypt failed", "error", err)
			return
		}

		userID := scope.UserID
		entry := models.AuditLog{
			UserID:    &userID,
			Workspace: scope.Workspace,
			Method:    c.Request.Method,
			PathEnc:   encPath,
			ActionEnc: encAction,
			Status:    c.Writer.Status(),
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}
		if err := db.WithContext(c.Request.Context()).Create(&entry).Error; err != nil {
			slog.WarnContext(c.Request.Context(), "audit write failed",
				"request_id", c.GetString(requestIDKey), "error", err)
		}
	}
}
