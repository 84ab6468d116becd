package middleware

import (
	"net/http"
	"strings"

	"github.com/almatkai/woolet-sub002/internal/models"
	"github.com/almatkai/woolet-sub002/internal/service"
	"github.com/almatkai/woolet-sub002/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	currentUserKey  = "currentUser"
	scopeKey        = "scope"
	WorkspaceHeader = "X-Workspace"
)

// AuthMiddleware verifies the bearer JWT, mirrors the caller into the users
// table on first sight and stores the caller's Scope in the context. The
// workspace comes from the X-Workspace header and defaults to production.
func AuthMiddleware(jwtSecret, issuer string, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenStr string

		// Authorization: Bearer xxx
		if parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			tokenStr = strings.TrimSpace(parts[1])
		}
		// ?token=xxx for downloads that cannot set headers
		if tokenStr == "" {
			tokenStr = c.Query("token")
		}
		if tokenStr == "" {
			util.Error(c, http.StatusUnauthorized, util.CodeAuth, "missing token")
			c.Abort()
			return
		}

		claims, err := util.ParseToken(jwtSecret, issuer, tokenStr)
		if err != nil {
			util.Error(c, http.StatusUnauthorized, util.CodeAuth, "invalid or expired token")
			c.Abort()
			return
		}

		ws := models.Workspace(strings.ToLower(strings.TrimSpace(c.GetHeader(WorkspaceHeader))))
		if ws == "" {
			ws = models.WorkspaceProduction
		}
		if !ws.Valid() {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "X-Workspace must be production or test")
			c.Abort()
			return
		}

		user := models.User{ID: claims.UserID, DisplayName: claims.Name}
		if err := db.WithContext(c.Request.Context()).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&user).Error; err != nil {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "load user failed")
			c.Abort()
			return
		}

		c.Set(currentUserKey, &user)
		c.Set(scopeKey, service.Scope{UserID: user.ID, Workspace: ws})
		c.Next()
	}
}

// CurrentScope returns the Scope stored by AuthMiddleware.
func CurrentScope(c *gin.Context) (service.Scope, bool) {
	v, ok := c.Get(scopeKey)
	if !ok {
		return service.Scope{}, false
	}
	s, ok := v.(service.Scope)
	return s, ok
}
