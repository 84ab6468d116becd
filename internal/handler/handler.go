// Package handler exposes the ledger service over HTTP.
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/almatkai/woolet-sub002/internal/middleware"
	"github.com/almatkai/woolet-sub002/internal/service"
	"github.com/almatkai/woolet-sub002/internal/util"

	"github.com/gin-gonic/gin"
)

// scopeOf returns the caller's scope or writes 401.
func scopeOf(c *gin.Context) (service.Scope, bool) {
	scope, ok := middleware.CurrentScope(c)
	if !ok {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "not logged in")
		return service.Scope{}, false
	}
	return scope, true
}

// idParam parses a positive integer path parameter or writes 400.
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// bindJSON decodes the request body or writes 400.
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid request: "+err.Error())
		return false
	}
	return true
}

// request runs the common prologue of a handler: scope, optional path id
// and optional JSON body.
func request(c *gin.Context, idName string, body any) (service.Scope, uint, bool) {
	scope, ok := scopeOf(c)
	if !ok {
		return scope, 0, false
	}
	var id uint
	if idName != "" {
		if id, ok = idParam(c, idName); !ok {
			return scope, 0, false
		}
	}
	if body != nil && !bindJSON(c, body) {
		return scope, 0, false
	}
	return scope, id, true
}

// dateField parses an optional date from a request field or writes 400.
func dateField(c *gin.Context, s string) (time.Time, bool) {
	t, err := util.ParseDate(s)
	if err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
		return time.Time{}, false
	}
	return t, true
}
