package handler

import (
	"github.com/almatkai/woolet-sub002/internal/service"
	"github.com/almatkai/woolet-sub002/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type AccountHandler struct {
	Svc *service.Service
}

func NewAccountHandler(svc *service.Service) *AccountHandler {
	return &AccountHandler{Svc: svc}
}

type createAccountReq struct {
	Name     string                     `json:"name" binding:"required,max=64"`
	Balances map[string]decimal.Decimal `json:"balances" binding:"required,min=1"` // currency -> opening amount
}

func (h *AccountHandler) CreateAccount(c *gin.Context) {
	var req createAccountReq
	scope, _, ok := request(c, "", &req)
	if !ok {
		return
	}
	acc, err := h.Svc.CreateAccount(c.Request.Context(), scope, service.AccountInput{Name: req.Name, Openings: req.Balances})
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"account": acc})
}

func (h *AccountHandler) ListBalances(c *gin.Context) {
	scope, ok := scopeOf(c)
	if !ok {
		return
	}
	list, err := h.Svc.ListBalances(c.Request.Context(), scope)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"items": list})
}

// VerifyBalance recomputes a balance from its history and reports drift.
func (h *AccountHandler) VerifyBalance(c *gin.Context) {
	scope, id, ok := request(c, "id", nil)
	if !ok {
		return
	}
	check, err := h.Svc.VerifyBalance(c.Request.Context(), scope, id)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"check": check, "consistent": check.Consistent()})
}
