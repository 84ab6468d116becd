package handler

import (
	"net/http"
	"strconv"

	"github.com/almatkai/woolet-sub002/internal/service"
	"github.com/almatkai/woolet-sub002/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type InvestingHandler struct {
	Svc *service.Service
}

func NewInvestingHandler(svc *service.Service) *InvestingHandler {
	return &InvestingHandler{Svc: svc}
}

type cashReq struct {
	Currency  string          `json:"currency" binding:"required,len=3"`
	Amount    decimal.Decimal `json:"amount"`
	BalanceID *uint           `json:"balance_id"`
	Date      string          `json:"date"`
}

func (h *InvestingHandler) moveCash(c *gin.Context, deposit bool) {
	var req cashReq
	scope, _, ok := request(c, "", &req)
	if !ok {
		return
	}
	if err := util.ValidateAmount(req.Amount); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
		return
	}
	date, ok := dateField(c, req.Date)
	if !ok {
		return
	}
	in := service.CashMoveInput{Currency: req.Currency, Amount: req.Amount, BalanceID: req.BalanceID, Date: date}

	move := h.Svc.WithdrawCash
	if deposit {
		move = h.Svc.DepositCash
	}
	cb, err := move(c.Request.Context(), scope, in)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"cash": cb})
}

func (h *InvestingHandler) Deposit(c *gin.Context)  { h.moveCash(c, true) }
func (h *InvestingHandler) Withdraw(c *gin.Context) { h.moveCash(c, false) }

type tradeReq struct {
	Symbol   string          `json:"symbol" binding:"required,max=32"`
	Name     string          `json:"name" binding:"max=128"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency" binding:"required,len=3"`
	Date     string          `json:"date"`
}

func (h *InvestingHandler) trade(c *gin.Context, buy bool) {
	var req tradeReq
	scope, _, ok := request(c, "", &req)
	if !ok {
		return
	}
	date, ok := dateField(c, req.Date)
	if !ok {
		return
	}
	in := service.TradeInput{
		Symbol:   req.Symbol,
		Name:     req.Name,
		Quantity: req.Quantity,
		Price:    req.Price,
		Currency: req.Currency,
		Date:     date,
	}

	exec := h.Svc.Sell
	if buy {
		exec = h.Svc.Buy
	}
	t, err := exec(c.Request.Context(), scope, in)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"trade": t})
}

func (h *InvestingHandler) Buy(c *gin.Context)  { h.trade(c, true) }
func (h *InvestingHandler) Sell(c *gin.Context) { h.trade(c, false) }

type tradePatchReq struct {
	Quantity *decimal.Decimal `json:"quantity"`
	Price    *decimal.Decimal `json:"price"`
	Date     *string          `json:"date"`
}

func (h *InvestingHandler) UpdateTransaction(c *gin.Context) {
	var req tradePatchReq
	scope, id, ok := request(c, "id", &req)
	if !ok {
		return
	}
	date, err := util.ParseOptionalDate(req.Date)
	if err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
		return
	}
	t, err := h.Svc.UpdateInvestmentTransaction(c.Request.Context(), scope, id, service.TradePatch{
		Quantity: req.Quantity,
		Price:    req.Price,
		Date:     date,
	})
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"trade": t})
}

func (h *InvestingHandler) DeleteTransaction(c *gin.Context) {
	scope, id, ok := request(c, "id", nil)
	if !ok {
		return
	}
	if err := h.Svc.DeleteInvestmentTransaction(c.Request.Context(), scope, id); err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"id": id})
}

func (h *InvestingHandler) ListHoldings(c *gin.Context) {
	scope, ok := scopeOf(c)
	if !ok {
		return
	}
	list, err := h.Svc.ListHoldings(c.Request.Context(), scope)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"items": list})
}

// securityFilter reads the optional security_id query parameter.
func securityFilter(c *gin.Context) (uint, bool) {
	s := c.Query("security_id")
	if s == "" {
		return 0, true
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid security_id")
		return 0, false
	}
	return uint(id), true
}

func (h *InvestingHandler) ListTransactions(c *gin.Context) {
	scope, ok := scopeOf(c)
	if !ok {
		return
	}
	secID, ok := securityFilter(c)
	if !ok {
		return
	}
	list, err := h.Svc.ListInvestmentTransactions(c.Request.Context(), scope, secID)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"items": list})
}

// Recalculate replays the trades of one security and rewrites its holding.
func (h *InvestingHandler) Recalculate(c *gin.Context) {
	scope, id, ok := request(c, "securityId", nil)
	if !ok {
		return
	}
	holding, err := h.Svc.RecalculateHolding(c.Request.Context(), scope, id)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"holding": holding})
}

func (h *InvestingHandler) Summary(c *gin.Context) {
	scope, ok := scopeOf(c)
	if !ok {
		return
	}
	realized, err := h.Svc.RealizedSummary(c.Request.Context(), scope)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"realized_pl": realized})
}

func (h *InvestingHandler) ListCash(c *gin.Context) {
	scope, ok := scopeOf(c)
	if !ok {
		return
	}
	list, err := h.Svc.ListCash(c.Request.Context(), scope)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"items": list})
}
