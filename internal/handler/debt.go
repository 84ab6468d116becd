package handler

import (
	"net/http"

	"github.com/almatkai/woolet-sub002/internal/models"
	"github.com/almatkai/woolet-sub002/internal/service"
	"github.com/almatkai/woolet-sub002/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type DebtHandler struct {
	Svc *service.Service
}

func NewDebtHandler(svc *service.Service) *DebtHandler {
	return &DebtHandler{Svc: svc}
}

type createDebtReq struct {
	BalanceID    *uint                `json:"balance_id"`
	Currency     string               `json:"currency" binding:"omitempty,len=3"`
	Counterparty string               `json:"counterparty" binding:"required,max=64"`
	Description  string               `json:"description" binding:"max=255"`
	Amount       decimal.Decimal      `json:"amount"`
	Direction    models.DebtDirection `json:"direction" binding:"required,oneof=i_owe they_owe"`
	Date         string               `json:"date"`
	DueDate      *string              `json:"due_date"`
}

func (h *DebtHandler) CreateDebt(c *gin.Context) {
	var req createDebtReq
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
	due, err := util.ParseOptionalDate(req.DueDate)
	if err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
		return
	}

	d, err := h.Svc.CreateDebt(c.Request.Context(), scope, service.DebtInput{
		BalanceID:    req.BalanceID,
		Currency:     req.Currency,
		Counterparty: req.Counterparty,
		Description:  req.Description,
		Amount:       req.Amount,
		Direction:    req.Direction,
		Date:         date,
		DueDate:      due,
	})
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"debt": d})
}

func (h *DebtHandler) ListDebts(c *gin.Context) {
	scope, ok := scopeOf(c)
	if !ok {
		return
	}
	list, err := h.Svc.ListDebts(c.Request.Context(), scope)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"items": list})
}

func (h *DebtHandler) GetDebt(c *gin.Context) {
	scope, id, ok := request(c, "id", nil)
	if !ok {
		return
	}
	d, err := h.Svc.GetDebt(c.Request.Context(), scope, id)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"debt": d})
}

type distributionReq struct {
	BalanceID uint            `json:"balance_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

type paymentReq struct {
	Amount        decimal.Decimal   `json:"amount"`
	Distributions []distributionReq `json:"distributions" binding:"dive"`
	PaidAt        string            `json:"paid_at"`
	Note          string            `json:"note" binding:"max=255"`
}

func (r paymentReq) input(c *gin.Context) (service.PaymentInput, bool) {
	if err := util.ValidateAmount(r.Amount); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
		return service.PaymentInput{}, false
	}
	paidAt, ok := dateField(c, r.PaidAt)
	if !ok {
		return service.PaymentInput{}, false
	}
	in := service.PaymentInput{Amount: r.Amount, PaidAt: paidAt, Note: r.Note}
	for _, d := range r.Distributions {
		in.Distributions = append(in.Distributions, service.Distribution{BalanceID: d.BalanceID, Amount: d.Amount})
	}
	return in, true
}

func (h *DebtHandler) AddPayment(c *gin.Context) {
	var req paymentReq
	scope, id, ok := request(c, "id", &req)
	if !ok {
		return
	}
	in, ok := req.input(c)
	if !ok {
		return
	}
	d, err := h.Svc.AddPayment(c.Request.Context(), scope, id, in)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"debt": d})
}

func (h *DebtHandler) UpdatePayment(c *gin.Context) {
	var req paymentReq
	scope, id, ok := request(c, "paymentId", &req)
	if !ok {
		return
	}
	in, ok := req.input(c)
	if !ok {
		return
	}
	d, err := h.Svc.UpdatePayment(c.Request.Context(), scope, id, in)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"debt": d})
}

func (h *DebtHandler) DeletePayment(c *gin.Context) {
	scope, id, ok := request(c, "paymentId", nil)
	if !ok {
		return
	}
	d, err := h.Svc.DeletePayment(c.Request.Context(), scope, id)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"debt": d})
}

// DeleteDebt removes the debt and everything it booked right away.
func (h *DebtHandler) DeleteDebt(c *gin.Context) {
	scope, id, ok := request(c, "id", nil)
	if !ok {
		return
	}
	if err := h.Svc.DeleteDebt(c.Request.Context(), scope, id); err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"id": id})
}

// SoftDeleteDebt reverts the debt's effects but keeps it restorable until
// the purge window passes.
func (h *DebtHandler) SoftDeleteDebt(c *gin.Context) {
	scope, id, ok := request(c, "id", nil)
	if !ok {
		return
	}
	d, err := h.Svc.SoftDeleteDebt(c.Request.Context(), scope, id)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"debt": d})
}

func (h *DebtHandler) UndoDeleteDebt(c *gin.Context) {
	scope, id, ok := request(c, "id", nil)
	if !ok {
		return
	}
	d, err := h.Svc.UndoDeleteDebt(c.Request.Context(), scope, id)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"debt": d})
}
