package handler

import (
	"net/http"

	"github.com/almatkai/woolet-sub002/internal/models"
	"github.com/almatkai/woolet-sub002/internal/service"
	"github.com/almatkai/woolet-sub002/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// RecurringHandler serves credits, mortgages and subscriptions.
type RecurringHandler struct {
	Svc *service.Service
}

func NewRecurringHandler(svc *service.Service) *RecurringHandler {
	return &RecurringHandler{Svc: svc}
}

type obligationReq struct {
	AccountID      uint            `json:"account_id" binding:"required"`
	Name           string          `json:"name" binding:"required,max=64"`
	Currency       string          `json:"currency" binding:"required,len=3"`
	Principal      decimal.Decimal `json:"principal"`
	Remaining      decimal.Decimal `json:"remaining"`
	MonthlyPayment decimal.Decimal `json:"monthly_payment"`
}

// CreateObligation returns the create handler for credits or mortgages.
func (h *RecurringHandler) CreateObligation(kind models.ObligationKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req obligationReq
		scope, _, ok := request(c, "", &req)
		if !ok {
			return
		}
		in := service.ObligationInput{
			AccountID:      req.AccountID,
			Name:           req.Name,
			Currency:       req.Currency,
			Principal:      req.Principal,
			Remaining:      req.Remaining,
			MonthlyPayment: req.MonthlyPayment,
		}
		var (
			out any
			err error
		)
		if kind == models.ObligationMortgage {
			out, err = h.Svc.CreateMortgage(c.Request.Context(), scope, in)
		} else {
			out, err = h.Svc.CreateCredit(c.Request.Context(), scope, in)
		}
		if err != nil {
			util.Fail(c, err)
			return
		}
		util.Success(c, util.Response{string(kind): out})
	}
}

func (h *RecurringHandler) ListObligations(kind models.ObligationKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := scopeOf(c)
		if !ok {
			return
		}
		var (
			items any
			err   error
		)
		if kind == models.ObligationMortgage {
			items, err = h.Svc.ListMortgages(c.Request.Context(), scope)
		} else {
			items, err = h.Svc.ListCredits(c.Request.Context(), scope)
		}
		if err != nil {
			util.Fail(c, err)
			return
		}
		util.Success(c, util.Response{"items": items})
	}
}

type monthlyPaymentReq struct {
	BalanceID uint            `json:"balance_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"` // zero pays the configured monthly amount
	Date      string          `json:"date"`
}

func (h *RecurringHandler) PayObligation(kind models.ObligationKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req monthlyPaymentReq
		scope, id, ok := request(c, "id", &req)
		if !ok {
			return
		}
		date, ok := dateField(c, req.Date)
		if !ok {
			return
		}
		t, err := h.Svc.MakeMonthlyPayment(c.Request.Context(), scope, kind, id, service.MonthlyPaymentInput{
			BalanceID: req.BalanceID,
			Amount:    req.Amount,
			Date:      date,
		})
		if err != nil {
			util.Fail(c, err)
			return
		}
		util.Success(c, util.Response{"transaction": t})
	}
}

type markPaidReq struct {
	Month string `json:"month" binding:"required"` // YYYY-MM
}

func (h *RecurringHandler) MarkObligationPaid(kind models.ObligationKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req markPaidReq
		scope, id, ok := request(c, "id", &req)
		if !ok {
			return
		}
		if err := util.ValidateMonth(req.Month); err != nil {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
			return
		}
		if err := h.Svc.MarkAsPaid(c.Request.Context(), scope, kind, id, req.Month); err != nil {
			util.Fail(c, err)
			return
		}
		util.Success(c, util.Response{"id": id, "month": req.Month})
	}
}

type subscriptionReq struct {
	AccountID *uint           `json:"account_id"`
	Name      string          `json:"name" binding:"required,max=64"`
	Currency  string          `json:"currency" binding:"required,len=3"`
	Amount    decimal.Decimal `json:"amount"`
}

func (h *RecurringHandler) CreateSubscription(c *gin.Context) {
	var req subscriptionReq
	scope, _, ok := request(c, "", &req)
	if !ok {
		return
	}
	if err := util.ValidateAmount(req.Amount); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
		return
	}
	sub, err := h.Svc.CreateSubscription(c.Request.Context(), scope, service.SubscriptionInput{
		AccountID: req.AccountID,
		Name:      req.Name,
		Currency:  req.Currency,
		Amount:    req.Amount,
	})
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"subscription": sub})
}

func (h *RecurringHandler) ListSubscriptions(c *gin.Context) {
	scope, ok := scopeOf(c)
	if !ok {
		return
	}
	list, err := h.Svc.ListSubscriptions(c.Request.Context(), scope)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"items": list})
}

type subscriptionPayReq struct {
	BalanceID uint   `json:"balance_id" binding:"required"`
	Date      string `json:"date"`
}

func (h *RecurringHandler) PaySubscription(c *gin.Context) {
	var req subscriptionPayReq
	scope, id, ok := request(c, "id", &req)
	if !ok {
		return
	}
	date, ok := dateField(c, req.Date)
	if !ok {
		return
	}
	p, err := h.Svc.PaySubscription(c.Request.Context(), scope, id, req.BalanceID, date)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"payment": p})
}

type subscriptionMarkReq struct {
	PaidAt string `json:"paid_at"`
}

func (h *RecurringHandler) MarkSubscriptionPaid(c *gin.Context) {
	var req subscriptionMarkReq
	scope, id, ok := request(c, "id", nil)
	if !ok {
		return
	}
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	paidAt, ok := dateField(c, req.PaidAt)
	if !ok {
		return
	}
	p, err := h.Svc.MarkSubscriptionPaid(c.Request.Context(), scope, id, paidAt)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"payment": p})
}
