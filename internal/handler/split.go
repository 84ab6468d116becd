package handler

import (
	"net/http"

	"github.com/almatkai/woolet-sub002/internal/service"
	"github.com/almatkai/woolet-sub002/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type SplitHandler struct {
	Svc *service.Service
}

func NewSplitHandler(svc *service.Service) *SplitHandler {
	return &SplitHandler{Svc: svc}
}

type participantReq struct {
	Name string `json:"name" binding:"required,max=64"`
}

func (h *SplitHandler) CreateParticipant(c *gin.Context) {
	var req participantReq
	scope, _, ok := request(c, "", &req)
	if !ok {
		return
	}
	p, err := h.Svc.CreateParticipant(c.Request.Context(), scope, req.Name)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"participant": p})
}

// CreateSplits splits an existing expense transaction.
func (h *SplitHandler) CreateSplits(c *gin.Context) {
	var req splitReq
	scope, id, ok := request(c, "id", &req)
	if !ok {
		return
	}
	splits, err := h.Svc.CreateSplits(c.Request.Context(), scope, id, *req.input())
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"items": splits})
}

func (h *SplitHandler) ListSplits(c *gin.Context) {
	scope, id, ok := request(c, "id", nil)
	if !ok {
		return
	}
	splits, err := h.Svc.ListSplits(c.Request.Context(), scope, id)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"items": splits})
}

type splitPaymentReq struct {
	Amount             decimal.Decimal `json:"amount"`
	ReceivingBalanceID *uint           `json:"receiving_balance_id"`
	PaidAt             string          `json:"paid_at"`
}

func (h *SplitHandler) RecordPayment(c *gin.Context) {
	var req splitPaymentReq
	scope, id, ok := request(c, "id", &req)
	if !ok {
		return
	}
	if err := util.ValidateAmount(req.Amount); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
		return
	}
	paidAt, ok := dateField(c, req.PaidAt)
	if !ok {
		return
	}
	split, err := h.Svc.RecordSplitPayment(c.Request.Context(), scope, id, service.SplitPaymentInput{
		Amount:             req.Amount,
		ReceivingBalanceID: req.ReceivingBalanceID,
		PaidAt:             paidAt,
	})
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"split": split})
}

type settleReq struct {
	ReceivingBalanceID *uint `json:"receiving_balance_id"`
}

// Settle records the whole outstanding remainder as one payment.
func (h *SplitHandler) Settle(c *gin.Context) {
	var req settleReq
	scope, id, ok := request(c, "id", nil)
	if !ok {
		return
	}
	// body is optional
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	split, err := h.Svc.SettleSplit(c.Request.Context(), scope, id, req.ReceivingBalanceID)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"split": split})
}

func (h *SplitHandler) DeletePayment(c *gin.Context) {
	scope, id, ok := request(c, "paymentId", nil)
	if !ok {
		return
	}
	if err := h.Svc.DeleteSplitPayment(c.Request.Context(), scope, id); err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"id": id})
}
