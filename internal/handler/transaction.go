package handler

import (
	"net/http"
	"strconv"

	"github.com/almatkai/woolet-sub002/internal/models"
	"github.com/almatkai/woolet-sub002/internal/service"
	"github.com/almatkai/woolet-sub002/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type TransactionHandler struct {
	Svc *service.Service
}

func NewTransactionHandler(svc *service.Service) *TransactionHandler {
	return &TransactionHandler{Svc: svc}
}

type splitReq struct {
	ParticipantIDs     []uint            `json:"participant_ids" binding:"required,min=1"`
	Equal              bool              `json:"equal"`
	Amounts            []decimal.Decimal `json:"amounts"`
	Total              decimal.Decimal   `json:"total"`
	InstantMoneyBack   bool              `json:"instant_money_back"`
	ReceivingBalanceID *uint             `json:"receiving_balance_id"`
}

func (r *splitReq) input() *service.SplitInput {
	if r == nil {
		return nil
	}
	return &service.SplitInput{
		ParticipantIDs:     r.ParticipantIDs,
		Equal:              r.Equal,
		Amounts:            r.Amounts,
		Total:              r.Total,
		InstantMoneyBack:   r.InstantMoneyBack,
		ReceivingBalanceID: r.ReceivingBalanceID,
	}
}

type createTransactionReq struct {
	BalanceID      uint                   `json:"balance_id" binding:"required"`
	ToBalanceID    *uint                  `json:"to_balance_id"`
	CategoryID     *uint                  `json:"category_id"`
	Type           models.TransactionType `json:"type" binding:"required,oneof=income expense transfer"`
	Amount         decimal.Decimal        `json:"amount"`
	Fee            decimal.Decimal        `json:"fee"`
	ExchangeRate   decimal.Decimal        `json:"exchange_rate"`
	CashbackAmount decimal.Decimal        `json:"cashback_amount"`
	Description    string                 `json:"description" binding:"max=255"`
	Date           string                 `json:"date"` // YYYY-MM-DD, empty for today
	IdempotencyKey string                 `json:"idempotency_key" binding:"max=64"`
	Split          *splitReq              `json:"split"`
}

func (h *TransactionHandler) CreateTransaction(c *gin.Context) {
	var req createTransactionReq
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
	key := req.IdempotencyKey
	if key == "" {
		key = c.GetHeader("Idempotency-Key")
	}

	t, err := h.Svc.CreateTransaction(c.Request.Context(), scope, service.TransactionInput{
		BalanceID:      req.BalanceID,
		ToBalanceID:    req.ToBalanceID,
		CategoryID:     req.CategoryID,
		Type:           req.Type,
		Amount:         req.Amount,
		Fee:            req.Fee,
		ExchangeRate:   req.ExchangeRate,
		CashbackAmount: req.CashbackAmount,
		Description:    req.Description,
		Date:           date,
		IdempotencyKey: key,
		Split:          req.Split.input(),
	})
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"transaction": t})
}

// ListTransactions supports balance_id, from, to (YYYY-MM-DD, to exclusive) and limit.
func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	scope, ok := scopeOf(c)
	if !ok {
		return
	}
	var f service.TransactionFilter
	if s := c.Query("balance_id"); s != "" {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid balance_id")
			return
		}
		f.BalanceID = uint(id)
	}
	if f.From, ok = dateField(c, c.Query("from")); !ok {
		return
	}
	if f.To, ok = dateField(c, c.Query("to")); !ok {
		return
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))

	list, err := h.Svc.ListTransactions(c.Request.Context(), scope, f)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"items": list, "children": service.ChildIndex(list)})
}

type updateTransactionReq struct {
	BalanceID      *uint            `json:"balance_id"`
	ToBalanceID    *uint            `json:"to_balance_id"`
	CategoryID     *uint            `json:"category_id"`
	Amount         *decimal.Decimal `json:"amount"`
	Fee            *decimal.Decimal `json:"fee"`
	ExchangeRate   *decimal.Decimal `json:"exchange_rate"`
	CashbackAmount *decimal.Decimal `json:"cashback_amount"`
	Description    *string          `json:"description" binding:"omitempty,max=255"`
	Date           *string          `json:"date"`
}

func (h *TransactionHandler) UpdateTransaction(c *gin.Context) {
	var req updateTransactionReq
	scope, id, ok := request(c, "id", &req)
	if !ok {
		return
	}
	if req.Amount != nil {
		if err := util.ValidateAmount(*req.Amount); err != nil {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
			return
		}
	}
	date, err := util.ParseOptionalDate(req.Date)
	if err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
		return
	}

	t, err := h.Svc.UpdateTransaction(c.Request.Context(), scope, id, service.TransactionPatch{
		BalanceID:      req.BalanceID,
		ToBalanceID:    req.ToBalanceID,
		CategoryID:     req.CategoryID,
		Amount:         req.Amount,
		Fee:            req.Fee,
		ExchangeRate:   req.ExchangeRate,
		CashbackAmount: req.CashbackAmount,
		Description:    req.Description,
		Date:           date,
	})
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"transaction": t})
}

func (h *TransactionHandler) DeleteTransaction(c *gin.Context) {
	scope, id, ok := request(c, "id", nil)
	if !ok {
		return
	}
	if err := h.Svc.DeleteTransaction(c.Request.Context(), scope, id); err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, util.Response{"id": id})
}
