package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/almatkai/woolet-sub002/internal/apperr"
	"github.com/almatkai/woolet-sub002/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// effect is the signed amount one transaction adds to one balance.
type effect struct {
	BalanceID uint
	Amount    decimal.Decimal
}

// effects returns the deltas t applies while active:
// income +amount, expense -amount+cashback,
// transfer source -(amount+fee) and target +amount*rate.
func effects(t *models.Transaction) []effect {
	switch t.Type {
	case models.TransactionIncome:
		return []effect{{t.BalanceID, t.Amount}}
	case models.TransactionExpense:
		return []effect{{t.BalanceID, t.Amount.Neg().Add(t.CashbackAmount)}}
	case models.TransactionTransfer:
		out := []effect{{t.BalanceID, t.Amount.Add(t.Fee).Neg()}}
		if t.ToBalanceID != nil {
			out = append(out, effect{*t.ToBalanceID, t.Amount.Mul(t.ExchangeRate)})
		}
		return out
	}
	return nil
}

// applyEffects applies (sign 1) or reverts (sign -1) every effect of t.
func applyEffects(b *book, t *models.Transaction, sign int64) error {
	for _, e := range effects(t) {
		if err := b.apply(e.BalanceID, e.Amount.Mul(decimal.NewFromInt(sign))); err != nil {
			return err
		}
	}
	return nil
}

// outflow is what t takes out of its source balance and must be covered by it.
func outflow(t *models.Transaction) decimal.Decimal {
	if t.Type == models.TransactionIncome {
		return decimal.Zero
	}
	return t.Amount.Add(t.Fee)
}

type TransactionInput struct {
	BalanceID      uint
	ToBalanceID    *uint
	CategoryID     *uint
	Type           models.TransactionType
	Amount         decimal.Decimal
	Fee            decimal.Decimal
	ExchangeRate   decimal.Decimal // zero means: same currency 1, else the rate source
	CashbackAmount decimal.Decimal
	Description    string
	Date           time.Time
	IdempotencyKey string
	Split          *SplitInput
}

func (in TransactionInput) validate() error {
	if !in.Type.Valid() {
		return apperr.BadRequest("unknown transaction type %q", in.Type)
	}
	if !in.Amount.IsPositive() {
		return apperr.ErrInvalidAmount
	}
	if in.Fee.IsNegative() || in.CashbackAmount.IsNegative() || in.ExchangeRate.IsNegative() {
		return apperr.BadRequest("fee, cashback and exchange rate must not be negative")
	}
	if in.Type == models.TransactionTransfer {
		if in.ToBalanceID == nil {
			return apperr.BadRequest("transfer needs a target balance")
		}
		if *in.ToBalanceID == in.BalanceID {
			return apperr.BadRequest("transfer source and target must differ")
		}
	} else if in.ToBalanceID != nil {
		return apperr.BadRequest("only transfers have a target balance")
	}
	if in.Split != nil && in.Type != models.TransactionExpense {
		return apperr.BadRequest("only expenses can be split")
	}
	if len(in.IdempotencyKey) > 64 {
		return apperr.BadRequest("idempotency key too long")
	}
	return nil
}

// CreateTransaction validates funds, stores the transaction and applies its deltas.
// A repeated idempotency key returns the original transaction untouched.
func (s *Service) CreateTransaction(ctx context.Context, scope Scope, in TransactionInput) (*models.Transaction, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.Date.IsZero() {
		in.Date = s.now()
	}

	var (
		out      *models.Transaction
		replayed bool
	)
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		replayed = false
		if in.IdempotencyKey != "" {
			var existing models.Transaction
			err := tx.Where("user_id = ? AND workspace = ? AND idempotency_key = ?", scope.UserID, scope.Workspace, in.IdempotencyKey).First(&existing).Error
			if err == nil {
				out, replayed = &existing, true
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("lookup idempotency key: %w", err)
			}
		}

		if err := s.checkCategory(tx, scope, in.CategoryID); err != nil {
			return err
		}

		t := &models.Transaction{
			BalanceID:      in.BalanceID,
			ToBalanceID:    in.ToBalanceID,
			CategoryID:     in.CategoryID,
			Type:           in.Type,
			Amount:         in.Amount,
			Fee:            in.Fee,
			ExchangeRate:   in.ExchangeRate,
			CashbackAmount: in.CashbackAmount,
			Description:    strings.TrimSpace(in.Description),
			Date:           in.Date,
		}
		if in.IdempotencyKey != "" {
			key := in.IdempotencyKey
			t.IdempotencyKey = &key
		}

		b := newBook(tx, scope)
		if err := s.post(b, t, true); err != nil {
			return err
		}
		if in.Split != nil {
			if _, err := s.splitTransaction(b, t, *in.Split); err != nil {
				return err
			}
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		return out, nil
	}

	s.invalidate(ctx, scope, "balances", "transactions")
	if out.Type == models.TransactionExpense {
		s.linkRecurring(ctx, scope, out)
	}
	return out, nil
}

// post resolves the exchange rate, optionally checks funds, inserts t as an
// active transaction of the book's scope and applies its deltas.
func (s *Service) post(b *book, t *models.Transaction, checkFunds bool) error {
	src, err := b.get(t.BalanceID)
	if err != nil {
		return err
	}
	if t.Type == models.TransactionTransfer {
		dst, err := b.get(*t.ToBalanceID)
		if err != nil {
			return err
		}
		if t.ExchangeRate.IsZero() {
			rate, err := s.rates.Rate(b.ctx, b.tx, src.Currency, dst.Currency)
			if err != nil {
				return err
			}
			t.ExchangeRate = rate
		}
	} else if t.ExchangeRate.IsZero() {
		t.ExchangeRate = decimal.NewFromInt(1)
	}

	if need := outflow(t); checkFunds && need.IsPositive() {
		if err := b.require(t.BalanceID, need); err != nil {
			return err
		}
	}

	t.UserID = b.scope.UserID
	t.Workspace = b.scope.Workspace
	t.Lifecycle = models.LifecycleActive
	if err := b.tx.Create(t).Error; err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return applyEffects(b, t, 1)
}

// unpost reverts the deltas of t and deletes it.
func unpost(b *book, t *models.Transaction) error {
	if err := applyEffects(b, t, -1); err != nil {
		return err
	}
	if err := b.tx.Delete(&models.Transaction{}, t.ID).Error; err != nil {
		return fmt.Errorf("delete transaction %d: %w", t.ID, err)
	}
	return nil
}

func (s *Service) checkCategory(tx *gorm.DB, scope Scope, id *uint) error {
	if id == nil {
		return nil
	}
	var n int64
	if err := tx.Model(&models.Category{}).
		Where("id = ? AND (user_id = ? OR user_id = 0)", *id, scope.UserID).
		Count(&n).Error; err != nil {
		return fmt.Errorf("check category: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("category %d not found", *id)
	}
	return nil
}

// loadActiveTransaction returns an active transaction of scope; a transaction in
// the deleting state is as invisible as a missing one.
func loadActiveTransaction(tx *gorm.DB, scope Scope, id uint) (*models.Transaction, error) {
	t, err := findScoped[models.Transaction](tx, scope, id, "transaction")
	if err != nil {
		return nil, err
	}
	if t.Lifecycle != models.LifecycleActive {
		return nil, apperr.NotFound("transaction %d not found", id)
	}
	return t, nil
}

// TransactionPatch lists the editable fields; nil leaves a field unchanged.
type TransactionPatch struct {
	BalanceID      *uint
	ToBalanceID    *uint
	CategoryID     *uint
	Amount         *decimal.Decimal
	Fee            *decimal.Decimal
	ExchangeRate   *decimal.Decimal
	CashbackAmount *decimal.Decimal
	Description    *string
	Date           *time.Time
}

// movesMoney reports whether applying p would change what t books.
func (p TransactionPatch) movesMoney(t *models.Transaction) bool {
	return (p.BalanceID != nil && *p.BalanceID != t.BalanceID) ||
		(p.ToBalanceID != nil && (t.ToBalanceID == nil || *p.ToBalanceID != *t.ToBalanceID)) ||
		(p.Amount != nil && !p.Amount.Equal(t.Amount)) ||
		(p.Fee != nil && !p.Fee.Equal(t.Fee)) ||
		(p.ExchangeRate != nil && !p.ExchangeRate.Equal(t.ExchangeRate)) ||
		(p.CashbackAmount != nil && !p.CashbackAmount.Equal(t.CashbackAmount))
}

// UpdateTransaction reverts the original effect from the original balances and
// applies the edited effect to the (possibly different) new balances.
func (s *Service) UpdateTransaction(ctx context.Context, scope Scope, id uint, p TransactionPatch) (*models.Transaction, error) {
	var out *models.Transaction
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		t, err := loadActiveTransaction(tx, scope, id)
		if err != nil {
			return err
		}
		if t.DebtID != nil {
			return apperr.ErrManagedByDebt
		}
		if p.movesMoney(t) {
			payback, err := recordsSplitPayment(tx, t.ID)
			if err != nil {
				return err
			}
			if payback {
				return apperr.ErrManagedBySplit
			}
		}

		b := newBook(tx, scope)
		orig, err := b.get(t.BalanceID)
		if err != nil {
			return err
		}
		origCurrency := orig.Currency
		if err := applyEffects(b, t, -1); err != nil {
			return err
		}

		movedAccount := false
		if p.BalanceID != nil && *p.BalanceID != t.BalanceID {
			t.BalanceID = *p.BalanceID
			movedAccount = true
		}
		if p.ToBalanceID != nil {
			if t.Type != models.TransactionTransfer {
				return apperr.BadRequest("only transfers have a target balance")
			}
			if t.ToBalanceID == nil || *t.ToBalanceID != *p.ToBalanceID {
				to := *p.ToBalanceID
				t.ToBalanceID = &to
				movedAccount = true
			}
		}
		if t.ToBalanceID != nil && *t.ToBalanceID == t.BalanceID {
			return apperr.BadRequest("transfer source and target must differ")
		}
		if p.Amount != nil {
			if !p.Amount.IsPositive() {
				return apperr.ErrInvalidAmount
			}
			t.Amount = *p.Amount
		}
		if p.Fee != nil {
			if p.Fee.IsNegative() {
				return apperr.BadRequest("fee must not be negative")
			}
			t.Fee = *p.Fee
		}
		if p.CashbackAmount != nil {
			if p.CashbackAmount.IsNegative() {
				return apperr.BadRequest("cashback must not be negative")
			}
			t.CashbackAmount = *p.CashbackAmount
		}
		if p.CategoryID != nil {
			if err := s.checkCategory(tx, scope, p.CategoryID); err != nil {
				return err
			}
			t.CategoryID = p.CategoryID
		}
		if p.Description != nil {
			t.Description = strings.TrimSpace(*p.Description)
		}
		if p.Date != nil {
			t.Date = *p.Date
		}

		src, err := b.get(t.BalanceID)
		if err != nil {
			return err
		}
		switch {
		case p.ExchangeRate != nil:
			if !p.ExchangeRate.IsPositive() {
				return apperr.BadRequest("exchange rate must be positive")
			}
			t.ExchangeRate = *p.ExchangeRate
		case movedAccount && t.Type == models.TransactionTransfer:
			dst, err := b.get(*t.ToBalanceID)
			if err != nil {
				return err
			}
			rate, err := s.rates.Rate(ctx, tx, src.Currency, dst.Currency)
			if err != nil {
				return err
			}
			t.ExchangeRate = rate
		}

		if err := checkSplitTotals(tx, t, origCurrency, src.Currency); err != nil {
			return err
		}

		if need := outflow(t); need.IsPositive() {
			if err := b.require(t.BalanceID, need); err != nil {
				return err
			}
		}
		if err := applyEffects(b, t, 1); err != nil {
			return err
		}
		if err := tx.Save(t).Error; err != nil {
			return fmt.Errorf("save transaction: %w", err)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "balances", "transactions")
	return out, nil
}

// DeleteTransaction applies the exact inverse of the transaction, removes its
// payback children and split rows, then deletes it.
func (s *Service) DeleteTransaction(ctx context.Context, scope Scope, id uint) error {
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		t, err := loadActiveTransaction(tx, scope, id)
		if err != nil {
			return err
		}
		if t.DebtID != nil {
			return apperr.ErrManagedByDebt
		}
		b := newBook(tx, scope)

		var children []models.Transaction
		if err := tx.Where("parent_id = ? AND lifecycle = ?", t.ID, models.LifecycleActive).
			Find(&children).Error; err != nil {
			return fmt.Errorf("load children: %w", err)
		}
		for i := range children {
			if err := unpost(b, &children[i]); err != nil {
				return err
			}
		}
		if err := deleteSplitRows(tx, t.ID); err != nil {
			return err
		}

		// t may itself be the payback recorded by a split payment
		if err := unlinkSplitPayment(tx, t.ID); err != nil {
			return err
		}
		if err := unlinkRecurring(tx, t.ID); err != nil {
			return err
		}
		return unpost(b, t)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, scope, "balances", "transactions", "splits")
	return nil
}

type TransactionFilter struct {
	BalanceID uint
	From, To  time.Time
	Limit     int
}

// listLimit defaults a page size to 100 and caps it at 500.
func listLimit(n int) int {
	switch {
	case n <= 0:
		return 100
	case n > 500:
		return 500
	}
	return n
}

// ListTransactions returns active transactions, newest first.
func (s *Service) ListTransactions(ctx context.Context, scope Scope, f TransactionFilter) ([]models.Transaction, error) {
	q := s.db.WithContext(ctx).
		Where("user_id = ? AND workspace = ? AND lifecycle = ?", scope.UserID, scope.Workspace, models.LifecycleActive)
	if f.BalanceID != 0 {
		q = q.Where("(balance_id = ? OR to_balance_id = ?)", f.BalanceID, f.BalanceID)
	}
	if !f.From.IsZero() {
		q = q.Where("date >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("date < ?", f.To)
	}
	f.Limit = listLimit(f.Limit)

	var list []models.Transaction
	if err := q.Order("date DESC, id DESC").Limit(f.Limit).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return list, nil
}

// ChildIndex derives parent id -> child ids from a set of transactions.
func ChildIndex(list []models.Transaction) map[uint][]uint {
	idx := make(map[uint][]uint)
	for _, t := range list {
		if t.ParentID != nil {
			idx[*t.ParentID] = append(idx[*t.ParentID], t.ID)
		}
	}
	return idx
}
