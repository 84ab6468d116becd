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

const monthLayout = "2006-01"

// keyword -> obligation kind, checked in order against category name and description
var recurringKeywords = []struct {
	word string
	kind models.ObligationKind
}{
	{"mortgage", models.ObligationMortgage},
	{"credit", models.ObligationCredit},
	{"loan", models.ObligationCredit},
}

func matchKind(texts ...string) (models.ObligationKind, bool) {
	for _, k := range recurringKeywords {
		for _, t := range texts {
			if strings.Contains(strings.ToLower(t), k.word) {
				return k.kind, true
			}
		}
	}
	return "", false
}

type ObligationInput struct {
	AccountID      uint
	Name           string
	Currency       string
	Principal      decimal.Decimal
	Remaining      decimal.Decimal // zero means the full principal
	MonthlyPayment decimal.Decimal
}

func (s *Service) newObligation(tx *gorm.DB, scope Scope, in ObligationInput) (models.Obligation, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Obligation{}, apperr.BadRequest("name is required")
	}
	if !in.Principal.IsPositive() || !in.MonthlyPayment.IsPositive() || in.Remaining.IsNegative() {
		return models.Obligation{}, apperr.ErrInvalidAmount
	}
	if _, err := findScoped[models.Account](tx, scope, in.AccountID, "account"); err != nil {
		return models.Obligation{}, err
	}
	code, err := normalizeCurrency(in.Currency)
	if err != nil {
		return models.Obligation{}, err
	}
	remaining := in.Remaining
	if remaining.IsZero() {
		remaining = in.Principal
	}
	return models.Obligation{
		UserID:           scope.UserID,
		Workspace:        scope.Workspace,
		AccountID:        in.AccountID,
		Name:             name,
		Currency:         code,
		Principal:        in.Principal,
		RemainingBalance: remaining,
		MonthlyPayment:   in.MonthlyPayment,
		Status:           models.ObligationActive,
	}, nil
}

func (s *Service) CreateCredit(ctx context.Context, scope Scope, in ObligationInput) (*models.Credit, error) {
	var out *models.Credit
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		o, err := s.newObligation(tx, scope, in)
		if err != nil {
			return err
		}
		c := &models.Credit{Obligation: o}
		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("create credit: %w", err)
		}
		out = c
		return nil
	})
	return out, err
}

func (s *Service) CreateMortgage(ctx context.Context, scope Scope, in ObligationInput) (*models.Mortgage, error) {
	var out *models.Mortgage
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		o, err := s.newObligation(tx, scope, in)
		if err != nil {
			return err
		}
		m := &models.Mortgage{Obligation: o}
		if err := tx.Create(m).Error; err != nil {
			return fmt.Errorf("create mortgage: %w", err)
		}
		out = m
		return nil
	})
	return out, err
}

type SubscriptionInput struct {
	AccountID *uint
	Name      string
	Currency  string
	Amount    decimal.Decimal
}

func (s *Service) CreateSubscription(ctx context.Context, scope Scope, in SubscriptionInput) (*models.Subscription, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.BadRequest("name is required")
	}
	if !in.Amount.IsPositive() {
		return nil, apperr.ErrInvalidAmount
	}
	code, err := normalizeCurrency(in.Currency)
	if err != nil {
		return nil, err
	}

	var out *models.Subscription
	err = s.inTx(ctx, func(tx *gorm.DB) error {
		if in.AccountID != nil {
			if _, err := findScoped[models.Account](tx, scope, *in.AccountID, "account"); err != nil {
				return err
			}
		}
		sub := &models.Subscription{
			UserID:    scope.UserID,
			Workspace: scope.Workspace,
			AccountID: in.AccountID,
			Name:      name,
			Currency:  code,
			Amount:    in.Amount,
			Active:    true,
		}
		if err := tx.Create(sub).Error; err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
		out = sub
		return nil
	})
	return out, err
}

// obligation wraps a credit or a mortgage behind the fields they share.
type obligation struct {
	kind models.ObligationKind
	row  *models.Obligation
}

func loadObligation(tx *gorm.DB, scope Scope, kind models.ObligationKind, id uint) (*obligation, error) {
	switch kind {
	case models.ObligationCredit:
		c, err := findScoped[models.Credit](tx, scope, id, "credit")
		if err != nil {
			return nil, err
		}
		return &obligation{kind: kind, row: &c.Obligation}, nil
	case models.ObligationMortgage:
		m, err := findScoped[models.Mortgage](tx, scope, id, "mortgage")
		if err != nil {
			return nil, err
		}
		return &obligation{kind: kind, row: &m.Obligation}, nil
	}
	return nil, apperr.BadRequest("unknown obligation kind %q", kind)
}

func (o *obligation) model() any {
	if o.kind == models.ObligationMortgage {
		return &models.Mortgage{}
	}
	return &models.Credit{}
}

func (o *obligation) categoryKey() string {
	if o.kind == models.ObligationMortgage {
		return models.CategoryKeyMortgagePayment
	}
	return models.CategoryKeyCreditPayment
}

func (o *obligation) paidMonth(tx *gorm.DB, month string) (bool, error) {
	var n int64
	var err error
	if o.kind == models.ObligationMortgage {
		err = tx.Model(&models.MortgagePayment{}).Where("mortgage_id = ? AND month_year = ?", o.row.ID, month).Count(&n).Error
	} else {
		err = tx.Model(&models.CreditPayment{}).Where("credit_id = ? AND month_year = ?", o.row.ID, month).Count(&n).Error
	}
	if err != nil {
		return false, fmt.Errorf("check %s payment: %w", o.kind, err)
	}
	return n > 0, nil
}

// settle records month as paid and reduces the remaining balance by amount,
// clamped at zero.
func (o *obligation) settle(tx *gorm.DB, month string, amount decimal.Decimal, txnID *uint) error {
	var rec any
	if o.kind == models.ObligationMortgage {
		rec = &models.MortgagePayment{MortgageID: o.row.ID, MonthYear: month, Amount: amount, TransactionID: txnID}
	} else {
		rec = &models.CreditPayment{CreditID: o.row.ID, MonthYear: month, Amount: amount, TransactionID: txnID}
	}
	if err := tx.Create(rec).Error; err != nil {
		return fmt.Errorf("record %s payment: %w", o.kind, err)
	}

	o.row.RemainingBalance = o.row.RemainingBalance.Sub(amount)
	if !o.row.RemainingBalance.IsPositive() {
		o.row.RemainingBalance = decimal.Zero
		o.row.Status = models.ObligationPaidOff
	}
	return tx.Model(o.model()).Where("id = ?", o.row.ID).Updates(map[string]any{
		"remaining_balance": o.row.RemainingBalance,
		"status":            o.row.Status,
	}).Error
}

// linkRecurring records an expense as the monthly payment of a matching credit
// or mortgage. It runs after the expense committed and never fails it.
func (s *Service) linkRecurring(ctx context.Context, scope Scope, t *models.Transaction) {
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		texts := []string{t.Description}
		if t.CategoryID != nil {
			var cat models.Category
			if err := tx.First(&cat, *t.CategoryID).Error; err == nil {
				texts = append(texts, cat.Name)
			}
		}
		kind, ok := matchKind(texts...)
		if !ok {
			return nil
		}

		var bal models.Balance
		if err := tx.First(&bal, t.BalanceID).Error; err != nil {
			return lookupErr(err, "balance", t.BalanceID)
		}
		var row models.Obligation
		q := tx.Where("user_id = ? AND workspace = ? AND account_id = ? AND status = ?",
			scope.UserID, scope.Workspace, bal.AccountID, models.ObligationActive).Order("id ASC")
		var err error
		if kind == models.ObligationMortgage {
			var m models.Mortgage
			err = q.First(&m).Error
			row = m.Obligation
		} else {
			var c models.Credit
			err = q.First(&c).Error
			row = c.Obligation
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find %s: %w", kind, err)
		}

		if row.Currency != bal.Currency {
			s.log.DebugContext(ctx, "obligation currency differs, not linking",
				"transaction_id", t.ID, "obligation_id", row.ID, "currency", row.Currency)
			return nil
		}

		o := &obligation{kind: kind, row: &row}
		month := t.Date.Format(monthLayout)
		paid, err := o.paidMonth(tx, month)
		if err != nil || paid {
			return err
		}
		id := t.ID
		if err := o.settle(tx, month, t.Amount, &id); err != nil {
			return err
		}
		s.log.InfoContext(ctx, "expense linked to obligation",
			"transaction_id", t.ID, "kind", kind, "obligation_id", row.ID, "month", month)
		return nil
	})
	if err != nil {
		s.log.WarnContext(ctx, "recurring link skipped", "transaction_id", t.ID, "error", err)
		return
	}
	s.invalidate(ctx, scope, "credits", "mortgages")
}

// unlinkRecurring detaches payment records from a deleted transaction. The
// month stays paid.
func unlinkRecurring(tx *gorm.DB, txnID uint) error {
	for _, m := range []any{&models.CreditPayment{}, &models.MortgagePayment{}, &models.SubscriptionPayment{}} {
		if err := tx.Model(m).Where("transaction_id = ?", txnID).Update("transaction_id", nil).Error; err != nil {
			return fmt.Errorf("unlink recurring payment: %w", err)
		}
	}
	return nil
}

type MonthlyPaymentInput struct {
	BalanceID uint
	Amount    decimal.Decimal // zero means the obligation's monthly payment
	Date      time.Time
}

// MakeMonthlyPayment books an expense from the balance and records it as the
// payment for the month of Date.
func (s *Service) MakeMonthlyPayment(ctx context.Context, scope Scope, kind models.ObligationKind, id uint, in MonthlyPaymentInput) (*models.Transaction, error) {
	if in.Amount.IsNegative() {
		return nil, apperr.ErrInvalidAmount
	}
	if in.Date.IsZero() {
		in.Date = s.now()
	}
	var out *models.Transaction
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		o, err := loadObligation(tx, scope, kind, id)
		if err != nil {
			return err
		}
		if o.row.Status != models.ObligationActive {
			return apperr.BadRequest("%s %d is already paid off", kind, id)
		}
		month := in.Date.Format(monthLayout)
		paid, err := o.paidMonth(tx, month)
		if err != nil {
			return err
		}
		if paid {
			return apperr.Conflict("%s %d is already paid for %s", kind, id, month)
		}

		b := newBook(tx, scope)
		bal, err := b.get(in.BalanceID)
		if err != nil {
			return err
		}
		if bal.Currency != o.row.Currency {
			return fmt.Errorf("balance %d is %s, %s is %s: %w", bal.ID, bal.Currency, kind, o.row.Currency, apperr.ErrCurrencyMismatch)
		}
		amount := in.Amount
		if amount.IsZero() {
			amount = o.row.MonthlyPayment
		}

		t := &models.Transaction{
			BalanceID:   in.BalanceID,
			CategoryID:  s.categories.ID(o.categoryKey()),
			Type:        models.TransactionExpense,
			Amount:      amount,
			Description: fmt.Sprintf("%s payment %s", o.row.Name, month),
			Date:        in.Date,
		}
		if err := s.post(b, t, true); err != nil {
			return err
		}
		txnID := t.ID
		if err := o.settle(tx, month, amount, &txnID); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "balances", "transactions", string(kind)+"s")
	return out, nil
}

// MarkAsPaid records month as paid without touching any balance.
func (s *Service) MarkAsPaid(ctx context.Context, scope Scope, kind models.ObligationKind, id uint, month string) error {
	if _, err := time.Parse(monthLayout, month); err != nil {
		return apperr.BadRequest("month must look like 2006-01")
	}
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		o, err := loadObligation(tx, scope, kind, id)
		if err != nil {
			return err
		}
		paid, err := o.paidMonth(tx, month)
		if err != nil {
			return err
		}
		if paid {
			return apperr.Conflict("%s %d is already paid for %s", kind, id, month)
		}
		return o.settle(tx, month, o.row.MonthlyPayment, nil)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, scope, string(kind)+"s")
	return nil
}

func loadSubscription(tx *gorm.DB, scope Scope, id uint) (*models.Subscription, error) {
	sub, err := findScoped[models.Subscription](tx, scope, id, "subscription")
	if err != nil {
		return nil, err
	}
	if !sub.Active {
		return nil, apperr.BadRequest("subscription %d is inactive", id)
	}
	return sub, nil
}

// PaySubscription books the subscription amount as an expense from the balance.
func (s *Service) PaySubscription(ctx context.Context, scope Scope, id, balanceID uint, date time.Time) (*models.SubscriptionPayment, error) {
	if date.IsZero() {
		date = s.now()
	}
	var out *models.SubscriptionPayment
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		sub, err := loadSubscription(tx, scope, id)
		if err != nil {
			return err
		}
		b := newBook(tx, scope)
		bal, err := b.get(balanceID)
		if err != nil {
			return err
		}
		if bal.Currency != sub.Currency {
			return fmt.Errorf("balance %d is %s, subscription is %s: %w", bal.ID, bal.Currency, sub.Currency, apperr.ErrCurrencyMismatch)
		}

		t := &models.Transaction{
			BalanceID:   balanceID,
			CategoryID:  s.categories.ID(models.CategoryKeySubscription),
			Type:        models.TransactionExpense,
			Amount:      sub.Amount,
			Description: sub.Name,
			Date:        date,
		}
		if err := s.post(b, t, true); err != nil {
			return err
		}
		txnID := t.ID
		p := &models.SubscriptionPayment{SubscriptionID: sub.ID, PaidAt: date, Amount: sub.Amount, TransactionID: &txnID}
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("record subscription payment: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "balances", "transactions", "subscriptions")
	return out, nil
}

// MarkSubscriptionPaid records a payment without a transaction.
func (s *Service) MarkSubscriptionPaid(ctx context.Context, scope Scope, id uint, paidAt time.Time) (*models.SubscriptionPayment, error) {
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	var out *models.SubscriptionPayment
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		sub, err := loadSubscription(tx, scope, id)
		if err != nil {
			return err
		}
		p := &models.SubscriptionPayment{SubscriptionID: sub.ID, PaidAt: paidAt, Amount: sub.Amount}
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("record subscription payment: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "subscriptions")
	return out, nil
}

func (s *Service) ListCredits(ctx context.Context, scope Scope) ([]models.Credit, error) {
	var list []models.Credit
	err := s.db.WithContext(ctx).Preload("Payments").
		Where("user_id = ? AND workspace = ?", scope.UserID, scope.Workspace).
		Order("id ASC").Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list credits: %w", err)
	}
	return list, nil
}

func (s *Service) ListMortgages(ctx context.Context, scope Scope) ([]models.Mortgage, error) {
	var list []models.Mortgage
	err := s.db.WithContext(ctx).Preload("Payments").
		Where("user_id = ? AND workspace = ?", scope.UserID, scope.Workspace).
		Order("id ASC").Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list mortgages: %w", err)
	}
	return list, nil
}

func (s *Service) ListSubscriptions(ctx context.Context, scope Scope) ([]models.Subscription, error) {
	var list []models.Subscription
	err := s.db.WithContext(ctx).Preload("Payments").
		Where("user_id = ? AND workspace = ?", scope.UserID, scope.Workspace).
		Order("id ASC").Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return list, nil
}
