package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/almatkai/woolet-sub002/internal/apperr"
	"github.com/almatkai/woolet-sub002/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type DebtInput struct {
	BalanceID    *uint
	Currency     string // required when BalanceID is nil
	Counterparty string
	Description  string
	Amount       decimal.Decimal
	Direction    models.DebtDirection
	Date         time.Time
	DueDate      *time.Time
}

// Distribution is the part of a debt payment booked on one balance.
type Distribution struct {
	BalanceID uint
	Amount    decimal.Decimal
}

type PaymentInput struct {
	Amount        decimal.Decimal
	Distributions []Distribution
	PaidAt        time.Time
	Note          string
}

func debtStatus(paid, total decimal.Decimal) models.DebtStatus {
	switch {
	case total.Sub(paid).LessThanOrEqual(epsilon):
		return models.DebtPaid
	case paid.IsPositive():
		return models.DebtPartial
	default:
		return models.DebtPending
	}
}

// loanType is the transaction type of the initial loan; payments use the other one.
func loanType(d models.DebtDirection) models.TransactionType {
	if d == models.DebtTheyOwe {
		return models.TransactionExpense
	}
	return models.TransactionIncome
}

func paymentType(d models.DebtDirection) models.TransactionType {
	if d == models.DebtTheyOwe {
		return models.TransactionIncome
	}
	return models.TransactionExpense
}

// CreateDebt records a debt and, for a tracked debt, books the initial loan.
func (s *Service) CreateDebt(ctx context.Context, scope Scope, in DebtInput) (*models.Debt, error) {
	if !in.Direction.Valid() {
		return nil, apperr.BadRequest("unknown debt direction %q", in.Direction)
	}
	if !in.Amount.IsPositive() {
		return nil, apperr.ErrInvalidAmount
	}
	counterparty := strings.TrimSpace(in.Counterparty)
	if counterparty == "" {
		return nil, apperr.BadRequest("counterparty is required")
	}
	if in.BalanceID == nil && strings.TrimSpace(in.Currency) == "" {
		return nil, apperr.BadRequest("either a balance or a currency is required")
	}
	if in.Date.IsZero() {
		in.Date = s.now()
	}

	var out *models.Debt
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		b := newBook(tx, scope)
		d := &models.Debt{
			UserID:       scope.UserID,
			Workspace:    scope.Workspace,
			BalanceID:    in.BalanceID,
			Counterparty: counterparty,
			Description:  strings.TrimSpace(in.Description),
			Amount:       in.Amount,
			PaidAmount:   decimal.Zero,
			Direction:    in.Direction,
			Status:       models.DebtPending,
			Lifecycle:    models.LifecycleActive,
			DueDate:      in.DueDate,
		}
		if in.BalanceID != nil {
			bal, err := b.get(*in.BalanceID)
			if err != nil {
				return err
			}
			d.Currency = bal.Currency
		} else {
			code, err := normalizeCurrency(in.Currency)
			if err != nil {
				return err
			}
			d.Currency = code
		}
		if err := tx.Create(d).Error; err != nil {
			return fmt.Errorf("create debt: %w", err)
		}

		if in.BalanceID != nil {
			debtID := d.ID
			loan := &models.Transaction{
				BalanceID:   *in.BalanceID,
				CategoryID:  s.categories.ID(models.CategoryKeyDebt),
				Type:        loanType(in.Direction),
				Amount:      in.Amount,
				Description: debtDescription(d),
				Date:        in.Date,
				DebtID:      &debtID,
			}
			// lending money out needs the money
			if err := s.post(b, loan, in.Direction == models.DebtTheyOwe); err != nil {
				return err
			}
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "balances", "debts")
	return out, nil
}

func debtDescription(d *models.Debt) string {
	if d.Direction == models.DebtTheyOwe {
		return "Loan to " + d.Counterparty
	}
	return "Loan from " + d.Counterparty
}

// loadDebt returns an active debt of scope, locked for update where supported.
func loadDebt(tx *gorm.DB, scope Scope, id uint) (*models.Debt, error) {
	d, err := findScoped[models.Debt](tx, scope, id, "debt")
	if err != nil {
		return nil, err
	}
	if d.Lifecycle != models.LifecycleActive {
		return nil, apperr.NotFound("debt %d not found", id)
	}
	return d, nil
}

// saveDebt writes paid amount, status and lifecycle with a version check.
func saveDebt(tx *gorm.DB, d *models.Debt) error {
	res := tx.Model(&models.Debt{}).
		Where("id = ? AND version = ?", d.ID, d.Version).
		Updates(map[string]any{
			"paid_amount":    d.PaidAmount,
			"status":         d.Status,
			"lifecycle":      d.Lifecycle,
			"deleting_since": d.DeletingSince,
			"version":        d.Version + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("update debt %d: %w", d.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrConcurrentUpdate
	}
	d.Version++
	return nil
}

// checkPayment validates a payment against the debt before anything is written.
// previous is the amount of the payment being replaced, zero for a new one.
func checkPayment(b *book, d *models.Debt, in PaymentInput, previous decimal.Decimal) error {
	if !in.Amount.IsPositive() {
		return apperr.ErrInvalidAmount
	}
	if d.PaidAmount.Sub(previous).Add(in.Amount).GreaterThan(d.Amount.Add(epsilon)) {
		remaining := d.Amount.Sub(d.PaidAmount.Sub(previous))
		return fmt.Errorf("remaining is %s %s: %w", remaining.StringFixed(2), d.Currency, apperr.ErrExceedsRemaining)
	}
	if len(in.Distributions) == 0 {
		if d.BalanceID != nil {
			return apperr.BadRequest("a tracked debt needs at least one distribution")
		}
		return nil
	}

	sum := decimal.Zero
	for _, dist := range in.Distributions {
		if !dist.Amount.IsPositive() {
			return apperr.ErrInvalidAmount
		}
		bal, err := b.get(dist.BalanceID)
		if err != nil {
			return err
		}
		if bal.Currency != d.Currency {
			return fmt.Errorf("balance %d is %s, debt is %s: %w", bal.ID, bal.Currency, d.Currency, apperr.ErrCurrencyMismatch)
		}
		sum = sum.Add(dist.Amount)
	}
	if sum.Sub(in.Amount).Abs().GreaterThan(epsilon) {
		return fmt.Errorf("distributions sum to %s, payment is %s: %w",
			sum.StringFixed(2), in.Amount.StringFixed(2), apperr.ErrDistributionMismatch)
	}
	return nil
}

// bookDistributions creates one payment transaction per distribution.
func (s *Service) bookDistributions(b *book, d *models.Debt, p *models.DebtPayment, dists []Distribution) error {
	typ := paymentType(d.Direction)
	for _, dist := range dists {
		debtID, paymentID := d.ID, p.ID
		t := &models.Transaction{
			BalanceID:     dist.BalanceID,
			CategoryID:    s.categories.ID(models.CategoryKeyDebtPayment),
			Type:          typ,
			Amount:        dist.Amount,
			Description:   "Debt payment: " + d.Counterparty,
			Date:          p.PaidAt,
			DebtID:        &debtID,
			DebtPaymentID: &paymentID,
		}
		if err := s.post(b, t, typ == models.TransactionExpense); err != nil {
			return err
		}
	}
	return nil
}

// unbookPayment reverts and deletes every active transaction of a payment.
func unbookPayment(b *book, paymentID uint) error {
	var list []models.Transaction
	if err := b.tx.Where("debt_payment_id = ? AND lifecycle = ?", paymentID, models.LifecycleActive).
		Find(&list).Error; err != nil {
		return fmt.Errorf("load payment transactions: %w", err)
	}
	for i := range list {
		if err := unpost(b, &list[i]); err != nil {
			return err
		}
	}
	return nil
}

// AddPayment records a repayment and books each distribution on its balance.
func (s *Service) AddPayment(ctx context.Context, scope Scope, debtID uint, in PaymentInput) (*models.Debt, error) {
	if in.PaidAt.IsZero() {
		in.PaidAt = s.now()
	}
	var out *models.Debt
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		d, err := loadDebt(tx, scope, debtID)
		if err != nil {
			return err
		}
		b := newBook(tx, scope)
		if err := checkPayment(b, d, in, decimal.Zero); err != nil {
			return err
		}

		p := &models.DebtPayment{DebtID: d.ID, Amount: in.Amount, PaidAt: in.PaidAt, Note: strings.TrimSpace(in.Note)}
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("create payment: %w", err)
		}

		d.PaidAmount = d.PaidAmount.Add(in.Amount)
		d.Status = debtStatus(d.PaidAmount, d.Amount)
		if err := saveDebt(tx, d); err != nil {
			return err
		}
		if err := s.bookDistributions(b, d, p, in.Distributions); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "balances", "debts")
	return out, nil
}

// loadPayment returns a payment with its active debt.
func loadPayment(tx *gorm.DB, scope Scope, paymentID uint) (*models.DebtPayment, *models.Debt, error) {
	var p models.DebtPayment
	if err := tx.First(&p, paymentID).Error; err != nil {
		return nil, nil, lookupErr(err, "debt payment", paymentID)
	}
	d, err := loadDebt(tx, scope, p.DebtID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, nil, apperr.NotFound("debt payment %d not found", paymentID)
		}
		return nil, nil, err
	}
	return &p, d, nil
}

// UpdatePayment replaces amount and distributions of a payment: the old
// transactions are reverted and deleted, new ones are booked.
func (s *Service) UpdatePayment(ctx context.Context, scope Scope, paymentID uint, in PaymentInput) (*models.Debt, error) {
	var out *models.Debt
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		p, d, err := loadPayment(tx, scope, paymentID)
		if err != nil {
			return err
		}
		b := newBook(tx, scope)
		if err := checkPayment(b, d, in, p.Amount); err != nil {
			return err
		}
		if err := unbookPayment(b, p.ID); err != nil {
			return err
		}

		d.PaidAmount = d.PaidAmount.Sub(p.Amount).Add(in.Amount)
		d.Status = debtStatus(d.PaidAmount, d.Amount)
		if err := saveDebt(tx, d); err != nil {
			return err
		}

		p.Amount = in.Amount
		if !in.PaidAt.IsZero() {
			p.PaidAt = in.PaidAt
		}
		if in.Note != "" {
			p.Note = strings.TrimSpace(in.Note)
		}
		if err := tx.Save(p).Error; err != nil {
			return fmt.Errorf("save payment: %w", err)
		}
		if err := s.bookDistributions(b, d, p, in.Distributions); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "balances", "debts")
	return out, nil
}

// DeletePayment reverts a payment's transactions and removes it.
func (s *Service) DeletePayment(ctx context.Context, scope Scope, paymentID uint) (*models.Debt, error) {
	var out *models.Debt
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		p, d, err := loadPayment(tx, scope, paymentID)
		if err != nil {
			return err
		}
		if err := unbookPayment(newBook(tx, scope), p.ID); err != nil {
			return err
		}

		d.PaidAmount = d.PaidAmount.Sub(p.Amount)
		if d.PaidAmount.IsNegative() {
			d.PaidAmount = decimal.Zero
		}
		d.Status = debtStatus(d.PaidAmount, d.Amount)
		if err := saveDebt(tx, d); err != nil {
			return err
		}
		if err := tx.Delete(p).Error; err != nil {
			return fmt.Errorf("delete payment: %w", err)
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "balances", "debts")
	return out, nil
}

// debtTransactions returns every transaction of the debt in the given lifecycle,
// the initial loan and all payment transactions.
func debtTransactions(tx *gorm.DB, debtID uint, lc models.LifecycleStatus) ([]models.Transaction, error) {
	var list []models.Transaction
	if err := tx.Where("debt_id = ? AND lifecycle = ?", debtID, lc).Order("id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("load debt transactions: %w", err)
	}
	return list, nil
}

// purgeDebtRows deletes the debt with its payments and transactions without
// touching any balance.
func purgeDebtRows(tx *gorm.DB, debtID uint) error {
	if err := tx.Where("debt_id = ?", debtID).Delete(&models.Transaction{}).Error; err != nil {
		return fmt.Errorf("delete debt transactions: %w", err)
	}
	if err := tx.Where("debt_id = ?", debtID).Delete(&models.DebtPayment{}).Error; err != nil {
		return fmt.Errorf("delete debt payments: %w", err)
	}
	if err := tx.Delete(&models.Debt{}, debtID).Error; err != nil {
		return fmt.Errorf("delete debt: %w", err)
	}
	return nil
}

// DeleteDebt hard-deletes an active debt after reverting the initial loan and
// every payment transaction.
func (s *Service) DeleteDebt(ctx context.Context, scope Scope, debtID uint) error {
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		d, err := loadDebt(tx, scope, debtID)
		if err != nil {
			return err
		}
		list, err := debtTransactions(tx, d.ID, models.LifecycleActive)
		if err != nil {
			return err
		}
		b := newBook(tx, scope)
		for i := range list {
			if err := applyEffects(b, &list[i], -1); err != nil {
				return err
			}
		}
		return purgeDebtRows(tx, d.ID)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, scope, "balances", "debts", "transactions")
	return nil
}

// SoftDeleteDebt reverts every balance delta of the debt and parks the debt and
// its transactions in the deleting state until undo or purge.
func (s *Service) SoftDeleteDebt(ctx context.Context, scope Scope, debtID uint) (*models.Debt, error) {
	var out *models.Debt
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		d, err := loadDebt(tx, scope, debtID)
		if err != nil {
			return err
		}
		list, err := debtTransactions(tx, d.ID, models.LifecycleActive)
		if err != nil {
			return err
		}
		b := newBook(tx, scope)
		for i := range list {
			if err := applyEffects(b, &list[i], -1); err != nil {
				return err
			}
		}
		if err := tx.Model(&models.Transaction{}).
			Where("debt_id = ? AND lifecycle = ?", d.ID, models.LifecycleActive).
			Update("lifecycle", models.LifecycleDeleting).Error; err != nil {
			return fmt.Errorf("mark transactions deleting: %w", err)
		}

		now := s.now()
		d.Lifecycle = models.LifecycleDeleting
		d.DeletingSince = &now
		if err := saveDebt(tx, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "balances", "debts", "transactions")
	return out, nil
}

// UndoDeleteDebt re-applies the deltas parked by SoftDeleteDebt. On a debt that
// is not being deleted it does nothing and succeeds.
func (s *Service) UndoDeleteDebt(ctx context.Context, scope Scope, debtID uint) (*models.Debt, error) {
	var out *models.Debt
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		d, err := findScoped[models.Debt](tx, scope, debtID, "debt")
		if err != nil {
			return err
		}
		out = d
		if d.Lifecycle != models.LifecycleDeleting {
			return nil
		}

		list, err := debtTransactions(tx, d.ID, models.LifecycleDeleting)
		if err != nil {
			return err
		}
		b := newBook(tx, scope)
		for i := range list {
			if err := applyEffects(b, &list[i], 1); err != nil {
				return err
			}
		}
		if err := tx.Model(&models.Transaction{}).
			Where("debt_id = ? AND lifecycle = ?", d.ID, models.LifecycleDeleting).
			Update("lifecycle", models.LifecycleActive).Error; err != nil {
			return fmt.Errorf("mark transactions active: %w", err)
		}

		d.Lifecycle = models.LifecycleActive
		d.DeletingSince = nil
		return saveDebt(tx, d)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "balances", "debts", "transactions")
	return out, nil
}

// PurgeDeletingDebts hard-deletes every debt that has been deleting for longer
// than the purge window. Their balance effects were already reverted. It
// returns the number of purged debts.
func (s *Service) PurgeDeletingDebts(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.purgeAfter)

	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.Debt{}).
		Where("lifecycle = ? AND deleting_since < ?", models.LifecycleDeleting, cutoff).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("find expired debts: %w", err)
	}

	purged := 0
	for _, id := range ids {
		var deleted bool
		err := s.inTx(ctx, func(tx *gorm.DB) error {
			deleted = false
			// an undo may have raced the sweep
			var d models.Debt
			if err := tx.First(&d, id).Error; err != nil {
				return lookupErr(err, "debt", id)
			}
			if d.Lifecycle != models.LifecycleDeleting {
				return nil
			}
			if err := purgeDebtRows(tx, id); err != nil {
				return err
			}
			deleted = true
			return nil
		})
		if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
			return purged, err
		}
		if err == nil && deleted {
			purged++
		}
	}
	if purged > 0 {
		s.log.InfoContext(ctx, "purged soft-deleted debts", "count", purged)
	}
	return purged, nil
}

// ListDebts returns the active debts of scope. Expired soft-deletes are swept first.
func (s *Service) ListDebts(ctx context.Context, scope Scope) ([]models.Debt, error) {
	if _, err := s.PurgeDeletingDebts(ctx); err != nil {
		s.log.WarnContext(ctx, "purge sweep failed", "error", err)
	}

	var list []models.Debt
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND workspace = ? AND lifecycle = ?", scope.UserID, scope.Workspace, models.LifecycleActive).
		Order("created_at DESC, id DESC").
		Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list debts: %w", err)
	}
	return list, nil
}

// GetDebt returns one debt with its payments.
func (s *Service) GetDebt(ctx context.Context, scope Scope, debtID uint) (*models.Debt, error) {
	var out *models.Debt
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		d, err := loadDebt(tx, scope, debtID)
		if err != nil {
			return err
		}
		if err := tx.Where("debt_id = ?", d.ID).Order("paid_at ASC, id ASC").Find(&d.Payments).Error; err != nil {
			return fmt.Errorf("load payments: %w", err)
		}
		out = d
		return nil
	})
	return out, err
}

// StartPurger runs PurgeDeletingDebts every interval until ctx is done.
func (s *Service) StartPurger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.PurgeDeletingDebts(ctx); err != nil {
					s.log.ErrorContext(ctx, "purge sweep failed", "error", err)
				}
			}
		}
	}()
}
