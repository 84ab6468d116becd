package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/almatkai/woolet-sub002/internal/apperr"
	"github.com/almatkai/woolet-sub002/internal/models"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// epsilon absorbs rounding dust in sum and remaining checks.
var epsilon = decimal.New(1, -2)

// SplitInput describes how a transaction is shared. With Equal set the total is
// divided evenly, otherwise Amounts[i] is what ParticipantIDs[i] owes.
type SplitInput struct {
	ParticipantIDs     []uint
	Equal              bool
	Amounts            []decimal.Decimal
	Total              decimal.Decimal // zero means the transaction amount
	InstantMoneyBack   bool
	ReceivingBalanceID *uint
}

// equalShares divides total into n shares of the currency's minor unit. The
// first total%n shares carry one extra minor unit, so the shares always add up.
func equalShares(total decimal.Decimal, n int, places int32) []decimal.Decimal {
	units := total.Shift(places).Round(0).IntPart()
	base, rem := units/int64(n), units%int64(n)
	out := make([]decimal.Decimal, n)
	for i := range out {
		u := base
		if int64(i) < rem {
			u++
		}
		out[i] = decimal.New(u, -places)
	}
	return out
}

func splitStatus(paid, owed decimal.Decimal) models.SplitStatus {
	switch {
	case paid.GreaterThanOrEqual(owed):
		return models.SplitSettled
	case paid.IsPositive():
		return models.SplitPartial
	default:
		return models.SplitPending
	}
}

func (s *Service) CreateParticipant(ctx context.Context, scope Scope, name string) (*models.Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.BadRequest("participant name is required")
	}
	p := models.Participant{UserID: scope.UserID, Workspace: scope.Workspace, Name: name}
	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, fmt.Errorf("create participant: %w", err)
	}
	return &p, nil
}

// CreateSplits replaces the splits of a transaction.
func (s *Service) CreateSplits(ctx context.Context, scope Scope, transactionID uint, in SplitInput) ([]models.TransactionSplit, error) {
	var out []models.TransactionSplit
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		t, err := loadActiveTransaction(tx, scope, transactionID)
		if err != nil {
			return err
		}
		out, err = s.splitTransaction(newBook(tx, scope), t, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "balances", "splits")
	return out, nil
}

func (s *Service) splitTransaction(b *book, t *models.Transaction, in SplitInput) ([]models.TransactionSplit, error) {
	n := len(in.ParticipantIDs)
	if n == 0 {
		return nil, apperr.BadRequest("at least one participant is required")
	}

	var participants []models.Participant
	if err := b.tx.Where("id IN ? AND user_id = ? AND workspace = ?", in.ParticipantIDs, b.scope.UserID, b.scope.Workspace).
		Find(&participants).Error; err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	names := make(map[uint]string, len(participants))
	for _, p := range participants {
		names[p.ID] = p.Name
	}
	for _, id := range in.ParticipantIDs {
		if _, ok := names[id]; !ok {
			return nil, apperr.NotFound("participant %d not found", id)
		}
	}
	if len(names) != n {
		return nil, apperr.BadRequest("participants must be distinct")
	}

	src, err := b.get(t.BalanceID)
	if err != nil {
		return nil, err
	}
	total := in.Total
	if total.IsZero() {
		total = t.Amount
	}
	if !total.IsPositive() {
		return nil, apperr.ErrInvalidAmount
	}

	var shares []decimal.Decimal
	if in.Equal {
		places := int32(2)
		if c := money.GetCurrency(src.Currency); c != nil {
			places = int32(c.Fraction)
		}
		shares = equalShares(total, n, places)
	} else {
		if len(in.Amounts) != n {
			return nil, apperr.BadRequest("one amount per participant is required")
		}
		sum := decimal.Zero
		for _, a := range in.Amounts {
			if !a.IsPositive() {
				return nil, apperr.ErrInvalidAmount
			}
			sum = sum.Add(a)
		}
		if sum.GreaterThan(total.Add(epsilon)) {
			return nil, apperr.BadRequest("split amounts exceed the total of %s", total.StringFixed(2))
		}
		shares = in.Amounts
	}

	receiving := t.BalanceID
	if in.ReceivingBalanceID != nil {
		receiving = *in.ReceivingBalanceID
	}
	if in.InstantMoneyBack {
		dst, err := b.get(receiving)
		if err != nil {
			return nil, err
		}
		if dst.Currency != src.Currency {
			return nil, apperr.ErrCurrencyMismatch
		}
	}

	if err := s.dropSplits(b, t.ID); err != nil {
		return nil, err
	}

	splits := make([]models.TransactionSplit, n)
	for i, pid := range in.ParticipantIDs {
		splits[i] = models.TransactionSplit{
			TransactionID: t.ID,
			ParticipantID: pid,
			Amount:        shares[i],
			PaidAmount:    decimal.Zero,
			Status:        models.SplitPending,
		}
		if err := b.tx.Create(&splits[i]).Error; err != nil {
			return nil, fmt.Errorf("create split: %w", err)
		}

		if in.InstantMoneyBack {
			if _, err := s.paySplit(b, t, &splits[i], shares[i], &receiving, names[pid], t.Date); err != nil {
				return nil, err
			}
		}
	}
	return splits, nil
}

// paySplit raises the paid amount of split and, with a receiving balance, books
// the money as an income child of the split transaction.
func (s *Service) paySplit(b *book, parent *models.Transaction, split *models.TransactionSplit,
	amount decimal.Decimal, receiving *uint, who string, paidAt time.Time) (*models.SplitPayment, error) {
	if !amount.IsPositive() {
		return nil, apperr.ErrInvalidAmount
	}
	paid := split.PaidAmount.Add(amount)
	if paid.GreaterThan(split.Amount.Add(epsilon)) {
		return nil, fmt.Errorf("split %d owes %s, already paid %s: %w",
			split.ID, split.Amount.StringFixed(2), split.PaidAmount.StringFixed(2), apperr.ErrOverpayment)
	}

	payment := models.SplitPayment{SplitID: split.ID, Amount: amount, PaidAt: paidAt}
	if receiving != nil {
		src, err := b.get(parent.BalanceID)
		if err != nil {
			return nil, err
		}
		dst, err := b.get(*receiving)
		if err != nil {
			return nil, err
		}
		if dst.Currency != src.Currency {
			return nil, apperr.ErrCurrencyMismatch
		}

		parentID := parent.ID
		income := &models.Transaction{
			BalanceID:   *receiving,
			CategoryID:  s.categories.ID(models.CategoryKeySplitPayback),
			Type:        models.TransactionIncome,
			Amount:      amount,
			Description: fmt.Sprintf("Payback from %s", who),
			Date:        paidAt,
			ParentID:    &parentID,
		}
		if err := s.post(b, income, false); err != nil {
			return nil, err
		}
		rid := *receiving
		payment.BalanceID = &rid
		payment.TransactionID = &income.ID
	}
	if err := b.tx.Create(&payment).Error; err != nil {
		return nil, fmt.Errorf("create split payment: %w", err)
	}

	split.PaidAmount = paid
	split.Status = splitStatus(paid, split.Amount)
	if err := b.tx.Model(split).Updates(map[string]any{"paid_amount": split.PaidAmount, "status": split.Status}).Error; err != nil {
		return nil, fmt.Errorf("update split: %w", err)
	}
	return &payment, nil
}

// loadSplit returns a split whose transaction is visible in scope, with the transaction.
func loadSplit(tx *gorm.DB, scope Scope, id uint) (*models.TransactionSplit, *models.Transaction, error) {
	var split models.TransactionSplit
	if err := forUpdate(tx).First(&split, id).Error; err != nil {
		return nil, nil, lookupErr(err, "split", id)
	}
	t, err := loadActiveTransaction(tx, scope, split.TransactionID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, nil, apperr.NotFound("split %d not found", id)
		}
		return nil, nil, err
	}
	return &split, t, nil
}

func participantName(tx *gorm.DB, id uint) string {
	var p models.Participant
	if err := tx.First(&p, id).Error; err != nil {
		return "participant"
	}
	return p.Name
}

type SplitPaymentInput struct {
	Amount             decimal.Decimal
	ReceivingBalanceID *uint
	PaidAt             time.Time
}

// RecordSplitPayment records money received from a participant.
func (s *Service) RecordSplitPayment(ctx context.Context, scope Scope, splitID uint, in SplitPaymentInput) (*models.TransactionSplit, error) {
	if in.PaidAt.IsZero() {
		in.PaidAt = s.now()
	}
	var out *models.TransactionSplit
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		split, t, err := loadSplit(tx, scope, splitID)
		if err != nil {
			return err
		}
		b := newBook(tx, scope)
		if _, err := s.paySplit(b, t, split, in.Amount, in.ReceivingBalanceID, participantName(tx, split.ParticipantID), in.PaidAt); err != nil {
			return err
		}
		out = split
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "balances", "splits")
	return out, nil
}

// SettleSplit pays the exact remaining amount of a split in one step.
func (s *Service) SettleSplit(ctx context.Context, scope Scope, splitID uint, receivingBalanceID *uint) (*models.TransactionSplit, error) {
	var out *models.TransactionSplit
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		split, t, err := loadSplit(tx, scope, splitID)
		if err != nil {
			return err
		}
		remaining := split.Amount.Sub(split.PaidAmount)
		if !remaining.IsPositive() {
			return apperr.BadRequest("split %d is already settled", splitID)
		}
		b := newBook(tx, scope)
		if _, err := s.paySplit(b, t, split, remaining, receivingBalanceID, participantName(tx, split.ParticipantID), s.now()); err != nil {
			return err
		}
		out = split
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "balances", "splits")
	return out, nil
}

// DeleteSplitPayment removes a recorded payment and reverts its payback income.
func (s *Service) DeleteSplitPayment(ctx context.Context, scope Scope, paymentID uint) error {
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		var payment models.SplitPayment
		if err := tx.First(&payment, paymentID).Error; err != nil {
			return lookupErr(err, "split payment", paymentID)
		}
		split, _, err := loadSplit(tx, scope, payment.SplitID)
		if err != nil {
			return err
		}

		if payment.TransactionID != nil {
			var income models.Transaction
			err := tx.Where("id = ? AND lifecycle = ?", *payment.TransactionID, models.LifecycleActive).First(&income).Error
			switch {
			case err == nil:
				if err := unpost(newBook(tx, scope), &income); err != nil {
					return err
				}
			case errors.Is(err, gorm.ErrRecordNotFound):
				// payback already gone
			default:
				return fmt.Errorf("load payback: %w", err)
			}
		}
		return removeSplitPayment(tx, split, &payment)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, scope, "balances", "splits")
	return nil
}

func removeSplitPayment(tx *gorm.DB, split *models.TransactionSplit, payment *models.SplitPayment) error {
	paid := split.PaidAmount.Sub(payment.Amount)
	if paid.IsNegative() {
		paid = decimal.Zero
	}
	split.PaidAmount = paid
	split.Status = splitStatus(paid, split.Amount)
	if err := tx.Model(split).Updates(map[string]any{"paid_amount": split.PaidAmount, "status": split.Status}).Error; err != nil {
		return fmt.Errorf("update split: %w", err)
	}
	if err := tx.Delete(payment).Error; err != nil {
		return fmt.Errorf("delete split payment: %w", err)
	}
	return nil
}

// unlinkSplitPayment forgets the split payment recorded by a payback
// transaction that is being deleted on its own.
func unlinkSplitPayment(tx *gorm.DB, transactionID uint) error {
	var payments []models.SplitPayment
	if err := tx.Where("transaction_id = ?", transactionID).Find(&payments).Error; err != nil {
		return fmt.Errorf("load split payments: %w", err)
	}
	for i := range payments {
		var split models.TransactionSplit
		if err := tx.First(&split, payments[i].SplitID).Error; err != nil {
			return lookupErr(err, "split", payments[i].SplitID)
		}
		if err := removeSplitPayment(tx, &split, &payments[i]); err != nil {
			return err
		}
	}
	return nil
}

// recordsSplitPayment reports whether the transaction is the payback of a split payment.
func recordsSplitPayment(tx *gorm.DB, transactionID uint) (bool, error) {
	var n int64
	if err := tx.Model(&models.SplitPayment{}).Where("transaction_id = ?", transactionID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("count split payments: %w", err)
	}
	return n > 0, nil
}

// checkSplitTotals keeps an edited split transaction able to carry its
// splits: same currency, and an amount no smaller than what is owed.
func checkSplitTotals(tx *gorm.DB, t *models.Transaction, fromCurrency, toCurrency string) error {
	var splits []models.TransactionSplit
	if err := tx.Where("transaction_id = ?", t.ID).Find(&splits).Error; err != nil {
		return fmt.Errorf("load splits: %w", err)
	}
	if len(splits) == 0 {
		return nil
	}
	if fromCurrency != toCurrency {
		return fmt.Errorf("transaction %d is split in %s: %w", t.ID, fromCurrency, apperr.ErrCurrencyMismatch)
	}
	owed := decimal.Zero
	for _, sp := range splits {
		owed = owed.Add(sp.Amount)
	}
	if owed.GreaterThan(t.Amount.Add(epsilon)) {
		return apperr.BadRequest("splits of transaction %d owe %s, more than %s", t.ID, owed.StringFixed(2), t.Amount.StringFixed(2))
	}
	return nil
}

// dropSplits reverts every payback of the transaction's splits and deletes the splits.
func (s *Service) dropSplits(b *book, transactionID uint) error {
	var linked []models.Transaction
	sub := b.tx.Model(&models.SplitPayment{}).Select("transaction_id").
		Where("split_id IN (?) AND transaction_id IS NOT NULL",
			b.tx.Model(&models.TransactionSplit{}).Select("id").Where("transaction_id = ?", transactionID))
	if err := b.tx.Where("id IN (?) AND lifecycle = ?", sub, models.LifecycleActive).Find(&linked).Error; err != nil {
		return fmt.Errorf("load paybacks: %w", err)
	}
	for i := range linked {
		if err := unpost(b, &linked[i]); err != nil {
			return err
		}
	}
	return deleteSplitRows(b.tx, transactionID)
}

// deleteSplitRows deletes the splits of a transaction and their payments.
func deleteSplitRows(tx *gorm.DB, transactionID uint) error {
	splitIDs := tx.Model(&models.TransactionSplit{}).Select("id").Where("transaction_id = ?", transactionID)
	if err := tx.Where("split_id IN (?)", splitIDs).Delete(&models.SplitPayment{}).Error; err != nil {
		return fmt.Errorf("delete split payments: %w", err)
	}
	if err := tx.Where("transaction_id = ?", transactionID).Delete(&models.TransactionSplit{}).Error; err != nil {
		return fmt.Errorf("delete splits: %w", err)
	}
	return nil
}

// ListSplits returns the splits of a transaction with their payments.
func (s *Service) ListSplits(ctx context.Context, scope Scope, transactionID uint) ([]models.TransactionSplit, error) {
	var out []models.TransactionSplit
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		if _, err := loadActiveTransaction(tx, scope, transactionID); err != nil {
			return err
		}
		return tx.Where("transaction_id = ?", transactionID).Preload("Payments").Order("id ASC").Find(&out).Error
	})
	return out, err
}
