package service

import (
	"context"
	"testing"
	"time"

	"github.com/almatkai/woolet-sub002/internal/apperr"
	"github.com/almatkai/woolet-sub002/internal/models"

	"github.com/alecthomas/assert/v2"
	"github.com/shopspring/decimal"
)

func TestMatchKind(t *testing.T) {
	tests := []struct {
		texts []string
		want  models.ObligationKind
		ok    bool
	}{
		{[]string{"June MORTGAGE"}, models.ObligationMortgage, true},
		{[]string{"", "Credit card"}, models.ObligationCredit, true},
		{[]string{"car loan"}, models.ObligationCredit, true},
		{[]string{"groceries", "Food"}, "", false},
	}
	for _, tt := range tests {
		kind, ok := matchKind(tt.texts...)
		assert.Equal(t, tt.ok, ok)
		assert.Equal(t, tt.want, kind)
	}
}

func TestExpenseLinksToMortgage(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	bal := openBalance(t, s, alice, "USD", "5000")

	m, err := s.CreateMortgage(ctx, alice, ObligationInput{
		AccountID:      bal.AccountID,
		Name:           "Flat",
		Currency:       "USD",
		Principal:      dec("1500"),
		MonthlyPayment: dec("1000"),
	})
	assert.NoError(t, err)

	june := time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC)
	first, err := s.CreateTransaction(ctx, alice, TransactionInput{BalanceID: bal.ID, Type: models.TransactionExpense, Amount: dec("1000"), Description: "Mortgage June", Date: june})
	assert.NoError(t, err)
	// same month again: the expense stands but is not linked twice
	_, err = s.CreateTransaction(ctx, alice, TransactionInput{BalanceID: bal.ID, Type: models.TransactionExpense, Amount: dec("1000"), Description: "mortgage extra", Date: june.AddDate(0, 0, 5)})
	assert.NoError(t, err)
	assertAmount(t, "3000", amountOf(t, s, alice, bal.ID))

	var got models.Mortgage
	assert.NoError(t, db.Preload("Payments").First(&got, m.ID).Error)
	assertAmount(t, "500", got.RemainingBalance)
	assert.Equal(t, 1, len(got.Payments))
	assert.Equal(t, "2026-06", got.Payments[0].MonthYear)
	assert.Equal(t, first.ID, *got.Payments[0].TransactionID)

	_, err = s.CreateTransaction(ctx, alice, TransactionInput{BalanceID: bal.ID, Type: models.TransactionExpense, Amount: dec("1000"), Description: "Mortgage July", Date: june.AddDate(0, 1, 0)})
	assert.NoError(t, err)
	assert.NoError(t, db.First(&got, m.ID).Error)
	assertAmount(t, "0", got.RemainingBalance)
	assert.Equal(t, models.ObligationPaidOff, got.Status)

	// deleting the expense keeps the month paid but drops the link
	assert.NoError(t, s.DeleteTransaction(ctx, alice, first.ID))
	var p models.MortgagePayment
	assert.NoError(t, db.Where("mortgage_id = ? AND month_year = ?", m.ID, "2026-06").First(&p).Error)
	assert.Zero(t, p.TransactionID)
}

func TestLinkIsBestEffort(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	bal := openBalance(t, s, alice, "USD", "100")

	// no credit exists on the account
	txn, err := s.CreateTransaction(ctx, alice, TransactionInput{BalanceID: bal.ID, Type: models.TransactionExpense, Amount: dec("10"), Description: "credit card"})
	assert.NoError(t, err)
	assert.NotZero(t, txn.ID)

	var n int64
	assert.NoError(t, db.Model(&models.CreditPayment{}).Count(&n).Error)
	assert.Equal(t, int64(0), n)
}

func TestLinkSkipsOtherCurrency(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	acc, err := s.CreateAccount(ctx, alice, AccountInput{
		Name:     "Bank",
		Openings: map[string]decimal.Decimal{"USD": dec("5000"), "EUR": dec("5000")},
	})
	assert.NoError(t, err)
	var eur models.Balance
	for _, b := range acc.Balances {
		if b.Currency == "EUR" {
			eur = b
		}
	}

	m, err := s.CreateMortgage(ctx, alice, ObligationInput{
		AccountID:      acc.ID,
		Name:           "Flat",
		Currency:       "USD",
		Principal:      dec("1500"),
		MonthlyPayment: dec("1000"),
	})
	assert.NoError(t, err)

	_, err = s.CreateTransaction(ctx, alice, TransactionInput{BalanceID: eur.ID, Type: models.TransactionExpense, Amount: dec("900"), Description: "mortgage"})
	assert.NoError(t, err)
	assertAmount(t, "4100", amountOf(t, s, alice, eur.ID))

	var got models.Mortgage
	assert.NoError(t, db.Preload("Payments").First(&got, m.ID).Error)
	assertAmount(t, "1500", got.RemainingBalance)
	assert.Equal(t, 0, len(got.Payments))
}

func TestMakeMonthlyPayment(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	bal := openBalance(t, s, alice, "USD", "1000")

	c, err := s.CreateCredit(ctx, alice, ObligationInput{
		AccountID:      bal.AccountID,
		Name:           "Car",
		Currency:       "USD",
		Principal:      dec("600"),
		MonthlyPayment: dec("250"),
	})
	assert.NoError(t, err)

	march := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	txn, err := s.MakeMonthlyPayment(ctx, alice, models.ObligationCredit, c.ID, MonthlyPaymentInput{BalanceID: bal.ID, Date: march})
	assert.NoError(t, err)
	assertAmount(t, "250", txn.Amount)
	assertAmount(t, "750", amountOf(t, s, alice, bal.ID))

	_, err = s.MakeMonthlyPayment(ctx, alice, models.ObligationCredit, c.ID, MonthlyPaymentInput{BalanceID: bal.ID, Date: march})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assertAmount(t, "750", amountOf(t, s, alice, bal.ID))

	assert.NoError(t, s.MarkAsPaid(ctx, alice, models.ObligationCredit, c.ID, "2026-04"))
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(s.MarkAsPaid(ctx, alice, models.ObligationCredit, c.ID, "April")))

	credits, err := s.ListCredits(ctx, alice)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(credits))
	assertAmount(t, "100", credits[0].RemainingBalance)
	assert.Equal(t, 2, len(credits[0].Payments))
	assertAmount(t, "750", amountOf(t, s, alice, bal.ID))

	_, err = s.MakeMonthlyPayment(ctx, bob, models.ObligationCredit, c.ID, MonthlyPaymentInput{BalanceID: bal.ID})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSubscriptionPayments(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	bal := openBalance(t, s, alice, "EUR", "20")

	sub, err := s.CreateSubscription(ctx, alice, SubscriptionInput{Name: "Music", Currency: "eur", Amount: dec("9.99")})
	assert.NoError(t, err)
	assert.Equal(t, "EUR", sub.Currency)

	p, err := s.PaySubscription(ctx, alice, sub.ID, bal.ID, time.Time{})
	assert.NoError(t, err)
	assert.NotZero(t, p.TransactionID)
	assertAmount(t, "10.01", amountOf(t, s, alice, bal.ID))

	_, err = s.PaySubscription(ctx, alice, sub.ID, bal.ID, time.Time{})
	assert.NoError(t, err)
	_, err = s.PaySubscription(ctx, alice, sub.ID, bal.ID, time.Time{})
	assert.IsError(t, err, apperr.ErrInsufficientFunds)

	marked, err := s.MarkSubscriptionPaid(ctx, alice, sub.ID, time.Time{})
	assert.NoError(t, err)
	assert.Zero(t, marked.TransactionID)

	list, err := s.ListSubscriptions(ctx, alice)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(list[0].Payments))
	assertAmount(t, "0.02", amountOf(t, s, alice, bal.ID))
}
