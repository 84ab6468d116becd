package service

import (
	"context"
	"testing"
	"time"

	"github.com/almatkai/woolet-sub002/internal/apperr"
	"github.com/almatkai/woolet-sub002/internal/models"

	"github.com/alecthomas/assert/v2"
	"gorm.io/gorm"
)

func TestTheyOweDebtPaidInFull(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	bal := openBalance(t, s, alice, "USD", "1000")

	d, err := s.CreateDebt(ctx, alice, DebtInput{
		BalanceID:    &bal.ID,
		Counterparty: "Sam",
		Amount:       dec("500"),
		Direction:    models.DebtTheyOwe,
	})
	assert.NoError(t, err)
	assertAmount(t, "500", amountOf(t, s, alice, bal.ID))
	assertAmount(t, "0", d.PaidAmount)
	assert.Equal(t, "USD", d.Currency)

	d, err = s.AddPayment(ctx, alice, d.ID, PaymentInput{
		Amount:        dec("500"),
		Distributions: []Distribution{{BalanceID: bal.ID, Amount: dec("500")}},
	})
	assert.NoError(t, err)
	assert.Equal(t, models.DebtPaid, d.Status)
	assertAmount(t, "1000", amountOf(t, s, alice, bal.ID))
	assertConsistent(t, s, alice, bal.ID)
}

func TestIOweDebtBorrowsAndRepays(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	bal := openBalance(t, s, alice, "USD", "1000")

	d, err := s.CreateDebt(ctx, alice, DebtInput{
		BalanceID:    &bal.ID,
		Counterparty: "Bank",
		Amount:       dec("500"),
		Direction:    models.DebtIOwe,
	})
	assert.NoError(t, err)
	assertAmount(t, "1500", amountOf(t, s, alice, bal.ID))

	d, err = s.AddPayment(ctx, alice, d.ID, PaymentInput{
		Amount:        dec("200"),
		Distributions: []Distribution{{BalanceID: bal.ID, Amount: dec("200")}},
	})
	assert.NoError(t, err)
	assert.Equal(t, models.DebtPartial, d.Status)
	assertAmount(t, "1300", amountOf(t, s, alice, bal.ID))
	assertConsistent(t, s, alice, bal.ID)
}

func TestSplitDistributionAcrossBalances(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	a := openBalance(t, s, alice, "USD", "0")
	b := openBalance(t, s, alice, "USD", "0")

	d, err := s.CreateDebt(ctx, alice, DebtInput{Currency: "usd", Counterparty: "Kim", Amount: dec("100"), Direction: models.DebtTheyOwe})
	assert.NoError(t, err)
	assert.Equal(t, "USD", d.Currency)

	d, err = s.AddPayment(ctx, alice, d.ID, PaymentInput{
		Amount: dec("60"),
		Distributions: []Distribution{
			{BalanceID: a.ID, Amount: dec("40")},
			{BalanceID: b.ID, Amount: dec("20")},
		},
	})
	assert.NoError(t, err)
	assertAmount(t, "60", d.PaidAmount)
	assertAmount(t, "40", amountOf(t, s, alice, a.ID))
	assertAmount(t, "20", amountOf(t, s, alice, b.ID))
}

func TestPaymentRejections(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	usd := openBalance(t, s, alice, "USD", "1000")
	eur := openBalance(t, s, alice, "EUR", "1000")

	d, err := s.CreateDebt(ctx, alice, DebtInput{BalanceID: &usd.ID, Counterparty: "Sam", Amount: dec("100"), Direction: models.DebtTheyOwe})
	assert.NoError(t, err)
	_, err = s.AddPayment(ctx, alice, d.ID, PaymentInput{Amount: dec("90"), Distributions: []Distribution{{BalanceID: usd.ID, Amount: dec("90")}}})
	assert.NoError(t, err)

	tests := []struct {
		name string
		in   PaymentInput
		want error
	}{
		{"exceeds remaining", PaymentInput{Amount: dec("10.02"), Distributions: []Distribution{{BalanceID: usd.ID, Amount: dec("10.02")}}}, apperr.ErrExceedsRemaining},
		{"distribution mismatch", PaymentInput{Amount: dec("10"), Distributions: []Distribution{{BalanceID: usd.ID, Amount: dec("9")}}}, apperr.ErrDistributionMismatch},
		{"currency mismatch", PaymentInput{Amount: dec("10"), Distributions: []Distribution{{BalanceID: eur.ID, Amount: dec("10")}}}, apperr.ErrCurrencyMismatch},
		{"not positive", PaymentInput{Amount: dec("0")}, apperr.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AddPayment(ctx, alice, d.ID, tt.in)
			assert.IsError(t, err, tt.want)

			got, err := s.GetDebt(ctx, alice, d.ID)
			assert.NoError(t, err)
			assertAmount(t, "90", got.PaidAmount)
			assert.Equal(t, 1, len(got.Payments))
			assertAmount(t, "990", amountOf(t, s, alice, usd.ID))
		})
	}

	// within the rounding tolerance
	d, err = s.AddPayment(ctx, alice, d.ID, PaymentInput{Amount: dec("10.01"), Distributions: []Distribution{{BalanceID: usd.ID, Amount: dec("10.01")}}})
	assert.NoError(t, err)
	assert.Equal(t, models.DebtPaid, d.Status)
}

func TestUpdateAndDeletePayment(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	bal := openBalance(t, s, alice, "USD", "0")

	d, err := s.CreateDebt(ctx, alice, DebtInput{BalanceID: &bal.ID, Counterparty: "Sam", Amount: dec("100"), Direction: models.DebtIOwe})
	assert.NoError(t, err)
	_, err = s.AddPayment(ctx, alice, d.ID, PaymentInput{Amount: dec("30"), Distributions: []Distribution{{BalanceID: bal.ID, Amount: dec("30")}}})
	assert.NoError(t, err)

	got, err := s.GetDebt(ctx, alice, d.ID)
	assert.NoError(t, err)
	paymentID := got.Payments[0].ID

	updated, err := s.UpdatePayment(ctx, alice, paymentID, PaymentInput{Amount: dec("50"), Distributions: []Distribution{{BalanceID: bal.ID, Amount: dec("50")}}})
	assert.NoError(t, err)
	assertAmount(t, "50", updated.PaidAmount)
	assertAmount(t, "50", amountOf(t, s, alice, bal.ID))

	_, err = s.UpdatePayment(ctx, alice, paymentID, PaymentInput{Amount: dec("101"), Distributions: []Distribution{{BalanceID: bal.ID, Amount: dec("101")}}})
	assert.IsError(t, err, apperr.ErrExceedsRemaining)

	deleted, err := s.DeletePayment(ctx, alice, paymentID)
	assert.NoError(t, err)
	assertAmount(t, "0", deleted.PaidAmount)
	assert.Equal(t, models.DebtPending, deleted.Status)
	assertAmount(t, "100", amountOf(t, s, alice, bal.ID))
	assertConsistent(t, s, alice, bal.ID)
}

func TestDebtTransactionsAreManaged(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	bal := openBalance(t, s, alice, "USD", "100")

	_, err := s.CreateDebt(ctx, alice, DebtInput{BalanceID: &bal.ID, Counterparty: "Sam", Amount: dec("50"), Direction: models.DebtTheyOwe})
	assert.NoError(t, err)
	list, err := s.ListTransactions(ctx, alice, TransactionFilter{})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(list))
	assert.NotZero(t, list[0].DebtID)

	err = s.DeleteTransaction(ctx, alice, list[0].ID)
	assert.IsError(t, err, apperr.ErrManagedByDebt)
}

func TestLendingNeedsFunds(t *testing.T) {
	s, _ := newTestService(t)
	bal := openBalance(t, s, alice, "USD", "100")
	_, err := s.CreateDebt(context.Background(), alice, DebtInput{BalanceID: &bal.ID, Counterparty: "Sam", Amount: dec("150"), Direction: models.DebtTheyOwe})
	assert.IsError(t, err, apperr.ErrInsufficientFunds)

	debts, err := s.ListDebts(context.Background(), alice)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(debts))
}

func TestDeleteDebtRevertsEverything(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	bal := openBalance(t, s, alice, "USD", "1000")

	d, err := s.CreateDebt(ctx, alice, DebtInput{BalanceID: &bal.ID, Counterparty: "Sam", Amount: dec("500"), Direction: models.DebtTheyOwe})
	assert.NoError(t, err)
	_, err = s.AddPayment(ctx, alice, d.ID, PaymentInput{Amount: dec("200"), Distributions: []Distribution{{BalanceID: bal.ID, Amount: dec("200")}}})
	assert.NoError(t, err)
	assertAmount(t, "700", amountOf(t, s, alice, bal.ID))

	assert.NoError(t, s.DeleteDebt(ctx, alice, d.ID))
	assertAmount(t, "1000", amountOf(t, s, alice, bal.ID))

	var n int64
	assert.NoError(t, db.Model(&models.Transaction{}).Count(&n).Error)
	assert.Equal(t, int64(0), n)
	assert.NoError(t, db.Model(&models.DebtPayment{}).Count(&n).Error)
	assert.Equal(t, int64(0), n)
}

func TestSoftDeleteUndoSymmetry(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	bal := openBalance(t, s, alice, "USD", "1000")

	d, err := s.CreateDebt(ctx, alice, DebtInput{BalanceID: &bal.ID, Counterparty: "Sam", Amount: dec("500"), Direction: models.DebtTheyOwe})
	assert.NoError(t, err)
	d, err = s.AddPayment(ctx, alice, d.ID, PaymentInput{Amount: dec("100"), Distributions: []Distribution{{BalanceID: bal.ID, Amount: dec("100")}}})
	assert.NoError(t, err)
	assertAmount(t, "600", amountOf(t, s, alice, bal.ID))

	snapshot := func() []models.Transaction {
		var list []models.Transaction
		assert.NoError(t, db.Where("debt_id = ?", d.ID).Order("id").Find(&list).Error)
		return list
	}
	before := snapshot()

	_, err = s.SoftDeleteDebt(ctx, alice, d.ID)
	assert.NoError(t, err)
	assertAmount(t, "1000", amountOf(t, s, alice, bal.ID))
	assertConsistent(t, s, alice, bal.ID)
	for _, txn := range snapshot() {
		assert.Equal(t, models.LifecycleDeleting, txn.Lifecycle)
	}
	_, err = s.GetDebt(ctx, alice, d.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	restored, err := s.UndoDeleteDebt(ctx, alice, d.ID)
	assert.NoError(t, err)
	assertAmount(t, "600", amountOf(t, s, alice, bal.ID))
	assert.Equal(t, models.LifecycleActive, restored.Lifecycle)
	assert.Zero(t, restored.DeletingSince)
	assertAmount(t, "100", restored.PaidAmount)
	assert.Equal(t, models.DebtPartial, restored.Status)

	after := snapshot()
	assert.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].Lifecycle, after[i].Lifecycle)
		assertAmount(t, before[i].Amount.String(), after[i].Amount)
	}

	// undo on an active debt is a no-op
	again, err := s.UndoDeleteDebt(ctx, alice, d.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.LifecycleActive, again.Lifecycle)
	assertAmount(t, "600", amountOf(t, s, alice, bal.ID))
}

func TestPurgeAfterWindow(t *testing.T) {
	now, advance := fixedClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	s, db := newTestService(t, WithClock(now), WithPurgeAfter(10*time.Second))
	ctx := context.Background()
	bal := openBalance(t, s, alice, "USD", "1000")

	d, err := s.CreateDebt(ctx, alice, DebtInput{BalanceID: &bal.ID, Counterparty: "Sam", Amount: dec("500"), Direction: models.DebtTheyOwe})
	assert.NoError(t, err)
	_, err = s.SoftDeleteDebt(ctx, alice, d.ID)
	assert.NoError(t, err)

	advance(5 * time.Second)
	n, err := s.PurgeDeletingDebts(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	advance(6 * time.Second)
	n, err = s.PurgeDeletingDebts(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.PurgeDeletingDebts(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	debts, err := s.ListDebts(ctx, alice)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(debts))

	err = db.First(&models.Debt{}, d.ID).Error
	assert.IsError(t, err, gorm.ErrRecordNotFound)
	var count int64
	assert.NoError(t, db.Model(&models.Transaction{}).Where("debt_id = ?", d.ID).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	// the purge does not revert twice
	assertAmount(t, "1000", amountOf(t, s, alice, bal.ID))
	assertConsistent(t, s, alice, bal.ID)

	_, err = s.UndoDeleteDebt(ctx, alice, d.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDebtStatus(t *testing.T) {
	assert.Equal(t, models.DebtPending, debtStatus(dec("0"), dec("10")))
	assert.Equal(t, models.DebtPartial, debtStatus(dec("5"), dec("10")))
	assert.Equal(t, models.DebtPaid, debtStatus(dec("9.99"), dec("10")))
	assert.Equal(t, models.DebtPaid, debtStatus(dec("10"), dec("10")))
}
