package service

import (
	"context"
	"testing"

	"github.com/almatkai/woolet-sub002/internal/apperr"
	"github.com/almatkai/woolet-sub002/internal/models"

	"github.com/alecthomas/assert/v2"
	"github.com/shopspring/decimal"
)

func TestEqualShares(t *testing.T) {
	tests := []struct {
		total string
		n     int
		want  []string
	}{
		{"100", 3, []string{"33.34", "33.33", "33.33"}},
		{"100.01", 2, []string{"50.01", "50"}},
		{"0.05", 3, []string{"0.02", "0.02", "0.01"}},
		{"90", 3, []string{"30", "30", "30"}},
	}
	for _, tt := range tests {
		t.Run(tt.total, func(t *testing.T) {
			got := equalShares(dec(tt.total), tt.n, 2)
			assert.Equal(t, len(tt.want), len(got))
			sum := decimal.Zero
			for i := range got {
				assertAmount(t, tt.want[i], got[i])
				sum = sum.Add(got[i])
			}
			assertAmount(t, tt.total, sum)
		})
	}

	// zero-decimal currencies split whole units
	got := equalShares(dec("1000"), 3, 0)
	assertAmount(t, "334", got[0])
	assertAmount(t, "333", got[2])
}

func newParticipants(t *testing.T, s *Service, scope Scope, names ...string) []uint {
	t.Helper()
	ids := make([]uint, 0, len(names))
	for _, n := range names {
		p, err := s.CreateParticipant(context.Background(), scope, n)
		assert.NoError(t, err)
		ids = append(ids, p.ID)
	}
	return ids
}

func TestSplitExpenseAndSettle(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	bal := openBalance(t, s, alice, "USD", "500")
	ids := newParticipants(t, s, alice, "Ann", "Ben")

	txn, err := s.CreateTransaction(ctx, alice, TransactionInput{
		BalanceID: bal.ID,
		Type:      models.TransactionExpense,
		Amount:    dec("90"),
		Split:     &SplitInput{ParticipantIDs: ids, Equal: true, Total: dec("60")},
	})
	assert.NoError(t, err)
	assertAmount(t, "410", amountOf(t, s, alice, bal.ID))

	splits, err := s.ListSplits(ctx, alice, txn.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(splits))
	assertAmount(t, "30", splits[0].Amount)

	split, err := s.RecordSplitPayment(ctx, alice, splits[0].ID, SplitPaymentInput{Amount: dec("10"), ReceivingBalanceID: &bal.ID})
	assert.NoError(t, err)
	assert.Equal(t, models.SplitPartial, split.Status)
	assertAmount(t, "420", amountOf(t, s, alice, bal.ID))

	_, err = s.RecordSplitPayment(ctx, alice, splits[0].ID, SplitPaymentInput{Amount: dec("20.02"), ReceivingBalanceID: &bal.ID})
	assert.IsError(t, err, apperr.ErrOverpayment)

	split, err = s.SettleSplit(ctx, alice, splits[0].ID, &bal.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.SplitSettled, split.Status)
	assertAmount(t, "30", split.PaidAmount)
	assertAmount(t, "440", amountOf(t, s, alice, bal.ID))
	assertConsistent(t, s, alice, bal.ID)

	_, err = s.SettleSplit(ctx, alice, splits[0].ID, &bal.ID)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	// deleting the expense takes its paybacks and splits with it
	assert.NoError(t, s.DeleteTransaction(ctx, alice, txn.ID))
	assertAmount(t, "500", amountOf(t, s, alice, bal.ID))
	splits, err = s.ListSplits(ctx, alice, txn.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, 0, len(splits))
}

func TestSplitInstantMoneyBack(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	card := openBalance(t, s, alice, "USD", "100")
	cash := openBalance(t, s, alice, "USD", "0")
	ids := newParticipants(t, s, alice, "Ann", "Ben", "Cy")

	txn, err := s.CreateTransaction(ctx, alice, TransactionInput{
		BalanceID: card.ID,
		Type:      models.TransactionExpense,
		Amount:    dec("100"),
		Split: &SplitInput{
			ParticipantIDs:     ids,
			Amounts:            []decimal.Decimal{dec("20"), dec("30"), dec("10")},
			InstantMoneyBack:   true,
			ReceivingBalanceID: &cash.ID,
		},
	})
	assert.NoError(t, err)
	assertAmount(t, "0", amountOf(t, s, alice, card.ID))
	assertAmount(t, "60", amountOf(t, s, alice, cash.ID))

	list, err := s.ListTransactions(ctx, alice, TransactionFilter{})
	assert.NoError(t, err)
	assert.Equal(t, 3, len(ChildIndex(list)[txn.ID]))

	splits, err := s.ListSplits(ctx, alice, txn.ID)
	assert.NoError(t, err)
	for _, sp := range splits {
		assert.Equal(t, models.SplitSettled, sp.Status)
	}
}

func TestDeleteSplitPayment(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	bal := openBalance(t, s, alice, "USD", "100")
	ids := newParticipants(t, s, alice, "Ann")

	txn, err := s.CreateTransaction(ctx, alice, TransactionInput{BalanceID: bal.ID, Type: models.TransactionExpense, Amount: dec("40")})
	assert.NoError(t, err)
	splits, err := s.CreateSplits(ctx, alice, txn.ID, SplitInput{ParticipantIDs: ids, Amounts: []decimal.Decimal{dec("40")}})
	assert.NoError(t, err)

	_, err = s.RecordSplitPayment(ctx, alice, splits[0].ID, SplitPaymentInput{Amount: dec("15"), ReceivingBalanceID: &bal.ID})
	assert.NoError(t, err)
	assertAmount(t, "75", amountOf(t, s, alice, bal.ID))

	var payment models.SplitPayment
	assert.NoError(t, db.Where("split_id = ?", splits[0].ID).First(&payment).Error)
	assert.NoError(t, s.DeleteSplitPayment(ctx, alice, payment.ID))
	assertAmount(t, "60", amountOf(t, s, alice, bal.ID))

	got, err := s.ListSplits(ctx, alice, txn.ID)
	assert.NoError(t, err)
	assertAmount(t, "0", got[0].PaidAmount)
	assert.Equal(t, models.SplitPending, got[0].Status)
	assertConsistent(t, s, alice, bal.ID)
}

func TestSplitLinkedTransactionEdits(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	bal := openBalance(t, s, alice, "USD", "100")
	ids := newParticipants(t, s, alice, "Ann")

	txn, err := s.CreateTransaction(ctx, alice, TransactionInput{BalanceID: bal.ID, Type: models.TransactionExpense, Amount: dec("40")})
	assert.NoError(t, err)
	splits, err := s.CreateSplits(ctx, alice, txn.ID, SplitInput{ParticipantIDs: ids, Amounts: []decimal.Decimal{dec("40")}})
	assert.NoError(t, err)
	_, err = s.RecordSplitPayment(ctx, alice, splits[0].ID, SplitPaymentInput{Amount: dec("15"), ReceivingBalanceID: &bal.ID})
	assert.NoError(t, err)
	assertAmount(t, "75", amountOf(t, s, alice, bal.ID))

	var payment models.SplitPayment
	assert.NoError(t, db.Where("split_id = ?", splits[0].ID).First(&payment).Error)
	assert.NotZero(t, payment.TransactionID)
	paybackID := *payment.TransactionID

	// the payback's money is owned by the split payment
	amount := dec("500")
	_, err = s.UpdateTransaction(ctx, alice, paybackID, TransactionPatch{Amount: &amount})
	assert.IsError(t, err, apperr.ErrManagedBySplit)
	assertAmount(t, "75", amountOf(t, s, alice, bal.ID))

	note := "Ann paid cash"
	updated, err := s.UpdateTransaction(ctx, alice, paybackID, TransactionPatch{Description: &note})
	assert.NoError(t, err)
	assert.Equal(t, note, updated.Description)

	// the parent cannot shrink below what its splits owe
	amount = dec("30")
	_, err = s.UpdateTransaction(ctx, alice, txn.ID, TransactionPatch{Amount: &amount})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
	assertAmount(t, "75", amountOf(t, s, alice, bal.ID))
	amount = dec("45")
	_, err = s.UpdateTransaction(ctx, alice, txn.ID, TransactionPatch{Amount: &amount})
	assert.NoError(t, err)
	assertAmount(t, "70", amountOf(t, s, alice, bal.ID))

	// deleting the payback on its own takes the payment with it
	assert.NoError(t, s.DeleteTransaction(ctx, alice, paybackID))
	assertAmount(t, "55", amountOf(t, s, alice, bal.ID))
	got, err := s.ListSplits(ctx, alice, txn.ID)
	assert.NoError(t, err)
	assertAmount(t, "0", got[0].PaidAmount)
	assert.Equal(t, models.SplitPending, got[0].Status)
	assert.Equal(t, 0, len(got[0].Payments))
	assertConsistent(t, s, alice, bal.ID)
}

func TestSplitTransactionKeepsCurrency(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	usd := openBalance(t, s, alice, "USD", "100")
	eur := openBalance(t, s, alice, "EUR", "100")
	ids := newParticipants(t, s, alice, "Ann", "Ben")

	txn, err := s.CreateTransaction(ctx, alice, TransactionInput{BalanceID: usd.ID, Type: models.TransactionExpense, Amount: dec("20")})
	assert.NoError(t, err)
	_, err = s.CreateSplits(ctx, alice, txn.ID, SplitInput{ParticipantIDs: ids, Equal: true})
	assert.NoError(t, err)

	_, err = s.UpdateTransaction(ctx, alice, txn.ID, TransactionPatch{BalanceID: &eur.ID})
	assert.IsError(t, err, apperr.ErrCurrencyMismatch)
	assertAmount(t, "80", amountOf(t, s, alice, usd.ID))
	assertAmount(t, "100", amountOf(t, s, alice, eur.ID))
}

func TestSplitRejections(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	usd := openBalance(t, s, alice, "USD", "100")
	eur := openBalance(t, s, alice, "EUR", "0")
	ids := newParticipants(t, s, alice, "Ann", "Ben")
	bobs := newParticipants(t, s, bob, "Zed")

	txn, err := s.CreateTransaction(ctx, alice, TransactionInput{BalanceID: usd.ID, Type: models.TransactionExpense, Amount: dec("50")})
	assert.NoError(t, err)

	_, err = s.CreateSplits(ctx, alice, txn.ID, SplitInput{ParticipantIDs: ids, Amounts: []decimal.Decimal{dec("30"), dec("21")}})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = s.CreateSplits(ctx, alice, txn.ID, SplitInput{ParticipantIDs: bobs, Equal: true})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = s.CreateSplits(ctx, alice, txn.ID, SplitInput{ParticipantIDs: ids, Equal: true, InstantMoneyBack: true, ReceivingBalanceID: &eur.ID})
	assert.IsError(t, err, apperr.ErrCurrencyMismatch)

	assertAmount(t, "50", amountOf(t, s, alice, usd.ID))
}
