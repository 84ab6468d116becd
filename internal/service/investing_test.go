package service

import (
	"context"
	"testing"
	"time"

	"github.com/almatkai/woolet-sub002/internal/apperr"
	"github.com/almatkai/woolet-sub002/internal/models"

	"github.com/alecthomas/assert/v2"
)

func trade(symbol, qty, price string, day int) TradeInput {
	return TradeInput{
		Symbol:   symbol,
		Quantity: dec(qty),
		Price:    dec(price),
		Currency: "USD",
		Date:     time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC),
	}
}

func fund(t *testing.T, s *Service, scope Scope, amount string) {
	t.Helper()
	_, err := s.DepositCash(context.Background(), scope, CashMoveInput{Currency: "USD", Amount: dec(amount)})
	assert.NoError(t, err)
}

func holdingOf(t *testing.T, s *Service, scope Scope) *models.Holding {
	t.Helper()
	list, err := s.ListHoldings(context.Background(), scope)
	assert.NoError(t, err)
	if len(list) == 0 {
		return nil
	}
	return &list[0]
}

func TestAverageCostScenario(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	fund(t, s, alice, "5000")

	_, err := s.Buy(ctx, alice, trade("acme", "10", "100", 1))
	assert.NoError(t, err)
	h := holdingOf(t, s, alice)
	assertAmount(t, "10", h.Quantity)
	assertAmount(t, "100", h.AverageCost)
	assert.Equal(t, "ACME", h.Security.Symbol)

	_, err = s.Buy(ctx, alice, trade("ACME", "10", "120", 2))
	assert.NoError(t, err)
	h = holdingOf(t, s, alice)
	assertAmount(t, "20", h.Quantity)
	assertAmount(t, "110", h.AverageCost)

	sell, err := s.Sell(ctx, alice, trade("ACME", "5", "150", 3))
	assert.NoError(t, err)
	assertAmount(t, "200", sell.RealizedPL)
	assertAmount(t, "750", sell.CashFlow)
	assertAmount(t, "3550", sell.CashBalanceAfter)
	h = holdingOf(t, s, alice)
	assertAmount(t, "15", h.Quantity)
	assertAmount(t, "110", h.AverageCost)

	summary, err := s.RealizedSummary(ctx, alice)
	assert.NoError(t, err)
	assertAmount(t, "200", summary["USD"])
}

func TestRecalculateIsIdempotent(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	fund(t, s, alice, "10000")

	_, err := s.Buy(ctx, alice, trade("ACME", "3", "101.5", 1))
	assert.NoError(t, err)
	_, err = s.Buy(ctx, alice, trade("ACME", "7", "97.25", 2))
	assert.NoError(t, err)
	sell, err := s.Sell(ctx, alice, trade("ACME", "4", "110", 3))
	assert.NoError(t, err)

	first, err := s.RecalculateHolding(ctx, alice, sell.SecurityID)
	assert.NoError(t, err)
	second, err := s.RecalculateHolding(ctx, alice, sell.SecurityID)
	assert.NoError(t, err)
	assertAmount(t, first.Quantity.String(), second.Quantity)
	assertAmount(t, first.AverageCost.String(), second.AverageCost)
	assertAmount(t, "6", second.Quantity)
}

func TestEditHistoricalTradeReplays(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	fund(t, s, alice, "5000")

	first, err := s.Buy(ctx, alice, trade("ACME", "10", "100", 1))
	assert.NoError(t, err)
	_, err = s.Buy(ctx, alice, trade("ACME", "10", "120", 2))
	assert.NoError(t, err)
	sell, err := s.Sell(ctx, alice, trade("ACME", "5", "150", 3))
	assert.NoError(t, err)

	// first lot was really bought at 80: basis 100, cash back 200
	price := dec("80")
	_, err = s.UpdateInvestmentTransaction(ctx, alice, first.ID, TradePatch{Price: &price})
	assert.NoError(t, err)
	h := holdingOf(t, s, alice)
	assertAmount(t, "15", h.Quantity)
	assertAmount(t, "100", h.AverageCost)

	trades, err := s.ListInvestmentTransactions(ctx, alice, sell.SecurityID)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(trades))
	assertAmount(t, "250", trades[2].RealizedPL)

	cash, err := s.ListCash(ctx, alice)
	assert.NoError(t, err)
	assertAmount(t, "3750", cash[0].Available)
	assertAmount(t, "3750", cash[0].Settled)

	// the sell disappears: 20 held again, proceeds taken back
	assert.NoError(t, s.DeleteInvestmentTransaction(ctx, alice, sell.ID))
	h = holdingOf(t, s, alice)
	assertAmount(t, "20", h.Quantity)
	cash, err = s.ListCash(ctx, alice)
	assert.NoError(t, err)
	assertAmount(t, "3000", cash[0].Available)
}

func TestReplayRejectsOversell(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	fund(t, s, alice, "1000")

	buy, err := s.Buy(ctx, alice, trade("ACME", "5", "100", 1))
	assert.NoError(t, err)
	_, err = s.Sell(ctx, alice, trade("ACME", "5", "100", 2))
	assert.NoError(t, err)
	assert.Zero(t, holdingOf(t, s, alice))

	err = s.DeleteInvestmentTransaction(ctx, alice, buy.ID)
	assert.IsError(t, err, apperr.ErrInsufficientQuantity)

	trades, err := s.ListInvestmentTransactions(ctx, alice, 0)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(trades))
}

func TestReplayRejectsSellFromEmptyPosition(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	fund(t, s, alice, "1000")

	buy, err := s.Buy(ctx, alice, trade("ACME", "1", "100", 1))
	assert.NoError(t, err)
	_, err = s.Sell(ctx, alice, trade("ACME", "0.0000005", "100", 2))
	assert.NoError(t, err)

	// moving the buy after the sell leaves the sell with nothing to sell
	later := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	_, err = s.UpdateInvestmentTransaction(ctx, alice, buy.ID, TradePatch{Date: &later})
	assert.IsError(t, err, apperr.ErrInsufficientQuantity)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	h := holdingOf(t, s, alice)
	assertAmount(t, "0.9999995", h.Quantity)
}

func TestSellCannotExceedHolding(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	fund(t, s, alice, "1000")

	_, err := s.Buy(ctx, alice, trade("ACME", "1", "100", 1))
	assert.NoError(t, err)
	_, err = s.Sell(ctx, alice, trade("ACME", "1.0000005", "100", 2))
	assert.IsError(t, err, apperr.ErrInsufficientQuantity)

	cash, err := s.ListCash(ctx, alice)
	assert.NoError(t, err)
	assertAmount(t, "900", cash[0].Available)
}

func TestTradeRejections(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.Buy(ctx, alice, trade("ACME", "1", "10", 1))
	assert.IsError(t, err, apperr.ErrInsufficientFunds)

	fund(t, s, alice, "100")
	_, err = s.Buy(ctx, alice, trade("ACME", "1", "10", 1))
	assert.NoError(t, err)

	_, err = s.Sell(ctx, alice, trade("ACME", "2", "10", 2))
	assert.IsError(t, err, apperr.ErrInsufficientQuantity)
	_, err = s.Sell(ctx, alice, trade("NOPE", "1", "10", 2))
	assert.IsError(t, err, apperr.ErrInsufficientQuantity)
	_, err = s.Sell(ctx, bob, trade("ACME", "1", "10", 2))
	assert.IsError(t, err, apperr.ErrInsufficientQuantity)

	eur := trade("ACME", "1", "10", 2)
	eur.Currency = "EUR"
	_, err = s.Buy(ctx, alice, eur)
	assert.IsError(t, err, apperr.ErrCurrencyMismatch)

	_, err = s.WithdrawCash(ctx, alice, CashMoveInput{Currency: "USD", Amount: dec("91")})
	assert.IsError(t, err, apperr.ErrInsufficientFunds)
}

func TestBrokerageCashFromLedger(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	bal := openBalance(t, s, alice, "USD", "300")

	cb, err := s.DepositCash(ctx, alice, CashMoveInput{Currency: "USD", Amount: dec("200"), BalanceID: &bal.ID})
	assert.NoError(t, err)
	assertAmount(t, "200", cb.Available)
	assertAmount(t, "100", amountOf(t, s, alice, bal.ID))

	_, err = s.DepositCash(ctx, alice, CashMoveInput{Currency: "USD", Amount: dec("200"), BalanceID: &bal.ID})
	assert.IsError(t, err, apperr.ErrInsufficientFunds)

	cb, err = s.WithdrawCash(ctx, alice, CashMoveInput{Currency: "USD", Amount: dec("50"), BalanceID: &bal.ID})
	assert.NoError(t, err)
	assertAmount(t, "150", cb.Available)
	assertAmount(t, "150", amountOf(t, s, alice, bal.ID))
	assertConsistent(t, s, alice, bal.ID)
}
