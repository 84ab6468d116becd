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
	"gorm.io/gorm/clause"
)

// residue below which a replayed quantity or cost is treated as zero
var dust = decimal.New(1, -6)

const basisPlaces = 10

func clampDust(d decimal.Decimal) decimal.Decimal {
	if d.Abs().LessThan(dust) {
		return decimal.Zero
	}
	return d
}

type TradeInput struct {
	Symbol   string
	Name     string
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Currency string
	Date     time.Time
}

func (in *TradeInput) normalize(now time.Time) error {
	in.Symbol = strings.ToUpper(strings.TrimSpace(in.Symbol))
	if in.Symbol == "" {
		return apperr.BadRequest("symbol is required")
	}
	if !in.Quantity.IsPositive() || !in.Price.IsPositive() {
		return apperr.ErrInvalidAmount
	}
	code, err := normalizeCurrency(in.Currency)
	if err != nil {
		return err
	}
	in.Currency = code
	if in.Date.IsZero() {
		in.Date = now
	}
	return nil
}

// security returns the security for symbol, creating it on first use.
func security(tx *gorm.DB, symbol, name, currency string) (*models.Security, error) {
	sec := models.Security{Symbol: symbol, Name: name, Currency: currency}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoNothing: true,
	}).Create(&sec).Error; err != nil {
		return nil, fmt.Errorf("create security %s: %w", symbol, err)
	}
	if err := tx.Where("symbol = ?", symbol).First(&sec).Error; err != nil {
		return nil, fmt.Errorf("load security %s: %w", symbol, err)
	}
	if sec.Currency != currency {
		return nil, fmt.Errorf("%s trades in %s: %w", symbol, sec.Currency, apperr.ErrCurrencyMismatch)
	}
	return &sec, nil
}

// cashBalance returns the brokerage cash of scope in currency, creating an
// empty one when create is set.
func cashBalance(tx *gorm.DB, scope Scope, currency string, create bool) (*models.InvestmentCashBalance, error) {
	var cb models.InvestmentCashBalance
	err := forUpdate(tx).Where("user_id = ? AND workspace = ? AND currency = ?", scope.UserID, scope.Workspace, currency).
		First(&cb).Error
	if err == nil {
		return &cb, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load cash balance: %w", err)
	}
	if !create {
		return &models.InvestmentCashBalance{UserID: scope.UserID, Workspace: scope.Workspace, Currency: currency}, nil
	}
	cb = models.InvestmentCashBalance{UserID: scope.UserID, Workspace: scope.Workspace, Currency: currency}
	if err := tx.Create(&cb).Error; err != nil {
		return nil, fmt.Errorf("create cash balance: %w", err)
	}
	return &cb, nil
}

// moveCash adds delta to available and settled cash with a version check.
// Going below zero is ErrInsufficientFunds.
func moveCash(tx *gorm.DB, cb *models.InvestmentCashBalance, delta decimal.Decimal) error {
	next := cb.Available.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("cash is %s %s, needs %s: %w",
			cb.Available.StringFixed(2), cb.Currency, delta.Neg().StringFixed(2), apperr.ErrInsufficientFunds)
	}
	res := tx.Model(&models.InvestmentCashBalance{}).
		Where("id = ? AND version = ?", cb.ID, cb.Version).
		Updates(map[string]any{
			"available": next,
			"settled":   cb.Settled.Add(delta),
			"version":   cb.Version + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("update cash balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrConcurrentUpdate
	}
	cb.Available = next
	cb.Settled = cb.Settled.Add(delta)
	cb.Version++
	return nil
}

func findHolding(tx *gorm.DB, scope Scope, securityID uint) (*models.Holding, error) {
	var h models.Holding
	err := forUpdate(tx).Where("user_id = ? AND workspace = ? AND security_id = ?", scope.UserID, scope.Workspace, securityID).
		First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load holding: %w", err)
	}
	return &h, nil
}

// storeHolding writes quantity and basis, removing the row at zero quantity.
// h is nil when no row exists yet.
func storeHolding(tx *gorm.DB, scope Scope, securityID uint, h *models.Holding, qty, basis decimal.Decimal) (*models.Holding, error) {
	qty = clampDust(qty)
	if qty.IsZero() {
		if h != nil {
			if err := tx.Delete(&models.Holding{}, h.ID).Error; err != nil {
				return nil, fmt.Errorf("delete holding: %w", err)
			}
		}
		return nil, nil
	}
	basis = basis.Round(basisPlaces)
	if h == nil {
		h = &models.Holding{UserID: scope.UserID, Workspace: scope.Workspace, SecurityID: securityID, Quantity: qty, AverageCost: basis}
		if err := tx.Create(h).Error; err != nil {
			return nil, fmt.Errorf("create holding: %w", err)
		}
		return h, nil
	}
	res := tx.Model(&models.Holding{}).
		Where("id = ? AND version = ?", h.ID, h.Version).
		Updates(map[string]any{"quantity": qty, "average_cost": basis, "version": h.Version + 1})
	if res.Error != nil {
		return nil, fmt.Errorf("update holding: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.ErrConcurrentUpdate
	}
	h.Quantity, h.AverageCost = qty, basis
	h.Version++
	return h, nil
}

// Buy spends brokerage cash on quantity units and folds them into the
// holding at a weighted average basis.
func (s *Service) Buy(ctx context.Context, scope Scope, in TradeInput) (*models.InvestmentTransaction, error) {
	if err := in.normalize(s.now()); err != nil {
		return nil, err
	}
	var out *models.InvestmentTransaction
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		sec, err := security(tx, in.Symbol, in.Name, in.Currency)
		if err != nil {
			return err
		}
		total := in.Quantity.Mul(in.Price)
		cb, err := cashBalance(tx, scope, in.Currency, false)
		if err != nil {
			return err
		}
		if cb.ID == 0 || cb.Available.LessThan(total) {
			return fmt.Errorf("cash is %s %s, needs %s: %w",
				cb.Available.StringFixed(2), in.Currency, total.StringFixed(2), apperr.ErrInsufficientFunds)
		}

		h, err := findHolding(tx, scope, sec.ID)
		if err != nil {
			return err
		}
		qty, basis := in.Quantity, in.Price
		if h != nil {
			qty = h.Quantity.Add(in.Quantity)
			basis = h.Quantity.Mul(h.AverageCost).Add(total).Div(qty)
		}
		if _, err := storeHolding(tx, scope, sec.ID, h, qty, basis); err != nil {
			return err
		}
		if err := moveCash(tx, cb, total.Neg()); err != nil {
			return err
		}

		it := &models.InvestmentTransaction{
			UserID:           scope.UserID,
			Workspace:        scope.Workspace,
			SecurityID:       sec.ID,
			Type:             models.TradeBuy,
			Date:             in.Date,
			Quantity:         in.Quantity,
			Price:            in.Price,
			TotalAmount:      total,
			Currency:         in.Currency,
			RealizedPL:       decimal.Zero,
			CashFlow:         total.Neg(),
			CashBalanceAfter: cb.Available,
		}
		if err := tx.Create(it).Error; err != nil {
			return fmt.Errorf("create investment transaction: %w", err)
		}
		it.Security = *sec
		out = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "holdings", "investing")
	return out, nil
}

// Sell realizes quantity × (price − average basis) and credits the proceeds.
func (s *Service) Sell(ctx context.Context, scope Scope, in TradeInput) (*models.InvestmentTransaction, error) {
	if err := in.normalize(s.now()); err != nil {
		return nil, err
	}
	var out *models.InvestmentTransaction
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		var sec models.Security
		if err := tx.Where("symbol = ?", in.Symbol).First(&sec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("no %s held: %w", in.Symbol, apperr.ErrInsufficientQuantity)
			}
			return fmt.Errorf("load security %s: %w", in.Symbol, err)
		}
		if sec.Currency != in.Currency {
			return fmt.Errorf("%s trades in %s: %w", sec.Symbol, sec.Currency, apperr.ErrCurrencyMismatch)
		}
		h, err := findHolding(tx, scope, sec.ID)
		if err != nil {
			return err
		}
		if h == nil || h.Quantity.LessThan(in.Quantity) {
			held := decimal.Zero
			if h != nil {
				held = h.Quantity
			}
			return fmt.Errorf("holding %s of %s, selling %s: %w", held, sec.Symbol, in.Quantity, apperr.ErrInsufficientQuantity)
		}

		proceeds := in.Quantity.Mul(in.Price)
		realized := in.Price.Sub(h.AverageCost).Mul(in.Quantity)
		if _, err := storeHolding(tx, scope, sec.ID, h, h.Quantity.Sub(in.Quantity), h.AverageCost); err != nil {
			return err
		}
		cb, err := cashBalance(tx, scope, in.Currency, true)
		if err != nil {
			return err
		}
		if err := moveCash(tx, cb, proceeds); err != nil {
			return err
		}

		it := &models.InvestmentTransaction{
			UserID:           scope.UserID,
			Workspace:        scope.Workspace,
			SecurityID:       sec.ID,
			Type:             models.TradeSell,
			Date:             in.Date,
			Quantity:         in.Quantity,
			Price:            in.Price,
			TotalAmount:      proceeds,
			Currency:         in.Currency,
			RealizedPL:       realized,
			CashFlow:         proceeds,
			CashBalanceAfter: cb.Available,
		}
		if err := tx.Create(it).Error; err != nil {
			return fmt.Errorf("create investment transaction: %w", err)
		}
		it.Security = sec
		out = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "holdings", "investing")
	return out, nil
}

// recalculate replays the trade history of one security and rewrites the
// holding and each sell's realized P/L from the re-derived basis.
func recalculate(tx *gorm.DB, scope Scope, securityID uint) (*models.Holding, error) {
	var trades []models.InvestmentTransaction
	if err := tx.Where("user_id = ? AND workspace = ? AND security_id = ?", scope.UserID, scope.Workspace, securityID).
		Order("date ASC, id ASC").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}

	qty, cost := decimal.Zero, decimal.Zero
	for i := range trades {
		t := &trades[i]
		switch t.Type {
		case models.TradeBuy:
			qty = qty.Add(t.Quantity)
			cost = cost.Add(t.Quantity.Mul(t.Price))
		case models.TradeSell:
			if !qty.IsPositive() || qty.Add(dust).LessThan(t.Quantity) {
				return nil, fmt.Errorf("trade %d sells %s of %s held: %w", t.ID, t.Quantity, qty, apperr.ErrInsufficientQuantity)
			}
			// a sell within dust of the position closes it
			sold := decimal.Min(t.Quantity, qty)
			costOfSale := cost.Mul(sold).Div(qty)
			realized := t.TotalAmount.Sub(costOfSale).Round(basisPlaces)
			if !realized.Equal(t.RealizedPL) {
				if err := tx.Model(&models.InvestmentTransaction{}).Where("id = ?", t.ID).
					Update("realized_pl", realized).Error; err != nil {
					return nil, fmt.Errorf("rewrite realized P/L: %w", err)
				}
			}
			cost = clampDust(cost.Sub(costOfSale))
			qty = clampDust(qty.Sub(sold))
		}
	}

	h, err := findHolding(tx, scope, securityID)
	if err != nil {
		return nil, err
	}
	basis := decimal.Zero
	if qty.IsPositive() {
		basis = cost.Div(qty)
	}
	return storeHolding(tx, scope, securityID, h, qty, basis)
}

// RecalculateHolding rebuilds the holding of one security from its trades. It
// returns nil when nothing is held.
func (s *Service) RecalculateHolding(ctx context.Context, scope Scope, securityID uint) (*models.Holding, error) {
	var out *models.Holding
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		h, err := recalculate(tx, scope, securityID)
		out = h
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "holdings")
	return out, nil
}

type TradePatch struct {
	Quantity *decimal.Decimal
	Price    *decimal.Decimal
	Date     *time.Time
}

// UpdateInvestmentTransaction edits a historical trade, moves cash by the
// change in its cash flow and replays the holding.
func (s *Service) UpdateInvestmentTransaction(ctx context.Context, scope Scope, id uint, p TradePatch) (*models.InvestmentTransaction, error) {
	var out *models.InvestmentTransaction
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		it, err := findScoped[models.InvestmentTransaction](tx, scope, id, "investment transaction")
		if err != nil {
			return err
		}
		if p.Quantity != nil {
			if !p.Quantity.IsPositive() {
				return apperr.ErrInvalidAmount
			}
			it.Quantity = *p.Quantity
		}
		if p.Price != nil {
			if !p.Price.IsPositive() {
				return apperr.ErrInvalidAmount
			}
			it.Price = *p.Price
		}
		if p.Date != nil {
			it.Date = *p.Date
		}

		oldFlow := it.CashFlow
		it.TotalAmount = it.Quantity.Mul(it.Price)
		it.CashFlow = it.TotalAmount
		if it.Type == models.TradeBuy {
			it.CashFlow = it.TotalAmount.Neg()
		}
		cb, err := cashBalance(tx, scope, it.Currency, true)
		if err != nil {
			return err
		}
		if err := moveCash(tx, cb, it.CashFlow.Sub(oldFlow)); err != nil {
			return err
		}
		if err := tx.Model(&models.InvestmentTransaction{}).Where("id = ?", it.ID).Updates(map[string]any{
			"quantity":     it.Quantity,
			"price":        it.Price,
			"date":         it.Date,
			"total_amount": it.TotalAmount,
			"cash_flow":    it.CashFlow,
		}).Error; err != nil {
			return fmt.Errorf("update investment transaction: %w", err)
		}
		if _, err := recalculate(tx, scope, it.SecurityID); err != nil {
			return err
		}
		// realized P/L may have been rewritten by the replay
		if err := tx.Preload("Security").First(it, it.ID).Error; err != nil {
			return fmt.Errorf("reload investment transaction: %w", err)
		}
		out = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "holdings", "investing")
	return out, nil
}

// DeleteInvestmentTransaction removes a trade, reverses its cash flow and
// replays the holding.
func (s *Service) DeleteInvestmentTransaction(ctx context.Context, scope Scope, id uint) error {
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		it, err := findScoped[models.InvestmentTransaction](tx, scope, id, "investment transaction")
		if err != nil {
			return err
		}
		cb, err := cashBalance(tx, scope, it.Currency, true)
		if err != nil {
			return err
		}
		if err := moveCash(tx, cb, it.CashFlow.Neg()); err != nil {
			return err
		}
		if err := tx.Delete(&models.InvestmentTransaction{}, it.ID).Error; err != nil {
			return fmt.Errorf("delete investment transaction: %w", err)
		}
		_, err = recalculate(tx, scope, it.SecurityID)
		return err
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, scope, "holdings", "investing")
	return nil
}

type CashMoveInput struct {
	Currency  string
	Amount    decimal.Decimal
	BalanceID *uint // ledger balance the cash comes from or goes to, optional
	Date      time.Time
}

// DepositCash adds brokerage cash, funded by an expense on BalanceID when set.
func (s *Service) DepositCash(ctx context.Context, scope Scope, in CashMoveInput) (*models.InvestmentCashBalance, error) {
	return s.moveBrokerageCash(ctx, scope, in, 1)
}

// WithdrawCash takes brokerage cash out, booked as income on BalanceID when set.
func (s *Service) WithdrawCash(ctx context.Context, scope Scope, in CashMoveInput) (*models.InvestmentCashBalance, error) {
	return s.moveBrokerageCash(ctx, scope, in, -1)
}

func (s *Service) moveBrokerageCash(ctx context.Context, scope Scope, in CashMoveInput, sign int64) (*models.InvestmentCashBalance, error) {
	if !in.Amount.IsPositive() {
		return nil, apperr.ErrInvalidAmount
	}
	code, err := normalizeCurrency(in.Currency)
	if err != nil {
		return nil, err
	}
	if in.Date.IsZero() {
		in.Date = s.now()
	}

	var out *models.InvestmentCashBalance
	err = s.inTx(ctx, func(tx *gorm.DB) error {
		cb, err := cashBalance(tx, scope, code, true)
		if err != nil {
			return err
		}
		if err := moveCash(tx, cb, in.Amount.Mul(decimal.NewFromInt(sign))); err != nil {
			return err
		}

		if in.BalanceID != nil {
			b := newBook(tx, scope)
			bal, err := b.get(*in.BalanceID)
			if err != nil {
				return err
			}
			if bal.Currency != code {
				return fmt.Errorf("balance %d is %s, cash is %s: %w", bal.ID, bal.Currency, code, apperr.ErrCurrencyMismatch)
			}
			t := &models.Transaction{
				BalanceID:   *in.BalanceID,
				CategoryID:  s.categories.ID(models.CategoryKeyInvestment),
				Type:        models.TransactionIncome,
				Amount:      in.Amount,
				Description: "Brokerage withdrawal",
				Date:        in.Date,
			}
			if sign > 0 {
				t.Type = models.TransactionExpense
				t.Description = "Brokerage deposit"
			}
			if err := s.post(b, t, sign > 0); err != nil {
				return err
			}
		}
		out = cb
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "balances", "investing")
	return out, nil
}

func (s *Service) ListHoldings(ctx context.Context, scope Scope) ([]models.Holding, error) {
	var list []models.Holding
	if err := s.db.WithContext(ctx).Preload("Security").
		Where("user_id = ? AND workspace = ?", scope.UserID, scope.Workspace).
		Order("security_id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	return list, nil
}

// ListInvestmentTransactions returns trades oldest first; securityID 0 means all.
func (s *Service) ListInvestmentTransactions(ctx context.Context, scope Scope, securityID uint) ([]models.InvestmentTransaction, error) {
	q := s.db.WithContext(ctx).Preload("Security").
		Where("user_id = ? AND workspace = ?", scope.UserID, scope.Workspace)
	if securityID != 0 {
		q = q.Where("security_id = ?", securityID)
	}
	var list []models.InvestmentTransaction
	if err := q.Order("date ASC, id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list investment transactions: %w", err)
	}
	return list, nil
}

// RealizedSummary sums realized P/L per currency.
func (s *Service) RealizedSummary(ctx context.Context, scope Scope) (map[string]decimal.Decimal, error) {
	list, err := s.ListInvestmentTransactions(ctx, scope, 0)
	if err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal)
	for _, t := range list {
		if t.Type != models.TradeSell {
			continue
		}
		out[t.Currency] = out[t.Currency].Add(t.RealizedPL)
	}
	return out, nil
}

// ListCash returns the brokerage cash balances of scope.
func (s *Service) ListCash(ctx context.Context, scope Scope) ([]models.InvestmentCashBalance, error) {
	var list []models.InvestmentCashBalance
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND workspace = ?", scope.UserID, scope.Workspace).
		Order("currency ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list cash: %w", err)
	}
	return list, nil
}
