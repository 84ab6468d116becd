package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/almatkai/woolet-sub002/internal/apperr"
	"github.com/almatkai/woolet-sub002/internal/models"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// book is the set of balances touched by one database transaction. Each balance
// is loaded (and ownership-checked) once, so repeated deltas on the same row see
// its latest version.
type book struct {
	ctx   context.Context
	tx    *gorm.DB
	scope Scope
	byID  map[uint]*models.Balance
}

func newBook(tx *gorm.DB, scope Scope) *book {
	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return &book{ctx: ctx, tx: tx, scope: scope, byID: make(map[uint]*models.Balance)}
}

func (b *book) get(id uint) (*models.Balance, error) {
	if bal, ok := b.byID[id]; ok {
		return bal, nil
	}

	var bal models.Balance
	if err := forUpdate(b.tx).First(&bal, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("balance %d not found", id)
		}
		return nil, fmt.Errorf("load balance %d: %w", id, err)
	}

	var acc models.Account
	if err := b.tx.First(&acc, bal.AccountID).Error; err != nil {
		return nil, fmt.Errorf("load account %d: %w", bal.AccountID, err)
	}
	if acc.UserID != b.scope.UserID {
		return nil, apperr.Forbidden("balance %d is not yours", id)
	}
	if acc.Workspace != b.scope.Workspace {
		return nil, fmt.Errorf("balance %d is in the %s workspace: %w", id, acc.Workspace, apperr.ErrWorkspaceMismatch)
	}
	bal.Account = acc

	b.byID[id] = &bal
	return &bal, nil
}

// apply adds delta to the balance with a version-checked write.
func (b *book) apply(id uint, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	bal, err := b.get(id)
	if err != nil {
		return err
	}

	next := bal.Amount.Add(delta)
	res := b.tx.Model(&models.Balance{}).
		Where("id = ? AND version = ?", bal.ID, bal.Version).
		Updates(map[string]any{"amount": next, "version": bal.Version + 1})
	if res.Error != nil {
		return fmt.Errorf("update balance %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrConcurrentUpdate
	}
	bal.Amount = next
	bal.Version++
	return nil
}

// require fails with ErrInsufficientFunds when the balance holds less than need.
func (b *book) require(id uint, need decimal.Decimal) error {
	bal, err := b.get(id)
	if err != nil {
		return err
	}
	if bal.Amount.LessThan(need) {
		return fmt.Errorf("balance %d has %s %s, needs %s: %w",
			id, bal.Amount.StringFixed(2), bal.Currency, need.StringFixed(2), apperr.ErrInsufficientFunds)
	}
	return nil
}

// normalizeCurrency upper-cases code and checks it is an ISO 4217 currency.
func normalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if money.GetCurrency(code) == nil {
		return "", apperr.BadRequest("unknown currency %q", code)
	}
	return code, nil
}

// roundMoney rounds amount to the minor unit of currency.
func roundMoney(amount decimal.Decimal, currency string) decimal.Decimal {
	c := money.GetCurrency(currency)
	if c == nil {
		return amount.Round(2)
	}
	return amount.Round(int32(c.Fraction))
}

type AccountInput struct {
	Name     string
	Openings map[string]decimal.Decimal // currency -> opening amount
}

// CreateAccount creates an account with one balance per currency.
func (s *Service) CreateAccount(ctx context.Context, scope Scope, in AccountInput) (*models.Account, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.BadRequest("account name is required")
	}
	if len(in.Openings) == 0 {
		return nil, apperr.BadRequest("at least one currency is required")
	}

	balances := make([]models.Balance, 0, len(in.Openings))
	for cur, amount := range in.Openings {
		code, err := normalizeCurrency(cur)
		if err != nil {
			return nil, err
		}
		amount = roundMoney(amount, code)
		balances = append(balances, models.Balance{Currency: code, Amount: amount, OpeningAmount: amount})
	}

	acc := models.Account{UserID: scope.UserID, Workspace: scope.Workspace, Name: name, Balances: balances}
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&acc).Error; err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, scope, "balances")
	return &acc, nil
}

// GetBalance returns one balance visible in scope.
func (s *Service) GetBalance(ctx context.Context, scope Scope, id uint) (*models.Balance, error) {
	var out *models.Balance
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		bal, err := newBook(tx, scope).get(id)
		out = bal
		return err
	})
	return out, err
}

// ListBalances returns every balance of the caller's accounts in the workspace.
func (s *Service) ListBalances(ctx context.Context, scope Scope) ([]models.Balance, error) {
	var list []models.Balance
	db := s.db.WithContext(ctx)
	accounts := db.Model(&models.Account{}).Select("id").
		Where("user_id = ? AND workspace = ?", scope.UserID, scope.Workspace)
	err := db.Where("account_id IN (?)", accounts).
		Preload("Account").
		Order("id ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	return list, nil
}

// BalanceCheck compares a cached balance with the amount its history implies.
type BalanceCheck struct {
	BalanceID uint            `json:"balance_id"`
	Currency  string          `json:"currency"`
	Cached    decimal.Decimal `json:"cached"`
	Expected  decimal.Decimal `json:"expected"`
	Drift     decimal.Decimal `json:"drift"`
}

func (c BalanceCheck) Consistent() bool { return c.Drift.IsZero() }

// VerifyBalance recomputes opening amount plus the effects of every active
// transaction touching the balance.
func (s *Service) VerifyBalance(ctx context.Context, scope Scope, id uint) (*BalanceCheck, error) {
	var out *BalanceCheck
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		bal, err := newBook(tx, scope).get(id)
		if err != nil {
			return err
		}

		var list []models.Transaction
		if err := tx.Where("(balance_id = ? OR to_balance_id = ?) AND lifecycle = ?", id, id, models.LifecycleActive).
			Find(&list).Error; err != nil {
			return fmt.Errorf("load transactions: %w", err)
		}

		expected := bal.OpeningAmount
		for i := range list {
			for _, e := range effects(&list[i]) {
				if e.BalanceID == id {
					expected = expected.Add(e.Amount)
				}
			}
		}
		out = &BalanceCheck{
			BalanceID: id,
			Currency:  bal.Currency,
			Cached:    bal.Amount,
			Expected:  expected,
			Drift:     bal.Amount.Sub(expected),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !out.Consistent() {
		s.log.WarnContext(ctx, "balance drift detected", "balance_id", id, "drift", out.Drift.String())
	}
	return out, nil
}
