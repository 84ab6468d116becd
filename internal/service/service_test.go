package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/almatkai/woolet-sub002/internal/apperr"
	"github.com/almatkai/woolet-sub002/internal/config"
	"github.com/almatkai/woolet-sub002/internal/database"
	"github.com/almatkai/woolet-sub002/internal/models"

	"github.com/alecthomas/assert/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	alice     = Scope{UserID: 1, Workspace: models.WorkspaceProduction}
	aliceTest = Scope{UserID: 1, Workspace: models.WorkspaceTest}
	bob       = Scope{UserID: 2, Workspace: models.WorkspaceProduction}
)

// newTestService opens a private in-memory database with the schema and the
// system categories in place.
func newTestService(t *testing.T, opts ...Option) (*Service, *gorm.DB) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	db, err := database.Init(config.DatabaseConfig{Driver: "sqlite", Path: "file:" + name + "?mode=memory&cache=shared"})
	assert.NoError(t, err)
	assert.NoError(t, database.AutoMigrate(db))
	reg, err := database.SeedCategories(db)
	assert.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return New(db, reg, opts...), db
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), "want %s, got %s", want, got)
}

// openBalance creates an account holding amount of currency and returns its balance.
func openBalance(t *testing.T, s *Service, scope Scope, currency, amount string) *models.Balance {
	t.Helper()
	acc, err := s.CreateAccount(context.Background(), scope, AccountInput{
		Name:     "Bank " + currency,
		Openings: map[string]decimal.Decimal{currency: dec(amount)},
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(acc.Balances))
	return &acc.Balances[0]
}

func amountOf(t *testing.T, s *Service, scope Scope, id uint) decimal.Decimal {
	t.Helper()
	bal, err := s.GetBalance(context.Background(), scope, id)
	assert.NoError(t, err)
	return bal.Amount
}

// assertConsistent checks the cached amount equals opening plus active effects.
func assertConsistent(t *testing.T, s *Service, scope Scope, id uint) {
	t.Helper()
	check, err := s.VerifyBalance(context.Background(), scope, id)
	assert.NoError(t, err)
	assert.True(t, check.Consistent(), "balance %d drifted by %s", id, check.Drift)
}

type recordingInvalidator struct{ keys []string }

func (r *recordingInvalidator) Invalidate(_ context.Context, keys ...string) {
	r.keys = append(r.keys, keys...)
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(apperr.ErrConcurrentUpdate))
	assert.True(t, retryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, retryable(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, retryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, retryable(apperr.ErrInsufficientFunds))
	assert.False(t, retryable(errors.New("boom")))
}

func TestInTxRetriesLostRace(t *testing.T) {
	s, _ := newTestService(t, WithRetries(2))
	attempts := 0
	err := s.inTx(context.Background(), func(tx *gorm.DB) error {
		attempts++
		if attempts < 3 {
			return apperr.ErrConcurrentUpdate
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = s.inTx(context.Background(), func(tx *gorm.DB) error {
		attempts++
		return apperr.ErrConcurrentUpdate
	})
	assert.IsError(t, err, apperr.ErrConcurrentUpdate)
	assert.Equal(t, 3, attempts)
}

func TestInTxDoesNotRetryBusinessErrors(t *testing.T) {
	s, _ := newTestService(t)
	attempts := 0
	err := s.inTx(context.Background(), func(tx *gorm.DB) error {
		attempts++
		return apperr.ErrOverpayment
	})
	assert.IsError(t, err, apperr.ErrOverpayment)
	assert.Equal(t, 1, attempts)
}

func TestInvalidateAfterCommit(t *testing.T) {
	inv := &recordingInvalidator{}
	s, _ := newTestService(t, WithInvalidator(inv))
	openBalance(t, s, alice, "USD", "10")
	assert.Equal(t, []string{"balances:1:production"}, inv.keys)
}

func TestVersionConflictIsDetected(t *testing.T) {
	s, db := newTestService(t)
	bal := openBalance(t, s, alice, "USD", "100")

	err := s.inTx(context.Background(), func(tx *gorm.DB) error {
		b := newBook(tx, alice)
		if _, err := b.get(bal.ID); err != nil {
			return err
		}
		// a concurrent writer bumps the version behind the book's back
		if err := tx.Model(&models.Balance{}).Where("id = ?", bal.ID).Update("version", gorm.Expr("version + 1")).Error; err != nil {
			return err
		}
		return b.apply(bal.ID, dec("5"))
	})
	assert.IsError(t, err, apperr.ErrConcurrentUpdate)

	var stored models.Balance
	assert.NoError(t, db.First(&stored, bal.ID).Error)
	assertAmount(t, "100", stored.Amount)
}

func fixedClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}
