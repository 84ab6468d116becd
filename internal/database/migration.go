package database

import (
	"fmt"

	"github.com/almatkai/woolet-sub002/internal/models"

	"gorm.io/gorm"
)

// AutoMigrate runs database schema migrations for all models.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Category{},
		&models.Account{},
		&models.Balance{},
		&models.Transaction{},
		&models.Debt{},
		&models.DebtPayment{},
		&models.Participant{},
		&models.TransactionSplit{},
		&models.SplitPayment{},
		&models.Security{},
		&models.Holding{},
		&models.InvestmentTransaction{},
		&models.InvestmentCashBalance{},
		&models.Credit{},
		&models.CreditPayment{},
		&models.Mortgage{},
		&models.MortgagePayment{},
		&models.Subscription{},
		&models.SubscriptionPayment{},
		&models.CurrencyRate{},
		&models.AuditLog{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
