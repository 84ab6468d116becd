package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is an atomic monetary event against one balance (two for transfers).
// ParentID links a payback to the expense it pays back; children are never stored.
type Transaction struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	UserID         uint            `gorm:"index;not null;uniqueIndex:idx_transaction_idempotency,priority:1" json:"user_id"`
	Workspace      Workspace       `gorm:"size:16;index;not null;uniqueIndex:idx_transaction_idempotency,priority:2" json:"workspace"`
	BalanceID      uint            `gorm:"index;not null" json:"balance_id"`
	ToBalanceID    *uint           `gorm:"index" json:"to_balance_id"`
	CategoryID     *uint           `gorm:"index" json:"category_id"`
	Type           TransactionType `gorm:"size:16;not null" json:"type"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	Fee            decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"fee"`
	ExchangeRate   decimal.Decimal `gorm:"type:decimal(20,10);not null;default:1" json:"exchange_rate"`
	CashbackAmount decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"cashback_amount"`
	Description    string          `gorm:"size:255" json:"description"`
	Date           time.Time       `gorm:"index;not null" json:"date"`
	Lifecycle      LifecycleStatus `gorm:"size:16;index;not null;default:active" json:"lifecycle"`
	DebtID         *uint           `gorm:"index" json:"debt_id"`
	DebtPaymentID  *uint           `gorm:"index" json:"debt_payment_id"`
	ParentID       *uint           `gorm:"index" json:"parent_id"`
	IdempotencyKey *string         `gorm:"size:64;uniqueIndex:idx_transaction_idempotency,priority:3" json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
