package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Debt is money owed between the user and a counterparty.
// A tracked debt is tied to a balance; an untracked one only names a currency.
type Debt struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	UserID        uint            `gorm:"index;not null" json:"user_id"`
	Workspace     Workspace       `gorm:"size:16;index;not null" json:"workspace"`
	BalanceID     *uint           `gorm:"index" json:"balance_id"`
	Currency      string          `gorm:"size:3;not null" json:"currency"`
	Counterparty  string          `gorm:"size:64;not null" json:"counterparty"`
	Description   string          `gorm:"size:255" json:"description"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	PaidAmount    decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"paid_amount"`
	Direction     DebtDirection   `gorm:"size:16;not null" json:"direction"`
	Status        DebtStatus      `gorm:"size:16;not null;default:pending" json:"status"`
	Lifecycle     LifecycleStatus `gorm:"size:16;index;not null;default:active" json:"lifecycle"`
	DeletingSince *time.Time      `gorm:"index" json:"deleting_since"`
	DueDate       *time.Time      `json:"due_date"`
	Version       uint            `gorm:"not null;default:0" json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`

	Payments []DebtPayment `gorm:"constraint:OnDelete:CASCADE" json:"payments,omitempty"`
}

// DebtPayment is one repayment, possibly distributed over several balances.
type DebtPayment struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	DebtID    uint            `gorm:"index;not null" json:"debt_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	PaidAt    time.Time       `gorm:"not null" json:"paid_at"`
	Note      string          `gorm:"size:255" json:"note"`
	CreatedAt time.Time       `json:"created_at"`
}
