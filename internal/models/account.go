package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account groups the balances a user holds at one place (bank, wallet, card).
type Account struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Workspace Workspace `gorm:"size:16;index;not null" json:"workspace"`
	Name      string    `gorm:"size:64;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Balances []Balance `gorm:"constraint:OnDelete:CASCADE" json:"balances,omitempty"`
}

// Balance is the cached amount of one currency held in an account.
// Amount must only change through reconciled deltas; Version guards every write.
type Balance struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	AccountID     uint            `gorm:"uniqueIndex:idx_balance_account_currency;not null" json:"account_id"`
	Currency      string          `gorm:"size:3;uniqueIndex:idx_balance_account_currency;not null" json:"currency"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"amount"`
	OpeningAmount decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"opening_amount"`
	Version       uint            `gorm:"not null;default:0" json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`

	Account Account `json:"account,omitempty"`
}
