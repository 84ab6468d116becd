package models

import "time"

// Well-known category keys seeded at startup.
const (
	CategoryKeyDebt            = "debt"
	CategoryKeyDebtPayment     = "debt_payment"
	CategoryKeySplitPayback    = "split_payback"
	CategoryKeyTransfer        = "transfer"
	CategoryKeyInvestment      = "investment"
	CategoryKeyCreditPayment   = "credit_payment"
	CategoryKeyMortgagePayment = "mortgage_payment"
	CategoryKeySubscription    = "subscription"
)

// Category represents income/expense category.
// System categories have a Key and UserID 0; user categories have no Key.
type Category struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       *string   `gorm:"column:category_key;size:32;uniqueIndex" json:"key"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Name      string    `gorm:"size:64;not null" json:"name"`
	Type      string    `gorm:"size:16;index;not null" json:"type"` // income / expense / any
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
