package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Obligation holds the fields shared by credits and mortgages.
type Obligation struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	UserID           uint             `gorm:"index;not null" json:"user_id"`
	Workspace        Workspace        `gorm:"size:16;index;not null" json:"workspace"`
	AccountID        uint             `gorm:"index;not null" json:"account_id"`
	Name             string           `gorm:"size:64;not null" json:"name"`
	Currency         string           `gorm:"size:3;not null" json:"currency"`
	Principal        decimal.Decimal  `gorm:"type:decimal(20,8);not null" json:"principal"`
	RemainingBalance decimal.Decimal  `gorm:"type:decimal(20,8);not null" json:"remaining_balance"`
	MonthlyPayment   decimal.Decimal  `gorm:"type:decimal(20,8);not null" json:"monthly_payment"`
	Status           ObligationStatus `gorm:"size:16;not null;default:active" json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

type Credit struct {
	Obligation
	Payments []CreditPayment `gorm:"foreignKey:CreditID;constraint:OnDelete:CASCADE" json:"payments,omitempty"`
}

type Mortgage struct {
	Obligation
	Payments []MortgagePayment `gorm:"foreignKey:MortgageID;constraint:OnDelete:CASCADE" json:"payments,omitempty"`
}

// CreditPayment marks one month of a credit as paid.
type CreditPayment struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	CreditID      uint            `gorm:"uniqueIndex:idx_credit_payment_month;not null" json:"credit_id"`
	MonthYear     string          `gorm:"size:7;uniqueIndex:idx_credit_payment_month;not null" json:"month_year"` // YYYY-MM
	Amount        decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	TransactionID *uint           `gorm:"index" json:"transaction_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MortgagePayment marks one month of a mortgage as paid.
type MortgagePayment struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	MortgageID    uint            `gorm:"uniqueIndex:idx_mortgage_payment_month;not null" json:"mortgage_id"`
	MonthYear     string          `gorm:"size:7;uniqueIndex:idx_mortgage_payment_month;not null" json:"month_year"` // YYYY-MM
	Amount        decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	TransactionID *uint           `gorm:"index" json:"transaction_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Subscription struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    uint            `gorm:"index;not null" json:"user_id"`
	Workspace Workspace       `gorm:"size:16;index;not null" json:"workspace"`
	AccountID *uint           `gorm:"index" json:"account_id"`
	Name      string          `gorm:"size:64;not null" json:"name"`
	Currency  string          `gorm:"size:3;not null" json:"currency"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	Active    bool            `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`

	Payments []SubscriptionPayment `gorm:"constraint:OnDelete:CASCADE" json:"payments,omitempty"`
}

type SubscriptionPayment struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	SubscriptionID uint            `gorm:"index;not null" json:"subscription_id"`
	PaidAt         time.Time       `gorm:"not null" json:"paid_at"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	TransactionID  *uint           `gorm:"index" json:"transaction_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CurrencyRate is written by the external rate job and only read here.
type CurrencyRate struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	From      string          `gorm:"column:from_currency;size:3;uniqueIndex:idx_rate_pair;not null" json:"from"`
	To        string          `gorm:"column:to_currency;size:3;uniqueIndex:idx_rate_pair;not null" json:"to"`
	Rate      decimal.Decimal `gorm:"type:decimal(20,10);not null" json:"rate"`
	UpdatedAt time.Time       `json:"updated_at"`
}
