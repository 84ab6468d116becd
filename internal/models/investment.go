package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Security struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Symbol    string    `gorm:"size:32;uniqueIndex;not null" json:"symbol"`
	Name      string    `gorm:"size:128" json:"name"`
	Currency  string    `gorm:"size:3;not null" json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// Holding is the position of one user in one security, at average cost.
type Holding struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UserID      uint            `gorm:"uniqueIndex:idx_holding_owner_security;not null" json:"user_id"`
	Workspace   Workspace       `gorm:"size:16;uniqueIndex:idx_holding_owner_security;not null" json:"workspace"`
	SecurityID  uint            `gorm:"uniqueIndex:idx_holding_owner_security;not null" json:"security_id"`
	Quantity    decimal.Decimal `gorm:"type:decimal(24,10);not null" json:"quantity"`
	AverageCost decimal.Decimal `gorm:"type:decimal(24,10);not null" json:"average_cost"`
	Version     uint            `gorm:"not null;default:0" json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	Security Security `json:"security,omitempty"`
}

// InvestmentTransaction is the append-only trade trail a Holding is replayed from.
type InvestmentTransaction struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	UserID           uint            `gorm:"index:idx_investment_tx_owner;not null" json:"user_id"`
	Workspace        Workspace       `gorm:"size:16;index:idx_investment_tx_owner;not null" json:"workspace"`
	SecurityID       uint            `gorm:"index:idx_investment_tx_owner;not null" json:"security_id"`
	Type             TradeType       `gorm:"size:8;not null" json:"type"`
	Date             time.Time       `gorm:"index;not null" json:"date"`
	Quantity         decimal.Decimal `gorm:"type:decimal(24,10);not null" json:"quantity"`
	Price            decimal.Decimal `gorm:"type:decimal(24,10);not null" json:"price"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(24,10);not null" json:"total_amount"`
	Currency         string          `gorm:"size:3;not null" json:"currency"`
	RealizedPL       decimal.Decimal `gorm:"type:decimal(24,10);not null;default:0" json:"realized_pl"`
	CashFlow         decimal.Decimal `gorm:"type:decimal(24,10);not null" json:"cash_flow"`
	CashBalanceAfter decimal.Decimal `gorm:"type:decimal(24,10);not null" json:"cash_balance_after"`
	CreatedAt        time.Time       `json:"created_at"`

	Security Security `json:"security,omitempty"`
}

// InvestmentCashBalance is the uninvested cash of a user's brokerage in one currency.
type InvestmentCashBalance struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    uint            `gorm:"uniqueIndex:idx_investment_cash_owner;not null" json:"user_id"`
	Workspace Workspace       `gorm:"size:16;uniqueIndex:idx_investment_cash_owner;not null" json:"workspace"`
	Currency  string          `gorm:"size:3;uniqueIndex:idx_investment_cash_owner;not null" json:"currency"`
	Available decimal.Decimal `gorm:"type:decimal(24,10);not null;default:0" json:"available"`
	Settled   decimal.Decimal `gorm:"type:decimal(24,10);not null;default:0" json:"settled"`
	Version   uint            `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
