package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Participant is a person a bill can be split with.
type Participant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Workspace Workspace `gorm:"size:16;index;not null" json:"workspace"`
	Name      string    `gorm:"size:64;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TransactionSplit is one participant's share of a transaction.
type TransactionSplit struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	TransactionID uint            `gorm:"index;not null" json:"transaction_id"`
	ParticipantID uint            `gorm:"index;not null" json:"participant_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	PaidAmount    decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"paid_amount"`
	Status        SplitStatus     `gorm:"size:16;not null;default:pending" json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`

	Payments []SplitPayment `gorm:"foreignKey:SplitID;constraint:OnDelete:CASCADE" json:"payments,omitempty"`
}

// SplitPayment records money received against a split.
type SplitPayment struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	SplitID       uint            `gorm:"index;not null" json:"split_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	BalanceID     *uint           `json:"balance_id"`
	TransactionID *uint           `gorm:"index" json:"transaction_id"`
	PaidAt        time.Time       `json:"paid_at"`
	CreatedAt     time.Time       `json:"created_at"`
}
