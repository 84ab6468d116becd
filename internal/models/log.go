package models

import "time"

// AuditLog records mutating requests for auditing.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    *uint     `gorm:"index" json:"user_id"`
	Workspace Workspace `gorm:"size:16" json:"workspace"`
	Method    string    `gorm:"size:16" json:"method"`
	PathEnc   string    `gorm:"size:1024" json:"path_enc"`   // encrypted request path
	ActionEnc string    `gorm:"size:4096" json:"action_enc"` // encrypted method + path + body digest
	Status    int       `json:"status"`
	IP        string    `gorm:"size:64" json:"ip"`
	UserAgent string    `gorm:"size:255" json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
}
