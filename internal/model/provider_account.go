package model

import (
	"time"
)

// ProviderAccount holds a provider's payout credentials. It is owned by the
// profile service; this engine only reads it.
type ProviderAccount struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProviderID     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"provider_id"`
	Destination    string    `gorm:"type:varchar(128)" json:"destination"`
	PayoutsEnabled bool      `gorm:"not null;default:true" json:"payouts_enabled"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ProviderAccount) TableName() string {
	return "provider_accounts"
}
