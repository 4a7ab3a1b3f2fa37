package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	PayoutLogStatusCompleted = "completed"
	PayoutLogStatusFailed    = "failed"
)

// PayoutLog is the audit row written once per provider group per batch run.
// Rows are append-only: the repository exposes no update path for them.
type PayoutLog struct {
	ID                int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ProviderID        string         `gorm:"type:varchar(64);index;not null" json:"provider_id"`
	TotalAmount       int64          `gorm:"not null" json:"total_amount"`
	Currency          string         `gorm:"type:varchar(3);not null" json:"currency"`
	PaymentIDs        datatypes.JSON `gorm:"type:json;not null" json:"payment_ids"`
	Status            string         `gorm:"type:varchar(20);index;not null" json:"status"`
	Cutoff            time.Time      `gorm:"not null" json:"cutoff"`
	IdempotencyKey    string         `gorm:"type:varchar(128);index;not null" json:"idempotency_key"`
	ExternalReference *string        `gorm:"type:varchar(128)" json:"external_reference,omitempty"`
	ErrorMessage      string         `gorm:"type:varchar(512)" json:"error_message,omitempty"`
	CreatedAt         time.Time      `gorm:"autoCreateTime;index" json:"created_at"`

	// UnsettledPaymentIDs were part of the transfer but had left the batch
	// (refunded) before the ledger update; the provider was overpaid by them.
	UnsettledPaymentIDs datatypes.JSON `gorm:"type:json" json:"unsettled_payment_ids,omitempty"`
}

func (PayoutLog) TableName() string {
	return "payout_logs"
}
