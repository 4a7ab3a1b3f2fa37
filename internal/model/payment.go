package model

import (
	"time"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

const (
	PayoutStatusNotApplicable = "not_applicable"
	PayoutStatusPending       = "pending"
	PayoutStatusCompleted     = "completed"
	PayoutStatusError         = "error"
)

// ValidStatusTransitions lists the only forward moves a payment may make.
// Anything absent here (succeeded -> pending, failed -> succeeded, ...) is rejected.
var ValidStatusTransitions = map[string][]string{
	PaymentStatusPending:   {PaymentStatusSucceeded, PaymentStatusFailed},
	PaymentStatusSucceeded: {PaymentStatusRefunded},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// PayoutStatusAfter returns the payout_status a payment must carry once it
// moves to targetStatus. payout_status stays not_applicable until the payment
// succeeds; a refund clears an unpaid payout but never rewrites a completed one.
func PayoutStatusAfter(currentPayout, targetStatus string) string {
	switch targetStatus {
	case PaymentStatusSucceeded:
		return PayoutStatusPending
	case PaymentStatusRefunded:
		if currentPayout == PayoutStatusCompleted {
			return PayoutStatusCompleted
		}
		return PayoutStatusNotApplicable
	default:
		return PayoutStatusNotApplicable
	}
}

// Payment is one client payment intent. All amounts are minor currency units.
// ProviderAmount + PlatformFee == GrossAmount always holds; ClientSurcharge is
// charged to the client on top of GrossAmount, and ClientAmount is what the
// rail actually collects.
type Payment struct {
	ID                string     `gorm:"type:varchar(64);primaryKey" json:"id"`
	IdempotencyKey    *string    `gorm:"type:varchar(128);uniqueIndex" json:"idempotency_key,omitempty"`
	ClientID          string     `gorm:"type:varchar(64);index;not null" json:"client_id"`
	ProviderID        string     `gorm:"type:varchar(64);index;not null" json:"provider_id"`
	ClientEmail       string     `gorm:"type:varchar(255)" json:"client_email"`
	Description       string     `gorm:"type:varchar(255)" json:"description"`
	GrossAmount       int64      `gorm:"not null" json:"gross_amount"`
	ProviderAmount    int64      `gorm:"not null" json:"provider_amount"`
	PlatformFee       int64      `gorm:"not null" json:"platform_fee"`
	ClientSurcharge   int64      `gorm:"not null" json:"client_surcharge"`
	ClientAmount      int64      `gorm:"not null" json:"client_amount"`
	Currency          string     `gorm:"type:varchar(3);not null" json:"currency"`
	Status            string     `gorm:"type:varchar(20);index;not null" json:"status"`
	Rail              string     `gorm:"type:varchar(32);not null" json:"rail"`
	ExternalSessionID *string    `gorm:"type:varchar(128);uniqueIndex" json:"external_session_id,omitempty"`
	ExternalPaymentID *string    `gorm:"type:varchar(128);index" json:"external_payment_id,omitempty"`
	CheckoutURL       string     `gorm:"type:varchar(1024)" json:"checkout_url,omitempty"`
	PayoutStatus      string     `gorm:"type:varchar(20);index;not null" json:"payout_status"`
	PayoutReference   *string    `gorm:"type:varchar(128)" json:"payout_reference,omitempty"`
	PayoutAttempts    int        `gorm:"not null;default:0" json:"payout_attempts"`
	PayoutError       string     `gorm:"type:varchar(512)" json:"payout_error,omitempty"`
	ExpiresAt         time.Time  `gorm:"not null" json:"expires_at"`
	SettledAt         *time.Time `json:"settled_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

// ExternalRef identifies a payment the way the rail does: by checkout session,
// by the rail's own payment id, or both.
type ExternalRef struct {
	SessionID string
	PaymentID string
}

func (r ExternalRef) Empty() bool {
	return r.SessionID == "" && r.PaymentID == ""
}
