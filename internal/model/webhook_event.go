package model

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent records every signature-valid rail notification.
// (rail, event_id) is unique, so a redelivered event is detected on insert.
type WebhookEvent struct {
	ID           string         `gorm:"type:char(36);primaryKey" json:"id"`
	Rail         string         `gorm:"type:varchar(32);not null;uniqueIndex:ux_webhook_events_rail_event,priority:1" json:"rail"`
	EventID      string         `gorm:"type:varchar(128);not null;uniqueIndex:ux_webhook_events_rail_event,priority:2" json:"event_id"`
	EventType    string         `gorm:"type:varchar(64);not null" json:"event_type"`
	Payload      datatypes.JSON `gorm:"type:json;not null" json:"payload"`
	ReceivedAt   time.Time      `gorm:"not null" json:"received_at"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
	ProcessError *string        `gorm:"type:varchar(255)" json:"process_error,omitempty"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
