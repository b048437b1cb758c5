package notification

import "time"

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelTelegram Channel = "telegram"
)

// Notification is the audit record of one successful channel delivery.
type Notification struct {
	ID       int64     `json:"id"`
	AlertID  *int64    `json:"alert_id"`
	TenantID int64     `json:"tenant_id"`
	TargetID *int64    `json:"target_id"`
	Channel  Channel   `json:"channel"`
	SentAt   time.Time `json:"sent_at"`
	Payload  string    `json:"payload"`
}

type DeliveryStatus string

const (
	DeliverySkipped DeliveryStatus = "skipped"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Delivery reports what happened on each channel for one alert.
type Delivery struct {
	Primary   DeliveryStatus
	Secondary DeliveryStatus
}
