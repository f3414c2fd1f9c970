package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	PaymentEventStatusCompleted = "completed"
)

const (
	PaymentEventResultApplied   = "applied"
	PaymentEventResultDuplicate = "duplicate"
	PaymentEventResultRejected  = "rejected"
)

// PaymentEvent is an externally sourced "payment completed" fact. The unique
// (provider, external_event_id) index is the idempotency guard: inserting the
// same gateway event twice is a no-op and the stored row carries the result of
// the first processing so replays can answer without re-running business logic.
type PaymentEvent struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	Provider             string     `gorm:"type:varchar(30);not null;index:ux_payment_events_provider_event,unique,priority:1" json:"provider" validate:"required"`
	ExternalEventID      string     `gorm:"type:varchar(191);not null;index:ux_payment_events_provider_event,unique,priority:2" json:"external_event_id" validate:"required"`
	UserID               uint       `gorm:"not null;index" json:"user_id" validate:"required"`
	TierID               uint       `gorm:"not null" json:"tier_id" validate:"required"`
	BillingCycle         string     `gorm:"type:varchar(10);not null" json:"billing_cycle" validate:"oneof=monthly yearly"`
	PaymentType          string     `gorm:"type:varchar(10);not null" json:"payment_type" validate:"oneof=one_time recurring"`
	AmountCents          int64      `gorm:"not null;default:0" json:"amount_cents"`
	Currency             string     `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	CouponCode           string     `gorm:"type:varchar(50);not null;default:''" json:"coupon_code,omitempty"`
	Status               string     `gorm:"type:varchar(20);not null;default:'completed'" json:"status"`
	RawPayloadJSON       string     `gorm:"type:longtext" json:"-"`
	Result               string     `gorm:"type:varchar(20);not null;default:''" json:"result"`
	ResultSubscriptionID *uint      `gorm:"default:null" json:"result_subscription_id,omitempty"`
	ProcessedAt          *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError      string     `gorm:"type:text" json:"processing_error,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e *PaymentEvent) Validate() error {
	v := validator.New()

	return v.Struct(e)
}

// IsProcessed reports whether a prior ingest already settled this event.
func (e *PaymentEvent) IsProcessed() bool {
	return e.ProcessedAt != nil
}
