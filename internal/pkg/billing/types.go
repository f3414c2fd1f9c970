package billing

// IngestInput is the normalized "payment completed" fact handed over by a
// payment gateway adapter. ExternalEventID must be globally unique per
// provider and stable across retries.
type IngestInput struct {
	Provider        string `json:"provider" validate:"required"`
	ExternalEventID string `json:"external_event_id" validate:"required"`
	UserID          uint   `json:"user_id" validate:"required"`
	TierID          uint   `json:"tier_id" validate:"required"`
	BillingCycle    string `json:"billing_cycle" validate:"oneof=monthly yearly"`
	PaymentType     string `json:"payment_type" validate:"oneof=one_time recurring"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	CouponCode      string `json:"coupon_code,omitempty"`
	RawPayloadJSON  string `json:"-"`
}

// IngestResult reports the outcome of one ingest call. Applied is false on
// replays and rejections; Duplicate marks replays of an already settled event.
type IngestResult struct {
	SubscriptionID   uint   `json:"subscription_id,omitempty"`
	Applied          bool   `json:"applied"`
	Duplicate        bool   `json:"duplicate,omitempty"`
	FinalAmountCents int64  `json:"final_amount_cents,omitempty"`
	RejectReason     string `json:"reject_reason,omitempty"`
}
