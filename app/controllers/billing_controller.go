package controllers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/FelixBraun/StudyPilot/internal/pkg/billing"
	"github.com/FelixBraun/StudyPilot/internal/pkg/database"
	"github.com/FelixBraun/StudyPilot/internal/pkg/env"
	"github.com/FelixBraun/StudyPilot/internal/pkg/subscription"
)

// webhookPayload is the gateway's "payment completed" notification body.
type webhookPayload struct {
	Provider        string `json:"provider"`
	ExternalEventID string `json:"external_event_id"`
	UserID          uint   `json:"user_id"`
	TierID          uint   `json:"tier_id"`
	BillingCycle    string `json:"billing_cycle"`
	PaymentType     string `json:"payment_type"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	CouponCode      string `json:"coupon_code"`
}

// HandlePaymentWebhook receives payment notifications from the gateway,
// verifies the HMAC signature over the raw body and hands the event to the
// ingester. Replays of an already settled event answer 200 with the stored
// outcome so gateway retries terminate.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Webhook-Signature"))
	secret := env.GetEnv("PAYMENT_WEBHOOK_SECRET", "")

	if !billing.VerifyWebhookSignature(rawBody, signature, secret) {
		ipv4, ipv6 := GetClientIP(c)
		log.Warnf("Rejected webhook with invalid signature from %s %s", ipv4, ipv6)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	ing := billing.NewIngesterFromDB(database.GetDB())
	result, err := ing.Ingest(ctx, billing.IngestInput{
		Provider:        payload.Provider,
		ExternalEventID: payload.ExternalEventID,
		UserID:          payload.UserID,
		TierID:          payload.TierID,
		BillingCycle:    payload.BillingCycle,
		PaymentType:     payload.PaymentType,
		AmountCents:     payload.AmountCents,
		Currency:        payload.Currency,
		CouponCode:      payload.CouponCode,
		RawPayloadJSON:  string(rawBody),
	})
	if err != nil {
		if result != nil && result.RejectReason != "" {
			// The event is settled as rejected; the gateway must not retry.
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "applied": false, "reject_reason": result.RejectReason})
		}
		if code := subscription.ReasonCode(err); code == "invalid_event" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": code})
		}
		// Transient failure: a non-2xx status makes the gateway retry.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "ingest_failed"})
	}

	response := fiber.Map{"ok": true, "applied": result.Applied}
	if result.Duplicate {
		response["duplicate"] = true
	}
	if result.SubscriptionID != 0 {
		response["subscription_id"] = result.SubscriptionID
	}
	if result.Applied {
		response["final_amount_cents"] = result.FinalAmountCents
	}
	if result.RejectReason != "" {
		response["reject_reason"] = result.RejectReason
	}
	return c.Status(fiber.StatusOK).JSON(response)
}
