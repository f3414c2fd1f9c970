package billing

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/FelixBraun/StudyPilot/app/models"
	"github.com/FelixBraun/StudyPilot/internal/pkg/coupon"
	"github.com/FelixBraun/StudyPilot/internal/pkg/subscription"
)

// Ingester turns external "payment completed" notifications into subscription
// transitions. Ingest is idempotent on (provider, external_event_id): replays
// answer from the stored processing result without touching subscriptions.
type Ingester struct {
	events  Repository
	subs    subscription.Repository
	coupons *coupon.Engine
}

// NewIngester creates a payment-event ingester.
func NewIngester(events Repository, subs subscription.Repository, coupons *coupon.Engine) *Ingester {
	return &Ingester{events: events, subs: subs, coupons: coupons}
}

// NewIngesterFromDB wires an ingester against a GORM DB handle.
func NewIngesterFromDB(db *gorm.DB) *Ingester {
	return NewIngester(NewRepository(db), subscription.NewRepository(db), coupon.NewEngineFromDB(db))
}

// Ingest processes one payment event:
//  1. dedupe on the idempotency key; replays return the prior result,
//  2. classify the transition (first purchase, renewal, upgrade) and reject
//     downgrades before any financial effect,
//  3. validate and apply the coupon for this event,
//  4. run the subscription mutation in one transaction keyed on the user's
//     active row,
//  5. settle the audit trail and referral award.
func (ing *Ingester) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	if err := validator.New().Struct(&in); err != nil {
		return nil, subscription.NewReasonError("invalid_event", err.Error())
	}

	created, stored, err := ing.events.CreateEventIfNotExists(&models.PaymentEvent{
		Provider:        in.Provider,
		ExternalEventID: in.ExternalEventID,
		UserID:          in.UserID,
		TierID:          in.TierID,
		BillingCycle:    in.BillingCycle,
		PaymentType:     in.PaymentType,
		AmountCents:     in.AmountCents,
		Currency:        in.Currency,
		CouponCode:      models.NormalizeCouponCode(in.CouponCode),
		Status:          models.PaymentEventStatusCompleted,
		RawPayloadJSON:  in.RawPayloadJSON,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		// Settled events answer from the stored result. An unsettled row
		// means a prior attempt died before finishing; process it again.
		if stored.ProcessedAt != nil {
			return replayResult(stored), nil
		}
	}

	result, procErr := ing.process(ctx, in, stored)
	if procErr != nil {
		var reasonErr *subscription.ReasonError
		if !errors.As(procErr, &reasonErr) ||
			errors.Is(procErr, subscription.ErrConflict) ||
			errors.Is(procErr, subscription.ErrAlreadyActive) {
			// Transient failure: leave the event unsettled so the gateway's
			// retry gets another attempt instead of a rejection replay.
			return nil, procErr
		}
		reason := reasonErr.Code
		if markErr := ing.events.MarkEventProcessed(stored.ID, models.PaymentEventResultRejected, nil, reason); markErr != nil {
			log.Errorf("payment event %d: recording rejection failed: %v", stored.ID, markErr)
		}
		return &IngestResult{Applied: false, RejectReason: reason}, procErr
	}

	subID := result.SubscriptionID
	if err := ing.events.MarkEventProcessed(stored.ID, models.PaymentEventResultApplied, &subID, ""); err != nil {
		log.Errorf("payment event %d: recording result failed: %v", stored.ID, err)
	}
	ing.awardReferralPoints(in.UserID, in.TierID)
	return result, nil
}

func (ing *Ingester) process(ctx context.Context, in IngestInput, ev *models.PaymentEvent) (*IngestResult, error) {
	newTier, err := ing.subs.GetTierByID(in.TierID)
	if err != nil {
		return nil, subscription.NewReasonError("tier_not_found", "unknown tier")
	}

	// Downgrades are rejected before the coupon is consumed.
	current, err := ing.subs.GetActiveByUserID(in.UserID)
	if err != nil && !errors.Is(err, subscription.ErrNotFound) {
		return nil, err
	}
	if current != nil && current.TierID != newTier.ID && !newTier.IsUpgradeFrom(&current.Tier) {
		return nil, subscription.ErrDowngradeNotAllowed
	}

	finalAmount := in.AmountCents
	if in.CouponCode != "" {
		reservation, err := ing.coupons.ValidateAndReserve(ctx, in.CouponCode, in.TierID, in.BillingCycle, in.UserID)
		if err != nil {
			return nil, err
		}
		finalAmount, err = ing.coupons.Apply(ctx, reservation.CouponID, ev.ID, in.AmountCents)
		if err != nil {
			return nil, err
		}
	}

	var subID uint
	err = ing.subs.Transaction(func(tx subscription.Repository) error {
		now := time.Now()
		locked, err := tx.GetActiveByUserIDForUpdate(in.UserID)
		if err != nil && !errors.Is(err, subscription.ErrNotFound) {
			return err
		}

		switch {
		case locked == nil:
			fresh := newPaidSubscription(in, newTier, now)
			if err := tx.Create(fresh); err != nil {
				return err
			}
			subID = fresh.ID

		case locked.TierID == newTier.ID:
			renewInPlace(locked, in, now)
			if err := tx.UpdateWithVersion(locked); err != nil {
				return err
			}
			subID = locked.ID

		case newTier.IsUpgradeFrom(&locked.Tier):
			// Retire the old grant and create the upgraded one in the same
			// transaction so the one-active-row constraint holds throughout.
			remaining := locked.RemainingTokens()
			locked.Status = models.SubscriptionStatusCancelled
			locked.CancelReason = "tier_upgrade"
			if err := tx.UpdateWithVersion(locked); err != nil {
				return err
			}

			fresh := newPaidSubscription(in, newTier, now)
			fresh.TokenLimitOverride = CarryoverLimit(remaining, newTier.TokenLimit)
			fresh.TokensUsed = locked.TokensUsed
			if newTier.RequiresScopeSelection() {
				fresh.SelectedScopeIDs = locked.SelectedScopeIDs
			}
			if err := tx.Create(fresh); err != nil {
				return err
			}
			subID = fresh.ID

		default:
			return subscription.ErrDowngradeNotAllowed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &IngestResult{SubscriptionID: subID, Applied: true, FinalAmountCents: finalAmount}, nil
}

// awardReferralPoints credits the referrer after the user's first applied
// paid event. Best effort: a failed award is logged, never unwinds the ingest.
func (ing *Ingester) awardReferralPoints(userID, tierID uint) {
	applied, err := ing.events.CountAppliedByUser(userID)
	if err != nil || applied != 1 {
		return
	}
	user, err := ing.subs.GetUserByID(userID)
	if err != nil || user.ReferredByUserID == nil {
		return
	}
	tier, err := ing.subs.GetTierByID(tierID)
	if err != nil || tier.ReferralPointsAwarded <= 0 {
		return
	}
	if err := ing.subs.AddReferralPoints(*user.ReferredByUserID, tier.ReferralPointsAwarded); err != nil {
		log.Errorf("referral award for user %d failed: %v", userID, err)
	}
}

func newPaidSubscription(in IngestInput, tier *models.Tier, now time.Time) *models.Subscription {
	start, end := ComputePeriod(now)
	return &models.Subscription{
		UserID:              in.UserID,
		TierID:              tier.ID,
		Tier:                *tier,
		Status:              models.SubscriptionStatusActive,
		BillingCycle:        in.BillingCycle,
		PaymentProvider:     in.Provider,
		IsRecurring:         ComputeRecurring(in.BillingCycle, in.PaymentType),
		PeriodStartDate:     start,
		PeriodEndDate:       end,
		SubscriptionEndDate: ComputeTermEnd(now, in.BillingCycle, in.PaymentType),
	}
}

// renewInPlace extends a same-tier subscription. A lapsed quota period is
// refilled as part of the renewal; a running one is left to the scheduler.
func renewInPlace(sub *models.Subscription, in IngestInput, now time.Time) {
	sub.SubscriptionEndDate = ExtendTermEnd(now, sub.SubscriptionEndDate, in.BillingCycle, in.PaymentType)
	sub.IsRecurring = ComputeRecurring(in.BillingCycle, in.PaymentType)
	sub.CancelAtPeriodEnd = false
	sub.CancelReason = ""
	sub.PaymentProvider = in.Provider

	if sub.PeriodEndDate.Before(now) {
		sub.TokensUsed = 0
		sub.TokenLimitOverride = nil
		sub.SetAccessedResources(nil)
		start, end := ComputePeriod(now)
		sub.PeriodStartDate = start
		sub.PeriodEndDate = end
	}
}

func replayResult(stored *models.PaymentEvent) *IngestResult {
	res := &IngestResult{Applied: false, Duplicate: true}
	if stored.ResultSubscriptionID != nil {
		res.SubscriptionID = *stored.ResultSubscriptionID
	}
	if stored.Result == models.PaymentEventResultRejected {
		res.RejectReason = stored.ProcessingError
	}
	return res
}
