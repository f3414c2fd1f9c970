package billing

import (
	"time"

	"github.com/FelixBraun/StudyPilot/app/models"
)

// ComputePeriod returns the usage-quota window opened by a payment. The
// window is always one month regardless of billing cycle; yearly terms
// contain twelve of them.
func ComputePeriod(now time.Time) (start, end time.Time) {
	return now, now.AddDate(0, 1, 0)
}

// ComputeTermEnd returns the contractual term end opened by a payment. A nil
// result means no fixed term: the subscription renews until cancelled.
func ComputeTermEnd(now time.Time, billingCycle, paymentType string) *time.Time {
	switch {
	case billingCycle == models.BillingCycleYearly:
		end := now.AddDate(1, 0, 0)
		return &end
	case paymentType == models.PaymentTypeOneTime:
		end := now.AddDate(0, 1, 0)
		return &end
	default:
		return nil
	}
}

// ComputeRecurring decides whether the monthly quota refill keeps running.
// Yearly terms always refill monthly through the prepaid term, even after
// cancellation; a one-time yearly payment therefore gets is_recurring=true
// but never auto-renews contractually, the term-expiration pass retires it.
func ComputeRecurring(billingCycle, paymentType string) bool {
	if billingCycle == models.BillingCycleYearly {
		return true
	}
	return paymentType == models.PaymentTypeRecurring
}

// CarryoverLimit computes the token budget after an upgrade using the
// additive-remaining model: the new tier's limit plus whatever the user had
// left. Unlimited absorbs: if either operand is unlimited, so is the result.
func CarryoverLimit(remainingBefore, newTierLimit *int64) *int64 {
	if remainingBefore == nil || newTierLimit == nil {
		return nil
	}
	sum := *remainingBefore + *newTierLimit
	return &sum
}

// ExtendTermEnd advances a term on renewal. Lapsed terms restart from now;
// running terms extend from their current end so prepaid time is not lost.
func ExtendTermEnd(now time.Time, currentEnd *time.Time, billingCycle, paymentType string) *time.Time {
	fresh := ComputeTermEnd(now, billingCycle, paymentType)
	if fresh == nil {
		return nil
	}
	if currentEnd == nil || currentEnd.Before(now) {
		return fresh
	}
	var extended time.Time
	if billingCycle == models.BillingCycleYearly {
		extended = currentEnd.AddDate(1, 0, 0)
	} else {
		extended = currentEnd.AddDate(0, 1, 0)
	}
	return &extended
}
