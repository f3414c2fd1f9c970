package billing

import (
	"testing"
	"time"

	"github.com/FelixBraun/StudyPilot/app/models"
)

func int64Ptr(v int64) *int64 { return &v }

func TestComputePeriod(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	start, end := ComputePeriod(now)
	if !start.Equal(now) {
		t.Fatalf("period start = %v, want %v", start, now)
	}
	if want := now.AddDate(0, 1, 0); !end.Equal(want) {
		t.Fatalf("period end = %v, want %v", end, want)
	}
}

func TestComputeTermEnd(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		cycle       string
		paymentType string
		want        *time.Time
	}{
		{cycle: models.BillingCycleYearly, paymentType: models.PaymentTypeRecurring, want: timePtr(now.AddDate(1, 0, 0))},
		{cycle: models.BillingCycleYearly, paymentType: models.PaymentTypeOneTime, want: timePtr(now.AddDate(1, 0, 0))},
		{cycle: models.BillingCycleMonthly, paymentType: models.PaymentTypeOneTime, want: timePtr(now.AddDate(0, 1, 0))},
		{cycle: models.BillingCycleMonthly, paymentType: models.PaymentTypeRecurring, want: nil},
	}

	for _, tt := range tests {
		got := ComputeTermEnd(now, tt.cycle, tt.paymentType)
		if (got == nil) != (tt.want == nil) {
			t.Fatalf("ComputeTermEnd(%s, %s) = %v, want %v", tt.cycle, tt.paymentType, got, tt.want)
		}
		if got != nil && !got.Equal(*tt.want) {
			t.Fatalf("ComputeTermEnd(%s, %s) = %v, want %v", tt.cycle, tt.paymentType, got, tt.want)
		}
	}
}

func TestComputeRecurring(t *testing.T) {
	tests := []struct {
		cycle       string
		paymentType string
		want        bool
	}{
		{cycle: models.BillingCycleYearly, paymentType: models.PaymentTypeOneTime, want: true},
		{cycle: models.BillingCycleYearly, paymentType: models.PaymentTypeRecurring, want: true},
		{cycle: models.BillingCycleMonthly, paymentType: models.PaymentTypeRecurring, want: true},
		{cycle: models.BillingCycleMonthly, paymentType: models.PaymentTypeOneTime, want: false},
	}

	for _, tt := range tests {
		if got := ComputeRecurring(tt.cycle, tt.paymentType); got != tt.want {
			t.Fatalf("ComputeRecurring(%s, %s) = %v, want %v", tt.cycle, tt.paymentType, got, tt.want)
		}
	}
}

func TestCarryoverLimitAdditive(t *testing.T) {
	got := CarryoverLimit(int64Ptr(497_000), int64Ptr(5_000_000))
	if got == nil || *got != 5_497_000 {
		t.Fatalf("CarryoverLimit = %v, want 5497000", got)
	}
}

func TestCarryoverLimitUnlimitedAbsorbs(t *testing.T) {
	if got := CarryoverLimit(nil, int64Ptr(100)); got != nil {
		t.Fatalf("unlimited remaining should stay unlimited, got %v", *got)
	}
	if got := CarryoverLimit(int64Ptr(100), nil); got != nil {
		t.Fatalf("unlimited new tier should stay unlimited, got %v", *got)
	}
}

func TestExtendTermEnd(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	// Lapsed term restarts from now.
	lapsed := now.AddDate(0, -2, 0)
	got := ExtendTermEnd(now, &lapsed, models.BillingCycleYearly, models.PaymentTypeRecurring)
	if got == nil || !got.Equal(now.AddDate(1, 0, 0)) {
		t.Fatalf("lapsed term: got %v", got)
	}

	// Running term extends from its end so prepaid time is kept.
	running := now.AddDate(0, 3, 0)
	got = ExtendTermEnd(now, &running, models.BillingCycleYearly, models.PaymentTypeRecurring)
	if got == nil || !got.Equal(running.AddDate(1, 0, 0)) {
		t.Fatalf("running term: got %v", got)
	}

	// Auto-renewing monthly keeps no fixed term.
	if got = ExtendTermEnd(now, &running, models.BillingCycleMonthly, models.PaymentTypeRecurring); got != nil {
		t.Fatalf("recurring monthly should have nil term, got %v", got)
	}
}

func timePtr(t time.Time) *time.Time { return &t }
