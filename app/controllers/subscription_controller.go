package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/FelixBraun/StudyPilot/app/models"
	"github.com/FelixBraun/StudyPilot/internal/pkg/database"
	"github.com/FelixBraun/StudyPilot/internal/pkg/quota"
	"github.com/FelixBraun/StudyPilot/internal/pkg/subscription"
	"github.com/FelixBraun/StudyPilot/internal/pkg/usercontext"
)

func subscriptionStore() *subscription.Store {
	return subscription.NewStore(subscription.NewRepository(database.GetDB()))
}

// subscriptionResponse is the self-service view of a subscription row.
func subscriptionResponse(sub *models.Subscription) fiber.Map {
	resp := fiber.Map{
		"id":                   sub.PublicID,
		"tier":                 sub.Tier.Name,
		"status":               sub.Status,
		"billing_cycle":        sub.BillingCycle,
		"is_recurring":         sub.IsRecurring,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
		"period_start_date":    sub.PeriodStartDate.UTC().Format(time.RFC3339),
		"period_end_date":      sub.PeriodEndDate.UTC().Format(time.RFC3339),
		"quota":                quota.Snapshot(sub),
	}
	if sub.SubscriptionEndDate != nil {
		resp["subscription_end_date"] = sub.SubscriptionEndDate.UTC().Format(time.RFC3339)
	}
	if scopes := sub.SelectedScopes(); scopes != nil {
		resp["selected_scope_ids"] = scopes
	}
	return resp
}

// HandleGetSubscription returns the caller's active subscription.
func HandleGetSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	sub, err := subscriptionStore().Repo().GetActiveByUserID(userCtx.UserID)
	if err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(subscriptionResponse(sub))
}

// HandleCancelSubscription flags the caller's paid subscription for
// cancellation at its governing end date.
func HandleCancelSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.BodyParser(&body)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := subscriptionStore().CancelAtPeriodEnd(ctx, userCtx.UserID, body.Reason)
	if err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(subscriptionResponse(sub))
}

// HandleReactivateSubscription withdraws a pending cancellation.
func HandleReactivateSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := subscriptionStore().Reactivate(ctx, userCtx.UserID)
	if err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(subscriptionResponse(sub))
}

// HandleSelectScopes records the one-time grade/subject selection on tiers
// that require it.
func HandleSelectScopes(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var body struct {
		ScopeIDs []uint `json:"scope_ids"`
	}
	if err := c.BodyParser(&body); err != nil || len(body.ScopeIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "scope_ids must be a non-empty array"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := subscriptionStore().SelectScopes(ctx, userCtx.UserID, body.ScopeIDs)
	if err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(subscriptionResponse(sub))
}

// subscriptionError maps domain errors onto HTTP statuses.
func subscriptionError(c *fiber.Ctx, err error) error {
	var reasonErr *subscription.ReasonError
	if !errors.As(err, &reasonErr) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	status := fiber.StatusUnprocessableEntity
	switch {
	case errors.Is(err, subscription.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, subscription.ErrConflict):
		status = fiber.StatusConflict
	case errors.Is(err, subscription.ErrQuotaExceeded), errors.Is(err, subscription.ErrResourceLimitReached):
		status = fiber.StatusForbidden
	}
	return c.Status(status).JSON(fiber.Map{"error": reasonErr.Code, "message": reasonErr.Message})
}
