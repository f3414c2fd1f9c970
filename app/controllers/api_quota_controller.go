package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/FelixBraun/StudyPilot/internal/pkg/cache"
	"github.com/FelixBraun/StudyPilot/internal/pkg/database"
	"github.com/FelixBraun/StudyPilot/internal/pkg/entitlements"
	"github.com/FelixBraun/StudyPilot/internal/pkg/quota"
	"github.com/FelixBraun/StudyPilot/internal/pkg/subscription"
	"github.com/FelixBraun/StudyPilot/internal/pkg/usercontext"
)

const quotaCacheTTL = 30 * time.Second

func quotaCacheKey(userID uint) string {
	return fmt.Sprintf("quota_snapshot:%d", userID)
}

func accessCacheKey(userID uint, resourceID int) string {
	return fmt.Sprintf("resource_access:%d:%d", userID, resourceID)
}

// HandleGetQuota returns the caller's current token budget. Snapshots are
// cached briefly since content surfaces poll this on every page.
func HandleGetQuota(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	key := quotaCacheKey(userCtx.UserID)
	if raw, err := cache.Get(key); err == nil && raw != "" {
		var snapshot quota.RemainingQuota
		if err := json.Unmarshal([]byte(raw), &snapshot); err == nil {
			return c.JSON(fiber.Map{"tier": userCtx.Tier, "quota": snapshot, "cached": true})
		}
	}

	ev := entitlements.NewEvaluatorFromDB(database.GetDB())
	snapshot, err := ev.GetEffectiveQuota(context.Background(), userCtx.UserID)
	if err != nil {
		return subscriptionError(c, err)
	}

	if b, err := json.Marshal(snapshot); err == nil {
		_ = cache.Set(key, string(b), quotaCacheTTL)
	}
	return c.JSON(fiber.Map{"tier": userCtx.Tier, "quota": snapshot})
}

// HandleRecordUsage adds metered token usage to the caller's current period.
func HandleRecordUsage(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var body struct {
		Tokens int64 `json:"tokens"`
	}
	if err := c.BodyParser(&body); err != nil || body.Tokens <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "tokens must be a positive integer"})
	}

	db := database.GetDB()
	sub, err := subscription.NewRepository(db).GetActiveByUserID(userCtx.UserID)
	if err != nil {
		return subscriptionError(c, err)
	}

	remaining, err := quota.NewManager(subscription.NewRepository(db)).RecordUsage(context.Background(), sub.ID, body.Tokens)
	if err != nil {
		return subscriptionError(c, err)
	}

	_ = cache.Delete(quotaCacheKey(userCtx.UserID))
	return c.JSON(fiber.Map{"quota": remaining})
}

// HandleCheckResourceAccess answers whether the caller may open a resource,
// without mutating the recently-accessed set.
func HandleCheckResourceAccess(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	resourceID, err := c.ParamsInt("id")
	if err != nil || resourceID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "invalid resource id"})
	}

	key := accessCacheKey(userCtx.UserID, resourceID)
	if raw, err := cache.Get(key); err == nil && raw != "" {
		var resp fiber.Map
		if err := json.Unmarshal([]byte(raw), &resp); err == nil {
			resp["cached"] = true
			return c.JSON(resp)
		}
	}

	ev := entitlements.NewEvaluatorFromDB(database.GetDB())
	allowed, err := ev.CanAccessResource(context.Background(), userCtx.UserID, uint(resourceID))
	if err != nil && !errors.Is(err, subscription.ErrSelectionRequired) {
		return subscriptionError(c, err)
	}

	resp := fiber.Map{"allowed": allowed}
	if errors.Is(err, subscription.ErrSelectionRequired) {
		resp["reason"] = subscription.ErrSelectionRequired.Code
	}
	if b, err := json.Marshal(resp); err == nil {
		_ = cache.Set(key, string(b), quotaCacheTTL)
	}
	return c.JSON(resp)
}

// HandleOpenResource marks a resource as opened, admitting it into the
// recently-accessed set on capped tiers (evicting the oldest when full).
func HandleOpenResource(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	resourceID, err := c.ParamsInt("id")
	if err != nil || resourceID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "invalid resource id"})
	}

	db := database.GetDB()
	ev := entitlements.NewEvaluatorFromDB(db)
	ctx := context.Background()

	// Scope-restricted tiers never admit out-of-scope content, so the open
	// action re-checks the policy before mutating anything.
	allowed, err := ev.CanAccessResource(ctx, userCtx.UserID, uint(resourceID))
	if err != nil {
		return subscriptionError(c, err)
	}

	repo := subscription.NewRepository(db)
	sub, err := repo.GetActiveByUserID(userCtx.UserID)
	if err != nil {
		return subscriptionError(c, err)
	}

	if !allowed && sub.Tier.ResourceAccessLimit == nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "access_denied", "message": "resource is outside the subscription's scope"})
	}

	if err := quota.NewManager(repo).RecordResourceAccess(ctx, sub.ID, uint(resourceID)); err != nil {
		return subscriptionError(c, err)
	}

	// Opening mutates the recently-accessed set, so cached access answers for
	// this user are stale now.
	_ = cache.Delete(accessCacheKey(userCtx.UserID, resourceID))
	return c.JSON(fiber.Map{"ok": true})
}
