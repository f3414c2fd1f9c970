package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/FelixBraun/StudyPilot/app/models"
	"github.com/FelixBraun/StudyPilot/app/repository"
	"github.com/FelixBraun/StudyPilot/internal/pkg/billing"
	"github.com/FelixBraun/StudyPilot/internal/pkg/database"
	"github.com/FelixBraun/StudyPilot/internal/pkg/subscription"
	"github.com/FelixBraun/StudyPilot/internal/pkg/usercontext"
)

type registerUserRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	ReferralCode string `json:"referral_code"`
}

// HandleRegisterUser creates an account, provisions the free-tier
// subscription and issues the API key in one go. Every user holds exactly
// one active subscription from signup onwards.
func HandleRegisterUser(c *fiber.Ctx) error {
	var body registerUserRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "invalid JSON body"})
	}

	user, err := models.CreateUser(body.Name, body.Email, body.Password)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_user", "message": err.Error()})
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	if referral := strings.TrimSpace(body.ReferralCode); referral != "" {
		if referrer, err := repo.GetByEmail(referral); err == nil && referrer != nil {
			user.ReferredByUserID = &referrer.ID
		}
	}

	apiKey, err := user.IssueAPIKey()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to issue API key"})
	}

	if err := repo.Create(user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "email_taken", "message": "email is already registered"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create user"})
	}

	store := subscription.NewStore(subscription.NewRepository(database.GetDB()))
	sub, err := store.ProvisionFree(context.Background(), user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to provision subscription"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":      user.ID,
		"name":    user.Name,
		"email":   user.Email,
		"api_key": apiKey,
		"subscription": fiber.Map{
			"id":     sub.PublicID,
			"tier":   models.TierFree,
			"status": sub.Status,
		},
	})
}

// HandleGetUserAccount returns account information for the authenticated user.
func HandleGetUserAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	repo := repository.GetGlobalFactory().GetUserRepository()
	account, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	response := fiber.Map{
		"id":                   account.ID,
		"username":             account.Name,
		"email":                account.Email,
		"status":               account.Status,
		"tier":                 userCtx.Tier,
		"is_admin":             account.Role == models.ROLE_ADMIN,
		"referral_points":      account.ReferralPoints,
		"created_at":           account.CreatedAt.UTC().Format(time.RFC3339),
		"last_login_at":        formatTimePtr(account.LastLoginAt),
		"api_key_last_used_at": formatTimePtr(account.APIKeyLastUsedAt),
	}

	if sub, err := subscription.NewRepository(database.GetDB()).GetActiveByUserID(userCtx.UserID); err == nil {
		response["subscription"] = subscriptionResponse(sub)
	}

	return c.JSON(response)
}

// HandleRotateAPIKey revokes the current API key and issues a new one.
func HandleRotateAPIKey(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	repo := repository.GetGlobalFactory().GetUserRepository()
	account, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	apiKey, err := account.IssueAPIKey()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to issue API key"})
	}
	if err := repo.Update(account); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to store API key"})
	}

	return c.JSON(fiber.Map{"api_key": apiKey})
}

// HandleListPaymentEvents returns the caller's payment audit trail.
func HandleListPaymentEvents(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	events, err := billing.NewRepository(database.GetDB()).ListEventsByUser(userCtx.UserID, offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load payment events"})
	}

	items := make([]fiber.Map, 0, len(events))
	for _, ev := range events {
		items = append(items, fiber.Map{
			"provider":          ev.Provider,
			"external_event_id": ev.ExternalEventID,
			"billing_cycle":     ev.BillingCycle,
			"payment_type":      ev.PaymentType,
			"amount_cents":      ev.AmountCents,
			"currency":          ev.Currency,
			"result":            ev.Result,
			"processed_at":      formatTimePtr(ev.ProcessedAt),
			"created_at":        ev.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{"events": items, "offset": offset, "limit": limit})
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
