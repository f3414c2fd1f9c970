package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/FelixBraun/StudyPilot/app/models"
	"github.com/FelixBraun/StudyPilot/internal/pkg/coupon"
	"github.com/FelixBraun/StudyPilot/internal/pkg/database"
	"github.com/FelixBraun/StudyPilot/internal/pkg/subscription"
)

type createCouponRequest struct {
	Code               string    `json:"code"`
	DiscountPercentage int       `json:"discount_percentage"`
	ValidFrom          time.Time `json:"valid_from"`
	ValidUntil         time.Time `json:"valid_until"`
	MaxUses            *int      `json:"max_uses"`
	ApplicableTierIDs  []uint    `json:"applicable_tier_ids"`
	ApplicableCycles   []string  `json:"applicable_cycles"`
}

// HandleAdminCreateCoupon creates a discount code.
func HandleAdminCreateCoupon(c *fiber.Ctx) error {
	var body createCouponRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "invalid JSON body"})
	}

	code := models.CouponCode{
		Code:               body.Code,
		DiscountPercentage: body.DiscountPercentage,
		ValidFrom:          body.ValidFrom,
		ValidUntil:         body.ValidUntil,
		MaxUses:            body.MaxUses,
		IsActive:           true,
	}
	code.SetTierIDs(body.ApplicableTierIDs)
	code.SetCycles(body.ApplicableCycles)

	engine := coupon.NewEngineFromDB(database.GetDB())
	if err := engine.CreateCoupon(context.Background(), &code); err != nil {
		var reasonErr *subscription.ReasonError
		if errors.As(err, &reasonErr) {
			return subscriptionError(c, err)
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_coupon", "message": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(code)
}

// HandleAdminListCoupons returns a page of discount codes.
func HandleAdminListCoupons(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)

	engine := coupon.NewEngineFromDB(database.GetDB())
	coupons, err := engine.ListCoupons(context.Background(), offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(fiber.Map{"coupons": coupons, "offset": offset, "limit": limit})
}
