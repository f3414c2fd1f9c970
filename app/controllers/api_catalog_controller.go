package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/FelixBraun/StudyPilot/app/repository"
)

// HandleListTiers returns the sellable pricing catalog in display order.
func HandleListTiers(c *fiber.Ctx) error {
	tiers, err := repository.GetGlobalFactory().GetTierRepository().GetActive()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load tiers"})
	}
	return c.JSON(fiber.Map{"tiers": tiers})
}

// HandleListResources returns a page of published learning resources.
func HandleListResources(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	repo := repository.GetGlobalFactory().GetResourceRepository()
	resources, err := repo.GetActive(offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load resources"})
	}
	return c.JSON(fiber.Map{"resources": resources, "offset": offset, "limit": limit})
}
