package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/FelixBraun/StudyPilot/internal/pkg/database"
	"github.com/FelixBraun/StudyPilot/internal/pkg/lifecycle"
)

// HandleAdminRunLifecycle triggers the maintenance passes on demand, outside
// the daily cron. Safe to invoke repeatedly.
func HandleAdminRunLifecycle(c *fiber.Ctx) error {
	sched := lifecycle.NewSchedulerFromDB(database.GetDB())
	report, err := sched.RunAll(context.Background())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lifecycle_run_failed", "report": report})
	}
	return c.JSON(fiber.Map{"ok": true, "report": report})
}
