package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"

	"github.com/FelixBraun/StudyPilot/app/repository"
	"github.com/FelixBraun/StudyPilot/internal/pkg/cache"
	"github.com/FelixBraun/StudyPilot/internal/pkg/database"
	"github.com/FelixBraun/StudyPilot/internal/pkg/env"
	"github.com/FelixBraun/StudyPilot/internal/pkg/lifecycle"
	"github.com/FelixBraun/StudyPilot/internal/pkg/router"
)

func main() {
	app := NewApplication()

	startLifecycleScheduler()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	database.SeedTiers()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName: "StudyPilot",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}

// startLifecycleScheduler runs the daily subscription maintenance passes
// (period resets, expiries, scope clearing) shortly after midnight UTC.
func startLifecycleScheduler() {
	c := cron.New()

	schedule := env.GetEnv("LIFECYCLE_SCHEDULE", "5 0 * * *")
	_, err := c.AddFunc(schedule, func() {
		ctx := context.Background()
		scheduler := lifecycle.NewSchedulerFromDB(database.GetDB())
		if _, err := scheduler.RunAll(ctx); err != nil {
			log.Printf("Lifecycle run failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule lifecycle job: %v", err)
	}

	c.Start()
	log.Printf("Lifecycle scheduler started (schedule: %s)", schedule)
}
