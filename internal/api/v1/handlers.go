package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/FelixBraun/StudyPilot/app/controllers"
	"github.com/FelixBraun/StudyPilot/internal/pkg/middleware"
)

// APIServer holds the authenticated API v1 surface
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
}

// GetUserProfile returns account information for the authenticated user (API key).
// Security is enforced via API key middleware attached in the router.
func (s *APIServer) GetUserProfile(c *fiber.Ctx) error {
	return controllers.HandleGetUserAccount(c)
}

// RegisterHandlers wires the v1 routes onto the given group. Everything
// except ping and the public catalog requires an API key.
func RegisterHandlers(router fiber.Router, s *APIServer) {
	router.Get("/ping", s.GetPing)
	router.Get("/tiers", controllers.HandleListTiers)

	authed := router.Group("", middleware.APIKeyAuthMiddleware())

	authed.Get("/user/profile", s.GetUserProfile)
	authed.Post("/user/api-key/rotate", controllers.HandleRotateAPIKey)
	authed.Get("/user/payments", controllers.HandleListPaymentEvents)

	authed.Get("/subscription", controllers.HandleGetSubscription)
	authed.Post("/subscription/cancel", controllers.HandleCancelSubscription)
	authed.Post("/subscription/reactivate", controllers.HandleReactivateSubscription)
	authed.Post("/subscription/scopes", controllers.HandleSelectScopes)

	authed.Get("/quota", controllers.HandleGetQuota)
	authed.Post("/usage", controllers.HandleRecordUsage)

	authed.Get("/resources", controllers.HandleListResources)
	authed.Get("/resources/:id/access", controllers.HandleCheckResourceAccess)
	authed.Post("/resources/:id/open", controllers.HandleOpenResource)

	admin := authed.Group("/admin", middleware.RequireAdmin)
	admin.Post("/coupons", controllers.HandleAdminCreateCoupon)
	admin.Get("/coupons", controllers.HandleAdminListCoupons)
	admin.Post("/lifecycle/run", controllers.HandleAdminRunLifecycle)
}
