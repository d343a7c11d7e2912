package server

import (
	"context"
	"time"

	"github.com/inboxpilot/provisioner/internal/auth"
	"github.com/inboxpilot/provisioner/internal/controllers"
	"github.com/inboxpilot/provisioner/internal/middlewares"
	"github.com/inboxpilot/provisioner/internal/version"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
)

const serviceName = "inboxpilot-provisioner"

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type HTTPServerDependencies struct {
	FrontendOrigin         string
	ProvisioningController *controllers.ProvisioningController
	IdentityVerifier       auth.IdentityVerifier
	// HealthChecks are optional dependency probes reported by /health.
	HealthChecks map[string]HealthChecker
}

func NewHTTPServer(ctx context.Context, deps HTTPServerDependencies) *fiber.App {
	router := fiber.New(fiber.Config{
		AppName: serviceName,
	})

	router.Use(recover.New())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{deps.FrontendOrigin},
		AllowHeaders:     []string{fiber.HeaderAuthorization, fiber.HeaderContentType},
		AllowCredentials: true,
	}))
	router.Use(logger.New())

	router.Get("/health", healthHandler(deps.HealthChecks))

	router.Get("/templates", deps.ProvisioningController.ListTemplates)
	router.Get("/oauth/google/callback", deps.ProvisioningController.Callback)

	workflows := router.Group("/workflows")
	workflows.Use(middlewares.IdentityMiddleware(deps.IdentityVerifier))

	workflows.Get("/", deps.ProvisioningController.ListWorkflows)
	workflows.Post("/install", deps.ProvisioningController.Install)
	workflows.Post("/:templateId/install", deps.ProvisioningController.InstallFromPath)

	return router
}

func healthHandler(checks map[string]HealthChecker) fiber.Handler {
	return func(c fiber.Ctx) error {
		status := "healthy"
		code := fiber.StatusOK
		results := make(map[string]string, len(checks))

		for name, check := range checks {
			ctx, cancel := context.WithTimeout(c.RequestCtx(), 2*time.Second)
			err := check.Ping(ctx)
			cancel()

			if err != nil {
				results[name] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		body := fiber.Map{
			"status":    status,
			"service":   serviceName,
			"version":   version.GetVersion(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if len(results) > 0 {
			body["dependencies"] = results
		}

		return c.Status(code).JSON(body)
	}
}
