package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/salesmgr/license-server/internal/config"
	"github.com/salesmgr/license-server/internal/handlers"
	"github.com/salesmgr/license-server/internal/middleware"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	healthHandler *handlers.HealthHandler,
	codeHandler *handlers.CodeHandler,
) {
	// Public endpoints kept at the root for compatibility with existing
	// purchase-flow and client integrations.
	app.Get("/health", healthHandler.Check)
	app.Post("/generate_code", codeHandler.GenerateCode)
	app.Post("/redeem", codeHandler.Redeem)

	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	// Operator auth — stricter rate limit: 10 req/min per IP
	auth := api.Group("/auth")
	auth.Use(limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Post("/refresh", authHandler.Refresh)
	auth.Post("/logout", middleware.JWTProtected(cfg), authHandler.Logout)

	// Operator console (JWT required)
	codes := api.Group("/codes", middleware.JWTProtected(cfg))
	codes.Post("/", codeHandler.CreateManual)
	codes.Get("/", codeHandler.ListCodes)
	codes.Get("/stream", codeHandler.StreamCodes)
}
