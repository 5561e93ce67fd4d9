package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gracechurch/publisher/internal/config"
	"github.com/gracechurch/publisher/internal/middleware"
)

// NewApp creates the Fiber app with the shared error handler. Bodies carry
// base64 images, so the limit follows the asset size limit.
func NewApp(cfg *config.Config) *fiber.App {
	bodyLimit := 4 * 1024 * 1024
	if limit := int(cfg.MaxAssetSize) * 8; limit > bodyLimit {
		bodyLimit = limit
	}
	return fiber.New(fiber.Config{
		AppName:      "publisher",
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.HTTPTimeout,
		BodyLimit:    bodyLimit,
		ErrorHandler: middleware.ErrorHandler,
	})
}

// SetupRoutes configures all the routes for the application
func SetupRoutes(app *fiber.App, handlers *Handlers, cfg *config.Config) {
	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.RequestContext())
	app.Use(middleware.RequestLogger())

	// API group with versioning
	api := app.Group("/api/v1")

	api.Get("/health", handlers.HealthCheck)

	articles := api.Group("/articles", middleware.NewAuth(middleware.AuthConfig{
		Validator: middleware.KeyValidator(cfg.APIKey),
	}))
	{
		articles.Post("", middleware.ValidateRequest[ArticleRequest](), handlers.CreateArticle)
		articles.Get("/:id", handlers.GetArticle)
		articles.Put("/:id", middleware.ValidateRequest[ArticleRequest](), handlers.UpdateArticle)
	}

	admin := api.Group("/admin", middleware.AdminOnly(cfg.AdminAPIKey))
	{
		admin.Post("/orphans/sweep", handlers.SweepOrphans)
	}

	// 404 Handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Endpoint not found",
		})
	})
}
