package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/trekmates/chat-api/internal/config"
	"github.com/trekmates/chat-api/internal/handler"
	"github.com/trekmates/chat-api/internal/middleware"
	"github.com/trekmates/chat-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler         *handler.ChatHandler
	AttachmentHandler   *handler.AttachmentHandler
	NotificationHandler *handler.NotificationHandler
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.ChatHandler != nil {
		chat := api.Group("/chat", jwtMiddleware)
		sendLimiter := middleware.RateLimit("chat_send", cfg.SendRateLimit, cfg.SendRateWindow)
		deps.ChatHandler.Register(chat, sendLimiter)

		if deps.AttachmentHandler != nil {
			attachments := chat.Group("/attachments")
			deps.AttachmentHandler.Register(attachments)
		}
	}

	if deps.NotificationHandler != nil {
		notifications := api.Group("/notifications", jwtMiddleware)
		deps.NotificationHandler.Register(notifications)
	}
}
