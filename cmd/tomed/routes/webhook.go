package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/tomehq/tome/cmd/tomed/container"
	"github.com/tomehq/tome/cmd/tomed/handlers"
)

// RegisterWebhookRoutes registers provider webhook intake. No API-key
// auth here: deliveries authenticate with the HMAC signature.
func RegisterWebhookRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWebhookHandler(c)

	e.POST("/api/v1/webhooks/github", h.HandleGitHubPush)
}
