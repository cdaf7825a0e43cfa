package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/tomehq/tome/cmd/tomed/container"
	"github.com/tomehq/tome/cmd/tomed/handlers"
	"github.com/tomehq/tome/cmd/tomed/middleware"
)

// RegisterProjectRoutes registers project registration, configuration,
// and review routes behind API-key auth
func RegisterProjectRoutes(e *echo.Echo, c *container.Container) {
	projectHandler := handlers.NewProjectHandler(c)
	activityHandler := handlers.NewActivityHandler(c)

	auth := middleware.RequireAPIKey(c.APIKeyRepo, c.Components.Config.Service.DevAPIKey)

	projects := e.Group("/api/v1/projects", auth)
	{
		projects.POST("", projectHandler.CreateProject)
		projects.GET("", projectHandler.ListProjects)
		projects.GET("/:id", projectHandler.GetProject)
		projects.PATCH("/:id", projectHandler.PatchProject)
		projects.GET("/:id/activity", activityHandler.ListActivity)
		projects.GET("/:id/gaps", activityHandler.ListProjectGaps)
	}

	e.GET("/api/v1/stats", projectHandler.GetStats, auth)
}
