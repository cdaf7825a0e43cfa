package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/tomehq/tome/cmd/tomed/container"
	"github.com/tomehq/tome/cmd/tomed/handlers"
	"github.com/tomehq/tome/cmd/tomed/middleware"
)

// RegisterJobRoutes registers scan trigger, inspection, and cancel routes
func RegisterJobRoutes(e *echo.Echo, c *container.Container) {
	jobHandler := handlers.NewJobHandler(c)
	activityHandler := handlers.NewActivityHandler(c)

	auth := middleware.RequireAPIKey(c.APIKeyRepo, c.Components.Config.Service.DevAPIKey)

	e.POST("/api/v1/projects/:id/scan", jobHandler.TriggerScan, auth)
	e.GET("/api/v1/projects/:id/jobs", jobHandler.ListJobs, auth)

	jobs := e.Group("/api/v1/jobs", auth)
	{
		jobs.GET("/:id", jobHandler.GetJob)
		jobs.POST("/:id/cancel", jobHandler.CancelJob)
		jobs.GET("/:id/gaps", activityHandler.ListJobGaps)
		jobs.GET("/:id/patches", activityHandler.ListJobPatches)
		jobs.GET("/:id/pr", activityHandler.GetJobPR)
	}
}
