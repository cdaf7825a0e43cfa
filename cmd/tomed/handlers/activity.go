package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/tomehq/tome/cmd/tomed/container"
	"github.com/tomehq/tome/common/bootstrap"
	"github.com/tomehq/tome/common/repository"
)

// ActivityHandler handles the read-only review surface: activity
// timelines, detected gaps, drafted patches, and PR records.
type ActivityHandler struct {
	components *bootstrap.Components
	activity   *repository.ActivityRepository
	gaps       *repository.GapRepository
	patches    *repository.DraftPatchRepository
	prs        *repository.PRRecordRepository
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(c *container.Container) *ActivityHandler {
	return &ActivityHandler{
		components: c.Components,
		activity:   c.ActivityRepo,
		gaps:       c.GapRepo,
		patches:    c.PatchRepo,
		prs:        c.PRRepo,
	}
}

// ListActivity returns a project's activity timeline, newest first
// GET /api/v1/projects/:id/activity
func (h *ActivityHandler) ListActivity(c echo.Context) error {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid project id",
		})
	}

	limit := queryInt(c, "limit", 100)
	records, err := h.activity.ListByProject(c.Request().Context(), projectID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to list activity",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"activity": records,
		"count":    len(records),
	})
}

// ListProjectGaps returns gaps across all of a project's jobs
// GET /api/v1/projects/:id/gaps
func (h *ActivityHandler) ListProjectGaps(c echo.Context) error {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid project id",
		})
	}

	limit := queryInt(c, "limit", 100)
	gaps, err := h.gaps.ListByProject(c.Request().Context(), projectID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to list gaps",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"gaps":  gaps,
		"count": len(gaps),
	})
}

// ListJobGaps returns the gaps one scan job detected
// GET /api/v1/jobs/:id/gaps
func (h *ActivityHandler) ListJobGaps(c echo.Context) error {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid job id",
		})
	}

	gaps, err := h.gaps.ListByJob(c.Request().Context(), jobID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to list gaps",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"gaps":  gaps,
		"count": len(gaps),
	})
}

// ListJobPatches returns the patches one scan job drafted
// GET /api/v1/jobs/:id/patches
func (h *ActivityHandler) ListJobPatches(c echo.Context) error {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid job id",
		})
	}

	patches, err := h.patches.ListByJob(c.Request().Context(), jobID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to list patches",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"patches": patches,
		"count":   len(patches),
	})
}

// GetJobPR returns the pull request record for a scan job
// GET /api/v1/jobs/:id/pr
func (h *ActivityHandler) GetJobPR(c echo.Context) error {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid job id",
		})
	}

	rec, err := h.prs.GetByJob(c.Request().Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "no pull request for this job",
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to get pull request record",
		})
	}

	return c.JSON(http.StatusOK, rec)
}
