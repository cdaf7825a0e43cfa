package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/tomehq/tome/cmd/tomed/container"
	"github.com/tomehq/tome/common/bootstrap"
	"github.com/tomehq/tome/common/intake"
	"github.com/tomehq/tome/common/models"
	"github.com/tomehq/tome/common/repository"
	"github.com/tomehq/tome/common/scm"
)

// JobHandler handles scan job inspection, manual triggers, and cancellation
type JobHandler struct {
	components *bootstrap.Components
	projects   *repository.ProjectRepository
	jobs       *repository.ScanJobRepository
	intake     *intake.Service
	scm        scm.Client
}

// NewJobHandler creates a new job handler
func NewJobHandler(c *container.Container) *JobHandler {
	return &JobHandler{
		components: c.Components,
		projects:   c.ProjectRepo,
		jobs:       c.JobRepo,
		intake:     c.Intake,
		scm:        c.SCM,
	}
}

// ListJobs lists a project's scan jobs, newest first
// GET /api/v1/projects/:id/jobs
func (h *JobHandler) ListJobs(c echo.Context) error {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid project id",
		})
	}

	limit := queryInt(c, "limit", 50)
	jobs, err := h.jobs.ListByProject(c.Request().Context(), projectID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to list jobs",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob retrieves one scan job
// GET /api/v1/jobs/:id
func (h *JobHandler) GetJob(c echo.Context) error {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid job id",
		})
	}

	job, err := h.jobs.GetByID(c.Request().Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "job not found",
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to get job",
		})
	}

	return c.JSON(http.StatusOK, job)
}

// CancelJob cancels a scan job. A queued job terminates immediately; a
// running one is flagged and its worker abandons at the next transition.
// POST /api/v1/jobs/:id/cancel
func (h *JobHandler) CancelJob(c echo.Context) error {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid job id",
		})
	}

	state, err := h.jobs.RequestCancel(c.Request().Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"error": "job is already terminal",
			})
		}
		h.components.Logger.Error("failed to cancel job", "job_id", jobID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to cancel job",
		})
	}

	status := "cancel_requested"
	if state == models.StateQueued {
		status = "cancelled"
	}

	h.components.Logger.Info("job cancellation", "job_id", jobID, "found_state", state)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"status": status,
	})
}

// TriggerScan manually enqueues a scan comparing the target branch head
// against the last completed scan's head. The first scan of a project
// has no baseline; it records one and completes without drafting.
// POST /api/v1/projects/:id/scan
func (h *JobHandler) TriggerScan(c echo.Context) error {
	ctx := c.Request().Context()

	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid project id",
		})
	}

	project, err := h.projects.GetByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "project not found",
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to get project",
		})
	}

	target := scm.Target{
		Owner: project.SCMOwner,
		Repo:  project.SCMRepo,
		Token: scm.ResolveCredential(project.CredentialRef, h.components.Config.SCM.Token),
	}
	head, err := h.scm.GetBranchSHA(ctx, target, project.TargetBranch)
	if err != nil {
		h.components.Logger.Error("failed to resolve branch head", "error", err)
		return c.JSON(http.StatusBadGateway, map[string]interface{}{
			"error": "failed to resolve branch head",
		})
	}

	base, err := h.lastCompletedHead(ctx, projectID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to find baseline",
		})
	}

	trigger := models.TriggerManual
	if base == "" {
		trigger = models.TriggerScan
	}

	job, err := h.intake.Submit(ctx, project, intake.Submission{
		Trigger:    trigger,
		BaseCommit: base,
		HeadCommit: head,
	})
	if err != nil {
		switch {
		case errors.Is(err, intake.ErrDuplicate):
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"error": "a scan for this commit already exists",
			})
		case errors.Is(err, intake.ErrIgnored):
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"error": "project is not active",
			})
		default:
			h.components.Logger.Error("failed to enqueue manual scan", "error", err)
			return c.JSON(http.StatusInternalServerError, map[string]interface{}{
				"error": "failed to enqueue scan",
			})
		}
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"status":  "queued",
		"job_id":  job.JobID,
		"trigger": job.Trigger,
		"base":    base,
		"head":    head,
	})
}

// lastCompletedHead finds the head commit of the most recent completed
// job, which becomes the baseline for a manual scan
func (h *JobHandler) lastCompletedHead(ctx context.Context, projectID uuid.UUID) (string, error) {
	jobs, err := h.jobs.ListByProject(ctx, projectID, 50)
	if err != nil {
		return "", err
	}
	for _, job := range jobs {
		if job.State == models.StateCompleted {
			return job.HeadCommit, nil
		}
	}
	return "", nil
}

func queryInt(c echo.Context, name string, fallback int) int {
	if raw := c.QueryParam(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}
