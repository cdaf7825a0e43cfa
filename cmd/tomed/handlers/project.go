package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/tomehq/tome/cmd/tomed/container"
	"github.com/tomehq/tome/common/bootstrap"
	"github.com/tomehq/tome/common/faults"
	"github.com/tomehq/tome/common/models"
	"github.com/tomehq/tome/common/pathfilter"
	"github.com/tomehq/tome/common/repository"
	"github.com/tomehq/tome/common/scm"
)

// ProjectHandler handles project registration and configuration
type ProjectHandler struct {
	components *bootstrap.Components
	projects   *repository.ProjectRepository
	apiKeys    *repository.APIKeyRepository
	scm        scm.Client
	rules      *pathfilter.RuleEvaluator
}

// NewProjectHandler creates a new project handler
func NewProjectHandler(c *container.Container) *ProjectHandler {
	return &ProjectHandler{
		components: c.Components,
		projects:   c.ProjectRepo,
		apiKeys:    c.APIKeyRepo,
		scm:        c.SCM,
		rules:      c.Rules,
	}
}

// CreateProject registers a repository for documentation maintenance.
// POST /api/v1/projects
//
// Repository access is verified with the referenced credential before
// anything is stored, so a bad credential_ref fails loudly here rather
// than on the first scan. The operational API key for the project is
// generated once and only returned in this response.
func (h *ProjectHandler) CreateProject(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Name             string   `json:"name"`
		SCMOwner         string   `json:"scm_owner"`
		SCMRepo          string   `json:"scm_repo"`
		DocsPaths        []string `json:"docs_paths"`
		SourcePaths      []string `json:"source_paths"`
		ClassifyRule     string   `json:"classify_rule"`
		TargetBranch     string   `json:"target_branch"`
		CredentialRef    string   `json:"credential_ref"`
		WebhookSecretRef string   `json:"webhook_secret_ref"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	if req.SCMOwner == "" || req.SCMRepo == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "scm_owner and scm_repo are required",
		})
	}
	if req.Name == "" {
		req.Name = req.SCMOwner + "/" + req.SCMRepo
	}
	if req.TargetBranch == "" {
		req.TargetBranch = "main"
	}
	if len(req.DocsPaths) == 0 {
		req.DocsPaths = []string{"docs/"}
	}

	if req.ClassifyRule != "" {
		if err := h.rules.Validate(req.ClassifyRule); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "invalid classify_rule: " + err.Error(),
			})
		}
	}

	target := scm.Target{
		Owner: req.SCMOwner,
		Repo:  req.SCMRepo,
		Token: scm.ResolveCredential(req.CredentialRef, h.components.Config.SCM.Token),
	}
	if err := h.scm.VerifyAccess(ctx, target); err != nil {
		status := http.StatusBadGateway
		if faults.Is(err, faults.KindAuthFailed) {
			status = http.StatusUnprocessableEntity
		}
		return c.JSON(status, map[string]interface{}{
			"error": "repository access check failed: " + err.Error(),
		})
	}

	project := &models.Project{
		ProjectID:        uuid.New(),
		Name:             req.Name,
		SCMOwner:         req.SCMOwner,
		SCMRepo:          req.SCMRepo,
		DocsPaths:        req.DocsPaths,
		SourcePaths:      req.SourcePaths,
		ClassifyRule:     req.ClassifyRule,
		TargetBranch:     req.TargetBranch,
		CredentialRef:    req.CredentialRef,
		WebhookSecretRef: req.WebhookSecretRef,
		Status:           models.ProjectActive,
	}
	if err := h.projects.Create(ctx, project); err != nil {
		h.components.Logger.Error("failed to create project", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to create project",
		})
	}

	apiKey := newAPIKey()
	if err := h.apiKeys.Create(ctx, apiKey, project.ProjectID, "default"); err != nil {
		h.components.Logger.Error("failed to create api key", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to create api key",
		})
	}

	h.components.Logger.Info("project registered",
		"project_id", project.ProjectID,
		"repo", project.SCMOwner+"/"+project.SCMRepo)

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"project": project,
		"api_key": apiKey,
	})
}

// GetProject retrieves a project by ID
// GET /api/v1/projects/:id
func (h *ProjectHandler) GetProject(c echo.Context) error {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid project id",
		})
	}

	project, err := h.projects.GetByID(c.Request().Context(), projectID)
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

	return c.JSON(http.StatusOK, project)
}

// ListProjects lists all registered projects
// GET /api/v1/projects
func (h *ProjectHandler) ListProjects(c echo.Context) error {
	projects, err := h.projects.List(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to list projects",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"projects": projects,
		"count":    len(projects),
	})
}

// PatchProject reconfigures a project with an RFC 7386 merge patch.
// PATCH /api/v1/projects/:id
//
// Identity fields (project id, repository coordinates) are immutable;
// a patch touching them is rejected. Configuration changes only affect
// jobs created afterwards.
func (h *ProjectHandler) PatchProject(c echo.Context) error {
	ctx := c.Request().Context()

	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid project id",
		})
	}

	patch, err := io.ReadAll(c.Request().Body)
	if err != nil || len(patch) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid merge patch",
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

	original, err := json.Marshal(project)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to encode project",
		})
	}

	merged, err := jsonpatch.MergePatch(original, patch)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "merge patch failed: " + err.Error(),
		})
	}

	var updated models.Project
	if err := json.Unmarshal(merged, &updated); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "merge patch produced an invalid project",
		})
	}

	if updated.ProjectID != project.ProjectID ||
		updated.SCMOwner != project.SCMOwner ||
		updated.SCMRepo != project.SCMRepo {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "project identity fields are immutable",
		})
	}
	if updated.TargetBranch == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "target_branch cannot be empty",
		})
	}
	if updated.ClassifyRule != "" {
		if err := h.rules.Validate(updated.ClassifyRule); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "invalid classify_rule: " + err.Error(),
			})
		}
	}
	switch updated.Status {
	case models.ProjectActive, models.ProjectArchived:
	default:
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid status",
		})
	}

	// Counters and timestamps are server-owned
	updated.TotalGaps = project.TotalGaps
	updated.TotalPRs = project.TotalPRs
	updated.CreatedAt = project.CreatedAt

	if err := h.projects.UpdateConfig(ctx, &updated); err != nil {
		h.components.Logger.Error("failed to update project", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to update project",
		})
	}

	h.components.Logger.Info("project reconfigured", "project_id", projectID)

	return c.JSON(http.StatusOK, &updated)
}

// GetStats returns service-wide aggregate counters
// GET /api/v1/stats
func (h *ProjectHandler) GetStats(c echo.Context) error {
	stats, err := h.projects.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to get stats",
		})
	}

	return c.JSON(http.StatusOK, stats)
}

// newAPIKey generates an operational API key. Only its hash is stored.
func newAPIKey() string {
	return "tome_" + strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", "")
}
