package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tomehq/tome/cmd/tomed/container"
	"github.com/tomehq/tome/common/bootstrap"
	"github.com/tomehq/tome/common/faults"
	"github.com/tomehq/tome/common/intake"
	"github.com/tomehq/tome/common/scm"
)

// WebhookHandler handles provider push notifications
type WebhookHandler struct {
	components *bootstrap.Components
	intake     *intake.Service
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(c *container.Container) *WebhookHandler {
	return &WebhookHandler{
		components: c.Components,
		intake:     c.Intake,
	}
}

// githubPushPayload is the slice of the GitHub push event we consume
type githubPushPayload struct {
	Ref     string `json:"ref"`
	Before  string `json:"before"`
	After   string `json:"after"`
	Deleted bool   `json:"deleted"`
	Commits []struct {
		ID string `json:"id"`
	} `json:"commits"`
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
			Name  string `json:"name"`
		} `json:"owner"`
	} `json:"repository"`
}

// HandleGitHubPush receives a push event, verifies its signature against
// the project's shared secret, and enqueues a scan job.
// POST /api/v1/webhooks/github
//
// Responses are chosen for provider retry behavior: signature failures
// get 401, unknown repositories get 200 so GitHub does not hammer a
// misconfigured hook, duplicates and ignored refs get 200, and a fresh
// enqueue gets 202 immediately; all pipeline work is asynchronous.
func (h *WebhookHandler) HandleGitHubPush(c echo.Context) error {
	ctx := c.Request().Context()

	// Signature verification needs the raw bytes, so read before binding
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "unreadable body",
		})
	}

	if event := c.Request().Header.Get("X-GitHub-Event"); event != "" && event != "push" {
		return c.JSON(http.StatusOK, map[string]interface{}{"status": "ignored", "event": event})
	}

	var payload githubPushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid payload",
		})
	}

	owner := payload.Repository.Owner.Login
	if owner == "" {
		owner = payload.Repository.Owner.Name
	}

	project, err := h.intake.ResolveProject(ctx, owner, payload.Repository.Name)
	if err != nil {
		if faults.Is(err, faults.KindUnknownProject) {
			h.components.Logger.Warn("push for unregistered repository",
				"owner", owner, "repo", payload.Repository.Name)
			return c.JSON(http.StatusOK, map[string]interface{}{"status": "unknown_repository"})
		}
		h.components.Logger.Error("project resolution failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "internal error",
		})
	}

	secret := scm.ResolveCredential(project.WebhookSecretRef, h.components.Config.SCM.WebhookSecret)
	if !scm.VerifySignature(secret, body, c.Request().Header.Get("X-Hub-Signature-256")) {
		h.components.Logger.Warn("webhook signature rejected", "project_id", project.ProjectID)
		return c.JSON(http.StatusUnauthorized, map[string]interface{}{
			"error": "signature verification failed",
		})
	}

	event := &intake.PushEvent{
		Owner:   owner,
		Repo:    payload.Repository.Name,
		Ref:     payload.Ref,
		Before:  payload.Before,
		After:   payload.After,
		Deleted: payload.Deleted,
	}
	for _, commit := range payload.Commits {
		event.Commits = append(event.Commits, commit.ID)
	}

	job, err := h.intake.SubmitPush(ctx, project, event)
	if err != nil {
		switch {
		case errors.Is(err, intake.ErrIgnored):
			return c.JSON(http.StatusOK, map[string]interface{}{"status": "ignored"})
		case errors.Is(err, intake.ErrDuplicate):
			return c.JSON(http.StatusOK, map[string]interface{}{"status": "duplicate"})
		default:
			h.components.Logger.Error("failed to enqueue scan job", "error", err)
			return c.JSON(http.StatusInternalServerError, map[string]interface{}{
				"error": "failed to enqueue",
			})
		}
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"status": "queued",
		"job_id": job.JobID,
	})
}
