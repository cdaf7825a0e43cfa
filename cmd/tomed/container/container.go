package container

import (
	"github.com/tomehq/tome/common/bootstrap"
	"github.com/tomehq/tome/common/intake"
	"github.com/tomehq/tome/common/pathfilter"
	"github.com/tomehq/tome/common/repository"
	"github.com/tomehq/tome/common/scm"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	// Repositories
	ProjectRepo  *repository.ProjectRepository
	JobRepo      *repository.ScanJobRepository
	GapRepo      *repository.GapRepository
	PatchRepo    *repository.DraftPatchRepository
	PRRepo       *repository.PRRecordRepository
	ActivityRepo *repository.ActivityRepository
	APIKeyRepo   *repository.APIKeyRepository

	// Services
	Intake *intake.Service
	SCM    scm.Client
	Rules  *pathfilter.RuleEvaluator
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	projectRepo := repository.NewProjectRepository(components.DB)
	jobRepo := repository.NewScanJobRepository(components.DB)
	gapRepo := repository.NewGapRepository(components.DB)
	patchRepo := repository.NewDraftPatchRepository(components.DB)
	prRepo := repository.NewPRRecordRepository(components.DB)
	activityRepo := repository.NewActivityRepository(components.DB)
	apiKeyRepo := repository.NewAPIKeyRepository(components.DB)

	intakeService := intake.NewService(&intake.ServiceOpts{
		Projects: projectRepo,
		Jobs:     jobRepo,
		Activity: activityRepo,
		Dedup:    components.Redis,
		Waker:    components.Redis,
		Logger:   components.Logger,
	})

	return &Container{
		Components:   components,
		ProjectRepo:  projectRepo,
		JobRepo:      jobRepo,
		GapRepo:      gapRepo,
		PatchRepo:    patchRepo,
		PRRepo:       prRepo,
		ActivityRepo: activityRepo,
		APIKeyRepo:   apiKeyRepo,
		Intake:       intakeService,
		SCM:          scm.NewGitHubClient(components.Config.SCM.BaseURL, components.Logger),
		Rules:        pathfilter.NewRuleEvaluator(),
	}, nil
}
