package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/tomehq/tome/cmd/scan-runner/pipeline"
	"github.com/tomehq/tome/common/backend"
	"github.com/tomehq/tome/common/bootstrap"
	"github.com/tomehq/tome/common/db"
	"github.com/tomehq/tome/common/pathfilter"
	"github.com/tomehq/tome/common/repository"
	"github.com/tomehq/tome/common/scm"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Setup(ctx, "scan-runner",
		bootstrap.WithDBInit(func(database *db.DB) error {
			return db.InitSchema(ctx, database)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	gateway, err := backend.New(components.Config.Backend, components.Logger)
	if err != nil {
		components.Logger.Error("backend selection failed", "error", err)
		os.Exit(1)
	}

	jobRepo := repository.NewScanJobRepository(components.DB)
	projectRepo := repository.NewProjectRepository(components.DB)
	gapRepo := repository.NewGapRepository(components.DB)
	patchRepo := repository.NewDraftPatchRepository(components.DB)
	prRepo := repository.NewPRRecordRepository(components.DB)
	activityRepo := repository.NewActivityRepository(components.DB)

	scmClient := scm.NewGitHubClient(components.Config.SCM.BaseURL, components.Logger)

	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	orch := pipeline.NewOrchestrator(&pipeline.OrchestratorOpts{
		Jobs:       jobRepo,
		Projects:   projectRepo,
		Gaps:       gapRepo,
		Patches:    patchRepo,
		Activity:   activityRepo,
		SCM:        scmClient,
		Rules:      pathfilter.NewRuleEvaluator(),
		Classifier: pipeline.NewClassifier(gateway, components.Logger),
		Generator: pipeline.NewGenerator(&pipeline.GeneratorOpts{
			Gateway:       gateway,
			MaxDocContext: components.Config.Pipeline.MaxDocContext,
			MaxPatchBytes: components.Config.Pipeline.MaxPatchBytes,
			Logger:        components.Logger,
		}),
		Publisher: pipeline.NewPublisher(&pipeline.PublisherOpts{
			SCM:          scmClient,
			PRs:          prRepo,
			BranchPrefix: components.Config.SCM.BranchPrefix,
			Logger:       components.Logger,
		}),
		Config:        components.Config.Pipeline,
		FallbackToken: components.Config.SCM.Token,
		WorkerID:      workerID,
		Logger:        components.Logger,
	})

	pool := pipeline.NewPool(&pipeline.PoolOpts{
		Orchestrator: orch,
		Claims:       jobRepo,
		Waiter:       components.Redis,
		Workers:      components.Config.Pipeline.Workers,
		PollInterval: components.Config.Pipeline.PollInterval,
		Lease:        components.Config.Pipeline.LeaseDuration,
		Logger:       components.Logger,
	})

	components.Logger.Info("scan runner ready",
		"backend", gateway.ProviderName(),
		"workers", components.Config.Pipeline.Workers,
	)

	pool.Start(ctx, workerID)
}
