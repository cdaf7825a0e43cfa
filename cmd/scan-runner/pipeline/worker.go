package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomehq/tome/common/intake"
	"github.com/tomehq/tome/common/logger"
	"github.com/tomehq/tome/common/models"
	"github.com/tomehq/tome/common/repository"
)

// ClaimStore hands out exclusive work. Both methods return
// repository.ErrNotFound when nothing is claimable.
type ClaimStore interface {
	ClaimNext(ctx context.Context, workerID string, lease time.Duration) (*models.ScanJob, error)
	ClaimResumable(ctx context.Context, workerID string, lease time.Duration) (*models.ScanJob, error)
}

// Waiter blocks on the wake list so idle workers react to intake
// immediately. A timeout returns ("", nil).
type Waiter interface {
	BlockingPop(ctx context.Context, key string, timeout time.Duration) (string, error)
}

// Pool runs N workers over the claim queue. Each worker claims one job
// at a time; the claim query enforces per-project single-flight, so the
// pool needs no coordination of its own.
type Pool struct {
	orch    *Orchestrator
	claims  ClaimStore
	waiter  Waiter
	workers int
	poll    time.Duration
	lease   time.Duration
	log     *logger.Logger
}

// PoolOpts contains options for creating a worker Pool
type PoolOpts struct {
	Orchestrator *Orchestrator
	Claims       ClaimStore
	Waiter       Waiter
	Workers      int
	PollInterval time.Duration
	Lease        time.Duration
	Logger       *logger.Logger
}

// NewPool creates a new worker pool
func NewPool(opts *PoolOpts) *Pool {
	return &Pool{
		orch:    opts.Orchestrator,
		claims:  opts.Claims,
		waiter:  opts.Waiter,
		workers: opts.Workers,
		poll:    opts.PollInterval,
		lease:   opts.Lease,
		log:     opts.Logger,
	}
}

// Start runs the pool until the context is cancelled and all workers
// have drained their current job or handed it to lease takeover.
func (p *Pool) Start(ctx context.Context, workerID string) {
	p.log.Info("worker pool starting", "workers", p.workers, "worker_id", workerID)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.workerLoop(ctx, workerID)
		}(i)
	}
	wg.Wait()

	p.log.Info("worker pool stopped")
}

func (p *Pool) workerLoop(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		claimed := p.claimAndRun(ctx, workerID)
		if claimed {
			continue
		}

		// Nothing claimable: block on the wake list, falling back to
		// the poll interval so lease-expired jobs are still found.
		if _, err := p.waiter.BlockingPop(ctx, intake.WakeKey, p.poll); err != nil && ctx.Err() == nil {
			p.log.Warn("wake wait failed, sleeping", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(p.poll):
			}
		}
	}
}

// claimAndRun tries a fresh queued job first, then a lease-expired
// mid-pipeline job. Reports whether it ran anything.
func (p *Pool) claimAndRun(ctx context.Context, workerID string) bool {
	job, err := p.claims.ClaimNext(ctx, workerID, p.lease)
	if err != nil && errors.Is(err, repository.ErrNotFound) {
		job, err = p.claims.ClaimResumable(ctx, workerID, p.lease)
	}
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) && ctx.Err() == nil {
			p.log.Error("claim failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		return false
	}

	if err := p.orch.Run(ctx, job); err != nil && ctx.Err() == nil {
		p.log.Error("job run failed", "job_id", job.JobID, "error", err)
	}
	return true
}
