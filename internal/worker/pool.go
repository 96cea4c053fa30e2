package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"doc-ingest-service/internal/notify"
)

type PoolConfig struct {
	Workers    int
	Interval   time.Duration
	BatchLimit int
	StaleAfter time.Duration
	WorkerID   string
}

// Pool is the batch poller: on every tick or nudge it fails exhausted stale
// claims, lists claimable jobs and processes them with at most Workers
// running at once. Claims are the only coordination between instances.
type Pool struct {
	store     JobStore
	processor *Processor
	nudges    notify.Source
	cfg       PoolConfig
	logger    *slog.Logger
}

type SweepStats struct {
	Exhausted int `json:"exhausted"`
	Listed    int `json:"listed"`
	Claimed   int `json:"claimed"`
	Skipped   int `json:"skipped"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Released  int `json:"released"`
	Lost      int `json:"lost"`
	Abandoned int `json:"abandoned"`
	Errors    int `json:"errors"`
}

func NewPool(store JobStore, processor *Processor, nudges notify.Source, cfg PoolConfig, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker"
	}
	if nudges == nil {
		nudges = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{store: store, processor: processor, nudges: nudges, cfg: cfg, logger: logger}
}

// Run sweeps until ctx is cancelled. In-flight jobs observe the same ctx and
// are abandoned rather than finished.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("worker pool started", "workers", p.cfg.Workers, "interval", p.cfg.Interval.String(),
		"stale_after", p.cfg.StaleAfter.String(), "worker_id", p.cfg.WorkerID)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	nudges := p.nudges.Nudges(ctx)

	p.sweepAndLog(ctx, "start")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker pool stopped")
			return
		case <-ticker.C:
			p.sweepAndLog(ctx, "tick")
		case <-nudges:
			p.sweepAndLog(ctx, "nudge")
		}
	}
}

func (p *Pool) sweepAndLog(ctx context.Context, trigger string) {
	start := time.Now()
	stats, err := p.Sweep(ctx)
	if err != nil {
		p.logger.Error("poller.sweep.error", "trigger", trigger, "err", err)
		return
	}
	if stats.Listed == 0 && stats.Exhausted == 0 {
		return
	}
	p.logger.Info("poller.sweep", "trigger", trigger,
		"listed", stats.Listed, "claimed", stats.Claimed, "skipped", stats.Skipped,
		"processed", stats.Processed, "failed", stats.Failed, "released", stats.Released,
		"lost", stats.Lost, "abandoned", stats.Abandoned, "exhausted", stats.Exhausted,
		"duration_ms", time.Since(start).Milliseconds())
}

// Sweep runs a single poll tick and waits for every dispatched job.
func (p *Pool) Sweep(ctx context.Context) (SweepStats, error) {
	var (
		stats SweepStats
		mu    sync.Mutex
	)

	exhausted, err := p.store.FailExhausted(ctx, p.cfg.StaleAfter, p.cfg.WorkerID)
	if err != nil {
		p.logger.Error("poller.fail_exhausted.error", "err", err)
		stats.Errors++
	}
	stats.Exhausted = len(exhausted)

	ids, err := p.store.ListClaimable(ctx, p.cfg.StaleAfter, p.cfg.BatchLimit)
	if err != nil {
		return stats, err
	}
	stats.Listed = len(ids)

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := p.runTask(ctx, id)
			mu.Lock()
			stats.add(res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return stats, nil
}

type taskResult struct {
	claimed bool
	outcome Outcome
	err     bool
}

func (p *Pool) runTask(ctx context.Context, id uuid.UUID) (res taskResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("poller.task.panic", "job_id", id, "panic", r)
			res.err = true
		}
	}()

	job, ok, err := p.store.TryClaim(ctx, id, uuid.New(), p.cfg.StaleAfter)
	if err != nil {
		p.logger.Error("job.claim.error", "job_id", id, "err", err)
		return taskResult{err: true}
	}
	if !ok {
		p.logger.Debug("job.claim.skipped", "job_id", id)
		return taskResult{}
	}
	p.logger.Info("job.claimed", "job_id", id, "worker_id", p.cfg.WorkerID, "attempt", job.Attempts)

	return taskResult{claimed: true, outcome: p.processor.Process(ctx, job)}
}

func (s *SweepStats) add(r taskResult) {
	if r.err {
		s.Errors++
		if !r.claimed {
			return
		}
	}
	if !r.claimed {
		s.Skipped++
		return
	}
	s.Claimed++
	switch r.outcome {
	case OutcomeProcessed:
		s.Processed++
	case OutcomeFailed:
		s.Failed++
	case OutcomeReleased:
		s.Released++
	case OutcomeLost:
		s.Lost++
	case OutcomeAbandoned:
		s.Abandoned++
	}
}
