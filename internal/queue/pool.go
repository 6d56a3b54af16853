package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"medinotify/internal/types"
)

// Handler processes one job. Returning an error schedules a retry unless the
// error is Permanent or the job is out of attempts.
type Handler func(ctx context.Context, job *Job) error

// FailureHook runs once a job has failed for good.
type FailureHook func(ctx context.Context, job *Job, err error)

// PoolConfig bounds a worker pool.
type PoolConfig struct {
	Concurrency        int
	PollTimeout        time.Duration
	PromoteInterval    time.Duration
	StalledCheckPeriod time.Duration
}

// Pool drains one Queue with a fixed number of workers.
type Pool struct {
	queue     *Queue
	handler   Handler
	limiter   *RateLimiter
	cfg       PoolConfig
	logger    types.Logger
	onFailure FailureHook
}

// NewPool creates a Pool. limiter may be nil.
func NewPool(q *Queue, handler Handler, limiter *RateLimiter, cfg PoolConfig, logger types.Logger) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = time.Second
	}
	if cfg.StalledCheckPeriod <= 0 {
		cfg.StalledCheckPeriod = 30 * time.Second
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Pool{
		queue:   q,
		handler: handler,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.With("queue", q.Name()),
	}
}

// OnFailure registers fn to run when a job fails terminally.
func (p *Pool) OnFailure(fn FailureHook) {
	p.onFailure = fn
}

// Run starts the workers and the housekeeping loops and blocks until ctx is
// cancelled. Workers stop fetching immediately but finish the job they hold
// before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < p.cfg.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			p.work(gctx, worker)
			return nil
		})
	}
	g.Go(func() error {
		p.every(gctx, p.cfg.PromoteInterval, func(c context.Context) error {
			_, err := p.queue.PromoteDue(c)
			return err
		})
		return nil
	})
	g.Go(func() error {
		p.every(gctx, p.cfg.StalledCheckPeriod, func(c context.Context) error {
			_, err := p.queue.RecoverStalled(c)
			return err
		})
		return nil
	})

	p.logger.Info("worker pool started", "concurrency", p.cfg.Concurrency)
	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

func (p *Pool) work(ctx context.Context, worker int) {
	for ctx.Err() == nil {
		job, err := p.queue.Dequeue(ctx, p.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("failed to fetch job", "worker", worker, "error", err.Error())
				sleep(ctx, p.cfg.PollTimeout)
			}
			continue
		}
		if job == nil {
			continue
		}
		if !p.acquire(ctx, job, worker) {
			continue
		}

		// The job runs to completion even when shutdown starts mid-flight.
		p.Process(context.WithoutCancel(ctx), job)
	}
}

// acquire takes a rate limit token for a leased job. Without one the job goes
// back to the wait list and the attempt is not counted.
func (p *Pool) acquire(ctx context.Context, job *Job, worker int) bool {
	if p.limiter == nil {
		return true
	}

	stop := p.heartbeat(context.WithoutCancel(ctx), job)
	err := p.limiter.Wait(ctx)
	stop()
	if err == nil {
		return true
	}

	if relErr := p.queue.Release(context.WithoutCancel(ctx), job); relErr != nil {
		p.logger.Error("failed to release job", "worker", worker, "job_id", job.ID, "error", relErr.Error())
	}
	if ctx.Err() == nil {
		p.logger.Error("rate limiter unavailable", "worker", worker, "error", err.Error())
		sleep(ctx, p.cfg.PollTimeout)
	}
	return false
}

// Process runs the handler for a leased job and records the outcome.
func (p *Pool) Process(ctx context.Context, job *Job) {
	log := p.logger.With("job_id", job.ID, "attempt", job.Attempt)

	stop := p.heartbeat(ctx, job)
	err := p.safeHandle(ctx, job)
	stop()

	if err == nil {
		if completeErr := p.queue.Complete(ctx, job); completeErr != nil {
			log.Error("failed to mark job completed", "error", completeErr.Error())
		}
		return
	}

	retried, failErr := p.queue.Fail(ctx, job, err)
	if failErr != nil {
		log.Error("failed to record job failure", "error", failErr.Error(), "cause", err.Error())
		return
	}
	if retried {
		log.Warn("job failed, retry scheduled",
			"error", err.Error(),
			"next_delay", p.queue.opts.Backoff.Delay(job.Attempt).String(),
		)
		return
	}

	log.Error("job failed permanently", "error", err.Error(), "permanent", IsPermanent(err))
	if p.onFailure != nil {
		p.onFailure(ctx, job, err)
	}
}

func (p *Pool) safeHandle(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job handler panicked", "job_id", job.ID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler(ctx, job)
}

// heartbeat keeps the job's lease alive until the returned stop is called.
func (p *Pool) heartbeat(ctx context.Context, job *Job) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.queue.opts.LockDuration / 2)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := p.queue.Extend(hbCtx, job); err != nil && hbCtx.Err() == nil {
					p.logger.Warn("failed to extend job lease", "job_id", job.ID, "error", err.Error())
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (p *Pool) every(ctx context.Context, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("queue housekeeping failed", "error", err.Error())
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
