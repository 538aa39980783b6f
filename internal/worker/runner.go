// Package worker drives the gateway's periodic background jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crypto-payment-gateway/internal/core/ports"
	"crypto-payment-gateway/internal/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	// Timeout is the soft deadline of one tick. Zero means Interval.
	Timeout time.Duration
	// LockTTL enables the leader lock when the runner has a Locker.
	// It should outlast Timeout.
	LockTTL time.Duration
	Run     func(ctx context.Context) error
}

// Runner runs jobs on their own tickers until its context is cancelled.
type Runner struct {
	jobs    []Job
	locker  ports.Locker // nil runs every job on every replica
	metrics *metrics.Registry
	log     zerolog.Logger
}

func NewRunner(locker ports.Locker, m *metrics.Registry, log zerolog.Logger, jobs ...Job) *Runner {
	return &Runner{jobs: jobs, locker: locker, metrics: m, log: log}
}

// Run blocks until ctx is done and every in-flight tick has returned.
func (r *Runner) Run(ctx context.Context) error {
	for _, job := range r.jobs {
		if job.Interval <= 0 || job.Run == nil {
			return fmt.Errorf("job %q: interval and run func are required", job.Name)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, job := range r.jobs {
		g.Go(func() error {
			r.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	r.log.Info().Str("job", job.Name).Dur("interval", job.Interval).Msg("job started")
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		if err := r.Tick(ctx, job); err != nil {
			r.log.Error().Err(err).Str("job", job.Name).Msg("job tick failed")
		}

		select {
		case <-ctx.Done():
			r.log.Info().Str("job", job.Name).Msg("job stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick runs job once. A tick that overruns its deadline is logged and
// reported as success; the next tick picks up the remaining work.
func (r *Runner) Tick(ctx context.Context, job Job) error {
	if ctx.Err() != nil {
		return nil
	}
	if r.locker != nil && job.LockTTL > 0 {
		key := "job:" + job.Name
		token, ok, err := r.locker.TryLock(ctx, key, job.LockTTL)
		if err != nil {
			r.log.Warn().Err(err).Str("job", job.Name).Msg("leader lock unavailable, skipping tick")
			r.metrics.ObserveJob(job.Name, "skipped", 0)
			return nil
		}
		if !ok {
			r.metrics.ObserveJob(job.Name, "skipped", 0)
			return nil
		}
		defer func() {
			if err := r.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
				r.log.Warn().Err(err).Str("job", job.Name).Msg("failed to release leader lock")
			}
		}()
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = job.Interval
	}
	tickCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := job.Run(tickCtx)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		r.metrics.ObserveJob(job.Name, "ok", elapsed)
		return nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		r.metrics.ObserveJob(job.Name, "timeout", elapsed)
		r.log.Warn().Err(err).Str("job", job.Name).Dur("timeout", timeout).Msg("job timed out")
		return nil
	default:
		r.metrics.ObserveJob(job.Name, "error", elapsed)
		return fmt.Errorf("%s: %w", job.Name, err)
	}
}
