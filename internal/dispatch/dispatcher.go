package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/you/sendlater/internal/domain"
	"github.com/you/sendlater/internal/store"
)

// Options tune the dispatch loop.
type Options struct {
	// PollInterval is the time between claim scans.
	PollInterval time.Duration
	// BatchLimit caps jobs claimed per tick.
	BatchLimit int
	// LeaseDuration must exceed the worst-case transport call, or live
	// attempts will be reclaimed out from under their workers.
	LeaseDuration time.Duration
}

// Dispatcher polls the store on a fixed interval, claims due jobs and feeds
// them to the pool channel. Several dispatchers may run against the same
// store; the store's atomic claim keeps them from double-dispatching.
type Dispatcher struct {
	jobs     store.JobStore
	out      chan<- *domain.Job
	opts     Options
	workerID string
	log      *zap.Logger
}

func NewDispatcher(jobs store.JobStore, out chan<- *domain.Job, opts Options, workerID string, log *zap.Logger) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 100
	}
	return &Dispatcher{
		jobs:     jobs,
		out:      out,
		opts:     opts,
		workerID: workerID,
		log:      log,
	}
}

// Run loops until ctx is cancelled. Store errors pause dispatch for one
// interval and are retried; they never abort the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatcher starting",
		zap.String("worker_id", d.workerID),
		zap.Duration("poll_interval", d.opts.PollInterval),
		zap.Int("batch_limit", d.opts.BatchLimit),
		zap.Duration("lease_duration", d.opts.LeaseDuration),
	)

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := d.tick(ctx); err != nil && ctx.Err() == nil {
				d.log.Error("claim tick failed", zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) error {
	claimed, err := d.jobs.ClaimDue(ctx, time.Now().UTC(), d.opts.BatchLimit, d.opts.LeaseDuration, d.workerID)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	d.log.Debug("claimed batch", zap.Int("count", len(claimed)))
	for _, j := range claimed {
		select {
		case d.out <- j:
		case <-ctx.Done():
			// Shutting down mid-batch: unhanded claims simply expire
			// and are reclaimed on a later tick.
			return ctx.Err()
		}
	}
	return nil
}
