package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/fieldarchive/ingestor/internal/common"
)

// Runner polls the queue with a fixed worker pool. Each worker loops
// lease-process-repeat, sleeping the poll interval when the queue is
// drained. A MaxDocsPerRun cap stops the whole run once reached.
type Runner struct {
	proc   *Processor
	cfg    common.WorkerConfig
	logger *slog.Logger
}

// NewRunner builds a runner around the processor.
func NewRunner(proc *Processor, cfg common.WorkerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{proc: proc, cfg: cfg, logger: logger.With("component", "runner")}
}

// Run blocks until ctx is cancelled or the document cap is reached.
func (r *Runner) Run(ctx context.Context) error {
	size := r.cfg.PoolSize
	if size <= 0 {
		size = 2
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return err
	}
	defer pool.Release()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	var processed atomic.Int64
	r.logger.Info("worker pool starting", "size", size, "poll_interval", r.cfg.PollInterval.String())

	for i := 0; i < size; i++ {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			r.workLoop(runCtx, stop, &processed)
		}); err != nil {
			wg.Done()
			stop()
			return err
		}
	}
	wg.Wait()

	r.logger.Info("worker pool stopped", "processed", processed.Load())
	return nil
}

func (r *Runner) workLoop(ctx context.Context, stop context.CancelFunc, processed *atomic.Int64) {
	interval := r.cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		worked, err := r.proc.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("lease attempt failed", "error", err)
		}
		if worked {
			n := processed.Add(1)
			if r.cfg.MaxDocsPerRun > 0 && n >= int64(r.cfg.MaxDocsPerRun) {
				r.logger.Info("document cap reached", "max_docs_per_run", r.cfg.MaxDocsPerRun)
				stop()
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
