// Package sched runs the pipeline on a fixed interval.
package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/busanfuneral/notice-pipeline/internal/notice"
)

// Runnable is the coordinator surface the runner drives.
type Runnable interface {
	Run(ctx context.Context, rc notice.RunContext) (notice.RunReport, error)
}

// Runner triggers one run immediately and then one per interval until the
// context ends. A tick that arrives while a run is still in flight is
// skipped, never queued.
type Runner struct {
	pipeline Runnable
	interval time.Duration
	rc       notice.RunContext
	logger   *zap.Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

// New builds a Runner.
func New(pipeline Runnable, interval time.Duration, rc notice.RunContext, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		pipeline: pipeline,
		interval: interval,
		rc:       rc,
		logger:   logger,
	}
}

// Loop blocks until ctx is done and the in-flight run, if any, finished.
func (r *Runner) Loop(ctx context.Context) {
	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick starts one run unless the previous one is still in progress.
func (r *Runner) tick(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Warn("previous run still in progress, skipping tick")
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)

		report, err := r.pipeline.Run(ctx, r.rc)
		if err != nil {
			r.logger.Error("pipeline run failed", zap.Error(err))
			return
		}
		r.logger.Info("pipeline run finished",
			zap.Int("collected", report.Collector.TotalNew()),
			zap.Int("analyzed", report.Analyzer.Analyzed),
			zap.Int("sent", report.Distributor.Sent))
	}()
}
