// Package jobs runs the engine's periodic passes: settling resolved markets
// and sampling open-market prices.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foresight/market-engine/internal/metrics"
	"github.com/foresight/market-engine/internal/model"
)

// Engine is the part of the engine the scheduler drives.
type Engine interface {
	RunSettlement(ctx context.Context) ([]model.SettlementEntry, error)
	SamplePrices(ctx context.Context) (int, error)
}

// Job is a named task run on a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each job on its own ticker until the context ends.
type Scheduler struct {
	jobs []Job
	log  *slog.Logger
}

// NewScheduler builds the settlement and sampling jobs. A zero interval
// leaves that job out.
func NewScheduler(eng Engine, settleEvery, sampleEvery time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{log: log}
	if settleEvery > 0 {
		s.jobs = append(s.jobs, Job{Name: "settle", Interval: settleEvery, Run: func(ctx context.Context) error {
			entries, err := eng.RunSettlement(ctx)
			if len(entries) > 0 {
				log.Info("settlement pass", "paid", len(entries))
			}
			return err
		}})
	}
	if sampleEvery > 0 {
		s.jobs = append(s.jobs, Job{Name: "sample", Interval: sampleEvery, Run: func(ctx context.Context) error {
			n, err := eng.SamplePrices(ctx)
			log.Debug("price sampling pass", "markets", n)
			return err
		}})
	}
	return s
}

// Jobs returns the scheduled jobs.
func (s *Scheduler) Jobs() []Job { return s.jobs }

// Run blocks until ctx is cancelled. A failed pass is logged; the job keeps
// its schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error {
			s.loop(ctx, j)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	s.log.Info("job scheduled", "job", j.Name, "interval", j.Interval.String())
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("job stopped", "job", j.Name)
			return
		case <-ticker.C:
			s.RunOnce(ctx, j)
		}
	}
}

// RunOnce executes one pass of j and records the outcome.
func (s *Scheduler) RunOnce(ctx context.Context, j Job) error {
	start := time.Now()
	err := j.Run(ctx)
	if err != nil {
		metrics.JobRuns.WithLabelValues(j.Name, "error").Inc()
		s.log.Error("job failed", "job", j.Name, "err", err, "elapsed", time.Since(start))
		return err
	}
	metrics.JobRuns.WithLabelValues(j.Name, "ok").Inc()
	return nil
}
