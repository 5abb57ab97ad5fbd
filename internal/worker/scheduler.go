package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs ExportPending on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	worker  *ExportWorker
	timeout time.Duration
}

// NewScheduler parses spec (five-field cron or a descriptor such as "@hourly")
// and registers the job.
func NewScheduler(spec string, w *ExportWorker, timeout time.Duration) (*Scheduler, error) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		worker:  w,
		timeout: timeout,
	}
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return nil, err
	}
	return s, nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for a
// running job to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "Starting export scheduler", "entries", len(s.cron.Entries()))
	s.cron.Start()
	<-ctx.Done()
	slog.InfoContext(ctx, "Stopping export scheduler")
	<-s.cron.Stop().Done()
	return ctx.Err()
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.worker.ExportPending(ctx); err != nil {
		slog.ErrorContext(ctx, "Scheduled export failed", "error", err)
	}
}
