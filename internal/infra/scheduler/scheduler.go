package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cena261/traveloka-clone-sub001/internal/infra/telemetry"
)

// JobFunc is one unit of periodic work. Errors are logged and counted, never
// fatal; the next tick runs regardless.
type JobFunc func(ctx context.Context) error

// Job pairs a name with its work and cadence.
type Job struct {
	Name     string
	Interval time.Duration
	Run      JobFunc
}

// Scheduler drives registered jobs on their intervals. Each job gets its own
// goroutine so a slow sweep never delays the sync queue.
type Scheduler struct {
	jobs    []Job
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	wg sync.WaitGroup
}

// New constructs an empty scheduler.
func New(logger *zap.Logger, metrics *telemetry.Metrics) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// WithClock overrides time measurement for job durations.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Register adds a job. Jobs with a non-positive interval are ignored.
func (s *Scheduler) Register(name string, interval time.Duration, run JobFunc) {
	if run == nil || interval <= 0 {
		s.logger.Warn("skipping job with no work or interval", zap.String("job", name))
		return
	}
	s.jobs = append(s.jobs, Job{Name: name, Interval: interval, Run: run})
}

// Start launches one goroutine per registered job. Jobs stop when ctx is
// cancelled; Wait blocks until all of them have returned.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			s.loop(ctx, job)
		}(job)
	}

	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Wait blocks until every job goroutine has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// RunOnce executes a single cycle of the named job. Used by tests and by
// operational tooling that wants an immediate pass.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			return s.execute(ctx, job)
		}
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("job stopped", zap.String("job", job.Name))
			return
		case <-ticker.C:
			if err := s.execute(ctx, job); err != nil {
				s.logger.Warn("job run failed",
					zap.String("job", job.Name),
					zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job) error {
	started := s.now()
	err := job.Run(ctx)
	s.metrics.ObserveJob(job.Name, s.now().Sub(started).Seconds(), err)
	return err
}
