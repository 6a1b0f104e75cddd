package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job represents a scheduled task
type Job func(ctx context.Context) error

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = 5 * time.Minute

// Scheduler manages periodic tasks
type Scheduler struct {
	cron     *cron.Cron
	mu       sync.Mutex
	jobs     map[string]cron.EntryID
	timezone *time.Location
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a new scheduler with the given timezone
func New(timezone string, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
		}
	}

	c := cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	return &Scheduler{
		cron:     c,
		jobs:     make(map[string]cron.EntryID),
		timezone: loc,
		timeout:  DefaultJobTimeout,
		logger:   logger.Named("scheduler"),
	}, nil
}

// AddJob adds a job with a cron schedule. Descriptors such as
// "@every 60s" are accepted. Adding a job under an existing name replaces it.
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	s.RemoveJob(name)

	entryID, err := s.cron.AddFunc(schedule, func() {
		_ = s.run(name, job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.mu.Lock()
	s.jobs[name] = entryID
	s.mu.Unlock()
	s.logger.Info("added job", zap.String("job", name), zap.String("schedule", schedule))

	return nil
}

// AddIntervalJob runs job every interval.
func (s *Scheduler) AddIntervalJob(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	return s.AddJob(name, "@every "+interval.String(), job)
}

func (s *Scheduler) run(name string, job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	s.logger.Debug("starting job", zap.String("job", name))
	if err := job(ctx); err != nil {
		s.logger.Warn("job failed", zap.String("job", name), zap.Error(err))
		return err
	}
	s.logger.Debug("job completed", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
	return nil
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	entryID, ok := s.jobs[name]
	if ok {
		delete(s.jobs, name)
	}
	s.mu.Unlock()
	if ok {
		s.cron.Remove(entryID)
		s.logger.Info("removed job", zap.String("job", name))
	}
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("stopping scheduler")
	return s.cron.Stop()
}

// RunNow immediately executes a job outside its schedule.
func (s *Scheduler) RunNow(name string, job Job) error {
	s.logger.Info("running job now", zap.String("job", name))
	return s.run(name, job)
}

// ListJobs returns info about scheduled jobs
func (s *Scheduler) ListJobs() []JobInfo {
	entries := s.cron.Entries()
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]JobInfo, 0, len(s.jobs))

	for name, entryID := range s.jobs {
		for _, entry := range entries {
			if entry.ID == entryID {
				infos = append(infos, JobInfo{
					Name:    name,
					NextRun: entry.Next,
					LastRun: entry.Prev,
				})
				break
			}
		}
	}

	return infos
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}
