package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tenantops/subkeeper/pkg/notify"
	"github.com/tenantops/subkeeper/pkg/storage"
)

var (
	// ErrJobNotFound is returned when an operation names an unknown job.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when a job name is registered twice.
	ErrJobExists = errors.New("job already registered")
)

// Handler is a job's body. A returned error marks the execution failed; it
// never escapes the scheduling loop.
type Handler func(ctx context.Context) error

// Job is a recurring job definition.
type Job struct {
	Name     string
	Schedule string
	Handler  Handler
	// Critical job failures raise an immediate operator alert in addition
	// to the execution record.
	Critical bool
	// SkipIfRunning drops a firing while a previous execution of the same
	// job is still in flight.
	SkipIfRunning bool
	// Disabled jobs stay registered but are not armed on Start.
	Disabled bool
}

// JobStatus is the observable state of a registered job.
type JobStatus struct {
	Name          string                `json:"name"`
	Schedule      string                `json:"schedule"`
	Critical      bool                  `json:"critical"`
	SkipIfRunning bool                  `json:"skip_if_running"`
	Scheduled     bool                  `json:"scheduled"`
	NextRun       *time.Time            `json:"next_run,omitempty"`
	Running       bool                  `json:"running"`
	LastExecution *storage.JobExecution `json:"last_execution,omitempty"`
}

type registeredJob struct {
	job     Job
	entryID cron.EntryID
	armed   bool
}

// Scheduler arms registered jobs on cron schedules and routes every firing
// through the ExecutionTracker.
type Scheduler struct {
	cron     *cron.Cron
	tracker  *ExecutionTracker
	notifier notify.Notifier
	logger   *logrus.Logger

	mu      sync.Mutex
	jobs    map[string]*registeredJob
	started bool

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler evaluating schedules in the given location.
func New(tracker *ExecutionTracker, notifier notify.Notifier, logger *logrus.Logger, location *time.Location) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(location)),
		tracker:  tracker,
		notifier: notifier,
		logger:   logger,
		jobs:     make(map[string]*registeredJob),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Register adds a job definition. The schedule expression is validated
// immediately; registration after Start arms the job right away unless it
// is disabled.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Handler == nil {
		return fmt.Errorf("job %s has no handler", job.Name)
	}
	if _, err := cron.ParseStandard(job.Schedule); err != nil {
		return fmt.Errorf("job %s has invalid schedule %q: %w", job.Name, job.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}

	rj := &registeredJob{job: job}
	s.jobs[job.Name] = rj

	if s.started && !job.Disabled {
		if err := s.arm(rj); err != nil {
			return err
		}
	}
	return nil
}

// Start arms every enabled job and begins firing timers.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	for _, rj := range s.jobs {
		if rj.job.Disabled || rj.armed {
			continue
		}
		if err := s.arm(rj); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.started = true
	s.logger.WithField("jobs", len(s.jobs)).Info("Scheduler started")
	return nil
}

// Stop cancels all timers and the base context handed to scheduled firings.
// In-flight executions are signaled through context cancellation, not killed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cron.Stop()
	s.cancel()
	for _, rj := range s.jobs {
		rj.armed = false
	}
	s.started = false
	s.logger.Info("Scheduler stopped")
}

// StopJob cancels future firings of one job. It does not interrupt an
// in-flight execution.
func (s *Scheduler) StopJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rj, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if rj.armed {
		s.cron.Remove(rj.entryID)
		rj.armed = false
	}
	s.logger.WithField("job_name", name).Info("Job timer stopped")
	return nil
}

// RestartJob re-arms a stopped job.
func (s *Scheduler) RestartJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rj, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if rj.armed {
		return nil
	}
	if err := s.arm(rj); err != nil {
		return err
	}
	s.logger.WithField("job_name", name).Info("Job timer restarted")
	return nil
}

// Trigger runs a job immediately through the same path as a scheduled
// firing and returns the handler's error.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	rj, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.run(ctx, rj)
}

// Status returns a snapshot of all registered jobs, sorted by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]JobStatus, 0, len(s.jobs))
	for name, rj := range s.jobs {
		status := JobStatus{
			Name:          name,
			Schedule:      rj.job.Schedule,
			Critical:      rj.job.Critical,
			SkipIfRunning: rj.job.SkipIfRunning,
			Scheduled:     rj.armed,
			Running:       s.tracker.RunningFor(name),
			LastExecution: s.tracker.LatestFor(name),
		}
		if rj.armed {
			entry := s.cron.Entry(rj.entryID)
			if !entry.Next.IsZero() {
				next := entry.Next
				status.NextRun = &next
			}
		}
		result = append(result, status)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// arm schedules the job's timer. Caller holds s.mu.
func (s *Scheduler) arm(rj *registeredJob) error {
	job := rj
	entryID, err := s.cron.AddFunc(rj.job.Schedule, func() {
		// cron fires each entry in its own goroutine; errors are settled
		// inside run.
		_ = s.run(s.baseCtx, job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", rj.job.Name, err)
	}
	rj.entryID = entryID
	rj.armed = true
	return nil
}

// run executes a job once, recording the outcome. The returned error mirrors
// the handler's for manual triggers; scheduled firings discard it.
func (s *Scheduler) run(ctx context.Context, rj *registeredJob) (err error) {
	name := rj.job.Name

	if rj.job.SkipIfRunning && s.tracker.RunningFor(name) {
		s.logger.WithField("job_name", name).Warn("Previous execution still running, skipping firing")
		return nil
	}

	execution := s.tracker.Begin(ctx, name)
	s.logger.WithFields(logrus.Fields{
		"job_name":     name,
		"execution_id": execution.ID,
	}).Info("Job started")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.WithFields(logrus.Fields{
				"job_name": name,
				"panic":    r,
				"stack":    string(debug.Stack()),
			}).Error("Job panicked")
			s.settle(ctx, rj, execution, err)
		}
	}()

	err = rj.job.Handler(ctx)
	s.settle(ctx, rj, execution, err)
	return err
}

func (s *Scheduler) settle(ctx context.Context, rj *registeredJob, execution *storage.JobExecution, err error) {
	if err == nil {
		s.tracker.Complete(ctx, execution, storage.ExecutionCompleted, nil)
		s.logger.WithFields(logrus.Fields{
			"job_name":    rj.job.Name,
			"duration_ms": execution.DurationMs,
		}).Info("Job completed")
		return
	}

	s.tracker.Complete(ctx, execution, storage.ExecutionFailed, err)
	s.logger.WithError(err).WithField("job_name", rj.job.Name).Error("Job failed")

	if rj.job.Critical {
		alert := &notify.Alert{
			Kind:    notify.KindJobFailure,
			Title:   fmt.Sprintf("Critical job %s failed", rj.job.Name),
			Message: err.Error(),
			Details: map[string]interface{}{
				"job_name":     rj.job.Name,
				"execution_id": execution.ID,
			},
		}
		if notifyErr := s.notifier.Notify(ctx, alert); notifyErr != nil {
			s.logger.WithError(notifyErr).Warn("Failed to dispatch alert")
		}
	}
}
