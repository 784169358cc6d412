// Package scheduler runs maintenance jobs on cron schedules.
package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// JobStatus is the last known outcome of a registered job.
type JobStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
}

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*registration
}

type registration struct {
	id       cron.EntryID
	schedule string
	lastRun  time.Time
	lastErr  error
}

// New creates a new scheduler evaluating schedules in loc (UTC when nil).
// Schedules take a leading seconds field.
func New(loc *time.Location, log zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron: cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		log:  log.With().Str("component", "scheduler").Logger(),
		jobs: make(map[string]*registration),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with cron schedule
// Schedule examples:
//   - "0 */5 * * * *"      - Every 5 minutes
//   - "@hourly"            - Every hour
//   - "0 30 3 * * *"       - 03:30 every day
//   - "@every 30s"         - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	reg := &registration{schedule: schedule}

	id, err := s.cron.AddFunc(schedule, func() {
		s.run(job, reg)
	})
	if err != nil {
		return err
	}
	reg.id = id

	s.mu.Lock()
	s.jobs[job.Name()] = reg
	s.mu.Unlock()

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")

	s.mu.Lock()
	reg := s.jobs[job.Name()]
	s.mu.Unlock()

	if reg == nil {
		return job.Run()
	}
	return s.run(job, reg)
}

// Status lists registered jobs with their last outcome and next run.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for name, reg := range s.jobs {
		st := JobStatus{
			Name:     name,
			Schedule: reg.schedule,
			LastRun:  reg.lastRun,
			NextRun:  s.cron.Entry(reg.id).Next,
		}
		if reg.lastErr != nil {
			st.LastError = reg.lastErr.Error()
		}
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) run(job Job, reg *registration) error {
	s.log.Debug().Str("job", job.Name()).Msg("Running job")

	started := time.Now()
	err := job.Run()

	s.mu.Lock()
	reg.lastRun = started
	reg.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Msg("Job failed")
	} else {
		s.log.Debug().
			Str("job", job.Name()).
			Dur("duration_ms", time.Since(started)).
			Msg("Job completed")
	}
	return err
}
