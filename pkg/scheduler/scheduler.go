// Package scheduler runs named jobs on daily or interval schedules. A job
// never overlaps itself, and an optional distributed lock keeps it
// single-flight across replicas.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	applogger "FinScan/pkg/logger"
)

// ErrUnknownJob is returned by RunNow for an unregistered name.
var ErrUnknownJob = errors.New("unknown job")

// Schedule decides when a job runs next.
type Schedule struct {
	kind     scheduleKind
	hour     int
	minute   int
	loc      *time.Location
	interval time.Duration
}

type scheduleKind int

const (
	kindDaily scheduleKind = iota
	kindInterval
)

// DailyAt runs once a day at hour:minute in loc (UTC when nil).
func DailyAt(hour, minute int, loc *time.Location) Schedule {
	if loc == nil {
		loc = time.UTC
	}
	return Schedule{kind: kindDaily, hour: hour, minute: minute, loc: loc}
}

// Every runs at a fixed interval.
func Every(d time.Duration) Schedule {
	return Schedule{kind: kindInterval, interval: d}
}

// Next returns the first run strictly after now.
func (s Schedule) Next(now time.Time) time.Time {
	switch s.kind {
	case kindDaily:
		lt := now.In(s.loc)
		next := time.Date(lt.Year(), lt.Month(), lt.Day(), s.hour, s.minute, 0, 0, s.loc)
		if !next.After(now) {
			next = time.Date(lt.Year(), lt.Month(), lt.Day()+1, s.hour, s.minute, 0, 0, s.loc)
		}
		return next
	case kindInterval:
		return now.Add(s.interval)
	default:
		return now.Add(24 * time.Hour)
	}
}

func (s Schedule) String() string {
	if s.kind == kindDaily {
		return fmt.Sprintf("daily %02d:%02d %s", s.hour, s.minute, s.loc)
	}
	return "every " + s.interval.String()
}

// Locker is the distributed lock used to keep a job single-flight.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Job is one scheduled task.
type Job struct {
	Name        string
	Description string
	Schedule    Schedule
	// Timeout bounds a single run; zero means one hour.
	Timeout time.Duration
	Handler func(ctx context.Context) error

	mu      sync.Mutex
	running bool
	nextRun time.Time
	lastRun time.Time
	lastDur time.Duration
	lastErr error
	runs    int
	skipped int
}

// JobStatus is a snapshot of a job.
type JobStatus struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Schedule    string    `json:"schedule"`
	Running     bool      `json:"running"`
	NextRun     time.Time `json:"next_run"`
	LastRun     time.Time `json:"last_run,omitempty"`
	LastDurMs   int64     `json:"last_duration_ms"`
	LastErr     string    `json:"last_error,omitempty"`
	Runs        int       `json:"runs"`
	Skipped     int       `json:"skipped"`
}

func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := JobStatus{
		Name:        j.Name,
		Description: j.Description,
		Schedule:    j.Schedule.String(),
		Running:     j.running,
		NextRun:     j.nextRun,
		LastRun:     j.lastRun,
		LastDurMs:   j.lastDur.Milliseconds(),
		Runs:        j.runs,
		Skipped:     j.skipped,
	}
	if j.lastErr != nil {
		st.LastErr = j.lastErr.Error()
	}
	return st
}

func (j *Job) timeout() time.Duration {
	if j.Timeout > 0 {
		return j.Timeout
	}
	return time.Hour
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocker enables cross-replica locking under keyPrefix.
func WithLocker(l Locker, keyPrefix string) Option {
	return func(s *Scheduler) {
		s.locker = l
		s.lockPrefix = keyPrefix
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTickInterval sets how often due jobs are checked.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickEvery = d
		}
	}
}

// Scheduler owns the application's periodic jobs.
type Scheduler struct {
	logger     *applogger.Logger
	locker     Locker
	lockPrefix string
	now        func() time.Time
	tickEvery  time.Duration

	mu       sync.RWMutex
	jobs     []*Job
	baseCtx  context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(logger *applogger.Logger, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger:     logger,
		lockPrefix: "finscan:scheduler",
		now:        time.Now,
		tickEvery:  30 * time.Second,
		baseCtx:    ctx,
		cancel:     cancel,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds a job. Call before Start.
func (s *Scheduler) Register(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.nextRun = job.Schedule.Next(s.now())
	s.jobs = append(s.jobs, job)
	s.logger.Info("scheduler job registered",
		applogger.String("job", job.Name),
		applogger.String("schedule", job.Schedule.String()),
		applogger.Time("next_run", job.nextRun))
}

// Start runs the scheduling loop in the background.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	s.logger.Info("scheduler started", applogger.Int("jobs", len(s.Jobs())))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.logger.Info("scheduler stopped")
	})
}

// Jobs returns the status of every registered job.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.RLock()
	jobs := make([]*Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.RUnlock()

	out := make([]JobStatus, len(jobs))
	for i, j := range jobs {
		out[i] = j.Status()
	}
	return out
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.baseCtx.Done():
			return
		}
	}
}

// tick starts every due job that is not already running.
func (s *Scheduler) tick() {
	now := s.now()
	s.mu.RLock()
	jobs := make([]*Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.RUnlock()

	for _, job := range jobs {
		job.mu.Lock()
		due := !now.Before(job.nextRun)
		if due && job.running {
			job.skipped++
			job.nextRun = job.Schedule.Next(now)
			due = false
		}
		if due {
			job.running = true
		}
		job.mu.Unlock()

		if due {
			s.wg.Add(1)
			go s.run(job)
		}
	}
}

// RunNow starts a job immediately unless it is already running.
func (s *Scheduler) RunNow(name string) (bool, error) {
	s.mu.RLock()
	var job *Job
	for _, j := range s.jobs {
		if j.Name == name {
			job = j
			break
		}
	}
	s.mu.RUnlock()
	if job == nil {
		return false, ErrUnknownJob
	}
	job.mu.Lock()
	if job.running {
		job.mu.Unlock()
		return false, nil
	}
	job.running = true
	job.mu.Unlock()
	s.wg.Add(1)
	go s.run(job)
	return true, nil
}

func (s *Scheduler) run(job *Job) {
	defer s.wg.Done()
	start := s.now()
	ctx, cancel := context.WithTimeout(s.baseCtx, job.timeout())
	defer cancel()

	ran, err := s.execute(ctx, job)
	dur := s.now().Sub(start)

	job.mu.Lock()
	job.running = false
	job.nextRun = job.Schedule.Next(s.now())
	if ran {
		job.lastRun = start
		job.lastDur = dur
		job.lastErr = err
		job.runs++
	} else {
		job.skipped++
	}
	next := job.nextRun
	job.mu.Unlock()

	switch {
	case !ran:
		s.logger.Info("scheduler job skipped, held by another replica", applogger.String("job", job.Name))
	case err != nil:
		s.logger.Error("scheduler job failed",
			applogger.String("job", job.Name),
			applogger.Duration("duration", dur),
			applogger.Error(err))
	default:
		s.logger.Info("scheduler job finished",
			applogger.String("job", job.Name),
			applogger.Duration("duration", dur),
			applogger.Time("next_run", next))
	}
}

// execute takes the distributed lock when configured and runs the handler.
// It reports false when another holder owns the lock.
func (s *Scheduler) execute(ctx context.Context, job *Job) (ran bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ran, err = true, fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	if s.locker != nil {
		key := s.lockPrefix + ":" + job.Name
		ok, err := s.locker.TryLock(ctx, key, job.timeout())
		if err != nil {
			return true, fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return false, nil
		}
		defer func() {
			// the run context may already be done
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if uerr := s.locker.Unlock(uctx, key); uerr != nil {
				s.logger.Warn("scheduler unlock failed", applogger.String("job", job.Name), applogger.Error(uerr))
			}
		}()
	}
	return true, job.Handler(ctx)
}
