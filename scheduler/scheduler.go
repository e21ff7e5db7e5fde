// Package scheduler triggers backup runs on a repeating interval and guarantees
// that runs never overlap, whether they come from the timer or from a manual request.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"folder-backup/config"
)

var (
	// ErrRunInProgress is returned by RunOnce while another run is executing.
	ErrRunInProgress = errors.Base("backup run already in progress")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.Base("scheduler closed")
)

// State of the scheduler.
type State int

const (
	Idle State = iota
	Scheduled
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Trigger says what started a run.
type Trigger int

const (
	TriggerTick Trigger = iota
	TriggerManual
)

func (t Trigger) String() string {
	if t == TriggerManual {
		return "manual"
	}
	return "tick"
}

// Request is passed to the Job for every run.
type Request struct {
	Trigger Trigger
	// SuppressMissingConfig asks the job to skip quietly when source or
	// destination are not configured yet.
	SuppressMissingConfig bool
}

// Outcome of one run. Completed is false for runs that were skipped or declined.
type Outcome struct {
	Completed   bool
	CompletedAt time.Time
}

// Job is one backup run.
type Job interface {
	Run(ctx context.Context, req Request) (Outcome, error)
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context, req Request) (Outcome, error)

func (f JobFunc) Run(ctx context.Context, req Request) (Outcome, error) { return f(ctx, req) }

// Snapshot is a point-in-time view of the scheduler.
type Snapshot struct {
	State          State
	IsRunning      bool
	Interval       time.Duration
	NextFireTime   time.Time
	LastCompletion time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSkipHook is called for every run request dropped because another run was executing.
func WithSkipHook(fn func(Trigger)) Option {
	return func(s *Scheduler) { s.onSkip = fn }
}

// WithLastCompletion seeds the last completion time, usually from the config store.
func WithLastCompletion(t time.Time) Option {
	return func(s *Scheduler) { s.lastCompletion = t }
}

// Scheduler drives a Job from a cron entry.
type Scheduler struct {
	job    Job
	cron   *cron.Cron
	base   context.Context
	onSkip func(Trigger)

	running atomic.Bool
	runs    sync.WaitGroup

	mu             sync.Mutex
	state          State
	entry          cron.EntryID
	interval       time.Duration
	lastCompletion time.Time
	closed         bool
}

// New creates an idle scheduler. Ticks run with a context derived from ctx that
// keeps its values (the logger) but is never cancelled, so stopping the
// scheduler does not interrupt a copy in flight.
func New(ctx context.Context, job Job, opts ...Option) *Scheduler {
	logger := cronLogger{zerolog.Ctx(ctx)}
	s := &Scheduler{
		job:  job,
		base: context.WithoutCancel(ctx),
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron.Start()
	return s
}

// Start arms a repeating trigger every interval, replacing any existing one.
// An invalid interval leaves the scheduler in its prior state. The cron
// resolution is one second: sub-second parts are dropped with a warning and
// intervals under a second fire every second.
func (s *Scheduler) Start(interval time.Duration) error {
	if interval <= 0 {
		return errors.Errorf("%w: %s", config.ErrInvalidInterval, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.WithStack(ErrClosed)
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	sched := cron.Every(interval)
	s.entry = s.cron.Schedule(sched, cron.FuncJob(s.tick))
	s.interval = interval
	s.state = Scheduled

	logger := zerolog.Ctx(s.base)
	if sched.Delay != interval {
		logger.Warn().
			Dur("requested", interval).
			Dur("effective", sched.Delay).
			Msg("backup interval rounded to whole seconds")
	}
	logger.Info().
		Dur("interval", interval).
		Time("next", s.cron.Entry(s.entry).Next).
		Msg("backup schedule armed")
	return nil
}

// Reschedule changes the interval of an armed schedule. An in-flight run is not
// affected. If the scheduler is not armed the interval is only validated.
func (s *Scheduler) Reschedule(interval time.Duration) error {
	s.mu.Lock()
	armed := s.state == Scheduled
	same := s.interval == interval
	s.mu.Unlock()

	if !armed {
		if interval <= 0 {
			return errors.Errorf("%w: %s", config.ErrInvalidInterval, interval)
		}
		return nil
	}
	if same {
		return nil
	}
	return s.Start(interval)
}

// Stop cancels future ticks. A run in progress completes. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.entry = 0
	}
	if s.state != Stopped {
		s.state = Stopped
		zerolog.Ctx(s.base).Info().Msg("backup schedule stopped")
	}
}

// Close stops the scheduler and waits for any run to finish.
func (s *Scheduler) Close() {
	s.Stop()

	s.mu.Lock()
	closed := s.closed
	s.closed = true
	s.mu.Unlock()

	if !closed {
		<-s.cron.Stop().Done()
	}
	s.runs.Wait()
}

// RunOnce performs a run immediately, outside the timer cadence.
func (s *Scheduler) RunOnce(ctx context.Context, suppressPromptOnMissingConfig bool) (Outcome, error) {
	return s.execute(ctx, Request{Trigger: TriggerManual, SuppressMissingConfig: suppressPromptOnMissingConfig})
}

// State returns a snapshot.
func (s *Scheduler) State() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:          s.state,
		IsRunning:      s.running.Load(),
		Interval:       s.interval,
		LastCompletion: s.lastCompletion,
	}
	if snap.IsRunning {
		snap.State = Running
	}
	if s.entry != 0 {
		snap.NextFireTime = s.cron.Entry(s.entry).Next
	}
	return snap
}

// tick is the cron callback. Ticks always suppress the missing config prompt.
func (s *Scheduler) tick() {
	_, _ = s.execute(s.base, Request{Trigger: TriggerTick, SuppressMissingConfig: true})
}

func (s *Scheduler) execute(ctx context.Context, req Request) (Outcome, error) {
	logger := zerolog.Ctx(ctx).With().Str("trigger", req.Trigger.String()).Logger()

	if !s.running.CompareAndSwap(false, true) {
		logger.Info().Msg("backup already running, request ignored")
		if s.onSkip != nil {
			s.onSkip(req.Trigger)
		}
		return Outcome{}, errors.WithStack(ErrRunInProgress)
	}
	s.runs.Add(1)
	defer s.runs.Done()
	defer s.running.Store(false)

	out, err := s.job.Run(logger.WithContext(ctx), req)
	if err != nil {
		logger.Error().Err(err).Msg("backup run failed")
		return out, err
	}
	if out.Completed {
		s.mu.Lock()
		s.lastCompletion = out.CompletedAt
		s.mu.Unlock()
	}
	return out, nil
}

// cronLogger feeds cron's own messages into zerolog.
type cronLogger struct {
	l *zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
