package scheduler

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"folder-backup/config"
)

type blockingJob struct {
	calls    atomic.Int32
	started  chan Request
	release  chan struct{}
	err      error
	finished time.Time
}

func newBlockingJob() *blockingJob {
	return &blockingJob{
		started:  make(chan Request, 10),
		release:  make(chan struct{}),
		finished: time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC),
	}
}

func (j *blockingJob) Run(_ context.Context, req Request) (Outcome, error) {
	j.calls.Add(1)
	j.started <- req
	<-j.release
	if j.err != nil {
		return Outcome{}, j.err
	}
	return Outcome{Completed: true, CompletedAt: j.finished}, nil
}

func testContext(t *testing.T) context.Context {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	return logger.WithContext(context.Background())
}

func newScheduler(t *testing.T, job Job, opts ...Option) *Scheduler {
	t.Helper()
	s := New(testContext(t), job, opts...)
	t.Cleanup(s.Close)
	return s
}

func TestStartRejectsInvalidInterval(t *testing.T) {
	s := newScheduler(t, JobFunc(func(context.Context, Request) (Outcome, error) { return Outcome{}, nil }))

	for _, d := range []time.Duration{0, -time.Second} {
		err := s.Start(d)
		assert.ErrorIs(t, err, config.ErrInvalidInterval)
		assert.Equal(t, Idle, s.State().State)
	}

	require.NoError(t, s.Start(time.Hour))
	assert.ErrorIs(t, s.Start(0), config.ErrInvalidInterval)
	snap := s.State()
	assert.Equal(t, Scheduled, snap.State)
	assert.Equal(t, time.Hour, snap.Interval)
}

func TestStartWarnsOnSubSecondInterval(t *testing.T) {
	var buf bytes.Buffer
	ctx := zerolog.New(&buf).WithContext(context.Background())
	s := New(ctx, JobFunc(func(context.Context, Request) (Outcome, error) { return Outcome{}, nil }))

	require.NoError(t, s.Start(time.Hour))
	require.NoError(t, s.Start(1500*time.Millisecond))
	s.Close()

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "backup interval rounded to whole seconds"))
	assert.Contains(t, out, `"effective":1000`)
}

func TestStartStop(t *testing.T) {
	s := newScheduler(t, JobFunc(func(context.Context, Request) (Outcome, error) { return Outcome{}, nil }))

	require.NoError(t, s.Start(time.Hour))
	snap := s.State()
	assert.Equal(t, Scheduled, snap.State)
	assert.False(t, snap.IsRunning)
	assert.WithinDuration(t, time.Now().Add(time.Hour), snap.NextFireTime, 2*time.Second)

	s.Stop()
	s.Stop()
	snap = s.State()
	assert.Equal(t, Stopped, snap.State)
	assert.True(t, snap.NextFireTime.IsZero())

	require.NoError(t, s.Start(2*time.Hour))
	assert.Equal(t, Scheduled, s.State().State)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), s.State().NextFireTime, 2*time.Second)
}

func TestOverlappingRequestsRunOnce(t *testing.T) {
	job := newBlockingJob()
	var skipped []Trigger
	var mu sync.Mutex
	s := newScheduler(t, job, WithSkipHook(func(tr Trigger) {
		mu.Lock()
		skipped = append(skipped, tr)
		mu.Unlock()
	}))
	require.NoError(t, s.Start(time.Hour))

	done := make(chan struct{})
	go func() {
		s.tick()
		close(done)
	}()
	req := <-job.started
	assert.Equal(t, TriggerTick, req.Trigger)
	assert.True(t, req.SuppressMissingConfig)
	assert.Equal(t, Running, s.State().State)
	assert.True(t, s.State().IsRunning)

	// both return immediately while the first run is blocked
	s.tick()
	s.tick()
	_, err := s.RunOnce(testContext(t), false)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(job.release)
	<-done

	assert.EqualValues(t, 1, job.calls.Load())
	mu.Lock()
	assert.Equal(t, []Trigger{TriggerTick, TriggerTick, TriggerManual}, skipped)
	mu.Unlock()
	assert.Equal(t, Scheduled, s.State().State)
	assert.Equal(t, job.finished, s.State().LastCompletion)
}

func TestRunOnceKeepsCadence(t *testing.T) {
	job := newBlockingJob()
	close(job.release)
	s := newScheduler(t, job)
	require.NoError(t, s.Start(time.Hour))
	next := s.State().NextFireTime

	out, err := s.RunOnce(testContext(t), true)
	require.NoError(t, err)
	assert.True(t, out.Completed)

	req := <-job.started
	assert.Equal(t, TriggerManual, req.Trigger)
	assert.True(t, req.SuppressMissingConfig)

	snap := s.State()
	assert.Equal(t, next, snap.NextFireTime)
	assert.Equal(t, Scheduled, snap.State)
	assert.Equal(t, job.finished, snap.LastCompletion)
}

func TestFailedRunKeepsLastCompletion(t *testing.T) {
	previous := time.Date(2026, time.October, 1, 9, 0, 0, 0, time.UTC)
	job := newBlockingJob()
	job.err = errors.New("disk full")
	close(job.release)
	s := newScheduler(t, job, WithLastCompletion(previous))

	_, err := s.RunOnce(testContext(t), false)
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, previous, s.State().LastCompletion)

	// the scheduler is still usable after a failure
	job.err = nil
	_, err = s.RunOnce(testContext(t), false)
	require.NoError(t, err)
	assert.Equal(t, job.finished, s.State().LastCompletion)
}

func TestIncompleteRunKeepsLastCompletion(t *testing.T) {
	s := newScheduler(t, JobFunc(func(context.Context, Request) (Outcome, error) {
		return Outcome{Completed: false}, nil
	}))

	out, err := s.RunOnce(testContext(t), true)
	require.NoError(t, err)
	assert.False(t, out.Completed)
	assert.True(t, s.State().LastCompletion.IsZero())
}

func TestRescheduleDuringRun(t *testing.T) {
	job := newBlockingJob()
	s := newScheduler(t, job)
	require.NoError(t, s.Start(time.Hour))

	done := make(chan struct{})
	go func() {
		s.tick()
		close(done)
	}()
	<-job.started

	require.NoError(t, s.Reschedule(3*time.Hour))
	snap := s.State()
	assert.Equal(t, Running, snap.State)
	assert.Equal(t, 3*time.Hour, snap.Interval)
	assert.WithinDuration(t, time.Now().Add(3*time.Hour), snap.NextFireTime, 2*time.Second)

	close(job.release)
	<-done
	assert.EqualValues(t, 1, job.calls.Load())
	assert.Equal(t, job.finished, s.State().LastCompletion)
}

func TestRescheduleWhenNotArmed(t *testing.T) {
	s := newScheduler(t, JobFunc(func(context.Context, Request) (Outcome, error) { return Outcome{}, nil }))

	require.NoError(t, s.Reschedule(time.Hour))
	assert.Equal(t, Idle, s.State().State)
	assert.ErrorIs(t, s.Reschedule(0), config.ErrInvalidInterval)
}

func TestStopDoesNotInterruptRun(t *testing.T) {
	job := newBlockingJob()
	s := newScheduler(t, job)
	require.NoError(t, s.Start(time.Hour))

	done := make(chan struct{})
	go func() {
		s.tick()
		close(done)
	}()
	<-job.started

	s.Stop()
	assert.True(t, s.State().IsRunning)

	close(job.release)
	<-done
	snap := s.State()
	assert.Equal(t, Stopped, snap.State)
	assert.Equal(t, job.finished, snap.LastCompletion)
}

func TestCloseWaitsForRun(t *testing.T) {
	job := newBlockingJob()
	s := New(testContext(t), job)

	go s.tick()
	<-job.started

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned before the run finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(job.release)
	<-closed
	assert.ErrorIs(t, s.Start(time.Hour), ErrClosed)
}

func TestTimerFires(t *testing.T) {
	fired := make(chan Request, 1)
	s := newScheduler(t, JobFunc(func(_ context.Context, req Request) (Outcome, error) {
		select {
		case fired <- req:
		default:
		}
		return Outcome{Completed: true, CompletedAt: time.Now()}, nil
	}))
	require.NoError(t, s.Start(time.Second))

	select {
	case req := <-fired:
		assert.Equal(t, TriggerTick, req.Trigger)
	case <-time.After(5 * time.Second):
		t.Fatal("tick did not fire")
	}
}
