package lifecycle

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/0xPuncker/wellness-sync/internal/task"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	block bool
	err   error
}

func (r *fakeRunner) RunNow(ctx context.Context, jobID string) (task.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, jobID)
	r.mu.Unlock()

	if r.err != nil {
		return task.Result{}, r.err
	}
	if r.block {
		<-ctx.Done()
		return task.Result{Cancelled: true, Err: task.ErrCancelled}, nil
	}
	return task.Result{}, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakeScheduler struct {
	mu     sync.Mutex
	events []string
}

func (s *fakeScheduler) OnEnteringBackground() { s.record("background") }
func (s *fakeScheduler) OnBecomingActive()     { s.record("active") }

func (s *fakeScheduler) record(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestPollerRunsJobsUntilStopped(t *testing.T) {
	runner := &fakeRunner{}
	poller := NewPoller(runner, quietLogger(), 20*time.Millisecond, "data-sync")

	poller.Start()
	assert.True(t, poller.Running())
	assert.Eventually(t, func() bool { return runner.callCount() >= 3 }, time.Second, 5*time.Millisecond)

	poller.Stop()
	assert.False(t, poller.Running())

	stopped := runner.callCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, stopped, runner.callCount())
}

func TestPollerRestart(t *testing.T) {
	runner := &fakeRunner{}
	poller := NewPoller(runner, quietLogger(), time.Hour, "data-sync", "token-refresh")

	poller.Start()
	poller.Start()
	assert.Eventually(t, func() bool { return runner.callCount() == 2 }, time.Second, 5*time.Millisecond)
	poller.Stop()
	poller.Stop()

	poller.Start()
	assert.Eventually(t, func() bool { return runner.callCount() == 4 }, time.Second, 5*time.Millisecond)
	poller.Stop()
}

func TestPollerStopCancelsInFlightRun(t *testing.T) {
	runner := &fakeRunner{block: true}
	poller := NewPoller(runner, quietLogger(), time.Hour, "data-sync")

	poller.Start()
	require.Eventually(t, func() bool { return runner.callCount() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		poller.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return while a run was in flight")
	}
}

func TestPollerToleratesRunErrors(t *testing.T) {
	runner := &fakeRunner{err: errors.New("job data-sync is already running")}
	poller := NewPoller(runner, quietLogger(), 10*time.Millisecond, "data-sync")

	poller.Start()
	assert.Eventually(t, func() bool { return runner.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	poller.Stop()
}

func TestHooks(t *testing.T) {
	scheduler := &fakeScheduler{}
	runner := &fakeRunner{}
	poller := NewPoller(runner, quietLogger(), time.Hour, "data-sync")
	hooks := NewHooks(scheduler, poller, quietLogger())

	assert.Equal(t, StateActive, hooks.State())

	hooks.BecomingActive()
	assert.True(t, poller.Running())

	hooks.EnteringBackground()
	assert.Equal(t, StateBackground, hooks.State())
	assert.False(t, poller.Running())

	hooks.EnteringBackground()
	hooks.BecomingActive()
	assert.Equal(t, StateActive, hooks.State())
	assert.True(t, poller.Running())
	poller.Stop()

	assert.Equal(t, []string{"active", "background", "background", "active"}, scheduler.events)
}

func TestHooksWithoutPoller(t *testing.T) {
	scheduler := &fakeScheduler{}
	hooks := NewHooks(scheduler, nil, quietLogger())

	hooks.EnteringBackground()
	hooks.BecomingActive()

	assert.Equal(t, []string{"background", "active"}, scheduler.events)
}
