package host

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0xPuncker/wellness-sync/internal/scheduler"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHost(t *testing.T, opts Options) *LocalScheduler {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	l := New(logger, opts)
	l.Start()
	t.Cleanup(l.Stop)
	return l
}

func TestOneShotSchedule(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	future := &oneShot{at: now.Add(time.Minute)}
	assert.Equal(t, now.Add(time.Minute), future.Next(now))
	assert.True(t, future.Next(now.Add(time.Minute)).IsZero(), "no second firing")

	past := &oneShot{at: now.Add(-time.Minute)}
	assert.Equal(t, now, past.Next(now))
	assert.True(t, past.Next(now.Add(time.Millisecond)).IsZero())
}

func TestSubmitFiresHandler(t *testing.T) {
	l := newTestHost(t, Options{})

	fired := make(chan scheduler.Wake, 1)
	require.NoError(t, l.Register("data-sync", func(w scheduler.Wake) {
		fired <- w
		w.Complete(true)
	}))

	require.NoError(t, l.Submit(scheduler.ScheduledRequest{
		JobID:         "data-sync",
		EarliestBegin: time.Now().Add(50 * time.Millisecond),
	}))
	assert.Len(t, l.Pending(), 1)

	select {
	case w := <-fired:
		assert.Equal(t, "data-sync", w.JobID())
	case <-time.After(2 * time.Second):
		t.Fatal("wake-up never fired")
	}
	assert.Empty(t, l.Pending())
}

func TestSubmitUnregisteredJob(t *testing.T) {
	l := newTestHost(t, Options{})

	err := l.Submit(scheduler.ScheduledRequest{JobID: "unknown", EarliestBegin: time.Now()})
	assert.ErrorIs(t, err, scheduler.ErrNotRegistered)
}

func TestSubmitReplacesPendingRequest(t *testing.T) {
	l := newTestHost(t, Options{MaxPending: 1})

	var fires atomic.Int32
	require.NoError(t, l.Register("data-sync", func(w scheduler.Wake) {
		fires.Add(1)
		w.Complete(true)
	}))

	later := time.Now().Add(time.Hour)
	require.NoError(t, l.Submit(scheduler.ScheduledRequest{JobID: "data-sync", EarliestBegin: later}))
	require.NoError(t, l.Submit(scheduler.ScheduledRequest{JobID: "data-sync", EarliestBegin: later.Add(time.Hour)}))

	pending := l.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, later.Add(time.Hour), pending[0].EarliestBegin)
	assert.Equal(t, int32(0), fires.Load())
}

func TestMaxPending(t *testing.T) {
	l := newTestHost(t, Options{MaxPending: 1})

	handler := func(w scheduler.Wake) { w.Complete(true) }
	require.NoError(t, l.Register("data-sync", handler))
	require.NoError(t, l.Register("token-refresh", handler))

	later := time.Now().Add(time.Hour)
	require.NoError(t, l.Submit(scheduler.ScheduledRequest{JobID: "data-sync", EarliestBegin: later}))
	err := l.Submit(scheduler.ScheduledRequest{JobID: "token-refresh", EarliestBegin: later})
	assert.ErrorIs(t, err, scheduler.ErrTooManyPendingRequests)
}

func TestCancelAll(t *testing.T) {
	l := newTestHost(t, Options{})

	var fires atomic.Int32
	require.NoError(t, l.Register("data-sync", func(w scheduler.Wake) {
		fires.Add(1)
		w.Complete(true)
	}))

	require.NoError(t, l.Submit(scheduler.ScheduledRequest{
		JobID:         "data-sync",
		EarliestBegin: time.Now().Add(100 * time.Millisecond),
	}))
	l.CancelAll()
	assert.Empty(t, l.Pending())

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), fires.Load())
}

func TestExecutionBudgetCallsExpirationHandler(t *testing.T) {
	l := newTestHost(t, Options{ExecutionBudget: 50 * time.Millisecond})

	expired := make(chan struct{})
	var once sync.Once
	require.NoError(t, l.Register("data-sync", func(w scheduler.Wake) {
		w.SetExpirationHandler(func() {
			once.Do(func() { close(expired) })
			w.Complete(false)
		})
	}))

	require.NoError(t, l.Submit(scheduler.ScheduledRequest{JobID: "data-sync", EarliestBegin: time.Now()}))

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("expiration handler was not called")
	}
}

func TestCompletedWakeIsNotExpired(t *testing.T) {
	l := newTestHost(t, Options{ExecutionBudget: 50 * time.Millisecond})

	var expirations atomic.Int32
	done := make(chan struct{})
	require.NoError(t, l.Register("data-sync", func(w scheduler.Wake) {
		w.SetExpirationHandler(func() { expirations.Add(1) })
		w.Complete(true)
		close(done)
	}))

	require.NoError(t, l.Submit(scheduler.ScheduledRequest{JobID: "data-sync", EarliestBegin: time.Now()}))
	<-done
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), expirations.Load())
}

func TestUnreachableNetworkDefersWake(t *testing.T) {
	var reachable atomic.Bool
	l := newTestHost(t, Options{
		NetworkRetryDelay: 50 * time.Millisecond,
		Reachable:         reachable.Load,
	})

	fired := make(chan struct{}, 1)
	require.NoError(t, l.Register("token-refresh", func(w scheduler.Wake) {
		w.Complete(true)
		fired <- struct{}{}
	}))

	require.NoError(t, l.Submit(scheduler.ScheduledRequest{
		JobID:           "token-refresh",
		EarliestBegin:   time.Now(),
		RequiresNetwork: true,
	}))

	select {
	case <-fired:
		t.Fatal("fired while network unreachable")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Len(t, l.Pending(), 1, "request stays pending while unreachable")

	reachable.Store(true)
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("wake-up never fired after network came back")
	}
}
