package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type goExecutor struct{}

func (goExecutor) Go(fn func(), _ func()) bool {
	go fn()
	return true
}

// droppingExecutor accepts work and then abandons it without running it.
type droppingExecutor struct{}

func (droppingExecutor) Go(_ func(), abandoned func()) bool {
	go abandoned()
	return true
}

type rejectingExecutor struct{}

func (rejectingExecutor) Go(func(), func()) bool { return false }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func waitDone(t *testing.T, tk *Task) {
	t.Helper()
	select {
	case <-tk.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
}

func collectResults(tk *Task) (*[]Result, *sync.Mutex) {
	var mu sync.Mutex
	results := []Result{}
	tk.OnComplete(func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})
	return &results, &mu
}

func TestTaskSuccess(t *testing.T) {
	var ran atomic.Bool
	tk := New("ok", func(ctx context.Context, tk *Task) error {
		ran.Store(true)
		return nil
	}, WithLogger(quietLogger()))
	results, mu := collectResults(tk)

	assert.Equal(t, Idle, tk.State())
	tk.Start(goExecutor{})
	waitDone(t, tk)

	assert.True(t, ran.Load())
	assert.Equal(t, Finished, tk.State())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *results, 1)
	assert.True(t, (*results)[0].Succeeded())
}

func TestTaskErrorIsSwallowed(t *testing.T) {
	expected := errors.New("fetch failed")
	tk := New("failing", func(ctx context.Context, tk *Task) error {
		return expected
	}, WithLogger(quietLogger()))
	results, mu := collectResults(tk)

	tk.Start(goExecutor{})
	waitDone(t, tk)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *results, 1)
	assert.False(t, (*results)[0].Cancelled)
	assert.ErrorIs(t, (*results)[0].Err, expected)
	assert.False(t, (*results)[0].Succeeded())
}

func TestTaskPanicIsRecovered(t *testing.T) {
	tk := New("panicking", func(ctx context.Context, tk *Task) error {
		panic("boom")
	}, WithLogger(quietLogger()))
	results, mu := collectResults(tk)

	tk.Start(goExecutor{})
	waitDone(t, tk)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *results, 1)
	assert.Error(t, (*results)[0].Err)
}

func TestCancelBeforeStart(t *testing.T) {
	var ran atomic.Bool
	tk := New("never", func(ctx context.Context, tk *Task) error {
		ran.Store(true)
		return nil
	}, WithLogger(quietLogger()))
	results, mu := collectResults(tk)

	tk.Cancel()
	assert.Equal(t, Finished, tk.State())
	assert.True(t, tk.IsCancelled())

	tk.Start(goExecutor{})
	tk.Cancel()
	waitDone(t, tk)

	assert.False(t, ran.Load())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *results, 1)
	assert.True(t, (*results)[0].Cancelled)
}

func TestCancelWhileExecuting(t *testing.T) {
	entered := make(chan struct{})
	var afterCheckpoint atomic.Bool

	tk := New("cooperative", func(ctx context.Context, tk *Task) error {
		close(entered)
		<-ctx.Done()
		if err := tk.Checkpoint(); err != nil {
			return err
		}
		afterCheckpoint.Store(true)
		return nil
	}, WithLogger(quietLogger()))
	results, mu := collectResults(tk)

	tk.Start(goExecutor{})
	<-entered
	assert.Equal(t, Executing, tk.State())

	tk.Cancel()
	waitDone(t, tk)

	assert.False(t, afterCheckpoint.Load())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *results, 1)
	assert.True(t, (*results)[0].Cancelled)
	assert.ErrorIs(t, (*results)[0].Err, ErrCancelled)
}

func TestStartIsIdempotent(t *testing.T) {
	var runs atomic.Int32
	release := make(chan struct{})
	tk := New("once", func(ctx context.Context, tk *Task) error {
		runs.Add(1)
		<-release
		return nil
	}, WithLogger(quietLogger()))
	results, mu := collectResults(tk)

	tk.Start(goExecutor{})
	tk.Start(goExecutor{})
	close(release)
	waitDone(t, tk)
	tk.Start(goExecutor{})

	assert.Equal(t, int32(1), runs.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, *results, 1)
}

func TestRejectedByExecutor(t *testing.T) {
	tk := New("rejected", func(ctx context.Context, tk *Task) error {
		return nil
	}, WithLogger(quietLogger()))
	results, mu := collectResults(tk)

	tk.Start(rejectingExecutor{})

	assert.Equal(t, Finished, tk.State())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *results, 1)
	assert.ErrorIs(t, (*results)[0].Err, ErrNotStarted)
}

func TestAbandonedByExecutor(t *testing.T) {
	var ran atomic.Bool
	tk := New("abandoned", func(ctx context.Context, tk *Task) error {
		ran.Store(true)
		return nil
	}, WithLogger(quietLogger()))
	results, mu := collectResults(tk)

	tk.Start(droppingExecutor{})
	waitDone(t, tk)

	assert.False(t, ran.Load())
	assert.Equal(t, Finished, tk.State())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *results, 1)
	assert.ErrorIs(t, (*results)[0].Err, ErrNotStarted)
}

func TestObserverOrdering(t *testing.T) {
	var (
		mu      sync.Mutex
		changes []Change
		seen    []State
	)

	var tk *Task
	tk = New("observed", func(ctx context.Context, tk *Task) error {
		return nil
	}, WithLogger(quietLogger()), WithObserver(func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
		seen = append(seen, tk.State())
	}))

	tk.Start(goExecutor{})
	waitDone(t, tk)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Change{
		{Phase: WillChange, From: Idle, To: Executing},
		{Phase: DidChange, From: Idle, To: Executing},
		{Phase: WillChange, From: Executing, To: Finished},
		{Phase: DidChange, From: Executing, To: Finished},
	}, changes)
	assert.Equal(t, []State{Idle, Executing, Executing, Finished}, seen)
}

func TestCompletionFiresOnceUnderRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		var fired atomic.Int32
		tk := New("race", func(ctx context.Context, tk *Task) error {
			return tk.Checkpoint()
		}, WithLogger(quietLogger()))
		tk.OnComplete(func(Result) { fired.Add(1) })

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); tk.Start(goExecutor{}) }()
		go func() { defer wg.Done(); tk.Cancel() }()
		wg.Wait()
		waitDone(t, tk)

		assert.Equal(t, int32(1), fired.Load())
	}
}

func TestIsValidTransition(t *testing.T) {
	assert.True(t, IsValidTransition(Idle, Executing))
	assert.True(t, IsValidTransition(Idle, Finished))
	assert.True(t, IsValidTransition(Executing, Finished))
	assert.False(t, IsValidTransition(Finished, Executing))
	assert.False(t, IsValidTransition(Executing, Idle))
	assert.False(t, IsValidTransition(Finished, Idle))
}
