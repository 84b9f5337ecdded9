// Package task wraps a cooperative function as a start/cancel/finish unit
// of work with an observable lifecycle.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrCancelled is returned from Checkpoint once cancellation was requested.
	ErrCancelled  = errors.New("task cancelled")
	ErrNotStarted = errors.New("executor rejected task")
)

// Executor is the concurrency substrate a task is handed to on Start.
type Executor interface {
	// Go runs fn asynchronously and reports whether it was accepted. Work
	// that is accepted but later dropped without running must call
	// abandoned instead.
	Go(fn func(), abandoned func()) bool
}

// WorkFunc is the wrapped cooperative function. It must call t.Checkpoint
// (or observe ctx) at every suspension point.
type WorkFunc func(ctx context.Context, t *Task) error

type Result struct {
	Cancelled bool
	Err       error
	Duration  time.Duration
}

func (r Result) Succeeded() bool {
	return !r.Cancelled && r.Err == nil
}

type Option func(*Task)

func WithLogger(logger *logrus.Logger) Option {
	return func(t *Task) { t.logger = logger }
}

// WithObserver registers fn to receive every state change. fn must not
// call Start or Cancel.
func WithObserver(fn func(Change)) Option {
	return func(t *Task) { t.observer = fn }
}

func WithContext(ctx context.Context) Option {
	return func(t *Task) { t.parent = ctx }
}

type Task struct {
	id   string
	name string
	work WorkFunc

	parent   context.Context
	ctx      context.Context
	cancelFn context.CancelFunc
	logger   *logrus.Logger
	observer func(Change)

	// transitionMu serializes whole transitions including observer calls;
	// mu guards the fields below and is never held while calling out.
	transitionMu    sync.Mutex
	mu              sync.Mutex
	state           State
	cancelRequested bool
	onComplete      func(Result)
	startedAt       time.Time

	done chan struct{}
}

func New(name string, work WorkFunc, opts ...Option) *Task {
	t := &Task{
		id:     uuid.NewString(),
		name:   name,
		work:   work,
		parent: context.Background(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logrus.New()
	}
	t.ctx, t.cancelFn = context.WithCancel(t.parent)
	return t
}

func (t *Task) ID() string   { return t.id }
func (t *Task) Name() string { return t.name }

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelRequested
}

// Done is closed once the task reaches Finished and its completion
// callback has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// OnComplete sets the completion callback. It fires exactly once, after the
// task reaches Finished. Setting it after the task finished has no effect.
func (t *Task) OnComplete(fn func(Result)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onComplete = fn
}

// Checkpoint returns ErrCancelled once cancellation has been requested.
func (t *Task) Checkpoint() error {
	if t.IsCancelled() {
		return ErrCancelled
	}
	return nil
}

// Start hands the work to exec. It is a no-op unless the task is Idle.
func (t *Task) Start(exec Executor) {
	if !t.transition(Idle, Executing) {
		return
	}

	t.mu.Lock()
	t.startedAt = time.Now()
	t.mu.Unlock()

	if !exec.Go(t.run, t.abandon) {
		t.abandon()
	}
}

func (t *Task) abandon() {
	t.finish(Executing, Result{Cancelled: t.IsCancelled(), Err: ErrNotStarted})
}

// Cancel requests cooperative cancellation. An Idle task finishes at once
// without running its work; a running task is only flagged.
func (t *Task) Cancel() {
	t.mu.Lock()
	if t.cancelRequested {
		t.mu.Unlock()
		return
	}
	t.cancelRequested = true
	t.mu.Unlock()

	t.cancelFn()
	t.finish(Idle, Result{Cancelled: true})
}

func (t *Task) run() {
	err := t.invoke()

	cancelled := t.IsCancelled()
	if err != nil && !cancelled {
		t.logger.WithFields(logrus.Fields{
			"task":   t.name,
			"run_id": t.id,
			"error":  err.Error(),
		}).Error("Task work failed")
	}

	t.finish(Executing, Result{Cancelled: cancelled, Err: err})
}

func (t *Task) invoke() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.name, r)
		}
	}()
	return t.work(t.ctx, t)
}

func (t *Task) finish(from State, result Result) {
	if !t.transition(from, Finished) {
		return
	}

	t.mu.Lock()
	if !t.startedAt.IsZero() {
		result.Duration = time.Since(t.startedAt)
	}
	callback := t.onComplete
	t.onComplete = nil
	t.mu.Unlock()

	t.cancelFn()
	if callback != nil {
		callback(result)
	}
	close(t.done)
}

// transition moves the task from -> to when the task is currently in from,
// bracketing the mutation with WillChange and DidChange notifications.
func (t *Task) transition(from, to State) bool {
	t.transitionMu.Lock()
	defer t.transitionMu.Unlock()

	t.mu.Lock()
	current := t.state
	t.mu.Unlock()

	if current != from || !IsValidTransition(from, to) {
		return false
	}

	t.notify(Change{Phase: WillChange, From: from, To: to})
	t.mu.Lock()
	t.state = to
	t.mu.Unlock()
	t.notify(Change{Phase: DidChange, From: from, To: to})

	t.logger.WithFields(logrus.Fields{
		"task":   t.name,
		"run_id": t.id,
		"from":   from.String(),
		"to":     to.String(),
	}).Debug("Task state changed")
	return true
}

func (t *Task) notify(c Change) {
	if t.observer != nil {
		t.observer(c)
	}
}
