// Package host provides an in-process deferred-execution facility: wake-up
// requests become one-shot cron entries that fire no earlier than their
// earliest-begin date, under an execution budget.
package host

import (
	"sync"
	"time"

	"github.com/0xPuncker/wellness-sync/internal/scheduler"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxPending        = 10
	DefaultExecutionBudget   = 30 * time.Second
	DefaultNetworkRetryDelay = 5 * time.Minute
)

type Options struct {
	MaxPending        int
	ExecutionBudget   time.Duration
	NetworkRetryDelay time.Duration
	// Reachable reports network reachability for requests that need it.
	// Nil means always reachable.
	Reachable func() bool
}

type pendingRequest struct {
	req     scheduler.ScheduledRequest
	entryID cron.EntryID
	token   uint64
}

type LocalScheduler struct {
	cron   *cron.Cron
	logger *logrus.Logger
	opts   Options

	mu        sync.Mutex
	handlers  map[string]scheduler.WakeHandler
	pending   map[string]pendingRequest
	nextToken uint64
	started   bool
}

var _ scheduler.OSScheduler = (*LocalScheduler)(nil)

func New(logger *logrus.Logger, opts Options) *LocalScheduler {
	if opts.MaxPending <= 0 {
		opts.MaxPending = DefaultMaxPending
	}
	if opts.ExecutionBudget <= 0 {
		opts.ExecutionBudget = DefaultExecutionBudget
	}
	if opts.NetworkRetryDelay <= 0 {
		opts.NetworkRetryDelay = DefaultNetworkRetryDelay
	}
	if opts.Reachable == nil {
		opts.Reachable = func() bool { return true }
	}

	return &LocalScheduler{
		cron:     cron.New(),
		logger:   logger,
		opts:     opts,
		handlers: make(map[string]scheduler.WakeHandler),
		pending:  make(map[string]pendingRequest),
	}
}

// oneShot fires once at its date, or immediately when the date has
// already passed. cron asks for the next date again after a run, with a
// time at or past the one returned, and gets the zero time.
type oneShot struct {
	at   time.Time
	last time.Time
}

func (s *oneShot) Next(t time.Time) time.Time {
	if !s.last.IsZero() && !t.Before(s.last) {
		return time.Time{}
	}
	if t.Before(s.at) {
		s.last = s.at
	} else {
		s.last = t
	}
	return s.last
}

func (l *LocalScheduler) Register(jobID string, handler scheduler.WakeHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.handlers[jobID] = handler
	l.logger.WithField("job", jobID).Debug("Wake handler registered")
	return nil
}

// Submit records req, replacing any pending request for the same job.
func (l *LocalScheduler) Submit(req scheduler.ScheduledRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.handlers[req.JobID]; !ok {
		return scheduler.ErrNotRegistered
	}

	if existing, ok := l.pending[req.JobID]; ok {
		l.cron.Remove(existing.entryID)
		delete(l.pending, req.JobID)
	} else if len(l.pending) >= l.opts.MaxPending {
		return scheduler.ErrTooManyPendingRequests
	}

	l.pending[req.JobID] = l.schedule(req)

	l.logger.WithFields(logrus.Fields{
		"job":              req.JobID,
		"earliest_begin":   req.EarliestBegin.Format(time.RFC3339),
		"requires_network": req.RequiresNetwork,
	}).Debug("Wake-up request accepted")
	return nil
}

func (l *LocalScheduler) CancelAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for jobID, p := range l.pending {
		l.cron.Remove(p.entryID)
		delete(l.pending, jobID)
	}
}

func (l *LocalScheduler) Pending() []scheduler.ScheduledRequest {
	l.mu.Lock()
	defer l.mu.Unlock()

	reqs := make([]scheduler.ScheduledRequest, 0, len(l.pending))
	for _, p := range l.pending {
		reqs = append(reqs, p.req)
	}
	return reqs
}

func (l *LocalScheduler) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return
	}
	l.cron.Start()
	l.started = true
	l.logger.Info("Deferred-execution facility started")
}

// Stop halts firing and waits for in-flight handlers. It is meant for
// process shutdown.
func (l *LocalScheduler) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	l.mu.Unlock()

	<-l.cron.Stop().Done()
	l.logger.Info("Deferred-execution facility stopped")
}

func (l *LocalScheduler) fire(jobID string, token uint64) {
	l.mu.Lock()
	p, ok := l.pending[jobID]
	if !ok || p.token != token {
		l.mu.Unlock()
		return
	}
	l.cron.Remove(p.entryID)

	if p.req.RequiresNetwork && !l.opts.Reachable() {
		retry := p.req
		retry.EarliestBegin = time.Now().Add(l.opts.NetworkRetryDelay)
		l.pending[jobID] = l.schedule(retry)
		l.mu.Unlock()

		l.logger.WithField("job", jobID).Info("Network unreachable, deferring wake-up")
		return
	}

	delete(l.pending, jobID)
	handler := l.handlers[jobID]
	l.mu.Unlock()

	w := newWake(jobID, l.logger)
	w.arm(l.opts.ExecutionBudget)
	handler(w)
}

// schedule adds a one-shot cron entry for req. l.mu must be held.
func (l *LocalScheduler) schedule(req scheduler.ScheduledRequest) pendingRequest {
	l.nextToken++
	token := l.nextToken
	id := l.cron.Schedule(&oneShot{at: req.EarliestBegin}, cron.FuncJob(func() {
		l.fire(req.JobID, token)
	}))
	return pendingRequest{req: req, entryID: id, token: token}
}

type wake struct {
	jobID  string
	logger *logrus.Logger

	mu        sync.Mutex
	expire    func()
	timer     *time.Timer
	completed bool
	started   time.Time
}

func newWake(jobID string, logger *logrus.Logger) *wake {
	return &wake{jobID: jobID, logger: logger, started: time.Now()}
}

func (w *wake) JobID() string { return w.jobID }

func (w *wake) SetExpirationHandler(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expire = fn
}

func (w *wake) arm(budget time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timer = time.AfterFunc(budget, w.onBudgetExhausted)
}

func (w *wake) onBudgetExhausted() {
	w.mu.Lock()
	if w.completed {
		w.mu.Unlock()
		return
	}
	fn := w.expire
	w.mu.Unlock()

	w.logger.WithField("job", w.jobID).Warn("Execution budget exhausted")
	if fn != nil {
		fn()
	}
}

func (w *wake) Complete(success bool) {
	w.mu.Lock()
	if w.completed {
		w.mu.Unlock()
		return
	}
	w.completed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.logger.WithFields(logrus.Fields{
		"job":     w.jobID,
		"success": success,
		"elapsed": time.Since(w.started).String(),
	}).Debug("Wake-up slot released")
}
