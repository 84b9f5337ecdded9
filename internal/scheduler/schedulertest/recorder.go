// Package schedulertest provides a recording stand-in for the host
// deferred-execution facility.
package schedulertest

import (
	"fmt"
	"sync"

	"github.com/0xPuncker/wellness-sync/internal/scheduler"
)

// Recorder implements scheduler.OSScheduler in memory. Wake-ups only happen
// when a test calls Fire.
type Recorder struct {
	mu          sync.Mutex
	handlers    map[string]scheduler.WakeHandler
	pending     map[string]scheduler.ScheduledRequest
	submitted   []scheduler.ScheduledRequest
	events      []string
	cancelCalls int

	RegisterErr error
	SubmitErr   error
	// ExpireOnInstall makes every wake run its expiration handler as soon
	// as it is set, as a host already out of budget would.
	ExpireOnInstall bool
}

var _ scheduler.OSScheduler = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{
		handlers: make(map[string]scheduler.WakeHandler),
		pending:  make(map[string]scheduler.ScheduledRequest),
	}
}

func (r *Recorder) Register(jobID string, handler scheduler.WakeHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.RegisterErr != nil {
		return r.RegisterErr
	}
	r.handlers[jobID] = handler
	r.events = append(r.events, "register:"+jobID)
	return nil
}

func (r *Recorder) Submit(req scheduler.ScheduledRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.SubmitErr != nil {
		return r.SubmitErr
	}
	if _, ok := r.handlers[req.JobID]; !ok {
		return scheduler.ErrNotRegistered
	}
	r.pending[req.JobID] = req
	r.submitted = append(r.submitted, req)
	r.events = append(r.events, "submit:"+req.JobID)
	return nil
}

func (r *Recorder) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = make(map[string]scheduler.ScheduledRequest)
	r.cancelCalls++
	r.events = append(r.events, "cancel_all")
}

// Record appends a custom marker to the event log so tests can order their
// own side effects against scheduler calls.
func (r *Recorder) Record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Fire consumes the pending request for jobID and invokes its handler.
func (r *Recorder) Fire(jobID string) (*Wake, error) {
	r.mu.Lock()
	handler, ok := r.handlers[jobID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("job %s not registered", jobID)
	}
	delete(r.pending, jobID)
	r.events = append(r.events, "fire:"+jobID)
	expireOnInstall := r.ExpireOnInstall
	r.mu.Unlock()

	w := &Wake{id: jobID, completed: make(chan bool, 1), expireOnInstall: expireOnInstall}
	handler(w)
	return w, nil
}

func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *Recorder) Submitted() []scheduler.ScheduledRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scheduler.ScheduledRequest(nil), r.submitted...)
}

func (r *Recorder) Pending(jobID string) (scheduler.ScheduledRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.pending[jobID]
	return req, ok
}

func (r *Recorder) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Recorder) CancelCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelCalls
}

// Wake is the scheduler.Wake handed to handlers by Fire.
type Wake struct {
	id              string
	mu              sync.Mutex
	expire          func()
	expireOnInstall bool
	once            sync.Once
	completed       chan bool
}

func (w *Wake) JobID() string { return w.id }

func (w *Wake) SetExpirationHandler(fn func()) {
	w.mu.Lock()
	w.expire = fn
	w.mu.Unlock()

	if w.expireOnInstall {
		fn()
	}
}

func (w *Wake) Complete(success bool) {
	w.once.Do(func() { w.completed <- success })
}

// Expire simulates the host running out of execution budget.
func (w *Wake) Expire() {
	w.mu.Lock()
	fn := w.expire
	w.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Completed delivers the success flag passed to Complete.
func (w *Wake) Completed() <-chan bool {
	return w.completed
}
