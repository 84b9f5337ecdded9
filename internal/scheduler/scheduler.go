// Package scheduler keeps the recurring background jobs scheduled with the
// host deferred-execution facility and runs each wake-up as a cancelable
// task.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xPuncker/wellness-sync/internal/task"
	"github.com/0xPuncker/wellness-sync/pkg/types"
	"github.com/0xPuncker/wellness-sync/pkg/utils"
	"github.com/sirupsen/logrus"
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeSkipped   = "skipped"
)

// RunObserver is told about every finished run.
type RunObserver interface {
	ObserveRun(outcome types.RunOutcome)
}

type Options struct {
	BackgroundProcessingEnabled bool
	Now                         func() time.Time
}

type jobState struct {
	def          JobDefinition
	registered   bool
	running      atomic.Bool
	nextRunAfter time.Time
	lastRunAt    time.Time
	lastOutcome  string
	runs         int
}

type Scheduler struct {
	host      OSScheduler
	exec      task.Executor
	logger    *logrus.Logger
	enabled   bool
	now       func() time.Time
	mu        sync.Mutex
	jobs      map[string]*jobState
	order     []string
	observers []RunObserver
}

func New(host OSScheduler, exec task.Executor, logger *logrus.Logger, opts Options) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		host:    host,
		exec:    exec,
		logger:  logger,
		enabled: opts.BackgroundProcessingEnabled,
		now:     opts.Now,
		jobs:    make(map[string]*jobState),
	}
}

// AddJob adds a job definition. Definitions must be added before
// RegisterJobs.
func (s *Scheduler) AddJob(def JobDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("job id cannot be empty")
	}
	if def.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", def.ID)
	}
	if def.Work == nil {
		return fmt.Errorf("job %s: work function is required", def.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[def.ID]; exists {
		return fmt.Errorf("job %s already defined", def.ID)
	}
	s.jobs[def.ID] = &jobState{def: def}
	s.order = append(s.order, def.ID)
	return nil
}

func (s *Scheduler) AddObserver(o RunObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Scheduler) Enabled() bool {
	return s.enabled
}

// RegisterJobs registers every job's wake handler with the host. Calling it
// again only retries registrations that previously failed.
func (s *Scheduler) RegisterJobs() {
	if !s.enabled {
		s.logger.Info("Background processing disabled, skipping job registration")
		return
	}

	for _, state := range s.pending() {
		id := state.def.ID
		if err := s.host.Register(id, s.wakeHandler(id)); err != nil {
			s.logger.WithFields(logrus.Fields{
				"job":   id,
				"error": (&SchedulingError{JobID: id, Err: err}).Error(),
			}).Warn("Failed to register background job")
			continue
		}

		s.mu.Lock()
		state.registered = true
		s.mu.Unlock()

		s.logger.WithFields(logrus.Fields{
			"job":              id,
			"interval":         state.def.Interval.String(),
			"requires_network": state.def.RequiresNetwork,
		}).Info("Background job registered")
	}
}

func (s *Scheduler) pending() []*jobState {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make([]*jobState, 0, len(s.order))
	for _, id := range s.order {
		if state := s.jobs[id]; !state.registered {
			states = append(states, state)
		}
	}
	return states
}

// ScheduleNext asks the host to wake jobID one interval from now.
func (s *Scheduler) ScheduleNext(jobID string) error {
	s.mu.Lock()
	state, exists := s.jobs[jobID]
	if !exists {
		s.mu.Unlock()
		return &SchedulingError{JobID: jobID, Err: ErrNotRegistered}
	}
	req := state.def.Request(s.now())
	s.mu.Unlock()

	if err := s.host.Submit(req); err != nil {
		schedErr := &SchedulingError{JobID: jobID, Err: err}
		s.logger.WithFields(logrus.Fields{
			"job":   jobID,
			"error": schedErr.Error(),
		}).Warn("Failed to schedule next wake-up")
		return schedErr
	}

	s.mu.Lock()
	state.nextRunAfter = req.EarliestBegin
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"job":            jobID,
		"earliest_begin": req.EarliestBegin.Format(time.RFC3339),
	}).Debug("Next wake-up requested")
	return nil
}

// OnEnteringBackground refreshes the pending wake-up of every job.
func (s *Scheduler) OnEnteringBackground() {
	if !s.enabled {
		return
	}

	s.RegisterJobs()

	for _, id := range s.registeredIDs() {
		// Failures are logged by ScheduleNext; the next hook retries.
		_ = s.ScheduleNext(id)
	}
}

// OnBecomingActive drops every pending wake-up; foreground code paths take
// over while the process is live.
func (s *Scheduler) OnBecomingActive() {
	if !s.enabled {
		return
	}

	s.host.CancelAll()

	s.mu.Lock()
	for _, state := range s.jobs {
		state.nextRunAfter = time.Time{}
	}
	s.mu.Unlock()

	s.logger.Debug("Cancelled pending background wake-ups")
}

func (s *Scheduler) registeredIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if s.jobs[id].registered {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Scheduler) wakeHandler(jobID string) WakeHandler {
	return func(w Wake) {
		s.handleWake(jobID, w)
	}
}

func (s *Scheduler) handleWake(jobID string, w Wake) {
	s.mu.Lock()
	state, exists := s.jobs[jobID]
	s.mu.Unlock()
	if !exists {
		s.logger.WithField("job", jobID).Warn("Wake-up for unknown job")
		w.Complete(false)
		return
	}

	// Reschedule before any work so a run that never returns cannot strand
	// the job.
	_ = s.ScheduleNext(jobID)

	s.logger.WithField("job", jobID).Info("Background wake-up received")

	t, ok := s.newRun(state, nil)
	if !ok {
		w.Complete(false)
		return
	}

	// The completion callback goes first: the budget may expire as soon as
	// the expiration handler is installed.
	t.OnComplete(func(result task.Result) {
		s.finishRun(state, t, result)
		w.Complete(result.Succeeded())
	})

	w.SetExpirationHandler(func() {
		s.logger.WithFields(logrus.Fields{
			"job":    jobID,
			"run_id": t.ID(),
		}).Warn("Execution budget expiring, cancelling run")
		t.Cancel()
	})

	t.Start(s.exec)
}

// RunNow runs jobID in-process and waits for it to finish or ctx to end.
// Cancelling ctx cancels the run cooperatively.
func (s *Scheduler) RunNow(ctx context.Context, jobID string) (task.Result, error) {
	s.mu.Lock()
	state, exists := s.jobs[jobID]
	s.mu.Unlock()
	if !exists {
		return task.Result{}, fmt.Errorf("job %s not found", jobID)
	}

	t, ok := s.newRun(state, ctx)
	if !ok {
		return task.Result{}, fmt.Errorf("job %s is already running", jobID)
	}

	resultCh := make(chan task.Result, 1)
	t.OnComplete(func(result task.Result) {
		s.finishRun(state, t, result)
		resultCh <- result
	})
	t.Start(s.exec)

	select {
	case result := <-resultCh:
		return result, nil
	case <-ctx.Done():
		t.Cancel()
		return <-resultCh, nil
	}
}

// newRun builds the task for one run, refusing when the same job is
// already running.
func (s *Scheduler) newRun(state *jobState, ctx context.Context) (*task.Task, bool) {
	id := state.def.ID
	if !state.running.CompareAndSwap(false, true) {
		s.logger.WithField("job", id).Warn("Job still running, skipping run")
		s.notify(types.RunOutcome{JobID: id, StartedAt: s.now(), Err: "already running"}, state, OutcomeSkipped)
		return nil, false
	}

	opts := []task.Option{task.WithLogger(s.logger)}
	if ctx != nil {
		opts = append(opts, task.WithContext(context.WithoutCancel(ctx)))
	}
	return task.New(id, state.def.Work, opts...), true
}

func (s *Scheduler) finishRun(state *jobState, t *task.Task, result task.Result) {
	state.running.Store(false)

	outcome := OutcomeSucceeded
	switch {
	case result.Cancelled:
		outcome = OutcomeCancelled
	case result.Err != nil:
		outcome = OutcomeFailed
	}

	run := types.RunOutcome{
		JobID:     state.def.ID,
		RunID:     t.ID(),
		Success:   result.Succeeded(),
		Cancelled: result.Cancelled,
		Duration:  result.Duration,
		StartedAt: s.now().Add(-result.Duration),
	}
	if result.Err != nil {
		run.Err = result.Err.Error()
	}

	fields := logrus.Fields{
		"job":      run.JobID,
		"run_id":   run.RunID,
		"outcome":  outcome,
		"duration": utils.FormatDuration(result.Duration),
	}
	if result.Err != nil {
		fields["error"] = run.Err
	}
	if outcome == OutcomeSucceeded {
		s.logger.WithFields(fields).Info("Job run completed successfully")
	} else {
		s.logger.WithFields(fields).Warn("Job run did not succeed")
	}

	s.notify(run, state, outcome)
}

func (s *Scheduler) notify(run types.RunOutcome, state *jobState, outcome string) {
	run.Outcome = outcome

	s.mu.Lock()
	if outcome != OutcomeSkipped {
		state.runs++
		state.lastRunAt = run.StartedAt
	}
	state.lastOutcome = outcome
	observers := append([]RunObserver(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range observers {
		o.ObserveRun(run)
	}
}

func (s *Scheduler) Jobs() []types.JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]types.JobInfo, 0, len(s.jobs))
	for _, id := range s.order {
		state := s.jobs[id]
		jobs = append(jobs, types.JobInfo{
			ID:              id,
			Interval:        state.def.Interval,
			RequiresNetwork: state.def.RequiresNetwork,
			Registered:      state.registered,
			NextRunAfter:    state.nextRunAfter,
			LastRunAt:       state.lastRunAt,
			LastOutcome:     state.lastOutcome,
			Runs:            state.runs,
		})
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}
