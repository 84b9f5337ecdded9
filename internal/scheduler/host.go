package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/0xPuncker/wellness-sync/internal/task"
)

var (
	ErrTooManyPendingRequests = errors.New("too many pending wake-up requests")
	ErrNotRegistered          = errors.New("job identifier not registered")
	ErrSchedulerStopped       = errors.New("deferred-execution facility stopped")
)

// SchedulingError reports a wake-up request or registration the host
// facility refused.
type SchedulingError struct {
	JobID string
	Err   error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("scheduling %s: %v", e.JobID, e.Err)
}

func (e *SchedulingError) Unwrap() error {
	return e.Err
}

// JobDefinition identifies a recurring job. Definitions are immutable once
// handed to the Scheduler.
type JobDefinition struct {
	ID              string
	Interval        time.Duration
	RequiresNetwork bool
	Work            task.WorkFunc
}

// ScheduledRequest asks the host facility to wake the job no earlier than
// EarliestBegin.
type ScheduledRequest struct {
	JobID           string
	EarliestBegin   time.Time
	RequiresNetwork bool
}

func (d JobDefinition) Request(now time.Time) ScheduledRequest {
	return ScheduledRequest{
		JobID:           d.ID,
		EarliestBegin:   now.Add(d.Interval),
		RequiresNetwork: d.RequiresNetwork,
	}
}

// Wake is one invocation of a registered job by the host facility.
type Wake interface {
	JobID() string
	// SetExpirationHandler installs fn to be called when the host is about
	// to exhaust the execution budget of this wake-up.
	SetExpirationHandler(fn func())
	// Complete frees the execution slot. Only the first call counts.
	Complete(success bool)
}

type WakeHandler func(w Wake)

// OSScheduler is the deferred-execution facility. It holds at most one
// pending request per job identifier.
type OSScheduler interface {
	Register(jobID string, handler WakeHandler) error
	Submit(req ScheduledRequest) error
	CancelAll()
}
