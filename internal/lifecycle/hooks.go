// Package lifecycle switches the process between foreground polling and
// background wake-ups.
package lifecycle

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type State string

const (
	StateActive     State = "active"
	StateBackground State = "background"
)

type BackgroundScheduler interface {
	OnEnteringBackground()
	OnBecomingActive()
}

// Hooks forwards lifecycle transitions to the scheduler and the poller.
// Repeated transitions into the same state are forwarded again, refreshing
// the pending wake-ups.
type Hooks struct {
	scheduler BackgroundScheduler
	poller    *Poller
	logger    *logrus.Logger

	mu    sync.Mutex
	state State
}

// NewHooks starts in the active state. poller may be nil.
func NewHooks(scheduler BackgroundScheduler, poller *Poller, logger *logrus.Logger) *Hooks {
	return &Hooks{
		scheduler: scheduler,
		poller:    poller,
		logger:    logger,
		state:     StateActive,
	}
}

func (h *Hooks) EnteringBackground() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.poller != nil {
		h.poller.Stop()
	}
	h.scheduler.OnEnteringBackground()
	h.state = StateBackground
	h.logger.Info("Entered background")
}

func (h *Hooks) BecomingActive() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.scheduler.OnBecomingActive()
	if h.poller != nil {
		h.poller.Start()
	}
	h.state = StateActive
	h.logger.Info("Became active")
}

func (h *Hooks) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}
