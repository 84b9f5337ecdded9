package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/0xPuncker/wellness-sync/internal/task"
	"github.com/0xPuncker/wellness-sync/pkg/utils"
	"github.com/sirupsen/logrus"
)

type JobRunner interface {
	RunNow(ctx context.Context, jobID string) (task.Result, error)
}

// Poller runs jobs in-process on a fixed interval while the app is in the
// foreground. It can be started and stopped any number of times.
type Poller struct {
	runner   JobRunner
	jobIDs   []string
	logger   *logrus.Logger
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPoller(runner JobRunner, logger *logrus.Logger, interval time.Duration, jobIDs ...string) *Poller {
	return &Poller{
		runner:   runner,
		jobIDs:   jobIDs,
		logger:   logger,
		interval: interval,
	}
}

// Start begins polling. The first cycle runs immediately. Start on a
// running poller is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop ends polling and cancels an in-flight cycle, returning once the loop
// has exited.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.update(ctx)
	for {
		select {
		case <-ticker.C:
			p.update(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) update(ctx context.Context) {
	p.logger.Debug("Starting poller update cycle")
	for _, id := range p.jobIDs {
		if ctx.Err() != nil {
			return
		}

		result, err := p.runner.RunNow(ctx, id)
		if err != nil {
			p.logger.WithFields(logrus.Fields{
				"job":   id,
				"error": err.Error(),
			}).Debug("Foreground run not started")
			continue
		}

		p.logger.WithFields(logrus.Fields{
			"job":       id,
			"succeeded": result.Succeeded(),
			"duration":  utils.FormatDuration(result.Duration),
		}).Debug("Foreground run finished")
	}
	p.logger.Debug("Completed poller update cycle")
}
