package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/0xPuncker/wellness-sync/internal/cache"
	"github.com/0xPuncker/wellness-sync/internal/scheduler"
	"github.com/0xPuncker/wellness-sync/internal/task"
	"github.com/0xPuncker/wellness-sync/pkg/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const LastSyncCacheKey = "sync:last_success"

// SyncSummary is stored in the cache after every successful submission.
type SyncSummary struct {
	At          time.Time `json:"at"`
	Records     int       `json:"records"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// DataSync fetches the trailing window of every category and submits the
// merged records as one batch.
type DataSync struct {
	Auth       AuthState
	Sync       SyncService
	Cache      *cache.Store
	Categories []types.Category
	Window     time.Duration
	Interval   time.Duration
	Logger     *logrus.Logger
	Now        func() time.Time
}

func (j *DataSync) Definition() scheduler.JobDefinition {
	interval := j.Interval
	if interval <= 0 {
		interval = DefaultDataSyncInterval
	}
	return scheduler.JobDefinition{
		ID:       DataSyncJobID,
		Interval: interval,
		Work:     j.Run,
	}
}

func (j *DataSync) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// Run performs one sync. An unauthenticated session makes the run a no-op.
// Categories that fail are logged and left out of the batch; the run then
// still reports the failure.
func (j *DataSync) Run(ctx context.Context, t *task.Task) error {
	if !j.Auth.IsAuthenticated() {
		j.Logger.WithField("job", DataSyncJobID).Info("Not authenticated, skipping data sync")
		return nil
	}

	window := j.Window
	if window <= 0 {
		window = DefaultSyncWindow
	}
	to := j.now().Truncate(time.Minute)
	from := to.Add(-window)

	results := make([][]types.Record, len(j.Categories))
	var (
		mu        sync.Mutex
		fetchErrs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, category := range j.Categories {
		i, category := i, category
		g.Go(func() error {
			if err := t.Checkpoint(); err != nil {
				return err
			}

			records, err := j.Sync.FetchCategory(gctx, category, from, to)
			if err != nil {
				if t.IsCancelled() {
					return task.ErrCancelled
				}
				j.Logger.WithFields(logrus.Fields{
					"job":      DataSyncJobID,
					"category": category,
					"error":    err.Error(),
				}).Warn("Failed to fetch category")

				mu.Lock()
				fetchErrs = append(fetchErrs, fmt.Errorf("category %s: %w", category, err))
				mu.Unlock()
				return nil
			}

			results[i] = records
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := t.Checkpoint(); err != nil {
		return err
	}

	var merged []types.Record
	for _, records := range results {
		merged = append(merged, records...)
	}

	fetchErr := errors.Join(fetchErrs...)
	if len(merged) == 0 {
		if fetchErr != nil {
			return fetchErr
		}
		j.Logger.WithField("job", DataSyncJobID).Info("No new records to sync")
		return nil
	}

	batch := types.Batch{Records: merged, WindowStart: from, WindowEnd: to}
	if err := j.Sync.SubmitBatch(ctx, batch); err != nil {
		return errors.Join(err, fetchErr)
	}

	j.Cache.Store(LastSyncCacheKey, SyncSummary{
		At:          j.now(),
		Records:     len(merged),
		WindowStart: from,
		WindowEnd:   to,
	})

	j.Logger.WithFields(logrus.Fields{
		"job":     DataSyncJobID,
		"records": len(merged),
	}).Info("Data sync submitted")

	return fetchErr
}
