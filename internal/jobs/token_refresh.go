package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/0xPuncker/wellness-sync/internal/scheduler"
	"github.com/0xPuncker/wellness-sync/internal/task"
	"github.com/sirupsen/logrus"
)

// TokenRefresh renews the session credentials ahead of expiry.
type TokenRefresh struct {
	Auth     AuthState
	Interval time.Duration
	Logger   *logrus.Logger
}

func (j *TokenRefresh) Definition() scheduler.JobDefinition {
	interval := j.Interval
	if interval <= 0 {
		interval = DefaultTokenRefreshInterval
	}
	return scheduler.JobDefinition{
		ID:              TokenRefreshJobID,
		Interval:        interval,
		RequiresNetwork: true,
		Work:            j.Run,
	}
}

func (j *TokenRefresh) Run(ctx context.Context, t *task.Task) error {
	if err := t.Checkpoint(); err != nil {
		return err
	}

	if err := j.Auth.RefreshCredentials(ctx); err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}

	j.Logger.WithField("job", TokenRefreshJobID).Debug("Token refresh completed")
	return nil
}
