// Package jobs holds the work performed by the recurring background jobs.
package jobs

import (
	"context"
	"time"

	"github.com/0xPuncker/wellness-sync/pkg/types"
)

const (
	DataSyncJobID     = "data-sync"
	TokenRefreshJobID = "token-refresh"

	DefaultDataSyncInterval     = 4 * time.Hour
	DefaultTokenRefreshInterval = 50 * time.Minute
	DefaultSyncWindow           = 24 * time.Hour
)

type AuthState interface {
	IsAuthenticated() bool
	RefreshCredentials(ctx context.Context) error
}

type SyncService interface {
	FetchCategory(ctx context.Context, category types.Category, from, to time.Time) ([]types.Record, error)
	SubmitBatch(ctx context.Context, batch types.Batch) error
}
