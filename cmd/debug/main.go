// Command debug fires a single job run against the configured API and
// prints the outcome.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/0xPuncker/wellness-sync/internal/auth"
	"github.com/0xPuncker/wellness-sync/internal/cache"
	"github.com/0xPuncker/wellness-sync/internal/config"
	"github.com/0xPuncker/wellness-sync/internal/jobs"
	"github.com/0xPuncker/wellness-sync/internal/scheduler"
	"github.com/0xPuncker/wellness-sync/internal/syncapi"
	"github.com/0xPuncker/wellness-sync/internal/worker"
	"github.com/0xPuncker/wellness-sync/pkg/types"
	"github.com/0xPuncker/wellness-sync/pkg/utils"
	"github.com/sirupsen/logrus"
)

// noopHost satisfies scheduler.OSScheduler for in-process runs.
type noopHost struct{}

func (noopHost) Register(string, scheduler.WakeHandler) error { return nil }
func (noopHost) Submit(scheduler.ScheduledRequest) error      { return nil }
func (noopHost) CancelAll()                                   {}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	jobID := flag.String("job", jobs.DataSyncJobID, "job to run")
	timeout := flag.Duration("timeout", 30*time.Second, "run timeout")
	verbose := flag.Bool("v", false, "log to stderr")
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if *verbose {
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}

	store := cache.New(cache.Options{
		CountLimit:     cfg.Cache.CountLimit,
		TotalCostLimit: cfg.Cache.TotalCostLimit,
	}, logger)
	pool := worker.NewPool(1, logger)
	defer pool.Close()

	session := auth.NewSession(logger, cfg.API.TokenURL)
	session.SetCredentials("", 0, cfg.API.RefreshToken)

	client := syncapi.NewClient(logger, cfg.API.BaseURL, session, store)

	sched := scheduler.New(noopHost{}, pool, logger, scheduler.Options{})
	defs := []scheduler.JobDefinition{
		(&jobs.DataSync{
			Auth:       session,
			Sync:       client,
			Cache:      store,
			Categories: types.ParseCategories(cfg.Jobs.Categories),
			Window:     config.Duration(cfg.Jobs.SyncWindow),
			Logger:     logger,
		}).Definition(),
		(&jobs.TokenRefresh{Auth: session, Logger: logger}).Definition(),
	}
	for _, def := range defs {
		if err := sched.AddJob(def); err != nil {
			fmt.Printf("Failed to add job %s: %v\n", def.ID, err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *jobID == jobs.DataSyncJobID && cfg.API.RefreshToken != "" {
		if err := session.RefreshCredentials(ctx); err != nil {
			fmt.Printf("Token refresh failed: %v\n", err)
		}
	}

	fmt.Printf("\nRunning job: %s\n", *jobID)
	result, err := sched.RunNow(ctx, *jobID)
	if err != nil {
		fmt.Printf("Run error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Succeeded: %t\n", result.Succeeded())
	fmt.Printf("Cancelled: %t\n", result.Cancelled)
	fmt.Printf("Duration: %s\n", utils.FormatDuration(result.Duration))
	if result.Err != nil {
		fmt.Printf("Error: %v\n", result.Err)
	}

	info := store.Info()
	fmt.Printf("Cache entries: %d (%d bytes)\n", info.Count, info.TotalSize)

	if !result.Succeeded() {
		os.Exit(1)
	}
}
