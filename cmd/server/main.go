package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/0xPuncker/wellness-sync/internal/api"
	"github.com/0xPuncker/wellness-sync/internal/auth"
	"github.com/0xPuncker/wellness-sync/internal/cache"
	"github.com/0xPuncker/wellness-sync/internal/config"
	"github.com/0xPuncker/wellness-sync/internal/host"
	"github.com/0xPuncker/wellness-sync/internal/jobs"
	"github.com/0xPuncker/wellness-sync/internal/lifecycle"
	"github.com/0xPuncker/wellness-sync/internal/metrics"
	"github.com/0xPuncker/wellness-sync/internal/notifications"
	"github.com/0xPuncker/wellness-sync/internal/scheduler"
	"github.com/0xPuncker/wellness-sync/internal/syncapi"
	"github.com/0xPuncker/wellness-sync/internal/worker"
	"github.com/0xPuncker/wellness-sync/pkg/types"
	"github.com/dimiro1/banner"
	"github.com/joho/godotenv"
	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
)

const bannerText = `
{{ .Title "Wellness Sync" "" 0 }}
{{ .AnsiBackground.BrightBlue }}{{ .AnsiColor.White }}
{{ .AnsiReset }}
`

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Printf("No .env or .env.local file found. Using environment variables.\n")
		}
	}

	banner.Init(colorable.NewColorableStdout(), true, true, strings.NewReader(bannerText))

	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	logger := newLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	store := cache.New(cache.Options{
		CountLimit:     cfg.Cache.CountLimit,
		TotalCostLimit: cfg.Cache.TotalCostLimit,
	}, logger)

	pool := worker.NewPool(cfg.Workers, logger)

	localHost := host.New(logger, host.Options{
		MaxPending:        cfg.Host.MaxPending,
		ExecutionBudget:   config.Duration(cfg.Host.ExecutionBudget),
		NetworkRetryDelay: config.Duration(cfg.Host.NetworkRetryDelay),
	})

	session := auth.NewSession(logger, cfg.API.TokenURL)
	if cfg.API.RefreshToken != "" {
		session.SetCredentials("", 0, cfg.API.RefreshToken)
		if err := session.RefreshCredentials(context.Background()); err != nil {
			logger.Warnf("Initial token refresh failed, background sync stays idle until it succeeds: %v", err)
		}
	} else {
		logger.Warn("No refresh token configured, background sync stays idle")
	}

	client := syncapi.NewClient(logger, cfg.API.BaseURL, session, store).
		WithTimeout(config.Duration(cfg.API.Timeout))

	dataSync := &jobs.DataSync{
		Auth:       session,
		Sync:       client,
		Cache:      store,
		Categories: types.ParseCategories(cfg.Jobs.Categories),
		Window:     config.Duration(cfg.Jobs.SyncWindow),
		Interval:   config.Duration(cfg.Jobs.DataSyncInterval),
		Logger:     logger,
	}
	tokenRefresh := &jobs.TokenRefresh{
		Auth:     session,
		Interval: config.Duration(cfg.Jobs.TokenRefreshInterval),
		Logger:   logger,
	}

	sched := scheduler.New(localHost, pool, logger, scheduler.Options{
		BackgroundProcessingEnabled: cfg.BackgroundProcessingEnabled,
	})
	for _, def := range []scheduler.JobDefinition{dataSync.Definition(), tokenRefresh.Definition()} {
		if err := sched.AddJob(def); err != nil {
			logger.Fatalf("Failed to add job %s: %v", def.ID, err)
		}
	}

	m := metrics.New()
	m.WatchCache(store)
	sched.AddObserver(m)

	var notifier *notifications.NotificationService
	slack, err := notifications.NewWebhook(logger, cfg.Slack.WebhookURL)
	if err != nil {
		logger.Warnf("Slack notifications disabled: %v", err)
	} else {
		notifier = notifications.NewNotificationService(slack, logger)
		sched.AddObserver(notifier)
	}

	sched.RegisterJobs()
	localHost.Start()

	poller := lifecycle.NewPoller(sched, logger, config.Duration(cfg.Jobs.PollInterval), jobs.DataSyncJobID)
	hooks := lifecycle.NewHooks(sched, poller, logger)
	hooks.BecomingActive()

	if notifier != nil {
		go func() {
			if err := notifier.SendStartupNotification(context.Background(), sched.Jobs()); err != nil {
				logger.Warnf("Failed to send startup notification: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go watchLifecycleSignals(ctx, hooks, logger)

	handler := api.NewHandler(logger, sched, hooks, store, m.Handler())
	logger.Infof("Server started on port %s - Press Ctrl+C to stop.", cfg.Server.Port)

	if err := api.StartServer(ctx, handler, api.ServerOptions{
		Port:         cfg.Server.Port,
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout),
	}); err != nil {
		logger.Errorf("Server stopped with error: %v", err)
	}

	logger.Info("Shutting down...")

	poller.Stop()
	localHost.Stop()
	pool.Close()
	if notifier != nil {
		notifier.Wait()
	}

	logger.Info("Server stopped")
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05-07:00",
	})

	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// watchLifecycleSignals maps SIGUSR1 to entering the background and SIGUSR2
// to becoming active.
func watchLifecycleSignals(ctx context.Context, hooks *lifecycle.Hooks, logger *logrus.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case sig := <-sigs:
			logger.Debugf("Received %s", sig)
			if sig == syscall.SIGUSR1 {
				hooks.EnteringBackground()
			} else {
				hooks.BecomingActive()
			}
		case <-ctx.Done():
			return
		}
	}
}
