// Package app aggregates configuration and shared wiring for the CLI commands.
package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"agency-sales-monitor/internal/acquirer"
	"agency-sales-monitor/internal/advisory"
	"agency-sales-monitor/internal/alerts"
	"agency-sales-monitor/internal/api"
	"agency-sales-monitor/internal/config"
	"agency-sales-monitor/internal/monitor"
	"agency-sales-monitor/internal/progress"
	"agency-sales-monitor/internal/storage"
)

// App holds configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is required")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newClassicAcquirer() acquirer.Acquirer {
	if a.Config.Portal.Simulated {
		a.Logger.Warn().Msg("portal.simulated enabled; using synthetic acquirer")
		return acquirer.NewSimulator(1, a.Logger)
	}
	return acquirer.NewPortal(a.Config.Portal, a.Logger)
}

func (a *App) buildScheduler(ctx context.Context, store *storage.Store) (*monitor.Scheduler, *monitor.SettingsStore, *progress.Tracker, *advisory.Engine) {
	advisor := advisory.NewEngine(a.Config.Advisory, advisory.HostSampler{}, a.Logger)
	if history, err := store.ListRecentMetrics(ctx, a.Config.Advisory.HistoryWindow); err != nil {
		a.Logger.Warn().Err(err).Msg("could not seed advisory history")
	} else {
		// Rows come newest first; the window wants oldest first.
		for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
			history[i], history[j] = history[j], history[i]
		}
		advisor.Seed(history)
	}

	classic := a.newClassicAcquirer()
	intelligent := acquirer.NewIntelligent(classic, advisor, a.Logger)
	retry := acquirer.NewExecutor(a.Config.Portal.MaxRetries, a.Config.Portal.RetryBaseDelay, a.Logger)

	settings := monitor.NewSettingsStore(a.Config)
	tracker := progress.NewTracker()

	orch := monitor.NewOrchestrator(monitor.Deps{
		Classic:     classic,
		Intelligent: intelligent,
		Retry:       retry,
		Engine:      alerts.NewEngine(store, a.Logger),
		Advisor:     advisor,
		Tracker:     tracker,
		Settings:    settings,
		Sessions:    store,
		Metrics:     store,
		SystemLog:   store,
		Logger:      a.Logger,
	})

	sched := monitor.NewScheduler(orch, settings, store, store, a.Config.Scheduler.AdvisoryLockKey, a.Logger)
	return sched, settings, tracker, advisor
}

// Run starts the monitoring service: scheduler plus dashboard API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched, settings, tracker, advisor := a.buildScheduler(ctx, store)

	if a.Config.Scheduler.StartOnLaunch {
		if err := sched.Start(ctx, false); err != nil {
			return err
		}
	}

	server := api.NewServer(api.Deps{
		Config:    a.Config.API,
		Scheduler: sched,
		Settings:  settings,
		Tracker:   tracker,
		Advisor:   advisor,
		Alerts:    store,
		Snapshots: store,
		Sessions:  store,
		Logs:      store,
		Metrics:   store,
		Logger:    a.Logger,
	})

	a.Logger.Info().Msg("starting monitoring service")
	err = server.Run(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if stopErr := sched.Stop(stopCtx); stopErr != nil && !errors.Is(stopErr, monitor.ErrNotRunning) {
		a.Logger.Error().Err(stopErr).Msg("scheduler shutdown failed")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting agency history.
type ExportOptions struct {
	AgencyCode string
	Lottery    string
	Days       int
	CSVPath    string
	PNGPath    string
	MaxPoints  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions configure the simulate command.
type SimulateOptions struct {
	Iterations int
	Seed       int64
}
