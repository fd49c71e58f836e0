package app

import (
	"context"
	"errors"
	"time"

	"agency-sales-monitor/internal/acquirer"
	"agency-sales-monitor/internal/alerts"
	"agency-sales-monitor/internal/storage"
)

// Simulate runs a number of synthetic acquisition iterations against the
// real database, useful for exercising the alert rules without access to
// the sales portal.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Iterations <= 0 {
		return errors.New("--iterations must be positive")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sim := acquirer.NewSimulator(opts.Seed, a.Logger)
	engine := alerts.NewEngine(store, a.Logger)
	settings := alerts.NewSettings(a.Config.Alerting)

	for i := 1; i <= opts.Iterations; i++ {
		records, err := sim.AcquireRecords(ctx, func(string, string) {})
		if err != nil {
			return err
		}

		day := time.Now().UTC().Format(storage.DayFormat)
		result, err := engine.Process(ctx, records, settings, day)
		if err != nil {
			return err
		}

		a.Logger.Info().
			Int("iteration", i).
			Int("processed", result.Processed).
			Int("silenced", result.Silenced).
			Int("updated", result.Updated).
			Int("new_alerts", len(result.NewAlerts)).
			Msg("simulated iteration complete")

		for _, alert := range result.NewAlerts {
			a.Logger.Info().
				Str("agency", alert.AgencyCode).
				Str("lottery", alert.LotteryType).
				Str("kind", string(alert.Kind)).
				Msg(alert.Message)
		}
	}

	return nil
}
