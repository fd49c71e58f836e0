// Package alerts evaluates sales snapshots against alert rules and persists
// the resulting alert events.
package alerts

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"agency-sales-monitor/internal/config"
	"agency-sales-monitor/internal/storage"
)

const defaultBatchSize = 50

// Settings carries the rule thresholds for one evaluation pass. Values are
// snapshotted per iteration so a config change never splits a batch.
type Settings struct {
	BalanceThreshold      decimal.Decimal
	SalesThreshold        decimal.Decimal
	GrowthVariationDelta  decimal.Decimal
	SustainedGrowthDelta  decimal.Decimal
	EnableThresholdAlerts bool
	EnableGrowthAlerts    bool
	SkipAgencyKeywords    []string
	BatchSize             int
}

// NewSettings converts runtime configuration into evaluation settings.
func NewSettings(cfg config.AlertingConfig) Settings {
	return Settings{
		BalanceThreshold:      decimal.NewFromFloat(cfg.BalanceThreshold),
		SalesThreshold:        decimal.NewFromFloat(cfg.SalesThreshold),
		GrowthVariationDelta:  decimal.NewFromFloat(cfg.GrowthVariationDelta),
		SustainedGrowthDelta:  decimal.NewFromFloat(cfg.SustainedGrowthDelta),
		EnableThresholdAlerts: cfg.EnableThresholdAlerts,
		EnableGrowthAlerts:    cfg.EnableGrowthAlerts,
		SkipAgencyKeywords:    cfg.SkipAgencyKeywords,
		BatchSize:             cfg.BatchSize,
	}
}

// Result summarises one evaluation pass.
type Result struct {
	Processed int
	Skipped   int
	Silenced  int
	Failed    int
	Updated   int
	NewAlerts []storage.AlertEvent
}

// Engine persists snapshots and generates alerts in batched transactions.
type Engine struct {
	db     storage.AlertDatabase
	logger zerolog.Logger
}

// NewEngine builds an alert engine on top of the given database.
func NewEngine(db storage.AlertDatabase, logger zerolog.Logger) *Engine {
	return &Engine{
		db:     db,
		logger: logger.With().Str("component", "alert_engine").Logger(),
	}
}

// Process stores the records and evaluates the alert rules for the given
// capture day. Records are written in batches inside one transaction each;
// when a batch fails it is replayed record by record so a single poison row
// cannot sink the whole iteration.
func (e *Engine) Process(ctx context.Context, records []storage.SalesSnapshot, settings Settings, day string) (Result, error) {
	var result Result

	kept := make([]storage.SalesSnapshot, 0, len(records))
	for _, record := range records {
		if shouldSkipAgency(record.AgencyName, settings.SkipAgencyKeywords) {
			e.logger.Debug().
				Str("agency", record.AgencyCode).
				Str("name", record.AgencyName).
				Msg("skipping filtered agency")
			result.Skipped++
			continue
		}
		kept = append(kept, record)
	}

	batchSize := settings.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	for start := 0; start < len(kept); start += batchSize {
		end := start + batchSize
		if end > len(kept) {
			end = len(kept)
		}
		batch := kept[start:end]

		batchResult := Result{}
		err := e.db.RunInTx(ctx, func(tx storage.Tx) error {
			for i := range batch {
				if err := e.processRecord(ctx, tx, &batch[i], settings, day, &batchResult); err != nil {
					return fmt.Errorf("agency %s: %w", batch[i].AgencyCode, err)
				}
			}
			return nil
		})
		if err == nil {
			mergeResult(&result, batchResult)
			continue
		}

		e.logger.Error().
			Int("batch_start", start).
			Int("batch_size", len(batch)).
			Err(err).
			Msg("batch failed, retrying agencies individually")

		for i := range batch {
			recordResult := Result{}
			indErr := e.db.RunInTx(ctx, func(tx storage.Tx) error {
				return e.processRecord(ctx, tx, &batch[i], settings, day, &recordResult)
			})
			if indErr != nil {
				e.logger.Error().
					Str("agency", batch[i].AgencyCode).
					Err(indErr).
					Msg("agency processing failed")
				result.Failed++
				continue
			}
			mergeResult(&result, recordResult)
		}
	}

	return result, nil
}

func mergeResult(total *Result, part Result) {
	total.Processed += part.Processed
	total.Silenced += part.Silenced
	total.Updated += part.Updated
	total.NewAlerts = append(total.NewAlerts, part.NewAlerts...)
}

func (e *Engine) processRecord(ctx context.Context, tx storage.Tx, record *storage.SalesSnapshot, settings Settings, day string, result *Result) error {
	if err := tx.EnsureAgency(ctx, record.AgencyCode, record.AgencyName); err != nil {
		return err
	}
	if err := tx.InsertSnapshot(ctx, record); err != nil {
		return err
	}
	result.Processed++

	// An agency with an alert already handled today stays silent until the
	// next day, across all rules and both lottery lines.
	reported, err := tx.HasReportedAlert(ctx, record.AgencyCode, day)
	if err != nil {
		return err
	}
	if reported {
		result.Silenced++
		return nil
	}

	if settings.EnableThresholdAlerts {
		if err := e.checkThreshold(ctx, tx, record, settings, day, result); err != nil {
			return err
		}
	}

	if settings.EnableGrowthAlerts {
		recent, err := tx.RecentDaySnapshots(ctx, record.AgencyCode, record.LotteryType, day, 3)
		if err != nil {
			return err
		}
		if err := e.checkGrowthVariation(ctx, tx, record, recent, settings, day, result); err != nil {
			return err
		}
		if err := e.checkSustainedGrowth(ctx, tx, record, recent, settings, day, result); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) checkThreshold(ctx context.Context, tx storage.Tx, record *storage.SalesSnapshot, settings Settings, day string, result *Result) error {
	balanceExceeded := record.Balance.GreaterThanOrEqual(settings.BalanceThreshold)
	salesExceeded := record.Sales.GreaterThanOrEqual(settings.SalesThreshold)
	if !balanceExceeded && !salesExceeded {
		return nil
	}

	var reasons []string
	if balanceExceeded {
		reasons = append(reasons, fmt.Sprintf("Balance: $%s (>= $%s)",
			formatMoney(record.Balance), formatMoney(settings.BalanceThreshold)))
	}
	if salesExceeded {
		reasons = append(reasons, fmt.Sprintf("Ventas: $%s (>= $%s)",
			formatMoney(record.Sales), formatMoney(settings.SalesThreshold)))
	}
	message := fmt.Sprintf("Umbral superado en %s - %s", record.LotteryType, strings.Join(reasons, " y "))

	alert := storage.AlertEvent{
		AgencyCode:     record.AgencyCode,
		AgencyName:     record.AgencyName,
		Kind:           storage.AlertThreshold,
		Message:        message,
		LotteryType:    record.LotteryType,
		CurrentSales:   record.Sales,
		CurrentBalance: record.Balance,
		AlertDay:       day,
	}
	return e.upsertAlert(ctx, tx, alert, result)
}

func (e *Engine) checkGrowthVariation(ctx context.Context, tx storage.Tx, record *storage.SalesSnapshot, recent []storage.SalesSnapshot, settings Settings, day string, result *Result) error {
	// recent[0] is the snapshot just inserted; recent[1] is the previous
	// iteration of the same day.
	if len(recent) < 2 {
		return nil
	}
	previous := recent[1]

	variation := record.Sales.Sub(previous.Sales)
	if variation.LessThan(settings.GrowthVariationDelta) {
		return nil
	}

	message := fmt.Sprintf("Crecimiento significativo en %s: +$%s desde última iteración ($%s → $%s)",
		record.LotteryType, formatMoney(variation), formatMoney(previous.Sales), formatMoney(record.Sales))

	previousSales := previous.Sales
	alert := storage.AlertEvent{
		AgencyCode:     record.AgencyCode,
		AgencyName:     record.AgencyName,
		Kind:           storage.AlertGrowthVariation,
		Message:        message,
		LotteryType:    record.LotteryType,
		CurrentSales:   record.Sales,
		CurrentBalance: record.Balance,
		PreviousSales:  &previousSales,
		GrowthAmount:   &variation,
		AlertDay:       day,
	}
	return e.upsertAlert(ctx, tx, alert, result)
}

func (e *Engine) checkSustainedGrowth(ctx context.Context, tx storage.Tx, record *storage.SalesSnapshot, recent []storage.SalesSnapshot, settings Settings, day string, result *Result) error {
	if len(recent) < 3 {
		return nil
	}

	increments := make([]decimal.Decimal, 0, len(recent)-1)
	total := decimal.Zero
	for i := 0; i < len(recent)-1; i++ {
		increment := recent[i].Sales.Sub(recent[i+1].Sales)
		if increment.LessThan(settings.SustainedGrowthDelta) {
			return nil
		}
		increments = append(increments, increment)
		total = total.Add(increment)
	}

	message := fmt.Sprintf("Crecimiento sostenido en %s: incrementos de %s (Total: +$%s)",
		record.LotteryType, formatIncrements(increments), formatMoney(total))

	alert := storage.AlertEvent{
		AgencyCode:     record.AgencyCode,
		AgencyName:     record.AgencyName,
		Kind:           storage.AlertSustainedGrowth,
		Message:        message,
		LotteryType:    record.LotteryType,
		CurrentSales:   recent[0].Sales,
		CurrentBalance: record.Balance,
		GrowthAmount:   &total,
		AlertDay:       day,
	}
	return e.upsertAlert(ctx, tx, alert, result)
}

// upsertAlert keeps one row per (agency, kind, lottery, day). Repeated hits
// within the day refresh the existing unreported row instead of stacking
// duplicates.
func (e *Engine) upsertAlert(ctx context.Context, tx storage.Tx, alert storage.AlertEvent, result *Result) error {
	existing, err := tx.GetUnreportedAlert(ctx, alert.AgencyCode, alert.Kind, alert.LotteryType, alert.AlertDay)
	if err != nil {
		return err
	}
	if existing != nil {
		existing.Message = alert.Message
		existing.CurrentSales = alert.CurrentSales
		existing.CurrentBalance = alert.CurrentBalance
		existing.PreviousSales = alert.PreviousSales
		existing.GrowthAmount = alert.GrowthAmount
		if err := tx.UpdateAlert(ctx, existing); err != nil {
			return err
		}
		result.Updated++
		return nil
	}

	if err := tx.InsertAlert(ctx, &alert); err != nil {
		return err
	}
	result.NewAlerts = append(result.NewAlerts, alert)
	e.logger.Info().
		Str("agency", alert.AgencyCode).
		Str("kind", string(alert.Kind)).
		Str("lottery", alert.LotteryType).
		Msg("alert generated")
	return nil
}

func shouldSkipAgency(name string, keywords []string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

// formatMoney renders a decimal with two places and thousands separators,
// matching the dashboard's display format.
func formatMoney(d decimal.Decimal) string {
	fixed := d.StringFixed(2)

	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign = "-"
		fixed = fixed[1:]
	}

	intPart := fixed[:len(fixed)-3]
	fracPart := fixed[len(fixed)-3:]

	var groups []string
	for len(intPart) > 3 {
		groups = append([]string{intPart[len(intPart)-3:]}, groups...)
		intPart = intPart[:len(intPart)-3]
	}
	groups = append([]string{intPart}, groups...)

	return sign + strings.Join(groups, ",") + fracPart
}

func formatIncrements(increments []decimal.Decimal) string {
	parts := make([]string, len(increments))
	for i, inc := range increments {
		parts[i] = formatMoney(inc)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
