package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agency-sales-monitor/internal/acquirer"
	"agency-sales-monitor/internal/advisory"
	"agency-sales-monitor/internal/alerts"
	"agency-sales-monitor/internal/progress"
	"agency-sales-monitor/internal/storage"
)

var (
	// ErrIterationInFlight is returned when a run is requested while another
	// iteration holds the progress tracker.
	ErrIterationInFlight = errors.New("iteration already in flight")

	// ErrNoRecords marks an iteration that reached the portal but captured
	// nothing. Treated as a failed run without aborting the scheduler.
	ErrNoRecords = errors.New("no records captured")
)

// Outcome describes one finished iteration.
type Outcome struct {
	Strategy  string        `json:"strategy"`
	Success   bool          `json:"success"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Records   int           `json:"records"`
	NewAlerts int           `json:"new_alerts"`
	Silenced  int           `json:"silenced"`
	Failed    int           `json:"failed"`
	Err       error         `json:"-"`
	ErrText   string        `json:"error,omitempty"`
}

// Deps wires the orchestrator collaborators.
type Deps struct {
	Classic     acquirer.Acquirer
	Intelligent acquirer.Acquirer
	Retry       *acquirer.Executor
	Engine      *alerts.Engine
	Advisor     *advisory.Engine
	Tracker     *progress.Tracker
	Settings    *SettingsStore
	Sessions    storage.SessionStore
	Metrics     storage.MetricsStore
	SystemLog   storage.SystemLogStore
	Logger      zerolog.Logger
}

// Orchestrator executes single monitoring iterations end to end: acquire,
// persist, evaluate alerts, record metrics.
type Orchestrator struct {
	classic     acquirer.Acquirer
	intelligent acquirer.Acquirer
	retry       *acquirer.Executor
	engine      *alerts.Engine
	advisor     *advisory.Engine
	tracker     *progress.Tracker
	settings    *SettingsStore
	sessions    storage.SessionStore
	metrics     storage.MetricsStore
	syslog      storage.SystemLogStore
	logger      zerolog.Logger

	now func() time.Time
}

// NewOrchestrator builds an iteration orchestrator.
func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{
		classic:     deps.Classic,
		intelligent: deps.Intelligent,
		retry:       deps.Retry,
		engine:      deps.Engine,
		advisor:     deps.Advisor,
		tracker:     deps.Tracker,
		settings:    deps.Settings,
		sessions:    deps.Sessions,
		metrics:     deps.Metrics,
		syslog:      deps.SystemLog,
		logger:      deps.Logger.With().Str("component", "orchestrator").Logger(),
		now:         time.Now,
	}
}

// Tracker exposes the progress tracker for status endpoints.
func (o *Orchestrator) Tracker() *progress.Tracker { return o.tracker }

// Active reports whether an iteration is currently running.
func (o *Orchestrator) Active() bool { return o.tracker.Active() }

func (o *Orchestrator) acquirerFor(strategy string) acquirer.Acquirer {
	if strategy == StrategyIntelligent && o.intelligent != nil {
		return o.intelligent
	}
	return o.classic
}

// RunIteration performs one full monitoring pass. The progress tracker acts
// as the single-flight gate: a second caller gets ErrIterationInFlight.
func (o *Orchestrator) RunIteration(ctx context.Context, strategy string, sessionID uuid.UUID) Outcome {
	if !o.tracker.TryStart() {
		return Outcome{Strategy: strategy, Err: ErrIterationInFlight, ErrText: ErrIterationInFlight.Error()}
	}

	acq := o.acquirerFor(strategy)
	defer func() {
		// Close the acquisition session whatever happened above.
		if err := acq.Reset(context.WithoutCancel(ctx)); err != nil {
			o.logger.Debug().Err(err).Msg("acquirer teardown failed")
		}
	}()

	start := o.now()
	outcome := Outcome{Strategy: acq.Name(), StartedAt: start}

	settings := alerts.NewSettings(o.settings.Alerting())
	day := start.Format(storage.DayFormat)

	var records []storage.SalesSnapshot
	acquireStart := o.now()
	err := o.retry.Do(ctx, "acquire", func(ctx context.Context) error {
		var acquireErr error
		records, acquireErr = acq.AcquireRecords(ctx, func(key, detail string) {
			o.tracker.Advance(key, detail)
		})
		return acquireErr
	}, acq.Reset)
	responseMS := o.now().Sub(acquireStart).Milliseconds()

	if err == nil && len(records) == 0 {
		err = ErrNoRecords
	}

	var result alerts.Result
	if err == nil {
		o.tracker.Advance(progress.StepGenerateAlerts, "")
		result, err = o.engine.Process(ctx, records, settings, day)
	}

	outcome.Duration = o.now().Sub(start)
	outcome.Records = len(records)
	outcome.NewAlerts = len(result.NewAlerts)
	outcome.Silenced = result.Silenced
	outcome.Failed = result.Failed
	outcome.Success = err == nil
	outcome.Err = err
	if err != nil {
		outcome.ErrText = err.Error()
	}

	o.finishIteration(ctx, outcome, responseMS, sessionID, result)
	return outcome
}

func (o *Orchestrator) finishIteration(ctx context.Context, outcome Outcome, responseMS int64, sessionID uuid.UUID, result alerts.Result) {
	memoryPct, cpuPct := 0.0, 0.0
	if o.advisor != nil {
		memoryPct, cpuPct = o.advisor.SampleSystem(ctx)
	}

	metric := storage.IterationMetrics{
		ObservedAt:  outcome.StartedAt,
		Success:     outcome.Success,
		DurationMS:  outcome.Duration.Milliseconds(),
		RecordCount: outcome.Records,
		AlertCount:  outcome.NewAlerts,
		ResponseMS:  responseMS,
		MemoryPct:   memoryPct,
		CPUPct:      cpuPct,
	}
	if outcome.Err != nil {
		errType := classifyError(outcome.Err)
		metric.ErrorType = &errType
	}

	if o.metrics != nil {
		if err := o.metrics.InsertIterationMetrics(ctx, metric); err != nil {
			o.logger.Error().Err(err).Msg("failed to persist iteration metrics")
		}
	}
	if o.advisor != nil {
		o.advisor.Observe(metric)
	}

	if o.sessions != nil && sessionID != uuid.Nil {
		if err := o.sessions.AddSessionTotals(ctx, sessionID, 1, result.Processed, len(result.NewAlerts)); err != nil {
			o.logger.Error().Err(err).Msg("failed to bump session totals")
		}
	}

	if o.syslog != nil {
		entry := storage.SystemLogEntry{Module: "monitor"}
		if sessionID != uuid.Nil {
			id := sessionID
			entry.SessionID = &id
		}
		if outcome.Success {
			entry.Level = "info"
			entry.Message = fmt.Sprintf("Iteración %s completada: %d registros, %d alertas nuevas",
				outcome.Strategy, outcome.Records, outcome.NewAlerts)
		} else {
			entry.Level = "error"
			entry.Message = fmt.Sprintf("Iteración %s fallida: %v", outcome.Strategy, outcome.Err)
		}
		if err := o.syslog.InsertSystemLog(ctx, entry); err != nil {
			o.logger.Error().Err(err).Msg("failed to persist system log")
		}
	}

	if outcome.Success {
		o.logger.Info().
			Str("strategy", outcome.Strategy).
			Int("records", outcome.Records).
			Int("new_alerts", outcome.NewAlerts).
			Dur("duration", outcome.Duration).
			Msg("iteration complete")
		o.tracker.Finish(true, "")
	} else {
		o.logger.Error().
			Str("strategy", outcome.Strategy).
			Err(outcome.Err).
			Dur("duration", outcome.Duration).
			Msg("iteration failed")
		o.tracker.Finish(false, outcome.Err.Error())
	}
}

func classifyError(err error) string {
	switch {
	case errors.Is(err, ErrNoRecords):
		return "empty"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case acquirer.IsNonRetryable(err):
		return "session"
	case strings.Contains(strings.ToLower(err.Error()), "timeout"):
		return "timeout"
	default:
		return "processing"
	}
}
