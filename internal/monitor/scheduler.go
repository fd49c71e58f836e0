package monitor

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agency-sales-monitor/internal/storage"
)

var (
	// ErrAlreadyRunning is returned by Start when the loop is active.
	ErrAlreadyRunning = errors.New("scheduler already running")

	// ErrNotRunning is returned by Stop when there is nothing to stop.
	ErrNotRunning = errors.New("scheduler not running")
)

// Comparison records one side-by-side strategy run.
type Comparison struct {
	Classic     Outcome   `json:"classic"`
	Intelligent Outcome   `json:"intelligent"`
	Adopted     string    `json:"adopted"`
	At          time.Time `json:"at"`
}

// Status is the dashboard view of the scheduler.
type Status struct {
	Running               bool        `json:"running"`
	Continuous            bool        `json:"continuous"`
	IterationActive       bool        `json:"iteration_active"`
	Strategy              string      `json:"strategy"`
	IntelligentPercentage float64     `json:"intelligent_percentage"`
	Adopted               string      `json:"adopted_strategy,omitempty"`
	Interval              string      `json:"interval"`
	NextRun               *time.Time  `json:"next_run,omitempty"`
	SessionID             *uuid.UUID  `json:"session_id,omitempty"`
	LastOutcome           *Outcome    `json:"last_outcome,omitempty"`
	LastComparison        *Comparison `json:"last_comparison,omitempty"`
}

// Scheduler owns the monitoring loop: interval mode re-arms on a fixed
// cadence, continuous mode re-runs after a short delay. One process-wide
// iteration at a time; across processes a postgres advisory lock arbitrates.
type Scheduler struct {
	orch     *Orchestrator
	settings *SettingsStore
	locker   storage.AdvisoryLocker
	sessions storage.SessionStore
	lockKey  int64
	logger   zerolog.Logger

	mu             sync.Mutex
	running        bool
	continuous     bool
	cancel         context.CancelFunc
	done           chan struct{}
	sessionID      uuid.UUID
	adopted        string
	nextRun        *time.Time
	lastOutcome    *Outcome
	lastComparison *Comparison

	randFloat func() float64
	now       func() time.Time
}

// NewScheduler builds the monitoring scheduler.
func NewScheduler(orch *Orchestrator, settings *SettingsStore, locker storage.AdvisoryLocker, sessions storage.SessionStore, lockKey int64, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		orch:      orch,
		settings:  settings,
		locker:    locker,
		sessions:  sessions,
		lockKey:   lockKey,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		randFloat: rand.Float64,
		now:       time.Now,
	}
}

// Start launches the monitoring loop. continuous switches to back-to-back
// iterations separated only by the continuous delay.
func (s *Scheduler) Start(ctx context.Context, continuous bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	sessionID := uuid.Nil
	if s.sessions != nil {
		session := &storage.MonitoringSession{
			SessionDate: s.now().Format(storage.DayFormat),
			Status:      "running",
		}
		if err := s.sessions.CreateSession(ctx, session); err != nil {
			return err
		}
		sessionID = session.ID
	}

	// The loop must outlive the caller's context (an HTTP request, say);
	// only Stop cancels it.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.running = true
	s.continuous = continuous
	s.cancel = cancel
	s.done = make(chan struct{})
	s.sessionID = sessionID
	s.adopted = ""

	s.logger.Info().
		Bool("continuous", continuous).
		Str("session", sessionID.String()).
		Msg("monitoring started")

	go s.loop(loopCtx)
	return nil
}

// Stop halts the loop and closes the session. It waits for an in-flight
// iteration to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.shutdown()

	for {
		s.runScheduled(ctx)

		var delay time.Duration
		if s.isContinuous() {
			delay = s.settings.ContinuousDelay()
		} else {
			delay = s.settings.Interval()
		}

		next := s.now().Add(delay)
		s.mu.Lock()
		s.nextRun = &next
		s.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	sessionID := s.sessionID
	done := s.done
	s.running = false
	s.nextRun = nil
	s.sessionID = uuid.Nil
	s.mu.Unlock()

	if s.sessions != nil && sessionID != uuid.Nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.sessions.CloseSession(ctx, sessionID, "stopped", nil); err != nil {
			s.logger.Error().Err(err).Msg("failed to close session")
		}
	}

	s.logger.Info().Msg("monitoring stopped")
	close(done)
}

func (s *Scheduler) isContinuous() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.continuous
}

func (s *Scheduler) currentSession() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if s.locker != nil && s.lockKey != 0 {
		unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
		if err != nil {
			s.logger.Error().Err(err).Msg("advisory lock failed")
			return
		}
		if !acquired {
			s.logger.Debug().Msg("skip run, advisory lock held elsewhere")
			return
		}
		defer unlock()
	}

	s.executeStrategy(ctx)
}

// executeStrategy resolves which acquirer variant runs this tick. Comparison
// mode runs both once, keeps the winner, and uses it from then on.
func (s *Scheduler) executeStrategy(ctx context.Context) {
	strategy, percentage := s.settings.Strategy()
	sessionID := s.currentSession()

	if strategy == StrategyComparison {
		s.mu.Lock()
		adopted := s.adopted
		s.mu.Unlock()
		if adopted == "" {
			s.runComparison(ctx, sessionID)
			return
		}
		strategy = adopted
	}

	if strategy == StrategyClassic && percentage > 0 && s.randFloat()*100 < percentage {
		strategy = StrategyIntelligent
	}

	outcome := s.orch.RunIteration(ctx, strategy, sessionID)
	s.recordOutcome(outcome)
}

func (s *Scheduler) runComparison(ctx context.Context, sessionID uuid.UUID) {
	classic := s.orch.RunIteration(ctx, StrategyClassic, sessionID)
	intelligent := s.orch.RunIteration(ctx, StrategyIntelligent, sessionID)

	adopted := StrategyClassic
	if intelligent.Success {
		adopted = StrategyIntelligent
	}

	comparison := &Comparison{
		Classic:     classic,
		Intelligent: intelligent,
		Adopted:     adopted,
		At:          s.now(),
	}

	s.mu.Lock()
	s.adopted = adopted
	s.lastComparison = comparison
	s.lastOutcome = &comparison.Intelligent
	if adopted == StrategyClassic {
		s.lastOutcome = &comparison.Classic
	}
	s.mu.Unlock()

	s.logger.Info().
		Str("adopted", adopted).
		Dur("classic", classic.Duration).
		Dur("intelligent", intelligent.Duration).
		Msg("strategy comparison complete")
}

func (s *Scheduler) recordOutcome(outcome Outcome) {
	if errors.Is(outcome.Err, ErrIterationInFlight) {
		return
	}
	s.mu.Lock()
	s.lastOutcome = &outcome
	s.mu.Unlock()
}

// TriggerManual runs one iteration out of band. It fails fast when an
// iteration is already in flight and does not touch the loop timer.
func (s *Scheduler) TriggerManual(ctx context.Context) error {
	if s.orch.Active() {
		return ErrIterationInFlight
	}

	strategy, _ := s.settings.Strategy()
	if strategy == StrategyComparison {
		strategy = StrategyClassic
	}
	sessionID := s.currentSession()

	go func() {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Minute)
		defer cancel()
		outcome := s.orch.RunIteration(runCtx, strategy, sessionID)
		s.recordOutcome(outcome)
	}()
	return nil
}

// Status reports the scheduler state for the dashboard.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	strategy, percentage := s.settings.Strategy()
	status := Status{
		Running:               s.running,
		Continuous:            s.continuous,
		IterationActive:       s.orch.Active(),
		Strategy:              strategy,
		IntelligentPercentage: percentage,
		Adopted:               s.adopted,
		Interval:              s.settings.Interval().String(),
		LastOutcome:           s.lastOutcome,
		LastComparison:        s.lastComparison,
	}
	if s.nextRun != nil && s.running {
		next := *s.nextRun
		status.NextRun = &next
	}
	if s.sessionID != uuid.Nil {
		id := s.sessionID
		status.SessionID = &id
	}
	return status
}
