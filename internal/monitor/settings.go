// Package monitor drives the periodic monitoring iterations.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"agency-sales-monitor/internal/config"
)

// Monitoring strategies.
const (
	StrategyClassic     = "classic"
	StrategyIntelligent = "intelligent"
	StrategyComparison  = "comparison"
)

// SettingsStore holds the runtime-tunable knobs behind a lock so the
// dashboard can adjust them while the scheduler is running. Each iteration
// reads a fresh snapshot.
type SettingsStore struct {
	mu sync.RWMutex

	alerting              config.AlertingConfig
	interval              time.Duration
	strategy              string
	intelligentPercentage float64
	continuousDelay       time.Duration
}

// NewSettingsStore seeds the store from startup configuration.
func NewSettingsStore(cfg *config.Config) *SettingsStore {
	return &SettingsStore{
		alerting:              cfg.Alerting,
		interval:              time.Duration(cfg.Scheduler.IntervalMinutes) * time.Minute,
		strategy:              cfg.Scheduler.Strategy,
		intelligentPercentage: cfg.Scheduler.IntelligentPercentage,
		continuousDelay:       cfg.Scheduler.ContinuousDelay,
	}
}

// Alerting returns the current alerting configuration.
func (s *SettingsStore) Alerting() config.AlertingConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alerting
}

// UpdateAlerting applies fn to the alerting configuration under the lock.
func (s *SettingsStore) UpdateAlerting(fn func(*config.AlertingConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.alerting)
}

// Interval returns the current monitoring interval.
func (s *SettingsStore) Interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

// SetInterval updates the monitoring interval. Takes effect on the next tick.
func (s *SettingsStore) SetInterval(d time.Duration) error {
	if d < time.Minute {
		return fmt.Errorf("interval %s below one minute", d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
	return nil
}

// ContinuousDelay returns the pause between continuous-mode iterations.
func (s *SettingsStore) ContinuousDelay() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.continuousDelay <= 0 {
		return 10 * time.Second
	}
	return s.continuousDelay
}

// Strategy returns the configured strategy and intelligent percentage.
func (s *SettingsStore) Strategy() (string, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.strategy, s.intelligentPercentage
}

// SetStrategy switches the monitoring strategy at runtime.
func (s *SettingsStore) SetStrategy(strategy string, intelligentPercentage float64) error {
	switch strategy {
	case StrategyClassic, StrategyIntelligent, StrategyComparison:
	default:
		return fmt.Errorf("unknown strategy %q", strategy)
	}
	if intelligentPercentage < 0 || intelligentPercentage > 100 {
		return fmt.Errorf("intelligent percentage %.1f out of range", intelligentPercentage)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategy = strategy
	s.intelligentPercentage = intelligentPercentage
	return nil
}
