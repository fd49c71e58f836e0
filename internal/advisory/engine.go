package advisory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"agency-sales-monitor/internal/acquirer"
	"agency-sales-monitor/internal/config"
	"agency-sales-monitor/internal/storage"
)

// Report summarises the engine state for dashboards.
type Report struct {
	Enabled        bool     `json:"enabled"`
	SampleCount    int      `json:"sample_count"`
	Confidence     float64  `json:"confidence"`
	FailureRisk    float64  `json:"failure_risk"`
	Defensive      bool     `json:"defensive"`
	AnomalousRuns  []string `json:"anomalous_runs,omitempty"`
	Recommendation string   `json:"recommendation"`
}

// Prediction is the failure-risk forecast for the next iteration.
type Prediction struct {
	Probability    float64 `json:"probability"`
	Confidence     float64 `json:"confidence"`
	Recommendation string  `json:"recommendation"`
}

// Anomaly flags one iteration whose metrics fall outside the window norm.
type Anomaly struct {
	ObservedAt time.Time `json:"observed_at"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	Message    string    `json:"message"`
}

// Recommendation proposes a parameter change derived from the window.
type Recommendation struct {
	Parameter        string  `json:"parameter"`
	CurrentValue     float64 `json:"current_value"`
	RecommendedValue float64 `json:"recommended_value"`
	Confidence       float64 `json:"confidence"`
}

// Engine keeps a sliding window of iteration outcomes and turns it into
// failure risk estimates and acquisition hints.
type Engine struct {
	cfg      config.AdvisoryConfig
	logger   zerolog.Logger
	sampler  SystemSampler
	detector Detector

	mu      sync.Mutex
	history []storage.IterationMetrics
}

// NewEngine builds an advisory engine.
func NewEngine(cfg config.AdvisoryConfig, sampler SystemSampler, logger zerolog.Logger) *Engine {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	if sampler == nil {
		sampler = HostSampler{}
	}
	var detector Detector = IQRDetector{}
	if cfg.Detector == "zscore" {
		detector = ZScoreDetector{}
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger.With().Str("component", "advisory").Logger(),
		sampler:  sampler,
		detector: detector,
	}
}

// Seed loads persisted metrics, oldest first, into the window.
func (e *Engine) Seed(history []storage.IterationMetrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range history {
		e.appendLocked(m)
	}
}

// Observe records one finished iteration.
func (e *Engine) Observe(m storage.IterationMetrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendLocked(m)
}

func (e *Engine) appendLocked(m storage.IterationMetrics) {
	e.history = append(e.history, m)
	if excess := len(e.history) - e.cfg.HistoryWindow; excess > 0 {
		e.history = e.history[excess:]
	}
}

// SampleSystem reads current host utilisation. Errors degrade to zeros so an
// unreadable /proc never blocks monitoring.
func (e *Engine) SampleSystem(ctx context.Context) (float64, float64) {
	memoryPct, cpuPct, err := e.sampler.Sample(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("system sample failed")
	}
	return memoryPct, cpuPct
}

// FailureRisk estimates the probability that the next iteration fails.
// Recent outcomes weigh more than old ones, and sustained resource pressure
// adds a fixed penalty.
func (e *Engine) FailureRisk() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failureRiskLocked()
}

func (e *Engine) failureRiskLocked() float64 {
	if len(e.history) == 0 {
		return 0
	}

	var weightSum, failureSum float64
	for i, m := range e.history {
		weight := float64(i + 1)
		weightSum += weight
		if !m.Success {
			failureSum += weight
		}
	}
	risk := failureSum / weightSum

	var memValues []float64
	for _, m := range e.history {
		memValues = append(memValues, m.MemoryPct)
	}
	if memMean, _ := MeanStd(memValues); memMean > 85 {
		risk += 0.15
	}
	if risk > 1 {
		risk = 1
	}
	return risk
}

func (e *Engine) confidenceLocked() float64 {
	confidence := float64(len(e.history)) / float64(e.cfg.HistoryWindow)
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

// anomalousRunsLocked flags iterations whose duration falls outside the
// Tukey fences of the window.
func (e *Engine) anomalousRunsLocked() []string {
	durations := make([]float64, len(e.history))
	for i, m := range e.history {
		durations[i] = float64(m.DurationMS)
	}
	var runs []string
	for _, idx := range e.detector.Outliers(durations) {
		runs = append(runs, e.history[idx].ObservedAt.Format(time.RFC3339))
	}
	return runs
}

// AcquireHints implements acquirer.HintProvider. When the engine is disabled
// or the window is too thin, hints stay neutral. High risk switches to a
// defensive posture with a pre-flight probe and a generous deadline; a stable
// window tightens the deadline around the observed durations.
func (e *Engine) AcquireHints() acquirer.Hints {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.cfg.Enabled {
		return acquirer.Hints{}
	}
	if e.confidenceLocked() < e.cfg.ConfidenceThreshold {
		return acquirer.Hints{}
	}

	risk := e.failureRiskLocked()
	if risk >= e.cfg.RiskThreshold {
		e.logger.Info().Float64("risk", risk).Msg("defensive acquisition posture")
		return acquirer.Hints{ProbeFirst: true, Timeout: 3 * time.Minute}
	}

	durations := make([]float64, len(e.history))
	for i, m := range e.history {
		durations[i] = float64(m.DurationMS)
	}
	mean, std := MeanStd(durations)
	budget := time.Duration(mean+3*std) * time.Millisecond
	if budget < 30*time.Second {
		budget = 30 * time.Second
	}
	return acquirer.Hints{Timeout: budget}
}

// PredictFailureRisk forecasts the next iteration.
func (e *Engine) PredictFailureRisk() Prediction {
	e.mu.Lock()
	defer e.mu.Unlock()

	risk := e.failureRiskLocked()
	p := Prediction{
		Probability: risk,
		Confidence:  e.confidenceLocked(),
	}
	switch {
	case p.Confidence < e.cfg.ConfidenceThreshold:
		p.Recommendation = "collecting history"
	case risk >= e.cfg.RiskThreshold:
		p.Recommendation = "probe portal before acquiring"
	default:
		p.Recommendation = "proceed normally"
	}
	return p
}

// DetectAnomalies reports iterations in the window whose metrics fall
// outside the norm.
func (e *Engine) DetectAnomalies() []Anomaly {
	e.mu.Lock()
	defer e.mu.Unlock()

	durations := make([]float64, len(e.history))
	for i, m := range e.history {
		durations[i] = float64(m.DurationMS)
	}

	var anomalies []Anomaly
	for _, idx := range e.detector.Outliers(durations) {
		m := e.history[idx]
		anomalies = append(anomalies, Anomaly{
			ObservedAt: m.ObservedAt,
			Metric:     "duration_ms",
			Value:      float64(m.DurationMS),
			Message:    "iteration duration outside Tukey fences",
		})
	}
	for _, m := range e.history {
		if m.MemoryPct > 90 {
			anomalies = append(anomalies, Anomaly{
				ObservedAt: m.ObservedAt,
				Metric:     "memory_pct",
				Value:      m.MemoryPct,
				Message:    "memory utilisation above 90%",
			})
		}
	}
	return anomalies
}

// Tunables are the operator parameters Optimize may adjust.
type Tunables struct {
	IntervalMinutes float64
	TimeoutSeconds  float64
}

// Optimize derives parameter recommendations from the window. Callers apply
// only recommendations whose confidence clears their own threshold.
func (e *Engine) Optimize(current Tunables) []Recommendation {
	e.mu.Lock()
	defer e.mu.Unlock()

	confidence := e.confidenceLocked()
	if !e.cfg.Enabled || len(e.history) == 0 {
		return nil
	}

	durations := make([]float64, len(e.history))
	for i, m := range e.history {
		durations[i] = float64(m.DurationMS)
	}
	mean, std := MeanStd(durations)

	var recs []Recommendation

	if current.IntervalMinutes > 0 {
		intervalMS := current.IntervalMinutes * 60 * 1000
		switch {
		case mean > intervalMS/2:
			recs = append(recs, Recommendation{
				Parameter:        "interval_minutes",
				CurrentValue:     current.IntervalMinutes,
				RecommendedValue: current.IntervalMinutes * 1.5,
				Confidence:       confidence,
			})
		case e.failureRiskLocked() < e.cfg.RiskThreshold && mean < intervalMS/10 && current.IntervalMinutes > 2:
			recs = append(recs, Recommendation{
				Parameter:        "interval_minutes",
				CurrentValue:     current.IntervalMinutes,
				RecommendedValue: current.IntervalMinutes * 0.75,
				Confidence:       confidence * 0.8,
			})
		}
	}

	if current.TimeoutSeconds > 0 {
		budget := (mean + 3*std) / 1000
		if budget < 30 {
			budget = 30
		}
		if budget < current.TimeoutSeconds*0.6 || budget > current.TimeoutSeconds {
			recs = append(recs, Recommendation{
				Parameter:        "acquire_timeout_seconds",
				CurrentValue:     current.TimeoutSeconds,
				RecommendedValue: budget,
				Confidence:       confidence,
			})
		}
	}

	return recs
}

// Snapshot builds a dashboard report.
func (e *Engine) Snapshot() Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	risk := e.failureRiskLocked()
	report := Report{
		Enabled:       e.cfg.Enabled,
		SampleCount:   len(e.history),
		Confidence:    e.confidenceLocked(),
		FailureRisk:   risk,
		Defensive:     e.cfg.Enabled && risk >= e.cfg.RiskThreshold,
		AnomalousRuns: e.anomalousRunsLocked(),
	}
	switch {
	case !e.cfg.Enabled:
		report.Recommendation = "advisory disabled"
	case report.Confidence < e.cfg.ConfidenceThreshold:
		report.Recommendation = "collecting history"
	case report.Defensive:
		report.Recommendation = "defensive: probe portal before each run"
	default:
		report.Recommendation = "normal operation"
	}
	return report
}

var _ acquirer.HintProvider = (*Engine)(nil)
