package advisory

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"agency-sales-monitor/internal/config"
	"agency-sales-monitor/internal/storage"
)

func testEngine(enabled bool) *Engine {
	return NewEngine(config.AdvisoryConfig{
		Enabled:             enabled,
		ConfidenceThreshold: 0.5,
		RiskThreshold:       0.7,
		HistoryWindow:       10,
	}, nil, zerolog.Nop())
}

func metric(success bool, durationMS int64) storage.IterationMetrics {
	return storage.IterationMetrics{
		ObservedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Success:    success,
		DurationMS: durationMS,
		MemoryPct:  40,
	}
}

func TestMeanStd(t *testing.T) {
	mean, std := MeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if mean != 5 {
		t.Fatalf("均值应为 5, 实际 %f", mean)
	}
	if math.Abs(std-2) > 1e-9 {
		t.Fatalf("总体标准差应为 2, 实际 %f", std)
	}
}

func TestIQRDetectorFlagsOutlier(t *testing.T) {
	values := []float64{10, 11, 12, 10, 11, 12, 11, 95}
	outliers := (IQRDetector{}).Outliers(values)
	if len(outliers) != 1 || outliers[0] != 7 {
		t.Fatalf("应只标记最后一个离群值: %v", outliers)
	}
}

func TestIQRDetectorSmallSample(t *testing.T) {
	if out := (IQRDetector{}).Outliers([]float64{1, 100}); out != nil {
		t.Fatalf("样本过小不应判定离群: %v", out)
	}
}

func TestFailureRiskWeightsRecentRuns(t *testing.T) {
	older := testEngine(true)
	older.Observe(metric(false, 1000))
	older.Observe(metric(true, 1000))
	older.Observe(metric(true, 1000))

	newer := testEngine(true)
	newer.Observe(metric(true, 1000))
	newer.Observe(metric(true, 1000))
	newer.Observe(metric(false, 1000))

	if newer.FailureRisk() <= older.FailureRisk() {
		t.Fatalf("新近失败的风险应更高: %f vs %f", newer.FailureRisk(), older.FailureRisk())
	}
}

func TestFailureRiskMemoryPressurePenalty(t *testing.T) {
	engine := testEngine(true)
	m := metric(true, 1000)
	m.MemoryPct = 95
	for i := 0; i < 5; i++ {
		engine.Observe(m)
	}
	if risk := engine.FailureRisk(); math.Abs(risk-0.15) > 1e-9 {
		t.Fatalf("内存压力应叠加 0.15 风险, 实际 %f", risk)
	}
}

func TestAcquireHintsNeutralWhenDisabled(t *testing.T) {
	engine := testEngine(false)
	for i := 0; i < 10; i++ {
		engine.Observe(metric(false, 1000))
	}
	hints := engine.AcquireHints()
	if hints.ProbeFirst || hints.Timeout != 0 {
		t.Fatalf("禁用时提示应保持中性: %+v", hints)
	}
}

func TestAcquireHintsNeutralBelowConfidence(t *testing.T) {
	engine := testEngine(true)
	engine.Observe(metric(false, 1000))
	hints := engine.AcquireHints()
	if hints.ProbeFirst || hints.Timeout != 0 {
		t.Fatalf("样本不足时提示应保持中性: %+v", hints)
	}
}

func TestAcquireHintsDefensiveOnHighRisk(t *testing.T) {
	engine := testEngine(true)
	for i := 0; i < 8; i++ {
		engine.Observe(metric(false, 1000))
	}
	hints := engine.AcquireHints()
	if !hints.ProbeFirst {
		t.Fatal("高风险时应要求预检")
	}
	if hints.Timeout != 3*time.Minute {
		t.Fatalf("高风险时应使用保守超时: %v", hints.Timeout)
	}
}

func TestAcquireHintsBudgetFromHistory(t *testing.T) {
	engine := testEngine(true)
	for i := 0; i < 8; i++ {
		engine.Observe(metric(true, 60_000))
	}
	hints := engine.AcquireHints()
	if hints.ProbeFirst {
		t.Fatal("低风险不应要求预检")
	}
	if hints.Timeout != time.Minute {
		t.Fatalf("稳定窗口应围绕观测时长收紧预算: %v", hints.Timeout)
	}
}

func TestSeedTrimsToWindow(t *testing.T) {
	engine := testEngine(true)
	var history []storage.IterationMetrics
	for i := 0; i < 25; i++ {
		history = append(history, metric(true, int64(i)))
	}
	engine.Seed(history)

	report := engine.Snapshot()
	if report.SampleCount != 10 {
		t.Fatalf("窗口应裁剪到 10, 实际 %d", report.SampleCount)
	}
	if report.Confidence != 1 {
		t.Fatalf("满窗口置信度应为 1, 实际 %f", report.Confidence)
	}
}

func TestPredictFailureRiskRecommendation(t *testing.T) {
	engine := testEngine(true)
	for i := 0; i < 6; i++ {
		engine.Observe(metric(false, 1000))
	}

	p := engine.PredictFailureRisk()
	if p.Probability < 0.99 {
		t.Fatalf("全失败窗口的风险应接近 1, 实际 %f", p.Probability)
	}
	if p.Recommendation != "probe portal before acquiring" {
		t.Fatalf("高风险应建议先探测门户: %q", p.Recommendation)
	}
}

func TestDetectAnomaliesDurationAndMemory(t *testing.T) {
	engine := testEngine(true)
	for i := 0; i < 7; i++ {
		engine.Observe(metric(true, 1000))
	}
	hot := metric(true, 60000)
	hot.MemoryPct = 95
	engine.Observe(hot)

	anomalies := engine.DetectAnomalies()
	if len(anomalies) != 2 {
		t.Fatalf("应检测到时长与内存两个异常, 实际 %d", len(anomalies))
	}
	metrics := map[string]bool{}
	for _, a := range anomalies {
		metrics[a.Metric] = true
	}
	if !metrics["duration_ms"] || !metrics["memory_pct"] {
		t.Fatalf("异常指标不完整: %v", anomalies)
	}
}

func TestOptimizeRecommendsLongerInterval(t *testing.T) {
	engine := testEngine(true)
	for i := 0; i < 6; i++ {
		engine.Observe(metric(true, 40000))
	}

	recs := engine.Optimize(Tunables{IntervalMinutes: 1})
	found := false
	for _, r := range recs {
		if r.Parameter == "interval_minutes" {
			found = true
			if r.RecommendedValue != 1.5 {
				t.Fatalf("应建议间隔放大 1.5 倍, 实际 %f", r.RecommendedValue)
			}
		}
	}
	if !found {
		t.Fatalf("时长接近间隔时应建议加大间隔: %v", recs)
	}
}

func TestOptimizeTightensTimeout(t *testing.T) {
	engine := testEngine(true)
	for i := 0; i < 6; i++ {
		engine.Observe(metric(true, 5000))
	}

	recs := engine.Optimize(Tunables{TimeoutSeconds: 180})
	found := false
	for _, r := range recs {
		if r.Parameter == "acquire_timeout_seconds" {
			found = true
			if r.RecommendedValue != 30 {
				t.Fatalf("稳定短时长应收紧到 30 秒下限, 实际 %f", r.RecommendedValue)
			}
		}
	}
	if !found {
		t.Fatalf("应给出超时收紧建议: %v", recs)
	}
}

func TestOptimizeDisabledReturnsNothing(t *testing.T) {
	engine := testEngine(false)
	engine.Observe(metric(true, 1000))
	if recs := engine.Optimize(Tunables{IntervalMinutes: 1, TimeoutSeconds: 180}); recs != nil {
		t.Fatalf("禁用时不应给出任何建议: %v", recs)
	}
}

func TestZScoreDetectorFlagsOutlier(t *testing.T) {
	values := []float64{10, 11, 12, 10, 11, 12, 11, 500}
	outliers := (ZScoreDetector{Threshold: 2}).Outliers(values)
	if len(outliers) != 1 || outliers[0] != 7 {
		t.Fatalf("应只标记最后一个离群值: %v", outliers)
	}
}

func TestZScoreDetectorSmallSample(t *testing.T) {
	if out := (ZScoreDetector{}).Outliers([]float64{1, 100}); out != nil {
		t.Fatalf("样本过小不应判定离群: %v", out)
	}
}

func TestDetectorSelectedFromConfig(t *testing.T) {
	engine := NewEngine(config.AdvisoryConfig{
		Enabled:       true,
		HistoryWindow: 10,
		Detector:      "zscore",
	}, nil, zerolog.Nop())

	if _, ok := engine.detector.(ZScoreDetector); !ok {
		t.Fatalf("配置 zscore 时应选用 ZScoreDetector: %T", engine.detector)
	}
}
