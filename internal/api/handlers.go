package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"agency-sales-monitor/internal/advisory"
	"agency-sales-monitor/internal/config"
	"agency-sales-monitor/internal/monitor"
	"agency-sales-monitor/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	progressPollTimeout  = 25 * time.Second
	progressPollInterval = 200 * time.Millisecond
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": s.now().UTC()})
}

func (s *Server) handleStatus(c *gin.Context) {
	status := s.scheduler.Status()
	payload := gin.H{
		"scheduler": status,
		"progress":  s.tracker.Snapshot(),
	}
	if status.SessionID != nil && s.sessions != nil {
		if session, err := s.sessions.GetSession(c.Request.Context(), *status.SessionID); err == nil && session != nil {
			payload["session"] = session
		}
	}
	c.JSON(http.StatusOK, payload)
}

// handleProgress long-polls the tracker: with ?version=N the request waits
// until the state moves past N or the poll window expires.
func (s *Server) handleProgress(c *gin.Context) {
	sinceParam := c.Query("version")
	if sinceParam == "" {
		c.JSON(http.StatusOK, s.tracker.Snapshot())
		return
	}

	since, err := strconv.ParseUint(sinceParam, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid version"})
		return
	}

	deadline := time.NewTimer(progressPollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()

	for {
		if state := s.tracker.Snapshot(); state.Version > since {
			c.JSON(http.StatusOK, state)
			return
		}
		select {
		case <-c.Request.Context().Done():
			return
		case <-deadline.C:
			c.JSON(http.StatusOK, s.tracker.Snapshot())
			return
		case <-ticker.C:
		}
	}
}

type startRequest struct {
	Continuous bool `json:"continuous"`
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if err := s.scheduler.Start(c.Request.Context(), req.Continuous); err != nil {
		if errors.Is(err, monitor.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.scheduler.Stop(c.Request.Context()); err != nil {
		if errors.Is(err, monitor.ErrNotRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleIterate(c *gin.Context) {
	if err := s.scheduler.TriggerManual(c.Request.Context()); err != nil {
		if errors.Is(err, monitor.ErrIterationInFlight) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "iteration started"})
}

func (s *Server) handlePendingAlerts(c *gin.Context) {
	day := c.DefaultQuery("day", s.now().Format(storage.DayFormat))
	alerts, err := s.alerts.ListPendingAlerts(c.Request.Context(), day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"day": day, "alerts": alerts})
}

func (s *Server) handleRecentAlerts(c *gin.Context) {
	alerts, err := s.alerts.ListRecentAlerts(c.Request.Context(), s.limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) handleReportAlert(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}

	done, err := s.alerts.MarkAlertReported(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !done {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found or already reported"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reported"})
}

// handleUnreportAlert reverts a reported alert, current day only. Historical
// reporting state is an audit trail and stays immutable.
func (s *Server) handleUnreportAlert(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}

	today := s.now().Format(storage.DayFormat)
	done, err := s.alerts.UnmarkAlertReported(c.Request.Context(), id, today)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !done {
		c.JSON(http.StatusConflict, gin.H{"error": "alert not reported today"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pending"})
}

type settingsView struct {
	BalanceThreshold      float64  `json:"balance_threshold"`
	SalesThreshold        float64  `json:"sales_threshold"`
	GrowthVariationDelta  float64  `json:"growth_variation_delta"`
	SustainedGrowthDelta  float64  `json:"sustained_growth_delta"`
	EnableThresholdAlerts bool     `json:"enable_threshold_alerts"`
	EnableGrowthAlerts    bool     `json:"enable_growth_alerts"`
	SkipAgencyKeywords    []string `json:"skip_agency_keywords"`
	Strategy              string   `json:"strategy"`
	IntelligentPercentage float64  `json:"intelligent_percentage"`
	IntervalMinutes       int      `json:"interval_minutes"`
}

func (s *Server) currentSettings() settingsView {
	alerting := s.settings.Alerting()
	strategy, percentage := s.settings.Strategy()
	return settingsView{
		BalanceThreshold:      alerting.BalanceThreshold,
		SalesThreshold:        alerting.SalesThreshold,
		GrowthVariationDelta:  alerting.GrowthVariationDelta,
		SustainedGrowthDelta:  alerting.SustainedGrowthDelta,
		EnableThresholdAlerts: alerting.EnableThresholdAlerts,
		EnableGrowthAlerts:    alerting.EnableGrowthAlerts,
		SkipAgencyKeywords:    alerting.SkipAgencyKeywords,
		Strategy:              strategy,
		IntelligentPercentage: percentage,
		IntervalMinutes:       int(s.settings.Interval() / time.Minute),
	}
}

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.currentSettings())
}

type settingsPatch struct {
	BalanceThreshold      *float64 `json:"balance_threshold"`
	SalesThreshold        *float64 `json:"sales_threshold"`
	GrowthVariationDelta  *float64 `json:"growth_variation_delta"`
	SustainedGrowthDelta  *float64 `json:"sustained_growth_delta"`
	EnableThresholdAlerts *bool    `json:"enable_threshold_alerts"`
	EnableGrowthAlerts    *bool    `json:"enable_growth_alerts"`
	Strategy              *string  `json:"strategy"`
	IntelligentPercentage *float64 `json:"intelligent_percentage"`
	IntervalMinutes       *int     `json:"interval_minutes"`
}

// handleUpdateSettings hot-applies a partial settings update. The next
// iteration picks up the new values; a running one keeps its snapshot.
func (s *Server) handleUpdateSettings(c *gin.Context) {
	var patch settingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for _, threshold := range []*float64{patch.BalanceThreshold, patch.SalesThreshold, patch.GrowthVariationDelta, patch.SustainedGrowthDelta} {
		if threshold != nil && *threshold <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "thresholds must be positive"})
			return
		}
	}

	if patch.Strategy != nil || patch.IntelligentPercentage != nil {
		strategy, percentage := s.settings.Strategy()
		if patch.Strategy != nil {
			strategy = *patch.Strategy
		}
		if patch.IntelligentPercentage != nil {
			percentage = *patch.IntelligentPercentage
		}
		if err := s.settings.SetStrategy(strategy, percentage); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if patch.IntervalMinutes != nil {
		if err := s.settings.SetInterval(time.Duration(*patch.IntervalMinutes) * time.Minute); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	s.settings.UpdateAlerting(func(a *config.AlertingConfig) {
		if patch.BalanceThreshold != nil {
			a.BalanceThreshold = *patch.BalanceThreshold
		}
		if patch.SalesThreshold != nil {
			a.SalesThreshold = *patch.SalesThreshold
		}
		if patch.GrowthVariationDelta != nil {
			a.GrowthVariationDelta = *patch.GrowthVariationDelta
		}
		if patch.SustainedGrowthDelta != nil {
			a.SustainedGrowthDelta = *patch.SustainedGrowthDelta
		}
		if patch.EnableThresholdAlerts != nil {
			a.EnableThresholdAlerts = *patch.EnableThresholdAlerts
		}
		if patch.EnableGrowthAlerts != nil {
			a.EnableGrowthAlerts = *patch.EnableGrowthAlerts
		}
	})

	s.logger.Info().Msg("settings updated")
	c.JSON(http.StatusOK, s.currentSettings())
}

func (s *Server) handleAgencyIterations(c *gin.Context) {
	code := c.Param("code")
	lottery := c.DefaultQuery("lottery", storage.LotteryChanceExpress)
	day := c.DefaultQuery("day", s.now().Format(storage.DayFormat))

	snapshots, err := s.snapshots.ListDaySnapshots(c.Request.Context(), code, lottery, day, s.limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agency": code, "lottery": lottery, "day": day, "snapshots": snapshots})
}

func (s *Server) handleAgencyHistory(c *gin.Context) {
	code := c.Param("code")
	lottery := c.DefaultQuery("lottery", storage.LotteryChanceExpress)

	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days <= 0 || days > 90 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 90"})
		return
	}

	to := s.now()
	from := to.AddDate(0, 0, -days)
	history, err := s.snapshots.ListAgencyHistory(c.Request.Context(), code, lottery,
		from.Format(storage.DayFormat), to.Format(storage.DayFormat))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agency": code, "lottery": lottery, "days": days, "snapshots": history})
}

func (s *Server) handleSystemLogs(c *gin.Context) {
	entries, err := s.logs.ListSystemLogs(c.Request.Context(), s.limitParam(c), c.Query("level"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries})
}

func (s *Server) handleRecentMetrics(c *gin.Context) {
	metrics, err := s.metrics.ListRecentMetrics(c.Request.Context(), s.limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": metrics})
}

func (s *Server) handleAdvisory(c *gin.Context) {
	c.JSON(http.StatusOK, s.advisor.Snapshot())
}

func (s *Server) handleAdvisoryPredictions(c *gin.Context) {
	c.JSON(http.StatusOK, s.advisor.PredictFailureRisk())
}

func (s *Server) handleAdvisoryAnomalies(c *gin.Context) {
	anomalies := s.advisor.DetectAnomalies()
	if anomalies == nil {
		anomalies = []advisory.Anomaly{}
	}
	c.JSON(http.StatusOK, gin.H{"anomalies": anomalies})
}

func (s *Server) handleAdvisoryOptimizations(c *gin.Context) {
	recs := s.advisor.Optimize(advisory.Tunables{
		IntervalMinutes: s.settings.Interval().Minutes(),
		TimeoutSeconds:  (3 * time.Minute).Seconds(),
	})
	if recs == nil {
		recs = []advisory.Recommendation{}
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": recs})
}

func (s *Server) limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
