// Package api serves the dashboard HTTP interface.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"agency-sales-monitor/internal/advisory"
	"agency-sales-monitor/internal/config"
	"agency-sales-monitor/internal/monitor"
	"agency-sales-monitor/internal/progress"
	"agency-sales-monitor/internal/storage"
)

// Deps wires the server collaborators.
type Deps struct {
	Config    config.APIConfig
	Scheduler *monitor.Scheduler
	Settings  *monitor.SettingsStore
	Tracker   *progress.Tracker
	Advisor   *advisory.Engine
	Alerts    storage.AlertStore
	Snapshots storage.SnapshotStore
	Sessions  storage.SessionStore
	Logs      storage.SystemLogStore
	Metrics   storage.MetricsStore
	Logger    zerolog.Logger
}

// Server exposes monitoring control and dashboard data over HTTP.
type Server struct {
	cfg       config.APIConfig
	scheduler *monitor.Scheduler
	settings  *monitor.SettingsStore
	tracker   *progress.Tracker
	advisor   *advisory.Engine
	alerts    storage.AlertStore
	snapshots storage.SnapshotStore
	sessions  storage.SessionStore
	logs      storage.SystemLogStore
	metrics   storage.MetricsStore
	logger    zerolog.Logger

	now func() time.Time
}

// NewServer builds the dashboard server.
func NewServer(deps Deps) *Server {
	return &Server{
		cfg:       deps.Config,
		scheduler: deps.Scheduler,
		settings:  deps.Settings,
		tracker:   deps.Tracker,
		advisor:   deps.Advisor,
		alerts:    deps.Alerts,
		snapshots: deps.Snapshots,
		sessions:  deps.Sessions,
		logs:      deps.Logs,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With().Str("component", "api").Logger(),
		now:       time.Now,
	}
}

// Router assembles the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.Use(rateLimit(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst))

	api := router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)

		api.GET("/progress", s.handleProgress)
		api.GET("/progress/ws", s.handleProgressWS)

		api.POST("/monitor/start", s.handleStart)
		api.POST("/monitor/stop", s.handleStop)
		api.POST("/monitor/iterate", s.handleIterate)

		api.GET("/alerts/pending", s.handlePendingAlerts)
		api.GET("/alerts/recent", s.handleRecentAlerts)
		api.POST("/alerts/:id/report", s.handleReportAlert)
		api.POST("/alerts/:id/unreport", s.handleUnreportAlert)

		api.GET("/settings", s.handleGetSettings)
		api.PUT("/settings", s.handleUpdateSettings)

		api.GET("/agencies/:code/iterations", s.handleAgencyIterations)
		api.GET("/agencies/:code/history", s.handleAgencyHistory)

		api.GET("/logs", s.handleSystemLogs)
		api.GET("/metrics/recent", s.handleRecentMetrics)
		api.GET("/advisory", s.handleAdvisory)
		api.GET("/advisory/predictions", s.handleAdvisoryPredictions)
		api.GET("/advisory/anomalies", s.handleAdvisoryAnomalies)
		api.GET("/advisory/optimizations", s.handleAdvisoryOptimizations)
	}

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("dashboard listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
