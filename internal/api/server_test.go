package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agency-sales-monitor/internal/acquirer"
	"agency-sales-monitor/internal/advisory"
	"agency-sales-monitor/internal/alerts"
	"agency-sales-monitor/internal/config"
	"agency-sales-monitor/internal/monitor"
	"agency-sales-monitor/internal/progress"
	"agency-sales-monitor/internal/storage"
)

type fakeAlertStore struct {
	pending  []storage.AlertEvent
	reported map[int64]bool
}

func (f *fakeAlertStore) ListPendingAlerts(ctx context.Context, day string) ([]storage.AlertEvent, error) {
	return f.pending, nil
}

func (f *fakeAlertStore) ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertEvent, error) {
	return f.pending, nil
}

func (f *fakeAlertStore) CountPendingAlerts(ctx context.Context, day string) (int64, error) {
	return int64(len(f.pending)), nil
}

func (f *fakeAlertStore) MarkAlertReported(ctx context.Context, id int64) (bool, error) {
	if f.reported[id] {
		return false, nil
	}
	for _, a := range f.pending {
		if a.ID == id {
			f.reported[id] = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAlertStore) UnmarkAlertReported(ctx context.Context, id int64, day string) (bool, error) {
	if !f.reported[id] {
		return false, nil
	}
	delete(f.reported, id)
	return true, nil
}

type emptyStores struct{}

func (emptyStores) ListDaySnapshots(context.Context, string, string, string, int) ([]storage.SalesSnapshot, error) {
	return nil, nil
}
func (emptyStores) ListAgencyHistory(context.Context, string, string, string, string) ([]storage.SalesSnapshot, error) {
	return nil, nil
}
func (emptyStores) ListRecentSnapshots(context.Context, int) ([]storage.SalesSnapshot, error) {
	return nil, nil
}
func (emptyStores) CountSnapshots(context.Context) (int64, error) { return 0, nil }
func (emptyStores) InsertSystemLog(context.Context, storage.SystemLogEntry) error {
	return nil
}
func (emptyStores) ListSystemLogs(context.Context, int, string) ([]storage.SystemLogEntry, error) {
	return nil, nil
}
func (emptyStores) InsertIterationMetrics(context.Context, storage.IterationMetrics) error {
	return nil
}
func (emptyStores) ListRecentMetrics(context.Context, int) ([]storage.IterationMetrics, error) {
	return nil, nil
}
func (emptyStores) CreateSession(context.Context, *storage.MonitoringSession) error { return nil }
func (emptyStores) CloseSession(context.Context, uuid.UUID, string, *string) error  { return nil }
func (emptyStores) AddSessionTotals(context.Context, uuid.UUID, int, int, int) error {
	return nil
}
func (emptyStores) GetSession(context.Context, uuid.UUID) (*storage.MonitoringSession, error) {
	return nil, nil
}

type nullTx struct{}

func (nullTx) EnsureAgency(context.Context, string, string) error           { return nil }
func (nullTx) InsertSnapshot(context.Context, *storage.SalesSnapshot) error { return nil }
func (nullTx) RecentDaySnapshots(context.Context, string, string, string, int) ([]storage.SalesSnapshot, error) {
	return nil, nil
}
func (nullTx) HasReportedAlert(context.Context, string, string) (bool, error) { return false, nil }
func (nullTx) GetUnreportedAlert(context.Context, string, storage.AlertKind, string, string) (*storage.AlertEvent, error) {
	return nil, nil
}
func (nullTx) InsertAlert(context.Context, *storage.AlertEvent) error { return nil }
func (nullTx) UpdateAlert(context.Context, *storage.AlertEvent) error { return nil }

type nullDB struct{}

func (nullDB) RunInTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return fn(nullTx{})
}

func testServer(t *testing.T, apiCfg config.APIConfig) (*Server, *fakeAlertStore) {
	t.Helper()

	cfg := &config.Config{
		Alerting: config.AlertingConfig{
			BalanceThreshold:      6000,
			SalesThreshold:        20000,
			GrowthVariationDelta:  1500,
			SustainedGrowthDelta:  500,
			EnableThresholdAlerts: true,
			EnableGrowthAlerts:    true,
			BatchSize:             50,
		},
		Scheduler: config.SchedulerConfig{IntervalMinutes: 15, Strategy: monitor.StrategyClassic},
	}

	settings := monitor.NewSettingsStore(cfg)
	tracker := progress.NewTracker()
	advisor := advisory.NewEngine(config.AdvisoryConfig{Enabled: true, HistoryWindow: 10}, nil, zerolog.Nop())
	sim := acquirer.NewSimulator(1, zerolog.Nop())

	orch := monitor.NewOrchestrator(monitor.Deps{
		Classic:  sim,
		Retry:    acquirer.NewExecutor(0, time.Millisecond, zerolog.Nop()),
		Engine:   alerts.NewEngine(nullDB{}, zerolog.Nop()),
		Advisor:  advisor,
		Tracker:  tracker,
		Settings: settings,
		Logger:   zerolog.Nop(),
	})
	sched := monitor.NewScheduler(orch, settings, nil, nil, 0, zerolog.Nop())

	alertStore := &fakeAlertStore{
		pending: []storage.AlertEvent{{ID: 7, AgencyCode: "AG-001", Kind: storage.AlertThreshold}},
		reported: map[int64]bool{},
	}

	server := NewServer(Deps{
		Config:    apiCfg,
		Scheduler: sched,
		Settings:  settings,
		Tracker:   tracker,
		Advisor:   advisor,
		Alerts:    alertStore,
		Snapshots: emptyStores{},
		Sessions:  emptyStores{},
		Logs:      emptyStores{},
		Metrics:   emptyStores{},
		Logger:    zerolog.Nop(),
	})
	return server, alertStore
}

func doRequest(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := testServer(t, config.APIConfig{})
	rec := doRequest(server.Router(), http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health 应返回 200: %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	server, _ := testServer(t, config.APIConfig{})
	rec := doRequest(server.Router(), http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status 应返回 200: %d", rec.Code)
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if _, ok := payload["scheduler"]; !ok {
		t.Fatal("响应应包含 scheduler")
	}
	if _, ok := payload["progress"]; !ok {
		t.Fatal("响应应包含 progress")
	}
}

func TestReportAndUnreportAlert(t *testing.T) {
	server, store := testServer(t, config.APIConfig{})
	router := server.Router()

	if rec := doRequest(router, http.MethodPost, "/api/alerts/7/report", ""); rec.Code != http.StatusOK {
		t.Fatalf("报告警报应返回 200: %d", rec.Code)
	}
	if !store.reported[7] {
		t.Fatal("警报应被标记为已报告")
	}
	if rec := doRequest(router, http.MethodPost, "/api/alerts/7/report", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("重复报告应返回 404: %d", rec.Code)
	}

	if rec := doRequest(router, http.MethodPost, "/api/alerts/7/unreport", ""); rec.Code != http.StatusOK {
		t.Fatalf("撤销报告应返回 200: %d", rec.Code)
	}
	if rec := doRequest(router, http.MethodPost, "/api/alerts/7/unreport", ""); rec.Code != http.StatusConflict {
		t.Fatalf("重复撤销应返回 409: %d", rec.Code)
	}

	if rec := doRequest(router, http.MethodPost, "/api/alerts/abc/report", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("非法 id 应返回 400: %d", rec.Code)
	}
}

func TestSettingsUpdate(t *testing.T) {
	server, _ := testServer(t, config.APIConfig{})
	router := server.Router()

	rec := doRequest(router, http.MethodPut, "/api/settings", `{"balance_threshold": 8000, "strategy": "intelligent"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("更新设置应返回 200: %d %s", rec.Code, rec.Body.String())
	}

	var view settingsView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if view.BalanceThreshold != 8000 {
		t.Fatalf("阈值应更新为 8000: %f", view.BalanceThreshold)
	}
	if view.Strategy != monitor.StrategyIntelligent {
		t.Fatalf("策略应更新: %s", view.Strategy)
	}
	if view.SalesThreshold != 20000 {
		t.Fatalf("未更新字段应保持原值: %f", view.SalesThreshold)
	}
}

func TestSettingsUpdateRejectsInvalid(t *testing.T) {
	server, _ := testServer(t, config.APIConfig{})
	router := server.Router()

	if rec := doRequest(router, http.MethodPut, "/api/settings", `{"balance_threshold": -1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("负阈值应返回 400: %d", rec.Code)
	}
	if rec := doRequest(router, http.MethodPut, "/api/settings", `{"strategy": "magic"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("未知策略应返回 400: %d", rec.Code)
	}
	if rec := doRequest(router, http.MethodPut, "/api/settings", `{"interval_minutes": 0}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("零间隔应返回 400: %d", rec.Code)
	}
}

func TestRateLimitRejectsBurst(t *testing.T) {
	server, _ := testServer(t, config.APIConfig{RateLimitRPS: 1, RateLimitBurst: 1})
	router := server.Router()

	if rec := doRequest(router, http.MethodGet, "/api/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("第一次请求应通过: %d", rec.Code)
	}
	if rec := doRequest(router, http.MethodGet, "/api/health", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("突发第二次请求应被限流: %d", rec.Code)
	}
}

func TestPendingAlertsDefaultsToToday(t *testing.T) {
	server, _ := testServer(t, config.APIConfig{})
	rec := doRequest(server.Router(), http.MethodGet, "/api/alerts/pending", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pending 应返回 200: %d", rec.Code)
	}
	var payload struct {
		Day string `json:"day"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Day != time.Now().Format(storage.DayFormat) {
		t.Fatalf("缺省应使用今天: %s", payload.Day)
	}
}

func TestProgressWithoutVersionReturnsImmediately(t *testing.T) {
	server, _ := testServer(t, config.APIConfig{})
	rec := doRequest(server.Router(), http.MethodGet, "/api/progress", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("progress 应返回 200: %d", rec.Code)
	}
	var state progress.State
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("响应应为进度快照: %v", err)
	}
	if len(state.Steps) == 0 {
		t.Fatal("快照应包含步骤模板")
	}
}

func TestStartOverHTTPOutlivesRequest(t *testing.T) {
	server, _ := testServer(t, config.APIConfig{})
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/monitor/start", "application/json", strings.NewReader(`{"continuous":false}`))
	if err != nil {
		t.Fatalf("启动请求失败: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("启动应返回 200, 实际 %d", resp.StatusCode)
	}

	// The request context dies with the response; the loop must not.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if !server.scheduler.Status().Running {
			t.Fatal("请求结束后调度循环不应随请求上下文终止")
		}
		time.Sleep(20 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.scheduler.Stop(stopCtx); err != nil {
		t.Fatalf("停止调度失败: %v", err)
	}
}
