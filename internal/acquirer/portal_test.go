package acquirer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"agency-sales-monitor/internal/config"
	"agency-sales-monitor/internal/progress"
	"agency-sales-monitor/internal/storage"
)

func newPortalServer(t *testing.T, rows map[string][]portalRow) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
	})
	mux.HandleFunc(homePath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(filtersPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(queryPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var q map[string]string
		_ = json.NewDecoder(r.Body).Decode(&q)
		_ = json.NewEncoder(w).Encode(map[string]any{"rows": rows[q["lottery"]]})
	})
	return httptest.NewServer(mux)
}

func portalConfig(url string) config.PortalConfig {
	return config.PortalConfig{
		BaseURL:        url,
		Username:       "operador",
		Password:       "secret",
		RequestTimeout: time.Second,
		UserAgent:      "test",
	}
}

func TestPortalAcquireRecords(t *testing.T) {
	rows := map[string][]portalRow{
		storage.LotteryChanceExpress: {
			{AgencyCode: "AG-001", AgencyName: "Agencia Central", Sales: "18000.50", Prizes: "9000", PrizesPaid: "7000", Balance: "11000.50"},
			{AgencyCode: "", Sales: "1"},
		},
		storage.LotteryRuletaExpress: {
			{AgencyCode: "AG-002", AgencyName: "Agencia Norte", Sales: "5000", Prizes: "2000", PrizesPaid: "1500"},
		},
	}
	srv := newPortalServer(t, rows)
	defer srv.Close()

	portal := NewPortal(portalConfig(srv.URL), zerolog.Nop())
	var steps []string
	records, err := portal.AcquireRecords(context.Background(), func(key, detail string) {
		steps = append(steps, key)
	})
	if err != nil {
		t.Fatalf("采集应成功: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("缺少机构编码的行应被跳过, 期望 2 条, 实际 %d", len(records))
	}
	if records[0].LotteryType != storage.LotteryChanceExpress {
		t.Fatalf("第一批应为 CHANCE, 实际 %s", records[0].LotteryType)
	}
	if records[0].Sales.String() != "18000.5" {
		t.Fatalf("销售额解析错误: %s", records[0].Sales)
	}
	if records[1].Balance.String() != "3500" {
		t.Fatalf("缺省余额应为 sales-prizesPaid, 实际 %s", records[1].Balance)
	}

	want := []string{
		progress.StepLogin, progress.StepNavigate, progress.StepBaseFilters,
		progress.StepChance, progress.StepRuleta, progress.StepDataReady,
	}
	if len(steps) != len(want) {
		t.Fatalf("步骤序列不正确: %v", steps)
	}
	for i, key := range want {
		if steps[i] != key {
			t.Fatalf("第 %d 步应为 %s, 实际 %s", i, key, steps[i])
		}
	}
}

func TestPortalLoginRejectedNonRetryable(t *testing.T) {
	srv := newPortalServer(t, nil)
	defer srv.Close()

	cfg := portalConfig(srv.URL)
	cfg.Password = "wrong"
	portal := NewPortal(cfg, zerolog.Nop())

	_, err := portal.AcquireRecords(context.Background(), nil)
	if err == nil {
		t.Fatal("错误密码应失败")
	}
	if !errors.Is(err, ErrNonRetryable) {
		t.Fatalf("凭证错误应标记为不可重试: %v", err)
	}
}

func TestPortalRequiresLoginBeforeQuery(t *testing.T) {
	portal := NewPortal(portalConfig("http://127.0.0.1:0"), zerolog.Nop())
	if err := portal.openSalesReport(context.Background()); !errors.Is(err, ErrNonRetryable) {
		t.Fatalf("未登录时访问应返回不可重试错误: %v", err)
	}
}
