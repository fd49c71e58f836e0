package acquirer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"agency-sales-monitor/internal/config"
	"agency-sales-monitor/internal/progress"
	"agency-sales-monitor/internal/storage"
)

const (
	loginPath   = "/api/auth/login"
	logoutPath  = "/api/auth/logout"
	homePath    = "/api/reports/sales"
	filtersPath = "/api/reports/sales/filters"
	queryPath   = "/api/reports/sales/query"
	healthPath  = "/api/health"
)

// Portal acquires sales rows from the agency reporting portal over HTTP.
type Portal struct {
	cfg     config.PortalConfig
	logger  zerolog.Logger
	client  *http.Client
	baseURL string

	mu    sync.Mutex
	token string

	now func() time.Time
}

// NewPortal constructs a portal acquirer.
func NewPortal(cfg config.PortalConfig, logger zerolog.Logger) *Portal {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Portal{
		cfg:     cfg,
		logger:  logger.With().Str("component", "portal_acquirer").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		now:     time.Now,
	}
}

// Name implements Acquirer.
func (p *Portal) Name() string { return "classic" }

// Ping implements Acquirer.
func (p *Portal) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("portal health check returned %d", resp.StatusCode)
	}
	return nil
}

// Reset drops the cached session token and tells the portal to close the
// session. Logout failures are ignored; the token is gone either way.
func (p *Portal) Reset(ctx context.Context) error {
	p.mu.Lock()
	token := p.token
	p.token = ""
	p.mu.Unlock()

	if token == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+logoutPath, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := p.client.Do(req)
	if err == nil {
		_ = resp.Body.Close()
	}
	return nil
}

// AcquireRecords implements Acquirer. It walks the full portal pipeline and
// returns rows for both lottery lines stamped with today's capture day.
func (p *Portal) AcquireRecords(ctx context.Context, report ProgressFunc) ([]storage.SalesSnapshot, error) {
	step := func(key, detail string) {
		if report != nil {
			report(key, detail)
		}
	}

	step(progress.StepLogin, "")
	if err := p.login(ctx); err != nil {
		return nil, err
	}

	step(progress.StepNavigate, "")
	if err := p.openSalesReport(ctx); err != nil {
		return nil, err
	}

	step(progress.StepBaseFilters, "")
	if err := p.applyBaseFilters(ctx); err != nil {
		return nil, err
	}

	now := p.now()
	day := now.Format(storage.DayFormat)

	step(progress.StepChance, "")
	chance, err := p.queryLottery(ctx, storage.LotteryChanceExpress, day, now)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", storage.LotteryChanceExpress, err)
	}

	step(progress.StepRuleta, "")
	ruleta, err := p.queryLottery(ctx, storage.LotteryRuletaExpress, day, now)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", storage.LotteryRuletaExpress, err)
	}

	records := append(chance, ruleta...)
	step(progress.StepDataReady, fmt.Sprintf("%d registros", len(records)))

	p.logger.Info().
		Int("chance", len(chance)).
		Int("ruleta", len(ruleta)).
		Msg("portal acquisition complete")
	return records, nil
}

func (p *Portal) login(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"username": p.cfg.Username,
		"password": p.cfg.Password,
	})
	if err != nil {
		return err
	}

	body, status, err := p.do(ctx, http.MethodPost, loginPath, payload, false)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return MarkNonRetryable(fmt.Errorf("login rejected (%d)", status))
	}
	if status != http.StatusOK {
		return fmt.Errorf("login returned %d", status)
	}

	var res struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("parse login response: %w", err)
	}
	if res.Token == "" {
		return MarkNonRetryable(errors.New("login response missing token"))
	}

	p.mu.Lock()
	p.token = res.Token
	p.mu.Unlock()
	return nil
}

func (p *Portal) openSalesReport(ctx context.Context) error {
	_, status, err := p.do(ctx, http.MethodGet, homePath, nil, true)
	if err != nil {
		return fmt.Errorf("open sales report: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("sales report returned %d", status)
	}
	return nil
}

func (p *Portal) applyBaseFilters(ctx context.Context) error {
	payload, err := json.Marshal(map[string]any{
		"groupBy":  "agency",
		"minSales": p.cfg.MinSalesFilter,
	})
	if err != nil {
		return err
	}
	_, status, doErr := p.do(ctx, http.MethodPost, filtersPath, payload, true)
	if doErr != nil {
		return fmt.Errorf("apply filters: %w", doErr)
	}
	if status != http.StatusOK {
		return fmt.Errorf("apply filters returned %d", status)
	}
	return nil
}

type portalRow struct {
	AgencyCode string `json:"agencyCode"`
	AgencyName string `json:"agencyName"`
	Sales      string `json:"sales"`
	Prizes     string `json:"prizes"`
	PrizesPaid string `json:"prizesPaid"`
	Balance    string `json:"balance"`
}

func (p *Portal) queryLottery(ctx context.Context, lotteryType, day string, observedAt time.Time) ([]storage.SalesSnapshot, error) {
	payload, err := json.Marshal(map[string]string{
		"lottery": lotteryType,
		"date":    day,
	})
	if err != nil {
		return nil, err
	}

	body, status, doErr := p.do(ctx, http.MethodPost, queryPath, payload, true)
	if doErr != nil {
		return nil, doErr
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("query returned %d", status)
	}

	var res struct {
		Rows []portalRow `json:"rows"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("parse query response: %w", err)
	}

	records := make([]storage.SalesSnapshot, 0, len(res.Rows))
	for _, row := range res.Rows {
		record, convErr := rowToSnapshot(row, lotteryType, day, observedAt)
		if convErr != nil {
			p.logger.Warn().
				Str("agency", row.AgencyCode).
				Err(convErr).
				Msg("skipping malformed portal row")
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func rowToSnapshot(row portalRow, lotteryType, day string, observedAt time.Time) (storage.SalesSnapshot, error) {
	if row.AgencyCode == "" {
		return storage.SalesSnapshot{}, errors.New("missing agency code")
	}

	sales, err := decimal.NewFromString(strings.TrimSpace(row.Sales))
	if err != nil {
		return storage.SalesSnapshot{}, fmt.Errorf("parse sales: %w", err)
	}
	prizes, err := decimal.NewFromString(strings.TrimSpace(row.Prizes))
	if err != nil {
		return storage.SalesSnapshot{}, fmt.Errorf("parse prizes: %w", err)
	}
	prizesPaid, err := decimal.NewFromString(strings.TrimSpace(row.PrizesPaid))
	if err != nil {
		return storage.SalesSnapshot{}, fmt.Errorf("parse prizes paid: %w", err)
	}

	balance := decimal.Zero
	if trimmed := strings.TrimSpace(row.Balance); trimmed != "" {
		if balance, err = decimal.NewFromString(trimmed); err != nil {
			return storage.SalesSnapshot{}, fmt.Errorf("parse balance: %w", err)
		}
	} else {
		balance = sales.Sub(prizesPaid)
	}

	return storage.SalesSnapshot{
		AgencyCode:  row.AgencyCode,
		AgencyName:  strings.TrimSpace(row.AgencyName),
		LotteryType: lotteryType,
		Sales:       sales,
		Prizes:      prizes,
		PrizesPaid:  prizesPaid,
		Balance:     balance,
		CaptureDay:  day,
		ObservedAt:  observedAt,
	}, nil
}

func (p *Portal) do(ctx context.Context, method, path string, payload []byte, authed bool) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.cfg.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if authed {
		p.mu.Lock()
		token := p.token
		p.mu.Unlock()
		if token == "" {
			return nil, 0, MarkNonRetryable(errors.New("no active session, login first"))
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if authed && resp.StatusCode == http.StatusUnauthorized {
		return nil, resp.StatusCode, MarkNonRetryable(errors.New("invalid session id"))
	}
	return respBody, resp.StatusCode, nil
}

var _ Acquirer = (*Portal)(nil)
