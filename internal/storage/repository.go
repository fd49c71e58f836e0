package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	ensureAgencySQL = `INSERT INTO agencies (code, name)
    VALUES ($1, $2)
    ON CONFLICT (code) DO UPDATE
    SET name = EXCLUDED.name, updated_at = NOW();`

	insertSnapshotSQL = `INSERT INTO sales_snapshots (
        agency_code,
        agency_name,
        lottery_type,
        sales,
        prizes,
        prizes_paid,
        balance,
        capture_day,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    ) RETURNING id, created_at;`

	snapshotColumns = `id, agency_code, agency_name, lottery_type,
        sales, prizes, prizes_paid, balance, capture_day, observed_at, created_at`

	listDaySnapshotsSQL = `SELECT ` + snapshotColumns + `
    FROM sales_snapshots
    WHERE agency_code = $1
      AND lottery_type = $2
      AND capture_day = $3
    ORDER BY observed_at DESC
    LIMIT $4;`

	listAgencyHistorySQL = `SELECT ` + snapshotColumns + `
    FROM sales_snapshots
    WHERE agency_code = $1
      AND lottery_type = $2
      AND capture_day >= $3
      AND capture_day <= $4
    ORDER BY capture_day, observed_at;`

	listRecentSnapshotsSQL = `SELECT ` + snapshotColumns + `
    FROM sales_snapshots
    ORDER BY observed_at DESC
    LIMIT $1;`

	countSnapshotsSQL = `SELECT COUNT(*) FROM sales_snapshots;`

	alertColumns = `id, agency_code, agency_name, kind, message, lottery_type,
        current_sales, current_balance, previous_sales, growth_amount,
        is_reported, reported_at, alert_day, created_at`

	hasReportedAlertSQL = `SELECT EXISTS (
        SELECT 1 FROM alerts
        WHERE agency_code = $1 AND alert_day = $2 AND is_reported
    );`

	getUnreportedAlertSQL = `SELECT ` + alertColumns + `
    FROM alerts
    WHERE agency_code = $1
      AND kind = $2
      AND lottery_type = $3
      AND alert_day = $4
      AND NOT is_reported
    LIMIT 1;`

	insertAlertSQL = `INSERT INTO alerts (
        agency_code,
        agency_name,
        kind,
        message,
        lottery_type,
        current_sales,
        current_balance,
        previous_sales,
        growth_amount,
        alert_day
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    ) RETURNING id, created_at;`

	updateAlertSQL = `UPDATE alerts
    SET message        = $2,
        current_sales  = $3,
        current_balance = $4,
        previous_sales = $5,
        growth_amount  = $6
    WHERE id = $1 AND NOT is_reported;`

	listPendingAlertsSQL = `SELECT ` + alertColumns + `
    FROM alerts
    WHERE alert_day = $1 AND NOT is_reported
    ORDER BY created_at DESC;`

	listRecentAlertsSQL = `SELECT ` + alertColumns + `
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	countPendingAlertsSQL = `SELECT COUNT(*) FROM alerts WHERE alert_day = $1 AND NOT is_reported;`

	markAlertReportedSQL = `UPDATE alerts
    SET is_reported = TRUE, reported_at = NOW()
    WHERE id = $1 AND NOT is_reported;`

	unmarkAlertReportedSQL = `UPDATE alerts
    SET is_reported = FALSE, reported_at = NULL
    WHERE id = $1 AND is_reported AND alert_day = $2;`

	insertSessionSQL = `INSERT INTO monitoring_sessions (
        id, session_date, started_at, status
    ) VALUES ($1,$2,$3,$4);`

	closeSessionSQL = `UPDATE monitoring_sessions
    SET ended_at = NOW(), status = $2, error_message = $3
    WHERE id = $1;`

	addSessionTotalsSQL = `UPDATE monitoring_sessions
    SET total_iterations = total_iterations + $2,
        total_agencies   = total_agencies + $3,
        total_alerts     = total_alerts + $4
    WHERE id = $1;`

	getSessionSQL = `SELECT id, session_date, started_at, ended_at, status,
        total_iterations, total_agencies, total_alerts, error_message
    FROM monitoring_sessions
    WHERE id = $1;`

	insertSystemLogSQL = `INSERT INTO system_logs (level, message, module, session_id)
    VALUES ($1,$2,$3,$4);`

	listSystemLogsSQL = `SELECT id, level, message, module, session_id, created_at
    FROM system_logs
    WHERE ($2 = '' OR level = $2)
    ORDER BY created_at DESC
    LIMIT $1;`

	insertMetricsSQL = `INSERT INTO system_metrics (
        observed_at, success, duration_ms, record_count, alert_count,
        error_type, response_ms, memory_pct, cpu_pct
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`

	listRecentMetricsSQL = `SELECT id, observed_at, success, duration_ms,
        record_count, alert_count, error_type, response_ms, memory_pct, cpu_pct
    FROM system_metrics
    ORDER BY observed_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore defines read access to persisted sales snapshots.
type SnapshotStore interface {
	ListDaySnapshots(ctx context.Context, agencyCode, lotteryType, day string, limit int) ([]SalesSnapshot, error)
	ListAgencyHistory(ctx context.Context, agencyCode, lotteryType, fromDay, toDay string) ([]SalesSnapshot, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]SalesSnapshot, error)
	CountSnapshots(ctx context.Context) (int64, error)
}

// AlertStore defines operator-facing alert operations.
type AlertStore interface {
	ListPendingAlerts(ctx context.Context, day string) ([]AlertEvent, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertEvent, error)
	CountPendingAlerts(ctx context.Context, day string) (int64, error)
	MarkAlertReported(ctx context.Context, id int64) (bool, error)
	UnmarkAlertReported(ctx context.Context, id int64, day string) (bool, error)
}

// SessionStore persists monitoring sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *MonitoringSession) error
	CloseSession(ctx context.Context, id uuid.UUID, status string, errMsg *string) error
	AddSessionTotals(ctx context.Context, id uuid.UUID, iterations, agencies, alerts int) error
	GetSession(ctx context.Context, id uuid.UUID) (*MonitoringSession, error)
}

// SystemLogStore persists operator-visible audit events.
type SystemLogStore interface {
	InsertSystemLog(ctx context.Context, entry SystemLogEntry) error
	ListSystemLogs(ctx context.Context, limit int, level string) ([]SystemLogEntry, error)
}

// MetricsStore persists per-iteration outcome metrics for the advisory engine.
type MetricsStore interface {
	InsertIterationMetrics(ctx context.Context, m IterationMetrics) error
	ListRecentMetrics(ctx context.Context, limit int) ([]IterationMetrics, error)
}

// Tx is the transactional surface the alert engine writes through.
type Tx interface {
	EnsureAgency(ctx context.Context, code, name string) error
	InsertSnapshot(ctx context.Context, snapshot *SalesSnapshot) error
	RecentDaySnapshots(ctx context.Context, agencyCode, lotteryType, day string, limit int) ([]SalesSnapshot, error)
	HasReportedAlert(ctx context.Context, agencyCode, day string) (bool, error)
	GetUnreportedAlert(ctx context.Context, agencyCode string, kind AlertKind, lotteryType, day string) (*AlertEvent, error)
	InsertAlert(ctx context.Context, alert *AlertEvent) error
	UpdateAlert(ctx context.Context, alert *AlertEvent) error
}

// AlertDatabase runs a function inside one transaction, rolling back on error.
type AlertDatabase interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

var (
	_ SnapshotStore  = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ SessionStore   = (*Store)(nil)
	_ SystemLogStore = (*Store)(nil)
	_ MetricsStore   = (*Store)(nil)
	_ AlertDatabase  = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
	_ Tx             = (*storeTx)(nil)
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store aggregates access to all monitoring tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// RunInTx executes fn inside a single transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	pgtx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	if err := fn(&storeTx{q: pgtx}); err != nil {
		return err
	}

	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// storeTx binds the Tx surface to one pgx transaction.
type storeTx struct {
	q querier
}

func (t *storeTx) EnsureAgency(ctx context.Context, code, name string) error {
	if _, err := t.q.Exec(ctx, ensureAgencySQL, code, name); err != nil {
		return fmt.Errorf("ensure agency %s: %w", code, err)
	}
	return nil
}

func (t *storeTx) InsertSnapshot(ctx context.Context, snapshot *SalesSnapshot) error {
	row := t.q.QueryRow(ctx, insertSnapshotSQL,
		snapshot.AgencyCode,
		snapshot.AgencyName,
		snapshot.LotteryType,
		snapshot.Sales.String(),
		snapshot.Prizes.String(),
		snapshot.PrizesPaid.String(),
		snapshot.Balance.String(),
		snapshot.CaptureDay,
		snapshot.ObservedAt,
	)
	if err := row.Scan(&snapshot.ID, &snapshot.CreatedAt); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (t *storeTx) RecentDaySnapshots(ctx context.Context, agencyCode, lotteryType, day string, limit int) ([]SalesSnapshot, error) {
	return listDaySnapshots(ctx, t.q, agencyCode, lotteryType, day, limit)
}

func (t *storeTx) HasReportedAlert(ctx context.Context, agencyCode, day string) (bool, error) {
	var reported bool
	if err := t.q.QueryRow(ctx, hasReportedAlertSQL, agencyCode, day).Scan(&reported); err != nil {
		return false, fmt.Errorf("check reported alert: %w", err)
	}
	return reported, nil
}

func (t *storeTx) GetUnreportedAlert(ctx context.Context, agencyCode string, kind AlertKind, lotteryType, day string) (*AlertEvent, error) {
	row := t.q.QueryRow(ctx, getUnreportedAlertSQL, agencyCode, string(kind), lotteryType, day)
	alert, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get unreported alert: %w", err)
	}
	return &alert, nil
}

func (t *storeTx) InsertAlert(ctx context.Context, alert *AlertEvent) error {
	row := t.q.QueryRow(ctx, insertAlertSQL,
		alert.AgencyCode,
		alert.AgencyName,
		string(alert.Kind),
		alert.Message,
		alert.LotteryType,
		alert.CurrentSales.String(),
		alert.CurrentBalance.String(),
		decimalPtr(alert.PreviousSales),
		decimalPtr(alert.GrowthAmount),
		alert.AlertDay,
	)
	if err := row.Scan(&alert.ID, &alert.CreatedAt); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (t *storeTx) UpdateAlert(ctx context.Context, alert *AlertEvent) error {
	tag, err := t.q.Exec(ctx, updateAlertSQL,
		alert.ID,
		alert.Message,
		alert.CurrentSales.String(),
		alert.CurrentBalance.String(),
		decimalPtr(alert.PreviousSales),
		decimalPtr(alert.GrowthAmount),
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListDaySnapshots lists same-day snapshots, newest first.
func (s *Store) ListDaySnapshots(ctx context.Context, agencyCode, lotteryType, day string, limit int) ([]SalesSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return listDaySnapshots(ctx, pool, agencyCode, lotteryType, day, limit)
}

// ListAgencyHistory lists snapshots within a day window, oldest first.
func (s *Store) ListAgencyHistory(ctx context.Context, agencyCode, lotteryType, fromDay, toDay string) ([]SalesSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAgencyHistorySQL, agencyCode, lotteryType, fromDay, toDay)
	if queryErr != nil {
		return nil, fmt.Errorf("list agency history: %w", queryErr)
	}
	defer rows.Close()
	return collectSnapshots(rows)
}

// ListRecentSnapshots lists the most recent snapshots across all agencies.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]SalesSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()
	return collectSnapshots(rows)
}

// CountSnapshots counts stored snapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSnapshotsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count snapshots: %w", scanErr)
	}
	return count, nil
}

// ListPendingAlerts lists unreported alerts for a calendar day.
func (s *Store) ListPendingAlerts(ctx context.Context, day string) ([]AlertEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPendingAlertsSQL, day)
	if queryErr != nil {
		return nil, fmt.Errorf("list pending alerts: %w", queryErr)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// ListRecentAlerts lists most recent alerts across days.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// CountPendingAlerts counts unreported alerts for a calendar day.
func (s *Store) CountPendingAlerts(ctx context.Context, day string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countPendingAlertsSQL, day).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count pending alerts: %w", scanErr)
	}
	return count, nil
}

// MarkAlertReported flips an alert to reported. Returns false when the alert
// does not exist or was already reported.
func (s *Store) MarkAlertReported(ctx context.Context, id int64) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, markAlertReportedSQL, id)
	if execErr != nil {
		return false, fmt.Errorf("mark alert reported: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// UnmarkAlertReported reverts a reported alert back to pending. Restricted to
// the given (current) day so historical audit state stays frozen.
func (s *Store) UnmarkAlertReported(ctx context.Context, id int64, day string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, unmarkAlertReportedSQL, id, day)
	if execErr != nil {
		return false, fmt.Errorf("unmark alert reported: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// CreateSession inserts a new monitoring session row.
func (s *Store) CreateSession(ctx context.Context, session *MonitoringSession) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	if _, execErr := pool.Exec(ctx, insertSessionSQL,
		session.ID, session.SessionDate, session.StartedAt, session.Status,
	); execErr != nil {
		return fmt.Errorf("create session: %w", execErr)
	}
	return nil
}

// CloseSession marks a session finished with the given status.
func (s *Store) CloseSession(ctx context.Context, id uuid.UUID, status string, errMsg *string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	var msg any
	if errMsg != nil {
		msg = *errMsg
	}
	if _, execErr := pool.Exec(ctx, closeSessionSQL, id, status, msg); execErr != nil {
		return fmt.Errorf("close session: %w", execErr)
	}
	return nil
}

// AddSessionTotals bumps cumulative counters on a session.
func (s *Store) AddSessionTotals(ctx context.Context, id uuid.UUID, iterations, agencies, alerts int) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, addSessionTotalsSQL, id, iterations, agencies, alerts); execErr != nil {
		return fmt.Errorf("add session totals: %w", execErr)
	}
	return nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*MonitoringSession, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var (
		session MonitoringSession
		endedAt sql.NullTime
		errMsg  sql.NullString
	)
	row := pool.QueryRow(ctx, getSessionSQL, id)
	if scanErr := row.Scan(
		&session.ID,
		&session.SessionDate,
		&session.StartedAt,
		&endedAt,
		&session.Status,
		&session.TotalIterations,
		&session.TotalAgencies,
		&session.TotalAlerts,
		&errMsg,
	); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", scanErr)
	}
	if endedAt.Valid {
		value := endedAt.Time
		session.EndedAt = &value
	}
	if errMsg.Valid {
		value := errMsg.String
		session.ErrorMessage = &value
	}
	return &session, nil
}

// InsertSystemLog stores one audit row. Best-effort callers may ignore errors.
func (s *Store) InsertSystemLog(ctx context.Context, entry SystemLogEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	var sessionID any
	if entry.SessionID != nil {
		sessionID = *entry.SessionID
	}
	if _, execErr := pool.Exec(ctx, insertSystemLogSQL,
		entry.Level, entry.Message, entry.Module, sessionID,
	); execErr != nil {
		return fmt.Errorf("insert system log: %w", execErr)
	}
	return nil
}

// ListSystemLogs lists recent audit rows, optionally filtered by level.
func (s *Store) ListSystemLogs(ctx context.Context, limit int, level string) ([]SystemLogEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSystemLogsSQL, limit, level)
	if queryErr != nil {
		return nil, fmt.Errorf("list system logs: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]SystemLogEntry, 0, limit)
	for rows.Next() {
		var (
			entry     SystemLogEntry
			sessionID uuid.NullUUID
		)
		if err := rows.Scan(&entry.ID, &entry.Level, &entry.Message, &entry.Module, &sessionID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if sessionID.Valid {
			value := sessionID.UUID
			entry.SessionID = &value
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// InsertIterationMetrics stores one iteration outcome row.
func (s *Store) InsertIterationMetrics(ctx context.Context, m IterationMetrics) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	var errType any
	if m.ErrorType != nil {
		errType = *m.ErrorType
	}
	if _, execErr := pool.Exec(ctx, insertMetricsSQL,
		m.ObservedAt, m.Success, m.DurationMS, m.RecordCount, m.AlertCount,
		errType, m.ResponseMS, m.MemoryPct, m.CPUPct,
	); execErr != nil {
		return fmt.Errorf("insert iteration metrics: %w", execErr)
	}
	return nil
}

// ListRecentMetrics lists recent iteration outcomes, newest first.
func (s *Store) ListRecentMetrics(ctx context.Context, limit int) ([]IterationMetrics, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentMetricsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent metrics: %w", queryErr)
	}
	defer rows.Close()

	metrics := make([]IterationMetrics, 0, limit)
	for rows.Next() {
		var (
			m       IterationMetrics
			errType sql.NullString
		)
		if err := rows.Scan(
			&m.ID, &m.ObservedAt, &m.Success, &m.DurationMS,
			&m.RecordCount, &m.AlertCount, &errType, &m.ResponseMS,
			&m.MemoryPct, &m.CPUPct,
		); err != nil {
			return nil, err
		}
		if errType.Valid {
			value := errType.String
			m.ErrorType = &value
		}
		metrics = append(metrics, m)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return metrics, nil
}

func listDaySnapshots(ctx context.Context, q querier, agencyCode, lotteryType, day string, limit int) ([]SalesSnapshot, error) {
	rows, err := q.Query(ctx, listDaySnapshotsSQL, agencyCode, lotteryType, day, limit)
	if err != nil {
		return nil, fmt.Errorf("list day snapshots: %w", err)
	}
	defer rows.Close()
	return collectSnapshots(rows)
}

func collectSnapshots(rows pgx.Rows) ([]SalesSnapshot, error) {
	snapshots := make([]SalesSnapshot, 0)
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

func collectAlerts(rows pgx.Rows) ([]AlertEvent, error) {
	alerts := make([]AlertEvent, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (SalesSnapshot, error) {
	var (
		snapshot      SalesSnapshot
		salesStr      string
		prizesStr     string
		prizesPaidStr string
		balanceStr    string
	)

	if err := row.Scan(
		&snapshot.ID,
		&snapshot.AgencyCode,
		&snapshot.AgencyName,
		&snapshot.LotteryType,
		&salesStr,
		&prizesStr,
		&prizesPaidStr,
		&balanceStr,
		&snapshot.CaptureDay,
		&snapshot.ObservedAt,
		&snapshot.CreatedAt,
	); err != nil {
		return SalesSnapshot{}, err
	}

	var err error
	if snapshot.Sales, err = decimal.NewFromString(salesStr); err != nil {
		return SalesSnapshot{}, fmt.Errorf("parse sales: %w", err)
	}
	if snapshot.Prizes, err = decimal.NewFromString(prizesStr); err != nil {
		return SalesSnapshot{}, fmt.Errorf("parse prizes: %w", err)
	}
	if snapshot.PrizesPaid, err = decimal.NewFromString(prizesPaidStr); err != nil {
		return SalesSnapshot{}, fmt.Errorf("parse prizes paid: %w", err)
	}
	if snapshot.Balance, err = decimal.NewFromString(balanceStr); err != nil {
		return SalesSnapshot{}, fmt.Errorf("parse balance: %w", err)
	}

	return snapshot, nil
}

func scanAlert(row rowScanner) (AlertEvent, error) {
	var (
		alert       AlertEvent
		kindStr     string
		currentStr  string
		balanceStr  string
		previousStr sql.NullString
		growthStr   sql.NullString
		reportedAt  sql.NullTime
	)

	if err := row.Scan(
		&alert.ID,
		&alert.AgencyCode,
		&alert.AgencyName,
		&kindStr,
		&alert.Message,
		&alert.LotteryType,
		&currentStr,
		&balanceStr,
		&previousStr,
		&growthStr,
		&alert.IsReported,
		&reportedAt,
		&alert.AlertDay,
		&alert.CreatedAt,
	); err != nil {
		return AlertEvent{}, err
	}

	alert.Kind = AlertKind(kindStr)

	var err error
	if alert.CurrentSales, err = decimal.NewFromString(currentStr); err != nil {
		return AlertEvent{}, fmt.Errorf("parse current sales: %w", err)
	}
	if alert.CurrentBalance, err = decimal.NewFromString(balanceStr); err != nil {
		return AlertEvent{}, fmt.Errorf("parse current balance: %w", err)
	}
	if previousStr.Valid {
		value, convErr := decimal.NewFromString(previousStr.String)
		if convErr != nil {
			return AlertEvent{}, fmt.Errorf("parse previous sales: %w", convErr)
		}
		alert.PreviousSales = &value
	}
	if growthStr.Valid {
		value, convErr := decimal.NewFromString(growthStr.String)
		if convErr != nil {
			return AlertEvent{}, fmt.Errorf("parse growth amount: %w", convErr)
		}
		alert.GrowthAmount = &value
	}
	if reportedAt.Valid {
		value := reportedAt.Time
		alert.ReportedAt = &value
	}

	return alert, nil
}

func decimalPtr(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}
