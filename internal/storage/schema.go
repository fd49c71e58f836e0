package storage

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS agencies (
        code       TEXT PRIMARY KEY,
        name       TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`,
	`CREATE TABLE IF NOT EXISTS sales_snapshots (
        id           BIGSERIAL PRIMARY KEY,
        agency_code  TEXT NOT NULL REFERENCES agencies(code),
        agency_name  TEXT NOT NULL,
        lottery_type TEXT NOT NULL,
        sales        NUMERIC(14,2) NOT NULL,
        prizes       NUMERIC(14,2) NOT NULL,
        prizes_paid  NUMERIC(14,2) NOT NULL,
        balance      NUMERIC(14,2) NOT NULL,
        capture_day  TEXT NOT NULL,
        observed_at  TIMESTAMPTZ NOT NULL,
        created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_agency_day
        ON sales_snapshots (agency_code, lottery_type, capture_day, observed_at DESC);`,
	`CREATE TABLE IF NOT EXISTS alerts (
        id              BIGSERIAL PRIMARY KEY,
        agency_code     TEXT NOT NULL,
        agency_name     TEXT NOT NULL,
        kind            TEXT NOT NULL,
        message         TEXT NOT NULL,
        lottery_type    TEXT NOT NULL,
        current_sales   NUMERIC(14,2) NOT NULL,
        current_balance NUMERIC(14,2) NOT NULL,
        previous_sales  NUMERIC(14,2),
        growth_amount   NUMERIC(14,2),
        is_reported     BOOLEAN NOT NULL DEFAULT FALSE,
        reported_at     TIMESTAMPTZ,
        alert_day       TEXT NOT NULL,
        created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_day_reported
        ON alerts (alert_day, is_reported);`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_agency_kind
        ON alerts (agency_code, kind, lottery_type, alert_day);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_alerts_unreported_key
        ON alerts (agency_code, kind, lottery_type, alert_day)
        WHERE NOT is_reported;`,
	`CREATE TABLE IF NOT EXISTS monitoring_sessions (
        id               UUID PRIMARY KEY,
        session_date     TEXT NOT NULL,
        started_at       TIMESTAMPTZ NOT NULL,
        ended_at         TIMESTAMPTZ,
        status           TEXT NOT NULL,
        total_iterations INTEGER NOT NULL DEFAULT 0,
        total_agencies   INTEGER NOT NULL DEFAULT 0,
        total_alerts     INTEGER NOT NULL DEFAULT 0,
        error_message    TEXT
    );`,
	`CREATE TABLE IF NOT EXISTS system_logs (
        id         BIGSERIAL PRIMARY KEY,
        level      TEXT NOT NULL,
        message    TEXT NOT NULL,
        module     TEXT NOT NULL,
        session_id UUID,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`,
	`CREATE TABLE IF NOT EXISTS system_metrics (
        id           BIGSERIAL PRIMARY KEY,
        observed_at  TIMESTAMPTZ NOT NULL,
        success      BOOLEAN NOT NULL,
        duration_ms  BIGINT NOT NULL,
        record_count INTEGER NOT NULL,
        alert_count  INTEGER NOT NULL,
        error_type   TEXT,
        response_ms  BIGINT NOT NULL,
        memory_pct   DOUBLE PRECISION NOT NULL,
        cpu_pct      DOUBLE PRECISION NOT NULL
    );`,
}

// EnsureSchema creates the monitoring tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range schemaStatements {
		if _, execErr := pool.Exec(ctx, stmt); execErr != nil {
			return fmt.Errorf("ensure schema: %w", execErr)
		}
	}
	return nil
}
