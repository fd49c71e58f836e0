package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AlertKind identifies the rule family that produced an alert.
type AlertKind string

const (
	AlertThreshold       AlertKind = "threshold"
	AlertGrowthVariation AlertKind = "growth_variation"
	AlertSustainedGrowth AlertKind = "sustained_growth"
)

// Lottery lines tracked per agency.
const (
	LotteryChanceExpress = "CHANCE_EXPRESS"
	LotteryRuletaExpress = "RULETA_EXPRESS"
)

// DayFormat is the calendar-day key used for daily grouping and alert reset.
const DayFormat = "2006-01-02"

// SalesSnapshot is one observation of one agency in one lottery line.
// Immutable once written.
type SalesSnapshot struct {
	ID          int64           `json:"id"`
	AgencyCode  string          `json:"agency_code"`
	AgencyName  string          `json:"agency_name"`
	LotteryType string          `json:"lottery_type"`
	Sales       decimal.Decimal `json:"sales"`
	Prizes      decimal.Decimal `json:"prizes"`
	PrizesPaid  decimal.Decimal `json:"prizes_paid"`
	Balance     decimal.Decimal `json:"balance"`
	CaptureDay  string          `json:"capture_day"`
	ObservedAt  time.Time       `json:"observed_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AlertEvent is a derived, deduplicated alert signal. At most one unreported
// event exists per (agency, kind, lottery, day); a reported event freezes the
// agency for the rest of the day across all kinds.
type AlertEvent struct {
	ID             int64            `json:"id"`
	AgencyCode     string           `json:"agency_code"`
	AgencyName     string           `json:"agency_name"`
	Kind           AlertKind        `json:"kind"`
	Message        string           `json:"message"`
	LotteryType    string           `json:"lottery_type"`
	CurrentSales   decimal.Decimal  `json:"current_sales"`
	CurrentBalance decimal.Decimal  `json:"current_balance"`
	PreviousSales  *decimal.Decimal `json:"previous_sales,omitempty"`
	GrowthAmount   *decimal.Decimal `json:"growth_amount,omitempty"`
	IsReported     bool             `json:"is_reported"`
	ReportedAt     *time.Time       `json:"reported_at,omitempty"`
	AlertDay       string           `json:"alert_day"`
	CreatedAt      time.Time        `json:"created_at"`
}

// MonitoringSession is one operator-visible Start/Stop window with
// cumulative counters.
type MonitoringSession struct {
	ID              uuid.UUID  `json:"id"`
	SessionDate     string     `json:"session_date"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Status          string     `json:"status"`
	TotalIterations int        `json:"total_iterations"`
	TotalAgencies   int        `json:"total_agencies"`
	TotalAlerts     int        `json:"total_alerts"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
}

// SystemLogEntry is an operator-visible audit row.
type SystemLogEntry struct {
	ID        int64      `json:"id"`
	Level     string     `json:"level"`
	Message   string     `json:"message"`
	Module    string     `json:"module"`
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// IterationMetrics captures the outcome of one sampling pass for the
// advisory engine's history.
type IterationMetrics struct {
	ID          int64     `json:"id"`
	ObservedAt  time.Time `json:"observed_at"`
	Success     bool      `json:"success"`
	DurationMS  int64     `json:"duration_ms"`
	RecordCount int       `json:"record_count"`
	AlertCount  int       `json:"alert_count"`
	ErrorType   *string   `json:"error_type,omitempty"`
	ResponseMS  int64     `json:"response_ms"`
	MemoryPct   float64   `json:"memory_pct"`
	CPUPct      float64   `json:"cpu_pct"`
}
