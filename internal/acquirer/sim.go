package acquirer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"agency-sales-monitor/internal/progress"
	"agency-sales-monitor/internal/storage"
)

// Simulator generates synthetic sales rows without touching the portal. Sales
// figures grow between iterations so growth alerts fire during a dry run.
type Simulator struct {
	logger zerolog.Logger

	mu        sync.Mutex
	rng       *rand.Rand
	iteration int
	sales     map[string]decimal.Decimal

	now func() time.Time
}

// NewSimulator builds a simulator with a fixed seed for reproducible runs.
func NewSimulator(seed int64, logger zerolog.Logger) *Simulator {
	return &Simulator{
		logger: logger.With().Str("component", "sim_acquirer").Logger(),
		rng:    rand.New(rand.NewSource(seed)),
		sales:  make(map[string]decimal.Decimal),
		now:    time.Now,
	}
}

// Name implements Acquirer.
func (s *Simulator) Name() string { return "simulated" }

// Ping implements Acquirer.
func (s *Simulator) Ping(context.Context) error { return nil }

// Reset implements Acquirer.
func (s *Simulator) Reset(context.Context) error { return nil }

var simAgencies = []struct {
	code string
	name string
}{
	{"AG-001", "Agencia Central"},
	{"AG-002", "Agencia Norte"},
	{"AG-003", "Agencia Sur"},
	{"AG-004", "Agencia Este"},
	{"AG-005", "Agencia Oeste"},
}

// AcquireRecords implements Acquirer with synthetic data.
func (s *Simulator) AcquireRecords(ctx context.Context, report ProgressFunc) ([]storage.SalesSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	step := func(key, detail string) {
		if report != nil {
			report(key, detail)
		}
	}
	step(progress.StepLogin, "sesión simulada")
	step(progress.StepNavigate, "")
	step(progress.StepBaseFilters, "")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.iteration++
	now := s.now()
	day := now.Format(storage.DayFormat)

	records := make([]storage.SalesSnapshot, 0, len(simAgencies)*2)
	for _, lottery := range []string{storage.LotteryChanceExpress, storage.LotteryRuletaExpress} {
		if lottery == storage.LotteryChanceExpress {
			step(progress.StepChance, "")
		} else {
			step(progress.StepRuleta, "")
		}
		for _, agency := range simAgencies {
			records = append(records, s.nextSnapshot(agency.code, agency.name, lottery, day, now))
		}
	}

	step(progress.StepDataReady, fmt.Sprintf("%d registros", len(records)))
	s.logger.Info().Int("iteration", s.iteration).Int("records", len(records)).Msg("simulated acquisition")
	return records, nil
}

func (s *Simulator) nextSnapshot(code, name, lottery, day string, observedAt time.Time) storage.SalesSnapshot {
	key := code + "/" + lottery
	current, ok := s.sales[key]
	if !ok {
		current = decimal.NewFromInt(int64(3000 + s.rng.Intn(15000)))
	}
	// Sales only move up within a day, mirroring real portal totals.
	growth := decimal.NewFromInt(int64(s.rng.Intn(2200)))
	current = current.Add(growth)
	s.sales[key] = current

	prizes := current.Mul(decimal.NewFromFloat(0.55)).Round(2)
	prizesPaid := prizes.Mul(decimal.NewFromFloat(0.8)).Round(2)

	return storage.SalesSnapshot{
		AgencyCode:  code,
		AgencyName:  name,
		LotteryType: lottery,
		Sales:       current,
		Prizes:      prizes,
		PrizesPaid:  prizesPaid,
		Balance:     current.Sub(prizesPaid),
		CaptureDay:  day,
		ObservedAt:  observedAt,
	}
}

var _ Acquirer = (*Simulator)(nil)
