package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"agency-sales-monitor/internal/storage"
)

// Export renders an agency's sales history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.AgencyCode == "" {
		return errors.New("--agency is required")
	}

	switch opts.Lottery {
	case storage.LotteryChanceExpress, storage.LotteryRuletaExpress:
	default:
		return fmt.Errorf("unknown lottery %q", opts.Lottery)
	}

	if opts.Days <= 0 {
		opts.Days = 7
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -opts.Days)

	snapshots, err := store.ListAgencyHistory(ctx, opts.AgencyCode, opts.Lottery,
		from.Format(storage.DayFormat), to.Format(storage.DayFormat))
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		a.Logger.Info().
			Str("agency", opts.AgencyCode).
			Str("lottery", opts.Lottery).
			Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snapshots, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snapshots)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, opts.AgencyCode, opts.Lottery, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSnapshots(snapshots []storage.SalesSnapshot, max int) []storage.SalesSnapshot {
	if max <= 0 || len(snapshots) <= max {
		return snapshots
	}

	result := make([]storage.SalesSnapshot, 0, max)
	step := float64(len(snapshots)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snapshots) {
			idx = len(snapshots) - 1
		}
		result = append(result, snapshots[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snapshots []storage.SalesSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"observed_at", "agency_code", "agency_name", "lottery_type", "sales", "prizes", "prizes_paid", "balance"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snapshot := range snapshots {
		record := []string{
			snapshot.ObservedAt.Format(time.RFC3339),
			snapshot.AgencyCode,
			snapshot.AgencyName,
			snapshot.LotteryType,
			snapshot.Sales.String(),
			snapshot.Prizes.String(),
			snapshot.PrizesPaid.String(),
			snapshot.Balance.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSnapshotsPNG(path, agencyCode, lottery string, snapshots []storage.SalesSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(snapshots))
	sales := make([]float64, len(snapshots))
	balance := make([]float64, len(snapshots))
	prizesPaid := make([]float64, len(snapshots))

	for i, snapshot := range snapshots {
		x[i] = snapshot.ObservedAt
		sales[i] = snapshot.Sales.InexactFloat64()
		balance[i] = snapshot.Balance.InexactFloat64()
		prizesPaid[i] = snapshot.PrizesPaid.InexactFloat64()
	}

	moneyFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  fmt.Sprintf("%s / %s", agencyCode, lottery),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Amount ($)",
			ValueFormatter: moneyFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Sales",
				XValues: x,
				YValues: sales,
			},
			chart.TimeSeries{
				Name:    "Balance",
				XValues: x,
				YValues: balance,
			},
			chart.TimeSeries{
				Name:    "Prizes paid",
				XValues: x,
				YValues: prizesPaid,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
