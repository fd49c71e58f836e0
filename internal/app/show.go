package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent alerts and snapshots.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}

	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
	} else {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Created (UTC)\tAgency\tLottery\tKind\tSales\tBalance\tReported\tMessage")
		for _, alert := range alerts {
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
				alert.CreatedAt.UTC().Format(time.RFC3339),
				alert.AgencyCode,
				alert.LotteryType,
				alert.Kind,
				alert.CurrentSales.StringFixed(2),
				alert.CurrentBalance.StringFixed(2),
				alert.IsReported,
				sanitizeInline(alert.Message),
			)
		}
		writer.Flush()
	}

	snapshots, err := store.ListRecentSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(os.Stdout, "no snapshots found")
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Observed (UTC)\tAgency\tName\tLottery\tSales\tPrizes Paid\tBalance")
	for _, snapshot := range snapshots {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			snapshot.ObservedAt.UTC().Format(time.RFC3339),
			snapshot.AgencyCode,
			snapshot.AgencyName,
			snapshot.LotteryType,
			snapshot.Sales.StringFixed(2),
			snapshot.PrizesPaid.StringFixed(2),
			snapshot.Balance.StringFixed(2),
		)
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
