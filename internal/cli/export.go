package cli

import (
	"github.com/spf13/cobra"

	"agency-sales-monitor/internal/app"
	"agency-sales-monitor/internal/storage"
)

var (
	exportAgency    string
	exportLottery   string
	exportDays      int
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export an agency's sales history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			AgencyCode: exportAgency,
			Lottery:    exportLottery,
			Days:       exportDays,
			PNGPath:    exportPNGPath,
			CSVPath:    exportCSVPath,
			MaxPoints:  exportMaxPoints,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportAgency, "agency", "", "Agency code to export")
	exportCmd.Flags().StringVar(&exportLottery, "lottery", storage.LotteryChanceExpress, "Lottery line (CHANCE_EXPRESS or RULETA_EXPRESS)")
	exportCmd.Flags().IntVar(&exportDays, "days", 7, "Number of days of history to include")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
