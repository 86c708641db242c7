package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"threatfeed/internal/adapter/aggregator"
	"threatfeed/internal/adapter/fs"
)

var (
	alertsTop    int
	alertsPath   string
	alertsFormat string
	alertsJSON   bool
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show the most frequent keywords in the published snapshot",
	Long: `Read the published aggregate snapshot, sum counts per keyword across all
buckets and print the top entries. --path may name a CSV file, a directory
of CSV snapshots, a glob such as "archive/**/*.csv", or a SQLite database
when the format is sqlite.

Examples:
  threatfeed alerts
  threatfeed alerts --top 5 --path "snapshots/**/*.csv"
  threatfeed alerts --format sqlite --path alerts.db --json`,
	Args: cobra.NoArgs,
	RunE: runAlerts,
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.Flags().IntVarP(&alertsTop, "top", "n", 20, "number of keywords to show (0 for all)")
	alertsCmd.Flags().StringVar(&alertsPath, "path", "", "snapshot file, directory or glob (default sink.path)")
	alertsCmd.Flags().StringVar(&alertsFormat, "format", "", "csv or sqlite (default sink.format)")
	alertsCmd.Flags().BoolVar(&alertsJSON, "json", false, "output as JSON")
}

func runAlerts(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	path := cfg.Sink.Path
	if alertsPath != "" {
		path = alertsPath
	}
	format := cfg.Sink.Format
	if alertsFormat != "" {
		format = alertsFormat
	}

	rows, err := fs.LoadSnapshots(cmd.Context(), path, format)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	totals := aggregator.Totals(rows, alertsTop)

	if alertsJSON {
		output, err := json.MarshalIndent(totals, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	if len(totals) == 0 {
		fmt.Println("No alerts yet.")
		return nil
	}
	fmt.Printf("%-20s %10s\n", "THREAT", "COUNT")
	fmt.Println(strings.Repeat("-", 31))
	for _, t := range totals {
		fmt.Printf("%-20s %10d\n", t.Word, t.Count)
	}
	return nil
}
