package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay [log]",
	Short: "Process a document log once and exit",
	Long: `Read the document log to its end, aggregate and index every report,
publish the final snapshot and, when store.path is set, persist the
checkpoint and vectors for a later resume.

Examples:
  threatfeed replay                        # Log from ingest.log_path
  threatfeed replay /var/feeds/stream.jsonl`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	logPath := cfg.Ingest.LogPath
	if len(args) > 0 {
		var err error
		logPath, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	info, err := os.Stat(logPath)
	if err != nil {
		return fmt.Errorf("log does not exist: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("log is a directory: %s", logPath)
	}

	bar := progressbar.NewOptions64(info.Size(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan]Replaying[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)

	eng, err := buildEngine(cfg, engineOptions{
		logPath: logPath,
		follow:  false,
		onApplied: func(offset int64) {
			_ = bar.Set64(offset)
		},
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	if off := eng.resumed.AggregateOffset; off > 0 {
		fmt.Printf("Resuming %s at byte %d\n", logPath, off)
		_ = bar.Set64(off)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := eng.pipeline.Run(ctx); err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}
	_ = bar.Finish()

	fmt.Printf("\nReplay complete in %s:\n", formatDuration(time.Since(start)))
	printStats(eng.pipeline.Stats())
	fmt.Printf("\nSnapshot published to: %s\n", cfg.Sink.Path)
	if cfg.Store.Path != "" {
		fmt.Printf("State stored at: %s\n", cfg.Store.Path)
	}
	return nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
