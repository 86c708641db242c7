package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"threatfeed/config"
	"threatfeed/internal/logger"
)

var (
	cfgFile  string
	cfg      *config.Config
	rootDir  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "threatfeed",
	Short: "Threat feed aggregation and retrieval",
	Long: `threatfeed tails a JSONL log of scraped security reports, counts
vocabulary keywords per minute bucket, publishes the counts as a live
snapshot, and serves semantic retrieval over every report it has seen.

Example usage:
  threatfeed serve                       # Tail the log and serve retrieval
  threatfeed replay stream_buffer.jsonl  # Process a log once and exit
  threatfeed query -q "kernel exploit"   # Ask a running server for context
  threatfeed alerts --top 10             # Top keywords from the snapshot`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		envPath := filepath.Join(rootDir, ".env")
		if _, statErr := os.Stat(envPath); statErr == nil {
			if err := godotenv.Load(envPath); err != nil {
				return fmt.Errorf("failed to load %s: %w", envPath, err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level := cfg.Logging.Level
		if logLevel != "" {
			level = logLevel
		}
		logger.SetLevel(logger.ParseLevel(level))

		cfg.Ingest.LogPath = resolvePath(cfg.Ingest.LogPath)
		cfg.Sink.Path = resolvePath(cfg.Sink.Path)
		cfg.Store.Path = resolvePath(cfg.Store.Path)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./threatfeed.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "root directory (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default from config)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}

// resolvePath makes relative config paths relative to the root directory.
func resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(rootDir, p)
}
