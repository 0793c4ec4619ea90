// Package cmd implements the CLI commands using Cobra.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vodgrab/internal/config"
	"vodgrab/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Global flags
var (
	flagConfig     string
	flagDebug      bool
	flagJSONLogs   bool
	flagDownload   bool
	flagNoDownload bool
	flagSaveDir    string
	flagRetries    int
	flagWorkers    int
	flagHeadful    bool
	flagBrowserBin string
)

// cfg holds the loaded configuration (merged: defaults < config file < flags).
var cfg *config.Config

// logger is built from cfg once it is loaded.
var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "vodgrab [detail-url...]",
	Short: "Discover and download video streams from catalog play pages",
	Long: `vodgrab renders catalog pages in a headless browser, watches their network
traffic and embedded player data to find the real stream URL, then downloads it
with ffmpeg-aware remuxing. A repair mode fixes audio/video drift in files that
were already downloaded.

Without a subcommand the mode comes from the config file: repair.enabled runs
the repair pass over repair.dir, anything else runs the crawl.`,
	Args:              cobra.ArbitraryArgs,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: syncLogger,
	RunE:              rootRun,
}

// Execute runs the root command, cancelling on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (TOML, or YAML by extension)")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "x", false, "Debug logging to stderr")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "Log as JSON instead of console text")
	rootCmd.PersistentFlags().BoolVarP(&flagDownload, "download", "d", false, "Download resolved streams")
	rootCmd.PersistentFlags().BoolVar(&flagNoDownload, "no-download", false, "Only discover and record streams")
	rootCmd.PersistentFlags().StringVarP(&flagSaveDir, "save-dir", "o", "", "Directory for downloaded files")
	rootCmd.PersistentFlags().IntVarP(&flagRetries, "retries", "r", -1, "Download retries per stream")
	rootCmd.PersistentFlags().IntVarP(&flagWorkers, "workers", "w", 0, "Concurrent downloads / repairs")
	rootCmd.PersistentFlags().BoolVar(&flagHeadful, "headful", false, "Show the browser window")
	rootCmd.PersistentFlags().StringVar(&flagBrowserBin, "browser", "", "Chromium binary (default: managed download)")

	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and merges configuration: defaults < config file < CLI flags.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	if flagConfig != "" {
		cfg, err = config.LoadFile(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config file values
	if flagDebug {
		cfg.Debug = true
	}
	if flagDownload {
		cfg.Download.Enabled = true
	}
	if flagNoDownload {
		cfg.Download.Enabled = false
	}
	if flagSaveDir != "" {
		cfg.Download.SaveDir = flagSaveDir
	}
	if flagRetries >= 0 {
		cfg.Download.Retries = flagRetries
	}
	if flagWorkers > 0 {
		cfg.Download.Workers = flagWorkers
		cfg.Repair.Workers = flagWorkers
	}
	if flagHeadful {
		cfg.Browser.Headless = false
	}
	if flagBrowserBin != "" {
		cfg.Browser.Bin = flagBrowserBin
	}

	// Re-validate after flag overrides
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err = logging.New(logging.Options{Debug: cfg.Debug, JSON: flagJSONLogs})
	if err != nil {
		return err
	}
	logger.Debug("configuration loaded",
		zap.Int("start_urls", len(cfg.StartURLs)),
		zap.Bool("download", cfg.Download.Enabled),
		zap.Bool("repair", cfg.Repair.Enabled))
	return nil
}

func syncLogger(cmd *cobra.Command, args []string) {
	_ = logger.Sync()
}

// rootRun picks the mode from configuration.
func rootRun(cmd *cobra.Command, args []string) error {
	if cfg.Repair.Enabled {
		return runRepair(cmd.Context(), cfg.Repair.Dir)
	}
	return runCrawl(cmd.Context(), args)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vodgrab %s\n", Version)
	},
}
