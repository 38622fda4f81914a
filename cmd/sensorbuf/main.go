package main

import (
	"fmt"
	"os"
	"time"

	"sensorbuf/internal/config"
	"sensorbuf/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	configPath string
	timeout    time.Duration
	noBanner   bool

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *logging.Logger
)

// run flags; applied over the config only when set on the command line
var (
	runCount         int
	runWorkers       int
	runDelta         int
	runSeed          uint64
	runPerElement    bool
	runElementPause  time.Duration
	runWorkerTimeout time.Duration
	runFormat        string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sensorbuf",
	Short: "Simulated sensor buffer with concurrent workers",
	Long: `sensorbuf fills a buffer with simulated sensor readings, lets a fixed
number of concurrent workers add a constant to every reading, and reports
the average once every worker has finished.

Workers lock the whole buffer for their pass by default. --per-element
switches to one lock per reading with a pause in between.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd performs one simulated sensor run
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fill the buffer, run the workers and print the average",
	Long: `Creates the sample buffer, spawns the workers, waits for all of them and
prints the average reading.

Example:
  sensorbuf run --count 4 --workers 2 --delta 5 --seed 7
  sensorbuf run --per-element --count 100 --element-pause 1ms`,
	Args: cobra.NoArgs,
	RunE: runSensor,
}

// configCmd groups config file helpers
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  configInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  configShow,
}

// versionCmd prints the program banner
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the program name and version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), bannerText(cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $SENSORBUF_CONFIG or ./sensorbuf.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Deadline for the whole run (0 = none)")
	rootCmd.PersistentFlags().BoolVar(&noBanner, "no-banner", false, "Do not print the banner")

	runCmd.Flags().IntVar(&runCount, "count", 0, "Number of samples (overrides sensor.count)")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Number of workers (overrides workers.count)")
	runCmd.Flags().IntVar(&runDelta, "delta", 0, "Value each worker adds to every sample (overrides workers.delta)")
	runCmd.Flags().Uint64Var(&runSeed, "seed", 0, "Seed for the initial fill (overrides sensor.seed)")
	runCmd.Flags().BoolVar(&runPerElement, "per-element", false, "Lock per sample instead of per pass")
	runCmd.Flags().DurationVar(&runElementPause, "element-pause", 0, "Pause between samples in per-element mode")
	runCmd.Flags().DurationVar(&runWorkerTimeout, "worker-timeout", 0, "Hard limit on each worker's pass (0 = none)")
	runCmd.Flags().StringVar(&runFormat, "format", "text", "Output format: text or markdown")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config and builds the logger.
func setup() error {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	cfg = loaded

	l, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	if verbose {
		l.SetLevel(zapcore.DebugLevel)
	}
	logger = l
	logger.Get(logging.CategoryBoot).Debug("Configuration loaded",
		zap.String("path", path),
		zap.Stringer("level", logger.Level()),
		zap.Int("count", cfg.Sensor.Count),
		zap.Int("workers", cfg.Workers.Count))
	return nil
}
