package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sensorbuf/internal/buffer"
	"sensorbuf/internal/config"
	"sensorbuf/internal/coordinator"
	"sensorbuf/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runParams is the config after command-line overrides.
type runParams struct {
	Count         int
	Seed          *uint64
	Workers       int
	Delta         int
	Granularity   coordinator.Granularity
	ElementPause  time.Duration
	WorkerTimeout time.Duration
	Format        string
}

// resolveParams applies the run flags that were set explicitly over cfg.
func resolveParams(cmd *cobra.Command, cfg *config.Config) (runParams, error) {
	merged := *cfg
	flags := cmd.Flags()

	if flags.Changed("count") {
		merged.Sensor.Count = runCount
	}
	if flags.Changed("seed") {
		seed := runSeed
		merged.Sensor.Seed = &seed
	}
	if flags.Changed("workers") {
		merged.Workers.Count = runWorkers
	}
	if flags.Changed("delta") {
		merged.Workers.Delta = runDelta
	}
	if flags.Changed("per-element") {
		merged.Workers.Granularity = "batch"
		if runPerElement {
			merged.Workers.Granularity = "per-element"
		}
	}
	if flags.Changed("element-pause") {
		merged.Workers.ElementPause = runElementPause.String()
	}
	if flags.Changed("worker-timeout") {
		merged.Workers.Timeout = runWorkerTimeout.String()
	}

	if err := merged.Validate(); err != nil {
		return runParams{}, fmt.Errorf("invalid run parameters: %w", err)
	}
	g, err := coordinator.ParseGranularity(merged.Workers.Granularity)
	if err != nil {
		return runParams{}, err
	}

	format := runFormat
	if format == "" {
		format = "text"
	}
	if format != "text" && format != "markdown" {
		return runParams{}, fmt.Errorf("unknown --format %q (want text or markdown)", format)
	}

	return runParams{
		Count:         merged.Sensor.Count,
		Seed:          merged.Sensor.Seed,
		Workers:       merged.Workers.Count,
		Delta:         merged.Workers.Delta,
		Granularity:   g,
		ElementPause:  merged.GetElementPause(),
		WorkerTimeout: merged.GetWorkerTimeout(),
		Format:        format,
	}, nil
}

// runSensor executes one sensor run
func runSensor(cmd *cobra.Command, args []string) error {
	if cfg == nil || logger == nil {
		if err := setup(); err != nil {
			return err
		}
	}
	out := cmd.OutOrStdout()
	cli := logger.Get(logging.CategoryCLI)

	params, err := resolveParams(cmd, cfg)
	if err != nil {
		return err
	}

	coord := coordinator.New(logger.Get(logging.CategoryCoordinator),
		coordinator.WithGranularity(params.Granularity),
		coordinator.WithElementPause(params.ElementPause),
		coordinator.WithWorkerTimeout(params.WorkerTimeout))

	if !noBanner {
		fmt.Fprintln(out, renderBanner(cfg))
	}
	fmt.Fprintf(out, "Loaded config: %s\n", describeParams(params, coord.Granularity()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if coord.Granularity() == coordinator.GranularityPerElement && params.ElementPause > 0 {
		estimate := time.Duration(params.Count) * params.ElementPause
		if estimate > 10*time.Second {
			cli.Warn("Per-element mode will be slow",
				zap.Duration("estimated_min", estimate),
				zap.Int("samples", params.Count))
		}
	}

	bufOpts := []buffer.Option{buffer.WithLogger(logger.Get(logging.CategoryBuffer))}
	if params.Seed != nil {
		bufOpts = append(bufOpts, buffer.WithSeed(*params.Seed))
	}

	res, err := coord.CreateAndRun(ctx, params.Count, params.Workers, params.Delta, bufOpts...)
	if err != nil {
		var werr *coordinator.WorkerFailedError
		if errors.As(err, &werr) {
			cli.Error("Workers did not finish", zap.Ints("failed", werr.Failed), zap.Int("total", werr.Total))
		}
		return fmt.Errorf("sensor run failed: %w", err)
	}

	report, err := renderReport(res, params.Format)
	if err != nil {
		return err
	}
	fmt.Fprint(out, report)
	return nil
}

// describeParams renders the "Loaded config" line. g is the mode the
// coordinator will actually use.
func describeParams(p runParams, g coordinator.Granularity) string {
	seed := "random"
	if p.Seed != nil {
		seed = fmt.Sprint(*p.Seed)
	}
	s := fmt.Sprintf("count=%d workers=%d delta=%d seed=%s granularity=%s",
		p.Count, p.Workers, p.Delta, seed, g)
	if g == coordinator.GranularityPerElement {
		s += fmt.Sprintf(" element_pause=%s", p.ElementPause)
	}
	if p.WorkerTimeout > 0 {
		s += fmt.Sprintf(" worker_timeout=%s", p.WorkerTimeout)
	}
	return s
}

// configInit writes the default config to the given path
func configInit(cmd *cobra.Command, args []string) error {
	path := config.DefaultConfigPath()
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists: %s", path)
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", path)
	return nil
}

// configShow prints the effective config
func configShow(cmd *cobra.Command, args []string) error {
	if cfg == nil {
		if err := setup(); err != nil {
			return err
		}
	}
	fmt.Fprint(cmd.OutOrStdout(), cfg.String())
	return nil
}
