// Package coordinator runs a fixed number of concurrent workers over one
// shared sample buffer and reports the resulting average.
//
// Every worker applies the same delta exactly once. Addition commutes, so the
// final value of each sample is original + workers*delta whatever the
// interleaving; the Coordinator only has to guarantee that every worker is
// joined and that no average is reported when any worker failed.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sensorbuf/internal/buffer"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultElementPause is the per-element delay used in GranularityPerElement
// when none is configured.
const DefaultElementPause = 5 * time.Millisecond

var (
	// ErrWorkerFailed matches any *WorkerFailedError.
	ErrWorkerFailed = errors.New("worker failed")

	// ErrInvalidWorkerCount is returned for a negative worker count.
	ErrInvalidWorkerCount = errors.New("worker count must not be negative")
)

// Granularity selects how long a worker holds the buffer lock.
type Granularity int

const (
	// GranularityBatch holds the lock for a worker's whole pass.
	GranularityBatch Granularity = iota
	// GranularityPerElement takes the lock once per sample and pauses between
	// samples. Slower, and readers can see half-applied passes.
	GranularityPerElement
)

func (g Granularity) String() string {
	switch g {
	case GranularityBatch:
		return "batch"
	case GranularityPerElement:
		return "per-element"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}

// ParseGranularity accepts the names produced by Granularity.String, in any case.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(s) {
	case "batch":
		return GranularityBatch, nil
	case "per-element":
		return GranularityPerElement, nil
	default:
		return 0, fmt.Errorf("unknown granularity %q (want batch or per-element)", s)
	}
}

// WorkerFailedError lists the workers that did not complete their pass.
// Workers not listed finished normally, so their delta has been applied.
type WorkerFailedError struct {
	Failed []int // worker indices, ascending
	Total  int
	Cause  error // error of the lowest-indexed failed worker
}

func (e *WorkerFailedError) Error() string {
	ids := make([]string, len(e.Failed))
	for i, id := range e.Failed {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("%d of %d workers failed [%s]: %v", len(e.Failed), e.Total, strings.Join(ids, ","), e.Cause)
}

func (e *WorkerFailedError) Unwrap() []error {
	return []error{ErrWorkerFailed, e.Cause}
}

// Result describes one completed run.
type Result struct {
	RunID          string
	Samples        int
	Workers        int
	Delta          int
	Granularity    Granularity
	InitialAverage float64
	Average        float64
	Elapsed        time.Duration
}

// Coordinator spawns workers against a buffer. It is safe to reuse across runs.
type Coordinator struct {
	logger        *zap.Logger
	granularity   Granularity
	elementPause  time.Duration
	workerTimeout time.Duration

	// beforePass, when set, runs at the start of every worker. Tests use it
	// to shuffle scheduling.
	beforePass func(worker int)

	// afterJoin, when set, runs once every worker has exited.
	afterJoin func()
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithGranularity selects batch (default) or per-element locking.
func WithGranularity(g Granularity) Option {
	return func(c *Coordinator) { c.granularity = g }
}

// WithElementPause sets the delay between elements in per-element mode.
// Zero disables the delay.
func WithElementPause(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.elementPause = d
		}
	}
}

// WithWorkerTimeout puts a hard limit on each worker's pass, lock waits
// included. A worker that runs out of time is reported as failed.
// Zero means no limit.
func WithWorkerTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.workerTimeout = d
		}
	}
}

// New creates a Coordinator. A nil logger disables logging.
func New(logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		logger:       logger,
		granularity:  GranularityBatch,
		elementPause: DefaultElementPause,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Granularity reports the locking mode in effect.
func (c *Coordinator) Granularity() Granularity {
	return c.granularity
}

// Run spawns workerCount workers that each add delta to every sample of buf
// once, waits for all of them, and returns the average of the buffer.
//
// Run never returns before every worker has exited. If any worker failed the
// error is a *WorkerFailedError and no average is reported. ctx bounds the
// workers only: a worker whose ctx ends first fails, but once every worker
// has finished the average is always read.
func (c *Coordinator) Run(ctx context.Context, buf *buffer.Buffer, workerCount, delta int) (Result, error) {
	if buf == nil {
		return Result{}, errors.New("coordinator: nil buffer")
	}
	if workerCount < 0 {
		return Result{}, fmt.Errorf("%w: got %d", ErrInvalidWorkerCount, workerCount)
	}

	res := Result{
		RunID:       uuid.NewString(),
		Samples:     buf.Len(),
		Workers:     workerCount,
		Delta:       delta,
		Granularity: c.granularity,
	}
	log := c.logger.With(zap.String("run_id", res.RunID))
	readCtx := context.WithoutCancel(ctx)

	initial, err := buf.Average(readCtx)
	if err != nil {
		return Result{}, fmt.Errorf("read initial average: %w", err)
	}
	res.InitialAverage = initial

	log.Info("Starting workers",
		zap.Int("workers", workerCount),
		zap.Int("samples", res.Samples),
		zap.Int("delta", delta),
		zap.Stringer("granularity", c.granularity))

	start := time.Now()
	errs := make([]error, workerCount)

	// Plain Group rather than WithContext: a failing worker must not cancel
	// the others, each outcome is recorded on its own.
	var g errgroup.Group
	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			errs[i] = c.work(ctx, log, buf, i, delta)
			return errs[i]
		})
	}
	_ = g.Wait()
	res.Elapsed = time.Since(start)
	if c.afterJoin != nil {
		c.afterJoin()
	}

	if werr := collectFailures(errs); werr != nil {
		log.Error("Run failed", zap.Ints("failed_workers", werr.Failed), zap.Error(werr.Cause))
		return Result{}, werr
	}

	avg, err := buf.Average(readCtx)
	if err != nil {
		return Result{}, fmt.Errorf("compute average: %w", err)
	}
	res.Average = avg

	log.Info("Run complete",
		zap.Float64("initial_average", res.InitialAverage),
		zap.Float64("average", res.Average),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

func (c *Coordinator) work(ctx context.Context, log *zap.Logger, buf *buffer.Buffer, id, delta int) error {
	if c.beforePass != nil {
		c.beforePass(id)
	}
	if c.workerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.workerTimeout)
		defer cancel()
	}

	switch c.granularity {
	case GranularityPerElement:
		applied, err := buf.ApplyDeltaPerElement(ctx, delta, c.elementPause)
		if err != nil {
			log.Warn("Worker pass incomplete", zap.Int("worker", id), zap.Int("applied", applied), zap.Error(err))
			return fmt.Errorf("worker %d: %w", id, err)
		}
	default:
		if err := buf.ApplyDelta(ctx, delta); err != nil {
			log.Warn("Worker could not acquire buffer", zap.Int("worker", id), zap.Error(err))
			return fmt.Errorf("worker %d: %w", id, err)
		}
	}
	log.Debug("Worker done", zap.Int("worker", id))
	return nil
}

func collectFailures(errs []error) *WorkerFailedError {
	var werr *WorkerFailedError
	for i, err := range errs {
		if err == nil {
			continue
		}
		if werr == nil {
			werr = &WorkerFailedError{Total: len(errs), Cause: err}
		}
		werr.Failed = append(werr.Failed, i)
	}
	return werr
}
