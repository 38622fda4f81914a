package coordinator

import (
	"context"
	"fmt"

	"sensorbuf/internal/buffer"

	"go.uber.org/zap"
)

type runOptions struct {
	bufferOpts []buffer.Option
	coordOpts  []Option
	initial    []int
}

// RunOption configures CreateAndRun.
type RunOption func(*runOptions)

// WithBufferOptions forwards options to buffer.New.
func WithBufferOptions(opts ...buffer.Option) RunOption {
	return func(o *runOptions) { o.bufferOpts = append(o.bufferOpts, opts...) }
}

// WithCoordinatorOptions forwards options to New.
func WithCoordinatorOptions(opts ...Option) RunOption {
	return func(o *runOptions) { o.coordOpts = append(o.coordOpts, opts...) }
}

// WithInitialSamples starts from the given samples instead of a random fill.
// count must equal len(samples).
func WithInitialSamples(samples []int) RunOption {
	return func(o *runOptions) { o.initial = samples }
}

// CreateAndRun builds a buffer of count samples, runs workerCount workers
// over it and returns the final average.
func CreateAndRun(ctx context.Context, logger *zap.Logger, count, workerCount, delta int, opts ...RunOption) (float64, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	res, err := New(logger, o.coordOpts...).createAndRun(ctx, count, workerCount, delta, o)
	if err != nil {
		return 0, err
	}
	return res.Average, nil
}

// CreateAndRun is the method form of the package-level CreateAndRun and
// returns the full Result.
func (c *Coordinator) CreateAndRun(ctx context.Context, count, workerCount, delta int, opts ...buffer.Option) (Result, error) {
	return c.createAndRun(ctx, count, workerCount, delta, runOptions{bufferOpts: opts})
}

func (c *Coordinator) createAndRun(ctx context.Context, count, workerCount, delta int, o runOptions) (Result, error) {
	var (
		buf *buffer.Buffer
		err error
	)
	if o.initial != nil {
		if len(o.initial) != count {
			return Result{}, fmt.Errorf("%w: count %d does not match %d initial samples", buffer.ErrInvalidSize, count, len(o.initial))
		}
		buf, err = buffer.FromSamples(o.initial)
	} else {
		buf, err = buffer.New(count, o.bufferOpts...)
	}
	if err != nil {
		return Result{}, fmt.Errorf("create buffer: %w", err)
	}
	return c.Run(ctx, buf, workerCount, delta)
}
