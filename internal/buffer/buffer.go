// Package buffer holds the shared sample buffer that sensor workers mutate.
//
// A Buffer owns a fixed-length sequence of integer samples together with the
// lock that guards it. Every read and write of a sample goes through one of
// the Buffer's methods while that lock is held; the samples slice is never
// handed out.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// SampleCeiling is the exclusive upper bound of a freshly generated sample.
const SampleCeiling = 100

var (
	// ErrInvalidSize is returned when a buffer is requested with a non-positive count.
	ErrInvalidSize = errors.New("buffer size must be positive")

	// ErrDivisionUndefined is returned by Average on an empty buffer.
	// New and FromSamples never produce one.
	ErrDivisionUndefined = errors.New("average of zero samples is undefined")
)

// Buffer is a fixed-size set of integer samples guarded by a single
// exclusive-access lock. The zero value is not usable; call New or FromSamples.
type Buffer struct {
	// sem is a weight-1 semaphore so that acquisition can be bounded by a context.
	sem     *semaphore.Weighted
	samples []int
}

type options struct {
	seed   uint64
	seeded bool
	logger *zap.Logger
}

// Option configures New.
type Option func(*options)

// WithSeed makes the initial fill deterministic.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
		o.seeded = true
	}
}

// WithLogger reports buffer creation to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New allocates count samples, each a pseudo-random value in [0, SampleCeiling).
func New(count int, opts ...Option) (*Buffer, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, count)
	}

	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if !o.seeded {
		o.seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))

	samples := make([]int, count)
	for i := range samples {
		samples[i] = rng.IntN(SampleCeiling)
	}
	o.logger.Debug("Buffer created",
		zap.Int("count", count),
		zap.Uint64("seed", o.seed),
		zap.Bool("seeded", o.seeded))
	return &Buffer{sem: semaphore.NewWeighted(1), samples: samples}, nil
}

// FromSamples builds a buffer over a copy of samples.
func FromSamples(samples []int) (*Buffer, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, len(samples))
	}
	cp := make([]int, len(samples))
	copy(cp, samples)
	return &Buffer{sem: semaphore.NewWeighted(1), samples: cp}, nil
}

// Len returns the fixed sample count.
func (b *Buffer) Len() int {
	return len(b.samples)
}

func (b *Buffer) acquire(ctx context.Context) error {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire buffer lock: %w", err)
	}
	return nil
}

func (b *Buffer) release() {
	b.sem.Release(1)
}

// Hold takes exclusive access without touching the samples and returns the
// function that gives it back. Writers block until release is called.
// Calling release more than once is a no-op.
func (b *Buffer) Hold(ctx context.Context) (release func(), err error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(b.release) }, nil
}

// ApplyDelta adds delta to every sample under a single lock acquisition.
// Other lock holders see either none or all of the pass. If ctx ends before
// the lock is obtained no sample is modified.
func (b *Buffer) ApplyDelta(ctx context.Context, delta int) error {
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer b.release()

	for i := range b.samples {
		b.samples[i] += delta
	}
	return nil
}

// ApplyDeltaPerElement adds delta to each sample under its own lock
// acquisition, sleeping pause between elements with the lock released.
// Concurrent readers may observe a partially updated buffer.
//
// applied reports how many leading samples were updated; it is less than
// Len only when err is non-nil.
func (b *Buffer) ApplyDeltaPerElement(ctx context.Context, delta int, pause time.Duration) (applied int, err error) {
	var timer *time.Timer
	if pause > 0 {
		timer = time.NewTimer(pause)
		timer.Stop()
		defer timer.Stop()
	}

	for i := range b.samples {
		if err := b.acquire(ctx); err != nil {
			return applied, err
		}
		b.samples[i] += delta
		b.release()
		applied++

		if timer == nil || i == len(b.samples)-1 {
			continue
		}
		timer.Reset(pause)
		select {
		case <-ctx.Done():
			return applied, fmt.Errorf("per-element pass interrupted at %d/%d: %w", applied, len(b.samples), ctx.Err())
		case <-timer.C:
		}
	}
	return applied, nil
}

// Average returns the arithmetic mean of the samples, summed as int64.
// The length never changes after creation, so the empty check needs no lock.
func (b *Buffer) Average(ctx context.Context) (float64, error) {
	if len(b.samples) == 0 {
		return 0, ErrDivisionUndefined
	}
	if err := b.acquire(ctx); err != nil {
		return 0, err
	}
	defer b.release()

	var sum int64
	for _, v := range b.samples {
		sum += int64(v)
	}
	return float64(sum) / float64(len(b.samples)), nil
}

// Snapshot returns a copy of the samples taken under the lock.
func (b *Buffer) Snapshot(ctx context.Context) ([]int, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.release()

	out := make([]int, len(b.samples))
	copy(out, b.samples)
	return out, nil
}
