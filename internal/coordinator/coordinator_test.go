package coordinator

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"sensorbuf/internal/buffer"
	"sensorbuf/internal/config"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// TestMain ensures no worker goroutine outlives a run.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func snapshot(t *testing.T, b *buffer.Buffer) []int {
	t.Helper()
	s, err := b.Snapshot(context.Background())
	require.NoError(t, err)
	return s
}

func expectedAverage(original []int, workers, delta int) float64 {
	var sum int64
	for _, v := range original {
		sum += int64(v + workers*delta)
	}
	return float64(sum) / float64(len(original))
}

// =============================================================================
// END-TO-END
// =============================================================================

func TestCreateAndRun_Example(t *testing.T) {
	avg, err := CreateAndRun(context.Background(), zaptest.NewLogger(t), 4, 2, 5,
		WithInitialSamples([]int{10, 20, 30, 40}))
	require.NoError(t, err)
	assert.Equal(t, 35.0, avg)
}

func TestRun_ExampleSamples(t *testing.T) {
	buf, err := buffer.FromSamples([]int{10, 20, 30, 40})
	require.NoError(t, err)

	res, err := New(zaptest.NewLogger(t)).Run(context.Background(), buf, 2, 5)
	require.NoError(t, err)

	if diff := cmp.Diff([]int{20, 30, 40, 50}, snapshot(t, buf)); diff != "" {
		t.Errorf("unexpected samples (-want +got):\n%s", diff)
	}
	assert.Equal(t, 35.0, res.Average)
	assert.Equal(t, 25.0, res.InitialAverage)
	assert.Equal(t, GranularityBatch, res.Granularity)
	assert.NotEmpty(t, res.RunID)
}

func TestCreateAndRun_InvalidSize(t *testing.T) {
	for _, count := range []int{0, -1} {
		_, err := CreateAndRun(context.Background(), nil, count, 2, 5)
		assert.ErrorIs(t, err, buffer.ErrInvalidSize, "count=%d", count)
	}

	_, err := CreateAndRun(context.Background(), nil, 3, 2, 5, WithInitialSamples([]int{1, 2}))
	assert.ErrorIs(t, err, buffer.ErrInvalidSize)
}

func TestCreateAndRun_Seeded(t *testing.T) {
	ctx := context.Background()
	a, err := CreateAndRun(ctx, nil, 500, 3, 2, WithBufferOptions(buffer.WithSeed(9)))
	require.NoError(t, err)
	b, err := CreateAndRun(ctx, nil, 500, 3, 2, WithBufferOptions(buffer.WithSeed(9)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCoordinator_CreateAndRun(t *testing.T) {
	c := New(zap.NewNop(), WithGranularity(GranularityPerElement), WithElementPause(0))
	res, err := c.CreateAndRun(context.Background(), 64, 4, 3, buffer.WithSeed(5))
	require.NoError(t, err)
	assert.Equal(t, GranularityPerElement, res.Granularity)
	assert.Equal(t, 64, res.Samples)
	assert.InDelta(t, res.InitialAverage+12, res.Average, 1e-9)
}

// =============================================================================
// WORKER COUNTS
// =============================================================================

func TestRun_ZeroWorkers(t *testing.T) {
	buf, err := buffer.New(100, buffer.WithSeed(3))
	require.NoError(t, err)
	before := snapshot(t, buf)

	res, err := New(nil).Run(context.Background(), buf, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, before, snapshot(t, buf))
	assert.Equal(t, res.InitialAverage, res.Average)
}

func TestRun_NegativeWorkers(t *testing.T) {
	buf, err := buffer.New(10)
	require.NoError(t, err)
	_, err = New(nil).Run(context.Background(), buf, -1, 5)
	assert.ErrorIs(t, err, ErrInvalidWorkerCount)
}

func TestRun_NilBuffer(t *testing.T) {
	_, err := New(nil).Run(context.Background(), nil, 1, 1)
	assert.Error(t, err)
}

// =============================================================================
// DETERMINISM UNDER CONCURRENCY
// =============================================================================

func TestRun_ResultIndependentOfScheduling(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for _, g := range []Granularity{GranularityBatch, GranularityPerElement} {
		for trial := 0; trial < 20; trial++ {
			count := 1 + rng.IntN(200)
			workers := rng.IntN(12)
			delta := rng.IntN(41) - 20

			buf, err := buffer.New(count)
			require.NoError(t, err)
			original := snapshot(t, buf)

			delays := make([]time.Duration, workers)
			for i := range delays {
				delays[i] = time.Duration(rng.IntN(2000)) * time.Microsecond
			}
			c := New(zap.NewNop(), WithGranularity(g), WithElementPause(time.Duration(rng.IntN(3))*time.Microsecond))
			c.beforePass = func(worker int) { time.Sleep(delays[worker]) }

			res, err := c.Run(context.Background(), buf, workers, delta)
			require.NoError(t, err, "granularity=%s trial=%d", g, trial)

			got := snapshot(t, buf)
			for i := range got {
				if got[i] != original[i]+workers*delta {
					t.Fatalf("%s trial %d: sample %d = %d, want %d", g, trial, i, got[i], original[i]+workers*delta)
				}
			}
			assert.Equal(t, expectedAverage(original, workers, delta), res.Average, "%s trial %d", g, trial)
		}
	}
}

func TestRun_StressNoLostUpdates(t *testing.T) {
	const (
		workers = 50
		count   = 1000
		delta   = 5
	)
	buf, err := buffer.New(count)
	require.NoError(t, err)
	original := snapshot(t, buf)

	res, err := New(zap.NewNop()).Run(context.Background(), buf, workers, delta)
	require.NoError(t, err)

	got := snapshot(t, buf)
	for i := range got {
		if got[i] != original[i]+workers*delta {
			t.Fatalf("sample %d = %d, want %d", i, got[i], original[i]+workers*delta)
		}
	}
	assert.Equal(t, expectedAverage(original, workers, delta), res.Average)
}

func TestRun_BatchPassesAreAtomic(t *testing.T) {
	const (
		workers = 50
		count   = 1000
		delta   = 5
	)
	buf, err := buffer.New(count)
	require.NoError(t, err)
	original := snapshot(t, buf)

	stop := make(chan struct{})
	var (
		wg        sync.WaitGroup
		snapshots int
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			s, err := buf.Snapshot(context.Background())
			if err != nil {
				t.Errorf("snapshot: %v", err)
				return
			}
			snapshots++
			shift := s[0] - original[0]
			if shift%delta != 0 {
				t.Errorf("observed shift %d is not a multiple of %d", shift, delta)
				return
			}
			for i := range s {
				if s[i]-original[i] != shift {
					t.Errorf("partial pass observed: sample 0 shifted by %d, sample %d by %d", shift, i, s[i]-original[i])
					return
				}
			}

			select {
			case <-stop:
				return
			default:
			}
		}
	}()

	_, err = New(zap.NewNop()).Run(context.Background(), buf, workers, delta)
	close(stop)
	wg.Wait()
	require.NoError(t, err)
	assert.Greater(t, snapshots, 0)
}

// =============================================================================
// FAILURES
// =============================================================================

func TestRun_WorkerTimeoutFailsWholeRun(t *testing.T) {
	buf, err := buffer.New(10, buffer.WithSeed(1))
	require.NoError(t, err)
	before := snapshot(t, buf)

	var (
		gate    = make(chan struct{})
		release func()
	)
	c := New(zaptest.NewLogger(t), WithWorkerTimeout(20*time.Millisecond))
	c.beforePass = func(worker int) {
		if worker == 0 {
			release, err = buf.Hold(context.Background())
			close(gate)
			return
		}
		<-gate
	}

	res, runErr := c.Run(context.Background(), buf, 3, 5)
	require.NoError(t, err)
	release()

	require.Error(t, runErr)
	assert.ErrorIs(t, runErr, ErrWorkerFailed)
	assert.ErrorIs(t, runErr, context.DeadlineExceeded)
	assert.Equal(t, Result{}, res)

	var werr *WorkerFailedError
	require.True(t, errors.As(runErr, &werr))
	assert.Equal(t, []int{0, 1, 2}, werr.Failed)
	assert.Equal(t, 3, werr.Total)
	assert.Equal(t, before, snapshot(t, buf))
}

func TestRun_ReportsOnlyUnfinishedWorkers(t *testing.T) {
	const delta = 4
	buf, err := buffer.New(20, buffer.WithSeed(2))
	require.NoError(t, err)
	original := snapshot(t, buf)

	var release func()
	c := New(zap.NewNop(), WithWorkerTimeout(20*time.Millisecond))
	c.beforePass = func(worker int) {
		if worker != 2 {
			return
		}
		// wait for workers 0 and 1 to finish, then block everyone else
		for {
			s, err := buf.Snapshot(context.Background())
			if err == nil && s[0]-original[0] == 2*delta {
				break
			}
			time.Sleep(time.Millisecond)
		}
		release, _ = buf.Hold(context.Background())
	}

	_, err = c.Run(context.Background(), buf, 3, delta)
	require.NotNil(t, release)
	release()

	var werr *WorkerFailedError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, []int{2}, werr.Failed)

	got := snapshot(t, buf)
	for i := range got {
		assert.Equal(t, original[i]+2*delta, got[i], "sample %d", i)
	}
}

func TestRun_CanceledContextFailsWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, g := range []Granularity{GranularityBatch, GranularityPerElement} {
		buf, err := buffer.FromSamples([]int{10, 20, 30, 40})
		require.NoError(t, err)

		res, err := New(zap.NewNop(), WithGranularity(g)).Run(ctx, buf, 2, 5)
		assert.ErrorIs(t, err, ErrWorkerFailed, g.String())
		assert.ErrorIs(t, err, context.Canceled, g.String())
		assert.Equal(t, Result{}, res)

		var werr *WorkerFailedError
		require.True(t, errors.As(err, &werr))
		assert.Equal(t, []int{0, 1}, werr.Failed)
		assert.Equal(t, []int{10, 20, 30, 40}, snapshot(t, buf))
	}
}

func TestRun_CanceledContextZeroWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	buf, err := buffer.FromSamples([]int{10, 20, 30, 40})
	require.NoError(t, err)

	res, err := New(nil).Run(ctx, buf, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, 25.0, res.Average)
}

func TestRun_CancelAfterWorkersKeepsAverage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	buf, err := buffer.FromSamples([]int{10, 20, 30, 40})
	require.NoError(t, err)

	c := New(zaptest.NewLogger(t))
	c.afterJoin = cancel

	res, err := c.Run(ctx, buf, 2, 5)
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.Equal(t, 35.0, res.Average)
}

func TestRun_PerElementTimeout(t *testing.T) {
	buf, err := buffer.New(200, buffer.WithSeed(4))
	require.NoError(t, err)

	c := New(zap.NewNop(),
		WithGranularity(GranularityPerElement),
		WithElementPause(5*time.Millisecond),
		WithWorkerTimeout(25*time.Millisecond))
	_, err = c.Run(context.Background(), buf, 2, 1)

	var werr *WorkerFailedError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, []int{0, 1}, werr.Failed)
}

func TestWorkerFailedError(t *testing.T) {
	cause := errors.New("boom")
	err := collectFailures([]error{nil, cause, nil, errors.New("later")})
	require.NotNil(t, err)
	assert.Equal(t, []int{1, 3}, err.Failed)
	assert.Equal(t, "2 of 4 workers failed [1,3]: boom", err.Error())
	assert.ErrorIs(t, err, ErrWorkerFailed)
	assert.ErrorIs(t, err, cause)

	assert.Nil(t, collectFailures([]error{nil, nil}))
}

func TestParseGranularity(t *testing.T) {
	tests := []struct {
		in      string
		want    Granularity
		wantErr bool
	}{
		{"batch", GranularityBatch, false},
		{"BATCH", GranularityBatch, false},
		{"per-element", GranularityPerElement, false},
		{"Per-Element", GranularityPerElement, false},
		{"", 0, true},
		{"element", 0, true},
		{"per_element", 0, true},
		{"chunk", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseGranularity(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, got, mustParse(t, got.String()))
	}
}

// Every value the config accepts must parse, and nothing else may.
func TestParseGranularity_MatchesConfig(t *testing.T) {
	for _, name := range config.ValidGranularities {
		g := mustParse(t, name)
		assert.Equal(t, name, g.String())

		c := config.DefaultConfig()
		c.Workers.Granularity = name
		assert.NoError(t, c.Validate(), name)
	}

	for _, name := range []string{"", "element", "per_element", "chunk"} {
		_, err := ParseGranularity(name)
		assert.Error(t, err, name)

		c := config.DefaultConfig()
		c.Workers.Granularity = name
		assert.Error(t, c.Validate(), name)
	}
}

func mustParse(t *testing.T, s string) Granularity {
	t.Helper()
	g, err := ParseGranularity(s)
	require.NoError(t, err)
	return g
}
