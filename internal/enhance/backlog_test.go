package enhance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessIsolatesFailures(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}
	var mu sync.Mutex
	var done []int

	errs := Process(context.Background(), Backlog{BatchSize: 3}, items, func(_ context.Context, n int) error {
		switch n {
		case 2:
			return errors.New("provider down")
		case 5:
			panic("boom")
		}
		mu.Lock()
		done = append(done, n)
		mu.Unlock()
		return nil
	})

	require.Len(t, errs, 7)
	assert.Error(t, errs[1])
	assert.Error(t, errs[4])
	assert.Contains(t, errs[4].Error(), "panic")
	for _, i := range []int{0, 2, 3, 5, 6} {
		assert.NoError(t, errs[i])
	}
	assert.ElementsMatch(t, []int{1, 3, 4, 6, 7}, done)
}

func TestProcessBoundsConcurrencyAndPauses(t *testing.T) {
	var running, peak atomic.Int32
	start := time.Now()

	Process(context.Background(), Backlog{BatchSize: 2, BatchPause: 50 * time.Millisecond}, []int{1, 2, 3, 4, 5}, func(context.Context, int) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(2))
	// three batches, two pauses
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestProcessStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	errs := Process(ctx, Backlog{BatchSize: 1, BatchPause: time.Second}, []int{1, 2, 3}, func(context.Context, int) error {
		calls.Add(1)
		cancel()
		return nil
	})

	assert.Equal(t, int32(1), calls.Load())
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], context.Canceled)
	assert.ErrorIs(t, errs[2], context.Canceled)
}
