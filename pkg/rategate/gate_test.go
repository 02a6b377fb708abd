package rategate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireSpacing(t *testing.T) {
	const interval = 30 * time.Millisecond
	gate := New(interval, 2)

	var grants []time.Time
	for range 3 {
		require.NoError(t, gate.Acquire(context.Background()))
		grants = append(grants, time.Now())
		gate.Release()
	}

	for i := 1; i < len(grants); i++ {
		gap := grants[i].Sub(grants[i-1])
		require.GreaterOrEqual(t, gap, interval-time.Millisecond,
			"grants %d and %d were %v apart", i-1, i, gap)
	}
}

func TestSlotLimitBlocksUntilRelease(t *testing.T) {
	gate := New(time.Millisecond, 2)

	require.NoError(t, gate.Acquire(context.Background()))
	require.NoError(t, gate.Acquire(context.Background()))
	require.Equal(t, 2, gate.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, gate.Acquire(ctx), context.DeadlineExceeded)

	gate.Release()
	require.NoError(t, gate.Acquire(context.Background()))
	require.Equal(t, 2, gate.InFlight())

	gate.Release()
	gate.Release()
	require.Equal(t, 0, gate.InFlight())
}

func TestInFlightNeverExceedsSlots(t *testing.T) {
	gate := New(time.Millisecond, 2)

	var inflight, peak atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, gate.Acquire(context.Background()))
			n := inflight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inflight.Add(-1)
			gate.Release()
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestCancelWhileWaitingReturnsSlot(t *testing.T) {
	const interval = 80 * time.Millisecond
	gate := New(interval, 1)

	// Consume the first grant so the next caller has to wait out the interval.
	require.NoError(t, gate.Acquire(context.Background()))
	gate.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, gate.Acquire(ctx), context.DeadlineExceeded)

	// The slot went back; a patient caller still gets through.
	require.NoError(t, gate.Acquire(context.Background()))
	gate.Release()
}

func TestNewClampsSlots(t *testing.T) {
	gate := New(time.Millisecond, 0)
	require.NoError(t, gate.Acquire(context.Background()))
	gate.Release()
}
