package orchestrator

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

func TestSerializer(t *testing.T) {
	t.Run("runs one job at a time in submission order", func(t *testing.T) {
		var active, maxActive int32
		var mu sync.Mutex
		order := []int{}

		handler := func(ctx context.Context, n int) (int, error) {
			current := atomic.AddInt32(&active, 1)
			for {
				seen := atomic.LoadInt32(&maxActive)
				if current <= seen || atomic.CompareAndSwapInt32(&maxActive, seen, current) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			atomic.AddInt32(&active, -1)
			return n * 10, nil
		}
		serializer := NewSerializer(context.Background(), handler, nil)
		defer serializer.Close(context.Background())

		const count = 20
		pendings := make([]*Pending[int], count)
		for i := 0; i < count; i++ {
			pendings[i] = serializer.Submit(i)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i, pending := range pendings {
			result, err := pending.Wait(ctx)
			require.NoError(t, err)
			assert.Equal(t, i*10, result)
		}

		expected := make([]int, count)
		for i := range expected {
			expected[i] = i
		}
		assert.Equal(t, expected, order)
		assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
	})

	t.Run("concurrent submitters never overlap", func(t *testing.T) {
		var active, overlaps int32
		handler := func(ctx context.Context, n int) (int, error) {
			if atomic.AddInt32(&active, 1) > 1 {
				atomic.AddInt32(&overlaps, 1)
			}
			time.Sleep(100 * time.Microsecond)
			atomic.AddInt32(&active, -1)
			return n, nil
		}
		serializer := NewSerializer(context.Background(), handler, nil)
		defer serializer.Close(context.Background())

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				result, err := serializer.Do(context.Background(), n)
				assert.NoError(t, err)
				assert.Equal(t, n, result)
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(0), atomic.LoadInt32(&overlaps))
	})

	t.Run("submit does not block on the running job", func(t *testing.T) {
		release := make(chan struct{})
		started := make(chan struct{}, 2)
		handler := func(ctx context.Context, n int) (int, error) {
			started <- struct{}{}
			<-release
			return n, nil
		}
		serializer := NewSerializer(context.Background(), handler, nil)

		first := serializer.Submit(1)
		<-started
		assert.True(t, serializer.Busy())

		second := serializer.Submit(2)
		assert.Equal(t, 1, serializer.Len())
		select {
		case <-second.Done():
			t.Fatal("second job finished before the first")
		default:
		}

		close(release)
		ctx := context.Background()
		result, err := first.Wait(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 1, result)
		result, err = second.Wait(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 2, result)
		require.NoError(t, serializer.Close(ctx))
		assert.False(t, serializer.Busy())
	})

	t.Run("abandoned wait still runs the job", func(t *testing.T) {
		release := make(chan struct{})
		var ran int32
		handler := func(ctx context.Context, n int) (int, error) {
			<-release
			atomic.AddInt32(&ran, 1)
			return n, nil
		}
		serializer := NewSerializer(context.Background(), handler, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := serializer.Do(ctx, 1)
		assert.ErrorIs(t, err, context.Canceled)

		close(release)
		require.NoError(t, serializer.Close(context.Background()))
		assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
	})

	t.Run("caller cancellation does not reach the handler", func(t *testing.T) {
		handler := func(ctx context.Context, n int) (int, error) {
			return n, ctx.Err()
		}
		parent, cancel := context.WithCancel(context.Background())
		serializer := NewSerializer(parent, handler, nil)
		cancel()

		result, err := serializer.Do(context.Background(), 3)
		assert.NoError(t, err)
		assert.Equal(t, 3, result)
		require.NoError(t, serializer.Close(context.Background()))
	})

	t.Run("errors and panics resolve the pending job", func(t *testing.T) {
		handler := func(ctx context.Context, n int) (int, error) {
			if n == 1 {
				return 0, errors.New("failed")
			}
			if n == 2 {
				panic("boom")
			}
			return n, nil
		}
		serializer := NewSerializer(context.Background(), handler, nil)
		defer serializer.Close(context.Background())
		ctx := context.Background()

		_, err := serializer.Do(ctx, 1)
		assert.EqualError(t, err, "failed")
		_, err = serializer.Do(ctx, 2)
		assert.ErrorContains(t, err, "boom")
		result, err := serializer.Do(ctx, 3)
		assert.NoError(t, err)
		assert.Equal(t, 3, result)
	})

	t.Run("close drains the queue and rejects new jobs", func(t *testing.T) {
		release := make(chan struct{})
		handler := func(ctx context.Context, n int) (int, error) {
			<-release
			return n, nil
		}
		serializer := NewSerializer(context.Background(), handler, nil)
		first := serializer.Submit(1)
		second := serializer.Submit(2)

		closed := make(chan error, 1)
		go func() { closed <- serializer.Close(context.Background()) }()

		// Wait until Close has marked the serializer closed.
		require.Eventually(t, func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
			defer cancel()
			_, err := serializer.Submit(9).Wait(ctx)
			return errors.Is(err, ErrClosed)
		}, time.Second, 5*time.Millisecond)

		close(release)
		require.NoError(t, <-closed)

		ctx := context.Background()
		result, err := first.Wait(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 1, result)
		result, err = second.Wait(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 2, result)
	})

	t.Run("close times out while a job is stuck", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		handler := func(ctx context.Context, n int) (int, error) {
			<-release
			return n, nil
		}
		serializer := NewSerializer(context.Background(), handler, nil)
		serializer.Submit(1)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, serializer.Close(ctx), context.DeadlineExceeded)
	})

	t.Run("reports queue depth", func(t *testing.T) {
		release := make(chan struct{})
		var mu sync.Mutex
		depths := []int{}
		onDepth := func(depth int) {
			mu.Lock()
			depths = append(depths, depth)
			mu.Unlock()
		}
		handler := func(ctx context.Context, n int) (int, error) {
			<-release
			return n, nil
		}
		serializer := NewSerializer(context.Background(), handler, onDepth)
		first := serializer.Submit(1)
		require.Eventually(t, serializer.Busy, time.Second, time.Millisecond)
		serializer.Submit(2)
		serializer.Submit(3)

		close(release)
		_, _ = first.Wait(context.Background())
		require.NoError(t, serializer.Close(context.Background()))

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 0, depths[len(depths)-1])
		assert.Contains(t, depths, 2)
	})
}
