package queue

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

func newQueue(t *testing.T, size int) *Queue {
	t.Helper()
	q, err := New(size)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Shutdown(time.Second) })
	return q
}

func TestSubmit_ReturnsResult(t *testing.T) {
	q := newQueue(t, 2)

	v, err := q.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestSubmit_ReturnsError(t *testing.T) {
	q := newQueue(t, 2)
	want := errors.New("boom")

	_, err := q.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, want
	})
	assert.ErrorIs(t, err, want)
}

func TestSubmit_PanicBecomesError(t *testing.T) {
	q := newQueue(t, 2)

	_, err := q.Submit(context.Background(), func(ctx context.Context) (any, error) {
		panic("bad task")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad task")

	// 队列仍可用
	v, err := q.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestSubmit_BoundsConcurrency(t *testing.T) {
	q := newQueue(t, 2)

	var (
		running int32
		peak    int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Submit(context.Background(), func(ctx context.Context) (any, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 2, q.Cap())
}

func TestSubmit_CancelledBeforeStart(t *testing.T) {
	q := newQueue(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	_, err := q.Submit(ctx, func(ctx context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	time.Sleep(10 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestRun_Typed(t *testing.T) {
	q := newQueue(t, 2)

	n, err := Run(context.Background(), q, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestSubmit_AfterShutdown(t *testing.T) {
	q, err := New(1)
	require.NoError(t, err)
	require.NoError(t, q.Shutdown(time.Second))

	_, err = q.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrClosed)
}
