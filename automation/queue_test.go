package automation

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

func TestQueueRunsOneAtATime(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	const n = 25
	var active, maxActive, executed atomic.Int32

	var wg sync.WaitGroup
	futures := make([]*Future[int], n)
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := Submit(q, "count", func(ctx context.Context) (int, error) {
				cur := active.Add(1)
				for {
					prev := maxActive.Load()
					if cur <= prev || maxActive.CompareAndSwap(prev, cur) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				executed.Add(1)
				active.Add(-1)
				return i, nil
			})
			mu.Lock()
			futures[i] = f
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i, f := range futures {
		v, err := f.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}

	assert.Equal(t, int32(n), executed.Load())
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestQueueIsFIFO(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	block := make(chan struct{})
	var order []int
	var mu sync.Mutex

	first := Submit(q, "block", func(ctx context.Context) (struct{}, error) {
		<-block
		return struct{}{}, nil
	})

	var fs []*Future[struct{}]
	for i := 0; i < 10; i++ {
		i := i
		fs = append(fs, Submit(q, "ordered", func(ctx context.Context) (struct{}, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return struct{}{}, nil
		}))
	}
	assert.Equal(t, 11, q.Pending())
	close(block)

	ctx := context.Background()
	_, _ = first.Wait(ctx)
	for _, f := range fs {
		_, err := f.Wait(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestQueueSurvivesPanicsAndErrors(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	ctx := context.Background()

	_, err := Run(ctx, q, "panic", func(ctx context.Context) (int, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	sentinel := errors.New("nope")
	_, err = Run(ctx, q, "fail", func(ctx context.Context) (int, error) {
		return 0, sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	v, err := Run(ctx, q, "ok", func(ctx context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestWaitGivesUpWithoutCancellingTask(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	release := make(chan struct{})
	finished := make(chan struct{})
	f := Submit(q, "slow", func(ctx context.Context) (int, error) {
		<-release
		close(finished)
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-finished
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestClosedQueueRejects(t *testing.T) {
	q := NewQueue()
	q.Close()

	_, err := Run(context.Background(), q, "late", func(ctx context.Context) (int, error) {
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrClosed)
}
