package worker

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

type result struct {
	key string
	val int
	err string
}

func failFunc(key string, task int, err error) result {
	return result{key: key, val: task, err: err.Error()}
}

func TestPool_SameKeyRunsInOrderOneAtATime(t *testing.T) {
	var (
		mu      sync.Mutex
		order   []int
		running int32
		overlap int32
	)
	handle := func(_ context.Context, key string, task int) result {
		if atomic.AddInt32(&running, 1) > 1 {
			atomic.StoreInt32(&overlap, 1)
		}
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		order = append(order, task)
		mu.Unlock()
		atomic.AddInt32(&running, -1)
		return result{key: key, val: task}
	}
	p := NewPool(handle, failFunc)
	defer p.Close()

	var jobs []*Job[int, result]
	for i := 0; i < 20; i++ {
		job, err := p.Submit("s1", i)
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
	for i, job := range jobs {
		r, ok := job.Wait(context.Background())
		require.True(t, ok)
		assert.Equal(t, i, r.val)
	}

	assert.Equal(t, int32(0), atomic.LoadInt32(&overlap))
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 1, p.Len())
}

func TestPool_DifferentKeysRunIndependently(t *testing.T) {
	release := make(chan struct{})
	handle := func(_ context.Context, key string, task int) result {
		if key == "slow" {
			<-release
		}
		return result{key: key, val: task}
	}
	p := NewPool(handle, failFunc)
	defer p.Close()
	defer close(release)

	slow, err := p.Submit("slow", 1)
	require.NoError(t, err)
	fast, err := p.Submit("fast", 2)
	require.NoError(t, err)

	select {
	case <-fast.Done():
		assert.Equal(t, 2, fast.Result().val)
	case <-time.After(2 * time.Second):
		t.Fatal("fast session blocked behind slow session")
	}

	select {
	case <-slow.Done():
		t.Fatal("slow job finished before release")
	default:
	}
}

func TestPool_PanicBecomesFailureResult(t *testing.T) {
	handle := func(_ context.Context, key string, task int) result {
		if task == 1 {
			panic("boom")
		}
		return result{key: key, val: task}
	}
	p := NewPool(handle, failFunc)
	defer p.Close()

	bad, err := p.Submit("s", 1)
	require.NoError(t, err)
	good, err := p.Submit("s", 2)
	require.NoError(t, err)

	r, ok := bad.Wait(context.Background())
	require.True(t, ok)
	assert.Equal(t, "boom", r.err)

	r, ok = good.Wait(context.Background())
	require.True(t, ok)
	assert.Equal(t, 2, r.val)
	assert.Empty(t, r.err, "worker keeps serving after a panic")
}

func TestPool_GetOrCreateIsAtomic(t *testing.T) {
	var created int32
	p := NewPool(func(context.Context, string, int) result { return result{} }, failFunc,
		WithWorkerCountHook(func(int) { atomic.AddInt32(&created, 1) }))
	defer p.Close()

	var wg sync.WaitGroup
	workers := make([]*Worker[int, result], 50)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := p.GetOrCreate("same")
			assert.NoError(t, err)
			workers[i] = w
		}(i)
	}
	wg.Wait()

	for _, w := range workers {
		assert.Same(t, workers[0], w)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&created))
	assert.Equal(t, "same", workers[0].Key())
}

func TestPool_CloseFailsQueuedJobs(t *testing.T) {
	started := make(chan struct{})
	handle := func(ctx context.Context, key string, task int) result {
		if task == 1 {
			close(started)
			<-ctx.Done()
		}
		return result{key: key, val: task}
	}
	p := NewPool(handle, failFunc)

	running, err := p.Submit("s", 1)
	require.NoError(t, err)
	<-started
	queued, err := p.Submit("s", 2)
	require.NoError(t, err)

	p.Close()

	assert.Equal(t, 1, running.Result().val)
	assert.Empty(t, running.Result().err)
	<-queued.Done()
	assert.Equal(t, ErrPoolClosed.Error(), queued.Result().err)

	_, err = p.Submit("s", 3)
	assert.True(t, errors.Is(err, ErrPoolClosed))
}

func TestJob_WaitHonoursContext(t *testing.T) {
	block := make(chan struct{})
	p := NewPool(func(context.Context, string, int) result { <-block; return result{} }, failFunc)
	defer p.Close()
	defer close(block)

	job, err := p.Submit("s", 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := job.Wait(ctx)
	assert.False(t, ok)
}

func TestPool_Pending(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	handle := func(_ context.Context, key string, task int) result {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return result{key: key, val: task}
	}
	p := NewPool(handle, failFunc)
	defer p.Close()

	var jobs []*Job[int, result]
	for i := 0; i < 3; i++ {
		job, err := p.Submit("a", i)
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
	<-started
	assert.Equal(t, map[string]int{"a": 3}, p.Pending())

	close(release)
	for _, job := range jobs {
		_, ok := job.Wait(context.Background())
		require.True(t, ok)
	}
	assert.Eventually(t, func() bool { return p.Pending()["a"] == 0 }, time.Second, 5*time.Millisecond)
}
