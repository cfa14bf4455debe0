// Package worker runs tasks on per-key single-concurrency workers. Tasks that
// share a key execute one at a time in submission order; different keys run
// independently.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/yeahnangua/claude-code-bridge/internal/core/logger"
)

// ErrPoolClosed is returned by Submit after Close, and is passed to the
// failure func for tasks still queued when the pool closes.
var ErrPoolClosed = errors.New("worker pool closed")

// HandleFunc executes one task.
type HandleFunc[T, R any] func(ctx context.Context, key string, task T) R

// FailFunc converts a task that could not run to completion into a result.
type FailFunc[T, R any] func(key string, task T, err error) R

// Job is a submitted task and its eventual result.
type Job[T, R any] struct {
	Task   T
	done   chan struct{}
	result R
}

// Done is closed once the result is available.
func (j *Job[T, R]) Done() <-chan struct{} { return j.done }

// Result returns the job result. It is only meaningful after Done is closed.
func (j *Job[T, R]) Result() R { return j.result }

// Wait blocks until the job finishes or ctx is done.
func (j *Job[T, R]) Wait(ctx context.Context) (R, bool) {
	select {
	case <-j.done:
		return j.result, true
	case <-ctx.Done():
		var zero R
		return zero, false
	}
}

func (j *Job[T, R]) finish(r R) {
	j.result = r
	close(j.done)
}

// Worker owns one key's FIFO queue and executes it on a dedicated goroutine.
type Worker[T, R any] struct {
	key    string
	pool   *Pool[T, R]
	mu     sync.Mutex
	queue  []*Job[T, R]
	wake   chan struct{}
	active bool
}

// Key returns the worker's key.
func (w *Worker[T, R]) Key() string { return w.key }

// Pending returns the number of queued jobs, including one that is executing.
func (w *Worker[T, R]) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.queue)
	if w.active {
		n++
	}
	return n
}

func (w *Worker[T, R]) enqueue(job *Job[T, R]) {
	w.mu.Lock()
	w.queue = append(w.queue, job)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker[T, R]) next() (*Job[T, R], bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		w.active = false
		return nil, false
	}
	job := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	w.active = true
	return job, true
}

func (w *Worker[T, R]) run(ctx context.Context) {
	defer w.pool.wg.Done()
	for {
		job, ok := w.next()
		if !ok {
			select {
			case <-ctx.Done():
				w.drain()
				return
			case <-w.wake:
				continue
			}
		}
		w.execute(ctx, job)
		if ctx.Err() != nil {
			w.drain()
			return
		}
	}
}

// execute runs one job, converting a panic into a failure result.
func (w *Worker[T, R]) execute(ctx context.Context, job *Job[T, R]) {
	defer func() {
		if rec := recover(); rec != nil {
			w.pool.logger.Error("task panicked", "session", w.key, "panic", rec, "stack", string(debug.Stack()))
			job.finish(w.pool.fail(w.key, job.Task, fmt.Errorf("%v", rec)))
		}
	}()
	job.finish(w.pool.handle(ctx, w.key, job.Task))
}

// drain fails every job still queued at shutdown.
func (w *Worker[T, R]) drain() {
	for {
		job, ok := w.next()
		if !ok {
			return
		}
		job.finish(w.pool.fail(w.key, job.Task, ErrPoolClosed))
	}
}

// Pool maps keys to workers, creating each worker on first use.
type Pool[T, R any] struct {
	handle   HandleFunc[T, R]
	fail     FailFunc[T, R]
	logger   logger.Logger
	onChange func(workers int)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]*Worker[T, R]
	closed  bool
}

// Option configures a Pool.
type Option func(*options)

type options struct {
	logger   logger.Logger
	onChange func(int)
}

// WithLogger sets the pool logger.
func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithWorkerCountHook is called with the worker count whenever it changes.
func WithWorkerCountHook(fn func(int)) Option {
	return func(o *options) { o.onChange = fn }
}

// NewPool creates a pool. handle runs each task; fail builds the result for
// a task that panicked or was dropped at shutdown.
func NewPool[T, R any](handle HandleFunc[T, R], fail FailFunc[T, R], opts ...Option) *Pool[T, R] {
	o := options{logger: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[T, R]{
		handle:   handle,
		fail:     fail,
		logger:   o.logger,
		onChange: o.onChange,
		ctx:      ctx,
		cancel:   cancel,
		workers:  make(map[string]*Worker[T, R]),
	}
}

// GetOrCreate returns the worker for key, starting it if needed.
func (p *Pool[T, R]) GetOrCreate(key string) (*Worker[T, R], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	return p.getOrCreateLocked(key), nil
}

func (p *Pool[T, R]) getOrCreateLocked(key string) *Worker[T, R] {
	if w, ok := p.workers[key]; ok {
		return w
	}
	w := &Worker[T, R]{
		key:  key,
		pool: p,
		wake: make(chan struct{}, 1),
	}
	p.workers[key] = w
	p.wg.Add(1)
	go w.run(p.ctx)
	p.logger.Debug("worker started", "session", key)
	if p.onChange != nil {
		p.onChange(len(p.workers))
	}
	return w
}

// Submit queues task on key's worker.
func (p *Pool[T, R]) Submit(key string, task T) (*Job[T, R], error) {
	// Hold the pool lock so Close cannot slip in between lookup and enqueue.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	job := &Job[T, R]{Task: task, done: make(chan struct{})}
	p.getOrCreateLocked(key).enqueue(job)
	return job, nil
}

// Len returns the number of workers.
func (p *Pool[T, R]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Pending returns the queued job count, running job included, per worker key.
func (p *Pool[T, R]) Pending() map[string]int {
	p.mu.Lock()
	workers := make([]*Worker[T, R], 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	pending := make(map[string]int, len(workers))
	for _, w := range workers {
		pending[w.Key()] = w.Pending()
	}
	return pending
}

// Close stops accepting tasks, lets running tasks finish, fails queued ones,
// and waits for all workers to exit.
func (p *Pool[T, R]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
