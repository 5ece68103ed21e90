// Package automation serializes browser-backed work. A Queue owns a single
// worker; tasks run strictly in submission order and never overlap.
package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"
)

var ErrClosed = errors.New("automation queue closed")

type job struct {
	name     string
	run      func(ctx context.Context)
	enqueued time.Time
}

// Queue has no capacity limit; producers are never blocked.
type Queue struct {
	mu      sync.Mutex
	backlog []*job
	closed  bool
	running bool

	wake chan struct{}
	done chan struct{}

	// task context; tasks bound their own work with timeouts
	ctx context.Context

	depth metric.Int64UpDownCounter
}

type Option func(*Queue)

// WithMeter exports the backlog length as browser_queue_depth.
func WithMeter(m metric.Meter) Option {
	return func(q *Queue) {
		c, err := m.Int64UpDownCounter("browser_queue_depth",
			metric.WithDescription("Browser automation tasks waiting or running"))
		if err != nil {
			log.Warn().Err(err).Msg("could not create queue depth counter")
			return
		}
		q.depth = c
	}
}

func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		ctx:  context.Background(),
	}
	for _, opt := range opts {
		opt(q)
	}

	go q.worker()
	return q
}

func (q *Queue) push(j *job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.backlog = append(q.backlog, j)
	q.mu.Unlock()

	q.addDepth(1)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) pop() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.backlog) == 0 {
		q.running = false
		return nil, q.closed
	}
	j := q.backlog[0]
	q.backlog[0] = nil
	q.backlog = q.backlog[1:]
	q.running = true
	return j, false
}

func (q *Queue) worker() {
	defer close(q.done)

	for {
		j, stop := q.pop()
		if stop {
			return
		}
		if j == nil {
			<-q.wake
			continue
		}

		log.Debug().Str("task", j.name).Dur("waited", time.Since(j.enqueued)).Msg("browser task started")
		j.run(q.ctx)
		q.addDepth(-1)
	}
}

func (q *Queue) addDepth(n int64) {
	if q.depth != nil {
		q.depth.Add(context.Background(), n)
	}
}

// Pending returns the number of tasks waiting, plus the running one.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.backlog)
	if q.running {
		n++
	}
	return n
}

// Close rejects new tasks, lets the backlog drain and waits for the worker.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

// Future is the pending result of a submitted task.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Wait blocks until the task finished or ctx is done. Giving up on the wait
// does not stop a task that has already started.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit enqueues fn and returns its future.
func Submit[T any](q *Queue, name string, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	j := &job{
		name:     name,
		enqueued: time.Now(),
		run: func(ctx context.Context) {
			defer close(f.done)
			defer func() {
				if r := recover(); r != nil {
					f.err = fmt.Errorf("browser task %s panicked: %v", name, r)
					log.Error().Str("task", name).Interface("panic", r).Msg("browser task panicked")
				}
			}()
			f.value, f.err = fn(ctx)
		},
	}

	if err := q.push(j); err != nil {
		f.err = err
		close(f.done)
	}
	return f
}

// Run submits fn and waits for it.
func Run[T any](ctx context.Context, q *Queue, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	return Submit(q, name, fn).Wait(ctx)
}
